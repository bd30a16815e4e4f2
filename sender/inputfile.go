package sender

import (
	"bytes"
	"encoding/json"
	"io"
)

// MaxUploadSize is the maximum file size for Bot API uploads (50MB).
const MaxUploadSize = 50 * 1024 * 1024

// InputFile is a file to upload or an existing Telegram file to reference.
// Use one of the constructors: FromReader, FromBytes, FromFileID, FromURL.
type InputFile struct {
	// FileID references an existing file on Telegram servers.
	FileID string

	// URL references a file by HTTP URL (Telegram will download).
	URL string

	// Reader is streamed once. A retried request would send it empty,
	// so SendDocument does not retry Reader uploads.
	Reader io.Reader

	// Source returns a fresh reader per attempt, making the upload retry-safe.
	Source func() io.Reader

	// FileName is required for uploads.
	FileName string
}

// FromReader creates a single-use InputFile from an io.Reader.
func FromReader(r io.Reader, filename string) InputFile {
	return InputFile{Reader: r, FileName: filename}
}

// FromBytes creates a retry-safe InputFile from in-memory bytes.
func FromBytes(data []byte, filename string) InputFile {
	return InputFile{
		Source: func() io.Reader {
			return bytes.NewReader(data)
		},
		FileName: filename,
	}
}

// FromFileID creates an InputFile referencing an existing Telegram file.
func FromFileID(fileID string) InputFile {
	return InputFile{FileID: fileID}
}

// FromURL creates an InputFile from a URL (Telegram will download).
func FromURL(url string) InputFile {
	return InputFile{URL: url}
}

// IsUpload returns true if this InputFile carries content to upload.
func (f InputFile) IsUpload() bool {
	return f.Reader != nil || f.Source != nil
}

// IsEmpty returns true if the InputFile has no value set.
func (f InputFile) IsEmpty() bool {
	return f.FileID == "" && f.URL == "" && !f.IsUpload()
}

// OpenReader returns a reader for the file content, fresh when Source is set.
func (f InputFile) OpenReader() io.Reader {
	if f.Source != nil {
		return f.Source()
	}
	return f.Reader
}

// Value returns the FileID or URL, or "" for uploads.
func (f InputFile) Value() string {
	if f.FileID != "" {
		return f.FileID
	}
	return f.URL
}

// MarshalJSON encodes references as their string value. Uploads never go
// through JSON; they are sent as multipart parts.
func (f InputFile) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.Value())
}
