// Package persist writes state snapshots to disk as zstd-compressed JSON
// and flushes them on a timer.
package persist

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	json "github.com/goccy/go-json"
)

// ErrCorrupt is returned when a snapshot file exists but cannot be decoded.
var ErrCorrupt = errors.New("ezsticker: snapshot file is corrupt")

// FileManager saves and loads one snapshot file.
type FileManager struct {
	path       string
	compressor Compressor
	logger     *slog.Logger
}

// NewFileManager creates a FileManager for path.
func NewFileManager(path string, compressor Compressor, logger *slog.Logger) *FileManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileManager{
		path:       path,
		compressor: compressor,
		logger:     logger,
	}
}

// Path returns the snapshot file path.
func (f *FileManager) Path() string { return f.path }

// Save encodes v and atomically replaces the snapshot file.
func (f *FileManager) Save(v any) error {
	jsonData, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("ezsticker: encode snapshot: %w", err)
	}
	data, err := f.compressor.Compress(jsonData)
	if err != nil {
		return fmt.Errorf("ezsticker: compress snapshot: %w", err)
	}

	if dir := filepath.Dir(f.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	tmpFile := f.path + ".tmp"
	file, err := os.Create(tmpFile)
	if err != nil {
		return err
	}

	if _, err = file.Write(data); err != nil {
		file.Close()
		os.Remove(tmpFile)
		return err
	}

	if err = file.Sync(); err != nil {
		file.Close()
		os.Remove(tmpFile)
		return err
	}

	if err = file.Close(); err != nil {
		os.Remove(tmpFile)
		return err
	}

	return os.Rename(tmpFile, f.path)
}

// Load decodes the snapshot file into v. A missing file leaves v untouched
// and reports found=false. Plain JSON files from before compression was
// introduced are accepted.
func (f *FileManager) Load(v any) (found bool, err error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		f.logger.Warn("snapshot file is empty, starting fresh", "path", f.path)
		return false, nil
	}

	if IsCompressed(data) {
		data, err = f.compressor.Decompress(data)
		if err != nil {
			return false, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
	} else {
		f.logger.Warn("uncompressed snapshot found, migrating from plain JSON", "path", f.path)
	}

	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return true, nil
}

// Close releases the compressor.
func (f *FileManager) Close() {
	f.compressor.Close()
}
