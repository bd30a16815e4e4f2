package sender

import (
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"reflect"
	"strconv"
	"strings"
)

// FilePart represents a file to be uploaded via multipart.
type FilePart struct {
	FieldName string
	FileName  string
	Reader    io.Reader
}

// MultipartRequest represents a request with files and parameters.
type MultipartRequest struct {
	Files  []FilePart
	Params map[string]string
}

// HasUploads returns true if the request contains file uploads.
func (r MultipartRequest) HasUploads() bool {
	return len(r.Files) > 0
}

// MultipartEncoder encodes requests as multipart/form-data.
type MultipartEncoder struct {
	w *multipart.Writer
}

// NewMultipartEncoder creates a new multipart encoder.
func NewMultipartEncoder(w io.Writer) *MultipartEncoder {
	return &MultipartEncoder{w: multipart.NewWriter(w)}
}

// ContentType returns the Content-Type header value including boundary.
func (e *MultipartEncoder) ContentType() string {
	return e.w.FormDataContentType()
}

// Close writes the trailing boundary.
func (e *MultipartEncoder) Close() error {
	return e.w.Close()
}

// Encode writes file parts first, then parameters.
func (e *MultipartEncoder) Encode(req MultipartRequest) error {
	for _, file := range req.Files {
		part, err := e.w.CreateFormFile(file.FieldName, file.FileName)
		if err != nil {
			return fmt.Errorf("file %s: create form file: %w", file.FieldName, err)
		}
		if _, err := io.Copy(part, file.Reader); err != nil {
			return fmt.Errorf("file %s: %w", file.FieldName, err)
		}
	}

	for name, value := range req.Params {
		if err := e.w.WriteField(name, value); err != nil {
			return fmt.Errorf("param %s: %w", name, err)
		}
	}

	return nil
}

// BuildMultipartRequest flattens a request struct into form parameters keyed
// by json tag. Zero fields are skipped the way omitempty would skip them;
// uploads become file parts named after their field.
func BuildMultipartRequest(req any) (MultipartRequest, error) {
	result := MultipartRequest{
		Files:  make([]FilePart, 0),
		Params: make(map[string]string),
	}

	rv := reflect.ValueOf(req)
	if rv.Kind() == reflect.Ptr {
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return result, fmt.Errorf("request must be a struct, got %s", rv.Kind())
	}

	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		value := rv.Field(i)

		if !field.IsExported() || value.IsZero() {
			continue
		}

		fieldName := jsonFieldName(field)
		if fieldName == "-" {
			continue
		}

		switch v := value.Interface().(type) {
		case InputFile:
			if err := addInputFile(&result, fieldName, v); err != nil {
				return result, fmt.Errorf("field %s: %w", fieldName, err)
			}
		case string:
			result.Params[fieldName] = v
		case int:
			result.Params[fieldName] = strconv.Itoa(v)
		case int64:
			result.Params[fieldName] = strconv.FormatInt(v, 10)
		case float64:
			result.Params[fieldName] = strconv.FormatFloat(v, 'f', -1, 64)
		case bool:
			result.Params[fieldName] = strconv.FormatBool(v)
		default:
			if value.Kind() == reflect.String {
				result.Params[fieldName] = value.String()
				continue
			}
			data, err := json.Marshal(v)
			if err != nil {
				return result, fmt.Errorf("field %s: JSON marshal: %w", fieldName, err)
			}
			result.Params[fieldName] = string(data)
		}
	}

	return result, nil
}

func addInputFile(req *MultipartRequest, fieldName string, file InputFile) error {
	switch {
	case file.FileID != "":
		req.Params[fieldName] = file.FileID
	case file.URL != "":
		req.Params[fieldName] = file.URL
	case file.IsUpload():
		if file.FileName == "" {
			return fmt.Errorf("file name is required for uploads")
		}
		req.Files = append(req.Files, FilePart{
			FieldName: fieldName,
			FileName:  file.FileName,
			Reader:    file.OpenReader(),
		})
	default:
		return fmt.Errorf("InputFile must have FileID, URL, or Reader set")
	}
	return nil
}

func jsonFieldName(field reflect.StructField) string {
	tag := field.Tag.Get("json")
	if tag == "" {
		return strings.ToLower(field.Name)
	}
	name, _, _ := strings.Cut(tag, ",")
	return name
}
