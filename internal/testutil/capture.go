package testutil

import (
	"bytes"
	"encoding/json"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Capture is a recorded HTTP request.
type Capture struct {
	Method      string
	Path        string
	Query       map[string][]string
	Headers     http.Header
	Body        []byte
	ContentType string
	Timestamp   time.Time
}

// AssertPath verifies the request path.
func (c *Capture) AssertPath(t *testing.T, expected string) {
	t.Helper()
	assert.Equal(t, expected, c.Path, "unexpected path")
}

// AssertContentType verifies the Content-Type header contains expected.
func (c *Capture) AssertContentType(t *testing.T, expected string) {
	t.Helper()
	assert.Contains(t, c.ContentType, expected, "unexpected content-type")
}

// AssertJSONField verifies a top-level field of a JSON body.
func (c *Capture) AssertJSONField(t *testing.T, field string, expected any) {
	t.Helper()
	assert.Equal(t, expected, c.BodyMap(t)[field], "unexpected value for field: "+field)
}

// AssertJSONFieldAbsent verifies a field does not exist in the JSON body.
func (c *Capture) AssertJSONFieldAbsent(t *testing.T, field string) {
	t.Helper()
	assert.NotContains(t, c.BodyMap(t), field, "field should be absent: "+field)
}

// BodyMap decodes a JSON body into a map.
func (c *Capture) BodyMap(t *testing.T) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(c.Body, &m), "failed to decode JSON body")
	return m
}

// BodyJSON decodes a JSON body into target.
func (c *Capture) BodyJSON(t *testing.T, target any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(c.Body, target), "failed to decode JSON body")
}

// MultipartForm is a decoded multipart/form-data body.
type MultipartForm struct {
	Fields map[string]string
	Files  map[string]MultipartFile
}

// MultipartFile is one uploaded file of a multipart body.
type MultipartFile struct {
	FileName string
	Content  []byte
}

// Multipart decodes a multipart/form-data body.
func (c *Capture) Multipart(t *testing.T) MultipartForm {
	t.Helper()

	mediaType, params, err := mime.ParseMediaType(c.ContentType)
	require.NoError(t, err)
	require.Equal(t, "multipart/form-data", mediaType)

	form := MultipartForm{
		Fields: make(map[string]string),
		Files:  make(map[string]MultipartFile),
	}

	reader := multipart.NewReader(bytes.NewReader(c.Body), params["boundary"])
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)

		data, err := io.ReadAll(part)
		require.NoError(t, err)

		if part.FileName() != "" {
			form.Files[part.FormName()] = MultipartFile{FileName: part.FileName(), Content: data}
		} else {
			form.Fields[part.FormName()] = string(data)
		}
	}
	return form
}
