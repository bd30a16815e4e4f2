package sender

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/prilive-com/ezsticker/internal/scrub"
	"github.com/prilive-com/ezsticker/tg"
)

// DownloadFile copies the file at filePath (as returned by GetFile) into w.
// Files larger than Config.MaxDownloadSize fail with tg.ErrFileTooBig.
func (c *Client) DownloadFile(ctx context.Context, filePath string, w io.Writer) (int64, error) {
	if filePath == "" {
		return 0, tg.NewValidationError("file_path", "required")
	}
	if strings.Contains(filePath, "..") {
		return 0, tg.NewValidationError("file_path", "must not contain '..'")
	}

	url := fmt.Sprintf("%s/file/bot%s/%s", c.config.BaseURL, c.config.Token.Value(), filePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", scrub.TokenFromError(err, c.config.Token))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("download failed: %w", scrub.TokenFromError(err, c.config.Token))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, tg.NewAPIError("downloadFile", resp.StatusCode, resp.Status)
	}

	limit := c.config.MaxDownloadSize
	if limit <= 0 {
		limit = DefaultConfig().MaxDownloadSize
	}
	if resp.ContentLength > limit {
		return 0, tg.ErrFileTooBig
	}

	n, err := io.Copy(w, io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return n, fmt.Errorf("download failed: %w", scrub.TokenFromError(err, c.config.Token))
	}
	if n > limit {
		return n, tg.ErrFileTooBig
	}
	return n, nil
}

// Download resolves fileID with GetFile and downloads it into w.
func (c *Client) Download(ctx context.Context, fileID string, w io.Writer) (*tg.File, error) {
	file, err := c.GetFile(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if _, err := c.DownloadFile(ctx, file.FilePath, w); err != nil {
		return file, err
	}
	return file, nil
}
