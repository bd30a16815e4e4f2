package transform

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Runner runs an external command and returns its standard output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run executes name and returns its stdout. On failure the error carries
// the last line of stderr.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%s: %w: %s", name, err, lastLine(msg))
		}
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return stdout.Bytes(), nil
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

// VideoInfo describes a transcoded video.
type VideoInfo struct {
	SourceWidth  int
	SourceHeight int
	Width        int
	Height       int
}

// Video sticker limits.
const (
	VideoSeconds = 3
	VideoFPS     = 30
)

// VideoTranscoder turns a video file into a WebM video sticker with ffprobe
// and ffmpeg.
type VideoTranscoder struct {
	FFmpeg  string
	FFprobe string
	Runner  Runner
}

// NewVideoTranscoder creates a transcoder using the given binaries.
func NewVideoTranscoder(ffmpeg, ffprobe string) *VideoTranscoder {
	return &VideoTranscoder{FFmpeg: ffmpeg, FFprobe: ffprobe, Runner: ExecRunner{}}
}

// Probe returns the width and height of the first video stream of in.
func (t *VideoTranscoder) Probe(ctx context.Context, in string) (int, int, error) {
	out, err := t.Runner.Run(ctx, t.FFprobe,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height",
		"-of", "csv=p=0",
		in)
	if err != nil {
		return 0, 0, fmt.Errorf("ezsticker: read video size: %w", err)
	}
	return parseProbe(out)
}

func parseProbe(out []byte) (int, int, error) {
	line := strings.TrimSpace(string(out))
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = strings.TrimSpace(line[:i])
	}
	ws, hs, ok := strings.Cut(strings.TrimRight(line, ","), ",")
	if !ok {
		return 0, 0, fmt.Errorf("%w: no video stream", ErrUnsupportedMedia)
	}
	w, errW := strconv.Atoi(ws)
	h, errH := strconv.Atoi(hs)
	if err := errors.Join(errW, errH); err != nil || w <= 0 || h <= 0 {
		return 0, 0, fmt.Errorf("%w: bad video size %q", ErrUnsupportedMedia, line)
	}
	return w, h, nil
}

// Transcode writes the first seconds of in to out as a muted VP9 WebM
// scaled so the longer edge is StickerSize.
func (t *VideoTranscoder) Transcode(ctx context.Context, in, out string) (*VideoInfo, error) {
	srcW, srcH, err := t.Probe(ctx, in)
	if err != nil {
		return nil, err
	}
	w, h := StickerDimensions(srcW, srcH)

	_, err = t.Runner.Run(ctx, t.FFmpeg,
		"-y",
		"-ss", "00:00:00",
		"-i", in,
		"-t", fmt.Sprintf("00:00:%02d", VideoSeconds),
		"-filter:v", fmt.Sprintf("fps=fps=%d,scale=%d:%d", VideoFPS, w, h),
		"-an",
		"-c:v", "libvpx-vp9",
		"-crf", "30",
		"-b:v", "0",
		"-strict", "-2",
		out)
	if err != nil {
		return nil, fmt.Errorf("ezsticker: transcode video: %w", err)
	}
	return &VideoInfo{SourceWidth: srcW, SourceHeight: srcH, Width: w, Height: h}, nil
}
