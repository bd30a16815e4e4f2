package transform_test

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prilive-com/ezsticker/internal/transform"
)

type fakeRunner struct {
	dimsOut  string
	dimsErr  error
	ffmpegErr error
	calls     [][]string
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	switch name {
	case "ffprobe":
		return []byte(f.dimsOut), f.dimsErr
	case "ffmpeg":
		return nil, f.ffmpegErr
	}
	return nil, errors.New("unexpected command " + name)
}

func newTranscoder(r transform.Runner) *transform.VideoTranscoder {
	tr := transform.NewVideoTranscoder("ffmpeg", "ffprobe")
	tr.Runner = r
	return tr
}

func TestVideoTranscoder_Transcode(t *testing.T) {
	runner := &fakeRunner{dimsOut: "1920,1080\n"}
	info, err := newTranscoder(runner).Transcode(context.Background(), "/tmp/in.mp4", "/tmp/out.webm")
	require.NoError(t, err)

	assert.Equal(t, 1920, info.SourceWidth)
	assert.Equal(t, 512, info.Width)
	assert.Equal(t, 288, info.Height)

	require.Len(t, runner.calls, 2)
	ffmpeg := strings.Join(runner.calls[1], " ")
	assert.Contains(t, ffmpeg, "-i /tmp/in.mp4")
	assert.Contains(t, ffmpeg, "-t 00:00:03")
	assert.Contains(t, ffmpeg, "fps=fps=30,scale=512:288")
	assert.Contains(t, ffmpeg, "-an")
	assert.Contains(t, ffmpeg, "-c:v libvpx-vp9 -crf 30 -b:v 0")
	assert.Equal(t, "/tmp/out.webm", runner.calls[1][len(runner.calls[1])-1])
}

func TestVideoTranscoder_Portrait(t *testing.T) {
	runner := &fakeRunner{dimsOut: "720,1280"}
	info, err := newTranscoder(runner).Transcode(context.Background(), "in", "out")
	require.NoError(t, err)
	assert.Equal(t, 288, info.Width)
	assert.Equal(t, 512, info.Height)
}

func TestVideoTranscoder_NoVideoStream(t *testing.T) {
	runner := &fakeRunner{dimsOut: ""}
	_, err := newTranscoder(runner).Transcode(context.Background(), "in", "out")
	assert.ErrorIs(t, err, transform.ErrUnsupportedMedia)
	assert.Len(t, runner.calls, 1, "ffmpeg is not run")
}

func TestVideoTranscoder_FFmpegFailure(t *testing.T) {
	boom := errors.New("exit status 1")
	runner := &fakeRunner{dimsOut: "640,480", ffmpegErr: boom}
	_, err := newTranscoder(runner).Transcode(context.Background(), "in", "out")
	assert.ErrorIs(t, err, boom)
}

func TestVideoTranscoder_ProbeFailure(t *testing.T) {
	boom := errors.New("not found")
	_, err := newTranscoder(&fakeRunner{dimsErr: boom}).Transcode(context.Background(), "in", "out")
	assert.ErrorIs(t, err, boom)
}

func TestExecRunner_Run(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	var r transform.ExecRunner

	out, err := r.Run(context.Background(), "sh", "-c", "echo ok")
	require.NoError(t, err)
	assert.Equal(t, "ok\n", string(out))

	_, err = r.Run(context.Background(), "sh", "-c", "echo first >&2; echo last >&2; exit 3")
	require.Error(t, err)
	assert.True(t, strings.HasSuffix(err.Error(), ": last"), err.Error())
	assert.NotContains(t, err.Error(), "first")
}
