package fetch_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prilive-com/ezsticker/internal/fetch"
)

func testConfig() fetch.Config {
	cfg := fetch.DefaultConfig()
	cfg.MaxSize = 1024
	cfg.HeadTimeout = 100 * time.Millisecond
	cfg.FetchTimeout = 200 * time.Millisecond
	cfg.HostRPS = 0
	cfg.AllowPrivate = true
	return cfg
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"example.com/cat.png", "https://example.com/cat.png"},
		{"  http://example.com/a.jpg ", "http://example.com/a.jpg"},
		{"https:///example.com/x.png", "https://example.com/x.png"},
		{"HTTPS://Example.com/x.png", "https://Example.com/x.png"},
	}
	for _, tt := range tests {
		got, err := fetch.Normalize(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestNormalize_Rejects(t *testing.T) {
	_, err := fetch.Normalize("example.com/a.png example.com/b.png")
	assert.ErrorIs(t, err, fetch.ErrTooManyURLs)

	for _, in := range []string{"ftp://example.com/a.png", "https://", "http://exa%zzmple/a.png"} {
		_, err := fetch.Normalize(in)
		assert.Equal(t, fetch.KindInvalidURL, fetch.KindOf(err), in)
	}
}

func TestFetch_Success(t *testing.T) {
	body := bytes.Repeat([]byte{'x'}, 100)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		if r.Method == http.MethodGet {
			_, _ = w.Write(body)
		}
	}))
	defer server.Close()

	data, err := fetch.New(testConfig()).Fetch(context.Background(), server.URL+"/a.png")
	require.NoError(t, err)
	assert.Equal(t, body, data)
}

func TestFetch_HeadRejectsLargeFile(t *testing.T) {
	var gets atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			gets.Add(1)
		}
		w.Header().Set("Content-Length", "4096")
	}))
	defer server.Close()

	_, err := fetch.New(testConfig()).Fetch(context.Background(), server.URL)
	assert.ErrorIs(t, err, fetch.ErrTooLarge)
	assert.Zero(t, gets.Load(), "no GET after a failed precheck")
}

func TestFetch_BodyLargerThanAdvertised(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			return
		}
		// chunked, no Content-Length
		w.WriteHeader(http.StatusOK)
		for range 3 {
			_, _ = w.Write(bytes.Repeat([]byte{'y'}, 512))
			w.(http.Flusher).Flush()
		}
	}))
	defer server.Close()

	_, err := fetch.New(testConfig()).Fetch(context.Background(), server.URL)
	assert.ErrorIs(t, err, fetch.ErrTooLarge)
}

func TestFetch_NotFound(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	_, err := fetch.New(testConfig()).Fetch(context.Background(), server.URL+"/missing.png")
	var fe *fetch.Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, fetch.KindNotExist, fe.Kind)
	assert.Equal(t, http.StatusNotFound, fe.Status)
}

func TestFetch_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer server.Close()

	_, err := fetch.New(testConfig()).Fetch(context.Background(), server.URL)
	assert.Equal(t, fetch.KindTimeout, fetch.KindOf(err))
}

func TestFetch_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	_, err := fetch.New(testConfig()).Fetch(context.Background(), url)
	assert.Equal(t, fetch.KindUnreachable, fetch.KindOf(err))
}

func TestFetch_HostRateLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	cfg := testConfig()
	cfg.HostRPS = 1000
	cfg.HostBurst = 1
	f := fetch.New(cfg)
	for range 3 {
		_, err := f.Fetch(context.Background(), server.URL)
		require.NoError(t, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.Fetch(ctx, server.URL)
	assert.Error(t, err)
}

func TestFetch_RejectsLoopback(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte("secret"))
	}))
	defer server.Close()

	cfg := testConfig()
	cfg.AllowPrivate = false
	_, err := fetch.New(cfg).Fetch(context.Background(), server.URL+"/admin")

	require.ErrorIs(t, err, fetch.ErrForbiddenAddress)
	assert.Equal(t, fetch.KindInvalidURL, fetch.KindOf(err))
	assert.Zero(t, hits.Load())
}

func TestFetch_RejectsLiteralPrivateIPs(t *testing.T) {
	cfg := testConfig()
	cfg.AllowPrivate = false
	_, err := fetch.New(cfg).Fetch(context.Background(), "http://127.0.0.1:1/")
	assert.ErrorIs(t, err, fetch.ErrForbiddenAddress)

	_, err = fetch.New(cfg).Fetch(context.Background(), "http://[::1]:1/")
	assert.ErrorIs(t, err, fetch.ErrForbiddenAddress)
}

func TestFetch_BreakerOpensForDeadHost(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	cfg := testConfig()
	cfg.BreakerThreshold = 2
	cfg.BreakerTimeout = time.Hour
	f := fetch.New(cfg)

	for range 2 {
		_, err := f.Fetch(context.Background(), url)
		require.Equal(t, fetch.KindUnreachable, fetch.KindOf(err))
		require.NotErrorIs(t, err, gobreaker.ErrOpenState)
	}

	_, err := f.Fetch(context.Background(), url)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, fetch.KindUnreachable, fetch.KindOf(err))
}

func TestFetch_NotFoundKeepsBreakerClosed(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	cfg := testConfig()
	cfg.BreakerThreshold = 1
	f := fetch.New(cfg)
	for range 3 {
		_, err := f.Fetch(context.Background(), server.URL+"/missing.png")
		assert.Equal(t, fetch.KindNotExist, fetch.KindOf(err))
	}
}

func TestError_Unwrap(t *testing.T) {
	err := &fetch.Error{Kind: fetch.KindTimeout, URL: "https://x", Err: context.DeadlineExceeded}
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "timeout")
}
