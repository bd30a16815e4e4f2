// Package fetch downloads user-supplied image URLs with a HEAD size
// precheck and a bounded GET.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/prilive-com/ezsticker/internal/httpclient"
	"github.com/prilive-com/ezsticker/internal/resilience"
)

// Config holds fetcher limits.
type Config struct {
	MaxSize      int64
	HeadTimeout  time.Duration
	FetchTimeout time.Duration
	// HostRPS limits requests per remote host. 0 disables the limit.
	HostRPS   float64
	HostBurst int
	UserAgent string
	// BreakerThreshold consecutive timeouts or connection failures open
	// the breaker of a host for BreakerTimeout.
	BreakerThreshold uint32
	BreakerTimeout   time.Duration
	// AllowPrivate permits loopback and private addresses.
	AllowPrivate bool
}

// DefaultConfig returns the limits used by the bot.
func DefaultConfig() Config {
	return Config{
		MaxSize:      5 << 20,
		HeadTimeout:  3 * time.Second,
		FetchTimeout: 15 * time.Second,
		HostRPS:      2,
		HostBurst:    4,
		UserAgent:    "ezsticker",

		BreakerThreshold: 5,
		BreakerTimeout:   time.Minute,
	}
}

// Fetcher downloads images from the web.
type Fetcher struct {
	client  *http.Client
	cfg     Config
	limiter  *resilience.RateLimiter
	breakers *hostBreakers
	logger   *slog.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Fetcher) { f.logger = logger }
}

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

// New creates a Fetcher.
func New(cfg Config, opts ...Option) *Fetcher {
	hc := httpclient.DefaultConfig()
	hc.RequestTimeout = max(cfg.FetchTimeout, cfg.HeadTimeout)
	hc.MaxRedirects = 5
	hc.UserAgent = cfg.UserAgent
	if !cfg.AllowPrivate {
		hc.DialControl = publicOnly
	}
	if cfg.BreakerThreshold == 0 {
		cfg.BreakerThreshold = 5
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = time.Minute
	}

	f := &Fetcher{
		client:   httpclient.New(hc),
		cfg:      cfg,
		breakers: newHostBreakers(cfg.BreakerThreshold, cfg.BreakerTimeout),
		logger:   slog.Default(),
	}
	if cfg.HostRPS > 0 {
		f.limiter = resilience.NewRateLimiter(resilience.RateLimiterConfig{
			GlobalRPS:   50,
			GlobalBurst: 50,
			KeyRPS:      cfg.HostRPS,
			KeyBurst:    max(cfg.HostBurst, 1),
			IdleTTL:     10 * time.Minute,
		})
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Normalize turns user text into an absolute http(s) URL. Text without a
// scheme is taken as https.
func Normalize(text string) (string, error) {
	words := strings.Fields(text)
	if len(words) == 0 {
		return "", &Error{Kind: KindInvalidURL, URL: text}
	}
	if len(words) > 1 {
		return "", ErrTooManyURLs
	}
	raw := words[0]

	if !strings.Contains(raw, "://") {
		raw = "https://" + strings.TrimLeft(raw, "/")
	}
	if lower := strings.ToLower(raw); strings.HasPrefix(lower, "https:///") {
		raw = "https://" + raw[len("https:///"):]
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", &Error{Kind: KindInvalidURL, URL: raw, Err: err}
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", &Error{Kind: KindInvalidURL, URL: raw}
	}
	return u.String(), nil
}

// Fetch downloads rawURL, which should come from Normalize. It fails with
// ErrTooLarge when the body exceeds MaxSize and with *Error otherwise.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil, &Error{Kind: KindInvalidURL, URL: rawURL, Err: err}
	}

	if f.limiter != nil {
		if err := f.limiter.Wait(ctx, u.Hostname()); err != nil {
			return nil, classify(rawURL, err)
		}
	}

	data, err := f.breakers.get(u.Hostname()).Execute(func() ([]byte, error) {
		if err := f.head(ctx, rawURL); err != nil {
			return nil, err
		}
		return f.get(ctx, rawURL)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		f.logger.Debug("host breaker open", "host", u.Hostname())
		return nil, &Error{Kind: KindUnreachable, URL: rawURL, Err: err}
	}
	return data, err
}

func (f *Fetcher) head(ctx context.Context, rawURL string) error {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.HeadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return &Error{Kind: KindInvalidURL, URL: rawURL, Err: err}
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return classify(rawURL, err)
	}
	resp.Body.Close()

	// Only the advertised size matters here; the status is judged on GET.
	if resp.ContentLength > f.cfg.MaxSize {
		f.logger.Debug("head precheck rejected url", "url", rawURL, "size", resp.ContentLength)
		return fmt.Errorf("%w: %d bytes", ErrTooLarge, resp.ContentLength)
	}
	return nil
}

func (f *Fetcher) get(ctx context.Context, rawURL string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.FetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &Error{Kind: KindInvalidURL, URL: rawURL, Err: err}
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, classify(rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, &Error{Kind: KindNotExist, URL: rawURL, Status: resp.StatusCode}
	}
	if resp.ContentLength > f.cfg.MaxSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, resp.ContentLength)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxSize+1))
	if err != nil {
		return nil, classify(rawURL, err)
	}
	if int64(len(data)) > f.cfg.MaxSize {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, f.cfg.MaxSize)
	}
	return data, nil
}
