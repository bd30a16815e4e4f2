package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"syscall"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/prilive-com/ezsticker/internal/resilience"
)

// ErrForbiddenAddress is returned when a URL resolves to a loopback,
// private, link-local or otherwise non-public address.
var ErrForbiddenAddress = errors.New("ezsticker: url resolves to a non-public address")

var reservedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("192.0.0.0/24"),
	netip.MustParsePrefix("198.18.0.0/15"),
	netip.MustParsePrefix("240.0.0.0/4"),
	netip.MustParsePrefix("64:ff9b::/96"),
}

// publicOnly is a net.Dialer Control hook. It sees the address after DNS
// resolution, so redirects and rebinding hosts are covered too.
func publicOnly(_, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return err
	}
	if !isPublic(ip) {
		return fmt.Errorf("%w: %s", ErrForbiddenAddress, ip)
	}
	return nil
}

func isPublic(ip netip.Addr) bool {
	ip = ip.Unmap()
	if !ip.IsGlobalUnicast() || ip.IsPrivate() {
		return false
	}
	for _, p := range reservedPrefixes {
		if p.Contains(ip) {
			return false
		}
	}
	return true
}

// maxTrackedHosts bounds the breaker map; it is reset when full.
const maxTrackedHosts = 1024

// hostBreakers keeps one circuit breaker per remote host, so a dead host
// fails fast without affecting the others.
type hostBreakers struct {
	cfg resilience.BreakerConfig

	mu sync.Mutex
	m  map[string]*gobreaker.CircuitBreaker[[]byte]
}

func newHostBreakers(threshold uint32, timeout time.Duration) *hostBreakers {
	cfg := resilience.DefaultBreakerConfig("fetch")
	cfg.Threshold = threshold
	cfg.Timeout = timeout
	cfg.MinRequests = 0
	cfg.IsSuccessful = countsAsHealthy
	return &hostBreakers{cfg: cfg, m: make(map[string]*gobreaker.CircuitBreaker[[]byte])}
}

func (h *hostBreakers) get(host string) *gobreaker.CircuitBreaker[[]byte] {
	h.mu.Lock()
	defer h.mu.Unlock()

	if cb, ok := h.m[host]; ok {
		return cb
	}
	if len(h.m) >= maxTrackedHosts {
		clear(h.m)
	}
	cfg := h.cfg
	cfg.Name = "fetch:" + host
	cb := resilience.NewBreaker[[]byte](cfg)
	h.m[host] = cb
	return cb
}

// countsAsHealthy treats answers from the host, even bad ones, as success.
// Only timeouts and connection failures trip the breaker.
func countsAsHealthy(err error) bool {
	if err == nil || errors.Is(err, ErrForbiddenAddress) || errors.Is(err, context.Canceled) {
		return true
	}
	switch KindOf(err) {
	case KindTimeout, KindUnreachable:
		return false
	}
	return true
}
