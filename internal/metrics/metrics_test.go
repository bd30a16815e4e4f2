package metrics_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prilive-com/ezsticker/internal/metrics"
)

func TestNew_DisabledIsNoop(t *testing.T) {
	m := metrics.New(false, prometheus.NewRegistry(), nil)
	_, ok := m.(*metrics.Provider)
	assert.False(t, ok)

	// must not panic
	m.IncConversions("photo", "sticker")
	m.IncFailures("not_img")
	m.ObserveConversionDuration("photo", time.Millisecond)
	m.IncCooldownRejections()
	m.IncCacheHits()
	m.IncCacheMisses()
	m.ObservePersistenceDuration(time.Millisecond)
	m.IncBroadcastSends("sent")
	m.IncCommands("start")
}

func TestProvider_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(true, reg, func() int { return 7 })
	p, ok := m.(*metrics.Provider)
	require.True(t, ok)

	p.IncConversions("photo", "sticker")
	p.IncConversions("photo", "sticker")
	p.IncCooldownRejections()
	p.IncBroadcastSends("unreachable")
	p.IncBroadcastSends("sent")

	families, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["ezsticker_conversions_total"])
	assert.True(t, names["ezsticker_users_total"])

	count, err := testutil.GatherAndCount(reg, "ezsticker_broadcast_sends_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count, "one series per outcome")
}

func TestProvider_UsersGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics.New(true, reg, func() int { return 42 })

	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == "ezsticker_users_total" {
			assert.Equal(t, 42.0, f.GetMetric()[0].GetGauge().GetValue())
			return
		}
	}
	t.Fatal("users gauge not registered")
}

func TestServe_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- metrics.Serve(ctx, "127.0.0.1:0", prometheus.NewRegistry(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return")
	}
}

func TestServe_BadAddress(t *testing.T) {
	err := metrics.Serve(context.Background(), "256.0.0.1:bad", prometheus.NewRegistry(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Error(t, err)
}
