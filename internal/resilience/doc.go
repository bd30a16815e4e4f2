// Package resilience provides circuit breakers (sony/gobreaker), keyed rate
// limiting (golang.org/x/time/rate) and jittered retry.
package resilience
