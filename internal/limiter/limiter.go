// Package limiter defines interfaces and implementations for pacing backend logins.
package limiter

import (
	"context"
	"time"
)

// Limiter controls protocol login attempts per cache key and temporary lockouts.
type Limiter interface {
	// Allow reports whether a login may start now and an optional retry-after.
	Allow(ctx context.Context, key string) (bool, time.Duration, error)
	// Success resets counters after a successful login.
	Success(ctx context.Context, key string) error
	// Failure records a failed attempt; may place a temporary block.
	Failure(ctx context.Context, key string) (bool, time.Duration, error)
}

// Nop allows every attempt.
type Nop struct{}

// Allow always allows.
func (Nop) Allow(context.Context, string) (bool, time.Duration, error) { return true, 0, nil }

// Success does nothing.
func (Nop) Success(context.Context, string) error { return nil }

// Failure never blocks.
func (Nop) Failure(context.Context, string) (bool, time.Duration, error) { return false, 0, nil }
