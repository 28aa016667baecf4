package limiter

import (
	"context"
	"sync"
	"time"

	"github.com/and161185/untis-auth/internal/crypto"
	"golang.org/x/time/rate"
)

// Memory is an in-process limiter: a token bucket paces attempts per key and a
// sliding failure window places a lockout after maxFails consecutive failures.
type Memory struct {
	mu       sync.Mutex
	keys     map[string]*keyState
	every    time.Duration
	burst    int
	window   time.Duration
	maxFails int
	blockFor time.Duration
	now      func() time.Time
}

type keyState struct {
	pacer        *rate.Limiter
	fails        int
	lastFail     time.Time
	blockedUntil time.Time
}

// MemoryConfig configures a Memory limiter.
type MemoryConfig struct {
	Every    time.Duration // minimum spacing between attempts once Burst is used up
	Burst    int
	Window   time.Duration // failures older than this start a fresh count
	MaxFails int
	BlockFor time.Duration
}

// NewMemory constructs an in-memory limiter.
func NewMemory(cfg MemoryConfig) *Memory {
	return NewMemoryWithClock(cfg, time.Now)
}

// NewMemoryWithClock constructs an in-memory limiter with an injected clock.
func NewMemoryWithClock(cfg MemoryConfig, now func() time.Time) *Memory {
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	return &Memory{
		keys:     make(map[string]*keyState),
		every:    cfg.Every,
		burst:    cfg.Burst,
		window:   cfg.Window,
		maxFails: cfg.MaxFails,
		blockFor: cfg.BlockFor,
		now:      now,
	}
}

// HashKey returns a stable hash for a cache key to avoid holding raw secrets.
func HashKey(key string) string {
	return string(crypto.Sum(key))
}

func (l *Memory) state(key string) *keyState {
	h := HashKey(key)
	st, ok := l.keys[h]
	if !ok {
		limit := rate.Inf
		if l.every > 0 {
			limit = rate.Every(l.every)
		}
		st = &keyState{pacer: rate.NewLimiter(limit, l.burst)}
		l.keys[h] = st
	}
	return st
}

// Allow reports whether a login for key may start now.
func (l *Memory) Allow(_ context.Context, key string) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	st := l.state(key)
	if st.blockedUntil.After(now) {
		return false, st.blockedUntil.Sub(now), nil
	}

	r := st.pacer.ReserveN(now, 1)
	if !r.OK() {
		return false, 0, nil
	}
	if d := r.DelayFrom(now); d > 0 {
		r.CancelAt(now)
		return false, d, nil
	}
	return true, 0, nil
}

// Success resets failure counters for key.
func (l *Memory) Success(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	st := l.state(key)
	st.fails = 0
	st.blockedUntil = time.Time{}
	return nil
}

// Failure records a failed attempt and reports whether key is now blocked.
func (l *Memory) Failure(_ context.Context, key string) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	st := l.state(key)
	if l.window > 0 && now.Sub(st.lastFail) > l.window {
		st.fails = 1
	} else {
		st.fails++
	}
	st.lastFail = now

	if l.maxFails > 0 && st.fails >= l.maxFails {
		st.blockedUntil = now.Add(l.blockFor)
		return true, l.blockFor, nil
	}
	return false, 0, nil
}
