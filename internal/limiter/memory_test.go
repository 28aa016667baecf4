package limiter

import (
	"context"
	"testing"
	"time"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

var _ Limiter = (*Memory)(nil)
var _ Limiter = Nop{}

func TestMemory_LockoutAfterMaxFails(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clk := &clock{t: time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)}
	l := NewMemoryWithClock(MemoryConfig{Window: time.Minute, MaxFails: 3, BlockFor: 5 * time.Minute}, clk.now)

	for i := 0; i < 2; i++ {
		blocked, _, err := l.Failure(ctx, "user:a@s")
		if err != nil || blocked {
			t.Fatalf("failure %d: blocked=%v err=%v", i, blocked, err)
		}
	}
	blocked, d, err := l.Failure(ctx, "user:a@s")
	if err != nil || !blocked || d != 5*time.Minute {
		t.Fatalf("want block for 5m, got blocked=%v d=%v err=%v", blocked, d, err)
	}

	ok, retry, _ := l.Allow(ctx, "user:a@s")
	if ok || retry != 5*time.Minute {
		t.Fatalf("want denied with retry 5m, got ok=%v retry=%v", ok, retry)
	}

	if ok, _, _ := l.Allow(ctx, "user:b@s"); !ok {
		t.Fatalf("other keys must not be affected")
	}

	clk.advance(5*time.Minute + time.Second)
	if ok, _, _ := l.Allow(ctx, "user:a@s"); !ok {
		t.Fatalf("block must expire")
	}
}

func TestMemory_WindowResetsCount(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clk := &clock{t: time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)}
	l := NewMemoryWithClock(MemoryConfig{Window: time.Minute, MaxFails: 2, BlockFor: time.Minute}, clk.now)

	_, _, _ = l.Failure(ctx, "k")
	clk.advance(2 * time.Minute)
	if blocked, _, _ := l.Failure(ctx, "k"); blocked {
		t.Fatalf("stale failure must not count")
	}
}

func TestMemory_SuccessResets(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clk := &clock{t: time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)}
	l := NewMemoryWithClock(MemoryConfig{Window: time.Minute, MaxFails: 2, BlockFor: time.Minute}, clk.now)

	_, _, _ = l.Failure(ctx, "k")
	if err := l.Success(ctx, "k"); err != nil {
		t.Fatalf("Success: %v", err)
	}
	if blocked, _, _ := l.Failure(ctx, "k"); blocked {
		t.Fatalf("success must reset counters")
	}
}

func TestMemory_Pacing(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clk := &clock{t: time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)}
	l := NewMemoryWithClock(MemoryConfig{Every: 10 * time.Second, Burst: 2}, clk.now)

	for i := 0; i < 2; i++ {
		if ok, _, _ := l.Allow(ctx, "k"); !ok {
			t.Fatalf("attempt %d within burst denied", i)
		}
	}
	ok, retry, _ := l.Allow(ctx, "k")
	if ok || retry <= 0 || retry > 10*time.Second {
		t.Fatalf("want paced denial, got ok=%v retry=%v", ok, retry)
	}

	clk.advance(10 * time.Second)
	if ok, _, _ := l.Allow(ctx, "k"); !ok {
		t.Fatalf("token must refill")
	}
}

func TestNop(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	var n Nop
	if ok, _, _ := n.Allow(ctx, "k"); !ok {
		t.Fatalf("Nop must allow")
	}
	if blocked, _, _ := n.Failure(ctx, "k"); blocked {
		t.Fatalf("Nop must never block")
	}
}
