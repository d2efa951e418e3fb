package reconnect

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/baalimago/go_away_boilerplate/pkg/testboil"
)

func TestPolicy_Next(t *testing.T) {
	t.Run("linear schedule, then exhausted", func(t *testing.T) {
		p := Policy{MaxAttempts: 5, BaseDelay: 100 * time.Millisecond}
		var got []time.Duration
		for {
			d, ok := p.Next()
			if !ok {
				break
			}
			got = append(got, d)
		}
		want := []time.Duration{
			100 * time.Millisecond,
			200 * time.Millisecond,
			300 * time.Millisecond,
			400 * time.Millisecond,
			500 * time.Millisecond,
		}
		testboil.FailTestIfDiff(t, len(got), len(want))
		for i := range want {
			testboil.FailTestIfDiff(t, got[i], want[i])
		}
		testboil.FailTestIfDiff(t, p.Attempt, 5)
		if !p.Exhausted() {
			t.Fatal("expected policy to be exhausted")
		}
	})

	t.Run("exhausted policy keeps its attempt", func(t *testing.T) {
		p := Policy{Attempt: 3, MaxAttempts: 3, BaseDelay: time.Second}
		_, ok := p.Next()
		if ok {
			t.Fatal("expected no more attempts")
		}
		testboil.FailTestIfDiff(t, p.Attempt, 3)
	})

	t.Run("reset allows retries again", func(t *testing.T) {
		p := Policy{Attempt: 3, MaxAttempts: 3, BaseDelay: time.Second}
		p.Reset()
		d, ok := p.Next()
		if !ok {
			t.Fatal("expected an attempt after reset")
		}
		testboil.FailTestIfDiff(t, d, time.Second)
	})
}

func TestPolicy_Validate(t *testing.T) {
	tests := []struct {
		name    string
		p       Policy
		wantErr bool
	}{
		{"default", DefaultPolicy(), false},
		{"zero attempts", Policy{MaxAttempts: 0, BaseDelay: time.Second}, true},
		{"zero delay", Policy{MaxAttempts: 1}, true},
		{"negative attempt", Policy{Attempt: -1, MaxAttempts: 1, BaseDelay: time.Second}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.p.Validate()
			testboil.FailTestIfDiff(t, err != nil, tt.wantErr)
		})
	}
}

func TestPolicy_WithLimits(t *testing.T) {
	p := Policy{Attempt: 2, MaxAttempts: 5, BaseDelay: time.Second}
	got := p.WithLimits(Policy{MaxAttempts: 10, BaseDelay: time.Minute})
	testboil.FailTestIfDiff(t, got.Attempt, 2)
	testboil.FailTestIfDiff(t, got.MaxAttempts, 10)
	testboil.FailTestIfDiff(t, got.BaseDelay, time.Minute)
}

func TestWallClock(t *testing.T) {
	var fired atomic.Bool
	done := make(chan struct{})
	WallClock().AfterFunc(time.Millisecond, func() {
		fired.Store(true)
		close(done)
	})
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("wall clock timer never fired")
	}
	if !fired.Load() {
		t.Fatal("expected callback to run")
	}

	stopped := WallClock().AfterFunc(time.Hour, func() {})
	if !stopped.Stop() {
		t.Fatal("expected pending timer to stop")
	}
}
