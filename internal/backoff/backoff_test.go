package backoff

import (
	"context"
	"testing"
	"time"
)

func TestDelayGrowsAndCaps(t *testing.T) {
	p := Policy{Initial: 100 * time.Millisecond, Max: 1 * time.Second, Factor: 2}
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 0},
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, 1 * time.Second},
		{10, 1 * time.Second},
	}
	for _, tc := range cases {
		if got := p.delay(tc.attempt, 0); got != tc.want {
			t.Errorf("delay(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestZeroPolicyNeverDelays(t *testing.T) {
	var p Policy
	for attempt := 1; attempt < 5; attempt++ {
		if got := p.Delay(attempt); got != 0 {
			t.Errorf("delay(%d) = %v, want 0", attempt, got)
		}
	}
}

func TestJitterStaysBounded(t *testing.T) {
	p := Policy{Initial: 100 * time.Millisecond, Max: time.Minute, Factor: 2, Jitter: 0.5}
	lo := p.delay(3, 0)
	hi := p.delay(3, 0.999)
	if lo != 400*time.Millisecond {
		t.Errorf("no-jitter delay = %v", lo)
	}
	if hi < lo || hi > lo+lo/2 {
		t.Errorf("jittered delay %v outside [%v, %v]", hi, lo, lo+lo/2)
	}
}

func TestSleepHonorsContext(t *testing.T) {
	p := Policy{Initial: time.Minute, Factor: 2}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	if err := p.Sleep(ctx, 1); err == nil {
		t.Error("want context error")
	}
	if time.Since(start) > time.Second {
		t.Error("sleep did not return promptly on cancel")
	}
}
