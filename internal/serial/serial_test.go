package serial

import (
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestBase(t *testing.T) {
	tests := []struct {
		name string
		at   time.Time
		want int64
	}{
		{"new year midnight", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), 6_001_00000},
		{"mid year", time.Date(2025, 3, 14, 1, 2, 3, 0, time.UTC), 5_073_03723},
		{"last second", time.Date(2039, 12, 31, 23, 59, 59, 0, time.UTC), 19_365_86399},
		{"wraps every 20 years", time.Date(2040, 1, 1, 0, 0, 1, 0, time.UTC), 100_001},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Base(tt.at); got != tt.want {
				t.Errorf("expected %d, got %d", tt.want, got)
			}
		})
	}
}

func TestNextSameSecond(t *testing.T) {
	at := time.Date(2026, 10, 15, 9, 30, 0, 0, time.UTC)
	g := New(WithClock(fixedClock(at)))

	first := g.Next(false)
	if first != Base(at) {
		t.Errorf("expected first serial %d, got %d", Base(at), first)
	}
	if second := g.Next(false); second != first+1 {
		t.Errorf("expected %d, got %d", first+1, second)
	}
	if practice := g.Next(true); practice != -(first + 2) {
		t.Errorf("expected practice serial %d, got %d", -(first + 2), practice)
	}
}

func TestNextClockGoesBackwards(t *testing.T) {
	at := time.Date(2026, 10, 15, 9, 30, 0, 0, time.UTC)
	clock := at
	g := New(WithClock(func() time.Time { return clock }))

	a := g.Next(false)
	clock = at.Add(-time.Hour)
	b := g.Next(false)
	if b <= a {
		t.Errorf("expected serial after %d, got %d", a, b)
	}
}

func TestWithFloor(t *testing.T) {
	at := time.Date(2026, 10, 15, 9, 30, 0, 0, time.UTC)
	g := New(WithClock(fixedClock(at)), WithFloor(-Base(at)))
	if got := g.Next(false); got != Base(at)+1 {
		t.Errorf("expected %d, got %d", Base(at)+1, got)
	}
}

func TestNextConcurrentUnique(t *testing.T) {
	at := time.Date(2026, 10, 15, 9, 30, 0, 0, time.UTC)
	g := New(WithClock(fixedClock(at)))

	const workers, perWorker = 8, 250
	results := make(chan int64, workers*perWorker)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(practice bool) {
			defer wg.Done()
			var prev int64
			for i := 0; i < perWorker; i++ {
				s := g.Next(practice)
				abs := s
				if abs < 0 {
					abs = -abs
				}
				if abs <= prev {
					t.Errorf("serial %d not increasing after %d", abs, prev)
				}
				prev = abs
				results <- abs
			}
		}(w%2 == 0)
	}
	wg.Wait()
	close(results)

	seen := make(map[int64]bool)
	for s := range results {
		if seen[s] {
			t.Fatalf("duplicate serial %d", s)
		}
		seen[s] = true
	}
	if len(seen) != workers*perWorker {
		t.Errorf("expected %d serials, got %d", workers*perWorker, len(seen))
	}
}
