// Package serial issues exam serial numbers.
//
// A serial packs the issue time as YY·DDD·SSSSS: the year modulo 20, the
// day of the year and the second of the day. Serials from one Generator
// are strictly increasing in absolute value, even when several are issued
// within the same second. Practice serials are negative.
package serial

import (
	"sync"
	"time"
)

// Generator hands out serial numbers. It is safe for concurrent use.
type Generator struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

// Option configures a Generator.
type Option func(*Generator)

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

// WithFloor makes the generator issue serials strictly greater than last.
// It is used to resume after a restart within the same second.
func WithFloor(last int64) Option {
	return func(g *Generator) {
		if last < 0 {
			last = -last
		}
		g.last = last
	}
}

// New returns a Generator using the wall clock.
func New(opts ...Option) *Generator {
	g := &Generator{now: time.Now}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Base packs t into the YY·DDD·SSSSS layout.
func Base(t time.Time) int64 {
	secOfDay := t.Hour()*3600 + t.Minute()*60 + t.Second()
	return int64(t.Year()%20)*100_000_000 + int64(t.YearDay())*100_000 + int64(secOfDay)
}

// Next returns the next serial. Practice serials are negated.
func (g *Generator) Next(practice bool) int64 {
	base := Base(g.now())

	g.mu.Lock()
	if base <= g.last {
		base = g.last + 1
	}
	g.last = base
	g.mu.Unlock()

	if practice {
		return -base
	}
	return base
}
