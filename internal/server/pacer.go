package server

import "time"

// Pacer holds the per-tick sleep of the fixed-rate loop. Every tps ticks it
// compares the wall-clock time of the last window with one second and
// spreads the deviation over the next window's ticks. The correction
// accumulates and is never reset.
type Pacer struct {
	tps        int64
	delay      time.Duration
	ticks      int64
	checkpoint time.Time
	window     time.Duration
}

func NewPacer(tps int, now time.Time) *Pacer {
	if tps < 1 {
		tps = 1
	}
	return &Pacer{
		tps:        int64(tps),
		delay:      time.Second / time.Duration(tps),
		checkpoint: now,
		window:     time.Second,
	}
}

// Reset restarts the measurement window at now without touching the delay.
func (p *Pacer) Reset(now time.Time) {
	p.ticks = 0
	p.checkpoint = now
}

// Tick records a finished tick at now and returns how long to sleep before
// the next one. A non-positive result means no sleep.
func (p *Pacer) Tick(now time.Time) time.Duration {
	p.ticks++
	if p.ticks%p.tps == 0 {
		p.window = now.Sub(p.checkpoint)
		p.delay -= (p.window - time.Second) / time.Duration(p.tps)
		p.checkpoint = now
	}
	return p.delay
}

// Delay is the current per-tick sleep.
func (p *Pacer) Delay() time.Duration { return p.delay }

// Ticks is the number of ticks recorded.
func (p *Pacer) Ticks() int64 { return p.ticks }

// MeasuredTPS is the tick rate over the last full window.
func (p *Pacer) MeasuredTPS() float64 {
	if p.window <= 0 {
		return float64(p.tps)
	}
	return float64(p.tps) * float64(time.Second) / float64(p.window)
}
