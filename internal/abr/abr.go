// Package abr implements the ABR Estimator (spec.md §4.5): an exponential
// moving average of observed download throughput, used to pick the
// playback quality level. Grounded on the reference player's
// ExponentialMovingAverage (referenced from web-app/src/components/
// video_player.rs as self.ema.start_timer()/recalculate_average_speed),
// reimplemented here against a real monotonic clock instead of the
// browser's performance timer.
package abr

import (
	"time"

	"github.com/petervdpas/vodlive/internal/model"
)

// Clock abstracts the monotonic time source so tests can control elapsed
// durations deterministically.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Estimator maintains an exponential moving average of instantaneous
// throughput (bits/second), sampled once per segment download.
type Estimator struct {
	alpha float64
	clock Clock

	started bool
	start   time.Time

	warm bool
	avg  float64
}

// New returns an Estimator with smoothing factor alpha in (0, 1].
func New(alpha float64) *Estimator {
	return NewWithClock(alpha, realClock{})
}

// NewWithClock is New with an injectable clock, for tests.
func NewWithClock(alpha float64, clock Clock) *Estimator {
	return &Estimator{alpha: alpha, clock: clock}
}

// StartTimer records the moment a segment fetch was issued (spec.md §4.5:
// "called at the moment Segment Locator issues a fetch").
func (e *Estimator) StartTimer() {
	e.start = e.clock.Now()
	e.started = true
}

// Recalculate computes the instantaneous throughput since the last
// StartTimer call from the number of bytes downloaded, folds it into the
// EMA, and reports the new average. ok is false until at least one
// measurement has been folded in ("not warm").
func (e *Estimator) Recalculate(audioLen, videoLen int) (avgBitrate float64, ok bool) {
	if !e.started {
		return 0, e.warm
	}
	elapsed := e.clock.Now().Sub(e.start).Seconds()
	e.started = false

	if elapsed <= 0 {
		return e.avg, e.warm
	}

	instant := 8 * float64(audioLen+videoLen) / elapsed

	if !e.warm {
		e.avg = instant
		e.warm = true
	} else {
		e.avg = e.alpha*instant + (1-e.alpha)*e.avg
	}

	return e.avg, true
}

// Warm reports whether at least one measurement has been folded into the
// average.
func (e *Estimator) Warm() bool { return e.warm }

// SelectLevel implements spec.md §4.5's level selection: starting from 1
// (0 is always audio), advance while the next track's bandwidth does not
// exceed avgBitrate, then commit. Ties prefer the higher index — the
// highest track whose bandwidth does not exceed the estimate wins.
func SelectLevel(tracks []model.Track, avgBitrate float64) int {
	next := 1
	for next+1 < len(tracks) && float64(tracks[next+1].Bandwidth) <= avgBitrate {
		next++
	}
	return next
}
