// Package buffermgr implements the Buffer Manager (spec.md §4.6): the
// Status decision (which of Flush / EndOfVideo / Timeout / Load applies
// next) and the Flush computation (what range to evict from the back
// buffer behind currentTime to respect the configured window).
//
// Grounded on web-app/src/components/video_player.rs's tick()/flush_buffer.
package buffermgr

import "github.com/petervdpas/vodlive/internal/sink"

// Defaults match spec.md §4.6's named constants; internal/config overrides
// them per-deployment.
const (
	DefaultForwardBufferSeconds = 16.0
	DefaultBackBufferSeconds    = 8.0
)

// Decision is the outcome of Status: which action the controller's tick
// should take next.
type Decision int

const (
	// DecisionFlush means the back buffer behind currentTime has grown past
	// its window and must be trimmed before anything else happens.
	DecisionFlush Decision = iota
	// DecisionEndOfVideo means playback has reached the end of a VOD asset
	// with nothing left to load.
	DecisionEndOfVideo
	// DecisionTimeout means the forward buffer already reaches more than
	// the forward window past currentTime, so no fetch is issued; the
	// controller waits on its idle timer instead.
	DecisionTimeout
	// DecisionLoad means the next segment should be fetched and appended.
	DecisionLoad
)

// Limits holds the forward/back buffer window, in seconds.
type Limits struct {
	Forward float64
	Back    float64
}

// DefaultLimits returns spec.md §4.6's named constants.
func DefaultLimits() Limits {
	return Limits{Forward: DefaultForwardBufferSeconds, Back: DefaultBackBufferSeconds}
}

// Status implements spec.md §4.6's decision order: Flush takes priority
// over everything else, then (VOD only) end-of-video, then (VOD only) the
// Timeout/Load threshold on how much forward buffer remains ahead of
// currentTime. Live mode has no forward-buffer ceiling and no terminal
// state, so it falls straight through to Load once Flush doesn't apply.
// atDuration must already reflect isVOD && buffEnd >= metadata.duration —
// it is meaningless (and ignored) outside VOD.
func Status(limits Limits, videoSink sink.MediaSink, currentTime float64, isVOD bool, atDuration bool) Decision {
	if needsFlush(limits, videoSink, currentTime) {
		return DecisionFlush
	}

	if isVOD {
		if atDuration {
			return DecisionEndOfVideo
		}

		buffEnd := sink.BufferedEnd(videoSink)
		if currentTime+limits.Forward < buffEnd {
			return DecisionTimeout
		}
	}

	return DecisionLoad
}

// needsFlush reports whether the buffered range behind currentTime
// already exceeds the back-buffer window, meaning stale data should be
// evicted before any new segment is appended.
func needsFlush(limits Limits, videoSink sink.MediaSink, currentTime float64) bool {
	start := sink.BufferedStart(videoSink)
	return currentTime-start > limits.Back
}

// FlushRange computes the [start, end) range to remove from both the
// audio and video sinks, per spec.md §4.6: if buff_start is already within
// the back-buffer window (back_buffer_start = currentTime - limits.Back
// falls at or before it), flush the whole buffered range; otherwise
// restrict the flush to [buff_start, back_buffer_start), unless that
// would overrun currentTime itself, in which case flush up to currentTime.
func FlushRange(limits Limits, videoSink sink.MediaSink, currentTime float64) (start, end float64) {
	backBufferStart := currentTime - limits.Back
	bufStart := sink.BufferedStart(videoSink)

	if backBufferStart <= bufStart {
		return bufStart, sink.BufferedEnd(videoSink)
	}
	if backBufferStart > currentTime {
		backBufferStart = currentTime
	}

	return bufStart, backBufferStart
}
