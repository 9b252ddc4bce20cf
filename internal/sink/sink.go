// Package sink defines the media-buffer seam the engine drives: an
// append-only, time-ranged byte sink standing in for a browser
// SourceBuffer, plus the MediaBuffers pair (audio + video) the Controller
// owns once setup succeeds.
package sink

import (
	"errors"

	"github.com/petervdpas/vodlive/internal/model"
)

// ErrCodecUnsupported is returned by a Factory when a track's codec cannot
// be decoded by the host media layer.
var ErrCodecUnsupported = errors.New("sink: codec not supported")

// TimeRange is one contiguous buffered interval, in the source-buffer time
// domain (seconds).
type TimeRange struct {
	Start float64
	End   float64
}

// MediaSink is an append-only byte stream with a source-buffer style
// remove/change-codec surface. A host integration (e.g. a browser
// MediaSource.SourceBuffer, or — in this module's CLI — the in-memory MemSink)
// implements it.
type MediaSink interface {
	// Append adds bytes to the end of the buffer. The host schedules the
	// completion asynchronously and notifies the engine via
	// engine.Controller.OnUpdateEnd once the append (or the whole pending
	// queue of one) finishes.
	Append(data []byte) error

	// Remove deletes the given time range [start, end) from the buffer.
	Remove(start, end float64) error

	// ChangeType switches the buffer's expected codec, used when the ABR
	// estimator selects a new quality level.
	ChangeType(codec string) error

	// Buffered returns the currently buffered time ranges, in ascending
	// order and non-overlapping, mirroring SourceBuffer.buffered.
	Buffered() []TimeRange
}

// CodecSupport is supplied by the host to let the Setup Resolver decide
// which tracks it can instantiate a sink for (spec.md §4.2).
type CodecSupport interface {
	Supported(codec string) bool
}

// Factory constructs sinks for the tracks a SetupDescriptor names. It is
// the host-side counterpart of MediaSource.addSourceBuffer in the original
// browser implementation.
type Factory interface {
	NewSink(codec string) (MediaSink, error)
}

// MediaBuffers is the audio+video sink pair the Controller appends
// segments to and flushes, together with the descriptor that produced
// them.
type MediaBuffers struct {
	Audio  MediaSink
	Video  MediaSink
	Tracks model.SetupDescriptor
}

// BufferedEnd returns the end of the last buffered range, or 0 if the sink
// has no buffered ranges.
func BufferedEnd(s MediaSink) float64 {
	ranges := s.Buffered()
	if len(ranges) == 0 {
		return 0
	}
	return ranges[len(ranges)-1].End
}

// BufferedStart returns the start of the first buffered range, or 0 if the
// sink has no buffered ranges.
func BufferedStart(s MediaSink) float64 {
	ranges := s.Buffered()
	if len(ranges) == 0 {
		return 0
	}
	return ranges[0].Start
}
