package sink

import (
	"fmt"
	"sort"
)

// MemSink is an in-memory MediaSink: it tracks buffered time ranges only,
// without storing or decoding the appended bytes. It is the engine's test fixture and the demo
// CLI's playback target (the CLI has no browser media element to drive).
type MemSink struct {
	codec     string
	support   CodecSupport
	ranges    []TimeRange
	nextStart float64
	// SegmentDuration is the simulated playtime each appended segment
	// advances the buffer by. Real source buffers derive this from the
	// segment's own timestamps; the demo CLI has no demuxer, so it is
	// configured directly.
	SegmentDuration float64
}

// NewMemSink constructs a MemSink for the given initial codec.
func NewMemSink(codec string, segmentDuration float64) *MemSink {
	return &MemSink{codec: codec, SegmentDuration: segmentDuration}
}

func (m *MemSink) Append(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	start := m.nextStart
	end := start + m.SegmentDuration
	m.nextStart = end
	if n := len(m.ranges); n > 0 && m.ranges[n-1].End == start {
		m.ranges[n-1].End = end
	} else {
		m.ranges = append(m.ranges, TimeRange{Start: start, End: end})
	}
	return nil
}

func (m *MemSink) Remove(start, end float64) error {
	if end <= start {
		return nil
	}
	out := make([]TimeRange, 0, len(m.ranges)+1)
	for _, r := range m.ranges {
		switch {
		case r.End <= start || r.Start >= end:
			out = append(out, r)
		case r.Start < start && r.End > end:
			out = append(out, TimeRange{Start: r.Start, End: start}, TimeRange{Start: end, End: r.End})
		case r.Start < start:
			out = append(out, TimeRange{Start: r.Start, End: start})
		case r.End > end:
			out = append(out, TimeRange{Start: end, End: r.End})
		}
	}
	m.ranges = out
	sort.Slice(m.ranges, func(i, j int) bool { return m.ranges[i].Start < m.ranges[j].Start })
	return nil
}

func (m *MemSink) ChangeType(codec string) error {
	if m.support != nil && !m.support.Supported(codec) {
		return fmt.Errorf("%w: %s", ErrCodecUnsupported, codec)
	}
	m.codec = codec
	return nil
}

func (m *MemSink) Buffered() []TimeRange {
	out := make([]TimeRange, len(m.ranges))
	copy(out, m.ranges)
	return out
}

func (m *MemSink) Codec() string { return m.codec }

// memFactory is a Factory backed by MemSink, used by tests and the demo CLI.
type memFactory struct {
	support         CodecSupport
	segmentDuration float64
}

// NewMemFactory returns a Factory producing MemSink instances.
func NewMemFactory(support CodecSupport, segmentDuration float64) Factory {
	return &memFactory{support: support, segmentDuration: segmentDuration}
}

func (f *memFactory) NewSink(codec string) (MediaSink, error) {
	if f.support != nil && !f.support.Supported(codec) {
		return nil, fmt.Errorf("%w: %s", ErrCodecUnsupported, codec)
	}
	s := NewMemSink(codec, f.segmentDuration)
	s.support = f.support
	return s, nil
}

// AllCodecsSupported is a CodecSupport that accepts everything, useful in
// tests that don't exercise the unsupported-codec path.
type AllCodecsSupported struct{}

func (AllCodecsSupported) Supported(string) bool { return true }
