package engine

import (
	"context"

	"github.com/ipfs/go-cid"

	"github.com/petervdpas/vodlive/internal/locator"
	"github.com/petervdpas/vodlive/internal/model"
	"github.com/petervdpas/vodlive/internal/reorder"
	"github.com/petervdpas/vodlive/internal/sink"
	"github.com/petervdpas/vodlive/internal/store"
)

// mode statically encodes spec.md §9's "unwrap-live" fix: a Controller is
// built by exactly one of NewVOD/NewLive, each installing the mode
// implementation that matches its own fields. Live-only state (the reorder
// buffer, the origin peer id) lives inside liveMode and is never reachable
// from a VOD controller, so handlers never assert on an absent optional —
// they dispatch through this interface instead.
type mode interface {
	isVOD() bool

	// openSourceFetch returns the fetch to run once, at on_source_open, to
	// retrieve the initial SetupDescriptor. Live returns nil: setup is
	// deferred to the first announcement (the Controller's announce
	// triggers it).
	openSourceFetch(ctx context.Context, st store.Store) func() (model.SetupDescriptor, error)

	// nextRefs computes the next (audio_ref, video_ref) pair, or ok=false
	// when nothing is ready yet (live mode with an empty reorder buffer).
	nextRefs(level int, tracks []model.Track, currentTime float64, videoSink sink.MediaSink) (locator.Refs, bool)

	// atDuration reports whether playback has reached the end of a VOD
	// asset; always false for live.
	atDuration(videoSink sink.MediaSink) bool

	// knownDuration reports the asset's known total length, or 0 when it
	// isn't known up front (live).
	knownDuration() float64
}

// vodMode drives timecode-indexed traversal over a fixed VOD root.
type vodMode struct {
	root     cid.Cid
	duration float64
}

func newVODMode(metadata model.VideoMetadata) *vodMode {
	return &vodMode{root: metadata.Video, duration: metadata.Duration}
}

func (m *vodMode) isVOD() bool { return true }

func (m *vodMode) openSourceFetch(ctx context.Context, st store.Store) func() (model.SetupDescriptor, error) {
	return func() (model.SetupDescriptor, error) {
		return st.GetSetup(ctx, m.root, "/time/hour/0/minute/0/second/0/video/setup/")
	}
}

func (m *vodMode) nextRefs(level int, tracks []model.Track, currentTime float64, videoSink sink.MediaSink) (locator.Refs, bool) {
	return locator.NextVOD(m.root, videoSink, currentTime, level, tracks), true
}

func (m *vodMode) atDuration(videoSink sink.MediaSink) bool {
	return sink.BufferedEnd(videoSink) >= m.duration
}

func (m *vodMode) knownDuration() float64 { return m.duration }

// liveMode follows pub-sub announcements through the Live Reorder Buffer.
type liveMode struct {
	topic        string
	originPeerID string
	reorderBuf   *reorder.Buffer

	// setupCID is the first announced node's CID, whose /setup/ path
	// supplies the SetupDescriptor (spec.md §4.4's announce()). Set once,
	// by the Controller, when the first authenticated announcement
	// arrives, before that node itself has been fetched.
	setupCID    cid.Cid
	setupCIDSet bool
}

func newLiveMode(topic, originPeerID string) *liveMode {
	return &liveMode{
		topic:        topic,
		originPeerID: originPeerID,
		reorderBuf:   reorder.New(nil),
	}
}

func (m *liveMode) isVOD() bool { return false }

func (m *liveMode) openSourceFetch(ctx context.Context, st store.Store) func() (model.SetupDescriptor, error) {
	return nil
}

func (m *liveMode) nextRefs(level int, tracks []model.Track, currentTime float64, videoSink sink.MediaSink) (locator.Refs, bool) {
	return locator.NextLive(m.reorderBuf, level, tracks)
}

func (m *liveMode) atDuration(videoSink sink.MediaSink) bool { return false }

func (m *liveMode) knownDuration() float64 { return 0 }
