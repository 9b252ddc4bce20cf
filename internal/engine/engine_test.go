package engine

import (
	"context"
	"log"
	"testing"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petervdpas/vodlive/internal/auth"
	"github.com/petervdpas/vodlive/internal/config"
	"github.com/petervdpas/vodlive/internal/locator"
	"github.com/petervdpas/vodlive/internal/model"
	"github.com/petervdpas/vodlive/internal/sink"
	"github.com/petervdpas/vodlive/internal/store"
)

const (
	eventuallyWait = 2 * time.Second
	eventuallyTick = 5 * time.Millisecond
)

func testPlayer() config.Player {
	return config.Default().Player
}

// testWriter discards test-run log output so `go test -v` stays readable;
// failures still surface through assertions, not logs.
type testWriter struct{}

func (testWriter) Write(p []byte) (int, error) { return len(p), nil }

func testLogger() *log.Logger { return log.New(testWriter{}, "", 0) }

func staticClock(t float64) func() float64 { return func() float64 { return t } }

// TestVODReachesEndOfVideo drives a VOD controller from setup through a
// single segment append to its terminal state, exercising the Setup
// Resolver, Segment Locator, ABR Estimator, and Buffer Manager end-of-video
// rule together.
func TestVODReachesEndOfVideo(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := store.NewMemory()

	root := model.Sum([]byte("vod-root"))
	audioInit := model.Sum([]byte("audio-init"))
	videoInit := model.Sum([]byte("video-init"))

	descriptor := model.SetupDescriptor{Tracks: []model.Track{
		{Name: model.AudioTrackName, Codec: "opus", InitializationSegment: audioInit},
		{Name: "high", Codec: "video/mp4", Bandwidth: 1_000_000, InitializationSegment: videoInit},
	}}
	s.PutSetup(root, "/time/hour/0/minute/0/second/0/video/setup/", descriptor)
	s.PutBytes(audioInit.String(), []byte("audio-init-bytes"))
	s.PutBytes(videoInit.String(), []byte("video-init-bytes"))

	// The first append (the init segments) advances the simulated buffer
	// to [0,10); the next load targets timecode 0:0:10.
	s.PutBytes(locator.VODRef(root, 0, 0, 10, model.AudioTrackName), []byte("audio-seg1"))
	s.PutBytes(locator.VODRef(root, 0, 0, 10, "high"), []byte("video-seg1"))

	metadata := model.VideoMetadata{Duration: 20.0, Video: root}
	factory := sink.NewMemFactory(sink.AllCodecsSupported{}, 10.0)

	ctrl := NewVOD(ctx, s, factory, metadata, testPlayer(), staticClock(0), testLogger())
	defer ctrl.Close()

	ctrl.OnSourceOpen()

	require.Eventually(t, func() bool {
		ctrl.Sync()
		return ctrl.State() == StateLoad && ctrl.BufferedVideoEnd() >= 10
	}, eventuallyWait, eventuallyTick, "init segment never appended")

	ctrl.OnUpdateEnd()
	require.Eventually(t, func() bool {
		ctrl.Sync()
		return ctrl.PendingFetchID() != ""
	}, eventuallyWait, eventuallyTick, "segment fetch never issued (I6)")

	require.Eventually(t, func() bool {
		ctrl.Sync()
		return ctrl.BufferedVideoEnd() >= 20
	}, eventuallyWait, eventuallyTick, "segment never appended")
	assert.Equal(t, "", ctrl.PendingFetchID(), "fetch id must clear once the append lands")

	ctrl.OnUpdateEnd()
	require.Eventually(t, func() bool {
		ctrl.Sync()
		return ctrl.AtEndOfVideo()
	}, eventuallyWait, eventuallyTick, "controller never reached end of video")

	assert.NoError(t, ctrl.Err())
	assert.Equal(t, uint(1), ctrl.Level())
}

// TestDurationHintFiresOnceSetupResolvesInVOD exercises the
// set_duration-on-source-open behaviour carried over from the original
// player: the callback fires exactly once, with the asset's total
// duration, as soon as setup resolves.
func TestDurationHintFiresOnceSetupResolvesInVOD(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := store.NewMemory()
	root := model.Sum([]byte("duration-root"))
	audioInit := model.Sum([]byte("duration-audio-init"))
	videoInit := model.Sum([]byte("duration-video-init"))

	descriptor := model.SetupDescriptor{Tracks: []model.Track{
		{Name: model.AudioTrackName, Codec: "opus", InitializationSegment: audioInit},
		{Name: "high", Codec: "video/mp4", Bandwidth: 1_000_000, InitializationSegment: videoInit},
	}}
	s.PutSetup(root, "/time/hour/0/minute/0/second/0/video/setup/", descriptor)
	s.PutBytes(audioInit.String(), []byte("a"))
	s.PutBytes(videoInit.String(), []byte("v"))

	metadata := model.VideoMetadata{Duration: 42.5, Video: root}
	factory := sink.NewMemFactory(sink.AllCodecsSupported{}, 10.0)

	ctrl := NewVOD(ctx, s, factory, metadata, testPlayer(), staticClock(0), testLogger())
	defer ctrl.Close()

	hints := make(chan float64, 4)
	ctrl.SetDurationHint(func(d float64) { hints <- d })
	ctrl.OnSourceOpen()

	require.Eventually(t, func() bool {
		ctrl.Sync()
		return ctrl.State() == StateLoad && ctrl.BufferedVideoEnd() > 0
	}, eventuallyWait, eventuallyTick, "setup never resolved")

	select {
	case d := <-hints:
		assert.Equal(t, 42.5, d)
	default:
		t.Fatal("duration hint never fired")
	}
	assert.Len(t, hints, 0, "duration hint must fire exactly once")
}

// TestVODFlushesBackBufferBeyondWindow exercises the Buffer Manager's Flush
// rule ahead of everything else: once playback has advanced far enough
// past the buffered start, the tick that follows a completed append
// evicts stale data instead of continuing to load or switch.
func TestVODFlushesBackBufferBeyondWindow(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := store.NewMemory()
	root := model.Sum([]byte("vod-root-2"))
	audioInit := model.Sum([]byte("a-init-2"))
	videoInit := model.Sum([]byte("v-init-2"))

	descriptor := model.SetupDescriptor{Tracks: []model.Track{
		{Name: model.AudioTrackName, Codec: "opus", InitializationSegment: audioInit},
		{Name: "high", Codec: "video/mp4", Bandwidth: 1_000_000, InitializationSegment: videoInit},
	}}
	s.PutSetup(root, "/time/hour/0/minute/0/second/0/video/setup/", descriptor)
	s.PutBytes(audioInit.String(), []byte("a"))
	s.PutBytes(videoInit.String(), []byte("v"))
	s.PutBytes(locator.VODRef(root, 0, 0, 10, model.AudioTrackName), []byte("a-seg1"))
	s.PutBytes(locator.VODRef(root, 0, 0, 10, "high"), []byte("v-seg1"))

	metadata := model.VideoMetadata{Duration: 1000.0, Video: root}
	factory := sink.NewMemFactory(sink.AllCodecsSupported{}, 10.0)

	player := testPlayer()
	player.BackBufferSeconds = 8

	// currentTime pinned at 30: once the buffer reaches [0,20), the back
	// buffer (30-0=30) is already far past the 8-second window.
	ctrl := NewVOD(ctx, s, factory, metadata, player, staticClock(30), testLogger())
	defer ctrl.Close()

	ctrl.OnSourceOpen()
	require.Eventually(t, func() bool {
		ctrl.Sync()
		return ctrl.State() == StateLoad && ctrl.BufferedVideoEnd() >= 10
	}, eventuallyWait, eventuallyTick, "init segment never appended")

	// First tick: state is Load, so this issues the real segment fetch
	// (not yet a Flush decision — Status hasn't run yet).
	ctrl.OnUpdateEnd()
	require.Eventually(t, func() bool {
		ctrl.Sync()
		return ctrl.BufferedVideoEnd() >= 20
	}, eventuallyWait, eventuallyTick, "segment never appended")

	// Second tick: state is ABR, so this cascades ABR -> Status -> Flush,
	// and Flush wins over Load/EndOfVideo because the back buffer is
	// already far past its window.
	ctrl.OnUpdateEnd()
	require.Eventually(t, func() bool {
		ctrl.Sync()
		return ctrl.State() == StateLoad && ctrl.BufferedVideoEnd() == 0
	}, eventuallyWait, eventuallyTick, "flush never completed")
	assert.Equal(t, "", ctrl.PendingFetchID(), "flush must not itself issue a fetch")
}

// TestOnSeekingFullyFlushesWhenWithinBackBufferWindow exercises the other
// half of the Buffer Manager's Flush rule: when the buffered range already
// sits within the back-buffer window (so trimming to back_buffer_start
// would be a no-op), a seek still flushes the whole buffered range rather
// than leaving it untouched.
func TestOnSeekingFullyFlushesWhenWithinBackBufferWindow(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := store.NewMemory()
	root := model.Sum([]byte("vod-root-seek"))
	audioInit := model.Sum([]byte("a-init-seek"))
	videoInit := model.Sum([]byte("v-init-seek"))

	descriptor := model.SetupDescriptor{Tracks: []model.Track{
		{Name: model.AudioTrackName, Codec: "opus", InitializationSegment: audioInit},
		{Name: "high", Codec: "video/mp4", Bandwidth: 1_000_000, InitializationSegment: videoInit},
	}}
	s.PutSetup(root, "/time/hour/0/minute/0/second/0/video/setup/", descriptor)
	s.PutBytes(audioInit.String(), []byte("a"))
	s.PutBytes(videoInit.String(), []byte("v"))

	metadata := model.VideoMetadata{Duration: 1000.0, Video: root}
	factory := sink.NewMemFactory(sink.AllCodecsSupported{}, 10.0)

	player := testPlayer()
	player.BackBufferSeconds = 8

	// currentTime pinned at 6: once the buffer reaches [0,10), back_buffer_start
	// = 6-8 = -2, which is already behind buff_start(0) — the whole buffered
	// range is within the window, so a seek must flush it in full.
	ctrl := NewVOD(ctx, s, factory, metadata, player, staticClock(6), testLogger())
	defer ctrl.Close()

	ctrl.OnSourceOpen()
	require.Eventually(t, func() bool {
		ctrl.Sync()
		return ctrl.State() == StateLoad && ctrl.BufferedVideoEnd() >= 10
	}, eventuallyWait, eventuallyTick, "init segment never appended")

	ctrl.OnSeeking()
	require.Eventually(t, func() bool {
		ctrl.Sync()
		return ctrl.State() == StateLoad && ctrl.BufferedVideoEnd() == 0
	}, eventuallyWait, eventuallyTick, "seek never fully flushed the buffer")
}

// TestSetupResolverFailureHaltsEngine exercises spec.md's fatal setup path:
// when no track's codec can be instantiated, the controller halts rather
// than silently stalling.
func TestSetupResolverFailureHaltsEngine(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := store.NewMemory()
	root := model.Sum([]byte("vod-root-3"))
	descriptor := model.SetupDescriptor{Tracks: []model.Track{
		{Name: model.AudioTrackName, Codec: "opus"},
		{Name: "high", Codec: "video/mp4", Bandwidth: 1},
	}}
	s.PutSetup(root, "/time/hour/0/minute/0/second/0/video/setup/", descriptor)

	metadata := model.VideoMetadata{Duration: 10.0, Video: root}
	factory := sink.NewMemFactory(rejectAll{}, 10.0)

	ctrl := NewVOD(ctx, s, factory, metadata, testPlayer(), staticClock(0), testLogger())
	defer ctrl.Close()

	ctrl.OnSourceOpen()
	require.Eventually(t, func() bool {
		ctrl.Sync()
		return ctrl.Err() != nil
	}, eventuallyWait, eventuallyTick, "engine never reported the fatal setup error")
}

type rejectAll struct{}

func (rejectAll) Supported(string) bool { return false }

// TestSetupResolverRejectsMalformedDescriptor exercises the other fatal
// setup path: a descriptor fetched from an untrusted peer (live mode's
// store content has no signature over it) that violates spec.md §3's
// shape invariant — here, a video track placed before the audio track —
// must halt the engine rather than letting resolveSetup build sinks from
// it.
func TestSetupResolverRejectsMalformedDescriptor(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := store.NewMemory()
	root := model.Sum([]byte("vod-root-malformed"))
	descriptor := model.SetupDescriptor{Tracks: []model.Track{
		{Name: "high", Codec: "video/mp4", Bandwidth: 1_000_000},
		{Name: model.AudioTrackName, Codec: "opus"},
	}}
	s.PutSetup(root, "/time/hour/0/minute/0/second/0/video/setup/", descriptor)

	metadata := model.VideoMetadata{Duration: 10.0, Video: root}
	factory := sink.NewMemFactory(sink.AllCodecsSupported{}, 10.0)

	ctrl := NewVOD(ctx, s, factory, metadata, testPlayer(), staticClock(0), testLogger())
	defer ctrl.Close()

	ctrl.OnSourceOpen()
	require.Eventually(t, func() bool {
		ctrl.Sync()
		return ctrl.Err() != nil
	}, eventuallyWait, eventuallyTick, "engine never rejected the malformed descriptor")
	assert.ErrorIs(t, ctrl.Err(), ErrSetupFailed)
	assert.ErrorIs(t, ctrl.Err(), model.ErrBadSetup)
}

// TestLiveDropsUnauthenticatedSenderThenAcceptsOrigin exercises the Sender
// Authenticator gate (spec.md §4.7): a message from any peer other than
// the configured origin is silently dropped, and the live flow only
// proceeds once the origin itself announces.
func TestLiveDropsUnauthenticatedSenderThenAcceptsOrigin(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := store.NewMemory()

	nodeID := model.Sum([]byte("live-node-0"))
	audioCID := model.Sum([]byte("live-audio-0"))
	videoCID := model.Sum([]byte("live-video-0"))
	audioInit := model.Sum([]byte("live-a-init"))
	videoInit := model.Sum([]byte("live-v-init"))

	node := model.VideoNode{Tracks: map[string]cid.Cid{
		model.AudioTrackName: audioCID,
		"high":               videoCID,
	}}
	s.PutNode(nodeID, node)

	descriptor := model.SetupDescriptor{Tracks: []model.Track{
		{Name: model.AudioTrackName, Codec: "opus", InitializationSegment: audioInit},
		{Name: "high", Codec: "video/mp4", Bandwidth: 1_000_000, InitializationSegment: videoInit},
	}}
	s.PutSetup(nodeID, "/setup/", descriptor)
	s.PutBytes(audioInit.String(), []byte("a-init"))
	s.PutBytes(videoInit.String(), []byte("v-init"))
	s.PutBytes(audioCID.String(), []byte("a-seg"))
	s.PutBytes(videoCID.String(), []byte("v-seg"))

	authenticator := auth.SenderAuthenticator{OriginPeerID: "peer-origin"}
	factory := sink.NewMemFactory(sink.AllCodecsSupported{}, 4.0)

	ctrl := NewLive(ctx, s, factory, "topic", authenticator, testPlayer(), staticClock(0), testLogger())
	defer ctrl.Close()

	ctrl.OnSourceOpen()

	// An impostor announcing the same node must be dropped: no setup is
	// ever fetched from it.
	ctrl.OnMessage("peer-impostor", nodeID.Bytes())
	ctrl.Sync()
	assert.Equal(t, StateTimeout, ctrl.State(), "unauthenticated announce must not progress the state machine")

	ctrl.OnMessage("peer-origin", nodeID.Bytes())

	require.Eventually(t, func() bool {
		ctrl.Sync()
		return ctrl.State() == StateLoad && ctrl.BufferedVideoEnd() >= 4.0
	}, eventuallyWait, eventuallyTick, "live setup/init never resolved")

	ctrl.OnUpdateEnd()
	require.Eventually(t, func() bool {
		ctrl.Sync()
		return ctrl.BufferedVideoEnd() >= 8.0
	}, eventuallyWait, eventuallyTick, "live segment never appended")

	// A second tick drains the (now empty) reorder buffer and falls back
	// to Timeout, since live mode has no end-of-video or forward-buffer
	// ceiling to apply first.
	ctrl.OnUpdateEnd()
	require.Eventually(t, func() bool {
		ctrl.Sync()
		return ctrl.State() == StateTimeout
	}, eventuallyWait, eventuallyTick, "live controller never drained back to Timeout")
}
