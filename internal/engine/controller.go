// Package engine implements the Controller: the six-state playback state
// machine spec.md §4.1 describes, wired to the Setup Resolver, Segment
// Locator, Live Reorder Buffer, ABR Estimator, Buffer Manager, and Sender
// Authenticator. Scheduling follows spec.md §5: a single task queue
// (post(func())) processes every external event — timer fire, pub-sub
// delivery, fetch completion, update-end, seek — to completion before the
// next, so the Controller itself never needs a lock.
//
// Grounded on petervdpas-goop2's internal/group.Manager: a struct owning a
// single goroutine that drains a channel of closures, with every public
// method just enqueuing one.
package engine

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/ipfs/go-cid"

	"github.com/petervdpas/vodlive/internal/abr"
	"github.com/petervdpas/vodlive/internal/auth"
	"github.com/petervdpas/vodlive/internal/buffermgr"
	"github.com/petervdpas/vodlive/internal/config"
	"github.com/petervdpas/vodlive/internal/model"
	"github.com/petervdpas/vodlive/internal/sink"
	"github.com/petervdpas/vodlive/internal/store"
)

// Controller is the engine's core state machine. Exported On* methods are
// the environment-facing entry points of spec.md §4.1; each enqueues onto
// the single task queue rather than executing inline, so callers never
// race with the controller goroutine.
type Controller struct {
	store   store.Store
	sinks   sink.Factory
	mode    mode
	limits  buffermgr.Limits
	ema     *abr.Estimator
	auth    auth.SenderAuthenticator
	currentTime func() float64
	log     *log.Logger

	ctx    context.Context
	cancel context.CancelFunc
	queue  chan func()
	done   chan struct{}

	level   uint
	state   MachineState
	buffers *sink.MediaBuffers

	lastAvg  float64
	lastWarm bool

	timerPending bool

	// pendingFetchID tags the one in-flight segment-append fetch (I6: at
	// most one outstanding at a time during Load/Switch), for log
	// correlation — the same role uuid.New plays tagging connections in
	// the teacher's group/listen packages.
	pendingFetchID string

	atEndOfVideo bool
	fatalErr     error

	durationHint func(float64)
}

// SetDurationHint registers fn to be called once, with the asset's total
// duration, as soon as setup resolves in VOD mode — the equivalent of the
// original player's media_source.set_duration(metadata.duration) on
// source-open. No-op in live mode, where no duration is known up front.
func (c *Controller) SetDurationHint(fn func(float64)) { c.post(func() { c.durationHint = fn }) }

func newController(ctx context.Context, st store.Store, sinks sink.Factory, m mode, player config.Player, currentTime func() float64, logger *log.Logger) *Controller {
	cctx, cancel := context.WithCancel(ctx)
	if logger == nil {
		logger = log.Default()
	}
	c := &Controller{
		store:   st,
		sinks:   sinks,
		mode:    m,
		limits:  buffermgr.Limits{Forward: player.ForwardBufferSeconds, Back: player.BackBufferSeconds},
		ema:     abr.New(player.ABRSmoothing),
		currentTime: currentTime,
		log:     logger,
		ctx:     cctx,
		cancel:  cancel,
		queue:   make(chan func(), 32),
		done:    make(chan struct{}),
		level:   1,
		state:   StateTimeout,
	}
	go c.run()
	return c
}

// NewVOD creates a Controller over a fixed VOD root.
func NewVOD(ctx context.Context, st store.Store, sinks sink.Factory, metadata model.VideoMetadata, player config.Player, currentTime func() float64, logger *log.Logger) *Controller {
	return newController(ctx, st, sinks, newVODMode(metadata), player, currentTime, logger)
}

// NewLive creates a Controller that follows a live pub-sub topic;
// authenticator gates which sender's announcements are accepted.
func NewLive(ctx context.Context, st store.Store, sinks sink.Factory, topic string, authenticator auth.SenderAuthenticator, player config.Player, currentTime func() float64, logger *log.Logger) *Controller {
	c := newController(ctx, st, sinks, newLiveMode(topic, authenticator.OriginPeerID), player, currentTime, logger)
	c.auth = authenticator
	return c
}

func (c *Controller) run() {
	defer close(c.done)
	for {
		select {
		case fn := <-c.queue:
			fn()
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Controller) post(fn func()) {
	select {
	case c.queue <- fn:
	case <-c.ctx.Done():
	}
}

// Close cancels any pending timer and stops the controller's task queue —
// spec.md §3's destroy (live topic unsubscription is the caller's
// responsibility, since Subscribe/Unsubscribe belong to the store adapter,
// not the controller).
func (c *Controller) Close() {
	c.cancel()
	<-c.done
}

// State reports the current MachineState, for tests and diagnostics.
func (c *Controller) State() MachineState { return c.state }

// Level reports the current video quality level (never 0).
func (c *Controller) Level() uint { return c.level }

// PendingFetchID reports the correlation id of the one in-flight
// segment-append fetch, or "" if none (I6).
func (c *Controller) PendingFetchID() string { return c.pendingFetchID }

// Err reports the fatal setup error, if the engine has halted (spec.md §7
// kind 7).
func (c *Controller) Err() error { return c.fatalErr }

// AtEndOfVideo reports whether VOD playback reached its terminal state.
func (c *Controller) AtEndOfVideo() bool { return c.atEndOfVideo }

// BufferedVideoEnd reports the end of the video sink's buffered range, or 0
// before setup has resolved. Diagnostic accessor, same caveats as State.
func (c *Controller) BufferedVideoEnd() float64 {
	if c.buffers == nil {
		return 0
	}
	return sink.BufferedEnd(c.buffers.Video)
}

// Sync blocks until every task enqueued before this call has drained.
// Tests use it (often inside a require.Eventually poll) to wait past an
// On* entry point before asserting state, since fetches complete on their
// own goroutines and re-enter the queue asynchronously.
func (c *Controller) Sync() {
	done := make(chan struct{})
	c.post(func() { close(done) })
	<-done
}

// ---- environment-facing entry points (spec.md §4.1) ----

// OnSourceOpen requests the initial SetupDescriptor: at the VOD root's
// time-zero path for VOD, deferred to the first announcement for live.
func (c *Controller) OnSourceOpen() { c.post(c.onSourceOpen) }

// OnSeeking flushes the buffer and re-enters the state machine.
func (c *Controller) OnSeeking() { c.post(c.onSeeking) }

// OnUpdateEnd is the media sink's append-completion signal; it drives the
// next tick.
func (c *Controller) OnUpdateEnd() { c.post(c.onUpdateEnd) }

// OnTimeout is the 1-second idle timer's completion signal.
func (c *Controller) OnTimeout() { c.post(c.onTimeout) }

// OnMessage delivers one pub-sub payload with its sender identity; no-op
// outside live mode, or when the sender fails authentication (spec.md §4.7,
// §7 kind 3/4).
func (c *Controller) OnMessage(senderID string, payload []byte) {
	c.post(func() { c.onMessage(senderID, payload) })
}

// OnLiveNode delivers a fetched VideoNode for id; no-op outside live mode.
func (c *Controller) OnLiveNode(id cid.Cid, node model.VideoNode) {
	c.post(func() { c.onLiveNode(id, node) })
}

func (c *Controller) onSourceOpen() {
	fetch := c.mode.openSourceFetch(c.ctx, c.store)
	if fetch == nil {
		return
	}
	go func() {
		descriptor, err := fetch()
		if err != nil {
			c.log.Printf("engine: fetch initial setup: %v", err)
			return
		}
		c.post(func() { c.onSetup(descriptor) })
	}()
}

func (c *Controller) onSetup(descriptor model.SetupDescriptor) {
	buffers, err := resolveSetup(descriptor, c.sinks, c.log)
	if err != nil {
		c.fatalErr = err
		c.log.Printf("engine: %v", err)
		return
	}
	c.buffers = buffers
	c.state = StateLoad
	if c.mode.isVOD() && c.durationHint != nil {
		c.durationHint(c.mode.knownDuration())
	}
	c.fetchInit(descriptor.Tracks[0], descriptor.Tracks[c.level])
}

func (c *Controller) fetchInit(audioTrack, videoTrack model.Track) {
	go func() {
		audio, video, err := c.store.GetAudioVideo(c.ctx, audioTrack.InitializationSegment.String(), videoTrack.InitializationSegment.String())
		if err != nil {
			c.log.Printf("engine: fetch init segments: %v", err)
			return
		}
		c.post(func() { c.onAppend(audio, video) })
	}()
}

func (c *Controller) onSeeking() {
	c.state = StateFlush
	c.tick()
}

func (c *Controller) onUpdateEnd() { c.tick() }

func (c *Controller) onTimeout() {
	c.timerPending = false
	c.tick()
}

func (c *Controller) onAppend(audio, video []byte) {
	c.pendingFetchID = ""

	if avg, warm := c.ema.Recalculate(len(audio), len(video)); warm {
		c.lastAvg, c.lastWarm = avg, warm
	}

	if c.buffers == nil {
		return
	}
	if len(audio) > 0 {
		if err := c.buffers.Audio.Append(audio); err != nil {
			c.log.Printf("engine: append audio: %v", err)
			return
		}
	}
	if len(video) > 0 {
		if err := c.buffers.Video.Append(video); err != nil {
			c.log.Printf("engine: append video: %v", err)
			return
		}
	}
}

func (c *Controller) onMessage(senderID string, payload []byte) {
	lm, ok := c.mode.(*liveMode)
	if !ok {
		return
	}
	if !c.auth.Accept(senderID) {
		c.log.Printf("engine: dropping message from unauthorised sender %q", senderID)
		return
	}
	if string(payload) == "Stopping" {
		return
	}
	id, err := auth.DecodeCID(payload)
	if err != nil {
		c.log.Printf("engine: dropping malformed CID payload: %v", err)
		return
	}
	c.announce(lm, id)
}

func (c *Controller) announce(lm *liveMode, id cid.Cid) {
	if !lm.setupCIDSet {
		lm.setupCIDSet = true
		lm.setupCID = id
		go func() {
			descriptor, err := c.store.GetSetup(c.ctx, id, "/setup/")
			if err != nil {
				c.log.Printf("engine: fetch live setup: %v", err)
				return
			}
			c.post(func() { c.onSetup(descriptor) })
		}()
	}

	go func() {
		node, err := c.store.GetVideoNode(c.ctx, id)
		if err != nil {
			c.log.Printf("engine: fetch video node %s: %v", id, err)
			return
		}
		c.post(func() { c.onLiveNode(id, node) })
	}()
}

func (c *Controller) onLiveNode(id cid.Cid, node model.VideoNode) {
	lm, ok := c.mode.(*liveMode)
	if !ok {
		return
	}
	req, needFetch := lm.reorderBuf.OnNode(id, node)
	if needFetch {
		go func() {
			predecessor, err := c.store.GetVideoNode(c.ctx, req.CID)
			if err != nil {
				c.log.Printf("engine: fetch predecessor node %s: %v", req.CID, err)
				return
			}
			c.post(func() { c.onLiveNode(req.CID, predecessor) })
		}()
	}
}

// ---- tick dispatch (spec.md §4.1) ----

func (c *Controller) tick() {
	switch c.state {
	case StateLoad:
		c.doLoad()
	case StateSwitch:
		c.doSwitch()
	case StateFlush:
		c.doFlush()
	case StateTimeout:
		c.doTimeout()
	case StateABR:
		c.doABR()
	case StateStatus:
		c.doStatus()
	}
}

func (c *Controller) doLoad() {
	if c.buffers == nil {
		return
	}
	refs, ok := c.mode.nextRefs(int(c.level), c.buffers.Tracks.Tracks, c.currentTime(), c.buffers.Video)
	if !ok {
		c.state = StateTimeout
		c.armTimer()
		return
	}

	c.state = StateABR
	c.ema.StartTimer()

	fetchID := uuid.New().String()
	c.pendingFetchID = fetchID
	go func() {
		audio, video, err := c.store.GetAudioVideo(c.ctx, refs.AudioRef, refs.VideoRef)
		if err != nil {
			c.log.Printf("engine: fetch %s segment: %v", fetchID, err)
			return
		}
		c.post(func() { c.onAppend(audio, video) })
	}()
}

func (c *Controller) doSwitch() {
	track := c.buffers.Tracks.Tracks[c.level]
	if err := c.buffers.Video.ChangeType(track.Codec); err != nil {
		c.log.Printf("engine: change video codec: %v", err)
		return
	}
	c.state = StateLoad

	fetchID := uuid.New().String()
	c.pendingFetchID = fetchID
	go func() {
		video, err := c.store.GetBytes(c.ctx, track.InitializationSegment.String())
		if err != nil {
			c.log.Printf("engine: fetch %s level init segment: %v", fetchID, err)
			return
		}
		c.post(func() { c.onAppend(nil, video) })
	}()
}

func (c *Controller) doFlush() {
	start, end := buffermgr.FlushRange(c.limits, c.buffers.Video, c.currentTime())
	if start == end {
		c.state = StateLoad
		return
	}
	if err := c.buffers.Audio.Remove(start, end); err != nil {
		c.log.Printf("engine: flush audio: %v", err)
		return
	}
	if err := c.buffers.Video.Remove(start, end); err != nil {
		c.log.Printf("engine: flush video: %v", err)
		return
	}
	c.state = StateLoad
}

func (c *Controller) doTimeout() {
	c.armTimer()
}

func (c *Controller) armTimer() {
	if c.timerPending {
		return
	}
	c.timerPending = true
	go func() {
		t := time.NewTimer(time.Second)
		defer t.Stop()
		select {
		case <-t.C:
			c.OnTimeout()
		case <-c.ctx.Done():
		}
	}()
}

func (c *Controller) doABR() {
	if !c.lastWarm {
		c.state = StateStatus
		c.tick()
		return
	}
	newLevel := abr.SelectLevel(c.buffers.Tracks.Tracks, c.lastAvg)
	if uint(newLevel) == c.level {
		c.state = StateStatus
		c.tick()
		return
	}
	c.level = uint(newLevel)
	c.state = StateSwitch
	c.tick()
}

func (c *Controller) doStatus() {
	decision := buffermgr.Status(c.limits, c.buffers.Video, c.currentTime(), c.mode.isVOD(), c.mode.atDuration(c.buffers.Video))
	switch decision {
	case buffermgr.DecisionFlush:
		c.state = StateFlush
		c.tick()
	case buffermgr.DecisionEndOfVideo:
		c.atEndOfVideo = true
	case buffermgr.DecisionTimeout:
		c.state = StateTimeout
		c.tick()
	case buffermgr.DecisionLoad:
		c.state = StateLoad
		c.tick()
	}
}
