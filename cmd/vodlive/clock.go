package main

import (
	"sync"
	"time"
)

// playbackClock simulates the browser media element's current_time: it
// only advances when tracePlayback's ticker fires, since there is no real
// decoder driving playback here.
type playbackClock struct {
	mu  sync.Mutex
	cur time.Duration
}

func newPlaybackClock() *playbackClock { return &playbackClock{} }

func (c *playbackClock) advance(d time.Duration) {
	c.mu.Lock()
	c.cur += d
	c.mu.Unlock()
}

func (c *playbackClock) now() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur.Seconds()
}
