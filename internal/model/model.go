// Package model holds the engine's wire-format data model: tracks, the
// setup descriptor, live DAG nodes, and VOD metadata (the live-stream
// reassembly state lives in internal/reorder). Types carry json tags so they round-trip through the
// object-store adapter the same way the teacher's group.Message wire types
// do (internal/group/message.go in the reference goop2 tree).
package model

import (
	"errors"
	"fmt"

	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
)

// ErrBadSetup is returned when a SetupDescriptor violates its invariants.
var ErrBadSetup = errors.New("model: invalid setup descriptor")

// AudioTrackName is the reserved track name marking the audio track.
const AudioTrackName = "audio"

// Track describes one quality level (or the audio track) of a stream.
type Track struct {
	Name                  string   `json:"name"`
	Codec                 string   `json:"codec"`
	Bandwidth             uint64   `json:"bandwidth"`
	InitializationSegment cid.Cid  `json:"initialization_segment"`
}

// IsAudio reports whether this track is the audio track.
func (t Track) IsAudio() bool { return t.Name == AudioTrackName }

// SetupDescriptor is the ordered sequence of tracks for a stream: index 0 is
// always audio, indices >= 1 are video qualities in non-decreasing
// bandwidth order.
type SetupDescriptor struct {
	Tracks []Track `json:"tracks"`
}

// Validate checks the invariants from spec.md §3: exactly one audio track
// at index 0, and non-decreasing bandwidth for the video tracks that follow.
func (d SetupDescriptor) Validate() error {
	if len(d.Tracks) < 2 {
		return fmt.Errorf("%w: need at least one audio and one video track", ErrBadSetup)
	}
	if !d.Tracks[0].IsAudio() {
		return fmt.Errorf("%w: track 0 must be audio", ErrBadSetup)
	}
	var last uint64
	for i := 1; i < len(d.Tracks); i++ {
		if d.Tracks[i].IsAudio() {
			return fmt.Errorf("%w: audio track must be at index 0", ErrBadSetup)
		}
		if d.Tracks[i].Bandwidth < last {
			return fmt.Errorf("%w: video tracks must be in non-decreasing bandwidth order", ErrBadSetup)
		}
		last = d.Tracks[i].Bandwidth
	}
	return nil
}

// VideoNode is one live DAG node: the CID of its predecessor (absent for
// the very first node) and the per-track CIDs for this segment.
type VideoNode struct {
	Previous *cid.Cid           `json:"previous,omitempty"`
	Tracks   map[string]cid.Cid `json:"tracks"`
}

// VideoMetadata is the VOD root: total duration and the CID of the
// time-indexed segment tree.
type VideoMetadata struct {
	Duration float64 `json:"duration"`
	Video    cid.Cid `json:"video"`
}

// Sum builds a CIDv1 raw-codec content identifier from arbitrary bytes,
// used by the in-memory store fake and by tests that need deterministic
// CIDs without a running libp2p host.
func Sum(data []byte) cid.Cid {
	digest, err := mh.Sum(data, mh.SHA2_256, -1)
	if err != nil {
		panic(err) // SHA2_256 over arbitrary bytes never fails
	}
	return cid.NewCidV1(cid.Raw, digest)
}
