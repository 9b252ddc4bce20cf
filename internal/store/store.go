// Package store defines the Object-Store Adapter the engine depends on
// (spec.md §4.8) and provides two implementations: an in-memory fake for
// tests, and a libp2p-backed adapter for the demo CLI.
package store

import (
	"context"
	"errors"

	"github.com/ipfs/go-cid"

	"github.com/petervdpas/vodlive/internal/model"
)

// ErrNotFound is returned when a CID or path cannot be resolved.
var ErrNotFound = errors.New("store: not found")

// Subscription is returned by Subscribe; Unsubscribe tears it down.
type Subscription interface {
	Unsubscribe()
}

// MessageHandler receives one pub-sub delivery: the sender's peer identity
// and the raw payload.
type MessageHandler func(senderID string, payload []byte)

// Store is the subset of object-store operations the engine consumes.
// get_node and get_bytes may traverse an optional slash-delimited path
// under the given CID (spec.md §6's path grammar); both may fail
// transiently, in which case the caller retries on its own next tick.
type Store interface {
	// GetSetup fetches and decodes the SetupDescriptor at cid+path.
	GetSetup(ctx context.Context, id cid.Cid, path string) (model.SetupDescriptor, error)

	// GetVideoNode fetches and decodes the VideoNode at cid.
	GetVideoNode(ctx context.Context, id cid.Cid) (model.VideoNode, error)

	// GetMetadata fetches and decodes the VideoMetadata at cid.
	GetMetadata(ctx context.Context, id cid.Cid) (model.VideoMetadata, error)

	// GetBytes fetches a raw byte range addressed by a slash-delimited
	// path (spec.md §6's /time/.../video/track/<name> grammar, or
	// <cid>/setup-relative track CIDs for live).
	GetBytes(ctx context.Context, path string) ([]byte, error)

	// GetAudioVideo performs two concurrent byte fetches and returns them
	// together, satisfying invariant I6 (one outstanding fetch at a time
	// from the Controller's point of view).
	GetAudioVideo(ctx context.Context, audioRef, videoRef string) (audio []byte, video []byte, err error)

	// Subscribe joins a pub-sub topic; handler is invoked for every
	// message until the returned Subscription is torn down.
	Subscribe(ctx context.Context, topic string, handler MessageHandler) (Subscription, error)
}
