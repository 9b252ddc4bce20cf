package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/ipfs/go-cid"

	"github.com/petervdpas/vodlive/internal/model"
)

// Memory is an in-process Store fake: nodes and byte ranges are registered
// up front, and Subscribe delivers whatever is Published to it. It backs
// the engine's unit and scenario tests, standing in for a real object
// store and pub-sub transport the way httptest.Server stands in for a
// real HTTP service in the teacher's tests (internal/rendezvous/templates_test.go).
type Memory struct {
	mu       sync.Mutex
	setups   map[string]model.SetupDescriptor
	nodes    map[cid.Cid]model.VideoNode
	metadata map[cid.Cid]model.VideoMetadata
	bytes    map[string][]byte

	subsMu sync.Mutex
	subs   map[string][]*memSub
}

type memSub struct {
	topic   string
	handler MessageHandler
	closed  bool
}

func (s *memSub) Unsubscribe() { s.closed = true }

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		setups:   map[string]model.SetupDescriptor{},
		nodes:    map[cid.Cid]model.VideoNode{},
		metadata: map[cid.Cid]model.VideoMetadata{},
		bytes:    map[string][]byte{},
		subs:     map[string][]*memSub{},
	}
}

func setupKey(id cid.Cid, path string) string { return id.String() + "|" + path }

// PutSetup registers a SetupDescriptor at cid+path.
func (s *Memory) PutSetup(id cid.Cid, path string, d model.SetupDescriptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setups[setupKey(id, path)] = d
}

// PutNode registers a VideoNode at cid.
func (s *Memory) PutNode(id cid.Cid, n model.VideoNode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[id] = n
}

// PutMetadata registers a VideoMetadata at cid.
func (s *Memory) PutMetadata(id cid.Cid, m model.VideoMetadata) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metadata[id] = m
}

// PutBytes registers a byte range at path.
func (s *Memory) PutBytes(path string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bytes[path] = data
}

func (s *Memory) GetSetup(_ context.Context, id cid.Cid, path string) (model.SetupDescriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.setups[setupKey(id, path)]
	if !ok {
		return model.SetupDescriptor{}, fmt.Errorf("setup at %s%s: %w", id, path, ErrNotFound)
	}
	return d, nil
}

func (s *Memory) GetVideoNode(_ context.Context, id cid.Cid) (model.VideoNode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[id]
	if !ok {
		return model.VideoNode{}, fmt.Errorf("node %s: %w", id, ErrNotFound)
	}
	return n, nil
}

func (s *Memory) GetMetadata(_ context.Context, id cid.Cid) (model.VideoMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.metadata[id]
	if !ok {
		return model.VideoMetadata{}, fmt.Errorf("metadata %s: %w", id, ErrNotFound)
	}
	return m, nil
}

func (s *Memory) GetBytes(_ context.Context, path string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bytes[path]
	if !ok {
		return nil, fmt.Errorf("bytes at %s: %w", path, ErrNotFound)
	}
	return b, nil
}

func (s *Memory) GetAudioVideo(ctx context.Context, audioRef, videoRef string) ([]byte, []byte, error) {
	var audio, video []byte
	var audioErr, videoErr error
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); audio, audioErr = s.GetBytes(ctx, audioRef) }()
	go func() { defer wg.Done(); video, videoErr = s.GetBytes(ctx, videoRef) }()
	wg.Wait()
	if audioErr != nil {
		return nil, nil, audioErr
	}
	if videoErr != nil {
		return nil, nil, videoErr
	}
	return audio, video, nil
}

func (s *Memory) Subscribe(_ context.Context, topic string, handler MessageHandler) (Subscription, error) {
	sub := &memSub{topic: topic, handler: handler}
	s.subsMu.Lock()
	s.subs[topic] = append(s.subs[topic], sub)
	s.subsMu.Unlock()
	return sub, nil
}

// Publish delivers payload, as if sent by senderID, to every live
// subscriber of topic. Test-only driver method, analogous to a real
// GossipSub topic.Publish arriving at a remote subscriber.
func (s *Memory) Publish(topic, senderID string, payload []byte) {
	s.subsMu.Lock()
	subs := append([]*memSub(nil), s.subs[topic]...)
	s.subsMu.Unlock()
	for _, sub := range subs {
		if !sub.closed {
			sub.handler(senderID, payload)
		}
	}
}
