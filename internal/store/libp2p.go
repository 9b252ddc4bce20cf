package store

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ipfs/go-cid"

	logging "github.com/ipfs/go-log/v2"
	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"

	"github.com/petervdpas/vodlive/internal/model"
	"github.com/petervdpas/vodlive/internal/proto"
	"github.com/petervdpas/vodlive/internal/util"
)

func init() {
	// Silence noisy libp2p subsystems, same subsystems and levels the
	// teacher silences in internal/p2p/node.go.
	logging.SetLogLevel("swarm2", "error")
	logging.SetLogLevel("relay", "info")
	logging.SetLogLevel("autorelay", "info")
	logging.SetLogLevel("autonat", "warn")
}

// LoadOrCreateIdentity loads the Ed25519 host key persisted at keyFile, or
// mints and saves a fresh one if keyFile doesn't exist yet or holds
// something that no longer decodes (e.g. truncated by a prior crash). The
// returned bool reports whether a new key was generated. This is the
// identity a LibP2P host's peer ID is derived from, so a stable keyFile
// across restarts keeps the origin/announcer peer ID stable too.
func LoadOrCreateIdentity(keyFile string) (crypto.PrivKey, bool, error) {
	if raw, err := os.ReadFile(keyFile); err == nil {
		priv, decodeErr := crypto.UnmarshalPrivateKey(raw)
		if decodeErr == nil {
			return priv, false, nil
		}
		log.Printf("store: identity key at %s does not decode (%v), generating a new one", keyFile, decodeErr)
	} else if !os.IsNotExist(err) {
		return nil, false, fmt.Errorf("read identity key: %w", err)
	}

	priv, _, err := crypto.GenerateEd25519Key(nil)
	if err != nil {
		return nil, false, fmt.Errorf("generate identity key: %w", err)
	}

	raw, err := crypto.MarshalPrivateKey(priv)
	if err != nil {
		return nil, false, fmt.Errorf("marshal identity key: %w", err)
	}
	if dir := filepath.Dir(keyFile); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, false, fmt.Errorf("create identity key directory: %w", err)
		}
	}
	if err := os.WriteFile(keyFile, raw, 0o600); err != nil {
		return nil, false, fmt.Errorf("persist identity key: %w", err)
	}
	return priv, true, nil
}

// discoveryNotifee auto-connects to any peer mDNS finds on the LAN,
// bounding each dial with util.DefaultConnectTimeout so a single
// unreachable peer can't stall discovery of the next one.
type discoveryNotifee struct {
	host host.Host
}

func (n *discoveryNotifee) HandlePeerFound(pi peer.AddrInfo) {
	ctx, cancel := context.WithTimeout(context.Background(), util.DefaultConnectTimeout)
	defer cancel()
	if err := n.host.Connect(ctx, pi); err != nil {
		log.Printf("store: mdns peer %s unreachable: %v", pi.ID, err)
	}
}

// StartDiscovery registers LAN peer discovery tagged tag on the adapter's
// host, auto-connecting to whatever it finds. Meant for the demo CLI,
// which has no bootstrap list of its own beyond the one peer it was told
// to dial.
func (l *LibP2P) StartDiscovery(tag string) error {
	return mdns.NewMdnsService(l.host, tag, &discoveryNotifee{host: l.host}).Start()
}

// ServeFunc resolves a local request from a remote peer: either a raw byte
// range (for BytesProtoID) or a JSON node (for NodeProtoID). A pure client
// adapter (the common case for a player) passes nil for both.
type ServeFunc func(request string) ([]byte, error)

// LibP2P is the object-store adapter backed by a real libp2p host: node
// and byte fetches go out over dedicated stream protocols to a known
// origin peer (the content host, or the live stream's announcing peer),
// and live announcements arrive over GossipSub. This mirrors
// internal/p2p/node.go's host construction and its FetchContent /
// RunPresenceLoop patterns, generalized from "peer presence" to
// "segment fetch + live announcement".
type LibP2P struct {
	host host.Host
	ps   *pubsub.PubSub

	origin peer.ID

	mu   sync.Mutex
	subs map[string]*topicSub
}

type topicSub struct {
	topic  *pubsub.Topic
	sub    *pubsub.Subscription
	cancel context.CancelFunc
}

func (s *topicSub) Unsubscribe() {
	s.cancel()
	s.sub.Cancel()
	_ = s.topic.Close()
}

// NewLibP2P starts a libp2p host listening on listenPort, using the
// Ed25519 identity priv, and targets origin as the peer all node/byte
// fetches are sent to.
func NewLibP2P(ctx context.Context, listenPort int, priv crypto.PrivKey, origin peer.ID, serveBytes, serveNode ServeFunc) (*LibP2P, error) {
	h, err := libp2p.New(
		libp2p.Identity(priv),
		libp2p.ListenAddrStrings(fmt.Sprintf("/ip4/0.0.0.0/tcp/%d", listenPort)),
	)
	if err != nil {
		return nil, err
	}

	if serveBytes != nil {
		h.SetStreamHandler(protocol.ID(proto.BytesProtoID), requestHandler(serveBytes))
	}
	if serveNode != nil {
		h.SetStreamHandler(protocol.ID(proto.NodeProtoID), requestHandler(serveNode))
	}

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		_ = h.Close()
		return nil, err
	}

	return &LibP2P{host: h, ps: ps, origin: origin, subs: map[string]*topicSub{}}, nil
}

func requestHandler(serve ServeFunc) network.StreamHandler {
	return func(s network.Stream) {
		defer s.Close()
		rd := bufio.NewReader(s)
		line, err := rd.ReadString('\n')
		if err != nil {
			return
		}
		resp, err := serve(strings.TrimSpace(line))
		if err != nil {
			return
		}
		_, _ = s.Write(resp)
	}
}

// Close shuts the host down.
func (l *LibP2P) Close() error { return l.host.Close() }

// ID returns this host's own peer ID string.
func (l *LibP2P) ID() string { return l.host.ID().String() }

// Host exposes the underlying libp2p host, for callers (cmd/vodlive) that
// need to layer LAN discovery (mdns) or inspect listen addresses on top of
// the adapter.
func (l *LibP2P) Host() host.Host { return l.host }

func (l *LibP2P) fetch(ctx context.Context, protoID, request string) ([]byte, error) {
	_ = l.host.Connect(ctx, peer.AddrInfo{ID: l.origin})

	s, err := l.host.NewStream(ctx, l.origin, protocol.ID(protoID))
	if err != nil {
		return nil, fmt.Errorf("open stream %s: %w", protoID, err)
	}
	defer s.Close()

	if _, err := s.Write([]byte(request + "\n")); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}
	_ = s.CloseWrite()

	data, err := io.ReadAll(s)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return data, nil
}

func (l *LibP2P) GetSetup(ctx context.Context, id cid.Cid, path string) (model.SetupDescriptor, error) {
	path = strings.TrimSuffix(path, "/")
	data, err := l.fetch(ctx, proto.NodeProtoID, id.String()+"|"+path)
	if err != nil {
		return model.SetupDescriptor{}, err
	}
	var d model.SetupDescriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return model.SetupDescriptor{}, fmt.Errorf("decode setup: %w", err)
	}
	return d, nil
}

func (l *LibP2P) GetVideoNode(ctx context.Context, id cid.Cid) (model.VideoNode, error) {
	data, err := l.fetch(ctx, proto.NodeProtoID, id.String())
	if err != nil {
		return model.VideoNode{}, err
	}
	var n model.VideoNode
	if err := json.Unmarshal(data, &n); err != nil {
		return model.VideoNode{}, fmt.Errorf("decode video node: %w", err)
	}
	return n, nil
}

func (l *LibP2P) GetMetadata(ctx context.Context, id cid.Cid) (model.VideoMetadata, error) {
	data, err := l.fetch(ctx, proto.NodeProtoID, id.String()+"|metadata")
	if err != nil {
		return model.VideoMetadata{}, err
	}
	var m model.VideoMetadata
	if err := json.Unmarshal(data, &m); err != nil {
		return model.VideoMetadata{}, fmt.Errorf("decode metadata: %w", err)
	}
	return m, nil
}

func (l *LibP2P) GetBytes(ctx context.Context, path string) ([]byte, error) {
	return l.fetch(ctx, proto.BytesProtoID, path)
}

func (l *LibP2P) GetAudioVideo(ctx context.Context, audioRef, videoRef string) ([]byte, []byte, error) {
	var audio, video []byte
	var audioErr, videoErr error
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); audio, audioErr = l.GetBytes(ctx, audioRef) }()
	go func() { defer wg.Done(); video, videoErr = l.GetBytes(ctx, videoRef) }()
	wg.Wait()
	if audioErr != nil {
		return nil, nil, audioErr
	}
	if videoErr != nil {
		return nil, nil, videoErr
	}
	return audio, video, nil
}

// Subscribe joins topic via GossipSub and delivers every message received
// from another peer (this host's own messages are skipped) to handler with
// the sender's peer ID string, until the returned
// Subscription is torn down. This is the live-announcement transport: the
// Sender Authenticator (internal/auth) gates on the sender ID this
// reports.
func (l *LibP2P) Subscribe(ctx context.Context, topicName string, handler MessageHandler) (Subscription, error) {
	topic, err := l.ps.Join(topicName)
	if err != nil {
		return nil, fmt.Errorf("join topic %s: %w", topicName, err)
	}
	sub, err := topic.Subscribe()
	if err != nil {
		_ = topic.Close()
		return nil, fmt.Errorf("subscribe topic %s: %w", topicName, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	go func() {
		for {
			m, err := sub.Next(subCtx)
			if err != nil {
				return
			}
			if m.ReceivedFrom == l.host.ID() {
				continue
			}
			handler(m.ReceivedFrom.String(), m.Data)
		}
	}()

	ts := &topicSub{topic: topic, sub: sub, cancel: cancel}
	l.mu.Lock()
	l.subs[topicName] = ts
	l.mu.Unlock()
	return ts, nil
}

// Publish sends payload on topic, used by an origin peer to announce a new
// live segment CID.
func (l *LibP2P) Publish(ctx context.Context, topicName string, payload []byte) error {
	l.mu.Lock()
	ts, ok := l.subs[topicName]
	l.mu.Unlock()
	if !ok {
		topic, err := l.ps.Join(topicName)
		if err != nil {
			return err
		}
		return topic.Publish(ctx, payload)
	}
	return ts.topic.Publish(ctx, payload)
}
