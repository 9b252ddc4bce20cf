// main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/peerstore"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/petervdpas/vodlive/internal/auth"
	"github.com/petervdpas/vodlive/internal/config"
	"github.com/petervdpas/vodlive/internal/engine"
	"github.com/petervdpas/vodlive/internal/sink"
	"github.com/petervdpas/vodlive/internal/store"
)

var (
	showHelp   = flag.Bool("h", false, "Show help")
	showVer    = flag.Bool("version", false, "Show version")
	configPath = flag.String("config", "", "Path to a config JSON file (defaults applied otherwise)")
)

// appVersion is set at build time via -ldflags "-X main.appVersion=x.y.z"
var appVersion = "dev"

func main() {
	flag.Parse()

	if *showVer {
		fmt.Printf("vodlive v%s\n", appVersion)
		return
	}
	if *showHelp {
		showUsage()
		return
	}

	args := flag.Args()
	if len(args) == 0 {
		showUsage()
		os.Exit(2)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	switch args[0] {
	case "vod":
		if len(args) != 3 {
			showUsage()
			os.Exit(2)
		}
		if err := runVOD(ctx, cfg, args[1], args[2]); err != nil {
			log.Fatalf("vod: %v", err)
		}
	case "live":
		if len(args) != 4 {
			showUsage()
			os.Exit(2)
		}
		if err := runLive(ctx, cfg, args[1], args[2], args[3]); err != nil {
			log.Fatalf("live: %v", err)
		}
	default:
		showUsage()
		os.Exit(2)
	}
}

func showUsage() {
	fmt.Println(`vodlive — peer-to-peer content-addressed video streaming demo CLI

Usage:
  vodlive vod <metadata-cid> <peer-multiaddr>
  vodlive live <topic> <origin-peer-id> <bootstrap-multiaddr>

Flags:`)
	flag.PrintDefaults()
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// connectBootstrap parses a full peer multiaddr (including its /p2p/<id>
// suffix), adds it to the host's peerstore, and connects.
func connectBootstrap(ctx context.Context, st *store.LibP2P, raw string) (peer.ID, error) {
	addr, err := ma.NewMultiaddr(raw)
	if err != nil {
		return "", fmt.Errorf("parse multiaddr: %w", err)
	}
	info, err := peer.AddrInfoFromP2pAddr(addr)
	if err != nil {
		return "", fmt.Errorf("parse peer addr info: %w", err)
	}
	st.Host().Peerstore().AddAddrs(info.ID, info.Addrs, peerstore.PermanentAddrTTL)
	if err := st.Host().Connect(ctx, *info); err != nil {
		return "", fmt.Errorf("connect bootstrap peer: %w", err)
	}
	return info.ID, nil
}

func runVOD(ctx context.Context, cfg config.Config, metadataCIDStr, peerAddr string) error {
	metadataID, err := cid.Decode(metadataCIDStr)
	if err != nil {
		return fmt.Errorf("parse metadata cid: %w", err)
	}

	priv, isNew, err := store.LoadOrCreateIdentity(cfg.Identity.KeyFile)
	if err != nil {
		return err
	}
	if isNew {
		log.Printf("generated new identity key: %s", cfg.Identity.KeyFile)
	}

	addr, err := ma.NewMultiaddr(peerAddr)
	if err != nil {
		return fmt.Errorf("parse peer multiaddr: %w", err)
	}
	info, err := peer.AddrInfoFromP2pAddr(addr)
	if err != nil {
		return fmt.Errorf("parse peer addr info: %w", err)
	}

	st, err := store.NewLibP2P(ctx, cfg.P2P.ListenPort, priv, info.ID, nil, nil)
	if err != nil {
		return fmt.Errorf("start libp2p host: %w", err)
	}
	defer st.Close()

	if _, err := connectBootstrap(ctx, st, peerAddr); err != nil {
		return err
	}

	metadata, err := st.GetMetadata(ctx, metadataID)
	if err != nil {
		return fmt.Errorf("fetch vod metadata: %w", err)
	}

	clock := newPlaybackClock()
	factory := sink.NewMemFactory(sink.AllCodecsSupported{}, 4.0)
	player := config.Player{
		ForwardBufferSeconds: cfg.Player.ForwardBufferSeconds,
		BackBufferSeconds:    cfg.Player.BackBufferSeconds,
		TickIntervalMS:       cfg.Player.TickIntervalMS,
		ABRSmoothing:         cfg.Player.ABRSmoothing,
	}

	ctrl := engine.NewVOD(ctx, st, factory, metadata, player, clock.now, log.Default())
	defer ctrl.Close()

	ctrl.SetDurationHint(func(d float64) {
		fmt.Printf("duration=%.1fs\n", d)
	})
	ctrl.OnSourceOpen()
	tracePlayback(ctx, ctrl, clock)
	return nil
}

func runLive(ctx context.Context, cfg config.Config, topic, originPeerIDStr, bootstrapAddr string) error {
	originPeerID, err := peer.Decode(originPeerIDStr)
	if err != nil {
		return fmt.Errorf("parse origin peer id: %w", err)
	}

	priv, isNew, err := store.LoadOrCreateIdentity(cfg.Identity.KeyFile)
	if err != nil {
		return err
	}
	if isNew {
		log.Printf("generated new identity key: %s", cfg.Identity.KeyFile)
	}

	st, err := store.NewLibP2P(ctx, cfg.P2P.ListenPort, priv, originPeerID, nil, nil)
	if err != nil {
		return fmt.Errorf("start libp2p host: %w", err)
	}
	defer st.Close()

	if err := st.StartDiscovery(cfg.P2P.MdnsTag); err != nil {
		log.Printf("mdns discovery disabled: %v", err)
	}

	if _, err := connectBootstrap(ctx, st, bootstrapAddr); err != nil {
		return err
	}

	clock := newPlaybackClock()
	factory := sink.NewMemFactory(sink.AllCodecsSupported{}, 4.0)
	player := config.Player{
		ForwardBufferSeconds: cfg.Player.ForwardBufferSeconds,
		BackBufferSeconds:    cfg.Player.BackBufferSeconds,
		TickIntervalMS:       cfg.Player.TickIntervalMS,
		ABRSmoothing:         cfg.Player.ABRSmoothing,
	}
	authenticator := auth.SenderAuthenticator{OriginPeerID: originPeerID.String()}

	ctrl := engine.NewLive(ctx, st, factory, topic, authenticator, player, clock.now, log.Default())
	defer ctrl.Close()

	sub, err := st.Subscribe(ctx, topic, func(senderID string, payload []byte) {
		ctrl.OnMessage(senderID, payload)
	})
	if err != nil {
		return fmt.Errorf("subscribe live topic: %w", err)
	}
	defer sub.Unsubscribe()

	ctrl.OnSourceOpen()
	tracePlayback(ctx, ctrl, clock)
	return nil
}

// tracePlayback prints a frame-by-frame progress trace to stdout in place
// of a browser media element: every 250ms it advances a simulated
// current_time and calls OnUpdateEnd, then prints time, state and level.
func tracePlayback(ctx context.Context, ctrl *engine.Controller, clock *playbackClock) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			clock.advance(250 * time.Millisecond)
			ctrl.OnUpdateEnd()
			ctrl.Sync()
			fmt.Printf("t=%.1fs state=%s level=%d\n", clock.now(), ctrl.State(), ctrl.Level())
			if ctrl.AtEndOfVideo() {
				fmt.Println("end of video")
				return
			}
			if err := ctrl.Err(); err != nil {
				fmt.Printf("fatal: %v\n", err)
				return
			}
		}
	}
}
