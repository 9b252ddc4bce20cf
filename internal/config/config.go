// internal/config/config.go
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/petervdpas/vodlive/internal/util"
)

type Config struct {
	Identity Identity `json:"identity"`
	Player   Player   `json:"player"`
	P2P      P2P      `json:"p2p"`
}

type Identity struct {
	KeyFile string `json:"key_file"`
}

// Player holds the Buffer Manager and ABR Estimator tunables spec.md §9
// leaves implementation-defined: the forward/back buffer window, a tick
// interval, and the EMA smoothing factor. The engine reads the buffer
// window and the smoothing factor; TickIntervalMS is validated and
// persisted, but the Controller's idle timer is fixed at one second and
// does not read it.
type Player struct {
	ForwardBufferSeconds float64 `json:"forward_buffer_seconds"`
	BackBufferSeconds    float64 `json:"back_buffer_seconds"`
	TickIntervalMS       int     `json:"tick_interval_ms"`
	ABRSmoothing         float64 `json:"abr_smoothing"`
}

type P2P struct {
	ListenPort int    `json:"listen_port"`
	MdnsTag    string `json:"mdns_tag"`
}

func Default() Config {
	return Config{
		Identity: Identity{
			KeyFile: "data/identity.key",
		},
		Player: Player{
			ForwardBufferSeconds: 16.0,
			BackBufferSeconds:    8.0,
			TickIntervalMS:       250,
			ABRSmoothing:         0.3,
		},
		P2P: P2P{
			ListenPort: 0,
			MdnsTag:    "vodlive-mdns",
		},
	}
}

func (c *Config) Validate() error {
	// Identity
	if strings.TrimSpace(c.Identity.KeyFile) == "" {
		return errors.New("identity.key_file is required")
	}

	// Player
	if c.Player.ForwardBufferSeconds <= 0 {
		return errors.New("player.forward_buffer_seconds must be > 0")
	}
	if c.Player.BackBufferSeconds <= 0 {
		return errors.New("player.back_buffer_seconds must be > 0")
	}
	if c.Player.TickIntervalMS <= 0 {
		return errors.New("player.tick_interval_ms must be > 0")
	}
	if c.Player.ABRSmoothing <= 0 || c.Player.ABRSmoothing > 1 {
		return errors.New("player.abr_smoothing must be in (0, 1]")
	}

	// P2P
	if c.P2P.ListenPort < 0 || c.P2P.ListenPort > 65535 {
		return errors.New("p2p.listen_port must be 0..65535")
	}
	if strings.TrimSpace(c.P2P.MdnsTag) == "" {
		return errors.New("p2p.mdns_tag is required")
	}

	return nil
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	// Start from defaults so missing JSON fields remain initialized.
	cfg := Default()
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func Save(path string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	return util.WriteJSONFile(path, cfg)
}

// Ensure loads config if it exists; otherwise creates a default config file.
// Returns (cfg, createdNew, err).
func Ensure(path string) (Config, bool, error) {
	if _, err := os.Stat(path); err == nil {
		cfg, err := Load(path)
		return cfg, false, err
	} else if !os.IsNotExist(err) {
		return Config{}, false, err
	}

	cfg := Default()
	if err := Save(path, cfg); err != nil {
		return Config{}, false, fmt.Errorf("create default config: %w", err)
	}
	return cfg, true, nil
}
