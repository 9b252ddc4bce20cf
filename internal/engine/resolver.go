package engine

import (
	"errors"
	"fmt"
	"log"

	"github.com/petervdpas/vodlive/internal/model"
	"github.com/petervdpas/vodlive/internal/sink"
)

// ErrSetupFailed is returned when the descriptor fails validation, or when
// no supported audio track or no supported video track could be
// instantiated — spec.md §7 kind 7, fatal: the engine halts.
var ErrSetupFailed = errors.New("engine: setup resolver could not produce both sinks")

// resolveSetup implements the Setup Resolver (spec.md §4.2): walk the
// descriptor in order, skipping tracks whose codec the factory rejects,
// and instantiate at most one audio sink and one video sink — the first
// supported track of each kind.
func resolveSetup(descriptor model.SetupDescriptor, factory sink.Factory, logger *log.Logger) (*sink.MediaBuffers, error) {
	if err := descriptor.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSetupFailed, err)
	}

	buffers := &sink.MediaBuffers{Tracks: descriptor}

	for _, track := range descriptor.Tracks {
		if track.IsAudio() {
			if buffers.Audio != nil {
				continue
			}
			s, err := factory.NewSink(track.Codec)
			if err != nil {
				logger.Printf("engine: setup resolver: skip audio track %q: %v", track.Codec, err)
				continue
			}
			buffers.Audio = s
			continue
		}

		if buffers.Video != nil {
			continue
		}
		s, err := factory.NewSink(track.Codec)
		if err != nil {
			logger.Printf("engine: setup resolver: skip video track %q: %v", track.Codec, err)
			continue
		}
		buffers.Video = s
	}

	if buffers.Audio == nil || buffers.Video == nil {
		return nil, fmt.Errorf("%w (audio=%v video=%v)", ErrSetupFailed, buffers.Audio != nil, buffers.Video != nil)
	}

	return buffers, nil
}
