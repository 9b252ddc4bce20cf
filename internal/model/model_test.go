package model

import (
	"testing"

	"github.com/ipfs/go-cid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupDescriptorValidate(t *testing.T) {
	audio := Track{Name: AudioTrackName, Codec: "opus"}
	low := Track{Name: "low", Bandwidth: 500_000}
	high := Track{Name: "high", Bandwidth: 2_000_000}

	t.Run("valid ascending bandwidth", func(t *testing.T) {
		d := SetupDescriptor{Tracks: []Track{audio, low, high}}
		require.NoError(t, d.Validate())
	})

	t.Run("too few tracks", func(t *testing.T) {
		d := SetupDescriptor{Tracks: []Track{audio}}
		assert.ErrorIs(t, d.Validate(), ErrBadSetup)
	})

	t.Run("first track not audio", func(t *testing.T) {
		d := SetupDescriptor{Tracks: []Track{low, high}}
		assert.ErrorIs(t, d.Validate(), ErrBadSetup)
	})

	t.Run("audio track out of place", func(t *testing.T) {
		d := SetupDescriptor{Tracks: []Track{audio, low, audio}}
		assert.ErrorIs(t, d.Validate(), ErrBadSetup)
	})

	t.Run("descending bandwidth rejected", func(t *testing.T) {
		d := SetupDescriptor{Tracks: []Track{audio, high, low}}
		assert.ErrorIs(t, d.Validate(), ErrBadSetup)
	})
}

func TestTrackIsAudio(t *testing.T) {
	assert.True(t, Track{Name: AudioTrackName}.IsAudio())
	assert.False(t, Track{Name: "high"}.IsAudio())
}

func TestSumIsStableAndContentAddressed(t *testing.T) {
	a := Sum([]byte("segment-bytes"))
	b := Sum([]byte("segment-bytes"))
	c := Sum([]byte("different-bytes"))

	assert.True(t, a.Equals(b))
	assert.False(t, a.Equals(c))
	assert.NotEqual(t, cid.Undef, a)
}
