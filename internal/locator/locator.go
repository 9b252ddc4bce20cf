// Package locator implements the Segment Locator (spec.md §4.3): it
// computes the (audio_ref, video_ref) pair for the next append, either by
// timecode traversal over a VOD root or by popping the Live Reorder
// Buffer's next predecessor-linked node.
//
// Grounded on web-app/src/components/video_player.rs's load_media_segment /
// load_live_segment and its seconds_to_timecode helper.
package locator

import (
	"fmt"

	"github.com/ipfs/go-cid"

	"github.com/petervdpas/vodlive/internal/model"
	"github.com/petervdpas/vodlive/internal/reorder"
	"github.com/petervdpas/vodlive/internal/sink"
)

// Refs is the (audio, video) path pair to fetch next.
type Refs struct {
	AudioRef string
	VideoRef string
}

// SecondsToTimecode converts a buffered-end offset (seconds, float) into
// the (hour, minute, second) triple the VOD path grammar addresses,
// exactly as spec.md §4.3 defines: round to the nearest second, then
// divide down through hours/minutes/seconds.
func SecondsToTimecode(seconds float64) (hour, minute, second int) {
	r := int64(seconds + 0.5)
	if seconds < 0 {
		r = int64(seconds - 0.5)
	}
	hour = int(r / 3600)
	rem := r % 3600
	minute = int(rem / 60)
	second = int(rem % 60)
	return hour, minute, second
}

// VODRef builds the path for the given VOD root at cid, timecode, and
// track name, per spec.md §6's path grammar.
func VODRef(root cid.Cid, hour, minute, second int, trackName string) string {
	return fmt.Sprintf("%s/time/hour/%d/minute/%d/second/%d/video/track/%s", root, hour, minute, second, trackName)
}

// NextVOD computes the next (audio_ref, video_ref) pair for VOD mode.
// currentTime is the media element's current_time, used only when the
// video sink has no buffered ranges yet.
func NextVOD(root cid.Cid, videoSink sink.MediaSink, currentTime float64, level int, tracks []model.Track) Refs {
	buffEnd := sink.BufferedEnd(videoSink)

	if buffEnd <= 0 {
		if currentTime > 1.0 {
			buffEnd = currentTime - 1.0
		}
	}

	hour, minute, second := SecondsToTimecode(buffEnd)

	return Refs{
		AudioRef: VODRef(root, hour, minute, second, model.AudioTrackName),
		VideoRef: VODRef(root, hour, minute, second, tracks[level].Name),
	}
}

// NextLive pops the Live Reorder Buffer's head and returns the matching
// refs, or ok=false if nothing is ready yet (spec.md §4.3: "If empty,
// yield nothing").
func NextLive(buf *reorder.Buffer, level int, tracks []model.Track) (refs Refs, ok bool) {
	_, node, popped := buf.Pop()
	if !popped {
		return Refs{}, false
	}

	audioCID := node.Tracks[model.AudioTrackName]
	videoCID := node.Tracks[tracks[level].Name]

	return Refs{AudioRef: audioCID.String(), VideoRef: videoCID.String()}, true
}
