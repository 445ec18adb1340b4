// Package media provides the local audio/video streams offered to the peer.
package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
)

var ErrDeviceUnavailable = errors.New("capture device unavailable")

const frameDuration = 20 * time.Millisecond

// opusSilence is a single 20 ms Opus frame of silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// Capturer acquires local media.
type Capturer interface {
	Capture(ctx context.Context) (Stream, error)
}

// Stream is an acquired set of local tracks. Close releases the capture.
type Stream interface {
	Tracks() []webrtc.TrackLocal
	SetAudioEnabled(enabled bool)
	SetVideoEnabled(enabled bool)
	AudioEnabled() bool
	VideoEnabled() bool
	Close() error
}

// Synthetic captures generated media: an Opus track paced with silence
// frames and a VP8 track. It stands in for devices on headless hosts.
type Synthetic struct {
	Audio bool
	Video bool
}

func (s Synthetic) Capture(ctx context.Context) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !s.Audio && !s.Video {
		return nil, fmt.Errorf("%w: no audio or video requested", ErrDeviceUnavailable)
	}

	streamID := "pairline-" + uuid.NewString()
	st := &syntheticStream{done: make(chan struct{})}

	if s.Audio {
		track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}, "audio", streamID)
		if err != nil {
			return nil, fmt.Errorf("failed to create audio track: %w", err)
		}
		st.audio = track
		st.audioOn.Store(true)
	}
	if s.Video {
		track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}, "video", streamID)
		if err != nil {
			return nil, fmt.Errorf("failed to create video track: %w", err)
		}
		st.video = track
		st.videoOn.Store(true)
	}

	if st.audio != nil {
		st.wg.Add(1)
		go st.pumpAudio()
	}
	slog.Debug("synthetic media captured", "stream_id", streamID, "audio", s.Audio, "video", s.Video)
	return st, nil
}

// Denied fails every capture, as when no device or permission is available.
type Denied struct{}

func (Denied) Capture(context.Context) (Stream, error) {
	return nil, ErrDeviceUnavailable
}

type syntheticStream struct {
	audio *webrtc.TrackLocalStaticSample
	video *webrtc.TrackLocalStaticSample

	audioOn atomic.Bool
	videoOn atomic.Bool

	wg        sync.WaitGroup
	done      chan struct{}
	closeOnce sync.Once
}

func (s *syntheticStream) Tracks() []webrtc.TrackLocal {
	var tracks []webrtc.TrackLocal
	if s.audio != nil {
		tracks = append(tracks, s.audio)
	}
	if s.video != nil {
		tracks = append(tracks, s.video)
	}
	return tracks
}

func (s *syntheticStream) SetAudioEnabled(enabled bool) { s.audioOn.Store(enabled && s.audio != nil) }
func (s *syntheticStream) SetVideoEnabled(enabled bool) { s.videoOn.Store(enabled && s.video != nil) }
func (s *syntheticStream) AudioEnabled() bool           { return s.audioOn.Load() }
func (s *syntheticStream) VideoEnabled() bool           { return s.videoOn.Load() }

func (s *syntheticStream) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.wg.Wait()
	})
	return nil
}

// pumpAudio writes one silence frame per frame interval while audio is on.
func (s *syntheticStream) pumpAudio() {
	defer s.wg.Done()

	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if !s.audioOn.Load() {
				continue
			}
			if err := s.audio.WriteSample(pionmedia.Sample{Data: opusSilence, Duration: frameDuration}); err != nil {
				slog.Debug("audio sample write failed", "error", err)
			}
		}
	}
}
