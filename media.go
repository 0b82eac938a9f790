package fieldcall

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gridlens/fieldcall/shared"
	"github.com/gridlens/fieldcall/tools"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

// MediaEndpoint owns local capture and the render sink for one call
// session. Acquisition is scoped: whoever acquires must see Release run on
// every exit path, and Release never propagates a failure since teardown
// has to be unconditional.
type MediaEndpoint struct {
	logger shared.LoggerAdapter

	mu       sync.Mutex
	stream   mediadevices.MediaStream
	micTrack mediadevices.Track
	frame    time.Duration
	released bool
}

func NewMediaEndpoint(logger shared.LoggerAdapter) (*MediaEndpoint, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	return &MediaEndpoint{logger: logger}, nil
}

// Acquire opens the microphone with an opus encoder. Failure here is fatal
// to starting a call: the caller must not attempt negotiation without
// capture.
func (m *MediaEndpoint) Acquire(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.released {
		return shared.ErrMediaNotAvailable
	}
	if m.micTrack != nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	opusParams, err := opus.NewParams()
	if err != nil {
		return errors.Join(shared.ErrMediaNotAvailable, err)
	}
	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Audio: func(c *mediadevices.MediaTrackConstraints) {
			c.SampleRate = prop.Int(48000)
			c.ChannelCount = prop.Int(1)
			c.SampleSize = prop.Int(16)
		},
		Codec: mediadevices.NewCodecSelector(
			mediadevices.WithAudioEncoders(&opusParams),
		),
	})
	if err != nil {
		m.logger.Error("getting microphone stream", err)
		return errors.Join(shared.ErrMediaNotAvailable, err)
	}
	audioTracks := stream.GetAudioTracks()
	if len(audioTracks) == 0 {
		m.logger.Error("no audio track found in microphone stream", nil)
		for _, track := range stream.GetTracks() {
			if err := track.Close(); err != nil {
				m.logger.Warn("closing capture track failed", zap.Error(err))
			}
		}
		return shared.ErrMediaNotAvailable
	}
	m.stream = stream
	m.micTrack = audioTracks[0]
	m.frame = time.Duration(opusParams.Latency)
	m.logger.Info("microphone stream obtained")
	return nil
}

func (m *MediaEndpoint) Acquired() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.micTrack != nil && !m.released
}

// StreamTo pumps encoded capture frames into the outbound track until ctx
// is done. No-op when capture was never acquired.
func (m *MediaEndpoint) StreamTo(ctx context.Context, track *webrtc.TrackLocalStaticSample) {
	m.mu.Lock()
	micTrack := m.micTrack
	frame := m.frame
	m.mu.Unlock()
	if micTrack == nil {
		m.logger.Warn("stream requested without acquired capture")
		return
	}
	go tools.StreamLocalAudio(ctx, m.logger, track, micTrack, frame)
}

// PlayRemote renders an inbound audio track to the default output device.
// Blocks until the track or ctx ends.
func (m *MediaEndpoint) PlayRemote(ctx context.Context, track *webrtc.TrackRemote) {
	tools.PlayRemoteAudio(ctx, m.logger, track, tools.PlaybackOptions{
		BufferDuration: 100 * time.Millisecond,
		RingSeconds:    2,
	})
}

// Release stops capture and disposes every owned resource. Stop failures
// are logged and swallowed. Safe to call repeatedly and before Acquire.
func (m *MediaEndpoint) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.released {
		return
	}
	m.released = true
	if m.stream != nil {
		for _, track := range m.stream.GetTracks() {
			if err := track.Close(); err != nil {
				m.logger.Warn("stopping capture track failed", zap.Error(err))
			}
		}
		m.stream = nil
	}
	m.micTrack = nil
	m.logger.Debug("media endpoint released")
}
