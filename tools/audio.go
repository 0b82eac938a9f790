package tools

import (
	"context"
	"encoding/binary"
	"io"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/gridlens/fieldcall/shared"
	"github.com/hraban/opus"
	"github.com/pion/mediadevices"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"go.uber.org/zap"
)

// AudioBuffer is a fixed-capacity PCM ring shared between the RTP reader
// and the playback device. Writes past capacity drop the oldest bytes.
type AudioBuffer struct {
	buffer []byte
	mu     sync.Mutex
	cond   *sync.Cond
	size   int
	cap    int
}

func NewAudioBuffer(fixedCap int) *AudioBuffer {
	ab := &AudioBuffer{
		buffer: make([]byte, 0, fixedCap),
		cap:    fixedCap,
	}
	ab.cond = sync.NewCond(&ab.mu)
	return ab
}

func (ab *AudioBuffer) Write(data []byte) (dropped int) {
	ab.mu.Lock()
	defer ab.mu.Unlock()
	if ab.size+len(data) > ab.cap {
		drop := ab.size + len(data) - ab.cap
		ab.buffer = ab.buffer[drop:]
		ab.size -= drop
		dropped = drop
	}
	ab.buffer = append(ab.buffer, data...)
	ab.size += len(data)
	ab.cond.Signal()
	return dropped
}

func (ab *AudioBuffer) Read(p []byte) (n int, err error) {
	ab.mu.Lock()
	defer ab.mu.Unlock()
	for ab.size == 0 {
		ab.cond.Wait()
	}
	n = copy(p, ab.buffer)
	ab.buffer = ab.buffer[n:]
	ab.size -= n
	return n, nil
}

// StreamLocalAudio reads encoded frames from the capture track and writes
// them to the outbound sample track until ctx is done or capture ends.
func StreamLocalAudio(ctx context.Context, logger shared.LoggerAdapter, track *webrtc.TrackLocalStaticSample, capture mediadevices.Track, frameDuration time.Duration) {
	reader, err := capture.NewEncodedReader(track.Codec().MimeType)
	if err != nil {
		logger.Error("creating capture reader", err)
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		buf, release, err := reader.Read()
		if err != nil {
			release()
			if err == io.EOF {
				return
			}
			logger.Error("reading from capture track", err)
			continue
		}
		if buf.Samples == 0 {
			release()
			continue
		}
		err = track.WriteSample(media.Sample{
			Data:     buf.Data[:],
			Duration: frameDuration,
		})
		release()
		if err != nil {
			logger.Error("writing sample to outbound track", err)
		}
	}
}

// PlaybackOptions tunes the remote-audio render sink.
type PlaybackOptions struct {
	BufferDuration time.Duration // device buffer
	RingSeconds    int           // ring capacity in seconds of PCM
}

// PlayRemoteAudio decodes an inbound opus track to PCM and plays it on the
// default output device. Returns when the track or ctx ends.
func PlayRemoteAudio(ctx context.Context, logger shared.LoggerAdapter, track *webrtc.TrackRemote, opts PlaybackOptions) {
	var (
		codec      = track.Codec()
		sampleRate = int(codec.ClockRate)
		channels   = int(codec.Channels)
	)
	logger.Info("playing remote audio",
		zap.String("codec", codec.MimeType),
		zap.Int("sampleRate", sampleRate),
		zap.Int("channels", channels),
	)
	decoder, err := opus.NewDecoder(sampleRate, channels)
	if err != nil {
		logger.Error("creating opus decoder", err)
		return
	}

	otoCtx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: channels,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   opts.BufferDuration,
	})
	if err != nil {
		logger.Error("creating playback context", err)
		return
	}
	ring := NewAudioBuffer(opts.RingSeconds * sampleRate * channels * 2)
	pcm := make([]int16, FrameSamples(opts.BufferDuration, sampleRate, channels))

	<-ready
	player := otoCtx.NewPlayer(ring)
	player.Play()
	defer func() { _ = player.Close() }()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		rtp, _, err := track.ReadRTP()
		if err != nil {
			if err != io.EOF {
				logger.Error("reading RTP packet", err)
			}
			return
		}
		if len(rtp.Payload) == 0 {
			continue
		}
		n, err := decoder.Decode(rtp.Payload, pcm)
		if err != nil {
			logger.Error("decoding opus frame", err)
			continue
		}
		pcmSlice := pcm[:n*channels]
		pcmBytes := make([]byte, len(pcmSlice)*2)
		for i := range pcmSlice {
			binary.LittleEndian.PutUint16(pcmBytes[i*2:], uint16(pcmSlice[i]))
		}
		if dropped := ring.Write(pcmBytes); dropped > 0 {
			logger.Warn("playback ring dropped data", zap.Int("droppedBytes", dropped))
		}
	}
}
