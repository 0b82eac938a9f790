package fieldcall

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gridlens/fieldcall/shared"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

type TransportState int

const (
	TransportStateNew TransportState = iota
	TransportStateConnecting
	TransportStateConnected
	TransportStateDisconnected
	TransportStateFailed
	TransportStateClosed
)

func (s TransportState) String() string {
	switch s {
	case TransportStateNew:
		return "new"
	case TransportStateConnecting:
		return "connecting"
	case TransportStateConnected:
		return "connected"
	case TransportStateDisconnected:
		return "disconnected"
	case TransportStateFailed:
		return "failed"
	case TransportStateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the transport can make no further progress.
func (s TransportState) Terminal() bool {
	return s == TransportStateDisconnected || s == TransportStateFailed || s == TransportStateClosed
}

// Transport is the session's view of the underlying peer connection. It
// keeps the negotiation state machine independent of any particular WebRTC
// stack; PeerTransport is the production implementation.
type Transport interface {
	CreateOffer() (SessionDescription, error)
	CreateAnswer() (SessionDescription, error)
	SetLocalDescription(desc SessionDescription) error
	SetRemoteDescription(desc SessionDescription) error
	AddRemoteCandidate(cand Candidate) error
	OnLocalCandidate(fn func(Candidate))
	OnStateChange(fn func(TransportState))
	Close() error
}

// PeerTransport drives a pion peer connection. A single outbound opus track
// is created up front; once the connection reports connected the attached
// media endpoint starts pumping capture frames into it, and every inbound
// audio track is handed to the endpoint's render sink.
type PeerTransport struct {
	logger shared.LoggerAdapter
	media  *MediaEndpoint

	mu       sync.Mutex
	pc       *webrtc.PeerConnection
	audioOut *webrtc.TrackLocalStaticSample
	candFn   func(Candidate)
	stateFn  func(TransportState)
	pumping  bool

	ctx    context.Context
	cancel context.CancelCauseFunc
}

var _ Transport = (*PeerTransport)(nil)

// NewPeerTransport builds the peer connection. media may be nil for a
// signaling-only endpoint (used by tooling); production sessions always
// carry one.
func NewPeerTransport(ctx context.Context, logger shared.LoggerAdapter, iceServers []string, media *MediaEndpoint) (*PeerTransport, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	ctx, cancel := context.WithCancelCause(ctx)
	t := &PeerTransport{
		logger: logger,
		media:  media,
		ctx:    ctx,
		cancel: cancel,
	}

	cfg := webrtc.Configuration{}
	if len(iceServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: iceServers}}
	}
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		cancel(err)
		return nil, fmt.Errorf("creating peer connection: %w", err)
	}
	t.pc = pc

	t.audioOut, err = webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeOpus,
			ClockRate:   48000,
			Channels:    2,
			SDPFmtpLine: "minptime=10;useinbandfec=1",
		},
		"audio",
		"field-mic",
	)
	if err != nil {
		_ = pc.Close()
		cancel(err)
		return nil, fmt.Errorf("creating local audio track: %w", err)
	}
	if _, err := pc.AddTrack(t.audioOut); err != nil {
		_ = pc.Close()
		cancel(err)
		return nil, fmt.Errorf("adding audio track to peer connection: %w", err)
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return // end of gathering
		}
		init := c.ToJSON()
		cand := Candidate{Candidate: init.Candidate, SDPMid: init.SDPMid}
		if init.SDPMLineIndex != nil {
			cand.SDPMLineIndex = *init.SDPMLineIndex
		}
		t.mu.Lock()
		fn := t.candFn
		t.mu.Unlock()
		if fn != nil {
			fn(cand)
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		t.logger.Trace("peer connection state changed", zap.String("state", state.String()))
		mapped := mapPeerConnectionState(state)
		t.mu.Lock()
		fn := t.stateFn
		startPump := mapped == TransportStateConnected && t.media != nil && !t.pumping
		if startPump {
			t.pumping = true
		}
		t.mu.Unlock()
		if startPump {
			t.media.StreamTo(t.ctx, t.audioOut)
		}
		if fn != nil {
			fn(mapped)
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if track.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		t.logger.Info(
			"received remote track",
			zap.String("kind", track.Kind().String()),
			zap.String("codec", track.Codec().MimeType),
		)
		if t.media != nil {
			go t.media.PlayRemote(t.ctx, track)
		}
	})

	return t, nil
}

func (t *PeerTransport) respectCtx() error {
	select {
	case <-t.ctx.Done():
		return t.ctx.Err()
	default:
	}
	return nil
}

func (t *PeerTransport) CreateOffer() (SessionDescription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.respectCtx(); err != nil {
		return SessionDescription{}, fmt.Errorf("respecting transport context: %w", err)
	}
	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return SessionDescription{}, fmt.Errorf("creating offer: %w", err)
	}
	return SessionDescription{Type: DescriptionTypeOffer, SDP: offer.SDP}, nil
}

func (t *PeerTransport) CreateAnswer() (SessionDescription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.respectCtx(); err != nil {
		return SessionDescription{}, fmt.Errorf("respecting transport context: %w", err)
	}
	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return SessionDescription{}, fmt.Errorf("creating answer: %w", err)
	}
	return SessionDescription{Type: DescriptionTypeAnswer, SDP: answer.SDP}, nil
}

func (t *PeerTransport) SetLocalDescription(desc SessionDescription) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.respectCtx(); err != nil {
		return fmt.Errorf("respecting transport context: %w", err)
	}
	sd, err := toPionDescription(desc)
	if err != nil {
		return err
	}
	if err := t.pc.SetLocalDescription(sd); err != nil {
		return fmt.Errorf("setting local description: %w", err)
	}
	return nil
}

func (t *PeerTransport) SetRemoteDescription(desc SessionDescription) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.respectCtx(); err != nil {
		return fmt.Errorf("respecting transport context: %w", err)
	}
	sd, err := toPionDescription(desc)
	if err != nil {
		return err
	}
	if err := t.pc.SetRemoteDescription(sd); err != nil {
		return fmt.Errorf("setting remote description: %w", err)
	}
	return nil
}

func (t *PeerTransport) AddRemoteCandidate(cand Candidate) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.respectCtx(); err != nil {
		return fmt.Errorf("respecting transport context: %w", err)
	}
	idx := cand.SDPMLineIndex
	init := webrtc.ICECandidateInit{
		Candidate:     cand.Candidate,
		SDPMid:        cand.SDPMid,
		SDPMLineIndex: &idx,
	}
	if err := t.pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("adding ICE candidate: %w", err)
	}
	return nil
}

func (t *PeerTransport) OnLocalCandidate(fn func(Candidate)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.candFn = fn
}

func (t *PeerTransport) OnStateChange(fn func(TransportState)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stateFn = fn
}

func (t *PeerTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pc != nil {
		if err := t.pc.Close(); err != nil {
			t.logger.Error("closing peer connection failed", err)
		}
		t.pc = nil
	}
	if t.cancel != nil {
		t.cancel(errors.New("transport closed"))
		t.cancel = nil
	}
	return nil
}

func mapPeerConnectionState(state webrtc.PeerConnectionState) TransportState {
	switch state {
	case webrtc.PeerConnectionStateNew:
		return TransportStateNew
	case webrtc.PeerConnectionStateConnecting:
		return TransportStateConnecting
	case webrtc.PeerConnectionStateConnected:
		return TransportStateConnected
	case webrtc.PeerConnectionStateDisconnected:
		return TransportStateDisconnected
	case webrtc.PeerConnectionStateFailed:
		return TransportStateFailed
	case webrtc.PeerConnectionStateClosed:
		return TransportStateClosed
	default:
		return TransportStateNew
	}
}

func toPionDescription(desc SessionDescription) (webrtc.SessionDescription, error) {
	if err := desc.Validate(); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("validating description: %w", err)
	}
	typ := webrtc.SDPTypeOffer
	if desc.Type == DescriptionTypeAnswer {
		typ = webrtc.SDPTypeAnswer
	}
	return webrtc.SessionDescription{Type: typ, SDP: desc.SDP}, nil
}
