package fieldcall

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gridlens/fieldcall/shared"
	"go.uber.org/zap"
)

type ConnectionState int

const (
	StateNew ConnectionState = iota
	StateNegotiating
	StateConnected
	StateDisconnected
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type StateHandler func(state ConnectionState)

// MediaOwner is the slice of MediaEndpoint the session manages: scoped
// acquisition before negotiation, unconditional release on teardown.
type MediaOwner interface {
	Acquire(ctx context.Context) error
	Release()
}

// CallSession is the negotiation state machine for one two-party call. All
// mutation funnels through one mutex: channel notifications, transport
// callbacks and local intents are serialized, so the remote description is
// always fully applied before any buffered candidate, and callbacks that
// fire after Close observe the closed state and become no-ops.
type CallSession struct {
	logger    shared.LoggerAdapter
	role      Role
	channel   SignalingChannel
	transport Transport
	media     MediaOwner

	mu          sync.Mutex
	state       ConnectionState
	local       *SessionDescription
	remote      *SessionDescription
	queue       *candidateQueue
	stateFn     StateHandler
	unsubscribe func()

	ctx    context.Context
	cancel context.CancelCauseFunc
}

// NewCallSession wires a session around its channel and transport. media
// may be nil (signaling-only tests); production sessions own an endpoint
// which is released unconditionally on EndCall.
func NewCallSession(ctx context.Context, logger shared.LoggerAdapter, role Role, channel SignalingChannel, transport Transport, media MediaOwner) (*CallSession, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if channel == nil {
		return nil, shared.ErrNoChannel
	}
	if transport == nil {
		return nil, shared.ErrNoTransport
	}
	ctx, cancel := context.WithCancelCause(ctx)
	s := &CallSession{
		logger:    logger.With(zap.String("role", role.String())),
		role:      role,
		channel:   channel,
		transport: transport,
		media:     media,
		state:     StateNew,
		queue:     newCandidateQueue(),
		ctx:       ctx,
		cancel:    cancel,
	}
	transport.OnLocalCandidate(s.publishLocalCandidate)
	transport.OnStateChange(s.handleTransportState)
	return s, nil
}

func (s *CallSession) Role() Role {
	return s.role
}

func (s *CallSession) State() ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *CallSession) Done() <-chan struct{} {
	return s.ctx.Done()
}

// LocalDescription returns a copy of the published local description, nil
// before one exists.
func (s *CallSession) LocalDescription() *SessionDescription {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.local == nil {
		return nil
	}
	d := *s.local
	return &d
}

func (s *CallSession) RemoteDescription() *SessionDescription {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.remote == nil {
		return nil
	}
	d := *s.remote
	return &d
}

// PendingCandidates reports how many remote candidates are buffered while
// the remote description is still absent.
func (s *CallSession) PendingCandidates() int {
	return s.queue.Len()
}

// RegisterStateHandler installs the connection-state observer. Must be set
// before Start; the handler is invoked on the session's serial path and
// must not call back into the session.
func (s *CallSession) RegisterStateHandler(fn StateHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fn == nil {
		return errors.New("handler is required")
	}
	if s.stateFn != nil {
		return shared.ErrHandlerAlreadySet
	}
	s.stateFn = fn
	return nil
}

// Start begins observing the signaling record and, for a Caller in New or
// Disconnected, publishes a fresh offer. A Caller already negotiating gets
// a no-op so duplicate start intents never publish a second offer. Media
// acquisition failure is fatal to starting: no negotiation is attempted and
// the state is left unchanged so the user may retry.
func (s *CallSession) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return shared.ErrSessionClosed
	}

	if s.media != nil {
		if err := s.media.Acquire(ctx); err != nil {
			s.logger.Error("acquiring media", err)
			return fmt.Errorf("acquiring media: %w", err)
		}
	}

	if s.unsubscribe == nil {
		cancel, err := s.channel.Subscribe(s.handleChannelEvent)
		if err != nil {
			return fmt.Errorf("subscribing to signaling channel: %w", err)
		}
		s.unsubscribe = cancel
	}

	if s.role == RoleCallee {
		// Negotiation starts when the peer's offer is observed.
		return nil
	}

	if s.state != StateNew && s.state != StateDisconnected {
		s.logger.Debug("start ignored", zap.String("state", s.state.String()))
		return nil
	}

	offer, err := s.transport.CreateOffer()
	if err != nil {
		s.logger.Error("creating offer", err)
		return fmt.Errorf("creating offer: %w", err)
	}
	if err := s.transport.SetLocalDescription(offer); err != nil {
		s.logger.Error("setting local offer", err)
		return fmt.Errorf("setting local offer: %w", err)
	}
	s.local = &offer
	if err := s.channel.PublishOffer(ctx, offer.SDP); err != nil {
		s.logger.Error("publishing offer", err)
		return fmt.Errorf("publishing offer: %w", err)
	}
	s.setStateLocked(StateNegotiating)
	return nil
}

// EndCall tears the session down unconditionally: capture stops, the
// transport closes, the shared record is cleared and the state becomes
// Closed. Idempotent, and every failure along the way is swallowed after
// logging since teardown must complete regardless.
func (s *CallSession) EndCall() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return nil
	}
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
	if s.media != nil {
		s.media.Release()
	}
	if err := s.transport.Close(); err != nil {
		s.logger.Warn("closing transport failed", zap.Error(err))
	}
	clearCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.channel.Clear(clearCtx); err != nil {
		s.logger.Warn("clearing signaling record failed", zap.Error(err))
	}
	s.setStateLocked(StateClosed)
	s.cancel(errors.New("call ended"))
	return nil
}

// handleChannelEvent is the single entry point for signaling notifications.
func (s *CallSession) handleChannelEvent(ev ChannelEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		s.logger.Debug("channel event after close ignored", zap.String("type", string(ev.Type)))
		return
	}
	switch ev.Type {
	case ChannelEventOfferPut:
		s.handleRemoteOfferLocked(ev.SDP)
	case ChannelEventAnswerPut:
		s.handleRemoteAnswerLocked(ev.SDP)
	case ChannelEventCandidateAdded:
		if ev.Candidate == nil {
			s.logger.Warn("candidate event without candidate")
			return
		}
		s.handleRemoteCandidateLocked(*ev.Candidate)
	case ChannelEventOfferRemoved, ChannelEventRecordRemoved:
		// Echoes of teardown on the shared record. The session that
		// cleared it is already Closed; the peer learns of the hangup
		// through the transport, so nothing to do here.
		s.logger.Debug("record removal observed", zap.String("type", string(ev.Type)))
	default:
		s.logger.Warn("unknown channel event", zap.String("type", string(ev.Type)))
	}
}

func (s *CallSession) handleRemoteOfferLocked(sdp string) {
	if s.role != RoleCallee {
		s.logger.Warn("offer event delivered to caller, ignoring")
		return
	}
	if s.state != StateNew {
		// Duplicate channel notification; negotiation already ran.
		s.logger.Debug("duplicate offer ignored", zap.String("state", s.state.String()))
		return
	}
	remote := SessionDescription{Type: DescriptionTypeOffer, SDP: sdp}
	if err := s.transport.SetRemoteDescription(remote); err != nil {
		s.logger.Error("applying remote offer", err)
		return
	}
	s.remote = &remote

	answer, err := s.transport.CreateAnswer()
	if err != nil {
		s.logger.Error("creating answer", err)
		return
	}
	if err := s.transport.SetLocalDescription(answer); err != nil {
		s.logger.Error("setting local answer", err)
		return
	}
	s.local = &answer
	if err := s.channel.PublishAnswer(s.ctx, answer.SDP); err != nil {
		s.logger.Error("publishing answer", err)
		return
	}
	s.setStateLocked(StateNegotiating)
	s.flushPendingLocked()
}

func (s *CallSession) handleRemoteAnswerLocked(sdp string) {
	if s.role != RoleCaller {
		s.logger.Warn("answer event delivered to callee, ignoring")
		return
	}
	if s.remote != nil {
		s.logger.Debug("duplicate answer ignored")
		return
	}
	remote := SessionDescription{Type: DescriptionTypeAnswer, SDP: sdp}
	if err := s.transport.SetRemoteDescription(remote); err != nil {
		s.logger.Error("applying remote answer", err)
		return
	}
	s.remote = &remote
	s.flushPendingLocked()
}

// handleRemoteCandidateLocked applies a candidate immediately once the
// remote description exists, otherwise buffers it. Either path admits a
// given candidate exactly once.
func (s *CallSession) handleRemoteCandidateLocked(cand Candidate) {
	if s.remote == nil {
		if s.queue.Buffer(cand) {
			s.logger.Debug("remote candidate buffered", zap.Int("pending", s.queue.Len()))
		} else {
			s.logger.Debug("duplicate remote candidate dropped")
		}
		return
	}
	if !s.queue.Admit(cand) {
		s.logger.Debug("duplicate remote candidate dropped")
		return
	}
	if err := s.transport.AddRemoteCandidate(cand); err != nil {
		s.logger.Error("applying remote candidate", err)
	}
}

// flushPendingLocked drains the buffer in arrival order. Only called right
// after the remote description was applied.
func (s *CallSession) flushPendingLocked() {
	for _, cand := range s.queue.Drain() {
		if err := s.transport.AddRemoteCandidate(cand); err != nil {
			s.logger.Error("applying buffered candidate", err)
		}
	}
}

// publishLocalCandidate forwards a gathered candidate to this side's list
// on the record. Side effect only: session state never changes here.
func (s *CallSession) publishLocalCandidate(cand Candidate) {
	select {
	case <-s.ctx.Done():
		return
	default:
	}
	if err := s.channel.PublishCandidate(s.ctx, cand); err != nil {
		s.logger.Error("publishing local candidate", err)
	}
}

func (s *CallSession) handleTransportState(ts TransportState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return
	}
	switch {
	case ts == TransportStateConnected:
		s.setStateLocked(StateConnected)
	case ts.Terminal():
		s.setStateLocked(StateDisconnected)
	}
}

func (s *CallSession) setStateLocked(next ConnectionState) {
	if s.state == next {
		return
	}
	s.logger.Info(
		"connection state changed",
		zap.String("prev", s.state.String()),
		zap.String("new", next.String()),
	)
	s.state = next
	if s.stateFn != nil {
		s.stateFn(next)
	}
}
