package fieldcall

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/gridlens/fieldcall/shared"
)

// MemorySignaling holds one session record in process memory and fans field
// changes out to role-scoped subscribers. It backs tests and single-process
// demos with the exact semantics the relay provides over the wire: each
// side writes its own fields and observes only the peer's, and a subscriber
// first receives a replay of the record's current peer-visible state.
type MemorySignaling struct {
	mu     sync.Mutex
	record SessionRecord
	subs   map[*memSubscriber]struct{}
}

func NewMemorySignaling() *MemorySignaling {
	return &MemorySignaling{subs: make(map[*memSubscriber]struct{})}
}

// Channel returns this role's endpoint onto the shared record.
func (h *MemorySignaling) Channel(role Role) SignalingChannel {
	return &memChannel{hub: h, role: role}
}

// Record returns a copy of the current record.
func (h *MemorySignaling) Record() SessionRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	rec := h.record
	rec.CallerCandidates = append([]CandidateEntry(nil), h.record.CallerCandidates...)
	rec.CalleeCandidates = append([]CandidateEntry(nil), h.record.CalleeCandidates...)
	return rec
}

func (h *MemorySignaling) putOffer(sdp string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.record.Offer = &sdp
	h.broadcastLocked(RoleCallee, ChannelEvent{Type: ChannelEventOfferPut, SDP: sdp})
}

func (h *MemorySignaling) putAnswer(sdp string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.record.Answer = &sdp
	h.broadcastLocked(RoleCaller, ChannelEvent{Type: ChannelEventAnswerPut, SDP: sdp})
}

func (h *MemorySignaling) addCandidate(from Role, cand Candidate) {
	h.mu.Lock()
	defer h.mu.Unlock()
	entry := CandidateEntry{PushID: uuid.NewString(), Candidate: cand}
	if from == RoleCaller {
		h.record.CallerCandidates = append(h.record.CallerCandidates, entry)
	} else {
		h.record.CalleeCandidates = append(h.record.CalleeCandidates, entry)
	}
	c := cand
	h.broadcastLocked(from.Peer(), ChannelEvent{Type: ChannelEventCandidateAdded, From: from, Candidate: &c})
}

func (h *MemorySignaling) clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	hadOffer := h.record.Offer != nil
	h.record = SessionRecord{}
	if hadOffer {
		h.broadcastLocked(RoleCallee, ChannelEvent{Type: ChannelEventOfferRemoved})
	}
	h.broadcastLocked(RoleCaller, ChannelEvent{Type: ChannelEventRecordRemoved})
	h.broadcastLocked(RoleCallee, ChannelEvent{Type: ChannelEventRecordRemoved})
}

func (h *MemorySignaling) subscribe(role Role, handler func(ChannelEvent)) func() {
	sub := newMemSubscriber(role)
	h.mu.Lock()
	// Replay the peer-visible record first so a late subscriber still
	// observes everything already published, then go live. Both happen
	// under the hub lock so no event is missed or duplicated.
	for _, ev := range h.replayLocked(role) {
		sub.enqueue(ev)
	}
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	go sub.dispatch(handler)

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, sub)
			h.mu.Unlock()
			sub.close()
		})
	}
}

func (h *MemorySignaling) replayLocked(role Role) []ChannelEvent {
	var events []ChannelEvent
	if role == RoleCallee {
		if h.record.Offer != nil {
			events = append(events, ChannelEvent{Type: ChannelEventOfferPut, SDP: *h.record.Offer})
		}
		for _, entry := range h.record.CallerCandidates {
			c := entry.Candidate
			events = append(events, ChannelEvent{Type: ChannelEventCandidateAdded, From: RoleCaller, Candidate: &c})
		}
		return events
	}
	if h.record.Answer != nil {
		events = append(events, ChannelEvent{Type: ChannelEventAnswerPut, SDP: *h.record.Answer})
	}
	for _, entry := range h.record.CalleeCandidates {
		c := entry.Candidate
		events = append(events, ChannelEvent{Type: ChannelEventCandidateAdded, From: RoleCallee, Candidate: &c})
	}
	return events
}

func (h *MemorySignaling) broadcastLocked(to Role, ev ChannelEvent) {
	for sub := range h.subs {
		if sub.role == to {
			sub.enqueue(ev)
		}
	}
}

// memSubscriber decouples hub mutation from handler execution: events are
// queued under the hub lock and delivered one at a time, in order, from a
// dedicated goroutine, so a handler can publish back without deadlocking.
type memSubscriber struct {
	role   Role
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []ChannelEvent
	closed bool
}

func newMemSubscriber(role Role) *memSubscriber {
	s := &memSubscriber{role: role}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *memSubscriber) enqueue(ev ChannelEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.queue = append(s.queue, ev)
	s.cond.Signal()
}

func (s *memSubscriber) next() (ChannelEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.queue) == 0 && !s.closed {
		s.cond.Wait()
	}
	if len(s.queue) == 0 {
		return ChannelEvent{}, false
	}
	ev := s.queue[0]
	s.queue = s.queue[1:]
	return ev, true
}

func (s *memSubscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.cond.Broadcast()
}

func (s *memSubscriber) dispatch(handler func(ChannelEvent)) {
	for {
		ev, ok := s.next()
		if !ok {
			return
		}
		handler(ev)
	}
}

// memChannel is one role's endpoint onto a MemorySignaling hub.
type memChannel struct {
	hub  *MemorySignaling
	role Role

	mu         sync.Mutex
	subscribed bool
}

var _ SignalingChannel = (*memChannel)(nil)

func (c *memChannel) PublishOffer(ctx context.Context, sdp string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.role != RoleCaller {
		return shared.ErrWrongRole
	}
	c.hub.putOffer(sdp)
	return nil
}

func (c *memChannel) PublishAnswer(ctx context.Context, sdp string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.role != RoleCallee {
		return shared.ErrWrongRole
	}
	c.hub.putAnswer(sdp)
	return nil
}

func (c *memChannel) PublishCandidate(ctx context.Context, cand Candidate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := cand.Validate(); err != nil {
		return err
	}
	c.hub.addCandidate(c.role, cand)
	return nil
}

func (c *memChannel) Subscribe(handler func(ChannelEvent)) (func(), error) {
	if handler == nil {
		return nil, shared.ErrNoChannel
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subscribed {
		return nil, shared.ErrAlreadySubscribed
	}
	c.subscribed = true
	cancel := c.hub.subscribe(c.role, handler)
	return func() {
		cancel()
		c.mu.Lock()
		c.subscribed = false
		c.mu.Unlock()
	}, nil
}

func (c *memChannel) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.hub.clear()
	return nil
}
