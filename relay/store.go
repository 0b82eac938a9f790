package relay

import (
	"sync"

	"github.com/google/uuid"
	fieldcall "github.com/gridlens/fieldcall"
	"github.com/gridlens/fieldcall/shared"
	"go.uber.org/zap"
)

// Store keeps one session record per session id and fans field changes out
// to role-scoped subscribers. It is the server-side twin of the in-memory
// signaling hub: callers write offer/callerCandidates, callees write
// answer/calleeCandidates, each side only ever observes the other's fields.
type Store struct {
	logger   shared.LoggerAdapter
	mu       sync.Mutex
	sessions map[string]*session
}

type session struct {
	record fieldcall.SessionRecord
	subs   map[*Subscriber]struct{}
}

func NewStore(logger shared.LoggerAdapter) (*Store, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	return &Store{
		logger:   logger,
		sessions: make(map[string]*session),
	}, nil
}

func (st *Store) sessionLocked(id string) *session {
	s, ok := st.sessions[id]
	if !ok {
		s = &session{subs: make(map[*Subscriber]struct{})}
		st.sessions[id] = s
	}
	return s
}

// PutOffer stores the caller's offer. A record that already holds a
// different offer is refused: two unrelated call attempts occupying the
// same session id is a protocol hazard we surface instead of absorbing.
func (st *Store) PutOffer(id, sdp string) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	s := st.sessionLocked(id)
	if s.record.Offer != nil && *s.record.Offer != sdp {
		return shared.ErrOfferTaken
	}
	s.record.Offer = &sdp
	st.broadcastLocked(s, fieldcall.RoleCallee, fieldcall.ChannelEvent{Type: fieldcall.ChannelEventOfferPut, SDP: sdp})
	return nil
}

func (st *Store) PutAnswer(id, sdp string) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[id]
	if !ok {
		return shared.ErrUnknownSession
	}
	s.record.Answer = &sdp
	st.broadcastLocked(s, fieldcall.RoleCaller, fieldcall.ChannelEvent{Type: fieldcall.ChannelEventAnswerPut, SDP: sdp})
	return nil
}

// AddCandidate appends to the sender's candidate collection and notifies
// the peer's subscribers. Returns the generated push id.
func (st *Store) AddCandidate(id string, from fieldcall.Role, cand fieldcall.Candidate) (string, error) {
	if err := cand.Validate(); err != nil {
		return "", err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	s := st.sessionLocked(id)
	entry := fieldcall.CandidateEntry{PushID: uuid.NewString(), Candidate: cand}
	if from == fieldcall.RoleCaller {
		s.record.CallerCandidates = append(s.record.CallerCandidates, entry)
	} else {
		s.record.CalleeCandidates = append(s.record.CalleeCandidates, entry)
	}
	c := cand
	st.broadcastLocked(s, from.Peer(), fieldcall.ChannelEvent{
		Type:      fieldcall.ChannelEventCandidateAdded,
		From:      from,
		Candidate: &c,
	})
	return entry.PushID, nil
}

// Remove deletes the entire record so a fresh call can reuse the id.
// Subscribers stay connected and are told the record went away.
func (st *Store) Remove(id string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[id]
	if !ok {
		return
	}
	hadOffer := s.record.Offer != nil
	s.record = fieldcall.SessionRecord{}
	if hadOffer {
		st.broadcastLocked(s, fieldcall.RoleCallee, fieldcall.ChannelEvent{Type: fieldcall.ChannelEventOfferRemoved})
	}
	st.broadcastLocked(s, fieldcall.RoleCaller, fieldcall.ChannelEvent{Type: fieldcall.ChannelEventRecordRemoved})
	st.broadcastLocked(s, fieldcall.RoleCallee, fieldcall.ChannelEvent{Type: fieldcall.ChannelEventRecordRemoved})
	if len(s.subs) == 0 {
		delete(st.sessions, id)
	}
}

// Snapshot returns a copy of the record, false when the id is unknown.
func (st *Store) Snapshot(id string) (fieldcall.SessionRecord, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[id]
	if !ok {
		return fieldcall.SessionRecord{}, false
	}
	rec := s.record
	rec.CallerCandidates = append([]fieldcall.CandidateEntry(nil), s.record.CallerCandidates...)
	rec.CalleeCandidates = append([]fieldcall.CandidateEntry(nil), s.record.CalleeCandidates...)
	return rec, true
}

// Subscribe attaches a role-scoped subscriber: the record's current
// peer-visible state is replayed into its queue before any live update.
func (st *Store) Subscribe(id string, role fieldcall.Role) *Subscriber {
	sub := &Subscriber{
		role:   role,
		events: make(chan fieldcall.ChannelEvent, 64),
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	s := st.sessionLocked(id)
	for _, ev := range replay(s.record, role) {
		sub.push(st.logger, ev)
	}
	s.subs[sub] = struct{}{}
	sub.detach = func() {
		st.mu.Lock()
		defer st.mu.Unlock()
		delete(s.subs, sub)
	}
	return sub
}

func (st *Store) broadcastLocked(s *session, to fieldcall.Role, ev fieldcall.ChannelEvent) {
	for sub := range s.subs {
		if sub.role == to {
			sub.push(st.logger, ev)
		}
	}
}

func replay(rec fieldcall.SessionRecord, role fieldcall.Role) []fieldcall.ChannelEvent {
	var events []fieldcall.ChannelEvent
	if role == fieldcall.RoleCallee {
		if rec.Offer != nil {
			events = append(events, fieldcall.ChannelEvent{Type: fieldcall.ChannelEventOfferPut, SDP: *rec.Offer})
		}
		for _, entry := range rec.CallerCandidates {
			c := entry.Candidate
			events = append(events, fieldcall.ChannelEvent{Type: fieldcall.ChannelEventCandidateAdded, From: fieldcall.RoleCaller, Candidate: &c})
		}
		return events
	}
	if rec.Answer != nil {
		events = append(events, fieldcall.ChannelEvent{Type: fieldcall.ChannelEventAnswerPut, SDP: *rec.Answer})
	}
	for _, entry := range rec.CalleeCandidates {
		c := entry.Candidate
		events = append(events, fieldcall.ChannelEvent{Type: fieldcall.ChannelEventCandidateAdded, From: fieldcall.RoleCallee, Candidate: &c})
	}
	return events
}

// Subscriber is one connection's event feed.
type Subscriber struct {
	role   fieldcall.Role
	events chan fieldcall.ChannelEvent
	once   sync.Once
	detach func()
}

func (s *Subscriber) Events() <-chan fieldcall.ChannelEvent {
	return s.events
}

func (s *Subscriber) Close() {
	s.once.Do(func() {
		if s.detach != nil {
			s.detach()
		}
		close(s.events)
	})
}

// push never blocks record mutation on a slow connection; the newest event
// wins and the drop is logged.
func (s *Subscriber) push(logger shared.LoggerAdapter, ev fieldcall.ChannelEvent) {
	select {
	case s.events <- ev:
	default:
		logger.Warn("subscriber queue full, dropping event", zap.String("type", string(ev.Type)))
	}
}
