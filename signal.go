package fieldcall

import (
	"context"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
)

// Role identifies which side of a two-party call a session plays. It is
// fixed for the session's lifetime and decides which fields of the shared
// record the session writes versus observes.
type Role int

const (
	RoleCaller Role = iota
	RoleCallee
)

func (r Role) String() string {
	switch r {
	case RoleCaller:
		return "caller"
	case RoleCallee:
		return "callee"
	default:
		return "unknown"
	}
}

// Peer returns the opposite role.
func (r Role) Peer() Role {
	if r == RoleCaller {
		return RoleCallee
	}
	return RoleCaller
}

func ParseRole(s string) (Role, error) {
	switch s {
	case "caller":
		return RoleCaller, nil
	case "callee":
		return RoleCallee, nil
	default:
		return 0, fmt.Errorf("unknown role %q", s)
	}
}

type DescriptionType string

const (
	DescriptionTypeOffer  DescriptionType = "offer"
	DescriptionTypeAnswer DescriptionType = "answer"
)

// SessionDescription is a type-tagged opaque SDP blob.
type SessionDescription struct {
	Type DescriptionType `json:"type"`
	SDP  string          `json:"sdp"`
}

func (d SessionDescription) Validate() error {
	if d.Type != DescriptionTypeOffer && d.Type != DescriptionTypeAnswer {
		return fmt.Errorf("unknown description type %q", d.Type)
	}
	if d.SDP == "" {
		return errors.New("empty SDP")
	}
	return nil
}

// Candidate is a network path descriptor gathered during connectivity
// establishment, exchanged out-of-band through the signaling record.
type Candidate struct {
	SDPMid        *string `json:"sdpMid"`
	SDPMLineIndex uint16  `json:"sdpMLineIndex"`
	Candidate     string  `json:"candidate"`
}

func (c Candidate) Validate() error {
	if c.Candidate == "" {
		return errors.New("empty candidate")
	}
	return nil
}

// key collapses a candidate to a comparable identity so duplicate channel
// notifications never apply the same candidate twice.
func (c Candidate) key() string {
	mid := ""
	if c.SDPMid != nil {
		mid = *c.SDPMid
	}
	return fmt.Sprintf("%s/%d/%s", mid, c.SDPMLineIndex, c.Candidate)
}

// CandidateEntry is a candidate plus the push id it was stored under in the
// record's append-only candidate collection.
type CandidateEntry struct {
	PushID    string    `json:"pushId"`
	Candidate Candidate `json:"candidate"`
}

// SessionRecord mirrors the shared record both parties rendezvous on.
// Exactly one record exists per concurrent call; candidate collections are
// append-only and ordered.
type SessionRecord struct {
	Offer            *string          `json:"offer,omitempty"`
	Answer           *string          `json:"answer,omitempty"`
	CallerCandidates []CandidateEntry `json:"callerCandidates,omitempty"`
	CalleeCandidates []CandidateEntry `json:"calleeCandidates,omitempty"`
}

func (r SessionRecord) MarshalJSON() ([]byte, error) {
	type plain SessionRecord
	return sonic.Marshal(plain(r))
}

func (r *SessionRecord) UnmarshalJSON(data []byte) error {
	type plain SessionRecord
	return sonic.Unmarshal(data, (*plain)(r))
}

type ChannelEventType string

const (
	ChannelEventOfferPut       ChannelEventType = "offer.put"
	ChannelEventOfferRemoved   ChannelEventType = "offer.removed"
	ChannelEventAnswerPut      ChannelEventType = "answer.put"
	ChannelEventCandidateAdded ChannelEventType = "candidate.added"
	ChannelEventRecordRemoved  ChannelEventType = "record.removed"
)

// ChannelEvent is the single tagged event shape a session consumes from its
// signaling channel. A channel only ever delivers the peer's side of the
// record: a Caller subscription sees answer and callee-candidate events, a
// Callee subscription sees offer and caller-candidate events.
type ChannelEvent struct {
	Type      ChannelEventType
	SDP       string
	From      Role
	Candidate *Candidate
}

func (e ChannelEvent) Validate() error {
	switch e.Type {
	case ChannelEventOfferPut, ChannelEventAnswerPut:
		if e.SDP == "" {
			return fmt.Errorf("%s event with empty SDP", e.Type)
		}
	case ChannelEventCandidateAdded:
		if e.Candidate == nil {
			return errors.New("candidate.added event without candidate")
		}
		if err := e.Candidate.Validate(); err != nil {
			return fmt.Errorf("candidate.added event: %w", err)
		}
	case ChannelEventOfferRemoved, ChannelEventRecordRemoved:
	default:
		return fmt.Errorf("unknown channel event type %q", e.Type)
	}
	return nil
}

// SignalingChannel is the session's view of the shared rendezvous record.
// The channel's role is fixed at construction: publishes go to the fields
// this side owns, subscriptions deliver only the peer's fields. Subscribe
// replays the record's current peer-visible state as events before live
// updates, so a late Callee still observes an already-published offer.
type SignalingChannel interface {
	PublishOffer(ctx context.Context, sdp string) error
	PublishAnswer(ctx context.Context, sdp string) error
	PublishCandidate(ctx context.Context, cand Candidate) error

	// Subscribe registers the single event handler. Events are delivered
	// one at a time in record order; the returned cancel is idempotent.
	Subscribe(handler func(ChannelEvent)) (cancel func(), err error)

	// Clear removes the entire session record so a fresh call can reuse
	// the same session id.
	Clear(ctx context.Context) error
}

// wireMessage is the JSON envelope exchanged with the relay.
type wireMessage struct {
	Type      ChannelEventType `json:"type"`
	Session   string           `json:"session,omitempty"`
	From      string           `json:"from,omitempty"`
	SDP       string           `json:"sdp,omitempty"`
	PushID    string           `json:"pushId,omitempty"`
	Candidate *Candidate       `json:"candidate,omitempty"`
}

func (m wireMessage) encode() ([]byte, error) {
	return sonic.Marshal(m)
}

func decodeWireMessage(data []byte) (wireMessage, error) {
	var m wireMessage
	if err := sonic.Unmarshal(data, &m); err != nil {
		return wireMessage{}, fmt.Errorf("unmarshaling wire message: %w", err)
	}
	return m, nil
}

// EncodeWireMessage builds the relay-side envelope for a channel event. The
// relay shares this codec so both ends agree on the schema.
func EncodeWireMessage(session string, ev ChannelEvent) ([]byte, error) {
	if err := ev.Validate(); err != nil {
		return nil, fmt.Errorf("validating channel event: %w", err)
	}
	return wireMessage{
		Type:      ev.Type,
		Session:   session,
		From:      ev.From.String(),
		SDP:       ev.SDP,
		Candidate: ev.Candidate,
	}.encode()
}

// DecodeWireMessage parses and validates a relay envelope into a channel
// event, rejecting malformed payloads at the boundary.
func DecodeWireMessage(data []byte) (ChannelEvent, error) {
	m, err := decodeWireMessage(data)
	if err != nil {
		return ChannelEvent{}, err
	}
	ev := ChannelEvent{
		Type:      m.Type,
		SDP:       m.SDP,
		Candidate: m.Candidate,
	}
	if m.From != "" {
		from, err := ParseRole(m.From)
		if err != nil {
			return ChannelEvent{}, fmt.Errorf("parsing wire message origin: %w", err)
		}
		ev.From = from
	}
	if err := ev.Validate(); err != nil {
		return ChannelEvent{}, fmt.Errorf("validating wire message: %w", err)
	}
	return ev, nil
}
