package fieldcall

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/gridlens/fieldcall/shared"
	"go.uber.org/zap"
)

// RelayChannel talks to a fieldcall relay over a websocket. The relay owns
// the session record; this side only pushes its own fields and receives the
// peer's, with the relay replaying current record state on connect.
type RelayChannel struct {
	logger  shared.LoggerAdapter
	session string
	role    Role

	writeMu sync.Mutex
	conn    *websocket.Conn

	mu         sync.Mutex
	subscribed bool

	ctx    context.Context
	cancel context.CancelFunc
}

var _ SignalingChannel = (*RelayChannel)(nil)

// DialRelay connects this role's endpoint for the given session id.
// relayURL is the relay base, e.g. "ws://relay.local:8787".
func DialRelay(ctx context.Context, logger shared.LoggerAdapter, relayURL, sessionID string, role Role) (*RelayChannel, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	base, err := url.Parse(relayURL)
	if err != nil {
		return nil, fmt.Errorf("parsing relay URL: %w", err)
	}
	endpoint := base.JoinPath("v1", "sessions", sessionID, "ws")
	q := endpoint.Query()
	q.Set("role", role.String())
	endpoint.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dialing relay: %w", err)
	}
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	return &RelayChannel{
		logger:  logger.With(zap.String("session", sessionID), zap.String("role", role.String())),
		session: sessionID,
		role:    role,
		conn:    conn,
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

func (c *RelayChannel) send(ctx context.Context, msg wireMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-c.ctx.Done():
		return shared.ErrChannelClosed
	default:
	}
	data, err := msg.encode()
	if err != nil {
		return fmt.Errorf("encoding wire message: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("writing to relay: %w", err)
	}
	return nil
}

func (c *RelayChannel) PublishOffer(ctx context.Context, sdp string) error {
	if c.role != RoleCaller {
		return shared.ErrWrongRole
	}
	return c.send(ctx, wireMessage{Type: ChannelEventOfferPut, Session: c.session, From: c.role.String(), SDP: sdp})
}

func (c *RelayChannel) PublishAnswer(ctx context.Context, sdp string) error {
	if c.role != RoleCallee {
		return shared.ErrWrongRole
	}
	return c.send(ctx, wireMessage{Type: ChannelEventAnswerPut, Session: c.session, From: c.role.String(), SDP: sdp})
}

func (c *RelayChannel) PublishCandidate(ctx context.Context, cand Candidate) error {
	if err := cand.Validate(); err != nil {
		return err
	}
	return c.send(ctx, wireMessage{
		Type:      ChannelEventCandidateAdded,
		Session:   c.session,
		From:      c.role.String(),
		Candidate: &cand,
	})
}

// Subscribe starts the read pump. The relay only sends this role the
// peer's field changes, so everything received goes straight to handler.
func (c *RelayChannel) Subscribe(handler func(ChannelEvent)) (func(), error) {
	if handler == nil {
		return nil, shared.ErrNoChannel
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subscribed {
		return nil, shared.ErrAlreadySubscribed
	}
	c.subscribed = true

	pumpCtx, stop := context.WithCancel(c.ctx)
	go c.readPump(pumpCtx, handler)
	var once sync.Once
	return func() {
		once.Do(func() {
			stop()
			c.mu.Lock()
			c.subscribed = false
			c.mu.Unlock()
		})
	}, nil
}

func (c *RelayChannel) readPump(ctx context.Context, handler func(ChannelEvent)) {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-ctx.Done():
			default:
				c.logger.Warn("relay read failed", zap.Error(err))
			}
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
		ev, err := DecodeWireMessage(data)
		if err != nil {
			c.logger.Warn("dropping malformed relay message", zap.Error(err))
			continue
		}
		handler(ev)
	}
}

// Clear asks the relay to delete the whole session record.
func (c *RelayChannel) Clear(ctx context.Context) error {
	return c.send(ctx, wireMessage{Type: ChannelEventRecordRemoved, Session: c.session, From: c.role.String()})
}

// Close tears the websocket down. Publishing afterwards reports the channel
// closed.
func (c *RelayChannel) Close() error {
	c.cancel()
	if err := c.conn.Close(); err != nil {
		return fmt.Errorf("closing relay connection: %w", err)
	}
	return nil
}
