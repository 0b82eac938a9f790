// Package relay hosts the shared signaling record two call parties
// rendezvous on: a websocket fan-out server holding per-session
// offer/answer/candidate state, addressed by a call-session id.
package relay

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	fieldcall "github.com/gridlens/fieldcall"
	"github.com/gridlens/fieldcall/shared"
	"go.uber.org/zap"
)

type Server struct {
	logger   shared.LoggerAdapter
	store    *Store
	upgrader websocket.Upgrader
}

func NewServer(logger shared.LoggerAdapter) (*Server, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	store, err := NewStore(logger)
	if err != nil {
		return nil, err
	}
	return &Server{
		logger: logger,
		store:  store,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}, nil
}

func (s *Server) Store() *Store {
	return s.store
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Route("/v1/sessions/{session}", func(r chi.Router) {
		r.Get("/", s.handleSnapshot)
		r.Delete("/", s.handleDelete)
		r.Get("/ws", s.handleWS)
	})
	return r
}

// ListenAndServe blocks until ctx is done, then drains with a short
// shutdown grace.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler()}
	errC := make(chan error, 1)
	go func() {
		errC <- srv.ListenAndServe()
	}()
	s.logger.Info("relay listening", zap.String("addr", addr))
	select {
	case err := <-errC:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "session")
	rec, ok := s.store.Snapshot(id)
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}
	body, err := sonic.Marshal(rec)
	if err != nil {
		http.Error(w, "encoding record", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	s.store.Remove(chi.URLParam(r, "session"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "session")
	role, err := fieldcall.ParseRole(r.URL.Query().Get("role"))
	if err != nil {
		http.Error(w, "role must be caller or callee", http.StatusBadRequest)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	logger := s.logger.With(zap.String("session", id), zap.String("role", role.String()))
	logger.Info("party connected")

	sub := s.store.Subscribe(id, role)
	done := make(chan struct{})
	go s.writePump(logger, conn, id, sub, done)
	s.readPump(logger, conn, id, role)

	sub.Close()
	<-done
	_ = conn.Close()
	logger.Info("party disconnected")
}

func (s *Server) writePump(logger shared.LoggerAdapter, conn *websocket.Conn, id string, sub *Subscriber, done chan<- struct{}) {
	defer close(done)
	for ev := range sub.Events() {
		data, err := fieldcall.EncodeWireMessage(id, ev)
		if err != nil {
			logger.Error("encoding event for party", err)
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			logger.Warn("writing to party failed", zap.Error(err))
			return
		}
	}
}

// readPump applies a party's publishes to the record, enforcing that each
// role only writes the fields it owns.
func (s *Server) readPump(logger shared.LoggerAdapter, conn *websocket.Conn, id string, role fieldcall.Role) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("party read ended", zap.Error(err))
			}
			return
		}
		ev, err := fieldcall.DecodeWireMessage(data)
		if err != nil {
			logger.Warn("dropping malformed message from party", zap.Error(err))
			continue
		}
		if err := s.apply(id, role, ev); err != nil {
			logger.Warn("rejecting publish", zap.String("type", string(ev.Type)), zap.Error(err))
		}
	}
}

func (s *Server) apply(id string, role fieldcall.Role, ev fieldcall.ChannelEvent) error {
	switch ev.Type {
	case fieldcall.ChannelEventOfferPut:
		if role != fieldcall.RoleCaller {
			return shared.ErrWrongRole
		}
		return s.store.PutOffer(id, ev.SDP)
	case fieldcall.ChannelEventAnswerPut:
		if role != fieldcall.RoleCallee {
			return shared.ErrWrongRole
		}
		return s.store.PutAnswer(id, ev.SDP)
	case fieldcall.ChannelEventCandidateAdded:
		if ev.Candidate == nil {
			return errors.New("candidate publish without candidate")
		}
		_, err := s.store.AddCandidate(id, role, *ev.Candidate)
		return err
	case fieldcall.ChannelEventRecordRemoved:
		s.store.Remove(id)
		return nil
	default:
		return errors.New("unsupported publish type")
	}
}
