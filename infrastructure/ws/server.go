package ws

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"live-queue/auth"
	"live-queue/contract"
	"live-queue/domain"
	"live-queue/domain/event"
	"live-queue/errors"
	"live-queue/observability"
	"live-queue/runtime"
	"live-queue/sink"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
)

const (
	maxMessageSize = 4096
	bearerProtocol = "bearer"
)

// Hub is the part of the realtime core a socket talks to.
type Hub interface {
	Join(conn domain.Connection, sink contract.EventSink) bool
	Leave(connID domain.ConnectionID) bool
	RelayTyping(connID domain.ConnectionID, isTyping bool) error
	Roster(connID domain.ConnectionID) error
	Heartbeat(connID domain.ConnectionID) error
}

type Options struct {
	ConnectionBufferSize int
	WriteTimeout         time.Duration
	PongWait             time.Duration
	VerifyTimeout        time.Duration
	// AllowedOrigins restricts browser origins. Empty or "*" accepts any.
	AllowedOrigins []string
}

// Server upgrades authenticated HTTP requests to websocket connections and
// bridges them to the hub.
type Server struct {
	log      *slog.Logger
	hub      Hub
	verifier contract.Verifier
	metrics  *observability.Metrics
	opts     Options
	validate *validator.Validate
	upgrader websocket.Upgrader

	// mu pairs the closing check with wg.Add so Close never waits on a
	// group that is still growing.
	mu        sync.Mutex
	closing   chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewServer(log *slog.Logger, hub Hub, verifier contract.Verifier,
	metrics *observability.Metrics, opts Options) *Server {
	s := &Server{
		log:      log,
		hub:      hub,
		verifier: verifier,
		metrics:  metrics,
		opts:     opts,
		validate: validator.New(),
		closing:  make(chan struct{}),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		Subprotocols:    []string{bearerProtocol},
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// inbound is a client frame. Typing state may come in data or at the top level.
type inbound struct {
	Type     event.Type      `json:"type"`
	Data     json.RawMessage `json:"data,omitempty"`
	IsTyping *bool           `json:"isTyping,omitempty"`
}

type TypingRequest struct {
	IsTyping *bool `json:"isTyping" validate:"required"`
}

type rejection struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// ServeHTTP runs the handshake, then owns the socket until it closes.
// A rejected credential gets a plain HTTP error: the upgrade never happens and
// the hub is never told about the attempt.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !s.admit() {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	defer s.wg.Done()

	ctx, cancel := context.WithTimeout(r.Context(), s.opts.VerifyTimeout)
	result := runtime.Handshake(ctx, s.verifier, Credential(r))
	cancel()

	var user domain.User
	switch res := result.(type) {
	case runtime.Rejected:
		s.reject(w, r, res)
		return
	case runtime.Authenticated:
		user = res.User
	}

	socket, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client
		s.log.Warn("Websocket upgrade failed", "user_id", user.ID, "error", err)
		return
	}

	s.serve(socket, domain.Connection{
		ID:          domain.NewConnectionID(),
		User:        user,
		ConnectedAt: time.Now().UTC(),
	})
}

// Close disconnects every open socket. http.Server.Shutdown does not track
// hijacked connections, so this must be called alongside it.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		close(s.closing)
		s.mu.Unlock()
	})
	s.wg.Wait()
}

// admit registers a request with the server unless it is closing.
func (s *Server) admit() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.closing:
		return false
	default:
		s.wg.Add(1)
		return true
	}
}

func (s *Server) serve(socket *websocket.Conn, conn domain.Connection) {
	log := s.log.With("connection_id", conn.ID, "user_id", conn.User.ID)
	out := sink.NewConnectionSink(s.opts.ConnectionBufferSize)

	s.hub.Join(conn, out)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writePump(log, socket, out)
	}()

	readerDone := make(chan struct{})
	go func() {
		select {
		case <-s.closing:
			log.Debug("Server closing, disconnecting")
			_ = socket.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(s.opts.WriteTimeout))
			_ = socket.Close()
		case <-readerDone:
		}
	}()

	s.readLoop(log, socket, conn.ID)
	close(readerDone)

	// Leave first so no event is routed to a sink that is about to close
	s.hub.Leave(conn.ID)
	out.Close()
	<-writerDone
	_ = socket.Close()
	log.Info("Connection closed")
}

// writePump is the only goroutine writing to the socket.
func (s *Server) writePump(log *slog.Logger, socket *websocket.Conn, out *sink.ConnectionSink) {
	ticker := time.NewTicker(s.pingPeriod())
	defer ticker.Stop()
	for {
		select {
		case evt, ok := <-out.ConnectedUserEvent:
			_ = socket.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
			if !ok {
				_ = socket.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := socket.WriteJSON(evt); err != nil {
				log.Warn("Failed to push event to socket", "event_type", evt.Type, "error", err)
				// Unblocks the reader so the connection is torn down
				_ = socket.Close()
				return
			}
		case <-ticker.C:
			if err := socket.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.opts.WriteTimeout)); err != nil {
				log.Debug("Ping failed", "error", err)
				_ = socket.Close()
				return
			}
		}
	}
}

func (s *Server) readLoop(log *slog.Logger, socket *websocket.Conn, connID domain.ConnectionID) {
	socket.SetReadLimit(maxMessageSize)
	_ = socket.SetReadDeadline(time.Now().Add(s.opts.PongWait))
	socket.SetPongHandler(func(string) error {
		return socket.SetReadDeadline(time.Now().Add(s.opts.PongWait))
	})

	for {
		_, data, err := socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("Unexpected socket close", "error", err)
			}
			return
		}
		// Any client frame proves liveness
		_ = socket.SetReadDeadline(time.Now().Add(s.opts.PongWait))

		var frame inbound
		if err := json.Unmarshal(data, &frame); err != nil {
			log.Debug("Ignoring malformed frame", "error", err)
			continue
		}
		if err := s.dispatch(connID, frame); err != nil {
			if stderrors.Is(err, errors.ErrUnknownConnection) {
				log.Debug("Connection no longer registered")
				return
			}
			log.Debug("Ignoring invalid frame", "type", frame.Type, "error", err)
		}
	}
}

func (s *Server) dispatch(connID domain.ConnectionID, frame inbound) error {
	switch frame.Type {
	case event.TypingSignal:
		req := TypingRequest{IsTyping: frame.IsTyping}
		if len(frame.Data) > 0 {
			if err := json.Unmarshal(frame.Data, &req); err != nil {
				return err
			}
		}
		if err := s.validate.Struct(req); err != nil {
			return err
		}
		return s.hub.RelayTyping(connID, *req.IsTyping)
	case event.HeartbeatPing:
		return s.hub.Heartbeat(connID)
	case event.RosterRefreshRequest:
		return s.hub.Roster(connID)
	default:
		return errors.ErrUnknownEventType
	}
}

func (s *Server) reject(w http.ResponseWriter, r *http.Request, res runtime.Rejected) {
	code := res.Code()
	s.metrics.HandshakeRejects.WithLabelValues(code).Inc()
	s.log.Info("Handshake rejected", "remote_addr", r.RemoteAddr, "reason", code, "error", res.Reason)

	status, message := errors.Public(res.Reason)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(rejection{Success: false, Message: message, Code: code})
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.opts.AllowedOrigins) == 0 || slices.Contains(s.opts.AllowedOrigins, "*") {
		return true
	}
	return slices.Contains(s.opts.AllowedOrigins, origin)
}

func (s *Server) pingPeriod() time.Duration {
	return s.opts.PongWait * 9 / 10
}

// Credential extracts the bearer credential presented at connection time,
// looking at the query string, the Authorization header and finally the
// "bearer, <token>" websocket subprotocol pair browsers can set.
func Credential(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	if token, err := auth.TokenFromHeader(r.Header.Get("Authorization")); err == nil {
		return token
	}
	protocols := websocket.Subprotocols(r)
	for i, p := range protocols {
		if strings.EqualFold(p, bearerProtocol) && i+1 < len(protocols) {
			return protocols[i+1]
		}
	}
	return ""
}
