package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"lancast/internal/core/domain"
	"lancast/internal/core/ports"
	"lancast/internal/infrastructure/middleware"
	"lancast/internal/infrastructure/monitoring"
	"lancast/pkg/config"
	apperrors "lancast/pkg/errors"
	"lancast/pkg/tracing"
	"lancast/pkg/validation"
)

const pingInterval = 30 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Should be configured properly for production
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// Server is the relay's HTTP and websocket surface. It owns the room
// registry and the connect limiter explicitly rather than as process
// globals, so tests can build isolated instances.
type Server struct {
	cfg       *config.Config
	registry  *Registry
	resolver  ports.TokenResolver
	directory ports.SessionDirectory
	connects  *connectLimiter
	collector *monitoring.PrometheusCollector
	health    *monitoring.HealthChecker
	logger    *zap.SugaredLogger
}

func NewServer(
	cfg *config.Config,
	resolver ports.TokenResolver,
	directory ports.SessionDirectory,
	collector *monitoring.PrometheusCollector,
	health *monitoring.HealthChecker,
	logger *zap.SugaredLogger,
) *Server {
	return &Server{
		cfg:       cfg,
		registry:  NewRegistry(directory, collector, logger),
		resolver:  resolver,
		directory: directory,
		connects:  newConnectLimiter(cfg.Relay.ConnectWindow, cfg.Relay.ConnectBurst),
		collector: collector,
		health:    health,
		logger:    logger,
	}
}

// Registry exposes the room registry, mainly for tests and stats.
func (s *Server) Registry() *Registry {
	return s.registry
}

// Router builds the gin engine with the relay routes. The plain HTTP
// endpoints carry a generous per-IP limit; the websocket endpoint has
// its own sliding-window admission limiter.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if s.cfg.Tracing.Enabled {
		router.Use(middleware.TracingMiddleware())
	}

	router.GET("/ws", s.handleStream)

	plain := router.Group("/", middleware.NewHTTPRateLimit(10, 20))
	plain.GET("/health", s.handleHealth)
	plain.GET("/stats", s.handleStats)
	if s.cfg.Monitoring.PrometheusEnabled {
		plain.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	return router
}

// Run serves until ctx is done, then shuts down gracefully: stop
// accepting, close every room, release the listener.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Relay.Address,
		Handler:      s.Router(),
		ReadTimeout:  s.cfg.Relay.ReadTimeout,
		WriteTimeout: 0, // websocket writes manage their own deadlines
	}

	sweepCtx, cancelSweep := context.WithCancel(ctx)
	defer cancelSweep()
	go s.registry.RunSweeper(sweepCtx, s.cfg.Relay.SweepInterval, s.connects)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Infow("relay listening", "address", s.cfg.Relay.Address)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Relay.ShutdownTimeout)
	defer cancel()

	s.registry.Shutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("relay shutdown: %w", err)
	}
	return <-errCh
}

func (s *Server) handleHealth(c *gin.Context) {
	status := s.health.CheckAll(c.Request.Context())
	code := http.StatusOK
	if status.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}

func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"rooms":     s.registry.RoomCount(),
		"timestamp": time.Now().Unix(),
	})
}

// streamQuery is the relay connect query contract.
type streamQuery struct {
	Role      string
	SessionID string
	StreamID  string
	Token     string
	UserID    string
}

func (s *Server) handleStream(c *gin.Context) {
	ctx, span := tracing.StartSpan(c.Request.Context(), "relay.admission")
	defer span.End()

	q := streamQuery{
		Role:      c.Query("role"),
		SessionID: c.Query("sessionId"),
		StreamID:  c.Query("streamId"),
		Token:     c.Query("token"),
		UserID:    c.Query("userId"),
	}
	remoteIP := middleware.ClientIP(c.Request)

	span.SetAttributes(
		tracing.SessionIDKey.String(q.SessionID),
		tracing.StreamIDKey.String(q.StreamID),
		tracing.UserIDKey.String(q.UserID),
		tracing.RoleKey.String(q.Role),
		tracing.RemoteIPKey.String(remoteIP),
	)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err, "remote_ip", remoteIP)
		return
	}
	conn.SetReadLimit(s.cfg.Relay.MaxMessageBytes)

	sock, room, err := s.admit(ctx, conn, q, remoteIP)
	if err != nil {
		tracing.RecordError(ctx, err)
		return
	}

	role := string(sock.role)
	s.collector.RecordSocketConnected(q.StreamID, role)
	s.logger.Infow("socket admitted",
		"role", role,
		"session_id", q.SessionID,
		"stream_id", q.StreamID,
		"user_id", q.UserID,
		"remote_ip", remoteIP,
	)

	if sock.role == domain.RoleHost {
		s.runHost(sock, room)
	} else {
		s.runClient(sock, room)
	}

	s.registry.Release(room, sock)
	s.collector.RecordSocketDisconnected(q.StreamID, role, time.Since(sock.connectedAt))
	s.logger.Infow("socket disconnected",
		"role", role,
		"session_id", q.SessionID,
		"stream_id", q.StreamID,
	)
}

// admit runs the full admission check against an upgraded connection.
// On failure the connection is closed with the error's close code and
// a nil socket is returned.
func (s *Server) admit(ctx context.Context, conn *websocket.Conn, q streamQuery, remoteIP string) (*socket, *Room, error) {
	reject := func(outcome string, appErr *apperrors.AppError) (*socket, *Room, error) {
		s.collector.RecordAdmission(q.Role, outcome)
		s.logger.Warnw("admission rejected",
			"role", q.Role,
			"session_id", q.SessionID,
			"user_id", q.UserID,
			"remote_ip", remoteIP,
			"error", appErr,
		)
		tmp := newSocket(conn, domain.RelayRole(q.Role), nil, remoteIP)
		tmp.closeWith(apperrors.CloseCodeFor(appErr), appErr.Message)
		return nil, nil, appErr
	}

	if err := validateQuery(q); err != nil {
		return reject("invalid_query", apperrors.NewInvalidInputError("invalid connect query").WithCause(err))
	}

	connectKey := remoteIP + "|" + q.UserID + "|" + q.SessionID
	if !s.connects.Allow(connectKey) {
		s.collector.RecordRateLimitDrop("connect")
		return reject("rate_limited", apperrors.NewRateLimitError("too many connection attempts"))
	}

	token, err := s.resolver.Resolve(q.Token)
	if err != nil {
		return reject("bad_token", apperrors.NewUnauthorizedError("token rejected").WithCause(err))
	}
	if token.SessionID != domain.SessionID(q.SessionID) ||
		token.UserID != domain.UserID(q.UserID) ||
		token.Role != domain.RelayRole(q.Role) {
		return reject("scope_mismatch", apperrors.NewForbiddenError("token scope mismatch").WithCause(domain.ErrScopeMismatch))
	}
	if token.StreamID != q.StreamID {
		return reject("stream_mismatch", apperrors.NewForbiddenError("stream id mismatch").WithCause(domain.ErrStreamMismatch))
	}

	session, err := s.directory.Get(ctx, token.SessionID)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return reject("no_session", apperrors.NewNotFoundError("session").WithCause(err))
		}
		return reject("directory_error", apperrors.NewInternalError("session lookup failed").WithCause(err))
	}
	if !session.Status.Streamable() {
		return reject("not_streamable", apperrors.NewForbiddenError("session not streamable").WithCause(domain.ErrNotStreamable))
	}

	switch token.Role {
	case domain.RoleHost:
		if session.HostUserID != token.UserID {
			return reject("not_owner", apperrors.NewForbiddenError("user is not the session host").WithCause(domain.ErrScopeMismatch))
		}
	case domain.RoleClient:
		if session.RenterID != token.UserID {
			return reject("not_renter", apperrors.NewForbiddenError("user is not the session renter").WithCause(domain.ErrScopeMismatch))
		}
	}

	sock := newSocket(conn, token.Role, token, remoteIP)
	if token.Role == domain.RoleHost {
		sock.hostBytes = newByteWindow(time.Second, s.cfg.Relay.HostBytesPerSec)
	} else {
		sock.clientMsgs = newClientMsgLimiter(s.cfg.Relay.ClientMsgsPerSec)
	}

	room := s.registry.Attach(token.SessionID, token.StreamID, sock)

	s.collector.RecordAdmission(q.Role, "accepted")
	return sock, room, nil
}

func validateQuery(q streamQuery) error {
	if err := validation.ValidateRole(q.Role); err != nil {
		return err
	}
	if err := validation.ValidateSessionID(q.SessionID); err != nil {
		return err
	}
	if err := validation.ValidateStreamID(q.StreamID); err != nil {
		return err
	}
	if err := validation.ValidateUserID(q.UserID); err != nil {
		return err
	}
	return validation.ValidateToken(q.Token)
}

type inboundMessage struct {
	kind    int
	payload []byte
}

// readLoop feeds inbound messages to a channel so the handler can
// select over messages and the ping ticker, as one loop per socket.
// done lets the goroutine exit when the handler has already returned.
func (s *Server) readLoop(sock *socket, msgs chan<- inboundMessage, errs chan<- error, done <-chan struct{}) {
	for {
		sock.conn.SetReadDeadline(time.Now().Add(s.cfg.Relay.ReadTimeout))
		kind, payload, err := sock.conn.ReadMessage()
		if err != nil {
			select {
			case errs <- err:
			case <-done:
			}
			return
		}
		select {
		case msgs <- inboundMessage{kind: kind, payload: payload}:
		case <-done:
			return
		}
	}
}

func (s *Server) runHost(sock *socket, room *Room) {
	msgs := make(chan inboundMessage, 16)
	errs := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)
	go s.readLoop(sock, msgs, errs, done)

	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()

	sock.conn.SetPongHandler(func(string) error {
		sock.conn.SetReadDeadline(time.Now().Add(s.cfg.Relay.ReadTimeout))
		return nil
	})

	for {
		select {
		case msg := <-msgs:
			switch msg.kind {
			case websocket.BinaryMessage:
				if !sock.hostBytes.Allow(int64(len(msg.payload))) {
					s.collector.RecordRateLimitDrop("host_bytes")
					sock.closeWith(CloseTryAgainLater, "host byte budget exceeded")
					return
				}
				room.BroadcastMedia(msg.payload)

			case websocket.TextMessage:
				if !s.validHostText(msg.payload, sock.token) {
					sock.closeWith(ClosePolicyViolation, "invalid control message")
					return
				}
				room.BroadcastText(msg.payload)
			}

		case <-pingTicker.C:
			if err := sock.write(websocket.PingMessage, nil); err != nil {
				sock.closeWith(CloseInternalErr, "ping failed")
				return
			}

		case err := <-errs:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Infow("host read error", "stream_id", room.streamID, "error", err)
			}
			sock.closeWith(websocket.CloseNormalClosure, "")
			return
		}
	}
}

func (s *Server) runClient(sock *socket, room *Room) {
	msgs := make(chan inboundMessage, 16)
	errs := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)
	go s.readLoop(sock, msgs, errs, done)

	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()

	sock.conn.SetPongHandler(func(string) error {
		sock.conn.SetReadDeadline(time.Now().Add(s.cfg.Relay.ReadTimeout))
		return nil
	})

	for {
		select {
		case msg := <-msgs:
			switch msg.kind {
			case websocket.BinaryMessage:
				// Clients never carry media upstream.
				s.collector.RecordClientBinaryDrop()

			case websocket.TextMessage:
				if !sock.clientMsgs.Allow() {
					s.collector.RecordRateLimitDrop("client_msgs")
					sock.closeWith(CloseTryAgainLater, "client message budget exceeded")
					return
				}

				ok, needsActive := s.classifyClientText(msg.payload, sock.token)
				if !ok {
					sock.closeWith(ClosePolicyViolation, "invalid control message")
					return
				}
				s.noteRequestedBitrate(msg.payload, room)
				// Input is gated on an ACTIVE session. The directory
				// sits behind a short-TTL cache, so per-event lookups
				// stay cheap even during mouse-move bursts.
				if needsActive {
					session, err := s.directory.Get(context.Background(), sock.token.SessionID)
					if err != nil || session.Status != domain.SessionActive {
						continue
					}
				}
				room.ForwardToHost(msg.payload)
			}

		case <-pingTicker.C:
			if err := sock.write(websocket.PingMessage, nil); err != nil {
				sock.closeWith(CloseInternalErr, "ping failed")
				return
			}

		case err := <-errs:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Infow("client read error", "stream_id", room.streamID, "error", err)
			}
			sock.closeWith(websocket.CloseNormalClosure, "")
			return
		}
	}
}

// controlProbe is the envelope subset inspected before forwarding.
type controlProbe struct {
	Type      string           `json:"type"`
	Token     string           `json:"token,omitempty"`
	SessionID string           `json:"sessionId,omitempty"`
	StreamID  string           `json:"streamId,omitempty"`
	Event     *json.RawMessage `json:"event,omitempty"`
}

// validHostText accepts host control messages: well-formed JSON with a
// known type, and any scope fields present must match the socket.
func (s *Server) validHostText(payload []byte, token *domain.StreamToken) bool {
	var probe controlProbe
	if err := json.Unmarshal(payload, &probe); err != nil {
		return false
	}
	switch probe.Type {
	case domain.MsgStreamPong, domain.MsgKeyframeRequest, domain.MsgNetworkReport, domain.MsgReconnect:
	default:
		return false
	}
	return scopeMatches(&probe, token)
}

// classifyClientText reports whether a client message may be forwarded
// and whether it additionally requires an ACTIVE session.
func (s *Server) classifyClientText(payload []byte, token *domain.StreamToken) (ok bool, needsActive bool) {
	var probe controlProbe
	if err := json.Unmarshal(payload, &probe); err != nil {
		return false, false
	}

	switch {
	case domain.IsFeedback(probe.Type):
		return scopeMatches(&probe, token), false

	case probe.Type == domain.MsgStreamPing:
		return true, false

	case probe.Type == domain.MsgInputEvent:
		if probe.Event == nil {
			return false, false
		}
		var event domain.InputEvent
		if err := json.Unmarshal(*probe.Event, &event); err != nil {
			return false, false
		}
		if !domain.ValidInputType(event.Type) {
			return false, false
		}
		return true, true
	}

	return false, false
}

// noteRequestedBitrate surfaces the bitrate a client is asking for so
// the room's current target is visible on the metrics endpoint. Only
// feedback reports carry the field; everything else is a no-op.
func (s *Server) noteRequestedBitrate(payload []byte, room *Room) {
	if s.collector == nil {
		return
	}
	var fb domain.FeedbackMessage
	if err := json.Unmarshal(payload, &fb); err != nil || fb.RequestedBitrateKbps <= 0 {
		return
	}
	s.collector.RecordRequestedBitrate(room.streamID, fb.RequestedBitrateKbps)
}

// scopeMatches checks any scope fields the message carries against the
// socket's resolved token. Absent fields pass; wrong ones never do.
func scopeMatches(probe *controlProbe, token *domain.StreamToken) bool {
	if probe.Token != "" && probe.Token != token.Token {
		return false
	}
	if probe.SessionID != "" && probe.SessionID != string(token.SessionID) {
		return false
	}
	if probe.StreamID != "" && probe.StreamID != token.StreamID {
		return false
	}
	return true
}
