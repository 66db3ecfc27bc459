package relay

import (
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"lancast/internal/core/domain"
)

// Room pairs one host socket with the client sockets watching the same
// (session, stream). All room state is mutex-serialized; forwarding is
// fire-and-forget, so one slow client never stalls the host's stream.
type Room struct {
	sessionID domain.SessionID
	streamID  string

	mu      sync.Mutex
	host    *socket
	clients map[*socket]struct{}

	logger  *zap.SugaredLogger
	metrics *roomMetrics
}

// roomMetrics is the collector subset a room touches. Nil-safe so room
// tests run without a registry.
type roomMetrics struct {
	mediaForwarded func(bytes int, fanout int)
	controlForward func()
}

func newRoom(sessionID domain.SessionID, streamID string, logger *zap.SugaredLogger, metrics *roomMetrics) *Room {
	return &Room{
		sessionID: sessionID,
		streamID:  streamID,
		clients:   make(map[*socket]struct{}),
		logger:    logger,
		metrics:   metrics,
	}
}

// attachHost installs s as the host and returns the socket it
// replaced, if any. Closing the replaced socket is the caller's job so
// it can happen outside any registry critical section.
func (r *Room) attachHost(s *socket) *socket {
	r.mu.Lock()
	old := r.host
	r.host = s
	r.mu.Unlock()
	return old
}

// AttachHost installs s as the room's host. A previous host is closed
// and replaced; the newer connection wins.
func (r *Room) AttachHost(s *socket) {
	if old := r.attachHost(s); old != nil {
		old.closeWith(ClosePolicyViolation, "replaced by newer host connection")
		r.logger.Infow("host replaced",
			"session_id", r.sessionID,
			"stream_id", r.streamID,
		)
	}
}

func (r *Room) attachClient(s *socket) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[s] = struct{}{}
	return len(r.clients)
}

func (r *Room) AttachClient(s *socket) {
	n := r.attachClient(s)
	r.logger.Infow("client joined room",
		"session_id", r.sessionID,
		"stream_id", r.streamID,
		"clients", n,
	)
}

// Detach removes s from the room and reports whether the room is now
// empty.
func (r *Room) Detach(s *socket) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.host == s {
		r.host = nil
	}
	delete(r.clients, s)
	return r.host == nil && len(r.clients) == 0
}

// Empty reports whether the room holds no sockets.
func (r *Room) Empty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.host == nil && len(r.clients) == 0
}

// BroadcastMedia fans a host binary frame out to every client. A
// client whose write fails is dropped from the room immediately.
func (r *Room) BroadcastMedia(payload []byte) {
	r.mu.Lock()
	targets := make([]*socket, 0, len(r.clients))
	for c := range r.clients {
		targets = append(targets, c)
	}
	r.mu.Unlock()

	reached := 0
	for _, c := range targets {
		if err := c.write(websocket.BinaryMessage, payload); err != nil {
			r.logger.Infow("dropping client on failed media write",
				"session_id", r.sessionID,
				"stream_id", r.streamID,
				"error", err,
			)
			r.Detach(c)
			c.closeWith(CloseInternalErr, "media write failed")
			continue
		}
		reached++
	}

	if r.metrics != nil && r.metrics.mediaForwarded != nil {
		r.metrics.mediaForwarded(len(payload), reached)
	}
}

// BroadcastText fans a host text message out to every client, with the
// same drop-on-failure policy as media.
func (r *Room) BroadcastText(payload []byte) {
	r.mu.Lock()
	targets := make([]*socket, 0, len(r.clients))
	for c := range r.clients {
		targets = append(targets, c)
	}
	r.mu.Unlock()

	for _, c := range targets {
		if err := c.write(websocket.TextMessage, payload); err != nil {
			r.Detach(c)
			c.closeWith(CloseInternalErr, "control write failed")
		}
	}
}

// ForwardToHost delivers a client text message to the host, if one is
// attached. Messages arriving while the room has no host are dropped.
func (r *Room) ForwardToHost(payload []byte) {
	r.mu.Lock()
	host := r.host
	r.mu.Unlock()

	if host == nil {
		return
	}
	if err := host.write(websocket.TextMessage, payload); err != nil {
		r.logger.Warnw("failed to forward control message to host",
			"session_id", r.sessionID,
			"stream_id", r.streamID,
			"error", err,
		)
		return
	}
	if r.metrics != nil && r.metrics.controlForward != nil {
		r.metrics.controlForward()
	}
}

// CloseAll closes every socket in the room with the given code.
func (r *Room) CloseAll(code int, reason string) {
	r.mu.Lock()
	sockets := make([]*socket, 0, len(r.clients)+1)
	if r.host != nil {
		sockets = append(sockets, r.host)
		r.host = nil
	}
	for c := range r.clients {
		sockets = append(sockets, c)
	}
	r.clients = make(map[*socket]struct{})
	r.mu.Unlock()

	for _, s := range sockets {
		s.closeWith(code, reason)
	}
}
