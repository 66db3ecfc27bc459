package relay

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"lancast/internal/core/domain"
	"lancast/internal/core/ports"
	"lancast/internal/infrastructure/monitoring"
)

type roomKey struct {
	sessionID domain.SessionID
	streamID  string
}

// Registry owns the live room set. Rooms are created lazily on first
// attach and removed when their last socket detaches or the sweep
// finds their session no longer streamable.
type Registry struct {
	directory ports.SessionDirectory
	logger    *zap.SugaredLogger
	collector *monitoring.PrometheusCollector

	mu    sync.Mutex
	rooms map[roomKey]*Room
}

func NewRegistry(directory ports.SessionDirectory, collector *monitoring.PrometheusCollector, logger *zap.SugaredLogger) *Registry {
	return &Registry{
		directory: directory,
		logger:    logger,
		collector: collector,
		rooms:     make(map[roomKey]*Room),
	}
}

// GetOrCreate returns the room for (sessionID, streamID), creating it
// on first use.
func (r *Registry) GetOrCreate(sessionID domain.SessionID, streamID string) *Room {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getOrCreateLocked(roomKey{sessionID: sessionID, streamID: streamID})
}

func (r *Registry) getOrCreateLocked(key roomKey) *Room {
	if room, ok := r.rooms[key]; ok {
		return room
	}

	var metrics *roomMetrics
	if r.collector != nil {
		metrics = &roomMetrics{
			mediaForwarded: r.collector.RecordMediaForwarded,
			controlForward: r.collector.RecordControlForwarded,
		}
	}

	room := newRoom(key.sessionID, key.streamID, r.logger, metrics)
	r.rooms[key] = room
	if r.collector != nil {
		r.collector.RecordRoomOpened()
	}
	r.logger.Infow("room created", "session_id", key.sessionID, "stream_id", key.streamID)
	return room
}

// Attach installs s in the room for (sessionID, streamID), creating
// the room if needed. Lookup and attach share one critical section so
// a concurrent Release of the room's last socket can never leave s in
// a room already deleted from the registry. A replaced host is closed
// after the lock is dropped.
func (r *Registry) Attach(sessionID domain.SessionID, streamID string, s *socket) *Room {
	key := roomKey{sessionID: sessionID, streamID: streamID}

	r.mu.Lock()
	room := r.getOrCreateLocked(key)
	var replaced *socket
	var clients int
	if s.role == domain.RoleHost {
		replaced = room.attachHost(s)
	} else {
		clients = room.attachClient(s)
	}
	r.mu.Unlock()

	if replaced != nil {
		replaced.closeWith(ClosePolicyViolation, "replaced by newer host connection")
		r.logger.Infow("host replaced", "session_id", sessionID, "stream_id", streamID)
	}
	if s.role == domain.RoleClient {
		r.logger.Infow("client joined room",
			"session_id", sessionID,
			"stream_id", streamID,
			"clients", clients,
		)
	}
	return room
}

// Release detaches s from its room and deletes the room once empty.
func (r *Registry) Release(room *Room, s *socket) {
	if !room.Detach(s) {
		return
	}

	key := roomKey{sessionID: room.sessionID, streamID: room.streamID}
	r.mu.Lock()
	if current, ok := r.rooms[key]; ok && current == room && room.Empty() {
		delete(r.rooms, key)
		if r.collector != nil {
			r.collector.RecordRoomClosed(room.streamID)
		}
		r.logger.Infow("room removed", "session_id", room.sessionID, "stream_id", room.streamID)
	}
	r.mu.Unlock()
}

// RoomCount returns the number of live rooms.
func (r *Registry) RoomCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

// Sweep closes rooms whose session is no longer in a streamable
// status. A directory miss counts as gone.
func (r *Registry) Sweep(ctx context.Context) {
	r.mu.Lock()
	snapshot := make(map[roomKey]*Room, len(r.rooms))
	for key, room := range r.rooms {
		snapshot[key] = room
	}
	r.mu.Unlock()

	for key, room := range snapshot {
		session, err := r.directory.Get(ctx, key.sessionID)
		if err == nil && session.Status.Streamable() {
			continue
		}

		status := "missing"
		if err == nil {
			status = string(session.Status)
		}
		r.logger.Infow("sweeping room for dead session",
			"session_id", key.sessionID,
			"stream_id", key.streamID,
			"status", status,
		)

		room.CloseAll(ClosePolicyViolation, "session no longer streamable")

		r.mu.Lock()
		if current, ok := r.rooms[key]; ok && current == room {
			delete(r.rooms, key)
			if r.collector != nil {
				r.collector.RecordRoomClosed(key.streamID)
			}
		}
		r.mu.Unlock()
	}
}

// RunSweeper runs Sweep on the given interval until ctx is done.
func (r *Registry) RunSweeper(ctx context.Context, interval time.Duration, connects *connectLimiter) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ctx)
			if connects != nil {
				connects.Prune()
			}
		}
	}
}

// Shutdown closes every socket in every room and clears the room set.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	rooms := make([]*Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		rooms = append(rooms, room)
	}
	r.rooms = make(map[roomKey]*Room)
	r.mu.Unlock()

	for _, room := range rooms {
		room.CloseAll(CloseTryAgainLater, "relay shutting down")
	}
}
