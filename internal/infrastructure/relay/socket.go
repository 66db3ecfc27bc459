package relay

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"lancast/internal/core/domain"
)

// Relay close codes. Policy and validation failures use 1008, internal
// errors 1011, rate-limit violations 1013.
const (
	ClosePolicyViolation = websocket.ClosePolicyViolation // 1008
	CloseInternalErr     = websocket.CloseInternalServerErr
	CloseTryAgainLater   = websocket.CloseTryAgainLater // 1013
)

const socketWriteTimeout = 5 * time.Second

// socket is a relay connection with its admission metadata attached.
// All connection state lives here rather than in a side table keyed by
// the raw conn.
type socket struct {
	conn        *websocket.Conn
	role        domain.RelayRole
	token       *domain.StreamToken
	remoteIP    string
	connectedAt time.Time

	// hostBytes is set for host sockets, clientMsgs for clients.
	hostBytes  *byteWindow
	clientMsgs *rate.Limiter

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func newSocket(conn *websocket.Conn, role domain.RelayRole, token *domain.StreamToken, remoteIP string) *socket {
	return &socket{
		conn:        conn,
		role:        role,
		token:       token,
		remoteIP:    remoteIP,
		connectedAt: time.Now(),
	}
}

// write sends one message under the socket's write lock with a
// deadline, so a stalled peer cannot block a broadcast for long.
func (s *socket) write(messageType int, payload []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.conn.SetWriteDeadline(time.Now().Add(socketWriteTimeout))
	return s.conn.WriteMessage(messageType, payload)
}

// closeWith sends a close frame with the given code, then tears the
// connection down. Safe to call more than once.
func (s *socket) closeWith(code int, reason string) {
	s.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(code, reason)

		s.writeMu.Lock()
		s.conn.SetWriteDeadline(time.Now().Add(time.Second))
		s.conn.WriteMessage(websocket.CloseMessage, msg)
		s.writeMu.Unlock()

		s.conn.Close()
	})
}
