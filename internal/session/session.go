// Package session models a connected client: its role, its outbound
// write queue, and the online/drained lifecycle flags the version
// scheduler's drain contract depends on.
//
// The spec's Session data model lists "two message channels (inbound,
// outbound)". Inbound is the net.Conn's read side, owned by the
// transport's per-connection reader loop (internal/transport) — there is
// no separate Go channel for it. Outbound is a real buffered channel
// here: a dedicated writer goroutine drains it so the scheduler's
// broadcast fan-out (internal/version) never blocks on a slow client's
// socket while holding version_lock.
package session

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"mdcollab/internal/logging"
)

// Role is a session's authorization level.
type Role string

const (
	RoleRead  Role = "read"
	RoleWrite Role = "write"
)

// outboundBuffer is the number of pending broadcast/reply lines a slow
// session may accumulate before Send starts dropping and disconnecting it.
const outboundBuffer = 256

// Session is one connected client.
type Session struct {
	ID       string
	Username string
	Role     Role

	w      io.Writer
	logger *slog.Logger

	// sendMu guards against Send racing SetOffline's channel close: Send
	// holds the read lock across its online check and its enqueue so a
	// concurrent SetOffline (write lock) cannot close outbound in between,
	// which would otherwise panic a send-on-closed-channel.
	sendMu sync.RWMutex

	outbound chan string
	online   atomic.Bool
	drained  atomic.Bool
	drainedC chan struct{}
}

// New creates a session writing to w (the client connection's write
// side). The caller is responsible for starting Run in its own goroutine.
func New(username string, role Role, w io.Writer, logger *slog.Logger) *Session {
	s := &Session{
		ID:       uuid.Must(uuid.NewV7()).String(),
		Username: username,
		Role:     role,
		w:        w,
		logger:   logging.Default(logger).With("component", "session", "username", username),
		outbound: make(chan string, outboundBuffer),
		drainedC: make(chan struct{}),
	}
	s.online.Store(true)
	return s
}

// Run drains the outbound queue, writing one line at a time, until ctx is
// cancelled or the queue is closed. It returns when the session can no
// longer be written to.
func (s *Session) Run(ctx context.Context) {
	bw := bufio.NewWriter(s.w)
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-s.outbound:
			if !ok {
				return
			}
			if _, err := bw.WriteString(line); err != nil {
				s.SetOffline()
				return
			}
			if _, err := bw.WriteString("\n"); err != nil {
				s.SetOffline()
				return
			}
			if err := bw.Flush(); err != nil {
				s.SetOffline()
				return
			}
		}
	}
}

// Send enqueues a line for delivery. Best-effort: a session whose
// outbound queue is full is treated as unresponsive and taken offline
// rather than letting one slow client stall the tick's broadcast
// fan-out.
func (s *Session) Send(line string) {
	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	if !s.Online() {
		return
	}
	select {
	case s.outbound <- line:
	default:
		s.logger.Warn("outbound queue full, disconnecting session")
		go s.SetOffline()
	}
}

// Online reports whether the session is still considered connected.
func (s *Session) Online() bool { return s.online.Load() }

// SetOffline marks the session disconnected. Idempotent. Takes the write
// side of sendMu so it cannot close outbound while a Send call is
// concurrently enqueueing to it.
func (s *Session) SetOffline() {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.online.CompareAndSwap(true, false) {
		close(s.outbound)
	}
}

// Drained reports whether the scheduler has observed this session
// offline and removed it from the registry.
func (s *Session) Drained() bool { return s.drained.Load() }

// DrainedChan returns a channel closed the moment MarkDrained runs, so a
// caller (internal/transport) can wait for it without polling.
func (s *Session) DrainedChan() <-chan struct{} { return s.drainedC }

// MarkDrained is called by the scheduler's sweep once it has observed
// online==false and unlinked the session from the registry. Only after
// this may the transport layer close the underlying connection.
func (s *Session) MarkDrained() {
	if s.drained.CompareAndSwap(false, true) {
		close(s.drainedC)
	}
}
