// Package transport implements the client rendezvous over a Unix domain
// socket, substituting for spec.md §4.D's named-pipe-plus-SIGRTMIN
// bootstrap per the design note in spec.md §9 ("An implementation may
// substitute any mechanism... provided the observable handshake
// sequence... is preserved bit-exact"). One accepted connection is one
// session; the five-part reply (role, version, length, bytes, blank
// line) is written exactly as spec.md §4.D describes.
//
// Grounded on the teacher's net.Listener-based accept-loop-plus-
// graceful-drain shape (internal/server/server.go's Server.ServeTCP/Stop
// and the inFlight-WaitGroup drain pattern in lifecycle.go), swapped
// from TCP to "unix" sockets since all clients are local processes
// (spec.md §1).
package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"

	"mdcollab/internal/logging"
	"mdcollab/internal/session"
	"mdcollab/internal/version"
)

// RoleLookup resolves a username to its authorized role. A miss rejects
// the handshake.
type RoleLookup func(username string) (session.Role, bool)

// Server accepts client connections on a Unix domain socket, performs
// the handshake, and hands each accepted session to the scheduler.
type Server struct {
	socketPath string
	sched      *version.Scheduler
	roles      RoleLookup
	logger     *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	inFlight sync.WaitGroup
}

// New creates a transport server listening at socketPath once Serve is
// called.
func New(socketPath string, sched *version.Scheduler, roles RoleLookup, logger *slog.Logger) *Server {
	return &Server{
		socketPath: socketPath,
		sched:      sched,
		roles:      roles,
		logger:     logging.Default(logger).With("component", "transport"),
	}
}

// Serve listens on the Unix socket and accepts connections until ctx is
// cancelled or Stop is called. It removes any stale socket file left
// behind by a prior, uncleanly terminated run before binding.
func (s *Server) Serve(ctx context.Context) error {
	if err := os.RemoveAll(s.socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale socket %s: %w", s.socketPath, err)
	}

	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.socketPath, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info("listening", "socket", s.socketPath)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				s.inFlight.Wait()
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		s.inFlight.Add(1)
		go func() {
			defer s.inFlight.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

// Stop closes the listener, unblocking Accept. Already-accepted
// connections continue draining via their own session lifecycle.
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	_ = os.RemoveAll(s.socketPath)
}

// handleConn performs the handshake and, on success, runs the session's
// write goroutine and read loop until disconnect.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	reader := bufio.NewReader(conn)
	username, err := reader.ReadString('\n')
	if err != nil {
		s.logger.Warn("handshake read failed", "error", err)
		return
	}
	username = trimLine(username)

	role, ok := s.roles(username)
	if !ok {
		fmt.Fprintf(conn, "Reject UNAUTHORISED\n")
		return
	}

	sess := session.New(username, role, conn, s.logger)
	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sess.Run(sessCtx)
	}()

	docVersion, snapshot := s.sched.CurrentState()
	if err := writeHandshakeReply(conn, role, docVersion, snapshot); err != nil {
		s.logger.Warn("handshake reply failed", "username", username, "error", err)
		sess.SetOffline()
		cancel()
		wg.Wait()
		return
	}

	s.sched.Registry().Add(sess)
	s.logger.Info("session connected", "username", username, "role", role)

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			sess.SetOffline()
			break
		}
		line = trimLine(line)
		if line == "" {
			continue
		}
		if line == "DISCONNECT" {
			sess.SetOffline()
			break
		}
		s.sched.Submit(sess, line)
	}

	// Wait for the scheduler's sweep to observe online==false and drain
	// this session before closing the connection — the drain contract
	// that stops the scheduler from ever dispatching to a session
	// pointer the transport has already freed.
	select {
	case <-sess.DrainedChan():
	case <-ctx.Done():
	}
	cancel()
	wg.Wait()
}

// writeHandshakeReply writes the five-part handshake reply spec.md
// §4.D describes: role, version, length, bytes, then a blank line.
func writeHandshakeReply(conn net.Conn, role session.Role, version uint64, snapshot []byte) error {
	if _, err := fmt.Fprintf(conn, "%s\n", role); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(conn, "%d\n", version); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(conn, "%d\n", len(snapshot)); err != nil {
		return err
	}
	if _, err := conn.Write(snapshot); err != nil {
		return err
	}
	if _, err := fmt.Fprint(conn, "\n"); err != nil {
		return err
	}
	return nil
}

func trimLine(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
