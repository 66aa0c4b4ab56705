package transport

import (
	"bufio"
	"context"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"mdcollab/internal/document"
	"mdcollab/internal/session"
	"mdcollab/internal/version"
)

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	doc := document.New()
	registry := session.NewRegistry()
	sched, err := version.New(doc, registry, 20*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("version.New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := sched.Start(ctx); err != nil {
		t.Fatalf("sched.Start: %v", err)
	}
	t.Cleanup(func() { sched.Stop() })

	roles := map[string]session.Role{"alice": session.RoleWrite, "bob": session.RoleRead}
	lookup := func(username string) (session.Role, bool) {
		r, ok := roles[username]
		return r, ok
	}

	socketPath := filepath.Join(t.TempDir(), "mdcollab.sock")
	srv := New(socketPath, sched, lookup, nil)
	return srv, socketPath
}

func startServing(t *testing.T, srv *Server) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ctx) }()
	// Give the listener a moment to bind.
	time.Sleep(30 * time.Millisecond)
	return cancel
}

func dial(t *testing.T, socketPath string) net.Conn {
	t.Helper()
	var conn net.Conn
	var err error
	for i := 0; i < 20; i++ {
		conn, err = net.Dial("unix", socketPath)
		if err == nil {
			return conn
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("dial: %v", err)
	return nil
}

func TestHandshakeAcceptedForKnownUser(t *testing.T) {
	srv, socketPath := newTestServer(t)
	cancel := startServing(t, srv)
	defer cancel()

	conn := dial(t, socketPath)
	defer conn.Close()

	if _, err := conn.Write([]byte("alice\n")); err != nil {
		t.Fatalf("write username: %v", err)
	}

	r := bufio.NewReader(conn)
	roleLine, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read role: %v", err)
	}
	if strings.TrimSpace(roleLine) != "write" {
		t.Fatalf("expected role write, got %q", roleLine)
	}

	versionLine, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read version: %v", err)
	}
	if strings.TrimSpace(versionLine) != "0" {
		t.Fatalf("expected version 0, got %q", versionLine)
	}

	lengthLine, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read length: %v", err)
	}
	if strings.TrimSpace(lengthLine) != "0" {
		t.Fatalf("expected snapshot length 0, got %q", lengthLine)
	}

	blank, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read blank separator: %v", err)
	}
	if strings.TrimSpace(blank) != "" {
		t.Fatalf("expected blank separator, got %q", blank)
	}
}

func TestHandshakeRejectedForUnknownUser(t *testing.T) {
	srv, socketPath := newTestServer(t)
	cancel := startServing(t, srv)
	defer cancel()

	conn := dial(t, socketPath)
	defer conn.Close()

	if _, err := conn.Write([]byte("mallory\n")); err != nil {
		t.Fatalf("write username: %v", err)
	}

	r := bufio.NewReader(conn)
	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read reject: %v", err)
	}
	if strings.TrimSpace(line) != "Reject UNAUTHORISED" {
		t.Fatalf("expected rejection, got %q", line)
	}
}

func TestDisconnectCommandEndsSession(t *testing.T) {
	srv, socketPath := newTestServer(t)
	cancel := startServing(t, srv)
	defer cancel()

	conn := dial(t, socketPath)

	if _, err := conn.Write([]byte("bob\n")); err != nil {
		t.Fatalf("write username: %v", err)
	}
	r := bufio.NewReader(conn)
	for i := 0; i < 4; i++ {
		if _, err := r.ReadString('\n'); err != nil {
			t.Fatalf("read handshake line %d: %v", i, err)
		}
	}

	if _, err := conn.Write([]byte("DISCONNECT\n")); err != nil {
		t.Fatalf("write disconnect: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for srv.sched.Registry().Len() != 0 {
		select {
		case <-deadline:
			t.Fatal("session was never swept from the registry")
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
	conn.Close()
}
