// Package adminhttp exposes a single bearer-token-gated status endpoint
// for operators: live session count, document version, and per-session
// role/online state. It is supplemental to spec.md — there is no
// status surface in the protocol itself — grounded on the teacher's
// /metrics handler pattern (internal/server/metrics.go's
// mux.HandleFunc/http.ResponseWriter shape) and its JWT auth layer
// (internal/auth.TokenService), generalized from a Prometheus text
// exposition format to a small JSON status document since there is no
// Prometheus scrape target in this system (spec.md §1 Non-goals exclude
// observability infrastructure, but not the ambient status surface
// itself).
package adminhttp

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"mdcollab/internal/auth"
	"mdcollab/internal/logging"
	"mdcollab/internal/version"
)

// tokenLifetime is long-lived on purpose: the token is issued once at
// server startup and logged, not refreshed per request.
const tokenLifetime = 24 * time.Hour

// Server serves GET /status behind a bearer token issued at startup.
type Server struct {
	sched  *version.Scheduler
	tokens *auth.TokenService
	logger *slog.Logger
	addr   string

	http *http.Server
}

// New creates an admin HTTP server bound to addr (e.g. "127.0.0.1:0"),
// issuing and logging the admin bearer token it will require. Returns
// the server and the token to surface to the operator (spec.md's own
// startup log line prints the PID the same way; this token line is the
// equivalent for the admin endpoint).
func New(addr string, sched *version.Scheduler, logger *slog.Logger) (*Server, string, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, "", fmt.Errorf("generate admin secret: %w", err)
	}

	tokens := auth.NewTokenService(secret, tokenLifetime)
	token, _, err := tokens.Issue("admin", "admin")
	if err != nil {
		return nil, "", fmt.Errorf("issue admin token: %w", err)
	}

	s := &Server{
		sched:  sched,
		tokens: tokens,
		logger: logging.Default(logger).With("component", "adminhttp"),
		addr:   addr,
	}

	mux := http.NewServeMux()
	s.registerStatus(mux)
	s.http = &http.Server{Addr: addr, Handler: mux}

	return s, token, nil
}

// registerStatus registers GET /status, gated by the bearer token.
func (s *Server) registerStatus(mux *http.ServeMux) {
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		if _, err := s.authorize(r); err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}

		docVersion, snapshot := s.sched.CurrentState()
		sessions := s.sched.Registry().All()

		type sessionStatus struct {
			Username string `json:"username"`
			Role     string `json:"role"`
			Online   bool   `json:"online"`
		}
		status := struct {
			Version      uint64          `json:"version"`
			SnapshotSize int             `json:"snapshot_bytes"`
			Sessions     []sessionStatus `json:"sessions"`
		}{
			Version:      docVersion,
			SnapshotSize: len(snapshot),
			Sessions:     make([]sessionStatus, 0, len(sessions)),
		}
		for _, sess := range sessions {
			status.Sessions = append(status.Sessions, sessionStatus{
				Username: sess.Username,
				Role:     string(sess.Role),
				Online:   sess.Online(),
			})
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(status); err != nil {
			s.logger.Warn("encode status response", "error", err)
		}
	})
}

// authorize extracts and verifies the bearer token from r.
func (s *Server) authorize(r *http.Request) (*auth.Claims, error) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return nil, errors.New("missing bearer token")
	}
	return s.tokens.Verify(strings.TrimPrefix(header, prefix))
}

// Serve runs the HTTP server until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.http.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
