// Package version implements the tick-based versioning and
// command-batching pipeline: the fixed-interval loop that drains the
// current version slot's command queue, dispatches each command to the
// document engine under version_lock, commits, and broadcasts.
//
// Grounded on the teacher's internal/orchestrator.Scheduler
// (scheduler.go), which registers gocron jobs under its own mutex and
// logs at job-lifecycle boundaries; generalized from a named cron-job
// registry to a single fixed-interval tick plus a session sweep job.
package version

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"golang.org/x/sync/errgroup"

	"mdcollab/internal/document"
	"mdcollab/internal/logging"
	"mdcollab/internal/protocol"
	"mdcollab/internal/session"
)

const tickJobName = "document-tick"
const sweepJobName = "session-sweep"

// queuedCommand is one accepted-but-not-yet-applied command, appended to
// the current version slot by a session's intake goroutine and drained
// by the next tick. It plays the role of the spec's singly linked
// command-queue node; a Go slice under version_lock serves the same
// purpose without hand-rolled list bookkeeping.
type queuedCommand struct {
	cmd    protocol.Command
	sender *session.Session
}

// Scheduler owns the document, the current version slot's command queue,
// and the session registry. The document and the queue are guarded by a
// single version_lock (spec.md §5) — the document engine itself is never
// locked; the registry is guarded by its own lock (clients_lock).
type Scheduler struct {
	mu    sync.Mutex // version_lock
	doc   *document.Document
	queue []queuedCommand

	registry *session.Registry
	logger   *slog.Logger

	gocronSched  gocron.Scheduler
	tickInterval time.Duration
	ctx          context.Context
}

// New creates a scheduler over doc and registry, ticking every interval.
func New(doc *document.Document, registry *session.Registry, interval time.Duration, logger *slog.Logger) (*Scheduler, error) {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	gs, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create tick scheduler: %w", err)
	}
	return &Scheduler{
		doc:          doc,
		registry:     registry,
		logger:       logging.Default(logger).With("component", "version"),
		gocronSched:  gs,
		tickInterval: interval,
	}, nil
}

// Start registers the tick job and the session-sweep job and begins
// running them. The sweep job runs on the same cadence as the tick so
// that a disconnected session is reclaimed within at most one tick
// interval (spec.md §8 scenario 6), while still using its own lock
// (internal/session.Registry's clients_lock) rather than version_lock,
// since sweeping never touches the document.
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx = ctx
	if _, err := s.gocronSched.NewJob(
		gocron.DurationJob(s.tickInterval),
		gocron.NewTask(s.tick),
		gocron.WithName(tickJobName),
	); err != nil {
		return fmt.Errorf("register tick job: %w", err)
	}
	if _, err := s.gocronSched.NewJob(
		gocron.DurationJob(s.tickInterval),
		gocron.NewTask(s.sweep),
		gocron.WithName(sweepJobName),
	); err != nil {
		return fmt.Errorf("register sweep job: %w", err)
	}
	s.gocronSched.Start()
	s.logger.Info("scheduler started", "interval", s.tickInterval)
	return nil
}

// CurrentState returns the document's committed version and flattened
// snapshot as of the last tick, taken under version_lock — the same
// consistent pair the handshake (internal/transport) pushes to a newly
// connected client.
func (s *Scheduler) CurrentState() (version uint64, snapshot []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Version(), s.doc.Snapshot()
}

// Registry returns the session registry, for callers (internal/transport,
// internal/adminhttp) that need to register new sessions or report status.
func (s *Scheduler) Registry() *session.Registry { return s.registry }

// Stop shuts the tick scheduler down.
func (s *Scheduler) Stop() error {
	if err := s.gocronSched.Shutdown(); err != nil {
		return fmt.Errorf("shutdown tick scheduler: %w", err)
	}
	return nil
}

// Submit handles one inbound line from sender. Out-of-band queries
// (DOC?, PERM?) are answered immediately, bypassing the version queue
// entirely, since they never mutate the document. Everything else is
// appended to the current version slot for the next tick to drain.
func (s *Scheduler) Submit(sender *session.Session, line string) {
	cmd, err := protocol.Parse(line)
	if err != nil {
		sender.Send(protocol.ResultLine(document.ResultInvalidPosition))
		return
	}

	switch cmd.Opcode {
	case protocol.OpDocQuery:
		s.mu.Lock()
		snapshot := s.doc.Snapshot()
		s.mu.Unlock()
		sender.Send(string(snapshot))
		return
	case protocol.OpPermQuery:
		sender.Send(string(sender.Role))
		return
	}

	s.mu.Lock()
	s.queue = append(s.queue, queuedCommand{cmd: cmd, sender: sender})
	s.mu.Unlock()
}

// tick is the scheduler's Accepting→Draining→Closed state transition,
// run once per interval under version_lock: drain the queue, dispatch
// each command, conditionally commit, and broadcast.
func (s *Scheduler) tick() {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := s.queue
	s.queue = nil

	var edits []protocol.Edit
	for _, q := range pending {
		res := s.apply(q)
		if res == document.ResultSuccess {
			edits = append(edits, protocol.Edit{
				Username: q.sender.Username,
				Opcode:   q.cmd.Opcode,
				RawArgs:  q.cmd.RawArgs,
			})
		}
	}

	newVersion, committed := s.doc.CommitIfDirty()
	if !committed {
		if len(pending) > 0 {
			s.logger.Debug("tick drained with no committed mutation", "commands", len(pending))
		}
		return
	}

	s.logger.Info("tick committed", "version", newVersion, "edits", len(edits))
	s.broadcast(newVersion, edits)
}

// apply authorizes and dispatches a single queued command, writing its
// per-command reply directly to the sender (spec.md §4.E: errors and
// results are reported on the originating sender's channel, never
// broadcast).
func (s *Scheduler) apply(q queuedCommand) document.Result {
	if protocol.RequiresWrite(q.cmd.Opcode) && q.sender.Role != session.RoleWrite {
		q.sender.Send(protocol.FormatUnauthorised(q.cmd.Opcode, string(session.RoleWrite), string(q.sender.Role)))
		return document.ResultRejected
	}

	res := s.dispatch(q.cmd)
	q.sender.Send(protocol.ResultLine(res))
	return res
}

func (s *Scheduler) dispatch(cmd protocol.Command) document.Result {
	switch cmd.Opcode {
	case protocol.OpInsert:
		return s.doc.Insert(cmd.Pos, cmd.Content)
	case protocol.OpDelete:
		return s.doc.Delete(cmd.Pos, cmd.Length)
	case protocol.OpNewline:
		return s.doc.Newline(cmd.Pos)
	case protocol.OpHeading:
		return s.doc.Heading(cmd.Level, cmd.Pos)
	case protocol.OpBold:
		return s.doc.Bold(cmd.Start, cmd.End)
	case protocol.OpItalic:
		return s.doc.Italic(cmd.Start, cmd.End)
	case protocol.OpCode:
		return s.doc.Code(cmd.Start, cmd.End)
	case protocol.OpBlockquote:
		return s.doc.Blockquote(cmd.Pos)
	case protocol.OpUnorderedList:
		return s.doc.UnorderedList(cmd.Pos)
	case protocol.OpOrderedList:
		return s.doc.OrderedList(cmd.Pos)
	case protocol.OpHorizontalRule:
		return s.doc.HorizontalRule(cmd.Pos)
	case protocol.OpLink:
		return s.doc.Link(cmd.Start, cmd.End, cmd.URL)
	default:
		return document.ResultInvalidPosition
	}
}

// broadcast fans the committed tick's frame out to every live session
// concurrently, the same golang.org/x/sync/errgroup pattern the teacher
// uses in internal/index/build.go to parallelize independent per-chunk
// work — here parallelizing independent per-session writes. The caller
// still holds version_lock until every goroutine returns, so broadcasts
// for version N are guaranteed visible to every session before version
// N+1 can commit (spec.md §5).
func (s *Scheduler) broadcast(newVersion uint64, edits []protocol.Edit) {
	lines := protocol.BroadcastLines(newVersion, edits)
	sessions := s.registry.All()

	ctx := s.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	g, _ := errgroup.WithContext(ctx)
	for _, sess := range sessions {
		sess := sess
		g.Go(func() error {
			for _, line := range lines {
				sess.Send(line)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// sweep reclaims sessions the registry has observed offline. It never
// touches the document and so never needs version_lock.
func (s *Scheduler) sweep() {
	drained := s.registry.SweepDisconnected()
	for _, sess := range drained {
		s.logger.Info("session drained", "username", sess.Username)
	}
}
