package version

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"mdcollab/internal/document"
	"mdcollab/internal/session"
)

func newTestScheduler(t *testing.T) *Scheduler {
	t.Helper()
	sched, err := New(document.New(), session.NewRegistry(), 20*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		sched.Stop()
	})
	if err := sched.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	return sched
}

func waitForVersion(t *testing.T, sched *Scheduler, want uint64) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if v, _ := sched.CurrentState(); v >= want {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for version %d", want)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestSubmitInsertCommits(t *testing.T) {
	sched := newTestScheduler(t)
	sched.Registry().Add(newTestSession(t, "alice", session.RoleWrite))
	sess := sched.Registry().All()[0]

	sched.Submit(sess, "INSERT 0 Hello")
	waitForVersion(t, sched, 1)

	_, snapshot := sched.CurrentState()
	if string(snapshot) != "Hello" {
		t.Fatalf("snapshot: got %q", snapshot)
	}
}

func TestSubmitRejectsReadOnlyWrite(t *testing.T) {
	sched := newTestScheduler(t)
	buf := &bytes.Buffer{}
	sess := session.New("bob", session.RoleRead, buf, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sess.Run(ctx)
	sched.Registry().Add(sess)

	sched.Submit(sess, "INSERT 0 x")
	time.Sleep(100 * time.Millisecond)

	if v, snap := sched.CurrentState(); v != 0 || len(snap) != 0 {
		t.Fatalf("expected no commit for unauthorized write, got version=%d snapshot=%q", v, snap)
	}
}

func TestSubmitDocQueryBypassesQueue(t *testing.T) {
	sched := newTestScheduler(t)
	buf := &bytes.Buffer{}
	sess := session.New("alice", session.RoleWrite, buf, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sess.Run(ctx)
	sched.Registry().Add(sess)

	sched.Submit(sess, "INSERT 0 Hi")
	waitForVersion(t, sched, 1)

	sched.Submit(sess, "DOC?")
	time.Sleep(50 * time.Millisecond)
	if got := buf.String(); !strings.Contains(got, "\nHi\n") {
		t.Fatalf("expected the DOC? reply %q to be written, got %q", "Hi", got)
	}
}

func newTestSession(t *testing.T, username string, role session.Role) *session.Session {
	t.Helper()
	buf := &bytes.Buffer{}
	sess := session.New(username, role, buf, nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go sess.Run(ctx)
	return sess
}
