package session

import (
	"bufio"
	"bytes"
	"context"
	"strings"
	"testing"
	"time"
)

func TestSendAndRun(t *testing.T) {
	var buf bytes.Buffer
	s := New("alice", RoleWrite, &buf, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	s.Send("VERSION 1")
	s.Send("END")

	deadline := time.After(time.Second)
	for {
		if strings.Count(buf.String(), "\n") >= 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for writes")
		default:
		}
	}

	cancel()
	<-done

	sc := bufio.NewScanner(&buf)
	var lines []string
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if len(lines) != 2 || lines[0] != "VERSION 1" || lines[1] != "END" {
		t.Fatalf("got %v", lines)
	}
}

func TestSendAfterOfflineIsNoOp(t *testing.T) {
	var buf bytes.Buffer
	s := New("bob", RoleRead, &buf, nil)
	s.SetOffline()
	s.Send("should not panic or block")
}

func TestRegistrySweepDisconnected(t *testing.T) {
	r := NewRegistry()
	a := New("alice", RoleWrite, &bytes.Buffer{}, nil)
	b := New("bob", RoleRead, &bytes.Buffer{}, nil)
	r.Add(a)
	r.Add(b)

	if got := r.Len(); got != 2 {
		t.Fatalf("expected 2 sessions, got %d", got)
	}

	a.SetOffline()
	drained := r.SweepDisconnected()
	if len(drained) != 1 || drained[0] != a {
		t.Fatalf("expected only alice drained, got %v", drained)
	}
	if !a.Drained() {
		t.Error("expected alice to be marked drained")
	}
	if got := r.Len(); got != 1 {
		t.Fatalf("expected 1 session remaining, got %d", got)
	}
}
