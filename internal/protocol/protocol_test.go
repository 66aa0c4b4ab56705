package protocol

import "testing"

func TestParseInsert(t *testing.T) {
	cmd, err := Parse("INSERT 3 Hello World")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cmd.Opcode != OpInsert || cmd.Pos != 3 || cmd.Content != "Hello World" {
		t.Fatalf("got %+v", cmd)
	}
}

func TestParseInsertMissingContent(t *testing.T) {
	if _, err := Parse("INSERT 3"); err != ErrMalformed {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestParseDelete(t *testing.T) {
	cmd, err := Parse("DEL 2 5")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cmd.Pos != 2 || cmd.Length != 5 {
		t.Fatalf("got %+v", cmd)
	}
}

func TestParseHeading(t *testing.T) {
	cmd, err := Parse("HEADING 2 10")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cmd.Level != 2 || cmd.Pos != 10 {
		t.Fatalf("got %+v", cmd)
	}
}

func TestParseBold(t *testing.T) {
	cmd, err := Parse("BOLD 0 5")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cmd.Start != 0 || cmd.End != 5 {
		t.Fatalf("got %+v", cmd)
	}
}

func TestParseLink(t *testing.T) {
	cmd, err := Parse("LINK 4 8 https://example.com/a b")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cmd.Start != 4 || cmd.End != 8 || cmd.URL != "https://example.com/a b" {
		t.Fatalf("got %+v", cmd)
	}
}

func TestParseOutOfBand(t *testing.T) {
	for _, op := range []string{"DOC?", "PERM?"} {
		cmd, err := Parse(op)
		if err != nil {
			t.Fatalf("parse %s: %v", op, err)
		}
		if cmd.Opcode != op {
			t.Fatalf("got %+v", cmd)
		}
	}
}

func TestParseUnknownOpcode(t *testing.T) {
	if _, err := Parse("FROBNICATE 1 2"); err != ErrMalformed {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestParseBadInteger(t *testing.T) {
	if _, err := Parse("DEL x 2"); err != ErrMalformed {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestRequiresWrite(t *testing.T) {
	if !RequiresWrite(OpInsert) {
		t.Error("INSERT should require write")
	}
	if RequiresWrite(OpDocQuery) {
		t.Error("DOC? should not require write")
	}
}

func TestBroadcastLines(t *testing.T) {
	lines := BroadcastLines(3, []Edit{{Username: "alice", Opcode: OpInsert, RawArgs: "0 Hello"}})
	want := []string{"VERSION 3", "EDIT alice INSERT 0 Hello", "END"}
	if len(lines) != len(want) {
		t.Fatalf("got %v want %v", lines, want)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d: got %q want %q", i, lines[i], want[i])
		}
	}
}

func TestBroadcastLinesEmpty(t *testing.T) {
	lines := BroadcastLines(1, nil)
	want := []string{"VERSION 1", "END"}
	if len(lines) != len(want) || lines[0] != want[0] || lines[1] != want[1] {
		t.Fatalf("got %v want %v", lines, want)
	}
}

func TestFormatUnauthorised(t *testing.T) {
	if got := FormatUnauthorised(OpInsert, "write", "read"); got != "UNAUTHORISED INSERT write read" {
		t.Errorf("got %q", got)
	}
}
