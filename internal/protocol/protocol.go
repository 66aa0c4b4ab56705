// Package protocol implements the wire format shared by every client
// connection: parsing inbound opcode lines, formatting per-command
// replies, and formatting the per-tick VERSION/EDIT*/END broadcast frame.
//
// Grounded on the teacher's orchestrator/route.go style of small,
// single-purpose formatting functions and its use of fmt.Fprintf against
// an io.Writer for line-oriented output.
package protocol

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"mdcollab/internal/document"
)

// Opcode names, exactly as they appear on the wire.
const (
	OpInsert         = "INSERT"
	OpDelete         = "DEL"
	OpNewline        = "NEWLINE"
	OpHeading        = "HEADING"
	OpBold           = "BOLD"
	OpItalic         = "ITALIC"
	OpCode           = "CODE"
	OpBlockquote     = "BLOCKQUOTE"
	OpOrderedList    = "ORDERED_LIST"
	OpUnorderedList  = "UNORDERED_LIST"
	OpHorizontalRule = "HORIZONTAL_RULE"
	OpLink           = "LINK"
	OpDocQuery       = "DOC?"
	OpPermQuery      = "PERM?"
)

// ErrMalformed is returned by Parse when a line's opcode is unrecognized
// or its arguments don't match the opcode's shape.
var ErrMalformed = errors.New("malformed command")

// writeOpcodes is the set of opcodes that mutate the document and
// therefore require role "write".
var writeOpcodes = map[string]bool{
	OpInsert: true, OpDelete: true, OpNewline: true, OpHeading: true,
	OpBold: true, OpItalic: true, OpCode: true, OpBlockquote: true,
	OpOrderedList: true, OpUnorderedList: true, OpHorizontalRule: true,
	OpLink: true,
}

// RequiresWrite reports whether opcode mutates the document.
func RequiresWrite(opcode string) bool { return writeOpcodes[opcode] }

// Command is a parsed inbound line.
type Command struct {
	Opcode string

	Pos     int
	Length  int
	Start   int
	End     int
	Level   int
	Content string
	URL     string

	// RawArgs is the argument text exactly as submitted, used to echo the
	// command into the EDIT broadcast line without re-deriving it from the
	// typed fields above.
	RawArgs string
}

// Parse splits a wire line into its opcode and typed arguments. Numeric
// arguments that fail to parse, or an argument count that doesn't match
// the opcode's shape, yield ErrMalformed — callers translate that into
// INVALID_POSITION, never a protocol-level failure.
func Parse(line string) (Command, error) {
	line = strings.TrimRight(line, "\r\n")
	head, rest, _ := strings.Cut(line, " ")
	opcode := strings.TrimSpace(head)
	if opcode == "" {
		return Command{}, ErrMalformed
	}
	cmd := Command{Opcode: opcode, RawArgs: rest}

	switch opcode {
	case OpDocQuery, OpPermQuery:
		return cmd, nil

	case OpInsert:
		posStr, content, ok := strings.Cut(rest, " ")
		if !ok {
			return Command{}, ErrMalformed
		}
		pos, err := strconv.Atoi(posStr)
		if err != nil {
			return Command{}, ErrMalformed
		}
		cmd.Pos = pos
		cmd.Content = content
		return cmd, nil

	case OpDelete:
		fields := strings.Fields(rest)
		if len(fields) != 2 {
			return Command{}, ErrMalformed
		}
		pos, err1 := strconv.Atoi(fields[0])
		length, err2 := strconv.Atoi(fields[1])
		if err1 != nil || err2 != nil {
			return Command{}, ErrMalformed
		}
		cmd.Pos, cmd.Length = pos, length
		return cmd, nil

	case OpNewline, OpBlockquote, OpUnorderedList, OpOrderedList, OpHorizontalRule:
		fields := strings.Fields(rest)
		if len(fields) != 1 {
			return Command{}, ErrMalformed
		}
		pos, err := strconv.Atoi(fields[0])
		if err != nil {
			return Command{}, ErrMalformed
		}
		cmd.Pos = pos
		return cmd, nil

	case OpHeading:
		fields := strings.Fields(rest)
		if len(fields) != 2 {
			return Command{}, ErrMalformed
		}
		level, err1 := strconv.Atoi(fields[0])
		pos, err2 := strconv.Atoi(fields[1])
		if err1 != nil || err2 != nil {
			return Command{}, ErrMalformed
		}
		cmd.Level, cmd.Pos = level, pos
		return cmd, nil

	case OpBold, OpItalic, OpCode:
		fields := strings.Fields(rest)
		if len(fields) != 2 {
			return Command{}, ErrMalformed
		}
		start, err1 := strconv.Atoi(fields[0])
		end, err2 := strconv.Atoi(fields[1])
		if err1 != nil || err2 != nil {
			return Command{}, ErrMalformed
		}
		cmd.Start, cmd.End = start, end
		return cmd, nil

	case OpLink:
		fields := strings.SplitN(rest, " ", 3)
		if len(fields) != 3 {
			return Command{}, ErrMalformed
		}
		start, err1 := strconv.Atoi(fields[0])
		end, err2 := strconv.Atoi(fields[1])
		if err1 != nil || err2 != nil {
			return Command{}, ErrMalformed
		}
		cmd.Start, cmd.End, cmd.URL = start, end, fields[2]
		return cmd, nil

	default:
		return Command{}, ErrMalformed
	}
}

// FormatUnauthorised renders the UNAUTHORISED reply line for a write
// opcode attempted by a non-write session.
func FormatUnauthorised(opcode, required, actual string) string {
	return fmt.Sprintf("UNAUTHORISED %s %s %s", opcode, required, actual)
}

// Edit describes one successfully applied write, for broadcast.
type Edit struct {
	Username string
	Opcode   string
	RawArgs  string
}

// WriteBroadcast writes the VERSION/EDIT*/END frame for a committed tick.
// The server only ever emits EDIT lines for commands that SUCCEEDED.
func WriteBroadcast(w io.Writer, version uint64, edits []Edit) error {
	bw := bufio.NewWriter(w)
	if _, err := fmt.Fprintf(bw, "VERSION %d\n", version); err != nil {
		return err
	}
	for _, e := range edits {
		if e.RawArgs == "" {
			if _, err := fmt.Fprintf(bw, "EDIT %s %s\n", e.Username, e.Opcode); err != nil {
				return err
			}
			continue
		}
		if _, err := fmt.Fprintf(bw, "EDIT %s %s %s\n", e.Username, e.Opcode, e.RawArgs); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprint(bw, "END\n"); err != nil {
		return err
	}
	return bw.Flush()
}

// BroadcastLines renders WriteBroadcast's output as individual lines,
// for transports (like internal/session) that queue one line at a time
// rather than writing a single framed blob.
func BroadcastLines(version uint64, edits []Edit) []string {
	lines := make([]string, 0, len(edits)+2)
	lines = append(lines, fmt.Sprintf("VERSION %d", version))
	for _, e := range edits {
		if e.RawArgs == "" {
			lines = append(lines, fmt.Sprintf("EDIT %s %s", e.Username, e.Opcode))
			continue
		}
		lines = append(lines, fmt.Sprintf("EDIT %s %s %s", e.Username, e.Opcode, e.RawArgs))
	}
	lines = append(lines, "END")
	return lines
}

// ResultLine renders a document.Result as its wire reply line.
func ResultLine(res document.Result) string { return res.String() }
