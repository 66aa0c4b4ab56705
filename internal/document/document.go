// Package document implements the Markdown editing operations layered over
// internal/chunk's piece-table chunk list: soft-delete, deferred
// compaction, and the flattened snapshot readers observe between ticks.
//
// Document is not internally locked. All writers are serialized by the
// scheduler's version_lock (internal/version); this mirrors the teacher's
// chunk/memory.Manager, which documents the same division of
// responsibility between a manager's own mutex and callers that need a
// wider critical section.
package document

import (
	"strings"

	"mdcollab/internal/chunk"
)

// Result is the outcome of a single command applied to the document.
type Result int

const (
	ResultSuccess Result = iota
	ResultInvalidPosition
	ResultDeletedPosition
	ResultOutdatedVersion
	ResultRejected
)

// String renders the result the way it appears on the wire (spec.md §4.E).
func (r Result) String() string {
	switch r {
	case ResultSuccess:
		return "SUCCESS"
	case ResultInvalidPosition:
		return "INVALID_POSITION"
	case ResultDeletedPosition:
		return "DELETED_POSITION"
	case ResultOutdatedVersion:
		return "OUTDATED_VERSION"
	case ResultRejected:
		return "REJECTED"
	default:
		return "INVALID_POSITION"
	}
}

// Document is a single authoritative Markdown document: a chunk list plus
// the bookkeeping (version, dirty flag, cached snapshot) the scheduler
// needs to batch and commit edits.
type Document struct {
	list     chunk.List
	version  uint64
	dirty    bool
	snapshot []byte
}

// New returns an empty document at version 0.
func New() *Document {
	return &Document{snapshot: []byte{}}
}

// Version returns the last committed version number.
func (d *Document) Version() uint64 { return d.version }

// Dirty reports whether any mutation has happened since the last commit.
func (d *Document) Dirty() bool { return d.dirty }

// Snapshot returns the cached flattened document as of the last committed
// version. Readers get a stable view without walking the chunk list or
// racing an in-flight tick.
func (d *Document) Snapshot() []byte {
	cp := make([]byte, len(d.snapshot))
	copy(cp, d.snapshot)
	return cp
}

// Compact removes tombstoned and zero-length chunks and rebuilds the
// cached snapshot. Called once per tick by the scheduler, never per
// command — soft-delete exists precisely so mid-tick positions stay
// stable across a batch (spec.md §4.B).
func (d *Document) Compact() {
	d.list.Compact()
	d.snapshot = d.list.Flatten()
}

// CommitIfDirty performs the scheduler's end-of-tick close step: if the
// document was mutated since the last commit, compact and bump the
// version. Returns the resulting version and whether a commit happened.
func (d *Document) CommitIfDirty() (version uint64, committed bool) {
	if !d.dirty {
		return d.version, false
	}
	d.Compact()
	d.version++
	d.dirty = false
	return d.version, true
}

func (d *Document) totalLen() int { return d.list.TotalLen() }

func (d *Document) byteAt(pos int) (byte, bool) {
	if pos < 0 {
		return 0, false
	}
	node, local, end := d.list.FindAt(pos)
	if end {
		return 0, false
	}
	return node.Text[local], true
}

// insertNode splices n into the chunk list at pos, validating bounds and
// marking the document dirty on success. Every inserting operation below
// is built on this and on wrapInline/ensureLineStart; Delete instead
// tombstones through the chunk list.
func (d *Document) insertNode(pos int, n *chunk.Node) Result {
	if pos < 0 || pos > d.totalLen() {
		return ResultInvalidPosition
	}
	_, at := d.list.Boundary(pos)
	d.list.InsertBefore(at, n)
	d.dirty = true
	return ResultSuccess
}

func (d *Document) insertText(pos int, text []byte) Result {
	return d.insertNode(pos, chunk.NewNode(text, chunk.RoleNormal))
}

// ensureLineStart guarantees pos begins a line, inserting a NEWLINE chunk
// first if it doesn't. Returns the (possibly shifted) position callers
// should insert their own marker at.
func (d *Document) ensureLineStart(pos int) (int, Result) {
	if pos < 0 || pos > d.totalLen() {
		return pos, ResultInvalidPosition
	}
	atLineStart := pos == 0
	if !atLineStart {
		if b, ok := d.byteAt(pos - 1); ok && b == '\n' {
			atLineStart = true
		}
	}
	if atLineStart {
		return pos, ResultSuccess
	}
	if res := d.insertNode(pos, chunk.NewNode([]byte("\n"), chunk.RoleNewline)); res != ResultSuccess {
		return pos, res
	}
	return pos + 1, ResultSuccess
}

// Insert splices content in as a new chunk at pos. A position equal to the
// document length appends; positions beyond it are INVALID_POSITION. An
// empty document's first insert becomes the head.
func (d *Document) Insert(pos int, content string) Result {
	return d.insertText(pos, []byte(content))
}

// Delete tombstones [pos, pos+length). length<=0 is a no-op; a span
// exceeding the document length truncates to the end.
func (d *Document) Delete(pos, length int) Result {
	total := d.totalLen()
	if pos < 0 || pos > total {
		return ResultInvalidPosition
	}
	if length <= 0 {
		return ResultSuccess
	}
	end := pos + length
	if end > total {
		end = total
	}
	if end <= pos {
		return ResultSuccess
	}
	d.list.TombstoneRange(pos, end)
	d.dirty = true
	return ResultSuccess
}

// Newline resets the chunk at pos to NORMAL (collapsing any list-item
// context), splices in a NEWLINE chunk, and renumbers ordered lists.
func (d *Document) Newline(pos int) Result {
	if pos < 0 || pos > d.totalLen() {
		return ResultInvalidPosition
	}
	if node, _, end := d.list.FindAt(pos); !end && node.Role != chunk.RoleNewline {
		node.Role = chunk.RoleNormal
	}
	res := d.insertNode(pos, chunk.NewNode([]byte("\n"), chunk.RoleNewline))
	if res == ResultSuccess {
		d.renumberLists()
	}
	return res
}

// Heading inserts a level-1..3 "#"-prefixed marker, guaranteeing it
// begins a line.
func (d *Document) Heading(level, pos int) Result {
	if level < 1 || level > 3 {
		return ResultInvalidPosition
	}
	newPos, res := d.ensureLineStart(pos)
	if res != ResultSuccess {
		return res
	}
	return d.insertText(newPos, []byte(strings.Repeat("#", level)+" "))
}

// wrapInline inserts the closing delimiter at end, then the opening
// delimiter at start — in that order, so the second insertion does not
// shift the first (spec.md §4.B).
func (d *Document) wrapInline(start, end int, delim string) Result {
	if start > end {
		return ResultInvalidPosition
	}
	total := d.totalLen()
	if start < 0 || end > total {
		return ResultInvalidPosition
	}
	if res := d.insertText(end, []byte(delim)); res != ResultSuccess {
		return res
	}
	return d.insertText(start, []byte(delim))
}

// Bold wraps [start,end) in "**".
func (d *Document) Bold(start, end int) Result { return d.wrapInline(start, end, "**") }

// Italic wraps [start,end) in "*".
func (d *Document) Italic(start, end int) Result { return d.wrapInline(start, end, "*") }

// Code wraps [start,end) in "`".
func (d *Document) Code(start, end int) Result { return d.wrapInline(start, end, "`") }

// Blockquote inserts "> " at pos, first inserting a NEWLINE at pos when pos
// is not already at the start of a line.
func (d *Document) Blockquote(pos int) Result {
	newPos, res := d.ensureLineStart(pos)
	if res != ResultSuccess {
		return res
	}
	return d.insertText(newPos, []byte("> "))
}

// UnorderedList inserts "- " at pos, first inserting a NEWLINE at pos when
// pos is not already at the start of a line. The chunk at pos must be
// RoleNormal; any other role is an invalid position.
func (d *Document) UnorderedList(pos int) Result {
	if pos < 0 || pos > d.totalLen() {
		return ResultInvalidPosition
	}
	if node, _, end := d.list.FindAt(pos); !end && node.Role != chunk.RoleNormal {
		return ResultInvalidPosition
	}
	newPos, res := d.ensureLineStart(pos)
	if res != ResultSuccess {
		return res
	}
	return d.insertNode(newPos, chunk.NewNode([]byte("- "), chunk.RoleUnorderedListItem))
}

// OrderedList inserts a "1. " marker tagged RoleOrderedListItem at pos
// (first inserting a NEWLINE there when pos is not already at the start of
// a line), then renumbers the surrounding list.
func (d *Document) OrderedList(pos int) Result {
	newPos, res := d.ensureLineStart(pos)
	if res != ResultSuccess {
		return res
	}
	if res := d.insertNode(newPos, chunk.NewNode([]byte("1. "), chunk.RoleOrderedListItem)); res != ResultSuccess {
		return res
	}
	d.renumberLists()
	return ResultSuccess
}

// HorizontalRule leaves the rule and a trailing line break ("---\n") at
// pos, preceded by a line break when pos is not already at the start of a
// line — so mid-line the net insertion is "\n---\n".
func (d *Document) HorizontalRule(pos int) Result {
	newPos, res := d.ensureLineStart(pos)
	if res != ResultSuccess {
		return res
	}
	if res := d.insertText(newPos, []byte("---")); res != ResultSuccess {
		return res
	}
	return d.insertNode(newPos+3, chunk.NewNode([]byte("\n"), chunk.RoleNewline))
}

// Link inserts "](url)" at end, then "[" at start.
func (d *Document) Link(start, end int, url string) Result {
	if start > end {
		return ResultInvalidPosition
	}
	total := d.totalLen()
	if start < 0 || end > total {
		return ResultInvalidPosition
	}
	if res := d.insertText(end, []byte("]("+url+")")); res != ResultSuccess {
		return res
	}
	return d.insertText(start, []byte("["))
}

// renumberLists scans from the head, rewriting each ordered-list item's
// numeric prefix so that any maximal run separated only by NEWLINE chunks
// reads 1, 2, 3, .... Interruption by non-list, non-newline content resets
// the counter. Single-digit encoding limits lists to 9 items — an accepted
// limitation spec.md retains rather than widening the marker chunk.
func (d *Document) renumberLists() {
	head := d.list.Head()
	counter := 1
	if first := firstNonEmpty(head); first != nil && first.Role == chunk.RoleOrderedListItem {
		counter = 2
	}
	for n := head; n != nil; n = n.Next() {
		if n.Role != chunk.RoleNewline {
			continue
		}
		next := firstNonEmpty(n.Next())
		if next != nil && next.Role == chunk.RoleOrderedListItem {
			if len(next.Text) > 0 {
				next.Text[0] = byte('0' + counter)
			}
			counter++
		} else {
			counter = 1
		}
	}
}

func firstNonEmpty(n *chunk.Node) *chunk.Node {
	for n != nil && n.Len() == 0 {
		n = n.Next()
	}
	return n
}
