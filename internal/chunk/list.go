package chunk

import "bytes"

// List is the document's mutable ordered sequence of chunks. Order is
// significant and, modulo tombstoned and zero-length chunks, defines the
// document's byte sequence. Not safe for concurrent use; callers serialize
// access (the document engine is always called under the scheduler's
// version_lock, per spec).
type List struct {
	head *Node
	tail *Node
}

// Head returns the first chunk, or nil if the list is empty.
func (l *List) Head() *Node { return l.head }

// Walk calls fn for every chunk in order, stopping early if fn returns
// false.
func (l *List) Walk(fn func(*Node) bool) {
	for n := l.head; n != nil; n = n.next {
		if !fn(n) {
			return
		}
	}
}

// TotalLen returns the sum of every chunk's length, including tombstoned
// chunks — positions are meaningful over tombstoned regions until the next
// compaction, so this is the length used by FindAt, not the logical
// document length (see Flatten for that).
func (l *List) TotalLen() int {
	total := 0
	l.Walk(func(n *Node) bool {
		total += n.Len()
		return true
	})
	return total
}

// Append adds n as the new tail.
func (l *List) Append(n *Node) {
	if l.head == nil {
		l.head = n
		l.tail = n
		return
	}
	l.tail.next = n
	l.tail = n
}

// FindAt walks the list accumulating chunk lengths and returns the chunk
// that contains byte offset, i.e. the first chunk where running-sum+length
// > offset, along with the offset local to that chunk. offset == TotalLen()
// returns end=true (end of document); there is no well-defined chunk to
// return in that case.
func (l *List) FindAt(offset int) (node *Node, local int, end bool) {
	running := 0
	for n := l.head; n != nil; n = n.next {
		if running+n.Len() > offset {
			return n, offset - running, false
		}
		running += n.Len()
	}
	return nil, 0, true
}

// prevOf returns the chunk preceding target, or nil if target is the head
// (or not found). The list is small enough in practice (one markdown
// document's worth of edits between ticks) that a linear predecessor scan
// is the simplest correct approach — matching the teacher's preference for
// a single coarse lock over fine-grained bookkeeping (see DESIGN.md).
func (l *List) prevOf(target *Node) *Node {
	if l.head == target {
		return nil
	}
	for n := l.head; n != nil; n = n.next {
		if n.next == target {
			return n
		}
	}
	return nil
}

// Split ensures a chunk boundary exists at local offset pos within node.
// If pos == 0 or pos == node.Len(), no split is needed: pos==0 returns node
// itself, and pos==node.Len() returns node's successor (or node itself when
// it is the tail). Otherwise node is truncated in place to [0,pos) — its
// role resets to RoleNormal only if it becomes empty; other role semantics
// are left to callers — and a new chunk holding [pos,node.Len()) is
// spliced in immediately after it, inheriting node's tombstone state and,
// if node was a newline, the newline role (otherwise normal). In the
// splitting case Split returns the new right-hand chunk.
func (l *List) Split(node *Node, pos int) *Node {
	if node == nil {
		return nil
	}
	if pos <= 0 {
		return node
	}
	if pos >= node.Len() {
		if next := node.next; next != nil {
			return next
		}
		return node
	}

	rightRole := RoleNormal
	if node.Role == RoleNewline {
		rightRole = RoleNewline
	}
	right := &Node{
		Text:      append([]byte(nil), node.Text[pos:]...),
		Role:      rightRole,
		Tombstone: node.Tombstone,
		next:      node.next,
	}

	node.Text = append([]byte(nil), node.Text[:pos]...)
	if len(node.Text) == 0 {
		node.Role = RoleNormal
	}
	node.next = right
	if l.tail == node {
		l.tail = right
	}
	return right
}

// Boundary finds (and, if necessary, creates via Split) the chunk boundary
// at the given global byte offset, returning the predecessor of that
// boundary (nil if the boundary is the new head) and the chunk that starts
// exactly at offset (nil if offset is the end of the document). Document
// operations build on this to splice new chunks in or mark ranges
// tombstoned without duplicating find-then-split logic at every call site.
func (l *List) Boundary(offset int) (prev, at *Node) {
	node, local, end := l.FindAt(offset)
	if end {
		return l.tail, nil
	}
	at = l.Split(node, local)
	prev = l.prevOf(at)
	return prev, at
}

// InsertBefore splices n immediately before at (or at the tail if at is
// nil, meaning "append").
func (l *List) InsertBefore(at, n *Node) {
	if at == nil {
		l.Append(n)
		return
	}
	if l.head == at {
		n.next = l.head
		l.head = n
		return
	}
	prev := l.prevOf(at)
	n.next = at
	if prev != nil {
		prev.next = n
	}
}

// TombstoneRange marks every chunk whose bytes fall in [start, end) as
// deleted, splitting at both boundaries first so partially-covered chunks
// are not over- or under-marked. Tombstoned chunks keep contributing to
// TotalLen until Compact removes them.
func (l *List) TombstoneRange(start, end int) {
	if end <= start {
		return
	}
	_, startAt := l.Boundary(start)
	_, endAt := l.Boundary(end)
	for n := startAt; n != endAt && n != nil; n = n.next {
		n.Tombstone = true
	}
}

// Compact removes every tombstoned or zero-length chunk from the list.
// Called once per tick by the scheduler, never per command (spec.md §4.B).
func (l *List) Compact() {
	var newHead, newTail *Node
	for n := l.head; n != nil; {
		next := n.next
		n.next = nil
		if !n.Tombstone && n.Len() > 0 {
			if newHead == nil {
				newHead, newTail = n, n
			} else {
				newTail.next = n
				newTail = n
			}
		}
		n = next
	}
	l.head, l.tail = newHead, newTail
}

// Flatten returns the concatenation of every non-tombstoned, non-empty
// chunk's text — the document's logical byte sequence.
func (l *List) Flatten() []byte {
	var buf bytes.Buffer
	l.Walk(func(n *Node) bool {
		if !n.Tombstone && n.Len() > 0 {
			buf.Write(n.Text)
		}
		return true
	})
	return buf.Bytes()
}
