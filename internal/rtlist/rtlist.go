// Package rtlist provides type-parameterised doubly- and singly-linked
// lists. Every queue in the kernel core (ready, wait, termination, work,
// free-list, wait-list) is one of these — never a hand-rolled linked
// list or a CONTAINING_RECORD-style offset-of trick.
package rtlist

// Node is the link embedded by reference in a DList. A Node belongs to at
// most one DList at a time; Remove or PopFront clears that ownership, and
// pushing a node that is still linked panics.
type Node[T any] struct {
	next, prev *Node[T]
	owner      *DList[T]
	Value      T
}

// NewNode wraps a value for insertion into a DList.
func NewNode[T any](v T) *Node[T] {
	return &Node[T]{Value: v}
}

// Linked reports whether the node is currently linked into some list.
func (n *Node[T]) Linked() bool {
	return n.owner != nil
}

// DList is a circular doubly-linked list with a sentinel head, giving O(1)
// PushFront/PushBack/PopFront/Remove.
type DList[T any] struct {
	head Node[T] // sentinel; head.next is logical front, head.prev is logical back
	len  int
}

// NewDList returns an empty, ready-to-use list.
func NewDList[T any]() *DList[T] {
	l := &DList[T]{}
	l.head.next = &l.head
	l.head.prev = &l.head
	return l
}

func (l *DList[T]) ensureInit() {
	if l.head.next == nil {
		l.head.next = &l.head
		l.head.prev = &l.head
	}
}

// Len returns the number of linked nodes.
func (l *DList[T]) Len() int { return l.len }

// Empty reports whether the list has no nodes.
func (l *DList[T]) Empty() bool { return l.len == 0 }

func (l *DList[T]) insertAfter(at, n *Node[T]) {
	if n.owner != nil {
		panic("rtlist: node is already linked into a list")
	}
	n.prev = at
	n.next = at.next
	at.next.prev = n
	at.next = n
	n.owner = l
	l.len++
}

// PushBack appends n at the tail.
func (l *DList[T]) PushBack(n *Node[T]) {
	l.ensureInit()
	l.insertAfter(l.head.prev, n)
}

// PushFront inserts n at the head.
func (l *DList[T]) PushFront(n *Node[T]) {
	l.ensureInit()
	l.insertAfter(&l.head, n)
}

// PopFront removes and returns the head node, or nil if empty.
func (l *DList[T]) PopFront() *Node[T] {
	l.ensureInit()
	if l.len == 0 {
		return nil
	}
	n := l.head.next
	l.unlink(n)
	return n
}

// PeekFront returns the head node without removing it, or nil if empty.
func (l *DList[T]) PeekFront() *Node[T] {
	l.ensureInit()
	if l.len == 0 {
		return nil
	}
	return l.head.next
}

func (l *DList[T]) unlink(n *Node[T]) {
	n.prev.next = n.next
	n.next.prev = n.prev
	n.next = nil
	n.prev = nil
	n.owner = nil
	l.len--
}

// Remove unlinks n from l. It panics if n is not currently linked into l —
// the Go-level enforcement of "no thread ever appears in two queues".
func (l *DList[T]) Remove(n *Node[T]) {
	if n.owner != l {
		panic("rtlist: node is not linked into this list")
	}
	l.unlink(n)
}

// Each calls fn for every node from front to back. fn must not mutate the
// list.
func (l *DList[T]) Each(fn func(*Node[T])) {
	l.ensureInit()
	for n := l.head.next; n != &l.head; n = n.next {
		fn(n)
	}
}

// slNode is the link for SList.
type slNode[T any] struct {
	next  *slNode[T]
	owner *SList[T]
	Value T
}

// SList is a singly-linked LIFO stack, used for free lists where only
// push/pop at one end is needed.
type SList[T any] struct {
	top *slNode[T]
	len int
}

// NewSList returns an empty singly-linked list.
func NewSList[T any]() *SList[T] {
	return &SList[T]{}
}

// Len returns the number of pushed elements.
func (l *SList[T]) Len() int { return l.len }

// Empty reports whether the list holds no elements.
func (l *SList[T]) Empty() bool { return l.len == 0 }

// Push adds v to the top of the stack.
func (l *SList[T]) Push(v T) {
	l.top = &slNode[T]{next: l.top, owner: l, Value: v}
	l.len++
}

// Pop removes and returns the top value. ok is false if the list is empty.
func (l *SList[T]) Pop() (v T, ok bool) {
	if l.top == nil {
		return v, false
	}
	n := l.top
	l.top = n.next
	l.len--
	return n.Value, true
}

// Splice moves up to n elements from src onto the top of dst, one Pop and
// Push at a time. It returns how many elements actually moved.
func Splice[T any](dst, src *SList[T], n int) int {
	moved := 0
	for moved < n {
		v, ok := src.Pop()
		if !ok {
			break
		}
		dst.Push(v)
		moved++
	}
	return moved
}
