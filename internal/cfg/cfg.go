// Package cfg builds code paths over tree-sitter JavaScript syntax trees.
//
// A code path is the control-flow graph of one function body, partitioned
// into segments: maximal straight-line runs between branch and join points.
// Walk visits a tree in source order, depth first, and reports function
// boundaries, segment starts and call expressions to a Listener while the
// graph is being built, so a listener sees each segment's predecessors
// before any call inside it.
package cfg

import (
	sitter "github.com/smacker/go-tree-sitter"
)

// End records how a path leaves a function through a segment.
type End int

const (
	// Open segments continue into successors.
	Open End = iota
	// Returned segments end the path by return or by falling off the body.
	Returned
	// Thrown segments end the path by an uncaught throw.
	Thrown
)

func (e End) String() string {
	switch e {
	case Returned:
		return "returned"
	case Thrown:
		return "thrown"
	default:
		return "open"
	}
}

// Segment is one straight-line run of a code path.
type Segment struct {
	ID int
	// Prev holds the predecessors known when the segment was entered.
	Prev []*Segment
	// Loops holds back-edge predecessors added after the segment was entered.
	Loops []*Segment
	End   End
}

// Terminal reports whether the segment ends a path.
func (s *Segment) Terminal() bool {
	return s.End != Open
}

// Func is the code path of one function, or of the whole program.
type Func struct {
	ID     int
	Node   *sitter.Node
	Parent *Func

	segments []*Segment
	final    []*Segment
	current  []*Segment
}

// IsProgram reports whether f is the top-level program scope.
func (f *Func) IsProgram() bool {
	return f.Parent == nil
}

// CurrentSegments returns the segments active at the current traversal
// point. It is empty inside unreachable code.
func (f *Func) CurrentSegments() []*Segment {
	return f.current
}

// Segments returns every segment of f in creation order.
func (f *Func) Segments() []*Segment {
	return f.segments
}

// FinalSegments returns the terminal segments of f in the order their paths
// ended. Only complete after ExitFunc.
func (f *Func) FinalSegments() []*Segment {
	return f.final
}

// Listener receives traversal events. Events arrive in source order and
// function scopes nest strictly: a function exits only after every function
// nested in it has exited.
type Listener interface {
	EnterFunc(fn *Func)
	EnterSegment(fn *Func, seg *Segment)
	Call(fn *Func, call *sitter.Node)
	ExitFunc(fn *Func)
}

// Listeners fans every event out to each listener in order.
type Listeners []Listener

func (ls Listeners) EnterFunc(fn *Func) {
	for _, l := range ls {
		l.EnterFunc(fn)
	}
}

func (ls Listeners) EnterSegment(fn *Func, seg *Segment) {
	for _, l := range ls {
		l.EnterSegment(fn, seg)
	}
}

func (ls Listeners) Call(fn *Func, call *sitter.Node) {
	for _, l := range ls {
		l.Call(fn, call)
	}
}

func (ls Listeners) ExitFunc(fn *Func) {
	for _, l := range ls {
		l.ExitFunc(fn)
	}
}
