package cfg

import (
	sitter "github.com/smacker/go-tree-sitter"

	"github.com/phobologic/markguard/internal/jsast"
)

type targetKind int

const (
	loopTarget targetKind = iota
	switchTarget
	labelTarget
	tryTarget
	finallyTarget
)

// target collects the segments that jump to the same place: breaks and
// continues of a loop, breaks of a switch or label, throws caught by a try,
// returns and throws that run a finally block first.
type target struct {
	kind      targetKind
	labels    []string
	breaks    []*Segment
	continues []*Segment
	thrown    []*Segment
	returned  []*Segment
}

func (t *target) hasLabel(label string) bool {
	for _, l := range t.labels {
		if l == label {
			return true
		}
	}
	return false
}

type funcState struct {
	fn      *Func
	targets []*target
	// labels waiting to be attached to the next loop statement.
	pending []string
}

type walker struct {
	source   []byte
	listener Listener
	nextFunc int
	nextSeg  int
	st       *funcState
	// replay is set while a finally block is walked again for another
	// completion; nested functions were already reported on the first walk.
	replay int
}

// Walk traverses the tree rooted at root, building a code path for the
// program and for every function in it, and reports events to l.
func Walk(root *sitter.Node, source []byte, l Listener) {
	if root == nil {
		return
	}
	w := &walker{source: source, listener: l}
	w.function(root, nil)
}

func (w *walker) cur() []*Segment {
	return w.st.fn.current
}

func (w *walker) setCur(segs []*Segment) {
	w.st.fn.current = segs
}

// fork starts a new segment whose predecessors are prev. With no reachable
// predecessor the code that follows is unreachable and no segment starts.
func (w *walker) fork(prev []*Segment) []*Segment {
	prev = dedupe(prev)
	if len(prev) == 0 {
		w.setCur(nil)
		return nil
	}
	return w.start(prev)
}

func (w *walker) start(prev []*Segment) []*Segment {
	seg := &Segment{ID: w.nextSeg, Prev: prev}
	w.nextSeg++
	fn := w.st.fn
	fn.segments = append(fn.segments, seg)
	cur := []*Segment{seg}
	w.setCur(cur)
	w.listener.EnterSegment(fn, seg)
	return cur
}

// end terminates every active path.
func (w *walker) end(how End) {
	fn := w.st.fn
	for _, seg := range fn.current {
		seg.End = how
		fn.final = append(fn.final, seg)
	}
	w.setCur(nil)
}

func (w *walker) throw() {
	for i := len(w.st.targets) - 1; i >= 0; i-- {
		t := w.st.targets[i]
		if t.kind == tryTarget || t.kind == finallyTarget {
			t.thrown = append(t.thrown, w.cur()...)
			w.setCur(nil)
			return
		}
	}
	w.end(Thrown)
}

func (w *walker) ret() {
	for i := len(w.st.targets) - 1; i >= 0; i-- {
		t := w.st.targets[i]
		if t.kind == finallyTarget {
			t.returned = append(t.returned, w.cur()...)
			w.setCur(nil)
			return
		}
	}
	w.end(Returned)
}

func (w *walker) push(kind targetKind) *target {
	t := &target{kind: kind}
	if kind == loopTarget {
		t.labels = w.st.pending
	}
	w.st.pending = nil
	w.st.targets = append(w.st.targets, t)
	return t
}

func (w *walker) pop() {
	w.st.targets = w.st.targets[:len(w.st.targets)-1]
}

func (w *walker) breakTo(label string) {
	for i := len(w.st.targets) - 1; i >= 0; i-- {
		t := w.st.targets[i]
		if label == "" && (t.kind == loopTarget || t.kind == switchTarget) ||
			label != "" && t.hasLabel(label) {
			t.breaks = append(t.breaks, w.cur()...)
			break
		}
	}
	w.setCur(nil)
}

func (w *walker) continueTo(label string) {
	for i := len(w.st.targets) - 1; i >= 0; i-- {
		t := w.st.targets[i]
		if t.kind == loopTarget && (label == "" || t.hasLabel(label)) {
			t.continues = append(t.continues, w.cur()...)
			break
		}
	}
	w.setCur(nil)
}

// function walks a function (or the program) as a code path of its own.
func (w *walker) function(n *sitter.Node, parent *Func) {
	outer := w.st
	fn := &Func{ID: w.nextFunc, Node: n, Parent: parent}
	w.nextFunc++
	w.st = &funcState{fn: fn}

	w.listener.EnterFunc(fn)
	w.start(nil)

	if parent == nil {
		for _, child := range jsast.NamedChildren(n) {
			w.visit(child)
		}
	} else {
		w.visit(jsast.Params(n))
		w.visit(jsast.Body(n))
	}
	if len(w.cur()) > 0 {
		w.end(Returned)
	}

	w.listener.ExitFunc(fn)
	w.st = outer
}

func (w *walker) visitChildren(n *sitter.Node) {
	for _, child := range jsast.NamedChildren(n) {
		w.visit(child)
	}
}

func (w *walker) visit(n *sitter.Node) {
	if n == nil {
		return
	}
	if jsast.IsFunction(n) {
		if w.replay == 0 {
			w.function(n, w.st.fn)
		}
		return
	}

	if n.Type() != "labeled_statement" {
		defer w.clearPending()
	}

	switch n.Type() {
	case "if_statement":
		w.ifStatement(n)
	case "return_statement":
		w.visitChildren(n)
		w.ret()
	case "throw_statement":
		w.visitChildren(n)
		w.throw()
	case "while_statement":
		w.whileStatement(n)
	case "do_statement":
		w.doStatement(n)
	case "for_statement":
		w.forStatement(n)
	case "for_in_statement":
		w.forInStatement(n)
	case "break_statement":
		w.breakTo(jsast.Text(n.ChildByFieldName("label"), w.source))
	case "continue_statement":
		w.continueTo(jsast.Text(n.ChildByFieldName("label"), w.source))
	case "labeled_statement":
		w.labeledStatement(n)
	case "switch_statement":
		w.switchStatement(n)
	case "try_statement":
		w.tryStatement(n)
	case "call_expression":
		w.listener.Call(w.st.fn, n)
		w.visitChildren(n)
	case "ternary_expression":
		w.ternary(n)
	case "binary_expression", "augmented_assignment_expression":
		w.logical(n)
	default:
		w.visitChildren(n)
	}
}

func (w *walker) clearPending() {
	w.st.pending = nil
}

func (w *walker) ifStatement(n *sitter.Node) {
	w.visit(n.ChildByFieldName("condition"))
	base := w.cur()

	w.fork(base)
	w.visit(n.ChildByFieldName("consequence"))
	thenEnd := w.cur()

	elseEnd := base
	if alt := n.ChildByFieldName("alternative"); alt != nil {
		w.fork(base)
		w.visit(alt)
		elseEnd = w.cur()
	}

	w.fork(concat(thenEnd, elseEnd))
}

func (w *walker) ternary(n *sitter.Node) {
	w.visit(n.ChildByFieldName("condition"))
	base := w.cur()

	w.fork(base)
	w.visit(n.ChildByFieldName("consequence"))
	a := w.cur()

	w.fork(base)
	w.visit(n.ChildByFieldName("alternative"))
	b := w.cur()

	w.fork(concat(a, b))
}

func (w *walker) logical(n *sitter.Node) {
	switch operator(n) {
	case "&&", "||", "??", "&&=", "||=", "??=":
	default:
		w.visitChildren(n)
		return
	}

	w.visit(n.ChildByFieldName("left"))
	base := w.cur()
	w.fork(base)
	w.visit(n.ChildByFieldName("right"))
	w.fork(concat(base, w.cur()))
}

func (w *walker) whileStatement(n *sitter.Node) {
	t := w.push(loopTarget)
	head := w.fork(w.cur())
	cond := n.ChildByFieldName("condition")
	w.visit(cond)
	condEnd := w.cur()

	w.fork(condEnd)
	w.visit(n.ChildByFieldName("body"))
	addLoops(head, concat(w.cur(), t.continues))
	w.pop()

	if isAlwaysTrue(cond) {
		w.fork(t.breaks)
		return
	}
	w.fork(concat(condEnd, t.breaks))
}

func (w *walker) doStatement(n *sitter.Node) {
	t := w.push(loopTarget)
	head := w.fork(w.cur())
	w.visit(n.ChildByFieldName("body"))

	w.fork(concat(w.cur(), t.continues))
	cond := n.ChildByFieldName("condition")
	w.visit(cond)
	condEnd := w.cur()
	addLoops(head, condEnd)
	w.pop()

	if isAlwaysTrue(cond) {
		w.fork(t.breaks)
		return
	}
	w.fork(concat(condEnd, t.breaks))
}

func (w *walker) forStatement(n *sitter.Node) {
	t := w.push(loopTarget)
	w.visit(n.ChildByFieldName("initializer"))

	head := w.fork(w.cur())
	cond := n.ChildByFieldName("condition")
	w.visit(cond)
	condEnd := w.cur()

	w.fork(condEnd)
	w.visit(n.ChildByFieldName("body"))

	w.fork(concat(w.cur(), t.continues))
	w.visit(n.ChildByFieldName("increment"))
	addLoops(head, w.cur())
	w.pop()

	if isAlwaysTrue(cond) {
		w.fork(t.breaks)
		return
	}
	w.fork(concat(condEnd, t.breaks))
}

func (w *walker) forInStatement(n *sitter.Node) {
	t := w.push(loopTarget)
	w.visit(n.ChildByFieldName("right"))

	head := w.fork(w.cur())
	w.fork(head)
	w.visit(n.ChildByFieldName("left"))
	w.visit(n.ChildByFieldName("body"))
	addLoops(head, concat(w.cur(), t.continues))
	w.pop()

	w.fork(concat(head, t.breaks))
}

func (w *walker) labeledStatement(n *sitter.Node) {
	label := jsast.Text(n.ChildByFieldName("label"), w.source)
	t := &target{kind: labelTarget, labels: []string{label}}
	w.st.targets = append(w.st.targets, t)

	body := n.ChildByFieldName("body")
	if takesLabel(body) {
		w.st.pending = append(w.st.pending, label)
	} else {
		w.st.pending = nil
	}
	w.visit(body)
	w.pop()

	if len(t.breaks) > 0 {
		w.fork(concat(w.cur(), t.breaks))
	}
}

// takesLabel reports whether the label of a labeled statement also names the
// loop it labels, so continue can target it.
func takesLabel(body *sitter.Node) bool {
	if body == nil {
		return false
	}
	switch body.Type() {
	case "while_statement", "do_statement", "for_statement", "for_in_statement", "labeled_statement":
		return true
	}
	return false
}

func (w *walker) switchStatement(n *sitter.Node) {
	w.visit(n.ChildByFieldName("value"))
	base := w.cur()
	t := w.push(switchTarget)

	var fall []*Segment
	hasDefault := false
	for _, clause := range jsast.NamedChildren(n.ChildByFieldName("body")) {
		switch clause.Type() {
		case "switch_case", "switch_default":
		default:
			continue
		}
		if clause.Type() == "switch_default" {
			hasDefault = true
		}

		w.fork(concat(base, fall))
		value := clause.ChildByFieldName("value")
		w.visit(value)
		for _, stmt := range jsast.NamedChildren(clause) {
			if value != nil && jsast.SameNode(stmt, value) {
				continue
			}
			w.visit(stmt)
		}
		fall = w.cur()
	}
	w.pop()

	exit := concat(fall, t.breaks)
	if !hasDefault {
		exit = concat(exit, base)
	}
	w.fork(exit)
}

func (w *walker) tryStatement(n *sitter.Node) {
	base := w.cur()
	handler := n.ChildByFieldName("handler")
	finalizer := n.ChildByFieldName("finalizer")

	var fin *target
	if finalizer != nil {
		fin = w.push(finallyTarget)
	}

	// The catch clause is entered from before the try, so the try body needs
	// a segment of its own.
	var t *target
	if handler != nil {
		t = w.push(tryTarget)
		w.fork(base)
	}
	w.visit(n.ChildByFieldName("body"))
	end := w.cur()

	if handler != nil {
		w.pop()
		w.fork(concat(base, t.thrown))
		w.visit(handler.ChildByFieldName("parameter"))
		w.visit(handler.ChildByFieldName("body"))
		w.fork(concat(end, w.cur()))
	}

	if finalizer != nil {
		w.pop()
		w.finally(finalizer, fin)
	}
}

// finally walks the finalizer once for each way the try statement can
// complete: normally, by returning and by throwing. Early exits resume once
// the finalizer is done.
func (w *walker) finally(finalizer *sitter.Node, fin *target) {
	normal := w.cur()
	walked := false
	run := func(from []*Segment) {
		if walked {
			w.replay++
			defer func() { w.replay-- }()
		}
		walked = true
		w.fork(from)
		w.visitChildren(finalizer)
	}

	if len(normal) > 0 {
		run(normal)
		normal = w.cur()
	}
	if len(fin.returned) > 0 {
		run(fin.returned)
		w.ret()
	}
	if len(fin.thrown) > 0 {
		run(fin.thrown)
		w.throw()
	}
	w.setCur(normal)
}

func operator(n *sitter.Node) string {
	if op := n.ChildByFieldName("operator"); op != nil {
		return op.Type()
	}
	return ""
}

// isAlwaysTrue reports whether a loop condition is missing or the literal
// true, in which case the loop only exits through break.
func isAlwaysTrue(cond *sitter.Node) bool {
	if cond == nil {
		return true
	}
	switch cond.Type() {
	case "empty_statement":
		return true
	case "expression_statement":
		children := jsast.NamedChildren(cond)
		if len(children) != 1 {
			return false
		}
		cond = children[0]
	}
	cond = jsast.Unparen(cond)
	return cond != nil && cond.Type() == "true"
}

func addLoops(head []*Segment, from []*Segment) {
	if len(head) == 0 {
		return
	}
	head[0].Loops = append(head[0].Loops, dedupe(from)...)
}

func concat(a, b []*Segment) []*Segment {
	out := make([]*Segment, 0, len(a)+len(b))
	out = append(out, a...)
	return append(out, b...)
}

func dedupe(segs []*Segment) []*Segment {
	if len(segs) < 2 {
		return segs
	}
	seen := make(map[*Segment]struct{}, len(segs))
	out := segs[:0:0]
	for _, s := range segs {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
