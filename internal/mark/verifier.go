// Package mark verifies that handler functions call a method of their
// completion value exactly once on every code path.
//
// A Verifier listens to a cfg.Walk. For each function that declares the
// completion parameter it tracks, per segment, whether a correct completion
// call has definitely happened. Facts merge at join points with AND: a
// segment counts as completed only when every incoming path completed.
// When the function exits, each terminal segment is checked:
//
//	if (ok) {
//	  mark.asDone();       // path 1 completes
//	  return;
//	}
//	notify();              // path 2 never completes: reported
//
// Which methods are correct depends on where the handler sits. A handler
// that is an earlier step of a middleware sequence may only pass on or
// abort; the last step, or a handler outside any sequence, may use the full
// terminal vocabulary. See Resolver.
package mark

import (
	sitter "github.com/smacker/go-tree-sitter"

	"github.com/phobologic/markguard/internal/cfg"
	"github.com/phobologic/markguard/internal/jsast"
	"github.com/phobologic/markguard/internal/model"
	"github.com/phobologic/markguard/internal/parse"
)

// Config describes one verification rule.
type Config struct {
	Rule       string
	Completion string
	Taxonomy   Taxonomy
	Tables     []string
	Severity   model.Severity
}

type scope struct {
	fn       *cfg.Func
	hasParam bool
	// attempted is set once the function calls the completion value at all.
	attempted bool
	position  *Position
	bare      []*CallSite
}

// Verifier is a cfg.Listener that collects completion-call diagnostics for
// one file. It must not be reused across files.
type Verifier struct {
	config     Config
	file       *parse.File
	classifier *Classifier
	resolver   *Resolver
	store      *Store
	stack      []*scope
	diags      []model.Diagnostic
}

var _ cfg.Listener = (*Verifier)(nil)

// NewVerifier creates a verifier for file.
func NewVerifier(c Config, file *parse.File) *Verifier {
	if c.Severity == "" {
		c.Severity = model.Error
	}
	return &Verifier{
		config: c,
		file:   file,
		classifier: &Classifier{
			Completion: c.Completion,
			Taxonomy:   c.Taxonomy,
			Source:     file.Source,
		},
		resolver: &Resolver{
			Decls:  file.Decls,
			Tables: c.Tables,
			Source: file.Source,
		},
		store: NewStore(),
	}
}

// Diagnostics returns the diagnostics collected so far, in report order.
func (v *Verifier) Diagnostics() []model.Diagnostic {
	return v.diags
}

func (v *Verifier) top() *scope {
	return v.stack[len(v.stack)-1]
}

// EnterFunc pushes a scope for fn.
func (v *Verifier) EnterFunc(fn *cfg.Func) {
	s := &scope{fn: fn}
	if !fn.IsProgram() {
		s.hasParam = contains(jsast.ParamNames(fn.Node, v.file.Source), v.config.Completion)
	}
	v.stack = append(v.stack, s)
}

// EnterSegment initializes facts for seg when the active function declares
// the completion parameter.
func (v *Verifier) EnterSegment(_ *cfg.Func, seg *cfg.Segment) {
	if !v.top().hasParam {
		return
	}
	v.store.Enter(seg)
}

// Call records a completion call against every active segment.
func (v *Verifier) Call(fn *cfg.Func, call *sitter.Node) {
	s := v.top()
	if !s.hasParam {
		return
	}

	site, ok := v.classifier.Classify(call, v.position(s))
	if !ok {
		return
	}
	s.attempted = true
	if site.Shape == ShapeBare {
		s.bare = append(s.bare, &site)
	}
	for _, seg := range fn.CurrentSegments() {
		v.store.Record(seg, &site)
	}
}

// ExitFunc pops the scope of fn and checks its terminal segments.
func (v *Verifier) ExitFunc(fn *cfg.Func) {
	s := v.top()
	v.stack = v.stack[:len(v.stack)-1]
	if !s.hasParam || !s.attempted {
		return
	}

	seen := make(map[reportKey]struct{})
	for _, seg := range fn.FinalSegments() {
		f, ok := v.store.Get(seg)
		if !ok {
			continue
		}
		// A thrown path without any attempt is fine; a wrong attempt is not.
		if !f.Called && (seg.End == cfg.Returned || f.Attempt != nil) {
			v.reportIncomplete(s, f, seen)
		}
		if f.Duplicated() && f.PathFirst != nil {
			v.report(seen, model.DuplicateCall, duplicateCallMessage(f.PathFirst.Name), v.functionLocation(fn))
		}
	}

	for _, site := range s.bare {
		v.report(seen, model.BareCall, bareCallMessage(v.config.Completion, site.Allowed), site.Location)
	}
}

func (v *Verifier) reportIncomplete(s *scope, f *Facts, seen map[reportKey]struct{}) {
	attempt := f.Attempt
	switch {
	case attempt == nil:
		allowed := v.config.Taxonomy.Allowed(v.position(s))
		v.report(seen, model.MissingCall, missingCallMessage(v.config.Completion, allowed), v.functionLocation(s.fn))
	case attempt.Shape == ShapeBare:
		v.report(seen, model.BareCall, bareCallMessage(v.config.Completion, attempt.Allowed), attempt.Location)
	default:
		v.report(seen, model.WrongMethod, wrongMethodMessage(attempt.Name, attempt.Allowed), attempt.Location)
	}
}

type reportKey struct {
	message string
	offset  int
}

func (v *Verifier) report(seen map[reportKey]struct{}, kind model.Kind, message string, loc model.Location) {
	key := reportKey{message: message, offset: loc.Offset}
	if _, dup := seen[key]; dup {
		return
	}
	seen[key] = struct{}{}
	v.diags = append(v.diags, model.Diagnostic{
		Rule:     v.config.Rule,
		Kind:     kind,
		Severity: v.config.Severity,
		Message:  message,
		File:     v.file.Path,
		Location: loc,
	})
}

// position resolves the handler position of a scope once.
func (v *Verifier) position(s *scope) Position {
	if s.position == nil {
		pos := v.resolver.Resolve(s.fn.Node)
		s.position = &pos
	}
	return *s.position
}

func (v *Verifier) functionLocation(fn *cfg.Func) model.Location {
	return jsast.Loc(jsast.ReportNode(fn.Node), v.file.Source)
}
