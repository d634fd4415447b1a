// Package lint runs the mark-call rules over parsed source files.
package lint

import (
	"context"
	"path/filepath"
	"sort"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/phobologic/markguard/internal/cfg"
	"github.com/phobologic/markguard/internal/lang"
	"github.com/phobologic/markguard/internal/mark"
	"github.com/phobologic/markguard/internal/model"
	"github.com/phobologic/markguard/internal/parse"
	"github.com/phobologic/markguard/internal/rules"
)

// Linter applies a rule set to files.
type Linter struct {
	Rules rules.Set
	// Completion is the completion parameter name; empty means "mark".
	Completion string
	// Root is joined to file paths before rule directories are matched, so
	// directories above the lint root still count.
	Root string
}

// New returns a linter for the given rules.
func New(set rules.Set, completion string) *Linter {
	return &Linter{Rules: set, Completion: completion}
}

// File lints a parsed file with every rule that applies to its path. All
// rules share one traversal.
func (l *Linter) File(f *parse.File) model.FileReport {
	applicable := l.Rules.ForPath(filepath.Join(l.Root, filepath.FromSlash(f.Path)))
	report := model.FileReport{Path: f.Path, Rules: applicable.Names()}
	if len(applicable) == 0 {
		return report
	}

	verifiers := make([]*mark.Verifier, len(applicable))
	listeners := make(cfg.Listeners, len(applicable))
	for i, r := range applicable {
		verifiers[i] = mark.NewVerifier(r.Config(l.Completion), f)
		listeners[i] = verifiers[i]
	}
	cfg.Walk(f.Root(), f.Source, listeners)

	for _, v := range verifiers {
		report.Diagnostics = append(report.Diagnostics, v.Diagnostics()...)
	}
	sort.SliceStable(report.Diagnostics, func(i, j int) bool {
		a, b := report.Diagnostics[i].Location, report.Diagnostics[j].Location
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		return a.Column < b.Column
	})
	return report
}

// Source parses source as language lg and lints it. The parser must belong
// to the calling goroutine.
func (l *Linter) Source(ctx context.Context, lg *lang.Language, parser *sitter.Parser, path string, source []byte) (model.FileReport, error) {
	query, err := lg.GetDeclQuery()
	if err != nil {
		return model.FileReport{}, err
	}
	f, err := parse.Parse(ctx, parser, query, source, path)
	if err != nil {
		return model.FileReport{}, err
	}
	defer f.Close()

	report := l.File(f)
	report.Language = lg.Name
	return report, nil
}
