// Package model defines core data structures for markguard.
package model

import "fmt"

// Kind classifies a reported defect.
type Kind string

const (
	// MissingCall: a returning code path never called a completion method.
	MissingCall Kind = "missing-call"
	// WrongMethod: a method of the completion value was called that is not
	// allowed at the handler's position.
	WrongMethod Kind = "wrong-method"
	// BareCall: the completion value itself was invoked.
	BareCall Kind = "bare-call"
	// DuplicateCall: a code path called the completion value more than once.
	DuplicateCall Kind = "duplicate-call"
)

// Severity of a diagnostic.
type Severity string

const (
	Error   Severity = "error"
	Warning Severity = "warning"
)

// Location is a 1-based line/column position in a source file.
type Location struct {
	Line   int `json:"line"`
	Column int `json:"column"`
	// Offset is the byte offset of the position in the file.
	Offset int `json:"offset"`
}

func (l Location) String() string {
	return fmt.Sprintf("%d:%d", l.Line, l.Column)
}

// Diagnostic is a single reported defect.
type Diagnostic struct {
	Rule     string   `json:"rule"`
	Kind     Kind     `json:"kind"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	File     string   `json:"file"`
	Location Location `json:",inline"`
}

// FileReport holds the diagnostics produced for one file.
type FileReport struct {
	Path        string       `json:"path"`
	Language    string       `json:"language"`
	Rules       []string     `json:"rules"`
	Diagnostics []Diagnostic `json:"diagnostics"`
}

// Report is the complete result of a lint run, ready for serialization.
type Report struct {
	Root  string       `json:"root"`
	Files []FileReport `json:"files"`
}

// Count returns the total number of diagnostics in the report.
func (r *Report) Count() int {
	n := 0
	for i := range r.Files {
		n += len(r.Files[i].Diagnostics)
	}
	return n
}

// Diagnostics returns every diagnostic in file order.
func (r *Report) Diagnostics() []Diagnostic {
	var all []Diagnostic
	for i := range r.Files {
		all = append(all, r.Files[i].Diagnostics...)
	}
	return all
}

// CountSeverity returns the number of diagnostics with the given severity.
func (r *Report) CountSeverity(sev Severity) int {
	n := 0
	for i := range r.Files {
		for _, d := range r.Files[i].Diagnostics {
			if d.Severity == sev {
				n++
			}
		}
	}
	return n
}
