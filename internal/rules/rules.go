// Package rules defines the built-in mark-call rules and decides which of
// them apply to a file.
package rules

import (
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/phobologic/markguard/internal/mark"
	"github.com/phobologic/markguard/internal/model"
)

// DefaultCompletion is the parameter name of the completion value.
const DefaultCompletion = "mark"

// Rule binds a handler taxonomy to the files and tables it governs.
type Rule struct {
	Name        string
	Description string
	// Dir is the directory, possibly several segments deep, that a file
	// must live under for the rule to apply.
	Dir string
	// Tables are the top-level handler tables searched for middleware
	// sequences.
	Tables   []string
	Taxonomy mark.Taxonomy
	Severity model.Severity
	Enabled  bool
}

// Builtin returns the built-in rules, enabled, in name order.
func Builtin() Set {
	return Set{
		{
			Name:        "aggregate-commands-mark",
			Description: "command handlers call a method of mark at the end of every code path",
			Dir:         "writeModel",
			Tables:      []string{"commands"},
			Taxonomy: mark.Taxonomy{
				Terminal:   []string{"asDone", "asRejected"},
				Middleware: []string{"asReadyForNext", "asRejected"},
			},
			Severity: model.Error,
			Enabled:  true,
		},
		{
			Name:        "flow-when-mark",
			Description: "flow event handlers call a method of mark at the end of every code path",
			Dir:         "flows",
			Tables:      []string{"when"},
			Taxonomy:    mark.Taxonomy{Terminal: []string{"asDone"}},
			Severity:    model.Error,
			Enabled:     true,
		},
		{
			Name:        "list-when-mark",
			Description: "list event handlers call a method of mark at the end of every code path",
			Dir:         "readModel/lists",
			Tables:      []string{"when"},
			Taxonomy:    mark.Taxonomy{Terminal: []string{"asDone"}},
			Severity:    model.Error,
			Enabled:     true,
		},
	}
}

// Set is an ordered collection of rules.
type Set []Rule

// Names returns the rule names in order.
func (s Set) Names() []string {
	names := make([]string, len(s))
	for i, r := range s {
		names[i] = r.Name
	}
	return names
}

// Get returns the rule called name.
func (s Set) Get(name string) (Rule, bool) {
	for _, r := range s {
		if r.Name == name {
			return r, true
		}
	}
	return Rule{}, false
}

// Only returns the enabled rules whose names are listed. An empty list keeps
// every enabled rule.
func (s Set) Only(names []string) Set {
	want := make(map[string]struct{}, len(names))
	for _, n := range names {
		want[n] = struct{}{}
	}
	var out Set
	for _, r := range s {
		if !r.Enabled {
			continue
		}
		if len(want) > 0 {
			if _, ok := want[r.Name]; !ok {
				continue
			}
		}
		out = append(out, r)
	}
	return out
}

// ForPath returns the enabled rules that apply to file.
func (s Set) ForPath(file string) Set {
	var out Set
	for _, r := range s {
		if r.Enabled && IsDescendant(file, r.Dir) {
			out = append(out, r)
		}
	}
	return out
}

// Sorted returns a copy of s ordered by name.
func (s Set) Sorted() Set {
	out := append(Set(nil), s...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Config returns the verifier configuration of r for the given completion
// parameter name.
func (r Rule) Config(completion string) mark.Config {
	if completion == "" {
		completion = DefaultCompletion
	}
	return mark.Config{
		Rule:       r.Name,
		Completion: completion,
		Taxonomy:   r.Taxonomy,
		Tables:     r.Tables,
		Severity:   r.Severity,
	}
}

// IsDescendant reports whether the directory of file contains the segments
// of parent consecutively, e.g. "app/server/readModel/lists/x.js" is a
// descendant of "readModel/lists".
func IsDescendant(file, parent string) bool {
	ancestors := splitPath(path.Dir(filepath.ToSlash(file)))
	parents := splitPath(filepath.ToSlash(parent))
	if len(parents) == 0 {
		return true
	}

	for i := 0; i+len(parents) <= len(ancestors); i++ {
		match := true
		for j := range parents {
			if ancestors[i+j] != parents[j] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

func splitPath(p string) []string {
	var segments []string
	for _, s := range strings.Split(p, "/") {
		if s != "" && s != "." {
			segments = append(segments, s)
		}
	}
	return segments
}
