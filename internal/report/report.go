// Package report renders lint results.
package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"

	"github.com/phobologic/markguard/internal/model"
	"github.com/phobologic/markguard/internal/toon"
)

// Write renders r to w in the named format: text, json or toon.
func Write(w io.Writer, format string, r *model.Report) error {
	switch format {
	case "", "text":
		return Text(w, r)
	case "json":
		return JSON(w, r)
	case "toon":
		_, err := fmt.Fprintln(w, toon.Encode(r))
		return err
	default:
		return fmt.Errorf("unsupported format %q", format)
	}
}

type styles struct {
	path     lipgloss.Style
	location lipgloss.Style
	error    lipgloss.Style
	warning  lipgloss.Style
	rule     lipgloss.Style
	summary  lipgloss.Style
}

// newStyles binds the styles to w, so colors are only emitted when w is a
// terminal.
func newStyles(w io.Writer) styles {
	r := lipgloss.NewRenderer(w)
	return styles{
		path:     r.NewStyle().Underline(true),
		location: r.NewStyle().Foreground(lipgloss.Color("240")),
		error:    r.NewStyle().Foreground(lipgloss.Color("red")),
		warning:  r.NewStyle().Foreground(lipgloss.Color("yellow")),
		rule:     r.NewStyle().Foreground(lipgloss.Color("240")),
		summary:  r.NewStyle().Bold(true),
	}
}

// Text writes the diagnostics grouped by file:
//
//	app/server/flows/flow.js
//	  3:11  error  Unexpected method name 'asFoo', expected 'asDone'.  flow-when-mark
//
//	✖ 1 problem (1 error, 0 warnings)
//
// Nothing is written when there are no diagnostics.
func Text(w io.Writer, r *model.Report) error {
	total := r.Count()
	if total == 0 {
		return nil
	}
	st := newStyles(w)

	var b strings.Builder
	for i := range r.Files {
		f := &r.Files[i]
		if len(f.Diagnostics) == 0 {
			continue
		}

		var locW, sevW, msgW int
		for _, d := range f.Diagnostics {
			locW = max(locW, len(d.Location.String()))
			sevW = max(sevW, len(d.Severity))
			msgW = max(msgW, len([]rune(d.Message)))
		}

		b.WriteString("\n")
		b.WriteString(st.path.Render(f.Path))
		b.WriteString("\n")
		for _, d := range f.Diagnostics {
			sev := st.error
			if d.Severity == model.Warning {
				sev = st.warning
			}
			fmt.Fprintf(&b, "  %s  %s  %s  %s\n",
				st.location.Render(pad(d.Location.String(), locW)),
				sev.Render(pad(string(d.Severity), sevW)),
				pad(d.Message, msgW),
				st.rule.Render(d.Rule),
			)
		}
	}

	errs, warns := r.CountSeverity(model.Error), r.CountSeverity(model.Warning)
	summary := fmt.Sprintf("✖ %d %s (%d %s, %d %s)",
		total, plural(total, "problem"),
		errs, plural(errs, "error"),
		warns, plural(warns, "warning"),
	)
	sumStyle := st.summary.Inherit(st.warning)
	if errs > 0 {
		sumStyle = st.summary.Inherit(st.error)
	}
	b.WriteString("\n")
	b.WriteString(sumStyle.Render(summary))
	b.WriteString("\n")

	_, err := io.WriteString(w, b.String())
	return err
}

// JSON writes r as indented JSON.
func JSON(w io.Writer, r *model.Report) error {
	data, err := MarshalJSON(r)
	if err != nil {
		return err
	}
	_, err = w.Write(append(data, '\n'))
	return err
}

// MarshalJSON encodes r. Empty slices are written as [] rather than null.
func MarshalJSON(r *model.Report) ([]byte, error) {
	data, err := json.Marshal(r,
		json.Deterministic(true),
		json.FormatNilSliceAsNull(false),
		jsontext.WithIndent("  "),
	)
	if err != nil {
		return nil, fmt.Errorf("encoding report: %w", err)
	}
	return data, nil
}

// DecodeJSON parses a report produced by MarshalJSON.
func DecodeJSON(data []byte) (*model.Report, error) {
	var r model.Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decoding report: %w", err)
	}
	return &r, nil
}

func pad(s string, width int) string {
	n := len([]rune(s))
	if n >= width {
		return s
	}
	return s + strings.Repeat(" ", width-n)
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}
