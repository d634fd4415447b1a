// Package toon implements TOON (Token-Oriented Object Notation) encoding.
package toon

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/phobologic/markguard/internal/model"
)

var (
	needsQuoting = regexp.MustCompile(`[,:"\\{}\[\]]`)
	looksNumeric = regexp.MustCompile(`^-?(?:0|[1-9]\d*)(?:\.\d+)?$`)
	keywords     = map[string]struct{}{
		"true":  {},
		"false": {},
		"null":  {},
	}
)

// Encode converts a lint report into TOON format.
func Encode(r *model.Report) string {
	var parts []string

	parts = append(parts, fmt.Sprintf("root: %s", encodeValue(r.Root)))
	parts = append(parts, fmt.Sprintf("problems: %d", r.Count()))

	var fileRows [][]string
	for i := range r.Files {
		f := &r.Files[i]
		fileRows = append(fileRows, []string{
			f.Path,
			f.Language,
			strings.Join(f.Rules, " "),
			strconv.Itoa(len(f.Diagnostics)),
		})
	}
	parts = append(parts, formatTabular("files", []string{"path", "language", "rules", "problems"}, fileRows))

	var diagRows [][]string
	for i := range r.Files {
		f := &r.Files[i]
		for j := range f.Diagnostics {
			d := &f.Diagnostics[j]
			diagRows = append(diagRows, []string{
				f.Path,
				strconv.Itoa(d.Location.Line),
				strconv.Itoa(d.Location.Column),
				string(d.Severity),
				d.Rule,
				string(d.Kind),
				d.Message,
			})
		}
	}
	parts = append(parts, formatTabular("diagnostics", []string{"file", "line", "column", "severity", "rule", "kind", "message"}, diagRows))

	return strings.Join(parts, "\n")
}

func formatTabular(name string, columns []string, rows [][]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s[%d]{%s}:", name, len(rows), strings.Join(columns, ","))
	for _, row := range rows {
		encoded := make([]string, len(row))
		for i, cell := range row {
			encoded[i] = encodeValue(cell)
		}
		fmt.Fprintf(&b, "\n  %s", strings.Join(encoded, ","))
	}
	return b.String()
}

func encodeValue(value string) string {
	if value == "" {
		return `""`
	}

	if value != strings.TrimSpace(value) {
		return quote(value)
	}

	if strings.ContainsAny(value, "\n\r\t") {
		return quote(value)
	}

	if _, ok := keywords[strings.ToLower(value)]; ok {
		return quote(value)
	}

	if looksNumeric.MatchString(value) {
		return value
	}

	if needsQuoting.MatchString(value) {
		return quote(value)
	}

	if strings.HasPrefix(value, "-") {
		return quote(value)
	}

	return value
}

func quote(value string) string {
	escaped := strings.ReplaceAll(value, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `"`, `\"`)
	escaped = strings.ReplaceAll(escaped, "\n", `\n`)
	escaped = strings.ReplaceAll(escaped, "\r", `\r`)
	escaped = strings.ReplaceAll(escaped, "\t", `\t`)
	return `"` + escaped + `"`
}
