// Package jsast provides helpers over tree-sitter JavaScript and TypeScript
// syntax trees.
package jsast

import (
	"unicode/utf16"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/phobologic/markguard/internal/model"
)

var functionTypes = map[string]struct{}{
	"function_declaration":           {},
	"generator_function_declaration": {},
	"function":                       {},
	"function_expression":            {},
	"generator_function":             {},
	"arrow_function":                 {},
	"method_definition":              {},
}

// IsFunction reports whether n starts a new function scope.
func IsFunction(n *sitter.Node) bool {
	if n == nil {
		return false
	}
	_, ok := functionTypes[n.Type()]
	return ok
}

// IsArray reports whether n is an array literal.
func IsArray(n *sitter.Node) bool {
	return n != nil && n.Type() == "array"
}

// Text returns the source text of a tree-sitter node.
func Text(n *sitter.Node, source []byte) string {
	if n == nil {
		return ""
	}
	return string(source[n.StartByte():n.EndByte()])
}

// NamedChildren returns the named children of n, skipping comments.
func NamedChildren(n *sitter.Node) []*sitter.Node {
	if n == nil {
		return nil
	}
	count := int(n.NamedChildCount())
	children := make([]*sitter.Node, 0, count)
	for i := 0; i < count; i++ {
		child := n.NamedChild(i)
		if child == nil || child.Type() == "comment" {
			continue
		}
		children = append(children, child)
	}
	return children
}

// Unparen strips any parentheses wrapped around an expression.
func Unparen(n *sitter.Node) *sitter.Node {
	for n != nil && n.Type() == "parenthesized_expression" {
		inner := NamedChildren(n)
		if len(inner) != 1 {
			return n
		}
		n = inner[0]
	}
	return n
}

// SameNode reports whether a and b denote the same syntax node.
func SameNode(a, b *sitter.Node) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.StartByte() == b.StartByte() && a.EndByte() == b.EndByte() && a.Type() == b.Type()
}

// Body returns the body of a function node.
func Body(fn *sitter.Node) *sitter.Node {
	return fn.ChildByFieldName("body")
}

// Params returns the parameter list of a function node. For arrow functions
// with a single bare parameter this is the identifier itself.
func Params(fn *sitter.Node) *sitter.Node {
	if p := fn.ChildByFieldName("parameters"); p != nil {
		return p
	}
	return fn.ChildByFieldName("parameter")
}

// ParamNames returns every name bound by the parameter list of fn, including
// names bound inside destructuring patterns and defaults.
func ParamNames(fn *sitter.Node, source []byte) []string {
	var names []string
	collectBindings(Params(fn), source, &names)
	return names
}

func collectBindings(n *sitter.Node, source []byte, names *[]string) {
	if n == nil {
		return
	}
	switch n.Type() {
	case "identifier", "shorthand_property_identifier_pattern":
		*names = append(*names, Text(n, source))
	case "assignment_pattern", "object_assignment_pattern":
		collectBindings(n.ChildByFieldName("left"), source, names)
	case "pair_pattern":
		collectBindings(n.ChildByFieldName("value"), source, names)
	case "required_parameter", "optional_parameter":
		collectBindings(n.ChildByFieldName("pattern"), source, names)
	case "formal_parameters", "object_pattern", "array_pattern", "rest_pattern":
		for _, child := range NamedChildren(n) {
			collectBindings(child, source, names)
		}
	}
}

// ReportNode returns the node diagnostics about a whole function are pinned
// to. Methods report at their parameter list, the way object-literal
// methods are reported as function expressions.
func ReportNode(fn *sitter.Node) *sitter.Node {
	if fn.Type() == "method_definition" {
		if p := Params(fn); p != nil {
			return p
		}
	}
	return fn
}

// Loc returns the 1-based location of the start of n. Columns count UTF-16
// code units, as JavaScript tooling does.
func Loc(n *sitter.Node, source []byte) model.Location {
	start := int(n.StartByte())
	pt := n.StartPoint()
	lineStart := start - int(pt.Column)
	if lineStart < 0 {
		lineStart = 0
	}
	return model.Location{
		Line:   int(pt.Row) + 1,
		Column: utf16Len(source[lineStart:start]) + 1,
		Offset: start,
	}
}

func utf16Len(b []byte) int {
	n := 0
	for _, r := range string(b) {
		n += utf16.RuneLen(r)
	}
	return n
}
