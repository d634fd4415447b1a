package mark

import (
	sitter "github.com/smacker/go-tree-sitter"

	"github.com/phobologic/markguard/internal/jsast"
	"github.com/phobologic/markguard/internal/model"
)

// Shape is the syntactic shape of a call's callee relative to the
// completion value.
type Shape int

const (
	// ShapeOther calls do not involve the completion value.
	ShapeOther Shape = iota
	// ShapeBare calls invoke the completion value itself: mark().
	ShapeBare
	// ShapeMethod calls invoke a named method of it: mark.asDone().
	ShapeMethod
)

func (s Shape) String() string {
	switch s {
	case ShapeBare:
		return "bare"
	case ShapeMethod:
		return "method"
	default:
		return "other"
	}
}

// CallSite is one observed call of the completion value.
type CallSite struct {
	Shape Shape
	// Name is the method name for method calls and the completion name for
	// bare calls.
	Name     string
	Callee   *sitter.Node
	Location model.Location
	Position Position
	Allowed  []string
}

// Called reports whether the call satisfies the completion requirement.
// Bare calls never do.
func (c *CallSite) Called() bool {
	return c.Shape == ShapeMethod && contains(c.Allowed, c.Name)
}

// Classifier turns call expressions into call sites.
type Classifier struct {
	Completion string
	Taxonomy   Taxonomy
	Source     []byte
}

// Shape returns the callee shape of call and the invoked name.
func (c *Classifier) Shape(call *sitter.Node) (Shape, string, *sitter.Node) {
	callee := jsast.Unparen(call.ChildByFieldName("function"))
	if callee == nil {
		return ShapeOther, "", nil
	}

	switch callee.Type() {
	case "identifier":
		if jsast.Text(callee, c.Source) == c.Completion {
			return ShapeBare, c.Completion, callee
		}
	case "member_expression":
		object := jsast.Unparen(callee.ChildByFieldName("object"))
		if object == nil || object.Type() != "identifier" || jsast.Text(object, c.Source) != c.Completion {
			break
		}
		property := callee.ChildByFieldName("property")
		if property == nil {
			break
		}
		return ShapeMethod, jsast.Text(property, c.Source), callee
	}
	return ShapeOther, "", nil
}

// Classify builds the call site for call made by a handler at pos. It
// returns false when the call does not involve the completion value.
func (c *Classifier) Classify(call *sitter.Node, pos Position) (CallSite, bool) {
	shape, name, callee := c.Shape(call)
	if shape == ShapeOther {
		return CallSite{}, false
	}
	return CallSite{
		Shape:    shape,
		Name:     name,
		Callee:   callee,
		Location: jsast.Loc(callee, c.Source),
		Position: pos,
		Allowed:  c.Taxonomy.Allowed(pos),
	}, true
}
