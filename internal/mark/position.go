package mark

import (
	sitter "github.com/smacker/go-tree-sitter"

	"github.com/phobologic/markguard/internal/jsast"
	"github.com/phobologic/markguard/internal/parse"
)

// Position is the structural position of a handler function.
type Position struct {
	// Middleware is set when the handler is a step of an ordered sequence.
	Middleware bool
	// Last is set when the handler is the final step of its sequence.
	Last bool
}

// Terminal reports whether the handler ends its sequence: it is either no
// middleware at all or the last step.
func (p Position) Terminal() bool {
	return !p.Middleware || p.Last
}

// Chain is a resolved middleware sequence and the element that stands for
// the handler being resolved: the function itself when declared inline, or
// the identifier that references it.
type Chain struct {
	Steps []*sitter.Node
	Step  *sitter.Node
}

// Position returns the position of Step within Steps. Steps are matched by
// start offset.
func (c Chain) Position() Position {
	if len(c.Steps) == 0 || c.Step == nil {
		return Position{}
	}
	last := c.Steps[len(c.Steps)-1]
	return Position{Middleware: true, Last: last.StartByte() == c.Step.StartByte()}
}

// Resolver determines handler positions from a file's declaration index.
// Tables names the top-level handler tables whose array-valued properties
// are middleware sequences.
type Resolver struct {
	Decls  *parse.Index
	Tables []string
	Source []byte
}

// Resolve returns the position of the handler function fn. A function that
// cannot be placed in a sequence is terminal; resolution never fails.
func (r *Resolver) Resolve(fn *sitter.Node) Position {
	if chain, ok := r.Chain(fn); ok {
		return chain.Position()
	}
	return Position{}
}

// Chain finds the middleware sequence fn belongs to, either as an inline
// array element or through the name it is bound to.
func (r *Resolver) Chain(fn *sitter.Node) (Chain, bool) {
	node, parent := outermost(fn)
	if jsast.IsArray(parent) {
		return Chain{Steps: jsast.NamedChildren(parent), Step: node}, true
	}

	name := r.bindingName(fn, node, parent)
	if name == "" {
		return Chain{}, false
	}
	return r.lookup(name)
}

// outermost skips parentheses around fn and returns the wrapped node with
// its parent.
func outermost(fn *sitter.Node) (*sitter.Node, *sitter.Node) {
	node, parent := fn, fn.Parent()
	for parent != nil && parent.Type() == "parenthesized_expression" {
		node, parent = parent, parent.Parent()
	}
	return node, parent
}

func (r *Resolver) bindingName(fn, node, parent *sitter.Node) string {
	switch {
	case fn.Type() == "function_declaration" || fn.Type() == "generator_function_declaration":
		return jsast.Text(fn.ChildByFieldName("name"), r.Source)
	case parent != nil && parent.Type() == "variable_declarator":
		if !jsast.SameNode(parent.ChildByFieldName("value"), node) {
			return ""
		}
		name := parent.ChildByFieldName("name")
		if name == nil || name.Type() != "identifier" {
			return ""
		}
		return jsast.Text(name, r.Source)
	}
	return ""
}

// lookup searches the handler tables for the first array-valued property
// that lists name.
func (r *Resolver) lookup(name string) (Chain, bool) {
	for _, table := range r.Tables {
		decl, ok := r.Decls.Lookup(table)
		if !ok {
			continue
		}
		obj := jsast.Unparen(decl.Value)
		if obj == nil || obj.Type() != "object" {
			continue
		}
		for _, prop := range jsast.NamedChildren(obj) {
			if prop.Type() != "pair" {
				continue
			}
			arr := jsast.Unparen(prop.ChildByFieldName("value"))
			if !jsast.IsArray(arr) {
				continue
			}
			steps := jsast.NamedChildren(arr)
			for _, step := range steps {
				if step.Type() == "identifier" && jsast.Text(step, r.Source) == name {
					return Chain{Steps: steps, Step: step}, true
				}
			}
		}
	}
	return Chain{}, false
}
