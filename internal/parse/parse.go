// Package parse parses source files with tree-sitter and indexes their
// top-level declarations.
package parse

import (
	"context"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/phobologic/markguard/internal/jsast"
)

// Decl is a top-level binding: a variable declarator or a function
// declaration.
type Decl struct {
	Name  string
	Node  *sitter.Node // declarator or function declaration
	Value *sitter.Node // initializer, or the function declaration itself
}

// Index maps top-level binding names to their declarations. It is built
// once per file and read by every lookup that needs to resolve a name.
type Index struct {
	decls map[string]Decl
	names []string
}

// Lookup returns the first declaration bound to name.
func (ix *Index) Lookup(name string) (Decl, bool) {
	if ix == nil {
		return Decl{}, false
	}
	d, ok := ix.decls[name]
	return d, ok
}

// Names returns the indexed names in source order.
func (ix *Index) Names() []string {
	if ix == nil {
		return nil
	}
	return ix.names
}

// Len returns the number of indexed names.
func (ix *Index) Len() int {
	if ix == nil {
		return 0
	}
	return len(ix.names)
}

// File is a parsed source file. Close releases the syntax tree.
type File struct {
	Path   string
	Source []byte
	Tree   *sitter.Tree
	Decls  *Index
}

// Root returns the root node of the syntax tree.
func (f *File) Root() *sitter.Node {
	return f.Tree.RootNode()
}

// Close releases the tree-sitter tree.
func (f *File) Close() {
	if f.Tree != nil {
		f.Tree.Close()
	}
}

// Parse parses source and builds its declaration index.
// The parser must be created for the correct language.
// filePath is used only for File.Path and should be the repo-relative path.
func Parse(ctx context.Context, parser *sitter.Parser, query *sitter.Query, source []byte, filePath string) (*File, error) {
	tree, err := parser.ParseCtx(ctx, nil, source)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", filePath, err)
	}
	return &File{
		Path:   filePath,
		Source: source,
		Tree:   tree,
		Decls:  BuildIndex(query, tree.RootNode(), source),
	}, nil
}

// BuildIndex runs the declaration query over root and indexes every match.
// The first declaration of a name wins.
func BuildIndex(query *sitter.Query, root *sitter.Node, source []byte) *Index {
	ix := &Index{decls: make(map[string]Decl)}
	if query == nil || root == nil {
		return ix
	}

	qc := sitter.NewQueryCursor()
	defer qc.Close()
	qc.Exec(query, root)

	for {
		match, ok := qc.NextMatch()
		if !ok {
			break
		}
		match = qc.FilterPredicates(match, source)

		var d Decl
		for _, c := range match.Captures {
			switch query.CaptureNameForId(c.Index) {
			case "name":
				d.Name = jsast.Text(c.Node, source)
			case "value":
				d.Value = c.Node
			case "declaration":
				d.Node = c.Node
			}
		}

		if d.Name == "" || d.Node == nil {
			continue
		}
		if _, seen := ix.decls[d.Name]; seen {
			continue
		}
		ix.decls[d.Name] = d
		ix.names = append(ix.names, d.Name)
	}

	return ix
}
