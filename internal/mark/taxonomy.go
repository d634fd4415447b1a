package mark

import "strings"

// Taxonomy is the completion-method vocabulary of one kind of handler.
type Taxonomy struct {
	// Terminal methods are allowed in handlers that end their sequence.
	Terminal []string
	// Middleware methods are allowed in every earlier step of a sequence.
	// Empty means the handler kind has no middleware.
	Middleware []string
}

// Allowed returns the methods permitted at pos.
func (t Taxonomy) Allowed(pos Position) []string {
	if pos.Terminal() || len(t.Middleware) == 0 {
		return t.Terminal
	}
	return t.Middleware
}

// FormatMethods renders methods in declared order as "a, b or c".
func FormatMethods(methods []string) string {
	switch len(methods) {
	case 0:
		return ""
	case 1:
		return methods[0]
	}
	last := len(methods) - 1
	return strings.Join(methods[:last], ", ") + " or " + methods[last]
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
