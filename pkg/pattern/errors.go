package pattern

import "fmt"

// SyntaxError reports a malformed annotation. It is fatal for the declaration
// that carries the annotation only.
type SyntaxError struct {
	// Decl is the declaration name, empty when parsing a fragment.
	Decl string
	// Directive is the annotation key (pattern, offset, nth, eval) the error belongs to.
	Directive string
	Message   string
}

// Error implements the error interface.
func (e *SyntaxError) Error() string {
	switch {
	case e.Decl != "" && e.Directive != "":
		return fmt.Sprintf("pattern syntax error in %q (@%s): %s", e.Decl, e.Directive, e.Message)
	case e.Directive != "":
		return fmt.Sprintf("pattern syntax error (@%s): %s", e.Directive, e.Message)
	case e.Decl != "":
		return fmt.Sprintf("pattern syntax error in %q: %s", e.Decl, e.Message)
	default:
		return "pattern syntax error: " + e.Message
	}
}

func syntaxErrorf(directive, format string, args ...any) *SyntaxError {
	return &SyntaxError{Directive: directive, Message: fmt.Sprintf(format, args...)}
}
