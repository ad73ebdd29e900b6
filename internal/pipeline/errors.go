package pipeline

import (
	"fmt"

	"github.com/coral-mesh/zoltan/pkg/decl"
)

// Phase names the stage a declaration failed in.
type Phase string

const (
	PhaseAnnotation Phase = "annotation"
	PhaseCompile    Phase = "compile"
	PhaseResolve    Phase = "resolve"
)

// DeclError attributes a failure to one declaration. Declaration failures
// never stop the others.
type DeclError struct {
	Decl  string
	Pos   decl.Pos
	Phase Phase
	Err   error
}

// Error implements the error interface.
func (e *DeclError) Error() string {
	return fmt.Sprintf("%s: %s (%s): %v", e.Pos, e.Decl, e.Phase, e.Err)
}

// Unwrap returns the underlying error.
func (e *DeclError) Unwrap() error {
	return e.Err
}
