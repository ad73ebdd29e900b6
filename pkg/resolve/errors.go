package resolve

import (
	"fmt"
	"strings"
)

// NotFoundError is returned when a pattern has no match in the scanned sections.
type NotFoundError struct {
	Name string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("pattern for %q not found", e.Name)
}

// AmbiguousMatchError is returned when a pattern without @nth matches more
// than once.
type AmbiguousMatchError struct {
	Name      string
	Addresses []uint64
}

// Count returns the number of matches.
func (e *AmbiguousMatchError) Count() int {
	return len(e.Addresses)
}

// Error implements the error interface.
func (e *AmbiguousMatchError) Error() string {
	const shown = 4
	addrs := make([]string, 0, shown)
	for i, a := range e.Addresses {
		if i == shown {
			addrs = append(addrs, "...")
			break
		}
		addrs = append(addrs, fmt.Sprintf("0x%X", a))
	}
	return fmt.Sprintf("pattern for %q is ambiguous: %d matches (%s)", e.Name, len(e.Addresses), strings.Join(addrs, ", "))
}

// MatchCountMismatchError is returned when @nth declares a number of
// occurrences different from what the scan found.
type MatchCountMismatchError struct {
	Name     string
	Expected int
	Actual   int
}

// Error implements the error interface.
func (e *MatchCountMismatchError) Error() string {
	return fmt.Sprintf("pattern for %q expected %d matches, found %d", e.Name, e.Expected, e.Actual)
}

// Error attributes a resolution failure to a request.
type Error struct {
	Name string
	// Ref is the Ref of the failed Request.
	Ref int
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("resolve %s: %v", e.Name, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}
