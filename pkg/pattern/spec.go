package pattern

import (
	"fmt"
	"strings"
)

// RelWidth is the width in bytes of a rel capture (a rel32 branch operand).
const RelWidth = 4

// Kind is the interpretation of a capture group.
type Kind uint8

const (
	// KindRel is a signed displacement relative to the end of the capture.
	KindRel Kind = iota + 1
	// KindAbs is an absolute virtual address.
	KindAbs
)

// ParseKind maps the textual capture kind to a Kind.
func ParseKind(s string) (Kind, bool) {
	switch s {
	case "rel":
		return KindRel, true
	case "abs":
		return KindAbs, true
	}
	return 0, false
}

func (k Kind) String() string {
	switch k {
	case KindRel:
		return "rel"
	case KindAbs:
		return "abs"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Width returns the number of bytes a capture of this kind consumes for an
// image with the given address size.
func (k Kind) Width(addrSize int) int {
	if k == KindAbs {
		return addrSize
	}
	return RelWidth
}

// TokenType discriminates the template tokens.
type TokenType uint8

const (
	TokenLiteral TokenType = iota
	TokenWildcard
	TokenCapture
)

// Token is a single element of a byte template.
type Token struct {
	Type TokenType
	// Byte is the expected value of a literal token.
	Byte byte
	// Name and Kind describe a capture token.
	Name string
	Kind Kind
}

// Width returns the number of image bytes the token covers.
func (t Token) Width(addrSize int) int {
	if t.Type == TokenCapture {
		return t.Kind.Width(addrSize)
	}
	return 1
}

func (t Token) String() string {
	switch t.Type {
	case TokenLiteral:
		return fmt.Sprintf("%02X", t.Byte)
	case TokenWildcard:
		return "?"
	default:
		return fmt.Sprintf("(%s:%s)", t.Name, t.Kind)
	}
}

// Selection picks one occurrence out of an expected number of occurrences.
type Selection struct {
	Index int
	Total int
}

func (s Selection) String() string {
	return fmt.Sprintf("%d/%d", s.Index, s.Total)
}

// CaptureSpan locates a capture group relative to the start of a match.
type CaptureSpan struct {
	Name   string
	Kind   Kind
	Offset int
	Width  int
}

// End returns the offset of the first byte after the capture.
func (c CaptureSpan) End() int {
	return c.Offset + c.Width
}

// Spec is a fully parsed pattern annotation for a single declaration.
type Spec struct {
	// Name is the declaration the pattern locates.
	Name   string
	Tokens []Token
	// Offset is added to the match start when no Eval expression is present.
	Offset int64
	// Nth is nil when exactly one occurrence is expected.
	Nth  *Selection
	Eval Expr
}

// Size returns the total byte length of the template.
func (s *Spec) Size(addrSize int) int {
	n := 0
	for _, t := range s.Tokens {
		n += t.Width(addrSize)
	}
	return n
}

// Captures returns the capture spans in template order.
func (s *Spec) Captures(addrSize int) []CaptureSpan {
	var spans []CaptureSpan
	off := 0
	for _, t := range s.Tokens {
		w := t.Width(addrSize)
		if t.Type == TokenCapture {
			spans = append(spans, CaptureSpan{Name: t.Name, Kind: t.Kind, Offset: off, Width: w})
		}
		off += w
	}
	return spans
}

// HasCaptures reports whether the template declares at least one capture.
func (s *Spec) HasCaptures() bool {
	for _, t := range s.Tokens {
		if t.Type == TokenCapture {
			return true
		}
	}
	return false
}

// Template renders the byte template back into its textual form.
func (s *Spec) Template() string {
	parts := make([]string, len(s.Tokens))
	for i, t := range s.Tokens {
		parts[i] = t.String()
	}
	return strings.Join(parts, " ")
}
