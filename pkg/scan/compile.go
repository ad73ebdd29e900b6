// Package scan finds every occurrence of many byte patterns in an image in a
// single pass per section.
//
// Each pattern is reduced to an anchor, its longest literal byte run. The
// anchors of all patterns feed one Aho-Corasick automaton; every automaton
// hit is then verified against the full template of the patterns owning that
// anchor.
package scan

import (
	"bytes"
	"fmt"

	"github.com/coral-mesh/zoltan/pkg/pattern"
)

// UnanchorableError is returned for patterns the scanner cannot search for:
// templates without literal bytes, and templates whose anchor overlaps a
// second copy of itself that runs into capture bytes.
type UnanchorableError struct {
	Name   string
	Reason string
}

// Error implements the error interface.
func (e *UnanchorableError) Error() string {
	return fmt.Sprintf("pattern for %q cannot be anchored: %s", e.Name, e.Reason)
}

// Compiled is the immutable search form of a pattern.Spec for a given
// address size.
type Compiled struct {
	Spec *pattern.Spec
	// Size is the template length in bytes.
	Size int
	// Anchor is the literal run fed to the automaton, found AnchorOffset
	// bytes after the start of a match.
	Anchor       []byte
	AnchorOffset int
	Captures     []pattern.CaptureSpan

	// value and fixed describe the template byte by byte: fixed positions
	// must equal value.
	value []byte
	fixed []bool
	// capture marks capture positions for the anchor overlap check.
	capture []bool
}

// Name returns the declaration the pattern locates.
func (c *Compiled) Name() string {
	return c.Spec.Name
}

// Compile lowers spec into its search form.
func Compile(spec *pattern.Spec, addrSize int) (*Compiled, error) {
	size := spec.Size(addrSize)
	c := &Compiled{
		Spec:     spec,
		Size:     size,
		Captures: spec.Captures(addrSize),
		value:    make([]byte, size),
		fixed:    make([]bool, size),
		capture:  make([]bool, size),
	}

	off := 0
	for _, t := range spec.Tokens {
		w := t.Width(addrSize)
		switch t.Type {
		case pattern.TokenLiteral:
			c.value[off] = t.Byte
			c.fixed[off] = true
		case pattern.TokenCapture:
			for i := off; i < off+w; i++ {
				c.capture[i] = true
			}
		}
		off += w
	}

	start, length := longestLiteralRun(c.fixed)
	if length == 0 {
		return nil, &UnanchorableError{Name: spec.Name, Reason: "template has no literal bytes"}
	}
	c.AnchorOffset = start
	c.Anchor = bytes.Clone(c.value[start : start+length])

	if p, ok := c.realignsOntoCapture(); ok {
		return nil, &UnanchorableError{
			Name:   spec.Name,
			Reason: fmt.Sprintf("anchor %X also aligns at offset %d over capture bytes", c.Anchor, p),
		}
	}
	return c, nil
}

// longestLiteralRun returns the first longest run of fixed positions.
func longestLiteralRun(fixed []bool) (start, length int) {
	for i := 0; i < len(fixed); {
		if !fixed[i] {
			i++
			continue
		}
		j := i
		for j < len(fixed) && fixed[j] {
			j++
		}
		if j-i > length {
			start, length = i, j-i
		}
		i = j
	}
	return start, length
}

// realignsOntoCapture reports whether the anchor also fits the template at
// an offset that overlaps its own position and reaches into capture bytes.
// Whether such a match window holds the anchor once or twice then depends on
// the captured value. Alignments away from the anchor are harmless since every
// hit is verified on its own.
func (c *Compiled) realignsOntoCapture() (int, bool) {
	n := len(c.Anchor)
	lo := max(0, c.AnchorOffset-n+1)
	for p := lo; p < c.AnchorOffset+n && p+n <= c.Size; p++ {
		if p == c.AnchorOffset {
			continue
		}
		captures, fits := 0, true
		for i := 0; i < n && fits; i++ {
			q := p + i
			switch {
			case c.fixed[q]:
				fits = c.value[q] == c.Anchor[i]
			case c.capture[q]:
				captures++
			}
		}
		if fits && captures > 0 {
			return p, true
		}
	}
	return 0, false
}

// MatchAt reports whether the template matches data at start.
func (c *Compiled) MatchAt(data []byte, start int) bool {
	if start < 0 || start+c.Size > len(data) {
		return false
	}
	window := data[start : start+c.Size]
	for i, f := range c.fixed {
		if f && window[i] != c.value[i] {
			return false
		}
	}
	return true
}

// capturesAt slices the capture bytes out of a verified window.
func (c *Compiled) capturesAt(data []byte, start int) map[string][]byte {
	if len(c.Captures) == 0 {
		return nil
	}
	out := make(map[string][]byte, len(c.Captures))
	for _, span := range c.Captures {
		out[span.Name] = data[start+span.Offset : start+span.End() : start+span.End()]
	}
	return out
}
