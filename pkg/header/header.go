// Package header renders resolved symbols as constant offsets from the image
// base, for inclusion in C, Rust or Go projects.
package header

import (
	"bytes"
	"fmt"
	"go/format"
	"io"
	"strings"
	"unicode"

	"github.com/coral-mesh/zoltan/pkg/resolve"
)

// Dialect selects the output language.
type Dialect string

const (
	DialectC    Dialect = "c"
	DialectRust Dialect = "rust"
	DialectGo   Dialect = "go"
)

// Entry is one constant: a symbol name and its offset from the image base.
type Entry struct {
	Name   string
	Offset uint64
}

// Entries converts symbols into offsets relative to base, keeping their order.
func Entries(symbols []resolve.Symbol, base uint64) []Entry {
	out := make([]Entry, 0, len(symbols))
	for _, s := range symbols {
		out = append(out, Entry{Name: s.Name, Offset: s.Address - base})
	}
	return out
}

// DuplicateNameError is returned when two symbols map to the same constant.
type DuplicateNameError struct {
	Constant string
	First    string
	Second   string
}

// Error implements the error interface.
func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("symbols %s and %s both map to constant %s", e.First, e.Second, e.Constant)
}

// Options tunes the rendered file.
type Options struct {
	// Package is the Go package clause. Ignored by the other dialects.
	Package string
}

// Write renders entries in dialect d.
func Write(w io.Writer, d Dialect, entries []Entry, opts Options) error {
	var (
		data []byte
		err  error
	)
	switch d {
	case DialectC:
		data, err = renderC(entries)
	case DialectRust:
		data, err = renderRust(entries)
	case DialectGo:
		data, err = renderGo(entries, opts.Package)
	default:
		return fmt.Errorf("unknown header dialect %q", d)
	}
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func renderC(entries []Entry) ([]byte, error) {
	names, err := constantNames(entries, ScreamingName)
	if err != nil {
		return nil, err
	}
	var b bytes.Buffer
	b.WriteString("// Code generated by zoltan. DO NOT EDIT.\n\n#pragma once\n\n")
	for i, e := range entries {
		fmt.Fprintf(&b, "#define %s 0x%X\n", names[i], e.Offset)
	}
	return b.Bytes(), nil
}

func renderRust(entries []Entry) ([]byte, error) {
	names, err := constantNames(entries, ScreamingName)
	if err != nil {
		return nil, err
	}
	var b bytes.Buffer
	b.WriteString("// Code generated by zoltan. DO NOT EDIT.\n\n")
	for i, e := range entries {
		fmt.Fprintf(&b, "pub const %s: usize = 0x%X;\n", names[i], e.Offset)
	}
	return b.Bytes(), nil
}

func renderGo(entries []Entry, pkg string) ([]byte, error) {
	if pkg == "" {
		return nil, fmt.Errorf("go output requires a package name")
	}
	names, err := constantNames(entries, ExportedName)
	if err != nil {
		return nil, err
	}
	var b bytes.Buffer
	fmt.Fprintf(&b, "// Code generated by zoltan. DO NOT EDIT.\n\npackage %s\n\n", pkg)
	if len(entries) > 0 {
		b.WriteString("// Offsets from the image base.\nconst (\n")
		for i, e := range entries {
			fmt.Fprintf(&b, "%s uintptr = 0x%X\n", names[i], e.Offset)
		}
		b.WriteString(")\n")
	}
	out, err := format.Source(b.Bytes())
	if err != nil {
		return nil, fmt.Errorf("failed to format Go output: %w", err)
	}
	return out, nil
}

func constantNames(entries []Entry, naming func(string) string) ([]string, error) {
	names := make([]string, len(entries))
	seen := make(map[string]string, len(entries))
	for i, e := range entries {
		n := naming(e.Name)
		if prev, ok := seen[n]; ok {
			return nil, &DuplicateNameError{Constant: n, First: prev, Second: e.Name}
		}
		seen[n] = e.Name
		names[i] = n
	}
	return names, nil
}

// ScreamingName returns the C and Rust constant for a symbol: the name
// upper-cased with an _ADDR suffix. Characters that cannot appear in an
// identifier, such as the "::" of qualified names, become underscores.
func ScreamingName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(unicode.ToUpper(r))
		case r == ':':
			if !strings.HasSuffix(b.String(), "_") {
				b.WriteByte('_')
			}
		default:
			b.WriteByte('_')
		}
	}
	s := b.String()
	if s == "" || unicode.IsDigit(rune(s[0])) {
		s = "_" + s
	}
	return s + "_ADDR"
}

// ExportedName returns the Go constant for a symbol: the name in mixed caps
// with an Addr suffix, e.g. spawn_entity becomes SpawnEntityAddr.
func ExportedName(name string) string {
	var b strings.Builder
	upper := true
	for _, r := range name {
		if r >= unicode.MaxASCII || !(unicode.IsLetter(r) || unicode.IsDigit(r)) {
			upper = true
			continue
		}
		if upper {
			r = unicode.ToUpper(r)
			upper = false
		}
		b.WriteRune(r)
	}
	s := b.String()
	if s == "" || unicode.IsDigit(rune(s[0])) {
		s = "X" + s
	}
	return s + "Addr"
}
