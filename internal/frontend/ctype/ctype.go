// Package ctype interns C types into a declaration graph and computes their
// layout for a data model.
package ctype

import (
	"fmt"

	"github.com/coral-mesh/zoltan/internal/constants"
	"github.com/coral-mesh/zoltan/pkg/decl"
)

// DataModel fixes the sizes of the C types whose width varies by platform.
type DataModel struct {
	Name       string
	Long       int64
	Pointer    int64
	LongDouble int64
	WChar      int64
}

var (
	LLP64 = DataModel{Name: constants.DataModelLLP64, Long: 4, Pointer: 8, LongDouble: 8, WChar: 2}
	LP64  = DataModel{Name: constants.DataModelLP64, Long: 8, Pointer: 8, LongDouble: 16, WChar: 4}
	ILP32 = DataModel{Name: constants.DataModelILP32, Long: 4, Pointer: 4, LongDouble: 8, WChar: 2}
)

// ModelByName returns the data model called name. An empty name selects LLP64.
func ModelByName(name string) (DataModel, error) {
	switch name {
	case "", constants.DataModelLLP64:
		return LLP64, nil
	case constants.DataModelLP64:
		return LP64, nil
	case constants.DataModelILP32:
		return ILP32, nil
	default:
		return DataModel{}, fmt.Errorf("unknown data model %q", name)
	}
}

type baseSpec struct {
	size     func(DataModel) int64
	encoding decl.Encoding
}

func fixed(n int64) func(DataModel) int64 { return func(DataModel) int64 { return n } }

func pointerSized(m DataModel) int64 { return m.Pointer }

// baseTypes lists the builtin names, spelled the way Canonical returns them.
var baseTypes = map[string]baseSpec{
	"char":               {fixed(1), decl.EncodingSignedChar},
	"signed char":        {fixed(1), decl.EncodingSignedChar},
	"unsigned char":      {fixed(1), decl.EncodingUnsignedChar},
	"short":              {fixed(2), decl.EncodingSigned},
	"unsigned short":     {fixed(2), decl.EncodingUnsigned},
	"int":                {fixed(4), decl.EncodingSigned},
	"unsigned int":       {fixed(4), decl.EncodingUnsigned},
	"long":               {func(m DataModel) int64 { return m.Long }, decl.EncodingSigned},
	"unsigned long":      {func(m DataModel) int64 { return m.Long }, decl.EncodingUnsigned},
	"long long":          {fixed(8), decl.EncodingSigned},
	"unsigned long long": {fixed(8), decl.EncodingUnsigned},
	"float":              {fixed(4), decl.EncodingFloat},
	"double":             {fixed(8), decl.EncodingFloat},
	"long double":        {func(m DataModel) int64 { return m.LongDouble }, decl.EncodingFloat},
	"bool":               {fixed(1), decl.EncodingBool},
	"wchar_t":            {func(m DataModel) int64 { return m.WChar }, decl.EncodingUnsigned},
	"char8_t":            {fixed(1), decl.EncodingUnsignedChar},
	"char16_t":           {fixed(2), decl.EncodingUnsigned},
	"char32_t":           {fixed(4), decl.EncodingUnsigned},
	"int8_t":             {fixed(1), decl.EncodingSigned},
	"uint8_t":            {fixed(1), decl.EncodingUnsigned},
	"int16_t":            {fixed(2), decl.EncodingSigned},
	"uint16_t":           {fixed(2), decl.EncodingUnsigned},
	"int32_t":            {fixed(4), decl.EncodingSigned},
	"uint32_t":           {fixed(4), decl.EncodingUnsigned},
	"int64_t":            {fixed(8), decl.EncodingSigned},
	"uint64_t":           {fixed(8), decl.EncodingUnsigned},
	"intptr_t":           {pointerSized, decl.EncodingSigned},
	"uintptr_t":          {pointerSized, decl.EncodingUnsigned},
	"size_t":             {pointerSized, decl.EncodingUnsigned},
	"ssize_t":            {pointerSized, decl.EncodingSigned},
	"ptrdiff_t":          {pointerSized, decl.EncodingSigned},
}

// aliases maps alternative spellings onto baseTypes names.
var aliases = map[string]string{
	"_Bool":                  "bool",
	"signed":                 "int",
	"signed int":             "int",
	"unsigned":               "unsigned int",
	"short int":              "short",
	"signed short":           "short",
	"signed short int":       "short",
	"unsigned short int":     "unsigned short",
	"long int":               "long",
	"signed long":            "long",
	"signed long int":        "long",
	"unsigned long int":      "unsigned long",
	"long long int":          "long long",
	"signed long long":       "long long",
	"signed long long int":   "long long",
	"unsigned long long int": "unsigned long long",
}

// Canonical returns the builtin name spelled s denotes, or false.
func Canonical(s string) (string, bool) {
	if a, ok := aliases[s]; ok {
		return a, true
	}
	if _, ok := baseTypes[s]; ok {
		return s, true
	}
	return "", false
}

// Table interns types into a graph and remembers their alignment.
type Table struct {
	g     *decl.Graph
	model DataModel

	base     map[string]decl.TypeID
	pointers map[decl.TypeID]decl.TypeID
	align    map[decl.TypeID]int64
}

// NewTable returns a table adding types to g.
func NewTable(g *decl.Graph, model DataModel) *Table {
	return &Table{
		g:        g,
		model:    model,
		base:     make(map[string]decl.TypeID),
		pointers: make(map[decl.TypeID]decl.TypeID),
		align:    make(map[decl.TypeID]int64),
	}
}

// Graph returns the graph the table adds to.
func (t *Table) Graph() *decl.Graph {
	return t.g
}

// Model returns the table's data model.
func (t *Table) Model() DataModel {
	return t.model
}

// Base returns the builtin type spelled name, or false. "void" yields
// decl.Void.
func (t *Table) Base(name string) (decl.TypeID, bool) {
	if name == "void" {
		return decl.Void, true
	}
	canon, ok := Canonical(name)
	if !ok {
		return 0, false
	}
	if id, ok := t.base[canon]; ok {
		return id, true
	}
	spec := baseTypes[canon]
	size := spec.size(t.model)
	id := t.g.Add(decl.TypeNode{Kind: decl.KindBase, Name: canon, Size: size, Encoding: spec.encoding})
	t.base[canon] = id
	t.align[id] = size
	return id, true
}

// Pointer returns the pointer to elem, interned.
func (t *Table) Pointer(elem decl.TypeID) decl.TypeID {
	if id, ok := t.pointers[elem]; ok {
		return id
	}
	id := t.g.Add(decl.TypeNode{Kind: decl.KindPointer, Size: t.model.Pointer, Elem: elem})
	t.pointers[elem] = id
	t.align[id] = t.model.Pointer
	return id
}

// Array returns an array of count elems; count may be decl.Unbounded.
func (t *Table) Array(elem decl.TypeID, count int64) (decl.TypeID, error) {
	n := t.g.Node(elem)
	switch {
	case elem == decl.Void:
		return 0, fmt.Errorf("array of void")
	case n.Kind == decl.KindFunction:
		return 0, fmt.Errorf("array of functions")
	case count < 0 && count != decl.Unbounded:
		return 0, fmt.Errorf("negative array length %d", count)
	}
	size := int64(0)
	if count != decl.Unbounded {
		if !t.Complete(elem) {
			return 0, fmt.Errorf("array of incomplete type %s", t.g.Describe(elem))
		}
		size = n.Size * count
	}
	id := t.g.Add(decl.TypeNode{Kind: decl.KindArray, Elem: elem, Count: count, Size: size})
	t.align[id] = t.AlignOf(elem)
	return id, nil
}

// Function returns a function type.
func (t *Table) Function(ret decl.TypeID, params []decl.Param, variadic bool) decl.TypeID {
	return t.g.Add(decl.TypeNode{Kind: decl.KindFunction, Elem: ret, Params: params, Variadic: variadic})
}

// Enum defines an enumeration over the underlying integer type.
func (t *Table) Enum(id decl.TypeID, name string, underlying decl.TypeID, values []decl.Enumerator) {
	u := t.g.Node(underlying)
	t.g.Set(id, decl.TypeNode{Kind: decl.KindEnum, Name: name, Size: u.Size, Elem: underlying, Enumerators: values})
	t.align[id] = t.AlignOf(underlying)
}

// Complete reports whether the size of id is known.
func (t *Table) Complete(id decl.TypeID) bool {
	n := t.g.Node(id)
	switch n.Kind {
	case decl.KindVoid, decl.KindFunction:
		return false
	case decl.KindStruct, decl.KindUnion, decl.KindEnum:
		return !n.Incomplete
	case decl.KindArray:
		return n.Count != decl.Unbounded
	}
	return true
}

// AlignOf returns the alignment of id in bytes.
func (t *Table) AlignOf(id decl.TypeID) int64 {
	if a, ok := t.align[id]; ok && a > 0 {
		return a
	}
	n := t.g.Node(id)
	switch n.Kind {
	case decl.KindArray:
		return t.AlignOf(n.Elem)
	case decl.KindEnum:
		if n.Elem != decl.Void {
			return t.AlignOf(n.Elem)
		}
	}
	if n.Size > 0 && n.Size <= 8 {
		return n.Size
	}
	return 1
}

// SetAlign overrides the alignment of id.
func (t *Table) SetAlign(id decl.TypeID, align int64) {
	t.align[id] = align
}
