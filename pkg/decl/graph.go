// Package decl holds the declarations and types a frontend extracts from a
// source file. Types live in a node table and reference each other by
// TypeID, which keeps recursive types finite.
package decl

import (
	"context"
	"fmt"
	"slices"
	"strings"
)

// TypeID indexes a node in a Graph.
type TypeID int

// Void is the absence of a type: the return type of procedures and the
// target of untyped pointers.
const Void TypeID = 0

// Kind discriminates type nodes.
type Kind uint8

const (
	KindVoid Kind = iota
	KindBase
	KindPointer
	KindArray
	KindStruct
	KindUnion
	KindEnum
	KindFunction
)

var kindNames = [...]string{
	KindVoid:     "void",
	KindBase:     "base",
	KindPointer:  "pointer",
	KindArray:    "array",
	KindStruct:   "struct",
	KindUnion:    "union",
	KindEnum:     "enum",
	KindFunction: "function",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// ParseKind maps a kind name back to a Kind.
func ParseKind(s string) (Kind, bool) {
	for k, name := range kindNames {
		if name == s {
			return Kind(k), true
		}
	}
	return 0, false
}

// Encoding is the value interpretation of a base type.
type Encoding uint8

const (
	EncodingSigned Encoding = iota + 1
	EncodingUnsigned
	EncodingSignedChar
	EncodingUnsignedChar
	EncodingFloat
	EncodingBool
)

var encodingNames = map[Encoding]string{
	EncodingSigned:       "signed",
	EncodingUnsigned:     "unsigned",
	EncodingSignedChar:   "signed_char",
	EncodingUnsignedChar: "unsigned_char",
	EncodingFloat:        "float",
	EncodingBool:         "bool",
}

func (e Encoding) String() string {
	if s, ok := encodingNames[e]; ok {
		return s
	}
	return fmt.Sprintf("encoding(%d)", uint8(e))
}

// ParseEncoding maps an encoding name back to an Encoding.
func ParseEncoding(s string) (Encoding, bool) {
	for e, name := range encodingNames {
		if name == s {
			return e, true
		}
	}
	return 0, false
}

// Unbounded is the Count of an array without a declared length.
const Unbounded int64 = -1

// Member is a field of a struct or union.
type Member struct {
	Name string
	Type TypeID
	// Offset is the byte offset of the member from the start of the aggregate.
	Offset int64
	// BitSize is non-zero for bit fields. BitOffset is then the offset of the
	// first bit from the start of the aggregate.
	BitSize   int64
	BitOffset int64
}

// Enumerator is a named enum constant.
type Enumerator struct {
	Name  string
	Value int64
}

// Param is a function parameter. Name may be empty. Artificial marks a
// parameter the compiler passes implicitly, such as this.
type Param struct {
	Name       string
	Type       TypeID
	Artificial bool
}

// Method is a virtual method of a struct. Type is a KindFunction node that
// leaves out the implicit this parameter.
type Method struct {
	Name string
	Type TypeID
}

// TypeNode is one type of the graph. Which fields are meaningful depends on
// Kind.
type TypeNode struct {
	Kind Kind
	// Name is empty for anonymous types, pointers, arrays and functions.
	Name string
	// Size is the byte size of the type.
	Size int64
	// Encoding applies to base types.
	Encoding Encoding
	// Elem is the pointee, the array element, the enum underlying type or
	// the function return type.
	Elem TypeID
	// Count is the array length, or Unbounded.
	Count int64
	// Incomplete marks a struct or union that is declared but never defined.
	Incomplete bool

	Members     []Member
	Enumerators []Enumerator
	Params      []Param
	Variadic    bool

	// Base is the base struct a struct derives from, or Void. BaseOffset is
	// where the base subobject starts; Members only lists the struct's own
	// fields.
	Base       TypeID
	BaseOffset int64
	// VirtualMethods are the virtual methods the struct declares itself.
	// Graph.VirtualTable merges them with the inherited ones.
	VirtualMethods []Method
}

// DeclKind discriminates declarations.
type DeclKind uint8

const (
	DeclFunction DeclKind = iota
	DeclVariable
)

func (k DeclKind) String() string {
	if k == DeclVariable {
		return "variable"
	}
	return "function"
}

// Pos is a source position.
type Pos struct {
	File string
	Line int
}

func (p Pos) String() string {
	if p.File == "" {
		return fmt.Sprintf("line %d", p.Line)
	}
	return fmt.Sprintf("%s:%d", p.File, p.Line)
}

// Decl is a top-level declaration that may carry a pattern annotation.
type Decl struct {
	Name string
	Kind DeclKind
	// Type is a KindFunction node for functions, the variable type otherwise.
	Type TypeID
	// Annotation holds the raw comment lines attached to the declaration.
	Annotation []string
	Pos        Pos
}

// Graph is the output of a frontend.
type Graph struct {
	types []TypeNode
	Decls []Decl
}

// NewGraph returns a graph holding only Void.
func NewGraph() *Graph {
	return &Graph{types: []TypeNode{{Kind: KindVoid, Name: "void"}}}
}

// Clone returns a copy of g that can be extended with Add without changing
// g. Node contents are shared, so existing nodes must not be modified.
func (g *Graph) Clone() *Graph {
	return &Graph{types: slices.Clone(g.types), Decls: slices.Clone(g.Decls)}
}

// Add appends n and returns its id.
func (g *Graph) Add(n TypeNode) TypeID {
	g.types = append(g.types, n)
	return TypeID(len(g.types) - 1)
}

// Reserve allocates a node to be filled in later with Set, which lets
// recursive types refer to themselves.
func (g *Graph) Reserve(kind Kind, name string) TypeID {
	return g.Add(TypeNode{Kind: kind, Name: name, Incomplete: true})
}

// Set replaces the node at id.
func (g *Graph) Set(id TypeID, n TypeNode) {
	g.types[id] = n
}

// Node returns the node at id. The pointer stays valid until the next Add.
func (g *Graph) Node(id TypeID) *TypeNode {
	return &g.types[id]
}

// Len returns the number of nodes, Void included.
func (g *Graph) Len() int {
	return len(g.types)
}

// Valid reports whether id refers to a node of g.
func (g *Graph) Valid(id TypeID) bool {
	return id >= 0 && int(id) < len(g.types)
}

// AddDecl appends a declaration.
func (g *Graph) AddDecl(d Decl) {
	g.Decls = append(g.Decls, d)
}

// Children returns the type ids n refers to directly.
func (n *TypeNode) Children() []TypeID {
	var out []TypeID
	switch n.Kind {
	case KindPointer, KindArray, KindEnum:
		out = append(out, n.Elem)
	case KindStruct, KindUnion:
		if n.Base != Void {
			out = append(out, n.Base)
		}
		for _, m := range n.Members {
			out = append(out, m.Type)
		}
		for _, m := range n.VirtualMethods {
			out = append(out, m.Type)
		}
	case KindFunction:
		out = append(out, n.Elem)
		for _, p := range n.Params {
			out = append(out, p.Type)
		}
	}
	return out
}

// Closure returns every type reachable from roots, in breadth-first order
// and without duplicates. Void is never included. It walks the graph with an
// explicit queue so deeply nested or cyclic types cannot exhaust the stack.
func (g *Graph) Closure(roots []TypeID) []TypeID {
	seen := make([]bool, len(g.types))
	var order []TypeID
	queue := append([]TypeID(nil), roots...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if id == Void || !g.Valid(id) || seen[id] {
			continue
		}
		seen[id] = true
		order = append(order, id)
		queue = append(queue, g.types[id].Children()...)
	}
	return order
}

// VirtualTable returns the virtual table layout of a struct: the slots of
// its base chain first, then the methods it adds. A method named like an
// inherited one overrides that slot.
func (g *Graph) VirtualTable(id TypeID) []Method {
	var chain []TypeID
	seen := make(map[TypeID]bool)
	for cur := id; cur != Void && g.Valid(cur) && !seen[cur]; cur = g.types[cur].Base {
		seen[cur] = true
		chain = append(chain, cur)
	}

	var table []Method
	slot := make(map[string]int)
	for i := len(chain) - 1; i >= 0; i-- {
		for _, m := range g.types[chain[i]].VirtualMethods {
			if j, ok := slot[m.Name]; ok {
				table[j] = m
				continue
			}
			slot[m.Name] = len(table)
			table = append(table, m)
		}
	}
	return table
}

// Validate checks that every reference in the graph points at a node.
func (g *Graph) Validate() error {
	for i := range g.types {
		n := &g.types[i]
		for _, c := range n.Children() {
			if !g.Valid(c) {
				return fmt.Errorf("type %d (%s) refers to missing type %d", i, g.Describe(TypeID(i)), c)
			}
		}
		if n.Base != Void && (n.Kind != KindStruct || g.types[n.Base].Kind != KindStruct) {
			return fmt.Errorf("type %d (%s) derives from %s; only structs can have a base", i, g.Describe(TypeID(i)), g.Describe(n.Base))
		}
		if len(n.VirtualMethods) > 0 && n.Kind != KindStruct {
			return fmt.Errorf("type %d (%s) cannot have virtual methods", i, g.Describe(TypeID(i)))
		}
		for _, m := range n.VirtualMethods {
			if g.types[m.Type].Kind != KindFunction {
				return fmt.Errorf("type %d (%s) has virtual method %s of non-function type %s", i, g.Describe(TypeID(i)), m.Name, g.Describe(m.Type))
			}
		}
	}
	seen := make(map[TypeID]bool)
	for i := range g.types {
		clear(seen)
		for cur := TypeID(i); cur != Void; cur = g.types[cur].Base {
			if seen[cur] {
				return fmt.Errorf("type %d (%s) derives from itself", i, g.Describe(TypeID(i)))
			}
			seen[cur] = true
		}
	}
	for _, d := range g.Decls {
		if !g.Valid(d.Type) {
			return fmt.Errorf("declaration %s at %s refers to missing type %d", d.Name, d.Pos, d.Type)
		}
		if d.Kind == DeclFunction && g.types[d.Type].Kind != KindFunction {
			return fmt.Errorf("function %s at %s has non-function type %s", d.Name, d.Pos, g.Describe(d.Type))
		}
	}
	return nil
}

// Describe renders a short human readable name for id, used in diagnostics.
func (g *Graph) Describe(id TypeID) string {
	if !g.Valid(id) {
		return fmt.Sprintf("<invalid type %d>", id)
	}
	n := &g.types[id]
	switch n.Kind {
	case KindVoid:
		return "void"
	case KindBase:
		return n.Name
	case KindPointer:
		return g.Describe(n.Elem) + "*"
	case KindArray:
		if n.Count == Unbounded {
			return g.Describe(n.Elem) + "[]"
		}
		return fmt.Sprintf("%s[%d]", g.Describe(n.Elem), n.Count)
	case KindStruct, KindUnion, KindEnum:
		if n.Name == "" {
			return fmt.Sprintf("%s <anonymous #%d>", n.Kind, id)
		}
		return n.Kind.String() + " " + n.Name
	case KindFunction:
		params := make([]string, 0, len(n.Params)+1)
		for _, p := range n.Params {
			params = append(params, g.Describe(p.Type))
		}
		if n.Variadic {
			params = append(params, "...")
		}
		return fmt.Sprintf("%s(%s)", g.Describe(n.Elem), strings.Join(params, ", "))
	default:
		return n.Kind.String()
	}
}

// StripNamespaces removes "ns::" qualifiers from every type and declaration
// name.
func (g *Graph) StripNamespaces() {
	for i := range g.types {
		g.types[i].Name = stripNamespace(g.types[i].Name)
	}
	for i := range g.Decls {
		g.Decls[i].Name = stripNamespace(g.Decls[i].Name)
	}
}

func stripNamespace(name string) string {
	if i := strings.LastIndex(name, "::"); i >= 0 {
		return name[i+2:]
	}
	return name
}

// Source is a declaration file handed to a frontend.
type Source struct {
	Path string
	Data []byte
}

// Frontend extracts declarations and types from a source.
type Frontend interface {
	// Name identifies the frontend in configuration and diagnostics.
	Name() string
	Parse(ctx context.Context, src Source) (*Graph, error)
}
