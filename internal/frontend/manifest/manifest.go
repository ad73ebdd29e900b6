// Package manifest is a declaration frontend for YAML manifests. It serves
// targets without usable headers: types and annotated declarations are
// listed directly, and struct layouts are either spelled out or computed for
// the data model.
//
//	types:
//	  - name: Entity
//	    kind: struct
//	    members:
//	      - {name: id, type: int}
//	      - {name: next, type: "Entity*"}
//	  - name: Player
//	    kind: struct
//	    base: Entity
//	    virtual_methods: [{name: Think, params: [{name: dt, type: float}]}]
//	declarations:
//	  - name: SpawnEntity
//	    kind: function
//	    returns: "Entity*"
//	    params: [{name: kind, type: int}]
//	    pattern: "E8 (fn:rel) 45 8B 86"
//	    eval: fn
package manifest

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/coral-mesh/zoltan/internal/constants"
	"github.com/coral-mesh/zoltan/internal/frontend/ctype"
	"github.com/coral-mesh/zoltan/pkg/decl"
	"github.com/coral-mesh/zoltan/pkg/pattern"
)

// Manifest is the document root.
type Manifest struct {
	Types        []TypeDef `yaml:"types"`
	Declarations []DeclDef `yaml:"declarations"`
}

// TypeDef declares a named type.
type TypeDef struct {
	Name string `yaml:"name"`
	// Kind is one of struct, union, enum, function or base.
	Kind string `yaml:"kind"`
	// Size is required for base types and for structs with explicit offsets.
	Size     int64  `yaml:"size,omitempty"`
	Encoding string `yaml:"encoding,omitempty"`
	// Opaque declares a struct or union without a definition.
	Opaque      bool            `yaml:"opaque,omitempty"`
	Members     []MemberDef     `yaml:"members,omitempty"`
	Underlying  string          `yaml:"underlying,omitempty"`
	Enumerators []EnumeratorDef `yaml:"enumerators,omitempty"`
	Returns     string          `yaml:"returns,omitempty"`
	Params      []ParamDef      `yaml:"params,omitempty"`
	Variadic    bool            `yaml:"variadic,omitempty"`
	// Base and VirtualMethods describe a class-like struct. Both need a
	// computed layout.
	Base           string      `yaml:"base,omitempty"`
	VirtualMethods []MethodDef `yaml:"virtual_methods,omitempty"`
}

// MethodDef is a virtual method. The this parameter is implicit.
type MethodDef struct {
	Name     string     `yaml:"name"`
	Returns  string     `yaml:"returns,omitempty"`
	Params   []ParamDef `yaml:"params,omitempty"`
	Variadic bool       `yaml:"variadic,omitempty"`
}

// MemberDef is a struct or union member. Offset and BitOffset are optional;
// when every member omits them the layout is computed.
type MemberDef struct {
	Name      string `yaml:"name"`
	Type      string `yaml:"type"`
	Offset    *int64 `yaml:"offset,omitempty"`
	Bits      int64  `yaml:"bits,omitempty"`
	BitOffset *int64 `yaml:"bit_offset,omitempty"`
}

// EnumeratorDef is an enum constant.
type EnumeratorDef struct {
	Name  string `yaml:"name"`
	Value int64  `yaml:"value"`
}

// ParamDef is a function parameter.
type ParamDef struct {
	Name string `yaml:"name,omitempty"`
	Type string `yaml:"type"`
}

// DeclDef is a function or global variable to locate.
type DeclDef struct {
	Name string `yaml:"name"`
	// Kind is function or variable.
	Kind string `yaml:"kind"`
	// Type names the variable type, or a function type for functions
	// declared without returns and params.
	Type     string     `yaml:"type,omitempty"`
	Returns  string     `yaml:"returns,omitempty"`
	Params   []ParamDef `yaml:"params,omitempty"`
	Variadic bool       `yaml:"variadic,omitempty"`

	Pattern string `yaml:"pattern,omitempty"`
	Offset  string `yaml:"offset,omitempty"`
	Nth     string `yaml:"nth,omitempty"`
	Eval    string `yaml:"eval,omitempty"`

	Line int `yaml:"-"`
}

// UnmarshalYAML records the source line of the declaration.
func (d *DeclDef) UnmarshalYAML(n *yaml.Node) error {
	type plain DeclDef
	if err := n.Decode((*plain)(d)); err != nil {
		return err
	}
	d.Line = n.Line
	return nil
}

// Annotation renders the declaration's locator fields as annotation lines.
func (d *DeclDef) Annotation() []string {
	var lines []string
	add := func(key, value string) {
		if value != "" {
			lines = append(lines, fmt.Sprintf("/// @%s %s", key, value))
		}
	}
	add(pattern.DirectivePattern, d.Pattern)
	add(pattern.DirectiveOffset, d.Offset)
	add(pattern.DirectiveNth, d.Nth)
	add(pattern.DirectiveEval, d.Eval)
	return lines
}

// Error reports an invalid manifest entry.
type Error struct {
	File  string
	Entry string
	Err   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.File, e.Entry, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Frontend parses YAML manifests.
type Frontend struct {
	model  ctype.DataModel
	logger zerolog.Logger
}

var _ decl.Frontend = (*Frontend)(nil)

// New returns a manifest frontend.
func New(model ctype.DataModel, logger zerolog.Logger) *Frontend {
	return &Frontend{
		model:  model,
		logger: logger.With().Str("component", "frontend").Str("frontend", constants.FrontendManifest).Logger(),
	}
}

// Name implements decl.Frontend.
func (f *Frontend) Name() string {
	return constants.FrontendManifest
}

// Parse implements decl.Frontend.
func (f *Frontend) Parse(ctx context.Context, src decl.Source) (*decl.Graph, error) {
	var m Manifest
	dec := yaml.NewDecoder(bytes.NewReader(src.Data))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("failed to decode manifest %s: %w", src.Path, err)
	}

	g := decl.NewGraph()
	b := &builder{
		file:     src.Path,
		g:        g,
		tab:      ctype.NewTable(g, f.model),
		named:    make(map[string]decl.TypeID),
		pending:  make(map[decl.TypeID]*TypeDef),
		defining: make(map[decl.TypeID]bool),
	}
	if err := b.build(ctx, &m); err != nil {
		return nil, err
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}

	f.logger.Debug().
		Str("path", src.Path).
		Int("types", g.Len()-1).
		Int("declarations", len(g.Decls)).
		Msg("Parsed declaration manifest")
	return g, nil
}

type builder struct {
	file string
	g    *decl.Graph
	tab  *ctype.Table

	named    map[string]decl.TypeID
	pending  map[decl.TypeID]*TypeDef
	defining map[decl.TypeID]bool
}

func (b *builder) errorf(entry, format string, args ...any) error {
	return &Error{File: b.file, Entry: entry, Err: fmt.Errorf(format, args...)}
}

func (b *builder) build(ctx context.Context, m *Manifest) error {
	// Every name is bound before any definition so types may refer to each
	// other in any order.
	for i := range m.Types {
		td := &m.Types[i]
		entry := "type " + td.Name
		if td.Name == "" {
			return b.errorf(fmt.Sprintf("types[%d]", i), "missing name")
		}
		if _, dup := b.named[td.Name]; dup {
			return b.errorf(entry, "declared more than once")
		}
		kind, ok := decl.ParseKind(td.Kind)
		switch {
		case !ok:
			return b.errorf(entry, "unknown kind %q", td.Kind)
		case kind == decl.KindBase:
			enc, ok := decl.ParseEncoding(td.Encoding)
			if !ok {
				return b.errorf(entry, "unknown encoding %q", td.Encoding)
			}
			if td.Size <= 0 {
				return b.errorf(entry, "base type needs a positive size")
			}
			b.named[td.Name] = b.g.Add(decl.TypeNode{Kind: decl.KindBase, Name: td.Name, Size: td.Size, Encoding: enc})
		case kind == decl.KindStruct, kind == decl.KindUnion, kind == decl.KindEnum, kind == decl.KindFunction:
			id := b.g.Reserve(kind, td.Name)
			b.named[td.Name] = id
			if !td.Opaque {
				b.pending[id] = td
			}
		default:
			return b.errorf(entry, "kind %s cannot be declared by name", kind)
		}
	}

	for i := range m.Types {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := b.ensure(b.named[m.Types[i].Name]); err != nil {
			return err
		}
	}

	for i := range m.Declarations {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := b.declare(&m.Declarations[i]); err != nil {
			return err
		}
	}
	return nil
}

// ensure defines id if it is a manifest type still waiting for its body.
func (b *builder) ensure(id decl.TypeID) error {
	td, ok := b.pending[id]
	if !ok {
		return nil
	}
	entry := "type " + td.Name
	if b.defining[id] {
		return b.errorf(entry, "type contains itself")
	}
	b.defining[id] = true
	defer delete(b.defining, id)

	var err error
	switch b.g.Node(id).Kind {
	case decl.KindStruct, decl.KindUnion:
		err = b.defineAggregate(id, td)
	case decl.KindEnum:
		err = b.defineEnum(id, td)
	case decl.KindFunction:
		var fn decl.TypeID
		if fn, err = b.function(td.Returns, td.Params, td.Variadic); err == nil {
			b.g.Set(id, *b.g.Node(fn))
		}
	}
	if err != nil {
		return &Error{File: b.file, Entry: entry, Err: err}
	}
	delete(b.pending, id)
	return nil
}

func (b *builder) defineAggregate(id decl.TypeID, td *TypeDef) error {
	kind := b.g.Node(id).Kind
	explicit := 0
	for _, m := range td.Members {
		if m.Offset != nil || m.BitOffset != nil {
			explicit++
		}
	}
	if explicit != 0 && explicit != len(td.Members) {
		return fmt.Errorf("either every member has an offset or none does")
	}

	class := td.Base != "" || len(td.VirtualMethods) > 0
	if class && kind != decl.KindStruct {
		return fmt.Errorf("only structs can have a base or virtual methods")
	}
	if class && explicit != 0 {
		return fmt.Errorf("member offsets cannot be combined with a base or virtual methods")
	}

	if explicit == 0 {
		fields := make([]ctype.Field, 0, len(td.Members))
		for _, m := range td.Members {
			typ, err := b.resolve(m.Type)
			if err != nil {
				return fmt.Errorf("member %s: %w", m.Name, err)
			}
			fields = append(fields, ctype.Field{Name: m.Name, Type: typ, Bits: m.Bits, IsBitField: m.Bits > 0})
		}
		var err error
		if class {
			err = b.defineClass(id, td, fields)
		} else {
			err = b.tab.Define(id, kind, td.Name, fields)
		}
		if err != nil {
			return err
		}
		if td.Size > 0 && td.Size != b.g.Node(id).Size {
			return fmt.Errorf("declared size %d but the computed layout takes %d bytes", td.Size, b.g.Node(id).Size)
		}
		return nil
	}

	if td.Size <= 0 {
		return fmt.Errorf("size is required when member offsets are given")
	}
	members := make([]decl.Member, 0, len(td.Members))
	align := int64(1)
	for _, m := range td.Members {
		typ, err := b.resolve(m.Type)
		if err != nil {
			return fmt.Errorf("member %s: %w", m.Name, err)
		}
		align = max(align, b.tab.AlignOf(typ))
		mem := decl.Member{Name: m.Name, Type: typ, BitSize: m.Bits}
		if m.Offset != nil {
			mem.Offset = *m.Offset
		}
		if m.Bits == 0 && mem.Offset+b.g.Node(typ).Size > td.Size {
			return fmt.Errorf("member %s ends past the declared size %d", m.Name, td.Size)
		}
		if m.Bits > 0 {
			if m.BitOffset == nil {
				return fmt.Errorf("member %s: bit field needs bit_offset", m.Name)
			}
			mem.BitOffset = *m.BitOffset
			if m.Offset == nil {
				mem.Offset = mem.BitOffset / 8
			}
		}
		members = append(members, mem)
	}
	b.g.Set(id, decl.TypeNode{Kind: kind, Name: td.Name, Size: td.Size, Members: members})
	b.tab.SetAlign(id, align)
	return nil
}

func (b *builder) defineClass(id decl.TypeID, td *TypeDef, fields []ctype.Field) error {
	base := decl.Void
	if td.Base != "" {
		var err error
		if base, err = b.resolve(td.Base); err != nil {
			return fmt.Errorf("base: %w", err)
		}
	}
	methods := make([]decl.Method, 0, len(td.VirtualMethods))
	seen := make(map[string]bool, len(td.VirtualMethods))
	for _, m := range td.VirtualMethods {
		if m.Name == "" {
			return fmt.Errorf("virtual method without a name")
		}
		if seen[m.Name] {
			return fmt.Errorf("virtual method %s declared more than once", m.Name)
		}
		seen[m.Name] = true
		fn, err := b.function(m.Returns, m.Params, m.Variadic)
		if err != nil {
			return fmt.Errorf("virtual method %s: %w", m.Name, err)
		}
		methods = append(methods, decl.Method{Name: m.Name, Type: fn})
	}
	return b.tab.DefineClass(id, td.Name, base, methods, fields)
}

func (b *builder) defineEnum(id decl.TypeID, td *TypeDef) error {
	underlying := td.Underlying
	if underlying == "" {
		underlying = "int"
	}
	base, err := b.resolve(underlying)
	if err != nil {
		return err
	}
	if n := b.g.Node(base); n.Kind != decl.KindBase || !ctype.Integral(n) {
		return fmt.Errorf("underlying type %s is not an integer type", underlying)
	}
	values := make([]decl.Enumerator, 0, len(td.Enumerators))
	for _, e := range td.Enumerators {
		values = append(values, decl.Enumerator{Name: e.Name, Value: e.Value})
	}
	b.tab.Enum(id, td.Name, base, values)
	if td.Size > 0 && td.Size != b.g.Node(id).Size {
		return fmt.Errorf("declared size %d does not match underlying type %s", td.Size, underlying)
	}
	return nil
}

func (b *builder) function(returns string, params []ParamDef, variadic bool) (decl.TypeID, error) {
	ret := decl.Void
	if returns != "" {
		var err error
		if ret, err = b.resolve(returns); err != nil {
			return 0, fmt.Errorf("return type: %w", err)
		}
	}
	ps := make([]decl.Param, 0, len(params))
	for i, p := range params {
		typ, err := b.resolve(p.Type)
		if err != nil {
			return 0, fmt.Errorf("parameter %d: %w", i, err)
		}
		ps = append(ps, decl.Param{Name: p.Name, Type: typ})
	}
	return b.tab.Function(ret, ps, variadic), nil
}

func (b *builder) declare(d *DeclDef) error {
	entry := "declaration " + d.Name
	if d.Name == "" {
		return b.errorf(fmt.Sprintf("declaration at line %d", d.Line), "missing name")
	}

	var (
		kind decl.DeclKind
		typ  decl.TypeID
		err  error
	)
	switch d.Kind {
	case "function":
		kind = decl.DeclFunction
		if d.Type != "" {
			typ, err = b.resolve(d.Type)
			if err == nil && b.g.Node(typ).Kind != decl.KindFunction {
				err = fmt.Errorf("type %s is not a function type", d.Type)
			}
		} else {
			typ, err = b.function(d.Returns, d.Params, d.Variadic)
		}
	case "variable":
		kind = decl.DeclVariable
		if d.Type == "" {
			err = fmt.Errorf("variable needs a type")
		} else {
			typ, err = b.resolve(d.Type)
		}
	default:
		err = fmt.Errorf("unknown declaration kind %q (want function or variable)", d.Kind)
	}
	if err != nil {
		return &Error{File: b.file, Entry: entry, Err: err}
	}

	b.g.AddDecl(decl.Decl{
		Name:       d.Name,
		Kind:       kind,
		Type:       typ,
		Annotation: d.Annotation(),
		Pos:        decl.Pos{File: b.file, Line: d.Line},
	})
	return nil
}

// resolve parses a type reference: a type name followed by any number of
// "*" and "[N]" or "[]" suffixes, applied left to right. "char*[4]" is an
// array of four char pointers.
func (b *builder) resolve(ref string) (decl.TypeID, error) {
	ref = strings.TrimSpace(ref)
	end := strings.IndexAny(ref, "*[")
	if end < 0 {
		end = len(ref)
	}
	name := strings.TrimSpace(ref[:end])
	for _, kw := range []string{"struct ", "union ", "enum ", "const "} {
		name = strings.TrimSpace(strings.TrimPrefix(name, kw))
	}
	if name == "" {
		return 0, fmt.Errorf("missing type name in %q", ref)
	}

	typ, ok := b.named[name]
	if !ok {
		if typ, ok = b.tab.Base(name); !ok {
			return 0, fmt.Errorf("unknown type %q", name)
		}
	}

	rest := strings.ReplaceAll(ref[end:], " ", "")
	if !strings.HasPrefix(rest, "*") {
		// Used by value.
		if err := b.ensure(typ); err != nil {
			return 0, err
		}
	}
	for rest != "" {
		switch rest[0] {
		case '*':
			typ = b.tab.Pointer(typ)
			rest = rest[1:]
		case '[':
			close := strings.IndexByte(rest, ']')
			if close < 0 {
				return 0, fmt.Errorf("unterminated array suffix in %q", ref)
			}
			count := decl.Unbounded
			if n := rest[1:close]; n != "" {
				v, err := strconv.ParseInt(n, 0, 64)
				if err != nil || v < 0 {
					return 0, fmt.Errorf("invalid array length %q in %q", n, ref)
				}
				count = v
			}
			var err error
			if typ, err = b.tab.Array(typ, count); err != nil {
				return 0, err
			}
			rest = rest[close+1:]
		default:
			return 0, fmt.Errorf("unexpected %q in type %q", rest[0], ref)
		}
	}
	return typ, nil
}
