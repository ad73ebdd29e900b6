package cdecl

import (
	"context"
	"fmt"
	"math"

	"github.com/coral-mesh/zoltan/internal/frontend/ctype"
	"github.com/coral-mesh/zoltan/pkg/decl"
)

// ParseError reports a malformed declaration source.
type ParseError struct {
	File    string
	Line    int
	Message string
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	if e.File == "" {
		return fmt.Sprintf("line %d: %s", e.Line, e.Message)
	}
	return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Message)
}

// Keywords and vendor extensions that carry no layout information.
var ignoredSpecifiers = map[string]bool{
	"extern": true, "static": true, "inline": true, "__inline": true, "__forceinline": true,
	"register": true, "auto": true, "_Thread_local": true, "thread_local": true,
	"const": true, "volatile": true, "restrict": true, "__restrict": true, "_Atomic": true,
	"__cdecl": true, "__stdcall": true, "__fastcall": true, "__thiscall": true, "__vectorcall": true,
	"__ptr64": true, "__ptr32": true, "__unaligned": true,
}

// Extensions followed by a parenthesized argument list.
var attributeSpecifiers = map[string]bool{
	"__declspec": true, "__attribute__": true, "__attribute": true, "alignas": true, "_Alignas": true,
}

// Keywords that make up builtin type names.
var baseKeywords = map[string]bool{
	"void": true, "char": true, "short": true, "int": true, "long": true, "float": true,
	"double": true, "signed": true, "unsigned": true, "_Bool": true, "bool": true,
	"__int8": true, "__int16": true, "__int32": true, "__int64": true,
}

type parser struct {
	ctx  context.Context
	file string
	toks []token
	pos  int
	docs map[int]string

	tab      *ctype.Table
	g        *decl.Graph
	typedefs map[string]decl.TypeID
	tags     map[string]decl.TypeID
	consts   map[string]int64

	externDepth int
}

// specifiers is the result of a declaration-specifier list.
type specifiers struct {
	typ     decl.TypeID
	typedef bool
	// tagged is set when the specifiers declared a struct, union or enum.
	tagged bool
}

// wrapper applies the derivations of a declarator to a base type.
type wrapper func(decl.TypeID) (decl.TypeID, error)

func identity(t decl.TypeID) (decl.TypeID, error) { return t, nil }

func (p *parser) peek() token {
	return p.toks[p.pos]
}

func (p *parser) peekAt(n int) token {
	if p.pos+n >= len(p.toks) {
		return p.toks[len(p.toks)-1]
	}
	return p.toks[p.pos+n]
}

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) at(text string) bool {
	t := p.peek()
	return (t.kind == tokPunct || t.kind == tokIdent) && t.text == text
}

func (p *parser) accept(text string) bool {
	if p.at(text) {
		p.pos++
		return true
	}
	return false
}

func (p *parser) expect(text string) error {
	if !p.accept(text) {
		return p.errorf("expected %q, found %s", text, p.peek())
	}
	return nil
}

func (p *parser) errorf(format string, args ...any) error {
	return &ParseError{File: p.file, Line: p.peek().line, Message: fmt.Sprintf(format, args...)}
}

func (p *parser) parseFile() error {
	for p.peek().kind != tokEOF {
		if err := p.ctx.Err(); err != nil {
			return err
		}
		switch {
		case p.accept(";"):
		case p.at("extern") && p.peekAt(1).kind == tokString:
			p.pos += 2
			if p.accept("{") {
				p.externDepth++
			}
		case p.at("}") && p.externDepth > 0:
			p.pos++
			p.externDepth--
		default:
			if err := p.declaration(); err != nil {
				return err
			}
		}
	}
	if p.externDepth > 0 {
		return p.errorf("unterminated extern block")
	}
	return nil
}

// docBlock returns the "///" lines directly above line, in source order.
func (p *parser) docBlock(line int) []string {
	first := line
	for {
		if _, ok := p.docs[first-1]; !ok {
			break
		}
		first--
	}
	var out []string
	for l := first; l < line; l++ {
		out = append(out, p.docs[l])
	}
	return out
}

func (p *parser) declaration() error {
	start := p.peek().line
	doc := p.docBlock(start)

	spec, err := p.specifiers(true)
	if err != nil {
		return err
	}
	if p.accept(";") {
		if !spec.tagged {
			return p.errorf("declaration declares nothing")
		}
		return nil
	}

	for first := true; ; first = false {
		line := p.peek().line
		name, wrap, err := p.declarator(false)
		if err != nil {
			return err
		}
		if name == "" {
			return p.errorf("expected a declarator name")
		}
		typ, err := wrap(spec.typ)
		if err != nil {
			return &ParseError{File: p.file, Line: line, Message: fmt.Sprintf("%s: %v", name, err)}
		}

		var annotation []string
		if first {
			annotation = doc
		}
		p.record(name, typ, spec, annotation, line)

		if p.g.Node(typ).Kind == decl.KindFunction && p.at("{") {
			return p.skipBalanced("{", "}")
		}
		if p.accept("=") {
			if err := p.skipInitializer(); err != nil {
				return err
			}
		}
		if !p.accept(",") {
			break
		}
	}
	return p.expect(";")
}

// record registers a typedef and, for annotated or object declarations,
// adds a Decl to the graph.
func (p *parser) record(name string, typ decl.TypeID, spec specifiers, annotation []string, line int) {
	n := p.g.Node(typ)
	pos := decl.Pos{File: p.file, Line: line}

	if spec.typedef {
		p.typedefs[name] = typ
		switch n.Kind {
		case decl.KindStruct, decl.KindUnion, decl.KindEnum:
			if n.Name == "" {
				n.Name = name
			}
		}
		if len(annotation) == 0 {
			return
		}
		// An annotated typedef of a function or function pointer names a
		// function to locate.
		if n.Kind == decl.KindPointer && p.g.Node(n.Elem).Kind == decl.KindFunction {
			typ = n.Elem
		}
	}

	kind := decl.DeclVariable
	if p.g.Node(typ).Kind == decl.KindFunction {
		kind = decl.DeclFunction
	}
	p.g.AddDecl(decl.Decl{Name: name, Kind: kind, Type: typ, Annotation: annotation, Pos: pos})
}

func (p *parser) skipAttribute() error {
	p.next()
	if !p.at("(") {
		return nil
	}
	return p.skipBalanced("(", ")")
}

// skipBalanced skips from the opening token to its matching close.
func (p *parser) skipBalanced(open, close string) error {
	if err := p.expect(open); err != nil {
		return err
	}
	depth := 1
	for depth > 0 {
		t := p.next()
		switch {
		case t.kind == tokEOF:
			return p.errorf("unbalanced %q", open)
		case t.kind == tokPunct && t.text == open:
			depth++
		case t.kind == tokPunct && t.text == close:
			depth--
		}
	}
	return nil
}

func (p *parser) skipInitializer() error {
	depth := 0
	for {
		t := p.peek()
		switch {
		case t.kind == tokEOF:
			return p.errorf("unterminated initializer")
		case t.kind == tokPunct && (t.text == "{" || t.text == "(" || t.text == "["):
			depth++
		case t.kind == tokPunct && (t.text == "}" || t.text == ")" || t.text == "]"):
			depth--
		case t.kind == tokPunct && (t.text == "," || t.text == ";") && depth == 0:
			return nil
		}
		p.next()
	}
}

// isTypeStart reports whether the next token begins a type name.
func (p *parser) isTypeStart() bool {
	t := p.peek()
	if t.kind != tokIdent {
		return false
	}
	switch t.text {
	case "struct", "union", "enum":
		return true
	}
	if baseKeywords[t.text] || ignoredSpecifiers[t.text] || attributeSpecifiers[t.text] {
		return true
	}
	if _, ok := p.typedefs[t.text]; ok {
		return true
	}
	_, ok := ctype.Canonical(t.text)
	return ok
}

func (p *parser) specifiers(allowTypedef bool) (specifiers, error) {
	var (
		spec     specifiers
		haveType bool
		words    = map[string]int{}
	)
	for {
		t := p.peek()
		if t.kind != tokIdent {
			break
		}
		switch {
		case t.text == "typedef":
			if !allowTypedef {
				return spec, p.errorf("unexpected typedef")
			}
			spec.typedef = true
			p.next()
		case ignoredSpecifiers[t.text]:
			p.next()
		case attributeSpecifiers[t.text]:
			if err := p.skipAttribute(); err != nil {
				return spec, err
			}
		case baseKeywords[t.text]:
			if haveType {
				return spec, p.errorf("unexpected %s after type", t)
			}
			words[t.text]++
			p.next()
		case t.text == "struct" || t.text == "union" || t.text == "enum":
			if haveType || len(words) > 0 {
				return spec, p.errorf("unexpected %s after type", t)
			}
			id, err := p.tagged()
			if err != nil {
				return spec, err
			}
			spec.typ, spec.tagged, haveType = id, true, true
		default:
			if haveType || len(words) > 0 {
				return p.finishSpecifiers(spec, haveType, words)
			}
			if id, ok := p.typedefs[t.text]; ok {
				spec.typ, haveType = id, true
				p.next()
				continue
			}
			if id, ok := p.tab.Base(t.text); ok {
				spec.typ, haveType = id, true
				p.next()
				continue
			}
			return spec, p.errorf("unknown type name %s", t)
		}
	}
	return p.finishSpecifiers(spec, haveType, words)
}

func (p *parser) finishSpecifiers(spec specifiers, haveType bool, words map[string]int) (specifiers, error) {
	if haveType {
		return spec, nil
	}
	if len(words) == 0 {
		return spec, p.errorf("expected a type, found %s", p.peek())
	}
	name, err := baseName(words)
	if err != nil {
		return spec, p.errorf("%v", err)
	}
	id, ok := p.tab.Base(name)
	if !ok {
		return spec, p.errorf("invalid type %q", name)
	}
	spec.typ = id
	return spec, nil
}

// baseName spells the builtin type named by a multiset of keywords.
func baseName(w map[string]int) (string, error) {
	sign := ""
	switch {
	case w["signed"] > 0 && w["unsigned"] > 0:
		return "", fmt.Errorf("both signed and unsigned")
	case w["unsigned"] > 0:
		sign = "unsigned "
	case w["signed"] > 0:
		sign = "signed "
	}
	switch {
	case w["void"] > 0:
		return "void", nil
	case w["_Bool"] > 0 || w["bool"] > 0:
		return "bool", nil
	case w["float"] > 0:
		return "float", nil
	case w["double"] > 0:
		if w["long"] > 0 {
			return "long double", nil
		}
		return "double", nil
	case w["char"] > 0 || w["__int8"] > 0:
		if sign == "" && w["char"] > 0 {
			return "char", nil
		}
		return sign + "char", nil
	case w["short"] > 0 || w["__int16"] > 0:
		return sign + "short", nil
	case w["__int64"] > 0 || w["long"] >= 2:
		return sign + "long long", nil
	case w["long"] == 1:
		return sign + "long", nil
	}
	if sign == "signed " {
		return "int", nil
	}
	return sign + "int", nil
}

// tagged parses a struct, union or enum specifier.
func (p *parser) tagged() (decl.TypeID, error) {
	kw := p.next().text
	if kw == "enum" {
		p.accept("class")
		p.accept("struct")
	}
	for attributeSpecifiers[p.peek().text] {
		if err := p.skipAttribute(); err != nil {
			return 0, err
		}
	}
	var name string
	if p.peek().kind == tokIdent {
		name = p.next().text
	}
	if kw == "enum" {
		return p.enum(name)
	}

	kind := decl.KindStruct
	if kw == "union" {
		kind = decl.KindUnion
	}
	key := kw + " " + name

	if !p.at("{") {
		if name == "" {
			return 0, p.errorf("expected %s name or body", kw)
		}
		if id, ok := p.tags[key]; ok {
			return id, nil
		}
		id := p.g.Reserve(kind, name)
		p.tags[key] = id
		return id, nil
	}

	var id decl.TypeID
	if name == "" {
		id = p.g.Reserve(kind, "")
	} else if existing, ok := p.tags[key]; ok {
		if !p.g.Node(existing).Incomplete {
			return 0, p.errorf("redefinition of %s", key)
		}
		id = existing
	} else {
		id = p.g.Reserve(kind, name)
		p.tags[key] = id
	}

	line := p.peek().line
	fields, err := p.fields()
	if err != nil {
		return 0, err
	}
	if err := p.tab.Define(id, kind, name, fields); err != nil {
		return 0, &ParseError{File: p.file, Line: line, Message: fmt.Sprintf("%s: %v", key, err)}
	}
	return id, nil
}

func (p *parser) fields() ([]ctype.Field, error) {
	if err := p.expect("{"); err != nil {
		return nil, err
	}
	var fields []ctype.Field
	for !p.accept("}") {
		if p.peek().kind == tokEOF {
			return nil, p.errorf("unterminated member list")
		}
		if p.accept(";") {
			continue
		}
		spec, err := p.specifiers(false)
		if err != nil {
			return nil, err
		}
		if p.accept(";") {
			// C11 anonymous struct or union member.
			if !spec.tagged {
				return nil, p.errorf("member declares nothing")
			}
			fields = append(fields, ctype.Field{Type: spec.typ})
			continue
		}
		for {
			var (
				name string
				typ  = spec.typ
			)
			if !p.at(":") {
				var wrap wrapper
				name, wrap, err = p.declarator(false)
				if err != nil {
					return nil, err
				}
				if typ, err = wrap(spec.typ); err != nil {
					return nil, p.errorf("member %s: %v", name, err)
				}
			}
			f := ctype.Field{Name: name, Type: typ}
			if p.accept(":") {
				bits, err := p.constExpr()
				if err != nil {
					return nil, err
				}
				f.Bits, f.IsBitField = bits, true
			}
			fields = append(fields, f)
			if !p.accept(",") {
				break
			}
		}
		if err := p.expect(";"); err != nil {
			return nil, err
		}
	}
	return fields, nil
}

func (p *parser) enum(name string) (decl.TypeID, error) {
	key := "enum " + name
	underlying := decl.Void
	if p.accept(":") {
		spec, err := p.specifiers(false)
		if err != nil {
			return 0, err
		}
		if n := p.g.Node(spec.typ); !ctype.Integral(n) || n.Kind != decl.KindBase {
			return 0, p.errorf("enum underlying type must be integral")
		}
		underlying = spec.typ
	}

	if !p.at("{") {
		if name == "" {
			return 0, p.errorf("expected enum name or body")
		}
		if id, ok := p.tags[key]; ok {
			return id, nil
		}
		id := p.g.Reserve(decl.KindEnum, name)
		p.tags[key] = id
		if underlying != decl.Void {
			p.tab.Enum(id, name, underlying, nil)
		}
		return id, nil
	}
	p.next()

	var (
		values []decl.Enumerator
		next   int64
	)
	for !p.accept("}") {
		t := p.next()
		if t.kind != tokIdent {
			return 0, p.errorf("expected enumerator name, found %s", t)
		}
		v := next
		if p.accept("=") {
			var err error
			if v, err = p.constExpr(); err != nil {
				return 0, err
			}
		}
		values = append(values, decl.Enumerator{Name: t.text, Value: v})
		p.consts[t.text] = v
		next = v + 1
		if !p.accept(",") {
			if err := p.expect("}"); err != nil {
				return 0, err
			}
			break
		}
	}

	if underlying == decl.Void {
		underlying = p.enumBase(values)
	}
	var id decl.TypeID
	if existing, ok := p.tags[key]; ok && name != "" {
		if len(p.g.Node(existing).Enumerators) > 0 {
			return 0, p.errorf("redefinition of %s", key)
		}
		id = existing
	} else {
		id = p.g.Reserve(decl.KindEnum, name)
		if name != "" {
			p.tags[key] = id
		}
	}
	p.tab.Enum(id, name, underlying, values)
	return id, nil
}

// enumBase picks int unless a value needs a wider type.
func (p *parser) enumBase(values []decl.Enumerator) decl.TypeID {
	name := "int"
	for _, v := range values {
		switch {
		case v.Value >= math.MinInt32 && v.Value <= math.MaxInt32:
		case v.Value > math.MaxInt32 && v.Value <= math.MaxUint32 && name == "int":
			name = "unsigned int"
		default:
			name = "long long"
		}
	}
	id, _ := p.tab.Base(name)
	return id
}

// declarator parses a possibly abstract declarator and returns the declared
// name with the derivations to apply to the base type.
func (p *parser) declarator(abstract bool) (string, wrapper, error) {
	for {
		t := p.peek()
		if ignoredSpecifiers[t.text] && t.kind == tokIdent {
			p.next()
			continue
		}
		if attributeSpecifiers[t.text] && t.kind == tokIdent {
			if err := p.skipAttribute(); err != nil {
				return "", nil, err
			}
			continue
		}
		break
	}

	if p.accept("*") || p.accept("&") {
		name, inner, err := p.declarator(abstract)
		if err != nil {
			return "", nil, err
		}
		return name, func(b decl.TypeID) (decl.TypeID, error) {
			return inner(p.tab.Pointer(b))
		}, nil
	}

	var (
		name  string
		inner wrapper = identity
	)
	switch {
	case p.at("(") && p.nestedDeclarator():
		p.next()
		var err error
		if name, inner, err = p.declarator(abstract); err != nil {
			return "", nil, err
		}
		if err := p.expect(")"); err != nil {
			return "", nil, err
		}
	case p.peek().kind == tokIdent && !(abstract && p.isTypeStart()):
		name = p.next().text
	}

	var suffixes []wrapper
	for {
		switch {
		case p.accept("["):
			count := decl.Unbounded
			if !p.at("]") {
				n, err := p.constExpr()
				if err != nil {
					return "", nil, err
				}
				count = n
			}
			if err := p.expect("]"); err != nil {
				return "", nil, err
			}
			suffixes = append(suffixes, func(b decl.TypeID) (decl.TypeID, error) {
				return p.tab.Array(b, count)
			})
		case p.at("("):
			params, variadic, err := p.params()
			if err != nil {
				return "", nil, err
			}
			suffixes = append(suffixes, func(b decl.TypeID) (decl.TypeID, error) {
				switch p.g.Node(b).Kind {
				case decl.KindArray, decl.KindFunction:
					return 0, fmt.Errorf("function cannot return %s", p.g.Describe(b))
				}
				return p.tab.Function(b, params, variadic), nil
			})
		default:
			return name, func(b decl.TypeID) (decl.TypeID, error) {
				for i := len(suffixes) - 1; i >= 0; i-- {
					var err error
					if b, err = suffixes[i](b); err != nil {
						return 0, err
					}
				}
				return inner(b)
			}, nil
		}
	}
}

// nestedDeclarator reports whether the "(" at the cursor opens a
// parenthesized declarator rather than a parameter list.
func (p *parser) nestedDeclarator() bool {
	t := p.peekAt(1)
	switch {
	case t.kind == tokPunct:
		return t.text == "*" || t.text == "&" || t.text == "(" || t.text == "["
	case t.kind == tokIdent:
		if ignoredSpecifiers[t.text] && !isQualifier(t.text) {
			return true
		}
		save := p.pos
		p.pos++
		typeStart := p.isTypeStart()
		p.pos = save
		return !typeStart
	}
	return false
}

func isQualifier(s string) bool {
	switch s {
	case "const", "volatile", "restrict", "__restrict", "_Atomic":
		return true
	}
	return false
}

func (p *parser) params() ([]decl.Param, bool, error) {
	if err := p.expect("("); err != nil {
		return nil, false, err
	}
	if p.accept(")") {
		return nil, false, nil
	}
	if p.at("void") && p.peekAt(1).text == ")" {
		p.pos += 2
		return nil, false, nil
	}

	var params []decl.Param
	for {
		if p.accept("...") {
			if err := p.expect(")"); err != nil {
				return nil, false, err
			}
			return params, true, nil
		}
		spec, err := p.specifiers(false)
		if err != nil {
			return nil, false, err
		}
		name, wrap, err := p.declarator(true)
		if err != nil {
			return nil, false, err
		}
		typ, err := wrap(spec.typ)
		if err != nil {
			return nil, false, p.errorf("parameter %s: %v", name, err)
		}
		// Array and function parameters decay to pointers.
		switch n := p.g.Node(typ); n.Kind {
		case decl.KindArray:
			typ = p.tab.Pointer(n.Elem)
		case decl.KindFunction:
			typ = p.tab.Pointer(typ)
		case decl.KindVoid:
			return nil, false, p.errorf("parameter %s has type void", name)
		}
		params = append(params, decl.Param{Name: name, Type: typ})
		if p.accept(")") {
			return params, false, nil
		}
		if err := p.expect(","); err != nil {
			return nil, false, err
		}
	}
}
