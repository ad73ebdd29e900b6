package pattern

import (
	"fmt"
	"strconv"
	"strings"
)

// Expr is a node of an @eval expression.
type Expr interface {
	String() string
	exprNode()
}

// IntLit is an integer literal.
type IntLit struct {
	Value uint64
}

// Ident references a capture group by name.
type Ident struct {
	Name string
}

// Deref reads a pointer-sized value from the image at the address X.
type Deref struct {
	X Expr
}

// Binary is an addition or subtraction.
type Binary struct {
	Op   byte // '+' or '-'
	X, Y Expr
}

func (*IntLit) exprNode() {}
func (*Ident) exprNode()  {}
func (*Deref) exprNode()  {}
func (*Binary) exprNode() {}

func (e *IntLit) String() string { return fmt.Sprintf("0x%X", e.Value) }
func (e *Ident) String() string  { return e.Name }
func (e *Deref) String() string  { return "*" + wrap(e.X) }
func (e *Binary) String() string { return fmt.Sprintf("%s %c %s", e.X, e.Op, wrap(e.Y)) }

func wrap(e Expr) string {
	if _, ok := e.(*Binary); ok {
		return "(" + e.String() + ")"
	}
	return e.String()
}

// Walk calls fn for every node of e in depth-first order.
func Walk(e Expr, fn func(Expr)) {
	if e == nil {
		return
	}
	fn(e)
	switch n := e.(type) {
	case *Deref:
		Walk(n.X, fn)
	case *Binary:
		Walk(n.X, fn)
		Walk(n.Y, fn)
	}
}

// Idents returns the identifiers referenced by e, in order of appearance.
func Idents(e Expr) []string {
	var names []string
	Walk(e, func(n Expr) {
		if id, ok := n.(*Ident); ok {
			names = append(names, id.Name)
		}
	})
	return names
}

// Env binds identifiers and memory for expression evaluation.
type Env interface {
	// Lookup returns the value bound to a capture name.
	Lookup(name string) (uint64, bool)
	// Deref reads a pointer-sized little-endian value at the virtual address.
	Deref(addr uint64) (uint64, error)
	// SlotSize is the pointer width of the target in bytes.
	SlotSize() uint64
}

// UnboundNameError is returned by Eval for identifiers missing from the Env.
type UnboundNameError struct {
	Name string
}

func (e *UnboundNameError) Error() string {
	return fmt.Sprintf("unbound name %q", e.Name)
}

// Eval evaluates e. Integer literals count pointer-sized slots, so
// "*(*vt + 3)" reads the fourth entry of a virtual table whatever the
// target's pointer width. Arithmetic wraps around modulo 2^64.
func Eval(e Expr, env Env) (uint64, error) {
	switch n := e.(type) {
	case *IntLit:
		return n.Value * env.SlotSize(), nil
	case *Ident:
		v, ok := env.Lookup(n.Name)
		if !ok {
			return 0, &UnboundNameError{Name: n.Name}
		}
		return v, nil
	case *Deref:
		addr, err := Eval(n.X, env)
		if err != nil {
			return 0, err
		}
		return env.Deref(addr)
	case *Binary:
		x, err := Eval(n.X, env)
		if err != nil {
			return 0, err
		}
		y, err := Eval(n.Y, env)
		if err != nil {
			return 0, err
		}
		if n.Op == '-' {
			return x - y, nil
		}
		return x + y, nil
	default:
		return 0, fmt.Errorf("unsupported expression node %T", e)
	}
}

// ParseExpr parses an @eval expression.
//
//	expr    = unary { ("+" | "-") unary }
//	unary   = "*" unary | primary
//	primary = integer | ident | "(" expr ")"
func ParseExpr(src string) (Expr, error) {
	p := &exprParser{src: src}
	p.next()
	if p.tok.kind == tokEOF {
		return nil, syntaxErrorf("eval", "empty expression")
	}
	e, err := p.parseSum()
	if err != nil {
		return nil, err
	}
	if p.tok.kind != tokEOF {
		return nil, syntaxErrorf("eval", "unexpected %s at column %d", p.tok, p.tok.pos+1)
	}
	return e, nil
}

type exprTokKind uint8

const (
	tokEOF exprTokKind = iota
	tokInt
	tokIdent
	tokOp
	tokBad
)

type exprTok struct {
	kind exprTokKind
	text string
	pos  int
}

func (t exprTok) String() string {
	switch t.kind {
	case tokEOF:
		return "end of expression"
	case tokBad:
		return fmt.Sprintf("character %q", t.text)
	default:
		return fmt.Sprintf("%q", t.text)
	}
}

type exprParser struct {
	src string
	pos int
	tok exprTok
}

func (p *exprParser) next() {
	for p.pos < len(p.src) && isSpace(p.src[p.pos]) {
		p.pos++
	}
	start := p.pos
	if p.pos >= len(p.src) {
		p.tok = exprTok{kind: tokEOF, pos: start}
		return
	}
	c := p.src[p.pos]
	switch {
	case strings.IndexByte("+-*()", c) >= 0:
		p.pos++
		p.tok = exprTok{kind: tokOp, text: string(c), pos: start}
	case isDigit(c):
		for p.pos < len(p.src) && isIdentChar(p.src[p.pos]) {
			p.pos++
		}
		p.tok = exprTok{kind: tokInt, text: p.src[start:p.pos], pos: start}
	case isIdentStart(c):
		for p.pos < len(p.src) && isIdentChar(p.src[p.pos]) {
			p.pos++
		}
		p.tok = exprTok{kind: tokIdent, text: p.src[start:p.pos], pos: start}
	default:
		p.pos++
		p.tok = exprTok{kind: tokBad, text: string(c), pos: start}
	}
}

func (p *exprParser) isOp(op string) bool {
	return p.tok.kind == tokOp && p.tok.text == op
}

func (p *exprParser) parseSum() (Expr, error) {
	x, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.isOp("+") || p.isOp("-") {
		op := p.tok.text[0]
		p.next()
		y, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		x = &Binary{Op: op, X: x, Y: y}
	}
	return x, nil
}

func (p *exprParser) parseUnary() (Expr, error) {
	if p.isOp("*") {
		p.next()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &Deref{X: x}, nil
	}
	return p.parsePrimary()
}

func (p *exprParser) parsePrimary() (Expr, error) {
	tok := p.tok
	switch {
	case tok.kind == tokInt:
		v, err := strconv.ParseUint(tok.text, 0, 64)
		if err != nil {
			return nil, syntaxErrorf("eval", "invalid integer %q", tok.text)
		}
		p.next()
		return &IntLit{Value: v}, nil
	case tok.kind == tokIdent:
		p.next()
		return &Ident{Name: tok.text}, nil
	case p.isOp("("):
		p.next()
		e, err := p.parseSum()
		if err != nil {
			return nil, err
		}
		if !p.isOp(")") {
			return nil, syntaxErrorf("eval", "expected ')' at column %d, found %s", p.tok.pos+1, p.tok)
		}
		p.next()
		return e, nil
	default:
		return nil, syntaxErrorf("eval", "unexpected %s at column %d", tok, tok.pos+1)
	}
}

func isSpace(c byte) bool      { return c == ' ' || c == '\t' }
func isDigit(c byte) bool      { return c >= '0' && c <= '9' }
func isIdentStart(c byte) bool { return c == '_' || (c|0x20 >= 'a' && c|0x20 <= 'z') }
func isIdentChar(c byte) bool  { return isIdentStart(c) || isDigit(c) }
