package cdecl

import (
	"github.com/coral-mesh/zoltan/pkg/decl"
)

// Binary operators from loosest to tightest.
var binaryLevels = [][]string{
	{"|"},
	{"^"},
	{"&"},
	{"<<", ">>"},
	{"+", "-"},
	{"*", "/", "%"},
}

// constExpr evaluates an integer constant expression as found in array
// bounds, bit-field widths and enumerator values.
func (p *parser) constExpr() (int64, error) {
	return p.binary(0)
}

func (p *parser) binary(level int) (int64, error) {
	if level == len(binaryLevels) {
		return p.unary()
	}
	l, err := p.binary(level + 1)
	if err != nil {
		return 0, err
	}
	for {
		op := ""
		for _, o := range binaryLevels[level] {
			if p.peek().kind == tokPunct && p.peek().text == o {
				op = o
				break
			}
		}
		if op == "" {
			return l, nil
		}
		p.next()
		r, err := p.binary(level + 1)
		if err != nil {
			return 0, err
		}
		switch op {
		case "|":
			l |= r
		case "^":
			l ^= r
		case "&":
			l &= r
		case "<<":
			if r < 0 || r > 63 {
				return 0, p.errorf("shift count %d out of range", r)
			}
			l <<= r
		case ">>":
			if r < 0 || r > 63 {
				return 0, p.errorf("shift count %d out of range", r)
			}
			l >>= r
		case "+":
			l += r
		case "-":
			l -= r
		case "*":
			l *= r
		case "/", "%":
			if r == 0 {
				return 0, p.errorf("division by zero in constant expression")
			}
			if op == "/" {
				l /= r
			} else {
				l %= r
			}
		}
	}
}

func (p *parser) unary() (int64, error) {
	t := p.peek()
	switch {
	case t.kind == tokNumber:
		p.next()
		return t.value, nil
	case t.kind == tokPunct && (t.text == "-" || t.text == "+" || t.text == "~" || t.text == "!"):
		p.next()
		v, err := p.unary()
		if err != nil {
			return 0, err
		}
		switch t.text {
		case "-":
			return -v, nil
		case "~":
			return ^v, nil
		case "!":
			if v == 0 {
				return 1, nil
			}
			return 0, nil
		}
		return v, nil
	case t.kind == tokPunct && t.text == "(":
		p.next()
		if p.isTypeStart() {
			// A cast; the value is kept as is.
			if _, err := p.typeName(); err != nil {
				return 0, err
			}
			if err := p.expect(")"); err != nil {
				return 0, err
			}
			return p.unary()
		}
		v, err := p.constExpr()
		if err != nil {
			return 0, err
		}
		return v, p.expect(")")
	case t.kind == tokIdent && t.text == "sizeof":
		p.next()
		if err := p.expect("("); err != nil {
			return 0, err
		}
		typ, err := p.typeName()
		if err != nil {
			return 0, err
		}
		if err := p.expect(")"); err != nil {
			return 0, err
		}
		if !p.tab.Complete(typ) {
			return 0, p.errorf("sizeof applied to incomplete type %s", p.g.Describe(typ))
		}
		return p.g.Node(typ).Size, nil
	case t.kind == tokIdent:
		if v, ok := p.consts[t.text]; ok {
			p.next()
			return v, nil
		}
		return 0, p.errorf("%s is not a constant", t)
	}
	return 0, p.errorf("expected a constant expression, found %s", t)
}

// typeName parses a type with an abstract declarator, as in casts and sizeof.
func (p *parser) typeName() (decl.TypeID, error) {
	spec, err := p.specifiers(false)
	if err != nil {
		return 0, err
	}
	name, wrap, err := p.declarator(true)
	if err != nil {
		return 0, err
	}
	if name != "" {
		return 0, p.errorf("unexpected name %q in type", name)
	}
	return wrap(spec.typ)
}
