package pattern

import (
	"strconv"
	"strings"
)

// Directive names understood by ParseAnnotation.
const (
	DirectivePattern = "pattern"
	DirectiveOffset  = "offset"
	DirectiveNth     = "nth"
	DirectiveEval    = "eval"
)

// ParseAnnotation builds a Spec from the comment lines attached to the
// declaration name. Lines that are not directives are ignored, which lets
// annotation blocks carry free-form documentation. The boolean result is false
// when the block contains no directive at all, meaning the declaration is not
// meant to be located.
func ParseAnnotation(name string, lines []string) (*Spec, bool, error) {
	params, err := collectDirectives(lines)
	if err != nil {
		err.Decl = name
		return nil, true, err
	}
	if len(params) == 0 {
		return nil, false, nil
	}

	spec, serr := specFromDirectives(name, params)
	if serr != nil {
		serr.Decl = name
		return nil, true, serr
	}
	return spec, true, nil
}

// DirectiveLine extracts the key and value of a "/// @key value" line.
func DirectiveLine(line string) (key, value string, ok bool) {
	s := strings.TrimSpace(line)
	s = strings.TrimPrefix(s, "///")
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "@") {
		return "", "", false
	}
	s = s[1:]
	key = s
	if i := strings.IndexAny(s, " \t"); i >= 0 {
		key, value = s[:i], s[i+1:]
	}
	return key, strings.TrimSpace(value), key != ""
}

func collectDirectives(lines []string) (map[string]string, *SyntaxError) {
	params := make(map[string]string)
	for _, line := range lines {
		key, value, ok := DirectiveLine(line)
		if !ok {
			continue
		}
		switch key {
		case DirectivePattern, DirectiveOffset, DirectiveNth, DirectiveEval:
		default:
			return nil, syntaxErrorf(key, "unknown directive")
		}
		if _, dup := params[key]; dup {
			return nil, syntaxErrorf(key, "directive given more than once")
		}
		if value == "" {
			return nil, syntaxErrorf(key, "missing value")
		}
		params[key] = value
	}
	return params, nil
}

func specFromDirectives(name string, params map[string]string) (*Spec, *SyntaxError) {
	src, ok := params[DirectivePattern]
	if !ok {
		return nil, syntaxErrorf(DirectivePattern, "missing @pattern directive")
	}
	tokens, err := ParseTemplate(src)
	if err != nil {
		return nil, err.(*SyntaxError)
	}
	spec := &Spec{Name: name, Tokens: tokens}

	if v, ok := params[DirectiveOffset]; ok {
		off, err := strconv.ParseInt(v, 0, 64)
		if err != nil {
			return nil, syntaxErrorf(DirectiveOffset, "invalid signed integer %q", v)
		}
		spec.Offset = off
	}

	if v, ok := params[DirectiveNth]; ok {
		sel, serr := parseSelection(v)
		if serr != nil {
			return nil, serr
		}
		spec.Nth = sel
	}

	if v, ok := params[DirectiveEval]; ok {
		expr, err := ParseExpr(v)
		if err != nil {
			return nil, err.(*SyntaxError)
		}
		if serr := checkEvalNames(spec, expr); serr != nil {
			return nil, serr
		}
		spec.Eval = expr
	}
	return spec, nil
}

func parseSelection(v string) (*Selection, *SyntaxError) {
	idx, total, ok := strings.Cut(v, "/")
	if !ok {
		return nil, syntaxErrorf(DirectiveNth, "expected <index>/<total>, got %q", v)
	}
	i, err := strconv.Atoi(strings.TrimSpace(idx))
	if err != nil || i < 0 {
		return nil, syntaxErrorf(DirectiveNth, "invalid index %q", idx)
	}
	n, err := strconv.Atoi(strings.TrimSpace(total))
	if err != nil || n <= 0 {
		return nil, syntaxErrorf(DirectiveNth, "invalid total %q", total)
	}
	if i >= n {
		return nil, syntaxErrorf(DirectiveNth, "index %d out of range for %d occurrences", i, n)
	}
	return &Selection{Index: i, Total: n}, nil
}

func checkEvalNames(spec *Spec, expr Expr) *SyntaxError {
	if !spec.HasCaptures() {
		return syntaxErrorf(DirectiveEval, "expression given but the pattern declares no capture groups")
	}
	declared := make(map[string]bool)
	for _, t := range spec.Tokens {
		if t.Type == TokenCapture {
			declared[t.Name] = true
		}
	}
	for _, name := range Idents(expr) {
		if !declared[name] {
			return syntaxErrorf(DirectiveEval, "undeclared capture %q", name)
		}
	}
	return nil
}

// ParseTemplate parses a byte template such as "48 8B 0D ? ? (g:abs) E8".
// Adjacent hex digit pairs may be written without separators.
func ParseTemplate(src string) ([]Token, error) {
	var tokens []Token
	seen := make(map[string]bool)
	for i := 0; i < len(src); {
		c := src[i]
		switch {
		case isSpace(c) || c == '\n' || c == '\r':
			i++
		case c == '?':
			tokens = append(tokens, Token{Type: TokenWildcard})
			i++
		case c == '(':
			end := strings.IndexByte(src[i:], ')')
			if end < 0 {
				return nil, syntaxErrorf(DirectivePattern, "unterminated capture group at column %d", i+1)
			}
			tok, err := parseCapture(src[i+1 : i+end])
			if err != nil {
				return nil, err
			}
			if seen[tok.Name] {
				return nil, syntaxErrorf(DirectivePattern, "capture %q declared more than once", tok.Name)
			}
			seen[tok.Name] = true
			tokens = append(tokens, tok)
			i += end + 1
		case isHexDigit(c):
			j := i
			for j < len(src) && isHexDigit(src[j]) {
				j++
			}
			run := src[i:j]
			if len(run)%2 != 0 {
				return nil, syntaxErrorf(DirectivePattern, "odd number of hex digits in %q", run)
			}
			for k := 0; k < len(run); k += 2 {
				b, _ := strconv.ParseUint(run[k:k+2], 16, 8)
				tokens = append(tokens, Token{Type: TokenLiteral, Byte: byte(b)})
			}
			i = j
		default:
			return nil, syntaxErrorf(DirectivePattern, "unexpected character %q at column %d", c, i+1)
		}
	}
	if len(tokens) == 0 {
		return nil, syntaxErrorf(DirectivePattern, "empty byte template")
	}
	return tokens, nil
}

func parseCapture(body string) (Token, *SyntaxError) {
	name, kind, ok := strings.Cut(body, ":")
	if !ok {
		return Token{}, syntaxErrorf(DirectivePattern, "capture %q must be written as (name:kind)", body)
	}
	name = strings.TrimSpace(name)
	kind = strings.TrimSpace(kind)
	if !validIdent(name) {
		return Token{}, syntaxErrorf(DirectivePattern, "invalid capture name %q", name)
	}
	k, ok := ParseKind(kind)
	if !ok {
		return Token{}, syntaxErrorf(DirectivePattern, "unknown capture kind %q for %q (want rel or abs)", kind, name)
	}
	return Token{Type: TokenCapture, Name: name, Kind: k}, nil
}

func validIdent(s string) bool {
	if s == "" || !isIdentStart(s[0]) {
		return false
	}
	for i := 1; i < len(s); i++ {
		if !isIdentChar(s[i]) {
			return false
		}
	}
	return true
}

func isHexDigit(c byte) bool {
	return isDigit(c) || (c|0x20 >= 'a' && c|0x20 <= 'f')
}
