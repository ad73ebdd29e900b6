package cdecl

import (
	"fmt"
	"strconv"
	"strings"
)

type tokenKind uint8

const (
	tokEOF tokenKind = iota
	tokIdent
	tokNumber
	tokString
	tokPunct
)

type token struct {
	kind  tokenKind
	text  string
	value int64
	line  int
}

func (t token) String() string {
	if t.kind == tokEOF {
		return "end of file"
	}
	return strconv.Quote(t.text)
}

// multi-character punctuators, longest first.
var punctuators = []string{"...", "<<", ">>"}

// lexer splits a source into tokens. Lines whose first non-blank characters
// are "///" are kept aside as documentation and looked up by line number;
// other comments and preprocessor lines are dropped.
type lexer struct {
	src  string
	pos  int
	line int

	docs map[int]string
}

func lex(src string) ([]token, map[int]string, error) {
	l := &lexer{src: src, line: 1, docs: make(map[int]string)}
	var toks []token
	atLineStart := true
	for {
		l.skipBlanks(&atLineStart)
		if l.pos >= len(l.src) {
			toks = append(toks, token{kind: tokEOF, line: l.line})
			return toks, l.docs, nil
		}
		c := l.src[l.pos]

		switch {
		case c == '#' && atLineStart:
			l.skipDirective()
			continue
		case strings.HasPrefix(l.src[l.pos:], "//"):
			end := strings.IndexByte(l.src[l.pos:], '\n')
			if end < 0 {
				end = len(l.src) - l.pos
			}
			text := l.src[l.pos : l.pos+end]
			if atLineStart && strings.HasPrefix(text, "///") {
				l.docs[l.line] = strings.TrimRight(text, " \t\r")
			}
			l.pos += end
			continue
		case strings.HasPrefix(l.src[l.pos:], "/*"):
			end := strings.Index(l.src[l.pos+2:], "*/")
			if end < 0 {
				return nil, nil, l.errorf("unterminated block comment")
			}
			body := l.src[l.pos : l.pos+2+end+2]
			l.line += strings.Count(body, "\n")
			l.pos += len(body)
			continue
		}
		atLineStart = false

		switch {
		case isIdentStart(c):
			toks = append(toks, l.ident())
		case isDigit(c):
			tok, err := l.number()
			if err != nil {
				return nil, nil, err
			}
			toks = append(toks, tok)
		case c == '\'':
			tok, err := l.char()
			if err != nil {
				return nil, nil, err
			}
			toks = append(toks, tok)
		case c == '"':
			tok, err := l.str()
			if err != nil {
				return nil, nil, err
			}
			toks = append(toks, tok)
		default:
			toks = append(toks, l.punct())
		}
	}
}

func (l *lexer) errorf(format string, args ...any) error {
	return &ParseError{Line: l.line, Message: fmt.Sprintf(format, args...)}
}

func (l *lexer) skipBlanks(atLineStart *bool) {
	for l.pos < len(l.src) {
		switch l.src[l.pos] {
		case '\n':
			l.line++
			*atLineStart = true
		case ' ', '\t', '\r', '\f', '\v':
		default:
			return
		}
		l.pos++
	}
}

// skipDirective drops a preprocessor line, following backslash continuations.
func (l *lexer) skipDirective() {
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		if c == '\\' && l.pos+1 < len(l.src) && l.src[l.pos+1] == '\n' {
			l.pos += 2
			l.line++
			continue
		}
		if c == '\n' {
			return
		}
		l.pos++
	}
}

// ident reads an identifier. C++ qualified names such as ns::Type are read
// as one identifier.
func (l *lexer) ident() token {
	start := l.pos
	for {
		for l.pos < len(l.src) && isIdentChar(l.src[l.pos]) {
			l.pos++
		}
		if strings.HasPrefix(l.src[l.pos:], "::") && l.pos+2 < len(l.src) && isIdentStart(l.src[l.pos+2]) {
			l.pos += 2
			continue
		}
		break
	}
	return token{kind: tokIdent, text: l.src[start:l.pos], line: l.line}
}

func (l *lexer) number() (token, error) {
	start := l.pos
	for l.pos < len(l.src) && (isIdentChar(l.src[l.pos])) {
		l.pos++
	}
	text := l.src[start:l.pos]
	digits := strings.TrimRight(text, "uUlL")
	v, err := strconv.ParseUint(digits, 0, 64)
	if err != nil {
		return token{}, l.errorf("invalid integer constant %q", text)
	}
	return token{kind: tokNumber, text: text, value: int64(v), line: l.line}, nil
}

func (l *lexer) char() (token, error) {
	start := l.pos
	end := l.pos + 1
	for end < len(l.src) && l.src[end] != '\'' {
		if l.src[end] == '\\' {
			end++
		}
		if end < len(l.src) && l.src[end] == '\n' {
			break
		}
		end++
	}
	if end >= len(l.src) || l.src[end] != '\'' {
		return token{}, l.errorf("unterminated character constant")
	}
	l.pos = end + 1
	text := l.src[start:l.pos]
	body := text[1 : len(text)-1]
	// Octal escapes may be shorter than the three digits Go requires.
	if len(body) >= 2 && body[0] == '\\' && body[1] >= '0' && body[1] <= '7' {
		v, err := strconv.ParseUint(body[1:], 8, 8)
		if err != nil {
			return token{}, l.errorf("unsupported character constant %s", text)
		}
		return token{kind: tokNumber, text: text, value: int64(v), line: l.line}, nil
	}
	s, err := strconv.Unquote(text)
	if err != nil || len(s) != 1 {
		return token{}, l.errorf("unsupported character constant %s", text)
	}
	return token{kind: tokNumber, text: text, value: int64(s[0]), line: l.line}, nil
}

func (l *lexer) str() (token, error) {
	start := l.pos
	l.pos++
	for l.pos < len(l.src) && l.src[l.pos] != '"' {
		if l.src[l.pos] == '\\' {
			l.pos++
		}
		if l.pos < len(l.src) && l.src[l.pos] == '\n' {
			return token{}, l.errorf("unterminated string literal")
		}
		l.pos++
	}
	if l.pos >= len(l.src) {
		return token{}, l.errorf("unterminated string literal")
	}
	l.pos++
	return token{kind: tokString, text: l.src[start:l.pos], line: l.line}, nil
}

func (l *lexer) punct() token {
	for _, p := range punctuators {
		if strings.HasPrefix(l.src[l.pos:], p) {
			l.pos += len(p)
			return token{kind: tokPunct, text: p, line: l.line}
		}
	}
	t := token{kind: tokPunct, text: l.src[l.pos : l.pos+1], line: l.line}
	l.pos++
	return t
}

func isIdentStart(c byte) bool {
	return c == '_' || (c|0x20 >= 'a' && c|0x20 <= 'z')
}

func isIdentChar(c byte) bool {
	return isIdentStart(c) || isDigit(c)
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
