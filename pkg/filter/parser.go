package filter

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// SyntaxError reports a malformed filter expression.
type SyntaxError struct {
	// Pos is the byte offset of the offending token.
	Pos int

	// Msg describes the problem.
	Msg string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("filter syntax error at offset %d: %s", e.Pos, e.Msg)
}

// Parse compiles a textual filter expression.
//
// Grammar, in precedence order from loosest to tightest:
//
//	expr    := and { OR and }
//	and     := unary { AND unary }
//	unary   := NOT unary | primary
//	primary := "(" expr ")" | clause
//	clause  := path op literal
//
// path is a dotted or "__" separated key. op is one of == = != or a word
// operator such as in, contains, any, all, startswith. Keywords are case
// insensitive. Literals are quoted strings, numbers, true, false and
// bracketed lists of literals.
func Parse(expr string) (Predicate, error) {
	tokens, err := lex(expr)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens}
	pred, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != tokEOF {
		return nil, &SyntaxError{Pos: tok.pos, Msg: fmt.Sprintf("unexpected %s", tok)}
	}
	return pred, nil
}

// MustParse is Parse that panics on error.
func MustParse(expr string) Predicate {
	p, err := Parse(expr)
	if err != nil {
		panic(err)
	}
	return p
}

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokString
	tokNumber
	tokOp
	tokLParen
	tokRParen
	tokLBracket
	tokRBracket
	tokComma
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

func (t token) String() string {
	if t.kind == tokEOF {
		return "end of input"
	}
	return fmt.Sprintf("%q", t.text)
}

func (t token) keyword(word string) bool {
	return t.kind == tokIdent && strings.EqualFold(t.text, word)
}

func lex(src string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(src) {
		c := rune(src[i])
		switch {
		case unicode.IsSpace(c):
			i++
		case c == '(':
			tokens = append(tokens, token{tokLParen, "(", i})
			i++
		case c == ')':
			tokens = append(tokens, token{tokRParen, ")", i})
			i++
		case c == '[':
			tokens = append(tokens, token{tokLBracket, "[", i})
			i++
		case c == ']':
			tokens = append(tokens, token{tokRBracket, "]", i})
			i++
		case c == ',':
			tokens = append(tokens, token{tokComma, ",", i})
			i++
		case c == '=':
			if strings.HasPrefix(src[i:], "==") {
				tokens = append(tokens, token{tokOp, "==", i})
				i += 2
			} else {
				tokens = append(tokens, token{tokOp, "=", i})
				i++
			}
		case c == '!':
			if !strings.HasPrefix(src[i:], "!=") {
				return nil, &SyntaxError{Pos: i, Msg: "expected !="}
			}
			tokens = append(tokens, token{tokOp, "!=", i})
			i += 2
		case c == '"' || c == '\'':
			s, n, err := lexString(src[i:])
			if err != nil {
				return nil, &SyntaxError{Pos: i, Msg: err.Error()}
			}
			tokens = append(tokens, token{tokString, s, i})
			i += n
		case c == '-' || unicode.IsDigit(c):
			start := i
			i++
			for i < len(src) && strings.ContainsRune("0123456789.eE+-", rune(src[i])) {
				i++
			}
			tokens = append(tokens, token{tokNumber, src[start:i], start})
		case isIdentRune(c):
			start := i
			for i < len(src) && isIdentRune(rune(src[i])) {
				i++
			}
			tokens = append(tokens, token{tokIdent, src[start:i], start})
		default:
			return nil, &SyntaxError{Pos: i, Msg: fmt.Sprintf("unexpected character %q", c)}
		}
	}
	tokens = append(tokens, token{tokEOF, "", len(src)})
	return tokens, nil
}

func isIdentRune(c rune) bool {
	return c == '_' || c == '.' || c == '-' || unicode.IsLetter(c) || unicode.IsDigit(c)
}

// lexString scans a quoted string and returns its value and byte length.
func lexString(src string) (string, int, error) {
	quote := src[0]
	var b strings.Builder
	for i := 1; i < len(src); i++ {
		switch src[i] {
		case '\\':
			if i+1 >= len(src) {
				return "", 0, fmt.Errorf("unterminated string")
			}
			i++
			switch src[i] {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			default:
				b.WriteByte(src[i])
			}
		case quote:
			return b.String(), i + 1, nil
		default:
			b.WriteByte(src[i])
		}
	}
	return "", 0, fmt.Errorf("unterminated string")
}

type parser struct {
	tokens []token
	pos    int
}

func (p *parser) peek() token { return p.tokens[p.pos] }

func (p *parser) next() token {
	tok := p.tokens[p.pos]
	if tok.kind != tokEOF {
		p.pos++
	}
	return tok
}

func (p *parser) parseOr() (Predicate, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().keyword("OR") {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &OrPredicate{Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Predicate, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.peek().keyword("AND") {
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &AndPredicate{Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (Predicate, error) {
	if p.peek().keyword("NOT") {
		p.next()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &NotPredicate{Operand: operand}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Predicate, error) {
	tok := p.peek()
	if tok.kind == tokLParen {
		p.next()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if closing := p.next(); closing.kind != tokRParen {
			return nil, &SyntaxError{Pos: closing.pos, Msg: fmt.Sprintf("expected ) but found %s", closing)}
		}
		return inner, nil
	}
	return p.parseClause()
}

func (p *parser) parseClause() (Predicate, error) {
	pathTok := p.next()
	if pathTok.kind != tokIdent || isKeyword(pathTok) {
		return nil, &SyntaxError{Pos: pathTok.pos, Msg: fmt.Sprintf("expected field path but found %s", pathTok)}
	}
	path := strings.ReplaceAll(pathTok.text, ".", Separator)

	opTok := p.next()
	var key string
	switch {
	case opTok.kind == tokOp && (opTok.text == "==" || opTok.text == "="):
		key = path
	case opTok.kind == tokOp && opTok.text == "!=":
		key = path + Separator + OpNe
	case opTok.kind == tokIdent && !isKeyword(opTok):
		key = path + Separator + strings.ToLower(opTok.text)
	default:
		return nil, &SyntaxError{Pos: opTok.pos, Msg: fmt.Sprintf("expected operator but found %s", opTok)}
	}

	value, err := p.parseLiteral()
	if err != nil {
		return nil, err
	}
	return F{key: value}, nil
}

func (p *parser) parseLiteral() (any, error) {
	tok := p.next()
	switch tok.kind {
	case tokString:
		return tok.text, nil
	case tokNumber:
		return parseNumber(tok)
	case tokIdent:
		switch strings.ToLower(tok.text) {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
	case tokLBracket:
		list := []any{}
		if p.peek().kind == tokRBracket {
			p.next()
			return list, nil
		}
		for {
			item, err := p.parseLiteral()
			if err != nil {
				return nil, err
			}
			list = append(list, item)
			sep := p.next()
			if sep.kind == tokRBracket {
				return list, nil
			}
			if sep.kind != tokComma {
				return nil, &SyntaxError{Pos: sep.pos, Msg: fmt.Sprintf("expected , or ] but found %s", sep)}
			}
		}
	}
	return nil, &SyntaxError{Pos: tok.pos, Msg: fmt.Sprintf("expected literal but found %s", tok)}
}

func parseNumber(tok token) (any, error) {
	if i, err := strconv.Atoi(tok.text); err == nil {
		return i, nil
	}
	f, err := strconv.ParseFloat(tok.text, 64)
	if err != nil {
		return nil, &SyntaxError{Pos: tok.pos, Msg: fmt.Sprintf("invalid number %q", tok.text)}
	}
	return f, nil
}

func isKeyword(tok token) bool {
	return tok.keyword("AND") || tok.keyword("OR") || tok.keyword("NOT")
}
