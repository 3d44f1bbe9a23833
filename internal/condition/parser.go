package condition

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ParseError reports the construct the parser expected and the token it
// actually found, at the token's byte offset. Callers can render precise
// diagnostics from the fields instead of re-parsing the message.
type ParseError struct {
	Expected string
	Found    Token
}

func (e *ParseError) Error() string {
	if e.Found.Kind == TokenEOF {
		return fmt.Sprintf("expected %s, found end of input at position %d", e.Expected, e.Found.Pos)
	}
	return fmt.Sprintf("expected %s, found %q (%s) at position %d",
		e.Expected, e.Found.Text, e.Found.Kind, e.Found.Pos)
}

// Compile tokenizes and parses a condition string.
func Compile(input string) (Node, error) {
	tokens, err := Tokenize(input)
	if err != nil {
		return nil, err
	}
	return Parse(tokens)
}

// Parse builds a Node from a token stream produced by Tokenize.
//
// Grammar, loosest to tightest binding:
//
//	expr   = term (OR term)*
//	term   = factor (AND factor)*
//	factor = NOT factor | '(' expr ')' | check
//	check  = IDENT (':' (IDENT | PATTERN))? threshold? 'exists'?
//	threshold = ('[' IDENT ']')? OP NUMBER '%'?
//
// A stream holding only EOF parses to Empty, the always-pass node.
func Parse(tokens []Token) (Node, error) {
	if len(tokens) == 0 {
		return nil, errors.New("empty token stream")
	}
	p := &parser{tokens: tokens}
	if p.peek().Kind == TokenEOF {
		return Empty{}, nil
	}
	node, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if p.peek().Kind != TokenEOF {
		return nil, &ParseError{Expected: "end of condition", Found: p.peek()}
	}
	return node, nil
}

type parser struct {
	tokens []Token
	pos    int
}

func (p *parser) peek() Token {
	return p.tokens[p.pos]
}

func (p *parser) next() Token {
	tok := p.tokens[p.pos]
	if tok.Kind != TokenEOF {
		p.pos++
	}
	return tok
}

func (p *parser) expect(kind TokenKind, what string) (Token, error) {
	if p.peek().Kind != kind {
		return Token{}, &ParseError{Expected: what, Found: p.peek()}
	}
	return p.next(), nil
}

func (p *parser) parseExpr() (Node, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for p.peek().Kind == TokenOr {
		p.next()
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		left = Or{Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseTerm() (Node, error) {
	left, err := p.parseFactor()
	if err != nil {
		return nil, err
	}
	for p.peek().Kind == TokenAnd {
		p.next()
		right, err := p.parseFactor()
		if err != nil {
			return nil, err
		}
		left = And{Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseFactor() (Node, error) {
	switch p.peek().Kind {
	case TokenNot:
		p.next()
		expr, err := p.parseFactor()
		if err != nil {
			return nil, err
		}
		return Not{Expr: expr}, nil
	case TokenLParen:
		p.next()
		expr, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenRParen, "')'"); err != nil {
			return nil, err
		}
		return expr, nil
	default:
		return p.parseCheck()
	}
}

func (p *parser) parseCheck() (Node, error) {
	tok, err := p.expect(TokenIdent, "check name")
	if err != nil {
		return nil, err
	}
	name := tok.Text

	if p.peek().Kind == TokenColon {
		p.next()
		qual := p.peek()
		if qual.Kind != TokenIdent && qual.Kind != TokenPattern {
			return nil, &ParseError{Expected: "qualifier after ':'", Found: qual}
		}
		p.next()
		name = name + ":" + qual.Text
	}

	switch p.peek().Kind {
	case TokenLBracket:
		p.next()
		field, err := p.expect(TokenIdent, "threshold field")
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenRBracket, "']'"); err != nil {
			return nil, err
		}
		return p.parseThreshold(name, field.Text)
	case TokenOp:
		return p.parseThreshold(name, "")
	}

	// "evidence:ID exists" means the same as "evidence:ID".
	if strings.HasPrefix(name, "evidence:") &&
		p.peek().Kind == TokenIdent && p.peek().Text == "exists" {
		p.next()
	}

	return Check{Name: name}, nil
}

func (p *parser) parseThreshold(name, field string) (Node, error) {
	opTok, err := p.expect(TokenOp, "comparison operator")
	if err != nil {
		return nil, err
	}
	numTok, err := p.expect(TokenNumber, "number")
	if err != nil {
		return nil, err
	}
	value, err := strconv.Atoi(numTok.Text)
	if err != nil {
		return nil, &ParseError{Expected: "number", Found: numTok}
	}
	if p.peek().Kind == TokenPercent {
		p.next()
	}

	if field == "" {
		if name == "coverage" {
			// Shorthand: "coverage >= 80" reads aggregate evidence coverage.
			name, field = "evidence", "coverage"
		} else if base, qual, ok := strings.Cut(name, ":"); ok {
			name, field = base, qual
		}
	}

	return Threshold{Name: name, Field: field, Op: CompareOp(opTok.Text), Value: value}, nil
}
