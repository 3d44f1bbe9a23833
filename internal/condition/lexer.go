package condition

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// LexError reports a character the lexer does not recognize and its byte
// offset in the input. No character is ever silently dropped.
type LexError struct {
	Char rune
	Pos  int
}

func (e *LexError) Error() string {
	return fmt.Sprintf("unexpected character %q at position %d", e.Char, e.Pos)
}

// Tokenize splits a condition string into tokens. Whitespace is skipped and
// emits nothing. The returned stream always ends with exactly one TokenEOF,
// so Tokenize("") yields a single EOF token.
//
// Identifiers start with a letter or underscore; a trailing '*' folds into
// a single TokenPattern. A leading '*' is not special-cased and fails as an
// unexpected character, as does anything else outside the recognized set.
func Tokenize(input string) ([]Token, error) {
	tokens := make([]Token, 0, 8)

	i := 0
	for i < len(input) {
		r, size := utf8.DecodeRuneInString(input[i:])
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			i += size

		case isIdentStart(r):
			start := i
			i += size
			for i < len(input) {
				r2, s2 := utf8.DecodeRuneInString(input[i:])
				if !isIdentPart(r2) {
					break
				}
				i += s2
			}
			kind := TokenIdent
			if i < len(input) && input[i] == '*' {
				i++
				kind = TokenPattern
			}
			text := input[start:i]
			if kind == TokenIdent {
				switch strings.ToUpper(text) {
				case "AND":
					kind = TokenAnd
				case "OR":
					kind = TokenOr
				case "NOT":
					kind = TokenNot
				}
			}
			tokens = append(tokens, Token{Kind: kind, Text: text, Pos: start})

		case r >= '0' && r <= '9':
			start := i
			for i < len(input) && input[i] >= '0' && input[i] <= '9' {
				i++
			}
			tokens = append(tokens, Token{Kind: TokenNumber, Text: input[start:i], Pos: start})

		case r == '>' || r == '<':
			start := i
			i++
			if i < len(input) && input[i] == '=' {
				i++
			}
			tokens = append(tokens, Token{Kind: TokenOp, Text: input[start:i], Pos: start})

		case r == '=':
			tokens = append(tokens, Token{Kind: TokenOp, Text: "=", Pos: i})
			i++

		case r == '%':
			tokens = append(tokens, Token{Kind: TokenPercent, Text: "%", Pos: i})
			i++

		case r == ':':
			tokens = append(tokens, Token{Kind: TokenColon, Text: ":", Pos: i})
			i++

		case r == '[':
			tokens = append(tokens, Token{Kind: TokenLBracket, Text: "[", Pos: i})
			i++

		case r == ']':
			tokens = append(tokens, Token{Kind: TokenRBracket, Text: "]", Pos: i})
			i++

		case r == '(':
			tokens = append(tokens, Token{Kind: TokenLParen, Text: "(", Pos: i})
			i++

		case r == ')':
			tokens = append(tokens, Token{Kind: TokenRParen, Text: ")", Pos: i})
			i++

		default:
			return nil, &LexError{Char: r, Pos: i}
		}
	}

	tokens = append(tokens, Token{Kind: TokenEOF, Pos: len(input)})
	return tokens, nil
}

func isIdentStart(r rune) bool {
	return unicode.IsLetter(r) || r == '_'
}

func isIdentPart(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}
