// Package condition implements the gate condition language: a hand-written
// lexer, a recursive-descent parser with three precedence tiers, and the
// tree the gate evaluator walks.
package condition

// TokenKind identifies the lexical class of a token.
type TokenKind int

const (
	// TokenAnd, TokenOr and TokenNot are the boolean keywords. Keyword
	// recognition is case-insensitive.
	TokenAnd TokenKind = iota
	TokenOr
	TokenNot

	// TokenIdent is a plain identifier. The literal "exists" is an
	// identifier, not a keyword; it only has meaning after a check name.
	TokenIdent

	// TokenPattern is an identifier with a trailing '*' wildcard.
	TokenPattern

	// TokenNumber is an unsigned integer literal.
	TokenNumber

	// TokenPercent is a '%' following a number, lexed separately.
	TokenPercent

	// TokenOp is one of the comparison operators >=, <=, >, <, =.
	TokenOp

	TokenColon
	TokenLBracket
	TokenRBracket
	TokenLParen
	TokenRParen

	// TokenEOF terminates every token stream exactly once.
	TokenEOF
)

// String returns a human-readable name for the token kind.
func (k TokenKind) String() string {
	switch k {
	case TokenAnd:
		return "AND"
	case TokenOr:
		return "OR"
	case TokenNot:
		return "NOT"
	case TokenIdent:
		return "identifier"
	case TokenPattern:
		return "pattern"
	case TokenNumber:
		return "number"
	case TokenPercent:
		return "'%'"
	case TokenOp:
		return "operator"
	case TokenColon:
		return "':'"
	case TokenLBracket:
		return "'['"
	case TokenRBracket:
		return "']'"
	case TokenLParen:
		return "'('"
	case TokenRParen:
		return "')'"
	case TokenEOF:
		return "end of input"
	default:
		return "unknown"
	}
}

// Token is one lexical unit of a condition string. Immutable once produced.
type Token struct {
	Kind TokenKind
	// Text is the raw source text. Keywords keep their original casing.
	Text string
	// Pos is the byte offset of the token in the input string.
	Pos int
}
