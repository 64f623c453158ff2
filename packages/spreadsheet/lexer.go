package spreadsheet

import (
	"strings"
	"unicode"
)

// TokenType represents different types of tokens in expressions
type TokenType int

const (
	TokenEOF TokenType = iota
	TokenEquals
	TokenNumber
	TokenString
	TokenBoolean
	TokenCell
	TokenIdentifier
	TokenQuotedName
	TokenFunction
	TokenUnaryOp
	TokenBinaryOp
	TokenComma
	TokenColon
	TokenDot
	TokenLeftParen
	TokenRightParen
	TokenError
	TokenErrorValue // error literal such as #REF!
)

// BinaryOp represents binary operators in AST nodes
type BinaryOp int

const (
	BinOpAdd BinaryOp = iota
	BinOpSubtract
	BinOpMultiply
	BinOpDivide
	BinOpModulo
	BinOpPower
	BinOpConcat
	BinOpEqual
	BinOpNotEqual
	BinOpLess
	BinOpLessEqual
	BinOpGreater
	BinOpGreaterEqual
	BinOpAnd
	BinOpOr
)

// UnaryOp represents unary operators in AST nodes
type UnaryOp int

const (
	UnaryOpPlus UnaryOp = iota
	UnaryOpMinus
	UnaryOpNot
)

// character classification constants. slightly easier to read.
const (
	charNull       = 0
	charTab        = '\t'
	charNewline    = '\n'
	charReturn     = '\r'
	charSpace      = ' '
	charQuote      = '"'
	charApostrophe = '\''
	charPercent    = '%'
	charAmpersand  = '&'
	charPipe       = '|'
	charLParen     = '('
	charRParen     = ')'
	charAsterisk   = '*'
	charPlus       = '+'
	charComma      = ','
	charMinus      = '-'
	charPeriod     = '.'
	charSlash      = '/'
	charColon      = ':'
	charLess       = '<'
	charEqual      = '='
	charGreater    = '>'
	charCaret      = '^'
	charUnderscore = '_'
	charExclaim    = '!'
	charHash       = '#'
	charQuestion   = '?'
)

// operands that may start an expression or follow an operator
var operandTokens = map[TokenType]bool{
	TokenNumber:     true,
	TokenString:     true,
	TokenBoolean:    true,
	TokenErrorValue: true,
	TokenCell:       true,
	TokenIdentifier: true,
	TokenQuotedName: true,
	TokenFunction:   true,
	TokenLeftParen:  true,
	TokenUnaryOp:    true,
}

// tokenTransitions maps the current state to valid next token types
var tokenTransitions = map[TokenState]map[TokenType]bool{
	StateStart: {
		TokenEquals: true, // expression prefix
	},
	StateAfterEquals:   operandTokens,
	StateAfterOperator: operandTokens,
	StateAfterComma:    operandTokens,
	StateAfterLeftParen: {
		TokenNumber:     true,
		TokenString:     true,
		TokenBoolean:    true,
		TokenErrorValue: true,
		TokenCell:       true,
		TokenIdentifier: true,
		TokenQuotedName: true,
		TokenFunction:   true,
		TokenLeftParen:  true,
		TokenUnaryOp:    true,
		TokenRightParen: true, // empty parens for arg-less functions like PI()
	},
	StateAfterValue: { // after number, string, boolean
		TokenBinaryOp:   true,
		TokenRightParen: true,
		TokenComma:      true,
		TokenEOF:        true,
	},
	StateAfterReference: { // after cell or name, which may continue a reference
		TokenBinaryOp:   true,
		TokenRightParen: true,
		TokenComma:      true,
		TokenColon:      true,
		TokenDot:        true,
		TokenEOF:        true,
	},
	StateAfterQuotedName: {
		TokenDot: true, // 'Sheet name' is only valid as a qualifier
	},
	StateAfterDot: {
		TokenCell:       true,
		TokenIdentifier: true,
	},
	StateAfterColon: {
		TokenCell:       true,
		TokenIdentifier: true,
		TokenQuotedName: true,
	},
	StateAfterFunction: {
		TokenLeftParen: true,
	},
	StateAfterRightParen: {
		TokenBinaryOp:   true,
		TokenRightParen: true,
		TokenComma:      true,
		TokenEOF:        true,
	},
}

// Token represents a lexical token with position information
type Token struct {
	Type  TokenType
	Value string
	Pos   int // rune position in input
}

// TokenState represents the lexer state for validation
type TokenState int

const (
	StateStart TokenState = iota
	StateAfterEquals
	StateAfterValue
	StateAfterReference
	StateAfterQuotedName
	StateAfterDot
	StateAfterOperator
	StateAfterLeftParen
	StateAfterRightParen
	StateAfterComma
	StateAfterColon
	StateAfterFunction
)

// Lexer tokenizes expressions and references
type Lexer struct {
	runes      []rune // UTF-8 aware representation
	pos        int
	state      TokenState
	parenDepth int
	tokens     []Token
	context    *LexerContext
}

// LexerContext defines the context for lexing
type LexerContext struct {
	InitialState   TokenState
	ExpectedTokens map[TokenType]bool
}

// NewLexer creates a lexer for an expression that starts with '='
func NewLexer(input string) *Lexer {
	return NewLexerWithContext(input, &LexerContext{
		InitialState:   StateStart,
		ExpectedTokens: nil, // state transitions decide
	})
}

// NewLexerWithContext creates a new lexer with specific context
func NewLexerWithContext(input string, context *LexerContext) *Lexer {
	return &Lexer{
		runes:   []rune(input),
		pos:     0,
		state:   context.InitialState,
		tokens:  []Token{},
		context: context,
	}
}

// NewLexerForReference creates a lexer for bare references such as
// "Sheet1.A1:B3" or "'My sheet'.total"
func NewLexerForReference(input string) *Lexer {
	return NewLexerWithContext(input, &LexerContext{
		InitialState: StateAfterEquals,
		ExpectedTokens: map[TokenType]bool{
			TokenCell:       true,
			TokenIdentifier: true,
			TokenQuotedName: true,
			TokenDot:        true,
			TokenColon:      true,
		},
	})
}

// Tokenize tokenizes the entire input. the returned error is a syntax
// AppError carrying the offending position.
func (l *Lexer) Tokenize() ([]Token, error) {
	if l.context.ExpectedTokens == nil {
		// full expression lexer - must start with =
		if len(l.runes) == 0 || l.runes[0] != charEqual {
			return nil, newSyntaxError(0, "expression must start with '='")
		}
	}

	for {
		tok := l.nextToken()
		if tok.Type == TokenError {
			return nil, newSyntaxError(tok.Pos, "%s", tok.Value)
		}
		if !l.validateTransition(tok.Type) {
			if tok.Type == TokenEOF {
				return nil, newSyntaxError(tok.Pos, "unexpected end of expression")
			}
			return nil, newSyntaxError(tok.Pos, "unexpected token %q", tok.Value)
		}
		l.tokens = append(l.tokens, tok)
		if tok.Type == TokenEOF {
			break
		}
		l.updateState(tok.Type)
	}

	if l.parenDepth > 0 {
		return nil, newSyntaxError(len(l.runes), "unbalanced parentheses: missing closing parenthesis")
	}
	return l.tokens, nil
}

// validateTransition checks if the token type is valid in current state
func (l *Lexer) validateTransition(tokenType TokenType) bool {
	if l.context.ExpectedTokens != nil {
		return tokenType == TokenEOF || l.context.ExpectedTokens[tokenType]
	}
	validTokens, exists := tokenTransitions[l.state]
	if !exists {
		return false
	}
	return validTokens[tokenType]
}

// updateState updates the lexer state based on the token type
func (l *Lexer) updateState(tokenType TokenType) {
	switch tokenType {
	case TokenEquals:
		l.state = StateAfterEquals
	case TokenNumber, TokenString, TokenBoolean, TokenErrorValue:
		l.state = StateAfterValue
	case TokenCell, TokenIdentifier:
		l.state = StateAfterReference
	case TokenQuotedName:
		l.state = StateAfterQuotedName
	case TokenDot:
		l.state = StateAfterDot
	case TokenUnaryOp, TokenBinaryOp:
		l.state = StateAfterOperator
	case TokenLeftParen:
		l.state = StateAfterLeftParen
	case TokenRightParen:
		l.state = StateAfterRightParen
	case TokenComma:
		l.state = StateAfterComma
	case TokenColon:
		l.state = StateAfterColon
	case TokenFunction:
		l.state = StateAfterFunction
	}
}

// nextToken returns the next token from the input
func (l *Lexer) nextToken() Token {
	l.skipWhitespace()

	if l.pos >= len(l.runes) {
		return Token{Type: TokenEOF, Pos: l.pos}
	}

	startPos := l.pos
	ch := l.current()

	if ch == charQuote {
		return l.scanString()
	}

	if ch == charApostrophe {
		return l.scanQuotedName()
	}

	if ch == charHash {
		return l.scanErrorValue()
	}

	if l.isDigit(ch) || (ch == charPeriod && l.isDigit(l.peek(1)) && l.state != StateAfterReference) {
		return l.scanNumber()
	}

	switch ch {
	case charLParen:
		l.pos++
		l.parenDepth++
		return Token{Type: TokenLeftParen, Value: "(", Pos: startPos}
	case charRParen:
		l.pos++
		l.parenDepth--
		if l.parenDepth < 0 {
			return Token{Type: TokenError, Value: "unexpected closing parenthesis", Pos: startPos}
		}
		return Token{Type: TokenRightParen, Value: ")", Pos: startPos}
	case charComma:
		l.pos++
		return Token{Type: TokenComma, Value: ",", Pos: startPos}
	case charColon:
		l.pos++
		return Token{Type: TokenColon, Value: ":", Pos: startPos}
	case charPeriod:
		l.pos++
		return Token{Type: TokenDot, Value: ".", Pos: startPos}
	case charPlus, charMinus:
		return l.scanUnaryOrBinaryOp()
	case charExclaim:
		if l.isUnaryContext() {
			l.pos++
			return Token{Type: TokenUnaryOp, Value: "!", Pos: startPos}
		}
		return l.scanBinaryOp()
	case charEqual:
		if l.pos == 0 && l.state == StateStart {
			l.pos++
			return Token{Type: TokenEquals, Value: "=", Pos: startPos}
		}
		return l.scanBinaryOp()
	case charAsterisk, charSlash, charCaret, charAmpersand, charPercent, charPipe, charLess, charGreater:
		return l.scanBinaryOp()
	}

	if l.isAlpha(ch) || ch == charUnderscore {
		return l.scanIdentifierOrCell()
	}

	l.pos++
	return Token{Type: TokenError, Value: "unexpected character: " + string(ch), Pos: startPos}
}

// helper methods for character navigation and classification

// substring returns a substring of the original input based on rune positions
func (l *Lexer) substring(start, end int) string {
	if start < 0 || end > len(l.runes) || start > end {
		return ""
	}
	return string(l.runes[start:end])
}

func (l *Lexer) current() rune {
	if l.pos >= len(l.runes) {
		return charNull
	}
	return l.runes[l.pos]
}

func (l *Lexer) peek(offset int) rune {
	pos := l.pos + offset
	if pos >= len(l.runes) || pos < 0 {
		return charNull
	}
	return l.runes[pos]
}

func (l *Lexer) skipWhitespace() {
	for l.pos < len(l.runes) {
		ch := l.current()
		if ch == charSpace || ch == charTab || ch == charNewline || ch == charReturn {
			l.pos++
		} else {
			break
		}
	}
}

func (l *Lexer) isDigit(ch rune) bool {
	return ch >= '0' && ch <= '9'
}

func (l *Lexer) isAlpha(ch rune) bool {
	return unicode.IsLetter(ch)
}

func (l *Lexer) isIdentPart(ch rune) bool {
	return unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == charUnderscore
}

// scanNumber scans a number token including decimals and scientific notation
func (l *Lexer) scanNumber() Token {
	startPos := l.pos

	for l.pos < len(l.runes) && l.isDigit(l.current()) {
		l.pos++
	}

	if l.current() == charPeriod && l.isDigit(l.peek(1)) {
		l.pos++ // consume '.'
		for l.pos < len(l.runes) && l.isDigit(l.current()) {
			l.pos++
		}
	}

	if l.current() == 'e' || l.current() == 'E' {
		savedPos := l.pos
		l.pos++

		if l.current() == charPlus || l.current() == charMinus {
			l.pos++
		}

		if !l.isDigit(l.current()) {
			// not scientific notation, restore position
			l.pos = savedPos
		} else {
			for l.pos < len(l.runes) && l.isDigit(l.current()) {
				l.pos++
			}
		}
	}

	return Token{Type: TokenNumber, Value: l.substring(startPos, l.pos), Pos: startPos}
}

// scanString scans a string literal with support for double-quote escapes
func (l *Lexer) scanString() Token {
	return l.scanDelimited(charQuote, TokenString, "unclosed string literal")
}

// scanQuotedName scans a 'quoted worksheet name'
func (l *Lexer) scanQuotedName() Token {
	return l.scanDelimited(charApostrophe, TokenQuotedName, "unclosed worksheet name")
}

// scanDelimited reads up to the closing delimiter. a doubled delimiter
// stands for itself.
func (l *Lexer) scanDelimited(delim rune, tokenType TokenType, unclosed string) Token {
	startPos := l.pos
	l.pos++ // consume opening delimiter

	var result strings.Builder
	for l.pos < len(l.runes) {
		ch := l.current()
		if ch == delim {
			if l.peek(1) == delim {
				result.WriteRune(delim)
				l.pos += 2
				continue
			}
			l.pos++
			return Token{Type: tokenType, Value: result.String(), Pos: startPos}
		}
		result.WriteRune(ch)
		l.pos++
	}

	return Token{Type: TokenError, Value: unclosed, Pos: startPos}
}

// scanErrorValue scans an error literal. only the values a cell can
// display are accepted.
func (l *Lexer) scanErrorValue() Token {
	startPos := l.pos
	l.pos++ // consume '#'

	for l.pos < len(l.runes) && (l.isAlpha(l.current()) || l.isDigit(l.current()) || l.current() == charSlash) {
		l.pos++
	}
	if l.current() == charExclaim || l.current() == charQuestion {
		l.pos++
	}

	value := strings.ToUpper(l.substring(startPos, l.pos))
	if _, ok := errorCodeByName(value); !ok {
		return Token{Type: TokenError, Value: "unknown error value " + value, Pos: startPos}
	}
	return Token{Type: TokenErrorValue, Value: value, Pos: startPos}
}

// scanIdentifierOrCell scans identifiers, functions, cells and booleans
func (l *Lexer) scanIdentifierOrCell() Token {
	startPos := l.pos

	for l.pos < len(l.runes) && l.isIdentPart(l.current()) {
		l.pos++
	}

	value := l.substring(startPos, l.pos)
	upperValue := strings.ToUpper(value)

	// a name after a dot is a member, never a function or boolean
	if l.state == StateAfterDot {
		if IsA1(value) {
			return Token{Type: TokenCell, Value: value, Pos: startPos}
		}
		return Token{Type: TokenIdentifier, Value: value, Pos: startPos}
	}

	if l.peekPastWhitespace() == charLParen && l.context.ExpectedTokens == nil {
		return Token{Type: TokenFunction, Value: upperValue, Pos: startPos}
	}

	if (upperValue == "TRUE" || upperValue == "FALSE") && l.current() != charPeriod {
		return Token{Type: TokenBoolean, Value: upperValue, Pos: startPos}
	}

	if IsA1(value) {
		return Token{Type: TokenCell, Value: value, Pos: startPos}
	}

	return Token{Type: TokenIdentifier, Value: value, Pos: startPos}
}

// peekPastWhitespace returns the next non-blank rune without consuming it
func (l *Lexer) peekPastWhitespace() rune {
	for offset := 0; l.pos+offset < len(l.runes); offset++ {
		ch := l.runes[l.pos+offset]
		if ch != charSpace && ch != charTab && ch != charNewline && ch != charReturn {
			return ch
		}
	}
	return charNull
}

// scanUnaryOrBinaryOp scans + and - which can be either unary prefix or
// binary
func (l *Lexer) scanUnaryOrBinaryOp() Token {
	startPos := l.pos
	ch := l.current()
	l.pos++

	if l.isUnaryContext() {
		return Token{Type: TokenUnaryOp, Value: string(ch), Pos: startPos}
	}
	return Token{Type: TokenBinaryOp, Value: string(ch), Pos: startPos}
}

// scanBinaryOp scans binary operators, longest match first
func (l *Lexer) scanBinaryOp() Token {
	startPos := l.pos
	ch := l.current()
	next := l.peek(1)

	two := func(value string) Token {
		l.pos += 2
		return Token{Type: TokenBinaryOp, Value: value, Pos: startPos}
	}
	one := func(value string) Token {
		l.pos++
		return Token{Type: TokenBinaryOp, Value: value, Pos: startPos}
	}

	switch ch {
	case charLess:
		if next == charEqual {
			return two("<=")
		}
		if next == charGreater {
			return two("<>")
		}
		return one("<")
	case charGreater:
		if next == charEqual {
			return two(">=")
		}
		return one(">")
	case charEqual:
		if next == charEqual {
			return two("==")
		}
		return one("=")
	case charExclaim:
		if next == charEqual {
			return two("!=")
		}
		return Token{Type: TokenError, Value: "unexpected '!'", Pos: startPos}
	case charAmpersand:
		if next == charAmpersand {
			return two("&&")
		}
		return one("&")
	case charPipe:
		if next == charPipe {
			return two("||")
		}
		return Token{Type: TokenError, Value: "unexpected '|'", Pos: startPos}
	case charAsterisk:
		return one("*")
	case charSlash:
		return one("/")
	case charCaret:
		return one("^")
	case charPercent:
		return one("%")
	}

	return Token{Type: TokenError, Value: "unknown operator", Pos: startPos}
}

// isUnaryContext checks if the current context allows for unary operators
func (l *Lexer) isUnaryContext() bool {
	// unary operators are allowed after:
	// - start of expression
	// - after equals (=)
	// - after another operator
	// - after left paren
	// - after comma
	switch l.state {
	case StateStart, StateAfterEquals, StateAfterOperator, StateAfterLeftParen, StateAfterComma:
		return true
	default:
		return false
	}
}
