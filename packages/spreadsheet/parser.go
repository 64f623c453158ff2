package spreadsheet

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

type NodePosition struct {
	Start int
	End   int
}

// ASTNode is a parsed expression. the tree drives dependency extraction
// and evaluation. ToString renders a canonical form used to share parsed
// trees between cells with identical expressions.
type ASTNode interface {
	Eval(ec *evalContext) (Primitive, error)
	GetPosition() NodePosition
	ToString() string
}

// Parser parses tokens into an AST
type Parser struct {
	tokens []Token
	pos    int
}

// StringNode represents a string literal
type StringNode struct {
	Value    string
	Position NodePosition
}

func (n *StringNode) GetPosition() NodePosition {
	return n.Position
}

func (n *StringNode) ToString() string {
	escaped := strings.ReplaceAll(n.Value, "\"", "\"\"")
	return fmt.Sprintf("\"%s\"", escaped)
}

// NumberNode represents a numeric literal
type NumberNode struct {
	Value    float64
	Position NodePosition
}

func (n *NumberNode) GetPosition() NodePosition {
	return n.Position
}

func (n *NumberNode) ToString() string {
	return formatNumber(n.Value)
}

// BooleanNode represents a boolean literal
type BooleanNode struct {
	Value    bool
	Position NodePosition
}

func (n *BooleanNode) GetPosition() NodePosition {
	return n.Position
}

func (n *BooleanNode) ToString() string {
	if n.Value {
		return "TRUE"
	}
	return "FALSE"
}

// ErrorNode is an error literal. references to deleted cells are
// rewritten to #REF!.
type ErrorNode struct {
	Code     ErrorCode
	Position NodePosition
}

func (n *ErrorNode) GetPosition() NodePosition {
	return n.Position
}

func (n *ErrorNode) ToString() string {
	return ErrorMapper[n.Code]
}

// CellRefNode is a direct cell reference. Sheet is empty for the reader's
// own worksheet.
type CellRefNode struct {
	Sheet    string
	Row      uint32
	Col      uint32
	Position NodePosition
}

func (n *CellRefNode) GetPosition() NodePosition {
	return n.Position
}

func (n *CellRefNode) ToString() string {
	return Qualify(n.Sheet, FormatA1(n.Row, n.Col))
}

// NameNode is a bare or qualified identifier. unqualified it names an
// alias on the reader's worksheet. qualified with a worksheet name it
// names an alias there, otherwise Sheet is an external object and Name
// one of its properties.
type NameNode struct {
	Sheet    string
	Name     string
	Position NodePosition
}

func (n *NameNode) GetPosition() NodePosition {
	return n.Position
}

func (n *NameNode) ToString() string {
	return Qualify(n.Sheet, n.Name)
}

// RangeEndpoint is one corner of a range: a cell or an alias
type RangeEndpoint struct {
	Name   string
	Row    uint32
	Col    uint32
	IsName bool
}

func (e RangeEndpoint) String() string {
	if e.IsName {
		return e.Name
	}
	return FormatA1(e.Row, e.Col)
}

// RangeNode represents a rectangle of cells on one worksheet
type RangeNode struct {
	Sheet    string
	Start    RangeEndpoint
	End      RangeEndpoint
	Position NodePosition
}

func (n *RangeNode) GetPosition() NodePosition {
	return n.Position
}

func (n *RangeNode) ToString() string {
	return Qualify(n.Sheet, n.Start.String()+":"+n.End.String())
}

// BinaryOpNode represents a binary operation
type BinaryOpNode struct {
	Op       BinaryOp
	Left     ASTNode
	Right    ASTNode
	Position NodePosition
}

func (n *BinaryOpNode) GetPosition() NodePosition {
	return n.Position
}

var binaryOpStrings = map[BinaryOp]string{
	BinOpAdd:          "+",
	BinOpSubtract:     "-",
	BinOpMultiply:     "*",
	BinOpDivide:       "/",
	BinOpModulo:       "%",
	BinOpPower:        "^",
	BinOpConcat:       "&",
	BinOpEqual:        "=",
	BinOpNotEqual:     "<>",
	BinOpLess:         "<",
	BinOpLessEqual:    "<=",
	BinOpGreater:      ">",
	BinOpGreaterEqual: ">=",
	BinOpAnd:          "&&",
	BinOpOr:           "||",
}

func (n *BinaryOpNode) ToString() string {
	return fmt.Sprintf("(%s%s%s)", n.Left.ToString(), binaryOpStrings[n.Op], n.Right.ToString())
}

// UnaryOpNode represents a unary operation
type UnaryOpNode struct {
	Op       UnaryOp
	Operand  ASTNode
	Position NodePosition
}

func (n *UnaryOpNode) GetPosition() NodePosition {
	return n.Position
}

func (n *UnaryOpNode) ToString() string {
	opStr := ""
	switch n.Op {
	case UnaryOpPlus:
		opStr = "+"
	case UnaryOpMinus:
		opStr = "-"
	case UnaryOpNot:
		opStr = "!"
	}
	return fmt.Sprintf("%s%s", opStr, n.Operand.ToString())
}

// FunctionCallNode represents a function call
type FunctionCallNode struct {
	Name     string
	Args     []ASTNode
	Position NodePosition
}

func (n *FunctionCallNode) GetPosition() NodePosition {
	return n.Position
}

func (n *FunctionCallNode) ToString() string {
	args := make([]string, len(n.Args))
	for i, arg := range n.Args {
		args[i] = arg.ToString()
	}
	return fmt.Sprintf("%s(%s)", n.Name, strings.Join(args, ","))
}

// NewParser creates a new parser with the given tokens
func NewParser(tokens []Token) *Parser {
	return &Parser{
		tokens: tokens,
		pos:    0,
	}
}

// ParseExpression lexes and parses expression source starting with '='
func ParseExpression(source string) (ASTNode, error) {
	tokens, err := NewLexer(source).Tokenize()
	if err != nil {
		return nil, err
	}
	return NewParser(tokens).Parse()
}

// ParseReference parses a bare reference such as "Sheet1.A1",
// "'My sheet'.B2:C4" or "total". the result is a *CellRefNode,
// *NameNode or *RangeNode.
func ParseReference(input string) (ASTNode, error) {
	tokens, err := NewLexerForReference(input).Tokenize()
	if err != nil {
		return nil, err
	}
	p := NewParser(tokens)
	node, err := p.parseReference()
	if err != nil {
		return nil, err
	}
	if !p.atEnd() {
		return nil, newSyntaxError(p.current().Pos, "unexpected token %q after reference", p.current().Value)
	}
	return node, nil
}

// Parse parses the tokens into an AST
func (p *Parser) Parse() (ASTNode, error) {
	if len(p.tokens) == 0 {
		return nil, newSyntaxError(0, "no tokens to parse")
	}

	// expect and skip the equals prefix
	if p.tokens[p.pos].Type != TokenEquals {
		return nil, newSyntaxError(p.tokens[p.pos].Pos, "expression must start with '='")
	}
	p.pos++

	node, err := p.parseOr()
	if err != nil {
		return nil, err
	}

	if !p.atEnd() {
		return nil, newSyntaxError(p.current().Pos, "unexpected token after expression: %s", p.current().Value)
	}

	return node, nil
}

func (p *Parser) current() Token {
	if p.pos >= len(p.tokens) {
		return Token{Type: TokenEOF}
	}
	return p.tokens[p.pos]
}

func (p *Parser) atEnd() bool {
	return p.current().Type == TokenEOF
}

// binaryLevel parses one left-associative precedence level
func (p *Parser) binaryLevel(next func() (ASTNode, error), ops map[string]BinaryOp) (ASTNode, error) {
	left, err := next()
	if err != nil {
		return nil, err
	}

	for {
		tok := p.current()
		if tok.Type != TokenBinaryOp {
			break
		}
		op, ok := ops[tok.Value]
		if !ok {
			break
		}

		p.pos++
		right, err := next()
		if err != nil {
			return nil, err
		}

		left = &BinaryOpNode{
			Op:       op,
			Left:     left,
			Right:    right,
			Position: NodePosition{Start: left.GetPosition().Start, End: right.GetPosition().End},
		}
	}

	return left, nil
}

var (
	orOps             = map[string]BinaryOp{"||": BinOpOr}
	andOps            = map[string]BinaryOp{"&&": BinOpAnd}
	concatOps         = map[string]BinaryOp{"&": BinOpConcat}
	additionOps       = map[string]BinaryOp{"+": BinOpAdd, "-": BinOpSubtract}
	multiplicationOps = map[string]BinaryOp{"*": BinOpMultiply, "/": BinOpDivide, "%": BinOpModulo}
	comparisonOps     = map[string]BinaryOp{
		"=":  BinOpEqual,
		"==": BinOpEqual,
		"<>": BinOpNotEqual,
		"!=": BinOpNotEqual,
		"<":  BinOpLess,
		"<=": BinOpLessEqual,
		">":  BinOpGreater,
		">=": BinOpGreaterEqual,
	}
)

// parseOr handles || (lowest precedence)
func (p *Parser) parseOr() (ASTNode, error) {
	return p.binaryLevel(p.parseAnd, orOps)
}

// parseAnd handles &&
func (p *Parser) parseAnd() (ASTNode, error) {
	return p.binaryLevel(p.parseComparison, andOps)
}

// parseComparison handles comparison operators
func (p *Parser) parseComparison() (ASTNode, error) {
	return p.binaryLevel(p.parseConcatenation, comparisonOps)
}

// parseConcatenation handles string concatenation operator
func (p *Parser) parseConcatenation() (ASTNode, error) {
	return p.binaryLevel(p.parseAddition, concatOps)
}

// parseAddition handles addition and subtraction
func (p *Parser) parseAddition() (ASTNode, error) {
	return p.binaryLevel(p.parseMultiplication, additionOps)
}

// parseMultiplication handles multiplication, division, and modulo
func (p *Parser) parseMultiplication() (ASTNode, error) {
	return p.binaryLevel(p.parsePower, multiplicationOps)
}

// parsePower handles exponentiation. the base binds unary operators first,
// so -2^2 is (-2)^2.
func (p *Parser) parsePower() (ASTNode, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}

	// right-associative
	if tok := p.current(); tok.Type == TokenBinaryOp && tok.Value == "^" {
		p.pos++
		right, err := p.parsePower()
		if err != nil {
			return nil, err
		}

		return &BinaryOpNode{
			Op:       BinOpPower,
			Left:     left,
			Right:    right,
			Position: NodePosition{Start: left.GetPosition().Start, End: right.GetPosition().End},
		}, nil
	}

	return left, nil
}

// parseUnary handles unary operators
func (p *Parser) parseUnary() (ASTNode, error) {
	tok := p.current()
	if tok.Type != TokenUnaryOp {
		return p.parsePrimary()
	}

	var op UnaryOp
	switch tok.Value {
	case "+":
		op = UnaryOpPlus
	case "-":
		op = UnaryOpMinus
	case "!":
		op = UnaryOpNot
	default:
		return nil, newSyntaxError(tok.Pos, "unknown unary operator %q", tok.Value)
	}

	p.pos++
	operand, err := p.parseUnary() // recurse for chained unary operators
	if err != nil {
		return nil, err
	}

	return &UnaryOpNode{
		Op:       op,
		Operand:  operand,
		Position: NodePosition{Start: tok.Pos, End: operand.GetPosition().End},
	}, nil
}

// parsePrimary handles primary expressions (literals, references,
// functions, parentheses)
func (p *Parser) parsePrimary() (ASTNode, error) {
	tok := p.current()

	switch tok.Type {
	case TokenNumber:
		p.pos++
		val, err := strconv.ParseFloat(tok.Value, 64)
		if err != nil {
			return nil, newSyntaxError(tok.Pos, "invalid number: %s", tok.Value)
		}
		return &NumberNode{
			Value:    val,
			Position: NodePosition{Start: tok.Pos, End: tok.Pos + utf8.RuneCountInString(tok.Value)},
		}, nil

	case TokenString:
		p.pos++
		return &StringNode{
			Value:    tok.Value,
			Position: NodePosition{Start: tok.Pos, End: tok.Pos + utf8.RuneCountInString(tok.Value) + 2}, // +2 for quotes
		}, nil

	case TokenBoolean:
		p.pos++
		return &BooleanNode{
			Value:    tok.Value == "TRUE",
			Position: NodePosition{Start: tok.Pos, End: tok.Pos + len(tok.Value)},
		}, nil

	case TokenErrorValue:
		p.pos++
		code, ok := errorCodeByName(tok.Value)
		if !ok {
			return nil, newSyntaxError(tok.Pos, "unknown error value %s", tok.Value)
		}
		return &ErrorNode{
			Code:     code,
			Position: NodePosition{Start: tok.Pos, End: tok.Pos + utf8.RuneCountInString(tok.Value)},
		}, nil

	case TokenCell, TokenIdentifier, TokenQuotedName:
		return p.parseReference()

	case TokenFunction:
		return p.parseFunctionCall()

	case TokenLeftParen:
		p.pos++
		node, err := p.parseOr()
		if err != nil {
			return nil, err
		}

		if p.current().Type != TokenRightParen {
			return nil, newSyntaxError(p.current().Pos, "expected closing parenthesis")
		}
		p.pos++

		return node, nil

	case TokenEOF:
		return nil, newSyntaxError(tok.Pos, "unexpected end of expression")

	default:
		return nil, newSyntaxError(tok.Pos, "unexpected token: %s", tok.Value)
	}
}

// parseQualifier consumes "Name." or "'Quoted name'." when present and
// returns the worksheet (or object) name
func (p *Parser) parseQualifier() (string, bool) {
	tok := p.current()
	if tok.Type != TokenCell && tok.Type != TokenIdentifier && tok.Type != TokenQuotedName {
		return "", false
	}
	if p.pos+1 >= len(p.tokens) || p.tokens[p.pos+1].Type != TokenDot {
		return "", false
	}
	p.pos += 2
	return NormalizeName(tok.Value), true
}

// parseEndpoint consumes a cell or identifier
func (p *Parser) parseEndpoint() (RangeEndpoint, Token, error) {
	tok := p.current()
	switch tok.Type {
	case TokenCell:
		row, col, err := ParseA1(tok.Value)
		if err != nil {
			return RangeEndpoint{}, tok, newSyntaxError(tok.Pos, "invalid cell reference %q", tok.Value)
		}
		p.pos++
		return RangeEndpoint{Row: row, Col: col}, tok, nil
	case TokenIdentifier:
		p.pos++
		return RangeEndpoint{Name: NormalizeName(tok.Value), IsName: true}, tok, nil
	case TokenEOF:
		return RangeEndpoint{}, tok, newSyntaxError(tok.Pos, "unexpected end of reference")
	default:
		return RangeEndpoint{}, tok, newSyntaxError(tok.Pos, "expected a cell or name, got %q", tok.Value)
	}
}

// parseReference parses [qualifier.]endpoint[:[qualifier.]endpoint]
func (p *Parser) parseReference() (ASTNode, error) {
	startTok := p.current()
	sheet, qualified := p.parseQualifier()
	if !qualified && startTok.Type == TokenQuotedName {
		return nil, newSyntaxError(startTok.Pos, "worksheet name must be followed by '.'")
	}

	start, tok, err := p.parseEndpoint()
	if err != nil {
		return nil, err
	}
	end := tok.Pos + utf8.RuneCountInString(tok.Value)

	if p.current().Type != TokenColon {
		if start.IsName {
			return &NameNode{
				Sheet:    sheet,
				Name:     start.Name,
				Position: NodePosition{Start: startTok.Pos, End: end},
			}, nil
		}
		return &CellRefNode{
			Sheet:    sheet,
			Row:      start.Row,
			Col:      start.Col,
			Position: NodePosition{Start: startTok.Pos, End: end},
		}, nil
	}

	colonTok := p.current()
	p.pos++

	endSheet, endQualified := p.parseQualifier()
	if endQualified && endSheet != sheet {
		return nil, newSyntaxError(colonTok.Pos, "cross-worksheet ranges are not supported")
	}

	finish, tok, err := p.parseEndpoint()
	if err != nil {
		return nil, err
	}
	end = tok.Pos + utf8.RuneCountInString(tok.Value)

	return &RangeNode{
		Sheet:    sheet,
		Start:    start,
		End:      finish,
		Position: NodePosition{Start: startTok.Pos, End: end},
	}, nil
}

// parseFunctionCall parses a function call
func (p *Parser) parseFunctionCall() (ASTNode, error) {
	funcTok := p.current()
	funcName := funcTok.Value
	startPos := funcTok.Pos
	p.pos++

	// expect opening parenthesis
	if p.current().Type != TokenLeftParen {
		return nil, newSyntaxError(p.current().Pos, "expected '(' after function name")
	}
	p.pos++

	args := []ASTNode{}

	// check for empty argument list
	if p.current().Type == TokenRightParen {
		p.pos++
		return &FunctionCallNode{
			Name:     funcName,
			Args:     args,
			Position: NodePosition{Start: startPos, End: p.tokens[p.pos-1].Pos + 1},
		}, nil
	}

	for {
		arg, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)

		tok := p.current()
		if tok.Type == TokenRightParen {
			p.pos++
			break
		}
		if tok.Type != TokenComma {
			return nil, newSyntaxError(tok.Pos, "expected ',' or ')' in function arguments")
		}
		p.pos++
	}

	return &FunctionCallNode{
		Name:     funcName,
		Args:     args,
		Position: NodePosition{Start: startPos, End: p.tokens[p.pos-1].Pos + 1},
	}, nil
}

// formatNumber renders a number without unnecessary decimals
func formatNumber(v float64) string {
	if v == float64(int64(v)) && v > -1e15 && v < 1e15 {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}
