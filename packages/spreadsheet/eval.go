package spreadsheet

import (
	"fmt"
	"math"
	"strings"

	"golang.org/x/text/cases"
)

// evalContext carries what an expression needs while it is evaluated: the
// engine, the worksheet that unqualified references resolve against, and the
// cell being computed (if any).
type evalContext struct {
	s         *Spreadsheet
	sheetID   uint32
	reader    CellAddress
	hasReader bool
}

func newEvalContext(s *Spreadsheet, reader CellAddress) *evalContext {
	return &evalContext{
		s:         s,
		sheetID:   reader.WorksheetID,
		reader:    reader,
		hasReader: true,
	}
}

// resolveSheet maps a reference qualifier to a worksheet ID. an empty
// qualifier is the current worksheet.
func (ec *evalContext) resolveSheet(name string) (uint32, bool) {
	if name == "" {
		return ec.sheetID, ec.sheetID != 0
	}
	return ec.s.storage.worksheets.GetWorksheetID(name)
}

// evalOperand evaluates a node and turns evaluation errors into error values
func evalOperand(ec *evalContext, node ASTNode) Primitive {
	val, err := node.Eval(ec)
	if err != nil {
		if spreadsheetErr, ok := err.(*SpreadsheetError); ok {
			return spreadsheetErr
		}
		return NewSpreadsheetError(ErrorCodeValue, err.Error())
	}
	return val
}

// scalar rejects range values outside of aggregate functions
func scalar(val Primitive) Primitive {
	if r, ok := val.(Range); ok {
		return newKindValue(ErrorCodeValue, KindRangeInScalarContext,
			fmt.Sprintf("range %s used where a single value is expected", r.GetBounds().A1()))
	}
	return val
}

// normalizeValue converts host supplied values to the primitive types the
// evaluator works with
func normalizeValue(val any) Primitive {
	switch v := val.(type) {
	case int:
		return float64(v)
	case int32:
		return float64(v)
	case int64:
		return float64(v)
	case uint32:
		return float64(v)
	case float32:
		return float64(v)
	default:
		return v
	}
}

func (n *StringNode) Eval(ec *evalContext) (Primitive, error) {
	return n.Value, nil
}

func (n *NumberNode) Eval(ec *evalContext) (Primitive, error) {
	return n.Value, nil
}

func (n *BooleanNode) Eval(ec *evalContext) (Primitive, error) {
	return n.Value, nil
}

func (n *ErrorNode) Eval(ec *evalContext) (Primitive, error) {
	return NewSpreadsheetError(n.Code, ""), nil
}

func (n *CellRefNode) Eval(ec *evalContext) (Primitive, error) {
	worksheetID, ok := ec.resolveSheet(n.Sheet)
	if !ok {
		return nil, NewSpreadsheetError(ErrorCodeRef, fmt.Sprintf("unknown worksheet %q", n.Sheet))
	}
	return ec.s.readCell(CellAddress{WorksheetID: worksheetID, Row: n.Row, Column: n.Col}), nil
}

func (n *NameNode) Eval(ec *evalContext) (Primitive, error) {
	if n.Sheet == "" {
		addr, err := ec.s.resolveAliasIn(ec.sheetID, n.Name)
		if err != nil {
			return nil, err
		}
		return ec.s.readCell(addr), nil
	}

	if worksheetID, ok := ec.s.storage.worksheets.GetWorksheetID(n.Sheet); ok {
		addr, err := ec.s.resolveAliasIn(worksheetID, n.Name)
		if err != nil {
			return nil, err
		}
		return ec.s.readCell(addr), nil
	}

	// not a worksheet, so Sheet.Name may be an object property
	if ec.s.host != nil && ec.s.host.HasObject(n.Sheet) {
		value, exists := ec.s.host.Property(n.Sheet, n.Name)
		if !exists {
			return nil, NewSpreadsheetError(ErrorCodeName, fmt.Sprintf("unknown property %s.%s", n.Sheet, n.Name))
		}
		return normalizeValue(value), nil
	}

	return nil, NewSpreadsheetError(ErrorCodeRef, fmt.Sprintf("unknown worksheet or object %q", n.Sheet))
}

func (n *RangeNode) Eval(ec *evalContext) (Primitive, error) {
	bounds, err := ec.s.resolveRangeNode(n, ec.sheetID)
	if err != nil {
		return nil, err
	}
	return &CellRange{bounds: bounds, s: ec.s}, nil
}

func (n *BinaryOpNode) Eval(ec *evalContext) (Primitive, error) {
	leftVal := scalar(evalOperand(ec, n.Left))
	if err, ok := leftVal.(*SpreadsheetError); ok {
		return err, nil
	}

	// && and || only look at the right side when they have to
	switch n.Op {
	case BinOpAnd:
		if !isTruthy(leftVal) {
			return false, nil
		}
		rightVal := scalar(evalOperand(ec, n.Right))
		if err, ok := rightVal.(*SpreadsheetError); ok {
			return err, nil
		}
		return isTruthy(rightVal), nil
	case BinOpOr:
		if isTruthy(leftVal) {
			return true, nil
		}
		rightVal := scalar(evalOperand(ec, n.Right))
		if err, ok := rightVal.(*SpreadsheetError); ok {
			return err, nil
		}
		return isTruthy(rightVal), nil
	}

	rightVal := scalar(evalOperand(ec, n.Right))
	if err, ok := rightVal.(*SpreadsheetError); ok {
		return err, nil
	}

	switch n.Op {
	case BinOpAdd, BinOpSubtract, BinOpMultiply, BinOpDivide, BinOpModulo, BinOpPower:
		return evalArithmetic(n.Op, leftVal, rightVal)

	case BinOpConcat:
		return toString(leftVal) + toString(rightVal), nil

	case BinOpEqual:
		return comparePrimitives(leftVal, rightVal) == 0, nil
	case BinOpNotEqual:
		return comparePrimitives(leftVal, rightVal) != 0, nil
	case BinOpLess:
		return comparePrimitives(leftVal, rightVal) < 0, nil
	case BinOpLessEqual:
		return comparePrimitives(leftVal, rightVal) <= 0, nil
	case BinOpGreater:
		return comparePrimitives(leftVal, rightVal) > 0, nil
	case BinOpGreaterEqual:
		return comparePrimitives(leftVal, rightVal) >= 0, nil

	default:
		return nil, NewSpreadsheetError(ErrorCodeValue, "unknown operator")
	}
}

// evalArithmetic applies a numeric operator after coercing both operands
func evalArithmetic(op BinaryOp, leftVal, rightVal Primitive) (Primitive, error) {
	leftNum, leftOk := toNumber(leftVal)
	rightNum, rightOk := toNumber(rightVal)
	if !leftOk || !rightOk {
		return nil, newKindValue(ErrorCodeValue, KindTypeMismatch,
			fmt.Sprintf("operator %s requires numeric operands", binaryOpStrings[op]))
	}

	var result float64
	switch op {
	case BinOpAdd:
		result = leftNum + rightNum
	case BinOpSubtract:
		result = leftNum - rightNum
	case BinOpMultiply:
		result = leftNum * rightNum
	case BinOpDivide:
		if rightNum == 0 {
			return nil, NewSpreadsheetError(ErrorCodeDiv0, "division by zero")
		}
		result = leftNum / rightNum
	case BinOpModulo:
		if rightNum == 0 {
			return nil, NewSpreadsheetError(ErrorCodeDiv0, "division by zero")
		}
		// result takes the sign of the divisor
		result = leftNum - rightNum*math.Floor(leftNum/rightNum)
	case BinOpPower:
		result = math.Pow(leftNum, rightNum)
	}
	return numberResult(result)
}

// numberResult maps NaN and infinities to #NUM!
func numberResult(v float64) (Primitive, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, NewSpreadsheetError(ErrorCodeNum, "result is not a finite number")
	}
	return v, nil
}

func (n *UnaryOpNode) Eval(ec *evalContext) (Primitive, error) {
	val := scalar(evalOperand(ec, n.Operand))
	if err, ok := val.(*SpreadsheetError); ok {
		return err, nil
	}

	switch n.Op {
	case UnaryOpPlus:
		num, ok := toNumber(val)
		if !ok {
			return nil, newKindValue(ErrorCodeValue, KindTypeMismatch, "unary plus requires a numeric value")
		}
		return num, nil

	case UnaryOpMinus:
		num, ok := toNumber(val)
		if !ok {
			return nil, newKindValue(ErrorCodeValue, KindTypeMismatch, "negation requires a numeric value")
		}
		return -num, nil

	case UnaryOpNot:
		return !isTruthy(val), nil

	default:
		return nil, NewSpreadsheetError(ErrorCodeValue, "unknown unary operator")
	}
}

func (n *FunctionCallNode) Eval(ec *evalContext) (Primitive, error) {
	switch n.Name {
	case "IF":
		return n.evalIf(ec)
	case "AND", "OR":
		return n.evalLogical(ec, n.Name == "AND")
	}

	custom, isCustom := ec.s.functions.Custom(n.Name)
	aggregate := aggregateFunctions[n.Name]

	args := make([]any, len(n.Args))
	for i, argNode := range n.Args {
		argVal := evalOperand(ec, argNode)
		// ranges survive only where the callee can iterate them
		if !aggregate && !isCustom {
			argVal = scalar(argVal)
		}
		args[i] = argVal
	}

	var (
		result Primitive
		err    error
	)
	if isCustom {
		result, err = custom(args...)
		result = normalizeValue(result)
	} else {
		result, err = ec.s.functions.Call(n.Name, args...)
	}
	if err != nil {
		if spreadsheetErr, ok := err.(*SpreadsheetError); ok {
			return nil, spreadsheetErr
		}
		return nil, NewSpreadsheetError(ErrorCodeValue, err.Error())
	}
	if num, ok := result.(float64); ok {
		return numberResult(num)
	}
	return result, nil
}

// evalIf evaluates only the branch selected by the condition
func (n *FunctionCallNode) evalIf(ec *evalContext) (Primitive, error) {
	if len(n.Args) < 2 || len(n.Args) > 3 {
		return nil, NewSpreadsheetError(ErrorCodeNA, "IF requires 2 or 3 arguments")
	}
	condition := scalar(evalOperand(ec, n.Args[0]))
	if err := checkForError(condition); err != nil {
		return nil, err
	}
	if isTruthy(condition) {
		return scalar(evalOperand(ec, n.Args[1])), nil
	}
	if len(n.Args) == 3 {
		return scalar(evalOperand(ec, n.Args[2])), nil
	}
	return false, nil
}

// evalLogical implements AND and OR, stopping at the first argument that
// decides the result
func (n *FunctionCallNode) evalLogical(ec *evalContext, all bool) (Primitive, error) {
	if len(n.Args) == 0 {
		return nil, NewSpreadsheetError(ErrorCodeNA, fmt.Sprintf("%s requires at least 1 argument", n.Name))
	}
	for _, argNode := range n.Args {
		arg := scalar(evalOperand(ec, argNode))
		if err := checkForError(arg); err != nil {
			return nil, err
		}
		if isTruthy(arg) != all {
			return !all, nil
		}
	}
	return all, nil
}

// typeRank orders value types: empty < number < string < boolean
func typeRank(v Primitive) int {
	switch v.(type) {
	case nil:
		return 0
	case float64:
		return 1
	case string:
		return 2
	case bool:
		return 3
	default:
		return 4
	}
}

// comparePrimitives returns -1, 0 or 1. values of different types order by
// type, except that an empty value takes the zero value of the other side.
// strings compare without regard to case.
func comparePrimitives(left, right Primitive) int {
	if left == nil && right != nil {
		left = zeroLike(right)
	}
	if right == nil && left != nil {
		right = zeroLike(left)
	}

	leftRank, rightRank := typeRank(left), typeRank(right)
	if leftRank != rightRank {
		if leftRank < rightRank {
			return -1
		}
		return 1
	}

	switch l := left.(type) {
	case nil:
		return 0
	case float64:
		r := right.(float64)
		if l < r {
			return -1
		} else if l > r {
			return 1
		}
		return 0
	case string:
		fold := cases.Fold()
		return strings.Compare(fold.String(l), fold.String(right.(string)))
	case bool:
		r := right.(bool)
		if l == r {
			return 0
		} else if !l && r {
			return -1
		}
		return 1
	default:
		return strings.Compare(toString(left), toString(right))
	}
}

// zeroLike returns the zero value of v's type
func zeroLike(v Primitive) Primitive {
	switch v.(type) {
	case float64:
		return 0.0
	case string:
		return ""
	case bool:
		return false
	default:
		return nil
	}
}
