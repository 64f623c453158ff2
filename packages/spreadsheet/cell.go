package spreadsheet

// Primitive represents basic cell value types.
// types:
//   - float64: numeric values (integers are converted to float64)
//   - string: text values
//   - bool: boolean values (TRUE/FALSE)
//   - nil: empty cells
//   - *SpreadsheetError: error values (#REF!, #VALUE!, etc.)
type Primitive any

// ErrorCode represents the error values a cell can hold
type ErrorCode uint8

const (
	ErrorCodeNull     ErrorCode = 1 // #NULL! - no cells in common between ranges
	ErrorCodeDiv0     ErrorCode = 2 // #DIV/0! - division by zero
	ErrorCodeValue    ErrorCode = 3 // #VALUE! - wrong type of argument or operand
	ErrorCodeRef      ErrorCode = 4 // #REF! - invalid cell reference
	ErrorCodeName     ErrorCode = 5 // #NAME? - unknown alias or function
	ErrorCodeNum      ErrorCode = 6 // #NUM! - number too large or small to be represented
	ErrorCodeNA       ErrorCode = 7 // #N/A - wrong number of function arguments
	ErrorCodeOther    ErrorCode = 8 // #ERROR! - all other errors
	ErrorCodeCircular ErrorCode = 9 // #CIRCULAR! - cell takes part in a reference cycle
)

// ErrorMapper maps error code numbers to their string representations
var ErrorMapper = map[ErrorCode]string{
	ErrorCodeNull:     "#NULL!",
	ErrorCodeDiv0:     "#DIV/0!",
	ErrorCodeValue:    "#VALUE!",
	ErrorCodeRef:      "#REF!",
	ErrorCodeName:     "#NAME?",
	ErrorCodeNum:      "#NUM!",
	ErrorCodeNA:       "#N/A",
	ErrorCodeOther:    "#ERROR!",
	ErrorCodeCircular: "#CIRCULAR!",
}

// errorCodeByName maps a displayed error value such as "#REF!" back to
// its code
func errorCodeByName(name string) (ErrorCode, bool) {
	for code, text := range ErrorMapper {
		if text == name {
			return code, true
		}
	}
	return 0, false
}

// SpreadsheetError is an error value stored in a cell. Kind records the
// structural reason when there is one (type mismatch, range in scalar
// context, circular reference).
type SpreadsheetError struct {
	ErrorCode ErrorCode
	Kind      ErrorKind
	Message   string
}

func (e *SpreadsheetError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return ErrorMapper[e.ErrorCode]
}

// String renders the error the way a cell displays it
func (e *SpreadsheetError) String() string {
	return ErrorMapper[e.ErrorCode]
}

func NewSpreadsheetError(code ErrorCode, message string) *SpreadsheetError {
	if message == "" {
		message = ErrorMapper[code]
	}
	return &SpreadsheetError{
		ErrorCode: code,
		Message:   message,
	}
}

// FormatValue renders a cell value as text: numbers without a trailing
// ".0", booleans as TRUE/FALSE, errors as "#REF!" and empty as ""
func FormatValue(value Primitive) string {
	return toString(value)
}

func newKindValue(code ErrorCode, kind ErrorKind, message string) *SpreadsheetError {
	err := NewSpreadsheetError(code, message)
	err.Kind = kind
	return err
}

// CellState tracks where a cell is in the recompute lifecycle
type CellState uint8

const (
	CellClean CellState = iota
	CellDirty
	CellEvaluating
	CellError
)

func (s CellState) String() string {
	switch s {
	case CellClean:
		return "clean"
	case CellDirty:
		return "dirty"
	case CellEvaluating:
		return "evaluating"
	case CellError:
		return "error"
	default:
		return "unknown"
	}
}

// ContentKind is what the user put into a cell
type ContentKind uint8

const (
	ContentEmpty ContentKind = iota
	ContentLiteral
	ContentExpression
	ContentBound
)

// CellID is a stable handle into a worksheet's cell arena
type CellID uint32

// Cell is one slot of a worksheet's arena
type Cell struct {
	Row       uint32      // zero-based row index
	Col       uint32      // zero-based column index
	Kind      ContentKind // what the cell holds
	Literal   Primitive   // value for literal cells
	Source    string      // expression text including the leading '='
	FormulaID uint32      // formula table ID for expression cells
	BindingID uint32      // owning binding for bound cells
	Value     Primitive   // cached computed value
	State     CellState   // recompute state
	Stale     bool        // cached value predates the current content
	ParseErr  *AppError   // set while the expression fails to parse
	DisplayID uint32      // interned display attributes, 0 for none
}

// isEmpty reports whether the slot can be treated as deleted
func (c *Cell) isEmpty() bool {
	return c.Kind == ContentEmpty && c.DisplayID == 0
}

// needsEvaluation reports whether the cell's value comes from recompute
func (c *Cell) needsEvaluation() bool {
	return c.Kind == ContentExpression || c.Kind == ContentBound
}

// cellSnapshot keeps the user content of a cell so it can be restored
type cellSnapshot struct {
	Kind    ContentKind
	Literal Primitive
	Source  string
}

// CellInfo is a read-only view of a cell for callers outside the engine
type CellInfo struct {
	Address string
	Content string
	Kind    ContentKind
	Value   Primitive
	State   CellState
	Stale   bool
	Alias   string
	Display Display
	// SyntaxErr is set while Content does not parse. Value then holds the
	// last value the cell had, if any.
	SyntaxErr error
}
