package spreadsheet

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Function is a host supplied spreadsheet function. arguments are scalar
// primitives or Range values; a returned *SpreadsheetError becomes the
// cell's error value.
type Function func(args ...any) (Primitive, error)

// BuiltInFunctions contains all spreadsheet built-in functions plus the
// functions registered by the host
type BuiltInFunctions struct {
	custom map[string]Function
}

// aggregateFunctions accept ranges as arguments. every other function sees
// a range argument as #VALUE!.
var aggregateFunctions = map[string]bool{
	"SUM":      true,
	"AVERAGE":  true,
	"AVERAGEA": true,
	"COUNT":    true,
	"COUNTA":   true,
	"MAX":      true,
	"MIN":      true,
	"MEDIAN":   true,
	"MODE":     true,
	"PRODUCT":  true,
}

var builtinNames = map[string]bool{
	"IF": true, "AND": true, "OR": true, "NOT": true,
	"CONCATENATE": true, "LEN": true, "UPPER": true, "LOWER": true, "PROPER": true, "TRIM": true,
	"ABS": true, "ROUND": true, "FLOOR": true, "CEILING": true, "SQRT": true, "POWER": true, "MOD": true, "PI": true,
}

func init() {
	for name := range aggregateFunctions {
		builtinNames[name] = true
	}
}

// checkForError returns the error if value is a *SpreadsheetError, nil otherwise
func checkForError(value Primitive) *SpreadsheetError {
	if err, ok := value.(*SpreadsheetError); ok {
		return err
	}
	return nil
}

// NewDefaultBuiltInFunctions creates a function table without host functions
func NewDefaultBuiltInFunctions() *BuiltInFunctions {
	return &BuiltInFunctions{
		custom: make(map[string]Function),
	}
}

// Register adds a host function. names follow the identifier grammar, are
// case-insensitive and may not shadow a built-in.
func (bf *BuiltInFunctions) Register(name string, fn Function) error {
	if fn == nil {
		return NewApplicationError(InvalidArgument, "function must not be nil")
	}
	if !isIdentifier(name) {
		return newKindError(KindInvalidName, "invalid function name %q", name)
	}
	upper := strings.ToUpper(name)
	if builtinNames[upper] {
		return newKindError(KindAlreadyExists, "function %s is built in", upper)
	}
	bf.custom[upper] = fn
	return nil
}

// Custom looks up a host function
func (bf *BuiltInFunctions) Custom(name string) (Function, bool) {
	fn, ok := bf.custom[strings.ToUpper(name)]
	return fn, ok
}

// Names returns the names of every callable function, sorted
func (bf *BuiltInFunctions) Names() []string {
	names := make([]string, 0, len(builtinNames)+len(bf.custom))
	for name := range builtinNames {
		names = append(names, name)
	}
	for name := range bf.custom {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Call invokes a built-in function by name with the given arguments. IF,
// AND and OR are evaluated lazily by the evaluator and never reach here.
func (bf *BuiltInFunctions) Call(name string, args ...any) (Primitive, error) {
	switch strings.ToUpper(name) {
	case "SUM":
		return bf.SUM(args...)
	case "AVERAGE":
		return bf.AVERAGE(args...)
	case "AVERAGEA":
		return bf.AVERAGEA(args...)
	case "COUNT":
		return bf.COUNT(args...)
	case "COUNTA":
		return bf.COUNTA(args...)
	case "MAX":
		return bf.MAX(args...)
	case "MIN":
		return bf.MIN(args...)
	case "MEDIAN":
		return bf.MEDIAN(args...)
	case "MODE":
		return bf.MODE(args...)
	case "PRODUCT":
		return bf.PRODUCT(args...)
	case "NOT":
		return bf.NOT(args...)
	case "CONCATENATE":
		return bf.CONCATENATE(args...)
	case "LEN":
		return bf.LEN(args...)
	case "UPPER":
		return bf.UPPER(args...)
	case "LOWER":
		return bf.LOWER(args...)
	case "PROPER":
		return bf.PROPER(args...)
	case "TRIM":
		return bf.TRIM(args...)
	case "ABS":
		return bf.ABS(args...)
	case "ROUND":
		return bf.ROUND(args...)
	case "FLOOR":
		return bf.FLOOR(args...)
	case "CEILING":
		return bf.CEILING(args...)
	case "SQRT":
		return bf.SQRT(args...)
	case "POWER":
		return bf.POWER(args...)
	case "MOD":
		return bf.MOD(args...)
	case "PI":
		return bf.PI(args...)
	default:
		return nil, NewSpreadsheetError(ErrorCodeName, fmt.Sprintf("unknown function: %s", name))
	}
}

// eachNumber feeds the numbers of an aggregate's arguments to fn. direct
// arguments are coerced and must be numeric. inside ranges only numeric
// cells count, and the first error value wins.
func eachNumber(name string, args []any, fn func(float64)) *SpreadsheetError {
	for _, arg := range args {
		if err := checkForError(arg); err != nil {
			return err
		}

		if r, ok := arg.(Range); ok {
			for value := range r.IterateValues() {
				if err := checkForError(value); err != nil {
					return err
				}
				if num, ok := value.(float64); ok {
					fn(num)
				}
			}
			continue
		}

		num, ok := toNumber(arg)
		if !ok {
			return newKindValue(ErrorCodeValue, KindTypeMismatch, fmt.Sprintf("%s requires numeric arguments", name))
		}
		fn(num)
	}
	return nil
}

func (bf *BuiltInFunctions) SUM(args ...any) (Primitive, error) {
	sum := 0.0
	if err := eachNumber("SUM", args, func(num float64) { sum += num }); err != nil {
		return nil, err
	}
	rounded, _ := strconv.ParseFloat(fmt.Sprintf("%.15f", sum), 64)
	return rounded, nil
}

func (bf *BuiltInFunctions) PRODUCT(args ...any) (Primitive, error) {
	product := 1.0
	count := 0
	err := eachNumber("PRODUCT", args, func(num float64) {
		product *= num
		count++
	})
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return 0.0, nil
	}
	return product, nil
}

func (bf *BuiltInFunctions) AVERAGE(args ...any) (Primitive, error) {
	sum := 0.0
	count := 0
	err := eachNumber("AVERAGE", args, func(num float64) {
		sum += num
		count++
	})
	if err != nil {
		return nil, err
	}

	if count == 0 {
		return nil, NewSpreadsheetError(ErrorCodeDiv0, "AVERAGE has no numeric values")
	}

	return sum / float64(count), nil
}

func (bf *BuiltInFunctions) AVERAGEA(args ...any) (Primitive, error) {
	sum := 0.0
	count := 0

	// AVERAGEA counts every non-empty value; text counts as 0 and
	// booleans as 1 or 0
	processValue := func(value Primitive) *SpreadsheetError {
		if value == nil {
			return nil
		}
		if err := checkForError(value); err != nil {
			return err
		}
		switch v := value.(type) {
		case float64:
			sum += v
		case bool:
			if v {
				sum++
			}
		}
		count++
		return nil
	}

	for _, arg := range args {
		if r, ok := arg.(Range); ok {
			for value := range r.IterateValues() {
				if err := processValue(value); err != nil {
					return nil, err
				}
			}
			continue
		}
		if err := processValue(arg); err != nil {
			return nil, err
		}
	}

	if count == 0 {
		return nil, NewSpreadsheetError(ErrorCodeDiv0, "AVERAGEA has no values")
	}

	return sum / float64(count), nil
}

func (bf *BuiltInFunctions) COUNT(args ...any) (Primitive, error) {
	count := 0

	for _, arg := range args {
		// direct error arguments propagate
		if err := checkForError(arg); err != nil {
			return nil, err
		}

		if r, ok := arg.(Range); ok {
			// errors inside a range are skipped, not propagated
			for value := range r.IterateValues() {
				if _, isNum := value.(float64); isNum {
					count++
				}
			}
			continue
		}
		if _, isNum := arg.(float64); isNum {
			count++
		}
	}

	return float64(count), nil
}

func (bf *BuiltInFunctions) COUNTA(args ...any) (Primitive, error) {
	count := 0

	for _, arg := range args {
		if err := checkForError(arg); err != nil {
			return nil, err
		}

		if r, ok := arg.(Range); ok {
			// error cells count as non-empty
			for value := range r.IterateValues() {
				if value != nil {
					count++
				}
			}
			continue
		}
		if arg != nil {
			count++
		}
	}

	return float64(count), nil
}

func (bf *BuiltInFunctions) MAX(args ...any) (Primitive, error) {
	max := math.Inf(-1)
	hasValues := false
	err := eachNumber("MAX", args, func(num float64) {
		max = math.Max(max, num)
		hasValues = true
	})
	if err != nil {
		return nil, err
	}
	if !hasValues {
		return 0.0, nil
	}
	return max, nil
}

func (bf *BuiltInFunctions) MIN(args ...any) (Primitive, error) {
	min := math.Inf(1)
	hasValues := false
	err := eachNumber("MIN", args, func(num float64) {
		min = math.Min(min, num)
		hasValues = true
	})
	if err != nil {
		return nil, err
	}
	if !hasValues {
		return 0.0, nil
	}
	return min, nil
}

func (bf *BuiltInFunctions) MEDIAN(args ...any) (Primitive, error) {
	var values []float64
	if err := eachNumber("MEDIAN", args, func(num float64) { values = append(values, num) }); err != nil {
		return nil, err
	}

	if len(values) == 0 {
		return nil, NewSpreadsheetError(ErrorCodeNum, "MEDIAN has no numeric values")
	}

	slices.Sort(values)
	mid := len(values) / 2
	if len(values)%2 == 0 {
		return (values[mid-1] + values[mid]) / 2, nil
	}
	return values[mid], nil
}

func (bf *BuiltInFunctions) MODE(args ...any) (Primitive, error) {
	frequencyMap := make(map[float64]int)
	if err := eachNumber("MODE", args, func(num float64) { frequencyMap[num]++ }); err != nil {
		return nil, err
	}

	if len(frequencyMap) == 0 {
		return nil, NewSpreadsheetError(ErrorCodeNum, "MODE has no numeric values")
	}

	maxFreq := 0
	for _, freq := range frequencyMap {
		maxFreq = max(maxFreq, freq)
	}
	if maxFreq == 1 {
		return nil, NewSpreadsheetError(ErrorCodeNA, "MODE: no value appears more than once")
	}

	// ties resolve to the smallest value
	var modes []float64
	for value, freq := range frequencyMap {
		if freq == maxFreq {
			modes = append(modes, value)
		}
	}
	return slices.Min(modes), nil
}

func (bf *BuiltInFunctions) NOT(args ...any) (Primitive, error) {
	if len(args) != 1 {
		return nil, NewSpreadsheetError(ErrorCodeNA, "NOT requires exactly 1 argument")
	}
	if err := checkForError(args[0]); err != nil {
		return nil, err
	}
	return !isTruthy(args[0]), nil
}

func (bf *BuiltInFunctions) CONCATENATE(args ...any) (Primitive, error) {
	var result strings.Builder
	for _, arg := range args {
		if err := checkForError(arg); err != nil {
			return nil, err
		}
		result.WriteString(toString(arg))
	}
	return result.String(), nil
}

// textArg checks the arity of a one-argument text function and returns
// its argument as a string
func textArg(name string, args []any) (string, *SpreadsheetError) {
	if len(args) != 1 {
		return "", NewSpreadsheetError(ErrorCodeNA, fmt.Sprintf("%s requires exactly 1 argument", name))
	}
	if err := checkForError(args[0]); err != nil {
		return "", err
	}
	return toString(args[0]), nil
}

func (bf *BuiltInFunctions) LEN(args ...any) (Primitive, error) {
	text, err := textArg("LEN", args)
	if err != nil {
		return nil, err
	}
	return float64(utf8.RuneCountInString(text)), nil
}

func (bf *BuiltInFunctions) UPPER(args ...any) (Primitive, error) {
	text, err := textArg("UPPER", args)
	if err != nil {
		return nil, err
	}
	return cases.Upper(language.Und).String(text), nil
}

func (bf *BuiltInFunctions) LOWER(args ...any) (Primitive, error) {
	text, err := textArg("LOWER", args)
	if err != nil {
		return nil, err
	}
	return cases.Lower(language.Und).String(text), nil
}

func (bf *BuiltInFunctions) PROPER(args ...any) (Primitive, error) {
	text, err := textArg("PROPER", args)
	if err != nil {
		return nil, err
	}
	return cases.Title(language.Und).String(text), nil
}

func (bf *BuiltInFunctions) TRIM(args ...any) (Primitive, error) {
	text, err := textArg("TRIM", args)
	if err != nil {
		return nil, err
	}
	return strings.Join(strings.Fields(text), " "), nil
}

// numericArgs checks arity and coerces every argument to a number
func numericArgs(name string, args []any, minArgs, maxArgs int) ([]float64, *SpreadsheetError) {
	if len(args) < minArgs || len(args) > maxArgs {
		if minArgs == maxArgs {
			return nil, NewSpreadsheetError(ErrorCodeNA, fmt.Sprintf("%s requires exactly %d argument(s)", name, minArgs))
		}
		return nil, NewSpreadsheetError(ErrorCodeNA, fmt.Sprintf("%s requires %d to %d arguments", name, minArgs, maxArgs))
	}
	nums := make([]float64, len(args))
	for i, arg := range args {
		if err := checkForError(arg); err != nil {
			return nil, err
		}
		num, ok := toNumber(arg)
		if !ok {
			return nil, newKindValue(ErrorCodeValue, KindTypeMismatch, fmt.Sprintf("%s requires numeric arguments", name))
		}
		nums[i] = num
	}
	return nums, nil
}

func (bf *BuiltInFunctions) ABS(args ...any) (Primitive, error) {
	nums, err := numericArgs("ABS", args, 1, 1)
	if err != nil {
		return nil, err
	}
	return math.Abs(nums[0]), nil
}

func (bf *BuiltInFunctions) ROUND(args ...any) (Primitive, error) {
	nums, err := numericArgs("ROUND", args, 1, 2)
	if err != nil {
		return nil, err
	}
	places := 0.0
	if len(nums) == 2 {
		places = math.Trunc(nums[1])
	}
	multiplier := math.Pow(10, places)
	return math.Round(nums[0]*multiplier) / multiplier, nil
}

func (bf *BuiltInFunctions) FLOOR(args ...any) (Primitive, error) {
	nums, err := numericArgs("FLOOR", args, 1, 1)
	if err != nil {
		return nil, err
	}
	return math.Floor(nums[0]), nil
}

func (bf *BuiltInFunctions) CEILING(args ...any) (Primitive, error) {
	nums, err := numericArgs("CEILING", args, 1, 1)
	if err != nil {
		return nil, err
	}
	return math.Ceil(nums[0]), nil
}

func (bf *BuiltInFunctions) SQRT(args ...any) (Primitive, error) {
	nums, err := numericArgs("SQRT", args, 1, 1)
	if err != nil {
		return nil, err
	}
	if nums[0] < 0 {
		return nil, NewSpreadsheetError(ErrorCodeNum, "SQRT requires a non-negative argument")
	}
	return math.Sqrt(nums[0]), nil
}

func (bf *BuiltInFunctions) POWER(args ...any) (Primitive, error) {
	nums, err := numericArgs("POWER", args, 2, 2)
	if err != nil {
		return nil, err
	}
	return numberResult(math.Pow(nums[0], nums[1]))
}

func (bf *BuiltInFunctions) MOD(args ...any) (Primitive, error) {
	nums, err := numericArgs("MOD", args, 2, 2)
	if err != nil {
		return nil, err
	}
	if nums[1] == 0 {
		return nil, NewSpreadsheetError(ErrorCodeDiv0, "division by zero")
	}
	return nums[0] - nums[1]*math.Floor(nums[0]/nums[1]), nil
}

func (bf *BuiltInFunctions) PI(args ...any) (Primitive, error) {
	if len(args) != 0 {
		return nil, NewSpreadsheetError(ErrorCodeNA, "PI takes no arguments")
	}
	return math.Pi, nil
}

// toNumber converts value to number, returning ok=false if conversion
// fails. empty is 0, booleans are 1 or 0, and strings must hold a finite
// number.
func toNumber(value Primitive) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	case string:
		num, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil || math.IsNaN(num) || math.IsInf(num, 0) {
			return 0, false
		}
		return num, true
	case nil:
		return 0, true
	default:
		return 0, false
	}
}

// toString converts value to string
func toString(value Primitive) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return formatNumber(v)
	case bool:
		if v {
			return "TRUE"
		}
		return "FALSE"
	case *SpreadsheetError:
		return v.String()
	default:
		return fmt.Sprint(value)
	}
}

// isTruthy checks if value is truthy
func isTruthy(value Primitive) bool {
	switch v := value.(type) {
	case bool:
		return v
	case float64:
		return v != 0
	case int:
		return v != 0
	case string:
		return v != ""
	case nil:
		return false
	default:
		return true
	}
}
