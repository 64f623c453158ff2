package spreadsheet

import (
	"fmt"
	"slices"
)

// RunnableSpreadsheet provides a fluent interface for chaining spreadsheet
// operations. wraps the standard Spreadsheet and tracks errors internally;
// once an operation fails the rest of the chain is skipped.
type RunnableSpreadsheet struct {
	spreadsheet *Spreadsheet
	err         error
	printLn     func(string)
}

// NewRunnableSpreadsheet creates a new RunnableSpreadsheet. printLn is
// required and will be used for all logging operations (Log, CheckError)
func NewRunnableSpreadsheet(printLn func(string), opts ...Option) *RunnableSpreadsheet {
	return &RunnableSpreadsheet{
		spreadsheet: NewSpreadsheet(opts...),
		err:         nil,
		printLn:     printLn,
	}
}

// do runs op unless the chain already failed
func (r *RunnableSpreadsheet) do(op func(s *Spreadsheet) error) *RunnableSpreadsheet {
	if r.err != nil {
		return r // no-op if there's already an error
	}
	r.err = op(r.spreadsheet)
	return r
}

// Set sets a cell value (chainable)
func (r *RunnableSpreadsheet) Set(address string, value Primitive) *RunnableSpreadsheet {
	return r.do(func(s *Spreadsheet) error { return s.Set(address, value) })
}

// Get retrieves a cell value (chainable)
func (r *RunnableSpreadsheet) Get(address string) (*RunnableSpreadsheet, Primitive) {
	if r.err != nil {
		return r, nil // no-op if there's already an error
	}
	val, err := r.spreadsheet.Get(address)
	if err != nil {
		r.err = err
	}
	return r, val
}

// Remove removes a cell (chainable)
func (r *RunnableSpreadsheet) Remove(address string) *RunnableSpreadsheet {
	return r.do(func(s *Spreadsheet) error { return s.Remove(address) })
}

// AddWorksheet adds a new worksheet (chainable)
func (r *RunnableSpreadsheet) AddWorksheet(name string) *RunnableSpreadsheet {
	return r.do(func(s *Spreadsheet) error { return s.AddWorksheet(name) })
}

// RemoveWorksheet removes a worksheet (chainable)
func (r *RunnableSpreadsheet) RemoveWorksheet(name string) *RunnableSpreadsheet {
	return r.do(func(s *Spreadsheet) error { return s.RemoveWorksheet(name) })
}

// RenameWorksheet renames a worksheet (chainable)
func (r *RunnableSpreadsheet) RenameWorksheet(oldName, newName string) *RunnableSpreadsheet {
	return r.do(func(s *Spreadsheet) error { return s.RenameWorksheet(oldName, newName) })
}

// SetAlias names a cell (chainable)
func (r *RunnableSpreadsheet) SetAlias(address, name string) *RunnableSpreadsheet {
	return r.do(func(s *Spreadsheet) error { return s.SetAlias(address, name) })
}

// Merge merges a range (chainable)
func (r *RunnableSpreadsheet) Merge(ref string) *RunnableSpreadsheet {
	return r.do(func(s *Spreadsheet) error { return s.Merge(ref) })
}

// Split splits a merged range (chainable)
func (r *RunnableSpreadsheet) Split(ref string) *RunnableSpreadsheet {
	return r.do(func(s *Spreadsheet) error { return s.Split(ref) })
}

// Bind binds target to source (chainable)
func (r *RunnableSpreadsheet) Bind(target, source string, hidden bool) *RunnableSpreadsheet {
	return r.do(func(s *Spreadsheet) error { return s.Bind(target, source, hidden) })
}

// Recompute evaluates dirty cells (chainable)
func (r *RunnableSpreadsheet) Recompute() *RunnableSpreadsheet {
	return r.do(func(s *Spreadsheet) error {
		_, err := s.Recompute()
		return err
	})
}

// Run executes a final recompute and returns the spreadsheet and any error.
// typically the last method in the chain
func (r *RunnableSpreadsheet) Run() (*Spreadsheet, error) {
	if r.err != nil {
		return nil, r.err
	}

	// final recompute to ensure all formulas are up to date
	if _, r.err = r.spreadsheet.Recompute(); r.err != nil {
		return nil, r.err
	}

	return r.spreadsheet, nil
}

// RunOrPanic executes a final recompute and panics if there's an
// error. useful for examples and tests where you want to fail fast
func (r *RunnableSpreadsheet) RunOrPanic() *Spreadsheet {
	spreadsheet, err := r.Run()
	if err != nil {
		panic(err)
	}
	return spreadsheet
}

// Error returns the current error state
func (r *RunnableSpreadsheet) Error() error {
	return r.err
}

// CheckError logs the current error using the PrintLn function (chainable)
func (r *RunnableSpreadsheet) CheckError() *RunnableSpreadsheet {
	if r.err != nil {
		r.printLn(fmt.Sprintf("ERROR: %v", r.err))
	} else {
		r.printLn("No errors")
	}
	return r
}

// Spreadsheet returns the underlying spreadsheet. use with caution as it
// bypasses error tracking.
func (r *RunnableSpreadsheet) Spreadsheet() *Spreadsheet {
	return r.spreadsheet
}

// Reset clears the error state (chainable)
func (r *RunnableSpreadsheet) Reset() *RunnableSpreadsheet {
	r.err = nil
	return r
}

// Then allows conditional execution based on current error state
func (r *RunnableSpreadsheet) Then(fn func(*RunnableSpreadsheet) *RunnableSpreadsheet) *RunnableSpreadsheet {
	if r.err != nil {
		return r // skip if there's an error
	}
	return fn(r)
}

// OnError allows error handling in the chain
func (r *RunnableSpreadsheet) OnError(fn func(error) error) *RunnableSpreadsheet {
	if r.err != nil {
		r.err = fn(r.err)
	}
	return r
}

// Must panics if there's an error (chainable)
func (r *RunnableSpreadsheet) Must() *RunnableSpreadsheet {
	if r.err != nil {
		panic(r.err)
	}
	return r
}

// SetBatch sets multiple cells as one edit batch (chainable). addresses
// are applied in sorted order.
func (r *RunnableSpreadsheet) SetBatch(cells map[string]Primitive) *RunnableSpreadsheet {
	addresses := make([]string, 0, len(cells))
	for address := range cells {
		addresses = append(addresses, address)
	}
	slices.Sort(addresses)

	edits := make([]Edit, len(addresses))
	for i, address := range addresses {
		edits[i] = Edit{Address: address, Value: cells[address]}
	}
	return r.do(func(s *Spreadsheet) error { return s.ApplyEdits(edits) })
}

// GetBatch retrieves multiple cell values
func (r *RunnableSpreadsheet) GetBatch(addresses ...string) (*RunnableSpreadsheet, map[string]Primitive) {
	if r.err != nil {
		return r, nil // no-op if there's already an error
	}

	results := make(map[string]Primitive)
	for _, address := range addresses {
		val, err := r.spreadsheet.Get(address)
		if err != nil {
			r.err = err
			return r, nil
		}
		results[address] = val
	}
	return r, results
}

// WithWorksheet ensures a worksheet exists before continuing (chainable)
func (r *RunnableSpreadsheet) WithWorksheet(name string) *RunnableSpreadsheet {
	return r.do(func(s *Spreadsheet) error {
		if s.DoesWorksheetExist(name) {
			return nil
		}
		return s.AddWorksheet(name)
	})
}

// If allows conditional operations in the chain
func (r *RunnableSpreadsheet) If(condition bool, fn func(*RunnableSpreadsheet) *RunnableSpreadsheet) *RunnableSpreadsheet {
	if r.err != nil || !condition {
		return r // skip if there's an error or condition is false
	}
	return fn(r)
}

// ForEach calls fn for every cell address of a range on a worksheet
// (chainable). rows and columns are zero-based and inclusive.
func (r *RunnableSpreadsheet) ForEach(sheet string, startRow, endRow, startCol, endCol uint32, fn func(address string, r *RunnableSpreadsheet)) *RunnableSpreadsheet {
	if r.err != nil {
		return r // no-op if there's already an error
	}

	for row := startRow; row <= endRow; row++ {
		for col := startCol; col <= endCol; col++ {
			fn(Qualify(sheet, FormatA1(row, col)), r)
			if r.err != nil {
				return r // stop on first error
			}
		}
	}
	return r
}

// Value is a helper to get a single value from the chain.
// example: val := NewRunnableSpreadsheet(log).AddWorksheet("S").Set("S.A1", 10).Recompute().Value("S.A1")
func (r *RunnableSpreadsheet) Value(address string) Primitive {
	_, val := r.Get(address)
	return val
}

// Values is a helper to get multiple values from the chain
func (r *RunnableSpreadsheet) Values(addresses ...string) []Primitive {
	if r.err != nil {
		return nil
	}

	values := make([]Primitive, len(addresses))
	for i, address := range addresses {
		val, err := r.spreadsheet.Get(address)
		if err != nil {
			r.err = err
			return nil
		}
		values[i] = val
	}
	return values
}

// Log logs the value of a cell using the provided PrintLn function (chainable)
func (r *RunnableSpreadsheet) Log(address string) *RunnableSpreadsheet {
	if r.err != nil {
		return r // no-op if there's already an error
	}

	val, err := r.spreadsheet.Get(address)
	if err != nil {
		r.err = err
		return r
	}

	var output string
	switch v := val.(type) {
	case nil:
		output = fmt.Sprintf("%s: <empty>", address)
	case *SpreadsheetError:
		output = fmt.Sprintf("%s: %s", address, v.String())
	default:
		output = fmt.Sprintf("%s: %s", address, toString(v))
	}

	r.printLn(output)
	return r
}
