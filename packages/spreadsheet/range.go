package spreadsheet

import "iter"

// Range represents a lazy range value. aggregate functions and host
// functions iterate it; anything else treats it as #VALUE!.
type Range interface {
	GetBounds() RangeAddress
	Iterate() iter.Seq2[CellAddress, Primitive]
	IterateValues() iter.Seq[Primitive]
}

// CellRange implements Range over a worksheet. values are read through the
// recompute scheduler, so dirty cells are evaluated on demand.
type CellRange struct {
	bounds RangeAddress
	s      *Spreadsheet
}

// GetBounds returns the range boundaries
func (r *CellRange) GetBounds() RangeAddress {
	return r.bounds
}

// Iterate returns an iterator over every address in the range with its
// value. cells hidden by a merge read as empty.
func (r *CellRange) Iterate() iter.Seq2[CellAddress, Primitive] {
	return func(yield func(CellAddress, Primitive) bool) {
		worksheet, exists := r.s.storage.worksheets.GetWorksheet(r.bounds.WorksheetID)
		if !exists {
			return
		}

		for addr := range r.bounds.Cells() {
			var value Primitive
			if !worksheet.merges.IsShadowed(addr) {
				value = r.s.readCell(addr)
			}
			if !yield(addr, value) {
				return
			}
		}
	}
}

// IterateValues returns an iterator over cell values in the range
func (r *CellRange) IterateValues() iter.Seq[Primitive] {
	return func(yield func(Primitive) bool) {
		for _, value := range r.Iterate() {
			if !yield(value) {
				return
			}
		}
	}
}
