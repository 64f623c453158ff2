package spreadsheet

import (
	"fmt"
	"iter"
	"strconv"
	"strings"

	"fortio.org/safecast"
)

const (
	MaxColumns uint32 = 16384   // A..XFD
	MaxRows    uint32 = 1 << 20 // 1..1048576
)

// CellAddress is a zero-based cell position on a worksheet
type CellAddress struct {
	WorksheetID uint32
	Row         uint32
	Column      uint32
}

// A1 renders the address without a worksheet qualifier
func (a CellAddress) A1() string {
	return FormatA1(a.Row, a.Column)
}

// RangeAddress represents a rectangle of cells within a single worksheet.
// start is always top-left and end bottom-right.
type RangeAddress struct {
	WorksheetID uint32
	StartRow    uint32
	StartColumn uint32
	EndRow      uint32
	EndColumn   uint32
}

// NewRangeAddress builds a normalized range from two corners
func NewRangeAddress(worksheetID uint32, row1, col1, row2, col2 uint32) RangeAddress {
	if row2 < row1 {
		row1, row2 = row2, row1
	}
	if col2 < col1 {
		col1, col2 = col2, col1
	}
	return RangeAddress{
		WorksheetID: worksheetID,
		StartRow:    row1,
		StartColumn: col1,
		EndRow:      row2,
		EndColumn:   col2,
	}
}

// SingleCellRange returns the range covering one cell
func SingleCellRange(addr CellAddress) RangeAddress {
	return RangeAddress{
		WorksheetID: addr.WorksheetID,
		StartRow:    addr.Row,
		StartColumn: addr.Column,
		EndRow:      addr.Row,
		EndColumn:   addr.Column,
	}
}

func (r RangeAddress) Start() CellAddress {
	return CellAddress{WorksheetID: r.WorksheetID, Row: r.StartRow, Column: r.StartColumn}
}

func (r RangeAddress) End() CellAddress {
	return CellAddress{WorksheetID: r.WorksheetID, Row: r.EndRow, Column: r.EndColumn}
}

func (r RangeAddress) Rows() uint32 {
	return r.EndRow - r.StartRow + 1
}

func (r RangeAddress) Columns() uint32 {
	return r.EndColumn - r.StartColumn + 1
}

// Size is the number of cells in the range
func (r RangeAddress) Size() int {
	return int(r.Rows()) * int(r.Columns())
}

func (r RangeAddress) IsSingleCell() bool {
	return r.StartRow == r.EndRow && r.StartColumn == r.EndColumn
}

// SameShape reports whether two ranges have identical dimensions
func (r RangeAddress) SameShape(o RangeAddress) bool {
	return r.Rows() == o.Rows() && r.Columns() == o.Columns()
}

// Contains checks if a cell is within the range
func (r RangeAddress) Contains(addr CellAddress) bool {
	return addr.WorksheetID == r.WorksheetID &&
		addr.Row >= r.StartRow && addr.Row <= r.EndRow &&
		addr.Column >= r.StartColumn && addr.Column <= r.EndColumn
}

// Intersects checks if two ranges share at least one cell
func (r RangeAddress) Intersects(o RangeAddress) bool {
	return r.WorksheetID == o.WorksheetID &&
		r.StartRow <= o.EndRow && o.StartRow <= r.EndRow &&
		r.StartColumn <= o.EndColumn && o.StartColumn <= r.EndColumn
}

// At returns the i-th cell of the range in row-major order
func (r RangeAddress) At(i int) CellAddress {
	cols := int(r.Columns())
	return CellAddress{
		WorksheetID: r.WorksheetID,
		Row:         r.StartRow + uint32(i/cols),
		Column:      r.StartColumn + uint32(i%cols),
	}
}

// IndexOf returns the row-major position of addr inside the range
func (r RangeAddress) IndexOf(addr CellAddress) (int, bool) {
	if !r.Contains(addr) {
		return 0, false
	}
	row := int(addr.Row - r.StartRow)
	col := int(addr.Column - r.StartColumn)
	return row*int(r.Columns()) + col, true
}

// Cells iterates over every address in the range in row-major order
func (r RangeAddress) Cells() iter.Seq[CellAddress] {
	return func(yield func(CellAddress) bool) {
		for row := r.StartRow; row <= r.EndRow; row++ {
			for col := r.StartColumn; col <= r.EndColumn; col++ {
				if !yield(CellAddress{WorksheetID: r.WorksheetID, Row: row, Column: col}) {
					return
				}
			}
		}
	}
}

// A1 renders the range as "A1:B2", or "A1" for a single cell
func (r RangeAddress) A1() string {
	if r.IsSingleCell() {
		return FormatA1(r.StartRow, r.StartColumn)
	}
	return FormatA1(r.StartRow, r.StartColumn) + ":" + FormatA1(r.EndRow, r.EndColumn)
}

// ColumnName converts a zero-based column index to letters (0 -> A,
// 25 -> Z, 26 -> AA)
func ColumnName(col uint32) string {
	var buf [8]byte
	i := len(buf)
	n := col + 1
	for n > 0 {
		n--
		i--
		buf[i] = byte('A' + n%26)
		n /= 26
	}
	return string(buf[i:])
}

// FormatA1 renders a zero-based position as "B2"
func FormatA1(row, col uint32) string {
	return ColumnName(col) + strconv.FormatUint(uint64(row)+1, 10)
}

// splitA1 separates column letters from row digits. it only checks shape.
func splitA1(ref string) (letters string, digits string, ok bool) {
	letterEnd := 0
	for letterEnd < len(ref) && isASCIILetter(ref[letterEnd]) {
		letterEnd++
	}
	if letterEnd == 0 || letterEnd == len(ref) || letterEnd > 3 {
		return "", "", false
	}
	for i := letterEnd; i < len(ref); i++ {
		if ref[i] < '0' || ref[i] > '9' {
			return "", "", false
		}
	}
	return ref[:letterEnd], ref[letterEnd:], true
}

func isASCIILetter(ch byte) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}

// ParseA1 parses a cell reference like "B2" into zero-based row and column
func ParseA1(ref string) (row uint32, col uint32, err error) {
	letters, digits, ok := splitA1(ref)
	if !ok {
		return 0, 0, newKindError(KindMalformedAddress, "malformed cell address %q", ref)
	}
	if digits[0] == '0' {
		return 0, 0, newKindError(KindMalformedAddress, "row number must be positive in %q", ref)
	}

	colIndex := 0
	for _, ch := range strings.ToUpper(letters) {
		colIndex = colIndex*26 + int(ch-'A') + 1
	}
	colIndex--

	rowNum, perr := strconv.ParseUint(digits, 10, 32)
	if perr != nil {
		return 0, 0, newKindError(KindMalformedAddress, "invalid row number in %q", ref)
	}

	col, cerr := safecast.Conv[uint32](colIndex)
	if cerr != nil || col >= MaxColumns {
		return 0, 0, newKindError(KindMalformedAddress, "column out of range in %q", ref)
	}
	if rowNum > uint64(MaxRows) {
		return 0, 0, newKindError(KindMalformedAddress, "row out of range in %q", ref)
	}
	row, rerr := safecast.Conv[uint32](rowNum - 1)
	if rerr != nil {
		return 0, 0, newKindError(KindMalformedAddress, "row out of range in %q", ref)
	}
	return row, col, nil
}

// ParseColumn parses column letters such as "C" or "AA" into a zero-based
// column index
func ParseColumn(name string) (uint32, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, newKindError(KindMalformedAddress, "empty column name")
	}
	for i := 0; i < len(name); i++ {
		if !isASCIILetter(name[i]) {
			return 0, newKindError(KindMalformedAddress, "malformed column %q", name)
		}
	}
	_, col, err := ParseA1(name + "1")
	if err != nil {
		return 0, newKindError(KindMalformedAddress, "column %q is out of range", name)
	}
	return col, nil
}

// IsA1 reports whether ref is a valid cell address (any letter case)
func IsA1(ref string) bool {
	_, _, err := ParseA1(ref)
	return err == nil
}

// ParseA1Range parses "A1:C3" or "B2" into a range without a worksheet.
// corners may be given in any order.
func ParseA1Range(ref string) (RangeAddress, error) {
	start, end, found := strings.Cut(ref, ":")
	r1, c1, err := ParseA1(start)
	if err != nil {
		return RangeAddress{}, err
	}
	if !found {
		return NewRangeAddress(0, r1, c1, r1, c1), nil
	}
	r2, c2, err := ParseA1(end)
	if err != nil {
		return RangeAddress{}, err
	}
	return NewRangeAddress(0, r1, c1, r2, c2), nil
}

// OffsetRange moves a range by whole rows and columns, failing when the
// result leaves the sheet
func OffsetRange(r RangeAddress, rows, cols int) (RangeAddress, error) {
	sr, err1 := safecast.Conv[uint32](int(r.StartRow) + rows)
	sc, err2 := safecast.Conv[uint32](int(r.StartColumn) + cols)
	er, err3 := safecast.Conv[uint32](int(r.EndRow) + rows)
	ec, err4 := safecast.Conv[uint32](int(r.EndColumn) + cols)
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil || er >= MaxRows || ec >= MaxColumns {
		return RangeAddress{}, newKindError(KindMalformedAddress, "range %s moved by (%d,%d) leaves the sheet", r.A1(), rows, cols)
	}
	return RangeAddress{WorksheetID: r.WorksheetID, StartRow: sr, StartColumn: sc, EndRow: er, EndColumn: ec}, nil
}

// quoteSheetName wraps a worksheet name in single quotes when it is not a
// plain identifier
func quoteSheetName(name string) string {
	if isIdentifier(name) && !IsA1(name) {
		return name
	}
	return "'" + strings.ReplaceAll(name, "'", "''") + "'"
}

// Qualify renders a sheet-local reference as "Sheet.A1", quoting the sheet
// name when needed
func Qualify(sheet string, ref string) string {
	if sheet == "" {
		return ref
	}
	return fmt.Sprintf("%s.%s", quoteSheetName(sheet), ref)
}

// Unqualify drops the sheet of "Sheet.A1" or "'My.Sheet'.A1:B2". A1
// references hold no dots, so the last one ends the sheet name.
func Unqualify(ref string) string {
	if i := strings.LastIndex(ref, "."); i >= 0 {
		return ref[i+1:]
	}
	return ref
}
