package spreadsheet

// Storage holds references to the shared tables behind a spreadsheet
type Storage struct {
	worksheets      *WorksheetTable
	formulas        *FormulaTable
	displays        *DisplayTable
	dependencyGraph *DependencyGraph
	bindings        *BindingTable
}

// NewStorage creates empty tables
func NewStorage() *Storage {
	return &Storage{
		worksheets:      NewWorksheetTable(),
		formulas:        NewFormulaTable(),
		displays:        NewDisplayTable(),
		dependencyGraph: NewDependencyGraph(),
		bindings:        NewBindingTable(),
	}
}

// cell returns the cell at an address, or nil
func (st *Storage) cell(addr CellAddress) *Cell {
	worksheet, exists := st.worksheets.GetWorksheet(addr.WorksheetID)
	if !exists {
		return nil
	}
	return worksheet.CellAt(addr.Row, addr.Column)
}

// canonical redirects merge members to their anchor
func (st *Storage) canonical(addr CellAddress) CellAddress {
	worksheet, exists := st.worksheets.GetWorksheet(addr.WorksheetID)
	if !exists {
		return addr
	}
	return worksheet.merges.Canonical(addr)
}

// qualifiedName renders an address as "Sheet.A1"
func (st *Storage) qualifiedName(addr CellAddress) string {
	name, _ := st.worksheets.GetWorksheetName(addr.WorksheetID)
	return Qualify(name, addr.A1())
}

// qualifiedRange renders a range as "Sheet.A1:B2"
func (st *Storage) qualifiedRange(r RangeAddress) string {
	name, _ := st.worksheets.GetWorksheetName(r.WorksheetID)
	return Qualify(name, r.A1())
}
