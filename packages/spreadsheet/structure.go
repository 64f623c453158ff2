package spreadsheet

import (
	"fmt"
	"slices"
	"strconv"

	"fortio.org/safecast"
)

// Axis selects rows or columns for structural edits
type Axis uint8

const (
	AxisRows Axis = iota
	AxisColumns
)

func (a Axis) String() string {
	if a == AxisColumns {
		return "columns"
	}
	return "rows"
}

// shift describes rows or columns inserted into or removed from one
// worksheet. at is the first index inserted or removed.
type shift struct {
	worksheetID uint32
	axis        Axis
	at          uint32
	count       uint32
	remove      bool
}

func newShift(worksheetID uint32, axis Axis, at, count int, remove bool) (shift, error) {
	sh := shift{worksheetID: worksheetID, axis: axis, remove: remove}
	first, err := safecast.Conv[uint32](at)
	if err != nil || first >= sh.limit() {
		if axis == AxisColumns {
			return shift{}, newKindError(KindMalformedAddress, "column %d is outside the sheet", at+1)
		}
		return shift{}, newKindError(KindMalformedAddress, "row %d is outside the sheet", at+1)
	}
	n, err := safecast.Conv[uint32](count)
	if err != nil || n == 0 {
		return shift{}, NewApplicationError(InvalidArgument, fmt.Sprintf("count must be positive, got %d", count))
	}
	if remove && uint64(first)+uint64(n) > uint64(sh.limit()) {
		n = sh.limit() - first
	}
	sh.at, sh.count = first, n
	return sh, nil
}

// limit is the number of rows or columns of a sheet
func (sh shift) limit() uint32 {
	if sh.axis == AxisColumns {
		return MaxColumns
	}
	return MaxRows
}

// label renders the band as "rows 3:4" or "columns C:D"
func (sh shift) label() string {
	last := sh.at + sh.count - 1
	if sh.axis == AxisColumns {
		return fmt.Sprintf("columns %s:%s", ColumnName(sh.at), ColumnName(last))
	}
	return fmt.Sprintf("rows %s:%s", strconv.FormatUint(uint64(sh.at)+1, 10), strconv.FormatUint(uint64(last)+1, 10))
}

func (sh shift) inBand(i uint32) bool {
	return i >= sh.at && uint64(i) < uint64(sh.at)+uint64(sh.count)
}

// index maps one row or column index. removed indexes and indexes pushed
// off the end of the sheet report false.
func (sh shift) index(i uint32) (uint32, bool) {
	switch {
	case i < sh.at:
		return i, true
	case sh.remove && sh.inBand(i):
		return 0, false
	case sh.remove:
		return i - sh.count, true
	case uint64(i)+uint64(sh.count) >= uint64(sh.limit()):
		return 0, false
	default:
		return i + sh.count, true
	}
}

// span maps the extent [start, end] of a range. ranges grow when rows are
// inserted inside them and shrink when rows inside them are removed.
func (sh shift) span(start, end uint32) (uint32, uint32, bool) {
	if !sh.remove {
		newStart, ok := sh.index(start)
		if !ok {
			return 0, 0, false
		}
		newEnd, ok := sh.index(end)
		if !ok {
			newEnd = sh.limit() - 1
		}
		return newStart, newEnd, true
	}

	if sh.inBand(start) && sh.inBand(end) {
		return 0, 0, false
	}
	bandEnd := sh.at + sh.count
	newStart := start
	switch {
	case start >= bandEnd:
		newStart = start - sh.count
	case start >= sh.at:
		newStart = sh.at
	}
	newEnd := end
	switch {
	case end >= bandEnd:
		newEnd = end - sh.count
	case end >= sh.at:
		newEnd = sh.at - 1
	}
	return newStart, newEnd, true
}

// extent returns the first and last index of r along the axis
func (sh shift) extent(r RangeAddress) (uint32, uint32) {
	if sh.axis == AxisColumns {
		return r.StartColumn, r.EndColumn
	}
	return r.StartRow, r.EndRow
}

// hits reports whether a removal takes cells out of r
func (sh shift) hits(r RangeAddress) bool {
	start, end := sh.extent(r)
	return sh.remove && r.WorksheetID == sh.worksheetID &&
		uint64(end) >= uint64(sh.at) && uint64(start) < uint64(sh.at)+uint64(sh.count)
}

// covers reports whether a removal takes out all of r
func (sh shift) covers(r RangeAddress) bool {
	start, end := sh.extent(r)
	return sh.hits(r) && sh.inBand(start) && sh.inBand(end)
}

// reshapes reports whether r keeps its cells but changes size
func (sh shift) reshapes(r RangeAddress) bool {
	if r.WorksheetID != sh.worksheetID {
		return false
	}
	if sh.remove {
		return sh.hits(r) && !sh.covers(r)
	}
	start, end := sh.extent(r)
	return start < sh.at && sh.at <= end
}

// cell maps an address. addresses on other worksheets do not move.
func (sh shift) cell(addr CellAddress) (CellAddress, bool) {
	if addr.WorksheetID != sh.worksheetID {
		return addr, true
	}
	var ok bool
	if sh.axis == AxisColumns {
		addr.Column, ok = sh.index(addr.Column)
	} else {
		addr.Row, ok = sh.index(addr.Row)
	}
	return addr, ok
}

// rangeAddress maps a range. it reports false when every cell of r is
// removed.
func (sh shift) rangeAddress(r RangeAddress) (RangeAddress, bool) {
	if r.WorksheetID != sh.worksheetID {
		return r, true
	}
	var ok bool
	if sh.axis == AxisColumns {
		r.StartColumn, r.EndColumn, ok = sh.span(r.StartColumn, r.EndColumn)
	} else {
		r.StartRow, r.EndRow, ok = sh.span(r.StartRow, r.EndRow)
	}
	return r, ok
}

// InsertRows inserts count empty rows above row (1-based). cells, aliases,
// merges, bindings and configuration tables below move down and every
// reference to them is rewritten.
func (s *Spreadsheet) InsertRows(sheet string, row int, count int) error {
	return s.shiftWorksheet(sheet, AxisRows, row-1, count, false)
}

// RemoveRows removes count rows starting at row (1-based). references to
// removed cells become #REF!; ranges reaching into the removed rows shrink.
func (s *Spreadsheet) RemoveRows(sheet string, row int, count int) error {
	return s.shiftWorksheet(sheet, AxisRows, row-1, count, true)
}

// InsertColumns inserts count empty columns left of column ("C")
func (s *Spreadsheet) InsertColumns(sheet string, column string, count int) error {
	col, err := ParseColumn(column)
	if err != nil {
		return err
	}
	return s.shiftWorksheet(sheet, AxisColumns, int(col), count, false)
}

// RemoveColumns removes count columns starting at column ("C")
func (s *Spreadsheet) RemoveColumns(sheet string, column string, count int) error {
	col, err := ParseColumn(column)
	if err != nil {
		return err
	}
	return s.shiftWorksheet(sheet, AxisColumns, int(col), count, true)
}

func (s *Spreadsheet) shiftWorksheet(sheet string, axis Axis, at, count int, remove bool) error {
	if !s.mu.TryLock() {
		return ErrBusy
	}
	defer s.mu.Unlock()

	worksheet, err := s.worksheetByName(sheet)
	if err != nil {
		return err
	}
	sh, err := newShift(worksheet.worksheetID, axis, at, count, remove)
	if err != nil {
		return err
	}
	if err := s.checkShift(worksheet, sh); err != nil {
		return err
	}

	s.applyShift(worksheet, sh)
	s.logger.Debug("worksheet structure changed",
		"worksheet", sheet,
		"band", sh.label(),
		"removed", remove)
	return nil
}

// checkShift rejects structural edits that would cut through a merged
// anchor or a configuration header, or change the shape of a binding
// target or reference source
func (s *Spreadsheet) checkShift(worksheet *Worksheet, sh shift) error {
	if !sh.remove {
		if used, found := worksheet.UsedRange(); found {
			_, end := sh.extent(used)
			if end >= sh.at && uint64(end)+uint64(sh.count) >= uint64(sh.limit()) {
				return NewApplicationError(OutOfRange,
					fmt.Sprintf("inserting %s pushes cells past the end of the sheet", sh.label()))
			}
		}
	}

	for _, merged := range worksheet.merges.Ranges() {
		start, _ := sh.extent(merged)
		if sh.hits(merged) && !sh.covers(merged) && sh.inBand(start) {
			return newKindError(KindOverlap, "removing %s cuts the anchor off merged range %s",
				sh.label(), s.storage.qualifiedRange(merged))
		}
	}

	for _, b := range s.storage.bindings.OnWorksheet(worksheet.worksheetID) {
		if b.config == nil && sh.reshapes(b.Target) {
			return newKindError(KindShapeMismatch, "changing %s reshapes binding target %s",
				sh.label(), s.storage.qualifiedRange(b.Target))
		}
	}

	// a reference source removed entirely turns into #REF!; one that keeps
	// cells must keep the target's shape
	for _, b := range s.storage.bindings.All() {
		if b.config != nil || !isReferenceNode(b.ast) {
			continue
		}
		source, err := s.resolveReferenceNode(b.ast, b.Target.WorksheetID)
		if err == nil && sh.reshapes(source) {
			return newKindError(KindShapeMismatch, "changing %s reshapes binding source %s of %s",
				sh.label(), s.storage.qualifiedRange(source), s.storage.qualifiedRange(b.Target))
		}
	}

	for _, cfg := range s.configurationsOn(worksheet.worksheetID) {
		if !sh.hits(cfg.Selector) || sh.covers(cfg.Selector) {
			continue
		}
		if start, _ := sh.extent(cfg.Selector); sh.inBand(start) {
			return newKindError(KindShapeMismatch, "removing %s cuts the header off configuration table %s",
				sh.label(), s.storage.qualifiedRange(cfg.Selector))
		}
		if moved, _ := sh.rangeAddress(cfg.Selector); moved.Rows() < 2 {
			return newKindError(KindShapeMismatch, "removing %s leaves configuration table %s without data rows",
				sh.label(), s.storage.qualifiedRange(cfg.Selector))
		}
	}
	return nil
}

// applyShift moves everything on the worksheet and rewrites references to
// it everywhere, then re-links and dirties every reader
func (s *Spreadsheet) applyShift(worksheet *Worksheet, sh shift) {
	if sh.remove {
		for _, cfg := range s.configurationsOn(sh.worksheetID) {
			if sh.covers(cfg.Selector) {
				_ = s.dropConfiguration(cfg, false)
			}
		}
		for _, b := range s.storage.bindings.OnWorksheet(sh.worksheetID) {
			if b.config == nil && sh.covers(b.Target) {
				s.removeBinding(b, false)
			}
		}
	}

	s.shiftSources(sh)
	s.moveCells(worksheet, sh)

	for _, b := range s.storage.bindings.All() {
		if moved, ok := sh.rangeAddress(b.Target); ok {
			b.Target = moved
		}
		stash := make(map[CellAddress]cellSnapshot, len(b.stash))
		for addr, snapshot := range b.stash {
			if moved, ok := sh.cell(addr); ok {
				stash[moved] = snapshot
			}
		}
		b.stash = stash
	}
	configurations := make(map[RangeAddress]*Configuration, len(s.configurations))
	for _, cfg := range s.configurations {
		if moved, ok := sh.rangeAddress(cfg.Selector); ok {
			cfg.Selector = moved
		}
		cfg.binding.Target = cfg.header()
		configurations[cfg.Selector] = cfg
	}
	s.configurations = configurations

	// columns inserted into a configuration table widen its header
	for _, b := range s.storage.bindings.OnWorksheet(sh.worksheetID) {
		for addr := range b.Target.Cells() {
			cell := worksheet.ensureCell(addr.Row, addr.Column)
			if cell.Kind != ContentBound {
				cell.Kind = ContentBound
				cell.BindingID = b.ID
				cell.Stale = true
			}
		}
	}

	s.rebuildLinks()
}

// shiftSources rewrites references in expressions, binding sources and
// content stashed by bindings
func (s *Spreadsheet) shiftSources(sh shift) {
	for _, worksheetID := range s.storage.worksheets.IDs() {
		worksheet, _ := s.storage.worksheets.GetWorksheet(worksheetID)
		for cell := range worksheet.Cells() {
			if cell.Kind != ContentExpression || cell.ParseErr != nil {
				continue
			}
			if source, changed, _ := s.shiftReferences(cell.Source, ParseExpression, worksheetID, sh); changed {
				cell.Source = source
				cell.Stale = true
			}
		}
	}

	for _, b := range s.storage.bindings.All() {
		sheetID := b.Target.WorksheetID
		for addr, snapshot := range b.stash {
			if snapshot.Kind != ContentExpression {
				continue
			}
			if source, changed, _ := s.shiftReferences(snapshot.Source, ParseExpression, sheetID, sh); changed {
				snapshot.Source = source
				b.stash[addr] = snapshot
			}
		}
		if b.config != nil {
			continue
		}

		parse := ParseReference
		if b.Kind == BindingExpression {
			parse = ParseExpression
		}
		source, changed, removed := s.shiftReferences(b.Source, parse, sheetID, sh)
		if !changed {
			continue
		}
		if removed && b.Kind == BindingReference {
			source = "=" + ErrorMapper[ErrorCodeRef]
		}
		ast, kind, err := parseBindingSource(source)
		if err != nil {
			s.logger.Warn("binding source no longer parses", "source", source, "error", err)
			continue
		}
		b.Source, b.ast, b.Kind = source, ast, kind
	}
}

// shiftReferences rewrites the cell and range references in text that
// point into the shifted worksheet. unqualified references belong to
// sheetID. removed reports whether a reference was replaced by #REF!.
func (s *Spreadsheet) shiftReferences(text string, parse func(string) (ASTNode, error), sheetID uint32, sh shift) (result string, changed bool, removed bool) {
	ast, err := parse(text)
	if err != nil {
		return text, false, false
	}

	type replacement struct {
		position NodePosition
		text     string
	}
	var edits []replacement
	onSheet := func(name string) bool {
		if name == "" {
			return sheetID == sh.worksheetID
		}
		id, exists := s.storage.worksheets.GetWorksheetID(name)
		return exists && id == sh.worksheetID
	}
	refError := ErrorMapper[ErrorCodeRef]

	var walk func(node ASTNode)
	walk = func(node ASTNode) {
		switch n := node.(type) {
		case *CellRefNode:
			if !onSheet(n.Sheet) {
				return
			}
			moved, ok := sh.cell(CellAddress{WorksheetID: sh.worksheetID, Row: n.Row, Column: n.Col})
			switch {
			case !ok:
				removed = true
				edits = append(edits, replacement{n.Position, refError})
			case moved.Row != n.Row || moved.Column != n.Col:
				edits = append(edits, replacement{n.Position, Qualify(n.Sheet, FormatA1(moved.Row, moved.Column))})
			}

		case *RangeNode:
			if !onSheet(n.Sheet) {
				return
			}
			rendered, ok, moved := shiftRangeNode(n, sh)
			switch {
			case !ok:
				removed = true
				edits = append(edits, replacement{n.Position, refError})
			case moved:
				edits = append(edits, replacement{n.Position, rendered})
			}

		case *BinaryOpNode:
			walk(n.Left)
			walk(n.Right)

		case *UnaryOpNode:
			walk(n.Operand)

		case *FunctionCallNode:
			for _, arg := range n.Args {
				walk(arg)
			}
		}
	}
	walk(ast)

	if len(edits) == 0 {
		return text, false, false
	}
	// splice from the end so earlier positions stay valid
	slices.SortFunc(edits, func(a, b replacement) int {
		return b.position.Start - a.position.Start
	})
	runes := []rune(text)
	for _, edit := range edits {
		runes = slices.Concat(runes[:edit.position.Start], []rune(edit.text), runes[edit.position.End:])
	}
	return string(runes), true, removed
}

// shiftRangeNode renders a moved range reference. alias corners move with
// their cells, so only cell corners are rewritten.
func shiftRangeNode(n *RangeNode, sh shift) (rendered string, ok bool, moved bool) {
	if n.Start.IsName || n.End.IsName {
		start, end := n.Start, n.End
		for _, endpoint := range []*RangeEndpoint{&start, &end} {
			if endpoint.IsName {
				continue
			}
			addr, kept := sh.cell(CellAddress{WorksheetID: sh.worksheetID, Row: endpoint.Row, Column: endpoint.Col})
			if !kept {
				return "", false, true
			}
			endpoint.Row, endpoint.Col = addr.Row, addr.Column
		}
		if start == n.Start && end == n.End {
			return "", true, false
		}
		return Qualify(n.Sheet, start.String()+":"+end.String()), true, true
	}

	r := NewRangeAddress(sh.worksheetID, n.Start.Row, n.Start.Col, n.End.Row, n.End.Col)
	shifted, kept := sh.rangeAddress(r)
	if !kept {
		return "", false, true
	}
	if shifted == r {
		return "", true, false
	}
	// keep the range form even when one cell is left
	text := FormatA1(shifted.StartRow, shifted.StartColumn) + ":" + FormatA1(shifted.EndRow, shifted.EndColumn)
	return Qualify(n.Sheet, text), true, true
}

// moveCells re-indexes the cells, aliases and merges of the worksheet.
// removed cells lose their slot in the index.
func (s *Spreadsheet) moveCells(worksheet *Worksheet, sh shift) {
	index := make(map[cellKey]CellID, len(worksheet.index))
	for key, id := range worksheet.index {
		cell := &worksheet.cells[id]
		addr := CellAddress{WorksheetID: worksheet.worksheetID, Row: key.row, Column: key.col}
		moved, ok := sh.cell(addr)
		if !ok {
			if cell.DisplayID != 0 {
				s.storage.displays.RemoveReference(cell.DisplayID)
			}
			*cell = Cell{}
			continue
		}
		cell.Row, cell.Col = moved.Row, moved.Column
		index[cellKey{row: moved.Row, col: moved.Column}] = id
	}
	worksheet.index = index

	aliases := NewAliasTable()
	for _, entry := range worksheet.aliases.Entries() {
		if moved, ok := sh.cell(entry.Address); ok {
			_, _ = aliases.Set(moved, entry.Name)
		}
	}
	worksheet.aliases = aliases

	merges := NewMergeTable()
	for _, merged := range worksheet.merges.Ranges() {
		if moved, ok := sh.rangeAddress(merged); ok && !moved.IsSingleCell() {
			_ = merges.Merge(moved)
		}
	}
	worksheet.merges = merges
}

// rebuildLinks re-interns every expression and rebuilds the dependency
// graph and name usage from scratch. every expression and bound cell is
// dirty afterwards.
func (s *Spreadsheet) rebuildLinks() {
	s.dissolveAllCycles()
	s.storage.dependencyGraph.Clear()
	formulas := NewFormulaTable()
	s.storage.formulas = formulas
	for _, b := range s.storage.bindings.All() {
		b.hasResolution = false
		b.resolvedPass = 0
	}

	var readers []CellAddress
	for _, worksheetID := range s.storage.worksheets.IDs() {
		worksheet, _ := s.storage.worksheets.GetWorksheet(worksheetID)
		for cell := range worksheet.Cells() {
			if cell.needsEvaluation() {
				readers = append(readers, CellAddress{WorksheetID: worksheetID, Row: cell.Row, Column: cell.Col})
			}
		}
	}

	for _, addr := range readers {
		cell := s.storage.cell(addr)
		if cell.Kind != ContentExpression {
			continue
		}
		cell.FormulaID = 0
		if cell.ParseErr != nil {
			continue
		}
		ast, err := ParseExpression(cell.Source)
		if err != nil {
			s.logger.Warn("rewritten expression does not parse",
				"cell", s.storage.qualifiedName(addr),
				"source", cell.Source,
				"error", err)
			cell.ParseErr = newSyntaxError(0, "%v", err)
			cell.State = CellError
			continue
		}
		cell.FormulaID = formulas.InternFormula(ast, addr)
	}

	for _, addr := range readers {
		s.linkReader(addr)
		s.markDirty(addr)
	}
}

// configurationsOn returns the configuration tables of a worksheet, top
// left first
func (s *Spreadsheet) configurationsOn(worksheetID uint32) []*Configuration {
	var cfgs []*Configuration
	for _, cfg := range s.configurations {
		if cfg.Selector.WorksheetID == worksheetID {
			cfgs = append(cfgs, cfg)
		}
	}
	slices.SortFunc(cfgs, func(a, b *Configuration) int {
		return compareAddresses(a.Selector.Start(), b.Selector.Start())
	})
	return cfgs
}
