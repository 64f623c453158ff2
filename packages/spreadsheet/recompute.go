package spreadsheet

import (
	"time"
)

// RecomputeStats summarizes one recompute pass
type RecomputeStats struct {
	Evaluated int           // cells evaluated
	Errors    int           // evaluated cells holding an error value
	Cycles    int           // cycle groups found
	Rounds    int           // evaluation rounds; more than one when enumerations changed
	Duration  time.Duration // wall time of the pass
}

// CalculationStack tracks the cells being evaluated. the stack order is
// what turns a reference to an evaluating cell into a cycle group.
type CalculationStack struct {
	items      []CellAddress            // cells being evaluated, innermost last
	processing map[CellAddress]struct{} // currently being processed (cycle detection)
	completed  map[CellAddress]struct{} // already calculated in this pass
}

// NewCalculationStack creates a new calculation stack
func NewCalculationStack() *CalculationStack {
	return &CalculationStack{
		items:      make([]CellAddress, 0),
		processing: make(map[CellAddress]struct{}),
		completed:  make(map[CellAddress]struct{}),
	}
}

// push adds a cell to the stack
func (cs *CalculationStack) push(addr CellAddress) {
	cs.items = append(cs.items, addr)
	cs.processing[addr] = struct{}{}
}

// pop removes and returns the top cell from the stack
func (cs *CalculationStack) pop() (CellAddress, bool) {
	if len(cs.items) == 0 {
		return CellAddress{}, false
	}
	addr := cs.items[len(cs.items)-1]
	cs.items = cs.items[:len(cs.items)-1]
	delete(cs.processing, addr)
	return addr, true
}

// isProcessing checks if a cell is currently being processed
func (cs *CalculationStack) isProcessing(addr CellAddress) bool {
	_, exists := cs.processing[addr]
	return exists
}

// from returns addr and every cell pushed after it
func (cs *CalculationStack) from(addr CellAddress) []CellAddress {
	for i := len(cs.items) - 1; i >= 0; i-- {
		if cs.items[i] == addr {
			return append([]CellAddress(nil), cs.items[i:]...)
		}
	}
	return nil
}

// markCompleted marks a cell as calculated
func (cs *CalculationStack) markCompleted(addr CellAddress) {
	cs.completed[addr] = struct{}{}
}

// isCompleted checks if a cell has been calculated
func (cs *CalculationStack) isCompleted(addr CellAddress) bool {
	_, exists := cs.completed[addr]
	return exists
}

// reset clears the stack
func (cs *CalculationStack) reset() {
	cs.items = cs.items[:0]
	cs.processing = make(map[CellAddress]struct{})
	cs.completed = make(map[CellAddress]struct{})
}

func circularError() *SpreadsheetError {
	return newKindValue(ErrorCodeCircular, KindCircularReference, "circular reference")
}

// beginPass starts a new evaluation pass
func (s *Spreadsheet) beginPass() {
	s.pass++
	s.stats = RecomputeStats{}
	s.calculationStack.reset()
}

// recompute evaluates every dirty cell. evaluation is demand driven, so the
// sorted sweep only picks the entry points; readees are evaluated first
// when a reader asks for them.
func (s *Spreadsheet) recompute() RecomputeStats {
	start := time.Now()
	s.beginPass()

	graph := s.storage.dependencyGraph
	for {
		s.stats.Rounds++
		for graph.DirtyCount() > 0 {
			for _, addr := range graph.DirtyCells() {
				if !graph.IsDirty(addr) {
					continue
				}
				s.evaluateCell(addr)
			}
		}
		// new enumeration items may move a property value, whose readers
		// are then evaluated in a fresh round
		if !s.syncConfigurations() {
			break
		}
		s.pass++
		s.calculationStack.reset()
	}

	stats := s.stats
	stats.Duration = time.Since(start)
	s.logger.Debug("recompute finished",
		"pass", s.pass,
		"evaluated", stats.Evaluated,
		"errors", stats.Errors,
		"cycles", stats.Cycles,
		"rounds", stats.Rounds,
		"duration", stats.Duration)
	return stats
}

// readCell returns the value of a cell for an expression, evaluating it
// first when it is dirty. members of a merge read their anchor.
func (s *Spreadsheet) readCell(addr CellAddress) Primitive {
	worksheet, exists := s.storage.worksheets.GetWorksheet(addr.WorksheetID)
	if !exists {
		return NewSpreadsheetError(ErrorCodeRef, "worksheet not found")
	}
	addr = worksheet.merges.Canonical(addr)

	cell := worksheet.CellAt(addr.Row, addr.Column)
	if cell == nil {
		return nil
	}
	switch cell.Kind {
	case ContentEmpty:
		return nil
	case ContentLiteral:
		return cell.Literal
	}

	if cell.ParseErr != nil {
		return newKindValue(ErrorCodeValue, KindSyntax,
			"referenced cell "+s.storage.qualifiedName(addr)+" has an invalid expression")
	}

	switch cell.State {
	case CellEvaluating:
		s.markCycle(addr)
		return circularError()
	case CellDirty:
		s.evaluateCell(addr)
		cell = worksheet.CellAt(addr.Row, addr.Column)
	}
	return cell.Value
}

// evaluateCell computes one expression or bound cell and stores the result
func (s *Spreadsheet) evaluateCell(addr CellAddress) {
	graph := s.storage.dependencyGraph
	cell := s.storage.cell(addr)
	if cell == nil || !cell.needsEvaluation() || cell.ParseErr != nil {
		graph.ClearDirty(addr)
		return
	}
	// a cell dirtied after it completed is evaluated again
	if s.calculationStack.isCompleted(addr) && cell.State != CellDirty {
		graph.ClearDirty(addr)
		return
	}

	kind, formulaID, bindingID := cell.Kind, cell.FormulaID, cell.BindingID
	cell.State = CellEvaluating
	s.calculationStack.push(addr)

	var value Primitive
	if kind == ContentExpression {
		value = s.evalExpressionCell(addr, formulaID)
	} else {
		value = s.evalBoundCell(addr, bindingID)
	}

	s.calculationStack.pop()
	s.calculationStack.markCompleted(addr)
	graph.ClearDirty(addr)
	s.stats.Evaluated++

	// the arena may have grown while dependencies were evaluated
	cell = s.storage.cell(addr)
	cell.Stale = false
	if _, inCycle := s.cycles[addr]; inCycle {
		cell.Value = circularError()
		cell.State = CellError
		s.stats.Errors++
		return
	}
	cell.Value = value
	cell.State = CellClean
	if _, isErr := value.(*SpreadsheetError); isErr {
		s.stats.Errors++
	}
}

func (s *Spreadsheet) evalExpressionCell(addr CellAddress, formulaID uint32) Primitive {
	ast, exists := s.storage.formulas.GetAST(formulaID)
	if !exists {
		return NewSpreadsheetError(ErrorCodeOther, "expression not found")
	}
	result := scalar(evalOperand(newEvalContext(s, addr), ast))
	if result == nil {
		// a reference to an empty cell computes to 0
		return 0.0
	}
	return result
}

// markCycle records every cell on the stack from addr upward as one cycle
// group. groups that share a cell are merged.
func (s *Spreadsheet) markCycle(addr CellAddress) {
	members := make(map[CellAddress]struct{})
	for _, member := range s.calculationStack.from(addr) {
		members[member] = struct{}{}
		if groupID, inGroup := s.cycles[member]; inGroup {
			for _, other := range s.cycleGroups[groupID] {
				members[other] = struct{}{}
			}
			delete(s.cycleGroups, groupID)
		}
	}

	s.nextCycleID++
	groupID := s.nextCycleID
	group := sortedAddresses(members)
	for _, member := range group {
		s.cycles[member] = groupID
	}
	s.cycleGroups[groupID] = group
	s.stats.Cycles++

	names := make([]string, len(group))
	for i, member := range group {
		names[i] = s.storage.qualifiedName(member)
	}
	s.logger.Info("circular reference", "cells", names)
}

// inCycle reports whether a cell belongs to a cycle group
func (s *Spreadsheet) inCycle(addr CellAddress) bool {
	_, exists := s.cycles[addr]
	return exists
}

// dissolveCycle breaks up the cycle group of addr and dirties the other
// members together with their readers
func (s *Spreadsheet) dissolveCycle(addr CellAddress) {
	groupID, exists := s.cycles[addr]
	if !exists {
		return
	}
	members := s.cycleGroups[groupID]
	delete(s.cycleGroups, groupID)
	for _, member := range members {
		delete(s.cycles, member)
	}
	for _, member := range members {
		if member != addr {
			s.markDirty(member)
		}
	}
	s.propagateDirty(members...)
}

// dissolveAllCycles forgets every cycle group
func (s *Spreadsheet) dissolveAllCycles() {
	clear(s.cycles)
	clear(s.cycleGroups)
}

// markDirty flags a cell for the next pass. cells that hold no expression,
// or whose expression does not parse, have nothing to recompute.
func (s *Spreadsheet) markDirty(addr CellAddress) {
	cell := s.storage.cell(addr)
	if cell == nil || !cell.needsEvaluation() || cell.ParseErr != nil {
		s.storage.dependencyGraph.ClearDirty(addr)
		return
	}
	cell.State = CellDirty
	s.storage.dependencyGraph.MarkDirty(addr)
}

// propagateDirty marks every transitive reader of the seeds dirty. members
// of a cycle group keep their error until their own content changes.
func (s *Spreadsheet) propagateDirty(seeds ...CellAddress) {
	for _, reader := range s.storage.dependencyGraph.GetAffectedCells(seeds, s.inCycle) {
		s.markDirty(reader)
	}
}

// contentChanged is called after the content or the meaning of the
// references of a cell changed
func (s *Spreadsheet) contentChanged(addr CellAddress) {
	s.dissolveCycle(addr)
	s.markDirty(addr)
	s.propagateDirty(addr)
}

// linkReader rebuilds the edges and name usage of a cell from its content
func (s *Spreadsheet) linkReader(addr CellAddress) {
	graph := s.storage.dependencyGraph
	formulas := s.storage.formulas
	graph.ClearDependencies(addr)
	formulas.ClearUsage(addr)

	cell := s.storage.cell(addr)
	if cell == nil {
		return
	}
	switch cell.Kind {
	case ContentExpression:
		if cell.ParseErr != nil {
			return
		}
		ast, exists := formulas.GetAST(cell.FormulaID)
		if !exists {
			return
		}
		usage := &nameUsage{}
		s.extractDependencies(ast, addr, addr.WorksheetID, usage, true)
		formulas.TrackUsage(addr, usage)
	case ContentBound:
		if b, exists := s.storage.bindings.Get(cell.BindingID); exists {
			s.linkBoundCell(addr, b)
		}
	}
}

// relinkReaders re-links readers whose references changed meaning and
// dirties them. bound cells are handled per binding.
func (s *Spreadsheet) relinkReaders(readers []CellAddress) {
	invalidated := make(map[uint32]struct{})
	for _, reader := range readers {
		cell := s.storage.cell(reader)
		if cell == nil {
			s.storage.dependencyGraph.ClearDependencies(reader)
			s.storage.formulas.ClearUsage(reader)
			continue
		}
		if cell.Kind == ContentBound {
			if _, done := invalidated[cell.BindingID]; done {
				continue
			}
			invalidated[cell.BindingID] = struct{}{}
			if b, exists := s.storage.bindings.Get(cell.BindingID); exists {
				s.invalidateBinding(b)
			}
			continue
		}
		s.linkReader(reader)
		s.contentChanged(reader)
	}
}

// addCellEdge links a reader to a cell. when the cell is a merge member the
// anchor is linked too, so both a split and an edit of the anchor reach
// the reader.
func (s *Spreadsheet) addCellEdge(reader, target CellAddress) {
	graph := s.storage.dependencyGraph
	graph.AddCellDependency(reader, target)
	if anchor := s.storage.canonical(target); anchor != target {
		graph.AddCellDependency(reader, anchor)
	}
}

// resolveSheetName resolves a reference qualifier, recording the name so
// the reader is re-linked when a worksheet of that name comes or goes
func (s *Spreadsheet) resolveSheetName(name string, current uint32, usage *nameUsage) (uint32, bool) {
	if name == "" {
		return current, current != 0
	}
	usage.sheets = append(usage.sheets, name)
	return s.storage.worksheets.GetWorksheetID(name)
}

// extractDependencies walks an AST and records what the reader refers to.
// with edges unset only the names are recorded.
func (s *Spreadsheet) extractDependencies(node ASTNode, reader CellAddress, sheetID uint32, usage *nameUsage, edges bool) {
	switch n := node.(type) {
	case *CellRefNode:
		if worksheetID, ok := s.resolveSheetName(n.Sheet, sheetID, usage); ok && edges {
			s.addCellEdge(reader, CellAddress{WorksheetID: worksheetID, Row: n.Row, Column: n.Col})
		}

	case *NameNode:
		worksheetID := sheetID
		if n.Sheet != "" {
			id, ok := s.resolveSheetName(n.Sheet, sheetID, usage)
			if !ok {
				// not a worksheet, so possibly an object property
				usage.properties = append(usage.properties, propertyKey{Object: n.Sheet, Property: n.Name})
				return
			}
			worksheetID = id
		}
		s.trackAlias(reader, worksheetID, n.Name, usage, edges)

	case *RangeNode:
		worksheetID, ok := s.resolveSheetName(n.Sheet, sheetID, usage)
		if !ok {
			return
		}
		for _, endpoint := range []RangeEndpoint{n.Start, n.End} {
			if endpoint.IsName {
				s.trackAlias(reader, worksheetID, endpoint.Name, usage, false)
			}
		}
		if bounds, err := s.resolveRangeNode(n, sheetID); err == nil && edges {
			s.storage.dependencyGraph.AddRangeDependency(reader, bounds)
		}

	case *BinaryOpNode:
		s.extractDependencies(n.Left, reader, sheetID, usage, edges)
		s.extractDependencies(n.Right, reader, sheetID, usage, edges)

	case *UnaryOpNode:
		s.extractDependencies(n.Operand, reader, sheetID, usage, edges)

	case *FunctionCallNode:
		for _, arg := range n.Args {
			s.extractDependencies(arg, reader, sheetID, usage, edges)
		}

	case *StringNode, *NumberNode, *BooleanNode, *ErrorNode:
		// literal nodes don't have dependencies
	}
}

// trackAlias records an alias use and links the aliased cell
func (s *Spreadsheet) trackAlias(reader CellAddress, worksheetID uint32, name string, usage *nameUsage, edges bool) {
	if worksheetID == 0 {
		return
	}
	usage.aliases = append(usage.aliases, aliasKey{WorksheetID: worksheetID, Name: name})
	if !edges {
		return
	}
	if addr, err := s.resolveAliasIn(worksheetID, name); err == nil {
		s.addCellEdge(reader, addr)
	}
}

// resolveAliasIn looks up an alias on a worksheet
func (s *Spreadsheet) resolveAliasIn(worksheetID uint32, name string) (CellAddress, *SpreadsheetError) {
	worksheet, exists := s.storage.worksheets.GetWorksheet(worksheetID)
	if !exists {
		return CellAddress{}, NewSpreadsheetError(ErrorCodeRef, "worksheet not found")
	}
	addr, exists := worksheet.aliases.Resolve(name)
	if !exists {
		return CellAddress{}, newKindValue(ErrorCodeName, KindUnknownAlias, "unknown alias "+name)
	}
	return addr, nil
}

// resolveRangeNode turns a range reference into a range address.
// endpoints may be aliases.
func (s *Spreadsheet) resolveRangeNode(n *RangeNode, currentSheet uint32) (RangeAddress, *SpreadsheetError) {
	worksheetID := currentSheet
	if n.Sheet != "" {
		id, exists := s.storage.worksheets.GetWorksheetID(n.Sheet)
		if !exists {
			return RangeAddress{}, NewSpreadsheetError(ErrorCodeRef, "unknown worksheet "+n.Sheet)
		}
		worksheetID = id
	}
	if worksheetID == 0 {
		return RangeAddress{}, NewSpreadsheetError(ErrorCodeRef, "range has no worksheet")
	}

	resolve := func(endpoint RangeEndpoint) (CellAddress, *SpreadsheetError) {
		if endpoint.IsName {
			return s.resolveAliasIn(worksheetID, endpoint.Name)
		}
		return CellAddress{WorksheetID: worksheetID, Row: endpoint.Row, Column: endpoint.Col}, nil
	}
	start, err := resolve(n.Start)
	if err != nil {
		return RangeAddress{}, err
	}
	end, err := resolve(n.End)
	if err != nil {
		return RangeAddress{}, err
	}
	return NewRangeAddress(worksheetID, start.Row, start.Column, end.Row, end.Column), nil
}

// resolveReferenceNode resolves a cell, alias or range reference to a
// range. qualified names must name a worksheet here.
func (s *Spreadsheet) resolveReferenceNode(node ASTNode, currentSheet uint32) (RangeAddress, *SpreadsheetError) {
	switch n := node.(type) {
	case *CellRefNode:
		worksheetID := currentSheet
		if n.Sheet != "" {
			id, exists := s.storage.worksheets.GetWorksheetID(n.Sheet)
			if !exists {
				return RangeAddress{}, NewSpreadsheetError(ErrorCodeRef, "unknown worksheet "+n.Sheet)
			}
			worksheetID = id
		}
		if worksheetID == 0 {
			return RangeAddress{}, NewSpreadsheetError(ErrorCodeRef, "reference has no worksheet")
		}
		return SingleCellRange(CellAddress{WorksheetID: worksheetID, Row: n.Row, Column: n.Col}), nil

	case *NameNode:
		worksheetID := currentSheet
		if n.Sheet != "" {
			id, exists := s.storage.worksheets.GetWorksheetID(n.Sheet)
			if !exists {
				return RangeAddress{}, NewSpreadsheetError(ErrorCodeRef, "unknown worksheet "+n.Sheet)
			}
			worksheetID = id
		}
		addr, err := s.resolveAliasIn(worksheetID, n.Name)
		if err != nil {
			return RangeAddress{}, err
		}
		return SingleCellRange(addr), nil

	case *RangeNode:
		return s.resolveRangeNode(n, currentSheet)

	default:
		return RangeAddress{}, NewSpreadsheetError(ErrorCodeRef, "not a reference")
	}
}

// isReferenceNode reports whether node is a bare reference
func isReferenceNode(node ASTNode) bool {
	switch node.(type) {
	case *CellRefNode, *NameNode, *RangeNode:
		return true
	default:
		return false
	}
}
