package spreadsheet

import (
	"fmt"
	"slices"
	"strings"
)

// BindingKind is how a binding finds its source range
type BindingKind uint8

const (
	BindingReference     BindingKind = iota // source is a literal reference
	BindingExpression                       // source is an expression computing a reference
	BindingConfiguration                    // source is the row selected by an object property
)

// Binding mirrors a source range into a target range cell by cell. the
// source is re-resolved once per recompute pass.
type Binding struct {
	ID     uint32
	Target RangeAddress
	Source string
	Hidden bool
	Kind   BindingKind

	ast    ASTNode        // parsed source, nil for configuration bindings
	config *Configuration // owning configuration, if any
	stash  map[CellAddress]cellSnapshot

	resolved      RangeAddress
	resolveErr    *SpreadsheetError
	hasResolution bool
	resolvedPass  uint64
}

// BindingInfo is a read-only view of a binding
type BindingInfo struct {
	Target        string
	Source        string
	Hidden        bool
	Configuration bool
	Resolved      string // current source range, empty when unresolved
	Error         string // why the source does not resolve
}

// BindingTable holds the bindings of a spreadsheet
type BindingTable struct {
	bindings map[uint32]*Binding
	nextID   uint32
}

// NewBindingTable creates an empty binding table
func NewBindingTable() *BindingTable {
	return &BindingTable{
		bindings: make(map[uint32]*Binding),
		nextID:   1, // start at 1, reserve 0 for unbound
	}
}

func (bt *BindingTable) add(b *Binding) uint32 {
	b.ID = bt.nextID
	bt.bindings[b.ID] = b
	bt.nextID++
	return b.ID
}

func (bt *BindingTable) remove(id uint32) {
	delete(bt.bindings, id)
}

// Get returns a binding by ID
func (bt *BindingTable) Get(id uint32) (*Binding, bool) {
	b, exists := bt.bindings[id]
	return b, exists
}

// All returns bindings in creation order
func (bt *BindingTable) All() []*Binding {
	result := make([]*Binding, 0, len(bt.bindings))
	for _, b := range bt.bindings {
		result = append(result, b)
	}
	slices.SortFunc(result, func(a, b *Binding) int {
		return compareUint32(a.ID, b.ID)
	})
	return result
}

// FindByTarget returns the binding whose target is exactly r
func (bt *BindingTable) FindByTarget(r RangeAddress) (*Binding, bool) {
	for _, b := range bt.bindings {
		if b.Target == r {
			return b, true
		}
	}
	return nil, false
}

// Overlapping returns a binding whose target intersects r
func (bt *BindingTable) Overlapping(r RangeAddress) (*Binding, bool) {
	for _, b := range bt.All() {
		if b.Target.Intersects(r) {
			return b, true
		}
	}
	return nil, false
}

// OnWorksheet returns the bindings targeting a worksheet
func (bt *BindingTable) OnWorksheet(worksheetID uint32) []*Binding {
	var result []*Binding
	for _, b := range bt.All() {
		if b.Target.WorksheetID == worksheetID {
			result = append(result, b)
		}
	}
	return result
}

// Count returns the number of bindings
func (bt *BindingTable) Count() int {
	return len(bt.bindings)
}

// parseBindingSource parses the source text of a binding. text starting
// with '=' is an expression, anything else a reference.
func parseBindingSource(source string) (ASTNode, BindingKind, error) {
	source = strings.TrimSpace(source)
	if strings.HasPrefix(source, "=") {
		ast, err := ParseExpression(source)
		if err != nil {
			return nil, BindingExpression, err
		}
		return ast, BindingExpression, nil
	}
	ast, err := ParseReference(source)
	if err != nil {
		return nil, BindingReference, err
	}
	return ast, BindingReference, nil
}

// checkBindingTarget fails when target cells are already bound or merged
func (s *Spreadsheet) checkBindingTarget(target RangeAddress) error {
	worksheet, exists := s.storage.worksheets.GetWorksheet(target.WorksheetID)
	if !exists {
		return newKindError(KindNotFound, "worksheet not found")
	}
	if other, overlaps := s.storage.bindings.Overlapping(target); overlaps {
		return newKindError(KindOverlap, "target %s overlaps binding %s",
			s.storage.qualifiedRange(target), s.storage.qualifiedRange(other.Target))
	}
	if merged, overlaps := worksheet.merges.Overlapping(target); overlaps {
		return newKindError(KindOverlap, "target %s overlaps merged range %s",
			s.storage.qualifiedRange(target), s.storage.qualifiedRange(merged))
	}
	return nil
}

// resolveBindingSource computes the current source range of a binding
func (s *Spreadsheet) resolveBindingSource(b *Binding) (RangeAddress, *SpreadsheetError) {
	if b.Kind == BindingConfiguration {
		return s.resolveConfigurationRow(b.config)
	}

	sheetID := b.Target.WorksheetID
	if isReferenceNode(b.ast) {
		return s.resolveReferenceNode(b.ast, sheetID)
	}

	ec := &evalContext{s: s, sheetID: sheetID}
	switch v := evalOperand(ec, b.ast).(type) {
	case Range:
		return v.GetBounds(), nil
	case *SpreadsheetError:
		return RangeAddress{}, v
	case string:
		ref, err := ParseReference(strings.TrimSpace(v))
		if err != nil {
			return RangeAddress{}, NewSpreadsheetError(ErrorCodeRef, fmt.Sprintf("%q is not a reference", v))
		}
		return s.resolveReferenceNode(ref, sheetID)
	default:
		return RangeAddress{}, NewSpreadsheetError(ErrorCodeRef, "binding source does not evaluate to a reference")
	}
}

// resolveBinding returns the source range for the current pass. a shape
// change is reported as #REF!. when a visible binding's source moves, its
// targets are re-linked.
func (s *Spreadsheet) resolveBinding(b *Binding) (RangeAddress, *SpreadsheetError) {
	if b.resolvedPass == s.pass && b.hasResolution {
		return b.resolved, b.resolveErr
	}

	resolved, err := s.resolveBindingSource(b)
	if err == nil && resolved.Size() != b.Target.Size() {
		err = newKindValue(ErrorCodeRef, KindShapeMismatch,
			fmt.Sprintf("source %s does not match target %s",
				s.storage.qualifiedRange(resolved), s.storage.qualifiedRange(b.Target)))
	}

	changed := !b.hasResolution || b.resolved != resolved || (b.resolveErr == nil) != (err == nil)
	b.resolved, b.resolveErr = resolved, err
	b.hasResolution = true
	b.resolvedPass = s.pass

	if changed && !b.Hidden {
		for addr := range b.Target.Cells() {
			s.linkReader(addr)
		}
	}
	return resolved, err
}

// invalidateBinding drops the cached resolution and dirties the targets.
// the source is resolved again when a target is evaluated.
func (s *Spreadsheet) invalidateBinding(b *Binding) {
	b.hasResolution = false
	b.resolvedPass = 0
	for addr := range b.Target.Cells() {
		s.linkReader(addr)
		s.contentChanged(addr)
	}
}

// linkBoundCell records the edges of one target cell. hidden bindings have
// none, so nothing reading the source triggers them.
func (s *Spreadsheet) linkBoundCell(addr CellAddress, b *Binding) {
	if b.Hidden {
		return
	}

	usage := &nameUsage{}
	switch b.Kind {
	case BindingConfiguration:
		cfg := b.config
		usage.properties = append(usage.properties, propertyKey{Object: cfg.Object, Property: cfg.Property})
		s.storage.dependencyGraph.AddRangeDependency(addr, cfg.nameColumn())
	default:
		// a bare reference only needs the names; the source cell edge
		// below is the precise dependency
		s.extractDependencies(b.ast, addr, b.Target.WorksheetID, usage, !isReferenceNode(b.ast))
	}

	if b.hasResolution && b.resolveErr == nil {
		if i, ok := b.Target.IndexOf(addr); ok {
			s.addCellEdge(addr, b.resolved.At(i))
		}
	}
	s.storage.formulas.TrackUsage(addr, usage)
}

// evalBoundCell reads the source cell mirrored by a target cell
func (s *Spreadsheet) evalBoundCell(addr CellAddress, bindingID uint32) Primitive {
	b, exists := s.storage.bindings.Get(bindingID)
	if !exists {
		return NewSpreadsheetError(ErrorCodeRef, "binding not found")
	}
	source, err := s.resolveBinding(b)
	if err != nil {
		return err
	}
	i, ok := b.Target.IndexOf(addr)
	if !ok {
		return NewSpreadsheetError(ErrorCodeRef, "cell is not a binding target")
	}
	return s.readCell(source.At(i))
}

// installBinding turns the target cells into bound cells, keeping their
// previous content for Unbind
func (s *Spreadsheet) installBinding(b *Binding, resolved RangeAddress, resolveErr *SpreadsheetError) {
	worksheet, _ := s.storage.worksheets.GetWorksheet(b.Target.WorksheetID)
	id := s.storage.bindings.add(b)

	b.stash = make(map[CellAddress]cellSnapshot)
	for addr := range b.Target.Cells() {
		cell := worksheet.ensureCell(addr.Row, addr.Column)
		if cell.Kind != ContentEmpty {
			b.stash[addr] = cellSnapshot{Kind: cell.Kind, Literal: cell.Literal, Source: cell.Source}
		}
		s.releaseContent(addr, cell)
		cell.Kind = ContentBound
		cell.BindingID = id
		cell.Stale = true
	}

	b.resolved, b.resolveErr = resolved, resolveErr
	b.hasResolution = true
	b.resolvedPass = s.pass

	for addr := range b.Target.Cells() {
		s.linkReader(addr)
		s.contentChanged(addr)
	}
}

// removeBinding drops a binding. with restore set the stashed content goes
// back into the target cells.
func (s *Spreadsheet) removeBinding(b *Binding, restore bool) {
	s.storage.bindings.remove(b.ID)

	worksheet, exists := s.storage.worksheets.GetWorksheet(b.Target.WorksheetID)
	if !exists {
		return
	}
	for addr := range b.Target.Cells() {
		cell := worksheet.CellAt(addr.Row, addr.Column)
		if cell == nil || cell.BindingID != b.ID {
			continue
		}
		cell.Kind = ContentEmpty
		cell.BindingID = 0
		cell.Value = nil

		snapshot, stashed := b.stash[addr]
		if !restore || !stashed {
			snapshot = cellSnapshot{Kind: ContentEmpty}
		}
		// a stashed expression parsed before, so it parses again
		_ = s.writeContent(addr, snapshot)
	}
}

// Bind mirrors source into target. source is a reference such as
// "Sheet1.A1:A3", or an expression starting with '=' that computes one.
// a source that does not resolve yet is accepted and shows #REF! in the
// targets.
func (s *Spreadsheet) Bind(target, source string, hidden bool) error {
	if !s.mu.TryLock() {
		return ErrBusy
	}
	defer s.mu.Unlock()

	targetRange, err := s.resolveRangeRef(target)
	if err != nil {
		return err
	}
	ast, kind, err := parseBindingSource(source)
	if err != nil {
		return err
	}
	if err := s.checkBindingTarget(targetRange); err != nil {
		return err
	}

	b := &Binding{
		Target: targetRange,
		Source: strings.TrimSpace(source),
		Hidden: hidden,
		Kind:   kind,
		ast:    ast,
	}
	s.beginPass()
	resolved, resolveErr := s.resolveBindingSource(b)
	if resolveErr == nil && resolved.Size() != targetRange.Size() {
		return newKindError(KindShapeMismatch, "source %s has %d cells, target %s has %d",
			s.storage.qualifiedRange(resolved), resolved.Size(),
			s.storage.qualifiedRange(targetRange), targetRange.Size())
	}

	s.installBinding(b, resolved, resolveErr)
	s.logger.Debug("bound range",
		"target", s.storage.qualifiedRange(targetRange),
		"source", b.Source,
		"hidden", hidden)
	return nil
}

// Unbind removes the binding whose target is exactly target and restores
// the content the target cells had before
func (s *Spreadsheet) Unbind(target string) error {
	if !s.mu.TryLock() {
		return ErrBusy
	}
	defer s.mu.Unlock()

	targetRange, err := s.resolveRangeRef(target)
	if err != nil {
		return err
	}
	b, exists := s.storage.bindings.FindByTarget(targetRange)
	if !exists {
		return newKindError(KindNotFound, "no binding targets %s", s.storage.qualifiedRange(targetRange))
	}
	if b.config != nil {
		return NewApplicationError(FailedPrecondition,
			fmt.Sprintf("binding at %s belongs to a configuration", s.storage.qualifiedRange(targetRange)))
	}

	s.removeBinding(b, true)
	s.logger.Debug("unbound range", "target", s.storage.qualifiedRange(targetRange))
	return nil
}

// Bindings lists every binding in creation order
func (s *Spreadsheet) Bindings() ([]BindingInfo, error) {
	if !s.mu.TryRLock() {
		return nil, ErrBusy
	}
	defer s.mu.RUnlock()

	all := s.storage.bindings.All()
	result := make([]BindingInfo, 0, len(all))
	for _, b := range all {
		info := BindingInfo{
			Target:        s.storage.qualifiedRange(b.Target),
			Source:        b.Source,
			Hidden:        b.Hidden,
			Configuration: b.config != nil,
		}
		if b.hasResolution {
			if b.resolveErr != nil {
				info.Error = b.resolveErr.Error()
			} else {
				info.Resolved = s.storage.qualifiedRange(b.resolved)
			}
		}
		result = append(result, info)
	}
	return result, nil
}
