package spreadsheet

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"slices"
	"strconv"
	"strings"
	"sync"
)

// Spreadsheet is the main spreadsheet class that combines storage, parsing,
// dependency tracking, and formula evaluation into a unified API.
//
// all methods are guarded by a single reader/writer lock that is never
// waited on: a call made while a recompute pass or another mutation is in
// progress fails with ErrBusy. that includes calls made by custom functions
// from inside a pass.
type Spreadsheet struct {
	mu sync.RWMutex

	storage          *Storage
	calculationStack *CalculationStack
	functions        *BuiltInFunctions
	host             PropertyHost
	logger           *slog.Logger

	configurations map[RangeAddress]*Configuration // selector -> configuration

	cycles      map[CellAddress]uint32   // cell -> cycle group
	cycleGroups map[uint32][]CellAddress // cycle group -> members
	nextCycleID uint32

	pass  uint64         // recompute pass counter
	stats RecomputeStats // statistics of the running pass
}

// Option configures a Spreadsheet
type Option func(*Spreadsheet)

// WithLogger sets the logger. the default discards everything.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Spreadsheet) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithPropertyHost connects the spreadsheet to external object properties
func WithPropertyHost(host PropertyHost) Option {
	return func(s *Spreadsheet) {
		s.host = host
	}
}

// WithFunction registers a custom function. registration errors are
// logged and the function is skipped.
func WithFunction(name string, fn Function) Option {
	return func(s *Spreadsheet) {
		if err := s.functions.Register(name, fn); err != nil {
			s.logger.Warn("skipping custom function", "name", name, "error", err)
		}
	}
}

// NewSpreadsheet creates a new spreadsheet instance without worksheets
func NewSpreadsheet(opts ...Option) *Spreadsheet {
	s := &Spreadsheet{
		storage:          NewStorage(),
		calculationStack: NewCalculationStack(),
		functions:        NewDefaultBuiltInFunctions(),
		logger:           slog.New(slog.NewTextHandler(io.Discard, nil)),
		configurations:   make(map[RangeAddress]*Configuration),
		cycles:           make(map[CellAddress]uint32),
		cycleGroups:      make(map[uint32][]CellAddress),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type SpreadsheetInterface interface {
	// cell methods

	Get(address string) (Primitive, error)
	Set(address string, value Primitive) error
	Remove(address string) error
	Clear(ref string) error
	ApplyEdits(edits []Edit) error
	Content(address string) (string, error)
	CellInfo(address string) (CellInfo, error)
	ListCells(sheet string) ([]CellInfo, error)
	UsedRange(sheet string) (string, bool, error)
	SetDisplay(ref string, display Display) error
	Display(address string) (Display, error)

	// worksheet methods

	AddWorksheet(name string) error
	RemoveWorksheet(name string) error
	RenameWorksheet(oldName string, newName string) error
	DoesWorksheetExist(name string) bool
	ListWorksheets() []string
	ListReferencedWorksheets() []string

	// merge methods

	Merge(ref string) error
	Split(ref string) error
	MergedRanges(sheet string) ([]string, error)

	// alias methods

	SetAlias(address string, name string) error
	ResolveAlias(sheet string, name string) (string, error)
	RenameAlias(sheet string, oldName string, newName string) error
	Aliases(sheet string) ([]AliasEntry, error)

	// binding methods

	Bind(target, source string, hidden bool) error
	Unbind(target string) error
	Bindings() ([]BindingInfo, error)
	SetupConfiguration(selector, propertyRef, group string) error
	UnsetupConfiguration(selector string) error
	Configurations() ([]ConfigurationInfo, error)
	PropertyChanged(object, property string) error

	// structure methods

	InsertRows(sheet string, row int, count int) error
	RemoveRows(sheet string, row int, count int) error
	InsertColumns(sheet string, column string, count int) error
	RemoveColumns(sheet string, column string, count int) error

	// common methods

	Recompute() (RecomputeStats, error)
	RecomputeAll() (RecomputeStats, error)
	Touch(ref string) error
	Evaluate(sheet string, expression string) (Primitive, error)
	RegisterFunction(name string, fn Function) error
	DirtyCount() int
}

// Implementation of SpreadsheetInterface

var _ SpreadsheetInterface = (*Spreadsheet)(nil)

// Edit is one cell assignment for ApplyEdits
type Edit struct {
	Address string
	Value   Primitive
}

// resolveRangeRef resolves a qualified reference ("Sheet1.A1:B3",
// "Sheet1.total", "'My sheet'.B2") to a range
func (s *Spreadsheet) resolveRangeRef(ref string) (RangeAddress, error) {
	node, err := ParseReference(strings.TrimSpace(ref))
	if err != nil {
		return RangeAddress{}, newKindError(KindMalformedAddress, "malformed address %q: %v", ref, err)
	}

	var sheet string
	switch n := node.(type) {
	case *CellRefNode:
		sheet = n.Sheet
	case *NameNode:
		sheet = n.Sheet
	case *RangeNode:
		sheet = n.Sheet
	}
	if sheet == "" {
		return RangeAddress{}, newKindError(KindMalformedAddress, "address %q must name a worksheet", ref)
	}
	worksheetID, exists := s.storage.worksheets.GetWorksheetID(sheet)
	if !exists {
		return RangeAddress{}, newKindError(KindNotFound, "worksheet %q not found", sheet)
	}

	r, verr := s.resolveReferenceNode(node, worksheetID)
	if verr != nil {
		if verr.ErrorCode == ErrorCodeName {
			return RangeAddress{}, newKindError(KindUnknownAlias, "%s", verr.Message)
		}
		return RangeAddress{}, newKindError(KindMalformedAddress, "%s", verr.Message)
	}
	return r, nil
}

// resolveCellRef resolves a qualified reference to a single cell
func (s *Spreadsheet) resolveCellRef(ref string) (CellAddress, error) {
	r, err := s.resolveRangeRef(ref)
	if err != nil {
		return CellAddress{}, err
	}
	if !r.IsSingleCell() {
		return CellAddress{}, newKindError(KindMalformedAddress, "address %q is a range, expected a cell", ref)
	}
	return r.Start(), nil
}

// worksheetByName looks up a worksheet for the public API
func (s *Spreadsheet) worksheetByName(name string) (*Worksheet, error) {
	worksheet, exists := s.storage.worksheets.GetWorksheetByName(name)
	if !exists {
		return nil, newKindError(KindNotFound, "worksheet %q not found", name)
	}
	return worksheet, nil
}

// cellValue is the value a cell shows
func cellValue(cell *Cell) Primitive {
	if cell.Kind == ContentLiteral {
		return cell.Literal
	}
	return cell.Value
}

// parseContent turns a value given to Set into cell content. strings
// starting with '=' are expressions, other text becomes a number, a
// boolean or a string. a leading "'" forces a string.
func parseContent(value Primitive) (cellSnapshot, error) {
	switch v := normalizeValue(value).(type) {
	case nil:
		return cellSnapshot{Kind: ContentEmpty}, nil
	case string:
		return parseText(v), nil
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return cellSnapshot{}, NewApplicationError(InvalidArgument, "cell values must be finite numbers")
		}
		return cellSnapshot{Kind: ContentLiteral, Literal: v}, nil
	case bool:
		return cellSnapshot{Kind: ContentLiteral, Literal: v}, nil
	default:
		return cellSnapshot{}, NewApplicationError(InvalidArgument, fmt.Sprintf("unsupported cell value of type %T", value))
	}
}

func parseText(text string) cellSnapshot {
	switch {
	case text == "":
		return cellSnapshot{Kind: ContentEmpty}
	case strings.HasPrefix(text, "="):
		return cellSnapshot{Kind: ContentExpression, Source: text}
	case strings.HasPrefix(text, "'"):
		return cellSnapshot{Kind: ContentLiteral, Literal: text[1:]}
	}

	trimmed := strings.TrimSpace(text)
	if num, err := strconv.ParseFloat(trimmed, 64); err == nil && !math.IsNaN(num) && !math.IsInf(num, 0) {
		return cellSnapshot{Kind: ContentLiteral, Literal: num}
	}
	switch strings.ToUpper(trimmed) {
	case "TRUE":
		return cellSnapshot{Kind: ContentLiteral, Literal: true}
	case "FALSE":
		return cellSnapshot{Kind: ContentLiteral, Literal: false}
	}
	return cellSnapshot{Kind: ContentLiteral, Literal: text}
}

// formatContent renders cell content so that parseText reads it back
func formatContent(cell *Cell) string {
	switch cell.Kind {
	case ContentExpression:
		return cell.Source
	case ContentLiteral:
		switch v := cell.Literal.(type) {
		case float64:
			return formatNumber(v)
		case bool:
			if v {
				return "TRUE"
			}
			return "FALSE"
		case string:
			if parsed := parseText(v); parsed.Kind != ContentLiteral || parsed.Literal != v {
				return "'" + v
			}
			return v
		}
	}
	return ""
}

// releaseContent drops what a cell holds before new content is written
func (s *Spreadsheet) releaseContent(addr CellAddress, cell *Cell) {
	s.storage.formulas.ReleaseCell(addr)
	cell.FormulaID = 0
	cell.ParseErr = nil
	cell.Literal = nil
	cell.Source = ""
	cell.BindingID = 0
}

// writeContent stores new content in a cell, re-links it and dirties its
// readers. an expression that does not parse is kept with its error and
// the error is returned.
func (s *Spreadsheet) writeContent(addr CellAddress, content cellSnapshot) error {
	worksheet, exists := s.storage.worksheets.GetWorksheet(addr.WorksheetID)
	if !exists {
		return newKindError(KindNotFound, "worksheet not found")
	}

	var cell *Cell
	if content.Kind == ContentEmpty {
		if cell = worksheet.CellAt(addr.Row, addr.Column); cell == nil {
			return nil
		}
	} else {
		cell = worksheet.ensureCell(addr.Row, addr.Column)
	}
	s.releaseContent(addr, cell)

	var syntaxErr error
	switch content.Kind {
	case ContentEmpty:
		cell.Kind = ContentEmpty
		cell.Value = nil
		cell.State = CellClean
		cell.Stale = false

	case ContentLiteral:
		cell.Kind = ContentLiteral
		cell.Literal = content.Literal
		cell.Value = content.Literal
		cell.State = CellClean
		cell.Stale = false

	case ContentExpression:
		cell.Kind = ContentExpression
		cell.Source = content.Source
		cell.Stale = true
		ast, err := ParseExpression(content.Source)
		if err != nil {
			// keep the previous value for display until the source is fixed
			var appErr *AppError
			if !errors.As(err, &appErr) {
				appErr = newSyntaxError(0, "%v", err)
			}
			cell.ParseErr = appErr
			cell.State = CellError
			syntaxErr = appErr
			break
		}
		cell.FormulaID = s.storage.formulas.InternFormula(ast, addr)
		cell.State = CellDirty
	}

	s.linkReader(addr)
	s.contentChanged(addr)
	return syntaxErr
}

// Get retrieves the cached value of a cell. it does not recompute; values
// of dirty cells are the ones from the last pass.
func (s *Spreadsheet) Get(address string) (Primitive, error) {
	if !s.mu.TryRLock() {
		return nil, ErrBusy
	}
	defer s.mu.RUnlock()

	addr, err := s.resolveCellRef(address)
	if err != nil {
		return nil, err
	}
	cell := s.storage.cell(s.storage.canonical(addr))
	if cell == nil {
		return nil, nil
	}
	return cellValue(cell), nil
}

// Set sets the content of a cell. writes to a merged range go to its
// anchor. an expression that does not parse is stored anyway and the
// syntax error is returned.
func (s *Spreadsheet) Set(address string, value Primitive) error {
	if !s.mu.TryLock() {
		return ErrBusy
	}
	defer s.mu.Unlock()

	errs, err := s.applyEdits([]Edit{{Address: address, Value: value}})
	if err != nil {
		return err
	}
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// ApplyEdits sets several cells. every address and value is validated
// before anything is written; syntax errors do not stop the batch and are
// returned joined.
func (s *Spreadsheet) ApplyEdits(edits []Edit) error {
	if !s.mu.TryLock() {
		return ErrBusy
	}
	defer s.mu.Unlock()

	errs, err := s.applyEdits(edits)
	if err != nil {
		return err
	}
	return errors.Join(errs...)
}

func (s *Spreadsheet) applyEdits(edits []Edit) ([]error, error) {
	type plannedEdit struct {
		addr    CellAddress
		content cellSnapshot
	}

	planned := make([]plannedEdit, 0, len(edits))
	for _, edit := range edits {
		addr, err := s.resolveCellRef(edit.Address)
		if err != nil {
			return nil, err
		}
		addr = s.storage.canonical(addr)
		if cell := s.storage.cell(addr); cell != nil && cell.Kind == ContentBound {
			return nil, newKindError(KindBoundCell, "cell %s is bound", s.storage.qualifiedName(addr))
		}
		content, err := parseContent(edit.Value)
		if err != nil {
			return nil, err
		}
		planned = append(planned, plannedEdit{addr: addr, content: content})
	}

	var syntaxErrs []error
	for _, edit := range planned {
		if err := s.writeContent(edit.addr, edit.content); err != nil {
			if len(edits) > 1 {
				err = fmt.Errorf("%s: %w", s.storage.qualifiedName(edit.addr), err)
			}
			syntaxErrs = append(syntaxErrs, err)
		}
	}
	return syntaxErrs, nil
}

// Remove clears a cell
func (s *Spreadsheet) Remove(address string) error {
	if !s.mu.TryLock() {
		return ErrBusy
	}
	defer s.mu.Unlock()

	addr, err := s.resolveCellRef(address)
	if err != nil {
		return err
	}
	return s.clearRange(SingleCellRange(s.storage.canonical(addr)))
}

// Clear clears the content of every cell in a range. display attributes
// and aliases are kept.
func (s *Spreadsheet) Clear(ref string) error {
	if !s.mu.TryLock() {
		return ErrBusy
	}
	defer s.mu.Unlock()

	r, err := s.resolveRangeRef(ref)
	if err != nil {
		return err
	}
	return s.clearRange(r)
}

func (s *Spreadsheet) clearRange(r RangeAddress) error {
	worksheet, exists := s.storage.worksheets.GetWorksheet(r.WorksheetID)
	if !exists {
		return newKindError(KindNotFound, "worksheet not found")
	}
	for addr := range r.Cells() {
		if cell := worksheet.CellAt(addr.Row, addr.Column); cell != nil && cell.Kind == ContentBound {
			return newKindError(KindBoundCell, "cell %s is bound", s.storage.qualifiedName(addr))
		}
	}
	for addr := range r.Cells() {
		if cell := worksheet.CellAt(addr.Row, addr.Column); cell != nil && cell.Kind != ContentEmpty {
			_ = s.writeContent(addr, cellSnapshot{Kind: ContentEmpty})
		}
	}
	return nil
}

// Content returns the content of a cell as it would be typed in
func (s *Spreadsheet) Content(address string) (string, error) {
	if !s.mu.TryRLock() {
		return "", ErrBusy
	}
	defer s.mu.RUnlock()

	addr, err := s.resolveCellRef(address)
	if err != nil {
		return "", err
	}
	cell := s.storage.cell(s.storage.canonical(addr))
	if cell == nil {
		return "", nil
	}
	return formatContent(cell), nil
}

// cellInfo builds the view of one cell
func (s *Spreadsheet) cellInfo(worksheet *Worksheet, addr CellAddress) CellInfo {
	info := CellInfo{Address: s.storage.qualifiedName(addr)}
	if alias, exists := worksheet.aliases.NameAt(addr); exists {
		info.Alias = alias
	}
	cell := worksheet.CellAt(addr.Row, addr.Column)
	if cell == nil {
		return info
	}
	info.Content = formatContent(cell)
	info.Kind = cell.Kind
	info.Value = cellValue(cell)
	info.State = cell.State
	info.Stale = cell.Stale
	if cell.ParseErr != nil {
		info.SyntaxErr = cell.ParseErr
	}
	info.Display = s.storage.displays.Get(cell.DisplayID)
	return info
}

// CellInfo describes a cell
func (s *Spreadsheet) CellInfo(address string) (CellInfo, error) {
	if !s.mu.TryRLock() {
		return CellInfo{}, ErrBusy
	}
	defer s.mu.RUnlock()

	addr, err := s.resolveCellRef(address)
	if err != nil {
		return CellInfo{}, err
	}
	addr = s.storage.canonical(addr)
	worksheet, _ := s.storage.worksheets.GetWorksheet(addr.WorksheetID)
	return s.cellInfo(worksheet, addr), nil
}

// ListCells describes every non-empty cell of a worksheet in row-major order
func (s *Spreadsheet) ListCells(sheet string) ([]CellInfo, error) {
	if !s.mu.TryRLock() {
		return nil, ErrBusy
	}
	defer s.mu.RUnlock()

	worksheet, err := s.worksheetByName(sheet)
	if err != nil {
		return nil, err
	}
	var result []CellInfo
	for cell := range worksheet.Cells() {
		addr := CellAddress{WorksheetID: worksheet.worksheetID, Row: cell.Row, Column: cell.Col}
		result = append(result, s.cellInfo(worksheet, addr))
	}
	return result, nil
}

// UsedRange returns the range covering every non-empty cell of a worksheet
func (s *Spreadsheet) UsedRange(sheet string) (string, bool, error) {
	if !s.mu.TryRLock() {
		return "", false, ErrBusy
	}
	defer s.mu.RUnlock()

	worksheet, err := s.worksheetByName(sheet)
	if err != nil {
		return "", false, err
	}
	used, found := worksheet.UsedRange()
	if !found {
		return "", false, nil
	}
	return s.storage.qualifiedRange(used), true, nil
}

// SetDisplay sets the display attributes of every cell in a range. the
// zero Display resets them.
func (s *Spreadsheet) SetDisplay(ref string, display Display) error {
	if !s.mu.TryLock() {
		return ErrBusy
	}
	defer s.mu.Unlock()

	r, err := s.resolveRangeRef(ref)
	if err != nil {
		return err
	}
	normalized, err := display.normalize()
	if err != nil {
		return err
	}

	worksheet, _ := s.storage.worksheets.GetWorksheet(r.WorksheetID)
	displays := s.storage.displays
	for addr := range r.Cells() {
		if worksheet.merges.IsShadowed(addr) {
			continue
		}
		cell := worksheet.CellAt(addr.Row, addr.Column)
		if cell == nil {
			if normalized.IsZero() {
				continue
			}
			cell = worksheet.ensureCell(addr.Row, addr.Column)
		}
		if cell.DisplayID != 0 {
			displays.RemoveReference(cell.DisplayID)
		}
		cell.DisplayID = displays.Intern(normalized)
	}
	return nil
}

// Display returns the display attributes of a cell
func (s *Spreadsheet) Display(address string) (Display, error) {
	if !s.mu.TryRLock() {
		return Display{}, ErrBusy
	}
	defer s.mu.RUnlock()

	addr, err := s.resolveCellRef(address)
	if err != nil {
		return Display{}, err
	}
	cell := s.storage.cell(s.storage.canonical(addr))
	if cell == nil {
		return Display{}, nil
	}
	return s.storage.displays.Get(cell.DisplayID), nil
}

// AddWorksheet adds a new worksheet. formulas already naming it start
// reading it on the next pass.
func (s *Spreadsheet) AddWorksheet(name string) error {
	if !s.mu.TryLock() {
		return ErrBusy
	}
	defer s.mu.Unlock()

	name, err := ValidateWorksheetName(name)
	if err != nil {
		return err
	}
	if s.storage.worksheets.Contains(name) {
		return newKindError(KindAlreadyExists, "worksheet %q already exists", name)
	}

	s.storage.worksheets.DefineWorksheet(name, NewWorksheet())
	s.relinkReaders(s.storage.formulas.SheetUsers(name))
	s.logger.Debug("worksheet added", "name", name)
	return nil
}

// RemoveWorksheet removes a worksheet with its cells, aliases, merges,
// bindings and configuration tables. references to it read #REF!.
func (s *Spreadsheet) RemoveWorksheet(name string) error {
	if !s.mu.TryLock() {
		return ErrBusy
	}
	defer s.mu.Unlock()

	worksheet, err := s.worksheetByName(name)
	if err != nil {
		return err
	}
	worksheetID := worksheet.worksheetID

	for _, cfg := range s.configurationsOn(worksheetID) {
		_ = s.dropConfiguration(cfg, false)
	}
	for _, b := range s.storage.bindings.OnWorksheet(worksheetID) {
		s.removeBinding(b, false)
	}

	graph := s.storage.dependencyGraph
	formulas := s.storage.formulas
	for key := range worksheet.index {
		addr := CellAddress{WorksheetID: worksheetID, Row: key.row, Column: key.col}
		s.dissolveCycle(addr)
		formulas.ReleaseCell(addr)
		formulas.ClearUsage(addr)
		graph.ClearDirty(addr)
	}

	readers := make(map[CellAddress]struct{})
	nodes := graph.NodesOnWorksheet(worksheetID)
	for _, addr := range nodes {
		for _, reader := range graph.GetDirectDependents(addr) {
			readers[reader] = struct{}{}
		}
	}
	for _, reader := range graph.ObserversOfWorksheet(worksheetID) {
		readers[reader] = struct{}{}
	}
	for _, addr := range nodes {
		graph.RemoveNode(addr)
	}

	s.storage.worksheets.UndefineWorksheet(name)

	for _, reader := range formulas.SheetUsers(name) {
		readers[reader] = struct{}{}
	}
	for reader := range readers {
		if reader.WorksheetID == worksheetID {
			delete(readers, reader)
		}
	}
	s.relinkReaders(sortedAddresses(readers))
	s.logger.Debug("worksheet removed", "name", name)
	return nil
}

// RenameWorksheet renames a worksheet. references are by name, so formulas
// naming the old name read #REF! afterwards.
func (s *Spreadsheet) RenameWorksheet(oldName string, newName string) error {
	if !s.mu.TryLock() {
		return ErrBusy
	}
	defer s.mu.Unlock()

	if !s.storage.worksheets.Contains(oldName) {
		return newKindError(KindNotFound, "worksheet %q not found", oldName)
	}
	newName, err := ValidateWorksheetName(newName)
	if err != nil {
		return err
	}
	if newName == oldName {
		return nil
	}
	if s.storage.worksheets.Contains(newName) {
		return newKindError(KindAlreadyExists, "worksheet %q already exists", newName)
	}

	s.storage.worksheets.RenameWorksheet(oldName, newName)

	readers := append(s.storage.formulas.SheetUsers(oldName), s.storage.formulas.SheetUsers(newName)...)
	s.relinkReaders(readers)
	s.logger.Debug("worksheet renamed", "from", oldName, "to", newName)
	return nil
}

// DoesWorksheetExist checks if a worksheet exists
func (s *Spreadsheet) DoesWorksheetExist(name string) bool {
	if !s.mu.TryRLock() {
		return false
	}
	defer s.mu.RUnlock()
	return s.storage.worksheets.Contains(name)
}

// ListWorksheets returns all worksheet names in creation order
func (s *Spreadsheet) ListWorksheets() []string {
	if !s.mu.TryRLock() {
		return nil
	}
	defer s.mu.RUnlock()
	return s.storage.worksheets.Names()
}

// ListReferencedWorksheets returns all referenced but undefined worksheet
// names
func (s *Spreadsheet) ListReferencedWorksheets() []string {
	if !s.mu.TryRLock() {
		return nil
	}
	defer s.mu.RUnlock()

	var result []string
	for _, name := range s.storage.formulas.ReferencedSheetNames() {
		if !s.storage.worksheets.Contains(name) {
			result = append(result, name)
		}
	}
	slices.Sort(result)
	return result
}

// Merge merges a range into one cell addressed by its top-left anchor.
// member cells lose their content and aliases.
func (s *Spreadsheet) Merge(ref string) error {
	if !s.mu.TryLock() {
		return ErrBusy
	}
	defer s.mu.Unlock()

	r, err := s.resolveRangeRef(ref)
	if err != nil {
		return err
	}
	worksheet, _ := s.storage.worksheets.GetWorksheet(r.WorksheetID)
	if r.IsSingleCell() {
		return newKindError(KindMalformedAddress, "cannot merge a single cell %s", s.storage.qualifiedRange(r))
	}
	if existing, overlaps := worksheet.merges.Overlapping(r); overlaps {
		return newKindError(KindOverlap, "range %s overlaps merged range %s",
			s.storage.qualifiedRange(r), s.storage.qualifiedRange(existing))
	}
	if b, overlaps := s.storage.bindings.Overlapping(r); overlaps {
		return newKindError(KindOverlap, "range %s overlaps binding %s",
			s.storage.qualifiedRange(r), s.storage.qualifiedRange(b.Target))
	}

	readers := make(map[CellAddress]struct{})
	anchor := r.Start()
	for addr := range r.Cells() {
		if addr == anchor {
			continue
		}
		if name, exists := worksheet.aliases.Remove(addr); exists {
			for _, reader := range s.storage.formulas.AliasUsers(r.WorksheetID, name) {
				readers[reader] = struct{}{}
			}
		}
		if cell := worksheet.CellAt(addr.Row, addr.Column); cell != nil && cell.Kind != ContentEmpty {
			_ = s.writeContent(addr, cellSnapshot{Kind: ContentEmpty})
		}
	}
	if err := worksheet.merges.Merge(r); err != nil {
		return err
	}

	for _, reader := range s.storage.dependencyGraph.ReadersOf(r) {
		readers[reader] = struct{}{}
	}
	s.relinkReaders(sortedAddresses(readers))
	s.logger.Debug("merged range", "range", s.storage.qualifiedRange(r))
	return nil
}

// Split undoes a merge. r must be exactly a merged range.
func (s *Spreadsheet) Split(ref string) error {
	if !s.mu.TryLock() {
		return ErrBusy
	}
	defer s.mu.Unlock()

	r, err := s.resolveRangeRef(ref)
	if err != nil {
		return err
	}
	worksheet, _ := s.storage.worksheets.GetWorksheet(r.WorksheetID)
	if err := worksheet.merges.Split(r); err != nil {
		return err
	}

	s.relinkReaders(s.storage.dependencyGraph.ReadersOf(r))
	s.logger.Debug("split range", "range", s.storage.qualifiedRange(r))
	return nil
}

// MergedRanges lists the merged ranges of a worksheet
func (s *Spreadsheet) MergedRanges(sheet string) ([]string, error) {
	if !s.mu.TryRLock() {
		return nil, ErrBusy
	}
	defer s.mu.RUnlock()

	worksheet, err := s.worksheetByName(sheet)
	if err != nil {
		return nil, err
	}
	ranges := worksheet.merges.Ranges()
	result := make([]string, len(ranges))
	for i, r := range ranges {
		result[i] = s.storage.qualifiedRange(r)
	}
	return result, nil
}

// SetAlias names a cell. an empty name removes the alias of the cell.
func (s *Spreadsheet) SetAlias(address string, name string) error {
	if !s.mu.TryLock() {
		return ErrBusy
	}
	defer s.mu.Unlock()

	addr, err := s.resolveCellRef(address)
	if err != nil {
		return err
	}
	addr = s.storage.canonical(addr)
	worksheet, _ := s.storage.worksheets.GetWorksheet(addr.WorksheetID)
	formulas := s.storage.formulas

	if strings.TrimSpace(name) == "" {
		if previous, exists := worksheet.aliases.Remove(addr); exists {
			s.relinkReaders(formulas.AliasUsers(addr.WorksheetID, previous))
		}
		return nil
	}

	normalized, err := ValidateAliasName(name)
	if err != nil {
		return err
	}
	previous, err := worksheet.aliases.Set(addr, normalized)
	if err != nil {
		return err
	}

	readers := formulas.AliasUsers(addr.WorksheetID, normalized)
	if previous != "" && previous != normalized {
		readers = append(readers, formulas.AliasUsers(addr.WorksheetID, previous)...)
	}
	s.relinkReaders(readers)
	return nil
}

// ResolveAlias returns the qualified address an alias names
func (s *Spreadsheet) ResolveAlias(sheet string, name string) (string, error) {
	if !s.mu.TryRLock() {
		return "", ErrBusy
	}
	defer s.mu.RUnlock()

	worksheet, err := s.worksheetByName(sheet)
	if err != nil {
		return "", err
	}
	addr, exists := worksheet.aliases.Resolve(NormalizeName(strings.TrimSpace(name)))
	if !exists {
		return "", newKindError(KindUnknownAlias, "unknown alias %q", name)
	}
	return s.storage.qualifiedName(addr), nil
}

// RenameAlias renames an alias, keeping its cell. formulas using the old
// name read #NAME? afterwards.
func (s *Spreadsheet) RenameAlias(sheet string, oldName string, newName string) error {
	if !s.mu.TryLock() {
		return ErrBusy
	}
	defer s.mu.Unlock()

	worksheet, err := s.worksheetByName(sheet)
	if err != nil {
		return err
	}
	oldName = NormalizeName(strings.TrimSpace(oldName))
	normalized, err := ValidateAliasName(newName)
	if err != nil {
		return err
	}
	if _, err := worksheet.aliases.Rename(oldName, normalized); err != nil {
		return err
	}

	formulas := s.storage.formulas
	readers := append(formulas.AliasUsers(worksheet.worksheetID, oldName),
		formulas.AliasUsers(worksheet.worksheetID, normalized)...)
	s.relinkReaders(readers)
	return nil
}

// Aliases lists the aliases of a worksheet sorted by name
func (s *Spreadsheet) Aliases(sheet string) ([]AliasEntry, error) {
	if !s.mu.TryRLock() {
		return nil, ErrBusy
	}
	defer s.mu.RUnlock()

	worksheet, err := s.worksheetByName(sheet)
	if err != nil {
		return nil, err
	}
	return worksheet.aliases.Entries(), nil
}

// Recompute evaluates every dirty cell. values read by Get are consistent
// once it returns.
func (s *Spreadsheet) Recompute() (RecomputeStats, error) {
	if !s.mu.TryLock() {
		return RecomputeStats{}, ErrBusy
	}
	defer s.mu.Unlock()
	return s.recompute(), nil
}

// RecomputeAll forgets known cycles, re-links every expression and bound
// cell and evaluates all of them. hidden bindings refresh here.
func (s *Spreadsheet) RecomputeAll() (RecomputeStats, error) {
	if !s.mu.TryLock() {
		return RecomputeStats{}, ErrBusy
	}
	defer s.mu.Unlock()

	s.dissolveAllCycles()
	for _, b := range s.storage.bindings.All() {
		b.hasResolution = false
		b.resolvedPass = 0
	}
	for _, worksheetID := range s.storage.worksheets.IDs() {
		worksheet, _ := s.storage.worksheets.GetWorksheet(worksheetID)
		for cell := range worksheet.Cells() {
			if !cell.needsEvaluation() {
				continue
			}
			addr := CellAddress{WorksheetID: worksheetID, Row: cell.Row, Column: cell.Col}
			s.linkReader(addr)
			s.markDirty(addr)
		}
	}
	return s.recompute(), nil
}

// Touch marks the cells of a range and their readers dirty without
// changing them. touching the target of a hidden binding refreshes it.
func (s *Spreadsheet) Touch(ref string) error {
	if !s.mu.TryLock() {
		return ErrBusy
	}
	defer s.mu.Unlock()

	r, err := s.resolveRangeRef(ref)
	if err != nil {
		return err
	}
	seeds := make([]CellAddress, 0, r.Size())
	for addr := range r.Cells() {
		addr = s.storage.canonical(addr)
		s.dissolveCycle(addr)
		s.markDirty(addr)
		seeds = append(seeds, addr)
	}
	s.propagateDirty(seeds...)
	return nil
}

// Evaluate computes an expression against a worksheet without storing it.
// the leading '=' is optional.
func (s *Spreadsheet) Evaluate(sheet string, expression string) (Primitive, error) {
	if !s.mu.TryLock() {
		return nil, ErrBusy
	}
	defer s.mu.Unlock()

	worksheet, err := s.worksheetByName(sheet)
	if err != nil {
		return nil, err
	}
	expression = strings.TrimSpace(expression)
	if !strings.HasPrefix(expression, "=") {
		expression = "=" + expression
	}
	ast, err := ParseExpression(expression)
	if err != nil {
		return nil, err
	}

	s.beginPass()
	ec := &evalContext{s: s, sheetID: worksheet.worksheetID}
	return scalar(evalOperand(ec, ast)), nil
}

// RegisterFunction adds a custom function. cells already calling it are
// recomputed by the next pass.
func (s *Spreadsheet) RegisterFunction(name string, fn Function) error {
	if !s.mu.TryLock() {
		return ErrBusy
	}
	defer s.mu.Unlock()

	if err := s.functions.Register(name, fn); err != nil {
		return err
	}
	name = strings.ToUpper(name)
	users := s.storage.formulas.CellsMatching(func(ast ASTNode) bool {
		return callsFunction(ast, name)
	})
	for _, addr := range users {
		s.contentChanged(addr)
	}
	return nil
}

// callsFunction reports whether an expression calls the named function
func callsFunction(node ASTNode, name string) bool {
	switch n := node.(type) {
	case *FunctionCallNode:
		if n.Name == name {
			return true
		}
		for _, arg := range n.Args {
			if callsFunction(arg, name) {
				return true
			}
		}
	case *BinaryOpNode:
		return callsFunction(n.Left, name) || callsFunction(n.Right, name)
	case *UnaryOpNode:
		return callsFunction(n.Operand, name)
	}
	return false
}

// DirtyCount returns the number of cells waiting for recompute
func (s *Spreadsheet) DirtyCount() int {
	if !s.mu.TryRLock() {
		return 0
	}
	defer s.mu.RUnlock()
	return s.storage.dependencyGraph.DirtyCount()
}

// GetWorksheet returns a worksheet by name
func (s *Spreadsheet) GetWorksheet(name string) (*Worksheet, bool) {
	return s.storage.worksheets.GetWorksheetByName(name)
}

// GetDependencyGraph returns the dependency graph
func (s *Spreadsheet) GetDependencyGraph() *DependencyGraph {
	return s.storage.dependencyGraph
}

// GetFormulaTable returns the formula table
func (s *Spreadsheet) GetFormulaTable() *FormulaTable {
	return s.storage.formulas
}
