package spreadsheet

// ASTKey is the canonical text of a parsed expression. cells holding the
// same expression share one parsed tree.
type ASTKey string

// aliasKey names an alias on a worksheet
type aliasKey struct {
	WorksheetID uint32
	Name        string
}

// propertyKey names a property of an external object
type propertyKey struct {
	Object   string
	Property string
}

// nameUsage is what a reader refers to by name. names are resolved at
// evaluation time, so these drive re-linking when a name changes meaning.
type nameUsage struct {
	sheets     []string
	aliases    []aliasKey
	properties []propertyKey
}

// usageIndex maps a name to the set of readers using it
type usageIndex[K comparable] map[K]map[CellAddress]struct{}

func (ui usageIndex[K]) add(key K, reader CellAddress) {
	readers, exists := ui[key]
	if !exists {
		readers = make(map[CellAddress]struct{})
		ui[key] = readers
	}
	readers[reader] = struct{}{}
}

func (ui usageIndex[K]) remove(key K, reader CellAddress) {
	if readers, exists := ui[key]; exists {
		delete(readers, reader)
		if len(readers) == 0 {
			delete(ui, key)
		}
	}
}

func (ui usageIndex[K]) readers(key K) []CellAddress {
	return sortedAddresses(ui[key])
}

// FormulaTable stores parsed expressions centrally and tracks the names
// every reader uses
type FormulaTable struct {
	// core formula storage

	astIndex  map[ASTKey]uint32  // normalized AST -> formula ID
	astCache  map[uint32]ASTNode // formula ID -> cached parsed AST
	refCounts map[uint32]int     // formula ID -> reference count

	// cell tracking

	cellsUsingFormula map[uint32]map[CellAddress]struct{} // formula ID -> cells using it
	formulaAtCell     map[CellAddress]uint32              // cell -> formula ID (reverse index)

	// name tracking

	usage          map[CellAddress]*nameUsage // reader -> names it uses
	sheetUsers     usageIndex[string]         // worksheet name -> readers
	aliasUsers     usageIndex[aliasKey]       // alias -> readers
	propertyUsers  usageIndex[propertyKey]    // object property -> readers

	nextID uint32
}

// NewFormulaTable creates a new formula table
func NewFormulaTable() *FormulaTable {
	return &FormulaTable{
		astIndex:          make(map[ASTKey]uint32),
		astCache:          make(map[uint32]ASTNode),
		refCounts:         make(map[uint32]int),
		cellsUsingFormula: make(map[uint32]map[CellAddress]struct{}),
		formulaAtCell:     make(map[CellAddress]uint32),
		usage:             make(map[CellAddress]*nameUsage),
		sheetUsers:        make(usageIndex[string]),
		aliasUsers:        make(usageIndex[aliasKey]),
		propertyUsers:     make(usageIndex[propertyKey]),
		nextID:            1, // start at 1, reserve 0 for no formula
	}
}

// normalizeAST converts an AST to its normalized string representation
func (ft *FormulaTable) normalizeAST(ast ASTNode) ASTKey {
	if ast == nil {
		return ""
	}
	return ASTKey(ast.ToString())
}

// InternFormula adds a formula or increments its reference count if it
// already exists, and records that cell uses it. any formula the cell used
// before is released. returns the formula ID.
func (ft *FormulaTable) InternFormula(ast ASTNode, cell CellAddress) uint32 {
	key := ft.normalizeAST(ast)

	id, exists := ft.astIndex[key]
	if exists && ft.formulaAtCell[cell] == id {
		return id
	}
	ft.ReleaseCell(cell)

	if exists {
		ft.refCounts[id]++
	} else {
		id = ft.nextID
		ft.astIndex[key] = id
		ft.astCache[id] = ast
		ft.refCounts[id] = 1
		ft.nextID++
	}

	if ft.cellsUsingFormula[id] == nil {
		ft.cellsUsingFormula[id] = make(map[CellAddress]struct{})
	}
	ft.cellsUsingFormula[id][cell] = struct{}{}
	ft.formulaAtCell[cell] = id

	return id
}

// ReleaseCell drops the cell's formula reference, removing the formula when
// nothing uses it anymore. returns true if the formula was removed.
func (ft *FormulaTable) ReleaseCell(cell CellAddress) bool {
	id, exists := ft.formulaAtCell[cell]
	if !exists {
		return false
	}
	delete(ft.formulaAtCell, cell)
	if cells, ok := ft.cellsUsingFormula[id]; ok {
		delete(cells, cell)
		if len(cells) == 0 {
			delete(ft.cellsUsingFormula, id)
		}
	}

	ft.refCounts[id]--
	if ft.refCounts[id] > 0 {
		return false
	}
	ft.removeFormula(id)
	return true
}

// removeFormula removes a formula and all its tracking data
func (ft *FormulaTable) removeFormula(formulaID uint32) {
	if ast, exists := ft.astCache[formulaID]; exists {
		delete(ft.astIndex, ft.normalizeAST(ast))
	}
	delete(ft.astCache, formulaID)
	delete(ft.refCounts, formulaID)
	delete(ft.cellsUsingFormula, formulaID)
}

// GetAST retrieves the cached AST for a formula ID
func (ft *FormulaTable) GetAST(id uint32) (ASTNode, bool) {
	ast, exists := ft.astCache[id]
	return ast, exists
}

// GetFormulaID returns the ID for a normalized AST
func (ft *FormulaTable) GetFormulaID(ast ASTNode) (uint32, bool) {
	id, exists := ft.astIndex[ft.normalizeAST(ast)]
	return id, exists
}

// GetReferenceCount returns the reference count for a formula
func (ft *FormulaTable) GetReferenceCount(id uint32) int {
	return ft.refCounts[id]
}

// GetCellsUsingFormula returns all cells using a specific formula
func (ft *FormulaTable) GetCellsUsingFormula(formulaID uint32) []CellAddress {
	return sortedAddresses(ft.cellsUsingFormula[formulaID])
}

// GetFormulaAtCell returns the formula ID at a specific cell
func (ft *FormulaTable) GetFormulaAtCell(cell CellAddress) (uint32, bool) {
	id, exists := ft.formulaAtCell[cell]
	return id, exists
}

// TrackUsage replaces the names a reader uses
func (ft *FormulaTable) TrackUsage(reader CellAddress, usage *nameUsage) {
	ft.ClearUsage(reader)
	if usage == nil {
		return
	}
	if len(usage.sheets) == 0 && len(usage.aliases) == 0 && len(usage.properties) == 0 {
		return
	}
	ft.usage[reader] = usage
	for _, sheet := range usage.sheets {
		ft.sheetUsers.add(sheet, reader)
	}
	for _, alias := range usage.aliases {
		ft.aliasUsers.add(alias, reader)
	}
	for _, property := range usage.properties {
		ft.propertyUsers.add(property, reader)
	}
}

// ClearUsage forgets the names a reader uses
func (ft *FormulaTable) ClearUsage(reader CellAddress) {
	usage, exists := ft.usage[reader]
	if !exists {
		return
	}
	for _, sheet := range usage.sheets {
		ft.sheetUsers.remove(sheet, reader)
	}
	for _, alias := range usage.aliases {
		ft.aliasUsers.remove(alias, reader)
	}
	for _, property := range usage.properties {
		ft.propertyUsers.remove(property, reader)
	}
	delete(ft.usage, reader)
}

// SheetUsers returns readers that name a worksheet
func (ft *FormulaTable) SheetUsers(name string) []CellAddress {
	return ft.sheetUsers.readers(name)
}

// AliasUsers returns readers that use an alias
func (ft *FormulaTable) AliasUsers(worksheetID uint32, name string) []CellAddress {
	return ft.aliasUsers.readers(aliasKey{WorksheetID: worksheetID, Name: name})
}

// PropertyUsers returns readers that use an object property
func (ft *FormulaTable) PropertyUsers(object, property string) []CellAddress {
	return ft.propertyUsers.readers(propertyKey{Object: object, Property: property})
}

// ReferencedSheetNames returns every worksheet name used by some reader
func (ft *FormulaTable) ReferencedSheetNames() []string {
	names := make([]string, 0, len(ft.sheetUsers))
	for name := range ft.sheetUsers {
		names = append(names, name)
	}
	return names
}

// CellsMatching returns the cells whose formula satisfies match
func (ft *FormulaTable) CellsMatching(match func(ASTNode) bool) []CellAddress {
	found := make(map[CellAddress]struct{})
	for id, ast := range ft.astCache {
		if !match(ast) {
			continue
		}
		for cell := range ft.cellsUsingFormula[id] {
			found[cell] = struct{}{}
		}
	}
	return sortedAddresses(found)
}

// Count returns the number of unique formulas
func (ft *FormulaTable) Count() int {
	return len(ft.astIndex)
}

// TotalReferences returns the total number of references across all formulas
func (ft *FormulaTable) TotalReferences() int {
	total := 0
	for _, count := range ft.refCounts {
		total += count
	}
	return total
}
