package spreadsheet

import (
	"iter"
	"slices"
	"strings"
	"unicode"

	"fortio.org/safecast"
)

// WorksheetTable manages worksheet storage and ID mappings. IDs are never
// reused, so a removed worksheet's ID cannot alias a later one.
type WorksheetTable struct {
	nameToID          map[string]uint32     // name -> ID
	idToName          map[uint32]string     // ID -> name
	definedWorksheets map[uint32]*Worksheet // ID -> worksheet
	nextID            uint32
}

// NewWorksheetTable creates a new worksheet table
func NewWorksheetTable() *WorksheetTable {
	return &WorksheetTable{
		nameToID:          make(map[string]uint32),
		idToName:          make(map[uint32]string),
		definedWorksheets: make(map[uint32]*Worksheet),
		nextID:            1, // start at 1, reserve 0 for no worksheet
	}
}

// ValidateWorksheetName normalizes a worksheet name. any non-empty text
// without control characters is accepted; names that are not plain
// identifiers are quoted when rendered.
func ValidateWorksheetName(name string) (string, error) {
	normalized := NormalizeName(strings.TrimSpace(name))
	if normalized == "" {
		return "", newKindError(KindInvalidName, "worksheet name must not be empty")
	}
	for _, ch := range normalized {
		if unicode.IsControl(ch) {
			return "", newKindError(KindInvalidName, "worksheet name %q contains a control character", name)
		}
	}
	return normalized, nil
}

// DefineWorksheet adds a worksheet under a new ID and returns the ID
func (wt *WorksheetTable) DefineWorksheet(name string, worksheet *Worksheet) uint32 {
	id := wt.nextID
	wt.nameToID[name] = id
	wt.idToName[id] = name
	wt.definedWorksheets[id] = worksheet
	wt.nextID++

	if worksheet != nil {
		worksheet.worksheetID = id
	}
	return id
}

// UndefineWorksheet removes a worksheet, returning its ID
func (wt *WorksheetTable) UndefineWorksheet(name string) (uint32, bool) {
	id, exists := wt.nameToID[name]
	if !exists {
		return 0, false
	}
	delete(wt.nameToID, name)
	delete(wt.idToName, id)
	delete(wt.definedWorksheets, id)
	return id, true
}

// RenameWorksheet moves a worksheet to a new name, keeping its ID
func (wt *WorksheetTable) RenameWorksheet(oldName, newName string) (uint32, bool) {
	id, exists := wt.nameToID[oldName]
	if !exists {
		return 0, false
	}
	delete(wt.nameToID, oldName)
	wt.nameToID[newName] = id
	wt.idToName[id] = newName
	return id, true
}

// GetWorksheet retrieves a worksheet by its ID
func (wt *WorksheetTable) GetWorksheet(id uint32) (*Worksheet, bool) {
	worksheet, exists := wt.definedWorksheets[id]
	return worksheet, exists
}

// GetWorksheetByName retrieves a worksheet by its name
func (wt *WorksheetTable) GetWorksheetByName(name string) (*Worksheet, bool) {
	id, exists := wt.nameToID[name]
	if !exists {
		return nil, false
	}
	return wt.GetWorksheet(id)
}

// GetWorksheetID returns the ID for a worksheet name
func (wt *WorksheetTable) GetWorksheetID(name string) (uint32, bool) {
	id, exists := wt.nameToID[name]
	return id, exists
}

// GetWorksheetName returns the name for a worksheet ID
func (wt *WorksheetTable) GetWorksheetName(id uint32) (string, bool) {
	name, exists := wt.idToName[id]
	return name, exists
}

// Contains checks if a worksheet name exists
func (wt *WorksheetTable) Contains(name string) bool {
	_, exists := wt.nameToID[name]
	return exists
}

// IDs returns worksheet IDs in creation order
func (wt *WorksheetTable) IDs() []uint32 {
	ids := make([]uint32, 0, len(wt.definedWorksheets))
	for id := range wt.definedWorksheets {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Names returns worksheet names in creation order
func (wt *WorksheetTable) Names() []string {
	ids := wt.IDs()
	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = wt.idToName[id]
	}
	return names
}

// Count returns the number of worksheets
func (wt *WorksheetTable) Count() int {
	return len(wt.definedWorksheets)
}

// cellKey locates a cell inside one worksheet
type cellKey struct {
	row uint32
	col uint32
}

// Worksheet owns its cells in an arena. a CellID stays valid for the life
// of the worksheet; cleared cells keep their slot and are skipped by
// listings. *Cell pointers are only valid until the next slot is added.
type Worksheet struct {
	cells       []Cell              // arena, slot 0 unused
	index       map[cellKey]CellID  // position -> slot
	aliases     *AliasTable         // names of cells on this worksheet
	merges      *MergeTable         // merged ranges on this worksheet
	worksheetID uint32              // ID assigned by the worksheet table
}

// NewWorksheet creates a new worksheet
func NewWorksheet() *Worksheet {
	return &Worksheet{
		cells:   make([]Cell, 1),
		index:   make(map[cellKey]CellID),
		aliases: NewAliasTable(),
		merges:  NewMergeTable(),
	}
}

// ID returns the worksheet ID
func (w *Worksheet) ID() uint32 {
	return w.worksheetID
}

// Aliases returns the worksheet's alias table
func (w *Worksheet) Aliases() *AliasTable {
	return w.aliases
}

// Merges returns the worksheet's merge table
func (w *Worksheet) Merges() *MergeTable {
	return w.merges
}

// CellAt returns the cell at a position, or nil when none was ever written
func (w *Worksheet) CellAt(row, col uint32) *Cell {
	id, exists := w.index[cellKey{row: row, col: col}]
	if !exists {
		return nil
	}
	return &w.cells[id]
}

// CellByID returns the cell in a slot
func (w *Worksheet) CellByID(id CellID) *Cell {
	if id == 0 || int(id) >= len(w.cells) {
		return nil
	}
	return &w.cells[id]
}

// CellID returns the slot of a position
func (w *Worksheet) CellID(row, col uint32) (CellID, bool) {
	id, exists := w.index[cellKey{row: row, col: col}]
	return id, exists
}

// ensureCell returns the cell at a position, creating its slot on first use
func (w *Worksheet) ensureCell(row, col uint32) *Cell {
	key := cellKey{row: row, col: col}
	if id, exists := w.index[key]; exists {
		return &w.cells[id]
	}

	slot, err := safecast.Conv[uint32](len(w.cells))
	if err != nil {
		panic("worksheet cell arena exhausted")
	}
	w.cells = append(w.cells, Cell{Row: row, Col: col})
	w.index[key] = CellID(slot)
	return &w.cells[slot]
}

// Cells iterates over non-empty cells in row-major order
func (w *Worksheet) Cells() iter.Seq[*Cell] {
	return func(yield func(*Cell) bool) {
		keys := make([]cellKey, 0, len(w.index))
		for key, id := range w.index {
			if !w.cells[id].isEmpty() {
				keys = append(keys, key)
			}
		}
		slices.SortFunc(keys, func(a, b cellKey) int {
			if a.row != b.row {
				return compareUint32(a.row, b.row)
			}
			return compareUint32(a.col, b.col)
		})
		for _, key := range keys {
			if !yield(&w.cells[w.index[key]]) {
				return
			}
		}
	}
}

func compareUint32(a, b uint32) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// CellCount returns the number of non-empty cells
func (w *Worksheet) CellCount() int {
	count := 0
	for _, id := range w.index {
		if !w.cells[id].isEmpty() {
			count++
		}
	}
	return count
}

// UsedRange returns the smallest range covering every non-empty cell and
// merged range
func (w *Worksheet) UsedRange() (RangeAddress, bool) {
	var used RangeAddress
	found := false
	extend := func(r RangeAddress) {
		if !found {
			used = r
			found = true
			return
		}
		used = NewRangeAddress(w.worksheetID,
			min(used.StartRow, r.StartRow), min(used.StartColumn, r.StartColumn),
			max(used.EndRow, r.EndRow), max(used.EndColumn, r.EndColumn))
	}

	for cell := range w.Cells() {
		extend(NewRangeAddress(w.worksheetID, cell.Row, cell.Col, cell.Row, cell.Col))
	}
	for _, merged := range w.merges.Ranges() {
		extend(merged)
	}
	return used, found
}
