package spreadsheet

import (
	"sort"
)

// MergeTable tracks merged ranges on one worksheet. every member cell maps
// to its anchor (the top-left cell), and every anchor maps to its range.
type MergeTable struct {
	anchors map[CellAddress]RangeAddress
	members map[CellAddress]CellAddress
}

// NewMergeTable creates an empty merge table
func NewMergeTable() *MergeTable {
	return &MergeTable{
		anchors: make(map[CellAddress]RangeAddress),
		members: make(map[CellAddress]CellAddress),
	}
}

// Merge records r as merged. r must span more than one cell and must not
// touch an existing merge.
func (mt *MergeTable) Merge(r RangeAddress) error {
	if r.IsSingleCell() {
		return newKindError(KindMalformedAddress, "cannot merge a single cell %s", r.A1())
	}
	if existing, overlaps := mt.Overlapping(r); overlaps {
		return newKindError(KindOverlap, "range %s overlaps merged range %s", r.A1(), existing.A1())
	}
	anchor := r.Start()
	mt.anchors[anchor] = r
	for addr := range r.Cells() {
		mt.members[addr] = anchor
	}
	return nil
}

// Split removes a merge. r must be exactly a merged range.
func (mt *MergeTable) Split(r RangeAddress) error {
	existing, ok := mt.anchors[r.Start()]
	if !ok || existing != r {
		return newKindError(KindNotMerged, "range %s is not merged", r.A1())
	}
	delete(mt.anchors, r.Start())
	for addr := range r.Cells() {
		delete(mt.members, addr)
	}
	return nil
}

// Overlapping returns a merged range that intersects r
func (mt *MergeTable) Overlapping(r RangeAddress) (RangeAddress, bool) {
	for _, merged := range mt.anchors {
		if merged.Intersects(r) {
			return merged, true
		}
	}
	return RangeAddress{}, false
}

// Canonical redirects a member of a merged range to its anchor
func (mt *MergeTable) Canonical(addr CellAddress) CellAddress {
	if anchor, ok := mt.members[addr]; ok {
		return anchor
	}
	return addr
}

// IsShadowed reports whether addr is a non-anchor member of a merge
func (mt *MergeTable) IsShadowed(addr CellAddress) bool {
	anchor, ok := mt.members[addr]
	return ok && anchor != addr
}

// RangeAt returns the merged range containing addr
func (mt *MergeTable) RangeAt(addr CellAddress) (RangeAddress, bool) {
	anchor, ok := mt.members[addr]
	if !ok {
		return RangeAddress{}, false
	}
	return mt.anchors[anchor], true
}

// Ranges returns all merged ranges in row, then column order
func (mt *MergeTable) Ranges() []RangeAddress {
	result := make([]RangeAddress, 0, len(mt.anchors))
	for _, r := range mt.anchors {
		result = append(result, r)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].StartRow != result[j].StartRow {
			return result[i].StartRow < result[j].StartRow
		}
		return result[i].StartColumn < result[j].StartColumn
	})
	return result
}

// Count returns the number of merged ranges
func (mt *MergeTable) Count() int {
	return len(mt.anchors)
}
