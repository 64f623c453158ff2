package spreadsheet

import (
	"slices"
)

// DependencyNode holds the edges of one cell. edges are address sets, so a
// node never owns another node.
type DependencyNode struct {
	CellPrecedents  map[CellAddress]struct{}  // cells this cell reads
	CellDependents  map[CellAddress]struct{}  // cells that read this cell
	RangePrecedents map[RangeAddress]struct{} // ranges this cell reads
}

// DependencyGraph tracks reader to readee edges, the back edges used for
// dirty propagation, and the set of cells waiting for recompute
type DependencyGraph struct {
	nodes          map[CellAddress]*DependencyNode           // all nodes in the graph
	rangeObservers map[RangeAddress]map[CellAddress]struct{} // range -> cells that depend on it
	dirtySet       map[CellAddress]struct{}                  // cells needing recalculation
}

// NewDependencyGraph creates a new dependency graph
func NewDependencyGraph() *DependencyGraph {
	return &DependencyGraph{
		nodes:          make(map[CellAddress]*DependencyNode),
		rangeObservers: make(map[RangeAddress]map[CellAddress]struct{}),
		dirtySet:       make(map[CellAddress]struct{}),
	}
}

// compareAddresses orders addresses by worksheet, row, then column
func compareAddresses(a, b CellAddress) int {
	if a.WorksheetID != b.WorksheetID {
		if a.WorksheetID < b.WorksheetID {
			return -1
		}
		return 1
	}
	if a.Row != b.Row {
		if a.Row < b.Row {
			return -1
		}
		return 1
	}
	if a.Column != b.Column {
		if a.Column < b.Column {
			return -1
		}
		return 1
	}
	return 0
}

// sortedAddresses returns the keys of an address set in evaluation order
func sortedAddresses(set map[CellAddress]struct{}) []CellAddress {
	result := make([]CellAddress, 0, len(set))
	for addr := range set {
		result = append(result, addr)
	}
	slices.SortFunc(result, compareAddresses)
	return result
}

func (dg *DependencyGraph) getOrCreateNode(addr CellAddress) *DependencyNode {
	if node, exists := dg.nodes[addr]; exists {
		return node
	}

	node := &DependencyNode{
		CellPrecedents:  make(map[CellAddress]struct{}),
		CellDependents:  make(map[CellAddress]struct{}),
		RangePrecedents: make(map[RangeAddress]struct{}),
	}
	dg.nodes[addr] = node
	return node
}

// GetNode retrieves a node if it exists
func (dg *DependencyGraph) GetNode(addr CellAddress) (*DependencyNode, bool) {
	node, exists := dg.nodes[addr]
	return node, exists
}

// RemoveNode removes a node and every edge touching it
func (dg *DependencyGraph) RemoveNode(addr CellAddress) bool {
	node, exists := dg.nodes[addr]
	if !exists {
		return false
	}

	dg.ClearDependencies(addr)

	// dependents lose their edge to this cell
	for dependentAddr := range node.CellDependents {
		if dependent, ok := dg.nodes[dependentAddr]; ok {
			delete(dependent.CellPrecedents, addr)
			dg.cleanupNodeIfEmpty(dependentAddr)
		}
	}

	delete(dg.dirtySet, addr)
	delete(dg.nodes, addr)
	return true
}

// cleanupNodeIfEmpty removes a node that has no edges left
func (dg *DependencyGraph) cleanupNodeIfEmpty(addr CellAddress) {
	node, exists := dg.nodes[addr]
	if !exists {
		return
	}

	if len(node.CellPrecedents) > 0 ||
		len(node.CellDependents) > 0 ||
		len(node.RangePrecedents) > 0 {
		return
	}

	delete(dg.nodes, addr)
}

// AddCellDependency adds a cell-to-cell dependency (from depends on to)
func (dg *DependencyGraph) AddCellDependency(from, to CellAddress) {
	dg.getOrCreateNode(from).CellPrecedents[to] = struct{}{}
	dg.getOrCreateNode(to).CellDependents[from] = struct{}{}
}

// AddRangeDependency adds a dependency on a range. ranges are not expanded
// into cell edges; edits find their observers with RangeObserversOf.
func (dg *DependencyGraph) AddRangeDependency(from CellAddress, rangeAddr RangeAddress) {
	dg.getOrCreateNode(from).RangePrecedents[rangeAddr] = struct{}{}

	observers, exists := dg.rangeObservers[rangeAddr]
	if !exists {
		observers = make(map[CellAddress]struct{})
		dg.rangeObservers[rangeAddr] = observers
	}
	observers[from] = struct{}{}
}

// ClearDependencies removes the outgoing edges of a cell. its dependents
// are left alone.
func (dg *DependencyGraph) ClearDependencies(addr CellAddress) {
	node, exists := dg.nodes[addr]
	if !exists {
		return
	}

	for precedentAddr := range node.CellPrecedents {
		if precedent, ok := dg.nodes[precedentAddr]; ok {
			delete(precedent.CellDependents, addr)
			dg.cleanupNodeIfEmpty(precedentAddr)
		}
	}
	clear(node.CellPrecedents)

	for rangeAddr := range node.RangePrecedents {
		if observers, ok := dg.rangeObservers[rangeAddr]; ok {
			delete(observers, addr)
			if len(observers) == 0 {
				delete(dg.rangeObservers, rangeAddr)
			}
		}
	}
	clear(node.RangePrecedents)

	dg.cleanupNodeIfEmpty(addr)
}

// MarkDirty marks a cell as needing recalculation
func (dg *DependencyGraph) MarkDirty(addr CellAddress) {
	dg.dirtySet[addr] = struct{}{}
}

// ClearDirty clears the dirty flag for a cell
func (dg *DependencyGraph) ClearDirty(addr CellAddress) {
	delete(dg.dirtySet, addr)
}

// IsDirty reports whether a cell waits for recompute
func (dg *DependencyGraph) IsDirty(addr CellAddress) bool {
	_, dirty := dg.dirtySet[addr]
	return dirty
}

// DirtyCells returns the dirty cells in (worksheet, row, column) order
func (dg *DependencyGraph) DirtyCells() []CellAddress {
	return sortedAddresses(dg.dirtySet)
}

// DirtyCount returns the number of dirty cells
func (dg *DependencyGraph) DirtyCount() int {
	return len(dg.dirtySet)
}

// GetDirectDependents returns cells directly depending on this cell
func (dg *DependencyGraph) GetDirectDependents(addr CellAddress) []CellAddress {
	node, exists := dg.nodes[addr]
	if !exists {
		return nil
	}
	return sortedAddresses(node.CellDependents)
}

// GetDirectPrecedents returns cells this cell directly depends on
func (dg *DependencyGraph) GetDirectPrecedents(addr CellAddress) []CellAddress {
	node, exists := dg.nodes[addr]
	if !exists {
		return nil
	}
	return sortedAddresses(node.CellPrecedents)
}

// GetRangePrecedents returns ranges this cell depends on
func (dg *DependencyGraph) GetRangePrecedents(addr CellAddress) []RangeAddress {
	node, exists := dg.nodes[addr]
	if !exists {
		return nil
	}

	result := make([]RangeAddress, 0, len(node.RangePrecedents))
	for rangeAddr := range node.RangePrecedents {
		result = append(result, rangeAddr)
	}
	return result
}

// RangeObserversOf returns the cells observing a range that contains addr
func (dg *DependencyGraph) RangeObserversOf(addr CellAddress) []CellAddress {
	found := make(map[CellAddress]struct{})
	for rangeAddr, observers := range dg.rangeObservers {
		if rangeAddr.Contains(addr) {
			for observerAddr := range observers {
				found[observerAddr] = struct{}{}
			}
		}
	}
	return sortedAddresses(found)
}

// ReadersOf returns every cell that reads any cell of r, directly or
// through an observed range
func (dg *DependencyGraph) ReadersOf(r RangeAddress) []CellAddress {
	found := make(map[CellAddress]struct{})
	for addr := range r.Cells() {
		if node, exists := dg.nodes[addr]; exists {
			for dependentAddr := range node.CellDependents {
				found[dependentAddr] = struct{}{}
			}
		}
	}
	for rangeAddr, observers := range dg.rangeObservers {
		if rangeAddr.Intersects(r) {
			for observerAddr := range observers {
				found[observerAddr] = struct{}{}
			}
		}
	}
	return sortedAddresses(found)
}

// NodesOnWorksheet returns every node on a worksheet
func (dg *DependencyGraph) NodesOnWorksheet(worksheetID uint32) []CellAddress {
	found := make(map[CellAddress]struct{})
	for addr := range dg.nodes {
		if addr.WorksheetID == worksheetID {
			found[addr] = struct{}{}
		}
	}
	return sortedAddresses(found)
}

// ObserversOfWorksheet returns the cells observing some range on a worksheet
func (dg *DependencyGraph) ObserversOfWorksheet(worksheetID uint32) []CellAddress {
	found := make(map[CellAddress]struct{})
	for rangeAddr, observers := range dg.rangeObservers {
		if rangeAddr.WorksheetID == worksheetID {
			for observerAddr := range observers {
				found[observerAddr] = struct{}{}
			}
		}
	}
	return sortedAddresses(found)
}

// GetAffectedCells walks back edges breadth first from the seeds and
// returns every reader reached, each once. skip is consulted for each
// reader; a skipped reader is neither returned nor walked through.
func (dg *DependencyGraph) GetAffectedCells(seeds []CellAddress, skip func(CellAddress) bool) []CellAddress {
	visited := make(map[CellAddress]struct{}, len(seeds))
	queue := make([]CellAddress, 0, len(seeds))
	for _, seed := range seeds {
		if _, seen := visited[seed]; !seen {
			visited[seed] = struct{}{}
			queue = append(queue, seed)
		}
	}

	var result []CellAddress
	for len(queue) > 0 {
		addr := queue[0]
		queue = queue[1:]

		readers := dg.GetDirectDependents(addr)
		readers = append(readers, dg.RangeObserversOf(addr)...)
		for _, reader := range readers {
			if _, seen := visited[reader]; seen {
				continue
			}
			visited[reader] = struct{}{}
			if skip != nil && skip(reader) {
				continue
			}
			result = append(result, reader)
			queue = append(queue, reader)
		}
	}
	return result
}

// NodeCount returns the number of cells with edges
func (dg *DependencyGraph) NodeCount() int {
	return len(dg.nodes)
}

// RangeObserverCount returns the number of observed ranges
func (dg *DependencyGraph) RangeObserverCount() int {
	return len(dg.rangeObservers)
}

// Clear drops every edge and dirty flag
func (dg *DependencyGraph) Clear() {
	dg.nodes = make(map[CellAddress]*DependencyNode)
	dg.rangeObservers = make(map[RangeAddress]map[CellAddress]struct{})
	dg.dirtySet = make(map[CellAddress]struct{})
}
