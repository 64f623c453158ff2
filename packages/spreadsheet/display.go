package spreadsheet

import (
	"strings"
)

// Display holds the presentation attributes of a cell. the engine stores
// and persists them but never reads them during evaluation.
type Display struct {
	Alignment  string // e.g. "left|vcenter"
	Style      string // e.g. "bold|italic"
	Foreground string
	Background string
	Unit       string
}

// IsZero reports whether no attribute is set
func (d Display) IsZero() bool {
	return d == Display{}
}

var (
	horizontalAlignments = map[string]bool{"left": true, "center": true, "right": true}
	verticalAlignments   = map[string]bool{"top": true, "vcenter": true, "bottom": true}
	styleFlags           = map[string]bool{"bold": true, "italic": true, "underline": true}
)

// normalize validates the alignment and style flag lists and puts them in
// a canonical order so equal displays intern to the same ID
func (d Display) normalize() (Display, error) {
	alignment, err := normalizeFlags(d.Alignment, func(flag string) int {
		if horizontalAlignments[flag] {
			return 0
		}
		if verticalAlignments[flag] {
			return 1
		}
		return -1
	})
	if err != nil {
		return Display{}, err
	}
	style, err := normalizeFlags(d.Style, func(flag string) int {
		switch flag {
		case "bold":
			return 0
		case "italic":
			return 1
		case "underline":
			return 2
		}
		return -1
	})
	if err != nil {
		return Display{}, err
	}
	d.Alignment = alignment
	d.Style = style
	d.Foreground = strings.TrimSpace(d.Foreground)
	d.Background = strings.TrimSpace(d.Background)
	return d, nil
}

// normalizeFlags parses a "|" separated flag list. slot returns the
// position of a flag in the output, or -1 for an unknown flag. two flags
// claiming the same slot is an error.
func normalizeFlags(value string, slot func(string) int) (string, error) {
	if strings.TrimSpace(value) == "" {
		return "", nil
	}
	var slots [3]string
	for _, part := range strings.Split(value, "|") {
		flag := strings.ToLower(strings.TrimSpace(part))
		if flag == "" {
			continue
		}
		i := slot(flag)
		if i < 0 {
			return "", newKindError(KindInvalidName, "unknown display flag %q", flag)
		}
		if slots[i] != "" && slots[i] != flag {
			return "", newKindError(KindInvalidName, "conflicting display flags %q and %q", slots[i], flag)
		}
		slots[i] = flag
	}
	parts := make([]string, 0, len(slots))
	for _, flag := range slots {
		if flag != "" {
			parts = append(parts, flag)
		}
	}
	return strings.Join(parts, "|"), nil
}

// DisplayTable interns display attributes with reference counting. most
// cells share a handful of displays, so cells only keep the ID.
type DisplayTable struct {
	displays   map[Display]uint32
	reverseMap map[uint32]Display
	refCounts  map[uint32]int
	nextID     uint32
}

// NewDisplayTable creates a new display table
func NewDisplayTable() *DisplayTable {
	return &DisplayTable{
		displays:   make(map[Display]uint32),
		reverseMap: make(map[uint32]Display),
		refCounts:  make(map[uint32]int),
		nextID:     1, // start at 1, reserve 0 for no display
	}
}

// Intern adds a display to the table or increments its reference count if
// it already exists. the zero display is never stored and returns 0.
func (dt *DisplayTable) Intern(d Display) uint32 {
	if d.IsZero() {
		return 0
	}
	if id, exists := dt.displays[d]; exists {
		dt.refCounts[id]++
		return id
	}

	id := dt.nextID
	dt.displays[d] = id
	dt.reverseMap[id] = d
	dt.refCounts[id] = 1
	dt.nextID++

	return id
}

// Get retrieves a display by its ID. ID 0 is the zero display.
func (dt *DisplayTable) Get(id uint32) Display {
	return dt.reverseMap[id]
}

// RemoveReference decrements the reference count for a display ID. if the
// count reaches 0, the display is removed from the table. returns true if
// the display was removed.
func (dt *DisplayTable) RemoveReference(id uint32) bool {
	d, exists := dt.reverseMap[id]
	if !exists {
		return false
	}

	dt.refCounts[id]--
	if dt.refCounts[id] <= 0 {
		delete(dt.displays, d)
		delete(dt.reverseMap, id)
		delete(dt.refCounts, id)
		return true
	}

	return false
}

// GetReferenceCount returns the reference count for a display ID
func (dt *DisplayTable) GetReferenceCount(id uint32) int {
	return dt.refCounts[id]
}

// Count returns the number of unique displays in the table
func (dt *DisplayTable) Count() int {
	return len(dt.displays)
}
