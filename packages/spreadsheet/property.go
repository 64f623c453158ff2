package spreadsheet

import (
	"fmt"
	"slices"
	"sync"
)

// PropertyHost gives expressions access to properties of objects that live
// outside the spreadsheet. "Object.Property" in an expression reads one
// when Object is not a worksheet name. configurations create and update
// enumeration properties through it.
//
// the host owns property values and is the layer that rejects a value
// outside an enumeration's items; the engine only sets a value when it
// creates a property. a host that stores such a value anyway leaves
// configuration tables selected by it showing #REF! until the value names
// a row again.
type PropertyHost interface {
	HasObject(object string) bool
	Property(object, property string) (Primitive, bool)
	CreateEnumProperty(object, property, group string, items []string) error
	SetEnumItems(object, property string, items []string) error
	RemoveProperty(object, property string) error
}

type hostProperty struct {
	group string
	value Primitive
	items []string // non-nil for enumerations
}

// MemoryPropertyHost is a PropertyHost backed by maps. it is safe for
// concurrent use.
type MemoryPropertyHost struct {
	mu      sync.Mutex
	objects map[string]map[string]*hostProperty
}

var _ PropertyHost = (*MemoryPropertyHost)(nil)

// NewMemoryPropertyHost creates a host without objects
func NewMemoryPropertyHost() *MemoryPropertyHost {
	return &MemoryPropertyHost{
		objects: make(map[string]map[string]*hostProperty),
	}
}

// AddObject registers an object. adding an existing object is a no-op.
func (h *MemoryPropertyHost) AddObject(object string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.objects[object]; !exists {
		h.objects[object] = make(map[string]*hostProperty)
	}
}

// SetProperty sets a property value, creating the object and property as
// needed. an enumeration only accepts one of its items; any other value
// returns InvalidArgument and the current value is kept.
func (h *MemoryPropertyHost) SetProperty(object, property string, value Primitive) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	props, exists := h.objects[object]
	if !exists {
		props = make(map[string]*hostProperty)
		h.objects[object] = props
	}
	prop, exists := props[property]
	if !exists {
		props[property] = &hostProperty{value: normalizeValue(value)}
		return nil
	}
	if prop.items != nil {
		text := toString(normalizeValue(value))
		if !slices.Contains(prop.items, text) {
			return NewApplicationError(InvalidArgument,
				fmt.Sprintf("%q is not an item of %s.%s", text, object, property))
		}
		prop.value = text
		return nil
	}
	prop.value = normalizeValue(value)
	return nil
}

// HasObject reports whether the object exists
func (h *MemoryPropertyHost) HasObject(object string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, exists := h.objects[object]
	return exists
}

// Property returns a property value
func (h *MemoryPropertyHost) Property(object, property string) (Primitive, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	prop, exists := h.objects[object][property]
	if !exists {
		return nil, false
	}
	return prop.value, true
}

// CreateEnumProperty adds an enumeration whose value starts at its first item
func (h *MemoryPropertyHost) CreateEnumProperty(object, property, group string, items []string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	props, exists := h.objects[object]
	if !exists {
		return NewApplicationError(NotFound, fmt.Sprintf("object %q not found", object))
	}
	if _, exists := props[property]; exists {
		return NewApplicationError(AlreadyExists, fmt.Sprintf("property %s.%s already exists", object, property))
	}
	prop := &hostProperty{group: group, items: slices.Clone(items)}
	if prop.items == nil {
		prop.items = []string{}
	}
	if len(prop.items) > 0 {
		prop.value = prop.items[0]
	}
	props[property] = prop
	return nil
}

// SetEnumItems replaces the items of an enumeration. a value that is no
// longer an item moves to the first item.
func (h *MemoryPropertyHost) SetEnumItems(object, property string, items []string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	prop, exists := h.objects[object][property]
	if !exists || prop.items == nil {
		return NewApplicationError(NotFound, fmt.Sprintf("enumeration %s.%s not found", object, property))
	}
	prop.items = slices.Clone(items)
	if prop.items == nil {
		prop.items = []string{}
	}
	if current, ok := prop.value.(string); !ok || !slices.Contains(prop.items, current) {
		prop.value = nil
		if len(prop.items) > 0 {
			prop.value = prop.items[0]
		}
	}
	return nil
}

// RemoveProperty deletes a property
func (h *MemoryPropertyHost) RemoveProperty(object, property string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	props, exists := h.objects[object]
	if !exists {
		return NewApplicationError(NotFound, fmt.Sprintf("object %q not found", object))
	}
	if _, exists := props[property]; !exists {
		return NewApplicationError(NotFound, fmt.Sprintf("property %s.%s not found", object, property))
	}
	delete(props, property)
	return nil
}

// EnumItems returns the items of an enumeration
func (h *MemoryPropertyHost) EnumItems(object, property string) ([]string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	prop, exists := h.objects[object][property]
	if !exists || prop.items == nil {
		return nil, false
	}
	return slices.Clone(prop.items), true
}

// Group returns the group a property was created in
func (h *MemoryPropertyHost) Group(object, property string) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	prop, exists := h.objects[object][property]
	if !exists {
		return "", false
	}
	return prop.group, true
}
