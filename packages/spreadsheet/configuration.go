package spreadsheet

import (
	"fmt"
	"slices"
	"strings"
)

// PropertyOrigin records who owns the property a configuration selects by
type PropertyOrigin uint8

const (
	PropertyExisting  PropertyOrigin = iota // property was there before setup
	PropertyGenerated                       // setup created it, unsetup removes it
)

func (o PropertyOrigin) String() string {
	if o == PropertyGenerated {
		return "generated"
	}
	return "existing"
}

// Configuration is a configuration table: the first column of Selector
// names the configurations, and the header row mirrors the data row whose
// name equals the value of Object.Property
type Configuration struct {
	Selector RangeAddress
	Object   string
	Property string
	Group    string
	Origin   PropertyOrigin

	binding *Binding
	items   []string // names last pushed to a generated enumeration
}

// header is the row mirroring the selected configuration
func (c *Configuration) header() RangeAddress {
	return NewRangeAddress(c.Selector.WorksheetID,
		c.Selector.StartRow, c.Selector.StartColumn,
		c.Selector.StartRow, c.Selector.EndColumn)
}

// nameColumn is the first column below the header
func (c *Configuration) nameColumn() RangeAddress {
	return NewRangeAddress(c.Selector.WorksheetID,
		c.Selector.StartRow+1, c.Selector.StartColumn,
		c.Selector.EndRow, c.Selector.StartColumn)
}

// ConfigurationInfo is a read-only view of a configuration
type ConfigurationInfo struct {
	Selector  string
	Property  string // "Object.Property"
	Group     string
	Generated bool
	Names     []string
}

// splitPropertyRef splits "Object.Property" at the last dot
func splitPropertyRef(ref string) (object, property string, err error) {
	ref = strings.TrimSpace(ref)
	i := strings.LastIndex(ref, ".")
	if i <= 0 || i == len(ref)-1 {
		return "", "", newKindError(KindMalformedAddress, "property reference %q must be Object.Property", ref)
	}
	object = strings.TrimSpace(ref[:i])
	property = strings.TrimSpace(ref[i+1:])
	if !isIdentifier(property) {
		return "", "", newKindError(KindInvalidName, "invalid property name %q", property)
	}
	return object, property, nil
}

// configurationNames reads the names in the first column, skipping blanks
func (s *Spreadsheet) configurationNames(c *Configuration) []string {
	names := make([]string, 0, c.Selector.Rows()-1)
	for addr := range c.nameColumn().Cells() {
		value := s.readCell(addr)
		if value == nil {
			continue
		}
		if name := toString(value); name != "" {
			names = append(names, name)
		}
	}
	return names
}

// resolveConfigurationRow finds the data row named by the property value
func (s *Spreadsheet) resolveConfigurationRow(c *Configuration) (RangeAddress, *SpreadsheetError) {
	if s.host == nil {
		return RangeAddress{}, NewSpreadsheetError(ErrorCodeRef, "no property host")
	}
	value, exists := s.host.Property(c.Object, c.Property)
	if !exists {
		return RangeAddress{}, NewSpreadsheetError(ErrorCodeRef,
			fmt.Sprintf("property %s.%s not found", c.Object, c.Property))
	}
	want := toString(normalizeValue(value))

	for addr := range c.nameColumn().Cells() {
		value := s.readCell(addr)
		if value != nil && toString(value) == want {
			return NewRangeAddress(addr.WorksheetID,
				addr.Row, c.Selector.StartColumn,
				addr.Row, c.Selector.EndColumn), nil
		}
	}
	return RangeAddress{}, NewSpreadsheetError(ErrorCodeRef, fmt.Sprintf("no configuration named %q", want))
}

// SetupConfiguration turns selector into a configuration table driven by
// propertyRef ("Object.Property"). when the property does not exist it is
// created as an enumeration of the names in the first column, in group.
func (s *Spreadsheet) SetupConfiguration(selector, propertyRef, group string) error {
	if !s.mu.TryLock() {
		return ErrBusy
	}
	defer s.mu.Unlock()

	selectorRange, err := s.resolveRangeRef(selector)
	if err != nil {
		return err
	}
	if selectorRange.Rows() < 2 {
		return newKindError(KindShapeMismatch,
			"configuration table %s needs a header row and at least one data row",
			s.storage.qualifiedRange(selectorRange))
	}
	if _, exists := s.configurations[selectorRange]; exists {
		return newKindError(KindAlreadyExists, "configuration table %s already exists",
			s.storage.qualifiedRange(selectorRange))
	}
	object, property, err := splitPropertyRef(propertyRef)
	if err != nil {
		return err
	}
	if s.host == nil || !s.host.HasObject(object) {
		return newKindError(KindNotFound, "object %q not found", object)
	}

	cfg := &Configuration{
		Selector: selectorRange,
		Object:   object,
		Property: property,
		Group:    strings.TrimSpace(group),
		Origin:   PropertyExisting,
	}
	if err := s.checkBindingTarget(cfg.header()); err != nil {
		return err
	}

	s.beginPass()
	names := s.configurationNames(cfg)
	if _, exists := s.host.Property(object, property); !exists {
		if err := s.host.CreateEnumProperty(object, property, cfg.Group, names); err != nil {
			return fmt.Errorf("create property %s.%s: %w", object, property, err)
		}
		cfg.Origin = PropertyGenerated
		cfg.items = names
	}

	b := &Binding{
		Target: cfg.header(),
		Source: object + "." + property,
		Kind:   BindingConfiguration,
		config: cfg,
	}
	cfg.binding = b
	resolved, resolveErr := s.resolveBindingSource(b)
	s.installBinding(b, resolved, resolveErr)
	s.configurations[selectorRange] = cfg

	s.logger.Info("configuration table set up",
		"selector", s.storage.qualifiedRange(selectorRange),
		"property", b.Source,
		"origin", cfg.Origin.String())
	return nil
}

// UnsetupConfiguration removes the configuration table at selector. the
// header row gets its content back and a generated property is removed;
// the table contents stay.
func (s *Spreadsheet) UnsetupConfiguration(selector string) error {
	if !s.mu.TryLock() {
		return ErrBusy
	}
	defer s.mu.Unlock()

	selectorRange, err := s.resolveRangeRef(selector)
	if err != nil {
		return err
	}
	cfg, exists := s.configurations[selectorRange]
	if !exists {
		return newKindError(KindNotFound, "no configuration table at %s", s.storage.qualifiedRange(selectorRange))
	}
	return s.dropConfiguration(cfg, true)
}

// dropConfiguration removes a configuration and its binding
func (s *Spreadsheet) dropConfiguration(cfg *Configuration, restore bool) error {
	delete(s.configurations, cfg.Selector)
	s.removeBinding(cfg.binding, restore)

	var err error
	if cfg.Origin == PropertyGenerated && s.host != nil {
		if err = s.host.RemoveProperty(cfg.Object, cfg.Property); err != nil {
			s.logger.Warn("removing generated property failed",
				"property", cfg.Object+"."+cfg.Property,
				"error", err)
			err = fmt.Errorf("remove property %s.%s: %w", cfg.Object, cfg.Property, err)
		}
		s.relinkReaders(s.storage.formulas.PropertyUsers(cfg.Object, cfg.Property))
	}
	s.logger.Info("configuration table removed", "property", cfg.Object+"."+cfg.Property)
	return err
}

// Configurations lists the configuration tables
func (s *Spreadsheet) Configurations() ([]ConfigurationInfo, error) {
	if !s.mu.TryRLock() {
		return nil, ErrBusy
	}
	defer s.mu.RUnlock()

	result := make([]ConfigurationInfo, 0, len(s.configurations))
	for _, cfg := range s.configurations {
		var names []string
		for addr := range cfg.nameColumn().Cells() {
			if cell := s.storage.cell(addr); cell != nil && cell.Kind != ContentEmpty {
				if value := cellValue(cell); value != nil {
					names = append(names, toString(value))
				}
			}
		}
		result = append(result, ConfigurationInfo{
			Selector:  s.storage.qualifiedRange(cfg.Selector),
			Property:  cfg.Object + "." + cfg.Property,
			Group:     cfg.Group,
			Generated: cfg.Origin == PropertyGenerated,
			Names:     names,
		})
	}
	slices.SortFunc(result, func(a, b ConfigurationInfo) int {
		return strings.Compare(a.Selector, b.Selector)
	})
	return result, nil
}

// PropertyChanged tells the engine that an object property changed value.
// readers of the property and configuration tables selected by it are
// recomputed by the next pass. the value is not validated here: a value
// naming no row of a configuration table resolves its header to #REF!.
func (s *Spreadsheet) PropertyChanged(object, property string) error {
	if !s.mu.TryLock() {
		return ErrBusy
	}
	defer s.mu.Unlock()

	s.relinkReaders(s.storage.formulas.PropertyUsers(object, property))
	return nil
}

// syncConfigurations pushes the current names of every generated
// enumeration to the host and re-links the readers of the ones that
// changed. it reports whether anything was re-linked.
func (s *Spreadsheet) syncConfigurations() bool {
	if s.host == nil {
		return false
	}
	changed := false
	for _, cfg := range s.configurations {
		if cfg.Origin != PropertyGenerated {
			continue
		}
		names := s.configurationNames(cfg)
		if slices.Equal(names, cfg.items) {
			continue
		}
		if err := s.host.SetEnumItems(cfg.Object, cfg.Property, names); err != nil {
			s.logger.Warn("updating configuration names failed",
				"property", cfg.Object+"."+cfg.Property,
				"error", err)
			cfg.items = names
			continue
		}
		cfg.items = names
		s.relinkReaders(s.storage.formulas.PropertyUsers(cfg.Object, cfg.Property))
		changed = true
	}
	return changed
}
