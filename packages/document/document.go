// Package document persists spreadsheets as workbook documents. a workbook
// keeps what a user typed (cell content, aliases, display attributes,
// merges, bindings and configuration tables), never computed values.
package document

import (
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/vogtb/go-sheetcalc/packages/spreadsheet"
)

// FormatVersion is the workbook layout written by this package
const FormatVersion = 1

var (
	ErrInvalidWorkbook    = errors.New("invalid workbook")
	ErrUnsupportedVersion = errors.New("unsupported workbook version")
)

// Workbook is the persisted form of a spreadsheet
type Workbook struct {
	Version        int             `yaml:"version" msgpack:"version"`
	ID             string          `yaml:"id" msgpack:"id"`
	Sheets         []Sheet         `yaml:"sheets,omitempty" msgpack:"sheets,omitempty"`
	Bindings       []Binding       `yaml:"bindings,omitempty" msgpack:"bindings,omitempty"`
	Configurations []Configuration `yaml:"configurations,omitempty" msgpack:"configurations,omitempty"`
}

// Sheet is one worksheet. addresses are local to the sheet ("B2", "A1:C3").
type Sheet struct {
	Name   string   `yaml:"name" msgpack:"name"`
	Cells  []Cell   `yaml:"cells,omitempty" msgpack:"cells,omitempty"`
	Merges []string `yaml:"merges,omitempty" msgpack:"merges,omitempty"`
}

// Cell holds the content of a cell as it would be typed in
type Cell struct {
	Address string   `yaml:"address" msgpack:"address"`
	Content string   `yaml:"content,omitempty" msgpack:"content,omitempty"`
	Alias   string   `yaml:"alias,omitempty" msgpack:"alias,omitempty"`
	Display *Display `yaml:"display,omitempty" msgpack:"display,omitempty"`
}

type Display struct {
	Alignment  string `yaml:"alignment,omitempty" msgpack:"alignment,omitempty"`
	Style      string `yaml:"style,omitempty" msgpack:"style,omitempty"`
	Foreground string `yaml:"foreground,omitempty" msgpack:"foreground,omitempty"`
	Background string `yaml:"background,omitempty" msgpack:"background,omitempty"`
	Unit       string `yaml:"unit,omitempty" msgpack:"unit,omitempty"`
}

// Binding addresses are qualified ("Sheet1.A1:A3")
type Binding struct {
	Target string `yaml:"target" msgpack:"target"`
	Source string `yaml:"source" msgpack:"source"`
	Hidden bool   `yaml:"hidden,omitempty" msgpack:"hidden,omitempty"`
}

type Configuration struct {
	Selector string `yaml:"selector" msgpack:"selector"`
	Property string `yaml:"property" msgpack:"property"`
	Group    string `yaml:"group,omitempty" msgpack:"group,omitempty"`
}

// New creates an empty workbook with a fresh ID
func New() *Workbook {
	return &Workbook{Version: FormatVersion, ID: uuid.NewString()}
}

// Validate checks the structure of a decoded workbook
func (wb *Workbook) Validate() error {
	if wb.Version < 1 || wb.Version > FormatVersion {
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, wb.Version)
	}
	if _, err := uuid.Parse(wb.ID); err != nil {
		return fmt.Errorf("%w: id %q: %v", ErrInvalidWorkbook, wb.ID, err)
	}
	seen := make(map[string]bool, len(wb.Sheets))
	for _, sheet := range wb.Sheets {
		name, err := spreadsheet.ValidateWorksheetName(sheet.Name)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidWorkbook, err)
		}
		if seen[name] {
			return fmt.Errorf("%w: duplicate sheet %q", ErrInvalidWorkbook, name)
		}
		seen[name] = true
		for _, cell := range sheet.Cells {
			if _, _, err := spreadsheet.ParseA1(cell.Address); err != nil {
				return fmt.Errorf("%w: sheet %q cell %q: %v", ErrInvalidWorkbook, name, cell.Address, err)
			}
		}
	}
	return nil
}

// Sheet returns the sheet with the given name
func (wb *Workbook) Sheet(name string) (*Sheet, bool) {
	for i := range wb.Sheets {
		if wb.Sheets[i].Name == name {
			return &wb.Sheets[i], true
		}
	}
	return nil, false
}

func fromDisplay(d spreadsheet.Display) *Display {
	if d.IsZero() {
		return nil
	}
	return &Display{
		Alignment:  d.Alignment,
		Style:      d.Style,
		Foreground: d.Foreground,
		Background: d.Background,
		Unit:       d.Unit,
	}
}

func (d *Display) toDisplay() spreadsheet.Display {
	if d == nil {
		return spreadsheet.Display{}
	}
	return spreadsheet.Display{
		Alignment:  d.Alignment,
		Style:      d.Style,
		Foreground: d.Foreground,
		Background: d.Background,
		Unit:       d.Unit,
	}
}

// Capture converts a spreadsheet into a new workbook. bound cells are
// written without content since their value comes from the binding.
func Capture(s *spreadsheet.Spreadsheet) (*Workbook, error) {
	wb := New()

	for _, name := range s.ListWorksheets() {
		sheet, err := captureSheet(s, name)
		if err != nil {
			return nil, fmt.Errorf("capture sheet %q: %w", name, err)
		}
		wb.Sheets = append(wb.Sheets, sheet)
	}

	bindings, err := s.Bindings()
	if err != nil {
		return nil, fmt.Errorf("capture bindings: %w", err)
	}
	for _, b := range bindings {
		// configuration tables own their header binding
		if b.Configuration {
			continue
		}
		wb.Bindings = append(wb.Bindings, Binding{Target: b.Target, Source: b.Source, Hidden: b.Hidden})
	}

	configs, err := s.Configurations()
	if err != nil {
		return nil, fmt.Errorf("capture configurations: %w", err)
	}
	for _, c := range configs {
		wb.Configurations = append(wb.Configurations, Configuration{
			Selector: c.Selector,
			Property: c.Property,
			Group:    c.Group,
		})
	}
	return wb, nil
}

type cellPosition struct {
	row, col uint32
}

func captureSheet(s *spreadsheet.Spreadsheet, name string) (Sheet, error) {
	sheet := Sheet{Name: name}

	infos, err := s.ListCells(name)
	if err != nil {
		return sheet, err
	}
	positions := make(map[string]cellPosition)
	index := make(map[string]int)
	for _, info := range infos {
		cell := Cell{
			Address: spreadsheet.Unqualify(info.Address),
			Alias:   info.Alias,
			Display: fromDisplay(info.Display),
		}
		if info.Kind != spreadsheet.ContentBound {
			cell.Content = info.Content
		}
		if cell.Content == "" && cell.Alias == "" && cell.Display == nil {
			continue
		}
		index[cell.Address] = len(sheet.Cells)
		sheet.Cells = append(sheet.Cells, cell)
	}

	// aliases may name cells that hold nothing
	aliases, err := s.Aliases(name)
	if err != nil {
		return sheet, err
	}
	for _, entry := range aliases {
		address := entry.Address.A1()
		if i, exists := index[address]; exists {
			sheet.Cells[i].Alias = entry.Name
			continue
		}
		index[address] = len(sheet.Cells)
		sheet.Cells = append(sheet.Cells, Cell{Address: address, Alias: entry.Name})
	}

	for _, cell := range sheet.Cells {
		row, col, err := spreadsheet.ParseA1(cell.Address)
		if err != nil {
			return sheet, err
		}
		positions[cell.Address] = cellPosition{row, col}
	}
	slices.SortFunc(sheet.Cells, func(a, b Cell) int {
		pa, pb := positions[a.Address], positions[b.Address]
		if pa.row != pb.row {
			return int(pa.row) - int(pb.row)
		}
		return int(pa.col) - int(pb.col)
	})

	merges, err := s.MergedRanges(name)
	if err != nil {
		return sheet, err
	}
	for _, merged := range merges {
		sheet.Merges = append(sheet.Merges, spreadsheet.Unqualify(merged))
	}
	slices.Sort(sheet.Merges)
	return sheet, nil
}

// Restore builds a spreadsheet from a workbook. expressions that do not
// parse are restored as they are and show their error after the next
// recompute. the returned spreadsheet has not been recomputed.
func Restore(wb *Workbook, opts ...spreadsheet.Option) (*spreadsheet.Spreadsheet, error) {
	if err := wb.Validate(); err != nil {
		return nil, err
	}
	s := spreadsheet.NewSpreadsheet(opts...)

	// every sheet exists before any expression is linked
	for _, sheet := range wb.Sheets {
		if err := s.AddWorksheet(sheet.Name); err != nil {
			return nil, fmt.Errorf("restore sheet %q: %w", sheet.Name, err)
		}
	}

	for _, sheet := range wb.Sheets {
		if err := restoreSheet(s, sheet); err != nil {
			return nil, fmt.Errorf("restore sheet %q: %w", sheet.Name, err)
		}
	}

	for _, b := range wb.Bindings {
		if err := s.Bind(b.Target, b.Source, b.Hidden); err != nil {
			return nil, fmt.Errorf("restore binding %s: %w", b.Target, err)
		}
	}
	for _, c := range wb.Configurations {
		if err := s.SetupConfiguration(c.Selector, c.Property, c.Group); err != nil {
			return nil, fmt.Errorf("restore configuration %s: %w", c.Selector, err)
		}
	}
	return s, nil
}

func restoreSheet(s *spreadsheet.Spreadsheet, sheet Sheet) error {
	// merging clears members, so merges go first
	for _, merged := range sheet.Merges {
		if err := s.Merge(spreadsheet.Qualify(sheet.Name, merged)); err != nil {
			return fmt.Errorf("merge %s: %w", merged, err)
		}
	}

	edits := make([]spreadsheet.Edit, 0, len(sheet.Cells))
	for _, cell := range sheet.Cells {
		if cell.Content != "" {
			edits = append(edits, spreadsheet.Edit{
				Address: spreadsheet.Qualify(sheet.Name, cell.Address),
				Value:   cell.Content,
			})
		}
	}
	if err := s.ApplyEdits(edits); err != nil && !errors.Is(err, spreadsheet.ErrSyntax) {
		return err
	}

	for _, cell := range sheet.Cells {
		address := spreadsheet.Qualify(sheet.Name, cell.Address)
		if cell.Alias != "" {
			if err := s.SetAlias(address, cell.Alias); err != nil {
				return fmt.Errorf("alias %s: %w", cell.Alias, err)
			}
		}
		if cell.Display != nil {
			if err := s.SetDisplay(address, cell.Display.toDisplay()); err != nil {
				return fmt.Errorf("display of %s: %w", cell.Address, err)
			}
		}
	}
	return nil
}
