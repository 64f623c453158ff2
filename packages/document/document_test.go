package document

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/vogtb/go-sheetcalc/packages/spreadsheet"
)

func pumpHost() *spreadsheet.MemoryPropertyHost {
	host := spreadsheet.NewMemoryPropertyHost()
	host.AddObject("Pump")
	return host
}

// newSampleSpreadsheet builds two sheets exercising every persisted feature
func newSampleSpreadsheet(t *testing.T) *spreadsheet.Spreadsheet {
	t.Helper()
	s := spreadsheet.NewSpreadsheet(spreadsheet.WithPropertyHost(pumpHost()))
	require.NoError(t, s.AddWorksheet("Inputs"))
	require.NoError(t, s.AddWorksheet("Report"))

	err := s.ApplyEdits([]spreadsheet.Edit{
		{Address: "Inputs.A1", Value: 10},
		{Address: "Inputs.A2", Value: 32},
		{Address: "Inputs.A3", Value: "'007"},
		{Address: "Inputs.B1", Value: "=SUM(A1:A2)"},
		{Address: "Inputs.D1", Value: "Mode"},
		{Address: "Inputs.E1", Value: "Value"},
		{Address: "Inputs.D2", Value: "Eco"},
		{Address: "Inputs.E2", Value: 1},
		{Address: "Inputs.D3", Value: "Boost"},
		{Address: "Inputs.E3", Value: 2},
		{Address: "Report.A1", Value: "=Inputs.total*2"},
		{Address: "Report.B1", Value: "=1+"},
	})
	require.ErrorIs(t, err, spreadsheet.ErrSyntax)

	require.NoError(t, s.SetAlias("Inputs.B1", "total"))
	require.NoError(t, s.SetAlias("Report.F5", "spare"))
	require.NoError(t, s.SetDisplay("Inputs.B1", spreadsheet.Display{Style: "bold", Unit: "kg"}))
	require.NoError(t, s.Merge("Report.C1:D2"))
	require.NoError(t, s.Bind("Report.E1:E2", "Inputs.A1:A2", false))
	require.NoError(t, s.SetupConfiguration("Inputs.D1:E3", "Pump.Mode", "Config"))

	_, err = s.Recompute()
	require.NoError(t, err)
	return s
}

func findCell(t *testing.T, sheet *Sheet, address string) Cell {
	t.Helper()
	for _, cell := range sheet.Cells {
		if cell.Address == address {
			return cell
		}
	}
	t.Fatalf("cell %s not captured", address)
	return Cell{}
}

func TestCapture(t *testing.T) {
	wb, err := Capture(newSampleSpreadsheet(t))
	require.NoError(t, err)
	require.NoError(t, wb.Validate())
	assert.Equal(t, FormatVersion, wb.Version)

	require.Len(t, wb.Sheets, 2)
	assert.Equal(t, "Inputs", wb.Sheets[0].Name)
	assert.Equal(t, "Report", wb.Sheets[1].Name)

	inputs, ok := wb.Sheet("Inputs")
	require.True(t, ok)
	assert.Equal(t, Cell{
		Address: "B1",
		Content: "=SUM(A1:A2)",
		Alias:   "total",
		Display: &Display{Style: "bold", Unit: "kg"},
	}, findCell(t, inputs, "B1"))
	assert.Equal(t, "'007", findCell(t, inputs, "A3").Content)
	for _, cell := range inputs.Cells {
		assert.NotEqual(t, "D1", cell.Address, "configuration headers are not persisted")
	}

	report, ok := wb.Sheet("Report")
	require.True(t, ok)
	assert.Equal(t, []string{"C1:D2"}, report.Merges)
	assert.Equal(t, "=1+", findCell(t, report, "B1").Content)
	assert.Equal(t, Cell{Address: "F5", Alias: "spare"}, findCell(t, report, "F5"))
	for _, cell := range report.Cells {
		assert.NotEqual(t, "E1", cell.Address, "bound cells are not persisted")
	}
	assert.Equal(t, "F5", report.Cells[len(report.Cells)-1].Address, "cells are in row-major order")

	assert.Equal(t, []Binding{{Target: "Report.E1:E2", Source: "Inputs.A1:A2"}}, wb.Bindings)
	assert.Equal(t, []Configuration{{Selector: "Inputs.D1:E3", Property: "Pump.Mode", Group: "Config"}}, wb.Configurations)

	_, ok = wb.Sheet("Missing")
	assert.False(t, ok)
}

func TestRestore(t *testing.T) {
	wb, err := Capture(newSampleSpreadsheet(t))
	require.NoError(t, err)

	host := pumpHost()
	s, err := Restore(wb, spreadsheet.WithPropertyHost(host))
	require.NoError(t, err)
	_, err = s.Recompute()
	require.NoError(t, err)

	get := func(address string) spreadsheet.Primitive {
		value, err := s.Get(address)
		require.NoError(t, err)
		return value
	}
	assert.Equal(t, 42.0, get("Inputs.B1"))
	assert.Equal(t, "007", get("Inputs.A3"))
	assert.Equal(t, 84.0, get("Report.A1"))
	broken, err := s.CellInfo("Report.B1")
	require.NoError(t, err)
	assert.Equal(t, spreadsheet.CellError, broken.State)
	assert.True(t, broken.Stale)
	assert.ErrorIs(t, broken.SyntaxErr, spreadsheet.ErrSyntax)
	assert.Nil(t, broken.Value)
	assert.Equal(t, 32.0, get("Report.E2"))
	assert.Equal(t, "Eco", get("Inputs.D1"))
	assert.Equal(t, 1.0, get("Inputs.E1"))

	items, ok := host.EnumItems("Pump", "Mode")
	require.True(t, ok)
	assert.Equal(t, []string{"Eco", "Boost"}, items)

	address, err := s.ResolveAlias("Report", "spare")
	require.NoError(t, err)
	assert.Equal(t, "Report.F5", address)
	display, err := s.Display("Inputs.B1")
	require.NoError(t, err)
	assert.Equal(t, spreadsheet.Display{Style: "bold", Unit: "kg"}, display)
	merges, err := s.MergedRanges("Report")
	require.NoError(t, err)
	assert.Equal(t, []string{"Report.C1:D2"}, merges)

	again, err := Capture(s)
	require.NoError(t, err)
	again.ID = wb.ID
	assert.Equal(t, wb, again)
}

func TestRestoreRejectsInvalidWorkbooks(t *testing.T) {
	cases := map[string]func(wb *Workbook){
		"version":        func(wb *Workbook) { wb.Version = FormatVersion + 1 },
		"id":             func(wb *Workbook) { wb.ID = "nope" },
		"sheet name":     func(wb *Workbook) { wb.Sheets = []Sheet{{Name: ""}} },
		"duplicate":      func(wb *Workbook) { wb.Sheets = []Sheet{{Name: "A"}, {Name: "A"}} },
		"cell address":   func(wb *Workbook) { wb.Sheets = []Sheet{{Name: "A", Cells: []Cell{{Address: "A1:B2"}}}} },
		"unknown source": func(wb *Workbook) { wb.Bindings = []Binding{{Target: "Missing.A1", Source: "Missing.B1"}} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			wb := New()
			mutate(wb)
			_, err := Restore(wb)
			assert.Error(t, err)
		})
	}
}

func TestCodecRoundTrip(t *testing.T) {
	wb, err := Capture(newSampleSpreadsheet(t))
	require.NoError(t, err)

	for _, format := range []Format{FormatYAML, FormatMsgpack} {
		t.Run(string(format), func(t *testing.T) {
			data, err := Encode(wb, format)
			require.NoError(t, err)
			decoded, err := Decode(data, format)
			require.NoError(t, err)
			assert.Equal(t, wb, decoded)
		})
	}
}

func TestDecodeErrors(t *testing.T) {
	payload, err := msgpack.Marshal(New())
	require.NoError(t, err)

	tampered, err := msgpack.Marshal(snapshot{Schema: snapshotSchema, Checksum: 1, Payload: payload})
	require.NoError(t, err)
	_, err = Decode(tampered, FormatMsgpack)
	assert.ErrorIs(t, err, ErrChecksum)

	future, err := msgpack.Marshal(snapshot{Schema: snapshotSchema + 1, Payload: payload})
	require.NoError(t, err)
	_, err = Decode(future, FormatMsgpack)
	assert.ErrorIs(t, err, ErrUnsupportedVersion)

	_, err = Decode([]byte("version: 9\nid: x\n"), FormatYAML)
	assert.ErrorIs(t, err, ErrUnsupportedVersion)

	_, err = Decode([]byte("{}"), Format("json"))
	assert.ErrorIs(t, err, ErrUnknownFormat)
	_, err = Encode(New(), Format("json"))
	assert.ErrorIs(t, err, ErrUnknownFormat)
}

func TestFormatOf(t *testing.T) {
	cases := map[string]Format{
		"book.yaml":               FormatYAML,
		"dir/book.YML":            FormatYAML,
		"s3://bucket/book.msgpack": FormatMsgpack,
		"book.mp":                 FormatMsgpack,
	}
	for location, want := range cases {
		got, err := FormatOf(location)
		require.NoError(t, err, location)
		assert.Equal(t, want, got, location)
	}

	for _, location := range []string{"book", "book.txt", "book.json"} {
		_, err := FormatOf(location)
		assert.ErrorIs(t, err, ErrUnknownFormat, location)
	}
}

func TestStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	wb, err := Capture(newSampleSpreadsheet(t))
	require.NoError(t, err)
	st := NewStore()

	for _, name := range []string{"book.yaml", "nested/book.msgpack"} {
		t.Run(name, func(t *testing.T) {
			location := filepath.Join(dir, name)
			require.NoError(t, st.Save(ctx, location, wb))
			_, err := os.Stat(location + ".lock")
			assert.NoError(t, err, "saving locks local workbooks")

			loaded, err := st.Load(ctx, location)
			require.NoError(t, err)
			assert.Equal(t, wb, loaded)
		})
	}

	_, err = st.Load(ctx, filepath.Join(dir, "missing.yaml"))
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, st.Save(ctx, filepath.Join(dir, "book.txt"), wb), ErrUnknownFormat)
}

func TestLocalPath(t *testing.T) {
	path, ok := localPath("file:///tmp/book.yaml")
	assert.True(t, ok)
	assert.Equal(t, "/tmp/book.yaml", path)

	path, ok = localPath("books/book.yaml")
	assert.True(t, ok)
	assert.Equal(t, "books/book.yaml", path)

	_, ok = localPath("s3://bucket/book.yaml")
	assert.False(t, ok)
}
