package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"
	"github.com/mattn/go-runewidth"
	"golang.org/x/term"

	"github.com/vogtb/go-sheetcalc/packages/spreadsheet"
)

const (
	maxColumnWidth = 32
	minColumnWidth = 6
)

// renderer prints worksheets as aligned text tables
type renderer struct {
	out    io.Writer
	width  int // terminal width, 0 when not a terminal
	color  bool
	title  lipgloss.Style
	header lipgloss.Style
	errs   *color.Color
}

func newRenderer(out io.Writer, useColor bool) *renderer {
	r := &renderer{
		out:    out,
		color:  useColor,
		title:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6")),
		header: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("7")),
		errs:   color.New(color.FgRed, color.Bold),
	}
	if f, ok := out.(*os.File); ok && isTerminal(f) {
		if w, _, err := term.GetSize(int(f.Fd())); err == nil {
			r.width = w
		}
	}
	return r
}

func (r *renderer) style(s lipgloss.Style, text string) string {
	if !r.color {
		return text
	}
	return s.Render(text)
}

type gridCell struct {
	text   string
	failed bool
}

// sheetGrid collects displayed values from A1 to the end of the used range.
// members of merged ranges stay blank.
func sheetGrid(s *spreadsheet.Spreadsheet, sheet string) ([][]gridCell, error) {
	used, found, err := s.UsedRange(sheet)
	if err != nil || !found {
		return nil, err
	}
	bounds, err := spreadsheet.ParseA1Range(spreadsheet.Unqualify(used))
	if err != nil {
		return nil, err
	}

	var rows [][]gridCell
	for row := uint32(0); row <= bounds.EndRow; row++ {
		cells := make([]gridCell, bounds.EndColumn+1)
		for col := uint32(0); col <= bounds.EndColumn; col++ {
			address := spreadsheet.Qualify(sheet, spreadsheet.FormatA1(row, col))
			info, err := s.CellInfo(address)
			if err != nil {
				return nil, err
			}
			if info.Address != address {
				continue
			}
			text, failed := cellText(info)
			cells[col] = gridCell{text: text, failed: failed}
		}
		rows = append(rows, cells)
	}
	return rows, nil
}

// syntaxMarker is shown for a cell whose expression does not parse
const syntaxMarker = "#SYNTAX!"

// cellText renders a cell value. a cell whose expression does not parse
// shows the marker followed by the stale value it still holds.
func cellText(info spreadsheet.CellInfo) (string, bool) {
	if info.SyntaxErr != nil {
		if info.Value == nil {
			return syntaxMarker, true
		}
		return syntaxMarker + " (stale " + spreadsheet.FormatValue(info.Value) + ")", true
	}
	_, failed := info.Value.(*spreadsheet.SpreadsheetError)
	return spreadsheet.FormatValue(info.Value), failed
}

// fit truncates a value to width display cells
func fit(value string, width int) string {
	if runewidth.StringWidth(value) <= width {
		return value
	}
	if width <= 3 {
		return runewidth.Truncate(value, width, "")
	}
	return runewidth.Truncate(value, width, "...")
}

func (r *renderer) columnLimit(labelWidth, columns int) int {
	if r.width <= 0 {
		return maxColumnWidth
	}
	share := (r.width-labelWidth)/columns - 2
	return max(minColumnWidth, min(maxColumnWidth, share))
}

func (r *renderer) heading(text string) {
	fmt.Fprintln(r.out, r.style(r.title, text))
}

// sheet prints one worksheet followed by a blank line
func (r *renderer) sheet(s *spreadsheet.Spreadsheet, name string) error {
	rows, err := sheetGrid(s, name)
	if err != nil {
		return err
	}
	r.heading(name)
	if len(rows) == 0 {
		fmt.Fprintln(r.out, "  (empty)")
		fmt.Fprintln(r.out)
		return nil
	}

	labelWidth := len(strconv.Itoa(len(rows)))
	widths := make([]int, len(rows[0]))
	for col := range widths {
		widths[col] = len(spreadsheet.ColumnName(uint32(col)))
	}
	for _, row := range rows {
		for col, cell := range row {
			widths[col] = max(widths[col], runewidth.StringWidth(cell.text))
		}
	}
	limit := r.columnLimit(labelWidth, len(widths))
	for col := range widths {
		widths[col] = min(widths[col], limit)
	}

	var b strings.Builder
	b.WriteString(strings.Repeat(" ", labelWidth))
	for col, width := range widths {
		b.WriteString("  ")
		b.WriteString(r.style(r.header, runewidth.FillRight(spreadsheet.ColumnName(uint32(col)), width)))
	}
	fmt.Fprintln(r.out, strings.TrimRight(b.String(), " "))

	for i, row := range rows {
		b.Reset()
		b.WriteString(r.style(r.header, runewidth.FillLeft(strconv.Itoa(i+1), labelWidth)))
		for col, cell := range row {
			b.WriteString("  ")
			text := runewidth.FillRight(fit(cell.text, widths[col]), widths[col])
			if cell.failed {
				text = r.errs.Sprint(text)
			}
			b.WriteString(text)
		}
		fmt.Fprintln(r.out, strings.TrimRight(b.String(), " "))
	}
	fmt.Fprintln(r.out)
	return nil
}
