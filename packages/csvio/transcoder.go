package csvio

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"fortio.org/safecast"

	"github.com/vogtb/go-sheetcalc/packages/spreadsheet"
)

// ImportResult describes the block of cells an import wrote
type ImportResult struct {
	Range   string // qualified, empty when nothing was read
	Rows    int
	Columns int
}

// Transcoder imports delimited text into worksheets and exports them back
type Transcoder struct {
	opts   Options
	logger *slog.Logger
}

func NewTranscoder(opts Options, logger *slog.Logger) (*Transcoder, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Transcoder{opts: opts, logger: logger}, nil
}

// offset moves a zero-based position, failing past the sheet bounds
func offset(base uint32, by int, limit uint32) (uint32, error) {
	v, err := safecast.Conv[uint32](int(base) + by)
	if err != nil || v >= limit {
		return 0, fmt.Errorf("%w: position %d+%d is outside the sheet", spreadsheet.ErrMalformedAddress, base, by)
	}
	return v, nil
}

// Import types every field into the sheet starting at anchor ("A1"). empty
// fields clear their cell. the edits are applied as one batch; when some
// expressions do not parse the data is still written and the returned
// error wraps spreadsheet.ErrSyntax.
func (t *Transcoder) Import(s *spreadsheet.Spreadsheet, sheet, anchor string, r io.Reader) (ImportResult, error) {
	if !s.DoesWorksheetExist(sheet) {
		return ImportResult{}, fmt.Errorf("worksheet %q: %w", sheet, spreadsheet.ErrNotFound)
	}
	row0, col0, err := spreadsheet.ParseA1(anchor)
	if err != nil {
		return ImportResult{}, err
	}

	records, err := NewReader(r, t.opts).ReadAll()
	if err != nil {
		return ImportResult{}, err
	}
	if len(records) == 0 {
		return ImportResult{}, nil
	}

	var edits []spreadsheet.Edit
	result := ImportResult{Rows: len(records)}
	for i, record := range records {
		row, err := offset(row0, i, spreadsheet.MaxRows)
		if err != nil {
			return ImportResult{}, err
		}
		for j, field := range record {
			col, err := offset(col0, j, spreadsheet.MaxColumns)
			if err != nil {
				return ImportResult{}, err
			}
			edits = append(edits, spreadsheet.Edit{
				Address: spreadsheet.Qualify(sheet, spreadsheet.FormatA1(row, col)),
				Value:   field,
			})
		}
		result.Columns = max(result.Columns, len(record))
	}

	syntaxErr := s.ApplyEdits(edits)
	if syntaxErr != nil && !errors.Is(syntaxErr, spreadsheet.ErrSyntax) {
		return ImportResult{}, syntaxErr
	}

	// columns >= 1 since every record has at least one field
	endRow, _ := offset(row0, result.Rows-1, spreadsheet.MaxRows)
	endCol, _ := offset(col0, result.Columns-1, spreadsheet.MaxColumns)
	result.Range = spreadsheet.Qualify(sheet, spreadsheet.FormatA1(row0, col0)+":"+spreadsheet.FormatA1(endRow, endCol))
	t.logger.Debug("csv imported", "range", result.Range, "cells", len(edits))
	return result, syntaxErr
}

// Export writes the sheet from A1 to the end of its used range, so an
// import at A1 puts every cell back in place. values are written as
// displayed; raw writes cell content instead. members of merged ranges
// are written empty.
func (t *Transcoder) Export(s *spreadsheet.Spreadsheet, sheet string, w io.Writer, raw bool) (int, error) {
	used, found, err := s.UsedRange(sheet)
	if err != nil {
		return 0, err
	}
	writer := NewWriter(w, t.opts)
	if !found {
		return 0, writer.Flush()
	}

	local := spreadsheet.Unqualify(used)
	bounds, err := spreadsheet.ParseA1Range(local)
	if err != nil {
		return 0, err
	}

	rows := 0
	record := make([]string, bounds.EndColumn+1)
	for row := uint32(0); row <= bounds.EndRow; row++ {
		for col := uint32(0); col <= bounds.EndColumn; col++ {
			address := spreadsheet.Qualify(sheet, spreadsheet.FormatA1(row, col))
			info, err := s.CellInfo(address)
			if err != nil {
				return rows, err
			}
			switch {
			case info.Address != address:
				record[col] = ""
			case raw:
				record[col] = info.Content
			default:
				record[col] = spreadsheet.FormatValue(info.Value)
			}
		}
		if err := writer.Write(record); err != nil {
			return rows, err
		}
		rows++
	}
	if err := writer.Flush(); err != nil {
		return rows, err
	}
	t.logger.Debug("csv exported", "sheet", sheet, "rows", rows, "raw", raw)
	return rows, nil
}
