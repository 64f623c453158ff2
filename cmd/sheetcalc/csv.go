package main

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vogtb/go-sheetcalc/packages/csvio"
	"github.com/vogtb/go-sheetcalc/packages/spreadsheet"
)

// dialect flags shared by import and export; empty values use [csv]
var (
	csvDelimiter string
	csvQuote     string
	csvEscape    string
	importAnchor string
	exportRaw    bool
)

var importCmd = &cobra.Command{
	Use:   "import <workbook> <sheet> <file>",
	Short: "Import delimited text into a sheet",
	Long: `Import delimited text into a sheet, creating the workbook and the sheet
when they do not exist. Fields are typed into cells the way set types
content. Use - to read from stdin.`,
	Args: cobra.ExactArgs(3),
	RunE: runImport,
}

var exportCmd = &cobra.Command{
	Use:   "export <workbook> <sheet> <file>",
	Short: "Export a sheet as delimited text",
	Long: `Export a sheet from A1 to the end of its used range. Values are written
as displayed; --raw writes cell content so the file can be imported again.
Use - to write to stdout.`,
	Args: cobra.ExactArgs(3),
	RunE: runExport,
}

func init() {
	for _, cmd := range []*cobra.Command{importCmd, exportCmd} {
		cmd.Flags().StringVar(&csvDelimiter, "delimiter", "", "field delimiter: a character, tab, comma or semicolon")
		cmd.Flags().StringVar(&csvQuote, "quote", "", "quote character")
		cmd.Flags().StringVar(&csvEscape, "escape", "", "escape character, or none to double quotes")
	}
	importCmd.Flags().StringVar(&importAnchor, "anchor", "", "top-left cell of the imported block")
	exportCmd.Flags().BoolVar(&exportRaw, "raw", false, "write cell content instead of values")
}

func newTranscoder() (*csvio.Transcoder, error) {
	settings := cfg.CSV
	if csvDelimiter != "" {
		settings.Delimiter = csvDelimiter
	}
	if csvQuote != "" {
		settings.Quote = csvQuote
	}
	if csvEscape != "" {
		settings.Escape = csvEscape
	}
	opts, err := settings.Options()
	if err != nil {
		return nil, err
	}
	return csvio.NewTranscoder(opts, logger)
}

func runImport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	location, sheet, source := args[0], args[1], args[2]
	tc, err := newTranscoder()
	if err != nil {
		return err
	}
	anchor := importAnchor
	if anchor == "" {
		anchor = cfg.CSV.Anchor
	}

	data, err := readInput(ctx, source, cmd.InOrStdin())
	if err != nil {
		return err
	}
	wb, s, err := openOrCreate(ctx, location)
	if err != nil {
		return err
	}
	if !s.DoesWorksheetExist(sheet) {
		if err := s.AddWorksheet(sheet); err != nil {
			return err
		}
	}

	result, err := tc.Import(s, sheet, anchor, bytes.NewReader(data))
	if err != nil {
		if !errors.Is(err, spreadsheet.ErrSyntax) {
			return err
		}
		logger.Warn("imported expressions do not parse", "workbook", location, "error", err)
	}
	if err := saveWorkbook(ctx, location, wb, s); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "imported %d rows into %s\n", result.Rows, result.Range)
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	location, sheet, target := args[0], args[1], args[2]
	tc, err := newTranscoder()
	if err != nil {
		return err
	}
	_, s, err := openWorkbook(ctx, location)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	rows, err := tc.Export(s, sheet, &buf, exportRaw || cfg.CSV.Raw)
	if err != nil {
		return err
	}
	logger.Info("sheet exported", "workbook", location, "sheet", sheet, "rows", rows)
	return writeOutput(ctx, target, buf.Bytes(), cmd.OutOrStdout())
}
