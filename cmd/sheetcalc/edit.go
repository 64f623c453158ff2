package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/vogtb/go-sheetcalc/packages/document"
	"github.com/vogtb/go-sheetcalc/packages/spreadsheet"
)

var newCmd = &cobra.Command{
	Use:   "new <workbook> [sheet]...",
	Short: "Create an empty workbook",
	Long: `Create an empty workbook with the given sheets (Sheet1 when none are
named). The format follows the file extension.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runNew,
}

var setCmd = &cobra.Command{
	Use:   "set <workbook> <address> <content> [<address> <content>]...",
	Short: "Edit cells and save the workbook",
	Long: `Edit cells and save the workbook.

Content is typed the way it would be in a cell: numbers, TRUE/FALSE, text,
'text that would otherwise be read as a number, or =expressions. An empty
content clears the cell. The new values are printed after recomputing.

Examples:
  sheetcalc set book.yaml Sheet1.A1 10
  sheetcalc set book.yaml Sheet1.A2 "=A1*2" Sheet1.A3 "'007"`,
	Args: func(cmd *cobra.Command, args []string) error {
		if len(args) < 3 || len(args)%2 == 0 {
			return fmt.Errorf("expected a workbook followed by address/content pairs")
		}
		return nil
	},
	RunE: runSet,
}

var insertCmd = &cobra.Command{
	Use:   "insert <workbook> <sheet> rows|columns <at> [count]",
	Short: "Insert empty rows or columns and save the workbook",
	Long: `Insert count (default 1) empty rows above row <at>, or columns left of
column <at>. References to moved cells are rewritten.

Examples:
  sheetcalc insert book.yaml Sheet1 rows 3
  sheetcalc insert book.yaml Sheet1 columns B 2`,
	Args: cobra.RangeArgs(4, 5),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStructure(cmd, args, false)
	},
}

var removeCmd = &cobra.Command{
	Use:   "remove <workbook> <sheet> rows|columns <at> [count]",
	Short: "Remove rows or columns and save the workbook",
	Long: `Remove count (default 1) rows or columns starting at <at>. References to
removed cells become #REF!.

Examples:
  sheetcalc remove book.yaml Sheet1 rows 3
  sheetcalc remove book.yaml Sheet1 columns B 2`,
	Args: cobra.RangeArgs(4, 5),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStructure(cmd, args, true)
	},
}

func runNew(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	location := args[0]
	sheets := args[1:]
	if len(sheets) == 0 {
		sheets = []string{"Sheet1"}
	}

	if _, err := store.Load(ctx, location); err == nil {
		return fmt.Errorf("%s already exists", location)
	} else if !errors.Is(err, document.ErrNotFound) {
		return err
	}

	wb := document.New()
	s, err := restore(wb, location)
	if err != nil {
		return err
	}
	for _, name := range sheets {
		if err := s.AddWorksheet(name); err != nil {
			return err
		}
	}
	if err := saveWorkbook(ctx, location, wb, s); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "created %s\n", location)
	return nil
}

func runSet(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	location := args[0]
	wb, s, err := openWorkbook(ctx, location)
	if err != nil {
		return err
	}

	var edits []spreadsheet.Edit
	for i := 1; i < len(args); i += 2 {
		edits = append(edits, spreadsheet.Edit{Address: args[i], Value: args[i+1]})
	}
	if err := s.ApplyEdits(edits); err != nil {
		if !errors.Is(err, spreadsheet.ErrSyntax) {
			return err
		}
		// the content is kept so it can be fixed later
		logger.Warn("expression does not parse", "workbook", location, "error", err)
	}
	if _, err := s.Recompute(); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	r := newRenderer(out, useColor)
	for _, edit := range edits {
		info, err := s.CellInfo(edit.Address)
		if err != nil {
			return err
		}
		text, failed := cellText(info)
		if failed {
			text = r.errs.Sprint(text)
		}
		fmt.Fprintf(out, "%s = %s\n", edit.Address, text)
	}
	return saveWorkbook(ctx, location, wb, s)
}

func runStructure(cmd *cobra.Command, args []string, remove bool) error {
	ctx := cmd.Context()
	location, sheet, axis, at := args[0], args[1], args[2], args[3]
	count := 1
	if len(args) == 5 {
		n, err := strconv.Atoi(args[4])
		if err != nil {
			return fmt.Errorf("count %q is not a number", args[4])
		}
		count = n
	}

	wb, s, err := openWorkbook(ctx, location)
	if err != nil {
		return err
	}
	switch axis {
	case "rows", "row":
		row, convErr := strconv.Atoi(at)
		if convErr != nil {
			return fmt.Errorf("row %q is not a number", at)
		}
		if remove {
			err = s.RemoveRows(sheet, row, count)
		} else {
			err = s.InsertRows(sheet, row, count)
		}
	case "columns", "column":
		if remove {
			err = s.RemoveColumns(sheet, at, count)
		} else {
			err = s.InsertColumns(sheet, at, count)
		}
	default:
		return fmt.Errorf("expected rows or columns, got %q", axis)
	}
	if err != nil {
		return err
	}
	if _, err := s.Recompute(); err != nil {
		return err
	}

	verb := "inserted"
	if remove {
		verb = "removed"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %d %s at %s.%s\n", verb, count, axis, sheet, at)
	return saveWorkbook(ctx, location, wb, s)
}
