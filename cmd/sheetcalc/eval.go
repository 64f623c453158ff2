package main

import (
	"fmt"
	"runtime"
	"slices"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/vogtb/go-sheetcalc/packages/spreadsheet"
)

var (
	evalSheets []string
	evalJobs   int
)

var evalCmd = &cobra.Command{
	Use:   "eval <workbook>...",
	Short: "Evaluate workbooks and print their sheets",
	Long: `Evaluate workbooks and print their sheets.

Workbooks are loaded and evaluated concurrently, then printed in the order
given. Error values are highlighted when color is enabled.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runEval,
}

func init() {
	evalCmd.Flags().StringSliceVarP(&evalSheets, "sheet", "s", nil, "only print these sheets")
	evalCmd.Flags().IntVarP(&evalJobs, "jobs", "j", 0, "workbooks evaluated at once (default: GOMAXPROCS)")
}

func runEval(cmd *cobra.Command, args []string) error {
	jobs := evalJobs
	if jobs <= 0 {
		jobs = runtime.GOMAXPROCS(0)
	}

	// each workbook gets its own engine, so they evaluate independently
	results := make([]*spreadsheet.Spreadsheet, len(args))
	g, gctx := errgroup.WithContext(cmd.Context())
	g.SetLimit(min(jobs, len(args)))
	for i, location := range args {
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			_, s, err := openWorkbook(gctx, location)
			if err != nil {
				return err
			}
			results[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	r := newRenderer(cmd.OutOrStdout(), useColor)
	for i, s := range results {
		if len(args) > 1 {
			r.heading("# " + args[i])
		}
		sheets := s.ListWorksheets()
		for _, name := range evalSheets {
			if !slices.Contains(sheets, name) {
				return fmt.Errorf("%s: worksheet %q: %w", args[i], name, spreadsheet.ErrNotFound)
			}
		}
		for _, name := range sheets {
			if len(evalSheets) > 0 && !slices.Contains(evalSheets, name) {
				continue
			}
			if err := r.sheet(s, name); err != nil {
				return err
			}
		}
	}
	return nil
}
