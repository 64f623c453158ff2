package main

import (
	"fmt"
	"path"

	"github.com/spf13/cobra"
)

var convertCmd = &cobra.Command{
	Use:   "convert <workbook> <output>",
	Short: "Rewrite a workbook in another format",
	Long: `Rewrite a workbook in the format of the output's extension. An output
without an extension gets the [document] format from the configuration.`,
	Args: cobra.ExactArgs(2),
	RunE: runConvert,
}

func runConvert(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	input, output := args[0], args[1]
	if path.Ext(output) == "" {
		output += "." + cfg.Document.Format
	}

	wb, err := store.Load(ctx, input)
	if err != nil {
		return err
	}
	// restoring rejects workbooks whose bindings or configurations do not apply
	if _, err := restore(wb, input); err != nil {
		return err
	}
	if err := store.Save(ctx, output, wb); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", output)
	return nil
}
