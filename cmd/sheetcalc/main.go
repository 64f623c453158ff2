package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/vogtb/go-sheetcalc/packages/config"
	"github.com/vogtb/go-sheetcalc/packages/document"
)

var rootCmd = &cobra.Command{
	Use:   "sheetcalc",
	Short: "Evaluate and edit spreadsheet workbooks",
	Long: `sheetcalc evaluates workbook documents (.yaml or .msgpack) and edits them
from the command line.

Examples:
  sheetcalc new book.yaml Inputs Report
  sheetcalc set book.yaml Inputs.A1 10 Inputs.A2 "=A1*2"
  sheetcalc eval book.yaml
  sheetcalc import book.yaml Data data.csv --delimiter comma
  sheetcalc export book.yaml Data - --raw
  sheetcalc convert book.yaml book.msgpack`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

// global flags
var (
	configPath string
	colorMode  string
	logLevel   string
)

// state built by setup before any command runs
var (
	cfg      config.Config
	logger   *slog.Logger
	store    *document.Store
	useColor bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "configuration file (default: sheetcalc.toml in this or a parent directory)")
	rootCmd.PersistentFlags().StringVar(&colorMode, "color", "auto", "colorize output (auto|on|off)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug|info|warn|error), overrides the configuration")

	rootCmd.AddCommand(newCmd)
	rootCmd.AddCommand(evalCmd)
	rootCmd.AddCommand(setCmd)
	rootCmd.AddCommand(insertCmd)
	rootCmd.AddCommand(removeCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(convertCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setup(cmd *cobra.Command, _ []string) error {
	loaded, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if logLevel != "" {
		loaded.Log.Level = logLevel
	}
	level, err := loaded.Log.SlogLevel()
	if err != nil {
		return fmt.Errorf("invalid --log-level %q: %w", logLevel, err)
	}
	mode, err := readColorMode(colorMode)
	if err != nil {
		return err
	}

	cfg = loaded
	logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	store = document.NewStore(document.WithStoreLogger(logger))
	useColor = shouldColor(mode, cmd.OutOrStdout())
	color.NoColor = !useColor
	return nil
}

type colorSetting string

const (
	colorAuto colorSetting = "auto"
	colorOn   colorSetting = "on"
	colorOff  colorSetting = "off"
)

func readColorMode(value string) (colorSetting, error) {
	switch strings.TrimSpace(strings.ToLower(value)) {
	case "", "auto":
		return colorAuto, nil
	case "on":
		return colorOn, nil
	case "off":
		return colorOff, nil
	default:
		return "", fmt.Errorf("invalid --color value %q (expected auto|on|off)", value)
	}
}

func shouldColor(mode colorSetting, out io.Writer) bool {
	switch mode {
	case colorOn:
		return true
	case colorOff:
		return false
	}
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := out.(*os.File)
	return ok && isTerminal(f)
}

// isTerminal reports whether f is attached to a terminal
func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
