// Package config loads sheetcalc settings. values come from defaults, then
// sheetcalc.toml, then SHEETCALC_* environment variables (a .env file in
// the working directory is loaded first).
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/vogtb/go-sheetcalc/packages/csvio"
	"github.com/vogtb/go-sheetcalc/packages/document"
	"github.com/vogtb/go-sheetcalc/packages/spreadsheet"
)

// FileName is the configuration file looked up from the working directory
const FileName = "sheetcalc.toml"

type Config struct {
	CSV      CSVConfig      `toml:"csv"`
	Document DocumentConfig `toml:"document"`
	Log      LogConfig      `toml:"log"`
}

type CSVConfig struct {
	Delimiter string `toml:"delimiter"` // single character, tab, comma or semicolon
	Quote     string `toml:"quote"`
	Escape    string `toml:"escape"` // single character or none
	Anchor    string `toml:"anchor"` // top-left cell of imports
	Raw       bool   `toml:"raw"`    // export content instead of values
}

type DocumentConfig struct {
	Format string `toml:"format"` // yaml or msgpack, used when converting
}

type LogConfig struct {
	Level string `toml:"level"`
}

func Default() Config {
	return Config{
		CSV:      CSVConfig{Delimiter: "tab", Quote: `"`, Escape: `\`, Anchor: "A1"},
		Document: DocumentConfig{Format: string(document.FormatYAML)},
		Log:      LogConfig{Level: "warn"},
	}
}

// Find looks for sheetcalc.toml in startDir and its parents
func Find(startDir string) (string, bool, error) {
	if startDir == "" {
		startDir = "."
	}
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", false, fmt.Errorf("failed to resolve start directory: %w", err)
	}
	for {
		candidate := filepath.Join(dir, FileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", false, fmt.Errorf("failed to stat %q: %w", candidate, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false, nil
}

// Load reads the configuration. an empty path searches for sheetcalc.toml
// and falls back to defaults when there is none; an explicit path must
// exist.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path == "" {
		found, ok, err := Find(".")
		if err != nil {
			return Config{}, err
		}
		if ok {
			path = found
		}
	}
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		if path != "" {
			return Config{}, fmt.Errorf("%s: %w", path, err)
		}
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	strs := map[string]*string{
		"SHEETCALC_CSV_DELIMITER":   &c.CSV.Delimiter,
		"SHEETCALC_CSV_QUOTE":       &c.CSV.Quote,
		"SHEETCALC_CSV_ESCAPE":      &c.CSV.Escape,
		"SHEETCALC_CSV_ANCHOR":      &c.CSV.Anchor,
		"SHEETCALC_DOCUMENT_FORMAT": &c.Document.Format,
		"SHEETCALC_LOG_LEVEL":       &c.Log.Level,
	}
	for key, field := range strs {
		if value := os.Getenv(key); value != "" {
			*field = value
		}
	}
	if value := os.Getenv("SHEETCALC_CSV_RAW"); value != "" {
		raw, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("SHEETCALC_CSV_RAW: %w", err)
		}
		c.CSV.Raw = raw
	}
	return nil
}

// Validate checks every section
func (c Config) Validate() error {
	if _, err := c.CSV.Options(); err != nil {
		return fmt.Errorf("[csv]: %w", err)
	}
	if c.CSV.Anchor != "" {
		if _, _, err := spreadsheet.ParseA1(c.CSV.Anchor); err != nil {
			return fmt.Errorf("[csv].anchor: %w", err)
		}
	}
	if _, err := document.ParseFormat(c.Document.Format); err != nil {
		return fmt.Errorf("[document].format: %w", err)
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		return fmt.Errorf("[log].level: %w", err)
	}
	return nil
}

// Options converts the csv section for csvio
func (c CSVConfig) Options() (csvio.Options, error) {
	return csvio.ParseOptions(c.Delimiter, c.Quote, c.Escape)
}

// SlogLevel parses the level name (debug, info, warn, error)
func (c LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(c.Level))); err != nil {
		return 0, err
	}
	return level, nil
}
