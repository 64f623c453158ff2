// Package csvio moves delimited text in and out of worksheets. fields are
// typed into cells the same way Spreadsheet.Set interprets text.
package csvio

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

var ErrInvalidOptions = errors.New("invalid csv options")

// Options describe the dialect of a delimited file. an Escape of 0 means
// quotes inside quoted fields are doubled instead of escaped.
type Options struct {
	Delimiter rune
	Quote     rune
	Escape    rune
}

// DefaultOptions is tab separated with double quotes and backslash escapes
func DefaultOptions() Options {
	return Options{Delimiter: '\t', Quote: '"', Escape: '\\'}
}

var delimiterNames = map[string]rune{
	"tab":       '\t',
	`\t`:        '\t',
	"comma":     ',',
	"semicolon": ';',
}

// ParseOptions builds options from their textual settings. the delimiter
// may be a single character or one of tab, comma and semicolon. escape
// may be "none". empty settings keep the defaults.
func ParseOptions(delimiter, quote, escape string) (Options, error) {
	opts := DefaultOptions()
	if delimiter != "" {
		if r, ok := delimiterNames[strings.ToLower(delimiter)]; ok {
			opts.Delimiter = r
		} else {
			r, err := singleRune("delimiter", delimiter)
			if err != nil {
				return Options{}, err
			}
			opts.Delimiter = r
		}
	}
	if quote != "" {
		r, err := singleRune("quote", quote)
		if err != nil {
			return Options{}, err
		}
		opts.Quote = r
	}
	switch strings.ToLower(escape) {
	case "":
	case "none":
		opts.Escape = 0
	default:
		r, err := singleRune("escape", escape)
		if err != nil {
			return Options{}, err
		}
		opts.Escape = r
	}
	return opts, opts.Validate()
}

func singleRune(setting, value string) (rune, error) {
	if utf8.RuneCountInString(value) != 1 {
		return 0, fmt.Errorf("%w: %s must be a single character, got %q", ErrInvalidOptions, setting, value)
	}
	r, _ := utf8.DecodeRuneInString(value)
	return r, nil
}

// Validate checks that the three characters can be told apart
func (o Options) Validate() error {
	if o.Delimiter == 0 || o.Quote == 0 {
		return fmt.Errorf("%w: delimiter and quote are required", ErrInvalidOptions)
	}
	for _, r := range []rune{o.Delimiter, o.Quote, o.Escape} {
		if r == '\n' || r == '\r' || r == utf8.RuneError {
			return fmt.Errorf("%w: %q cannot be used", ErrInvalidOptions, r)
		}
	}
	if o.Delimiter == o.Quote || o.Delimiter == o.Escape || o.Quote == o.Escape {
		return fmt.Errorf("%w: delimiter, quote and escape must differ", ErrInvalidOptions)
	}
	return nil
}
