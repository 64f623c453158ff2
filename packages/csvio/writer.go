package csvio

import (
	"bufio"
	"io"
	"strings"
)

// Writer writes records in the dialect of its options. fields are quoted
// only when they contain a special character.
type Writer struct {
	w    *bufio.Writer
	opts Options
}

func NewWriter(w io.Writer, opts Options) *Writer {
	return &Writer{w: bufio.NewWriter(w), opts: opts}
}

func (w *Writer) needsQuotes(field string) bool {
	return strings.ContainsFunc(field, func(r rune) bool {
		return r == w.opts.Delimiter || r == w.opts.Quote || r == '\n' || r == '\r' ||
			(w.opts.Escape != 0 && r == w.opts.Escape)
	})
}

func (w *Writer) writeQuoted(field string) {
	w.w.WriteRune(w.opts.Quote)
	for _, r := range field {
		switch {
		case w.opts.Escape == 0 && r == w.opts.Quote:
			w.w.WriteRune(w.opts.Quote)
			w.w.WriteRune(r)
		case w.opts.Escape == 0:
			w.w.WriteRune(r)
		case r == w.opts.Quote || r == w.opts.Escape:
			w.w.WriteRune(w.opts.Escape)
			w.w.WriteRune(r)
		case r == '\n':
			w.w.WriteRune(w.opts.Escape)
			w.w.WriteRune('n')
		default:
			w.w.WriteRune(r)
		}
	}
	w.w.WriteRune(w.opts.Quote)
}

// Write buffers one record; call Flush when done
func (w *Writer) Write(record []string) error {
	for i, field := range record {
		if i > 0 {
			if _, err := w.w.WriteRune(w.opts.Delimiter); err != nil {
				return err
			}
		}
		if w.needsQuotes(field) {
			w.writeQuoted(field)
			continue
		}
		if _, err := w.w.WriteString(field); err != nil {
			return err
		}
	}
	return w.w.WriteByte('\n')
}

func (w *Writer) Flush() error {
	return w.w.Flush()
}
