package csvio

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

var ErrParse = errors.New("csv parse error")

// Reader splits delimited text into records. an empty line is a record
// with one empty field, so blank rows keep their position.
type Reader struct {
	r    *bufio.Reader
	opts Options
	line int
}

func NewReader(r io.Reader, opts Options) *Reader {
	return &Reader{r: bufio.NewReader(r), opts: opts, line: 1}
}

func (r *Reader) errorf(format string, args ...any) error {
	return fmt.Errorf("%w: line %d: %s", ErrParse, r.line, fmt.Sprintf(format, args...))
}

// Read returns the next record, or io.EOF after the last one
func (r *Reader) Read() ([]string, error) {
	var (
		fields  []string
		field   strings.Builder
		quoted  bool
		started bool
	)
	for {
		ch, _, err := r.r.ReadRune()
		if errors.Is(err, io.EOF) {
			if quoted {
				return nil, r.errorf("unterminated quoted field")
			}
			if !started {
				return nil, io.EOF
			}
			return append(fields, field.String()), nil
		}
		if err != nil {
			return nil, err
		}
		started = true

		switch {
		case r.opts.Escape != 0 && ch == r.opts.Escape:
			next, _, err := r.r.ReadRune()
			if err != nil {
				return nil, r.errorf("escape character at end of input")
			}
			switch next {
			case 'n':
				field.WriteRune('\n')
			case 't':
				field.WriteRune('\t')
			case r.opts.Escape, r.opts.Quote, r.opts.Delimiter:
				field.WriteRune(next)
			default:
				return nil, r.errorf("unknown escape sequence %c%c", ch, next)
			}

		case ch == r.opts.Quote:
			// without an escape character "" inside quotes is a literal quote
			if quoted && r.opts.Escape == 0 {
				if next, _, err := r.r.ReadRune(); err == nil {
					if next == r.opts.Quote {
						field.WriteRune(next)
						continue
					}
					_ = r.r.UnreadRune()
				}
			}
			quoted = !quoted

		case quoted:
			if ch == '\n' {
				r.line++
			}
			field.WriteRune(ch)

		case ch == r.opts.Delimiter:
			fields = append(fields, field.String())
			field.Reset()

		case ch == '\r':
			if next, _, err := r.r.ReadRune(); err == nil && next != '\n' {
				_ = r.r.UnreadRune()
			}
			r.line++
			return append(fields, field.String()), nil

		case ch == '\n':
			r.line++
			return append(fields, field.String()), nil

		default:
			field.WriteRune(ch)
		}
	}
}

// ReadAll reads every remaining record
func (r *Reader) ReadAll() ([][]string, error) {
	var records [][]string
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			return records, nil
		}
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
}
