package at

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// MaxFields bounds the number of values Tokenize keeps from one line.
const MaxFields = 24

// ErrMissingField is returned when a field index is past the end of a line.
var ErrMissingField = errors.New("at: missing field")

// Fields is a tokenized information response such as
//
//	+CSQ: 15,99
//
// Prefix holds "+CSQ" and the values are the comma separated fields after
// the colon. Values are substrings of the original line, so tokenizing does
// not allocate.
type Fields struct {
	Prefix    string
	vals      [MaxFields]string
	n         int
	truncated bool
}

// Tokenize splits a response line into its prefix and fields. Commas
// inside double quotes do not split. A line without a "+XXX:" prefix is
// tokenized whole.
func Tokenize(line string) Fields {
	var f Fields
	line = Trim(line)

	if strings.HasPrefix(line, "+") {
		if i := strings.IndexByte(line, ':'); i > 0 && !strings.ContainsAny(line[:i], `",`) {
			f.Prefix = line[:i]
			line = strings.TrimSpace(line[i+1:])
		}
	}
	if line == "" {
		return f
	}

	quoted := false
	start := 0
	for i := 0; i <= len(line); i++ {
		if i < len(line) {
			switch line[i] {
			case '"':
				quoted = !quoted
				continue
			case ',':
				if quoted {
					continue
				}
			default:
				continue
			}
		}
		if f.n == MaxFields {
			f.truncated = true
			break
		}
		f.vals[f.n] = strings.TrimSpace(line[start:i])
		f.n++
		start = i + 1
	}
	return f
}

// Len returns the number of fields.
func (f *Fields) Len() int { return f.n }

// Truncated reports whether the line had more than MaxFields fields.
func (f *Fields) Truncated() bool { return f.truncated }

// Get returns the raw field i, quotes included.
func (f *Fields) Get(i int) (string, bool) {
	if i < 0 || i >= f.n {
		return "", false
	}
	return f.vals[i], true
}

// String returns field i with surrounding quotes removed.
func (f *Fields) String(i int) (string, error) {
	v, ok := f.Get(i)
	if !ok {
		return "", fmt.Errorf("%w: %d of %d", ErrMissingField, i, f.n)
	}
	return Unquote(v), nil
}

// Int returns field i as a decimal integer.
func (f *Fields) Int(i int) (int, error) {
	v, err := f.String(i)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("field %d: %w", i, err)
	}
	return n, nil
}

// Unquote trims blanks and one pair of surrounding double quotes.
func Unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	return s
}
