package sql

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/syssam/tabula/dialect"
)

// Node is implemented by every element of the SQL tree.
type Node interface {
	render(b *Builder)
}

// Builder is the low-level SQL string builder used by the translator.
// It quotes identifiers and numbers placeholders for its dialect.
type Builder struct {
	dialect string
	sb      strings.Builder
	args    []any
	errs    []error
}

// Dialect creates a Builder for the given dialect.
func Dialect(name string) *Builder {
	return &Builder{dialect: name}
}

// Ident writes a quoted identifier. Dotted names are quoted per part.
func (b *Builder) Ident(s string) *Builder {
	for i, part := range strings.Split(s, ".") {
		if i > 0 {
			b.sb.WriteByte('.')
		}
		b.sb.WriteString(b.quote(part))
	}
	return b
}

func (b *Builder) quote(ident string) string {
	q := `"`
	if b.dialect == dialect.MySQL {
		q = "`"
	}
	return q + strings.ReplaceAll(ident, q, q+q) + q
}

// WriteString writes a raw SQL fragment.
func (b *Builder) WriteString(s string) *Builder {
	b.sb.WriteString(s)
	return b
}

// Arg appends v to the argument list and writes its placeholder.
func (b *Builder) Arg(v any) *Builder {
	b.args = append(b.args, v)
	if b.dialect == dialect.Postgres {
		b.sb.WriteString("$" + strconv.Itoa(len(b.args)))
	} else {
		b.sb.WriteByte('?')
	}
	return b
}

// Join renders nodes separated by sep.
func (b *Builder) Join(sep string, nodes ...Node) *Builder {
	for i, n := range nodes {
		if i > 0 {
			b.sb.WriteString(sep)
		}
		n.render(b)
	}
	return b
}

// AddError records a rendering error. The first error aborts translation.
func (b *Builder) AddError(err error) *Builder {
	if err != nil {
		b.errs = append(b.errs, err)
	}
	return b
}

// Err returns the errors collected while rendering.
func (b *Builder) Err() error {
	return errors.Join(b.errs...)
}

// Query returns the rendered SQL and its arguments.
func (b *Builder) Query() (string, []any) {
	return b.sb.String(), b.args
}

// RewritePlaceholders converts the '?' placeholders of a hand-written
// statement into the dialect's placeholder syntax. Placeholders inside
// single-quoted literals are left untouched.
func RewritePlaceholders(dialectName, query string) string {
	if dialectName != dialect.Postgres || !strings.Contains(query, "?") {
		return query
	}
	var (
		sb     strings.Builder
		n      int
		quoted bool
	)
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			quoted = !quoted
			sb.WriteByte(c)
		case c == '?' && !quoted:
			n++
			sb.WriteString("$" + strconv.Itoa(n))
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String()
}

// CountPlaceholders returns the number of '?' placeholders outside of
// single-quoted literals.
func CountPlaceholders(query string) int {
	var (
		n      int
		quoted bool
	)
	for i := 0; i < len(query); i++ {
		switch query[i] {
		case '\'':
			quoted = !quoted
		case '?':
			if !quoted {
				n++
			}
		}
	}
	return n
}

func errorf(format string, args ...any) error {
	return fmt.Errorf("dialect/sql: "+format, args...)
}
