package sql

import (
	"strconv"

	"github.com/syssam/tabula/dialect"
)

const (
	mysqlDialect    = dialect.MySQL
	sqliteDialect   = dialect.SQLite
	postgresDialect = dialect.Postgres
)

// Translator renders statement trees into dialect-specific SQL.
type Translator struct {
	dialect string
}

// NewTranslator returns a Translator for the given dialect.
func NewTranslator(name string) *Translator {
	return &Translator{dialect: dialectName(name)}
}

// Dialect returns the dialect the translator renders for.
func (t *Translator) Dialect() string { return t.dialect }

// SupportsReturning reports whether INSERT ... RETURNING is available.
func (t *Translator) SupportsReturning() bool {
	return t.dialect == postgresDialect || t.dialect == sqliteDialect
}

// Translate renders stmt. The returned arguments are the values of the
// statement parameters, in placeholder order.
func (t *Translator) Translate(stmt Statement) (string, []any, error) {
	b := Dialect(t.dialect)
	stmt.render(b)
	if err := b.Err(); err != nil {
		return "", nil, err
	}
	query, args := b.Query()
	return query, args, nil
}

// Rewrite converts a hand-written statement using '?' placeholders to the
// dialect's placeholder syntax.
func (t *Translator) Rewrite(query string) string {
	return RewritePlaceholders(t.dialect, query)
}

// renderLimit writes the LIMIT and OFFSET clauses. MySQL and SQLite do
// not accept OFFSET without LIMIT.
func renderLimit(b *Builder, limit, offset int) {
	if limit > 0 {
		b.WriteString(" LIMIT " + strconv.Itoa(limit))
	}
	if offset <= 0 {
		return
	}
	if limit <= 0 {
		switch b.dialect {
		case mysqlDialect:
			b.WriteString(" LIMIT 18446744073709551615")
		case sqliteDialect:
			b.WriteString(" LIMIT -1")
		}
	}
	b.WriteString(" OFFSET " + strconv.Itoa(offset))
}
