package query

import (
	"fmt"

	"github.com/syssam/tabula/dialect/sql"
	"github.com/syssam/tabula/mapping"
)

// ScanRows reads all rows into column value slices and closes rows.
func ScanRows(rows *sql.Rows) (_ [][]any, err error) {
	defer func() {
		if cerr := rows.Close(); err == nil {
			err = cerr
		}
	}()
	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("query: columns: %w", err)
	}
	out := [][]any{}
	for rows.Next() {
		values := make([]any, len(columns))
		dest := make([]any, len(columns))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("query: scan: %w", err)
		}
		for i, v := range values {
			// Drivers may reuse byte buffers between rows.
			if b, ok := v.([]byte); ok {
				values[i] = append([]byte(nil), b...)
			}
		}
		out = append(out, values)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query: rows: %w", err)
	}
	return out, nil
}

// Decode converts a row selected by Translate into the identifier and
// the attribute state of an instance. Values are normalized to their
// mapped types, so rows read from the database and from the query cache
// decode the same way.
func Decode(e *mapping.Entity, row []any) (id any, state []any, err error) {
	idTypes := e.Identifier().SQLTypes()
	width := len(idTypes)
	for _, a := range e.Attributes() {
		width += len(a.Columns())
	}
	if len(row) != width {
		return nil, nil, fmt.Errorf("query: %s row has %d columns, expected %d", e.Name(), len(row), width)
	}
	idValues := make([]any, len(idTypes))
	for i, typ := range idTypes {
		if idValues[i], err = typ.Normalize(row[i]); err != nil {
			return nil, nil, fmt.Errorf("query: %s identifier: %w", e.Name(), err)
		}
	}
	pos := len(idTypes)
	state = make([]any, len(e.Attributes()))
	for i, a := range e.Attributes() {
		values := make([]any, len(a.Columns()))
		for j, c := range a.Columns() {
			if values[j], err = c.Type.Normalize(row[pos]); err != nil {
				return nil, nil, fmt.Errorf("query: %s.%s: %w", e.Name(), a.Name(), err)
			}
			pos++
		}
		state[i] = a.Assemble(values)
	}
	return e.Identifier().Assemble(idValues), state, nil
}
