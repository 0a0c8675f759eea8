package mapping

import (
	"database/sql/driver"
	"fmt"
	"reflect"
	"strconv"
	"time"
)

// SQLType is the SQL type of a mapped column.
type SQLType int

// Column types.
const (
	TypeUnknown SQLType = iota
	TypeInteger
	TypeBigInt
	TypeVarchar
	TypeBoolean
	TypeDecimal
	TypeTimestamp
	TypeBlob
	TypeClob
)

var typeNames = [...]string{
	TypeUnknown:   "UNKNOWN",
	TypeInteger:   "INTEGER",
	TypeBigInt:    "BIGINT",
	TypeVarchar:   "VARCHAR",
	TypeBoolean:   "BOOLEAN",
	TypeDecimal:   "DECIMAL",
	TypeTimestamp: "TIMESTAMP",
	TypeBlob:      "BLOB",
	TypeClob:      "CLOB",
}

// String returns the type name.
func (t SQLType) String() string {
	if t < 0 || int(t) >= len(typeNames) {
		return "SQLType(" + strconv.Itoa(int(t)) + ")"
	}
	return typeNames[t]
}

// IsLob reports whether the type is a large object.
func (t SQLType) IsLob() bool {
	return t == TypeBlob || t == TypeClob
}

// Normalize converts a value scanned from a driver into the canonical Go
// representation of the type: int64, string, bool, float64, time.Time or
// []byte. NULL stays nil.
func (t SQLType) Normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch t {
	case TypeInteger, TypeBigInt:
		switch v := v.(type) {
		case int64:
			return v, nil
		case int:
			return int64(v), nil
		case int32:
			return int64(v), nil
		case int16:
			return int64(v), nil
		case int8:
			return int64(v), nil
		case uint8:
			return int64(v), nil
		case uint16:
			return int64(v), nil
		case uint32:
			return int64(v), nil
		case uint64:
			return int64(v), nil
		case float64:
			return int64(v), nil
		case []byte:
			return strconv.ParseInt(string(v), 10, 64)
		case string:
			return strconv.ParseInt(v, 10, 64)
		}
	case TypeVarchar, TypeClob:
		switch v := v.(type) {
		case string:
			return v, nil
		case []byte:
			return string(v), nil
		}
	case TypeBoolean:
		switch v := v.(type) {
		case bool:
			return v, nil
		case int64:
			return v != 0, nil
		case []byte:
			return strconv.ParseBool(string(v))
		case string:
			return strconv.ParseBool(v)
		}
	case TypeDecimal:
		switch v := v.(type) {
		case float64:
			return v, nil
		case float32:
			return float64(v), nil
		case int64:
			return float64(v), nil
		case []byte:
			return strconv.ParseFloat(string(v), 64)
		case string:
			return strconv.ParseFloat(v, 64)
		}
	case TypeTimestamp:
		switch v := v.(type) {
		case time.Time:
			return v, nil
		case []byte:
			return parseTime(string(v))
		case string:
			return parseTime(v)
		}
	case TypeBlob:
		switch v := v.(type) {
		case []byte:
			return append([]byte(nil), v...), nil
		case string:
			return []byte(v), nil
		}
	case TypeUnknown:
		return v, nil
	}
	return nil, fmt.Errorf("mapping: cannot convert %T to %s", v, t)
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("mapping: invalid timestamp %q", s)
}

// IsNull reports whether v represents SQL NULL: nil, a nil pointer,
// or a driver.Valuer yielding nil (sql.NullString{} and friends).
func IsNull(v any) bool {
	if v == nil {
		return true
	}
	if vr, ok := v.(driver.Valuer); ok {
		rv := reflect.ValueOf(v)
		if rv.Kind() == reflect.Pointer && rv.IsNil() {
			return true
		}
		dv, err := vr.Value()
		return err == nil && dv == nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice:
		return rv.IsNil()
	}
	return false
}
