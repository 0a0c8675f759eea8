package cache

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/vmihailenco/msgpack/v5"
)

// QueryKey is the normalized signature of a query execution: the SQL,
// the bound values, the row window, the tenant and the result shape.
type QueryKey struct {
	SQL      string
	Params   []any
	FirstRow int
	MaxRows  int
	Tenant   string
	Shape    []string
}

// String returns the canonical form of the key. Parameters are encoded
// with msgpack so values of different types never collide.
func (k QueryKey) String() string {
	var b strings.Builder
	b.WriteString(strings.Join(strings.Fields(k.SQL), " "))
	b.WriteByte('|')
	params, err := msgpack.Marshal(k.Params)
	if err != nil {
		params = []byte(fmt.Sprintf("%#v", k.Params))
	}
	b.WriteString(hex.EncodeToString(params))
	b.WriteByte('|')
	b.WriteString(strconv.Itoa(k.FirstRow))
	b.WriteByte('|')
	b.WriteString(strconv.Itoa(k.MaxRows))
	b.WriteByte('|')
	b.WriteString(k.Tenant)
	b.WriteByte('|')
	b.WriteString(strings.Join(k.Shape, ","))
	return b.String()
}

// Digest returns a 64-bit digest of the key, used where keys must be short.
func (k QueryKey) Digest() uint64 {
	return xxhash.Sum64String(k.String())
}
