package storage

import (
	"context"
	"fmt"
	"reflect"
	"strings"
)

// maxBindParams is the Postgres limit on placeholders in one statement.
const maxBindParams = 65535

// Column describes one non-key column of a canonical table.
type Column struct {
	Name string
	// HasDefault marks columns owned by the database (e.g. first_seen_at).
	// They are never written by an upsert.
	HasDefault bool
}

// Table is the declarative description an upsert is derived from.
type Table struct {
	Name    string
	Key     string
	Columns []Column
}

// Row holds one record's values in the order returned by WriteColumns:
// the key first, then every writable column. A nil value means "unknown"
// and never overwrites a stored value.
type Row []any

// Persister writes canonical rows idempotently.
type Persister interface {
	Upsert(ctx context.Context, table *Table, rows []Row) error
}

// WriteColumns returns the key followed by every column without a default.
func (t *Table) WriteColumns() []string {
	cols := make([]string, 0, len(t.Columns)+1)
	cols = append(cols, t.Key)
	for _, c := range t.Columns {
		if !c.HasDefault {
			cols = append(cols, c.Name)
		}
	}
	return cols
}

// BuildUpsert renders the INSERT ... ON CONFLICT statement for n rows.
//
//	INSERT INTO stations (id, name) VALUES ($1, $2)
//	ON CONFLICT (id) DO UPDATE SET name = COALESCE(EXCLUDED.name, stations.name)
func BuildUpsert(t *Table, n int) string {
	cols := t.WriteColumns()

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ", t.Name, strings.Join(cols, ", "))

	p := 1
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for j := range cols {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", p)
			p++
		}
		b.WriteByte(')')
	}

	fmt.Fprintf(&b, " ON CONFLICT (%s) DO ", t.Key)
	if len(cols) == 1 {
		b.WriteString("NOTHING")
		return b.String()
	}
	b.WriteString("UPDATE SET ")
	for i, c := range cols[1:] {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s = COALESCE(EXCLUDED.%s, %s.%s)", c, c, t.Name, c)
	}
	return b.String()
}

// MergeRow applies incoming on top of stored with the COALESCE rule and
// returns the result. Neither argument is modified.
func MergeRow(stored, incoming Row) Row {
	out := make(Row, len(incoming))
	copy(out, incoming)
	for i := range out {
		if isNull(out[i]) && i < len(stored) {
			out[i] = stored[i]
		}
	}
	return out
}

// collapseRows merges rows sharing a key, keeping first-seen order. A
// single INSERT ... ON CONFLICT cannot touch the same row twice.
func collapseRows(rows []Row) []Row {
	index := make(map[any]int, len(rows))
	out := make([]Row, 0, len(rows))
	for _, r := range rows {
		if i, ok := index[r[0]]; ok {
			out[i] = MergeRow(out[i], r)
			continue
		}
		index[r[0]] = len(out)
		out = append(out, r)
	}
	return out
}

// chunkRows splits rows so that no statement exceeds maxBindParams.
func chunkRows(rows []Row, width int) [][]Row {
	if width < 1 {
		width = 1
	}
	size := maxBindParams / width
	var chunks [][]Row
	for len(rows) > size {
		chunks = append(chunks, rows[:size])
		rows = rows[size:]
	}
	if len(rows) > 0 {
		chunks = append(chunks, rows)
	}
	return chunks
}

func validateRows(t *Table, rows []Row) error {
	width := len(t.WriteColumns())
	for i, r := range rows {
		if len(r) != width {
			return fmt.Errorf("row %d for %s has %d values, want %d", i, t.Name, len(r), width)
		}
		if isNull(r[0]) {
			return fmt.Errorf("row %d for %s has a null %s", i, t.Name, t.Key)
		}
	}
	return nil
}

func isNull(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice:
		return rv.IsNil()
	}
	return false
}

// val dereferences an optional field so that nil reaches the driver as NULL.
func val[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}
