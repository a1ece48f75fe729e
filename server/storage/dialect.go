package storage

import (
	"strconv"
	"strings"
)

// dialect carries the SQL fragments that differ between the registry
// backends. Queries are written with ? markers and rebound per backend.
type dialect struct {
	name     string
	numbered bool // $1, $2 markers instead of ?
	posType  string
	timeType string
	now      string
}

var (
	sqliteDialect = dialect{
		name:     "sqlite",
		posType:  "INTEGER",
		timeType: "DATETIME",
		now:      "CURRENT_TIMESTAMP",
	}
	postgresDialect = dialect{
		name:     "postgres",
		numbered: true,
		posType:  "BIGINT",
		timeType: "TIMESTAMPTZ",
		now:      "NOW()",
	}
)

// bind rewrites ? markers outside single-quoted literals into $n markers
// when the backend numbers its parameters.
func (d dialect) bind(q string) string {
	if !d.numbered {
		return q
	}
	out := make([]byte, 0, len(q)+8)
	n, quoted := 0, false
	for i := 0; i < len(q); i++ {
		c := q[i]
		switch {
		case c == '\'':
			quoted = !quoted
		case c == '?' && !quoted:
			n++
			out = append(out, '$')
			out = strconv.AppendInt(out, int64(n), 10)
			continue
		}
		out = append(out, c)
	}
	return string(out)
}

// onConflict returns the upsert clause keyed on the given columns.
func (d dialect) onConflict(columns ...string) string {
	return "ON CONFLICT (" + strings.Join(columns, ", ") + ") DO UPDATE SET"
}
