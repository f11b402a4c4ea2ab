package sqlstore

import (
	"fmt"
	"strconv"
	"strings"
)

// Driver names accepted by Open.
const (
	DriverPostgres = "pgx"
	DriverSQLite   = "sqlite"
)

type dialect struct {
	driver     string
	numbered   bool
	schemaFile string
	singleConn bool
}

func dialectFor(driver string) (dialect, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case DriverPostgres, "postgres", "postgresql":
		return dialect{driver: DriverPostgres, numbered: true, schemaFile: "schema/postgres.sql"}, nil
	case DriverSQLite, "sqlite3":
		return dialect{driver: DriverSQLite, schemaFile: "schema/sqlite.sql", singleConn: true}, nil
	default:
		return dialect{}, fmt.Errorf("sqlstore: unsupported driver %q", driver)
	}
}

// rebind rewrites '?' placeholders into the dialect's bind syntax.
func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// placeholders returns a comma separated list of n bind markers.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
