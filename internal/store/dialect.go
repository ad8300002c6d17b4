package store

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

type dialect struct {
	name string
	// forUpdate is appended to the user lookup inside a transaction.
	forUpdate string
	// tolerated maps a migration file to the exact error text that marks it
	// as already applied.
	tolerated map[string]string
	positional bool
}

var (
	sqliteDialect = dialect{
		name: "sqlite",
		tolerated: map[string]string{
			"002_user_name.sql": "duplicate column name: name",
		},
	}
	postgresDialect = dialect{
		name:      "postgres",
		forUpdate: " FOR UPDATE",
		tolerated: map[string]string{
			"002_user_name.sql": `column "name" of relation "user" already exists`,
		},
		positional: true,
	}
)

// rebind rewrites ? placeholders into $1, $2, ... for dialects that need it.
func (d dialect) rebind(query string) string {
	if !d.positional {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// parseURI splits a database URI into its dialect and driver DSN.
//
//	sqlite:///data/db.sqlite3   -> data/db.sqlite3 (relative)
//	sqlite:////var/db.sqlite3   -> /var/db.sqlite3
//	sqlite://:memory:           -> :memory:
//	postgres://user@host/db     -> passed through to pgx
//	./data/db.sqlite3           -> plain SQLite path
func parseURI(uri string) (dialect, string, error) {
	scheme, rest, ok := strings.Cut(uri, "://")
	if !ok {
		if uri == "" {
			return dialect{}, "", fmt.Errorf("empty database uri")
		}
		return sqliteDialect, uri, nil
	}
	switch strings.ToLower(scheme) {
	case "sqlite", "sqlite3":
		path := strings.TrimPrefix(rest, "/")
		if path == "" {
			return dialect{}, "", fmt.Errorf("sqlite uri %q has no path", uri)
		}
		return sqliteDialect, path, nil
	case "postgres", "postgresql":
		return postgresDialect, uri, nil
	default:
		return dialect{}, "", fmt.Errorf("unsupported database scheme %q", scheme)
	}
}

// isUniqueViolation reports whether err is a unique constraint failure of
// either driver.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return false
}
