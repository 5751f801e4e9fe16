package files

import (
	"errors"
	"strings"

	"github.com/dmitrijs2005/zkdrop/internal/dbx"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var sqliteDialect = dialect{
	name:              "sqlite",
	positional:        true,
	isUniqueViolation: isSQLiteUniqueViolation,
}

// SQLiteRepository stores records in an embedded SQLite database
// (modernc.org/sqlite, no cgo).
type SQLiteRepository struct {
	sqlRepository
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{sqlRepository{db: db, d: sqliteDialect}}
}

func isSQLiteUniqueViolation(err error) bool {
	var sqErr *sqlite.Error
	if !errors.As(err, &sqErr) {
		return false
	}
	switch sqErr.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	case sqlite3.SQLITE_CONSTRAINT:
		// extended result codes disabled
		return strings.Contains(sqErr.Error(), "UNIQUE constraint failed")
	}
	return false
}
