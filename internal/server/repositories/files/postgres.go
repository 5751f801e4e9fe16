package files

import (
	"errors"

	"github.com/dmitrijs2005/zkdrop/internal/dbx"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
)

var postgresDialect = dialect{
	name:              "postgres",
	isUniqueViolation: isPgUniqueViolation,
}

// PostgresRepository stores records in PostgreSQL through the pgx stdlib driver.
type PostgresRepository struct {
	sqlRepository
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{sqlRepository{db: db, d: postgresDialect}}
}

func isPgUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}
