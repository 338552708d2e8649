package repository

import (
	"database/sql"
	"errors"

	"github.com/formrelay/go-formrelay-server/types"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// handleError maps driver errors to the types error taxonomy
func handleError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return types.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return types.ErrConflict
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) && (liteErr.ExtendedCode == sqlite3.ErrConstraintUnique || liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey) {
		return types.ErrConflict
	}
	return err
}
