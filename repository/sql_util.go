package repository

import (
	"database/sql"

	"github.com/formrelay/go-formrelay-server/types"
)

func affectedOrNotFound(res sql.Result, err error) error {
	return affected(res, err, types.ErrNotFound)
}

func affectedOrConflict(res sql.Result, err error) error {
	return affected(res, err, types.ErrConflict)
}

func affected(res sql.Result, err error, none error) error {
	if err != nil {
		return handleError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return none
	}
	return nil
}
