package database

import (
	"database/sql"
	"fmt"
)

// execRequireRows checks an Exec result and fails with notFound when the
// statement matched no rows. Keeps the repository methods terse.
func execRequireRows(result sql.Result, execErr error, notFound error) error {
	if execErr != nil {
		return fmt.Errorf("failed to execute update: %w", execErr)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return notFound
	}
	return nil
}
