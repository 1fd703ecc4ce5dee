package tenant

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	connector "github.com/youwenMonkey/odoo-connector/internal"
)

// undefinedTable is SQLSTATE 42P01, raised when the module catalog table
// does not exist in the database.
const undefinedTable = "42P01"

// classify maps a missing module catalog to connector.ErrNotInstance.
// Every other error is returned unchanged.
func classify(db string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == undefinedTable {
		return fmt.Errorf("%w: %s", connector.ErrNotInstance, db)
	}
	return err
}
