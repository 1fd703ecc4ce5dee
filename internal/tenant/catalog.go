package tenant

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
)

// Catalog lists the databases of a Postgres server through its maintenance
// database.
type Catalog struct {
	src     Source
	maint   string
	exclude []string
}

// NewCatalog creates a Catalog that queries pg_database on maint, skipping
// the names in exclude.
func NewCatalog(src Source, maint string, exclude []string) *Catalog {
	return &Catalog{src: src, maint: maint, exclude: exclude}
}

// List returns connectable, non-template database names in name order.
func (c *Catalog) List(ctx context.Context) ([]string, error) {
	query, args, err := listQuery(c.exclude)
	if err != nil {
		return nil, fmt.Errorf("list databases: build query: %w", err)
	}
	db, err := c.src.Acquire(ctx, c.maint)
	if err != nil {
		return nil, err
	}
	defer db.Release()
	rows, err := db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list databases: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list databases: %w", err)
	}
	return names, nil
}

func listQuery(exclude []string) (string, []any, error) {
	sb := sq.StatementBuilder.PlaceholderFormat(sq.Dollar).
		Select("datname").
		From("pg_database").
		Where("datallowconn").
		Where("NOT datistemplate").
		OrderBy("datname")
	if len(exclude) > 0 {
		sb = sb.Where(sq.NotEq{"datname": exclude})
	}
	return sb.ToSql()
}
