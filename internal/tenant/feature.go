package tenant

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
)

// FeatureChecker reports a database as eligible when the named module is
// installed in its module catalog.
type FeatureChecker struct {
	src     Source
	feature string
}

// NewFeatureChecker creates a checker for the given module name.
func NewFeatureChecker(src Source, feature string) *FeatureChecker {
	return &FeatureChecker{src: src, feature: feature}
}

// Eligible implements Checker.
func (c *FeatureChecker) Eligible(ctx context.Context, db string) (bool, error) {
	query, args, err := featureQuery(c.feature)
	if err != nil {
		return false, fmt.Errorf("feature check: build query: %w", err)
	}
	conn, err := c.src.Acquire(ctx, db)
	if err != nil {
		return false, err
	}
	defer conn.Release()

	var one int
	err = conn.QueryRow(ctx, query, args...).Scan(&one)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, pgx.ErrNoRows):
		return false, nil
	default:
		return false, classify(db, err)
	}
}

func featureQuery(feature string) (string, []any, error) {
	return sq.StatementBuilder.PlaceholderFormat(sq.Dollar).
		Select("1").
		From("ir_module_module").
		Where(sq.Eq{"name": feature}).
		Where(sq.Eq{"state": "installed"}).
		ToSql()
}
