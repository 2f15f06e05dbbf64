package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"basegraph.app/localizer/core/db"
	"basegraph.app/localizer/internal/model"
)

var packageDetailsSchema = []string{
	`CREATE TABLE IF NOT EXISTS package_details (
		project     TEXT        NOT NULL,
		package     TEXT        NOT NULL,
		details     TEXT        NOT NULL,
		token_count INTEGER     NOT NULL,
		cached_at   TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (project, package)
	)`,
	`CREATE INDEX IF NOT EXISTS package_details_cached_at_idx ON package_details (project, cached_at)`,
}

// TxRunner is satisfied by *db.DB.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(q db.Querier) error) error
}

type pgPackageDetailsStore struct {
	q db.Querier
}

// NewPostgresPackageDetailsStore stores entries in the package_details table.
func NewPostgresPackageDetailsStore(q db.Querier) PackageDetailsStore {
	return &pgPackageDetailsStore{q: q}
}

// EnsurePackageDetailsSchema creates the package_details table and its index
// in one transaction.
func EnsurePackageDetailsSchema(ctx context.Context, tx TxRunner) error {
	return tx.WithTx(ctx, func(q db.Querier) error {
		for _, stmt := range packageDetailsSchema {
			if _, err := q.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("creating package_details schema: %w", err)
			}
		}
		return nil
	})
}

func (s *pgPackageDetailsStore) Get(ctx context.Context, project, pkg string) (model.PackageDetails, error) {
	d := model.PackageDetails{Package: pkg}
	err := s.q.QueryRow(ctx,
		`SELECT details, token_count, cached_at FROM package_details WHERE project = $1 AND package = $2`,
		project, pkg,
	).Scan(&d.Text, &d.TokenCount, &d.CachedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.PackageDetails{}, ErrNotFound
		}
		return model.PackageDetails{}, err
	}
	return d, nil
}

func (s *pgPackageDetailsStore) Put(ctx context.Context, project string, d model.PackageDetails) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO package_details (project, package, details, token_count, cached_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (project, package) DO UPDATE
		SET details = EXCLUDED.details, token_count = EXCLUDED.token_count, cached_at = EXCLUDED.cached_at`,
		project, d.Package, d.Text, d.TokenCount, d.CachedAt)
	return err
}

func (s *pgPackageDetailsStore) Delete(ctx context.Context, project, pkg string) error {
	_, err := s.q.Exec(ctx, `DELETE FROM package_details WHERE project = $1 AND package = $2`, project, pkg)
	return err
}

func (s *pgPackageDetailsStore) ListPackages(ctx context.Context, project string) ([]string, error) {
	rows, err := s.q.Query(ctx, `SELECT package FROM package_details WHERE project = $1 ORDER BY package`, project)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}
