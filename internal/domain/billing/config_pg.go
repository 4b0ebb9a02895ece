package billing

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hmis/billing-engine/internal/platform/db"
)

type configStorePG struct{ pool *pgxpool.Pool }

func NewConfigurationStorePG(pool *pgxpool.Pool) ConfigurationProvider {
	return &configStorePG{pool: pool}
}

func (s *configStorePG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return s.pool
}

func (s *configStorePG) LatestActive(ctx context.Context) (*Configuration, error) {
	var cfg Configuration
	var policy int
	err := s.conn(ctx).QueryRow(ctx, `
		SELECT id, is_approval_exceeding_co_limit, mark_service_exceed_limit
		FROM billing_configuration WHERE active ORDER BY id DESC LIMIT 1`).
		Scan(&cfg.ID, &cfg.IsApprovalExceedingCoLimit, &policy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// No configuration means no limit handling at all.
			return &Configuration{}, nil
		}
		return nil, err
	}
	cfg.MarkServiceExceedLimit = MarkExceedPolicy(policy)
	return &cfg, nil
}

type packageCatalogPG struct{ pool *pgxpool.Pool }

func NewPackageCatalogPG(pool *pgxpool.Pool) PackageCatalog {
	return &packageCatalogPG{pool: pool}
}

func (s *packageCatalogPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return s.pool
}

func (s *packageCatalogPG) IsPackageProduct(ctx context.Context, productID int64) (bool, error) {
	var isPkg bool
	err := s.conn(ctx).QueryRow(ctx,
		`SELECT product_type = 'package' FROM product WHERE id = $1`, productID).Scan(&isPkg)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	return isPkg, err
}
