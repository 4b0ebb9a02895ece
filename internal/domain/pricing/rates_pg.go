package pricing

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hmis/billing-engine/internal/domain/billing"
	"github.com/hmis/billing-engine/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type rateSourcePG struct{ pool *pgxpool.Pool }

func NewRateSourcePG(pool *pgxpool.Pool) RateSource {
	return &rateSourcePG{pool: pool}
}

func (s *rateSourcePG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return s.pool
}

func (s *rateSourcePG) CashPrice(ctx context.Context, productID int64) (PriceQuote, error) {
	var q PriceQuote
	err := s.conn(ctx).QueryRow(ctx, `
		SELECT pp.unit_price, pp.price_list_id, pp.price_plan_id, pp.range_set_id, pp.range_set_rank,
			p.product_type
		FROM product_price pp
		JOIN product p ON p.id = pp.product_id
		WHERE pp.product_id = $1 AND pp.contract_id IS NULL AND pp.active
		ORDER BY pp.id DESC LIMIT 1`, productID).
		Scan(&q.UnitPrice, &q.PriceListID, &q.PricePlanID, &q.PricePlanRangeSetID,
			&q.PricePlanRangeSetRank, &q.ProductType)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PriceQuote{}, nil
		}
		return PriceQuote{}, err
	}
	q.Found = true
	return q, nil
}

func (s *rateSourcePG) InsuredPrice(ctx context.Context, contractID, productID int64) (PriceQuote, error) {
	var q PriceQuote
	err := s.conn(ctx).QueryRow(ctx, `
		SELECT pp.unit_price, pp.price_list_id, pp.price_plan_id, pp.range_set_id, pp.range_set_rank,
			p.product_type
		FROM product_price pp
		JOIN product p ON p.id = pp.product_id
		WHERE pp.product_id = $1 AND pp.contract_id = $2 AND pp.active
		ORDER BY pp.id DESC LIMIT 1`, productID, contractID).
		Scan(&q.UnitPrice, &q.PriceListID, &q.PricePlanID, &q.PricePlanRangeSetID,
			&q.PricePlanRangeSetRank, &q.ProductType)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Contracts without an own price list use the cash one.
			return s.CashPrice(ctx, productID)
		}
		return PriceQuote{}, err
	}
	q.Found = true
	return q, nil
}

func (s *rateSourcePG) ContractTerms(ctx context.Context, contractID int64) (*ContractTerms, error) {
	var t ContractTerms
	var ctID *int64
	var ctName, ctArName *string
	err := s.conn(ctx).QueryRow(ctx, `
		SELECT c.id, c.coverage_percent, c.discount_percent, c.visit_limit, c.approval_over_limit,
			ct.id, ct.name, ct.ar_name
		FROM contract c
		LEFT JOIN contract_type ct ON ct.id = c.contract_type_id
		WHERE c.id = $1`, contractID).
		Scan(&t.ContractID, &t.CoveragePercent, &t.DiscountPercent, &t.VisitLimit, &t.ApprovalOverLimit,
			&ctID, &ctName, &ctArName)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	t.ContractType = billing.ContractTypeInfo{ID: ctID}
	if ctName != nil {
		t.ContractType.Name = *ctName
	}
	if ctArName != nil {
		t.ContractType.ArName = *ctArName
	}
	return &t, nil
}

func (s *rateSourcePG) TaxRates(ctx context.Context, productID int64) ([]TaxRate, error) {
	rows, err := s.conn(ctx).Query(ctx, `
		SELECT t.id, t.name, pt.percent
		FROM product_tax pt
		JOIN tax t ON t.id = pt.tax_id
		WHERE pt.product_id = $1 AND t.active
		ORDER BY t.id`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []TaxRate
	for rows.Next() {
		var r TaxRate
		if err := rows.Scan(&r.TaxID, &r.TaxName, &r.Percent); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *rateSourcePG) PackageTerms(ctx context.Context, productID int64) (*PackageTerms, error) {
	var t PackageTerms
	err := s.conn(ctx).QueryRow(ctx, `
		SELECT product_id, duration_days, balance
		FROM package_product WHERE product_id = $1`, productID).
		Scan(&t.ProductID, &t.DurationDays, &t.Balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}
