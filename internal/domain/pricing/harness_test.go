package pricing

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/hmis/billing-engine/internal/domain/billing"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func i64(v int64) *int64 { return &v }

type fakeStore struct {
	txs []*billing.Transaction

	inserts     int
	saves       int
	taxReplaces int
	softDeletes int
}

func (s *fakeStore) ByVisit(ctx context.Context, visitID int64) ([]*billing.Transaction, error) {
	var out []*billing.Transaction
	for _, t := range s.txs {
		if t.VisitID == visitID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *fakeStore) ByIDNotDeleted(ctx context.Context, id int64) (*billing.Transaction, error) {
	for _, t := range s.txs {
		if t.ID == id && !t.Deleted {
			return t, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) ByIDWithDetail(ctx context.Context, id int64) (*billing.Transaction, error) {
	for _, t := range s.txs {
		if t.ID == id {
			return t, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) ByServiceRefs(ctx context.Context, refs []int64) ([]*billing.Transaction, error) {
	var out []*billing.Transaction
	for _, t := range s.txs {
		for _, r := range refs {
			if !t.Deleted && t.ServiceRef.Int64() == r {
				out = append(out, t)
			}
		}
	}
	return out, nil
}

func (s *fakeStore) Insert(ctx context.Context, tx *billing.Transaction) error {
	s.inserts++
	tx.ID = int64(len(s.txs) + 1000)
	if !tx.ServiceRef.IsPersisted() {
		tx.ServiceRef = billing.PersistedRef(tx.ID)
	}
	s.txs = append(s.txs, tx)
	return nil
}

func (s *fakeStore) SaveAll(ctx context.Context, txs []*billing.Transaction) error {
	for _, tx := range txs {
		if tx.ID <= 0 {
			if err := s.Insert(ctx, tx); err != nil {
				return err
			}
			continue
		}
		s.saves++
	}
	return nil
}

func (s *fakeStore) ReplaceTaxLines(ctx context.Context, transactionID int64, taxes []*billing.TaxLine) error {
	s.taxReplaces++
	return nil
}

func (s *fakeStore) ReplaceMasterTaxLines(ctx context.Context, visitID int64, taxes []*billing.TaxLine) error {
	return nil
}

func (s *fakeStore) SoftDelete(ctx context.Context, ids []int64) error {
	s.softDeletes++
	for _, t := range s.txs {
		for _, id := range ids {
			if t.ID == id {
				t.Deleted = true
			}
		}
	}
	return nil
}

type fakeRates struct {
	cash    map[int64]decimal.Decimal
	insured map[int64]decimal.Decimal
	terms   *ContractTerms
	taxes   map[int64][]TaxRate
	pkgs    map[int64]*PackageTerms
}

func (r *fakeRates) CashPrice(ctx context.Context, productID int64) (PriceQuote, error) {
	price, ok := r.cash[productID]
	if !ok {
		return PriceQuote{}, nil
	}
	pt := "service"
	if r.pkgs[productID] != nil {
		pt = productTypePackage
	}
	return PriceQuote{Found: true, UnitPrice: price, ProductType: pt}, nil
}

func (r *fakeRates) InsuredPrice(ctx context.Context, contractID, productID int64) (PriceQuote, error) {
	if price, ok := r.insured[productID]; ok {
		return PriceQuote{Found: true, UnitPrice: price, ProductType: "service"}, nil
	}
	return r.CashPrice(ctx, productID)
}

func (r *fakeRates) ContractTerms(ctx context.Context, contractID int64) (*ContractTerms, error) {
	return r.terms, nil
}

func (r *fakeRates) TaxRates(ctx context.Context, productID int64) ([]TaxRate, error) {
	return r.taxes[productID], nil
}

func (r *fakeRates) PackageTerms(ctx context.Context, productID int64) (*PackageTerms, error) {
	return r.pkgs[productID], nil
}
