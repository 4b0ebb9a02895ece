package pricing

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/hmis/billing-engine/internal/domain/billing"
)

// engineBase carries the per-call state both engines share: the visit
// working set, the staged entity lists flushed at commit, and the package
// dates resolved by the last priced line.
type engineBase struct {
	store billing.TransactionStore
	rates RateSource
	log   zerolog.Logger

	ws      *billing.WorkingSet
	visitID int64

	staged  []*billing.Transaction
	updated map[*billing.Transaction]bool

	pkgStart  *time.Time
	pkgExpiry *time.Time
}

func newEngineBase(store billing.TransactionStore, rates RateSource, log zerolog.Logger) engineBase {
	return engineBase{
		store:   store,
		rates:   rates,
		log:     log,
		updated: map[*billing.Transaction]bool{},
	}
}

func (b *engineBase) initialize(ctx context.Context, seed billing.CacheSeed, ws *billing.WorkingSet) error {
	b.visitID = seed.VisitID
	b.ws = ws
	return nil
}

func (b *engineBase) WorkingSet() *billing.WorkingSet { return b.ws }

func (b *engineBase) AddTransaction(tx *billing.Transaction) {
	b.staged = append(b.staged, tx)
	b.ws.Add(tx)
}

func (b *engineBase) UpdateTransaction(tx *billing.Transaction) {
	b.updated[tx] = true
}

func (b *engineBase) SaveTransaction(ctx context.Context, tx *billing.Transaction) error {
	if tx.ID > 0 {
		return nil
	}
	return b.store.Insert(ctx, tx)
}

func (b *engineBase) Flush(ctx context.Context) error {
	var batch []*billing.Transaction
	for _, tx := range b.staged {
		batch = append(batch, tx)
		delete(b.updated, tx)
	}
	for tx := range b.updated {
		batch = append(batch, tx)
	}
	b.staged = nil
	b.updated = map[*billing.Transaction]bool{}
	if len(batch) == 0 {
		return nil
	}
	if err := b.store.SaveAll(ctx, batch); err != nil {
		return err
	}
	// Tax rows computed in memory this call (nil Deleted) replace the
	// stored ones.
	for _, tx := range batch {
		dirty := false
		for _, tl := range tx.Taxes {
			if tl.Deleted == nil {
				dirty = true
				break
			}
		}
		if dirty && tx.ID > 0 {
			if err := b.store.ReplaceTaxLines(ctx, tx.ID, tx.Taxes); err != nil {
				return err
			}
		}
	}
	return nil
}

func (b *engineBase) PackageStartDate() *time.Time  { return b.pkgStart }
func (b *engineBase) PackageExpiryDate() *time.Time { return b.pkgExpiry }

func (b *engineBase) LogFinalResponse(res billing.LineResult) {
	ev := b.log.Debug().
		Int64("visit_id", b.visitID).
		Bool("valid", res.Valid).
		Str("status", res.StatusCode.String())
	if res.VisitServiceID != nil {
		ev = ev.Int64("visit_service_id", *res.VisitServiceID)
	}
	if res.PatientShare != nil {
		ev = ev.Str("patient_share", res.PatientShare.String())
	}
	if res.CompanyShare != nil {
		ev = ev.Str("company_share", res.CompanyShare.String())
	}
	ev.Msg("priced line")
}

// resolvePackageDates stamps the purchase window for a package product.
func (b *engineBase) resolvePackageDates(ctx context.Context, productID int64) error {
	terms, err := b.rates.PackageTerms(ctx, productID)
	if err != nil {
		return err
	}
	if terms == nil {
		b.pkgStart, b.pkgExpiry = nil, nil
		return nil
	}
	start := time.Now().UTC().Truncate(24 * time.Hour)
	expiry := start.AddDate(0, 0, terms.DurationDays)
	b.pkgStart, b.pkgExpiry = &start, &expiry
	return nil
}
