package billing

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Orchestrator coordinates the pricing engines, configuration, taxes and
// persistence across the billing operations. One instance serves all
// requests; per-call state lives in the engines it builds.
type Orchestrator struct {
	uow      UnitOfWork
	store    TransactionStore
	engines  EngineFactory
	configs  ConfigurationProvider
	taxes    TaxEngine
	packages PackageCatalog
	log      zerolog.Logger
}

func NewOrchestrator(
	uow UnitOfWork,
	store TransactionStore,
	engines EngineFactory,
	configs ConfigurationProvider,
	taxes TaxEngine,
	packages PackageCatalog,
	log zerolog.Logger,
) *Orchestrator {
	return &Orchestrator{
		uow:      uow,
		store:    store,
		engines:  engines,
		configs:  configs,
		taxes:    taxes,
		packages: packages,
		log:      log.With().Str("component", "billing").Logger(),
	}
}

func (o *Orchestrator) engineFor(fs FinancialStatus) LinePricingEngine {
	if fs == FinancialStatusInsured {
		return o.engines.Insured()
	}
	return o.engines.Cash()
}

func (o *Orchestrator) loadWorkingSet(ctx context.Context, visitID int64) (*WorkingSet, error) {
	txs, err := o.store.ByVisit(ctx, visitID)
	if err != nil {
		return nil, err
	}
	return NewWorkingSet(txs), nil
}

// buildSeed collects the coverage identifiers from both the request lines
// and the visit's live transactions, so re-pricing sees the same caches the
// original pricing did even when the request omits them.
func buildSeed(visitID int64, lines []*RequestLine, txs []*Transaction) CacheSeed {
	seed := CacheSeed{VisitID: visitID}
	appendID := func(dst []int64, id *int64) []int64 {
		if id == nil {
			return dst
		}
		for _, v := range dst {
			if v == *id {
				return dst
			}
		}
		return append(dst, *id)
	}
	for _, l := range lines {
		seed.ContractIDs = appendID(seed.ContractIDs, l.ContractID)
		seed.InsuranceCardIDs = appendID(seed.InsuranceCardIDs, l.InsuranceCardID)
		seed.CoverLetterIDs = appendID(seed.CoverLetterIDs, l.CoverLetterID)
		seed.ContractorIDs = appendID(seed.ContractorIDs, l.ContractorID)
	}
	for _, tx := range txs {
		if tx.Deleted {
			continue
		}
		seed.ContractIDs = appendID(seed.ContractIDs, tx.ContractID)
		seed.InsuranceCardIDs = appendID(seed.InsuranceCardIDs, tx.InsuranceCardID)
		seed.CoverLetterIDs = appendID(seed.CoverLetterIDs, tx.CoverLetterID)
		seed.ContractorIDs = appendID(seed.ContractorIDs, tx.ContractorID)
	}
	if len(lines) > 0 {
		seed.EpisodeType = lines[0].EpisodeType
	}
	return seed
}

// enginePair lazily builds one engine per financial status over the shared
// working set. Each request line is priced by the engine of its own status;
// lines priced by one engine stay visible to the other through the set.
type enginePair struct {
	factory EngineFactory
	seed    CacheSeed
	ws      *WorkingSet
	cash    LinePricingEngine
	insured InsuredPricingEngine
}

func newEnginePair(factory EngineFactory, seed CacheSeed, ws *WorkingSet) *enginePair {
	return &enginePair{factory: factory, seed: seed, ws: ws}
}

func (p *enginePair) engineFor(ctx context.Context, fs FinancialStatus) (LinePricingEngine, error) {
	if fs == FinancialStatusInsured {
		return p.insuredEngine(ctx)
	}
	if p.cash == nil {
		eng := p.factory.Cash()
		if err := eng.Initialize(ctx, p.seed, p.ws); err != nil {
			return nil, err
		}
		p.cash = eng
	}
	return p.cash, nil
}

func (p *enginePair) insuredEngine(ctx context.Context) (InsuredPricingEngine, error) {
	if p.insured == nil {
		eng := p.factory.Insured()
		if err := eng.Initialize(ctx, p.seed, p.ws); err != nil {
			return nil, err
		}
		p.insured = eng
	}
	return p.insured, nil
}

// any returns an initialized engine for engine-agnostic work such as
// persisting new rows.
func (p *enginePair) any(ctx context.Context) (LinePricingEngine, error) {
	if p.insured != nil {
		return p.insured, nil
	}
	return p.engineFor(ctx, FinancialStatusCash)
}

// contractType is stamped uniformly on every response entry of one call;
// it comes from the insured engine when the call touched one.
func (p *enginePair) contractType() ContractTypeInfo {
	if p.insured != nil {
		return p.insured.ContractType()
	}
	return ContractTypeInfo{}
}

func (p *enginePair) logFinal(res LineResult) {
	switch {
	case p.insured != nil:
		p.insured.LogFinalResponse(res)
	case p.cash != nil:
		p.cash.LogFinalResponse(res)
	}
}

func (p *enginePair) flush(ctx context.Context) error {
	if p.cash != nil {
		if err := p.cash.Flush(ctx); err != nil {
			return err
		}
	}
	if p.insured != nil {
		return p.insured.Flush(ctx)
	}
	return nil
}

func insuredOnly(txs []*Transaction) []*Transaction {
	var out []*Transaction
	for _, tx := range txs {
		if tx.FinancialStatus == FinancialStatusInsured {
			out = append(out, tx)
		}
	}
	return out
}

// PriceInquiry prices the request lines against the visit. persist records
// the outcome; reInquiry reprices the visit's existing lines. With both
// false the call is a dry run: no write of any kind, and new lines are
// identified by transient refs minted for this call only.
func (o *Orchestrator) PriceInquiry(ctx context.Context, lines []*RequestLine, persist, reInquiry bool) ([]LineResult, error) {
	if len(lines) == 0 {
		return []LineResult{failureResult(StatusInvalidRequest, msgInvalidRequest)}, nil
	}

	if !persist {
		ctr := newRefCounter()
		for _, line := range lines {
			if line.Ref() == nil {
				line.SetRef(ctr.mint())
			}
			o.log.Info().
				Str("request_id", uuid.NewString()).
				Int64("visit_id", line.VisitID).
				Int64("product_id", line.ProductID).
				Int64("visit_service_id", line.Ref().Int64()).
				Msg("price inquiry line")
		}
	}

	var results []LineResult
	err := o.uow.Run(ctx, func(ctx context.Context) error {
		var err error
		results, err = o.priceInquiry(ctx, lines, persist, reInquiry)
		return err
	})
	if err != nil {
		if _, ok := AsEngineError(err); ok {
			return nil, err
		}
		return nil, wrapUnexpected(err)
	}
	return results, nil
}

func (o *Orchestrator) priceInquiry(ctx context.Context, lines []*RequestLine, persist, reInquiry bool) ([]LineResult, error) {
	if reInquiry || persist {
		for _, line := range lines {
			if line.Ref() == nil {
				return nil, newEngineError(StatusEmptyVisitServiceID, "visit service id is required")
			}
		}
	}

	visitID := lines[0].VisitID
	hasInsured, hasCash := false, false
	for _, l := range lines {
		switch l.FinancialStatus {
		case FinancialStatusInsured:
			hasInsured = true
		case FinancialStatusCash:
			hasCash = true
		}
	}

	cfg, err := o.configs.LatestActive(ctx)
	if err != nil {
		return nil, err
	}
	ws, err := o.loadWorkingSet(ctx, visitID)
	if err != nil {
		return nil, err
	}
	pair := newEnginePair(o.engines, buildSeed(visitID, lines, ws.All()), ws)

	if reInquiry {
		kept := lines[:0]
		for _, line := range lines {
			if ref := line.Ref(); ref != nil {
				if tx := ws.ByServiceRef(*ref); tx != nil && tx.IsClaimed() {
					continue
				}
			}
			kept = append(kept, line)
		}
		lines = kept
		if hasInsured {
			resetShares(insuredOnly(ws.NonClaimed()))
		}
		if hasCash {
			resetShares(ws.PackageLinked())
		}
	}

	// Persisted lines keep request order; transient lines follow in the
	// order they were minted (-1 before -2).
	var ordered []*RequestLine
	var transientLines []*RequestLine
	for _, line := range lines {
		if ref := line.Ref(); ref != nil && ref.IsTransient() {
			transientLines = append(transientLines, line)
			continue
		}
		ordered = append(ordered, line)
	}
	sort.SliceStable(transientLines, func(i, j int) bool {
		return transientLines[i].Ref().Int64() > transientLines[j].Ref().Int64()
	})
	ordered = append(ordered, transientLines...)

	markAll := cfg.MarkServiceExceedLimit == MarkAllServices
	exceedAny := false
	newCount := 0
	var newTxs []*Transaction
	var transientTxs []*Transaction
	var earlyResults []LineResult
	earlyRefs := map[int64]bool{}

	for _, line := range ordered {
		if !line.FinancialStatus.Valid() {
			res := failureResult(StatusInvalidFinancialStatus, msgInvalidFinancialStatus)
			res.TransactionID = line.TransactionID
			res.VisitServiceID = line.VisitServiceID
			earlyResults = append(earlyResults, res)
			continue
		}
		eng, err := pair.engineFor(ctx, line.FinancialStatus)
		if err != nil {
			return nil, err
		}

		if reInquiry && line.TransactionID != nil {
			tx := ws.ByID(*line.TransactionID, false)
			if tx == nil {
				return nil, errTransactionNotExist(*line.TransactionID)
			}
			line.SetRef(tx.ServiceRef)
		}

		var existing *Transaction
		if ref := line.Ref(); ref != nil {
			existing = ws.ByServiceRef(*ref)
		}
		editMode := existing != nil

		// Moving a line off the package it was bought under requires the
		// purchase row of that package to still be live in the visit.
		if persist && editMode && existing.PatientPackageID != nil &&
			(line.PatientPackageID == nil || *existing.PatientPackageID != *line.PatientPackageID) {
			if ws.PackagePurchase(*existing.PatientPackageID) == nil {
				return nil, errTransactionNotExist(*existing.PatientPackageID)
			}
		}

		opts := PriceOptions{Persist: true, ForReInquiry: true, FullSplit: persist}
		if reInquiry {
			opts = PriceOptions{Persist: persist, ForReInquiry: false, FullSplit: true}
		}
		priced, err := eng.PriceLine(ctx, line, opts)
		if err != nil {
			return nil, err
		}
		tx := priced.Transaction

		if cfg.IsApprovalExceedingCoLimit && tx != nil && tx.Detail != nil && tx.Detail.IsExceedLimit {
			exceedAny = true
		}
		if !editMode && tx != nil {
			newCount++
			newTxs = append(newTxs, tx)
		}
		if ref := line.Ref(); !persist && tx != nil && ref != nil && ref.IsTransient() {
			transientTxs = append(transientTxs, tx)
		}

		if priced.Valid && line.PatientPackageID != nil {
			if p := ws.PackagePurchase(*line.PatientPackageID); p != nil && p.Package != nil {
				if sd := eng.PackageStartDate(); sd != nil {
					p.Package.StartDate = sd
				}
				if ed := eng.PackageExpiryDate(); ed != nil {
					p.Package.ExpiryDate = ed
				}
			}
		}

		if !priced.Valid && persist && editMode {
			existing.Invalid = true
			existing.StatusCode = priced.StatusCode
			existing.Message = priced.Message
			eng.UpdateTransaction(existing)
		}

		if !persist || (!priced.Valid && !editMode) {
			res := projectTransaction(tx, eng.ContractType(), projectOptions{pureInquiry: !persist})
			if !priced.Valid {
				res.Valid = false
				res.StatusCode = priced.StatusCode
				res.Message = priced.Message
			}
			earlyResults = append(earlyResults, res)
			if ref := line.Ref(); ref != nil {
				earlyRefs[ref.Int64()] = true
			}
			eng.LogFinalResponse(res)
		}
	}

	var redistributed []*Transaction
	if newCount > 0 && cfg.IsApprovalExceedingCoLimit && pair.insured != nil {
		set := insuredOnly(ws.NonClaimedPersisted())
		if !persist {
			set = append(set, insuredOnly(transientTxs)...)
		}
		resetShares(set)
		exceeded, err := pair.insured.RedistributeShares(ctx, set)
		if err != nil {
			return nil, err
		}
		if exceeded {
			exceedAny = true
		}
		redistributed = set
		if markAll && exceedAny {
			if err := o.markLimitExceeded(ctx, pair.insured, ws.NonClaimedUndecided(), !reInquiry); err != nil {
				return nil, err
			}
		}
	}
	if persist {
		for _, tx := range newTxs {
			if tx.ID <= 0 {
				eng, err := pair.any(ctx)
				if err != nil {
					return nil, err
				}
				if err := eng.SaveTransaction(ctx, tx); err != nil {
					return nil, err
				}
			}
		}
	}

	if reInquiry {
		if pair.insured != nil {
			set := insuredOnly(ws.NonClaimed())
			resetShares(set)
			exceeded, err := pair.insured.RedistributeShares(ctx, set)
			if err != nil {
				return nil, err
			}
			if exceeded && cfg.IsApprovalExceedingCoLimit && markAll {
				if err := o.markLimitExceeded(ctx, pair.insured, ws.NonClaimedUndecided(), true); err != nil {
					return nil, err
				}
			}
		}
		if pair.cash != nil {
			pkg := ws.PackageLinked()
			resetShares(pkg)
			if _, err := pair.cash.RedistributeShares(ctx, pkg); err != nil {
				return nil, err
			}
		}
	}

	if reInquiry || persist {
		if err := pair.flush(ctx); err != nil {
			return nil, err
		}
	}

	// Response assembly.
	var returned []*Transaction
	for _, tx := range ws.All() {
		if !tx.Deleted {
			returned = append(returned, tx)
		}
	}
	if !reInquiry && persist {
		requested := map[int64]bool{}
		for _, line := range lines {
			if ref := line.Ref(); ref != nil {
				requested[ref.Int64()] = true
			}
		}
		var filtered []*Transaction
		seen := map[int64]bool{}
		for _, tx := range returned {
			if requested[tx.ServiceRef.Int64()] {
				filtered = append(filtered, tx)
				seen[tx.ServiceRef.Int64()] = true
			}
		}
		if cfg.IsApprovalExceedingCoLimit && ((markAll && exceedAny) || len(redistributed) > 0) {
			for _, tx := range redistributed {
				if !seen[tx.ServiceRef.Int64()] {
					filtered = append(filtered, tx)
					seen[tx.ServiceRef.Int64()] = true
				}
			}
		}
		returned = filtered
	}

	results := earlyResults
	pureInquiry := !persist
	if pureInquiry {
		transientCount := 0
		transientRefs := map[int64]bool{}
		for _, tx := range returned {
			if tx.ServiceRef.IsTransient() {
				transientCount++
				transientRefs[tx.ServiceRef.Int64()] = true
			}
		}
		if transientCount == len(results) {
			results = nil
		} else {
			var kept []LineResult
			for _, r := range results {
				if r.VisitServiceID != nil && transientRefs[*r.VisitServiceID] {
					continue
				}
				kept = append(kept, r)
			}
			results = kept
		}
	}
	for _, tx := range returned {
		res := projectTransaction(tx, pair.contractType(), projectOptions{pureInquiry: pureInquiry})
		pair.logFinal(res)
		results = append(results, res)
	}

	if !persist {
		sort.SliceStable(results, func(i, j int) bool {
			return refOf(results[i]) > refOf(results[j])
		})
		var kept []LineResult
		for i := range results {
			if results[i].VisitServiceID != nil && *results[i].VisitServiceID < 0 {
				zero := int64(0)
				results[i].VisitServiceID = &zero
			}
			if results[i].VisitServiceID == nil || *results[i].VisitServiceID == 0 {
				kept = append(kept, results[i])
			}
		}
		results = kept
	}
	return results, nil
}

func refOf(r LineResult) int64 {
	if r.VisitServiceID == nil {
		return 0
	}
	return *r.VisitServiceID
}

// markLimitExceeded converts every given undecided insured line to patient
// liability at its cash-equivalent price.
func (o *Orchestrator) markLimitExceeded(ctx context.Context, eng LinePricingEngine, txs []*Transaction, shiftTaxes bool) error {
	insured, ok := eng.(InsuredPricingEngine)
	if !ok {
		return nil
	}
	for _, tx := range txs {
		if tx.FinancialStatus != FinancialStatusInsured {
			continue
		}
		eq, err := insured.CashEquivalentPrice(ctx, tx.ServiceRef)
		if err != nil {
			return err
		}
		applyLimitExceed(tx, eq, shiftTaxes)
		eng.UpdateTransaction(tx)
	}
	return nil
}
