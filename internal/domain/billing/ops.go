package billing

import "context"

// CancelPatientTransaction soft-deletes the given transactions and reprices
// whatever coverage or package balance their removal frees up. All ids must
// belong to one visit; the first one decides which engine handles the batch.
func (o *Orchestrator) CancelPatientTransaction(ctx context.Context, ids []int64) ([]LineResult, error) {
	if len(ids) == 0 {
		return []LineResult{failureResult(StatusInvalidRequest, msgInvalidRequest)}, nil
	}
	first, err := o.store.ByIDNotDeleted(ctx, ids[0])
	if err != nil {
		return nil, wrapUnexpected(err)
	}
	if first == nil {
		return nil, errTransactionNotExist(ids[0])
	}

	ws, err := o.loadWorkingSet(ctx, first.VisitID)
	if err != nil {
		return nil, wrapUnexpected(err)
	}
	eng := o.engineFor(first.FinancialStatus)
	if err := eng.Initialize(ctx, buildSeed(first.VisitID, nil, ws.All()), ws); err != nil {
		return nil, wrapUnexpected(err)
	}
	results, err := eng.CancelTransactions(ctx, ids, first.VisitID)
	if err != nil {
		if _, ok := AsEngineError(err); ok {
			return nil, err
		}
		return nil, wrapUnexpected(err)
	}
	return results, nil
}

// AddDiscount applies a patient discount percentage to each transaction and
// recomputes its tax rows. Returns the recomputed taxes per transaction.
func (o *Orchestrator) AddDiscount(ctx context.Context, lines []DiscountLine) ([]TaxResult, error) {
	if len(lines) == 0 {
		return []TaxResult{}, nil
	}

	var results []TaxResult
	err := o.uow.Run(ctx, func(ctx context.Context) error {
		var updated []*Transaction
		for _, dl := range lines {
			tx, err := o.store.ByIDWithDetail(ctx, dl.TransactionID)
			if err != nil {
				return err
			}
			if tx == nil {
				return errTransactionNotExist(dl.TransactionID)
			}
			o.log.Info().
				Int64("transaction_id", tx.ID).
				Int64("visit_id", tx.VisitID).
				Str("discount", dl.DiscountPercentage.String()).
				Msg("applying patient discount")

			d := dl.DiscountPercentage
			tx.PatientDiscount = &d
			taxes, err := o.taxes.ComputeTaxes(ctx, tx)
			if err != nil {
				return err
			}
			if err := o.store.ReplaceTaxLines(ctx, tx.ID, taxes); err != nil {
				return err
			}
			tx.Taxes = taxes
			updated = append(updated, tx)

			res := TaxResult{TransactionID: tx.ID, Taxes: []TaxResultLine{}}
			for _, t := range taxes {
				res.Taxes = append(res.Taxes, projectTaxLine(t, projectOptions{}))
			}
			results = append(results, res)
		}
		return o.store.SaveAll(ctx, updated)
	})
	if err != nil {
		if _, ok := AsEngineError(err); ok {
			return nil, err
		}
		return nil, wrapUnexpected(err)
	}
	return results, nil
}

// CalculateMasterTax recomputes the visit-level tax rows and replaces the
// stored ones.
func (o *Orchestrator) CalculateMasterTax(ctx context.Context, visitID int64) ([]TaxResultLine, error) {
	var results []TaxResultLine
	err := o.uow.Run(ctx, func(ctx context.Context) error {
		rows, err := o.taxes.ComputeMasterTaxes(ctx, visitID)
		if err != nil {
			return err
		}
		if err := o.store.ReplaceMasterTaxLines(ctx, visitID, rows); err != nil {
			return err
		}
		results = []TaxResultLine{}
		for _, t := range rows {
			results = append(results, projectTaxLine(t, projectOptions{}))
		}
		return nil
	})
	if err != nil {
		if _, ok := AsEngineError(err); ok {
			return nil, err
		}
		return nil, wrapUnexpected(err)
	}
	return results, nil
}

// ServiceApprovalStatus records payer approval decisions on the given visit
// services. It reports failure through its result code and never raises.
func (o *Orchestrator) ServiceApprovalStatus(ctx context.Context, updates []ServiceStatusUpdate) OpResult {
	var refs []int64
	decisions := map[int64]ApprovalStatus{}
	for _, u := range updates {
		if u.ApprovalStatus == nil {
			continue
		}
		if *u.ApprovalStatus != ApprovalApproved && *u.ApprovalStatus != ApprovalRejected {
			continue
		}
		refs = append(refs, u.VisitServiceID)
		decisions[u.VisitServiceID] = *u.ApprovalStatus
	}
	if len(refs) == 0 {
		return OpSuccess
	}

	txs, err := o.store.ByServiceRefs(ctx, refs)
	if err != nil {
		o.log.Error().Err(err).Msg("approval status load failed")
		return OpFailed
	}
	var changed []*Transaction
	for _, tx := range txs {
		// An approved line is settled with the payer; only rejected or
		// undecided lines accept a new decision.
		if tx.Detail != nil && tx.Detail.ApprovalStatus != nil && *tx.Detail.ApprovalStatus == ApprovalApproved {
			continue
		}
		status := decisions[tx.ServiceRef.Int64()]
		if tx.Detail == nil {
			tx.Detail = &TransactionDetail{}
		}
		s := status
		tx.Detail.ApprovalStatus = &s
		changed = append(changed, tx)
	}
	if len(changed) == 0 {
		return OpSuccess
	}
	if err := o.store.SaveAll(ctx, changed); err != nil {
		o.log.Error().Err(err).Msg("approval status save failed")
		return OpFailed
	}
	return OpSuccess
}

// ServiceClaimStatus records claim submission state on the given visit
// services. It reports failure through its result code and never raises.
func (o *Orchestrator) ServiceClaimStatus(ctx context.Context, updates []ServiceStatusUpdate) OpResult {
	var refs []int64
	claimed := map[int64]bool{}
	for _, u := range updates {
		if u.ClaimStatus == nil {
			continue
		}
		if *u.ClaimStatus != ClaimStatusClaimed && *u.ClaimStatus != ClaimStatusNotClaimed {
			continue
		}
		refs = append(refs, u.VisitServiceID)
		claimed[u.VisitServiceID] = *u.ClaimStatus == ClaimStatusClaimed
	}
	if len(refs) == 0 {
		return OpSuccess
	}

	txs, err := o.store.ByServiceRefs(ctx, refs)
	if err != nil {
		o.log.Error().Err(err).Msg("claim status load failed")
		return OpFailed
	}
	for _, tx := range txs {
		if tx.Detail == nil {
			tx.Detail = &TransactionDetail{}
		}
		tx.Detail.IsClaim = claimed[tx.ServiceRef.Int64()]
	}
	if err := o.store.SaveAll(ctx, txs); err != nil {
		o.log.Error().Err(err).Msg("claim status save failed")
		return OpFailed
	}
	return OpSuccess
}
