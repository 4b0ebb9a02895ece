package billing

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// EditPatientTransaction reprices one persisted line in place and ripples
// the change through the rest of the visit. Lines older than the edited one
// keep their decided state and are only re-split; newer lines are fully
// redistributed against whatever coverage the edit left available.
func (o *Orchestrator) EditPatientTransaction(ctx context.Context, line *RequestLine) ([]LineResult, error) {
	if line == nil {
		return []LineResult{failureResult(StatusInvalidRequest, msgInvalidRequest)}, nil
	}
	if line.TransactionID == nil {
		return []LineResult{failureResult(StatusInvalidTransactionID, msgInvalidTransactionID)}, nil
	}

	var results []LineResult
	err := o.uow.Run(ctx, func(ctx context.Context) error {
		var err error
		results, err = o.editTransaction(ctx, line)
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

func (o *Orchestrator) editTransaction(ctx context.Context, line *RequestLine) ([]LineResult, error) {
	txID := *line.TransactionID
	insured := line.FinancialStatus == FinancialStatusInsured
	eng := o.engineFor(line.FinancialStatus)

	cfg, err := o.configs.LatestActive(ctx)
	if err != nil {
		return nil, err
	}
	ws, err := o.loadWorkingSet(ctx, line.VisitID)
	if err != nil {
		return nil, err
	}
	if err := eng.Initialize(ctx, buildSeed(line.VisitID, []*RequestLine{line}, ws.All()), ws); err != nil {
		return nil, err
	}
	before, after := ws.Partition(txID)

	if !insured {
		var toReset []*Transaction
		for _, tx := range after {
			if tx.PatientPackageID != nil && !tx.Invalid && !tx.IsClaimed() {
				toReset = append(toReset, tx)
			}
		}
		resetShares(toReset)
	}

	var oldPackageID *int64
	if ref := line.Ref(); ref != nil {
		if prior := ws.ByServiceRef(*ref); prior != nil {
			oldPackageID = prior.PatientPackageID
		}
	}

	priced, err := o.priceWhileEdit(ctx, eng, line)
	if err != nil {
		return nil, err
	}
	if priced.StatusCode == StatusCantEditProductOrQuantity {
		return []LineResult{failureResult(StatusCantEditProductOrQuantity, msgCantEditProductOrQuantity)}, nil
	}
	if !priced.Valid && priced.StatusCode == StatusUnexpectedError {
		return nil, newEngineError(StatusUnexpectedError, priced.Message)
	}
	edited := priced.Transaction
	editExceeded := cfg.IsApprovalExceedingCoLimit && edited != nil &&
		edited.Detail != nil && edited.Detail.IsExceedLimit

	if insured && cfg.IsApprovalExceedingCoLimit {
		set := liveNonClaimed(before)
		sortByRefAsc(set)
		resetShares(set)
		if _, err := eng.RedistributeShares(ctx, set); err != nil {
			return nil, err
		}
	}

	afterExceeded := false
	if insured {
		set := liveNonClaimed(after)
		sortByRefAsc(set)
		resetShares(set)
		afterExceeded, err = eng.RedistributeShares(ctx, set)
	} else {
		_, err = eng.RedistributeShares(ctx, after)
	}
	if err != nil {
		return nil, err
	}

	// Removing the package from the line that opened its usage requires a
	// live purchase record to fall back on.
	if oldPackageID != nil && line.PatientPackageID == nil &&
		ws.FirstPerformingUnderPackage(*oldPackageID, txID) {
		if ws.PackagePurchase(*oldPackageID) == nil {
			return nil, errTransactionNotExist(*oldPackageID)
		}
	}

	markAll := cfg.MarkServiceExceedLimit == MarkAllServices
	exceededFlow := (editExceeded || afterExceeded) && cfg.IsApprovalExceedingCoLimit && markAll
	if exceededFlow {
		if err := o.markLimitExceeded(ctx, eng, ws.NonClaimedUndecided(), true); err != nil {
			return nil, err
		}
	}

	cti := eng.ContractType()
	var results []LineResult
	for _, tx := range before {
		if tx.Deleted {
			continue
		}
		results = append(results, projectTransaction(tx, cti, projectOptions{}))
	}

	editedRes := projectTransaction(edited, cti, projectOptions{})
	if !priced.Valid {
		editedRes.Valid = false
		editedRes.StatusCode = priced.StatusCode
		editedRes.Message = priced.Message
	} else {
		editedRes.Message = fmt.Sprintf(msgRemainingTransaction, edited.ID, edited.VisitID)
	}
	results = append(results, editedRes)

	for _, tx := range after {
		if tx.Deleted {
			continue
		}
		shift := exceededFlow && !tx.Invalid && !tx.IsClaimed() && tx.IsUndecided()
		results = append(results, projectTransaction(tx, cti, projectOptions{limitShift: shift}))
	}

	if err := eng.Flush(ctx); err != nil {
		return nil, err
	}
	return results, nil
}

// priceWhileEdit reprices the edited line against its existing record.
// Package purchase lines keep their product and unit quantity; everything
// else about them may change.
func (o *Orchestrator) priceWhileEdit(ctx context.Context, eng LinePricingEngine, line *RequestLine) (*PricedLine, error) {
	ref := line.Ref()
	if ref == nil {
		return nil, newEngineError(StatusEmptyVisitServiceID, "visit service id is required")
	}
	ws := eng.WorkingSet()
	tx := ws.ByServiceRef(*ref)
	if tx == nil || tx.Deleted || tx.ID <= 0 {
		return nil, errTransactionNotExist(*line.TransactionID)
	}
	resetShares([]*Transaction{tx})

	if line.PatientPackageID == nil {
		isPkg, err := o.packages.IsPackageProduct(ctx, tx.ProductID)
		if err != nil {
			return nil, err
		}
		if isPkg && (tx.ProductID != line.ProductID || !line.Quantity.Equal(decimal.NewFromInt(1))) {
			return &PricedLine{
				Valid:       false,
				StatusCode:  StatusCantEditProductOrQuantity,
				Message:     msgCantEditProductOrQuantity,
				Transaction: tx,
			}, nil
		}
	}

	priced, err := eng.PriceLine(ctx, line, PriceOptions{Persist: true, ForReInquiry: true, FullSplit: true})
	if err != nil {
		return nil, err
	}
	if !priced.Valid {
		tx.Price = decimal.Zero
		tx.PatientShare = decimal.Zero
		tx.CompanyShare = decimal.Zero
		tx.Invalid = true
		tx.StatusCode = priced.StatusCode
		tx.Message = priced.Message
		eng.UpdateTransaction(tx)
		if priced.Transaction == nil {
			priced.Transaction = tx
		}
		return priced, nil
	}

	if line.PatientPackageID != nil {
		if p := ws.PackagePurchase(*line.PatientPackageID); p != nil && p.Package != nil {
			if sd := eng.PackageStartDate(); sd != nil {
				p.Package.StartDate = sd
			}
			if ed := eng.PackageExpiryDate(); ed != nil {
				p.Package.ExpiryDate = ed
			}
		}
	}
	eng.UpdateTransaction(priced.Transaction)
	return priced, nil
}

func liveNonClaimed(txs []*Transaction) []*Transaction {
	var out []*Transaction
	for _, tx := range txs {
		if tx.Deleted || tx.Invalid || tx.IsClaimed() {
			continue
		}
		out = append(out, tx)
	}
	return out
}
