package pricing

import (
	"github.com/rs/zerolog"

	"github.com/hmis/billing-engine/internal/domain/billing"
)

// Factory builds a fresh engine per orchestrator call.
type Factory struct {
	store billing.TransactionStore
	rates RateSource
	log   zerolog.Logger
}

func NewFactory(store billing.TransactionStore, rates RateSource, log zerolog.Logger) *Factory {
	return &Factory{store: store, rates: rates, log: log}
}

func (f *Factory) Cash() billing.LinePricingEngine {
	return NewCashEngine(f.store, f.rates, f.log)
}

func (f *Factory) Insured() billing.InsuredPricingEngine {
	return NewInsuredEngine(f.store, f.rates, f.log)
}
