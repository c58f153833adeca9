package factory

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/marketengine/internal/domain"
	"github.com/alanyoungcy/marketengine/internal/market"
)

// State is the factory's serializable bookkeeping. Market ledgers are
// persisted separately and handed back to Restore.
type State struct {
	Nonce           uint64                             `json:"nonce"`
	Order           []common.Address                   `json:"order"`
	Approvals       map[common.Address]domain.Approval `json:"approvals"`
	Bonds           map[common.Address]decimal.Decimal `json:"bonds"`
	DefaultCurve    domain.PricingKind                 `json:"default_curve"`
	TemplateVersion uint64                             `json:"template_version"`
	Paused          bool                               `json:"paused"`
}

// Export captures the factory bookkeeping.
func (f *Factory) Export() State {
	st := State{
		Nonce:           f.nonce,
		Order:           append([]common.Address(nil), f.order...),
		Approvals:       make(map[common.Address]domain.Approval, len(f.approvals)),
		Bonds:           make(map[common.Address]decimal.Decimal, len(f.bonds)),
		DefaultCurve:    f.defaultCurve,
		TemplateVersion: f.templateVersion,
		Paused:          f.paused,
	}
	for a, v := range f.approvals {
		st.Approvals[a] = *v
	}
	for a, v := range f.bonds {
		st.Bonds[a] = v
	}
	return st
}

// Restore loads st and reattaches the given markets. Markets listed in st
// but missing from markets are dropped from the order.
func (f *Factory) Restore(st State, markets []*market.Market) {
	byAddr := make(map[common.Address]*market.Market, len(markets))
	for _, m := range markets {
		byAddr[m.Address()] = m
	}
	f.nonce = st.Nonce
	f.defaultCurve = st.DefaultCurve
	if st.TemplateVersion > 0 {
		f.templateVersion = st.TemplateVersion
	}
	f.paused = st.Paused
	f.order = f.order[:0]
	for _, a := range st.Order {
		m, ok := byAddr[a]
		if !ok {
			continue
		}
		f.order = append(f.order, a)
		f.markets[a] = m
		appr := st.Approvals[a]
		f.approvals[a] = &appr
		f.bonds[a] = st.Bonds[a]
	}
}
