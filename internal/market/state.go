package market

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/marketengine/internal/domain"
	"github.com/alanyoungcy/marketengine/internal/pricing"
)

// State is the full serializable ledger of a market.
type State struct {
	Address            common.Address      `json:"address"`
	Factory            common.Address      `json:"factory"`
	Creator            common.Address      `json:"creator"`
	Config             domain.MarketConfig `json:"config"`
	CreatedAt          time.Time           `json:"created_at"`
	Pricing            pricing.Spec        `json:"pricing"`
	TemplateVersion    uint64              `json:"template_version"`
	State              domain.MarketState  `json:"state"`
	Result             domain.Outcome      `json:"result"`
	Rejected           bool                `json:"rejected"`
	Pool1              decimal.Decimal     `json:"pool1"`
	Pool2              decimal.Decimal     `json:"pool2"`
	Shares1            decimal.Decimal     `json:"shares1"`
	Shares2            decimal.Decimal     `json:"shares2"`
	Positions          []domain.Position   `json:"positions"`
	Fee                decimal.Decimal     `json:"fee"`
	FeesTransferred    decimal.Decimal     `json:"fees_transferred"`
	AccumulatedFees    decimal.Decimal     `json:"accumulated_fees"`
	PaidOut            decimal.Decimal     `json:"paid_out"`
	EmergencyWithdrawn decimal.Decimal     `json:"emergency_withdrawn"`
	ResolvedAt         time.Time           `json:"resolved_at"`
}

// Export captures the market's ledger.
func (m *Market) Export() State {
	return State{
		Address:            m.addr,
		Factory:            m.factory,
		Creator:            m.creator,
		Config:             m.cfg,
		CreatedAt:          m.createdAt,
		Pricing:            m.engine.Spec(),
		TemplateVersion:    m.templateVersion,
		State:              m.state,
		Result:             m.result,
		Rejected:           m.rejected,
		Pool1:              m.pool.Pool1,
		Pool2:              m.pool.Pool2,
		Shares1:            m.pool.Shares1,
		Shares2:            m.pool.Shares2,
		Positions:          m.Positions(),
		Fee:                m.fee,
		FeesTransferred:    m.feesTransferred,
		AccumulatedFees:    m.accumulatedFees,
		PaidOut:            m.paidOut,
		EmergencyWithdrawn: m.emergencyWithdrawn,
		ResolvedAt:         m.resolvedAt,
	}
}

// Restore rebuilds a market from st, rebinding the engine it was created
// with.
func Restore(st State, deps Deps) (*Market, error) {
	engine, err := pricing.FromSpec(st.Pricing)
	if err != nil {
		return nil, err
	}
	m := New(Options{
		Address:         st.Address,
		Factory:         st.Factory,
		Creator:         st.Creator,
		Config:          st.Config,
		Engine:          engine,
		TemplateVersion: st.TemplateVersion,
	}, deps)
	m.createdAt = st.CreatedAt
	m.state = st.State
	m.result = st.Result
	m.rejected = st.Rejected
	m.pool = pricing.PoolState{Pool1: st.Pool1, Pool2: st.Pool2, Shares1: st.Shares1, Shares2: st.Shares2}
	for _, p := range st.Positions {
		m.positions[p.Principal] = &p
		m.bettors = append(m.bettors, p.Principal)
	}
	m.fee = st.Fee
	m.feesTransferred = st.FeesTransferred
	m.accumulatedFees = st.AccumulatedFees
	m.paidOut = st.PaidOut
	m.emergencyWithdrawn = st.EmergencyWithdrawn
	m.resolvedAt = st.ResolvedAt
	return m, nil
}
