package service

import (
	"context"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/marketengine/internal/domain"
)

// GetMarket returns the view of mkt, served from the cache when possible.
func (e *Engine) GetMarket(ctx context.Context, mkt common.Address) (domain.MarketView, error) {
	if e.deps.Cache != nil {
		if v, err := e.deps.Cache.Get(ctx, mkt); err == nil {
			return v, nil
		}
	}
	unlock := e.view()
	m, err := e.factory.GetMarket(mkt)
	var v domain.MarketView
	if err == nil {
		v = m.View()
	}
	unlock()
	if err != nil {
		return domain.MarketView{}, err
	}
	if e.deps.Cache != nil {
		if cerr := e.deps.Cache.Set(ctx, v); cerr != nil {
			e.logger.WarnContext(ctx, "engine: cache set failed",
				slog.String("market", mkt.Hex()),
				slog.String("error", cerr.Error()),
			)
		}
	}
	return v, nil
}

// ListMarkets lists markets from the store when one is configured and from
// memory otherwise.
func (e *Engine) ListMarkets(ctx context.Context, filter domain.MarketFilter) ([]domain.MarketView, error) {
	if e.deps.Stores.Markets != nil {
		return e.deps.Stores.Markets.List(ctx, filter)
	}
	defer e.view()()
	var out []domain.MarketView
	for _, m := range e.factory.Markets() {
		v := m.View()
		if !matches(v, filter) {
			continue
		}
		out = append(out, v)
	}
	return paginate(out, filter.ListOpts), nil
}

func matches(v domain.MarketView, f domain.MarketFilter) bool {
	if f.State != nil && v.State != *f.State {
		return false
	}
	if f.Category != "" && !strings.EqualFold(v.Category, f.Category) {
		return false
	}
	if f.Creator != nil && v.Creator != *f.Creator {
		return false
	}
	if f.Since != nil && v.CreatedAt.Before(*f.Since) {
		return false
	}
	if f.Until != nil && v.CreatedAt.After(*f.Until) {
		return false
	}
	return true
}

func paginate[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return nil
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && len(items) > opts.Limit {
		items = items[:opts.Limit]
	}
	return items
}

// Odds returns the implied odds of both outcomes in basis points.
func (e *Engine) Odds(mkt common.Address) (int64, int64, error) {
	defer e.view()()
	m, err := e.factory.GetMarket(mkt)
	if err != nil {
		return 0, 0, err
	}
	o1, o2 := m.Odds()
	return o1, o2, nil
}

// PositionView is a principal's position together with its settlement value.
type PositionView struct {
	domain.Position
	Payout decimal.Decimal `json:"payout"`
}

func (e *Engine) Position(mkt, principal common.Address) (PositionView, error) {
	defer e.view()()
	m, err := e.factory.GetMarket(mkt)
	if err != nil {
		return PositionView{}, err
	}
	pv := PositionView{Position: m.Position(principal), Payout: decimal.Zero}
	if m.State() == domain.StateFinalized {
		pv.Payout = m.CalculatePayout(principal)
	}
	return pv, nil
}

func (e *Engine) GetResolution(mkt common.Address) (domain.ResolutionRecord, error) {
	defer e.view()()
	return e.rm.GetResolution(mkt)
}

// HeldBonds returns the dispute bonds parked for mkt.
func (e *Engine) HeldBonds(mkt common.Address) decimal.Decimal {
	defer e.view()()
	return e.rm.HeldBonds(mkt)
}

// MarketFees is the fee position of one market.
type MarketFees struct {
	Record           domain.FeeRecord `json:"record"`
	UnclaimedCreator decimal.Decimal  `json:"unclaimed_creator"`
	Accumulated      decimal.Decimal  `json:"accumulated"`
}

func (e *Engine) MarketFees(mkt common.Address) (MarketFees, error) {
	defer e.view()()
	m, err := e.factory.GetMarket(mkt)
	if err != nil {
		return MarketFees{}, err
	}
	return MarketFees{
		Record:           e.ledger.GetMarketFees(mkt),
		UnclaimedCreator: e.ledger.GetUnclaimedCreatorFees(mkt),
		Accumulated:      m.AccumulatedFees(),
	}, nil
}

func (e *Engine) LedgerBalances() domain.LedgerBalances {
	defer e.view()()
	return e.ledger.Balances()
}

// Parameters returns every numeric parameter by key.
func (e *Engine) Parameters() map[string]decimal.Decimal {
	defer e.view()()
	out := make(map[string]decimal.Decimal)
	for _, k := range e.params.Keys() {
		v, err := e.params.GetParameter(k)
		if err == nil {
			out[k] = v
		}
	}
	return out
}

// Contracts returns the registry as key → address.
func (e *Engine) Contracts() map[string]common.Address {
	defer e.view()()
	out := make(map[string]common.Address)
	for _, k := range e.registry.Keys() {
		if addr, err := e.registry.GetContract(k); err == nil {
			out[k] = addr
		}
	}
	return out
}

func (e *Engine) HasRole(role domain.Role, principal common.Address) bool {
	defer e.view()()
	return e.gate.HasRole(role, principal)
}

// RewardSummary is a claimer's reward history.
type RewardSummary struct {
	Claimer common.Address       `json:"claimer"`
	Total   decimal.Decimal      `json:"total"`
	Claims  []domain.RewardClaim `json:"claims"`
}

// RewardClaims returns claimer's running total and, when a fee store is
// configured, the individual claims.
func (e *Engine) RewardClaims(ctx context.Context, claimer common.Address, opts domain.ListOpts) (RewardSummary, error) {
	unlock := e.view()
	out := RewardSummary{Claimer: claimer, Total: e.ledger.TotalRewardsClaimed(claimer), Claims: []domain.RewardClaim{}}
	unlock()
	if e.deps.Stores.Fees == nil {
		return out, nil
	}
	claims, err := e.deps.Stores.Fees.ListRewardClaims(ctx, claimer, opts)
	if err != nil {
		return RewardSummary{}, err
	}
	if claims != nil {
		out.Claims = claims
	}
	return out, nil
}
