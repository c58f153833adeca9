package resolution

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/marketengine/internal/domain"
	"github.com/alanyoungcy/marketengine/internal/params"
)

// BatchResult reports a batch call item by item. Errors[i] is nil when item
// i succeeded.
type BatchResult struct {
	Succeeded int     `json:"succeeded"`
	Errors    []error `json:"-"`
}

func (b *BatchResult) add(err error) {
	b.Errors = append(b.Errors, err)
	if err == nil {
		b.Succeeded++
	}
}

// BatchProposeResolutions proposes each (market, outcome, evidence) triple
// independently.
func (r *Manager) BatchProposeResolutions(caller common.Address, markets []common.Address, outcomes []domain.Outcome, evidence []string) (BatchResult, error) {
	if len(markets) != len(outcomes) || len(markets) != len(evidence) {
		return BatchResult{}, domain.ErrArrayLengthMismatch
	}
	var res BatchResult
	for i := range markets {
		res.add(r.ProposeResolution(caller, markets[i], outcomes[i], evidence[i]))
	}
	return res, nil
}

// BatchFinalizeResolutions finalizes each market independently.
func (r *Manager) BatchFinalizeResolutions(ctx context.Context, caller common.Address, markets []common.Address) (BatchResult, error) {
	if !r.mayFinalize(caller) {
		return BatchResult{}, domain.ErrUnauthorized
	}
	var res BatchResult
	for _, mkt := range markets {
		res.add(r.FinalizeResolution(ctx, caller, mkt))
	}
	return res, nil
}

// Expired lists records whose window has closed and that can be finalized
// without arbitration.
func (r *Manager) Expired() []common.Address {
	var out []common.Address
	for _, mkt := range r.order {
		if _, err := r.finalizable(mkt); err == nil {
			out = append(out, mkt)
		}
	}
	return out
}

// SetAgreementThreshold sets the auto-finalize percentage, 50 < v <= 100.
func (r *Manager) SetAgreementThreshold(caller common.Address, v int64) error {
	if !r.hasRole(domain.RoleAdmin, caller) {
		return domain.ErrUnauthorized
	}
	if v <= 50 || v > 100 {
		return domain.ErrInvalidThreshold
	}
	return r.deps.Params.SetParameter(caller, params.KeyAgreementThreshold, decimal.NewFromInt(v))
}

// SetDisagreementThreshold sets the community-dispute percentage, 0 < v < 50.
func (r *Manager) SetDisagreementThreshold(caller common.Address, v int64) error {
	if !r.hasRole(domain.RoleAdmin, caller) {
		return domain.ErrUnauthorized
	}
	if v <= 0 || v >= 50 {
		return domain.ErrInvalidThreshold
	}
	return r.deps.Params.SetParameter(caller, params.KeyDisagreementThreshold, decimal.NewFromInt(v))
}

// SetDisputeWindow sets the window opened by future proposals.
func (r *Manager) SetDisputeWindow(caller common.Address, window time.Duration) error {
	if window <= 0 {
		return domain.ErrInvalidValue
	}
	return r.deps.Params.SetParameter(caller, params.KeyDisputeWindow, decimal.NewFromInt(int64(window/time.Second)))
}

// SetMinDisputeBond sets the minimum bond for future disputes.
func (r *Manager) SetMinDisputeBond(caller common.Address, bond decimal.Decimal) error {
	return r.deps.Params.SetParameter(caller, params.KeyMinDisputeBond, bond)
}

// Pause blocks proposals and disputes. PAUSER or ADMIN.
func (r *Manager) Pause(caller common.Address) error {
	if !r.hasRole(domain.RolePauser, caller) && !r.hasRole(domain.RoleAdmin, caller) {
		return domain.ErrUnauthorized
	}
	r.paused = true
	r.emit(domain.EventResolutionPaused, common.Address{}, caller, nil)
	return nil
}

// Unpause lifts Pause.
func (r *Manager) Unpause(caller common.Address) error {
	if !r.hasRole(domain.RolePauser, caller) && !r.hasRole(domain.RoleAdmin, caller) {
		return domain.ErrUnauthorized
	}
	r.paused = false
	r.emit(domain.EventResolutionUnpaused, common.Address{}, caller, nil)
	return nil
}

func (r *Manager) Paused() bool { return r.paused }

// GetResolution returns the record of mkt.
func (r *Manager) GetResolution(mkt common.Address) (domain.ResolutionRecord, error) {
	rec, ok := r.records[mkt]
	if !ok {
		return domain.ResolutionRecord{}, domain.ErrNoResolutionFound
	}
	return *rec, nil
}

// IsResolved reports whether a resolution has been proposed for mkt.
func (r *Manager) IsResolved(mkt common.Address) bool {
	_, ok := r.records[mkt]
	return ok
}

// CanDispute reports whether a bonded dispute could be opened now.
func (r *Manager) CanDispute(mkt common.Address) bool {
	rec, ok := r.records[mkt]
	if !ok || rec.Status == domain.ResolutionFinalized || rec.DisputeOpen() {
		return false
	}
	return !r.now().After(rec.DisputeWindowEnd)
}

func (r *Manager) byStatus(s domain.ResolutionStatus) []common.Address {
	var out []common.Address
	for _, mkt := range r.order {
		if r.records[mkt].Status == s {
			out = append(out, mkt)
		}
	}
	return out
}

func (r *Manager) PendingResolutions() []common.Address { return r.byStatus(domain.ResolutionPending) }

func (r *Manager) DisputedResolutions() []common.Address { return r.byStatus(domain.ResolutionDisputed) }

// ResolverHistory lists the markets resolver proposed, oldest first.
func (r *Manager) ResolverHistory(resolver common.Address) []common.Address {
	return append([]common.Address(nil), r.history[resolver]...)
}

func (r *Manager) HeldBonds(mkt common.Address) decimal.Decimal { return r.heldBonds[mkt] }
