package resolution

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/marketengine/internal/domain"
)

// State is the serializable manager.
type State struct {
	Records   []domain.ResolutionRecord           `json:"records"`
	History   map[common.Address][]common.Address `json:"history"`
	HeldBonds map[common.Address]decimal.Decimal  `json:"held_bonds"`
	Paused    bool                                `json:"paused"`
}

// Export captures every record in proposal order.
func (r *Manager) Export() State {
	st := State{
		History:   make(map[common.Address][]common.Address, len(r.history)),
		HeldBonds: make(map[common.Address]decimal.Decimal, len(r.heldBonds)),
		Paused:    r.paused,
	}
	for _, mkt := range r.order {
		st.Records = append(st.Records, *r.records[mkt])
	}
	for k, v := range r.history {
		st.History[k] = append([]common.Address(nil), v...)
	}
	for k, v := range r.heldBonds {
		st.HeldBonds[k] = v
	}
	return st
}

// Restore replaces the manager contents with st.
func (r *Manager) Restore(st State) {
	r.records = make(map[common.Address]*domain.ResolutionRecord, len(st.Records))
	r.order = r.order[:0]
	for i := range st.Records {
		rec := st.Records[i]
		r.records[rec.Market] = &rec
		r.order = append(r.order, rec.Market)
	}
	r.history = make(map[common.Address][]common.Address, len(st.History))
	for k, v := range st.History {
		r.history[k] = append([]common.Address(nil), v...)
	}
	r.heldBonds = make(map[common.Address]decimal.Decimal, len(st.HeldBonds))
	for k, v := range st.HeldBonds {
		r.heldBonds[k] = v
	}
	r.paused = st.Paused
}
