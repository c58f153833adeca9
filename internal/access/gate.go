// Package access implements the role-based capability gate every engine
// component consults before privileged calls.
package access

import (
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marketengine/internal/domain"
)

// Gate holds role membership. It is not safe for concurrent mutation; the
// service layer serializes writes.
type Gate struct {
	members map[domain.Role]map[common.Address]bool
	events  domain.EventSink
	now     func() time.Time
}

// New creates a Gate with deployer holding ADMIN.
func New(deployer common.Address, events domain.EventSink, now func() time.Time) *Gate {
	if events == nil {
		events = domain.NopSink{}
	}
	if now == nil {
		now = time.Now
	}
	g := &Gate{
		members: make(map[domain.Role]map[common.Address]bool),
		events:  events,
		now:     now,
	}
	g.add(domain.RoleAdmin, deployer)
	return g
}

// HasRole reports whether principal holds role.
func (g *Gate) HasRole(role domain.Role, principal common.Address) bool {
	return g.members[role][principal]
}

// HasAny reports whether principal holds at least one of roles.
func (g *Gate) HasAny(principal common.Address, roles ...domain.Role) bool {
	for _, r := range roles {
		if g.HasRole(r, principal) {
			return true
		}
	}
	return false
}

// GrantRole gives principal role. The caller must hold ADMIN.
func (g *Gate) GrantRole(caller common.Address, role domain.Role, principal common.Address) error {
	if !g.HasRole(domain.RoleAdmin, caller) {
		return domain.ErrUnauthorized
	}
	if principal == (common.Address{}) {
		return domain.ErrZeroAddress
	}
	if g.HasRole(role, principal) {
		return nil
	}
	g.add(role, principal)
	g.events.Emit(domain.Event{
		Type:      domain.EventRoleGranted,
		Actor:     caller,
		Data:      map[string]any{"role": string(role), "account": principal.Hex()},
		Timestamp: g.now(),
	})
	return nil
}

// RevokeRole removes role from principal. The caller must hold ADMIN.
func (g *Gate) RevokeRole(caller common.Address, role domain.Role, principal common.Address) error {
	if !g.HasRole(domain.RoleAdmin, caller) {
		return domain.ErrUnauthorized
	}
	if !g.HasRole(role, principal) {
		return nil
	}
	delete(g.members[role], principal)
	g.events.Emit(domain.Event{
		Type:      domain.EventRoleRevoked,
		Actor:     caller,
		Data:      map[string]any{"role": string(role), "account": principal.Hex()},
		Timestamp: g.now(),
	})
	return nil
}

// Members lists the holders of role in address order.
func (g *Gate) Members(role domain.Role) []common.Address {
	out := make([]common.Address, 0, len(g.members[role]))
	for a := range g.members[role] {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out
}

func (g *Gate) add(role domain.Role, principal common.Address) {
	m, ok := g.members[role]
	if !ok {
		m = make(map[common.Address]bool)
		g.members[role] = m
	}
	m[principal] = true
}

// State is the serializable role table.
type State struct {
	Members map[domain.Role][]common.Address `json:"members"`
}

// Export captures the role table.
func (g *Gate) Export() State {
	st := State{Members: make(map[domain.Role][]common.Address, len(g.members))}
	for role := range g.members {
		st.Members[role] = g.Members(role)
	}
	return st
}

// Restore replaces the role table with st. A state without ADMIN holders is
// ignored so a gate can never be left without an administrator.
func (g *Gate) Restore(st State) {
	if len(st.Members[domain.RoleAdmin]) == 0 {
		return
	}
	g.members = make(map[domain.Role]map[common.Address]bool, len(st.Members))
	for role, addrs := range st.Members {
		for _, a := range addrs {
			g.add(role, a)
		}
	}
}
