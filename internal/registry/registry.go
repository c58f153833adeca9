// Package registry maps well-known component keys to their current address
// and binds addresses to in-process implementations.
package registry

import (
	"fmt"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marketengine/internal/domain"
)

// Well-known keys.
const (
	KeyParameterStorage  = "ParameterStorage"
	KeyAccessControl     = "AccessControlManager"
	KeyResolutionManager = "ResolutionManager"
	KeyRewardDistributor = "RewardDistributor"
	KeyMarketFactory     = "FlexibleMarketFactoryUnified"
	KeyMarketTemplate    = "PredictionMarketTemplate"
	KeyLMSRCurve         = "LMSRCurve"
	KeyParimutuelCurve   = "ParimutuelCurve"
)

type entry struct {
	Address   common.Address `json:"address"`
	Version   uint64         `json:"version"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Registry is the versioned key → address directory. Lookups always see the
// latest registration; swapping an entry never touches callers that already
// resolved the previous implementation.
type Registry struct {
	access  domain.AccessGate
	entries map[string]entry
	impls   map[common.Address]any
	events  domain.EventSink
	now     func() time.Time
}

// New creates an empty registry.
func New(access domain.AccessGate, events domain.EventSink, now func() time.Time) *Registry {
	if events == nil {
		events = domain.NopSink{}
	}
	if now == nil {
		now = time.Now
	}
	return &Registry{
		access:  access,
		entries: make(map[string]entry),
		impls:   make(map[common.Address]any),
		events:  events,
		now:     now,
	}
}

// GetContract returns the address registered under key.
func (r *Registry) GetContract(key string) (common.Address, error) {
	e, ok := r.entries[key]
	if !ok {
		return common.Address{}, fmt.Errorf("registry: %s: %w", key, domain.ErrContractNotFound)
	}
	return e.Address, nil
}

// GetVersion returns the version registered under key, or 0.
func (r *Registry) GetVersion(key string) uint64 {
	return r.entries[key].Version
}

// SetContract registers addr under key. ADMIN only.
func (r *Registry) SetContract(caller common.Address, key string, addr common.Address, version uint64) error {
	if !r.access.HasRole(domain.RoleAdmin, caller) {
		return domain.ErrUnauthorized
	}
	if addr == (common.Address{}) {
		return domain.ErrZeroAddress
	}
	if version == 0 {
		return domain.ErrInvalidVersion
	}
	r.entries[key] = entry{Address: addr, Version: version, UpdatedAt: r.now()}
	r.events.Emit(domain.Event{
		Type:      domain.EventContractRegistered,
		Actor:     caller,
		Data:      map[string]any{"key": key, "address": addr.Hex(), "version": version},
		Timestamp: r.now(),
	})
	return nil
}

// Bind attaches an in-process implementation to addr.
func (r *Registry) Bind(addr common.Address, impl any) {
	r.impls[addr] = impl
}

// Install binds impl to addr and registers addr under key in one step.
func (r *Registry) Install(caller common.Address, key string, addr common.Address, version uint64, impl any) error {
	if err := r.SetContract(caller, key, addr, version); err != nil {
		return err
	}
	r.Bind(addr, impl)
	return nil
}

// Lookup returns the implementation bound to addr.
func (r *Registry) Lookup(addr common.Address) (any, bool) {
	impl, ok := r.impls[addr]
	return impl, ok
}

// Keys lists registered keys in sorted order.
func (r *Registry) Keys() []string {
	out := make([]string, 0, len(r.entries))
	for k := range r.entries {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Resolve returns the implementation currently registered under key as T.
func Resolve[T any](r *Registry, key string) (T, error) {
	var zero T
	addr, err := r.GetContract(key)
	if err != nil {
		return zero, err
	}
	impl, ok := r.impls[addr]
	if !ok {
		return zero, fmt.Errorf("registry: %s at %s unbound: %w", key, addr.Hex(), domain.ErrContractNotFound)
	}
	t, ok := impl.(T)
	if !ok {
		return zero, fmt.Errorf("registry: %s has type %T: %w", key, impl, domain.ErrContractNotFound)
	}
	return t, nil
}
