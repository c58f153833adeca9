// Package params implements the parameter store: named numeric, bool, and
// address values with optional admin-set guardrails.
package params

import (
	"maps"
	"slices"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/marketengine/internal/domain"
)

// Store holds parameters. Writes are ADMIN-only; reads go through Snapshot
// or the typed getters.
type Store struct {
	access       domain.AccessGate
	numeric      map[string]decimal.Decimal
	bools        map[string]bool
	addresses    map[string]common.Address
	guardrails   map[string]Guardrail
	experimental bool
	events       domain.EventSink
	now          func() time.Time
}

// New creates a store seeded with the default parameters and guardrails.
func New(access domain.AccessGate, events domain.EventSink, now func() time.Time) *Store {
	if events == nil {
		events = domain.NopSink{}
	}
	if now == nil {
		now = time.Now
	}
	return &Store{
		access:     access,
		numeric:    maps.Clone(defaultNumeric),
		bools:      maps.Clone(defaultBool),
		addresses:  make(map[string]common.Address),
		guardrails: maps.Clone(defaultGuardrails),
		events:     events,
		now:        now,
	}
}

// Snapshot returns the current effective parameters.
func (s *Store) Snapshot() Effective {
	return effective(s.numeric, s.bools)
}

// GetParameter returns the numeric value of key.
func (s *Store) GetParameter(key string) (decimal.Decimal, error) {
	v, ok := s.numeric[key]
	if !ok {
		return decimal.Zero, domain.ErrParameterNotFound
	}
	return v, nil
}

// GetBoolParameter returns the bool value of key, false when unset.
func (s *Store) GetBoolParameter(key string) bool {
	return s.bools[key]
}

// GetAddressParameter returns the address value of key.
func (s *Store) GetAddressParameter(key string) (common.Address, error) {
	v, ok := s.addresses[key]
	if !ok {
		return common.Address{}, domain.ErrParameterNotFound
	}
	return v, nil
}

// ParameterExists reports whether any typed value is set for key.
func (s *Store) ParameterExists(key string) bool {
	_, n := s.numeric[key]
	_, b := s.bools[key]
	_, a := s.addresses[key]
	return n || b || a
}

// ParameterCount is the number of numeric parameters.
func (s *Store) ParameterCount() int { return len(s.numeric) }

// Keys lists numeric parameter keys in sorted order.
func (s *Store) Keys() []string {
	return slices.Sorted(maps.Keys(s.numeric))
}

// Guardrails returns the bounds for key.
func (s *Store) Guardrails(key string) (Guardrail, bool) {
	g, ok := s.guardrails[key]
	return g, ok
}

// Experimental reports whether guardrails are bypassed.
func (s *Store) Experimental() bool { return s.experimental }

// SetParameter writes a numeric value, enforcing guardrails unless
// experimental mode is on.
func (s *Store) SetParameter(caller common.Address, key string, value decimal.Decimal) error {
	if err := s.authorize(caller); err != nil {
		return err
	}
	if err := s.check(key, value); err != nil {
		return err
	}
	s.set(caller, key, value)
	return nil
}

// BatchSetParameters validates every pair before applying any.
func (s *Store) BatchSetParameters(caller common.Address, keys []string, values []decimal.Decimal) error {
	if err := s.authorize(caller); err != nil {
		return err
	}
	if len(keys) != len(values) {
		return domain.ErrArrayLengthMismatch
	}
	for i, k := range keys {
		if err := s.check(k, values[i]); err != nil {
			return err
		}
	}
	for i, k := range keys {
		s.set(caller, k, values[i])
	}
	return nil
}

// SetBoolParameter writes a bool value.
func (s *Store) SetBoolParameter(caller common.Address, key string, value bool) error {
	if err := s.authorize(caller); err != nil {
		return err
	}
	s.bools[key] = value
	s.emit(domain.EventBoolParameterUpdated, caller, map[string]any{"key": key, "value": value})
	return nil
}

// SetAddressParameter writes an address value. The zero address is rejected.
func (s *Store) SetAddressParameter(caller common.Address, key string, value common.Address) error {
	if err := s.authorize(caller); err != nil {
		return err
	}
	if value == (common.Address{}) {
		return domain.ErrInvalidValue
	}
	s.addresses[key] = value
	s.emit(domain.EventAddressParameterUpdated, caller, map[string]any{"key": key, "value": value.Hex()})
	return nil
}

// SetGuardrails bounds key. Either bound may be nil.
func (s *Store) SetGuardrails(caller common.Address, key string, lo, hi *decimal.Decimal) error {
	if err := s.authorize(caller); err != nil {
		return err
	}
	if lo != nil && hi != nil && lo.GreaterThan(*hi) {
		return domain.ErrInvalidValue
	}
	s.guardrails[key] = Guardrail{Min: lo, Max: hi}
	data := map[string]any{"key": key}
	if lo != nil {
		data["min"] = lo.String()
	}
	if hi != nil {
		data["max"] = hi.String()
	}
	s.emit(domain.EventGuardrailsUpdated, caller, data)
	return nil
}

// SetExperimentalMode toggles the guardrail bypass.
func (s *Store) SetExperimentalMode(caller common.Address, enabled bool) error {
	if err := s.authorize(caller); err != nil {
		return err
	}
	s.experimental = enabled
	s.emit(domain.EventExperimentalModeToggled, caller, map[string]any{"enabled": enabled})
	return nil
}

func (s *Store) authorize(caller common.Address) error {
	if s.access == nil || !s.access.HasRole(domain.RoleAdmin, caller) {
		return domain.ErrUnauthorized
	}
	return nil
}

func (s *Store) check(key string, value decimal.Decimal) error {
	if value.IsNegative() {
		return domain.ErrInvalidValue
	}
	if s.experimental {
		return nil
	}
	g, ok := s.guardrails[key]
	if !ok {
		return nil
	}
	if g.Min != nil && value.LessThan(*g.Min) {
		return domain.ErrValueBelowMinimum
	}
	if g.Max != nil && value.GreaterThan(*g.Max) {
		return domain.ErrValueAboveMaximum
	}
	return nil
}

func (s *Store) set(caller common.Address, key string, value decimal.Decimal) {
	old := s.numeric[key]
	s.numeric[key] = value
	s.emit(domain.EventParameterUpdated, caller, map[string]any{
		"key": key, "old": old.String(), "new": value.String(),
	})
}

func (s *Store) emit(t domain.EventType, caller common.Address, data map[string]any) {
	s.events.Emit(domain.Event{Type: t, Actor: caller, Data: data, Timestamp: s.now()})
}

// State is the serializable parameter table.
type State struct {
	Numeric      map[string]decimal.Decimal `json:"numeric"`
	Bools        map[string]bool            `json:"bools"`
	Addresses    map[string]common.Address  `json:"addresses"`
	Guardrails   map[string]Guardrail       `json:"guardrails"`
	Experimental bool                       `json:"experimental"`
}

// Export captures the table.
func (s *Store) Export() State {
	return State{
		Numeric:      maps.Clone(s.numeric),
		Bools:        maps.Clone(s.bools),
		Addresses:    maps.Clone(s.addresses),
		Guardrails:   maps.Clone(s.guardrails),
		Experimental: s.experimental,
	}
}

// Restore overlays st onto the defaults. Keys absent from st keep their
// default values.
func (s *Store) Restore(st State) {
	maps.Copy(s.numeric, st.Numeric)
	maps.Copy(s.bools, st.Bools)
	maps.Copy(s.addresses, st.Addresses)
	maps.Copy(s.guardrails, st.Guardrails)
	s.experimental = st.Experimental
}
