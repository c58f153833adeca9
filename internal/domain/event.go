package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// EventType names an engine event.
type EventType string

// Collaborator events.
const (
	EventRoleGranted             EventType = "RoleGranted"
	EventRoleRevoked             EventType = "RoleRevoked"
	EventContractRegistered      EventType = "ContractRegistered"
	EventParameterUpdated        EventType = "ParameterUpdated"
	EventBoolParameterUpdated    EventType = "BoolParameterUpdated"
	EventAddressParameterUpdated EventType = "AddressParameterUpdated"
	EventExperimentalModeToggled EventType = "ExperimentalModeToggled"
	EventGuardrailsUpdated       EventType = "GuardrailsUpdated"
)

// Market and factory events.
const (
	EventMarketCreated            EventType = "MarketCreated"
	EventMarketStateChanged       EventType = "MarketStateChanged"
	EventMarketApproved           EventType = "MarketApproved"
	EventMarketRejected           EventType = "MarketRejected"
	EventMarketActivated          EventType = "MarketActivated"
	EventCreatorBondRefunded      EventType = "CreatorBondRefunded"
	EventBondRefundFailed         EventType = "BondRefundFailed"
	EventDefaultCurveSet          EventType = "DefaultCurveSet"
	EventTemplateUpdated          EventType = "TemplateUpdated"
	EventFactoryPaused            EventType = "FactoryPaused"
	EventFactoryUnpaused          EventType = "FactoryUnpaused"
	EventBetPlaced                EventType = "BetPlaced"
	EventWinningsClaimed          EventType = "WinningsClaimed"
	EventClaimFailed              EventType = "ClaimFailed"
	EventUnclaimedWinningsStored  EventType = "UnclaimedWinningsStored"
	EventWinningsWithdrawn        EventType = "WinningsWithdrawn"
	EventUnclaimedWithdrawFailed  EventType = "UnclaimedWithdrawFailed"
	EventFeeCollectionFailed      EventType = "FeeCollectionFailed"
	EventAccumulatedFeesWithdrawn EventType = "AccumulatedFeesWithdrawn"
	EventEmergencyWithdrawal      EventType = "EmergencyWithdrawal"
)

// Resolution events.
const (
	EventResolutionProposed           EventType = "ResolutionProposed"
	EventCommunityDisputeWindowOpened EventType = "CommunityDisputeWindowOpened"
	EventDisputeSignalsSubmitted      EventType = "DisputeSignalsSubmitted"
	EventMarketAutoFinalized          EventType = "MarketAutoFinalized"
	EventCommunityDisputeFlagged      EventType = "CommunityDisputeFlagged"
	EventResolutionDisputed           EventType = "ResolutionDisputed"
	EventDisputeInvestigated          EventType = "DisputeInvestigated"
	EventDisputeResolved              EventType = "DisputeResolved"
	EventDisputeBondCollected         EventType = "DisputeBondCollected"
	EventDisputeBondRefunded          EventType = "DisputeBondRefunded"
	EventDisputeBondTransferFailed    EventType = "DisputeBondTransferFailed"
	EventAdminResolution              EventType = "AdminResolution"
	EventResolutionFinalized          EventType = "ResolutionFinalized"
	EventHeldBondsWithdrawn           EventType = "HeldBondsWithdrawn"
	EventResolutionPaused             EventType = "ResolutionPaused"
	EventResolutionUnpaused           EventType = "ResolutionUnpaused"
)

// Fee ledger events.
const (
	EventFeesCollected            EventType = "FeesCollected"
	EventCreatorFeesClaimed       EventType = "CreatorFeesClaimed"
	EventStakerRewardsDistributed EventType = "StakerRewardsDistributed"
	EventTreasuryWithdrawal       EventType = "TreasuryWithdrawal"
	EventTreasuryDeposit          EventType = "TreasuryDeposit"
	EventRewardClaimed            EventType = "RewardClaimed"
)

// Event is a single emitted engine event. ID is assigned when the event is
// recorded, not when it is emitted.
type Event struct {
	ID        string         `json:"id,omitempty"`
	Type      EventType      `json:"type"`
	Market    common.Address `json:"market"`
	Actor     common.Address `json:"actor"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Resilience reports whether the event marks a downstream failure that left
// value in a recoverable buffer.
func (e Event) Resilience() bool {
	switch e.Type {
	case EventFeeCollectionFailed, EventDisputeBondTransferFailed, EventClaimFailed,
		EventUnclaimedWithdrawFailed, EventBondRefundFailed, EventEmergencyWithdrawal:
		return true
	}
	return false
}

// EventSink receives events as components emit them.
type EventSink interface {
	Emit(Event)
}

// EventBuffer is an in-memory EventSink. The service drains it after every
// operation; tests read it directly.
type EventBuffer struct {
	events []Event
}

// Emit appends e.
func (b *EventBuffer) Emit(e Event) { b.events = append(b.events, e) }

// Events returns the buffered events without clearing them.
func (b *EventBuffer) Events() []Event { return b.events }

// Drain returns the buffered events and clears the buffer.
func (b *EventBuffer) Drain() []Event {
	out := b.events
	b.events = nil
	return out
}

// Discard drops everything buffered.
func (b *EventBuffer) Discard() { b.events = nil }

// Last returns the most recent event of type t.
func (b *EventBuffer) Last(t EventType) (Event, bool) {
	for i := len(b.events) - 1; i >= 0; i-- {
		if b.events[i].Type == t {
			return b.events[i], true
		}
	}
	return Event{}, false
}

// Count returns how many buffered events have type t.
func (b *EventBuffer) Count(t EventType) int {
	n := 0
	for _, e := range b.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

// NopSink drops every event.
type NopSink struct{}

func (NopSink) Emit(Event) {}
