package audit

import (
	"context"
	"time"

	id "fundgate/pkg/domain"
)

// EventCategory classifies audit events by their primary purpose.
// This enables different retention policies, storage backends, and routing.
type EventCategory string

const (
	// CategoryCompliance covers events with legal/regulatory significance:
	// mints, settlements, emergency NAV overrides. Tamper-proof storage,
	// long retention.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers events relevant to monitoring and forensics:
	// rejected intents, quorum failures, replayed nonces.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers events useful for operational visibility:
	// window lifecycle, parameter changes, degradation transitions.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Category  EventCategory
	Timestamp time.Time
	Account   id.Account
	Action    string
	// Actor is the authenticated operator identity for privileged actions.
	Actor     string
	RequestID string

	Jurisdiction id.Jurisdiction
	WindowID     id.WindowID
	ClaimID      id.ClaimID
	// Amount is a decimal string; scale depends on the action (capital
	// amounts at 1e6, token amounts at 1e18, NAV values at 1e27).
	Amount string
	Reason string

	// Client metadata captured by transport middleware.
	ClientIP  string
	UserAgent string
}

// AuditEvent enumerates the actions the engine records.
type AuditEvent string

const (
	// Oracle events
	EventNavUpdated          AuditEvent = "nav_updated"
	EventNavUpdateRejected   AuditEvent = "nav_update_rejected"
	EventEmergencyNavSet     AuditEvent = "emergency_nav_set"
	EventDegradationObserved AuditEvent = "degradation_observed"

	// Issuance events
	EventIssuanceMinted   AuditEvent = "issuance_minted"
	EventIssuanceRejected AuditEvent = "issuance_rejected"
	EventIntentRejected   AuditEvent = "intent_rejected"

	// Redemption events
	EventInstantRedeemed AuditEvent = "instant_redeemed"
	EventRedeemQueued    AuditEvent = "redeem_queued"
	EventWindowOpened    AuditEvent = "window_opened"
	EventWindowClosed    AuditEvent = "window_closed"
	EventClaimsMinted    AuditEvent = "claims_minted"
	EventWindowStruck    AuditEvent = "window_struck"
	EventClaimSettled    AuditEvent = "claim_settled"
	EventWindowSettled   AuditEvent = "window_settled"

	// Governance events
	EventCapacityUpdated AuditEvent = "capacity_updated"
	EventParamsUpdated   AuditEvent = "params_updated"
)

// eventCategories is the source of truth for category routing.
var eventCategories = map[AuditEvent]EventCategory{
	EventNavUpdated:          CategoryCompliance,
	EventNavUpdateRejected:   CategorySecurity,
	EventEmergencyNavSet:     CategoryCompliance,
	EventDegradationObserved: CategoryOperations,
	EventIssuanceMinted:      CategoryCompliance,
	EventIssuanceRejected:    CategoryOperations,
	EventIntentRejected:      CategorySecurity,
	EventInstantRedeemed:     CategoryCompliance,
	EventRedeemQueued:        CategoryOperations,
	EventWindowOpened:        CategoryOperations,
	EventWindowClosed:        CategoryOperations,
	EventClaimsMinted:        CategoryCompliance,
	EventWindowStruck:        CategoryCompliance,
	EventClaimSettled:        CategoryCompliance,
	EventWindowSettled:       CategoryCompliance,
	EventCapacityUpdated:     CategoryOperations,
	EventParamsUpdated:       CategoryOperations,
}

// Category returns the routing category for an action; unknown actions are
// treated as operations.
func (e AuditEvent) Category() EventCategory {
	if c, ok := eventCategories[e]; ok {
		return c
	}
	return CategoryOperations
}

// Store is the authoritative event sink.
type Store interface {
	Append(ctx context.Context, event Event) error
}
