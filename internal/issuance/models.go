package issuance

import (
	"math/big"

	"fundgate/internal/intent"
	id "fundgate/pkg/domain"
)

// IssueRequest carries one issuance call. Intent is required when the
// service runs with RequireIntent, and verified whenever present.
type IssueRequest struct {
	Recipient     id.Account
	CapitalAmount *big.Int
	Jurisdiction  id.Jurisdiction
	Intent        *intent.MintIntent
}

// IssueResult reports what a successful issuance minted.
type IssueResult struct {
	TokensMinted *big.Int
	NavRay       *big.Int
}

// RedeemResult reports which lane served a redemption request.
type RedeemResult struct {
	Instant      bool
	CapitalPaid  *big.Int
	WindowID     id.WindowID
	TokensQueued *big.Int
}

// Params are the orchestrator's global gates, adjustable by governance.
type Params struct {
	// CapTokens bounds total outstanding supply, WAD scale. Zero means
	// uncapped.
	CapTokens *big.Int
	// RequireIntent demands a signed mint intent on every issuance.
	RequireIntent bool
	// HaltAtEmergency stops issuance when the eligibility emergency
	// level reaches this value.
	HaltAtEmergency int
	// Locked halts issuance entirely.
	Locked bool
}

// State is the read-model for the issuance status endpoint.
type State struct {
	Locked         bool
	CapTokens      *big.Int
	Outstanding    *big.Int
	OracleLevel    string
	EmergencyLevel int
	LiquidityOK    bool
}
