package domain

import (
	"fmt"
	"regexp"
	"strings"
)

// Account identifies a token holder or capital counterparty. Accounts are
// opaque to the engine; membership and transfer eligibility are decided by
// external collaborators.
//
// Usage: construct via ParseAccount at trust boundaries; direct casting
// bypasses validation.
type Account string

var accountPattern = regexp.MustCompile(`^[0-9a-zA-Z:_-]{4,128}$`)

// ParseAccount validates and returns an Account.
func ParseAccount(s string) (Account, error) {
	if !accountPattern.MatchString(s) {
		return "", fmt.Errorf("invalid account identifier: %q", s)
	}
	return Account(s), nil
}

func (a Account) String() string { return string(a) }

// IsNil returns true if the account is empty.
func (a Account) IsNil() bool { return a == "" }

// Jurisdiction is a sovereign capacity bucket code (uppercase ISO-style,
// e.g. "ZA", "BR", "IN-GIFT").
type Jurisdiction string

var jurisdictionPattern = regexp.MustCompile(`^[A-Z]{2}(-[A-Z0-9]{1,12})?$`)

// ParseJurisdiction validates and normalizes a jurisdiction code.
func ParseJurisdiction(s string) (Jurisdiction, error) {
	normalized := strings.ToUpper(strings.TrimSpace(s))
	if !jurisdictionPattern.MatchString(normalized) {
		return "", fmt.Errorf("invalid jurisdiction code: %q", s)
	}
	return Jurisdiction(normalized), nil
}

func (j Jurisdiction) String() string { return string(j) }

func (j Jurisdiction) IsNil() bool { return j == "" }

// SignerID identifies an authorized signer by its lowercase hex-encoded
// Ed25519 public key (64 hex characters).
type SignerID string

var signerPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// ParseSignerID validates and normalizes a signer identifier.
func ParseSignerID(s string) (SignerID, error) {
	normalized := strings.ToLower(strings.TrimSpace(s))
	if !signerPattern.MatchString(normalized) {
		return "", fmt.Errorf("invalid signer id: %q", s)
	}
	return SignerID(normalized), nil
}

func (s SignerID) String() string { return string(s) }

func (s SignerID) IsNil() bool { return s == "" }

// WindowID identifies a redemption window. Window ids are assigned by the
// engine and increase monotonically; zero is never a valid window.
type WindowID uint64

func (w WindowID) IsNil() bool { return w == 0 }

// ClaimID identifies a redemption claim within the engine. Zero means the
// claim has not been minted yet.
type ClaimID uint64

func (c ClaimID) IsNil() bool { return c == 0 }
