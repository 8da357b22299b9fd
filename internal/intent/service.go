// Package intent verifies signed mint authorizations with per-signer
// monotonic nonces. Verification is two-phase: Verify gates the protected
// action, ConsumeNonce advances the nonce only after the action fully
// succeeded, so a failed mint leaves the intent replayable on purpose and a
// succeeded one never is.
package intent

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"log/slog"

	id "fundgate/pkg/domain"
	dErrors "fundgate/pkg/domain-errors"
	"fundgate/pkg/platform/sentinel"
	"fundgate/pkg/requestcontext"
)

// NonceStore persists per-signer nonces. Unknown signers read as nonce 0.
type NonceStore interface {
	Get(ctx context.Context, signer id.SignerID) (uint64, error)
	// Advance moves the signer's nonce from expected to expected+1;
	// sentinel.ErrConflict if another writer already advanced it.
	Advance(ctx context.Context, signer id.SignerID, expected uint64) error
}

// Keyring maps authorized mint signers to their Ed25519 public keys.
type Keyring map[id.SignerID]ed25519.PublicKey

type Verifier struct {
	nonces  NonceStore
	keyring Keyring
	params  Params

	logger *slog.Logger
}

type Option func(*Verifier)

func WithLogger(logger *slog.Logger) Option {
	return func(v *Verifier) { v.logger = logger }
}

func NewVerifier(nonces NonceStore, keyring Keyring, params Params, opts ...Option) (*Verifier, error) {
	if nonces == nil {
		return nil, fmt.Errorf("nonce store is required")
	}
	if params.Domain == "" {
		return nil, fmt.Errorf("digest domain is required")
	}
	v := &Verifier{nonces: nonces, keyring: keyring, params: params}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Verify checks the intent against the signer's current stored nonce. It
// performs no writes; callers run the protected action and then
// ConsumeNonce.
func (v *Verifier) Verify(ctx context.Context, in *MintIntent) error {
	if in == nil || in.CapitalAmount == nil || in.CapitalAmount.Sign() <= 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "capital amount must be positive")
	}
	if len(in.Signature) != ed25519.SignatureSize {
		return dErrors.New(dErrors.CodeInvalidSignature, "malformed signature")
	}
	if !requestcontext.Now(ctx).Before(in.Expiry) {
		return dErrors.New(dErrors.CodeExpired, "intent expired")
	}

	key, authorized := v.keyring[in.Signer]
	if !authorized {
		return dErrors.New(dErrors.CodeForbidden, "signer not authorized to mint")
	}

	current, err := v.nonces.Get(ctx, in.Signer)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load signer nonce")
	}
	if in.Nonce != current {
		return dErrors.Newf(dErrors.CodeNonceMismatch, "expected nonce %d, got %d", current, in.Nonce)
	}

	// The digest embeds the stored nonce, so a stale signature fails here
	// even when the embedded nonce field is forged to match.
	if !ed25519.Verify(key, Digest(v.params, in), in.Signature) {
		return dErrors.New(dErrors.CodeInvalidSignature, "signature does not match intent")
	}
	return nil
}

// ConsumeNonce advances the signer's nonce after the protected action
// succeeded. A conflict means a concurrent consumer won; the caller treats
// that as its own action having been superseded.
func (v *Verifier) ConsumeNonce(ctx context.Context, signer id.SignerID, nonce uint64) error {
	err := v.nonces.Advance(ctx, signer, nonce)
	if errors.Is(err, sentinel.ErrConflict) {
		return dErrors.New(dErrors.CodeConflict, "nonce already consumed")
	}
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to advance signer nonce")
	}
	if v.logger != nil {
		v.logger.DebugContext(ctx, "mint nonce consumed", "signer", signer, "nonce", nonce)
	}
	return nil
}

// Nonce reports the signer's current nonce, for intent construction.
func (v *Verifier) Nonce(ctx context.Context, signer id.SignerID) (uint64, error) {
	current, err := v.nonces.Get(ctx, signer)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load signer nonce")
	}
	return current, nil
}
