package intent

import (
	"math/big"
	"time"

	id "fundgate/pkg/domain"
)

// MintIntent is a signed authorization for a privileged mint. Every
// economically meaningful field is part of the signed digest.
type MintIntent struct {
	Recipient     id.Account
	CapitalAmount *big.Int
	Jurisdiction  id.Jurisdiction
	MaxHaircutBps uint32

	Signer id.SignerID
	Nonce  uint64
	Expiry time.Time

	Signature []byte
}

// Params configure digest domain separation and the signer set.
type Params struct {
	Domain  string
	ChainID uint64
}
