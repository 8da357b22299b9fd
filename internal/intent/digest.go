package intent

import "fundgate/pkg/canonical"

const mintDomainTag = "mint-intent/v1"

// Digest is the canonical typed digest a mint signer commits to. The nonce
// is the signer's current stored nonce at verification time, so a consumed
// intent recomputes to a different digest and can never replay.
func Digest(p Params, in *MintIntent) []byte {
	return canonical.NewHasher(mintDomainTag, p.Domain, p.ChainID).
		String(in.Recipient.String()).
		BigInt(in.CapitalAmount).
		String(in.Jurisdiction.String()).
		Uint64(uint64(in.MaxHaircutBps)).
		String(in.Signer.String()).
		Uint64(in.Nonce).
		Uint64(uint64(in.Expiry.Unix())).
		Sum()
}
