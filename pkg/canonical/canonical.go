// Package canonical produces deterministic, domain-separated digests for
// signature verification. Every signed structure in the engine (NAV
// attestations, mint intents) is reduced to a SHA3-256 digest of a
// length-prefixed field encoding, tagged with a domain string, the service
// identity and the chain id so a signature can never be replayed across
// contexts.
package canonical

import (
	"encoding/binary"
	"math/big"

	"golang.org/x/crypto/sha3"
)

// Hasher accumulates fields into a canonical byte stream.
type Hasher struct {
	buf []byte
}

// NewHasher starts a digest for the given domain tag, service identity and
// chain id. The tag is itself length-prefixed so "ab"+"c" and "a"+"bc"
// cannot collide.
func NewHasher(domainTag, service string, chainID uint64) *Hasher {
	h := &Hasher{}
	h.String(domainTag)
	h.String(service)
	h.Uint64(chainID)
	return h
}

func (h *Hasher) writeLen(n int) {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(n))
	h.buf = append(h.buf, lenBuf[:]...)
}

// String appends a length-prefixed UTF-8 string field.
func (h *Hasher) String(s string) *Hasher {
	h.writeLen(len(s))
	h.buf = append(h.buf, s...)
	return h
}

// Bytes appends a length-prefixed raw byte field.
func (h *Hasher) Bytes(b []byte) *Hasher {
	h.writeLen(len(b))
	h.buf = append(h.buf, b...)
	return h
}

// Uint64 appends a fixed-width big-endian integer field.
func (h *Hasher) Uint64(v uint64) *Hasher {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	h.buf = append(h.buf, b[:]...)
	return h
}

// BigInt appends a length-prefixed big-endian integer field. Only
// non-negative values appear in signed structures.
func (h *Hasher) BigInt(v *big.Int) *Hasher {
	return h.Bytes(v.Bytes())
}

// Sum returns the SHA3-256 digest of the accumulated fields.
func (h *Hasher) Sum() []byte {
	sum := sha3.Sum256(h.buf)
	return sum[:]
}
