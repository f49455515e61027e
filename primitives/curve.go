// Package primitives wraps the fixed-size scalar, point, MAC, and stream
// primitives used across the hop-keying, header-layout, and ratchet
// packages behind a small façade, with constant-time equality and
// zeroizing helpers for secret buffers.
package primitives

import (
	"crypto/subtle"

	"github.com/gtank/ristretto255"
)

// AlphaSize is the wire size of a compressed group element.
const AlphaSize = 32

// GammaSize is the wire size of a one-time MAC over beta.
const GammaSize = 16

// SphinxSecretSize is the wire size of a Diffie-Hellman shared secret and of
// the symmetric key re-emitted by the ratchet.
const SphinxSecretSize = 32

// Alpha is a compressed Ristretto255 group element, mutated each hop by
// scalar blinding.
type Alpha [AlphaSize]byte

// SphinxSecret is a 32-byte secret from a Diffie-Hellman exchange, or the
// symmetric key the ratchet re-emits into the same role.
type SphinxSecret [SphinxSecretSize]byte

// Zero overwrites s with zeros.
func (s *SphinxSecret) Zero() {
	for i := range s {
		s[i] = 0
	}
}

// ConstantTimeEqual reports whether a and b are equal, in constant time.
func (s *SphinxSecret) ConstantTimeEqual(o *SphinxSecret) bool {
	return subtle.ConstantTimeCompare(s[:], o[:]) == 1
}

// DecodeElement decompresses a into a curve point, returning false if the
// bytes are not a valid Ristretto255 encoding.
func DecodeElement(a Alpha) (*ristretto255.Element, bool) {
	e := ristretto255.NewElement()
	if err := e.Decode(a[:]); err != nil {
		return nil, false
	}
	return e, true
}

// EncodeElement compresses e into an Alpha.
func EncodeElement(e *ristretto255.Element) Alpha {
	var a Alpha
	copy(a[:], e.Encode(nil))
	return a
}

// BasePoint returns the Ristretto255 base point.
func BasePoint() *ristretto255.Element {
	one := [32]byte{1}
	s, err := ristretto255.NewScalar().SetCanonicalBytes(one[:])
	if err != nil {
		panic("primitives: scalar one rejected: " + err.Error())
	}
	return ristretto255.NewElement().ScalarBaseMult(s)
}

// ScalarFromWideBytes reduces 64 bytes of uniform randomness modulo the
// group order, matching the blinding-scalar derivation: stream output is
// reduced mod the curve order, not clamped in the classical Curve25519
// sense.
func ScalarFromWideBytes(wide [64]byte) *ristretto255.Scalar {
	s, err := ristretto255.NewScalar().SetUniformBytes(wide[:])
	if err != nil {
		// SetUniformBytes only fails on incorrect input length; 64 bytes is
		// always the correct length, so this is unreachable.
		panic("primitives: SetUniformBytes rejected 64 bytes: " + err.Error())
	}
	return s
}

// DiffieHellman computes secret * point and returns the compressed result,
// used both as the SphinxSecret derived from a node's routing-secret scalar
// and as the blinding homomorphism applied to Alpha across hops.
func DiffieHellman(scalar *ristretto255.Scalar, point *ristretto255.Element) SphinxSecret {
	r := ristretto255.NewElement().ScalarMult(scalar, point)
	var s SphinxSecret
	copy(s[:], r.Encode(nil))
	return s
}

// BlindAlpha multiplies the decompressed point backing a by scalar and
// recompresses it, implementing the per-hop Alpha update
// `alpha := alpha * blinding`.
func BlindAlpha(a Alpha, scalar *ristretto255.Scalar) (Alpha, bool) {
	e, ok := DecodeElement(a)
	if !ok {
		return Alpha{}, false
	}
	e.ScalarMult(scalar, e)
	return EncodeElement(e), true
}
