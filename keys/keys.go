// Package keys implements the routing-certificate data model: the
// short-lived RoutingName a node is addressed by, the long-term
// IssuerPublicKey that signs certificates, and the RoutingPublic /
// RoutingSecret pair a node presents and holds for the Diffie-Hellman step
// of hop keying.
package keys

import (
	"crypto/ed25519"
	"crypto/sha3"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/gtank/ristretto255"
	"github.com/xolotlmix/xolotl/primitives"
)

// RoutingNameSize is the wire size of a RoutingName.
const RoutingNameSize = 16

// IssuerPublicKeySize is the wire size of an IssuerPublicKey.
const IssuerPublicKeySize = 32

// RoutingPublicLength is the wire size of a signed routing certificate
// (public(32) ∥ validity(16) ∥ issuer(32) ∥ signature(64)).
const RoutingPublicLength = 144

// signedPrefixLength is the number of leading bytes the issuer signs:
// public ∥ validity ∥ issuer.
const signedPrefixLength = primitives.AlphaSize + 16 + IssuerPublicKeySize

// RoutingName names a mix node's short-lived routing key.
type RoutingName [RoutingNameSize]byte

// IssuerPublicKey is a node's long-term Ed25519 signing key.
type IssuerPublicKey [IssuerPublicKeySize]byte

// ValidityPeriod is a closed half-open second-range [Start, End) bounding a
// certificate's usable lifetime.
type ValidityPeriod struct {
	Start uint64
	End   uint64
}

// Contains reports whether t (seconds since the Unix epoch) falls in the
// half-open range [Start, End).
func (v ValidityPeriod) Contains(t uint64) bool {
	return t >= v.Start && t < v.End
}

// Intersect returns the tighter of v and o, and false if the intersection is
// empty. Used to bound a header's usable lifetime across every hop it
// traverses.
func (v ValidityPeriod) Intersect(o ValidityPeriod) (ValidityPeriod, bool) {
	start := v.Start
	if o.Start > start {
		start = o.Start
	}
	end := v.End
	if o.End < end {
		end = o.End
	}
	if start >= end {
		return ValidityPeriod{}, false
	}
	return ValidityPeriod{Start: start, End: end}, true
}

// Shift returns v shifted forward by d, used to account for accumulated
// forwarding delay when intersecting a hop's validity into a header under
// construction.
func (v ValidityPeriod) Shift(d time.Duration) ValidityPeriod {
	secs := uint64(d / time.Second)
	return ValidityPeriod{Start: v.Start + secs, End: v.End + secs}
}

// Bytes serializes v as start(u64 LE) ∥ end(u64 LE).
func (v ValidityPeriod) Bytes() [16]byte {
	var b [16]byte
	binary.LittleEndian.PutUint64(b[0:8], v.Start)
	binary.LittleEndian.PutUint64(b[8:16], v.End)
	return b
}

// ValidityFromBytes parses the wire encoding produced by Bytes.
func ValidityFromBytes(b [16]byte) ValidityPeriod {
	return ValidityPeriod{
		Start: binary.LittleEndian.Uint64(b[0:8]),
		End:   binary.LittleEndian.Uint64(b[8:16]),
	}
}

// RoutingPublic is a signed certificate binding a node's current Alpha
// routing key to a validity window and an issuer.
type RoutingPublic struct {
	Public    primitives.Alpha
	Validity  ValidityPeriod
	Issuer    IssuerPublicKey
	Signature [64]byte
}

// RoutingSecret is the scalar counterpart to RoutingPublic.Public, held only
// by the node itself and used to perform the Diffie-Hellman step.
type RoutingSecret struct {
	Scalar *ristretto255.Scalar
}

// signedPrefix returns the 80 bytes the issuer signs.
func (rp *RoutingPublic) signedPrefix() []byte {
	buf := make([]byte, 0, signedPrefixLength)
	buf = append(buf, rp.Public[:]...)
	vb := rp.Validity.Bytes()
	buf = append(buf, vb[:]...)
	buf = append(buf, rp.Issuer[:]...)
	return buf
}

// Issue signs public for the given validity window under issuerPriv,
// returning a complete RoutingPublic certificate.
func Issue(issuerPriv ed25519.PrivateKey, public primitives.Alpha, validity ValidityPeriod) (RoutingPublic, error) {
	if len(issuerPriv) != ed25519.PrivateKeySize {
		return RoutingPublic{}, fmt.Errorf("keys: bad issuer private key size %d", len(issuerPriv))
	}
	var issuer IssuerPublicKey
	copy(issuer[:], issuerPriv.Public().(ed25519.PublicKey))

	rp := RoutingPublic{Public: public, Validity: validity, Issuer: issuer}
	sig := ed25519.Sign(issuerPriv, rp.signedPrefix())
	copy(rp.Signature[:], sig)
	return rp, nil
}

// Verify checks rp's Ed25519 signature. It does not check the validity
// window against a point in time; callers combine that with Contains.
func (rp *RoutingPublic) Verify() bool {
	return ed25519.Verify(ed25519.PublicKey(rp.Issuer[:]), rp.signedPrefix(), rp.Signature[:])
}

// Bytes serializes rp as public(32) ∥ validity(16) ∥ issuer(32) ∥
// signature(64), the 144-byte wire layout a directory stores and transmits.
func (rp *RoutingPublic) Bytes() [RoutingPublicLength]byte {
	var b [RoutingPublicLength]byte
	off := 0
	copy(b[off:off+primitives.AlphaSize], rp.Public[:])
	off += primitives.AlphaSize
	vb := rp.Validity.Bytes()
	copy(b[off:off+16], vb[:])
	off += 16
	copy(b[off:off+IssuerPublicKeySize], rp.Issuer[:])
	off += IssuerPublicKeySize
	copy(b[off:off+64], rp.Signature[:])
	return b
}

// RoutingPublicFromBytes parses the wire encoding produced by Bytes. It does
// not verify the signature; callers that need an authenticated result must
// call Verify themselves.
func RoutingPublicFromBytes(b [RoutingPublicLength]byte) RoutingPublic {
	var rp RoutingPublic
	off := 0
	copy(rp.Public[:], b[off:off+primitives.AlphaSize])
	off += primitives.AlphaSize
	var vb [16]byte
	copy(vb[:], b[off:off+16])
	rp.Validity = ValidityFromBytes(vb)
	off += 16
	copy(rp.Issuer[:], b[off:off+IssuerPublicKeySize])
	off += IssuerPublicKeySize
	copy(rp.Signature[:], b[off:off+64])
	return rp
}

// RoutingNameVariant selects between the default and GNUnet-compatible
// RoutingName derivations.
type RoutingNameVariant int

const (
	// VariantDefault hashes public ∥ validity ∥ issuer with SHA3-512,
	// truncated to 16 bytes.
	VariantDefault RoutingNameVariant = iota

	// VariantGNUnet prefixes the 32-byte issuer and truncates the SHA3-512
	// digest to its final 2 bytes for the join rather than the leading 16,
	// matching the alternative GNUnet scheme.
	VariantGNUnet
)

// RoutingNameOf derives the RoutingName for rp under the given variant.
func RoutingNameOf(rp RoutingPublic, variant RoutingNameVariant) RoutingName {
	var digest [64]byte
	switch variant {
	case VariantGNUnet:
		h := sha3.New512()
		h.Write(rp.Issuer[:])
		h.Write(rp.Public[:])
		vb := rp.Validity.Bytes()
		h.Write(vb[:])
		h.Sum(digest[:0])
		var rn RoutingName
		copy(rn[:], digest[len(digest)-2:])
		return rn
	default:
		h := sha3.New512()
		h.Write(rp.Public[:])
		vb := rp.Validity.Bytes()
		h.Write(vb[:])
		h.Write(rp.Issuer[:])
		h.Sum(digest[:0])
		var rn RoutingName
		copy(rn[:], digest[:RoutingNameSize])
		return rn
	}
}
