// Package sphinx implements the header layout, command codec, hop keying,
// node router, SURB store/unwinder, client builder, and queues that make up
// the onion-routing side of the packet format.
package sphinx

import (
	"math"
	"time"

	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/poly1305"

	"github.com/gtank/ristretto255"
	"github.com/xolotlmix/xolotl/config"
	"github.com/xolotlmix/xolotl/hazmat/turboshake"
	"github.com/xolotlmix/xolotl/keys"
	"github.com/xolotlmix/xolotl/primitives"
	"github.com/xolotlmix/xolotl/xerr"
)

// hopKeyingDS is the TurboSHAKE128 domain separation byte used for the
// initial nonce/key derivation, distinct from the ratchet transcript's
// domain separation bytes.
const hopKeyingDS = 0x01

// maxChaChaStreamBytes bounds total keystream consumption per hop to the
// IETF ChaCha20 32-bit block counter's addressable range.
const maxChaChaStreamBytes = (1 << 32) * 64

// lionessKeySize is the size of the body-cipher key region handed to the
// wide-block cipher.
const lionessKeySize = 256

// HopKeying is the derived per-hop schedule: MAC key, stream-cipher
// derivatives, blinding scalar, replay code, and packet name.
type HopKeying struct {
	PacketName   [16]byte
	ReplayCode   [16]byte
	MACKey       [32]byte
	BetaMask     []byte
	BetaTailMask []byte
	SURBLogMask  []byte
	BodyKey      [lionessKeySize]byte

	BlindingScalar *ristretto255.Scalar
	Delay          time.Duration
}

// DeriveHopKeying derives the complete per-hop schedule from a shared secret
// and the hop's RoutingName, per the hop-keying construction.
func DeriveHopKeying(p config.Params, ss primitives.SphinxSecret, rn keys.RoutingName) (*HopKeying, error) {
	hk, _, _, err := DeriveHopKeyingWithSeed(p, ss, rn)
	return hk, err
}

// DeriveHopKeyingWithSeed is DeriveHopKeying but also returns the raw
// ChaCha20 (nonce, key) pair the schedule was expanded from. The client
// builder keeps this pair as a SURB hop's unwinding material, so that
// unwinding a returned reply can reproduce the hop's surb-log mask and body
// key without ever holding the shared secret again.
func DeriveHopKeyingWithSeed(p config.Params, ss primitives.SphinxSecret, rn keys.RoutingName) (*HopKeying, [12]byte, [32]byte, error) {
	total := 64 + p.BetaLength + p.MaxBetaTailLength + p.SURBLogLength + lionessKeySize + 64 + 64
	if total > maxChaChaStreamBytes {
		return nil, [12]byte{}, [32]byte{}, xerr.Internal("chacha20 stream window exceeded: %d bytes requested", total)
	}

	nonce, key := deriveNonceKey(ss, rn, p.ProtocolName)
	defer zeroBytes(key[:])

	stream, err := chacha20.NewUnauthenticatedCipher(key[:], nonce[:])
	if err != nil {
		return nil, [12]byte{}, [32]byte{}, xerr.Internal("chacha20 init: %v", err)
	}

	buf := make([]byte, total)
	stream.XORKeyStream(buf, buf)

	hk := &HopKeying{}
	off := 0
	copy(hk.PacketName[:], buf[off:off+16])
	off += 16
	copy(hk.ReplayCode[:], buf[off:off+16])
	off += 16
	copy(hk.MACKey[:], buf[off:off+32])
	off += 32

	hk.BetaMask = append([]byte(nil), buf[off:off+p.BetaLength]...)
	off += p.BetaLength
	hk.BetaTailMask = append([]byte(nil), buf[off:off+p.MaxBetaTailLength]...)
	off += p.MaxBetaTailLength
	hk.SURBLogMask = append([]byte(nil), buf[off:off+p.SURBLogLength]...)
	off += p.SURBLogLength

	copy(hk.BodyKey[:], buf[off:off+lionessKeySize])
	off += lionessKeySize

	var wideBlind [64]byte
	copy(wideBlind[:], buf[off:off+64])
	off += 64
	hk.BlindingScalar = primitives.ScalarFromWideBytes(wideBlind)

	var delaySeed [64]byte
	copy(delaySeed[:], buf[off:off+64])
	off += 64
	hk.Delay = sampleDelay(delaySeed, p.DelayLambda)

	zeroBytes(buf)
	return hk, nonce, key, nil
}

// deriveNonceKey evaluates the extendable-output hash over
// ss ∥ "Sphinx" ∥ rn ∥ PROTOCOL_NAME ∥ ss, taking the first 12 bytes as the
// ChaCha20 nonce, skipping the next 4, and taking the following 32 bytes as
// the key.
func deriveNonceKey(ss primitives.SphinxSecret, rn keys.RoutingName, protocolName string) (nonce [12]byte, key [32]byte) {
	h := turboshake.New(hopKeyingDS)
	_, _ = h.Write(ss[:])
	_, _ = h.Write([]byte("Sphinx"))
	_, _ = h.Write(rn[:])
	_, _ = h.Write([]byte(protocolName))
	_, _ = h.Write(ss[:])

	var buf [48]byte
	_, _ = h.Read(buf[:])

	copy(nonce[:], buf[0:12])
	copy(key[:], buf[16:48])
	return
}

// sampleDelay draws one sample from Exp(lambda) seeded by the first 8 bytes
// of the 64-byte delay-seed region of the hop-keying stream (the remaining
// 56 bytes are unused), rounded to whole seconds.
func sampleDelay(seed [64]byte, lambda float64) time.Duration {
	var u64 uint64
	for i := range 8 {
		u64 = u64<<8 | uint64(seed[i])
	}
	// Map to (0,1]; avoid exactly zero, which would make -ln(u) infinite.
	u := (float64(u64) + 1) / (math.MaxUint64 + 2.0)
	seconds := -math.Log(u) / lambda
	return time.Duration(math.Round(seconds)) * time.Second
}

// VerifyGamma computes Poly1305 over beta with the hop's MAC key and
// compares the result to gamma in constant time.
func (hk *HopKeying) VerifyGamma(beta []byte, gamma [16]byte) bool {
	g := gamma
	return poly1305.Verify(&g, beta, &hk.MACKey)
}

// ComputeGamma computes the Poly1305 MAC over beta with the hop's MAC key.
func (hk *HopKeying) ComputeGamma(beta []byte) [16]byte {
	var mac [16]byte
	poly1305.Sum(&mac, beta, &hk.MACKey)
	return mac
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
