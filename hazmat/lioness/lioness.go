// Package lioness implements a length-preserving wide-block cipher used to
// encrypt onion packet bodies.
//
// The underlying stream/MAC/curve primitives the wider specification treats
// as assumed external components are a length-preserving body cipher with a
// 256-byte key; the corpus this module is built from ships only a
// tag-appending AEAD (hazmat/treewrap), which cannot serve that role without
// growing the ciphertext. This package supplies the missing length-preserving
// construction: a 4-round unbalanced Feistel network (the classic Lioness
// design) built from the same sponge family already used elsewhere in the
// stack (hazmat/turboshake for the hash rounds) plus an IETF ChaCha20 stream
// for the stream rounds.
package lioness

import (
	"golang.org/x/crypto/chacha20"

	"github.com/xolotlmix/xolotl/hazmat/turboshake"
	"github.com/xolotlmix/xolotl/internal/mem"
	"github.com/xolotlmix/xolotl/xerr"
)

// KeySize is the size of the key consumed by Encrypt/Decrypt.
const KeySize = 256

// leftSize is the size of the Feistel network's short half, fixed to the
// sponge's natural hash-round output size.
const leftSize = 32

// MinBodySize is the smallest body Encrypt/Decrypt accepts: a short half
// plus at least one byte for the long half.
const MinBodySize = leftSize + 1

const (
	streamRoundDS = 0x02
	hashRoundDS   = 0x03
)

// roundKeySize is the size of each of the four round subkeys carved out of
// the 256-byte key.
const roundKeySize = KeySize / 4

type roundKeys struct {
	k1, k2, k3, k4 []byte
}

func splitKey(key *[KeySize]byte) roundKeys {
	return roundKeys{
		k1: key[0*roundKeySize : 1*roundKeySize],
		k2: key[1*roundKeySize : 2*roundKeySize],
		k3: key[2*roundKeySize : 3*roundKeySize],
		k4: key[3*roundKeySize : 4*roundKeySize],
	}
}

// Encrypt permutes body in place under key, preserving its length. body must
// be at least MinBodySize bytes.
func Encrypt(key *[KeySize]byte, body []byte) error {
	l, r, err := split(body)
	if err != nil {
		return err
	}
	rk := splitKey(key)

	streamRound(rk.k1, l, r)
	hashRound(rk.k2, r, l)
	streamRound(rk.k3, l, r)
	hashRound(rk.k4, r, l)
	return nil
}

// Decrypt reverses Encrypt in place under the same key.
func Decrypt(key *[KeySize]byte, body []byte) error {
	l, r, err := split(body)
	if err != nil {
		return err
	}
	rk := splitKey(key)

	hashRound(rk.k4, r, l)
	streamRound(rk.k3, l, r)
	hashRound(rk.k2, r, l)
	streamRound(rk.k1, l, r)
	return nil
}

func split(body []byte) (l, r []byte, err error) {
	if len(body) < MinBodySize {
		return nil, nil, xerr.Internal("lioness: body too short: %d bytes", len(body))
	}
	return body[:leftSize], body[leftSize:], nil
}

// streamRound encrypts r in place with a ChaCha20 keystream keyed by
// roundKey and the current left half, implementing R ^= f(Ki, L).
func streamRound(roundKey, l, r []byte) {
	seed := turboshake.Sum(append(append([]byte(nil), roundKey...), l...), streamRoundDS, 32)
	var key [32]byte
	copy(key[:], seed)
	var nonce [12]byte

	c, err := chacha20.NewUnauthenticatedCipher(key[:], nonce[:])
	if err != nil {
		// key and nonce are always the correct fixed sizes above.
		panic("lioness: chacha20 init: " + err.Error())
	}
	c.XORKeyStream(r, r)
}

// hashRound XORs l in place with a sponge digest keyed by roundKey and the
// current right half, implementing L ^= g(Ki, R).
func hashRound(roundKey, r, l []byte) {
	digest := turboshake.Sum(append(append([]byte(nil), roundKey...), r...), hashRoundDS, leftSize)
	mem.XORInPlace(l, digest)
}
