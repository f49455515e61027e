// Package transcript implements a small transcript-based key derivation
// engine used to build the ratchet's key schedule.
//
// Operations append domain-separated frames to an internal TurboSHAKE128
// transcript. Finalizing operations (Derive, Ratchet) evaluate the sponge
// over the transcript, produce output, and reset the transcript with a chain
// value so later operations cannot be replayed against an earlier state.
// ForkN does not finalize: it only appends framing to the base transcript
// and to each clone.
package transcript

import (
	"github.com/xolotlmix/xolotl/hazmat/turboshake"
)

const (
	chainValueSize = 64

	dsChain   = 0x20
	dsDerive  = 0x21
	dsRatchet = 0x24

	opInit    = 0x10
	opMix     = 0x11
	opFork    = 0x13
	opDerive  = 0x14
	opRatchet = 0x15
	opChain   = 0x18
)

// Engine is a keyed transcript used to derive ratchet key material.
type Engine struct {
	h         turboshake.Hasher
	initLabel string
}

// New creates a transcript labeled for a specific ratchet derivation site.
// Two engines constructed with different labels never produce correlated
// output, even when later mixed with identical data.
func New(label string) *Engine {
	var e Engine
	e.h = turboshake.New(dsChain)
	e.initLabel = label
	e.writeOpLabel(opInit, label)
	return &e
}

// Mix absorbs data into the transcript under a label.
func (e *Engine) Mix(label string, data []byte) *Engine {
	e.writeOpLabel(opMix, label)
	e.writeLengthEncode(data)
	return e
}

// Derive produces outputLen bytes of pseudorandom output that is a
// deterministic function of the full transcript, then ratchets the
// transcript forward so the same output can never be derived twice.
func (e *Engine) Derive(label string, outputLen int) []byte {
	if outputLen <= 0 {
		panic("transcript: Derive outputLen must be greater than zero")
	}
	out := make([]byte, outputLen)

	e.writeOpLabel(opDerive, label)
	e.writeLeftEncode(uint64(outputLen))

	cv := e.finalize(dsDerive, out)
	e.resetChain(opDerive, cv[:])

	return out
}

// Ratchet irreversibly advances the transcript without producing output.
func (e *Engine) Ratchet(label string) {
	e.writeOpLabel(opRatchet, label)

	cv := e.finalize(dsRatchet, nil)
	e.resetChain(opRatchet, cv[:])
}

// ForkN clones the transcript into n independent branches, each absorbing a
// distinct ordinal and value, and advances the base transcript in the same
// step. Used to spawn child-branch transcripts from a parent berry without
// letting them be confused with one another.
func (e *Engine) ForkN(label string, values ...[]byte) []*Engine {
	n := len(values)

	e.writeOpLabel(opFork, label)
	e.writeLeftEncode(uint64(n))

	clones := make([]*Engine, n)
	for i := range n {
		clone := e.Clone()
		clone.writeLeftEncode(uint64(i + 1))
		clone.writeLengthEncode(values[i])
		clones[i] = clone
	}

	e.writeLeftEncode(0)
	e.writeLengthEncode(nil)

	return clones
}

// Clone returns an independent copy that evolves separately from e.
func (e *Engine) Clone() *Engine {
	return &Engine{h: e.h, initLabel: e.initLabel}
}

// Clear overwrites the transcript state. The engine must not be used after.
func (e *Engine) Clear() {
	e.h.Reset(0)
	e.initLabel = ""
}

func (e *Engine) finalize(outputDS byte, dst []byte) [chainValueSize]byte {
	var cv [chainValueSize]byte

	oh := e.h
	if outputDS == dsRatchet {
		turboshake.Chain(&e.h, &oh, dsRatchet)
		_, _ = oh.Read(cv[:])
	} else {
		turboshake.Chain(&e.h, &oh, outputDS)
		_, _ = e.h.Read(cv[:])
		if dst != nil {
			_, _ = oh.Read(dst)
		}
	}

	return cv
}

func (e *Engine) writeOpLabel(op byte, label string) {
	n := len(label)
	if n < 256 {
		var buf [259]byte
		buf[0] = op
		buf[1] = 1
		buf[2] = byte(n)
		copy(buf[3:], label)
		_, _ = e.h.Write(buf[:3+n])
	} else {
		_, _ = e.h.Write([]byte{op})
		e.writeLengthEncode([]byte(label))
	}
}

func (e *Engine) resetChain(originOp byte, chainValue []byte) {
	e.h.Reset(dsChain)

	const prefixLen = 6
	var buf [prefixLen + chainValueSize]byte
	buf[0] = opChain
	buf[1] = originOp
	buf[2] = 1
	buf[3] = 1 // count = 1 (no tag carried by this engine)
	buf[4] = 1
	buf[5] = chainValueSize
	copy(buf[prefixLen:], chainValue)
	_, _ = e.h.Write(buf[:])
}

func (e *Engine) writeLeftEncode(x uint64) {
	var buf [9]byte

	if x == 0 {
		buf[0] = 1
		_, _ = e.h.Write(buf[:2])
		return
	}

	i := 8
	v := x
	for v > 0 {
		buf[i] = byte(v)
		v >>= 8
		i--
	}
	buf[i] = byte(8 - i)
	_, _ = e.h.Write(buf[i:9])
}

func (e *Engine) writeLengthEncode(data []byte) {
	n := len(data)
	if n > 0 && n < 128 {
		var buf [130]byte
		buf[0] = 1
		buf[1] = byte(n)
		copy(buf[2:], data)
		_, _ = e.h.Write(buf[:2+n])
		return
	}
	e.writeLeftEncode(uint64(n))
	if n > 0 {
		_, _ = e.h.Write(data)
	}
}
