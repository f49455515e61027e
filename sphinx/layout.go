// Package sphinx implements the onion-routing header: its fixed-size wire
// layout, the variable-length command codec embedded in beta, the node-side
// packet processor, the SURB store and unwinder, and the client-side
// transactional header builder.
package sphinx

import (
	"crypto/subtle"

	"github.com/xolotlmix/xolotl/config"
	"github.com/xolotlmix/xolotl/internal/mem"
	"github.com/xolotlmix/xolotl/xerr"
)

const (
	routeSize = 16
	alphaSize = 32
	gammaSize = 16
)

// Header is a mutable borrow over a packet's wire bytes, partitioned into
// fixed-size sub-slices whose identities stay fixed for the header's
// lifetime: route, alpha, gamma, beta, and surb-log.
type Header struct {
	buf        []byte
	betaLen    int
	surbLogLen int
}

// headerLen returns the total wire size of a header for the given params.
func headerLen(p config.Params) int {
	return routeSize + alphaSize + gammaSize + p.BetaLength + p.SURBLogLength
}

// NewHeader allocates a zeroed header buffer sized for params, rejecting a
// parameterization that would admit a long-SURB attack (config.Validate)
// before ever allocating rather than deferring that check to whichever
// caller happens to run it.
func NewHeader(p config.Params) (*Header, error) {
	if err := p.Validate(); err != nil {
		return nil, xerr.ErrBadLength
	}
	return &Header{
		buf:        make([]byte, headerLen(p)),
		betaLen:    p.BetaLength,
		surbLogLen: p.SURBLogLength,
	}, nil
}

// WrapHeader borrows buf as a header, failing if its length does not match
// params exactly or params itself does not validate.
func WrapHeader(buf []byte, p config.Params) (*Header, error) {
	if err := p.Validate(); err != nil {
		return nil, xerr.ErrBadLength
	}
	if len(buf) != headerLen(p) {
		return nil, xerr.ErrBadLength
	}
	return &Header{buf: buf, betaLen: p.BetaLength, surbLogLen: p.SURBLogLength}, nil
}

func (h *Header) Route() []byte   { return h.buf[0:routeSize] }
func (h *Header) Alpha() []byte   { return h.buf[routeSize : routeSize+alphaSize] }
func (h *Header) Gamma() []byte   { return h.buf[routeSize+alphaSize : routeSize+alphaSize+gammaSize] }
func (h *Header) Beta() []byte {
	start := routeSize + alphaSize + gammaSize
	return h.buf[start : start+h.betaLen]
}
func (h *Header) SURBLog() []byte {
	start := routeSize + alphaSize + gammaSize + h.betaLen
	return h.buf[start : start+h.surbLogLen]
}

// Bytes returns the header's full wire encoding.
func (h *Header) Bytes() []byte { return h.buf }

// VerifyGamma checks the header's gamma field against beta under hk's MAC
// key, in constant time.
func (h *Header) VerifyGamma(hk *HopKeying) bool {
	var g [gammaSize]byte
	copy(g[:], h.Gamma())
	return hk.VerifyGamma(h.Beta(), g)
}

// WriteGamma overwrites the header's gamma field.
func (h *Header) WriteGamma(g [gammaSize]byte) {
	copy(h.Gamma(), g[:])
}

// UnmaskBeta XORs the full beta region with hk's beta mask in place. It must
// be applied exactly once, after VerifyGamma succeeds, before a command is
// parsed from beta.
func (h *Header) UnmaskBeta(hk *HopKeying) {
	mem.XORInPlace(h.Beta(), hk.BetaMask)
}

// ShiftBeta left-shifts beta by eaten bytes (discarding the consumed command
// from the front) and refills the newly exposed tail by XORing it with hk's
// beta-tail mask, so the next hop's MAC covers predictable values there.
func (h *Header) ShiftBeta(hk *HopKeying, eaten int) {
	beta := h.Beta()
	n := len(beta)
	copy(beta, beta[eaten:])

	tail := beta[n-eaten:]
	mem.XORInPlace(tail, hk.BetaTailMask[:eaten])
}

// PrependToSURBLog shifts surb-log right by 16 bytes, destroying its
// trailing 16 bytes, and writes packetName at the front.
func (h *Header) PrependToSURBLog(packetName [16]byte) {
	log := h.SURBLog()
	copy(log[16:], log[:len(log)-16])
	copy(log[:16], packetName[:])
}

// UnmaskSURBLog XORs the full surb-log region with hk's mask in place.
func (h *Header) UnmaskSURBLog(hk *HopKeying) {
	mem.XORInPlace(h.SURBLog(), hk.SURBLogMask)
}

// ZeroSURBLog overwrites the entire surb-log region with zeros.
func (h *Header) ZeroSURBLog() {
	log := h.SURBLog()
	for i := range log {
		log[i] = 0
	}
}

// SURBLogIsZero reports whether the surb-log region is still all-zero, the
// precondition a CrossOver command enforces before consuming a subhop.
// Compared in constant time, since this gates a decision an adversary could
// otherwise probe by timing a crafted packet's processing.
func (h *Header) SURBLogIsZero() bool {
	log := h.SURBLog()
	zero := make([]byte, len(log))
	return subtle.ConstantTimeCompare(log, zero) == 1
}

// ZeroBetaTail overwrites beta beyond offset with zeros, used by CrossOver
// to blank anything past the inlined SURB's own beta length.
func (h *Header) ZeroBetaTail(offset int) {
	beta := h.Beta()
	for i := offset; i < len(beta); i++ {
		beta[i] = 0
	}
}
