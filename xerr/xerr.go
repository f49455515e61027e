// Package xerr defines the error kinds shared across the header layout,
// ratchet, and node-router packages, following the propagation policy: a
// packet is dropped on any of these, never retried internally, and never
// panics across a public boundary.
package xerr

import (
	"errors"
	"fmt"
)

// Sentinel errors classified by kind. Use errors.Is against these, or
// errors.As against the carrying types below for the attached detail.
var (
	// ErrInternal signals an invariant violation: the caller must not retry.
	ErrInternal = errors.New("xolotl: internal error")

	// ErrBadLength signals a packet or configuration with a structurally
	// invalid length.
	ErrBadLength = errors.New("xolotl: bad length")

	// ErrBadPacket signals a malformed or disallowed command sequence.
	ErrBadPacket = errors.New("xolotl: bad packet")

	// ErrBadAlpha signals an alpha that does not decompress to a curve point.
	ErrBadAlpha = errors.New("xolotl: bad alpha")

	// ErrReplay signals a replay-code collision. Its code is not logged
	// outside test builds.
	ErrReplay = errors.New("xolotl: replay")

	// ErrInvalidMac signals gamma verification failure. Logged the same way
	// as ErrReplay.
	ErrInvalidMac = errors.New("xolotl: invalid mac")

	// ErrBadPacketName signals a SURB lookup miss on arrival.
	ErrBadPacketName = errors.New("xolotl: bad packet name")

	// ErrIssuerHasNoRatchet signals a client-builder instruction referencing
	// a ratchet branch the World has no state for.
	ErrIssuerHasNoRatchet = errors.New("xolotl: issuer has no ratchet")
)

// Ratchet-specific error kinds. These are independent sentinels; they do
// not wrap any of the sentinels above.
var (
	ErrBranchAlreadyLocked = errors.New("xolotl: branch already locked")
	ErrMissingTwig         = errors.New("xolotl: missing twig")
	ErrMissingBerry        = errors.New("xolotl: missing berry")
	ErrMissingBranch       = errors.New("xolotl: missing branch")
	ErrMissingParent       = errors.New("xolotl: missing parent branch")
	ErrWrongTwigType       = errors.New("xolotl: wrong twig type")
	ErrCorruptBranch       = errors.New("xolotl: corrupt branch")
)

// BadPacketError carries the opcode and a message describing the rejection, so a
// caller can log it; the spec requires the opcode be logged but the replay
// code and MAC input never are.
type BadPacketError struct {
	Msg    string
	Opcode byte
}

func (e *BadPacketError) Error() string {
	return fmt.Sprintf("xolotl: bad packet: %s (opcode 0x%02x)", e.Msg, e.Opcode)
}

func (e *BadPacketError) Unwrap() error { return ErrBadPacket }

// NewBadPacket constructs a BadPacketError.
func NewBadPacket(msg string, opcode byte) error {
	return &BadPacketError{Msg: msg, Opcode: opcode}
}

// CorruptBranchError carries the branch identifier (formatted by the caller,
// kept as an opaque string here to avoid an import cycle with package
// ratchet) and the reason.
type CorruptBranchError struct {
	Branch string
	Reason string
}

func (e *CorruptBranchError) Error() string {
	return fmt.Sprintf("xolotl: corrupt branch %s: %s", e.Branch, e.Reason)
}

func (e *CorruptBranchError) Unwrap() error { return ErrCorruptBranch }

// NewCorruptBranch constructs a CorruptBranchError.
func NewCorruptBranch(branch, reason string) error {
	return &CorruptBranchError{Branch: branch, Reason: reason}
}

// Internal wraps a message as ErrInternal with context, the way the teacher
// wraps sentinel errors with fmt.Errorf("%w: ...") elsewhere in the corpus.
func Internal(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInternal, fmt.Sprintf(format, args...))
}
