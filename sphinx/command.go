package sphinx

import (
	"encoding/binary"

	"github.com/xolotlmix/xolotl/keys"
	"github.com/xolotlmix/xolotl/primitives"
	"github.com/xolotlmix/xolotl/ratchet"
	"github.com/xolotlmix/xolotl/xerr"
)

// Opcode ranges, per the command codec's top-bit discrimination.
const (
	opRatchetLow     = 0x00
	opRatchetHigh    = 0x3F
	opCrossOverLow   = 0x40
	opCrossOverHigh  = 0x4F
	opContact        = 0x60
	opGreeting       = 0x61
	opDeliver        = 0x50
	opArrivalSURB    = 0x70
	opArrivalDirect  = 0x71
	opTransmitLow    = 0x80
	opTransmitHigh   = 0xFF
)

// MailboxNameSize is the wire size of a mailbox identifier.
const MailboxNameSize = 16

// MailboxName addresses a delivery mailbox.
type MailboxName [MailboxNameSize]byte

// twigIdWireSize is the wire encoding of a ratchet.TwigId: 16-byte family,
// 2-byte berry index, 2-byte twig index.
const twigIdWireSize = ratchet.BranchNameSize + 2 + 2

func encodeTwigId(id ratchet.TwigId) [twigIdWireSize]byte {
	var b [twigIdWireSize]byte
	copy(b[0:16], id.Branch.Family[:])
	binary.LittleEndian.PutUint16(b[16:18], uint16(id.Branch.Berry))
	binary.LittleEndian.PutUint16(b[18:20], uint16(id.Idx))
	return b
}

func decodeTwigId(b []byte) ratchet.TwigId {
	var family ratchet.BranchName
	copy(family[:], b[0:16])
	berry := ratchet.TwigIdx(binary.LittleEndian.Uint16(b[16:18]))
	idx := ratchet.TwigIdx(binary.LittleEndian.Uint16(b[18:20]))
	return ratchet.TwigId{Branch: ratchet.BranchId{Family: family, Berry: berry}, Idx: idx}
}

// Command is the parsed form of one beta-embedded routing instruction.
type Command interface {
	commandLen() int
}

type TransmitCommand struct {
	Route keys.RoutingName
	Gamma [gammaSize]byte
}

func (TransmitCommand) commandLen() int { return 1 + 16 + gammaSize }

type RatchetCommand struct {
	Twig  ratchet.TwigId
	Gamma [gammaSize]byte
}

func (RatchetCommand) commandLen() int { return 1 + twigIdWireSize + gammaSize }

type CrossOverCommand struct {
	Route    keys.RoutingName
	Alpha    primitives.Alpha
	Gamma    [gammaSize]byte
	SURBBeta []byte
}

func (c CrossOverCommand) commandLen() int {
	return 2 + 16 + primitives.AlphaSize + gammaSize + len(c.SURBBeta)
}

type ContactCommand struct{}

func (ContactCommand) commandLen() int { return 1 }

type GreetingCommand struct{}

func (GreetingCommand) commandLen() int { return 1 }

type DeliverCommand struct {
	Mailbox MailboxName
}

func (DeliverCommand) commandLen() int { return 1 + MailboxNameSize }

type ArrivalSURBCommand struct{}

func (ArrivalSURBCommand) commandLen() int { return 1 }

type ArrivalDirectCommand struct{}

func (ArrivalDirectCommand) commandLen() int { return 1 }

// ParseCommand reads one command from the front of an unmasked beta buffer,
// returning the parsed command and the number of bytes it consumed. Any
// opcode outside the codec's defined ranges is Err(BadPacket).
func ParseCommand(beta []byte) (Command, int, error) {
	if len(beta) < 1 {
		return nil, 0, xerr.NewBadPacket("command: empty beta", 0)
	}
	op := beta[0]

	switch {
	case op >= opTransmitLow && op <= opTransmitHigh:
		cmd := TransmitCommand{}
		n := cmd.commandLen()
		if len(beta) < n {
			return nil, 0, xerr.NewBadPacket("transmit: short beta", op)
		}
		copy(cmd.Route[:], beta[1:17])
		copy(cmd.Gamma[:], beta[17:17+gammaSize])
		return cmd, n, nil

	case op <= opRatchetHigh:
		cmd := RatchetCommand{}
		n := cmd.commandLen()
		if len(beta) < n {
			return nil, 0, xerr.NewBadPacket("ratchet: short beta", op)
		}
		cmd.Twig = decodeTwigId(beta[1 : 1+twigIdWireSize])
		copy(cmd.Gamma[:], beta[1+twigIdWireSize:n])
		return cmd, n, nil

	case op >= opCrossOverLow && op <= opCrossOverHigh:
		if len(beta) < 2 {
			return nil, 0, xerr.NewBadPacket("crossover: short header", op)
		}
		surbBetaLen := (int(op&0x0F) << 8) | int(beta[1])
		n := 2 + 16 + primitives.AlphaSize + gammaSize + surbBetaLen
		if len(beta) < n {
			return nil, 0, xerr.NewBadPacket("crossover: short beta", op)
		}
		cmd := CrossOverCommand{}
		off := 2
		copy(cmd.Route[:], beta[off:off+16])
		off += 16
		copy(cmd.Alpha[:], beta[off:off+primitives.AlphaSize])
		off += primitives.AlphaSize
		copy(cmd.Gamma[:], beta[off:off+gammaSize])
		off += gammaSize
		cmd.SURBBeta = append([]byte(nil), beta[off:off+surbBetaLen]...)
		return cmd, n, nil

	case op == opContact:
		return ContactCommand{}, 1, nil

	case op == opGreeting:
		return GreetingCommand{}, 1, nil

	case op == opDeliver:
		n := DeliverCommand{}.commandLen()
		if len(beta) < n {
			return nil, 0, xerr.NewBadPacket("deliver: short beta", op)
		}
		var cmd DeliverCommand
		copy(cmd.Mailbox[:], beta[1:n])
		return cmd, n, nil

	case op == opArrivalSURB:
		return ArrivalSURBCommand{}, 1, nil

	case op == opArrivalDirect:
		return ArrivalDirectCommand{}, 1, nil

	default:
		return nil, 0, xerr.NewBadPacket("unknown opcode", op)
	}
}

// WriteCommand writes cmd's wire encoding to the front of dst, which must be
// at least cmd.commandLen() bytes. It is the inverse of ParseCommand and is
// used by the client builder to fill in a previously reserved beta slot.
func WriteCommand(dst []byte, cmd Command) {
	switch c := cmd.(type) {
	case TransmitCommand:
		dst[0] = opTransmitLow
		copy(dst[1:17], c.Route[:])
		copy(dst[17:17+gammaSize], c.Gamma[:])

	case RatchetCommand:
		dst[0] = opRatchetLow
		b := encodeTwigId(c.Twig)
		copy(dst[1:1+twigIdWireSize], b[:])
		copy(dst[1+twigIdWireSize:1+twigIdWireSize+gammaSize], c.Gamma[:])

	case CrossOverCommand:
		n := len(c.SURBBeta)
		dst[0] = byte(opCrossOverLow | (n>>8)&0x0F)
		dst[1] = byte(n & 0xFF)
		off := 2
		copy(dst[off:off+16], c.Route[:])
		off += 16
		copy(dst[off:off+primitives.AlphaSize], c.Alpha[:])
		off += primitives.AlphaSize
		copy(dst[off:off+gammaSize], c.Gamma[:])
		off += gammaSize
		copy(dst[off:off+n], c.SURBBeta)

	case ContactCommand:
		dst[0] = opContact

	case GreetingCommand:
		dst[0] = opGreeting

	case DeliverCommand:
		dst[0] = opDeliver
		copy(dst[1:1+MailboxNameSize], c.Mailbox[:])

	case ArrivalSURBCommand:
		dst[0] = opArrivalSURB

	case ArrivalDirectCommand:
		dst[0] = opArrivalDirect
	}
}
