package sphinx

import (
	"time"

	"github.com/xolotlmix/xolotl/config"
	"github.com/xolotlmix/xolotl/hazmat/lioness"
	"github.com/xolotlmix/xolotl/keys"
	"github.com/xolotlmix/xolotl/primitives"
	"github.com/xolotlmix/xolotl/ratchet"
	"github.com/xolotlmix/xolotl/replay"
	"github.com/xolotlmix/xolotl/xerr"
)

// DecisionKind discriminates the outcome of processing one packet at a node.
type DecisionKind int

const (
	DecisionTransmit DecisionKind = iota
	DecisionDeliver
	DecisionArrivalDirect
	DecisionArrivalSURB
)

// Decision is what a node must do after successfully processing a packet.
// Exactly one of the embedded pointers is non-nil, matching Kind.
type Decision struct {
	Kind DecisionKind

	Transmit      *TransmitDecision
	Deliver       *DeliverDecision
	ArrivalDirect *ArrivalDirectDecision
	ArrivalSURB   *ArrivalSURBDecision
}

type TransmitDecision struct {
	Route     keys.RoutingName
	ForwardAt time.Time
	Header    []byte
	Body      []byte
}

type DeliverDecision struct {
	Mailbox    MailboxName
	PacketName [16]byte
	SURBLog    []byte
	Body       []byte
}

type ArrivalDirectDecision struct {
	Body []byte
}

type ArrivalSURBDecision struct {
	PacketName [16]byte
	Header     []byte
	Body       []byte
}

// Node bundles the fixed inputs a node's packet processor needs across
// every call: its own routing secret and name, protocol parameters, ratchet
// state, and replay filter.
type Node struct {
	Secret  keys.RoutingSecret
	Name    keys.RoutingName
	Params  config.Params
	State   *ratchet.State
	Replay  replay.Filter
}

// Process runs the node-router's ten-step packet pipeline against header
// and body, which are mutated in place. Nothing observable is written to
// persistent state (replay filter, ratchet store) before verify_gamma and
// the replay check succeed; the ratchet commit happens only after a
// successful re-verification of the new MAC.
func (n *Node) Process(header *Header, body []byte) (*Decision, error) {
	return n.process(header, body, false)
}

func (n *Node) process(header *Header, body []byte, sawRatchet bool) (*Decision, error) {
	el, ok := primitives.DecodeElement(mustAlpha(header.Alpha()))
	if !ok {
		return nil, xerr.ErrBadAlpha
	}

	ss := primitives.DiffieHellman(n.Secret.Scalar, el)

	hk, err := DeriveHopKeying(n.Params, ss, n.Name)
	if err != nil {
		return nil, err
	}

	if !header.VerifyGamma(hk) {
		return nil, xerr.ErrInvalidMac
	}

	if err := n.Replay.CheckAndInsert(replay.Code(hk.ReplayCode)); err != nil {
		return nil, err
	}

	header.UnmaskBeta(hk)

	cmd, eaten, err := ParseCommand(header.Beta())
	if err != nil {
		return nil, err
	}
	if _, isCrossOver := cmd.(CrossOverCommand); !isCrossOver {
		// A CrossOver command's bytes are about to be overwritten wholesale by
		// the splice below (copy + ZeroBetaTail cover the entire beta), so
		// reconstructing its eaten tail via the beta-tail mask would be both
		// pointless and unsound: eaten can exceed len(hk.BetaTailMask) for a
		// command this long, which ShiftBeta does not guard against.
		header.ShiftBeta(hk, eaten)
	}

	if rc, isRatchet := cmd.(RatchetCommand); isRatchet {
		if sawRatchet {
			return nil, xerr.NewBadPacket("two consecutive ratchet subhops", 0)
		}

		tx, newHK, err := n.beginRatchetAdvance(rc, ss)
		if tx != nil {
			defer tx.Drop()
		}
		if err != nil {
			return nil, err
		}

		header.WriteGamma(rc.Gamma)
		if !header.VerifyGamma(newHK) {
			return nil, xerr.ErrInvalidMac
		}
		if err := tx.Confirm(); err != nil {
			return nil, err
		}
		hk = newHK

		header.UnmaskBeta(hk)
		cmd, eaten, err = ParseCommand(header.Beta())
		if err != nil {
			return nil, err
		}
		header.ShiftBeta(hk, eaten)
		sawRatchet = true
	}

	if _, isArrivalSURB := cmd.(ArrivalSURBCommand); isArrivalSURB {
		return &Decision{
			Kind: DecisionArrivalSURB,
			ArrivalSURB: &ArrivalSURBDecision{
				PacketName: hk.PacketName,
				Header:     header.Bytes(),
				Body:       body,
			},
		}, nil
	}

	if err := lioness.Decrypt(&hk.BodyKey, body); err != nil {
		return nil, err
	}

	switch c := cmd.(type) {
	case CrossOverCommand:
		if !header.SURBLogIsZero() {
			return nil, xerr.NewBadPacket("tried two crossover subhops", 0)
		}
		if len(c.SURBBeta) > n.Params.MaxSURBBetaLength {
			return nil, xerr.NewBadPacket("crossover surb-beta too long", 0)
		}
		copy(header.Alpha(), c.Alpha[:])
		header.WriteGamma(c.Gamma)
		copy(header.Beta(), c.SURBBeta)
		header.ZeroBetaTail(len(c.SURBBeta))
		header.ZeroSURBLog()
		return n.process(header, body, sawRatchet)

	case TransmitCommand:
		header.UnmaskSURBLog(hk)
		header.WriteGamma(c.Gamma)
		newAlpha, ok := primitives.BlindAlpha(primitives.Alpha(mustAlpha(header.Alpha())), hk.BlindingScalar)
		if !ok {
			return nil, xerr.ErrBadAlpha
		}
		copy(header.Alpha(), newAlpha[:])

		return &Decision{
			Kind: DecisionTransmit,
			Transmit: &TransmitDecision{
				Route:     c.Route,
				ForwardAt: time.Now().Add(hk.Delay),
				Header:    header.Bytes(),
				Body:      body,
			},
		}, nil

	case DeliverCommand:
		surbLog := append([]byte(nil), header.SURBLog()...)
		return &Decision{
			Kind: DecisionDeliver,
			Deliver: &DeliverDecision{
				Mailbox:    c.Mailbox,
				PacketName: hk.PacketName,
				SURBLog:    surbLog,
				Body:       body,
			},
		}, nil

	case ArrivalDirectCommand:
		return &Decision{
			Kind:          DecisionArrivalDirect,
			ArrivalDirect: &ArrivalDirectDecision{Body: body},
		}, nil

	case ContactCommand, GreetingCommand:
		return nil, xerr.Internal("contact/greeting: not yet implemented")

	default:
		return nil, xerr.NewBadPacket("unhandled command", 0)
	}
}

// beginRatchetAdvance opens a transaction on the branch named by the
// command's twig and computes the new message key via Clicks, re-deriving
// hop keying from it. The caller must either Confirm the transaction after
// successfully re-verifying the resulting MAC, or let its deferred Drop
// abandon it; Confirm and Drop are both safe to call after the other has
// already finalized the transaction.
func (n *Node) beginRatchetAdvance(rc RatchetCommand, ss primitives.SphinxSecret) (*ratchet.Transaction, *HopKeying, error) {
	tx, err := ratchet.BeginAdvance(n.State, rc.Twig.Branch)
	if err != nil {
		return nil, nil, err
	}

	msgKey, err := ratchet.Clicks(tx, ss, rc.Twig.Idx)
	if err != nil {
		return tx, nil, err
	}

	newHK, err := DeriveHopKeying(n.Params, primitives.SphinxSecret(msgKey), n.Name)
	if err != nil {
		return tx, nil, err
	}

	return tx, newHK, nil
}

func mustAlpha(b []byte) primitives.Alpha {
	var a primitives.Alpha
	copy(a[:], b)
	return a
}
