// Package ratchet implements the Xolotl forward-secret key-evolution
// ratchet: a forest of branches, each owning a tree of tagged twig keys, and
// the transactional advance machinery that mutates them.
package ratchet

import (
	"encoding/binary"
	"fmt"
)

// TwigKeySize is the size of a stored twig key; two bits are spent tagging
// its semantic type, leaving 126 bits of forward-secrecy strength.
const TwigKeySize = 16

// TwigType identifies the semantic role of a stored twig key. The low two
// bits of every TwigKey must equal this tag; any read observing a mismatch
// is a WrongTwigType error.
type TwigType byte

const (
	TrainType TwigType = 0
	ChainType TwigType = 1
	LinkType  TwigType = 2
	BerryType TwigType = 3
)

func (t TwigType) String() string {
	switch t {
	case TrainType:
		return "Train"
	case ChainType:
		return "Chain"
	case LinkType:
		return "Link"
	case BerryType:
		return "Berry"
	default:
		return fmt.Sprintf("TwigType(%d)", byte(t))
	}
}

const twigTypeMask = 0x03

// TwigKey is a 16-byte key tagged in its low two bits with a TwigType.
type TwigKey [TwigKeySize]byte

// Type returns the semantic type tagged into k's low two bits.
func (k TwigKey) Type() TwigType {
	return TwigType(k[0] & twigTypeMask)
}

func tagged(raw [TwigKeySize]byte, t TwigType) TwigKey {
	raw[0] = (raw[0] &^ twigTypeMask) | byte(t)
	return TwigKey(raw)
}

// TrainKey, ChainKey, LinkKey, and BerryKey are the four twig roles. Each
// wraps a TwigKey tagged with its corresponding TwigType.
type (
	TrainKey TwigKey
	ChainKey TwigKey
	LinkKey  TwigKey
	BerryKey TwigKey
)

// MakeTrainKey tags raw as a TrainKey.
func MakeTrainKey(raw [TwigKeySize]byte) TrainKey { return TrainKey(tagged(raw, TrainType)) }

// MakeChainKey tags raw as a ChainKey.
func MakeChainKey(raw [TwigKeySize]byte) ChainKey { return ChainKey(tagged(raw, ChainType)) }

// MakeLinkKey tags raw as a LinkKey.
func MakeLinkKey(raw [TwigKeySize]byte) LinkKey { return LinkKey(tagged(raw, LinkType)) }

// MakeBerryKey tags raw as a BerryKey.
func MakeBerryKey(raw [TwigKeySize]byte) BerryKey { return BerryKey(tagged(raw, BerryType)) }

// TwigState is the tagged union of a fetched twig key, keyed by its stored
// TwigType.
type TwigState struct {
	Type TwigType
	Key  TwigKey
}

// NewTwigState classifies a raw stored key by its tag bits.
func NewTwigState(k TwigKey) TwigState {
	return TwigState{Type: k.Type(), Key: k}
}

// Train returns k.Key as a TrainKey, or WrongTwigType if k is not tagged Train.
func (ts TwigState) Train() (TrainKey, error) {
	if ts.Type != TrainType {
		return TrainKey{}, wrongTwigType(ts.Type, TrainType)
	}
	return TrainKey(ts.Key), nil
}

// Chain returns k.Key as a ChainKey, or WrongTwigType if k is not tagged Chain.
func (ts TwigState) Chain() (ChainKey, error) {
	if ts.Type != ChainType {
		return ChainKey{}, wrongTwigType(ts.Type, ChainType)
	}
	return ChainKey(ts.Key), nil
}

// Link returns k.Key as a LinkKey, or WrongTwigType if k is not tagged Link.
func (ts TwigState) Link() (LinkKey, error) {
	if ts.Type != LinkType {
		return LinkKey{}, wrongTwigType(ts.Type, LinkType)
	}
	return LinkKey(ts.Key), nil
}

// Berry returns k.Key as a BerryKey, or WrongTwigType if k is not tagged Berry.
func (ts TwigState) Berry() (BerryKey, error) {
	if ts.Type != BerryType {
		return BerryKey{}, wrongTwigType(ts.Type, BerryType)
	}
	return BerryKey(ts.Key), nil
}

// TwigIdxT is the underlying integer type of a TwigIdx.
type TwigIdxT = uint16

// chainVTrainWidth bits of a TwigIdx select the chain position; the
// remaining high bits select the train position. 5 bits gives 32 chain keys
// per chain (512 bytes) and at most 33 additional train/chain recomputations
// to reach any given index, bounding the cost a malicious packet can impose.
const chainVTrainWidth = 5

const chainMask TwigIdxT = (1 << chainVTrainWidth) - 1

// TwigIdx indexes a twig within a branch's tree.
type TwigIdx TwigIdxT

// TrainStart is the lowest train-tree position, (1,0) in (train,chain) terms.
const TrainStart TwigIdx = 1 << chainVTrainWidth

// ToBytes serializes idx little-endian.
func (idx TwigIdx) ToBytes() [2]byte {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], uint16(idx))
	return b
}

// TwigIdxFromBytes parses the little-endian encoding produced by ToBytes.
func TwigIdxFromBytes(b [2]byte) TwigIdx {
	return TwigIdx(binary.LittleEndian.Uint16(b[:]))
}

// split returns idx's (train, chain) position pair.
func (idx TwigIdx) split() (train, chain uint16) {
	return uint16(idx) >> chainVTrainWidth, uint16(idx) & chainMask
}

// makeTwigIdx builds a TwigIdx from a train position and chain offset.
func makeTwigIdx(train, chain uint16) TwigIdx {
	return TwigIdx((train << chainVTrainWidth) + (chain & chainMask))
}

// IsPureTrain reports whether idx sits exactly on a train position (chain
// offset zero).
func (idx TwigIdx) IsPureTrain() bool {
	_, chain := idx.split()
	return chain == 0
}

func isOkayTrain(i uint16) bool {
	return i < (TwigIdxT(0xFFFF) >> chainVTrainWidth)
}

// trainParent returns the unique parent of train position i.
func trainParent(i uint16) (uint16, bool) {
	if i >= 1 {
		return i / 2, true
	}
	return 0, false
}

// trainChildren returns the two children of train position i.
func trainChildren(i uint16) (uint16, uint16, bool) {
	if isOkayTrain(2 * i) {
		return 2 * i, 2*i + 1, true
	}
	return 0, 0, false
}

// BranchNameSize is the wire size of a BranchName.
const BranchNameSize = 16

// BranchName identifies a family of sibling branches spawned from a common
// parent berry.
type BranchName [BranchNameSize]byte

// BranchId addresses a branch by its family name and the berry index that
// spawned it.
type BranchId struct {
	Family BranchName
	Berry  TwigIdx
}

func (b BranchId) String() string {
	return fmt.Sprintf("BranchId(%x,%d)", b.Family, b.Berry)
}

// TwigId addresses one stored twig within a branch.
type TwigId struct {
	Branch BranchId
	Idx    TwigIdx
}

func (t TwigId) String() string {
	return fmt.Sprintf("TwigId(%s,%d)", t.Branch, t.Idx)
}

// TwigIS pairs a twig's index with its classified state.
type TwigIS struct {
	Idx   TwigIdx
	State TwigState
}

func wrongTwigType(got, want TwigType) error {
	return fmt.Errorf("%w: got %s, want %s", errWrongTwigType, got, want)
}
