package ratchet

import (
	"crypto/subtle"
	"crypto/sha3"

	"github.com/xolotlmix/xolotl/hazmat/transcript"
	"github.com/xolotlmix/xolotl/primitives"
)

// ExtraKeySize is the size of a branch's post-quantum "extra" secret, kept
// beyond the 128 bits carried in twigs to raise the ratchet's long-term
// security above what a quantum attacker could erode via Grover's algorithm
// against the hash-iteration chain alone.
const ExtraKeySize = 32

// ExtraKey is a branch's extra post-quantum secret.
type ExtraKey [ExtraKeySize]byte

// Zero overwrites k with zeros.
func (k *ExtraKey) Zero() {
	for i := range k {
		k[i] = 0
	}
}

// ConstantTimeEqual reports whether k and o are equal, in constant time.
func (k *ExtraKey) ConstantTimeEqual(o *ExtraKey) bool {
	return subtle.ConstantTimeCompare(k[:], o[:]) == 1
}

// MessageKey is the secret symmetric key the ratchet hands back to the
// onion-routing layer; it reuses SphinxSecret's size and role.
type MessageKey = primitives.SphinxSecret

// Branch owns an ExtraKey and the cursor marking the next chain twig index
// expected to be converted into a berry key.
type Branch struct {
	Extra ExtraKey
	Chain TwigIdx
}

// childFamilyName derives the family name shared by every child branch
// spawned from this branch's berries.
func (b *Branch) childFamilyName() BranchName {
	h := sha3.New256()
	h.Write([]byte("xolotl-child-family"))
	h.Write(b.Extra[:])
	var sum [32]byte
	h.Sum(sum[:0])
	var name BranchName
	copy(name[:], sum[:BranchNameSize])
	return name
}

// kdfTrain advances a train twig at position i, producing two train
// children, the chain key at the successor position, and a link key.
func (b *Branch) kdfTrain(i TwigIdx, ck TrainKey) (leftChild, rightChild TrainKey, chain ChainKey, link LinkKey) {
	e := transcript.New("ratchet/train")
	e.Mix("extra", b.Extra[:])
	e.Mix("train", ck[:])
	ib := i.ToBytes()
	e.Mix("index", ib[:])

	out := e.Derive("children", 4*TwigKeySize)
	var a, bb, c, d [TwigKeySize]byte
	copy(a[:], out[0:16])
	copy(bb[:], out[16:32])
	copy(c[:], out[32:48])
	copy(d[:], out[48:64])

	return MakeTrainKey(a), MakeTrainKey(bb), MakeChainKey(c), MakeLinkKey(d)
}

// kdfChain advances a chain twig at position i, producing the next chain key
// and a link key.
func (b *Branch) kdfChain(i TwigIdx, ck ChainKey) (chain ChainKey, link LinkKey) {
	e := transcript.New("ratchet/chain")
	e.Mix("extra", b.Extra[:])
	e.Mix("chain", ck[:])
	ib := i.ToBytes()
	e.Mix("index", ib[:])

	out := e.Derive("next", 2*TwigKeySize)
	var c, d [TwigKeySize]byte
	copy(c[:], out[0:16])
	copy(d[:], out[16:32])

	return MakeChainKey(c), MakeLinkKey(d)
}

// kdfLink combines a link key with the current Sphinx shared secret to
// produce the node's new forwarding-layer symmetric key and a berry key.
// The branch's extra key is deliberately not mixed in here: a berry key
// derived this way can be handed away (e.g. in a SURB) without teaching its
// holder the parent branch's post-quantum secret.
func (b *Branch) kdfLink(link LinkKey, ss primitives.SphinxSecret) (MessageKey, BerryKey) {
	e := transcript.New("ratchet/link")
	e.Mix("link", link[:])
	e.Mix("ss", ss[:])

	msgKeyBytes := e.Derive("message-key", 32)
	berryBytes := e.Derive("berry-key", TwigKeySize)

	var mk MessageKey
	copy(mk[:], msgKeyBytes)
	var bk [TwigKeySize]byte
	copy(bk[:], berryBytes)

	return mk, MakeBerryKey(bk)
}

// kdfBranch spawns a new branch from a berry key at index i.
func (b *Branch) kdfBranch(i TwigIdx, bk BerryKey) (BranchId, Branch, TrainKey) {
	e := transcript.New("ratchet/branch")
	e.Mix("berry", bk[:])
	ib := i.ToBytes()
	e.Mix("index", ib[:])

	extraBytes := e.Derive("extra", ExtraKeySize)
	trainBytes := e.Derive("train", TwigKeySize)

	var extra ExtraKey
	copy(extra[:], extraBytes)
	var train [TwigKeySize]byte
	copy(train[:], trainBytes)

	child := Branch{Extra: extra, Chain: TrainStart}
	id := BranchId{Family: b.childFamilyName(), Berry: i}
	return id, child, MakeTrainKey(train)
}

// NewBranchFromSeed creates a fresh branch and its initial train key from a
// messaging-layer key-exchange seed, with no transaction required. It writes
// to no storage; CreateInitialBranch stores its result.
func NewBranchFromSeed(seed []byte) (BranchId, Branch, TrainKey) {
	e := transcript.New("ratchet/seed")
	e.Mix("seed", seed)

	extraBytes := e.Derive("extra", ExtraKeySize)
	nameBytes := e.Derive("family", BranchNameSize)
	trainBytes := e.Derive("train", TwigKeySize)

	var extra ExtraKey
	copy(extra[:], extraBytes)
	var name BranchName
	copy(name[:], nameBytes)
	var train [TwigKeySize]byte
	copy(train[:], trainBytes)

	branch := Branch{Extra: extra, Chain: TrainStart}
	id := BranchId{Family: name, Berry: TwigIdx(^uint16(0))}
	return id, branch, MakeTrainKey(train)
}
