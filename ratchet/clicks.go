package ratchet

import (
	"github.com/xolotlmix/xolotl/primitives"
)

// Clicks is the node-side ratchet advance: given the packet's Sphinx shared
// secret and the target twig index carried in the wire command, it derives
// the forwarding-layer MessageKey at that position, walking the train tree
// leftward from target to the nearest already-known ancestor (or the
// branch's TRAIN_START) and then forward again, recomputing every train and
// chain step in between. Every intermediate train/chain twig discovered
// along the way is queued on tx so a later advance need not repeat the
// walk; the target's own Link and Berry keys are never queued, since they
// are single-use and forward-secrecy requires they not survive in storage.
func Clicks(tx *Transaction, ss primitives.SphinxSecret, target TwigIdx) (MessageKey, error) {
	branch := tx.branch
	trainPos, chainPos := target.split()

	trainKey, err := resolveTrainKey(tx, branch, trainPos)
	if err != nil {
		return MessageKey{}, err
	}

	_, _, chainAt1, linkAt0 := branch.kdfTrain(makeTwigIdx(trainPos, 0), trainKey)

	var link LinkKey
	if chainPos == 0 {
		link = linkAt0
	} else {
		ck := chainAt1
		for j := uint16(1); j <= chainPos; j++ {
			idx := makeTwigIdx(trainPos, j)
			next, linkJ := branch.kdfChain(idx, ck)
			if j == chainPos {
				link = linkJ
			} else if j+1 < chainPos {
				tx.QueueTwig(makeTwigIdx(trainPos, j+1), TwigState{Type: ChainType, Key: TwigKey(next)})
			}
			ck = next
		}
	}

	msgKey, _ := branch.kdfLink(link, ss)
	tx.SetChainCursor(target)
	return msgKey, nil
}

// resolveTrainKey finds (or recomputes) the train key at trainPos, recursing
// toward the root until it hits a known twig or TRAIN_START, then unwinding
// forward through kdfTrain to derive every descendant on the path, queuing
// each one's sibling and chain successor for reuse.
func resolveTrainKey(tx *Transaction, branch Branch, trainPos uint16) (TrainKey, error) {
	if st, ok := tx.LookupTwig(TwigIdx(makeTwigIdx(trainPos, 0))); ok {
		return st.Train()
	}

	if trainPos == 1 {
		return TrainKey{}, missingTwig(TwigId{Branch: tx.id, Idx: TrainStart})
	}

	parent, ok := trainParent(trainPos)
	if !ok {
		return TrainKey{}, missingTwig(TwigId{Branch: tx.id, Idx: TwigIdx(makeTwigIdx(trainPos, 0))})
	}

	parentKey, err := resolveTrainKey(tx, branch, parent)
	if err != nil {
		return TrainKey{}, err
	}

	left, right, chainSucc, _ := branch.kdfTrain(makeTwigIdx(parent, 0), parentKey)

	lIdx, rIdx, ok := trainChildren(parent)
	if !ok || (trainPos != lIdx && trainPos != rIdx) {
		return TrainKey{}, corruptBranch(tx.id, "train child out of range")
	}

	tx.QueueTwig(makeTwigIdx(lIdx, 0), TwigState{Type: TrainType, Key: TwigKey(left)})
	tx.QueueTwig(makeTwigIdx(rIdx, 0), TwigState{Type: TrainType, Key: TwigKey(right)})
	tx.QueueTwig(makeTwigIdx(parent, 1), TwigState{Type: ChainType, Key: TwigKey(chainSucc)})

	if trainPos == lIdx {
		return left, nil
	}
	return right, nil
}

// Click is the user-side ratchet advance: a single step forward from the
// branch's current chain cursor. Once a chain's 32 slots are exhausted it
// descends into the left train child's chain, rather than requiring the
// caller to track train/chain position bookkeeping itself.
func Click(tx *Transaction, ss primitives.SphinxSecret) (MessageKey, error) {
	train, chain := tx.branch.Chain.split()

	var target TwigIdx
	if chain == chainMask {
		target = TwigIdx(makeTwigIdx(2*train, 0))
	} else {
		target = TwigIdx(makeTwigIdx(train, chain+1))
	}

	return Clicks(tx, ss, target)
}
