package ratchet

import (
	"github.com/xolotlmix/xolotl/xerr"
)

// Transaction stages a mutation to one branch behind its BranchIdGuard.
// Nothing is written to the node's branch/parent/twig storage until Confirm
// runs; every other exit path (Forget, Abandon, or an unreleased Drop)
// leaves storage untouched.
type Transaction struct {
	state *State
	guard *BranchIdGuard
	id    BranchId

	firstUse      bool
	branch        Branch
	consumedBerry *TwigId
	inserts       map[TwigIdx]TwigState

	finalized bool
}

// BeginAdvance locks id and loads its current branch record, if any. A
// caller spawning a brand-new branch (the berry-to-branch transition) must
// follow up with InitBranch before queuing any twig.
func BeginAdvance(state *State, id BranchId) (*Transaction, error) {
	guard, err := LockBranchId(state, id)
	if err != nil {
		return nil, err
	}

	branch, ok := state.Branches.Get(id)
	return &Transaction{
		state:    state,
		guard:    guard,
		id:       id,
		firstUse: !ok,
		branch:   branch,
		inserts:  make(map[TwigIdx]TwigState),
	}, nil
}

// InitBranch supplies the branch record for a transaction that is creating
// id for the first time, spawned by consuming the berry at consumedBerry.
func (t *Transaction) InitBranch(branch Branch, consumedBerry TwigId) {
	t.firstUse = true
	t.branch = branch
	t.consumedBerry = &consumedBerry
}

// Branch returns the transaction's working copy of the branch record.
func (t *Transaction) Branch() Branch { return t.branch }

// SetChainCursor updates the working branch's chain-advance cursor.
func (t *Transaction) SetChainCursor(idx TwigIdx) { t.branch.Chain = idx }

// IsFirstUse reports whether this transaction is creating a brand-new
// branch rather than mutating an existing one.
func (t *Transaction) IsFirstUse() bool { return t.firstUse }

// QueueTwig stages a twig insert for the eventual Confirm.
func (t *Transaction) QueueTwig(idx TwigIdx, state TwigState) {
	t.inserts[idx] = state
}

// LookupTwig resolves idx against this transaction's queued inserts first,
// falling back to the node's committed twig storage.
func (t *Transaction) LookupTwig(idx TwigIdx) (TwigState, bool) {
	if st, ok := t.inserts[idx]; ok {
		return st, true
	}
	k, ok := t.state.Twigs.Get(TwigId{Branch: t.id, Idx: idx})
	if !ok {
		return TwigState{}, false
	}
	return NewTwigState(k), true
}

// Confirm atomically applies the queued work: the branch record (inserted
// on first use, overwritten with the working copy otherwise), the
// parents-map entry for the branches this one will spawn, removal
// of the berry twig this branch itself was spawned from, and every queued
// twig insert. Only Confirm and CreateInitialBranch may write to a State's
// branch, parent, or twig storage.
func (t *Transaction) Confirm() error {
	if t.finalized {
		return xerr.Internal("ratchet: transaction already finalized")
	}
	t.finalized = true
	defer t.guard.Release()

	t.state.Branches.Insert(t.id, t.branch)
	if t.firstUse {
		t.state.Parents.Insert(t.branch.childFamilyName(), t.id)
	}
	if t.consumedBerry != nil {
		t.state.Twigs.Remove(*t.consumedBerry)
	}
	for idx, st := range t.inserts {
		t.state.Twigs.Insert(TwigId{Branch: t.id, Idx: idx}, st.Key)
	}

	t.state.cachedMu.Lock()
	delete(t.state.cached, t.id)
	t.state.cachedMu.Unlock()

	return nil
}

// Forget discards the queued work without caching it, releasing the guard.
// SURB construction uses this so that replying to a message does not teach
// a node anything about its own position in the ratchet tree.
func (t *Transaction) Forget() {
	if t.finalized {
		return
	}
	t.finalized = true
	t.guard.Release()
}

// Abandon moves the queued work into the node's AdvanceFailCache, keyed by
// BranchId, where it stays until the branch's next successful Confirm.
// BeginAdvance does not consult the cache, so a subsequent attempt at the
// same advance recomputes its twigs. If a cached entry already exists for
// this branch, its extra secret
// must match this transaction's in constant time; a mismatch indicates the
// cache and the branch have diverged and is reported as CorruptBranch.
func (t *Transaction) Abandon() error {
	if t.finalized {
		return nil
	}
	t.finalized = true
	defer t.guard.Release()

	t.state.cachedMu.Lock()
	defer t.state.cachedMu.Unlock()

	if existing, ok := t.state.cached[t.id]; ok {
		if !existing.Branch.Extra.ConstantTimeEqual(&t.branch.Extra) {
			return corruptBranch(t.id, "cached advance extra key mismatch")
		}
	}

	t.state.cached[t.id] = AdvanceFailValue{
		Branch:        t.branch,
		ConsumedBerry: t.consumedBerry,
		Inserts:       t.inserts,
	}
	return nil
}

// Drop is the safety net for every exit path that did not explicitly
// Confirm or Forget: it abandons the transaction, recording any failure on
// the owning State's drop-error log instead of panicking, mirroring a
// Rust Drop implementation that cannot itself return an error. Callers
// should `defer tx.Drop()` immediately after a successful BeginAdvance.
func (t *Transaction) Drop() {
	if t.finalized {
		return
	}
	if err := t.Abandon(); err != nil {
		t.state.recordDropError(err)
	}
}
