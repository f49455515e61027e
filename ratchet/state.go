package ratchet

import (
	"sync"
)

// BranchStorage, ParentStorage, and TwigStorage are the three maps backing a
// node's ratchet state. Implementations must be safe for concurrent use;
// State adds no locking around them. The in-memory Map implementations below
// each guard their map with their own RWMutex, held for a single call.
type BranchStorage interface {
	Get(BranchId) (Branch, bool)
	Insert(BranchId, Branch)
}

type ParentStorage interface {
	Get(BranchName) (BranchId, bool)
	Insert(BranchName, BranchId)
}

type TwigStorage interface {
	Get(TwigId) (TwigKey, bool)
	Insert(TwigId, TwigKey)
	Remove(TwigId)
}

// MapBranchStorage is an in-memory BranchStorage, grounded on the original
// HashMapStorage<BranchId,Branch>.
type MapBranchStorage struct {
	mu sync.RWMutex
	m  map[BranchId]Branch
}

func NewMapBranchStorage() *MapBranchStorage {
	return &MapBranchStorage{m: make(map[BranchId]Branch)}
}

func (s *MapBranchStorage) Get(id BranchId) (Branch, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.m[id]
	return b, ok
}

func (s *MapBranchStorage) Insert(id BranchId, b Branch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[id] = b
}

// MapParentStorage is an in-memory ParentStorage.
type MapParentStorage struct {
	mu sync.RWMutex
	m  map[BranchName]BranchId
}

func NewMapParentStorage() *MapParentStorage {
	return &MapParentStorage{m: make(map[BranchName]BranchId)}
}

func (s *MapParentStorage) Get(name BranchName) (BranchId, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.m[name]
	return id, ok
}

func (s *MapParentStorage) Insert(name BranchName, id BranchId) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[name] = id
}

// MapTwigStorage is an in-memory TwigStorage.
type MapTwigStorage struct {
	mu sync.RWMutex
	m  map[TwigId]TwigKey
}

func NewMapTwigStorage() *MapTwigStorage {
	return &MapTwigStorage{m: make(map[TwigId]TwigKey)}
}

func (s *MapTwigStorage) Get(id TwigId) (TwigKey, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.m[id]
	return k, ok
}

func (s *MapTwigStorage) Insert(id TwigId, k TwigKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[id] = k
}

func (s *MapTwigStorage) Remove(id TwigId) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, id)
}

// AdvanceFailValue is a cached record of a failed advance transaction's
// computed-but-unconfirmed work. Nothing in this package reads it back: a
// later BeginAdvance recomputes its twigs, and the branch's next Confirm
// deletes the entry.
type AdvanceFailValue struct {
	Branch        Branch
	ConsumedBerry *TwigId
	Inserts       map[TwigIdx]TwigState
}

// State is one issuer's complete ratchet state: the three storage maps, the
// set of in-flight branch locks, the anti-DoS cache of failed advances, and
// a log of errors encountered while dropping an in-flight transaction.
type State struct {
	Branches BranchStorage
	Parents  ParentStorage
	Twigs    TwigStorage

	lockedMu sync.Mutex
	locked   map[BranchId]struct{}

	cachedMu sync.Mutex
	cached   map[BranchId]AdvanceFailValue

	dropErrorsMu sync.Mutex
	dropErrors   []error
}

// NewState returns a State backed by in-memory maps.
func NewState() *State {
	return NewStateWith(NewMapBranchStorage(), NewMapParentStorage(), NewMapTwigStorage())
}

// NewStateWith returns a State backed by the given storage implementations,
// for callers (such as a persistent store) that supply their own.
func NewStateWith(branches BranchStorage, parents ParentStorage, twigs TwigStorage) *State {
	return &State{
		Branches: branches,
		Parents:  parents,
		Twigs:    twigs,
		locked:   make(map[BranchId]struct{}),
		cached:   make(map[BranchId]AdvanceFailValue),
	}
}

// ParentId looks up the branch identified as the parent of family.
func (st *State) ParentId(family BranchName) (BranchId, error) {
	id, ok := st.Parents.Get(family)
	if !ok {
		return BranchId{}, missingParent(family)
	}
	return id, nil
}

// DropErrors returns the errors recorded while releasing guards whose
// cleanup itself failed, rather than panicking.
func (st *State) DropErrors() []error {
	st.dropErrorsMu.Lock()
	defer st.dropErrorsMu.Unlock()
	return append([]error(nil), st.dropErrors...)
}

func (st *State) recordDropError(err error) {
	st.dropErrorsMu.Lock()
	defer st.dropErrorsMu.Unlock()
	st.dropErrors = append(st.dropErrors, err)
}

// BranchIdGuard is a scoped, non-blocking acquisition of the right to mutate
// one branch. Release unlocks it on every exit path.
type BranchIdGuard struct {
	state    *State
	id       BranchId
	released bool
}

// LockBranchId acquires the lock for id, failing immediately (never
// blocking) if another transaction already holds it.
func LockBranchId(state *State, id BranchId) (*BranchIdGuard, error) {
	state.lockedMu.Lock()
	defer state.lockedMu.Unlock()

	if _, ok := state.locked[id]; ok {
		return nil, branchAlreadyLocked(id)
	}
	state.locked[id] = struct{}{}
	return &BranchIdGuard{state: state, id: id}, nil
}

// Release unlocks the branch identifier. It is safe to call more than once;
// only the first call has an effect. Release cannot fail and never panics,
// mirroring the original's panic-free Drop implementation.
func (g *BranchIdGuard) Release() {
	if g == nil {
		return
	}
	g.state.lockedMu.Lock()
	defer g.state.lockedMu.Unlock()
	if g.released {
		return
	}
	g.released = true
	delete(g.state.locked, g.id)
}

// ID returns the guarded branch identifier.
func (g *BranchIdGuard) ID() BranchId { return g.id }

// Family returns the guarded branch's family name.
func (g *BranchIdGuard) Family() BranchName { return g.id.Family }

// Berry returns the berry index that spawned the guarded branch.
func (g *BranchIdGuard) Berry() TwigIdx { return g.id.Berry }

// GetTwig retrieves an unspecified twig type from storage.
func (g *BranchIdGuard) GetTwig(id TwigId) (TwigState, error) {
	k, ok := g.state.Twigs.Get(id)
	if !ok {
		return TwigState{}, missingTwig(id)
	}
	return NewTwigState(k), nil
}

// CreateInitialBranch inserts a branch derived from a messaging-layer key
// exchange with no transaction required; only this function and
// Transaction.Confirm may write to a State's branches/parents/twigs maps.
func CreateInitialBranch(state *State, seed []byte) (BranchId, Branch, TwigId, TrainKey, error) {
	id, branch, tk := NewBranchFromSeed(seed)
	tid := TwigId{Branch: id, Idx: TrainStart}

	guard, err := LockBranchId(state, id)
	if err != nil {
		return BranchId{}, Branch{}, TwigId{}, TrainKey{}, err
	}
	defer guard.Release()

	state.Branches.Insert(id, branch)
	state.Parents.Insert(branch.childFamilyName(), id)
	state.Twigs.Insert(tid, TwigKey(tk))

	return id, branch, tid, tk, nil
}
