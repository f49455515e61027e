package ratchet

import (
	"errors"
	"testing"
)

func TestCreateInitialBranchPersists(t *testing.T) {
	st := NewState()
	id, branch, twigID, trainKey, err := CreateInitialBranch(st, []byte("seed material"))
	if err != nil {
		t.Fatalf("CreateInitialBranch: %v", err)
	}

	got, ok := st.Branches.Get(id)
	if !ok {
		t.Fatal("branch missing after CreateInitialBranch")
	}
	if got != branch {
		t.Errorf("got %+v, want %+v", got, branch)
	}

	tk, ok := st.Twigs.Get(twigID)
	if !ok {
		t.Fatal("train twig missing after CreateInitialBranch")
	}
	if tk != TwigKey(trainKey) {
		t.Error("persisted train key does not match returned train key")
	}

	parentID, err := st.ParentId(branch.childFamilyName())
	if err != nil {
		t.Fatalf("ParentId: %v", err)
	}
	if parentID != id {
		t.Error("parent map does not point back at the new branch")
	}
}

func TestLockBranchIdExcludesConcurrentAcquire(t *testing.T) {
	st := NewState()
	var id BranchId
	id.Family[0] = 1

	guard, err := LockBranchId(st, id)
	if err != nil {
		t.Fatalf("first lock: %v", err)
	}

	_, err = LockBranchId(st, id)
	if !errors.Is(err, errBranchAlreadyLocked) {
		t.Fatalf("second lock: got %v, want errBranchAlreadyLocked", err)
	}

	guard.Release()

	guard2, err := LockBranchId(st, id)
	if err != nil {
		t.Fatalf("lock after release: %v", err)
	}
	guard2.Release()
}

func TestReleaseIsIdempotent(t *testing.T) {
	st := NewState()
	var id BranchId
	id.Family[0] = 2

	guard, err := LockBranchId(st, id)
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	guard.Release()
	guard.Release() // must not panic or double-unlock someone else's lock

	if _, err := LockBranchId(st, id); err != nil {
		t.Fatalf("lock after double release: %v", err)
	}
}

func TestParentIdMissing(t *testing.T) {
	st := NewState()
	var name BranchName
	if _, err := st.ParentId(name); !errors.Is(err, errMissingParent) {
		t.Errorf("got %v, want errMissingParent", err)
	}
}
