package transcript

import "testing"

func TestDeriveIsDeterministic(t *testing.T) {
	e1 := New("test/derive")
	e1.Mix("input", []byte("hello"))
	out1 := e1.Derive("output", 32)

	e2 := New("test/derive")
	e2.Mix("input", []byte("hello"))
	out2 := e2.Derive("output", 32)

	if string(out1) != string(out2) {
		t.Error("Derive is not deterministic given identical transcripts")
	}
}

func TestDifferentLabelsDiverge(t *testing.T) {
	e1 := New("test/label-a")
	e1.Mix("input", []byte("hello"))
	out1 := e1.Derive("output", 32)

	e2 := New("test/label-b")
	e2.Mix("input", []byte("hello"))
	out2 := e2.Derive("output", 32)

	if string(out1) == string(out2) {
		t.Error("different init labels produced identical output")
	}
}

func TestDifferentMixedDataDiverges(t *testing.T) {
	e1 := New("test/mix")
	e1.Mix("input", []byte("hello"))
	out1 := e1.Derive("output", 32)

	e2 := New("test/mix")
	e2.Mix("input", []byte("world"))
	out2 := e2.Derive("output", 32)

	if string(out1) == string(out2) {
		t.Error("different mixed data produced identical output")
	}
}

func TestDeriveCannotBeReplayed(t *testing.T) {
	e := New("test/replay")
	e.Mix("input", []byte("hello"))

	out1 := e.Derive("output", 32)
	out2 := e.Derive("output", 32)

	if string(out1) == string(out2) {
		t.Error("deriving twice from the same engine produced identical output")
	}
}

func TestRatchetChangesFutureOutput(t *testing.T) {
	e1 := New("test/ratchet")
	e1.Mix("input", []byte("hello"))
	e1.Ratchet("advance")
	out1 := e1.Derive("output", 32)

	e2 := New("test/ratchet")
	e2.Mix("input", []byte("hello"))
	out2 := e2.Derive("output", 32)

	if string(out1) == string(out2) {
		t.Error("ratcheting did not change subsequent derived output")
	}
}

func TestForkNProducesIndependentBranches(t *testing.T) {
	e := New("test/fork")
	e.Mix("input", []byte("hello"))

	clones := e.ForkN("children", []byte("a"), []byte("b"), []byte("c"))
	if len(clones) != 3 {
		t.Fatalf("ForkN returned %d clones, want 3", len(clones))
	}

	seen := make(map[string]bool)
	for _, c := range clones {
		out := string(c.Derive("output", 16))
		if seen[out] {
			t.Error("two fork branches produced identical output")
		}
		seen[out] = true
	}
}

func TestForkNAdvancesParent(t *testing.T) {
	e1 := New("test/fork-advance")
	e1.Mix("input", []byte("hello"))
	clone := e1.Clone()

	e1.ForkN("children", []byte("a"))
	out1 := e1.Derive("output", 32)
	out2 := clone.Derive("output", 32)

	if string(out1) == string(out2) {
		t.Error("forking should have advanced the parent transcript away from an identical unforked clone")
	}
}

func TestCloneEvolvesIndependently(t *testing.T) {
	e := New("test/clone")
	e.Mix("input", []byte("hello"))

	clone := e.Clone()
	clone.Mix("extra", []byte("only in clone"))

	outOrig := e.Derive("output", 32)
	outClone := clone.Derive("output", 32)

	if string(outOrig) == string(outClone) {
		t.Error("clone and original produced identical output after diverging")
	}
}
