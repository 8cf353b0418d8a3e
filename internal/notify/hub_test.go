package notify

import "testing"

func TestChangedCoalesces(t *testing.T) {
	h := NewHub()

	// A burst of signals never blocks and collapses into one wake-up.
	for i := 0; i < 10; i++ {
		h.Changed(FamilyEntries)
	}

	select {
	case <-h.C(FamilyEntries):
	default:
		t.Fatal("expected a pending signal")
	}
	select {
	case <-h.C(FamilyEntries):
		t.Fatal("burst was not coalesced")
	default:
	}
}

func TestFamiliesAreIndependent(t *testing.T) {
	h := NewHub()

	h.Changed(FamilyTags)

	select {
	case <-h.C(FamilyEntries):
		t.Fatal("entries signal from a tags change")
	default:
	}
	select {
	case <-h.C(FamilyTags):
	default:
		t.Fatal("expected a tags signal")
	}
}

func TestChangedUnknownFamilyIsNoop(t *testing.T) {
	h := NewHub()
	h.Changed(Family("bogus"))
}
