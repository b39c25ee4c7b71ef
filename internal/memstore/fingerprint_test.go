package memstore

import (
	"testing"

	"github.com/haasonsaas/agentengine/internal/types"
)

func TestFingerprintIsNoneBeforeAnyWrite(t *testing.T) {
	s := New(Options{DataRoot: t.TempDir()})
	if got := s.Fingerprint(); got != "none" {
		t.Fatalf("expected %q before memory.json exists, got %q", "none", got)
	}
}

func TestFingerprintChangesAfterWrite(t *testing.T) {
	s := New(Options{DataRoot: t.TempDir()})

	if _, err := s.AddEntry("remember this", types.CategoryFacts, 0.5, "test", nil, true); err != nil {
		t.Fatalf("AddEntry: %v", err)
	}
	first := s.Fingerprint()
	if first == "none" {
		t.Fatal("expected a real fingerprint after the first write")
	}

	if _, err := s.AddEntry("remember this too", types.CategoryFacts, 0.5, "test", nil, true); err != nil {
		t.Fatalf("AddEntry: %v", err)
	}
	second := s.Fingerprint()
	if second == first {
		t.Fatal("expected the fingerprint to change after a second write (mtime advanced)")
	}
}
