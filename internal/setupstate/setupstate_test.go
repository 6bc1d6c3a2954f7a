package setupstate

import (
	"path/filepath"
	"testing"
)

func TestMarkIsClearBlockedRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "setup_state.json")

	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := s.IsBlocked("obl-1"); ok {
		t.Fatal("expected fresh store to report not blocked")
	}

	if err := s.MarkBlocked("obl-1", "insufficient-rent", 1000); err != nil {
		t.Fatalf("MarkBlocked: %v", err)
	}
	entry, ok := s.IsBlocked("obl-1")
	if !ok || entry.Reason != "insufficient-rent" || entry.AtMs != 1000 {
		t.Fatalf("unexpected blocked entry: %+v, ok=%v", entry, ok)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if _, ok := reloaded.IsBlocked("obl-1"); !ok {
		t.Fatal("expected reloaded store to still report blocked")
	}

	if err := s.ClearBlocked("obl-1"); err != nil {
		t.Fatalf("ClearBlocked: %v", err)
	}
	if _, ok := s.IsBlocked("obl-1"); ok {
		t.Fatal("expected cleared key to no longer be blocked")
	}
}
