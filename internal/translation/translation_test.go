package translation

import "testing"

func TestPrompt(t *testing.T) {
	got := Prompt("German (Germany)", "English", "Mir geht es gut")
	expected := `Translate the following German (Germany) text to English: "Mir geht es gut"`
	if got != expected {
		t.Errorf("Expected %q, got %q", expected, got)
	}
}

func TestCache_OpenRequestsOnce(t *testing.T) {
	c := NewCache()

	entry, action := c.Open("turn-1", "Mir geht es gut")
	if action != ActionRequest {
		t.Fatalf("Expected ActionRequest on first open, got %v", action)
	}
	if entry.State != StatePending || entry.SourceText != "Mir geht es gut" {
		t.Errorf("Expected pending entry for source text, got %+v", entry)
	}

	if _, action := c.Open("turn-1", "Mir geht es gut"); action != ActionNone {
		t.Errorf("Expected ActionNone while pending, got %v", action)
	}
}

func TestCache_CompleteThenCached(t *testing.T) {
	c := NewCache()
	c.Open("turn-1", "Mir geht es gut")

	entry, err := c.Complete("turn-1", "I'm doing well")
	if err != nil {
		t.Fatalf("Complete() failed: %v", err)
	}
	if entry.State != StateReady || entry.TargetText != "I'm doing well" {
		t.Errorf("Expected ready entry, got %+v", entry)
	}

	for i := 0; i < 3; i++ {
		entry, action := c.Open("turn-1", "Mir geht es gut")
		if action != ActionCached {
			t.Errorf("Expected ActionCached on reopen, got %v", action)
		}
		if entry.TargetText != "I'm doing well" {
			t.Errorf("Expected cached text, got %q", entry.TargetText)
		}
	}
}

func TestCache_FailAllowsRetry(t *testing.T) {
	c := NewCache()
	c.Open("turn-1", "Hallo")

	if err := c.Fail("turn-1"); err != nil {
		t.Fatalf("Fail() failed: %v", err)
	}
	entry, ok := c.Entry("turn-1")
	if !ok || entry.State != StateIdle {
		t.Errorf("Expected idle entry after failure, got %+v", entry)
	}

	if _, action := c.Open("turn-1", "Hallo"); action != ActionRequest {
		t.Errorf("Expected retry after failure, got %v", action)
	}
}

func TestCache_CompleteRequiresPending(t *testing.T) {
	c := NewCache()

	if _, err := c.Complete("missing", "x"); err == nil {
		t.Error("Expected error completing an unknown turn")
	}

	c.Open("turn-1", "Hallo")
	_, _ = c.Complete("turn-1", "Hello")
	if _, err := c.Complete("turn-1", "Hi"); err == nil {
		t.Error("Expected error completing a ready entry")
	}
	if err := c.Fail("turn-1"); err == nil {
		t.Error("Expected error failing a ready entry")
	}
}

func TestCache_EntriesPerTurn(t *testing.T) {
	c := NewCache()
	c.Open("a", "eins")
	c.Open("b", "zwei")

	if c.Len() != 2 {
		t.Errorf("Expected 2 entries, got %d", c.Len())
	}
	if _, ok := c.Entry("c"); ok {
		t.Error("Expected no entry for an unopened turn")
	}
}

func TestState_String(t *testing.T) {
	names := map[State]string{StateIdle: "idle", StatePending: "pending", StateReady: "ready", State(7): "unknown"}
	for s, want := range names {
		if s.String() != want {
			t.Errorf("Expected %q, got %q", want, s.String())
		}
	}
}
