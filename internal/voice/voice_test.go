package voice

import (
	"testing"

	"github.com/lexiqai/voice-chat/internal/speech"
)

var testVoices = []speech.Voice{
	{Name: "A", Lang: "en-US"},
	{Name: "B", Lang: "de-DE"},
}

func TestSelector_DefaultMatchesLanguage(t *testing.T) {
	s := NewSelector("de-DE")

	if !s.VoicesChanged(testVoices) {
		t.Fatal("Expected voice list to be stored")
	}

	selected := s.Selected()
	if selected == nil || selected.Name != "B" {
		t.Errorf("Expected voice B, got %v", selected)
	}
}

func TestSelector_NoMatchLeavesUnset(t *testing.T) {
	s := NewSelector("fr-FR")
	s.VoicesChanged(testVoices)

	if s.Selected() != nil {
		t.Errorf("Expected no voice selected, got %v", s.Selected())
	}
	if len(s.Voices()) != 2 {
		t.Errorf("Expected 2 known voices, got %d", len(s.Voices()))
	}
}

func TestSelector_IgnoresEmptyAndLaterLists(t *testing.T) {
	s := NewSelector("de-DE")

	if s.VoicesChanged(nil) {
		t.Error("Expected empty list to be ignored")
	}
	if !s.VoicesChanged(testVoices) {
		t.Fatal("Expected first non-empty list to be stored")
	}
	if s.VoicesChanged([]speech.Voice{{Name: "C", Lang: "de-DE"}}) {
		t.Error("Expected later lists to be ignored")
	}
	if s.Selected().Name != "B" {
		t.Errorf("Expected selection to remain B, got %s", s.Selected().Name)
	}
}

func TestSelector_PickOverrides(t *testing.T) {
	s := NewSelector("de-DE")
	s.VoicesChanged(testVoices)

	if err := s.Pick("A"); err != nil {
		t.Fatalf("Pick() failed: %v", err)
	}
	if s.Selected().Name != "A" {
		t.Errorf("Expected manual choice A, got %s", s.Selected().Name)
	}

	if err := s.Pick("Z"); err == nil {
		t.Error("Expected error for unknown voice")
	}
	if s.Selected().Name != "A" {
		t.Errorf("Expected selection unchanged after failed pick, got %s", s.Selected().Name)
	}
}

func TestSelector_LanguageChanged(t *testing.T) {
	s := NewSelector("de-DE")
	s.VoicesChanged(testVoices)

	s.LanguageChanged("en-US")
	if s.Selected().Name != "A" {
		t.Errorf("Expected exact match A to replace selection, got %s", s.Selected().Name)
	}

	s.LanguageChanged("de-CH")
	if s.Selected() == nil || s.Selected().Name != "A" {
		t.Errorf("Expected selection unchanged without match, got %v", s.Selected())
	}
}

func TestSelector_LanguageChangedBeforeVoices(t *testing.T) {
	s := NewSelector("de-DE")
	s.LanguageChanged("en-US")
	s.VoicesChanged(testVoices)

	if s.Selected().Name != "A" {
		t.Errorf("Expected default for the current language, got %v", s.Selected())
	}
}

func TestSelector_SelectedIsCopy(t *testing.T) {
	s := NewSelector("de-DE")
	s.VoicesChanged(testVoices)

	v := s.Selected()
	v.Name = "mutated"
	if s.Selected().Name != "B" {
		t.Errorf("Expected stored selection to be unaffected, got %s", s.Selected().Name)
	}
}
