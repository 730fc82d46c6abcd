// Package voice keeps the synthesis voice selection of a session aligned with
// its active language.
package voice

import (
	"fmt"

	"github.com/lexiqai/voice-chat/internal/speech"
)

// Selector tracks the known voices and the current choice. The voice list is
// captured once, from the first non-empty announcement. Not safe for concurrent use.
type Selector struct {
	language string
	voices   []speech.Voice
	selected *speech.Voice
}

// NewSelector creates a selector for the given active language code.
func NewSelector(languageCode string) *Selector {
	return &Selector{language: languageCode}
}

// VoicesChanged handles a voice list announcement from the host. It returns
// true when the list was stored.
func (s *Selector) VoicesChanged(voices []speech.Voice) bool {
	if len(voices) == 0 || len(s.voices) > 0 {
		return false
	}

	s.voices = append([]speech.Voice(nil), voices...)
	s.selected = s.match(s.language)
	return true
}

// Pick selects a voice by name regardless of its language.
func (s *Selector) Pick(name string) error {
	for i := range s.voices {
		if s.voices[i].Name == name {
			v := s.voices[i]
			s.selected = &v
			return nil
		}
	}
	return fmt.Errorf("unknown voice %q", name)
}

// LanguageChanged switches the active language. An exact-match voice replaces
// the selection; otherwise the selection stays as it was.
func (s *Selector) LanguageChanged(code string) {
	s.language = code
	if v := s.match(code); v != nil {
		s.selected = v
	}
}

// Selected returns the chosen voice, or nil for the platform default.
func (s *Selector) Selected() *speech.Voice {
	if s.selected == nil {
		return nil
	}
	v := *s.selected
	return &v
}

// Voices returns the known voices.
func (s *Selector) Voices() []speech.Voice {
	return append([]speech.Voice(nil), s.voices...)
}

func (s *Selector) match(code string) *speech.Voice {
	for i := range s.voices {
		if s.voices[i].Lang == code {
			v := s.voices[i]
			return &v
		}
	}
	return nil
}
