// Package speech models the recognition and synthesis capabilities consumed by a
// voice chat session, and owns the continuous capture session built on them.
package speech

import (
	"errors"
	"strings"
)

// ErrUnavailable is returned when the host offers no such capability.
var ErrUnavailable = errors.New("speech capability unavailable")

// Alternative is one candidate transcript for an utterance.
type Alternative struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Result is one recognized utterance; Alternatives are ordered best first.
type Result struct {
	Final        bool          `json:"final"`
	Alternatives []Alternative `json:"alternatives"`
}

// ResultBatch is what a recognition engine delivers per event.
type ResultBatch struct {
	Results []Result `json:"results"`
}

// LatestFinal returns the best transcript of the most recently finalized result.
// Interim results after it are skipped; earlier finalized results are never used.
func (b ResultBatch) LatestFinal() (string, bool) {
	for i := len(b.Results) - 1; i >= 0; i-- {
		r := b.Results[i]
		if !r.Final {
			continue
		}
		if len(r.Alternatives) == 0 {
			return "", false
		}
		text := strings.TrimSpace(r.Alternatives[0].Transcript)
		return text, text != ""
	}
	return "", false
}

// RecognitionConfig configures one engine instance.
type RecognitionConfig struct {
	Language   string
	Continuous bool

	// OnError is called, from any goroutine, when an engine that connects in the
	// background is lost for good. May be nil.
	OnError func(error)
}

// Recognizer is the recognition capability provider.
type Recognizer interface {
	// Available reports whether the host can recognize speech at all.
	Available() bool

	// Open creates and starts an engine. onResult may be called from any goroutine
	// until Stop returns.
	Open(cfg RecognitionConfig, onResult func(ResultBatch)) (Engine, error)
}

// Engine is a running recognition engine.
type Engine interface {
	Stop() error
}

// Voice is a synthesis voice offered by the host.
type Voice struct {
	Name string `json:"name"`
	Lang string `json:"lang"`
}

// Utterance is a request to speak text. A nil Voice means the platform default.
type Utterance struct {
	Text  string
	Voice *Voice
	Rate  float64
}

// Synthesizer is the speech synthesis capability provider.
type Synthesizer interface {
	Available() bool
	Speak(u Utterance) error
	// Cancel stops every queued or speaking utterance.
	Cancel() error
}

// UnavailableRecognizer stands in when no recognition capability exists.
type UnavailableRecognizer struct{}

func (UnavailableRecognizer) Available() bool { return false }

func (UnavailableRecognizer) Open(RecognitionConfig, func(ResultBatch)) (Engine, error) {
	return nil, ErrUnavailable
}

// NopSynthesizer silently drops utterances; used when the host cannot speak.
type NopSynthesizer struct{}

func (NopSynthesizer) Available() bool { return false }

func (NopSynthesizer) Speak(Utterance) error { return nil }

func (NopSynthesizer) Cancel() error { return nil }
