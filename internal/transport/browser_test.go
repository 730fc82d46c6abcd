package transport

import (
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-chat/internal/speech"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []interface{}
}

func (s *recordingSender) Send(msg interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
}

func TestBrowserRecognizer_Lifecycle(t *testing.T) {
	out := &recordingSender{}
	r := NewBrowserRecognizer(out, zerolog.Nop())

	var got []speech.ResultBatch
	engine, err := r.Open(speech.RecognitionConfig{Language: "de-DE", Continuous: true}, func(b speech.ResultBatch) {
		got = append(got, b)
	})
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}

	start, ok := out.sent[0].(RecognitionStartMessage)
	if !ok {
		t.Fatalf("Expected RecognitionStartMessage, got %T", out.sent[0])
	}
	if start.Language != "de-DE" || !start.Continuous {
		t.Errorf("Unexpected start message: %+v", start)
	}

	results := []speech.Result{{Final: true, Alternatives: []speech.Alternative{{Transcript: "Hallo"}}}}
	if !r.Deliver(start.EngineID, results) {
		t.Error("Expected delivery to the open engine")
	}
	if len(got) != 1 {
		t.Fatalf("Expected 1 batch, got %d", len(got))
	}

	if err := engine.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	stop, ok := out.sent[1].(RecognitionStopMessage)
	if !ok || stop.EngineID != start.EngineID {
		t.Errorf("Expected stop for %s, got %+v", start.EngineID, out.sent[1])
	}

	if r.Deliver(start.EngineID, results) {
		t.Error("Expected results of a stopped engine to be rejected")
	}
	if len(got) != 1 {
		t.Errorf("Expected no further batches, got %d", len(got))
	}
}

func TestBrowserSynthesizer(t *testing.T) {
	out := &recordingSender{}
	s := NewBrowserSynthesizer(out)

	voice := &speech.Voice{Name: "B", Lang: "de-DE"}
	_ = s.Speak(speech.Utterance{Text: "Mir geht es gut", Voice: voice, Rate: 1.2})
	_ = s.Cancel()

	speak, ok := out.sent[0].(SpeakMessage)
	if !ok || speak.Text != "Mir geht es gut" || speak.Voice.Name != "B" || speak.Rate != 1.2 {
		t.Errorf("Unexpected speak message: %+v", out.sent[0])
	}
	if _, ok := out.sent[1].(CancelMessage); !ok {
		t.Errorf("Expected CancelMessage, got %T", out.sent[1])
	}
}
