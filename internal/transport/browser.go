package transport

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-chat/internal/speech"
)

// sender is the part of Client the browser capabilities need.
type sender interface {
	Send(msg interface{})
}

// BrowserRecognizer drives the browser's speech recognition engine remotely.
// Each engine gets an ID; results for unknown IDs come from stopped engines.
type BrowserRecognizer struct {
	client sender
	logger zerolog.Logger

	mu      sync.Mutex
	engines map[string]func(speech.ResultBatch)
}

func NewBrowserRecognizer(client sender, logger zerolog.Logger) *BrowserRecognizer {
	return &BrowserRecognizer{
		client:  client,
		logger:  logger,
		engines: make(map[string]func(speech.ResultBatch)),
	}
}

func (r *BrowserRecognizer) Available() bool { return true }

// Open asks the browser to start an engine.
func (r *BrowserRecognizer) Open(cfg speech.RecognitionConfig, onResult func(speech.ResultBatch)) (speech.Engine, error) {
	id := uuid.New().String()

	r.mu.Lock()
	r.engines[id] = onResult
	r.mu.Unlock()

	r.client.Send(RecognitionStartMessage{
		Type:       TypeRecognitionStart,
		EngineID:   id,
		Language:   cfg.Language,
		Continuous: cfg.Continuous,
	})
	return &browserEngine{recognizer: r, id: id}, nil
}

// Deliver routes a result batch to its engine. It reports false for unknown engines.
func (r *BrowserRecognizer) Deliver(engineID string, results []speech.Result) bool {
	r.mu.Lock()
	onResult, ok := r.engines[engineID]
	r.mu.Unlock()

	if !ok {
		r.logger.Debug().Str("engine_id", engineID).Msg("Result for unknown recognition engine")
		return false
	}
	onResult(speech.ResultBatch{Results: results})
	return true
}

type browserEngine struct {
	recognizer *BrowserRecognizer
	id         string
}

func (e *browserEngine) Stop() error {
	e.recognizer.mu.Lock()
	delete(e.recognizer.engines, e.id)
	e.recognizer.mu.Unlock()

	e.recognizer.client.Send(RecognitionStopMessage{Type: TypeRecognitionStop, EngineID: e.id})
	return nil
}

// BrowserSynthesizer forwards utterances to the browser's speech synthesis.
type BrowserSynthesizer struct {
	client sender
}

func NewBrowserSynthesizer(client sender) *BrowserSynthesizer {
	return &BrowserSynthesizer{client: client}
}

func (s *BrowserSynthesizer) Available() bool { return true }

func (s *BrowserSynthesizer) Speak(u speech.Utterance) error {
	s.client.Send(SpeakMessage{Type: TypeSpeechSpeak, Text: u.Text, Voice: u.Voice, Rate: u.Rate})
	return nil
}

func (s *BrowserSynthesizer) Cancel() error {
	s.client.Send(CancelMessage{Type: TypeSpeechCancel})
	return nil
}
