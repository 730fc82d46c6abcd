package transport

import (
	"github.com/lexiqai/voice-chat/internal/conversation"
	"github.com/lexiqai/voice-chat/internal/session"
	"github.com/lexiqai/voice-chat/internal/speech"
)

// Message types sent by the browser
const (
	TypeHello             = "hello"
	TypeRecognitionResult = "recognition.result"
	TypeVoicesChanged     = "voices.changed"
	TypeLanguageSelect    = "language.select"
	TypeVoiceSelect       = "voice.select"
	TypeDetailOpen        = "detail.open"
)

// Message types sent to the browser
const (
	TypeSessionState     = "session.state"
	TypeTurnAppended     = "turn.appended"
	TypeTurnUpdated      = "turn.updated"
	TypeTranslationReady = "translation.ready"
	TypeRecognitionStart = "recognition.start"
	TypeRecognitionStop  = "recognition.stop"
	TypeSpeechSpeak      = "speech.speak"
	TypeSpeechCancel     = "speech.cancel"
	TypeError            = "error"
)

// Envelope is decoded first to route a text frame by its type.
type Envelope struct {
	Type string `json:"type"`
}

// Capabilities announces what the browser can do itself.
type Capabilities struct {
	Recognition bool `json:"recognition"`
	Synthesis   bool `json:"synthesis"`
}

// HelloMessage must be the first frame of a connection.
type HelloMessage struct {
	Type         string       `json:"type"`
	Capabilities Capabilities `json:"capabilities"`
	Language     string       `json:"language,omitempty"`
	SampleRate   int          `json:"sample_rate,omitempty"` // of binary PCM16 frames
}

// RecognitionResultMessage carries one result batch of a browser engine.
type RecognitionResultMessage struct {
	Type     string          `json:"type"`
	EngineID string          `json:"engine_id"`
	Results  []speech.Result `json:"results"`
}

type VoicesChangedMessage struct {
	Type   string         `json:"type"`
	Voices []speech.Voice `json:"voices"`
}

type LanguageSelectMessage struct {
	Type string `json:"type"`
	Code string `json:"code"`
}

type VoiceSelectMessage struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

type DetailOpenMessage struct {
	Type   string `json:"type"`
	TurnID string `json:"turn_id"`
}

// StateMessage flattens the session state next to its type.
type StateMessage struct {
	Type string `json:"type"`
	session.State
}

type TurnMessage struct {
	Type string            `json:"type"`
	Turn conversation.Turn `json:"turn"`
}

type TranslationMessage struct {
	Type   string `json:"type"`
	TurnID string `json:"turn_id"`
	Text   string `json:"text"`
}

type RecognitionStartMessage struct {
	Type       string `json:"type"`
	EngineID   string `json:"engine_id"`
	Language   string `json:"language"`
	Continuous bool   `json:"continuous"`
}

type RecognitionStopMessage struct {
	Type     string `json:"type"`
	EngineID string `json:"engine_id"`
}

// SpeakMessage asks the browser to speak. A null voice means the platform default.
type SpeakMessage struct {
	Type  string        `json:"type"`
	Text  string        `json:"text"`
	Voice *speech.Voice `json:"voice"`
	Rate  float64       `json:"rate"`
}

type CancelMessage struct {
	Type string `json:"type"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
