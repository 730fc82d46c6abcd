// Package transport connects browsers to voice chat sessions over WebSocket and
// exposes the HTTP routes of the service.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-chat/internal/completion"
	"github.com/lexiqai/voice-chat/internal/config"
	"github.com/lexiqai/voice-chat/internal/language"
	"github.com/lexiqai/voice-chat/internal/observability"
	"github.com/lexiqai/voice-chat/internal/session"
	"github.com/lexiqai/voice-chat/internal/speech"
)

const helloTimeout = 10 * time.Second

var errHelloRequired = errors.New("first message must be hello")

// Handler upgrades /ws/chat requests and runs one session per connection.
type Handler struct {
	config   *config.Config
	provider completion.Provider
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// NewHandler creates the WebSocket handler.
func NewHandler(cfg *config.Config, provider completion.Provider, logger zerolog.Logger) *Handler {
	return &Handler{
		config:   cfg,
		provider: provider,
		upgrader: websocket.Upgrader{
			CheckOrigin:     originChecker(cfg.AllowedOrigins),
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		logger: logger.With().Str("component", "transport").Logger(),
	}
}

// connection groups what the read loop dispatches to
type connection struct {
	conn     *websocket.Conn
	client   *Client
	session  *session.Session
	browser  *BrowserRecognizer
	deepgram *speech.DeepgramRecognizer
	logger   zerolog.Logger
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client
		h.logger.Warn().Err(err).Msg("Failed to upgrade connection to WebSocket")
		observability.RecordError("upgrade_failed", "transport")
		return
	}

	sessionID := uuid.New().String()
	logger := observability.SessionLogger(sessionID, r.Header.Get("X-Correlation-ID"))

	client := newClient(conn, logger)
	go client.writePump()
	defer client.Close()

	hello, err := readHello(conn)
	if err != nil {
		logger.Warn().Err(err).Msg("Handshake failed")
		client.Send(ErrorMessage{Type: TypeError, Message: err.Error()})
		return
	}

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	lang := h.languageFor(hello, client)
	c := &connection{conn: conn, client: client, logger: logger}

	var recognizer speech.Recognizer
	switch {
	case hello.Capabilities.Recognition:
		c.browser = NewBrowserRecognizer(client, logger)
		recognizer = c.browser
	case h.config.DeepgramEnabled():
		cfg := *h.config
		if hello.SampleRate > 0 {
			cfg.DeepgramSampleRate = hello.SampleRate
		}
		c.deepgram = speech.NewDeepgramRecognizer(&cfg, logger)
		recognizer = c.deepgram
	}

	var synthesizer speech.Synthesizer = speech.NopSynthesizer{}
	if hello.Capabilities.Synthesis {
		synthesizer = NewBrowserSynthesizer(client)
	}

	c.session = session.New(session.Options{
		ID:                sessionID,
		Language:          lang,
		Recognizer:        recognizer,
		Synthesizer:       synthesizer,
		Provider:          h.provider,
		View:              clientView{client: client},
		SpeechRate:        h.config.SpeechRate,
		TranslationTarget: h.config.TranslationTarget,
		HistoryLimit:      h.config.HistoryLimit,
		CompletionTimeout: time.Duration(h.config.CompletionTimeout) * time.Second,
		Logger:            logger,
		Metrics:           observability.NewSessionMetrics(sessionID),
	})

	logger.Info().
		Bool("browser_recognition", hello.Capabilities.Recognition).
		Bool("server_recognition", c.deepgram != nil).
		Bool("synthesis", hello.Capabilities.Synthesis).
		Msg("Voice chat connection established")

	ctx, cancel := context.WithCancel(context.Background())
	go c.session.Run(ctx)

	c.readLoop()

	cancel()
	<-c.session.Done()
}

// languageFor resolves the requested language, falling back to the configured default.
func (h *Handler) languageFor(hello HelloMessage, client *Client) language.Definition {
	if hello.Language == "" {
		return language.Default(h.config.DefaultLanguage)
	}
	if def, ok := language.Lookup(hello.Language); ok {
		return def
	}
	client.Send(ErrorMessage{
		Type:    TypeError,
		Message: fmt.Sprintf("%v: %s", session.ErrUnknownLanguage, hello.Language),
	})
	return language.Default(h.config.DefaultLanguage)
}

func readHello(conn *websocket.Conn) (HelloMessage, error) {
	_ = conn.SetReadDeadline(time.Now().Add(helloTimeout))

	mt, data, err := conn.ReadMessage()
	if err != nil {
		return HelloMessage{}, fmt.Errorf("read hello: %w", err)
	}
	if mt != websocket.TextMessage {
		return HelloMessage{}, errHelloRequired
	}

	var hello HelloMessage
	if err := json.Unmarshal(data, &hello); err != nil {
		return HelloMessage{}, fmt.Errorf("decode hello: %w", err)
	}
	if hello.Type != TypeHello {
		return HelloMessage{}, errHelloRequired
	}
	return hello, nil
}

func (c *connection) readLoop() {
	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn().Err(err).Msg("WebSocket read error")
			}
			return
		}

		if mt == websocket.BinaryMessage {
			c.handleAudio(data)
			continue
		}
		if err := c.dispatch(data); err != nil {
			c.logger.Debug().Err(err).Msg("Rejected client message")
			c.client.Send(ErrorMessage{Type: TypeError, Message: err.Error()})
		}
	}
}

func (c *connection) handleAudio(pcm []byte) {
	if c.deepgram == nil {
		return
	}
	if err := c.deepgram.SendAudio(pcm); err != nil {
		c.logger.Debug().Err(err).Msg("Error forwarding audio")
		observability.RecordError("audio_forward_error", "deepgram")
	}
}

func (c *connection) dispatch(data []byte) error {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("invalid message: %w", err)
	}

	switch env.Type {
	case TypeRecognitionResult:
		var msg RecognitionResultMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return fmt.Errorf("invalid %s: %w", env.Type, err)
		}
		if c.browser != nil {
			c.browser.Deliver(msg.EngineID, msg.Results)
		}

	case TypeVoicesChanged:
		var msg VoicesChangedMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return fmt.Errorf("invalid %s: %w", env.Type, err)
		}
		c.session.UpdateVoices(msg.Voices)

	case TypeLanguageSelect:
		var msg LanguageSelectMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return fmt.Errorf("invalid %s: %w", env.Type, err)
		}
		c.session.SelectLanguage(strings.TrimSpace(msg.Code))

	case TypeVoiceSelect:
		var msg VoiceSelectMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return fmt.Errorf("invalid %s: %w", env.Type, err)
		}
		c.session.SelectVoice(msg.Name)

	case TypeDetailOpen:
		var msg DetailOpenMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return fmt.Errorf("invalid %s: %w", env.Type, err)
		}
		c.session.OpenDetail(msg.TurnID)

	case TypeHello:
		return fmt.Errorf("duplicate hello")

	default:
		return fmt.Errorf("unknown message type %q", env.Type)
	}
	return nil
}

// originChecker allows requests without an Origin header and those whose
// origin is listed; "*" allows any.
func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			a = strings.TrimSpace(a)
			if a == "*" || strings.EqualFold(a, origin) {
				return true
			}
		}
		return false
	}
}
