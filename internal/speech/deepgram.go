package speech

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-chat/internal/audio"
	"github.com/lexiqai/voice-chat/internal/config"
	"github.com/lexiqai/voice-chat/internal/observability"
	"github.com/lexiqai/voice-chat/internal/resilience"
)

const (
	deepgramSampleRate = 8000
	// About two seconds of μ-law audio kept while connecting
	deepgramBacklogBytes = 2 * deepgramSampleRate
)

// ErrEngineLost is reported when a Deepgram engine cannot be (re)connected.
var ErrEngineLost = errors.New("deepgram engine lost")

// engineCallbacks routes SDK callbacks to the engine. Every callback is
// implemented so the SDK's default handler never prints to stdout.
type engineCallbacks struct {
	engine *deepgramEngine
}

func (c engineCallbacks) Open(*msginterfaces.OpenResponse) error {
	c.engine.logger.Debug().Msg("Deepgram socket open")
	return nil
}

func (c engineCallbacks) Message(mr *msginterfaces.MessageResponse) error {
	c.engine.handleMessage(mr)
	return nil
}

func (c engineCallbacks) Metadata(md *msginterfaces.MetadataResponse) error {
	if md != nil {
		c.engine.logger.Debug().Str("request_id", md.RequestID).Msg("Deepgram metadata")
	}
	return nil
}

func (c engineCallbacks) SpeechStarted(*msginterfaces.SpeechStartedResponse) error {
	return nil
}

func (c engineCallbacks) UtteranceEnd(*msginterfaces.UtteranceEndResponse) error {
	c.engine.flushUtterance()
	return nil
}

func (c engineCallbacks) Close(*msginterfaces.CloseResponse) error {
	c.engine.logger.Debug().Msg("Deepgram socket closed")
	return nil
}

func (c engineCallbacks) Error(er *msginterfaces.ErrorResponse) error {
	c.engine.handleError(er)
	return nil
}

func (c engineCallbacks) UnhandledEvent(data []byte) error {
	c.engine.logger.Debug().Int("bytes", len(data)).Msg("Unhandled Deepgram event")
	return nil
}

// DeepgramRecognizer is a server-side recognition capability. The browser
// streams raw PCM16 audio which is forwarded to Deepgram's live API.
// One recognizer serves one voice chat session.
type DeepgramRecognizer struct {
	config *config.Config
	logger zerolog.Logger

	mu     sync.Mutex
	active *deepgramEngine
}

// NewDeepgramRecognizer creates a recognizer for one session.
func NewDeepgramRecognizer(cfg *config.Config, logger zerolog.Logger) *DeepgramRecognizer {
	return &DeepgramRecognizer{
		config: cfg,
		logger: logger.With().Str("component", "deepgram").Logger(),
	}
}

// Available reports whether a Deepgram key is configured.
func (r *DeepgramRecognizer) Available() bool {
	return r.config.DeepgramEnabled()
}

// Open returns an engine for cfg.Language at once and connects it in the
// background. Audio sent before the socket is up is backlogged. If the engine
// cannot connect, cfg.OnError is called.
func (r *DeepgramRecognizer) Open(cfg RecognitionConfig, onResult func(ResultBatch)) (Engine, error) {
	if !r.Available() {
		return nil, ErrUnavailable
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active != nil {
		return nil, fmt.Errorf("deepgram engine already open for %s", r.active.language)
	}

	engine := newDeepgramEngine(r, cfg.Language, onResult)
	engine.onError = cfg.OnError
	r.active = engine

	go engine.establish()
	return engine, nil
}

// SendAudio forwards browser PCM16 audio to the open engine. Audio arriving
// while no engine is open is discarded.
func (r *DeepgramRecognizer) SendAudio(pcm []byte) error {
	r.mu.Lock()
	engine := r.active
	r.mu.Unlock()

	if engine == nil {
		return nil
	}
	return engine.sendAudio(pcm)
}

func (r *DeepgramRecognizer) release(e *deepgramEngine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == e {
		r.active = nil
	}
}

// deepgramEngine is one live transcription connection bound to a language.
type deepgramEngine struct {
	owner    *DeepgramRecognizer
	language string
	onResult func(ResultBatch)
	onError  func(error)
	logger   zerolog.Logger

	mu             sync.RWMutex
	client         *listenClient.WSCallback
	isActive       bool
	reconnecting   bool
	segments       []Alternative // finalized parts of the current utterance
	backlog        *audio.Backlog
	circuitBreaker *resilience.CircuitBreaker

	ctx    context.Context
	cancel context.CancelFunc
}

func newDeepgramEngine(owner *DeepgramRecognizer, lang string, onResult func(ResultBatch)) *deepgramEngine {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := owner.config

	return &deepgramEngine{
		owner:    owner,
		language: lang,
		onResult: onResult,
		logger:   owner.logger.With().Str("language", lang).Logger(),
		backlog:  audio.NewBacklog(deepgramBacklogBytes),
		circuitBreaker: resilience.NewCircuitBreaker(
			"deepgram",
			cfg.CircuitBreakerMaxFailures,
			time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
		),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (e *deepgramEngine) reconnectConfig() *resilience.ReconnectConfig {
	cfg := e.owner.config
	return &resilience.ReconnectConfig{
		MaxAttempts: cfg.ReconnectMaxAttempts,
		Backoff:     time.Duration(cfg.ReconnectBackoff) * time.Millisecond,
		Multiplier:  2.0,
		MaxBackoff:  30 * time.Second,
	}
}

// establish connects with backoff and reports a permanent failure to the owner.
func (e *deepgramEngine) establish() {
	err := resilience.Reconnect(e.ctx, e.logger, e.connect, e.reconnectConfig())
	if err == nil || e.ctx.Err() != nil {
		return
	}

	e.logger.Error().Err(err).Msg("Deepgram engine could not connect")
	observability.RecordError("connect_failed", "deepgram")
	if e.onError != nil {
		e.onError(fmt.Errorf("%w: %v", ErrEngineLost, err))
	}
}

// connect dials one Deepgram websocket. Retries are left to establish, so the
// SDK is asked for a single attempt. No lock is held while dialing since the
// SDK may invoke callbacks before ConnectWithCancel returns.
func (e *deepgramEngine) connect() error {
	e.mu.RLock()
	active := e.isActive
	e.mu.RUnlock()
	if active {
		return nil
	}

	cfg := e.owner.config
	tOptions := &interfaces.LiveTranscriptionOptions{
		Model:          cfg.DeepgramModel,
		Language:       e.language,
		Punctuate:      true,
		InterimResults: true,
		UtteranceEndMs: "1000",
		Encoding:       "mulaw",
		Channels:       1,
		SampleRate:     deepgramSampleRate,
	}
	cOptions := &interfaces.ClientOptions{Host: cfg.DeepgramHost}
	if i := strings.Index(cfg.DeepgramHost, "://"); i >= 0 {
		// The SDK copies Host verbatim into the Host header, scheme included
		host := cfg.DeepgramHost[i+3:]
		if slash := strings.Index(host, "/"); slash >= 0 {
			host = host[:slash]
		}
		cOptions.WSHeaderProcessor = func(h http.Header) { h.Set("Host", host) }
	}

	client, err := listenClient.NewWSUsingCallback(e.ctx, cfg.DeepgramAPIKey, cOptions, tOptions, engineCallbacks{engine: e})
	if err != nil {
		return fmt.Errorf("failed to create Deepgram client: %w", err)
	}

	ctx, cancel := context.WithCancel(e.ctx)
	if !client.ConnectWithCancel(ctx, cancel, 1) {
		cancel()
		e.recordFailure()
		return fmt.Errorf("failed to connect to Deepgram")
	}

	e.mu.Lock()
	if e.ctx.Err() != nil {
		e.mu.Unlock()
		go client.Stop()
		return e.ctx.Err()
	}
	previous := e.client
	e.client = client
	e.isActive = true
	e.mu.Unlock()

	if previous != nil {
		go previous.Stop()
	}

	e.circuitBreaker.RecordResult(true)
	observability.UpdateCircuitBreakerState(e.circuitBreaker.Name(), int(e.circuitBreaker.GetState()))

	e.logger.Info().Str("model", cfg.DeepgramModel).Msg("Deepgram streaming engine started")
	return nil
}

func (e *deepgramEngine) recordFailure() {
	e.circuitBreaker.RecordResult(false)
	observability.UpdateCircuitBreakerState(e.circuitBreaker.Name(), int(e.circuitBreaker.GetState()))
	observability.IncrementCircuitBreakerFailures(e.circuitBreaker.Name())
}

func (e *deepgramEngine) handleError(er *msginterfaces.ErrorResponse) {
	if e.ctx.Err() != nil {
		return
	}
	e.logger.Error().Interface("error", er).Msg("Deepgram error")
	e.recordFailure()

	e.mu.Lock()
	e.isActive = false
	e.mu.Unlock()

	go e.attemptReconnect()
}

// handleMessage collects finalized segments until Deepgram marks the end of
// speech. Interim hypotheses are not forwarded.
func (e *deepgramEngine) handleMessage(msg *msginterfaces.MessageResponse) {
	if msg == nil {
		return
	}

	switch msg.Type {
	case "Results", "Message":
		if !msg.IsFinal {
			return
		}
		if len(msg.Channel.Alternatives) > 0 {
			best := msg.Channel.Alternatives[0]
			if text := strings.TrimSpace(best.Transcript); text != "" {
				e.mu.Lock()
				e.segments = append(e.segments, Alternative{Transcript: text, Confidence: best.Confidence})
				e.mu.Unlock()
			}
		}
		if msg.SpeechFinal {
			e.flushUtterance()
		}

	default:
		e.logger.Debug().Str("type", msg.Type).Msg("Ignoring Deepgram message")
	}
}

// flushUtterance delivers the collected segments as one final result.
func (e *deepgramEngine) flushUtterance() {
	e.mu.Lock()
	segments := e.segments
	e.segments = nil
	e.mu.Unlock()

	if len(segments) == 0 || e.ctx.Err() != nil {
		return
	}

	texts := make([]string, len(segments))
	confidence := segments[0].Confidence
	for i, s := range segments {
		texts[i] = s.Transcript
		if s.Confidence < confidence {
			confidence = s.Confidence
		}
	}

	e.onResult(ResultBatch{Results: []Result{{
		Final:        true,
		Alternatives: []Alternative{{Transcript: strings.Join(texts, " "), Confidence: confidence}},
	}}})
}

// sendAudio converts browser PCM16 to μ-law and forwards it
func (e *deepgramEngine) sendAudio(pcm []byte) error {
	mulaw, err := audio.PCM16ToMulaw(pcm, e.owner.config.DeepgramSampleRate, deepgramSampleRate)
	if err != nil {
		return fmt.Errorf("convert audio: %w", err)
	}

	e.mu.RLock()
	active := e.isActive
	client := e.client
	e.mu.RUnlock()

	if !active || client == nil {
		if dropped := e.backlog.Write(mulaw); dropped > 0 {
			e.logger.Debug().Int("dropped_bytes", dropped).Msg("Deepgram backlog full, dropped oldest audio")
		}
		return nil
	}

	err = e.circuitBreaker.Call(func() error {
		if pending := e.backlog.Drain(); len(pending) > 0 {
			if _, err := client.Write(pending); err != nil {
				return err
			}
		}
		_, err := client.Write(mulaw)
		return err
	})

	observability.UpdateCircuitBreakerState(e.circuitBreaker.Name(), int(e.circuitBreaker.GetState()))
	if err != nil {
		observability.IncrementCircuitBreakerFailures(e.circuitBreaker.Name())
		e.mu.Lock()
		e.isActive = false
		e.mu.Unlock()
		go e.attemptReconnect()
		return fmt.Errorf("failed to send audio to Deepgram: %w", err)
	}

	observability.RecordAudioBytes("deepgram", int64(len(mulaw)))
	return nil
}

// attemptReconnect reopens a dropped connection. At most one runs at a time.
func (e *deepgramEngine) attemptReconnect() {
	if e.ctx.Err() != nil {
		return
	}

	e.mu.Lock()
	if e.reconnecting {
		e.mu.Unlock()
		return
	}
	e.reconnecting = true
	e.isActive = false
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.reconnecting = false
		e.mu.Unlock()
	}()

	e.establish()
}

// Stop cancels connecting and reconnection and closes the stream. Closing the
// socket waits on the server, so it runs off the caller's goroutine.
func (e *deepgramEngine) Stop() error {
	e.cancel()
	e.owner.release(e)

	e.mu.Lock()
	client := e.client
	wasActive := e.isActive
	e.client = nil
	e.isActive = false
	e.segments = nil
	e.mu.Unlock()

	if client != nil {
		go client.Stop()
	}
	if wasActive {
		e.logger.Info().Msg("Deepgram streaming engine stopped")
	}
	return nil
}
