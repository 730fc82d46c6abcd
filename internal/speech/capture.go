package speech

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-chat/internal/language"
	"github.com/lexiqai/voice-chat/internal/observability"
)

// CaptureOptions wires a capture session into its owner.
type CaptureOptions struct {
	// Post schedules fn on the owner's event loop. Engine callbacks never touch
	// capture state directly.
	Post func(fn func())
	// Busy reports whether a completion stream is in flight.
	Busy func() bool
	// Emit receives each accepted transcript, synchronously within HandleResult.
	Emit func(transcript string)
	// Lost is told, on the loop, that the current engine failed in the background
	// and capture is no longer active. May be nil.
	Lost func(err error)

	Logger  zerolog.Logger
	Metrics *observability.Metrics
}

// CaptureSession turns continuous recognition into discrete transcripts for one
// locale at a time. It is not safe for concurrent use; all methods run on the
// owner's event loop.
type CaptureSession struct {
	recognizer Recognizer
	opts       CaptureOptions

	engine     Engine
	generation uint64
	language   language.Definition
}

// NewCaptureSession creates an idle capture session.
func NewCaptureSession(recognizer Recognizer, opts CaptureOptions) *CaptureSession {
	if recognizer == nil {
		recognizer = UnavailableRecognizer{}
	}
	return &CaptureSession{recognizer: recognizer, opts: opts}
}

// Start opens an engine for lang. Without a recognition capability this is a
// silent no-op. Stop must be called before starting again.
func (c *CaptureSession) Start(lang language.Definition) error {
	if c.engine != nil {
		return fmt.Errorf("capture already active for %s", c.language.Code)
	}
	c.language = lang

	if !c.recognizer.Available() {
		c.opts.Logger.Debug().Str("language", lang.Code).Msg("No recognition capability, capture not started")
		return nil
	}

	c.generation++
	gen := c.generation
	cfg := RecognitionConfig{
		Language:   lang.Code,
		Continuous: true,
		OnError: func(err error) {
			c.opts.Post(func() { c.handleLost(gen, err) })
		},
	}
	engine, err := c.recognizer.Open(cfg, func(batch ResultBatch) {
		c.opts.Post(func() { c.HandleResult(gen, batch) })
	})
	if err != nil {
		return fmt.Errorf("open recognition engine for %s: %w", lang.Code, err)
	}

	c.engine = engine
	c.opts.Logger.Info().Str("language", lang.Code).Uint64("generation", gen).Msg("Speech capture started")
	return nil
}

// Stop releases the engine. Results still queued from it are discarded.
func (c *CaptureSession) Stop() error {
	if c.engine == nil {
		return nil
	}

	engine := c.engine
	c.engine = nil
	c.generation++

	if err := engine.Stop(); err != nil {
		return fmt.Errorf("stop recognition engine: %w", err)
	}
	c.opts.Logger.Info().Str("language", c.language.Code).Msg("Speech capture stopped")
	return nil
}

// Reconfigure releases the current engine and acquires one for lang. Both steps
// run in one loop turn, so two engines are never live.
func (c *CaptureSession) Reconfigure(lang language.Definition) error {
	if err := c.Stop(); err != nil {
		c.opts.Logger.Warn().Err(err).Msg("Error stopping recognition engine")
	}
	return c.Start(lang)
}

// HandleResult applies one result batch from engine generation gen.
func (c *CaptureSession) HandleResult(gen uint64, batch ResultBatch) {
	if c.engine == nil || gen != c.generation {
		c.record(observability.RecognitionStale)
		return
	}

	text, ok := batch.LatestFinal()
	if !ok {
		c.record(observability.RecognitionIgnored)
		return
	}

	if c.opts.Busy != nil && c.opts.Busy() {
		c.opts.Logger.Debug().Str("transcript", text).Msg("Completion in flight, dropping transcript")
		c.record(observability.RecognitionDroppedInFlight)
		return
	}

	c.record(observability.RecognitionAccepted)
	c.opts.Emit(text)
}

// Active reports whether an engine is currently held.
func (c *CaptureSession) Active() bool {
	return c.engine != nil
}

// handleLost drops an engine that failed on its own. Failures of an engine that
// was already replaced are ignored.
func (c *CaptureSession) handleLost(gen uint64, cause error) {
	if c.engine == nil || gen != c.generation {
		return
	}

	engine := c.engine
	c.engine = nil
	c.generation++
	if err := engine.Stop(); err != nil {
		c.opts.Logger.Debug().Err(err).Msg("Error stopping lost recognition engine")
	}

	c.opts.Logger.Warn().Err(cause).Str("language", c.language.Code).Msg("Speech capture lost its engine")
	if c.opts.Lost != nil {
		c.opts.Lost(cause)
	}
}

func (c *CaptureSession) record(outcome string) {
	if c.opts.Metrics != nil {
		c.opts.Metrics.RecordRecognition(outcome)
	}
}
