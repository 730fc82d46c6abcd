// Package session runs one voice chat: speech capture, the streamed reply
// lifecycle, translation on demand and voice selection, all driven from a
// single event loop. Callbacks from engines and streams are posted to the loop
// as closures; only the loop touches session state.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-chat/internal/completion"
	"github.com/lexiqai/voice-chat/internal/conversation"
	"github.com/lexiqai/voice-chat/internal/language"
	"github.com/lexiqai/voice-chat/internal/observability"
	"github.com/lexiqai/voice-chat/internal/speech"
	"github.com/lexiqai/voice-chat/internal/translation"
	"github.com/lexiqai/voice-chat/internal/voice"
)

var (
	// ErrUnknownLanguage is reported when a language outside the registry is selected.
	ErrUnknownLanguage = errors.New("unknown language")
	// ErrReplyStreaming is reported when a reply is opened for translation
	// before it has finished; the client may open it again later.
	ErrReplyStreaming = errors.New("reply is still streaming")
)

const (
	eventQueueSize = 256
	// Translations are one-shot and short; a hung request would otherwise
	// block retries for that turn.
	translationTimeout = 60 * time.Second
)

// View receives everything the user should see. Methods are called from the
// session loop and must not call back into the session synchronously.
type View interface {
	TurnAppended(turn conversation.Turn)
	TurnUpdated(turn conversation.Turn)
	TranslationReady(turnID, text string)
	StateChanged(state State)
	Error(err error)
}

// State is the snapshot of session-level settings.
type State struct {
	SessionID         string              `json:"session_id"`
	Language          language.Definition `json:"language"`
	Voice             *speech.Voice       `json:"voice"`
	Voices            []speech.Voice      `json:"voices"`
	RecognitionActive bool                `json:"recognition_active"`
	InFlight          bool                `json:"in_flight"`
}

// Options configures a session.
type Options struct {
	ID          string
	Language    language.Definition
	Recognizer  speech.Recognizer
	Synthesizer speech.Synthesizer
	Provider    completion.Provider
	View        View

	SpeechRate        float64
	TranslationTarget string
	HistoryLimit      int
	CompletionTimeout time.Duration // zero waits for the provider indefinitely

	Logger  zerolog.Logger
	Metrics *observability.Metrics
}

// Session is one voice chat. Create with New, drive with Run.
type Session struct {
	opts     Options
	logger   zerolog.Logger
	language language.Definition

	conv         *conversation.Conversation
	translations *translation.Cache
	voices       *voice.Selector
	capture      *speech.CaptureSession
	synthesizer  speech.Synthesizer

	events chan func()
	done   chan struct{}

	// Set by Run; only read on the loop
	ctx         context.Context
	replyCancel context.CancelFunc
}

// New creates a session. Nothing happens until Run is called.
func New(opts Options) *Session {
	if opts.Synthesizer == nil {
		opts.Synthesizer = speech.NopSynthesizer{}
	}
	if opts.SpeechRate <= 0 {
		opts.SpeechRate = 1.2
	}
	if opts.TranslationTarget == "" {
		opts.TranslationTarget = "English"
	}
	if opts.Metrics == nil {
		opts.Metrics = observability.NewSessionMetrics(opts.ID)
	}

	s := &Session{
		opts:         opts,
		logger:       opts.Logger,
		language:     opts.Language,
		conv:         conversation.New(),
		translations: translation.NewCache(),
		voices:       voice.NewSelector(opts.Language.Code),
		synthesizer:  opts.Synthesizer,
		events:       make(chan func(), eventQueueSize),
		done:         make(chan struct{}),
	}

	s.capture = speech.NewCaptureSession(opts.Recognizer, speech.CaptureOptions{
		Post:    func(fn func()) { s.post(fn) },
		Busy:    s.conv.InFlight,
		Emit:    s.handleTranscript,
		Lost:    s.captureLost,
		Logger:  opts.Logger,
		Metrics: opts.Metrics,
	})
	return s
}

// Run processes events until ctx is done, then releases the recognition engine,
// cancels any stream and silences synthesis.
func (s *Session) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.ctx = ctx
	defer close(s.done)
	defer cancel()
	defer s.shutdown()

	s.opts.Metrics.RecordSessionStart()
	s.logger.Info().Str("language", s.language.Code).Msg("Voice chat session started")

	if err := s.capture.Start(s.language); err != nil {
		s.logger.Warn().Err(err).Msg("Speech capture could not start")
		s.opts.View.Error(err)
	}
	s.emitState()

	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-s.events:
			fn()
		}
	}
}

// Done is closed once Run has returned.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) shutdown() {
	if err := s.capture.Stop(); err != nil {
		s.logger.Warn().Err(err).Msg("Error stopping speech capture")
	}
	if s.replyCancel != nil {
		s.replyCancel()
		s.replyCancel = nil
	}
	if err := s.synthesizer.Cancel(); err != nil {
		s.logger.Debug().Err(err).Msg("Error cancelling synthesis")
	}
	s.opts.Metrics.RecordSessionEnd()
	s.logger.Info().Int("turns", s.conv.Len()).Msg("Voice chat session ended")
}

// post schedules fn on the loop. It reports false once the session has ended.
func (s *Session) post(fn func()) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.events <- fn:
		return true
	case <-s.done:
		return false
	}
}

// query runs fn on the loop and waits for it.
func (s *Session) query(fn func()) bool {
	finished := make(chan struct{})
	if !s.post(func() { fn(); close(finished) }) {
		return false
	}
	select {
	case <-finished:
		return true
	case <-s.done:
		return false
	}
}

// SelectLanguage switches the active language.
func (s *Session) SelectLanguage(code string) {
	s.post(func() { s.selectLanguage(code) })
}

// SelectVoice overrides the synthesis voice.
func (s *Session) SelectVoice(name string) {
	s.post(func() { s.selectVoice(name) })
}

// UpdateVoices delivers a voice list announcement from the host.
func (s *Session) UpdateVoices(voices []speech.Voice) {
	s.post(func() {
		if s.voices.VoicesChanged(voices) {
			s.logger.Debug().Int("voices", len(voices)).Msg("Synthesis voices discovered")
			s.emitState()
		}
	})
}

// OpenDetail is called when the detail view of a turn opens.
func (s *Session) OpenDetail(turnID string) {
	s.post(func() { s.openDetail(turnID) })
}

// Snapshot returns the current state. ok is false once the session has ended.
func (s *Session) Snapshot() (state State, ok bool) {
	ok = s.query(func() { state = s.state() })
	return state, ok
}

// Turns returns the conversation so far.
func (s *Session) Turns() (turns []conversation.Turn, ok bool) {
	ok = s.query(func() { turns = s.conv.Turns() })
	return turns, ok
}

func (s *Session) state() State {
	return State{
		SessionID:         s.opts.ID,
		Language:          s.language,
		Voice:             s.voices.Selected(),
		Voices:            s.voices.Voices(),
		RecognitionActive: s.capture.Active(),
		InFlight:          s.conv.InFlight(),
	}
}

func (s *Session) emitState() {
	s.opts.View.StateChanged(s.state())
}

func (s *Session) appended(turn conversation.Turn) {
	s.opts.Metrics.RecordTurn(string(turn.Role))
	s.opts.View.TurnAppended(turn)
}

// cancelSpeech stops any utterance when the turn sequence grows.
func (s *Session) cancelSpeech() {
	if err := s.synthesizer.Cancel(); err != nil {
		s.logger.Debug().Err(err).Msg("Error cancelling synthesis")
	}
}

// handleTranscript runs synchronously inside CaptureSession.HandleResult.
func (s *Session) handleTranscript(text string) {
	s.cancelSpeech()

	user, err := s.conv.AppendUser(text)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Transcript rejected")
		return
	}
	s.appended(user)
	s.startReply()
}

// captureLost runs when the recognition engine fails on its own. The next
// language selection restarts capture.
func (s *Session) captureLost(err error) {
	s.opts.Metrics.RecordError("recognition_lost", "session")
	s.opts.View.Error(err)
	s.emitState()
}

func (s *Session) startReply() {
	history := s.conv.History(s.opts.HistoryLimit)

	assistant, err := s.conv.BeginAssistant()
	if err != nil {
		s.logger.Error().Err(err).Msg("Cannot begin assistant turn")
		return
	}
	s.appended(assistant)
	s.opts.Metrics.RecordReplyStart()

	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if s.opts.CompletionTimeout > 0 {
		ctx, cancel = context.WithTimeout(s.ctx, s.opts.CompletionTimeout)
	} else {
		ctx, cancel = context.WithCancel(s.ctx)
	}
	s.replyCancel = cancel

	req := completion.Request{Messages: toCompletionMessages(history)}
	go s.streamReply(ctx, cancel, assistant.ID, req)

	s.emitState()
}

// streamReply runs off the loop and posts every chunk back to it.
func (s *Session) streamReply(ctx context.Context, cancel context.CancelFunc, turnID string, req completion.Request) {
	defer cancel()

	stream, err := s.opts.Provider.Stream(ctx, req)
	if err != nil {
		s.post(func() { s.failReply(turnID, err) })
		return
	}
	defer stream.Close()

	for {
		text, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			s.post(func() { s.finishReply(turnID) })
			return
		}
		if err != nil {
			s.post(func() { s.failReply(turnID, err) })
			return
		}
		if !s.post(func() { s.appendChunk(turnID, text) }) {
			return
		}
	}
}

func (s *Session) appendChunk(turnID, text string) {
	if s.conv.ActiveID() != turnID {
		return
	}
	turn, err := s.conv.AppendToken(text)
	if err != nil {
		return
	}
	s.opts.Metrics.RecordReplyToken()
	s.opts.View.TurnUpdated(turn)
}

func (s *Session) finishReply(turnID string) {
	if s.conv.ActiveID() != turnID {
		return
	}
	turn, err := s.conv.Finish()
	if err != nil {
		return
	}
	s.replyCancel = nil
	s.opts.Metrics.RecordReplyEnd(true)
	s.opts.View.TurnUpdated(turn)
	s.speak(turn.Content)
	s.emitState()
}

func (s *Session) failReply(turnID string, cause error) {
	if s.conv.ActiveID() != turnID {
		return
	}
	turn, err := s.conv.Fail()
	if err != nil {
		return
	}
	s.replyCancel = nil
	s.opts.Metrics.RecordReplyEnd(false)
	s.opts.Metrics.RecordError("completion_failed", "session")
	s.logger.Warn().Err(cause).Str("turn_id", turnID).Msg("Reply stream failed")
	s.opts.View.TurnUpdated(turn)
	s.emitState()
}

// speak hands the finished reply to synthesis, replacing anything still speaking.
func (s *Session) speak(text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	s.cancelSpeech()

	u := speech.Utterance{
		Text:  text,
		Voice: s.voices.Selected(),
		Rate:  s.opts.SpeechRate,
	}
	if err := s.synthesizer.Speak(u); err != nil {
		s.logger.Warn().Err(err).Msg("Synthesis failed")
		s.opts.Metrics.RecordError("synthesis_failed", "session")
		return
	}
	s.opts.Metrics.RecordUtterance()
}

func (s *Session) selectLanguage(code string) {
	def, ok := language.Lookup(code)
	if !ok {
		s.opts.View.Error(fmt.Errorf("%w: %s", ErrUnknownLanguage, code))
		return
	}

	s.language = def
	s.voices.LanguageChanged(def.Code)

	// Restarted even for the current language so a stuck engine can be recovered
	if err := s.capture.Reconfigure(def); err != nil {
		s.logger.Warn().Err(err).Str("language", def.Code).Msg("Speech capture could not restart")
		s.opts.View.Error(err)
	}

	s.cancelSpeech()
	s.appended(s.conv.AppendSystem("The conversation is now in " + def.Name))
	s.logger.Info().Str("language", def.Code).Msg("Language changed")
	s.emitState()
}

func (s *Session) selectVoice(name string) {
	if err := s.voices.Pick(name); err != nil {
		s.opts.View.Error(err)
		return
	}
	s.emitState()
}

func (s *Session) openDetail(turnID string) {
	turn, err := s.conv.Get(turnID)
	if err != nil {
		s.opts.View.Error(err)
		return
	}
	if turn.Role == conversation.RoleSystem {
		return
	}
	if turn.Streaming {
		s.opts.View.Error(fmt.Errorf("%w: %s", ErrReplyStreaming, turn.ID))
		return
	}

	entry, action := s.translations.Open(turn.ID, turn.Content)
	switch action {
	case translation.ActionCached:
		s.opts.View.TranslationReady(turn.ID, entry.TargetText)
	case translation.ActionRequest:
		prompt := translation.Prompt(s.language.Name, s.opts.TranslationTarget, entry.SourceText)
		ctx, cancel := context.WithTimeout(s.ctx, translationTimeout)
		go s.translate(ctx, cancel, turn.ID, prompt)
	}
}

// translate collects a whole completion off the loop.
func (s *Session) translate(ctx context.Context, cancel context.CancelFunc, turnID, prompt string) {
	defer cancel()

	text, err := collect(ctx, s.opts.Provider, completion.Request{Prompt: prompt})
	s.post(func() { s.translationDone(turnID, text, err) })
}

func (s *Session) translationDone(turnID, text string, err error) {
	if err != nil {
		s.logger.Warn().Err(err).Str("turn_id", turnID).Msg("Translation failed")
		s.opts.Metrics.RecordTranslation(false)
		_ = s.translations.Fail(turnID)
		return
	}

	entry, err := s.translations.Complete(turnID, text)
	if err != nil {
		s.logger.Error().Err(err).Msg("Translation result without pending request")
		return
	}
	s.opts.Metrics.RecordTranslation(true)
	s.opts.View.TranslationReady(turnID, entry.TargetText)
}

func collect(ctx context.Context, provider completion.Provider, req completion.Request) (string, error) {
	stream, err := provider.Stream(ctx, req)
	if err != nil {
		return "", err
	}
	defer stream.Close()

	var sb strings.Builder
	for {
		text, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return strings.TrimSpace(sb.String()), nil
		}
		if err != nil {
			return "", err
		}
		sb.WriteString(text)
	}
}

func toCompletionMessages(history []conversation.Message) []completion.Message {
	msgs := make([]completion.Message, len(history))
	for i, m := range history {
		msgs[i] = completion.Message{Role: string(m.Role), Content: m.Content}
	}
	return msgs
}
