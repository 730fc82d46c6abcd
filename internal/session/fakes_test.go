package session

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/lexiqai/voice-chat/internal/completion"
	"github.com/lexiqai/voice-chat/internal/conversation"
	"github.com/lexiqai/voice-chat/internal/speech"
)

// waitFor polls cond until it holds or the test times out
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

type fakeView struct {
	mu           sync.Mutex
	appended     []conversation.Turn
	updated      []conversation.Turn
	translations map[string][]string
	states       []State
	errors       []error
}

func newFakeView() *fakeView {
	return &fakeView{translations: make(map[string][]string)}
}

func (v *fakeView) TurnAppended(turn conversation.Turn) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.appended = append(v.appended, turn)
}

func (v *fakeView) TurnUpdated(turn conversation.Turn) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.updated = append(v.updated, turn)
}

func (v *fakeView) TranslationReady(turnID, text string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.translations[turnID] = append(v.translations[turnID], text)
}

func (v *fakeView) StateChanged(state State) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.states = append(v.states, state)
}

func (v *fakeView) Error(err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.errors = append(v.errors, err)
}

func (v *fakeView) translationCount(turnID string) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.translations[turnID])
}

func (v *fakeView) errorCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.errors)
}

func (v *fakeView) lastError() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.errors) == 0 {
		return nil
	}
	return v.errors[len(v.errors)-1]
}

type fakeEngine struct {
	mu      sync.Mutex
	stopped bool
}

func (e *fakeEngine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopped = true
	return nil
}

func (e *fakeEngine) isStopped() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopped
}

type fakeRecognizer struct {
	mu        sync.Mutex
	languages []string
	callbacks []func(speech.ResultBatch)
	onErrors  []func(error)
	engines   []*fakeEngine
}

func (r *fakeRecognizer) Available() bool { return true }

func (r *fakeRecognizer) Open(cfg speech.RecognitionConfig, onResult func(speech.ResultBatch)) (speech.Engine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := &fakeEngine{}
	r.languages = append(r.languages, cfg.Language)
	r.callbacks = append(r.callbacks, onResult)
	r.onErrors = append(r.onErrors, cfg.OnError)
	r.engines = append(r.engines, e)
	return e, nil
}

// lose reports a background failure of the newest engine
func (r *fakeRecognizer) lose(err error) {
	r.mu.Lock()
	onError := r.onErrors[len(r.onErrors)-1]
	r.mu.Unlock()
	onError(err)
}

// say delivers a finalized transcript from the newest engine
func (r *fakeRecognizer) say(text string) {
	r.mu.Lock()
	cb := r.callbacks[len(r.callbacks)-1]
	r.mu.Unlock()
	cb(speech.ResultBatch{Results: []speech.Result{
		{Final: true, Alternatives: []speech.Alternative{{Transcript: text, Confidence: 0.9}}},
	}})
}

func (r *fakeRecognizer) opened() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.engines)
}

func (r *fakeRecognizer) live() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.engines {
		if !e.isStopped() {
			n++
		}
	}
	return n
}

type fakeSynthesizer struct {
	mu      sync.Mutex
	spoken  []speech.Utterance
	cancels int
}

func (s *fakeSynthesizer) Available() bool { return true }

func (s *fakeSynthesizer) Speak(u speech.Utterance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spoken = append(s.spoken, u)
	return nil
}

func (s *fakeSynthesizer) Cancel() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancels++
	return nil
}

func (s *fakeSynthesizer) utterances() []speech.Utterance {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]speech.Utterance(nil), s.spoken...)
}

type streamItem struct {
	text string
	err  error
}

// replyStream is driven by the test through its items channel
type replyStream struct {
	ctx   context.Context
	items chan streamItem
}

func (s *replyStream) Recv() (string, error) {
	select {
	case item, ok := <-s.items:
		if !ok {
			return "", io.EOF
		}
		return item.text, item.err
	case <-s.ctx.Done():
		return "", s.ctx.Err()
	}
}

func (s *replyStream) Close() {}

func (s *replyStream) send(tokens ...string) {
	for _, tok := range tokens {
		s.items <- streamItem{text: tok}
	}
}

func (s *replyStream) fail(err error) {
	s.items <- streamItem{err: err}
}

func (s *replyStream) end() {
	close(s.items)
}

type sliceStream struct {
	chunks []string
}

func (s *sliceStream) Recv() (string, error) {
	if len(s.chunks) == 0 {
		return "", io.EOF
	}
	c := s.chunks[0]
	s.chunks = s.chunks[1:]
	return c, nil
}

func (s *sliceStream) Close() {}

// fakeProvider opens test-driven streams for conversations and answers prompts
// with a fixed translation.
type fakeProvider struct {
	mu             sync.Mutex
	requests       []completion.Request
	replies        []*replyStream
	replyErr       error
	translation    []string
	translationErr error
}

func (p *fakeProvider) Stream(ctx context.Context, req completion.Request) (completion.Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)

	if req.Prompt != "" {
		if p.translationErr != nil {
			return nil, p.translationErr
		}
		return &sliceStream{chunks: append([]string(nil), p.translation...)}, nil
	}

	if p.replyErr != nil {
		return nil, p.replyErr
	}
	st := &replyStream{ctx: ctx, items: make(chan streamItem, 16)}
	p.replies = append(p.replies, st)
	return st, nil
}

func (p *fakeProvider) reply(i int) *replyStream {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i >= len(p.replies) {
		return nil
	}
	return p.replies[i]
}

func (p *fakeProvider) replyCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.replies)
}

func (p *fakeProvider) prompts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, r := range p.requests {
		if r.Prompt != "" {
			out = append(out, r.Prompt)
		}
	}
	return out
}

func (p *fakeProvider) conversationRequests() []completion.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []completion.Request
	for _, r := range p.requests {
		if r.Prompt == "" {
			out = append(out, r)
		}
	}
	return out
}
