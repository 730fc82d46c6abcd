package completion

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-chat/internal/resilience"
)

type fakeStream struct {
	chunks []string
	err    error
	closed bool
}

func (s *fakeStream) Recv() (string, error) {
	if len(s.chunks) == 0 {
		if s.err != nil {
			return "", s.err
		}
		return "", io.EOF
	}
	c := s.chunks[0]
	s.chunks = s.chunks[1:]
	return c, nil
}

func (s *fakeStream) Close() { s.closed = true }

type fakeProvider struct {
	stream   *fakeStream
	err      error
	requests []Request
	deadline bool
}

func (p *fakeProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	p.requests = append(p.requests, req)
	_, p.deadline = ctx.Deadline()
	if p.err != nil {
		return nil, p.err
	}
	return p.stream, nil
}

func postCompletion(h http.Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/completion", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandler_StreamsPlainText(t *testing.T) {
	stream := &fakeStream{chunks: []string{"Mir", " geht", " es", " gut"}}
	provider := &fakeProvider{stream: stream}
	h := NewHandler(provider, 0, zerolog.Nop())

	rec := postCompletion(h, `{"messages":[{"role":"user","content":"Hallo, wie geht es dir?"}]}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("Expected text/plain, got %s", ct)
	}
	if rec.Body.String() != "Mir geht es gut" {
		t.Errorf("Expected 'Mir geht es gut', got %q", rec.Body.String())
	}
	if !rec.Flushed {
		t.Error("Expected response to be flushed")
	}
	if !stream.closed {
		t.Error("Expected stream to be closed")
	}
	if provider.deadline {
		t.Error("Expected no deadline without a timeout")
	}
}

func TestHandler_PromptForm(t *testing.T) {
	provider := &fakeProvider{stream: &fakeStream{chunks: []string{"Hello"}}}
	h := NewHandler(provider, time.Minute, zerolog.Nop())

	rec := postCompletion(h, `{"prompt":"Translate the following German (Germany) text to English: \"Hallo\""}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	if len(provider.requests) != 1 || !strings.HasPrefix(provider.requests[0].Prompt, "Translate") {
		t.Errorf("Expected prompt to be forwarded, got %+v", provider.requests)
	}
	if !provider.deadline {
		t.Error("Expected request context to carry the configured timeout")
	}
}

func TestHandler_BadRequest(t *testing.T) {
	provider := &fakeProvider{}
	h := NewHandler(provider, 0, zerolog.Nop())

	for _, body := range []string{`not json`, `{}`, `{"messages":[{"role":"robot","content":"x"}]}`} {
		rec := postCompletion(h, body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("Expected status 400 for %s, got %d", body, rec.Code)
		}
	}
	if len(provider.requests) != 0 {
		t.Errorf("Expected provider not to be called, got %d calls", len(provider.requests))
	}
}

func TestHandler_ProviderError(t *testing.T) {
	h := NewHandler(&fakeProvider{err: errors.New("connection refused")}, 0, zerolog.Nop())

	rec := postCompletion(h, `{"prompt":"Hallo"}`)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("Expected status 502, got %d", rec.Code)
	}
	var resp errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Expected JSON error body: %v", err)
	}
	if resp.Error == "" {
		t.Error("Expected error message")
	}
}

func TestHandler_CircuitOpen(t *testing.T) {
	h := NewHandler(&fakeProvider{err: resilience.ErrCircuitOpen}, 0, zerolog.Nop())

	rec := postCompletion(h, `{"prompt":"Hallo"}`)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", rec.Code)
	}
}

func TestHandler_MidStreamErrorTruncates(t *testing.T) {
	stream := &fakeStream{chunks: []string{"Mir"}, err: errors.New("connection reset")}
	h := NewHandler(&fakeProvider{stream: stream}, 0, zerolog.Nop())

	rec := postCompletion(h, `{"prompt":"Hallo"}`)

	if rec.Code != http.StatusOK {
		t.Errorf("Expected status 200 once streaming began, got %d", rec.Code)
	}
	if rec.Body.String() != "Mir" {
		t.Errorf("Expected truncated body 'Mir', got %q", rec.Body.String())
	}
}
