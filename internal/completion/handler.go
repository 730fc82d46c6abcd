package completion

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-chat/internal/observability"
	"github.com/lexiqai/voice-chat/internal/resilience"
)

const maxRequestBytes = 1 << 20

// Handler proxies completion requests to a Provider and streams the reply as
// chunked plain text, flushed per chunk.
type Handler struct {
	provider Provider
	timeout  time.Duration
	logger   zerolog.Logger
}

// NewHandler creates a completion handler. A zero timeout waits for the stream indefinitely.
func NewHandler(provider Provider, timeout time.Duration, logger zerolog.Logger) *Handler {
	return &Handler{
		provider: provider,
		timeout:  timeout,
		logger:   logger.With().Str("component", "completion_handler").Logger(),
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

// ServeHTTP handles POST /api/completion
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	correlationID := r.Header.Get("X-Correlation-ID")
	if correlationID == "" {
		correlationID = observability.NewCorrelationID()
	}
	logger := h.logger.With().Str("correlation_id", correlationID).Logger()

	var req Request
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	stream, err := h.provider.Stream(ctx, req)
	if err != nil {
		observability.RecordCompletion(observability.PurposeProxy, false)
		observability.RecordError("stream_open", "completion")
		logger.Error().Err(err).Msg("Completion provider failed")

		if errors.Is(err, resilience.ErrCircuitOpen) {
			writeError(w, http.StatusServiceUnavailable, "completion provider unavailable")
			return
		}
		writeError(w, http.StatusBadGateway, "completion provider error")
		return
	}
	defer stream.Close()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	chunks := 0
	for {
		text, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// Headers are gone; closing the response early is the only signal left
			observability.RecordCompletion(observability.PurposeProxy, false)
			logger.Warn().Err(err).Int("chunks", chunks).Msg("Completion stream ended with error")
			return
		}

		if _, err := io.WriteString(w, text); err != nil {
			logger.Debug().Err(err).Msg("Client went away during completion stream")
			observability.RecordCompletion(observability.PurposeProxy, false)
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
		chunks++
	}

	observability.RecordCompletion(observability.PurposeProxy, true)
	logger.Debug().Int("chunks", chunks).Msg("Completion stream finished")
}

func writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: message})
}
