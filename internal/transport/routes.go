package transport

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/lexiqai/voice-chat/internal/language"
)

// RegisterRoutes mounts the public API. A positive ratePerMinute limits
// completion requests per client IP.
func RegisterRoutes(r chi.Router, chat http.Handler, completion http.Handler, ratePerMinute int) {
	r.Get("/api/languages", LanguagesHandler)

	if ratePerMinute > 0 {
		r.With(httprate.LimitByIP(ratePerMinute, time.Minute)).Post("/api/completion", completion.ServeHTTP)
	} else {
		r.Post("/api/completion", completion.ServeHTTP)
	}

	r.Get("/ws/chat", chat.ServeHTTP)
}

// LanguagesHandler lists the supported conversation languages.
func LanguagesHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(language.All())
}
