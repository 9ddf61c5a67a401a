package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/ArtixJP/albert-api/internal/backends"
	"github.com/ArtixJP/albert-api/internal/chat"
	"github.com/ArtixJP/albert-api/internal/history"
	"github.com/ArtixJP/albert-api/internal/middleware"
	"github.com/ArtixJP/albert-api/internal/openai"
	"github.com/ArtixJP/albert-api/internal/ratelimit"
	"github.com/ArtixJP/albert-api/internal/store"
	"github.com/ArtixJP/albert-api/internal/tools"
)

// Limiter admits or rejects one request for an api key;
// *ratelimit.Service satisfies it.
type Limiter interface {
	Allow(ctx context.Context, keyID string) error
}

// errorDetail mirrors the upstream API's error envelope.
type errorDetail struct {
	Detail string `json:"detail"`
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorDetail{Detail: detail})
}

// writeError maps the pipeline's error taxonomy onto HTTP statuses.
// Backend failures pass through unmodified.
func writeError(w http.ResponseWriter, err error) {
	var execErr *tools.ExecutionError
	var upErr *backends.UpstreamError
	switch {
	case errors.Is(err, tools.ErrToolNotFound):
		writeDetail(w, http.StatusNotFound, "Tool not found")
	case errors.As(err, &execErr):
		// A rewrite failure is a tool error even when the underlying cause
		// would map elsewhere on its own.
		writeDetail(w, http.StatusBadRequest, "tool error "+execErr.Cause.Error())
	case errors.Is(err, backends.ErrModelNotFound):
		writeDetail(w, http.StatusNotFound, "Model not found.")
	case errors.Is(err, chat.ErrNoMessages):
		writeDetail(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ratelimit.ErrRateLimited):
		writeDetail(w, http.StatusTooManyRequests, err.Error())
	case errors.As(err, &upErr):
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(upErr.StatusCode)
		_, _ = w.Write(upErr.Body)
	default:
		writeDetail(w, http.StatusBadGateway, err.Error())
	}
}

func ChatCompletions(svc *chat.Service, limiter Limiter, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req openai.ChatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeDetail(w, http.StatusBadRequest, "invalid json")
			return
		}

		if err := limiter.Allow(r.Context(), middleware.APIKeyIDFrom(r.Context())); err != nil {
			writeError(w, err)
			return
		}

		apiKey := middleware.APIKeyFrom(r.Context())

		if !req.Stream {
			resp, err := svc.Complete(r.Context(), req, apiKey)
			if err != nil {
				writeError(w, err)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(resp)
			return
		}

		fl, ok := w.(http.Flusher)
		if !ok {
			writeDetail(w, http.StatusBadRequest, "streaming not supported")
			return
		}

		// Headers go out with the first frame, so pre-dispatch failures
		// (unknown model/tool, tool error) still get proper statuses.
		wrote := false
		emit := func(frame []byte) error {
			if !wrote {
				w.Header().Set("Content-Type", "text/event-stream")
				w.Header().Set("Cache-Control", "no-cache")
				w.Header().Set("Connection", "keep-alive")
				wrote = true
			}
			if _, err := w.Write(frame); err != nil {
				return err
			}
			fl.Flush()
			return nil
		}

		if err := svc.Stream(r.Context(), req, apiKey, emit); err != nil {
			if !wrote {
				writeError(w, err)
				return
			}
			// Mid-stream failure: the frame sequence just ends without the
			// sentinel. Nothing was committed.
			logger.Warn().
				Str("rid", middleware.RequestIDFrom(r.Context())).
				Err(err).
				Msg("stream aborted")
		}
	}
}

func ChatHistory(hist *history.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := chi.URLParam(r, "user")
		id := chi.URLParam(r, "id")

		sess, ok, err := hist.Session(r.Context(), user, id)
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if !ok {
			// Unknown chat id resolves to an empty object, not an error.
			_, _ = w.Write([]byte("{}\n"))
			return
		}
		_ = json.NewEncoder(w).Encode(sess)
	}
}

func ChatHistoryList(hist *history.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := chi.URLParam(r, "user")

		refs, err := hist.List(r.Context(), user)
		if err != nil {
			writeError(w, err)
			return
		}
		if refs == nil {
			refs = []store.SessionRef{}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"object": "list", "data": refs})
	}
}
