package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/ArtixJP/albert-api/internal/backends"
	"github.com/ArtixJP/albert-api/internal/chat"
	"github.com/ArtixJP/albert-api/internal/config"
	"github.com/ArtixJP/albert-api/internal/history"
	"github.com/ArtixJP/albert-api/internal/middleware"
	"github.com/ArtixJP/albert-api/internal/ratelimit"
	"github.com/ArtixJP/albert-api/internal/store"
	"github.com/ArtixJP/albert-api/internal/tools"
)

type Server struct {
	Router http.Handler
}

func NewServer(cfg config.Config, manifest config.ModelsManifest, pool *pgxpool.Pool, pipeline tools.Pipeline, logger zerolog.Logger) (*Server, error) {
	st := store.New(pool)

	reg := backends.NewRegistry(manifest, logger)
	hist := history.New(st.Sessions())
	toolReg := tools.NewRegistry(
		tools.NewBaseRAG(reg, st.Chunks()),
		tools.NewMultiAgents(pipeline),
	)
	svc := chat.New(reg, hist, toolReg, logger)
	limiter := ratelimit.New(st)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recover(logger))
	r.Use(middleware.AccessLog(logger))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); _, _ = w.Write([]byte("ok")) })

	// OpenAI-compatible API (requires gateway api key)
	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.Authenticate(st))

		r.Get("/models", ListModels(reg))
		r.Post("/chat/completions", ChatCompletions(svc, limiter, logger))
		r.Get("/chat/history/{user}", ChatHistoryList(hist))
		r.Get("/chat/history/{user}/{id}", ChatHistory(hist))
		r.Post("/embeddings", Embeddings(reg, limiter))
		r.Get("/collections", Collections(st.Chunks()))
	})

	return &Server{Router: r}, nil
}
