package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/ArtixJP/albert-api/internal/backends"
	"github.com/ArtixJP/albert-api/internal/config"
	"github.com/ArtixJP/albert-api/internal/middleware"
	"github.com/ArtixJP/albert-api/internal/openai"
)

func ListModels(reg *backends.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(openai.ModelsResponse{
			Object: "list",
			Data:   reg.Models(),
		})
	}
}

func Embeddings(reg *backends.Registry, limiter Limiter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req openai.EmbeddingsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeDetail(w, http.StatusBadRequest, "invalid json")
			return
		}

		if err := limiter.Allow(r.Context(), middleware.APIKeyIDFrom(r.Context())); err != nil {
			writeError(w, err)
			return
		}

		client, err := reg.Resolve(req.Model)
		if err != nil {
			writeError(w, err)
			return
		}
		if reg.Kind(req.Model) != config.ModelKindEmbeddings {
			writeDetail(w, http.StatusBadRequest, "Model type must be "+config.ModelKindEmbeddings)
			return
		}

		resp, err := client.CreateEmbeddings(r.Context(), req)
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}

type collectionEntry struct {
	Object string `json:"object"`
	Name   string `json:"name"`
	Type   string `json:"type"`
}

// CollectionLister is the slice of the vector store the collections
// endpoint needs.
type CollectionLister interface {
	ListCollections(ctx context.Context) ([]string, error)
}

// Collections lists the vector collections visible to the caller: their own
// (stored under the api-key prefix, returned without it) and the shared
// public ones.
func Collections(chunks CollectionLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		names, err := chunks.ListCollections(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}

		apiKey := middleware.APIKeyFrom(r.Context())
		out := []collectionEntry{}
		for _, name := range names {
			switch {
			case strings.HasPrefix(name, apiKey+"-"):
				out = append(out, collectionEntry{
					Object: "collection",
					Name:   strings.TrimPrefix(name, apiKey+"-"),
					Type:   "private",
				})
			case strings.HasPrefix(name, "public-"):
				out = append(out, collectionEntry{
					Object: "collection",
					Name:   name,
					Type:   "public",
				})
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"object": "list", "data": out})
	}
}
