package backends

import (
	"github.com/rs/zerolog"

	"github.com/ArtixJP/albert-api/internal/config"
	"github.com/ArtixJP/albert-api/internal/openai"
)

// Registry maps a model name to its connected backend client. Built at
// startup from the manifest, read-only afterwards; safe for concurrent use.
type Registry struct {
	clients map[string]Client
	kinds   map[string]string
	entries []openai.ModelEntry
}

func NewRegistry(manifest config.ModelsManifest, log zerolog.Logger) *Registry {
	r := &Registry{
		clients: make(map[string]Client),
		kinds:   make(map[string]string),
	}
	for _, m := range manifest.Models {
		r.clients[m.Name] = NewHTTPClient(m, log)
		r.kinds[m.Name] = m.Kind
		r.entries = append(r.entries, openai.ModelEntry{ID: m.Name, Object: "model", OwnedBy: m.OwnedBy})
		log.Info().Str("model", m.Name).Str("kind", m.Kind).Str("base_url", m.BaseURL).Msg("registered backend")
	}
	return r
}

// Resolve returns the client serving model, or ErrModelNotFound.
func (r *Registry) Resolve(model string) (Client, error) {
	c, ok := r.clients[model]
	if !ok {
		return nil, ErrModelNotFound
	}
	return c, nil
}

// Kind reports the manifest kind of model ("" when unknown).
func (r *Registry) Kind(model string) string { return r.kinds[model] }

// Models lists every registered model for the /models endpoint.
func (r *Registry) Models() []openai.ModelEntry { return r.entries }
