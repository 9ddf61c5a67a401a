package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ArtixJP/albert-api/internal/backends"
	"github.com/ArtixJP/albert-api/internal/vectors"
)

// DefaultRAGTemplate is substituted with the retrieved documents and the
// user's question. {docs} and {prompt} are the only placeholders.
const DefaultRAGTemplate = `Réponds à la question suivante en te basant sur les documents ci-dessous : {prompt}

Documents :

{docs}`

const defaultRAGLimit = 4

// ClientResolver maps an embeddings model name to its backend client;
// *backends.Registry satisfies it.
type ClientResolver interface {
	Resolve(model string) (backends.Client, error)
}

// BaseRAG rewrites the prompt with context retrieved from the caller's
// document collections.
//
// Parameters: embeddings_model (required), collections (required), k,
// file_ids, prompt_template.
type BaseRAG struct {
	registry ClientResolver
	searcher vectors.Searcher
}

func NewBaseRAG(reg ClientResolver, s vectors.Searcher) *BaseRAG {
	return &BaseRAG{registry: reg, searcher: s}
}

func (t *BaseRAG) Name() string { return "BaseRAG" }

func (t *BaseRAG) GetPrompt(ctx context.Context, inv Invocation) (string, error) {
	model, ok := StringParam(inv.Params, "embeddings_model")
	if !ok {
		return "", errors.New("embeddings_model parameter is required")
	}
	collections, ok := StringSliceParam(inv.Params, "collections")
	if !ok || len(collections) == 0 {
		return "", errors.New("collections parameter is required")
	}

	k, ok := IntParam(inv.Params, "k")
	if !ok {
		k = defaultRAGLimit
	}

	var filter *vectors.Filter
	if fileIDs, ok := StringSliceParam(inv.Params, "file_ids"); ok && len(fileIDs) > 0 {
		filter = &vectors.Filter{FileIDs: fileIDs}
	}

	template, ok := StringParam(inv.Params, "prompt_template")
	if !ok || template == "" {
		template = DefaultRAGTemplate
	}

	client, err := t.registry.Resolve(model)
	if err != nil {
		return "", fmt.Errorf("embeddings model %q: %w", model, err)
	}
	embedder := backends.QueryEmbedder{Client: client, Model: model}

	// Private collections are addressed under the caller's key prefix.
	scoped := make([]string, len(collections))
	for i, c := range collections {
		if strings.HasPrefix(c, "public-") {
			scoped[i] = c
		} else {
			scoped[i] = inv.APIKey + "-" + c
		}
	}

	prompt := inv.Prompt()
	chunks, err := vectors.Merge(ctx, t.searcher, embedder, scoped, prompt, k, filter)
	if err != nil {
		return "", err
	}

	docs := make([]string, len(chunks))
	for i, c := range chunks {
		docs[i] = c.Content
	}

	out := strings.ReplaceAll(template, "{docs}", strings.Join(docs, "\n\n"))
	out = strings.ReplaceAll(out, "{prompt}", prompt)
	return out, nil
}
