// Package backends connects the gateway to its upstream language-model
// servers. Clients are built once from the model manifest; the registry is
// read-only afterwards.
package backends

import (
	"context"
	"errors"
	"fmt"

	"github.com/ArtixJP/albert-api/internal/openai"
)

var ErrModelNotFound = errors.New("model not found")

// Client is one connected backend. Streaming is pull-based: Recv returns
// chunks until io.EOF.
type Client interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
	StreamChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (ChatStream, error)
	CreateEmbeddings(ctx context.Context, req openai.EmbeddingsRequest) (openai.EmbeddingsResponse, error)
}

type ChatStream interface {
	// Recv blocks for the next upstream chunk; io.EOF signals a completed
	// stream.
	Recv() (openai.ChatCompletionChunk, error)
	Close() error
}

// UpstreamError carries a backend's own error response through to the
// caller unmodified.
type UpstreamError struct {
	StatusCode int
	Body       []byte
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream error: status %d: %s", e.StatusCode, e.Body)
}
