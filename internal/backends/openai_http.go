package backends

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ArtixJP/albert-api/internal/config"
	"github.com/ArtixJP/albert-api/internal/openai"
)

// HTTPClient speaks the OpenAI wire protocol to one upstream server.
type HTTPClient struct {
	log     zerolog.Logger
	baseURL string
	apiKey  string

	httpClient *http.Client
}

func NewHTTPClient(cfg config.ModelConfig, log zerolog.Logger) *HTTPClient {
	return &HTTPClient{
		log:        log,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
}

func (c *HTTPClient) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	req.Stream = false
	raw, err := c.post(ctx, "/chat/completions", req)
	if err != nil {
		return openai.ChatCompletionResponse{}, err
	}
	var resp openai.ChatCompletionResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return openai.ChatCompletionResponse{}, fmt.Errorf("decode chat completion: %w", err)
	}
	return resp, nil
}

func (c *HTTPClient) StreamChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (ChatStream, error) {
	req.Stream = true
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	c.setHeaders(httpReq)
	httpReq.Header.Set("Accept", "text/event-stream")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("stream request failed: %w", err)
	}
	if httpResp.StatusCode >= 300 {
		b, _ := io.ReadAll(httpResp.Body)
		_ = httpResp.Body.Close()
		return nil, &UpstreamError{StatusCode: httpResp.StatusCode, Body: b}
	}

	sc := bufio.NewScanner(httpResp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &sseStream{body: httpResp.Body, sc: sc}, nil
}

func (c *HTTPClient) CreateEmbeddings(ctx context.Context, req openai.EmbeddingsRequest) (openai.EmbeddingsResponse, error) {
	raw, err := c.post(ctx, "/embeddings", req)
	if err != nil {
		return openai.EmbeddingsResponse{}, err
	}
	var resp openai.EmbeddingsResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return openai.EmbeddingsResponse{}, fmt.Errorf("decode embeddings: %w", err)
	}
	return resp, nil
}

func (c *HTTPClient) post(ctx context.Context, path string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api request failed: %w", err)
	}
	defer resp.Body.Close()

	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		c.log.Error().
			Str("path", path).
			Int("status", resp.StatusCode).
			Str("body", string(b)).
			Msg("backend api error")
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Body: b}
	}
	return b, nil
}

func (c *HTTPClient) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

// sseStream pulls "data:" frames off an upstream text/event-stream body and
// decodes each into a chunk. "[DONE]" maps to io.EOF.
type sseStream struct {
	body io.ReadCloser
	sc   *bufio.Scanner
	done bool
}

func (s *sseStream) Recv() (openai.ChatCompletionChunk, error) {
	if s.done {
		return openai.ChatCompletionChunk{}, io.EOF
	}
	for s.sc.Scan() {
		ln := strings.TrimSpace(s.sc.Text())
		if ln == "" || !strings.HasPrefix(ln, "data:") {
			continue
		}
		ln = strings.TrimSpace(strings.TrimPrefix(ln, "data:"))
		if ln == "[DONE]" {
			s.done = true
			return openai.ChatCompletionChunk{}, io.EOF
		}
		var chunk openai.ChatCompletionChunk
		if err := json.Unmarshal([]byte(ln), &chunk); err != nil {
			return openai.ChatCompletionChunk{}, fmt.Errorf("decode stream chunk: %w", err)
		}
		return chunk, nil
	}
	if err := s.sc.Err(); err != nil {
		return openai.ChatCompletionChunk{}, err
	}
	s.done = true
	return openai.ChatCompletionChunk{}, io.EOF
}

func (s *sseStream) Close() error { return s.body.Close() }

// QueryEmbedder adapts an embeddings backend to the vectors.Embedder
// contract used by retrieval tools.
type QueryEmbedder struct {
	Client Client
	Model  string
}

func (e QueryEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.Client.CreateEmbeddings(ctx, openai.EmbeddingsRequest{Model: e.Model, Input: text})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("empty embeddings response")
	}
	return resp.Data[0].Embedding, nil
}
