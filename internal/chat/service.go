// Package chat is the request-transformation and streaming pipeline:
// history continuity, tool invocation, backend dispatch and per-choice
// stream aggregation.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/rs/zerolog"

	"github.com/ArtixJP/albert-api/internal/backends"
	"github.com/ArtixJP/albert-api/internal/history"
	"github.com/ArtixJP/albert-api/internal/openai"
	"github.com/ArtixJP/albert-api/internal/tools"
)

var ErrNoMessages = errors.New("messages must not be empty")

// Backends is the slice of the registry the service needs; the real
// *backends.Registry satisfies it.
type Backends interface {
	Resolve(model string) (backends.Client, error)
}

type Service struct {
	backends Backends
	history  *history.Manager
	tools    *tools.Registry
	log      zerolog.Logger
}

func New(b Backends, h *history.Manager, t *tools.Registry, log zerolog.Logger) *Service {
	return &Service{backends: b, history: h, tools: t, log: log}
}

// prepared is one request after the pre-dispatch pipeline: backend
// resolved, history expanded, tools applied and stripped.
type prepared struct {
	client  backends.Client
	chatID  string
	userMsg openai.ChatMessage
	req     openai.ChatCompletionRequest
}

// prepare runs everything that must happen before a backend call. Any
// failure here aborts the request with no side effects on the backend.
func (s *Service) prepare(ctx context.Context, req openai.ChatCompletionRequest, apiKey string) (prepared, error) {
	if len(req.Messages) == 0 {
		return prepared{}, ErrNoMessages
	}

	client, err := s.backends.Resolve(req.Model)
	if err != nil {
		return prepared{}, err
	}

	// The user's turn is the last incoming message, captured before any
	// tool rewrites the list; this is what history records.
	userMsg := req.Messages[len(req.Messages)-1]

	chatID, msgs, err := s.history.Expand(ctx, req.User, req.ID, req.Messages)
	if err != nil {
		return prepared{}, err
	}
	req.Messages = msgs

	if len(req.Tools) > 0 {
		msgs, err = s.tools.Invoke(ctx, req.Tools, req, apiKey)
		if err != nil {
			return prepared{}, err
		}
		req.Messages = msgs
	}

	// Tools are a local directive; the chat id is gateway-only. Neither is
	// forwarded upstream.
	req.Tools = nil
	req.ToolChoice = nil
	req.ID = ""

	return prepared{client: client, chatID: chatID, userMsg: userMsg, req: req}, nil
}

// Complete runs one synchronous exchange. For user-scoped requests the
// response id is overwritten with the effective chat id and the exchange is
// committed to history before returning.
func (s *Service) Complete(ctx context.Context, req openai.ChatCompletionRequest, apiKey string) (openai.ChatCompletionResponse, error) {
	p, err := s.prepare(ctx, req, apiKey)
	if err != nil {
		return openai.ChatCompletionResponse{}, err
	}

	resp, err := p.client.CreateChatCompletion(ctx, p.req)
	if err != nil {
		return openai.ChatCompletionResponse{}, err
	}

	if p.req.User != "" {
		resp.ID = p.chatID
		var assistant string
		if len(resp.Choices) > 0 {
			assistant = resp.Choices[0].Message.Content
		}
		if err := s.history.Commit(ctx, p.req.User, p.chatID,
			p.userMsg, openai.ChatMessage{Role: "assistant", Content: assistant}); err != nil {
			return openai.ChatCompletionResponse{}, err
		}
	}
	return resp, nil
}

// Stream runs one streamed exchange. Frames are pushed through emit as
// they are produced; the consumer's pull pace is the only backpressure.
//
// Per upstream chunk: the first choice's delta is appended to that choice
// index's buffer, the chunk id is restamped with the chat id when the
// request is user-scoped, and the chunk goes out as one SSE frame. After
// upstream exhaustion the [DONE] sentinel is emitted and only then, for
// user-scoped requests, is history committed — with choice 0's accumulated
// text. If emit fails (consumer gone) the commit never runs.
func (s *Service) Stream(ctx context.Context, req openai.ChatCompletionRequest, apiKey string, emit func([]byte) error) error {
	p, err := s.prepare(ctx, req, apiKey)
	if err != nil {
		return err
	}

	stream, err := p.client.StreamChatCompletion(ctx, p.req)
	if err != nil {
		return err
	}
	defer func() { _ = stream.Close() }()

	content := make([]string, p.req.ChoiceCount())

	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		if len(chunk.Choices) > 0 {
			ch := chunk.Choices[0]
			if ch.Delta.Content != nil && ch.Index >= 0 && ch.Index < len(content) {
				content[ch.Index] += *ch.Delta.Content
			}
		}
		if p.req.User != "" {
			chunk.ID = p.chatID
		}

		payload, err := json.Marshal(chunk)
		if err != nil {
			return err
		}
		if err := emit(frame(payload)); err != nil {
			return err
		}
	}

	if err := emit([]byte("data: [DONE] \n\n")); err != nil {
		return err
	}

	if p.req.User != "" {
		return s.history.Commit(ctx, p.req.User, p.chatID,
			p.userMsg, openai.ChatMessage{Role: "assistant", Content: content[0]})
	}
	return nil
}

func frame(payload []byte) []byte {
	out := make([]byte, 0, len(payload)+8)
	out = append(out, "data: "...)
	out = append(out, payload...)
	out = append(out, "\n\n"...)
	return out
}
