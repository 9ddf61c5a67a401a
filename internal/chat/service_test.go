package chat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ArtixJP/albert-api/internal/backends"
	"github.com/ArtixJP/albert-api/internal/history"
	"github.com/ArtixJP/albert-api/internal/openai"
	"github.com/ArtixJP/albert-api/internal/store"
	"github.com/ArtixJP/albert-api/internal/tools"
)

// --- fakes ---

type fakeSessions struct {
	messages  map[string][]openai.ChatMessage // "user|chat"
	gets      int
	appends   []appendCall
	appendErr error
}

type appendCall struct {
	userID, chatID string
	userMsg        openai.ChatMessage
	assistantMsg   openai.ChatMessage
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{messages: make(map[string][]openai.ChatMessage)}
}

func (f *fakeSessions) Get(_ context.Context, userID, chatID string) (store.Session, bool, error) {
	f.gets++
	msgs, ok := f.messages[userID+"|"+chatID]
	if !ok {
		return store.Session{}, false, nil
	}
	return store.Session{UserID: userID, ChatID: chatID, Messages: msgs}, true, nil
}

func (f *fakeSessions) Append(_ context.Context, userID, chatID string, userMsg, assistantMsg openai.ChatMessage) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	f.appends = append(f.appends, appendCall{userID, chatID, userMsg, assistantMsg})
	return nil
}

func (f *fakeSessions) List(context.Context, string) ([]store.SessionRef, error) { return nil, nil }

type fakeClient struct {
	resp      openai.ChatCompletionResponse
	chunks    []openai.ChatCompletionChunk
	streamErr error // returned after chunks instead of EOF

	calls   int
	lastReq openai.ChatCompletionRequest
	respErr error
}

func (c *fakeClient) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	c.calls++
	c.lastReq = req
	return c.resp, c.respErr
}

func (c *fakeClient) StreamChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (backends.ChatStream, error) {
	c.calls++
	c.lastReq = req
	return &fakeStream{chunks: c.chunks, err: c.streamErr}, nil
}

func (c *fakeClient) CreateEmbeddings(context.Context, openai.EmbeddingsRequest) (openai.EmbeddingsResponse, error) {
	return openai.EmbeddingsResponse{}, errors.New("not an embeddings backend")
}

type fakeStream struct {
	chunks []openai.ChatCompletionChunk
	err    error
	pos    int
}

func (s *fakeStream) Recv() (openai.ChatCompletionChunk, error) {
	if s.pos >= len(s.chunks) {
		if s.err != nil {
			return openai.ChatCompletionChunk{}, s.err
		}
		return openai.ChatCompletionChunk{}, io.EOF
	}
	ch := s.chunks[s.pos]
	s.pos++
	return ch, nil
}

func (s *fakeStream) Close() error { return nil }

type fakeRegistry map[string]backends.Client

func (r fakeRegistry) Resolve(model string) (backends.Client, error) {
	c, ok := r[model]
	if !ok {
		return nil, backends.ErrModelNotFound
	}
	return c, nil
}

type staticTool struct {
	name   string
	prompt string
	err    error
	calls  int
}

func (t *staticTool) Name() string { return t.name }
func (t *staticTool) GetPrompt(context.Context, tools.Invocation) (string, error) {
	t.calls++
	return t.prompt, t.err
}

// --- helpers ---

func newService(client backends.Client, sessions *fakeSessions, tls ...tools.Tool) *Service {
	reg := fakeRegistry{}
	if client != nil {
		reg["m1"] = client
	}
	return New(reg, history.New(sessions), tools.NewRegistry(tls...), zerolog.Nop())
}

func userSays(content string) []openai.ChatMessage {
	return []openai.ChatMessage{{Role: "user", Content: content}}
}

func backendReply(content string) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{
		ID:      "chatcmpl-upstream",
		Object:  "chat.completion",
		Choices: []openai.Choice{{Index: 0, Message: openai.ChatMessage{Role: "assistant", Content: content}}},
	}
}

func deltaChunk(index int, content string) openai.ChatCompletionChunk {
	return openai.ChatCompletionChunk{
		ID:      "chatcmpl-upstream",
		Object:  "chat.completion.chunk",
		Choices: []openai.ChunkChoice{{Index: index, Delta: openai.Delta{Content: &content}}},
	}
}

func finishChunk(index int) openai.ChatCompletionChunk {
	reason := "stop"
	return openai.ChatCompletionChunk{
		ID:      "chatcmpl-upstream",
		Object:  "chat.completion.chunk",
		Choices: []openai.ChunkChoice{{Index: index, FinishReason: &reason}},
	}
}

func collectFrames(t *testing.T, svc *Service, req openai.ChatCompletionRequest) ([]string, error) {
	t.Helper()
	var frames []string
	err := svc.Stream(context.Background(), req, "key", func(b []byte) error {
		frames = append(frames, string(b))
		return nil
	})
	return frames, err
}

// --- non-streaming ---

func TestCompleteAnonymousSkipsHistory(t *testing.T) {
	sessions := newFakeSessions()
	client := &fakeClient{resp: backendReply("hello")}
	svc := newService(client, sessions)

	resp, err := svc.Complete(context.Background(), openai.ChatCompletionRequest{
		Model:    "m1",
		Messages: userSays("hi"),
	}, "key")
	require.NoError(t, err)

	assert.Equal(t, "chatcmpl-upstream", resp.ID, "anonymous responses keep the backend id")
	assert.Zero(t, sessions.gets)
	assert.Empty(t, sessions.appends)
}

func TestCompleteMintsChatID(t *testing.T) {
	sessions := newFakeSessions()
	client := &fakeClient{resp: backendReply("bonjour")}
	svc := newService(client, sessions)

	req := openai.ChatCompletionRequest{Model: "m1", User: "u1", Messages: userSays("hi")}

	resp, err := svc.Complete(context.Background(), req, "key")
	require.NoError(t, err)

	_, parseErr := uuid.Parse(resp.ID)
	require.NoError(t, parseErr, "minted chat id must be a uuid")

	require.Equal(t, userSays("hi"), client.lastReq.Messages)

	require.Len(t, sessions.appends, 1)
	commit := sessions.appends[0]
	assert.Equal(t, "u1", commit.userID)
	assert.Equal(t, resp.ID, commit.chatID)
	assert.Equal(t, openai.ChatMessage{Role: "user", Content: "hi"}, commit.userMsg)
	assert.Equal(t, openai.ChatMessage{Role: "assistant", Content: "bonjour"}, commit.assistantMsg)

	resp2, err := svc.Complete(context.Background(), req, "key")
	require.NoError(t, err)
	assert.NotEqual(t, resp.ID, resp2.ID, "each exchange without a chat id gets a fresh one")
}

func TestCompletePrependsExistingHistory(t *testing.T) {
	sessions := newFakeSessions()
	sessions.messages["u1|c1"] = []openai.ChatMessage{
		{Role: "user", Content: "prev"},
		{Role: "assistant", Content: "ans"},
	}
	client := &fakeClient{resp: backendReply("again")}
	svc := newService(client, sessions)

	resp, err := svc.Complete(context.Background(), openai.ChatCompletionRequest{
		ID: "c1", Model: "m1", User: "u1", Messages: userSays("hi"),
	}, "key")
	require.NoError(t, err)

	assert.Equal(t, []openai.ChatMessage{
		{Role: "user", Content: "prev"},
		{Role: "assistant", Content: "ans"},
		{Role: "user", Content: "hi"},
	}, client.lastReq.Messages)
	assert.Equal(t, "c1", resp.ID)

	require.Len(t, sessions.appends, 1)
	assert.Equal(t, openai.ChatMessage{Role: "user", Content: "hi"}, sessions.appends[0].userMsg)
}

func TestCompleteUnknownSessionBehavesAsEmpty(t *testing.T) {
	sessions := newFakeSessions()
	client := &fakeClient{resp: backendReply("ok")}
	svc := newService(client, sessions)

	_, err := svc.Complete(context.Background(), openai.ChatCompletionRequest{
		ID: "nope", Model: "m1", User: "u1", Messages: userSays("hi"),
	}, "key")
	require.NoError(t, err)
	assert.Equal(t, userSays("hi"), client.lastReq.Messages)
}

func TestCompleteUnknownModel(t *testing.T) {
	svc := newService(nil, newFakeSessions())

	_, err := svc.Complete(context.Background(), openai.ChatCompletionRequest{
		Model: "missing", Messages: userSays("hi"),
	}, "key")
	require.ErrorIs(t, err, backends.ErrModelNotFound)
}

func TestCompleteEmptyMessages(t *testing.T) {
	svc := newService(&fakeClient{}, newFakeSessions())

	_, err := svc.Complete(context.Background(), openai.ChatCompletionRequest{Model: "m1"}, "key")
	require.ErrorIs(t, err, ErrNoMessages)
}

func TestCompleteBackendErrorPropagatesWithoutCommit(t *testing.T) {
	sessions := newFakeSessions()
	client := &fakeClient{respErr: errors.New("upstream exploded")}
	svc := newService(client, sessions)

	_, err := svc.Complete(context.Background(), openai.ChatCompletionRequest{
		Model: "m1", User: "u1", Messages: userSays("hi"),
	}, "key")
	require.ErrorContains(t, err, "upstream exploded")
	assert.Empty(t, sessions.appends, "no history commit after a failed backend call")
}

func TestCompleteCommitErrorSurfaces(t *testing.T) {
	sessions := newFakeSessions()
	sessions.appendErr = errors.New("store down")
	svc := newService(&fakeClient{resp: backendReply("x")}, sessions)

	_, err := svc.Complete(context.Background(), openai.ChatCompletionRequest{
		Model: "m1", User: "u1", Messages: userSays("hi"),
	}, "key")
	require.ErrorContains(t, err, "store down")
}

// --- tools ---

func toolSpec(name string) openai.ToolSpec {
	return openai.ToolSpec{Type: "function", Function: openai.ToolFunction{Name: name}}
}

func TestUnknownToolAbortsBeforeDispatch(t *testing.T) {
	for _, stream := range []bool{false, true} {
		client := &fakeClient{resp: backendReply("x")}
		svc := newService(client, newFakeSessions())

		req := openai.ChatCompletionRequest{
			Model:    "m1",
			Stream:   stream,
			Messages: userSays("hi"),
			Tools:    []openai.ToolSpec{toolSpec("nope")},
		}

		var err error
		if stream {
			err = svc.Stream(context.Background(), req, "key", func([]byte) error { return nil })
		} else {
			_, err = svc.Complete(context.Background(), req, "key")
		}
		require.ErrorIs(t, err, tools.ErrToolNotFound)
		assert.Zero(t, client.calls, "no backend call after a tool resolution failure")
	}
}

func TestToolExecutionErrorAbortsBeforeDispatch(t *testing.T) {
	client := &fakeClient{resp: backendReply("x")}
	broken := &staticTool{name: "broken", err: errors.New("boom")}
	svc := newService(client, newFakeSessions(), broken)

	_, err := svc.Complete(context.Background(), openai.ChatCompletionRequest{
		Model:    "m1",
		Messages: userSays("hi"),
		Tools:    []openai.ToolSpec{toolSpec("broken")},
	}, "key")

	var execErr *tools.ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.ErrorContains(t, execErr.Cause, "boom")
	assert.Zero(t, client.calls)
}

func TestLastToolWinsAndToolsAreStripped(t *testing.T) {
	client := &fakeClient{resp: backendReply("x")}
	first := &staticTool{name: "first", prompt: "alpha"}
	second := &staticTool{name: "second", prompt: "beta"}
	svc := newService(client, newFakeSessions(), first, second)

	_, err := svc.Complete(context.Background(), openai.ChatCompletionRequest{
		Model:    "m1",
		Messages: userSays("hi"),
		Tools:    []openai.ToolSpec{toolSpec("first"), toolSpec("second")},
	}, "key")
	require.NoError(t, err)

	assert.Equal(t, 1, first.calls, "earlier tools still run")
	assert.Equal(t, 1, second.calls)
	assert.Equal(t, []openai.ChatMessage{{Role: "user", Content: "beta"}}, client.lastReq.Messages,
		"only the last tool's output reaches the backend")
	assert.Nil(t, client.lastReq.Tools)
	assert.Empty(t, client.lastReq.ID)
}

func TestToolRewriteDoesNotChangeCommittedUserMessage(t *testing.T) {
	sessions := newFakeSessions()
	client := &fakeClient{resp: backendReply("réponse")}
	rag := &staticTool{name: "rag", prompt: "rewritten with context"}
	svc := newService(client, sessions, rag)

	_, err := svc.Complete(context.Background(), openai.ChatCompletionRequest{
		Model:    "m1",
		User:     "u1",
		Messages: userSays("original question"),
		Tools:    []openai.ToolSpec{toolSpec("rag")},
	}, "key")
	require.NoError(t, err)

	require.Len(t, sessions.appends, 1)
	assert.Equal(t, "original question", sessions.appends[0].userMsg.Content,
		"history records the user's turn, not the tool rewrite")
}

// --- streaming ---

func TestStreamAggregatesAndCommitsChoiceZero(t *testing.T) {
	sessions := newFakeSessions()
	n := 2
	client := &fakeClient{chunks: []openai.ChatCompletionChunk{
		deltaChunk(0, "Hel"),
		deltaChunk(1, "Wor"),
		deltaChunk(0, "lo"),
		deltaChunk(1, "ld"),
		finishChunk(0),
	}}
	svc := newService(client, sessions)

	frames, err := collectFrames(t, svc, openai.ChatCompletionRequest{
		ID: "c1", Model: "m1", User: "u1", Stream: true, N: &n, Messages: userSays("hi"),
	})
	require.NoError(t, err)

	require.Len(t, frames, 6)
	assert.Equal(t, "data: [DONE] \n\n", frames[len(frames)-1])
	for _, f := range frames[:len(frames)-1] {
		assert.True(t, strings.HasPrefix(f, "data: "))
		assert.True(t, strings.HasSuffix(f, "\n\n"))
	}

	// Events are restamped with the chat id, and absent values go out as
	// JSON null, never omitted.
	var chunk openai.ChatCompletionChunk
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(frames[0]), "data: ")), &chunk))
	assert.Equal(t, "c1", chunk.ID)
	assert.Contains(t, frames[4], `"content":null`)
	assert.Contains(t, frames[4], `"finish_reason":"stop"`)

	// Both buffers accumulate independently; only choice 0 is persisted.
	require.Len(t, sessions.appends, 1)
	assert.Equal(t, openai.ChatMessage{Role: "assistant", Content: "Hello"}, sessions.appends[0].assistantMsg)
}

func TestStreamAnonymousKeepsUpstreamID(t *testing.T) {
	sessions := newFakeSessions()
	client := &fakeClient{chunks: []openai.ChatCompletionChunk{deltaChunk(0, "hi")}}
	svc := newService(client, sessions)

	frames, err := collectFrames(t, svc, openai.ChatCompletionRequest{
		Model: "m1", Stream: true, Messages: userSays("hi"),
	})
	require.NoError(t, err)

	assert.Contains(t, frames[0], `"id":"chatcmpl-upstream"`)
	assert.Empty(t, sessions.appends)
}

func TestStreamConsumerGoneSkipsCommit(t *testing.T) {
	sessions := newFakeSessions()
	client := &fakeClient{chunks: []openai.ChatCompletionChunk{
		deltaChunk(0, "a"), deltaChunk(0, "b"),
	}}
	svc := newService(client, sessions)

	emitted := 0
	err := svc.Stream(context.Background(), openai.ChatCompletionRequest{
		Model: "m1", User: "u1", Stream: true, Messages: userSays("hi"),
	}, "key", func([]byte) error {
		emitted++
		if emitted > 1 {
			return errors.New("client disconnected")
		}
		return nil
	})

	require.ErrorContains(t, err, "client disconnected")
	assert.Empty(t, sessions.appends, "no commit without a fully drained stream")
}

func TestStreamUpstreamErrorSkipsSentinelAndCommit(t *testing.T) {
	sessions := newFakeSessions()
	client := &fakeClient{
		chunks:    []openai.ChatCompletionChunk{deltaChunk(0, "partial")},
		streamErr: errors.New("backend reset"),
	}
	svc := newService(client, sessions)

	frames, err := collectFrames(t, svc, openai.ChatCompletionRequest{
		Model: "m1", User: "u1", Stream: true, Messages: userSays("hi"),
	})

	require.ErrorContains(t, err, "backend reset")
	for _, f := range frames {
		assert.NotContains(t, f, "[DONE]")
	}
	assert.Empty(t, sessions.appends)
}

func TestStreamOutOfRangeChoiceIndexIsNotAccumulated(t *testing.T) {
	sessions := newFakeSessions()
	client := &fakeClient{chunks: []openai.ChatCompletionChunk{
		deltaChunk(0, "kept"),
		deltaChunk(5, "dropped"),
	}}
	svc := newService(client, sessions)

	_, err := collectFrames(t, svc, openai.ChatCompletionRequest{
		Model: "m1", User: "u1", Stream: true, Messages: userSays("hi"),
	})
	require.NoError(t, err)

	require.Len(t, sessions.appends, 1)
	assert.Equal(t, "kept", sessions.appends[0].assistantMsg.Content)
}
