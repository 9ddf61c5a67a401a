package openai

// Wire types for the OpenAI-compatible surface. Nullable response fields are
// pointers without omitempty on purpose: clients expect explicit JSON nulls,
// never missing keys.

type ChatMessage struct {
	Role    string `json:"role"` // system|user|assistant|tool
	Content string `json:"content"`
}

type ToolFunction struct {
	Name       string         `json:"name"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// ToolSpec declares a gateway tool on a chat request. Tools are a
// pre-processing directive local to the gateway; they are stripped before
// the request reaches a backend.
type ToolSpec struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

type ChatCompletionRequest struct {
	ID               string        `json:"id,omitempty"` // chat id for history continuity
	Messages         []ChatMessage `json:"messages"`
	Model            string        `json:"model"`
	Stream           bool          `json:"stream,omitempty"`
	FrequencyPenalty *float64      `json:"frequency_penalty,omitempty"`
	MaxTokens        *int          `json:"max_tokens,omitempty"`
	N                *int          `json:"n,omitempty"`
	PresencePenalty  *float64      `json:"presence_penalty,omitempty"`
	Temperature      *float64      `json:"temperature,omitempty"`
	TopP             *float64      `json:"top_p,omitempty"`
	Seed             *int          `json:"seed,omitempty"`
	Stop             []string      `json:"stop,omitempty"`
	User             string        `json:"user,omitempty"`
	ToolChoice       any           `json:"tool_choice,omitempty"`
	Tools            []ToolSpec    `json:"tools,omitempty"`
}

// ChoiceCount returns n, defaulting to one parallel completion.
func (r ChatCompletionRequest) ChoiceCount() int {
	if r.N != nil && *r.N > 0 {
		return *r.N
	}
	return 1
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type Choice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason *string     `json:"finish_reason"`
}

type ChatCompletionResponse struct {
	ID                string   `json:"id"`
	Object            string   `json:"object"`
	Created           int64    `json:"created"`
	Model             string   `json:"model"`
	SystemFingerprint *string  `json:"system_fingerprint"`
	Choices           []Choice `json:"choices"`
	Usage             *Usage   `json:"usage"`
}

type Delta struct {
	Role    *string `json:"role"`
	Content *string `json:"content"`
}

type ChunkChoice struct {
	Index        int     `json:"index"`
	Delta        Delta   `json:"delta"`
	FinishReason *string `json:"finish_reason"`
}

type ChatCompletionChunk struct {
	ID                string        `json:"id"`
	Object            string        `json:"object"`
	Created           int64         `json:"created"`
	Model             string        `json:"model"`
	SystemFingerprint *string       `json:"system_fingerprint"`
	Choices           []ChunkChoice `json:"choices"`
	Usage             *Usage        `json:"usage"`
}

type EmbeddingsRequest struct {
	Model          string `json:"model"`
	Input          any    `json:"input"`
	EncodingFormat string `json:"encoding_format,omitempty"`
	User           string `json:"user,omitempty"`
}

type Embedding struct {
	Object    string    `json:"object"`
	Index     int       `json:"index"`
	Embedding []float32 `json:"embedding"`
}

type EmbeddingsResponse struct {
	Object string      `json:"object"`
	Data   []Embedding `json:"data"`
	Model  string      `json:"model"`
	Usage  *Usage      `json:"usage"`
}

type ModelEntry struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	OwnedBy string `json:"owned_by,omitempty"`
}

type ModelsResponse struct {
	Object string       `json:"object"`
	Data   []ModelEntry `json:"data"`
}
