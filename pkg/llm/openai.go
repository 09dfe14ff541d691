package llm

import (
	"context"
	"io"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	go_openai "github.com/sashabaranov/go-openai"

	"github.com/go-go-golems/spellbook/pkg/conversation"
)

// OpenAIClient talks to the OpenAI chat completion API (or any compatible
// endpoint via a custom base URL). Responses are streamed by default.
type OpenAIClient struct {
	client *go_openai.Client
}

var (
	_ Client       = (*OpenAIClient)(nil)
	_ ModelCatalog = (*OpenAIClient)(nil)
)

func NewOpenAIClient(apiKey string, baseURL string) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, errors.New("openai api key is required")
	}
	config := go_openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &OpenAIClient{client: go_openai.NewClientWithConfig(config)}, nil
}

func (c *OpenAIClient) Send(
	ctx context.Context,
	messages []*conversation.Message,
	model string,
	params map[string]interface{},
	onChunk ChunkHandler,
) (string, *Usage, error) {
	req, streaming := buildRequest(messages, model, params)

	log.Debug().
		Str("model", model).
		Int("message_count", len(messages)).
		Bool("streaming", streaming).
		Msg("sending chat completion request")

	if !streaming {
		resp, err := c.client.CreateChatCompletion(ctx, req)
		if err != nil {
			return "", nil, NewInteractionError(model, err)
		}
		if len(resp.Choices) == 0 {
			return "", nil, NewInteractionError(model, errors.New("no completion choices returned"))
		}
		usage := &Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		}
		return resp.Choices[0].Message.Content, usage, nil
	}

	req.Stream = true
	req.StreamOptions = &go_openai.StreamOptions{IncludeUsage: true}

	stream, err := c.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return "", nil, NewInteractionError(model, err)
	}
	defer func() {
		_ = stream.Close()
	}()

	completion := ""
	var usage *Usage
	for {
		select {
		case <-ctx.Done():
			return "", nil, NewInteractionError(model, ctx.Err())
		default:
		}

		response, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return completion, usage, nil
		}
		if err != nil {
			return "", nil, NewInteractionError(model, err)
		}

		if response.Usage != nil {
			usage = &Usage{
				InputTokens:  response.Usage.PromptTokens,
				OutputTokens: response.Usage.CompletionTokens,
			}
		}
		if len(response.Choices) == 0 {
			continue
		}
		delta := response.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		completion += delta
		if onChunk != nil {
			onChunk(delta)
		}
	}
}

// AvailableModels lists the models the configured endpoint serves.
func (c *OpenAIClient) AvailableModels(ctx context.Context) ([]ModelInfo, error) {
	resp, err := c.client.ListModels(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "could not list models")
	}
	ret := make([]ModelInfo, 0, len(resp.Models))
	for _, m := range resp.Models {
		ret = append(ret, ModelInfo{ID: m.ID, OwnedBy: m.OwnedBy})
	}
	return ret, nil
}

// buildRequest maps a message sequence and resolved request parameters onto
// a chat completion request. Unknown parameter keys are skipped with a
// warning rather than failing the call; the resolver has already filtered
// persona parameters, and override keys are the caller's responsibility.
func buildRequest(messages []*conversation.Message, model string, params map[string]interface{}) (go_openai.ChatCompletionRequest, bool) {
	req := go_openai.ChatCompletionRequest{
		Model:    model,
		Messages: make([]go_openai.ChatCompletionMessage, 0, len(messages)),
	}
	for _, msg := range messages {
		req.Messages = append(req.Messages, go_openai.ChatCompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}

	streaming := true
	for key, value := range params {
		switch key {
		case "temperature":
			if f, ok := toFloat32(value); ok {
				req.Temperature = f
			}
		case "top_p":
			if f, ok := toFloat32(value); ok {
				req.TopP = f
			}
		case "n":
			if n, ok := toInt(value); ok {
				req.N = n
			}
		case "max_tokens":
			if n, ok := toInt(value); ok {
				req.MaxTokens = n
			}
		case "presence_penalty":
			if f, ok := toFloat32(value); ok {
				req.PresencePenalty = f
			}
		case "frequency_penalty":
			if f, ok := toFloat32(value); ok {
				req.FrequencyPenalty = f
			}
		case "stop":
			req.Stop = toStringSlice(value)
		case "logit_bias":
			req.LogitBias = toLogitBias(value)
		case "stream":
			if b, ok := value.(bool); ok {
				streaming = b
			}
		case "user":
			if s, ok := value.(string); ok {
				req.User = s
			}
		case "seed":
			if n, ok := toInt(value); ok {
				req.Seed = &n
			}
		default:
			log.Warn().Str("param", key).Msg("skipping unsupported request parameter")
		}
	}

	return req, streaming
}

func toFloat32(v interface{}) (float32, bool) {
	switch f := v.(type) {
	case float32:
		return f, true
	case float64:
		return float32(f), true
	case int:
		return float32(f), true
	default:
		return 0, false
	}
}

func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

func toStringSlice(v interface{}) []string {
	switch s := v.(type) {
	case []string:
		return s
	case string:
		return []string{s}
	case []interface{}:
		ret := make([]string, 0, len(s))
		for _, item := range s {
			if str, ok := item.(string); ok {
				ret = append(ret, str)
			}
		}
		return ret
	default:
		return nil
	}
}

func toLogitBias(v interface{}) map[string]int {
	switch m := v.(type) {
	case map[string]int:
		return m
	case map[string]interface{}:
		ret := make(map[string]int, len(m))
		for k, item := range m {
			if n, ok := toInt(item); ok {
				ret[k] = n
			}
		}
		return ret
	default:
		return nil
	}
}
