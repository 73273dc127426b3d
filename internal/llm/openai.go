package llm

import (
	"context"
	"errors"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const (
	ProviderOpenAI     = "openai"
	defaultOpenAIModel = "gpt-4"
)

type chatCompletionAPI interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIClient implements Client with the OpenAI chat completions API.
type OpenAIClient struct {
	api chatCompletionAPI
}

// NewOpenAIClient reads the credential once. An empty key yields a client that
// fails every call with ErrNotConfigured without touching the network.
func NewOpenAIClient(apiKey, baseURL string) *OpenAIClient {
	if strings.TrimSpace(apiKey) == "" {
		return &OpenAIClient{}
	}
	cfg := openai.DefaultConfig(apiKey)
	if strings.TrimSpace(baseURL) != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return &OpenAIClient{api: openai.NewClientWithConfig(cfg)}
}

func newOpenAIClientWithAPI(api chatCompletionAPI) *OpenAIClient {
	return &OpenAIClient{api: api}
}

// Configured reports whether a credential was supplied.
func (c *OpenAIClient) Configured() bool { return c != nil && c.api != nil }

func (c *OpenAIClient) Complete(ctx context.Context, req Request) (Response, error) {
	if !c.Configured() {
		return Response{}, &ProviderError{Provider: ProviderOpenAI, Kind: ErrNotConfigured}
	}
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = defaultOpenAIModel
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if strings.TrimSpace(req.System) != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	for _, turn := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{Role: openAIRole(turn.Role), Content: turn.Content})
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:            model,
		Messages:         messages,
		MaxTokens:        req.MaxTokens,
		Temperature:      req.Temperature,
		PresencePenalty:  req.PresencePenalty,
		FrequencyPenalty: req.FrequencyPenalty,
	})
	if err != nil {
		return Response{}, ClassifyOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return Response{}, &ProviderError{Provider: ProviderOpenAI, Kind: ErrProviderUnavailable, Err: errors.New("response had no choices")}
	}

	out := Response{
		Text:       strings.TrimSpace(resp.Choices[0].Message.Content),
		Model:      resp.Model,
		StopReason: string(resp.Choices[0].FinishReason),
		Usage: Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
	}
	if out.Model == "" {
		out.Model = model
	}
	return out, nil
}

func openAIRole(role Role) string {
	switch role {
	case RoleAssistant:
		return openai.ChatMessageRoleAssistant
	case RoleSystem:
		return openai.ChatMessageRoleSystem
	default:
		return openai.ChatMessageRoleUser
	}
}

// ClassifyOpenAIError maps a go-openai failure onto the provider sentinels.
func ClassifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &ProviderError{Provider: ProviderOpenAI, StatusCode: apiErr.HTTPStatusCode, Kind: KindForStatus(apiErr.HTTPStatusCode), Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &ProviderError{Provider: ProviderOpenAI, StatusCode: reqErr.HTTPStatusCode, Kind: KindForStatus(reqErr.HTTPStatusCode), Err: err}
	}
	return &ProviderError{Provider: ProviderOpenAI, Kind: ErrProviderUnavailable, Err: err}
}
