package llm

import (
	"context"
	"errors"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubChatAPI struct {
	req  openai.ChatCompletionRequest
	resp openai.ChatCompletionResponse
	err  error
}

func (s *stubChatAPI) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	s.req = req
	return s.resp, s.err
}

func TestOpenAIClientWithoutKeyIsNotConfigured(t *testing.T) {
	client := NewOpenAIClient("  ", "")
	assert.False(t, client.Configured())
	_, err := client.Complete(context.Background(), Request{Messages: userTurn("hi")})
	assert.True(t, errors.Is(err, ErrNotConfigured))
}

func TestOpenAIClientBuildsChatRequest(t *testing.T) {
	api := &stubChatAPI{resp: openai.ChatCompletionResponse{
		Model: "gpt-4-0613",
		Choices: []openai.ChatCompletionChoice{{
			Message:      openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: " Drink water. "},
			FinishReason: openai.FinishReasonStop,
		}},
		Usage: openai.Usage{PromptTokens: 20, CompletionTokens: 5, TotalTokens: 25},
	}}
	client := newOpenAIClientWithAPI(api)

	resp, err := client.Complete(context.Background(), Request{
		System:           "be careful",
		Messages:         []Turn{{Role: RoleUser, Content: "hi"}, {Role: RoleAssistant, Content: "hello"}, {Role: RoleUser, Content: "thirsty"}},
		MaxTokens:        2000,
		Temperature:      0.3,
		PresencePenalty:  0.1,
		FrequencyPenalty: 0.1,
	})
	require.NoError(t, err)

	assert.Equal(t, "Drink water.", resp.Text)
	assert.Equal(t, "gpt-4-0613", resp.Model)
	assert.Equal(t, 25, resp.Usage.TotalTokens)
	assert.Equal(t, "stop", resp.StopReason)

	require.Len(t, api.req.Messages, 4)
	assert.Equal(t, openai.ChatMessageRoleSystem, api.req.Messages[0].Role)
	assert.Equal(t, "be careful", api.req.Messages[0].Content)
	assert.Equal(t, openai.ChatMessageRoleAssistant, api.req.Messages[2].Role)
	assert.Equal(t, defaultOpenAIModel, api.req.Model)
	assert.Equal(t, 2000, api.req.MaxTokens)
	assert.InDelta(t, 0.1, api.req.PresencePenalty, 1e-6)
	assert.InDelta(t, 0.1, api.req.FrequencyPenalty, 1e-6)
}

func TestOpenAIClientClassifiesErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{"rate limited", &openai.APIError{HTTPStatusCode: 429, Message: "slow down"}, ErrRateLimited},
		{"bad key", &openai.APIError{HTTPStatusCode: 401, Message: "invalid key"}, ErrAuthFailure},
		{"server error", &openai.RequestError{HTTPStatusCode: 503, Err: errors.New("unavailable")}, ErrProviderUnavailable},
		{"transport", errors.New("dial tcp: refused"), ErrProviderUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := newOpenAIClientWithAPI(&stubChatAPI{err: tc.err})
			_, err := client.Complete(context.Background(), Request{Messages: userTurn("hi")})
			assert.True(t, errors.Is(err, tc.want), "got %v", err)
		})
	}
}

func TestOpenAIClientNoChoices(t *testing.T) {
	client := newOpenAIClientWithAPI(&stubChatAPI{})
	_, err := client.Complete(context.Background(), Request{Messages: userTurn("hi")})
	assert.True(t, errors.Is(err, ErrProviderUnavailable))
}
