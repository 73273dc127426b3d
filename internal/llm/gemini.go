package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/googleapis/gax-go/v2/apierror"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
)

const (
	ProviderGemini     = "gemini"
	defaultGeminiModel = "gemini-1.5-flash"
)

// GeminiClient implements Client using Google's Gemini API.
type GeminiClient struct {
	client  *genai.Client
	modelID string
}

// NewGeminiClient creates a Gemini client. An empty key is reported as
// ErrNotConfigured so callers can fall back to an unconfigured gateway.
func NewGeminiClient(ctx context.Context, apiKey, modelID string) (*GeminiClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("llm: gemini: %w", ErrNotConfigured)
	}
	if strings.TrimSpace(modelID) == "" {
		modelID = defaultGeminiModel
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("llm: failed to create gemini client: %w", err)
	}
	return &GeminiClient{client: client, modelID: modelID}, nil
}

func (c *GeminiClient) Complete(ctx context.Context, req Request) (Response, error) {
	if len(req.Messages) == 0 {
		return Response{}, errors.New("llm: gemini requires at least one message")
	}
	modelID := c.modelID
	if strings.TrimSpace(req.Model) != "" {
		modelID = req.Model
	}
	model := c.client.GenerativeModel(modelID)
	configureGeminiModel(model, req)

	cs := model.StartChat()
	for _, turn := range req.Messages[:len(req.Messages)-1] {
		content := strings.TrimSpace(turn.Content)
		if content == "" || turn.Role == RoleSystem {
			continue
		}
		cs.History = append(cs.History, &genai.Content{
			Role:  geminiRole(turn.Role),
			Parts: []genai.Part{genai.Text(content)},
		})
	}

	last := req.Messages[len(req.Messages)-1]
	resp, err := cs.SendMessage(ctx, genai.Text(last.Content))
	if err != nil {
		return Response{}, classifyGeminiError(err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return Response{}, &ProviderError{Provider: ProviderGemini, Kind: ErrProviderUnavailable, Err: errors.New("no candidates returned")}
	}

	candidate := resp.Candidates[0]
	var text strings.Builder
	for _, part := range candidate.Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}

	out := Response{
		Text:       strings.TrimSpace(text.String()),
		Model:      modelID,
		StopReason: candidate.FinishReason.String(),
	}
	if resp.UsageMetadata != nil {
		out.Usage = Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:  int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	return out, nil
}

// configureGeminiModel applies the generation parameters of req to model.
func configureGeminiModel(model *genai.GenerativeModel, req Request) {
	model.SetTemperature(req.Temperature)
	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(req.MaxTokens))
	}
	if req.PresencePenalty != 0 {
		presence := req.PresencePenalty
		model.PresencePenalty = &presence
	}
	if req.FrequencyPenalty != 0 {
		frequency := req.FrequencyPenalty
		model.FrequencyPenalty = &frequency
	}
	if strings.TrimSpace(req.System) != "" {
		model.SystemInstruction = genai.NewUserContent(genai.Text(req.System))
	}
}

// Close releases resources held by the Gemini client.
func (c *GeminiClient) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

func geminiRole(role Role) string {
	if role == RoleAssistant {
		return "model"
	}
	return "user"
}

func classifyGeminiError(err error) error {
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		return &ProviderError{Provider: ProviderGemini, StatusCode: gErr.Code, Kind: KindForStatus(gErr.Code), Err: err}
	}
	var apiErr *apierror.APIError
	if errors.As(err, &apiErr) {
		if code := apiErr.HTTPCode(); code > 0 {
			return &ProviderError{Provider: ProviderGemini, StatusCode: code, Kind: KindForStatus(code), Err: err}
		}
		if st := apiErr.GRPCStatus(); st != nil {
			return &ProviderError{Provider: ProviderGemini, Kind: kindForGRPC(st.Code()), Err: err}
		}
	}
	return &ProviderError{Provider: ProviderGemini, Kind: ErrProviderUnavailable, Err: err}
}

func kindForGRPC(code codes.Code) error {
	switch code {
	case codes.ResourceExhausted:
		return ErrRateLimited
	case codes.Unauthenticated, codes.PermissionDenied:
		return ErrAuthFailure
	default:
		return ErrProviderUnavailable
	}
}
