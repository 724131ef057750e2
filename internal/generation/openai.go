package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/meleki1/salesagent/internal/domain"
)

const (
	// DefaultOpenAIModel is used when no model is configured.
	DefaultOpenAIModel = "gpt-4o-mini"
	maxHistoryMessages = 20
)

var errNoChoices = errors.New("openai returned no choices")

// chatClient is the subset of *openai.Client used here.
type chatClient interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIClient classifies and generates directly against an OpenAI-compatible
// chat completions API, for deployments without the sidecar.
type OpenAIClient struct {
	client chatClient
	model  string
	logger *slog.Logger
}

// Compile-time checks.
var (
	_ Classifier = (*OpenAIClient)(nil)
	_ Generator  = (*OpenAIClient)(nil)
)

// OpenAIConfig configures NewOpenAIClient.
type OpenAIConfig struct {
	APIKey string
	// BaseURL overrides the API endpoint for compatible providers.
	BaseURL string
	Model   string
}

// NewOpenAIClient builds a client from cfg.
func NewOpenAIClient(cfg OpenAIConfig, logger *slog.Logger) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai api key is required")
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	return newOpenAIClient(openai.NewClientWithConfig(oc), cfg.Model, logger), nil
}

func newOpenAIClient(client chatClient, model string, logger *slog.Logger) *OpenAIClient {
	if model == "" {
		model = DefaultOpenAIModel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAIClient{client: client, model: model, logger: logger}
}

// Classify asks the model for a single intent label.
func (c *OpenAIClient) Classify(ctx context.Context, text string) (domain.Intent, error) {
	label, err := c.complete(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: ClassificationPrompt},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
		Temperature: 0,
		MaxTokens:   16,
	})
	if err != nil {
		return domain.IntentUnknown, fmt.Errorf("classify: %w", err)
	}
	return domain.ParseIntent(label), nil
}

// Generate produces assistant text for p from the conversation so far.
func (c *OpenAIClient) Generate(ctx context.Context, p Prompt) (string, error) {
	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: SystemPrompt},
	}
	if instr := purposeInstruction(p); instr != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: instr})
	}
	messages = append(messages, chatHistory(p.History, maxHistoryMessages)...)

	text, err := c.complete(ctx, openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: messages,
	})
	if err != nil {
		c.logger.Warn("OpenAI generation failed", "error", err, "session_id", p.SessionID, "model", c.model)
		return "", fmt.Errorf("generate: %w", err)
	}
	return text, nil
}

func (c *OpenAIClient) complete(ctx context.Context, req openai.ChatCompletionRequest) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("openai completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errNoChoices
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// purposeInstruction tells the model what this particular turn must achieve.
func purposeInstruction(p Prompt) string {
	switch p.Purpose {
	case PurposeCollectInfo:
		if len(p.Missing) == 0 {
			return ""
		}
		return "Politely ask the customer for the details still missing for their order: " +
			strings.Join(p.Missing, ", ") + ". Ask only for these."
	case PurposePaymentConfirmation:
		var b strings.Builder
		fmt.Fprintf(&b, "The customer's payment for order #%d has been confirmed. ", p.OrderID)
		b.WriteString(`Start with "Payment received", thank them by first name`)
		if p.Info.Address != "" {
			fmt.Fprintf(&b, ", and say the order will be delivered to %s", p.Info.Address)
		}
		b.WriteString(". Do not mention payment links.")
		return b.String()
	case PurposeReply:
		return ""
	}
	return ""
}

func chatHistory(history []domain.Message, limit int) []openai.ChatCompletionMessage {
	if len(history) > limit {
		history = history[len(history)-limit:]
	}
	out := make([]openai.ChatCompletionMessage, 0, len(history))
	for _, m := range history {
		role := openai.ChatMessageRoleUser
		switch m.Role {
		case domain.RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		case domain.RoleSystem:
			role = openai.ChatMessageRoleSystem
		case domain.RoleUser:
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	return out
}
