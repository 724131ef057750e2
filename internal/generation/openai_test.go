package generation

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/sashabaranov/go-openai"

	"github.com/meleki1/salesagent/internal/domain"
)

type fakeChat struct {
	reply string
	err   error
	empty bool
	last  openai.ChatCompletionRequest
}

func (f *fakeChat) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.last = req
	if f.err != nil {
		return openai.ChatCompletionResponse{}, f.err
	}
	if f.empty {
		return openai.ChatCompletionResponse{}, nil
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: f.reply}}},
	}, nil
}

func TestOpenAIClassify(t *testing.T) {
	t.Parallel()
	tests := []struct {
		reply string
		want  domain.Intent
	}{
		{"payment_initiation", domain.IntentPaymentInitiation},
		{"  Order_Confirmation.\n", domain.IntentOrderConfirmation},
		{"something odd", domain.IntentUnknown},
	}
	for _, tt := range tests {
		fc := &fakeChat{reply: tt.reply}
		c := newOpenAIClient(fc, "", nil)
		got, err := c.Classify(context.Background(), "pay now")
		if err != nil {
			t.Fatalf("Classify(%q) error: %v", tt.reply, err)
		}
		if got != tt.want {
			t.Errorf("Classify with reply %q = %q, want %q", tt.reply, got, tt.want)
		}
		if fc.last.Model != DefaultOpenAIModel {
			t.Errorf("model = %q, want %q", fc.last.Model, DefaultOpenAIModel)
		}
		if fc.last.Messages[0].Content != ClassificationPrompt {
			t.Error("classification prompt not sent as system message")
		}
	}
}

func TestOpenAIErrors(t *testing.T) {
	t.Parallel()
	c := newOpenAIClient(&fakeChat{err: errors.New("rate limited")}, "gpt-test", nil)
	if _, err := c.Classify(context.Background(), "hi"); err == nil {
		t.Fatal("expected classify error")
	}

	c = newOpenAIClient(&fakeChat{empty: true}, "gpt-test", nil)
	if _, err := c.Generate(context.Background(), Prompt{}); !errors.Is(err, errNoChoices) {
		t.Fatalf("expected errNoChoices, got %v", err)
	}
}

func TestOpenAIGenerateBuildsConversation(t *testing.T) {
	t.Parallel()
	fc := &fakeChat{reply: "  Could you share your phone number?  "}
	c := newOpenAIClient(fc, "gpt-test", nil)

	history := []domain.Message{
		{Role: domain.RoleUser, Content: "I want to buy"},
		{Role: domain.RoleAssistant, Content: "Great!"},
		{Role: domain.RoleUser, Content: "ada@example.com"},
	}
	text, err := c.Generate(context.Background(), Prompt{
		Purpose: PurposeCollectInfo,
		History: history,
		Missing: []string{"phone", "address"},
	})
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	if text != "Could you share your phone number?" {
		t.Fatalf("text = %q", text)
	}

	msgs := fc.last.Messages
	if len(msgs) != 2+len(history) {
		t.Fatalf("got %d messages, want %d", len(msgs), 2+len(history))
	}
	if msgs[0].Content != SystemPrompt || !strings.Contains(msgs[1].Content, "phone, address") {
		t.Fatalf("unexpected system messages: %+v", msgs[:2])
	}
	if msgs[3].Role != openai.ChatMessageRoleAssistant {
		t.Fatalf("assistant role not preserved: %+v", msgs[3])
	}
}

func TestChatHistoryKeepsMostRecent(t *testing.T) {
	t.Parallel()
	history := make([]domain.Message, 30)
	for i := range history {
		history[i] = domain.Message{Role: domain.RoleUser, Content: string(rune('a' + i%26))}
	}
	got := chatHistory(history, 5)
	if len(got) != 5 || got[4].Content != history[29].Content {
		t.Fatalf("unexpected trimmed history: %+v", got)
	}
}

func TestPurposeInstructionConfirmation(t *testing.T) {
	t.Parallel()
	instr := purposeInstruction(Prompt{
		Purpose: PurposePaymentConfirmation,
		OrderID: 42,
		Info:    domain.CustomerInfo{Address: "12 Main St, Lagos"},
	})
	for _, want := range []string{"#42", "Payment received", "12 Main St, Lagos"} {
		if !strings.Contains(instr, want) {
			t.Errorf("instruction %q missing %q", instr, want)
		}
	}
}
