package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/teslashibe/go-sitevoice/internal/httpc"
	"github.com/teslashibe/go-sitevoice/pkg/protocol"
)

// Assistant answers a user's question about the crawled website.
type Assistant interface {
	Answer(ctx context.Context, question string) (string, error)
}

// ContentReporter is implemented by assistants that know whether any
// website content is available. Room creation is refused without content.
type ContentReporter interface {
	HasContent(ctx context.Context) (bool, error)
}

// AssistantFunc adapts a function to Assistant.
type AssistantFunc func(ctx context.Context, question string) (string, error)

// Answer implements Assistant.
func (f AssistantFunc) Answer(ctx context.Context, question string) (string, error) {
	return f(ctx, question)
}

// ChatBackend forwards questions to the crawling backend's POST /chat.
type ChatBackend struct {
	base   string
	client *http.Client
	topK   int
}

// NewChatBackend creates an assistant for the crawling backend at base.
// A nil client uses httpc.Client.
func NewChatBackend(base string, client *http.Client) *ChatBackend {
	if client == nil {
		client = httpc.Client
	}
	return &ChatBackend{base: strings.TrimRight(base, "/"), client: client, topK: 3}
}

// Answer implements Assistant.
func (b *ChatBackend) Answer(ctx context.Context, question string) (string, error) {
	var resp protocol.ChatResponse
	_, err := httpc.DoJSON(ctx, b.client, http.MethodPost, b.base+"/chat",
		protocol.ChatRequest{Question: question, TopK: b.topK}, &resp)
	if err != nil {
		return "", fmt.Errorf("chat backend: %w", err)
	}
	if !resp.Success {
		if resp.Error != "" {
			return "", errors.New(resp.Error)
		}
		return "", errors.New("chat backend returned no answer")
	}
	return resp.Answer, nil
}

// HasContent implements ContentReporter using GET /sites, which lists the
// crawled sites.
func (b *ChatBackend) HasContent(ctx context.Context) (bool, error) {
	var sites []any
	if _, err := httpc.DoJSON(ctx, b.client, http.MethodGet, b.base+"/sites", nil, &sites); err != nil {
		return false, fmt.Errorf("chat backend: %w", err)
	}
	return len(sites) > 0, nil
}

const systemPrompt = `You are a helpful voice assistant that discusses website content with users.
Answer conversationally in two or three short sentences suitable for speech.
If you do not know something, say so politely.`

// OpenAIAssistant answers with OpenAI chat completions.
type OpenAIAssistant struct {
	client openai.Client
	model  string
	prompt string
}

// NewOpenAIAssistant creates an assistant using model, e.g. gpt-4o-mini.
func NewOpenAIAssistant(apiKey, model string, opts ...option.RequestOption) *OpenAIAssistant {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &OpenAIAssistant{
		client: openai.NewClient(opts...),
		model:  model,
		prompt: systemPrompt,
	}
}

// Answer implements Assistant.
func (a *OpenAIAssistant) Answer(ctx context.Context, question string) (string, error) {
	resp, err := a.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(a.prompt),
			openai.UserMessage(question),
		},
		Model: openai.ChatModel(a.model),
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no choices in response")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

var (
	_ Assistant       = (*ChatBackend)(nil)
	_ ContentReporter = (*ChatBackend)(nil)
	_ Assistant       = (*OpenAIAssistant)(nil)
)
