package inference

import (
	"context"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	go_openai "github.com/sashabaranov/go-openai"
)

// Engine is the OpenAI-backed implementation of all four collaborator
// contracts. One client serves chat completion, naming, and condensation;
// the prompts differ per contract.
type Engine struct {
	client *go_openai.Client
	model  string
}

var _ Completer = (*Engine)(nil)
var _ BranchNamer = (*Engine)(nil)
var _ ConversationNamer = (*Engine)(nil)
var _ Outliner = (*Engine)(nil)

type EngineOption func(*engineConfig)

type engineConfig struct {
	model      string
	baseURL    string
	httpClient *http.Client
}

func WithModel(model string) EngineOption {
	return func(c *engineConfig) {
		c.model = model
	}
}

func WithBaseURL(baseURL string) EngineOption {
	return func(c *engineConfig) {
		c.baseURL = baseURL
	}
}

func WithHTTPClient(client *http.Client) EngineOption {
	return func(c *engineConfig) {
		c.httpClient = client
	}
}

const defaultModel = go_openai.GPT4

func NewEngine(apiKey string, options ...EngineOption) *Engine {
	cfg := &engineConfig{model: defaultModel}
	for _, option := range options {
		option(cfg)
	}
	clientConfig := go_openai.DefaultConfig(apiKey)
	if cfg.baseURL != "" {
		clientConfig.BaseURL = cfg.baseURL
	}
	if cfg.httpClient != nil {
		clientConfig.HTTPClient = cfg.httpClient
	}
	return &Engine{
		client: go_openai.NewClientWithConfig(clientConfig),
		model:  cfg.model,
	}
}

func (e *Engine) Complete(ctx context.Context, messages []ChatMessage, maxTokens int) (string, error) {
	req := go_openai.ChatCompletionRequest{
		Model:     e.model,
		MaxTokens: maxTokens,
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, go_openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	log.Debug().Int("num_messages", len(messages)).Str("model", e.model).Msg("running chat completion")
	resp, err := e.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", NewAPIError("complete", err)
	}
	if len(resp.Choices) == 0 {
		return "", NewAPIError("complete", errors.New("no choices returned"))
	}
	return resp.Choices[0].Message.Content, nil
}

func (e *Engine) NameBranch(ctx context.Context, lastUserMessage, lastAssistantMessage, selectedText string) (string, error) {
	var sb strings.Builder
	sb.WriteString("Suggest a concise title (2-4 words) for a conversation branch exploring this exchange.\n")
	sb.WriteString("Reply with the title only.\n\n")
	sb.WriteString("[user]: " + lastUserMessage + "\n")
	sb.WriteString("[assistant]: " + lastAssistantMessage + "\n")
	if selectedText != "" {
		sb.WriteString("\nThe branch focuses on this selection: " + selectedText + "\n")
	}
	return e.shortCompletion(ctx, "name-branch", sb.String())
}

func (e *Engine) NameConversation(ctx context.Context, context_ string) (string, error) {
	prompt := "Suggest a concise title (2-5 words) for this conversation. Reply with the title only.\n\n" + context_
	return e.shortCompletion(ctx, "name-conversation", prompt)
}

const outlinePrompt = `Condense the following chat transcript into a clickable outline.
Reply with a JSON array of items: {"title": string, "sourceMessageId": string, "children": [...]}.
Children nest at most one level and must not have children of their own.
Every sourceMessageId must be one of the message ids shown in parentheses in the transcript.

`

func (e *Engine) CondenseOutline(ctx context.Context, transcript string) (string, error) {
	return e.shortCompletion(ctx, "condense-outline", outlinePrompt+transcript)
}

func (e *Engine) shortCompletion(ctx context.Context, op string, prompt string) (string, error) {
	resp, err := e.client.CreateChatCompletion(ctx, go_openai.ChatCompletionRequest{
		Model: e.model,
		Messages: []go_openai.ChatCompletionMessage{
			{Role: go_openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", NewAPIError(op, err)
	}
	if len(resp.Choices) == 0 {
		return "", NewAPIError(op, errors.New("no choices returned"))
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
