package resolver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sashabaranov/go-openai"

	"taskchat/internal/dialogue"
	"taskchat/internal/ops"
)

const systemPrompt = `You are a todo-list assistant. You manage the user's tasks through the
provided tools: add, list, search, complete, delete and update tasks.
Call tools whenever the user's message asks for a task change or lookup;
answer conversationally and briefly. Dates are YYYY-MM-DD, times HH:MM.
Never invent task ids — look tasks up first if you are unsure.`

// OpenAIResolver implements Resolver against any OpenAI-compatible chat
// completion endpoint, using function calling for operation extraction.
type OpenAIResolver struct {
	client *openai.Client
	model  string
	tools  []openai.Tool
}

// NewOpenAI builds a resolver for the given endpoint. baseURL may be empty
// for the default OpenAI API.
func NewOpenAI(apiKey, baseURL, model string) *OpenAIResolver {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	var tools []openai.Tool
	for _, def := range ops.Definitions() {
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  def.JSONSchema(),
			},
		})
	}

	return &OpenAIResolver{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		tools:  tools,
	}
}

// Resolve sends the bounded history plus the new user turn and maps the
// model's tool calls back to catalog operations.
func (r *OpenAIResolver) Resolve(ctx context.Context, history []dialogue.Message, text string) (Intent, error) {
	msgs := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
	}
	for _, m := range history {
		role := openai.ChatMessageRoleUser
		if m.Role == dialogue.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: text})

	resp, err := r.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:      r.model,
		Messages:   msgs,
		Tools:      r.tools,
		ToolChoice: "auto",
	})
	if err != nil {
		return Intent{}, fmt.Errorf("resolver: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Intent{}, fmt.Errorf("resolver: empty completion")
	}

	choice := resp.Choices[0].Message
	intent := Intent{Reply: choice.Content}
	for _, tc := range choice.ToolCalls {
		intent.Calls = append(intent.Calls, Call{
			Name: tc.Function.Name,
			Args: parseArgs(tc.Function.Arguments),
		})
	}
	return intent, nil
}

// parseArgs decodes a tool call's JSON arguments. Malformed argument
// payloads degrade to an empty map; the registry's own validation then
// reports the missing fields as a structured error instead of the whole
// exchange failing.
func parseArgs(raw string) map[string]any {
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return map[string]any{}
	}
	return args
}
