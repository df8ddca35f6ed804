package provider

import (
	"context"
	"errors"
	"io"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/magi-project/magi/pkg/wire"
)

// OpenAIProvider streams chat completions from OpenAI-compatible models.
type OpenAIProvider struct {
	client       *openai.Client
	defaultModel string
}

var openaiModels = map[string]bool{
	"gpt-4o":      true,
	"gpt-4o-mini": true,
	"gpt-4.1":     true,
	"o3":          true,
	"o4-mini":     true,
}

func NewOpenAIProvider(apiKey, defaultModel string) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, errors.New("provider: openai API key is required")
	}
	if defaultModel == "" {
		defaultModel = "gpt-4o"
	}
	return &OpenAIProvider{client: openai.NewClient(apiKey), defaultModel: defaultModel}, nil
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) SupportsModel(model string) bool { return openaiModels[model] }

func (p *OpenAIProvider) SupportsTools() bool { return true }

func (p *OpenAIProvider) Stream(ctx context.Context, req CompletionRequest) (<-chan wire.Event, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	messages := p.buildMessages(req)
	tools := p.buildTools(req)

	stream, err := p.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:     model,
		Messages:  messages,
		Tools:     tools,
		MaxTokens: maxOr(req.MaxTokens, 4096),
		Stream:    true,
	})
	if err != nil {
		return nil, err
	}

	out := make(chan wire.Event)
	go p.pump(stream, model, out)
	return out, nil
}

func (p *OpenAIProvider) buildMessages(req CompletionRequest) []openai.ChatCompletionMessage {
	var msgs []openai.ChatCompletionMessage
	if req.System != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	for _, item := range req.History {
		switch item.Kind {
		case wire.ItemMessage:
			role := openai.ChatMessageRoleUser
			if item.Role == wire.RoleAssistant {
				role = openai.ChatMessageRoleAssistant
			}
			msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: item.Content})
		case wire.ItemFunctionCall:
			msgs = append(msgs, openai.ChatCompletionMessage{
				Role: openai.ChatMessageRoleAssistant,
				ToolCalls: []openai.ToolCall{{
					ID:   item.CallID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      item.Name,
						Arguments: item.Arguments,
					},
				}},
			})
		case wire.ItemFunctionCallOut:
			msgs = append(msgs, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    item.Output,
				ToolCallID: item.CallID,
			})
		}
	}
	return msgs
}

func (p *OpenAIProvider) buildTools(req CompletionRequest) []openai.Tool {
	var tools []openai.Tool
	for _, t := range req.Tools {
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return tools
}

func (p *OpenAIProvider) pump(stream *openai.ChatCompletionStream, model string, out chan<- wire.Event) {
	defer close(out)
	defer stream.Close()

	var order int
	var fullText string
	calls := map[int]*wire.ToolCall{}
	var callOrder []int

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			out <- wire.Event{Type: wire.EventError, Error: &wire.ErrorPayload{Error: err.Error()}}
			return
		}
		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta

		if delta.Content != "" {
			order++
			fullText += delta.Content
			out <- wire.Event{Type: wire.EventMessageDelta, MessageDelta: &wire.MessageDeltaPayload{Content: delta.Content, Order: order}}
		}

		for _, tc := range delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			existing, ok := calls[idx]
			if !ok {
				existing = &wire.ToolCall{ID: tc.ID, Type: "function"}
				calls[idx] = existing
				callOrder = append(callOrder, idx)
			}
			if tc.Function.Name != "" {
				existing.Function.Name = tc.Function.Name
			}
			existing.Function.Arguments += tc.Function.Arguments
		}
	}

	if len(calls) > 0 {
		var batch []wire.ToolCall
		for _, idx := range callOrder {
			batch = append(batch, *calls[idx])
		}
		out <- wire.Event{Type: wire.EventToolStart, ToolStart: &wire.ToolStartPayload{ToolCalls: batch}}
	}

	out <- wire.Event{Type: wire.EventCostUpdate, CostUpdate: &wire.CostUpdatePayload{Usage: wire.Usage{Model: model, TimestampMs: time.Now().UnixMilli()}}}
	EmitFinal(out, "", fullText, len(calls) > 0)
}
