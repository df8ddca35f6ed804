package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/magi-project/magi/pkg/wire"
)

// AnthropicConfig configures an AnthropicProvider.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
}

// AnthropicProvider streams completions from Claude models via the
// Messages API's server-sent-event stream.
type AnthropicProvider struct {
	client       anthropic.Client
	defaultModel string
}

var anthropicModels = map[string]bool{
	"claude-opus-4-20250514":     true,
	"claude-sonnet-4-20250514":   true,
	"claude-3-5-sonnet-20241022": true,
	"claude-3-5-haiku-20241022":  true,
	"claude-3-haiku-20240307":    true,
}

func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("provider: anthropic API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "claude-sonnet-4-20250514"
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicProvider{
		client:       anthropic.NewClient(opts...),
		defaultModel: cfg.DefaultModel,
	}, nil
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) SupportsModel(model string) bool { return anthropicModels[model] }

func (p *AnthropicProvider) SupportsTools() bool { return true }

// Stream issues a Messages API streaming request and translates Anthropic's
// SSE event union into magi's wire.Event vocabulary: text deltas become
// message_delta events, tool_use blocks become tool_start, and the final
// usage report becomes cost_update followed by message_complete.
func (p *AnthropicProvider) Stream(ctx context.Context, req CompletionRequest) (<-chan wire.Event, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	params := p.buildParams(model, req)
	stream := p.client.Messages.NewStreaming(ctx, params)

	out := make(chan wire.Event)
	go p.pump(stream, model, out)
	return out, nil
}

func (p *AnthropicProvider) buildParams(model string, req CompletionRequest) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxOr(req.MaxTokens, 4096)),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	for _, item := range req.History {
		switch item.Kind {
		case wire.ItemMessage:
			role := anthropic.MessageParamRoleUser
			if item.Role == wire.RoleAssistant {
				role = anthropic.MessageParamRoleAssistant
			}
			params.Messages = append(params.Messages, anthropic.MessageParam{
				Role:    role,
				Content: []anthropic.ContentBlockParamUnion{{OfText: &anthropic.TextBlockParam{Text: item.Content}}},
			})
		case wire.ItemFunctionCall:
			params.Messages = append(params.Messages, anthropic.MessageParam{
				Role: anthropic.MessageParamRoleAssistant,
				Content: []anthropic.ContentBlockParamUnion{{OfToolUse: &anthropic.ToolUseBlockParam{
					ID:    item.CallID,
					Name:  item.Name,
					Input: item.Arguments,
				}}},
			})
		case wire.ItemFunctionCallOut:
			params.Messages = append(params.Messages, anthropic.MessageParam{
				Role: anthropic.MessageParamRoleUser,
				Content: []anthropic.ContentBlockParamUnion{{OfToolResult: &anthropic.ToolResultBlockParam{
					ToolUseID: item.CallID,
					Content:   []anthropic.ToolResultBlockParamContentUnion{{OfText: &anthropic.TextBlockParam{Text: item.Output}}},
				}}},
			})
		}
	}
	for _, t := range req.Tools {
		params.Tools = append(params.Tools, anthropic.ToolUnionParam{OfTool: &anthropic.ToolParam{
			Name:        t.Name,
			Description: anthropic.String(t.Description),
		}})
	}
	return params
}

func (p *AnthropicProvider) pump(stream *ssestream.Stream[anthropic.MessageStreamEventUnion], model string, out chan<- wire.Event) {
	defer close(out)

	var message anthropic.Message
	var order int
	var toolID, toolName string
	var toolArgs strings.Builder
	var nativeToolCall bool
	citations := NewCitationTracker()

	var fullText strings.Builder

	for stream.Next() {
		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			out <- wire.Event{Type: wire.EventError, Error: &wire.ErrorPayload{Error: err.Error()}}
			return
		}

		switch variant := event.AsAny().(type) {
		case anthropic.ContentBlockStartEvent:
			if tu := variant.ContentBlock.ToolUse; tu.ID != "" {
				toolID, toolName = tu.ID, tu.Name
				toolArgs.Reset()
			}
		case anthropic.ContentBlockDeltaEvent:
			if text := variant.Delta.Text; text != "" {
				order++
				fullText.WriteString(text)
				out <- wire.Event{Type: wire.EventMessageDelta, MessageDelta: &wire.MessageDeltaPayload{Content: text, MessageID: message.ID, Order: order}}
			}
			if partial := variant.Delta.PartialJSON; partial != "" {
				toolArgs.WriteString(partial)
			}
			if cit := variant.Delta.Citation; cit.URL != "" {
				n := citations.Track(cit.URL, cit.Title)
				marker := AppendCitationMarker("", n)
				order++
				fullText.WriteString(marker)
				out <- wire.Event{Type: wire.EventMessageDelta, MessageDelta: &wire.MessageDeltaPayload{Content: marker, MessageID: message.ID, Order: order}}
			}
		case anthropic.ContentBlockStopEvent:
			if toolID != "" {
				out <- wire.Event{Type: wire.EventToolStart, ToolStart: &wire.ToolStartPayload{
					ToolCalls: []wire.ToolCall{{ID: toolID, Type: "function", Function: wire.ToolCallFunc{Name: toolName, Arguments: toolArgs.String()}}},
				}}
				toolID = ""
				nativeToolCall = true
			}
		}
	}

	if err := stream.Err(); err != nil {
		out <- wire.Event{Type: wire.EventError, Error: &wire.ErrorPayload{Error: fmt.Errorf("anthropic stream: %w", err).Error()}}
		return
	}

	usage := wire.Usage{
		Model:        model,
		InputTokens:  int(message.Usage.InputTokens),
		OutputTokens: int(message.Usage.OutputTokens),
		CachedTokens: int(message.Usage.CacheReadInputTokens),
		TimestampMs:  time.Now().UnixMilli(),
	}
	out <- wire.Event{Type: wire.EventCostUpdate, CostUpdate: &wire.CostUpdatePayload{Usage: usage}}

	text := fullText.String()
	if footnote := citations.Footnote(); footnote != "" {
		text = strings.TrimRight(text, "\n") + "\n\n" + footnote
	}
	EmitFinal(out, message.ID, text, nativeToolCall)
}

func maxOr(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}
