package provider

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/magi-project/magi/pkg/wire"
)

// BedrockProvider streams completions from foundation models hosted on AWS
// Bedrock via the Converse/ConverseStream API, giving magi access to
// Bedrock-hosted Claude and other models without a separate credential path.
type BedrockProvider struct {
	client       *bedrockruntime.Client
	defaultModel string
}

var bedrockModels = map[string]bool{
	"anthropic.claude-3-5-sonnet-20241022-v2:0": true,
	"anthropic.claude-3-opus-20240229-v1:0":     true,
	"meta.llama3-1-70b-instruct-v1:0":           true,
}

// bedrockVisionModels is the subset of bedrockModels that accepts image
// content blocks. meta.llama3-1-70b-instruct-v1:0 is text-only, so a history
// item carrying an embedded image placeholder routed to it goes through
// convertImageToTextIfNeeded first (spec §4.1).
var bedrockVisionModels = map[string]bool{
	"anthropic.claude-3-5-sonnet-20241022-v2:0": true,
	"anthropic.claude-3-opus-20240229-v1:0":     true,
}

// NewBedrockProvider loads AWS credentials via the default chain (env vars,
// shared config, IAM role), with the AWS region set to region.
func NewBedrockProvider(ctx context.Context, region, defaultModel string) (*BedrockProvider, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, err
	}
	if defaultModel == "" {
		defaultModel = "anthropic.claude-3-5-sonnet-20241022-v2:0"
	}
	return &BedrockProvider{
		client:       bedrockruntime.NewFromConfig(cfg),
		defaultModel: defaultModel,
	}, nil
}

func (p *BedrockProvider) Name() string { return "bedrock" }

func (p *BedrockProvider) SupportsModel(model string) bool { return bedrockModels[model] }

func (p *BedrockProvider) SupportsTools() bool { return true }

func (p *BedrockProvider) Stream(ctx context.Context, req CompletionRequest) (<-chan wire.Event, error) {
	if p.client == nil {
		return nil, errors.New("provider: bedrock client not initialized")
	}

	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	messages := p.convertMessages(ctx, req, model)

	input := &bedrockruntime.ConverseStreamInput{
		ModelId:  aws.String(model),
		Messages: messages,
	}
	if req.System != "" {
		input.System = []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: req.System}}
	}
	if req.MaxTokens > 0 {
		input.InferenceConfig = &types.InferenceConfiguration{MaxTokens: aws.Int32(int32(req.MaxTokens))}
	}

	stream, err := p.client.ConverseStream(ctx, input)
	if err != nil {
		return nil, err
	}

	out := make(chan wire.Event)
	go p.pump(stream, model, out)
	return out, nil
}

func (p *BedrockProvider) convertMessages(ctx context.Context, req CompletionRequest, model string) []types.Message {
	visionCapable := bedrockVisionModels[model]
	var msgs []types.Message
	for _, item := range req.History {
		switch item.Kind {
		case wire.ItemMessage:
			role := types.ConversationRoleUser
			if item.Role == wire.RoleAssistant {
				role = types.ConversationRoleAssistant
			}
			content := item.Content
			if !visionCapable {
				content = convertImageToTextIfNeeded(ctx, content, model, p)
			}
			msgs = append(msgs, types.Message{
				Role:    role,
				Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: content}},
			})
		case wire.ItemFunctionCallOut:
			msgs = append(msgs, types.Message{
				Role: types.ConversationRoleUser,
				Content: []types.ContentBlock{&types.ContentBlockMemberToolResult{Value: types.ToolResultBlock{
					ToolUseId: aws.String(item.CallID),
					Content:   []types.ToolResultContentBlock{&types.ToolResultContentBlockMemberText{Value: item.Output}},
				}}},
			})
		}
	}
	return msgs
}

// DescribeImage implements ImageFallback by asking a vision-capable Bedrock
// model to describe the image in one or two sentences via a non-streaming
// Converse call, so a text-only target model (e.g. Llama) still receives a
// usable inline substitute for an embedded image (spec §4.1).
func (p *BedrockProvider) DescribeImage(ctx context.Context, model string, imageData []byte, mimeType string) (string, error) {
	resp, err := p.client.Converse(ctx, &bedrockruntime.ConverseInput{
		ModelId: aws.String(p.defaultModel),
		Messages: []types.Message{{
			Role: types.ConversationRoleUser,
			Content: []types.ContentBlock{
				&types.ContentBlockMemberImage{Value: types.ImageBlock{
					Format: imageFormatFromMIME(mimeType),
					Source: &types.ImageSourceMemberBytes{Value: imageData},
				}},
				&types.ContentBlockMemberText{Value: "Describe this image in one or two sentences."},
			},
		}},
	})
	if err != nil {
		return "", err
	}

	out, ok := resp.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return "", errors.New("provider: bedrock converse returned no message")
	}
	for _, block := range out.Value.Content {
		if tb, ok := block.(*types.ContentBlockMemberText); ok {
			return tb.Value, nil
		}
	}
	return "", errors.New("provider: bedrock converse returned no text content")
}

func imageFormatFromMIME(mimeType string) types.ImageFormat {
	switch mimeType {
	case "image/png":
		return types.ImageFormatPng
	case "image/gif":
		return types.ImageFormatGif
	case "image/webp":
		return types.ImageFormatWebp
	default:
		return types.ImageFormatJpeg
	}
}

func (p *BedrockProvider) pump(stream *bedrockruntime.ConverseStreamOutput, model string, out chan<- wire.Event) {
	defer close(out)

	eventStream := stream.GetStream()
	defer eventStream.Close()

	var order int
	var fullText strings.Builder
	var toolID, toolName string
	var toolArgs strings.Builder
	var nativeToolCall bool

	for event := range eventStream.Events() {
		switch ev := event.(type) {
		case *types.ConverseStreamOutputMemberContentBlockStart:
			if tu, ok := ev.Value.Start.(*types.ContentBlockStartMemberToolUse); ok {
				toolID = aws.ToString(tu.Value.ToolUseId)
				toolName = aws.ToString(tu.Value.Name)
				toolArgs.Reset()
			}
		case *types.ConverseStreamOutputMemberContentBlockDelta:
			switch delta := ev.Value.Delta.(type) {
			case *types.ContentBlockDeltaMemberText:
				if delta.Value != "" {
					order++
					fullText.WriteString(delta.Value)
					out <- wire.Event{Type: wire.EventMessageDelta, MessageDelta: &wire.MessageDeltaPayload{Content: delta.Value, Order: order}}
				}
			case *types.ContentBlockDeltaMemberToolUse:
				if delta.Value.Input != nil {
					toolArgs.WriteString(*delta.Value.Input)
				}
			}
		case *types.ConverseStreamOutputMemberContentBlockStop:
			if toolID != "" {
				out <- wire.Event{Type: wire.EventToolStart, ToolStart: &wire.ToolStartPayload{
					ToolCalls: []wire.ToolCall{{ID: toolID, Type: "function", Function: wire.ToolCallFunc{Name: toolName, Arguments: toolArgs.String()}}},
				}}
				toolID = ""
				nativeToolCall = true
			}
		case *types.ConverseStreamOutputMemberMessageStop:
			// terminal event handled after loop exits
		}
	}

	if err := eventStream.Err(); err != nil {
		out <- wire.Event{Type: wire.EventError, Error: &wire.ErrorPayload{Error: err.Error()}}
		return
	}

	out <- wire.Event{Type: wire.EventCostUpdate, CostUpdate: &wire.CostUpdatePayload{Usage: wire.Usage{Model: model, TimestampMs: time.Now().UnixMilli()}}}
	EmitFinal(out, "", fullText.String(), nativeToolCall)
}
