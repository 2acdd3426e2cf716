package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"
	"github.com/openai/openai-go/v3/responses"
	"github.com/openai/openai-go/v3/shared"
)

const DefaultOpenAIModel = "gpt-4.1-mini"

type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	MaxRetries int
}

// OpenAI streams turns through the Responses API. Conversation state is
// sent in full on every call; nothing is stored provider side.
type OpenAI struct {
	client openai.Client
	model  string
}

func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("llm: openai api key is required")
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(max(cfg.MaxRetries, 0)),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	model := cfg.Model
	if model == "" {
		model = DefaultOpenAIModel
	}
	return &OpenAI{client: openai.NewClient(opts...), model: model}, nil
}

func (o *OpenAI) Stream(ctx context.Context, req Request, onText OnText) (Turn, error) {
	params := o.params(req)
	stream := o.client.Responses.NewStreaming(ctx, params)
	if stream == nil {
		return Turn{}, errors.New("llm: openai stream unavailable")
	}
	defer stream.Close()

	var turn Turn
	var text strings.Builder
	completed := false
	for stream.Next() {
		evt := stream.Current()
		switch evt.Type {
		case "response.output_text.delta":
			delta := evt.AsResponseOutputTextDelta().Delta
			if delta == "" {
				continue
			}
			text.WriteString(delta)
			if onText != nil {
				if err := onText(delta); err != nil {
					return Turn{Text: text.String()}, err
				}
			}
		case "response.completed":
			for _, item := range evt.AsResponseCompleted().Response.Output {
				if item.Type != "function_call" {
					continue
				}
				fn := item.AsFunctionCall()
				turn.ToolCalls = append(turn.ToolCalls, ToolCall{ID: fn.CallID, Name: fn.Name, Arguments: json.RawMessage(fn.Arguments)})
			}
			completed = true
		case "response.failed":
			failed := evt.AsResponseFailed().Response.Error
			return Turn{}, fmt.Errorf("llm: openai response failed: %s (code=%s)", failed.Message, failed.Code)
		case "response.incomplete":
			return Turn{}, fmt.Errorf("llm: openai response incomplete: %s", evt.AsResponseIncomplete().Response.IncompleteDetails.Reason)
		case "error":
			e := evt.AsError()
			return Turn{}, fmt.Errorf("llm: openai stream error: %s (code=%s)", e.Message, e.Code)
		}
	}
	if err := stream.Err(); err != nil {
		return Turn{}, fmt.Errorf("llm: openai stream: %w", err)
	}
	if !completed {
		return Turn{}, errors.New("llm: openai stream ended before completion")
	}
	turn.Text = text.String()
	return turn, nil
}

func (o *OpenAI) params(req Request) responses.ResponseNewParams {
	items := make(responses.ResponseInputParam, 0, len(req.Items))
	for _, it := range req.Items {
		switch it.Kind {
		case ItemUser, ItemAssistant:
			role := responses.EasyInputMessageRoleUser
			if it.Kind == ItemAssistant {
				role = responses.EasyInputMessageRoleAssistant
			}
			items = append(items, responses.ResponseInputItemUnionParam{OfMessage: &responses.EasyInputMessageParam{
				Role:    role,
				Content: responses.EasyInputMessageContentUnionParam{OfString: param.NewOpt(it.Text)},
			}})
		case ItemToolCall:
			items = append(items, responses.ResponseInputItemUnionParam{OfFunctionCall: &responses.ResponseFunctionToolCallParam{
				CallID:    it.Call.ID,
				Name:      it.Call.Name,
				Arguments: string(it.Call.Arguments),
			}})
		case ItemToolResult:
			items = append(items, responses.ResponseInputItemUnionParam{OfFunctionCallOutput: &responses.ResponseInputItemFunctionCallOutputParam{
				CallID: it.CallID,
				Output: responses.ResponseInputItemFunctionCallOutputOutputUnionParam{OfString: param.NewOpt(it.Text)},
			}})
		}
	}
	params := responses.ResponseNewParams{
		Model: shared.ResponsesModel(o.model),
		Input: responses.ResponseNewParamsInputUnion{OfInputItemList: items},
		Store: param.NewOpt(false),
	}
	if req.System != "" {
		params.Instructions = param.NewOpt(req.System)
	}
	for _, t := range req.Tools {
		fn := responses.FunctionToolParam{
			Name:       t.Name,
			Parameters: t.Parameters,
			Strict:     param.NewOpt(false),
			Type:       "function",
		}
		if t.Description != "" {
			fn.Description = param.NewOpt(t.Description)
		}
		params.Tools = append(params.Tools, responses.ToolUnionParam{OfFunction: &fn})
	}
	if len(params.Tools) > 0 {
		params.ParallelToolCalls = param.NewOpt(true)
	}
	return params
}
