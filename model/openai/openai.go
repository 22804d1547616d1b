// Package openai adapts observations to the OpenAI Chat Completions message
// format: each observation answers the tool call it was caused by.
package openai

import (
	"github.com/openai/openai-go"

	"github.com/hupe1980/obsmesh/executor"
	"github.com/hupe1980/obsmesh/model"
	"github.com/hupe1980/obsmesh/observation"
)

// ToolMessage renders o as a tool-role message answering the call o.Cause().
func ToolMessage(o observation.Observation) openai.ChatCompletionMessageParamUnion {
	text, _ := model.Render(o)
	return openai.ToolMessage(text, o.Cause())
}

// ToolMessages renders observations in order. Observations without a cause
// cannot answer a tool call and are sent as user messages instead.
func ToolMessages(obs ...observation.Observation) []openai.ChatCompletionMessageParamUnion {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(obs))
	for _, o := range obs {
		if o.Cause() == "" {
			text, _ := model.Render(o)
			messages = append(messages, openai.UserMessage(text))
			continue
		}
		messages = append(messages, ToolMessage(o))
	}
	return messages
}

// Tools converts tool definitions to the function tools of a completion request.
func Tools(defs []model.ToolDefinition) []openai.ChatCompletionToolParam {
	tools := make([]openai.ChatCompletionToolParam, len(defs))
	for i, tdef := range defs {
		tools[i] = openai.ChatCompletionToolParam{
			Type: "function",
			Function: openai.FunctionDefinitionParam{
				Name:        tdef.Name,
				Description: openai.String(tdef.Description),
				Parameters:  tdef.Parameters,
			},
		}
	}
	return tools
}

// Actions converts the tool calls of an assistant message into actions.
func Actions(calls []openai.ChatCompletionMessageToolCall) ([]executor.Action, error) {
	actions := make([]executor.Action, 0, len(calls))
	for _, tc := range calls {
		a, err := model.ParseToolCall(tc.ID, tc.Function.Name, tc.Function.Arguments)
		if err != nil {
			return nil, err
		}
		actions = append(actions, a)
	}
	return actions, nil
}
