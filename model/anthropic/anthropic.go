// Package anthropic adapts observations to the Anthropic Messages API: each
// observation becomes a tool_result block answering the tool_use it was
// caused by.
package anthropic

import (
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"

	"github.com/hupe1980/obsmesh/executor"
	"github.com/hupe1980/obsmesh/model"
	"github.com/hupe1980/obsmesh/observation"
)

// ToolResultBlock renders o as a tool_result block for the tool_use o.Cause().
// Failure observations are flagged with is_error.
func ToolResultBlock(o observation.Observation) anthropic.ContentBlockParamUnion {
	text, isError := model.Render(o)
	return anthropic.NewToolResultBlock(o.Cause(), text, isError)
}

// UserMessage packs observations into one user turn. Observations without a
// cause are added as plain text blocks.
func UserMessage(obs ...observation.Observation) anthropic.MessageParam {
	content := make([]anthropic.ContentBlockParamUnion, 0, len(obs))
	for _, o := range obs {
		if o.Cause() == "" {
			text, _ := model.Render(o)
			content = append(content, anthropic.NewTextBlock(text))
			continue
		}
		content = append(content, ToolResultBlock(o))
	}
	return anthropic.NewUserMessage(content...)
}

// Tools converts tool definitions to Anthropic tools.
func Tools(defs []model.ToolDefinition) []anthropic.ToolUnionParam {
	tools := make([]anthropic.ToolUnionParam, len(defs))
	for i, tdef := range defs {
		inputSchema := anthropic.ToolInputSchemaParam{
			Type: constant.Object("object"),
		}
		if tdef.Parameters != nil {
			if properties, exists := tdef.Parameters["properties"]; exists {
				inputSchema.Properties = properties
			}
			switch req := tdef.Parameters["required"].(type) {
			case []string:
				inputSchema.Required = req
			case []any:
				for _, r := range req {
					if s, ok := r.(string); ok {
						inputSchema.Required = append(inputSchema.Required, s)
					}
				}
			}
		}
		tools[i] = anthropic.ToolUnionParamOfTool(inputSchema, tdef.Name)
		if tdef.Description != "" && tools[i].OfTool != nil {
			tools[i].OfTool.Description = anthropic.String(tdef.Description)
		}
	}
	return tools
}

// Actions converts the tool_use blocks of an assistant response into actions.
// Other block types are ignored.
func Actions(blocks []anthropic.ContentBlockUnion) ([]executor.Action, error) {
	var actions []executor.Action
	for _, block := range blocks {
		if block.Type != "tool_use" {
			continue
		}
		toolBlock := block.AsToolUse()
		args := ""
		if toolBlock.Input != nil {
			argsBytes, err := json.Marshal(toolBlock.Input)
			if err != nil {
				return nil, fmt.Errorf("tool_use %s: %w", toolBlock.ID, err)
			}
			args = string(argsBytes)
		}
		a, err := model.ParseToolCall(toolBlock.ID, toolBlock.Name, args)
		if err != nil {
			return nil, err
		}
		actions = append(actions, a)
	}
	return actions, nil
}
