package model

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/hupe1980/obsmesh/executor"
	"github.com/hupe1980/obsmesh/observation"
)

// ToolDefinition declaratively exposes an executor to the model as a callable
// function named after the kind it produces.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"` // JSON Schema
}

// Tools describes every executor that publishes an argument schema, sorted by
// name. Descriptions come from the registry.
func Tools(executors map[observation.Kind]executor.Executor) []ToolDefinition {
	defs := make([]ToolDefinition, 0, len(executors))
	for kind, e := range executors {
		d, ok := e.(executor.Describer)
		if !ok {
			continue
		}
		defs = append(defs, ToolDefinition{
			Name:        string(kind),
			Description: observation.Describe(kind),
			Parameters:  d.Parameters(),
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// ParseToolCall converts a model tool call into an action. The call id
// becomes the action id; arguments is a JSON object or empty. Slightly
// malformed arguments, such as a truncated object, are repaired before
// giving up.
func ParseToolCall(id, name, arguments string) (executor.Action, error) {
	kind := observation.Kind(name)
	if _, ok := observation.DefaultRegistry().Lookup(kind); !ok {
		return executor.Action{}, fmt.Errorf("tool %q: %w", name, observation.ErrUnknownKind)
	}
	args := map[string]any{}
	if strings.TrimSpace(arguments) != "" {
		if err := json.Unmarshal([]byte(arguments), &args); err != nil {
			fixed, repairErr := jsonrepair.JSONRepair(arguments)
			if repairErr != nil {
				return executor.Action{}, fmt.Errorf("failed to unmarshal args for %q: %w", name, err)
			}
			args = map[string]any{}
			if err := json.Unmarshal([]byte(fixed), &args); err != nil {
				return executor.Action{}, fmt.Errorf("failed to unmarshal args for %q: %w", name, err)
			}
		}
	}
	return executor.Action{ID: id, Kind: kind, Args: args}, nil
}

// Render formats o as plain text for a model. isError is true when the
// observation records an action failure.
func Render(o observation.Observation) (text string, isError bool) {
	if f := o.Failure(); f != nil {
		return renderFailure(o, f), true
	}
	if o.IsOpaque() {
		return string(o.Raw()), false
	}

	switch p := o.Payload().(type) {
	case observation.ReadPayload:
		return renderRead(p), false
	case observation.BrowsePayload:
		return renderBrowse(p), false
	case observation.RunPayload:
		return renderRun(p), false
	case observation.RecallPayload:
		return renderRecall(p), false
	case observation.ChatPayload:
		return renderChat(p), false
	default:
		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Sprintf("%s observation", o.Kind()), false
		}
		return string(data), false
	}
}

func renderFailure(o observation.Observation, f *observation.Failure) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s failed (%s)", o.Kind(), f.Reason)
	if f.Message != "" {
		b.WriteString(": " + f.Message)
	}
	if p, ok := observation.PayloadAs[observation.RunPayload](o); ok {
		if p.Stdout != "" {
			b.WriteString("\nstdout:\n" + p.Stdout)
		}
		if p.Stderr != "" {
			b.WriteString("\nstderr:\n" + p.Stderr)
		}
	}
	return b.String()
}

func renderRead(p observation.ReadPayload) string {
	if p.Encoding == observation.EncodingBase64 {
		b, _ := p.Bytes()
		return fmt.Sprintf("[binary file %s, %d bytes, base64]\n%s", p.Path, len(b), p.Content)
	}
	return p.Content
}

func renderBrowse(p observation.BrowsePayload) string {
	var b strings.Builder
	b.WriteString(p.URL)
	if p.StatusCode != 0 {
		fmt.Fprintf(&b, " (HTTP %d)", p.StatusCode)
	}
	if p.Title != "" {
		b.WriteString("\nTitle: " + p.Title)
	}
	b.WriteString("\n\n" + p.HTML)
	return b.String()
}

func renderRun(p observation.RunPayload) string {
	var b strings.Builder
	if p.Command != "" {
		b.WriteString("$ " + p.Command + "\n")
	}
	fmt.Fprintf(&b, "exit code: %d", p.ExitStatus())
	if p.Stdout != "" {
		b.WriteString("\nstdout:\n" + p.Stdout)
	}
	if p.Stderr != "" {
		b.WriteString("\nstderr:\n" + p.Stderr)
	}
	return b.String()
}

func renderRecall(p observation.RecallPayload) string {
	var b strings.Builder
	if p.Query != "" {
		fmt.Fprintf(&b, "%d results for %q", len(p.Results), p.Query)
	} else {
		fmt.Fprintf(&b, "%d results", len(p.Results))
	}
	for i, r := range p.Results {
		fmt.Fprintf(&b, "\n%d. [%s] %s", i+1, r.ID, r.Content)
	}
	return b.String()
}

func renderChat(p observation.ChatPayload) string {
	if p.Sender != "" {
		return p.Sender + ": " + p.Message
	}
	return p.Message
}
