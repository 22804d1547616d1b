// Package model renders observations as model context and turns model tool
// calls back into executor actions. Provider specific message types live in
// the openai and anthropic sub-packages; this package stays SDK free.
//
// The round trip is keyed by the tool call id: ParseToolCall uses it as the
// action id, the orchestrator stamps it as the observation's cause, and the
// provider adapters answer the call with that cause.
package model
