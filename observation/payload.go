package observation

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"net/url"
)

// Payload is the kind-specific data of an Observation. Implementations must be
// plain values with json tags; Validate enforces the shape contract.
type Payload interface {
	Validate() error
}

// Cloner is implemented by payloads that hold reference types (slices, maps).
// Observations clone such payloads on construction and on every read.
type Cloner interface {
	Clone() Payload
}

// Normalizer is implemented by payloads holding free-form JSON values.
// Classify stores the normalized form, which matches what decoding the wire
// form yields.
type Normalizer interface {
	Normalize() (Payload, error)
}

// Failer is implemented by payloads that can carry an action failure.
type Failer interface {
	ActionFailure() *Failure
}

// FailureReason classifies why an action did not complete normally.
type FailureReason string

const (
	// FailureError is an action error (missing file, refused connection, bad args).
	FailureError FailureReason = "error"
	// FailureTimeout is an action that exceeded its time budget.
	FailureTimeout FailureReason = "timeout"
	// FailureCancelled is an action cancelled while in flight.
	FailureCancelled FailureReason = "cancelled"
)

// Failure is the action-failure convention shared by all built-in payloads:
// a failed action still produces a normal Observation of its kind.
type Failure struct {
	Reason  FailureReason `json:"reason"`
	Message string        `json:"message,omitempty"`
}

// Validate checks the failure reason.
func (f *Failure) Validate() error {
	if f == nil {
		return nil
	}
	switch f.Reason {
	case FailureError, FailureTimeout, FailureCancelled:
		return nil
	default:
		return fieldError("failure.reason", fmt.Sprintf("unknown failure reason %q", f.Reason))
	}
}

func (f *Failure) clone() *Failure {
	if f == nil {
		return nil
	}
	cp := *f
	return &cp
}

// ReadEncoding names how ReadPayload.Content is encoded.
type ReadEncoding string

const (
	// EncodingText is UTF-8 text; the empty encoding means the same.
	EncodingText ReadEncoding = "utf-8"
	// EncodingBase64 is standard base64 for binary file contents.
	EncodingBase64 ReadEncoding = "base64"
)

// ReadPayload is the content of a file.
type ReadPayload struct {
	Path     string       `json:"path,omitempty"`
	Content  string       `json:"content"`
	Encoding ReadEncoding `json:"encoding,omitempty"`
	Failure  *Failure     `json:"failure,omitempty"`
}

func (p ReadPayload) Validate() error {
	switch p.Encoding {
	case "", EncodingText:
	case EncodingBase64:
		if _, err := base64.StdEncoding.DecodeString(p.Content); err != nil {
			return fieldError("content", "not valid base64")
		}
	default:
		return fieldError("encoding", fmt.Sprintf("unsupported encoding %q", p.Encoding))
	}
	return p.Failure.Validate()
}

// Bytes returns the decoded file contents.
func (p ReadPayload) Bytes() ([]byte, error) {
	if p.Encoding == EncodingBase64 {
		return base64.StdEncoding.DecodeString(p.Content)
	}
	return []byte(p.Content), nil
}

func (p ReadPayload) Clone() Payload          { p.Failure = p.Failure.clone(); return p }
func (p ReadPayload) ActionFailure() *Failure { return p.Failure.clone() }

// BrowsePayload is the HTML content of a URL.
type BrowsePayload struct {
	URL        string   `json:"url"`
	HTML       string   `json:"html"`
	Title      string   `json:"title,omitempty"`
	StatusCode int      `json:"status_code,omitempty"`
	Failure    *Failure `json:"failure,omitempty"`
}

func (p BrowsePayload) Validate() error {
	if p.URL == "" && p.Failure == nil {
		return fieldError("url", "required")
	}
	if _, err := url.Parse(p.URL); err != nil {
		return fieldError("url", err.Error())
	}
	if p.StatusCode < 0 || p.StatusCode > 999 {
		return fieldError("status_code", "out of range")
	}
	return p.Failure.Validate()
}

func (p BrowsePayload) Clone() Payload          { p.Failure = p.Failure.clone(); return p }
func (p BrowsePayload) ActionFailure() *Failure { return p.Failure.clone() }

// RunPayload is the output of a command. ExitCode is mandatory; a run that
// timed out or was cancelled reports -1 together with a Failure.
type RunPayload struct {
	Command    string   `json:"command,omitempty"`
	Stdout     string   `json:"stdout,omitempty"`
	Stderr     string   `json:"stderr,omitempty"`
	ExitCode   *int     `json:"exit_code"`
	DurationMS int64    `json:"duration_ms,omitempty"`
	Failure    *Failure `json:"failure,omitempty"`
}

func (p RunPayload) Validate() error {
	if p.ExitCode == nil {
		return fieldError("exit_code", "required")
	}
	if p.DurationMS < 0 {
		return fieldError("duration_ms", "must not be negative")
	}
	return p.Failure.Validate()
}

func (p RunPayload) Clone() Payload {
	if p.ExitCode != nil {
		code := *p.ExitCode
		p.ExitCode = &code
	}
	p.Failure = p.Failure.clone()
	return p
}

func (p RunPayload) ActionFailure() *Failure { return p.Failure.clone() }

// TimedOut reports whether the command was stopped by its timeout.
func (p RunPayload) TimedOut() bool {
	return p.Failure != nil && p.Failure.Reason == FailureTimeout
}

// ExitStatus returns the exit code, or -1 when absent.
func (p RunPayload) ExitStatus() int {
	if p.ExitCode == nil {
		return -1
	}
	return *p.ExitCode
}

// ExitCode returns a pointer to code for RunPayload literals.
func ExitCode(code int) *int { return &code }

// RecallResult is one hit of a search or memory query.
type RecallResult struct {
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	Score    float64        `json:"score,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// RecallPayload is the result of a search.
type RecallPayload struct {
	Query   string         `json:"query,omitempty"`
	Results []RecallResult `json:"results"`
	Failure *Failure       `json:"failure,omitempty"`
}

func (p RecallPayload) Validate() error {
	if p.Results == nil && p.Failure == nil {
		return fieldError("results", "required")
	}
	for i, r := range p.Results {
		if r.ID == "" {
			return fieldError(fmt.Sprintf("results[%d].id", i), "required")
		}
		if math.IsNaN(r.Score) || math.IsInf(r.Score, 0) {
			return fieldError(fmt.Sprintf("results[%d].score", i), "must be a finite number")
		}
	}
	return p.Failure.Validate()
}

// Normalize replaces every result's metadata with its JSON-decoded form:
// numbers become float64, typed slices and maps become []any and
// map[string]any, and nothing is shared with the caller.
func (p RecallPayload) Normalize() (Payload, error) {
	if p.Results == nil {
		return p, nil
	}
	results := make([]RecallResult, len(p.Results))
	for i, r := range p.Results {
		m, err := normalizeMetadata(r.Metadata)
		if err != nil {
			return nil, fieldError(fmt.Sprintf("results[%d].metadata", i), err.Error())
		}
		r.Metadata = m
		results[i] = r
	}
	p.Results = results
	return p, nil
}

func (p RecallPayload) Clone() Payload {
	if p.Results != nil {
		results := make([]RecallResult, len(p.Results))
		for i, r := range p.Results {
			r.Metadata = cloneMetadata(r.Metadata)
			results[i] = r
		}
		p.Results = results
	}
	p.Failure = p.Failure.clone()
	return p
}

func (p RecallPayload) ActionFailure() *Failure { return p.Failure.clone() }

func normalizeMetadata(m map[string]any) (map[string]any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// cloneMetadata deep-copies JSON-shaped values so nested maps and slices
// are not shared with the producer.
func cloneMetadata(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := maps.Clone(m)
	for k, v := range out {
		out[k] = cloneJSONValue(v)
	}
	return out
}

func cloneJSONValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMetadata(t)
	case []any:
		cp := make([]any, len(t))
		for i, e := range t {
			cp[i] = cloneJSONValue(e)
		}
		return cp
	default:
		return v
	}
}

// ChatPayload is a message from the user.
type ChatPayload struct {
	Message string   `json:"message"`
	Sender  string   `json:"sender,omitempty"`
	Failure *Failure `json:"failure,omitempty"`
}

func (p ChatPayload) Validate() error {
	if p.Message == "" && p.Failure == nil {
		return fieldError("message", "required")
	}
	return p.Failure.Validate()
}

func (p ChatPayload) Clone() Payload          { p.Failure = p.Failure.clone(); return p }
func (p ChatPayload) ActionFailure() *Failure { return p.Failure.clone() }

// OpaquePayload holds an unrecognised wire message verbatim. It is produced
// only by a lenient Codec and is never interpreted.
type OpaquePayload struct {
	Raw json.RawMessage
}

func (p OpaquePayload) Validate() error {
	if !json.Valid(p.Raw) {
		return fieldError("raw", "not valid JSON")
	}
	return nil
}

func (p OpaquePayload) Clone() Payload {
	p.Raw = append(json.RawMessage(nil), p.Raw...)
	return p
}
