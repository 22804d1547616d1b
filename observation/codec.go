package observation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/hupe1980/obsmesh/internal/util"
	"github.com/hupe1980/obsmesh/logging"
)

// Wire field names of the envelope. Payload shapes must not reuse them.
const (
	TypeField      = "observation_type"
	IDField        = "id"
	CauseField     = "cause"
	TimestampField = "timestamp"
)

var envelopeFields = []string{TypeField, IDField, CauseField, TimestampField}

// Policy decides what a Codec does with a tag it does not recognise.
type Policy string

const (
	// PolicyStrict rejects unknown tags with ErrUnknownKind.
	PolicyStrict Policy = "strict"
	// PolicyLenient passes unknown tags through as opaque observations.
	PolicyLenient Policy = "lenient"
)

// IsValid reports whether p is a supported policy.
func (p Policy) IsValid() bool { return p == PolicyStrict || p == PolicyLenient }

// ParsePolicy converts a configuration string into a Policy.
func ParsePolicy(s string) (Policy, error) {
	p := Policy(strings.ToLower(strings.TrimSpace(s)))
	if !p.IsValid() {
		return "", fmt.Errorf("%w: %q (want %s or %s)", ErrInvalidPolicy, s, PolicyStrict, PolicyLenient)
	}
	return p, nil
}

// CodecOptions configures a Codec.
type CodecOptions struct {
	// Registry resolves tags; defaults to DefaultRegistry().
	Registry *Registry
	// Logger receives rejected and passed-through messages; defaults to NoOp.
	Logger logging.Logger
}

// Codec converts Observations to and from their flat JSON wire form:
//
//	{"observation_type":"read","cause":"act-1","content":"hi"}
//
// The tag comes first, followed by the optional envelope fields (id, cause,
// timestamp) and then the payload fields of the tagged shape.
type Codec struct {
	registry *Registry
	policy   Policy
	logger   logging.Logger
}

// NewCodec creates a Codec. The unknown-kind policy is mandatory.
func NewCodec(policy Policy, optFns ...func(o *CodecOptions)) (*Codec, error) {
	if !policy.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPolicy, string(policy))
	}

	opts := CodecOptions{
		Registry: defaultRegistry,
		Logger:   logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Codec{
		registry: opts.Registry,
		policy:   policy,
		logger:   logging.OrNoOp(opts.Logger),
	}, nil
}

// Policy returns the configured unknown-kind policy.
func (c *Codec) Policy() Policy { return c.policy }

// Registry returns the registry the codec resolves tags against.
func (c *Codec) Registry() *Registry { return c.registry }

// Serialize encodes o using the default registry.
func Serialize(o Observation) ([]byte, error) {
	return serialize(defaultRegistry, o)
}

// Serialize encodes o into its wire form. Opaque observations are returned
// byte-for-byte as they were received.
func (c *Codec) Serialize(o Observation) ([]byte, error) {
	return serialize(c.registry, o)
}

func serialize(r *Registry, o Observation) ([]byte, error) {
	if o.opaque {
		return o.Raw(), nil
	}
	if _, ok := r.Lookup(o.kind); !ok {
		return nil, newError("serialize", o.kind, ErrUnknownKind, nil)
	}

	payloadJSON, err := json.Marshal(o.payload)
	if err != nil {
		return nil, newError("serialize", o.kind, ErrInvalidPayload, err)
	}
	fields := gjson.ParseBytes(payloadJSON)
	if !fields.IsObject() {
		return nil, newError("serialize", o.kind, ErrInvalidPayload, fieldError("payload", "must encode as a JSON object"))
	}

	out, err := sjson.SetBytes([]byte(`{}`), TypeField, string(o.kind))
	if err != nil {
		return nil, newError("serialize", o.kind, ErrInvalidPayload, err)
	}
	envelope := []struct {
		key   string
		value string
	}{
		{IDField, o.id},
		{CauseField, o.cause},
		{TimestampField, formatTimestamp(o.timestamp)},
	}
	for _, f := range envelope {
		if f.value == "" {
			continue
		}
		if out, err = sjson.SetBytes(out, f.key, f.value); err != nil {
			return nil, newError("serialize", o.kind, ErrInvalidPayload, err)
		}
	}

	fields.ForEach(func(key, value gjson.Result) bool {
		name := key.String()
		if isEnvelopeField(name) {
			err = fieldError(name, "collides with an envelope field")
			return false
		}
		out, err = sjson.SetRawBytes(out, escapePath(name), []byte(value.Raw))
		return err == nil
	})
	if err != nil {
		return nil, newError("serialize", o.kind, ErrInvalidPayload, err)
	}
	return out, nil
}

// Deserialize parses a wire message into an Observation.
//
// Errors: ErrMalformedPayload for invalid JSON, a missing or non-string tag,
// bad envelope fields, or payload fields that do not fit the tagged shape;
// ErrUnknownKind for an unregistered tag under PolicyStrict.
func (c *Codec) Deserialize(data []byte) (Observation, error) {
	if !gjson.ValidBytes(data) {
		err := newError("deserialize", "", ErrMalformedPayload, errors.New("invalid JSON"))
		logging.LogRejected(c.logger, "", data, err)
		return Observation{}, err
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		err := newError("deserialize", "", ErrMalformedPayload, errors.New("wire form must be a JSON object"))
		logging.LogRejected(c.logger, "", data, err)
		return Observation{}, err
	}

	tag := root.Get(escapePath(TypeField))
	if !tag.Exists() || tag.Type != gjson.String || tag.Str == "" {
		err := newError("deserialize", "", ErrMalformedPayload, fieldError(TypeField, "missing or not a string"))
		logging.LogRejected(c.logger, tag.Raw, data, err)
		return Observation{}, err
	}
	kind := Kind(tag.Str)

	spec, ok := c.registry.Lookup(kind)
	if !ok {
		return c.unknown(kind, root, data)
	}

	opts, err := parseEnvelope(root)
	if err != nil {
		err := newError("deserialize", kind, ErrMalformedPayload, err)
		logging.LogRejected(c.logger, string(kind), data, err)
		return Observation{}, err
	}

	payloadJSON, err := stripEnvelope(data)
	if err != nil {
		err := newError("deserialize", kind, ErrMalformedPayload, err)
		logging.LogRejected(c.logger, string(kind), data, err)
		return Observation{}, err
	}

	payload, err := decodePayload(spec, payloadJSON)
	if err == nil {
		err = payload.Validate()
	}
	if err != nil {
		err := newError("deserialize", kind, ErrMalformedPayload, err)
		logging.LogRejected(c.logger, string(kind), data, err)
		return Observation{}, err
	}

	return build(kind, payload, []func(o *Options){func(o *Options) { *o = opts }}), nil
}

func (c *Codec) unknown(kind Kind, root gjson.Result, data []byte) (Observation, error) {
	if c.policy == PolicyStrict {
		err := newError("deserialize", kind, ErrUnknownKind, nil)
		logging.LogRejected(c.logger, string(kind), data, err)
		return Observation{}, err
	}

	// Lenient: keep whatever envelope can be read, never reinterpret the payload.
	opts, _ := parseEnvelope(root)
	o := build(kind, OpaquePayload{Raw: append(json.RawMessage(nil), data...)}, []func(o *Options){func(o *Options) { *o = opts }})
	o.opaque = true

	c.logger.Info("observation.passthrough", "tag", string(kind), "payload", logging.Excerpt(data, 512))
	return o, nil
}

func parseEnvelope(root gjson.Result) (Options, error) {
	var opts Options
	for _, f := range []struct {
		key string
		dst *string
	}{
		{IDField, &opts.ID},
		{CauseField, &opts.Cause},
	} {
		v := root.Get(f.key)
		if !v.Exists() || v.Type == gjson.Null {
			continue
		}
		if v.Type != gjson.String {
			return opts, fieldError(f.key, "must be a string")
		}
		*f.dst = v.Str
	}

	if ts := root.Get(TimestampField); ts.Exists() && ts.Type != gjson.Null {
		if ts.Type != gjson.String {
			return opts, fieldError(TimestampField, "must be an RFC 3339 string")
		}
		t, err := time.Parse(time.RFC3339Nano, ts.Str)
		if err != nil {
			return opts, fieldError(TimestampField, err.Error())
		}
		opts.Timestamp = t
	}
	return opts, nil
}

func stripEnvelope(data []byte) ([]byte, error) {
	out := append([]byte(nil), data...)
	for _, key := range envelopeFields {
		if !gjson.GetBytes(out, key).Exists() {
			continue
		}
		var err error
		if out, err = sjson.DeleteBytes(out, key); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// decodePayload strictly decodes a JSON object into the spec's payload shape:
// unknown fields are rejected and every required field must be present.
func decodePayload(spec Spec, data []byte) (Payload, error) {
	fields := gjson.ParseBytes(data)
	if !fields.IsObject() {
		return nil, fieldError("payload", "must be a JSON object")
	}

	target := spec.New()
	for _, name := range requiredFields(target) {
		if !fields.Get(escapePath(name)).Exists() {
			return nil, fieldError(name, "required")
		}
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fieldError("payload", "trailing data after JSON object")
	}

	p := derefPayload(target)
	if p == nil {
		return nil, fieldError("payload", "payload shape must use value receivers")
	}
	return p, nil
}

func requiredFields(p Payload) []string {
	req, _ := util.CreateSchema(p)["required"].([]string)
	return req
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func isEnvelopeField(name string) bool {
	for _, f := range envelopeFields {
		if f == name {
			return true
		}
	}
	return false
}

// escapePath escapes gjson/sjson path syntax so name addresses a single key.
func escapePath(name string) string {
	var b strings.Builder
	for _, c := range name {
		switch c {
		case '.', '*', '?', '|', '#', '@', '\\', '!', '=', '<', '>', '%', ':':
			b.WriteByte('\\')
		}
		b.WriteRune(c)
	}
	return b.String()
}
