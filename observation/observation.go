package observation

import (
	"encoding/json"
	"reflect"
	"time"
)

// Observation is the immutable, tagged report of one action's outcome.
// The zero value is not a valid Observation; build one with Classify, Fail or
// a Codec. Copies are cheap and safe to hand across goroutines.
type Observation struct {
	id        string
	cause     string
	kind      Kind
	payload   Payload
	timestamp time.Time
	opaque    bool
}

// Options configures the envelope of a new Observation.
type Options struct {
	// ID identifies the observation itself. Optional.
	ID string
	// Cause is the correlation id of the action that produced the observation.
	Cause string
	// Timestamp is when the action completed. Stored in UTC; zero means unset.
	Timestamp time.Time
}

// ID returns the observation id, if any.
func (o Observation) ID() string { return o.id }

// Cause returns the correlation id of the originating action.
func (o Observation) Cause() string { return o.cause }

// Kind returns the wire tag.
func (o Observation) Kind() Kind { return o.kind }

// Timestamp returns the completion time (UTC), or the zero time when unset.
func (o Observation) Timestamp() time.Time { return o.timestamp }

// IsOpaque reports whether the observation carries an unrecognised tag that
// was passed through without interpretation.
func (o Observation) IsOpaque() bool { return o.opaque }

// IsZero reports whether o is the zero Observation.
func (o Observation) IsZero() bool { return o.kind == "" && o.payload == nil }

// Payload returns a copy of the kind-specific payload.
func (o Observation) Payload() Payload { return clonePayload(o.payload) }

// Raw returns the original wire bytes of an opaque observation.
func (o Observation) Raw() json.RawMessage {
	if p, ok := o.payload.(OpaquePayload); ok {
		return append(json.RawMessage(nil), p.Raw...)
	}
	return nil
}

// Failure returns the action failure recorded in the payload, or nil when the
// action completed normally.
func (o Observation) Failure() *Failure {
	if f, ok := o.payload.(Failer); ok {
		return f.ActionFailure()
	}
	return nil
}

// Failed reports whether the observation records an action failure.
func (o Observation) Failed() bool { return o.Failure() != nil }

// WithCause returns a copy of o bound to the given action id.
func (o Observation) WithCause(cause string) Observation {
	o.cause = cause
	return o
}

// WithID returns a copy of o with the given observation id.
func (o Observation) WithID(id string) Observation {
	o.id = id
	return o
}

// Equal reports whether both observations carry the same envelope and payload.
func (o Observation) Equal(other Observation) bool {
	return o.id == other.id &&
		o.cause == other.cause &&
		o.kind == other.kind &&
		o.opaque == other.opaque &&
		o.timestamp.Equal(other.timestamp) &&
		reflect.DeepEqual(o.payload, other.payload)
}

// PayloadAs returns the payload of o as T when the shapes match.
//
//	run, ok := observation.PayloadAs[observation.RunPayload](o)
func PayloadAs[T Payload](o Observation) (T, bool) {
	p, ok := o.Payload().(T)
	return p, ok
}

// Classify builds an Observation of kind from a raw executor result using the
// default registry. See Registry.Classify.
func Classify(kind Kind, raw any, optFns ...func(o *Options)) (Observation, error) {
	return defaultRegistry.Classify(kind, raw, optFns...)
}

// Fail builds a failure Observation of kind using the default registry.
func Fail(kind Kind, f Failure, optFns ...func(o *Options)) (Observation, error) {
	return defaultRegistry.Fail(kind, f, optFns...)
}

// Classify builds an Observation of kind from raw. raw may be the payload type
// registered for kind (value or pointer), a map[string]any, a json.RawMessage
// or a []byte holding a JSON object of payload fields. Any mismatch with the
// registered shape returns ErrInvalidPayload; an unregistered kind returns
// ErrUnknownKind.
func (r *Registry) Classify(kind Kind, raw any, optFns ...func(o *Options)) (Observation, error) {
	spec, ok := r.Lookup(kind)
	if !ok {
		return Observation{}, newError("classify", kind, ErrUnknownKind, nil)
	}

	payload, err := coercePayload(spec, raw)
	if err != nil {
		return Observation{}, newError("classify", kind, ErrInvalidPayload, err)
	}
	if n, ok := payload.(Normalizer); ok {
		if payload, err = n.Normalize(); err != nil {
			return Observation{}, newError("classify", kind, ErrInvalidPayload, err)
		}
	}
	if err := payload.Validate(); err != nil {
		return Observation{}, newError("classify", kind, ErrInvalidPayload, err)
	}

	return build(kind, payload, optFns), nil
}

// Fail builds an Observation of kind reporting an action failure.
func (r *Registry) Fail(kind Kind, f Failure, optFns ...func(o *Options)) (Observation, error) {
	spec, ok := r.Lookup(kind)
	if !ok {
		return Observation{}, newError("fail", kind, ErrUnknownKind, nil)
	}
	return r.Classify(kind, spec.Failed(f), optFns...)
}

func build(kind Kind, payload Payload, optFns []func(o *Options)) Observation {
	var opts Options
	for _, fn := range optFns {
		fn(&opts)
	}
	ts := opts.Timestamp
	if !ts.IsZero() {
		ts = ts.UTC()
	}
	return Observation{
		id:        opts.ID,
		cause:     opts.Cause,
		kind:      kind,
		payload:   clonePayload(payload),
		timestamp: ts,
	}
}

// coercePayload turns raw into a value of the spec's payload type.
func coercePayload(spec Spec, raw any) (Payload, error) {
	want := spec.payloadType()

	switch v := raw.(type) {
	case nil:
		return nil, fieldError("payload", "required")
	case map[string]any:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return decodePayload(spec, data)
	case json.RawMessage:
		return decodePayload(spec, v)
	case []byte:
		return decodePayload(spec, v)
	case Payload:
		p := derefPayload(v)
		if p == nil || reflect.TypeOf(p) != want {
			return nil, fieldError("payload", "shape "+reflect.TypeOf(raw).String()+" is not registered for this kind")
		}
		return p, nil
	default:
		return nil, fieldError("payload", "unsupported raw result type "+reflect.TypeOf(raw).String())
	}
}

// derefPayload normalises pointer payloads to the value they point at.
func derefPayload(p Payload) Payload {
	v := reflect.ValueOf(p)
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}
	out, ok := v.Interface().(Payload)
	if !ok {
		return nil
	}
	return out
}

func clonePayload(p Payload) Payload {
	if c, ok := p.(Cloner); ok {
		return c.Clone()
	}
	return p
}
