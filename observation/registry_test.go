package observation

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type screenshotPayload struct {
	Image string `json:"image"`
	Width int    `json:"width,omitempty"`
}

func (p screenshotPayload) Validate() error {
	if p.Image == "" {
		return errors.New("image required")
	}
	return nil
}

func screenshotSpec() Spec {
	return Spec{
		Kind:        "screenshot",
		Description: "A captured screen image",
		New:         func() Payload { return &screenshotPayload{} },
		Failed:      func(Failure) Payload { return screenshotPayload{Image: "-"} },
	}
}

func TestRegistry_DefaultHoldsBuiltins(t *testing.T) {
	r := NewDefaultRegistry()
	assert.Equal(t, Kinds(), r.Kinds())
	for _, k := range Kinds() {
		spec, ok := r.Lookup(k)
		require.True(t, ok, k)
		assert.Equal(t, k, spec.Kind)
		assert.NotEmpty(t, spec.Description)
	}
	assert.Equal(t, "observation.Registry[read browse run recall chat]", r.String())
}

func TestRegistry_RegisterExtendsSet(t *testing.T) {
	r := NewDefaultRegistry()
	require.NoError(t, r.Register(screenshotSpec()))

	assert.Equal(t, Kind("screenshot"), r.Kinds()[5])
	desc, err := r.Describe("screenshot")
	require.NoError(t, err)
	assert.Equal(t, "A captured screen image", desc)

	o, err := r.Classify("screenshot", screenshotPayload{Image: "aGk="})
	require.NoError(t, err)
	assert.Equal(t, Kind("screenshot"), o.Kind())

	// The package-level registry is untouched.
	_, ok := DefaultRegistry().Lookup("screenshot")
	assert.False(t, ok)
}

func TestRegistry_RegisterRejectsDuplicates(t *testing.T) {
	r := NewDefaultRegistry()
	err := r.Register(Spec{
		Kind:   KindRead,
		New:    func() Payload { return &ReadPayload{} },
		Failed: func(f Failure) Payload { return ReadPayload{Failure: &f} },
	})
	assert.ErrorIs(t, err, ErrKindRegistered)
}

func TestRegistry_RetiredTagsAreNeverReused(t *testing.T) {
	r := NewDefaultRegistry()
	require.NoError(t, r.Retire(KindChat))

	_, ok := r.Lookup(KindChat)
	assert.False(t, ok)
	assert.NotContains(t, r.Kinds(), KindChat)

	err := r.Register(Spec{
		Kind:   KindChat,
		New:    func() Payload { return &ChatPayload{} },
		Failed: func(f Failure) Payload { return ChatPayload{Failure: &f} },
	})
	assert.ErrorIs(t, err, ErrKindRetired)

	_, err = r.Classify(KindChat, ChatPayload{Message: "hi"})
	assert.ErrorIs(t, err, ErrUnknownKind)

	assert.ErrorIs(t, r.Retire(KindChat), ErrUnknownKind)
}

func TestRegistry_RegisterValidatesSpec(t *testing.T) {
	tests := []struct {
		name string
		spec Spec
	}{
		{"empty kind", Spec{New: func() Payload { return &ReadPayload{} }, Failed: func(Failure) Payload { return ReadPayload{} }}},
		{"uppercase", Spec{Kind: "Shot", New: func() Payload { return &ReadPayload{} }, Failed: func(Failure) Payload { return ReadPayload{} }}},
		{"dash", Spec{Kind: "screen-shot", New: func() Payload { return &ReadPayload{} }, Failed: func(Failure) Payload { return ReadPayload{} }}},
		{"no constructor", Spec{Kind: "shot", Failed: func(Failure) Payload { return ReadPayload{} }}},
		{"no failure constructor", Spec{Kind: "shot", New: func() Payload { return &ReadPayload{} }}},
		{"value constructor", Spec{Kind: "shot", New: func() Payload { return ReadPayload{} }, Failed: func(Failure) Payload { return ReadPayload{} }}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			assert.ErrorIs(t, r.Register(tt.spec), ErrInvalidPayload)
			assert.Empty(t, r.Kinds())
		})
	}
}

func TestRegistry_Schema(t *testing.T) {
	schema, err := DefaultRegistry().Schema(KindRun)
	require.NoError(t, err)

	assert.Equal(t, "run", schema["title"])
	assert.Equal(t, "The output of a command", schema["description"])
	assert.Equal(t, []string{"exit_code"}, schema["required"])

	props := schema["properties"].(map[string]any)
	assert.Equal(t, "integer", props["exit_code"].(map[string]any)["type"])
	assert.Contains(t, props, "stdout")
	assert.Contains(t, props, "failure")

	_, err = DefaultRegistry().Schema("screenshot")
	assert.ErrorIs(t, err, ErrUnknownKind)
}
