package observation

import "strings"

// Kind is the stable wire discriminant of an Observation. The string values are
// part of the external contract and never change once published.
type Kind string

const (
	// KindRead reports the content of a file.
	KindRead Kind = "read"
	// KindBrowse reports the HTML content of a URL.
	KindBrowse Kind = "browse"
	// KindRun reports the output of a command.
	KindRun Kind = "run"
	// KindRecall reports the result of a search.
	KindRecall Kind = "recall"
	// KindChat reports a message from the user.
	KindChat Kind = "chat"
)

var builtinKinds = []Kind{KindRead, KindBrowse, KindRun, KindRecall, KindChat}

// String returns the wire literal.
func (k Kind) String() string { return string(k) }

// IsBuiltin reports whether k is one of the five built-in kinds.
func (k Kind) IsBuiltin() bool { return IsValid(string(k)) }

// IsValid reports whether s is exactly one of the built-in wire literals.
// Matching is case-sensitive; no aliases are accepted.
func IsValid(s string) bool {
	for _, k := range builtinKinds {
		if string(k) == s {
			return true
		}
	}
	return false
}

// Kinds returns the built-in kinds in declaration order.
func Kinds() []Kind {
	out := make([]Kind, len(builtinKinds))
	copy(out, builtinKinds)
	return out
}

// KindStrings returns the built-in wire literals as a comma separated list.
func KindStrings() string {
	parts := make([]string, len(builtinKinds))
	for i, k := range builtinKinds {
		parts[i] = string(k)
	}
	return strings.Join(parts, ", ")
}

// Describe returns the one-line description of kind from the default registry,
// or an empty string when the kind is not registered.
func Describe(kind Kind) string {
	desc, err := defaultRegistry.Describe(kind)
	if err != nil {
		return ""
	}
	return desc
}
