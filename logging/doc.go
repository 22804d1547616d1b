// Package logging provides a minimal logging interface and adapters for obsmesh.
//
// The Logger interface defines the leveled methods (Debug, Info, Warn, Error)
// that the codec, executors and orchestration loop use. This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - StructuredLogger with component / action scoping and file rotation
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.NewLogger(&logging.LoggerConfig{Level: logging.LogLevelInfo, Format: "json"})
//	codec, _ := observation.NewCodec(observation.PolicyStrict, func(o *observation.CodecOptions) {
//	    o.Logger = logger
//	})
//
// Arguments after the message are slog-style key/value pairs.
package logging
