package logging

import (
	"io"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapAdapter wraps *zap.Logger to implement the Logger interface. Arguments
// are alternating key/value pairs, as with slog.
type ZapAdapter struct {
	sugar  *zap.SugaredLogger
	closer io.Closer
}

// NewZapAdapter creates a Logger from *zap.Logger. A nil logger yields a no-op.
func NewZapAdapter(logger *zap.Logger) *ZapAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapAdapter{sugar: logger.Sugar()}
}

// NewZapLogger builds a zap-backed Logger from the same configuration
// NewLogger accepts, including file rotation.
func NewZapLogger(cfg *LoggerConfig) *ZapAdapter {
	if cfg == nil {
		cfg = DefaultLoggerConfig()
	}
	out, closer := openOutput(cfg)

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "time"
	encCfg.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	var enc zapcore.Encoder
	if cfg.Format == "text" {
		enc = zapcore.NewConsoleEncoder(encCfg)
	} else {
		enc = zapcore.NewJSONEncoder(encCfg)
	}

	var opts []zap.Option
	if cfg.AddSource {
		opts = append(opts, zap.AddCaller(), zap.AddCallerSkip(1))
	}
	logger := zap.New(zapcore.NewCore(enc, zapcore.AddSync(out), zapLevel(cfg.Level)), opts...)
	if cfg.Component != "" {
		logger = logger.With(zap.String("component", cfg.Component))
	}
	return &ZapAdapter{sugar: logger.Sugar(), closer: closer}
}

func zapLevel(l LogLevel) zapcore.Level {
	switch l {
	case LogLevelDebug:
		return zapcore.DebugLevel
	case LogLevelWarn:
		return zapcore.WarnLevel
	case LogLevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Debug logs a debug message.
func (z *ZapAdapter) Debug(msg string, args ...any) { z.sugar.Debugw(msg, args...) }

// Info logs an informational message.
func (z *ZapAdapter) Info(msg string, args ...any) { z.sugar.Infow(msg, args...) }

// Warn logs a warning message.
func (z *ZapAdapter) Warn(msg string, args ...any) { z.sugar.Warnw(msg, args...) }

// Error logs an error message.
func (z *ZapAdapter) Error(msg string, args ...any) { z.sugar.Errorw(msg, args...) }

// Close flushes buffered entries and releases the rotating log file, if any.
// Sync errors on terminals and pipes are ignored.
func (z *ZapAdapter) Close() error {
	_ = z.sugar.Sync()
	if z.closer == nil {
		return nil
	}
	return z.closer.Close()
}
