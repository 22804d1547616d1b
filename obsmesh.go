// Package obsmesh wires the observation taxonomy, the reference executors and
// the orchestrator loop into one ready-to-use value. Most applications:
//  1. Load a config.Config (or start from config.NewDefaultConfig)
//  2. Create a Mesh via New(), optionally overriding the filesystem, memory
//     backend, history store or logger
//  3. Hand Tools() to a model, turn its tool calls into outcomes with
//     HandleToolCall and render the observations back with the model adapters
//
// Lower-level packages (observation, executor, orchestrator) can be used
// directly when the defaults do not fit.
package obsmesh

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/afero"
	"golang.org/x/time/rate"

	"github.com/hupe1980/obsmesh/config"
	"github.com/hupe1980/obsmesh/executor"
	"github.com/hupe1980/obsmesh/history"
	"github.com/hupe1980/obsmesh/logging"
	"github.com/hupe1980/obsmesh/memory"
	"github.com/hupe1980/obsmesh/model"
	"github.com/hupe1980/obsmesh/observation"
	"github.com/hupe1980/obsmesh/orchestrator"
)

// Options overrides the dependencies New builds from the configuration.
type Options struct {
	// Fs backs the read executor; defaults to the OS filesystem.
	Fs afero.Fs
	// HTTPClient backs the browse executor.
	HTTPClient *http.Client
	// Memory backs the recall executor; defaults to the configured backend.
	Memory memory.Store
	// History stores observations; defaults to the configured backend.
	History history.Store
	// Registry defaults to the process-wide registry.
	Registry *observation.Registry
	// Logger defaults to a StructuredLogger built from the logging section.
	Logger logging.Logger
	// Executors replaces or adds executors by kind after the built-ins are created.
	Executors map[observation.Kind]executor.Executor
	// Metrics records loop activity when set.
	Metrics *orchestrator.Metrics
}

// connectTimeout bounds connecting to an external history backend.
const connectTimeout = 10 * time.Second

// Mesh is the façade over registry, codec, executors and loop.
type Mesh struct {
	cfg       *config.Config
	registry  *observation.Registry
	codec     *observation.Codec
	memory    memory.Store
	chat      *executor.ChatChannel
	executors map[observation.Kind]executor.Executor
	loop      *orchestrator.Loop
	logger    logging.Logger
	owned     logging.CloseableLogger
	pool      *pgxpool.Pool
}

// New creates a Mesh from cfg, which may be nil for defaults.
func New(cfg *config.Config, optFns ...func(o *Options)) (*Mesh, error) {
	if cfg == nil {
		cfg = config.NewDefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	opts := Options{
		Fs:       afero.NewOsFs(),
		Registry: observation.DefaultRegistry(),
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	m := &Mesh{cfg: cfg, registry: opts.Registry}
	if opts.Logger == nil {
		m.owned = cfg.NewLogger()
		opts.Logger = m.owned
	}
	m.logger = opts.Logger

	codec, err := observation.NewCodec(cfg.Policy(), func(o *observation.CodecOptions) {
		o.Registry = opts.Registry
		o.Logger = opts.Logger
	})
	if err != nil {
		m.release()
		return nil, err
	}
	m.codec = codec

	m.memory = opts.Memory
	if m.memory == nil {
		m.memory, err = newMemory(cfg.Memory)
		if err != nil {
			m.release()
			return nil, err
		}
	}

	if opts.History == nil {
		opts.History, err = m.newHistory(cfg.History)
		if err != nil {
			m.release()
			return nil, err
		}
	}

	m.chat = executor.NewChatChannel(func(o *executor.ChatChannelOptions) {
		o.Buffer = cfg.Executors.Chat.Buffer
		o.Logger = opts.Logger
	})
	m.executors = m.builtins(cfg.Executors, opts)
	for k, e := range opts.Executors {
		m.executors[k] = e
	}

	m.loop = orchestrator.New(m.executors, func(o *orchestrator.Options) {
		o.MaxConcurrent = cfg.Loop.MaxConcurrent
		o.ActionTimeout = cfg.Loop.ActionTimeout
		o.GracePeriod = cfg.Loop.GracePeriod
		o.BufferSize = cfg.Loop.BufferSize
		o.SessionID = cfg.Loop.SessionID
		o.History = opts.History
		o.Registry = opts.Registry
		o.Logger = opts.Logger
		o.Metrics = opts.Metrics
	})

	m.logger.Info("obsmesh.started",
		"session_id", m.loop.SessionID(),
		"policy", string(codec.Policy()),
		"memory_backend", cfg.Memory.Backend,
		"history_backend", cfg.History.Backend,
	)
	return m, nil
}

func (m *Mesh) builtins(cfg config.ExecutorsConfig, opts Options) map[observation.Kind]executor.Executor {
	return map[observation.Kind]executor.Executor{
		observation.KindRead: executor.NewFileReader(opts.Fs, func(o *executor.FileReaderOptions) {
			o.Root = cfg.Read.Root
			o.MaxBytes = cfg.Read.MaxBytes
			o.Logger = opts.Logger
		}),
		observation.KindBrowse: executor.NewBrowser(func(o *executor.BrowserOptions) {
			if opts.HTTPClient != nil {
				o.Client = opts.HTTPClient
			} else {
				o.Client = &http.Client{Timeout: cfg.Browse.Timeout}
			}
			o.MaxBytes = cfg.Browse.MaxBytes
			o.UserAgent = cfg.Browse.UserAgent
			if cfg.Browse.RateLimit > 0 {
				o.Limiter = rate.NewLimiter(rate.Limit(cfg.Browse.RateLimit), cfg.Browse.Burst)
			}
			o.Logger = opts.Logger
		}),
		observation.KindRun: executor.NewCommandRunner(func(o *executor.CommandRunnerOptions) {
			o.Shell = cfg.Run.Shell
			o.Dir = cfg.Run.Dir
			o.Timeout = cfg.Run.Timeout
			o.MaxOutputBytes = cfg.Run.MaxOutputBytes
			o.Logger = opts.Logger
		}),
		observation.KindRecall: executor.NewRecaller(m.memory, func(o *executor.RecallerOptions) {
			o.Limit = cfg.Recall.Limit
			o.Logger = opts.Logger
		}),
		observation.KindChat: m.chat,
	}
}

func newMemory(cfg config.MemoryConfig) (memory.Store, error) {
	var s memory.Store
	switch cfg.Backend {
	case config.MemoryBackendVector:
		vs, err := memory.NewVectorStore(func(o *memory.VectorOptions) {
			o.Collection = cfg.Collection
			o.PersistPath = cfg.PersistPath
		})
		if err != nil {
			return nil, fmt.Errorf("create vector memory: %w", err)
		}
		s = vs
	default:
		s = memory.NewInMemoryStore()
	}
	if cfg.CacheSize > 0 {
		return memory.NewCachedStore(s, cfg.CacheSize)
	}
	return s, nil
}

func (m *Mesh) newHistory(cfg config.HistoryConfig) (history.Store, error) {
	if cfg.Backend != config.HistoryBackendPostgres {
		return history.NewInMemoryStore(), nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	s, err := history.NewPostgresStore(ctx, pool, func(o *history.PostgresOptions) { o.Codec = m.codec })
	if err != nil {
		pool.Close()
		return nil, err
	}
	m.pool = pool
	return s, nil
}

// release frees what New acquired before failing.
func (m *Mesh) release() {
	if m.owned != nil {
		_ = m.owned.Close()
	}
}

// Config returns the configuration the mesh was built from.
func (m *Mesh) Config() *config.Config { return m.cfg }

// Registry returns the observation registry.
func (m *Mesh) Registry() *observation.Registry { return m.registry }

// Codec returns the codec configured with the mesh's unknown-kind policy.
func (m *Mesh) Codec() *observation.Codec { return m.codec }

// Memory returns the recall backend.
func (m *Mesh) Memory() memory.Store { return m.memory }

// Chat returns the chat executor; Post user messages to it.
func (m *Mesh) Chat() *executor.ChatChannel { return m.chat }

// Loop returns the orchestrator.
func (m *Mesh) Loop() *orchestrator.Loop { return m.loop }

// Logger returns the logger used by every component.
func (m *Mesh) Logger() logging.Logger { return m.logger }

// Tools describes the available executors as model tool definitions.
func (m *Mesh) Tools() []model.ToolDefinition { return model.Tools(m.executors) }

// Remember stores content in the recall backend.
func (m *Mesh) Remember(ctx context.Context, content string, metadata map[string]any) (string, error) {
	return m.memory.Store(ctx, content, metadata)
}

// Execute runs a single action to completion.
func (m *Mesh) Execute(ctx context.Context, a executor.Action) (orchestrator.Outcome, error) {
	outs, err := m.loop.Run(ctx, a)
	if err != nil {
		return orchestrator.Outcome{}, err
	}
	return outs[0], nil
}

// HandleToolCall converts a model tool call into an action and runs it. The
// tool call id becomes the action id and therefore the observation's cause.
func (m *Mesh) HandleToolCall(ctx context.Context, id, name, arguments string) (orchestrator.Outcome, error) {
	a, err := model.ParseToolCall(id, name, arguments)
	if err != nil {
		return orchestrator.Outcome{}, err
	}
	return m.Execute(ctx, a)
}

// Close shuts down the loop, waiting for in-flight actions. Outcomes of
// actions started with Loop().Submit must be drained by the caller.
func (m *Mesh) Close() error {
	err := m.loop.Close()
	if m.pool != nil {
		m.pool.Close()
	}
	if m.owned != nil {
		if cerr := m.owned.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
