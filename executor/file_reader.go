package executor

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/spf13/afero"

	"github.com/hupe1980/obsmesh/internal/util"
	"github.com/hupe1980/obsmesh/logging"
	"github.com/hupe1980/obsmesh/observation"
)

// DefaultMaxFileBytes caps how much of a file FileReader returns.
const DefaultMaxFileBytes = 1 << 20

type readArgs struct {
	Path string `json:"path" description:"Path of the file to read"`
}

// FileReaderOptions configures a FileReader.
type FileReaderOptions struct {
	// Root confines reads to a directory of the filesystem.
	Root string
	// MaxBytes rejects files larger than this many bytes.
	MaxBytes int64
	Logger   logging.Logger
}

// FileReader produces read observations from an afero filesystem. UTF-8
// content is returned as text; anything else is base64 encoded.
type FileReader struct {
	fs       afero.Fs
	maxBytes int64
	logger   logging.Logger
}

// NewFileReader creates a FileReader over fs.
func NewFileReader(fs afero.Fs, optFns ...func(o *FileReaderOptions)) *FileReader {
	opts := FileReaderOptions{
		MaxBytes: DefaultMaxFileBytes,
		Logger:   logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Root != "" {
		fs = afero.NewBasePathFs(fs, opts.Root)
	}
	return &FileReader{fs: fs, maxBytes: opts.MaxBytes, logger: logging.OrNoOp(opts.Logger)}
}

// Kind returns observation.KindRead.
func (r *FileReader) Kind() observation.Kind { return observation.KindRead }

// Parameters returns the argument schema.
func (r *FileReader) Parameters() map[string]any { return util.CreateSchema(readArgs{}) }

// Execute reads the file named by the "path" argument.
func (r *FileReader) Execute(ctx context.Context, a Action) (observation.Observation, error) {
	if err := checkKind(a, observation.KindRead); err != nil {
		return observation.Observation{}, err
	}
	args, err := bindArgs[readArgs](a)
	if err != nil {
		return fail(observation.KindRead, a, observation.FailureError, err)
	}
	if err := ctx.Err(); err != nil {
		return fail(observation.KindRead, a, FailureReason(ctx, err), err)
	}

	data, err := r.readFile(args.Path)
	if err != nil {
		r.logger.Debug("Read failed", "path", args.Path, "error", err)
		return fail(observation.KindRead, a, observation.FailureError, err)
	}

	payload := observation.ReadPayload{Path: args.Path, Content: string(data)}
	if !utf8.Valid(data) {
		payload.Content = base64.StdEncoding.EncodeToString(data)
		payload.Encoding = observation.EncodingBase64
	}
	return observation.Classify(observation.KindRead, payload, envelope(a))
}

func (r *FileReader) readFile(path string) ([]byte, error) {
	f, err := r.fs.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}

	var src io.Reader = f
	if r.maxBytes > 0 {
		src = io.LimitReader(f, r.maxBytes+1)
	}
	data, err := io.ReadAll(src)
	if err != nil {
		return nil, err
	}
	if r.maxBytes > 0 && int64(len(data)) > r.maxBytes {
		return nil, fmt.Errorf("%s exceeds %d bytes", path, r.maxBytes)
	}
	return data, nil
}
