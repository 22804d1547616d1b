package executor

import (
	"context"

	"github.com/hupe1980/obsmesh/internal/util"
	"github.com/hupe1980/obsmesh/logging"
	"github.com/hupe1980/obsmesh/memory"
	"github.com/hupe1980/obsmesh/observation"
)

type recallArgs struct {
	Query string `json:"query" description:"Text to search memory for"`
	Limit int    `json:"limit,omitempty" description:"Maximum number of results"`
}

// RecallerOptions configures a Recaller.
type RecallerOptions struct {
	// Limit applies when the action does not set one.
	Limit  int
	Logger logging.Logger
}

// Recaller produces recall observations by searching a memory backend.
type Recaller struct {
	searcher memory.Searcher
	limit    int
	logger   logging.Logger
}

// NewRecaller creates a Recaller over s.
func NewRecaller(s memory.Searcher, optFns ...func(o *RecallerOptions)) *Recaller {
	opts := RecallerOptions{
		Limit:  memory.DefaultLimit,
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Recaller{searcher: s, limit: opts.Limit, logger: logging.OrNoOp(opts.Logger)}
}

// Kind returns observation.KindRecall.
func (r *Recaller) Kind() observation.Kind { return observation.KindRecall }

// Parameters returns the argument schema.
func (r *Recaller) Parameters() map[string]any { return util.CreateSchema(recallArgs{}) }

// Execute searches for the "query" argument.
func (r *Recaller) Execute(ctx context.Context, a Action) (observation.Observation, error) {
	if err := checkKind(a, observation.KindRecall); err != nil {
		return observation.Observation{}, err
	}
	args, err := bindArgs[recallArgs](a)
	if err != nil {
		return fail(observation.KindRecall, a, observation.FailureError, err)
	}
	limit := args.Limit
	if limit <= 0 {
		limit = r.limit
	}

	ctx, cancel := withTimeout(ctx, a, 0)
	defer cancel()

	hits, err := r.searcher.Search(ctx, args.Query, limit)
	if err != nil {
		r.logger.Debug("Recall failed", "query", args.Query, "error", err)
		return observation.Classify(observation.KindRecall, observation.RecallPayload{
			Query:   args.Query,
			Results: []observation.RecallResult{},
			Failure: &observation.Failure{Reason: FailureReason(ctx, err), Message: err.Error()},
		}, envelope(a))
	}

	results := make([]observation.RecallResult, 0, len(hits))
	for _, h := range hits {
		results = append(results, observation.RecallResult{
			ID:       h.ID,
			Content:  h.Content,
			Score:    h.Score,
			Metadata: h.Metadata,
		})
	}
	return observation.Classify(observation.KindRecall, observation.RecallPayload{
		Query:   args.Query,
		Results: results,
	}, envelope(a))
}
