package query

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/mapspeak/mapspeak/internal/gis"
	"github.com/mapspeak/mapspeak/internal/intent"
)

// Engine runs the full query pipeline: interpret, validate, resolve
// parameter defaults, optimize against layer statistics.
type Engine struct {
	parser    *Parser
	resolver  *Resolver
	optimizer *Optimizer
	logger    *slog.Logger
}

// NewEngine creates an Engine. interpreter and stats may be nil; zero
// limits fall back to the defaults.
func NewEngine(interpreter Interpreter, stats gis.StatsProvider, limits Limits, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		parser:    NewParser(interpreter),
		resolver:  NewResolver(),
		optimizer: NewOptimizer(stats, limits),
		logger:    logger,
	}
}

// ProcessQuery turns a natural-language command into a validated,
// parameter-complete intent. Validation issues are attached to the intent
// rather than returned as errors; callers decide whether to proceed.
func (e *Engine) ProcessQuery(ctx context.Context, text string, session *gis.Session) *intent.Intent {
	in := e.parser.ParseQuery(ctx, text, session)

	in.ValidationIssues = Validate(in)
	if hasBlockingIssue(in.ValidationIssues) {
		e.logger.Debug("query validation failed",
			"operation", string(in.Operation),
			"issues", len(in.ValidationIssues))
		return in
	}

	e.resolver.Resolve(in, session)
	e.optimizer.Optimize(in, session)

	e.logger.Debug("query processed",
		"operation", string(in.Operation),
		"input_layer", in.InputLayer,
		"confidence", in.Confidence)
	return in
}

// BatchProcess interprets several commands concurrently, then reorders the
// results into a cheaper execution sequence. Results keep track of their
// original position via the original_sequence_index parameter.
func (e *Engine) BatchProcess(ctx context.Context, texts []string, session *gis.Session) ([]*intent.Intent, error) {
	results := make([]*intent.Intent, len(texts))

	g, ctx := errgroup.WithContext(ctx)
	for i, text := range texts {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i] = e.ProcessQuery(ctx, text, session)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return OptimizeSequence(results), nil
}

// Suggestions returns completion hints for a partial query.
func (e *Engine) Suggestions(in *intent.Intent) []string {
	return CompletionSuggestions(in)
}

func hasBlockingIssue(issues []intent.Issue) bool {
	for _, issue := range issues {
		if issue.Severity == intent.SeverityError {
			return true
		}
	}
	return false
}
