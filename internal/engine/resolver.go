package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/miradorstack/mirador-flows/internal/metrics"
	"github.com/miradorstack/mirador-flows/internal/models"
	"github.com/miradorstack/mirador-flows/internal/repo"
)

// Searcher resolves dynamic queries against the telemetry search API.
type Searcher interface {
	SearchSignals(ctx context.Context, queries []repo.SearchQuery) (map[string][]models.Signal, error)
}

// Resolution is a flow whose dynamic queries have been merged into their
// steps' signal lists.
type Resolution struct {
	Flow                models.Flow
	DynamicQuerySignals map[string][]models.Signal
}

// Resolver expands dynamic queries into concrete signals.
type Resolver struct {
	searcher Searcher
	logger   *slog.Logger
}

// NewResolver constructs a resolver. A nil searcher leaves flows unchanged.
func NewResolver(searcher Searcher, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{searcher: searcher, logger: logger}
}

type queryRef struct {
	stage, level, step int
	query              models.Query
}

// Resolve evaluates every dynamic query of the flow in one batched search and
// appends the matches to their owning step, tagged with the query id and its
// included flag. Explicit signals keep their position ahead of query matches.
// Search failures are logged and resolve to empty matches.
func (r *Resolver) Resolve(ctx context.Context, flow models.Flow) Resolution {
	out := Resolution{Flow: flow.Clone(), DynamicQuerySignals: map[string][]models.Signal{}}
	if !flow.HasQueries() || r.searcher == nil {
		return out
	}

	var (
		refs    []queryRef
		queries []repo.SearchQuery
	)
	for si, stage := range out.Flow.Stages {
		for li, level := range stage.Levels {
			for ti, step := range level.Steps {
				for _, q := range step.Queries {
					expr, err := repo.BuildSearchExpression(q)
					if err != nil {
						r.logger.Warn("skipping invalid query",
							slog.String("step", step.ID),
							slog.String("query", q.ID),
							slog.Any("error", err),
						)
						continue
					}
					id := fmt.Sprintf("q%d", len(queries))
					refs = append(refs, queryRef{stage: si, level: li, step: ti, query: q})
					queries = append(queries, repo.SearchQuery{ID: id, Type: q.Type.FetchKind(), Expression: expr})
				}
			}
		}
	}
	if len(queries) == 0 {
		return out
	}

	results, err := r.searcher.SearchSignals(ctx, queries)
	if err != nil {
		metrics.ObserveBatchFailure("search")
		r.logger.Warn("dynamic query search failed", slog.Int("queries", len(queries)), slog.Any("error", err))
		return out
	}

	for i, ref := range refs {
		matches := results[queries[i].ID]
		step := &out.Flow.Stages[ref.stage].Levels[ref.level].Steps[ref.step]
		present := make(map[string]struct{}, len(step.Signals))
		for _, s := range step.Signals {
			present[s.GUID] = struct{}{}
		}

		tagged := make([]models.Signal, 0, len(matches))
		for _, match := range matches {
			sig := models.Signal{
				GUID:     match.GUID,
				Name:     match.Name,
				Type:     ref.query.Type,
				Included: ref.query.Included,
				QueryID:  ref.query.ID,
			}
			if ref.query.Type == models.SignalTypeEntity && match.Type.Valid() {
				sig.Type = match.Type
			}
			tagged = append(tagged, sig)
			if _, dup := present[sig.GUID]; dup {
				continue
			}
			present[sig.GUID] = struct{}{}
			step.Signals = append(step.Signals, sig)
		}
		out.DynamicQuerySignals[ref.query.ID] = append(out.DynamicQuerySignals[ref.query.ID], tagged...)
	}

	r.logger.Debug("resolved dynamic queries",
		slog.Int("queries", len(queries)),
		slog.Int("matched", countSignals(out.DynamicQuerySignals)),
	)
	return out
}

func countSignals(m map[string][]models.Signal) int {
	total := 0
	for _, signals := range m {
		total += len(signals)
	}
	return total
}
