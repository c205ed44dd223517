package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-flows/internal/models"
)

func flowWithQueries() models.Flow {
	flow := singleStepFlow(signal(entityGUID(1, "explicit"), "explicit", models.SignalTypeEntity))
	step := &flow.Stages[0].Levels[0].Steps[0]
	step.Queries = []models.Query{
		{ID: "hosts", Type: models.SignalTypeEntity, SearchExpression: "name LIKE 'web%'", Included: true},
		{ID: "conds", Type: models.SignalTypeAlert, SearchExpression: "policy = 'checkout'", Included: false},
	}
	return flow
}

func TestResolveMergesMatchesInOneRoundTrip(t *testing.T) {
	searcher := &fakeSearcher{results: map[string][]models.Signal{
		"q0": {
			{GUID: entityGUID(1, "explicit"), Name: "dup", Type: models.SignalTypeEntity},
			{GUID: entityGUID(1, "web-1"), Name: "web-1", Type: models.SignalTypeEntity},
		},
		"q1": {{GUID: alertGUID(1, "7"), Name: "cond 7"}},
	}}
	resolver := NewResolver(searcher, nil)

	res := resolver.Resolve(context.Background(), flowWithQueries())

	require.Equal(t, 1, searcher.calls)
	require.Len(t, searcher.queries, 2)
	signals := res.Flow.Stages[0].Levels[0].Steps[0].Signals
	require.Len(t, signals, 3)
	require.Equal(t, "explicit", signals[0].Name)
	require.Equal(t, "hosts", signals[1].QueryID)
	require.True(t, signals[1].Included)
	require.Equal(t, models.SignalTypeAlert, signals[2].Type)
	require.False(t, signals[2].Included)
	require.Len(t, res.DynamicQuerySignals["hosts"], 2)
	require.Len(t, res.DynamicQuerySignals["conds"], 1)
}

func TestResolveFailureFallsBackToExplicitSignals(t *testing.T) {
	searcher := &fakeSearcher{err: errors.New("search down")}

	res := NewResolver(searcher, nil).Resolve(context.Background(), flowWithQueries())

	require.Len(t, res.Flow.Stages[0].Levels[0].Steps[0].Signals, 1)
	require.Empty(t, res.DynamicQuerySignals)
}

func TestResolveSkipsFlowsWithoutQueries(t *testing.T) {
	searcher := &fakeSearcher{}
	flow := singleStepFlow(signal(entityGUID(1, "a"), "a", models.SignalTypeEntity))

	res := NewResolver(searcher, nil).Resolve(context.Background(), flow)

	require.Zero(t, searcher.calls)
	require.Equal(t, flow, res.Flow)
}

func TestResolveDoesNotMutateInput(t *testing.T) {
	searcher := &fakeSearcher{results: map[string][]models.Signal{"q0": {{GUID: entityGUID(1, "new")}}}}
	flow := flowWithQueries()

	NewResolver(searcher, nil).Resolve(context.Background(), flow)

	require.Len(t, flow.Stages[0].Levels[0].Steps[0].Signals, 1)
}
