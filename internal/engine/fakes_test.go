package engine

import (
	"context"
	"errors"
	"sync"

	"github.com/miradorstack/mirador-flows/internal/models"
	"github.com/miradorstack/mirador-flows/internal/repo"
)

func entityGUID(account int64, id string) string {
	return models.EncodeGUID(account, "APM", "APPLICATION", id)
}

func alertGUID(account int64, conditionID string) string {
	return models.ConditionGUID(account, conditionID)
}

type fakeSearcher struct {
	calls   int
	queries []repo.SearchQuery
	results map[string][]models.Signal
	err     error
}

func (f *fakeSearcher) SearchSignals(_ context.Context, queries []repo.SearchQuery) (map[string][]models.Signal, error) {
	f.calls++
	f.queries = append(f.queries, queries...)
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}

var errBatch = errors.New("batch failed")

// fakeStatusClient serves canned records and counts calls.
type fakeStatusClient struct {
	mu sync.Mutex

	entities   map[string]models.EntityStatus
	conditions map[string]repo.Condition
	issues     []repo.Issue
	incidents  map[string]models.Incident

	failEntityAccount    int64
	failConditionAccount int64

	entityCalls    [][]string
	entityWindows  []models.TimeWindow
	conditionCalls int
	issueCalls     int
	incidentCalls  int
}

func newFakeStatusClient() *fakeStatusClient {
	return &fakeStatusClient{
		entities:   map[string]models.EntityStatus{},
		conditions: map[string]repo.Condition{},
		incidents:  map[string]models.Incident{},
	}
}

func (f *fakeStatusClient) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entityCalls) + f.conditionCalls + f.issueCalls + f.incidentCalls
}

func (f *fakeStatusClient) FetchEntityStatuses(_ context.Context, accountID int64, guids []string, window models.TimeWindow) (map[string]models.EntityStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entityCalls = append(f.entityCalls, append([]string(nil), guids...))
	f.entityWindows = append(f.entityWindows, window)
	if accountID == f.failEntityAccount {
		return nil, errBatch
	}
	out := map[string]models.EntityStatus{}
	for _, guid := range guids {
		if status, ok := f.entities[guid]; ok {
			out[guid] = status
		}
	}
	return out, nil
}

func (f *fakeStatusClient) FetchConditions(_ context.Context, accountID int64, ids []string) ([]repo.Condition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conditionCalls++
	if accountID == f.failConditionAccount {
		return nil, errBatch
	}
	var out []repo.Condition
	for _, id := range ids {
		if c, ok := f.conditions[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeStatusClient) FetchIssues(_ context.Context, _ int64, conditionIDs []string, _ models.TimeWindow) ([]repo.Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.issueCalls++
	wanted := map[string]struct{}{}
	for _, id := range conditionIDs {
		wanted[id] = struct{}{}
	}
	var out []repo.Issue
	for _, issue := range f.issues {
		for _, id := range issue.ConditionIDs {
			if _, ok := wanted[id]; ok {
				out = append(out, issue)
				break
			}
		}
	}
	return out, nil
}

func (f *fakeStatusClient) FetchIncidents(_ context.Context, _ int64, ids []string, _ models.TimeWindow) ([]models.Incident, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.incidentCalls++
	var out []models.Incident
	for _, id := range ids {
		if incident, ok := f.incidents[id]; ok {
			out = append(out, incident)
		}
	}
	return out, nil
}

func signal(guid, name string, typ models.SignalType) models.Signal {
	return models.Signal{GUID: guid, Name: name, Type: typ, Included: true}
}

func singleStepFlow(signals ...models.Signal) models.Flow {
	return models.Flow{
		ID: "checkout",
		Stages: []models.Stage{{
			ID: "stage-1",
			Levels: []models.Level{{
				ID:    "level-1",
				Steps: []models.Step{{ID: "step-1", Title: "Pay", Signals: signals}},
			}},
		}},
	}
}
