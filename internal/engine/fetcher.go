package engine

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/miradorstack/mirador-flows/internal/metrics"
	"github.com/miradorstack/mirador-flows/internal/models"
	"github.com/miradorstack/mirador-flows/internal/repo"
	"github.com/miradorstack/mirador-flows/internal/utils"
)

// StatusClient is the subset of the telemetry client used to fetch status.
type StatusClient interface {
	FetchEntityStatuses(ctx context.Context, accountID int64, guids []string, window models.TimeWindow) (map[string]models.EntityStatus, error)
	FetchConditions(ctx context.Context, accountID int64, conditionIDs []string) ([]repo.Condition, error)
	FetchIssues(ctx context.Context, accountID int64, conditionIDs []string, window models.TimeWindow) ([]repo.Issue, error)
	FetchIncidents(ctx context.Context, accountID int64, incidentIDs []string, window models.TimeWindow) ([]models.Incident, error)
}

const defaultFetchConcurrency = 8

// FetchReport summarises one fetch.
type FetchReport struct {
	Batches       int
	FailedBatches int
}

func (r *FetchReport) add(other FetchReport) {
	r.Batches += other.Batches
	r.FailedBatches += other.FailedBatches
}

// Fetcher retrieves entity and alert status for a guid set. It never returns
// an error: failed batches are logged and their guids are absent from the
// result.
type Fetcher struct {
	client      StatusClient
	maxParams   int
	concurrency int
	logger      *slog.Logger
}

// NewFetcher constructs a fetcher that chunks entity requests to maxParams.
func NewFetcher(client StatusClient, maxParams int, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	if maxParams <= 0 {
		maxParams = 25
	}
	return &Fetcher{client: client, maxParams: maxParams, concurrency: defaultFetchConcurrency, logger: logger}
}

// FetchAll fetches entities and alerts concurrently.
func (f *Fetcher) FetchAll(ctx context.Context, set models.GuidSet, window models.TimeWindow) (models.StatusRecords, FetchReport) {
	var (
		entities     map[string]models.EntityStatus
		alerts       map[string]models.AlertStatus
		entityReport FetchReport
		alertReport  FetchReport
		wg           sync.WaitGroup
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		entities, entityReport = f.FetchEntities(ctx, set.Entity, window)
	}()
	go func() {
		defer wg.Done()
		alerts, alertReport = f.FetchAlerts(ctx, set.Alert, window)
	}()
	wg.Wait()

	report := entityReport
	report.add(alertReport)
	return models.NewStatusRecords(entities, alerts), report
}

// FetchEntities groups guids by account and issues one request per chunk of
// at most maxParams guids. Chunks run concurrently.
func (f *Fetcher) FetchEntities(ctx context.Context, guids map[string]struct{}, window models.TimeWindow) (map[string]models.EntityStatus, FetchReport) {
	out := map[string]models.EntityStatus{}
	var report FetchReport
	if len(guids) == 0 || f.client == nil {
		return out, report
	}

	byAccount := groupByAccount(guids)
	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(f.concurrency)
	for _, account := range sortedAccounts(byAccount) {
		for _, chunk := range chunkStrings(byAccount[account], f.maxParams) {
			account, chunk := account, chunk
			report.Batches++
			g.Go(func() error {
				statuses, err := f.client.FetchEntityStatuses(ctx, account, chunk, window)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					report.FailedBatches++
					metrics.ObserveBatchFailure("entity")
					f.logger.Warn("entity status batch failed",
						slog.Int64("account", account),
						slog.Int("guids", len(chunk)),
						slog.String("op", utils.OpOf(err)),
						slog.Any("error", err),
					)
					return nil
				}
				for guid, status := range statuses {
					out[guid] = status
				}
				return nil
			})
		}
	}
	_ = g.Wait()
	return out, report
}

type accountAlerts struct {
	account    int64
	guidByCond map[string]string
	conditions []repo.Condition
	issues     []repo.Issue
	incidents  []models.Incident
	failed     bool
}

// FetchAlerts composes alert status in three dependent stages: conditions,
// then issues for those conditions, then incidents raised by those issues.
// Accounts within a stage run concurrently; a failure drops only that
// account's alerts.
func (f *Fetcher) FetchAlerts(ctx context.Context, guids map[string]struct{}, window models.TimeWindow) (map[string]models.AlertStatus, FetchReport) {
	out := map[string]models.AlertStatus{}
	var report FetchReport
	if len(guids) == 0 || f.client == nil {
		return out, report
	}

	accounts := map[int64]*accountAlerts{}
	for guid := range guids {
		decoded, err := models.DecodeGUID(guid)
		if err != nil {
			continue
		}
		acct, ok := accounts[decoded.AccountID]
		if !ok {
			acct = &accountAlerts{account: decoded.AccountID, guidByCond: map[string]string{}}
			accounts[decoded.AccountID] = acct
		}
		acct.guidByCond[decoded.DomainID] = guid
	}
	ordered := make([]*accountAlerts, 0, len(accounts))
	for _, id := range sortedAccounts(accounts) {
		ordered = append(ordered, accounts[id])
	}

	var mu sync.Mutex
	stage := func(kind string, run func(a *accountAlerts) (bool, error)) {
		var g errgroup.Group
		g.SetLimit(f.concurrency)
		for _, acct := range ordered {
			acct := acct
			if acct.failed {
				continue
			}
			g.Go(func() error {
				ran, err := run(acct)
				mu.Lock()
				defer mu.Unlock()
				if ran {
					report.Batches++
				}
				if err != nil {
					acct.failed = true
					report.FailedBatches++
					metrics.ObserveBatchFailure(kind)
					f.logger.Warn("alert batch failed",
						slog.String("stage", kind),
						slog.Int64("account", acct.account),
						slog.String("op", utils.OpOf(err)),
						slog.Any("error", err),
					)
				}
				return nil
			})
		}
		_ = g.Wait()
	}

	stage("conditions", func(a *accountAlerts) (bool, error) {
		ids := sortedKeys(a.guidByCond)
		conditions, err := f.client.FetchConditions(ctx, a.account, ids)
		if err != nil {
			return true, err
		}
		a.conditions = conditions
		return true, nil
	})
	stage("issues", func(a *accountAlerts) (bool, error) {
		if len(a.conditions) == 0 {
			return false, nil
		}
		ids := make([]string, 0, len(a.conditions))
		for _, c := range a.conditions {
			ids = append(ids, c.ID)
		}
		issues, err := f.client.FetchIssues(ctx, a.account, ids, window)
		if err != nil {
			return true, err
		}
		a.issues = issues
		return true, nil
	})
	stage("incidents", func(a *accountAlerts) (bool, error) {
		seen := map[string]struct{}{}
		for _, issue := range a.issues {
			for _, id := range issue.IncidentIDs {
				seen[id] = struct{}{}
			}
		}
		if len(seen) == 0 {
			return false, nil
		}
		incidents, err := f.client.FetchIncidents(ctx, a.account, sortedKeys(seen), window)
		if err != nil {
			return true, err
		}
		a.incidents = incidents
		return true, nil
	})

	for _, acct := range ordered {
		if acct.failed {
			continue
		}
		for guid, status := range composeAlerts(acct, window) {
			out[guid] = status
		}
	}
	return out, report
}

// composeAlerts attaches each incident to its condition, falling back to the
// issue linkage when the incident carries no condition id.
func composeAlerts(a *accountAlerts, window models.TimeWindow) map[string]models.AlertStatus {
	conditionsByIncident := map[string][]string{}
	for _, issue := range a.issues {
		for _, incidentID := range issue.IncidentIDs {
			conditionsByIncident[incidentID] = append(conditionsByIncident[incidentID], issue.ConditionIDs...)
		}
	}
	incidentsByCondition := map[string][]models.Incident{}
	for _, incident := range a.incidents {
		if !window.Overlaps(incident.OpenedAt, incident.ClosedAt) {
			continue
		}
		if incident.ConditionID != "" {
			incidentsByCondition[incident.ConditionID] = append(incidentsByCondition[incident.ConditionID], incident)
			continue
		}
		for _, conditionID := range uniqueStrings(conditionsByIncident[incident.ID]) {
			linked := incident
			linked.ConditionID = conditionID
			incidentsByCondition[conditionID] = append(incidentsByCondition[conditionID], linked)
		}
	}

	out := make(map[string]models.AlertStatus, len(a.conditions))
	for _, condition := range a.conditions {
		guid, ok := a.guidByCond[condition.ID]
		if !ok {
			guid = condition.GUID
		}
		if guid == "" {
			continue
		}
		incidents := incidentsByCondition[condition.ID]
		sort.SliceStable(incidents, func(i, j int) bool { return incidents[i].OpenedAt < incidents[j].OpenedAt })
		out[guid] = models.AlertStatus{
			GUID:             guid,
			ConditionID:      condition.ID,
			AccountID:        a.account,
			Name:             condition.Name,
			Enabled:          condition.Enabled,
			InferredPriority: models.InferPriority(incidents),
			Incidents:        incidents,
		}
	}
	return out
}

func groupByAccount(guids map[string]struct{}) map[int64][]string {
	out := map[int64][]string{}
	for guid := range guids {
		decoded, err := models.DecodeGUID(guid)
		if err != nil {
			continue
		}
		out[decoded.AccountID] = append(out[decoded.AccountID], guid)
	}
	for account := range out {
		sort.Strings(out[account])
	}
	return out
}

func sortedAccounts[V any](m map[int64]V) []int64 {
	out := make([]int64, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func chunkStrings(values []string, size int) [][]string {
	if size <= 0 {
		size = len(values)
	}
	var out [][]string
	for start := 0; start < len(values); start += size {
		end := start + size
		if end > len(values) {
			end = len(values)
		}
		out = append(out, values[start:end])
	}
	return out
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
