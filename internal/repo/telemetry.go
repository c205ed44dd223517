package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/miradorstack/mirador-flows/internal/cache"
	"github.com/miradorstack/mirador-flows/internal/models"
	"github.com/miradorstack/mirador-flows/internal/utils"
)

// SearchQuery is one sub-query of a batched signal search.
type SearchQuery struct {
	ID         string            `json:"id"`
	Type       models.SignalType `json:"type"`
	Expression string            `json:"expression"`
}

// Condition is alert condition metadata.
type Condition struct {
	ID      string `json:"id"`
	GUID    string `json:"guid"`
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
}

// Issue links conditions to the incidents they raised.
type Issue struct {
	ID           string   `json:"id"`
	ConditionIDs []string `json:"condition_ids"`
	IncidentIDs  []string `json:"incident_ids"`
	Priority     string   `json:"priority"`
	State        string   `json:"state"`
}

// TelemetryOptions configures a TelemetryClient.
type TelemetryOptions struct {
	BaseURL           string
	SearchPath        string
	EntityStatusPath  string
	ConditionsPath    string
	IssuesPath        string
	IncidentsPath     string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	Cache             cache.Provider
	ConditionTTL      time.Duration
	Logger            *slog.Logger
}

// TelemetryClient wraps the telemetry query service endpoints used to resolve
// and fetch signal status.
type TelemetryClient struct {
	baseURL          string
	searchPath       string
	entityStatusPath string
	conditionsPath   string
	issuesPath       string
	incidentsPath    string
	httpClient       *http.Client
	limiter          *rate.Limiter
	cache            cache.Provider
	conditionTTL     time.Duration
	logger           *slog.Logger
}

// NewTelemetryClient constructs a client targeting the configured telemetry service.
func NewTelemetryClient(opts TelemetryOptions) *TelemetryClient {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Cache == nil {
		opts.Cache = cache.NoopProvider{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}
	return &TelemetryClient{
		baseURL:          strings.TrimRight(opts.BaseURL, "/"),
		searchPath:       opts.SearchPath,
		entityStatusPath: opts.EntityStatusPath,
		conditionsPath:   opts.ConditionsPath,
		issuesPath:       opts.IssuesPath,
		incidentsPath:    opts.IncidentsPath,
		httpClient:       &http.Client{Timeout: opts.Timeout},
		limiter:          rate.NewLimiter(limit, burst),
		cache:            opts.Cache,
		conditionTTL:     opts.ConditionTTL,
		logger:           opts.Logger,
	}
}

// SearchSignals runs every sub-query in a single round trip and returns the
// matched signals keyed by sub-query id.
func (c *TelemetryClient) SearchSignals(ctx context.Context, queries []SearchQuery) (map[string][]models.Signal, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	payload := map[string]interface{}{"queries": queries}

	var response struct {
		Results []struct {
			ID      string `json:"id"`
			Signals []struct {
				GUID string `json:"guid"`
				Name string `json:"name"`
				Type string `json:"type"`
			} `json:"signals"`
		} `json:"results"`
	}
	if err := c.postJSON(ctx, c.resolvePath(c.searchPath), payload, &response); err != nil {
		return nil, utils.NewAppError("search", "signal search request failed", err)
	}

	out := make(map[string][]models.Signal, len(response.Results))
	for _, result := range response.Results {
		signals := make([]models.Signal, 0, len(result.Signals))
		for _, s := range result.Signals {
			signals = append(signals, models.Signal{GUID: s.GUID, Name: s.Name, Type: models.SignalType(s.Type)})
		}
		out[result.ID] = signals
	}
	return out, nil
}

// FetchEntityStatuses returns the status of every guid in a single request.
// Callers are responsible for chunking to the service's parameter limit.
func (c *TelemetryClient) FetchEntityStatuses(ctx context.Context, accountID int64, guids []string, window models.TimeWindow) (map[string]models.EntityStatus, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	payload := map[string]interface{}{
		"account_id": accountID,
		"guids":      guids,
		"start":      window.Start,
		"end":        window.End,
	}

	var response struct {
		Entities []struct {
			GUID          string               `json:"guid"`
			Name          string               `json:"name"`
			Type          string               `json:"type"`
			Reporting     bool                 `json:"reporting"`
			AlertSeverity string               `json:"alert_severity"`
			StatusValue   string               `json:"status_value"`
			ServiceLevel  *models.ServiceLevel `json:"service_level"`
		} `json:"entities"`
	}
	if err := c.postJSON(ctx, c.resolvePath(c.entityStatusPath), payload, &response); err != nil {
		return nil, utils.NewAppError("entity_status", fmt.Sprintf("account %d", accountID), err)
	}

	out := make(map[string]models.EntityStatus, len(response.Entities))
	for _, e := range response.Entities {
		out[e.GUID] = models.EntityStatus{
			GUID:          e.GUID,
			Name:          e.Name,
			EntityType:    e.Type,
			Reporting:     e.Reporting,
			AlertSeverity: e.AlertSeverity,
			WorkloadState: e.StatusValue,
			ServiceLevel:  e.ServiceLevel,
		}
	}
	return out, nil
}

// FetchConditions returns condition details, serving what it can from cache.
func (c *TelemetryClient) FetchConditions(ctx context.Context, accountID int64, conditionIDs []string) ([]Condition, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}

	cached := c.cachedConditions(ctx, accountID, conditionIDs)
	conditions := make([]Condition, 0, len(conditionIDs))
	missing := make([]string, 0, len(conditionIDs))
	for _, id := range conditionIDs {
		if condition, ok := cached[id]; ok {
			conditions = append(conditions, condition)
			continue
		}
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return conditions, nil
	}

	payload := map[string]interface{}{
		"account_id":    accountID,
		"condition_ids": missing,
	}
	var response struct {
		Conditions []Condition `json:"conditions"`
	}
	if err := c.postJSON(ctx, c.resolvePath(c.conditionsPath), payload, &response); err != nil {
		return nil, utils.NewAppError("conditions", fmt.Sprintf("account %d", accountID), err)
	}

	for _, condition := range response.Conditions {
		if condition.GUID == "" {
			condition.GUID = models.ConditionGUID(accountID, condition.ID)
		}
		c.storeCondition(ctx, accountID, condition)
		conditions = append(conditions, condition)
	}
	return conditions, nil
}

// FetchIssues returns issues raised by the given conditions within the window.
func (c *TelemetryClient) FetchIssues(ctx context.Context, accountID int64, conditionIDs []string, window models.TimeWindow) ([]Issue, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	payload := map[string]interface{}{
		"account_id":    accountID,
		"condition_ids": conditionIDs,
		"start":         window.Start,
		"end":           window.End,
	}
	var response struct {
		Issues []Issue `json:"issues"`
	}
	if err := c.postJSON(ctx, c.resolvePath(c.issuesPath), payload, &response); err != nil {
		return nil, utils.NewAppError("issues", fmt.Sprintf("account %d", accountID), err)
	}
	return response.Issues, nil
}

// FetchIncidents returns full incident records within the window.
func (c *TelemetryClient) FetchIncidents(ctx context.Context, accountID int64, incidentIDs []string, window models.TimeWindow) ([]models.Incident, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	payload := map[string]interface{}{
		"account_id":   accountID,
		"incident_ids": incidentIDs,
		"start":        window.Start,
		"end":          window.End,
	}
	var response struct {
		Incidents []struct {
			ID          string `json:"id"`
			ConditionID string `json:"condition_id"`
			Priority    string `json:"priority"`
			Title       string `json:"title"`
			OpenedAt    int64  `json:"opened_at"`
			ClosedAt    int64  `json:"closed_at"`
		} `json:"incidents"`
	}
	if err := c.postJSON(ctx, c.resolvePath(c.incidentsPath), payload, &response); err != nil {
		return nil, utils.NewAppError("incidents", fmt.Sprintf("account %d", accountID), err)
	}

	incidents := make([]models.Incident, 0, len(response.Incidents))
	for _, inc := range response.Incidents {
		incidents = append(incidents, models.Incident{
			ID:          inc.ID,
			ConditionID: inc.ConditionID,
			Title:       inc.Title,
			Priority:    models.NormalizePriority(inc.Priority),
			OpenedAt:    inc.OpenedAt,
			ClosedAt:    inc.ClosedAt,
		})
	}
	return incidents, nil
}

func (c *TelemetryClient) ready() error {
	if c == nil {
		return errors.New("telemetry client not initialised")
	}
	if c.baseURL == "" {
		return errors.New("telemetry base URL not configured")
	}
	return nil
}

func conditionCacheKey(accountID int64, conditionID string) string {
	return "conditions:" + strconv.FormatInt(accountID, 10) + ":" + conditionID
}

// cachedConditions returns the cached conditions among ids in one lookup.
// Cache errors are treated as misses.
func (c *TelemetryClient) cachedConditions(ctx context.Context, accountID int64, ids []string) map[string]Condition {
	out := make(map[string]Condition, len(ids))
	if c.conditionTTL <= 0 || len(ids) == 0 {
		return out
	}
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, conditionCacheKey(accountID, id))
	}
	found, err := cache.GetManyJSON[Condition](ctx, c.cache, keys)
	if err != nil {
		c.logger.Debug("condition cache read failed", slog.Int64("account", accountID), slog.Any("error", err))
		return out
	}
	for _, condition := range found {
		out[condition.ID] = condition
	}
	return out
}

func (c *TelemetryClient) storeCondition(ctx context.Context, accountID int64, condition Condition) {
	if c.conditionTTL <= 0 {
		return
	}
	if err := cache.SetJSON(ctx, c.cache, conditionCacheKey(accountID, condition.ID), condition, c.conditionTTL); err != nil {
		c.logger.Debug("condition cache write failed", slog.String("condition_id", condition.ID), slog.Any("error", err))
	}
}

func (c *TelemetryClient) resolvePath(p string) string {
	if c.baseURL == "" {
		return ""
	}
	cleaned := "/" + strings.TrimLeft(p, "/")
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return c.baseURL + cleaned
	}
	u.Path = path.Join(u.Path, cleaned)
	return u.String()
}

func (c *TelemetryClient) postJSON(ctx context.Context, endpoint string, payload any, out any) error {
	if endpoint == "" {
		return fmt.Errorf("empty endpoint")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telemetry service returned %s", resp.Status)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
