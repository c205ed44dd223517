package main

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/miradorstack/mirador-flows/internal/models"
)

type signal struct {
	GUID string `json:"guid"`
	Name string `json:"name"`
	Type string `json:"type"`
}

type entity struct {
	GUID          string               `json:"guid"`
	Name          string               `json:"name"`
	Type          string               `json:"type"`
	Reporting     bool                 `json:"reporting"`
	AlertSeverity string               `json:"alert_severity"`
	StatusValue   string               `json:"status_value,omitempty"`
	ServiceLevel  *models.ServiceLevel `json:"service_level,omitempty"`
}

type condition struct {
	ID      string `json:"id"`
	GUID    string `json:"guid"`
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
}

type issue struct {
	ID           string   `json:"id"`
	ConditionIDs []string `json:"condition_ids"`
	IncidentIDs  []string `json:"incident_ids"`
	Priority     string   `json:"priority"`
	State        string   `json:"state"`
}

type incident struct {
	ID          string `json:"id"`
	ConditionID string `json:"condition_id"`
	Priority    string `json:"priority"`
	Title       string `json:"title"`
	OpenedAt    int64  `json:"opened_at"`
	ClosedAt    int64  `json:"closed_at,omitempty"`
}

const account = 1

var (
	checkoutGUID = models.EncodeGUID(account, "APM", "APPLICATION", "checkout")
	paymentsGUID = models.EncodeGUID(account, "APM", "APPLICATION", "payments")
	sloGUID      = models.EncodeGUID(account, "EXT", "SERVICE_LEVEL", "checkout-latency")
	workerGUID   = models.EncodeGUID(account, "INFRA", "HOST", "worker-1")

	entities = map[string]entity{
		checkoutGUID: {GUID: checkoutGUID, Name: "checkout-api", Type: "APPLICATION", Reporting: true, AlertSeverity: "NOT_ALERTING"},
		paymentsGUID: {GUID: paymentsGUID, Name: "payments-api", Type: "APPLICATION", Reporting: true, AlertSeverity: "CRITICAL"},
		sloGUID:      {GUID: sloGUID, Name: "checkout latency", Type: "SERVICE_LEVEL", Reporting: true, ServiceLevel: &models.ServiceLevel{Attainment: 99.2, Target: 99.5}},
		workerGUID:   {GUID: workerGUID, Name: "worker-1", Type: "HOST", Reporting: true, AlertSeverity: "WARNING"},
	}

	conditions = map[string]condition{
		"42": {ID: "42", GUID: models.ConditionGUID(account, "42"), Name: "checkout error rate", Enabled: true},
		"43": {ID: "43", GUID: models.ConditionGUID(account, "43"), Name: "payments latency", Enabled: true},
	}
)

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/api/v1/signals/search", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Queries []struct {
				ID         string `json:"id"`
				Type       string `json:"type"`
				Expression string `json:"expression"`
			} `json:"queries"`
		}
		if !decodePost(w, r, &req) {
			return
		}
		results := make([]map[string]any, 0, len(req.Queries))
		for _, q := range req.Queries {
			var matches []signal
			if q.Type == string(models.SignalTypeAlert) {
				for _, c := range conditions {
					matches = append(matches, signal{GUID: c.GUID, Name: c.Name, Type: "alert"})
				}
			} else {
				for _, e := range entities {
					if e.ServiceLevel == nil && strings.Contains(strings.ToLower(q.Expression), strings.ToLower(e.Type)) {
						matches = append(matches, signal{GUID: e.GUID, Name: e.Name, Type: "entity"})
					}
				}
			}
			results = append(results, map[string]any{"id": q.ID, "signals": matches})
		}
		writeJSON(w, map[string]any{"results": results})
	})

	mux.HandleFunc("/api/v1/entities/status", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			GUIDs []string `json:"guids"`
		}
		if !decodePost(w, r, &req) {
			return
		}
		out := make([]entity, 0, len(req.GUIDs))
		for _, guid := range req.GUIDs {
			if e, ok := entities[guid]; ok {
				out = append(out, e)
			}
		}
		writeJSON(w, map[string]any{"entities": out})
	})

	mux.HandleFunc("/api/v1/alerts/conditions", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ConditionIDs []string `json:"condition_ids"`
		}
		if !decodePost(w, r, &req) {
			return
		}
		out := make([]condition, 0, len(req.ConditionIDs))
		for _, id := range req.ConditionIDs {
			if c, ok := conditions[id]; ok {
				out = append(out, c)
			}
		}
		writeJSON(w, map[string]any{"conditions": out})
	})

	mux.HandleFunc("/api/v1/alerts/issues", func(w http.ResponseWriter, r *http.Request) {
		if !decodePost(w, r, &struct{}{}) {
			return
		}
		writeJSON(w, map[string]any{
			"issues": []issue{
				{ID: "issue-1", ConditionIDs: []string{"42"}, IncidentIDs: []string{"inc-1", "inc-2"}, Priority: "CRITICAL", State: "ACTIVATED"},
			},
		})
	})

	mux.HandleFunc("/api/v1/alerts/incidents", func(w http.ResponseWriter, r *http.Request) {
		if !decodePost(w, r, &struct{}{}) {
			return
		}
		now := time.Now()
		writeJSON(w, map[string]any{
			"incidents": []incident{
				{ID: "inc-1", ConditionID: "42", Priority: "WARNING", Title: "error rate above 2%", OpenedAt: now.Add(-50 * time.Minute).UnixMilli(), ClosedAt: now.Add(-40 * time.Minute).UnixMilli()},
				{ID: "inc-2", ConditionID: "42", Priority: "CRITICAL", Title: "error rate above 5%", OpenedAt: now.Add(-10 * time.Minute).UnixMilli()},
			},
		})
	})

	logger := log.New(log.Writer(), "telemetry-mock ", log.LstdFlags|log.Lmicroseconds)
	srv := &http.Server{
		Addr:    ":8080",
		Handler: logRequests(logger, mux),
	}

	logger.Println("listening on :8080")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("server error: %v", err)
	}
}

func decodePost(w http.ResponseWriter, r *http.Request, out any) bool {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode error: %v", err)
	}
}

func logRequests(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Printf("%s %s %d %s", r.Method, r.URL.Path, rw.status, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
