package models

// Status is the four-value health domain shared by every node of the tree.
type Status string

const (
	StatusUnknown  Status = "UNKNOWN"
	StatusCritical Status = "CRITICAL"
	StatusWarning  Status = "WARNING"
	StatusSuccess  Status = "SUCCESS"
)

// statusOrder is indexed by rank; a lower non-zero rank is less healthy.
var statusOrder = []Status{StatusUnknown, StatusCritical, StatusWarning, StatusSuccess}

// Rank returns the index of s in the fixed status order. Unrecognised values
// rank as UNKNOWN.
func (s Status) Rank() int {
	for i, candidate := range statusOrder {
		if candidate == s {
			return i
		}
	}
	return 0
}

// Priority is the inferred alerting priority of a condition.
type Priority string

const (
	PriorityCritical    Priority = "CRITICAL"
	PriorityHigh        Priority = "HIGH"
	PriorityWarning     Priority = "WARNING"
	PriorityNotAlerting Priority = "NOT_ALERTING"
)

// severity orders priorities from least to most severe.
func (p Priority) severity() int {
	switch p {
	case PriorityCritical:
		return 3
	case PriorityHigh:
		return 2
	case PriorityWarning:
		return 1
	default:
		return 0
	}
}

// MoreSevere reports whether p outranks other.
func (p Priority) MoreSevere(other Priority) bool {
	return p.severity() > other.severity()
}

// NormalizePriority folds the priority vocabulary of issues and incidents
// onto Priority.
func NormalizePriority(raw string) Priority {
	switch raw {
	case "CRITICAL", "critical":
		return PriorityCritical
	case "HIGH", "high":
		return PriorityHigh
	case "WARNING", "warning", "MEDIUM", "medium", "LOW", "low":
		return PriorityWarning
	default:
		return PriorityNotAlerting
	}
}

// ServiceLevel carries attainment data for service-level signals.
type ServiceLevel struct {
	Attainment float64 `json:"attainment"`
	Target     float64 `json:"target"`
}

// EntityStatus is the live status payload of an entity or service level.
type EntityStatus struct {
	GUID          string        `json:"guid"`
	Name          string        `json:"name"`
	EntityType    string        `json:"entityType"`
	Reporting     bool          `json:"reporting"`
	AlertSeverity string        `json:"alertSeverity"`
	WorkloadState string        `json:"workloadState,omitempty"`
	ServiceLevel  *ServiceLevel `json:"serviceLevel,omitempty"`
}

// Incident is an alert incident attached to a condition.
type Incident struct {
	ID          string   `json:"id"`
	ConditionID string   `json:"conditionId"`
	Title       string   `json:"title"`
	Priority    Priority `json:"priority"`
	OpenedAt    int64    `json:"openedAt"`
	ClosedAt    int64    `json:"closedAt,omitempty"`
}

// AlertStatus is the composed condition → issue → incident status of an alert
// condition signal.
type AlertStatus struct {
	GUID             string     `json:"guid"`
	ConditionID      string     `json:"conditionId"`
	AccountID        int64      `json:"accountId"`
	Name             string     `json:"name"`
	Enabled          bool       `json:"enabled"`
	InferredPriority Priority   `json:"inferredPriority"`
	Incidents        []Incident `json:"incidents"`
}

// InferPriority returns the most severe priority among incidents, or
// NOT_ALERTING when there are none.
func InferPriority(incidents []Incident) Priority {
	priority := PriorityNotAlerting
	for _, incident := range incidents {
		if incident.Priority.MoreSevere(priority) {
			priority = incident.Priority
		}
	}
	return priority
}

// Slice returns a copy of the alert status restricted to incidents active
// within w, with its priority re-inferred.
func (a AlertStatus) Slice(w TimeWindow) AlertStatus {
	out := a
	out.Incidents = nil
	for _, incident := range a.Incidents {
		if w.Overlaps(incident.OpenedAt, incident.ClosedAt) {
			out.Incidents = append(out.Incidents, incident)
		}
	}
	out.InferredPriority = InferPriority(out.Incidents)
	return out
}

// StatusRecords is one cycle's status data. A new value is produced on every
// poll or seek; existing maps are never written after construction.
type StatusRecords struct {
	Entities map[string]EntityStatus `json:"entities"`
	Alerts   map[string]AlertStatus  `json:"alerts"`
}

// NewStatusRecords wraps fetched maps, replacing nil with empty maps.
func NewStatusRecords(entities map[string]EntityStatus, alerts map[string]AlertStatus) StatusRecords {
	if entities == nil {
		entities = map[string]EntityStatus{}
	}
	if alerts == nil {
		alerts = map[string]AlertStatus{}
	}
	return StatusRecords{Entities: entities, Alerts: alerts}
}

// SliceAlerts derives the alert records for a sub-window.
func SliceAlerts(alerts map[string]AlertStatus, w TimeWindow) map[string]AlertStatus {
	out := make(map[string]AlertStatus, len(alerts))
	for guid, alert := range alerts {
		out[guid] = alert.Slice(w)
	}
	return out
}
