package models

import "time"

// Stage names the seven pipeline stages in execution order.
type Stage string

const (
	StageCollect         Stage = "collect"
	StageRetrieveContext Stage = "retrieve_context"
	StageAnalyze         Stage = "analyze"
	StageClassify        Stage = "classify"
	StageCreateTickets   Stage = "create_tickets"
	StageNotify          Stage = "notify"
	StageStore           Stage = "store"
)

// Stages returns the pipeline stages in execution order.
func Stages() []Stage {
	return []Stage{
		StageCollect,
		StageRetrieveContext,
		StageAnalyze,
		StageClassify,
		StageCreateTickets,
		StageNotify,
		StageStore,
	}
}

// Document is one retrieved knowledge-base entry (runbook or past incident).
type Document struct {
	ID      string  `json:"id,omitempty"`
	Title   string  `json:"title"`
	Content string  `json:"content"`
	Source  string  `json:"source,omitempty"`
	Score   float64 `json:"score,omitempty"`
}

// RetrievedContext bundles the knowledge retrieved for one cycle.
type RetrievedContext struct {
	Runbooks         []Document
	SimilarIncidents []Document
}

// CollectResult is the collect stage output.
type CollectResult struct {
	Events []MonitoringEvent
}

// ContextResult is the retrieve_context stage output.
type ContextResult struct {
	Context RetrievedContext
}

// AnalyzeResult is the analyze stage output.
type AnalyzeResult struct {
	Assessments []AnomalyAssessment
}

// ClassifyResult is the classify stage output.
type ClassifyResult struct {
	Incidents []*Incident
}

// TicketOutcome records the per-incident result of ticket creation.
type TicketOutcome struct {
	IncidentID string `json:"incident_id"`
	TicketKey  string `json:"ticket_key"`
	TicketURL  string `json:"ticket_url,omitempty"`
	AutoClosed bool   `json:"auto_closed"`
}

// TicketResult accumulates ticket outcomes for a cycle.
type TicketResult struct {
	Tickets []TicketOutcome
}

// Merge appends another result's outcomes. Append-only so parallel branches
// can contribute without changing aggregation semantics.
func (r TicketResult) Merge(other TicketResult) TicketResult {
	r.Tickets = append(r.Tickets, other.Tickets...)
	return r
}

// NotificationOutcome records the per-incident result of notification delivery.
type NotificationOutcome struct {
	IncidentID string   `json:"incident_id"`
	Priority   Priority `json:"priority"`
	Channels   []string `json:"channels"`
}

// NotifyResult accumulates notification outcomes for a cycle.
type NotifyResult struct {
	Notifications []NotificationOutcome
}

// Merge appends another result's outcomes.
func (r NotifyResult) Merge(other NotifyResult) NotifyResult {
	r.Notifications = append(r.Notifications, other.Notifications...)
	return r
}

// StoreResult accumulates the incident IDs indexed into the knowledge store.
type StoreResult struct {
	StoredIncidentIDs []string
}

// Merge appends another result's stored IDs.
func (r StoreResult) Merge(other StoreResult) StoreResult {
	r.StoredIncidentIDs = append(r.StoredIncidentIDs, other.StoredIncidentIDs...)
	return r
}

// StageError records a degraded stage without aborting the cycle.
type StageError struct {
	Stage Stage  `json:"stage"`
	Err   string `json:"error"`
}

// CycleSummary is the payload produced by one full pipeline run. A summary is
// always returned, even for a fully degraded cycle.
type CycleSummary struct {
	CycleID     string        `json:"cycle_id"`
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration"`
	Success     bool          `json:"success"`
	Error       string        `json:"error,omitempty"`
	StageErrors []StageError  `json:"stage_errors,omitempty"`

	EventsCollected   int                   `json:"events_collected"`
	IncidentsCreated  int                   `json:"incidents_created"`
	TicketsCreated    []TicketOutcome       `json:"tickets_created"`
	NotificationsSent []NotificationOutcome `json:"notifications_sent"`
	IncidentsStored   int                   `json:"incidents_stored"`

	Incidents []*Incident `json:"incidents"`
}
