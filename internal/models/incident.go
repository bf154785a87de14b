package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Priority is the P1 (most severe) to P6 (least severe) scale.
type Priority string

const (
	PriorityP1 Priority = "P1"
	PriorityP2 Priority = "P2"
	PriorityP3 Priority = "P3"
	PriorityP4 Priority = "P4"
	PriorityP5 Priority = "P5"
	PriorityP6 Priority = "P6"
)

// priorityOrder defines the single total order used everywhere priorities are
// compared; lower index means more severe.
var priorityOrder = []Priority{PriorityP1, PriorityP2, PriorityP3, PriorityP4, PriorityP5, PriorityP6}

// Priorities returns the scale from most to least severe.
func Priorities() []Priority {
	return append([]Priority(nil), priorityOrder...)
}

// Index returns the position of p in the severity order, or len(order) for
// unknown labels so they sort after every real priority.
func (p Priority) Index() int {
	for i, known := range priorityOrder {
		if known == p {
			return i
		}
	}
	return len(priorityOrder)
}

// Valid reports whether p is one of P1..P6.
func (p Priority) Valid() bool {
	return p.Index() < len(priorityOrder)
}

// MoreSevere returns the more severe of two priorities. It is commutative and
// picks the lower index in the P1..P6 order.
func MoreSevere(a, b Priority) Priority {
	if a.Index() <= b.Index() {
		return a
	}
	return b
}

// ParsePriority normalises a raw label into a Priority.
func ParsePriority(value string) (Priority, error) {
	p := Priority(strings.ToUpper(strings.TrimSpace(value)))
	if !p.Valid() {
		return "", fmt.Errorf("unknown priority %q", value)
	}
	return p, nil
}

// Description returns the operator-facing summary used in ticket bodies.
func (p Priority) Description() string {
	switch p {
	case PriorityP1:
		return "Critical - Production down, data loss risk, immediate action required"
	case PriorityP2:
		return "High - Major feature impacted, urgent attention needed"
	case PriorityP3:
		return "Medium - Minor feature impacted, workaround available"
	case PriorityP4:
		return "Low - Minimal impact, can be addressed in normal workflow"
	case PriorityP5:
		return "Very Low - Informational, monitor for changes"
	case PriorityP6:
		return "Trivial - Cosmetic issue, no functional impact"
	default:
		return "Unknown priority"
	}
}

// IncidentStatus tracks lifecycle progression. Transitions only move forward
// in the order below.
type IncidentStatus string

const (
	StatusDetected      IncidentStatus = "detected"
	StatusAnalyzing     IncidentStatus = "analyzing"
	StatusClassified    IncidentStatus = "classified"
	StatusTicketCreated IncidentStatus = "ticket_created"
	StatusNotified      IncidentStatus = "notified"
	StatusResolved      IncidentStatus = "resolved"
	StatusClosed        IncidentStatus = "closed"
)

var statusOrder = []IncidentStatus{
	StatusDetected,
	StatusAnalyzing,
	StatusClassified,
	StatusTicketCreated,
	StatusNotified,
	StatusResolved,
	StatusClosed,
}

// Index returns the position of s in the lifecycle order.
func (s IncidentStatus) Index() int {
	for i, known := range statusOrder {
		if known == s {
			return i
		}
	}
	return -1
}

// TicketRef records the tracking ticket attached to an incident.
type TicketRef struct {
	Key string `json:"key,omitempty"`
	URL string `json:"url,omitempty"`
}

// NotificationRecord logs one notification delivery attempt for an incident.
type NotificationRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Channels  []string  `json:"channels"`
	Results   []string  `json:"results,omitempty"`
}

// Incident is the correlated, classified unit of work created from one or
// more assessments. Incidents are mutated only through lifecycle methods and
// are never deleted; resolved and closed are terminal.
type Incident struct {
	IncidentID  string `json:"incident_id"`
	Title       string `json:"title"`
	Description string `json:"description"`

	Priority Priority         `json:"priority"`
	Category IncidentCategory `json:"category"`
	Status   IncidentStatus   `json:"status"`

	DetectedAt  time.Time  `json:"detected_at"`
	LastUpdated time.Time  `json:"last_updated"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`

	SourceEvents []MonitoringEvent `json:"source_events"`
	EventCount   int               `json:"event_count"`

	AffectedResources []string     `json:"affected_resources,omitempty"`
	ResourceType      ResourceType `json:"resource_type,omitempty"`
	Region            string       `json:"region,omitempty"`

	AnomalyScore       *AnomalyAssessment `json:"anomaly_score,omitempty"`
	RootCauseAnalysis  string             `json:"root_cause_analysis,omitempty"`
	RecommendedActions []string           `json:"recommended_actions,omitempty"`

	Ticket        TicketRef            `json:"ticket,omitempty"`
	Notifications []NotificationRecord `json:"notifications,omitempty"`

	Tags     map[string]string      `json:"tags,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// NewIncidentID derives an identifier from up to five member event IDs plus a
// wall-clock salt. Two groupings of the same events in the same instant differ
// only by the salt, so re-processing the same input yields a fresh identity
// each run; tickets and the knowledge store treat each run as a new record.
func NewIncidentID(events []MonitoringEvent, now time.Time) string {
	ids := make([]string, 0, 5)
	for _, ev := range events {
		if len(ids) == 5 {
			break
		}
		id := ev.EventID
		if id == "" {
			id = ev.Title
		}
		ids = append(ids, id)
	}
	content := strings.Join(ids, ":") + ":" + now.UTC().Format(time.RFC3339Nano)
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])[:12]
}

// IsHighPriority reports whether the incident needs immediate attention (P1-P3).
func (i *Incident) IsHighPriority() bool {
	return i.Priority.Index() <= PriorityP3.Index()
}

// IsLowPriority reports whether the incident is P4-P6.
func (i *Incident) IsLowPriority() bool {
	return i.Priority.Valid() && !i.IsHighPriority()
}

// ShouldAutoClose reports whether the ticket for this incident is eligible for
// automatic closure. Exactly the low-priority predicate: P4, P5, P6.
func (i *Incident) ShouldAutoClose() bool {
	return i.IsLowPriority()
}

// UpdateStatus advances the lifecycle state and stamps LastUpdated. Backward
// transitions are rejected so status stays monotonic for the life of the
// incident.
func (i *Incident) UpdateStatus(status IncidentStatus) error {
	next := status.Index()
	if next < 0 {
		return fmt.Errorf("unknown incident status %q", status)
	}
	if next < i.Status.Index() {
		return fmt.Errorf("cannot move incident %s from %s back to %s", i.IncidentID, i.Status, status)
	}
	i.Status = status
	i.LastUpdated = time.Now().UTC()
	return nil
}

// SetTicket attaches ticket tracking info and advances to ticket_created.
func (i *Incident) SetTicket(key, url string) error {
	i.Ticket = TicketRef{Key: key, URL: url}
	return i.UpdateStatus(StatusTicketCreated)
}

// RecordNotification appends a delivery record and advances to notified.
func (i *Incident) RecordNotification(rec NotificationRecord) error {
	i.Notifications = append(i.Notifications, rec)
	return i.UpdateStatus(StatusNotified)
}

// Resolve marks the incident resolved, optionally recording a resolution note.
func (i *Incident) Resolve(resolution string) error {
	now := time.Now().UTC()
	i.ResolvedAt = &now
	if resolution != "" {
		if i.Metadata == nil {
			i.Metadata = make(map[string]interface{})
		}
		i.Metadata["resolution"] = resolution
	}
	return i.UpdateStatus(StatusResolved)
}
