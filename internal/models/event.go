package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// EventType enumerates the kinds of telemetry signals the agent consumes.
type EventType string

const (
	EventTypeAlarm   EventType = "alarm"
	EventTypeMetric  EventType = "metric"
	EventTypeLog     EventType = "log"
	EventTypeInsight EventType = "insight"
)

// ResourceType identifies the class of infrastructure resource an event refers to.
type ResourceType string

const (
	ResourceTypeCompute   ResourceType = "compute"
	ResourceTypeStorage   ResourceType = "storage"
	ResourceTypeContainer ResourceType = "container"
	ResourceTypeFunction  ResourceType = "function"
	ResourceTypeDatabase  ResourceType = "database"
	ResourceTypeBalancer  ResourceType = "load_balancer"
	ResourceTypeUnknown   ResourceType = "unknown"
)

// MonitoringEvent is one normalized telemetry signal. Events are produced by
// the telemetry collaborator and treated as immutable once collected.
type MonitoringEvent struct {
	EventID   string    `json:"event_id"`
	EventType EventType `json:"event_type"`
	Source    string    `json:"source"`

	Timestamp   time.Time `json:"timestamp"`
	CollectedAt time.Time `json:"collected_at"`

	ResourceType ResourceType `json:"resource_type"`
	ResourceID   string       `json:"resource_id,omitempty"`
	Namespace    string       `json:"namespace,omitempty"`
	Region       string       `json:"region,omitempty"`

	Title       string `json:"title"`
	Description string `json:"description"`

	MetricName  string  `json:"metric_name,omitempty"`
	MetricValue float64 `json:"metric_value,omitempty"`
	Threshold   float64 `json:"threshold,omitempty"`
	Unit        string  `json:"unit,omitempty"`

	State         string `json:"state,omitempty"`
	PreviousState string `json:"previous_state,omitempty"`

	Dimensions map[string]string      `json:"dimensions,omitempty"`
	Tags       map[string]string      `json:"tags,omitempty"`
	RawData    map[string]interface{} `json:"raw_data,omitempty"`
}

// EventID derives a stable event identifier from its source, name, and timestamp.
func EventID(source, name string, ts time.Time) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%s:%s", source, name, ts.UTC().Format(time.RFC3339))))
	return hex.EncodeToString(sum[:])[:16]
}
