package models

// IncidentCategory buckets incidents by failure mode.
type IncidentCategory string

const (
	CategoryPerformance        IncidentCategory = "performance"
	CategoryAvailability       IncidentCategory = "availability"
	CategoryErrorRate          IncidentCategory = "error_rate"
	CategoryResourceExhaustion IncidentCategory = "resource_exhaustion"
	CategorySecurity           IncidentCategory = "security"
	CategoryConfiguration      IncidentCategory = "configuration"
	CategoryCapacity           IncidentCategory = "capacity"
	CategoryUnknown            IncidentCategory = "unknown"
)

// ParseCategory maps a raw label onto the closed category set. Anything
// unrecognised lands in CategoryUnknown so malformed assessments still group.
func ParseCategory(value string) IncidentCategory {
	switch IncidentCategory(value) {
	case CategoryPerformance, CategoryAvailability, CategoryErrorRate,
		CategoryResourceExhaustion, CategorySecurity, CategoryConfiguration,
		CategoryCapacity:
		return IncidentCategory(value)
	default:
		return CategoryUnknown
	}
}

// AnomalyAssessment wraps one MonitoringEvent with the reasoner's verdict.
// Produced once per event per cycle and never mutated afterwards.
type AnomalyAssessment struct {
	Event MonitoringEvent `json:"event"`

	Score      float64  `json:"score"`
	Confidence float64  `json:"confidence"`
	Reasoning  string   `json:"reasoning"`
	Factors    []string `json:"factors,omitempty"`

	Category  IncidentCategory `json:"category"`
	IsAnomaly bool             `json:"is_anomaly"`

	RootCause          string   `json:"root_cause,omitempty"`
	RecommendedActions []string `json:"recommended_actions,omitempty"`
}

// NeutralAssessment returns the conservative stand-in used when the reasoner
// is unavailable: the event is promoted rather than silently dropped.
func NeutralAssessment(event MonitoringEvent) AnomalyAssessment {
	return AnomalyAssessment{
		Event:      event,
		Score:      0.5,
		Confidence: 0.3,
		Reasoning:  "analysis unavailable",
		Factors:    []string{"error during analysis"},
		Category:   CategoryUnknown,
		IsAnomaly:  true,
	}
}
