package engine

import (
	"fmt"
	"sort"
	"time"

	"github.com/vigilstack/vigil-agent/internal/models"
)

// DefaultPromotionFloor is the assessment score at or above which an event is
// promoted into incident formation even when the reasoner did not flag it.
const DefaultPromotionFloor = 0.5

// temporalLinkWindow bounds how far apart two events in the same namespace may
// be and still be linked for batched analysis.
const temporalLinkWindow = 300 * time.Second

// CorrelationEngine partitions assessed events into incident candidate groups.
type CorrelationEngine struct {
	promotionFloor float64
}

// NewCorrelationEngine builds an engine with the given promotion floor;
// non-positive values fall back to the default.
func NewCorrelationEngine(promotionFloor float64) *CorrelationEngine {
	if promotionFloor <= 0 {
		promotionFloor = DefaultPromotionFloor
	}
	return &CorrelationEngine{promotionFloor: promotionFloor}
}

// Correlate groups assessments into incident candidates. Assessments that are
// neither flagged anomalous nor scored at or above the promotion floor are
// dropped from incident formation (they stay in audit logs upstream). The
// remainder is partitioned by (category, resource) equality: every promoted
// assessment lands in exactly one group. Groups are returned in sorted key
// order so repeated runs over the same input produce the same grouping.
func (e *CorrelationEngine) Correlate(assessments []models.AnomalyAssessment) [][]models.AnomalyAssessment {
	groups := make(map[string][]models.AnomalyAssessment)
	for _, a := range assessments {
		if !a.IsAnomaly && a.Score < e.promotionFloor {
			continue
		}
		groups[groupKey(a)] = append(groups[groupKey(a)], a)
	}

	keys := make([]string, 0, len(groups))
	for key := range groups {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	out := make([][]models.AnomalyAssessment, 0, len(groups))
	for _, key := range keys {
		out = append(out, groups[key])
	}
	return out
}

func groupKey(a models.AnomalyAssessment) string {
	category := a.Category
	if category == "" {
		category = models.CategoryUnknown
	}
	resource := a.Event.ResourceID
	if resource == "" {
		resource = "unknown"
	}
	return fmt.Sprintf("%s:%s", category, resource)
}

// RelatedEvents links raw events sharing a resource, or a namespace within a
// short window, into overlapping candidate batches. The links only batch
// events for reasoner analysis; incident membership is decided solely by
// Correlate.
func RelatedEvents(events []models.MonitoringEvent) [][]models.MonitoringEvent {
	if len(events) == 0 {
		return nil
	}
	if len(events) == 1 {
		return [][]models.MonitoringEvent{events}
	}

	groups := make([][]models.MonitoringEvent, 0)
	used := make(map[int]struct{}, len(events))

	for i, event := range events {
		if _, ok := used[i]; ok {
			continue
		}
		group := []models.MonitoringEvent{event}
		used[i] = struct{}{}

		for j := i + 1; j < len(events); j++ {
			if _, ok := used[j]; ok {
				continue
			}
			if eventsRelated(event, events[j]) {
				group = append(group, events[j])
				used[j] = struct{}{}
			}
		}
		groups = append(groups, group)
	}

	return groups
}

func eventsRelated(a, b models.MonitoringEvent) bool {
	if a.ResourceID != "" && a.ResourceID == b.ResourceID {
		return true
	}
	if a.Namespace != "" && a.Namespace == b.Namespace {
		diff := a.Timestamp.Sub(b.Timestamp)
		if diff < 0 {
			diff = -diff
		}
		return diff <= temporalLinkWindow
	}
	return false
}
