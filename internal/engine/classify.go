package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vigilstack/vigil-agent/internal/models"
)

// GroupClassifier is the reasoner surface used for the AI severity opinion.
type GroupClassifier interface {
	ClassifyGroup(ctx context.Context, group []models.AnomalyAssessment, kctx models.RetrievedContext) (models.Priority, error)
}

// ScoreThreshold maps a minimum anomaly score to a priority.
type ScoreThreshold struct {
	Priority models.Priority `yaml:"priority"`
	MinScore float64         `yaml:"min_score"`
}

// ClassificationRules is the tunable rule pack driving the deterministic
// severity path. Thresholds must be ordered most-severe-first with strictly
// decreasing minimum scores.
type ClassificationRules struct {
	Thresholds      []ScoreThreshold                            `yaml:"thresholds"`
	CategoryWeights map[models.IncidentCategory]PriorityWeights `yaml:"category_weights"`
	Keywords        map[models.Priority][]string                `yaml:"keywords"`
}

// PriorityWeights maps candidate priorities to escalation weights.
type PriorityWeights map[models.Priority]float64

// DefaultClassificationRules returns the built-in rule pack.
func DefaultClassificationRules() ClassificationRules {
	return ClassificationRules{
		Thresholds: []ScoreThreshold{
			{Priority: models.PriorityP1, MinScore: 0.95},
			{Priority: models.PriorityP2, MinScore: 0.85},
			{Priority: models.PriorityP3, MinScore: 0.70},
			{Priority: models.PriorityP4, MinScore: 0.50},
			{Priority: models.PriorityP5, MinScore: 0.30},
			{Priority: models.PriorityP6, MinScore: 0.0},
		},
		CategoryWeights: map[models.IncidentCategory]PriorityWeights{
			models.CategoryAvailability:       {models.PriorityP1: 0.3, models.PriorityP2: 0.2},
			models.CategorySecurity:           {models.PriorityP1: 0.4, models.PriorityP2: 0.3},
			models.CategoryErrorRate:          {models.PriorityP2: 0.2, models.PriorityP3: 0.2},
			models.CategoryPerformance:        {models.PriorityP3: 0.3, models.PriorityP4: 0.2},
			models.CategoryResourceExhaustion: {models.PriorityP2: 0.3, models.PriorityP3: 0.2},
			models.CategoryConfiguration:      {models.PriorityP4: 0.3, models.PriorityP5: 0.2},
			models.CategoryCapacity:           {models.PriorityP3: 0.2, models.PriorityP4: 0.2},
		},
		Keywords: map[models.Priority][]string{
			models.PriorityP1: {"production down", "outage", "data loss", "security breach", "critical failure"},
			models.PriorityP2: {"degraded", "major impact", "significant", "urgent"},
			models.PriorityP3: {"partial", "minor impact", "workaround"},
			models.PriorityP4: {"low impact", "non-critical"},
			models.PriorityP5: {"informational", "warning"},
			models.PriorityP6: {"cosmetic", "trivial"},
		},
	}
}

// LoadClassificationRules reads a rule pack from the given YAML path. An empty
// or missing path yields the built-in defaults.
func LoadClassificationRules(path string) (ClassificationRules, error) {
	rules := DefaultClassificationRules()
	if path == "" {
		return rules, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return rules, nil
		}
		return ClassificationRules{}, err
	}
	var loaded ClassificationRules
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return ClassificationRules{}, fmt.Errorf("parse rule pack: %w", err)
	}
	if len(loaded.Thresholds) > 0 {
		rules.Thresholds = loaded.Thresholds
	}
	if len(loaded.CategoryWeights) > 0 {
		rules.CategoryWeights = loaded.CategoryWeights
	}
	if len(loaded.Keywords) > 0 {
		rules.Keywords = loaded.Keywords
	}
	if err := rules.validate(); err != nil {
		return ClassificationRules{}, err
	}
	return rules, nil
}

// validate enforces the monotonic threshold ordering: more severe priorities
// must require scores at least as high as less severe ones.
func (r ClassificationRules) validate() error {
	if len(r.Thresholds) == 0 {
		return errors.New("rule pack has no score thresholds")
	}
	for i, th := range r.Thresholds {
		if !th.Priority.Valid() {
			return fmt.Errorf("threshold %d names unknown priority %q", i, th.Priority)
		}
		if i == 0 {
			continue
		}
		prev := r.Thresholds[i-1]
		if th.Priority.Index() <= prev.Priority.Index() {
			return fmt.Errorf("thresholds must run most-severe-first: %s before %s", prev.Priority, th.Priority)
		}
		if th.MinScore >= prev.MinScore {
			return fmt.Errorf("threshold scores must decrease: %s=%.2f, %s=%.2f", prev.Priority, prev.MinScore, th.Priority, th.MinScore)
		}
	}
	return nil
}

func (r ClassificationRules) thresholdFor(p models.Priority) (float64, bool) {
	for _, th := range r.Thresholds {
		if th.Priority == p {
			return th.MinScore, true
		}
	}
	return 0, false
}

// SeverityClassifier combines the deterministic rule path with an optional AI
// opinion into one priority per correlated group.
type SeverityClassifier struct {
	rules    ClassificationRules
	reasoner GroupClassifier
	factory  *IncidentFactory
	logger   *slog.Logger
}

// NewSeverityClassifier builds a classifier. A nil reasoner disables the AI
// opinion; classification then rides the rule path alone.
func NewSeverityClassifier(rules ClassificationRules, reasoner GroupClassifier, logger *slog.Logger) *SeverityClassifier {
	if logger == nil {
		logger = slog.Default()
	}
	if len(rules.Thresholds) == 0 {
		rules = DefaultClassificationRules()
	}
	return &SeverityClassifier{
		rules:    rules,
		reasoner: reasoner,
		factory:  NewIncidentFactory(),
		logger:   logger,
	}
}

// Classify scores each correlated group and emits one incident per group.
func (c *SeverityClassifier) Classify(ctx context.Context, groups [][]models.AnomalyAssessment, kctx models.RetrievedContext) []*models.Incident {
	incidents := make([]*models.Incident, 0, len(groups))
	for _, group := range groups {
		if len(group) == 0 {
			continue
		}
		priority := c.RuleBasedPriority(group)

		if c.reasoner != nil {
			aiPriority, err := c.reasoner.ClassifyGroup(ctx, group, kctx)
			if err != nil {
				// The AI opinion degrades to P4; the rule opinion stands on its own.
				aiPriority = models.PriorityP4
				c.logger.Warn("ai classification failed", slog.Any("error", err))
			}
			priority = models.MoreSevere(priority, aiPriority)
		}

		incidents = append(incidents, c.factory.Build(group, priority))
	}
	return incidents
}

// RuleBasedPriority runs the deterministic path: score thresholds, a single
// category-weight escalation, then a severity-ordered keyword scan. Each
// signal can only escalate the running result.
func (c *SeverityClassifier) RuleBasedPriority(group []models.AnomalyAssessment) models.Priority {
	if len(group) == 0 {
		return models.PriorityP6
	}

	maxScore := 0.0
	for _, a := range group {
		if a.Score > maxScore {
			maxScore = a.Score
		}
	}

	priority := models.PriorityP6
	for _, th := range c.rules.Thresholds {
		if maxScore >= th.MinScore {
			priority = th.Priority
			break
		}
	}

	priority = models.MoreSevere(priority, c.categoryEscalation(group, maxScore))
	priority = models.MoreSevere(priority, c.keywordEscalation(group))
	return priority
}

// categoryEscalation lets the group's majority category pull the result one
// candidate more severe when the score lands within the configured weight of
// that candidate's threshold. Only the most severe matching candidate applies.
func (c *SeverityClassifier) categoryEscalation(group []models.AnomalyAssessment, maxScore float64) models.Priority {
	weights, ok := c.rules.CategoryWeights[majorityCategory(group)]
	if !ok {
		return models.PriorityP6
	}

	candidates := make([]models.Priority, 0, len(weights))
	for candidate := range weights {
		candidates = append(candidates, candidate)
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Index() < candidates[j].Index()
	})

	for _, candidate := range candidates {
		threshold, ok := c.rules.thresholdFor(candidate)
		if !ok {
			continue
		}
		if maxScore >= threshold-weights[candidate] {
			return candidate
		}
	}
	return models.PriorityP6
}

// keywordEscalation scans joined lowercased member descriptions against each
// priority's keyword list in severity order. The first match wins and ends the
// scan.
func (c *SeverityClassifier) keywordEscalation(group []models.AnomalyAssessment) models.Priority {
	var sb strings.Builder
	for _, a := range group {
		sb.WriteString(strings.ToLower(a.Event.Description))
		sb.WriteString(" ")
	}
	text := sb.String()

	for _, priority := range models.Priorities() {
		for _, kw := range c.rules.Keywords[priority] {
			if kw != "" && strings.Contains(text, strings.ToLower(kw)) {
				return priority
			}
		}
	}
	return models.PriorityP6
}

// majorityCategory returns the most common category in the group, breaking
// ties in favour of the category seen first.
func majorityCategory(group []models.AnomalyAssessment) models.IncidentCategory {
	counts := make(map[models.IncidentCategory]int, len(group))
	firstSeen := make(map[models.IncidentCategory]int, len(group))
	for i, a := range group {
		category := a.Category
		if category == "" {
			category = models.CategoryUnknown
		}
		counts[category]++
		if _, ok := firstSeen[category]; !ok {
			firstSeen[category] = i
		}
	}

	best := models.CategoryUnknown
	bestCount := -1
	for category, count := range counts {
		switch {
		case count > bestCount:
			best, bestCount = category, count
		case count == bestCount && firstSeen[category] < firstSeen[best]:
			best = category
		}
	}
	return best
}

// IncidentFactory assembles the incident aggregate from a classified group.
type IncidentFactory struct {
	now func() time.Time
}

// NewIncidentFactory builds a factory using wall-clock time.
func NewIncidentFactory() *IncidentFactory {
	return &IncidentFactory{now: func() time.Time { return time.Now().UTC() }}
}

// Build creates an incident from one correlated group and its merged priority.
// The incident starts in the classified state.
func (f *IncidentFactory) Build(group []models.AnomalyAssessment, priority models.Priority) *models.Incident {
	now := f.now()

	events := make([]models.MonitoringEvent, 0, len(group))
	for _, a := range group {
		events = append(events, a.Event)
	}

	first := events[0]
	title := first.Title
	if title == "" {
		title = "Unknown incident"
	}
	if len(events) > 1 {
		title = fmt.Sprintf("%s (+%d related events)", title, len(events)-1)
	}

	// The description summarises the first five members only; empty
	// descriptions among them are dropped, not replaced by later members.
	head := events
	if len(head) > 5 {
		head = head[:5]
	}
	descriptions := make([]string, 0, len(head))
	for _, ev := range head {
		if ev.Description != "" {
			descriptions = append(descriptions, ev.Description)
		}
	}

	resources := make([]string, 0, len(events))
	seen := make(map[string]struct{}, len(events))
	for _, ev := range events {
		if ev.ResourceID == "" {
			continue
		}
		if _, ok := seen[ev.ResourceID]; ok {
			continue
		}
		seen[ev.ResourceID] = struct{}{}
		resources = append(resources, ev.ResourceID)
	}

	var best *models.AnomalyAssessment
	for i := range group {
		if best == nil || group[i].Score > best.Score {
			best = &group[i]
		}
	}

	rootCause := ""
	for _, a := range group {
		if a.RootCause != "" {
			rootCause = a.RootCause
			break
		}
	}

	actions := make([]string, 0, 5)
	actionSeen := make(map[string]struct{})
	for _, a := range group {
		for _, action := range a.RecommendedActions {
			if len(actions) == 5 {
				break
			}
			if action == "" {
				continue
			}
			if _, ok := actionSeen[action]; ok {
				continue
			}
			actionSeen[action] = struct{}{}
			actions = append(actions, action)
		}
	}

	return &models.Incident{
		IncidentID:         models.NewIncidentID(events, now),
		Title:              title,
		Description:        strings.Join(descriptions, "\n\n"),
		Priority:           priority,
		Category:           majorityCategory(group),
		Status:             models.StatusClassified,
		DetectedAt:         now,
		LastUpdated:        now,
		SourceEvents:       events,
		EventCount:         len(events),
		AffectedResources:  resources,
		ResourceType:       first.ResourceType,
		Region:             first.Region,
		AnomalyScore:       best,
		RootCauseAnalysis:  rootCause,
		RecommendedActions: actions,
	}
}
