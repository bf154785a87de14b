package repo

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/vigilstack/vigil-agent/internal/config"
	"github.com/vigilstack/vigil-agent/internal/models"
	"github.com/vigilstack/vigil-agent/internal/utils"
)

const (
	// assessBatchLimit caps how many events are summarised into one
	// reasoner prompt; the remainder of a batch receives neutral
	// assessments.
	assessBatchLimit = 20
	// classifyGroupLimit caps how many group members are summarised into
	// the severity prompt.
	classifyGroupLimit = 10
)

// ReasonerClient calls the AI reasoning service for anomaly assessment and
// the optional severity opinion. Every failure path degrades to conservative
// defaults; the client never aborts a cycle.
type ReasonerClient struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewReasonerClient constructs a client for the configured reasoning service.
func NewReasonerClient(cfg config.ReasonerConfig) *ReasonerClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ReasonerClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type messageRequest struct {
	Model     string        `json:"model"`
	MaxTokens int           `json:"max_tokens"`
	System    string        `json:"system,omitempty"`
	Messages  []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messageResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

type wireAnalysis struct {
	EventID            string   `json:"event_id"`
	Score              float64  `json:"score"`
	Confidence         float64  `json:"confidence"`
	IsAnomaly          bool     `json:"is_anomaly"`
	Category           string   `json:"category"`
	Reasoning          string   `json:"reasoning"`
	Factors            []string `json:"factors"`
	RootCause          string   `json:"root_cause"`
	RecommendedActions []string `json:"recommended_actions"`
}

// Assess scores a batch of same-type events. Events beyond the batch limit,
// events missing from the response, and any transport or parse failure all
// degrade to neutral assessments so no event is silently dropped.
func (c *ReasonerClient) Assess(ctx context.Context, events []models.MonitoringEvent, kctx models.RetrievedContext) ([]models.AnomalyAssessment, error) {
	if c == nil {
		return nil, fmt.Errorf("reasoner client not initialised")
	}
	if len(events) == 0 {
		return nil, nil
	}
	if c.baseURL == "" {
		return nil, fmt.Errorf("reasoner base URL not configured")
	}

	prompted := events
	if len(prompted) > assessBatchLimit {
		prompted = prompted[:assessBatchLimit]
	}

	text, err := c.complete(ctx, assessSystemPrompt, assessPrompt(prompted, kctx))
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Analyses []wireAnalysis `json:"analyses"`
	}
	if err := decodeJSON(strings.NewReader(extractJSON(text)), &parsed); err != nil {
		return neutralBatch(events), nil
	}

	byEvent := make(map[string]wireAnalysis, len(parsed.Analyses))
	for _, a := range parsed.Analyses {
		byEvent[a.EventID] = a
	}

	assessments := make([]models.AnomalyAssessment, 0, len(events))
	for _, ev := range events {
		a, ok := byEvent[ev.EventID]
		if !ok {
			assessments = append(assessments, models.NeutralAssessment(ev))
			continue
		}
		assessments = append(assessments, models.AnomalyAssessment{
			Event:              ev,
			Score:              clampUnit(a.Score),
			Confidence:         clampUnit(a.Confidence),
			Reasoning:          a.Reasoning,
			Factors:            a.Factors,
			Category:           models.ParseCategory(a.Category),
			IsAnomaly:          a.IsAnomaly,
			RootCause:          a.RootCause,
			RecommendedActions: a.RecommendedActions,
		})
	}
	return assessments, nil
}

// ClassifyGroup asks the reasoner for a severity opinion on one correlated
// group. An unparseable or invalid answer degrades to P4.
func (c *ReasonerClient) ClassifyGroup(ctx context.Context, group []models.AnomalyAssessment, kctx models.RetrievedContext) (models.Priority, error) {
	if c == nil {
		return "", fmt.Errorf("reasoner client not initialised")
	}
	if c.baseURL == "" {
		return "", fmt.Errorf("reasoner base URL not configured")
	}
	if len(group) == 0 {
		return models.PriorityP6, nil
	}

	text, err := c.complete(ctx, classifySystemPrompt, classifyPrompt(group, kctx))
	if err != nil {
		return "", err
	}

	var parsed struct {
		Priority      string `json:"priority"`
		Justification string `json:"justification"`
	}
	if err := decodeJSON(strings.NewReader(extractJSON(text)), &parsed); err != nil {
		return models.PriorityP4, nil
	}
	priority, err := models.ParsePriority(parsed.Priority)
	if err != nil {
		return models.PriorityP4, nil
	}
	return priority, nil
}

// Ping verifies the reasoning service answers a minimal request.
func (c *ReasonerClient) Ping(ctx context.Context) error {
	if c == nil {
		return fmt.Errorf("reasoner client not initialised")
	}
	if c.baseURL == "" {
		return fmt.Errorf("reasoner base URL not configured")
	}
	_, err := c.complete(ctx, "", "ping")
	return err
}

func (c *ReasonerClient) complete(ctx context.Context, system, prompt string) (string, error) {
	payload := messageRequest{
		Model:     c.model,
		MaxTokens: 2048,
		System:    system,
		Messages:  []chatMessage{{Role: "user", Content: prompt}},
	}

	var response messageResponse
	headers := map[string]string{}
	if c.apiKey != "" {
		headers["x-api-key"] = c.apiKey
	}
	if err := postJSON(ctx, c.httpClient, c.baseURL+"/v1/messages", headers, payload, &response); err != nil {
		return "", fmt.Errorf("reasoner request failed: %w", err)
	}

	for _, block := range response.Content {
		if block.Type == "" || block.Type == "text" {
			if strings.TrimSpace(block.Text) != "" {
				return block.Text, nil
			}
		}
	}
	return "", fmt.Errorf("reasoner returned empty completion")
}

const assessSystemPrompt = "You are an infrastructure monitoring analyst. " +
	"Score each event for anomaly likelihood and respond with JSON only, in the form " +
	`{"analyses":[{"event_id":"...","score":0.0,"confidence":0.0,"is_anomaly":false,"category":"...","reasoning":"...","factors":[],"root_cause":"...","recommended_actions":[]}]}.`

const classifySystemPrompt = "You are an incident severity analyst. " +
	"Assign one priority from P1 (most severe) to P6 and respond with JSON only, in the form " +
	`{"priority":"P4","justification":"..."}.`

func assessPrompt(events []models.MonitoringEvent, kctx models.RetrievedContext) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Assess the following %d %s events.\n\n", len(events), events[0].EventType)
	for i, ev := range events {
		fmt.Fprintf(&sb, "%d. id=%s resource=%s namespace=%s title=%s\n", i+1, ev.EventID, ev.ResourceID, ev.Namespace, ev.Title)
		if ev.Description != "" {
			fmt.Fprintf(&sb, "   %s\n", utils.Truncate(ev.Description, 300))
		}
		if ev.MetricName != "" {
			fmt.Fprintf(&sb, "   metric=%s value=%.4f threshold=%.4f\n", ev.MetricName, ev.MetricValue, ev.Threshold)
		}
	}
	appendContext(&sb, kctx)
	return sb.String()
}

func classifyPrompt(group []models.AnomalyAssessment, kctx models.RetrievedContext) string {
	members := group
	if len(members) > classifyGroupLimit {
		members = members[:classifyGroupLimit]
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Classify the severity of one incident built from %d correlated events.\n\n", len(group))
	for i, a := range members {
		fmt.Fprintf(&sb, "%d. score=%.2f category=%s resource=%s title=%s\n", i+1, a.Score, a.Category, a.Event.ResourceID, a.Event.Title)
		if a.Event.Description != "" {
			fmt.Fprintf(&sb, "   %s\n", utils.Truncate(a.Event.Description, 300))
		}
	}
	appendContext(&sb, kctx)
	return sb.String()
}

func appendContext(sb *strings.Builder, kctx models.RetrievedContext) {
	if len(kctx.Runbooks) == 0 && len(kctx.SimilarIncidents) == 0 {
		return
	}
	sb.WriteString("\nRelevant knowledge base context:\n")
	for _, doc := range kctx.Runbooks {
		fmt.Fprintf(sb, "- runbook: %s: %s\n", doc.Title, utils.Truncate(doc.Content, 200))
	}
	for _, doc := range kctx.SimilarIncidents {
		fmt.Fprintf(sb, "- past incident: %s: %s\n", doc.Title, utils.Truncate(doc.Content, 200))
	}
}

// extractJSON strips any prose or code fences surrounding a JSON object.
func extractJSON(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return text
	}
	return text[start : end+1]
}

func neutralBatch(events []models.MonitoringEvent) []models.AnomalyAssessment {
	assessments := make([]models.AnomalyAssessment, 0, len(events))
	for _, ev := range events {
		assessments = append(assessments, models.NeutralAssessment(ev))
	}
	return assessments
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
