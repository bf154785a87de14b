package repo

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/vigilstack/vigil-agent/internal/config"
	"github.com/vigilstack/vigil-agent/internal/models"
)

// TicketClient creates tracking tickets in a Jira-compatible system. Low
// priority incidents get their ticket auto-closed immediately after creation
// so the record exists without consuming triage attention.
type TicketClient struct {
	baseURL         string
	email           string
	apiToken        string
	project         string
	issueType       string
	labels          []string
	closeTransition string
	httpClient      *http.Client
}

// NewTicketClient constructs a ticket-system client.
func NewTicketClient(cfg config.TicketsConfig) *TicketClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	issueType := cfg.IssueType
	if issueType == "" {
		issueType = "Incident"
	}
	closeTransition := cfg.CloseTransition
	if closeTransition == "" {
		closeTransition = "Done"
	}
	return &TicketClient{
		baseURL:         strings.TrimRight(cfg.BaseURL, "/"),
		email:           cfg.Email,
		apiToken:        cfg.APIToken,
		project:         cfg.Project,
		issueType:       issueType,
		labels:          cfg.Labels,
		closeTransition: closeTransition,
		httpClient:      &http.Client{Timeout: timeout},
	}
}

// ticketPriorityName maps the internal scale onto the ticket system's
// standard priority names.
func ticketPriorityName(p models.Priority) string {
	switch p {
	case models.PriorityP1:
		return "Highest"
	case models.PriorityP2:
		return "High"
	case models.PriorityP3:
		return "Medium"
	case models.PriorityP4:
		return "Low"
	default:
		return "Lowest"
	}
}

// CreateTicket files one ticket for the incident and, for P4-P6, comments and
// transitions it closed. A failed auto-close leaves a valid open ticket: the
// outcome reports AutoClosed false and the error is swallowed.
func (c *TicketClient) CreateTicket(ctx context.Context, incident *models.Incident) (models.TicketOutcome, error) {
	if c == nil {
		return models.TicketOutcome{}, fmt.Errorf("ticket client not initialised")
	}
	if incident == nil {
		return models.TicketOutcome{}, fmt.Errorf("nil incident")
	}
	if c.baseURL == "" {
		return models.TicketOutcome{}, fmt.Errorf("ticket system base URL not configured")
	}

	labels := append([]string(nil), c.labels...)
	labels = append(labels, strings.ToLower(string(incident.Priority)))
	if incident.Category != "" {
		labels = append(labels, string(incident.Category))
	}

	payload := map[string]interface{}{
		"fields": map[string]interface{}{
			"project":     map[string]string{"key": c.project},
			"summary":     fmt.Sprintf("[%s] %s", incident.Priority, incident.Title),
			"description": ticketDescription(incident),
			"issuetype":   map[string]string{"name": c.issueType},
			"priority":    map[string]string{"name": ticketPriorityName(incident.Priority)},
			"labels":      labels,
		},
	}

	var created struct {
		ID   string `json:"id"`
		Key  string `json:"key"`
		Self string `json:"self"`
	}
	if err := postJSON(ctx, c.httpClient, c.baseURL+"/rest/api/2/issue", c.headers(), payload, &created); err != nil {
		return models.TicketOutcome{}, fmt.Errorf("create ticket for incident %s: %w", incident.IncidentID, err)
	}

	outcome := models.TicketOutcome{
		IncidentID: incident.IncidentID,
		TicketKey:  created.Key,
		TicketURL:  fmt.Sprintf("%s/browse/%s", c.baseURL, created.Key),
	}

	if incident.ShouldAutoClose() {
		if err := c.autoClose(ctx, created.Key, incident); err == nil {
			outcome.AutoClosed = true
		}
	}
	return outcome, nil
}

func (c *TicketClient) autoClose(ctx context.Context, key string, incident *models.Incident) error {
	comment := map[string]string{
		"body": fmt.Sprintf(
			"Auto-closed: %s priority incidents are recorded for trend analysis and do not require triage.\n\n%s",
			incident.Priority, incident.Priority.Description(),
		),
	}
	if err := postJSON(ctx, c.httpClient, fmt.Sprintf("%s/rest/api/2/issue/%s/comment", c.baseURL, key), c.headers(), comment, nil); err != nil {
		return err
	}

	transitionID, err := c.findTransition(ctx, key, c.closeTransition)
	if err != nil {
		return err
	}
	transition := map[string]interface{}{
		"transition": map[string]string{"id": transitionID},
	}
	return postJSON(ctx, c.httpClient, fmt.Sprintf("%s/rest/api/2/issue/%s/transitions", c.baseURL, key), c.headers(), transition, nil)
}

func (c *TicketClient) findTransition(ctx context.Context, key, name string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/rest/api/2/issue/%s/transitions", c.baseURL, key), nil)
	if err != nil {
		return "", err
	}
	for header, value := range c.headers() {
		req.Header.Set(header, value)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("list transitions for %s: %s", key, resp.Status)
	}

	var listed struct {
		Transitions []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"transitions"`
	}
	if err := decodeJSON(resp.Body, &listed); err != nil {
		return "", err
	}
	for _, t := range listed.Transitions {
		if strings.EqualFold(t.Name, name) {
			return t.ID, nil
		}
	}
	return "", fmt.Errorf("transition %q not available for %s", name, key)
}

// Ping verifies the ticket system accepts the configured credentials.
func (c *TicketClient) Ping(ctx context.Context) error {
	if c == nil {
		return fmt.Errorf("ticket client not initialised")
	}
	if c.baseURL == "" {
		return fmt.Errorf("ticket system base URL not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/rest/api/2/myself", nil)
	if err != nil {
		return err
	}
	for header, value := range c.headers() {
		req.Header.Set(header, value)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ticket system returned %s", resp.Status)
	}
	return nil
}

func (c *TicketClient) headers() map[string]string {
	if c.email == "" && c.apiToken == "" {
		return nil
	}
	creds := basicAuth(c.email, c.apiToken)
	return map[string]string{"Authorization": "Basic " + creds}
}

func ticketDescription(incident *models.Incident) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Priority: %s - %s\n", incident.Priority, incident.Priority.Description())
	fmt.Fprintf(&sb, "Category: %s\n", incident.Category)
	fmt.Fprintf(&sb, "Detected: %s\n", incident.DetectedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&sb, "Correlated events: %d\n", incident.EventCount)
	if len(incident.AffectedResources) > 0 {
		fmt.Fprintf(&sb, "Affected resources: %s\n", strings.Join(incident.AffectedResources, ", "))
	}
	if incident.Region != "" {
		fmt.Fprintf(&sb, "Region: %s\n", incident.Region)
	}
	if incident.Description != "" {
		fmt.Fprintf(&sb, "\n%s\n", incident.Description)
	}
	if incident.RootCauseAnalysis != "" {
		fmt.Fprintf(&sb, "\nRoot cause analysis:\n%s\n", incident.RootCauseAnalysis)
	}
	if len(incident.RecommendedActions) > 0 {
		sb.WriteString("\nRecommended actions:\n")
		for _, action := range incident.RecommendedActions {
			fmt.Fprintf(&sb, "- %s\n", action)
		}
	}
	fmt.Fprintf(&sb, "\nIncident ID: %s\n", incident.IncidentID)
	return sb.String()
}
