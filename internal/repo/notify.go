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
	channelWebhook = "webhook"
	channelEmail   = "email"
)

// channelRoute is the resolved per-priority delivery rule.
type channelRoute struct {
	immediate bool
	channels  []string
}

// NotifierClient delivers incident notifications over webhook and email
// channels, routed by priority. P5 and P6 route to no channels by default:
// the delivery attempt is still recorded so the audit trail shows the
// routing decision.
type NotifierClient struct {
	webhookURL       string
	emailGatewayURL  string
	fromAddress      string
	distributionList []string
	routes           map[models.Priority]channelRoute
	httpClient       *http.Client
}

// NewNotifierClient constructs a notifier from configuration. Route entries
// with unknown priority labels are ignored; priorities without an entry fall
// back to no channels.
func NewNotifierClient(cfg config.NotificationsConfig) *NotifierClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	routes := make(map[models.Priority]channelRoute, len(cfg.Routes))
	for label, route := range cfg.Routes {
		priority, err := models.ParsePriority(label)
		if err != nil {
			continue
		}
		routes[priority] = channelRoute{
			immediate: route.Immediate,
			channels:  append([]string(nil), route.Channels...),
		}
	}

	return &NotifierClient{
		webhookURL:       cfg.WebhookURL,
		emailGatewayURL:  cfg.EmailGatewayURL,
		fromAddress:      cfg.FromAddress,
		distributionList: append([]string(nil), cfg.DistributionList...),
		routes:           routes,
		httpClient:       &http.Client{Timeout: timeout},
	}
}

// Notify routes one incident to its priority's channels. Channels fail
// independently; the outcome lists only the channels that delivered. An
// error is returned only when every routed channel failed.
func (n *NotifierClient) Notify(ctx context.Context, incident *models.Incident) (models.NotificationOutcome, error) {
	if n == nil {
		return models.NotificationOutcome{}, fmt.Errorf("notifier not initialised")
	}
	if incident == nil {
		return models.NotificationOutcome{}, fmt.Errorf("nil incident")
	}

	outcome := models.NotificationOutcome{
		IncidentID: incident.IncidentID,
		Priority:   incident.Priority,
		Channels:   []string{},
	}

	route := n.routes[incident.Priority]
	if len(route.channels) == 0 {
		return outcome, nil
	}

	var channelErrs []string
	for _, channel := range route.channels {
		var err error
		switch channel {
		case channelWebhook:
			err = n.sendWebhook(ctx, incident, route.immediate)
		case channelEmail:
			err = n.sendEmail(ctx, incident)
		default:
			err = fmt.Errorf("unknown channel %q", channel)
		}
		if err != nil {
			channelErrs = append(channelErrs, fmt.Sprintf("%s: %v", channel, err))
			continue
		}
		outcome.Channels = append(outcome.Channels, channel)
	}

	if len(outcome.Channels) == 0 && len(channelErrs) > 0 {
		return models.NotificationOutcome{}, fmt.Errorf("all channels failed for incident %s: %s", incident.IncidentID, strings.Join(channelErrs, "; "))
	}
	return outcome, nil
}

func (n *NotifierClient) sendWebhook(ctx context.Context, incident *models.Incident, immediate bool) error {
	if n.webhookURL == "" {
		return fmt.Errorf("webhook URL not configured")
	}
	payload := map[string]interface{}{
		"incident_id": incident.IncidentID,
		"immediate":   immediate,
		"priority":    string(incident.Priority),
		"category":    string(incident.Category),
		"title":       fmt.Sprintf("[%s] %s", incident.Priority, incident.Title),
		"description": utils.Truncate(incident.Description, 1000),
		"event_count": incident.EventCount,
		"resources":   incident.AffectedResources,
		"ticket_key":  incident.Ticket.Key,
		"ticket_url":  incident.Ticket.URL,
		"detected_at": incident.DetectedAt.UTC().Format(time.RFC3339),
	}
	return postJSON(ctx, n.httpClient, n.webhookURL, nil, payload, nil)
}

func (n *NotifierClient) sendEmail(ctx context.Context, incident *models.Incident) error {
	if n.emailGatewayURL == "" {
		return fmt.Errorf("email gateway URL not configured")
	}
	if len(n.distributionList) == 0 {
		return fmt.Errorf("distribution list is empty")
	}
	payload := map[string]interface{}{
		"from":    n.fromAddress,
		"to":      n.distributionList,
		"subject": fmt.Sprintf("[%s] %s", incident.Priority, incident.Title),
		"body":    emailBody(incident),
	}
	return postJSON(ctx, n.httpClient, n.emailGatewayURL, nil, payload, nil)
}

func emailBody(incident *models.Incident) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Priority: %s - %s\n", incident.Priority, incident.Priority.Description())
	fmt.Fprintf(&sb, "Category: %s\n", incident.Category)
	fmt.Fprintf(&sb, "Detected: %s\n", incident.DetectedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&sb, "Correlated events: %d\n", incident.EventCount)
	if incident.Ticket.Key != "" {
		fmt.Fprintf(&sb, "Ticket: %s (%s)\n", incident.Ticket.Key, incident.Ticket.URL)
	}
	if incident.Description != "" {
		fmt.Fprintf(&sb, "\n%s\n", incident.Description)
	}
	if len(incident.RecommendedActions) > 0 {
		sb.WriteString("\nRecommended actions:\n")
		for _, action := range incident.RecommendedActions {
			fmt.Fprintf(&sb, "- %s\n", action)
		}
	}
	return sb.String()
}
