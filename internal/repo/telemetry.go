package repo

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/vigilstack/vigil-agent/internal/config"
	"github.com/vigilstack/vigil-agent/internal/models"
)

// TelemetryClient fetches normalized monitoring events from the telemetry
// provider's alarm, metric, log, and insight feeds.
type TelemetryClient struct {
	baseURL      string
	alarmsPath   string
	metricsPath  string
	logsPath     string
	insightsPath string
	sources      config.SourceToggles
	httpClient   *http.Client
	logger       *slog.Logger
}

// NewTelemetryClient constructs a client targeting the configured telemetry provider.
func NewTelemetryClient(cfg config.TelemetryConfig, logger *slog.Logger) *TelemetryClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TelemetryClient{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		alarmsPath:   cfg.AlarmsPath,
		metricsPath:  cfg.MetricsPath,
		logsPath:     cfg.LogsPath,
		insightsPath: cfg.InsightsPath,
		sources:      cfg.Sources,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

type eventEnvelope struct {
	Events []wireEvent `json:"events"`
}

type wireEvent struct {
	ID            string                 `json:"id"`
	Source        string                 `json:"source"`
	Title         string                 `json:"title"`
	Description   string                 `json:"description"`
	ResourceID    string                 `json:"resource_id"`
	ResourceType  string                 `json:"resource_type"`
	Namespace     string                 `json:"namespace"`
	Region        string                 `json:"region"`
	Timestamp     time.Time              `json:"timestamp"`
	MetricName    string                 `json:"metric_name"`
	MetricValue   float64                `json:"metric_value"`
	Threshold     float64                `json:"threshold"`
	Unit          string                 `json:"unit"`
	State         string                 `json:"state"`
	PreviousState string                 `json:"previous_state"`
	Dimensions    map[string]string      `json:"dimensions"`
	Tags          map[string]string      `json:"tags"`
	RawData       map[string]interface{} `json:"raw_data"`
}

// Collect fetches events from every enabled feed. Feeds fail independently:
// an unreachable feed contributes zero events, never aborts the others. Each
// failed feed is logged at Warn so a persistently dead feed stays visible.
func (c *TelemetryClient) Collect(ctx context.Context) ([]models.MonitoringEvent, error) {
	if c == nil {
		return nil, fmt.Errorf("telemetry client not initialised")
	}
	if c.baseURL == "" {
		return nil, fmt.Errorf("telemetry base URL not configured")
	}

	feeds := []struct {
		enabled   bool
		path      string
		eventType models.EventType
	}{
		{c.sources.Alarms, c.alarmsPath, models.EventTypeAlarm},
		{c.sources.Metrics, c.metricsPath, models.EventTypeMetric},
		{c.sources.Logs, c.logsPath, models.EventTypeLog},
		{c.sources.Insights, c.insightsPath, models.EventTypeInsight},
	}

	now := time.Now().UTC()

	var events []models.MonitoringEvent
	var feedErrs []string
	for _, feed := range feeds {
		if !feed.enabled {
			continue
		}
		fetched, err := c.fetchFeed(ctx, feed.path, feed.eventType, now)
		if err != nil {
			c.logger.Warn("telemetry feed failed",
				slog.String("feed", string(feed.eventType)),
				slog.Any("error", err),
			)
			feedErrs = append(feedErrs, fmt.Sprintf("%s: %v", feed.eventType, err))
			continue
		}
		events = append(events, fetched...)
	}

	if len(feedErrs) > 0 && len(events) == 0 {
		return nil, fmt.Errorf("all telemetry feeds failed: %s", strings.Join(feedErrs, "; "))
	}
	return events, nil
}

func (c *TelemetryClient) fetchFeed(ctx context.Context, feedPath string, eventType models.EventType, collectedAt time.Time) ([]models.MonitoringEvent, error) {
	var envelope eventEnvelope
	if err := c.getJSON(ctx, c.resolvePath(feedPath), &envelope); err != nil {
		return nil, err
	}

	events := make([]models.MonitoringEvent, 0, len(envelope.Events))
	for _, w := range envelope.Events {
		ts := w.Timestamp
		if ts.IsZero() {
			ts = collectedAt
		}
		id := w.ID
		if id == "" {
			id = models.EventID(w.Source, w.Title, ts)
		}
		resourceType := models.ResourceType(w.ResourceType)
		if resourceType == "" {
			resourceType = models.ResourceTypeUnknown
		}
		events = append(events, models.MonitoringEvent{
			EventID:       id,
			EventType:     eventType,
			Source:        w.Source,
			Timestamp:     ts,
			CollectedAt:   collectedAt,
			ResourceType:  resourceType,
			ResourceID:    w.ResourceID,
			Namespace:     w.Namespace,
			Region:        w.Region,
			Title:         w.Title,
			Description:   w.Description,
			MetricName:    w.MetricName,
			MetricValue:   w.MetricValue,
			Threshold:     w.Threshold,
			Unit:          w.Unit,
			State:         w.State,
			PreviousState: w.PreviousState,
			Dimensions:    w.Dimensions,
			Tags:          w.Tags,
			RawData:       w.RawData,
		})
	}
	return events, nil
}

// Ping verifies the telemetry provider is reachable.
func (c *TelemetryClient) Ping(ctx context.Context) error {
	if c == nil {
		return fmt.Errorf("telemetry client not initialised")
	}
	if c.baseURL == "" {
		return fmt.Errorf("telemetry base URL not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("telemetry provider returned %s", resp.Status)
	}
	return nil
}

func (c *TelemetryClient) resolvePath(p string) string {
	if c.baseURL == "" {
		return ""
	}
	cleaned := "/" + strings.TrimLeft(p, "/")
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return c.baseURL + cleaned
	}
	u.Path = path.Join(u.Path, cleaned)
	return u.String()
}

func (c *TelemetryClient) getJSON(ctx context.Context, endpoint string, out any) error {
	if endpoint == "" {
		return fmt.Errorf("empty endpoint")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telemetry provider returned %s", resp.Status)
	}
	return decodeJSON(resp.Body, out)
}
