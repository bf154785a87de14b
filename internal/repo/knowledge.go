package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/vigilstack/vigil-agent/internal/cache"
	"github.com/vigilstack/vigil-agent/internal/config"
	"github.com/vigilstack/vigil-agent/internal/models"
)

const knowledgeSearchLimit = 3

// KnowledgeRepo reads runbooks and past incidents from the vector knowledge
// store and indexes new incidents back into it. With no endpoint configured
// the repo serves synthetic context so the rest of the pipeline stays
// exercisable in local setups.
type KnowledgeRepo struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	cache      cache.Provider
	runbookTTL time.Duration
	similarTTL time.Duration
}

// NewKnowledgeRepo constructs a knowledge store client.
func NewKnowledgeRepo(cfg config.KnowledgeConfig, cacheProvider cache.Provider, runbookTTL, similarTTL time.Duration) *KnowledgeRepo {
	if cacheProvider == nil {
		cacheProvider = cache.NoopProvider{}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if runbookTTL < 0 {
		runbookTTL = 0
	}
	if similarTTL < 0 {
		similarTTL = 0
	}
	return &KnowledgeRepo{
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		cache:      cacheProvider,
		runbookTTL: runbookTTL,
		similarTTL: similarTTL,
	}
}

// SearchRunbooks returns runbook entries relevant to the query.
func (r *KnowledgeRepo) SearchRunbooks(ctx context.Context, query string) ([]models.Document, error) {
	if r == nil {
		return nil, fmt.Errorf("knowledge repo not initialised")
	}
	if r.endpoint == "" {
		return syntheticRunbooks(query), nil
	}
	return r.search(ctx, "Runbook", query, r.runbookTTL, syntheticRunbooks)
}

// SearchSimilarIncidents returns past incident summaries relevant to the query.
func (r *KnowledgeRepo) SearchSimilarIncidents(ctx context.Context, query string) ([]models.Document, error) {
	if r == nil {
		return nil, fmt.Errorf("knowledge repo not initialised")
	}
	if r.endpoint == "" {
		return syntheticSimilarIncidents(query), nil
	}
	return r.search(ctx, "IncidentRecord", query, r.similarTTL, syntheticSimilarIncidents)
}

func (r *KnowledgeRepo) search(ctx context.Context, class, query string, ttl time.Duration, fallback func(string) []models.Document) ([]models.Document, error) {
	cacheKey := ""
	if ttl > 0 {
		cacheKey = fmt.Sprintf("knowledge:%s:%s", strings.ToLower(class), query)
		if data, err := r.cache.Get(ctx, cacheKey); err == nil {
			var cached []models.Document
			if err := json.Unmarshal(data, &cached); err == nil {
				return cached, nil
			}
		}
	}

	gql := map[string]interface{}{
		"query": fmt.Sprintf(`{
          Get {
            %s(
              limit: %d
              nearText: {concepts: [%q]}
            ) {
              title
              content
              source
              _additional { id certainty }
            }
          }
        }`, class, knowledgeSearchLimit, query),
	}

	var response struct {
		Data map[string]map[string][]struct {
			Title      string `json:"title"`
			Content    string `json:"content"`
			Source     string `json:"source"`
			Additional struct {
				ID        string  `json:"id"`
				Certainty float64 `json:"certainty"`
			} `json:"_additional"`
		} `json:"data"`
	}

	if err := postJSON(ctx, r.httpClient, r.endpoint+"/v1/graphql", r.headers(), gql, &response); err != nil {
		return fallback(query), nil
	}

	records := response.Data["Get"][class]
	docs := make([]models.Document, 0, len(records))
	for _, rec := range records {
		docs = append(docs, models.Document{
			ID:      rec.Additional.ID,
			Title:   rec.Title,
			Content: rec.Content,
			Source:  rec.Source,
			Score:   rec.Additional.Certainty,
		})
	}

	if ttl > 0 && cacheKey != "" && len(docs) > 0 {
		if payload, err := json.Marshal(docs); err == nil {
			_ = r.cache.Set(ctx, cacheKey, payload, ttl)
		}
	}

	return docs, nil
}

// IndexIncident persists the incident record for future similarity lookups.
// Returns false without error when no endpoint is configured.
func (r *KnowledgeRepo) IndexIncident(ctx context.Context, incident *models.Incident) (bool, error) {
	if r == nil {
		return false, fmt.Errorf("knowledge repo not initialised")
	}
	if incident == nil {
		return false, fmt.Errorf("nil incident")
	}
	if r.endpoint == "" {
		return false, nil
	}

	document, err := json.Marshal(incident)
	if err != nil {
		return false, fmt.Errorf("marshal incident: %w", err)
	}

	payload := map[string]interface{}{
		"class": "IncidentRecord",
		"properties": map[string]interface{}{
			"incidentId": incident.IncidentID,
			"title":      incident.Title,
			"content":    incident.Description,
			"priority":   string(incident.Priority),
			"category":   string(incident.Category),
			"document":   string(document),
			"createdAt":  incident.DetectedAt.UTC().Format(time.RFC3339),
		},
	}

	if err := postJSON(ctx, r.httpClient, r.endpoint+"/v1/objects", r.headers(), payload, nil); err != nil {
		return false, fmt.Errorf("index incident %s: %w", incident.IncidentID, err)
	}
	return true, nil
}

// Ping verifies the knowledge store is reachable.
func (r *KnowledgeRepo) Ping(ctx context.Context) error {
	if r == nil {
		return fmt.Errorf("knowledge repo not initialised")
	}
	if r.endpoint == "" {
		return fmt.Errorf("knowledge endpoint not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.endpoint+"/v1/.well-known/ready", nil)
	if err != nil {
		return err
	}
	for key, value := range r.headers() {
		req.Header.Set(key, value)
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("knowledge store returned %s", resp.Status)
	}
	return nil
}

func (r *KnowledgeRepo) headers() map[string]string {
	if r.apiKey == "" {
		return nil
	}
	return map[string]string{"Authorization": "Bearer " + r.apiKey}
}

func syntheticRunbooks(query string) []models.Document {
	topic := firstWords(query, 6)
	if topic == "" {
		topic = "infrastructure alerts"
	}
	return []models.Document{
		{
			Title:   "Generic triage runbook",
			Content: fmt.Sprintf("Check recent deployments and resource saturation related to: %s", topic),
			Source:  "synthetic",
			Score:   0.2,
		},
	}
}

func syntheticSimilarIncidents(query string) []models.Document {
	topic := firstWords(query, 6)
	if topic == "" {
		topic = "infrastructure alerts"
	}
	return []models.Document{
		{
			Title:   "No indexed incidents yet",
			Content: fmt.Sprintf("No historical matches for: %s", topic),
			Source:  "synthetic",
			Score:   0.1,
		},
	}
}

func firstWords(s string, n int) string {
	fields := strings.Fields(s)
	if len(fields) > n {
		fields = fields[:n]
	}
	return strings.Join(fields, " ")
}
