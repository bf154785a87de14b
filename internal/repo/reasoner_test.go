package repo

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"testing"

	"github.com/vigilstack/vigil-agent/internal/config"
	"github.com/vigilstack/vigil-agent/internal/models"
)

func reasonerConfig() config.ReasonerConfig {
	return config.ReasonerConfig{
		BaseURL: "http://reasoner.local",
		APIKey:  "test-key",
		Model:   "claude-3-sonnet",
	}
}

func completionResponse(t *testing.T, text string) *http.Response {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"content": []map[string]string{{"type": "text", "text": text}},
	})
	if err != nil {
		t.Fatal(err)
	}
	return jsonResponse(200, string(body))
}

func TestAssessParsesAnalyses(t *testing.T) {
	client := NewReasonerClient(reasonerConfig())
	client.httpClient = newTestClient(func(req *http.Request) (*http.Response, error) {
		if req.URL.Path != "/v1/messages" {
			t.Errorf("path = %s", req.URL.Path)
		}
		if req.Header.Get("x-api-key") != "test-key" {
			t.Error("api key header missing")
		}
		return completionResponse(t, `{"analyses":[
			{"event_id":"ev-1","score":0.9,"confidence":0.8,"is_anomaly":true,"category":"performance","reasoning":"spike","root_cause":"load","recommended_actions":["scale"]},
			{"event_id":"ev-2","score":1.7,"confidence":-0.2,"is_anomaly":false,"category":"made-up"}
		]}`), nil
	})

	events := []models.MonitoringEvent{{EventID: "ev-1"}, {EventID: "ev-2"}}
	assessments, err := client.Assess(context.Background(), events, models.RetrievedContext{})
	if err != nil {
		t.Fatalf("Assess failed: %v", err)
	}
	if len(assessments) != 2 {
		t.Fatalf("assessments = %d", len(assessments))
	}

	first := assessments[0]
	if first.Score != 0.9 || !first.IsAnomaly || first.Category != models.CategoryPerformance {
		t.Errorf("first assessment wrong: %+v", first)
	}
	if first.RootCause != "load" || len(first.RecommendedActions) != 1 {
		t.Errorf("enrichment not carried: %+v", first)
	}

	// Out-of-range values clamp; unknown categories land in unknown.
	second := assessments[1]
	if second.Score != 1.0 || second.Confidence != 0.0 {
		t.Errorf("values must clamp to [0,1]: %+v", second)
	}
	if second.Category != models.CategoryUnknown {
		t.Errorf("category = %s", second.Category)
	}
}

func TestAssessMissingEventsGetNeutral(t *testing.T) {
	client := NewReasonerClient(reasonerConfig())
	client.httpClient = newTestClient(func(req *http.Request) (*http.Response, error) {
		return completionResponse(t, `{"analyses":[{"event_id":"ev-1","score":0.9,"is_anomaly":true}]}`), nil
	})

	events := []models.MonitoringEvent{{EventID: "ev-1"}, {EventID: "ev-2"}}
	assessments, err := client.Assess(context.Background(), events, models.RetrievedContext{})
	if err != nil {
		t.Fatalf("Assess failed: %v", err)
	}
	if len(assessments) != 2 {
		t.Fatalf("assessments = %d", len(assessments))
	}
	neutral := assessments[1]
	if neutral.Score != 0.5 || !neutral.IsAnomaly {
		t.Errorf("missing event must get a neutral assessment: %+v", neutral)
	}
}

func TestAssessUnparseableCompletionDegradesToNeutral(t *testing.T) {
	client := NewReasonerClient(reasonerConfig())
	client.httpClient = newTestClient(func(req *http.Request) (*http.Response, error) {
		return completionResponse(t, "I could not produce JSON today."), nil
	})

	events := []models.MonitoringEvent{{EventID: "ev-1"}}
	assessments, err := client.Assess(context.Background(), events, models.RetrievedContext{})
	if err != nil {
		t.Fatalf("parse failure must not error: %v", err)
	}
	if len(assessments) != 1 || assessments[0].Score != 0.5 {
		t.Errorf("expected neutral batch: %+v", assessments)
	}
}

func TestAssessTransportErrorSurfaces(t *testing.T) {
	client := NewReasonerClient(reasonerConfig())
	client.httpClient = newTestClient(func(req *http.Request) (*http.Response, error) {
		return nil, errors.New("connection refused")
	})

	if _, err := client.Assess(context.Background(), []models.MonitoringEvent{{EventID: "ev-1"}}, models.RetrievedContext{}); err == nil {
		t.Fatal("transport failure must error so the caller can degrade")
	}
}

func TestAssessPromptCapped(t *testing.T) {
	var prompt string
	client := NewReasonerClient(reasonerConfig())
	client.httpClient = newTestClient(func(req *http.Request) (*http.Response, error) {
		var payload struct {
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		data, _ := io.ReadAll(req.Body)
		_ = json.Unmarshal(data, &payload)
		prompt = payload.Messages[0].Content
		return completionResponse(t, `{"analyses":[]}`), nil
	})

	events := make([]models.MonitoringEvent, 30)
	for i := range events {
		events[i] = models.MonitoringEvent{EventID: string(rune('a' + i))}
	}
	assessments, err := client.Assess(context.Background(), events, models.RetrievedContext{})
	if err != nil {
		t.Fatalf("Assess failed: %v", err)
	}
	// Every event still gets an assessment even past the prompt cap.
	if len(assessments) != 30 {
		t.Errorf("assessments = %d, want 30", len(assessments))
	}
	if prompt == "" {
		t.Fatal("prompt not captured")
	}
}

func TestAssessEmptyInput(t *testing.T) {
	client := NewReasonerClient(reasonerConfig())
	assessments, err := client.Assess(context.Background(), nil, models.RetrievedContext{})
	if err != nil || assessments != nil {
		t.Errorf("empty input: %v, %v", assessments, err)
	}
}

func TestClassifyGroupParsesPriority(t *testing.T) {
	client := NewReasonerClient(reasonerConfig())
	client.httpClient = newTestClient(func(req *http.Request) (*http.Response, error) {
		return completionResponse(t, `{"priority":"P2","justification":"major feature impacted"}`), nil
	})

	group := []models.AnomalyAssessment{{Event: models.MonitoringEvent{EventID: "ev-1"}}}
	priority, err := client.ClassifyGroup(context.Background(), group, models.RetrievedContext{})
	if err != nil {
		t.Fatalf("ClassifyGroup failed: %v", err)
	}
	if priority != models.PriorityP2 {
		t.Errorf("priority = %s", priority)
	}
}

func TestClassifyGroupDegradesToP4(t *testing.T) {
	group := []models.AnomalyAssessment{{Event: models.MonitoringEvent{EventID: "ev-1"}}}

	client := NewReasonerClient(reasonerConfig())
	client.httpClient = newTestClient(func(req *http.Request) (*http.Response, error) {
		return completionResponse(t, "no JSON here"), nil
	})
	priority, err := client.ClassifyGroup(context.Background(), group, models.RetrievedContext{})
	if err != nil || priority != models.PriorityP4 {
		t.Errorf("unparseable answer: %s, %v", priority, err)
	}

	client.httpClient = newTestClient(func(req *http.Request) (*http.Response, error) {
		return completionResponse(t, `{"priority":"CRITICAL"}`), nil
	})
	priority, err = client.ClassifyGroup(context.Background(), group, models.RetrievedContext{})
	if err != nil || priority != models.PriorityP4 {
		t.Errorf("invalid label: %s, %v", priority, err)
	}
}

func TestClassifyGroupTransportErrorSurfaces(t *testing.T) {
	client := NewReasonerClient(reasonerConfig())
	client.httpClient = newTestClient(func(req *http.Request) (*http.Response, error) {
		return jsonResponse(500, `{"error":"overloaded"}`), nil
	})

	group := []models.AnomalyAssessment{{Event: models.MonitoringEvent{EventID: "ev-1"}}}
	if _, err := client.ClassifyGroup(context.Background(), group, models.RetrievedContext{}); err == nil {
		t.Fatal("server error must surface")
	}
}

func TestExtractJSON(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{`{"a":1}`, `{"a":1}`},
		{"Here you go:\n```json\n{\"a\":1}\n```", `{"a":1}`},
		{"no braces at all", "no braces at all"},
	}
	for _, tc := range cases {
		if got := extractJSON(tc.in); got != tc.want {
			t.Errorf("extractJSON(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
