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

func notificationsConfig() config.NotificationsConfig {
	return config.NotificationsConfig{
		WebhookURL:       "https://hooks.local/incidents",
		EmailGatewayURL:  "https://mail.local/send",
		FromAddress:      "alerts@example.com",
		DistributionList: []string{"oncall@example.com"},
		Routes: map[string]config.ChannelRoute{
			"P1": {Immediate: true, Channels: []string{"webhook", "email"}},
			"P2": {Immediate: true, Channels: []string{"webhook", "email"}},
			"P3": {Immediate: true, Channels: []string{"webhook"}},
			"P4": {Immediate: false, Channels: []string{"webhook"}},
			"P5": {Immediate: false, Channels: []string{}},
			"P6": {Immediate: false, Channels: []string{}},
		},
	}
}

func TestNotifyRoutesByPriority(t *testing.T) {
	var urls []string
	notifier := NewNotifierClient(notificationsConfig())
	notifier.httpClient = newTestClient(func(req *http.Request) (*http.Response, error) {
		urls = append(urls, req.URL.Host)
		return jsonResponse(200, `{"ok":true}`), nil
	})

	outcome, err := notifier.Notify(context.Background(), testIncident(models.PriorityP1))
	if err != nil {
		t.Fatalf("Notify failed: %v", err)
	}
	if len(outcome.Channels) != 2 {
		t.Errorf("channels = %v", outcome.Channels)
	}
	if len(urls) != 2 || urls[0] != "hooks.local" || urls[1] != "mail.local" {
		t.Errorf("delivery targets = %v", urls)
	}
}

func TestNotifyWebhookOnly(t *testing.T) {
	var payload map[string]any
	notifier := NewNotifierClient(notificationsConfig())
	notifier.httpClient = newTestClient(func(req *http.Request) (*http.Response, error) {
		if req.URL.Host != "hooks.local" {
			t.Errorf("unexpected delivery to %s", req.URL.Host)
		}
		data, _ := io.ReadAll(req.Body)
		_ = json.Unmarshal(data, &payload)
		return jsonResponse(200, `{"ok":true}`), nil
	})

	incident := testIncident(models.PriorityP3)
	incident.Ticket = models.TicketRef{Key: "OPS-42", URL: "https://tickets.local/browse/OPS-42"}

	outcome, err := notifier.Notify(context.Background(), incident)
	if err != nil {
		t.Fatalf("Notify failed: %v", err)
	}
	if len(outcome.Channels) != 1 || outcome.Channels[0] != "webhook" {
		t.Errorf("channels = %v", outcome.Channels)
	}
	if payload["title"] != "[P3] HighCPU on db-1" {
		t.Errorf("title = %v", payload["title"])
	}
	if payload["ticket_key"] != "OPS-42" {
		t.Errorf("ticket key = %v", payload["ticket_key"])
	}
	if payload["immediate"] != true {
		t.Errorf("immediate = %v", payload["immediate"])
	}
}

func TestNotifyLowPriorityRoutesNowhere(t *testing.T) {
	notifier := NewNotifierClient(notificationsConfig())
	notifier.httpClient = newTestClient(func(req *http.Request) (*http.Response, error) {
		t.Errorf("unexpected delivery to %s", req.URL.String())
		return nil, errors.New("no deliveries expected")
	})

	for _, priority := range []models.Priority{models.PriorityP5, models.PriorityP6} {
		outcome, err := notifier.Notify(context.Background(), testIncident(priority))
		if err != nil {
			t.Fatalf("Notify(%s) failed: %v", priority, err)
		}
		if outcome.Channels == nil {
			t.Errorf("%s channels must be empty, not nil", priority)
		}
		if len(outcome.Channels) != 0 {
			t.Errorf("%s channels = %v", priority, outcome.Channels)
		}
		if outcome.IncidentID != "inc-1" || outcome.Priority != priority {
			t.Errorf("outcome must still identify the incident: %+v", outcome)
		}
	}
}

func TestNotifyChannelsFailIndependently(t *testing.T) {
	notifier := NewNotifierClient(notificationsConfig())
	notifier.httpClient = newTestClient(func(req *http.Request) (*http.Response, error) {
		if req.URL.Host == "hooks.local" {
			return nil, errors.New("webhook down")
		}
		return jsonResponse(200, `{"ok":true}`), nil
	})

	outcome, err := notifier.Notify(context.Background(), testIncident(models.PriorityP1))
	if err != nil {
		t.Fatalf("partial delivery must not error: %v", err)
	}
	if len(outcome.Channels) != 1 || outcome.Channels[0] != "email" {
		t.Errorf("channels = %v, want just email", outcome.Channels)
	}
}

func TestNotifyAllChannelsFailed(t *testing.T) {
	notifier := NewNotifierClient(notificationsConfig())
	notifier.httpClient = newTestClient(func(req *http.Request) (*http.Response, error) {
		return nil, errors.New("network down")
	})

	if _, err := notifier.Notify(context.Background(), testIncident(models.PriorityP2)); err == nil {
		t.Fatal("total delivery failure must error")
	}
}

func TestNotifyUnroutedPriority(t *testing.T) {
	cfg := notificationsConfig()
	delete(cfg.Routes, "P2")
	notifier := NewNotifierClient(cfg)

	outcome, err := notifier.Notify(context.Background(), testIncident(models.PriorityP2))
	if err != nil {
		t.Fatalf("unrouted priority must degrade to no channels: %v", err)
	}
	if len(outcome.Channels) != 0 {
		t.Errorf("channels = %v", outcome.Channels)
	}
}

func TestNotifyIgnoresUnknownRouteLabels(t *testing.T) {
	cfg := notificationsConfig()
	cfg.Routes["SEV0"] = config.ChannelRoute{Channels: []string{"webhook"}}
	notifier := NewNotifierClient(cfg)
	if len(notifier.routes) != 6 {
		t.Errorf("routes = %d, want 6", len(notifier.routes))
	}
}

func TestNotifyEmailRequiresRecipients(t *testing.T) {
	cfg := notificationsConfig()
	cfg.DistributionList = nil
	notifier := NewNotifierClient(cfg)

	webhookHits := 0
	notifier.httpClient = newTestClient(func(req *http.Request) (*http.Response, error) {
		if req.URL.Host != "hooks.local" {
			t.Errorf("email must not be attempted without recipients")
		}
		webhookHits++
		return jsonResponse(200, `{"ok":true}`), nil
	})

	outcome, err := notifier.Notify(context.Background(), testIncident(models.PriorityP1))
	if err != nil {
		t.Fatalf("Notify failed: %v", err)
	}
	if len(outcome.Channels) != 1 || outcome.Channels[0] != "webhook" {
		t.Errorf("channels = %v", outcome.Channels)
	}
	if webhookHits != 1 {
		t.Errorf("webhook hits = %d", webhookHits)
	}
}
