package models

import (
	"testing"
	"time"
)

func TestParsePriority(t *testing.T) {
	cases := []struct {
		in      string
		want    Priority
		wantErr bool
	}{
		{"P1", PriorityP1, false},
		{"p3", PriorityP3, false},
		{" p6 ", PriorityP6, false},
		{"P7", "", true},
		{"", "", true},
		{"critical", "", true},
	}
	for _, tc := range cases {
		got, err := ParsePriority(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParsePriority(%q): expected error, got %q", tc.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParsePriority(%q): unexpected error %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParsePriority(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestMoreSevere(t *testing.T) {
	if got := MoreSevere(PriorityP3, PriorityP1); got != PriorityP1 {
		t.Errorf("MoreSevere(P3, P1) = %s", got)
	}
	if got := MoreSevere(PriorityP1, PriorityP3); got != PriorityP1 {
		t.Errorf("MoreSevere(P1, P3) = %s", got)
	}
	if got := MoreSevere(PriorityP4, PriorityP4); got != PriorityP4 {
		t.Errorf("MoreSevere(P4, P4) = %s", got)
	}
}

func TestShouldAutoCloseExactlyLowPriorities(t *testing.T) {
	expected := map[Priority]bool{
		PriorityP1: false,
		PriorityP2: false,
		PriorityP3: false,
		PriorityP4: true,
		PriorityP5: true,
		PriorityP6: true,
	}
	for priority, want := range expected {
		incident := Incident{Priority: priority}
		if got := incident.ShouldAutoClose(); got != want {
			t.Errorf("ShouldAutoClose with %s = %v, want %v", priority, got, want)
		}
	}

	unknown := Incident{Priority: "P9"}
	if unknown.ShouldAutoClose() {
		t.Error("unknown priority must not auto-close")
	}
}

func TestUpdateStatusMonotonic(t *testing.T) {
	incident := Incident{IncidentID: "inc-1", Status: StatusClassified}

	if err := incident.UpdateStatus(StatusTicketCreated); err != nil {
		t.Fatalf("forward transition failed: %v", err)
	}
	if incident.LastUpdated.IsZero() {
		t.Error("LastUpdated not stamped")
	}

	// Skipping a state forward is allowed.
	if err := incident.UpdateStatus(StatusResolved); err != nil {
		t.Fatalf("forward skip failed: %v", err)
	}

	if err := incident.UpdateStatus(StatusDetected); err == nil {
		t.Error("backward transition must be rejected")
	}
	if incident.Status != StatusResolved {
		t.Errorf("status changed by rejected transition: %s", incident.Status)
	}

	if err := incident.UpdateStatus("bogus"); err == nil {
		t.Error("unknown status must be rejected")
	}
}

func TestUpdateStatusIdempotentAtSameState(t *testing.T) {
	incident := Incident{Status: StatusNotified}
	if err := incident.UpdateStatus(StatusNotified); err != nil {
		t.Fatalf("same-state transition failed: %v", err)
	}
}

func TestSetTicketAndRecordNotification(t *testing.T) {
	incident := Incident{Status: StatusClassified}

	if err := incident.SetTicket("OPS-42", "https://tickets.example.com/browse/OPS-42"); err != nil {
		t.Fatalf("SetTicket failed: %v", err)
	}
	if incident.Status != StatusTicketCreated {
		t.Errorf("status = %s, want %s", incident.Status, StatusTicketCreated)
	}
	if incident.Ticket.Key != "OPS-42" {
		t.Errorf("ticket key = %q", incident.Ticket.Key)
	}

	rec := NotificationRecord{Timestamp: time.Now(), Channels: []string{"webhook"}}
	if err := incident.RecordNotification(rec); err != nil {
		t.Fatalf("RecordNotification failed: %v", err)
	}
	if incident.Status != StatusNotified {
		t.Errorf("status = %s, want %s", incident.Status, StatusNotified)
	}
	if len(incident.Notifications) != 1 {
		t.Fatalf("notifications = %d, want 1", len(incident.Notifications))
	}
}

func TestRecordNotificationAfterTicketFailure(t *testing.T) {
	// A failed ticket stage leaves the incident classified; notification
	// still advances it.
	incident := Incident{Status: StatusClassified}
	if err := incident.RecordNotification(NotificationRecord{Timestamp: time.Now(), Channels: []string{}}); err != nil {
		t.Fatalf("RecordNotification failed: %v", err)
	}
	if incident.Status != StatusNotified {
		t.Errorf("status = %s, want %s", incident.Status, StatusNotified)
	}
}

func TestResolve(t *testing.T) {
	incident := Incident{Status: StatusNotified}
	if err := incident.Resolve("root cause fixed"); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if incident.ResolvedAt == nil {
		t.Error("ResolvedAt not set")
	}
	if incident.Metadata["resolution"] != "root cause fixed" {
		t.Errorf("resolution metadata = %v", incident.Metadata["resolution"])
	}
}

func TestNewIncidentID(t *testing.T) {
	events := []MonitoringEvent{
		{EventID: "a"}, {EventID: "b"}, {EventID: "c"},
		{EventID: "d"}, {EventID: "e"}, {EventID: "f"},
	}
	now := time.Now()

	id := NewIncidentID(events, now)
	if len(id) != 12 {
		t.Fatalf("id length = %d, want 12", len(id))
	}

	// The sixth event does not participate in the identifier.
	trimmed := append([]MonitoringEvent(nil), events[:5]...)
	if other := NewIncidentID(trimmed, now); other != id {
		t.Errorf("id changed when dropping events past the fifth: %s vs %s", id, other)
	}

	if other := NewIncidentID(events, now.Add(time.Nanosecond)); other == id {
		t.Error("id must differ across instants")
	}
}

func TestEventIDStable(t *testing.T) {
	ts := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	first := EventID("cloudwatch", "HighCPU", ts)
	second := EventID("cloudwatch", "HighCPU", ts)
	if first != second {
		t.Errorf("EventID not stable: %s vs %s", first, second)
	}
	if len(first) != 16 {
		t.Errorf("EventID length = %d, want 16", len(first))
	}
	if other := EventID("cloudwatch", "HighMemory", ts); other == first {
		t.Error("different names must produce different ids")
	}
}

func TestParseCategory(t *testing.T) {
	if got := ParseCategory("security"); got != CategorySecurity {
		t.Errorf("ParseCategory(security) = %s", got)
	}
	if got := ParseCategory("not-a-category"); got != CategoryUnknown {
		t.Errorf("ParseCategory fallback = %s, want %s", got, CategoryUnknown)
	}
	if got := ParseCategory(""); got != CategoryUnknown {
		t.Errorf("ParseCategory empty = %s, want %s", got, CategoryUnknown)
	}
}

func TestNeutralAssessment(t *testing.T) {
	event := MonitoringEvent{EventID: "ev-1", Title: "spike"}
	neutral := NeutralAssessment(event)
	if neutral.Score != 0.5 || neutral.Confidence != 0.3 {
		t.Errorf("neutral score/confidence = %.2f/%.2f", neutral.Score, neutral.Confidence)
	}
	if !neutral.IsAnomaly {
		t.Error("neutral assessment must be promoted for review")
	}
	if neutral.Category != CategoryUnknown {
		t.Errorf("neutral category = %s", neutral.Category)
	}
	if neutral.Event.EventID != "ev-1" {
		t.Errorf("event not carried: %q", neutral.Event.EventID)
	}
}
