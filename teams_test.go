package main

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestDeliverer(t *testing.T, primary, secondary string) *TeamsDeliverer {
	t.Helper()
	d := NewTeamsDeliverer(Config{
		TeamsWebhookURL:          primary,
		TeamsWebhookSecondaryURL: secondary,
		WebhookTimeoutSeconds:    5,
	})
	d.sleep = func(time.Duration) {}
	return d
}

func TestDeliverPostsCardToTargetWebhook(t *testing.T) {
	var primaryHits, secondaryHits int
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		primaryHits++
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), "adaptivecards.io") {
			t.Fatalf("expected adaptive card payload, got: %s", body)
		}
	}))
	defer primary.Close()
	secondary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		secondaryHits++
	}))
	defer secondary.Close()

	d := newTestDeliverer(t, primary.URL, secondary.URL)
	card := BuildCard(Verdict{Status: StatusOK, Outcome: OutcomeApproved}, Ticket{ID: 101, Subject: "s"}, "https://redmine.example.com")

	if err := d.Deliver(NotificationIntent{Target: TargetPrimary, Priority: PriorityNormal, Card: card}); err != nil {
		t.Fatalf("Deliver to primary failed: %v", err)
	}
	if err := d.Deliver(NotificationIntent{Target: TargetSecondary, Priority: PriorityNormal, Card: card}); err != nil {
		t.Fatalf("Deliver to secondary failed: %v", err)
	}
	if primaryHits != 1 || secondaryHits != 1 {
		t.Fatalf("expected one hit per target, got primary=%d secondary=%d", primaryHits, secondaryHits)
	}
}

func TestDeliverRetriesThenSucceeds(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			http.Error(w, "throttled", http.StatusTooManyRequests)
			return
		}
	}))
	defer server.Close()

	d := newTestDeliverer(t, server.URL, "")
	card := BuildCard(Verdict{Status: StatusOK, Outcome: OutcomeApproved}, Ticket{ID: 101}, "https://redmine.example.com")

	if err := d.Deliver(NotificationIntent{Target: TargetPrimary, Card: card}); err != nil {
		t.Fatalf("Deliver failed after retries: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestDeliverGivesUpAfterThreeAttempts(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer server.Close()

	d := newTestDeliverer(t, server.URL, "")
	card := BuildCard(Verdict{Status: StatusOK, Outcome: OutcomeRejected, Reason: "r"}, Ticket{ID: 101}, "https://redmine.example.com")

	if err := d.Deliver(NotificationIntent{Target: TargetPrimary, Card: card}); err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestDeliverToUnconfiguredSecondaryFails(t *testing.T) {
	d := newTestDeliverer(t, "https://teams.example.com/primary", "")
	err := d.Deliver(NotificationIntent{Target: TargetSecondary})
	if err == nil {
		t.Fatal("expected error for unconfigured secondary target")
	}
}

func cardText(t *testing.T, card TeamsCard) string {
	t.Helper()
	data, err := json.Marshal(card)
	if err != nil {
		t.Fatalf("marshaling card: %v", err)
	}
	return string(data)
}

func TestBuildCardRejectedCarriesReason(t *testing.T) {
	card := BuildCard(
		Verdict{Status: StatusOK, Outcome: OutcomeRejected, Reason: "根拠が不足しています"},
		Ticket{ID: 101, Subject: "review request"},
		"https://redmine.example.com/",
	)
	text := cardText(t, card)

	for _, want := range []string{
		"Ticket rejected",
		"Rejection reason",
		"根拠が不足しています",
		"https://redmine.example.com/issues/101",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("expected card to contain %q, card: %s", want, text)
		}
	}
}

func TestBuildCardMismatchSpellsOutTheFinding(t *testing.T) {
	card := BuildCard(
		Verdict{Status: StatusOK, Outcome: OutcomeCaseMismatch, Reason: "answer references case 9921"},
		Ticket{ID: 104, Subject: "caseid: 4711 review"},
		"https://redmine.example.com",
	)
	text := cardText(t, card)

	if !strings.Contains(text, "different case id") {
		t.Fatalf("expected explicit mismatch wording, card: %s", text)
	}
	if !strings.Contains(text, "Case id mismatch") {
		t.Fatalf("expected mismatch headline, card: %s", text)
	}
}

func TestBuildCardApprovedUsesGoodStyling(t *testing.T) {
	card := BuildCard(
		Verdict{Status: StatusOK, Outcome: OutcomeApproved, Reason: "問題なし"},
		Ticket{ID: 101, Subject: "review request"},
		"https://redmine.example.com",
	)
	text := cardText(t, card)

	if !strings.Contains(text, "Ticket approved") {
		t.Fatalf("expected approval headline, card: %s", text)
	}
	if !strings.Contains(text, `"Good"`) {
		t.Fatalf("expected Good color styling, card: %s", text)
	}
}
