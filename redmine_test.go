package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestRedmineSource(t *testing.T, handler http.HandlerFunc) *RedmineSource {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	source := NewRedmineSource(Config{
		RedmineURL:          server.URL,
		RedmineAPIKey:       "redmine-test-key",
		FetchLimit:          10,
		FetchTimeoutSeconds: 5,
	})
	source.sleep = func(time.Duration) {}
	return source
}

func TestFetchRecentOrdersOldestFirstAndDropsMissingUpdatedOn(t *testing.T) {
	source := newTestRedmineSource(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/issues.json" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("X-Redmine-API-Key"); got != "redmine-test-key" {
			t.Fatalf("unexpected API key header: %q", got)
		}
		if got := r.URL.Query().Get("sort"); got != "updated_on:desc" {
			t.Fatalf("unexpected sort query: %q", got)
		}
		if got := r.URL.Query().Get("limit"); got != "10" {
			t.Fatalf("unexpected limit query: %q", got)
		}

		json.NewEncoder(w).Encode(map[string]any{
			"issues": []map[string]any{
				{"id": 103, "subject": "newest", "updated_on": "2026-03-10T12:00:00Z"},
				{"id": 102, "subject": "older", "updated_on": "2026-03-10T10:00:00Z"},
				{"id": 999, "subject": "no timestamp", "updated_on": ""},
			},
		})
	})

	tickets, err := source.FetchRecent()
	if err != nil {
		t.Fatalf("FetchRecent failed: %v", err)
	}
	if len(tickets) != 2 {
		t.Fatalf("expected 2 tickets, got %d", len(tickets))
	}
	if tickets[0].ID != 102 || tickets[1].ID != 103 {
		t.Fatalf("expected oldest-first ordering [102 103], got [%d %d]", tickets[0].ID, tickets[1].ID)
	}
}

func TestFetchRecentRetriesOnceOnServerError(t *testing.T) {
	calls := 0
	source := newTestRedmineSource(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"issues": []map[string]any{
				{"id": 101, "subject": "ok", "updated_on": "2026-03-10T10:00:00Z"},
			},
		})
	})

	tickets, err := source.FetchRecent()
	if err != nil {
		t.Fatalf("FetchRecent failed: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls)
	}
	if len(tickets) != 1 || tickets[0].ID != 101 {
		t.Fatalf("unexpected tickets: %+v", tickets)
	}
}

func TestFetchRecentGivesUpAfterTwoFailures(t *testing.T) {
	calls := 0
	source := newTestRedmineSource(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "down", http.StatusBadGateway)
	})

	if _, err := source.FetchRecent(); err == nil {
		t.Fatal("expected error after repeated failures")
	}
	if calls != 2 {
		t.Fatalf("expected exactly 2 attempts, got %d", calls)
	}
}

func TestFetchDetailIncludesJournals(t *testing.T) {
	source := newTestRedmineSource(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/issues/101.json" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("include"); got != "journals" {
			t.Fatalf("expected include=journals, got %q", got)
		}

		json.NewEncoder(w).Encode(map[string]any{
			"issue": map[string]any{
				"id":          101,
				"subject":     "caseid: 4711 review",
				"description": "Question\nbody",
				"updated_on":  "2026-03-10T10:00:00Z",
				"journals": []map[string]any{
					{"notes": "Answer\nthe answer", "created_on": "2026-03-10T09:30:00Z"},
				},
			},
		})
	})

	ticket, err := source.FetchDetail(101)
	if err != nil {
		t.Fatalf("FetchDetail failed: %v", err)
	}
	if ticket.ID != 101 {
		t.Fatalf("unexpected ticket id: %d", ticket.ID)
	}
	if len(ticket.Journals) != 1 || ticket.Journals[0].Notes != "Answer\nthe answer" {
		t.Fatalf("unexpected journals: %+v", ticket.Journals)
	}
	want := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	if !ticket.UpdatedAt.Equal(want) {
		t.Fatalf("expected updated_at=%v, got %v", want, ticket.UpdatedAt)
	}
}

func TestUpdateStatusSendsPut(t *testing.T) {
	var gotMethod, gotBody string
	source := newTestRedmineSource(t, func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		var payload struct {
			Issue struct {
				StatusID int `json:"status_id"`
			} `json:"issue"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decoding body: %v", err)
		}
		if payload.Issue.StatusID != 5 {
			t.Fatalf("expected status_id=5, got %d", payload.Issue.StatusID)
		}
		gotBody = "ok"
		w.WriteHeader(http.StatusNoContent)
	})

	if err := source.UpdateStatus(101, 5); err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}
	if gotMethod != "PUT" || gotBody != "ok" {
		t.Fatalf("expected PUT with decoded body, got method=%s", gotMethod)
	}
}
