package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// RedmineSource fetches candidate tickets from the Redmine REST API.
type RedmineSource struct {
	cfg    Config
	client *http.Client
	sleep  func(time.Duration) // replaced in tests
}

func NewRedmineSource(cfg Config) *RedmineSource {
	return &RedmineSource{
		cfg:    cfg,
		client: newHTTPClient(cfg.FetchTimeoutSeconds),
		sleep:  time.Sleep,
	}
}

type redmineIssue struct {
	ID          int64  `json:"id"`
	Subject     string `json:"subject"`
	Description string `json:"description"`
	UpdatedOn   string `json:"updated_on"`
	Journals    []struct {
		Notes     string `json:"notes"`
		CreatedOn string `json:"created_on"`
	} `json:"journals"`
}

type redmineIssuesResponse struct {
	Issues []redmineIssue `json:"issues"`
}

type redmineIssueResponse struct {
	Issue redmineIssue `json:"issue"`
}

// FetchRecent returns the most recently updated tickets, oldest-updated
// first. Issues without a parseable updated_on are dropped. The request is
// attempted twice with a short backoff before giving up.
func (s *RedmineSource) FetchRecent() ([]Ticket, error) {
	apiURL := fmt.Sprintf("%s/issues.json?status_id=*&sort=updated_on:desc&limit=%d",
		strings.TrimRight(s.cfg.RedmineURL, "/"), s.cfg.FetchLimit)

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			s.sleep(4 * time.Second)
		}

		body, err := s.get(apiURL)
		if err != nil {
			lastErr = err
			logrus.Warnf("redmine fetch failed (%d/2): %v", attempt+1, err)
			continue
		}

		var parsed redmineIssuesResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			lastErr = fmt.Errorf("parsing issues response: %w", err)
			logrus.Warnf("redmine fetch failed (%d/2): %v", attempt+1, lastErr)
			continue
		}

		tickets := make([]Ticket, 0, len(parsed.Issues))
		for _, issue := range parsed.Issues {
			t, ok := ticketFromIssue(issue)
			if !ok {
				logrus.Debugf("redmine issue #%d skipped: missing updated_on", issue.ID)
				continue
			}
			tickets = append(tickets, t)
		}
		sort.Slice(tickets, func(i, j int) bool {
			return tickets[i].UpdatedAt.Before(tickets[j].UpdatedAt)
		})
		return tickets, nil
	}
	return nil, lastErr
}

// FetchDetail refetches a single ticket with its journals included, for Q/A
// extraction. The list endpoint does not return journals.
func (s *RedmineSource) FetchDetail(ticketID int64) (Ticket, error) {
	apiURL := fmt.Sprintf("%s/issues/%d.json?include=journals",
		strings.TrimRight(s.cfg.RedmineURL, "/"), ticketID)

	body, err := s.get(apiURL)
	if err != nil {
		return Ticket{}, err
	}

	var parsed redmineIssueResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Ticket{}, fmt.Errorf("parsing issue response: %w", err)
	}

	t, ok := ticketFromIssue(parsed.Issue)
	if !ok {
		return Ticket{}, fmt.Errorf("issue #%d has no updated_on", ticketID)
	}
	return t, nil
}

// UpdateStatus pushes a status change back to Redmine, used to flag rejected
// tickets when redmine_reject_status_id is configured.
func (s *RedmineSource) UpdateStatus(ticketID int64, statusID int) error {
	apiURL := fmt.Sprintf("%s/issues/%d.json", strings.TrimRight(s.cfg.RedmineURL, "/"), ticketID)

	payload, err := json.Marshal(map[string]any{
		"issue": map[string]any{"status_id": statusID},
	})
	if err != nil {
		return fmt.Errorf("marshaling status payload: %w", err)
	}

	req, err := http.NewRequest("PUT", apiURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("X-Redmine-API-Key", s.cfg.RedmineAPIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("updating issue status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("Redmine API returned %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

func (s *RedmineSource) get(apiURL string) ([]byte, error) {
	req, err := http.NewRequest("GET", apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("X-Redmine-API-Key", s.cfg.RedmineAPIKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching issues: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("Redmine API returned %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

func ticketFromIssue(issue redmineIssue) (Ticket, bool) {
	updatedAt, err := time.Parse(time.RFC3339, issue.UpdatedOn)
	if err != nil {
		return Ticket{}, false
	}

	t := Ticket{
		ID:          issue.ID,
		Subject:     issue.Subject,
		Description: issue.Description,
		// Whole seconds only: the ledger stores RFC3339 without a fractional
		// part, so a sub-second updated_on would never round-trip and the
		// ticket would be reprocessed every cycle.
		UpdatedAt: updatedAt.UTC().Truncate(time.Second),
	}
	for _, j := range issue.Journals {
		createdAt, err := time.Parse(time.RFC3339, j.CreatedOn)
		if err != nil {
			createdAt = time.Time{}
		}
		t.Journals = append(t.Journals, Journal{Notes: j.Notes, CreatedAt: createdAt.UTC()})
	}
	return t, true
}
