package main

import "time"

// Ticket is one issue as fetched from Redmine. Immutable once fetched.
type Ticket struct {
	ID          int64
	Subject     string
	Description string
	UpdatedAt   time.Time
	Journals    []Journal
}

// Journal is one note on a ticket, ordered by CreatedAt.
type Journal struct {
	Notes     string
	CreatedAt time.Time
}

// VerdictStatus is the parse-level result of classifying a workflow response.
type VerdictStatus string

const (
	StatusOK      VerdictStatus = "ok"
	StatusError   VerdictStatus = "error"
	StatusUnknown VerdictStatus = "unknown"
)

// VerdictOutcome is the semantic review decision.
type VerdictOutcome string

const (
	OutcomeApproved     VerdictOutcome = "approved"
	OutcomeRejected     VerdictOutcome = "rejected"
	OutcomeCaseMismatch VerdictOutcome = "caseid_mismatch"
	OutcomeOther        VerdictOutcome = "other"
)

// Verdict is the classified result of one workflow review. Not persisted.
type Verdict struct {
	Status  VerdictStatus
	Outcome VerdictOutcome
	Label   string // decision label from the review text, e.g. "承認"
	Reason  string // review reason line, shown on the card
}

// Notifiable reports whether this verdict produces any outbound card.
func (v Verdict) Notifiable() bool {
	if v.Status != StatusOK {
		return false
	}
	switch v.Outcome {
	case OutcomeApproved, OutcomeRejected, OutcomeCaseMismatch:
		return true
	}
	return false
}

type NotificationTarget string

const (
	TargetPrimary   NotificationTarget = "primary"
	TargetSecondary NotificationTarget = "secondary"
)

type NotificationPriority string

const (
	PriorityNormal NotificationPriority = "normal"
	PriorityHigh   NotificationPriority = "high"
)

// NotificationIntent is one outbound card, consumed within the cycle that
// produced it.
type NotificationIntent struct {
	Target   NotificationTarget
	Priority NotificationPriority
	Card     TeamsCard
}

// CycleResult tracks separate counters for each outcome of one poll cycle.
type CycleResult struct {
	Fetched   int
	Skipped   int // unchanged since last processing
	Processed int // ledger advanced
	Notified  int // cards delivered
	Errors    []string
}
