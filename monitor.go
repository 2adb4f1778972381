package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// TicketSource is the ticketing collaborator: a recent-updates listing plus
// a per-ticket refetch that includes journals.
type TicketSource interface {
	FetchRecent() ([]Ticket, error)
	FetchDetail(ticketID int64) (Ticket, error)
	UpdateStatus(ticketID int64, statusID int) error
}

// WorkflowInvoker submits ticket content for semantic review.
type WorkflowInvoker interface {
	Invoke(ticket Ticket, qa QAExtract) (string, error)
}

// CardDeliverer posts one notification intent to its webhook target.
type CardDeliverer interface {
	Deliver(intent NotificationIntent) error
}

// Monitor owns the poll cycle: fetch candidates, gate against the ledger,
// review, classify, notify, persist. Exactly one cycle runs at a time.
type Monitor struct {
	cfg       Config
	ledger    *Ledger
	source    TicketSource
	invoker   WorkflowInvoker
	deliverer CardDeliverer
}

func NewMonitor(cfg Config, ledger *Ledger) *Monitor {
	return &Monitor{
		cfg:       cfg,
		ledger:    ledger,
		source:    NewRedmineSource(cfg),
		invoker:   NewDifyInvoker(cfg),
		deliverer: NewTeamsDeliverer(cfg),
	}
}

// Run drives the tick loop until ctx is cancelled. A tick that comes due
// while a cycle is still running is simply absorbed by the ticker; cycles
// never overlap. The first cycle runs immediately.
func (m *Monitor) Run(ctx context.Context) {
	interval := time.Duration(m.cfg.PollIntervalSeconds) * time.Second
	logrus.Infof("poll loop started interval=%s", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.runCycleLogged(ctx)
	for {
		select {
		case <-ctx.Done():
			logrus.Info("poll loop stopped")
			return
		case <-ticker.C:
			m.runCycleLogged(ctx)
		}
	}
}

func (m *Monitor) runCycleLogged(ctx context.Context) {
	result := m.RunCycle(ctx)
	logrus.Infof("cycle complete: %s", FormatCycleSummary(result))
}

// RunCycle performs one full poll-fetch-classify-notify-persist pass. Any
// panic out of a collaborator is contained here so one bad ticket cannot
// take the process down.
func (m *Monitor) RunCycle(ctx context.Context) (result CycleResult) {
	defer func() {
		if r := recover(); r != nil {
			logrus.Errorf("cycle panic recovered: %v", r)
			result.Errors = append(result.Errors, fmt.Sprintf("panic: %v", r))
		}
	}()

	tickets, err := m.source.FetchRecent()
	if err != nil {
		logrus.Warnf("cycle fetch error: %v", err)
		result.Errors = append(result.Errors, fmt.Sprintf("fetch: %v", err))
		return result
	}
	result.Fetched = len(tickets)

	for _, ticket := range tickets {
		// Shutdown finishes the ticket in flight, never a partial one.
		select {
		case <-ctx.Done():
			logrus.Info("cycle interrupted by shutdown")
			return result
		default:
		}
		m.processTicket(ticket, &result)
	}
	return result
}

// processTicket runs one candidate through the pipeline. Every failure is
// caught here: it is logged with the ticket id, recorded on the cycle
// result, and leaves the ledger untouched so the ticket is re-evaluated on
// the next tick. Only low-value outcomes (nothing reviewable, unusable or
// unknown verdicts) advance the ledger without notifying, so they are not
// retried forever.
func (m *Monitor) processTicket(listed Ticket, result *CycleResult) {
	process, err := ShouldProcess(m.ledger, listed)
	if err != nil {
		logrus.Warnf("ticket #%d ledger read error: %v", listed.ID, err)
		result.Errors = append(result.Errors, fmt.Sprintf("#%d ledger read: %v", listed.ID, err))
		return
	}
	if !process {
		result.Skipped++
		return
	}

	logrus.Infof("processing ticket #%d (%s) updated=%s", listed.ID, listed.Subject,
		listed.UpdatedAt.Format(time.RFC3339))

	ticket, err := m.source.FetchDetail(listed.ID)
	if err != nil {
		logrus.Warnf("ticket #%d detail fetch error: %v", listed.ID, err)
		result.Errors = append(result.Errors, fmt.Sprintf("#%d fetch: %v", listed.ID, err))
		return
	}

	qa := ExtractQA(ticket)
	if qa.Status != QAOK {
		logrus.Infof("ticket #%d nothing to review (%s)", ticket.ID, qa.Status)
		m.advanceLedger(ticket, result)
		return
	}

	raw, err := m.invoker.Invoke(ticket, qa)
	if err != nil {
		logrus.Warnf("ticket #%d workflow error: %v", ticket.ID, err)
		result.Errors = append(result.Errors, fmt.Sprintf("#%d workflow: %v", ticket.ID, err))
		return
	}

	verdict := Classify(raw)
	logrus.Infof("ticket #%d verdict status=%s outcome=%s label=%q", ticket.ID,
		verdict.Status, verdict.Outcome, verdict.Label)

	for _, intent := range Route(verdict, ticket, m.cfg) {
		if err := m.deliverer.Deliver(intent); err != nil {
			logrus.Warnf("ticket #%d delivery error target=%s: %v", ticket.ID, intent.Target, err)
			result.Errors = append(result.Errors, fmt.Sprintf("#%d deliver %s: %v", ticket.ID, intent.Target, err))
			// Leave the ledger alone so the whole ticket is re-evaluated
			// next tick rather than losing the notification.
			return
		}
		result.Notified++
	}

	if verdict.Status == StatusOK && verdict.Outcome == OutcomeRejected && m.cfg.RedmineRejectStatusID > 0 {
		if err := m.source.UpdateStatus(ticket.ID, m.cfg.RedmineRejectStatusID); err != nil {
			logrus.Warnf("ticket #%d status push-back error: %v", ticket.ID, err)
		}
	}

	if verdict.Status == StatusOK && (verdict.Outcome == OutcomeApproved || verdict.Outcome == OutcomeRejected) {
		CleanupCaseDir(m.cfg.CaseRoot, CaseIDFromTicket(ticket), ticket.ID)
	}

	m.advanceLedger(ticket, result)
}

// advanceLedger records the ticket's updated_at as handled. A failed write
// is the one error that risks duplicate notifications rather than a missed
// one, so it is surfaced at Error level for the operator.
func (m *Monitor) advanceLedger(ticket Ticket, result *CycleResult) {
	if err := m.ledger.Set(ticket.ID, ticket.UpdatedAt); err != nil {
		logrus.Errorf("ticket #%d ledger write failed, notification may repeat: %v", ticket.ID, err)
		result.Errors = append(result.Errors, fmt.Sprintf("#%d ledger write: %v", ticket.ID, err))
		return
	}
	result.Processed++
}

// StartPruneScheduler runs Ledger.Prune on the configured cron schedule.
// The schedule is a standard 5-field cron expression; empty disables it.
func (m *Monitor) StartPruneScheduler(ctx context.Context) {
	schedule := strings.TrimSpace(m.cfg.PruneSchedule)
	if schedule == "" {
		logrus.Info("ledger prune disabled (prune_schedule not set)")
		return
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(schedule)
	if err != nil {
		logrus.Warnf("invalid prune_schedule '%s', prune disabled: %v", schedule, err)
		return
	}

	maxAge := time.Duration(m.cfg.PruneMaxAgeDays) * 24 * time.Hour
	logrus.Infof("ledger prune scheduled (cron: %s) max_age=%dd", schedule, m.cfg.PruneMaxAgeDays)

	go func() {
		for {
			now := time.Now()
			next := sched.Next(now)
			timer := time.NewTimer(next.Sub(now))

			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}

			removed, err := m.ledger.Prune(maxAge)
			if err != nil {
				logrus.Warnf("ledger prune error: %v", err)
				continue
			}
			logrus.Infof("ledger prune removed %d stale entries", removed)
		}
	}()
}

// FormatCycleSummary returns a one-line human-readable summary of a cycle.
func FormatCycleSummary(result CycleResult) string {
	parts := []string{
		fmt.Sprintf("fetched %d", result.Fetched),
		fmt.Sprintf("%d skipped", result.Skipped),
		fmt.Sprintf("%d processed", result.Processed),
		fmt.Sprintf("%d notified", result.Notified),
	}
	msg := strings.Join(parts, ", ")
	if len(result.Errors) > 0 {
		msg += fmt.Sprintf(" (%d errors: %s)", len(result.Errors), strings.Join(result.Errors, "; "))
	}
	return msg
}
