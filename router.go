package main

// Route maps a classified verdict onto zero, one, or two notification
// intents. Verdict.Notifiable gates the whole table, and each notifiable
// outcome is written out so a new one cannot silently fall into a default;
// an empty return always means "no notification, ledger still updated",
// never an error.
func Route(verdict Verdict, ticket Ticket, cfg Config) []NotificationIntent {
	// error and unknown verdicts notify no one, as does OutcomeOther.
	if !verdict.Notifiable() {
		return nil
	}

	switch verdict.Outcome {
	case OutcomeApproved:
		return []NotificationIntent{
			{Target: TargetPrimary, Priority: PriorityNormal, Card: BuildCard(verdict, ticket, cfg.RedmineURL)},
		}

	case OutcomeRejected:
		card := BuildCard(verdict, ticket, cfg.RedmineURL)
		intents := []NotificationIntent{
			{Target: TargetPrimary, Priority: PriorityNormal, Card: card},
		}
		if cfg.SecondaryConfigured() {
			intents = append(intents, NotificationIntent{Target: TargetSecondary, Priority: PriorityNormal, Card: card})
		}
		return intents

	case OutcomeCaseMismatch:
		// A mismatch always escalates to the secondary target when one is
		// configured, not just on rejection.
		card := BuildCard(verdict, ticket, cfg.RedmineURL)
		intents := []NotificationIntent{
			{Target: TargetPrimary, Priority: PriorityHigh, Card: card},
		}
		if cfg.SecondaryConfigured() {
			intents = append(intents, NotificationIntent{Target: TargetSecondary, Priority: PriorityHigh, Card: card})
		}
		return intents

	}
	return nil
}
