package main

// ShouldProcess decides whether a freshly fetched ticket still needs review:
// true iff the ledger has never seen it, or the stored high-water mark is
// strictly older than the ticket's updated_at. An equal timestamp means the
// fetch returned a ticket unchanged since the last cycle. Read-only; the
// ledger is advanced by the orchestrator after the ticket is handled.
func ShouldProcess(ledger *Ledger, ticket Ticket) (bool, error) {
	stored, seen, err := ledger.Get(ticket.ID)
	if err != nil {
		return false, err
	}
	if !seen {
		return true, nil
	}
	return stored.Before(ticket.UpdatedAt), nil
}
