package main

import (
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

// Ledger is the persistent high-water mark per ticket: one row per ever-seen
// ticket, holding the updated_on timestamp it was last processed at. It is
// the only persisted state in the process.
type Ledger struct {
	db   *sql.DB
	path string
}

// Timestamps are stored as RFC3339 UTC strings so the monotonic guard in Set
// can compare them lexicographically inside SQLite.
const ledgerTimeFormat = time.RFC3339

var ledgerPragmas = [][2]string{
	{"journal_mode", "WAL"},
	{"synchronous", "NORMAL"},
}

const ledgerSchema = `
	CREATE TABLE IF NOT EXISTS processed_tickets (
		ticket_id         TEXT PRIMARY KEY,
		last_processed_at TEXT NOT NULL,
		last_seen_at      TEXT DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ','now'))
	);
	`

// OpenLedger opens the backing store at path, creating the schema if absent.
// A store that cannot be opened or probed is renamed aside and recreated
// empty: losing the ledger only risks re-notifying already-handled tickets,
// which is preferable to refusing to start.
func OpenLedger(path string) (*Ledger, error) {
	db, err := openLedgerDB(path)
	if err != nil {
		logrus.Errorf("ledger open failed, recreating store: %v", err)
		if db != nil {
			db.Close()
		}
		bak := path + ".bak"
		if renameErr := os.Rename(path, bak); renameErr != nil && !os.IsNotExist(renameErr) {
			return nil, fmt.Errorf("moving corrupt ledger aside: %w", renameErr)
		}
		logrus.Warnf("ledger store moved to %s, starting with empty ledger", bak)
		db, err = openLedgerDB(path)
		if err != nil {
			return nil, fmt.Errorf("recreating ledger: %w", err)
		}
	}
	return &Ledger{db: db, path: path}, nil
}

func openLedgerDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	for _, p := range ledgerPragmas {
		if _, err := db.Exec("PRAGMA " + p[0] + "=" + p[1]); err != nil {
			logrus.Warnf("ledger pragma %s=%s failed: %v", p[0], p[1], err)
		}
	}

	if _, err := db.Exec(ledgerSchema); err != nil {
		return db, fmt.Errorf("creating ledger schema: %w", err)
	}
	return db, nil
}

func (l *Ledger) Close() error {
	return l.db.Close()
}

// Get returns the last-processed timestamp for a ticket. A ticket that was
// never seen returns ok=false with no error.
func (l *Ledger) Get(ticketID int64) (time.Time, bool, error) {
	var stored string
	err := l.db.QueryRow(
		`SELECT last_processed_at FROM processed_tickets WHERE ticket_id = ?`,
		ledgerKey(ticketID),
	).Scan(&stored)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("reading ledger entry for #%d: %w", ticketID, err)
	}

	ts, err := time.Parse(ledgerTimeFormat, stored)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parsing stored timestamp for #%d: %w", ticketID, err)
	}
	return ts, true, nil
}

// Set records ts as the new high-water mark for a ticket. The upsert is
// guarded inside SQL: a call with a timestamp at or below the stored one is
// a no-op, so out-of-order delivery from the fetch cannot regress an entry.
func (l *Ledger) Set(ticketID int64, ts time.Time) error {
	_, err := l.db.Exec(
		`INSERT INTO processed_tickets (ticket_id, last_processed_at, last_seen_at)
		 VALUES (?, ?, strftime('%Y-%m-%dT%H:%M:%SZ','now'))
		 ON CONFLICT(ticket_id) DO UPDATE SET
		     last_processed_at = excluded.last_processed_at,
		     last_seen_at      = excluded.last_seen_at
		 WHERE excluded.last_processed_at > processed_tickets.last_processed_at`,
		ledgerKey(ticketID), ts.UTC().Format(ledgerTimeFormat),
	)
	if err != nil {
		return fmt.Errorf("writing ledger entry for #%d: %w", ticketID, err)
	}
	return nil
}

// Delete removes a ticket's entry. A missing entry is success.
func (l *Ledger) Delete(ticketID int64) error {
	_, err := l.db.Exec(`DELETE FROM processed_tickets WHERE ticket_id = ?`, ledgerKey(ticketID))
	if err != nil {
		return fmt.Errorf("deleting ledger entry for #%d: %w", ticketID, err)
	}
	return nil
}

// Prune deletes entries whose last_processed_at is older than maxAge and
// returns the number removed. Tickets untouched that long will not reappear
// in the recent-updates fetch, so their entries carry no information.
func (l *Ledger) Prune(maxAge time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-maxAge).Format(ledgerTimeFormat)
	res, err := l.db.Exec(`DELETE FROM processed_tickets WHERE last_processed_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning ledger: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func ledgerKey(ticketID int64) string {
	return strconv.FormatInt(ticketID, 10)
}
