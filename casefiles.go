package main

import (
	"os"
	"path/filepath"
	"regexp"

	"github.com/sirupsen/logrus"
)

var caseIDRe = regexp.MustCompile(`(?i)caseid[:：]\s*([A-Za-z0-9_-]+)`)

// CaseIDFromTicket pulls the case identifier out of the ticket subject or
// description. Empty when the ticket names no case.
func CaseIDFromTicket(ticket Ticket) string {
	if m := caseIDRe.FindStringSubmatch(ticket.Subject); m != nil {
		return m[1]
	}
	if m := caseIDRe.FindStringSubmatch(ticket.Description); m != nil {
		return m[1]
	}
	return ""
}

// CleanupCaseDir removes the working directory for a handled case. Returns
// true only when a directory was actually removed; a missing case id or
// directory is a logged no-op, and removal failure is non-fatal.
func CleanupCaseDir(root, caseID string, ticketID int64) bool {
	if root == "" || caseID == "" {
		return false
	}

	target := filepath.Join(root, caseID)
	if _, err := os.Stat(target); os.IsNotExist(err) {
		logrus.Debugf("case cleanup: no directory for caseid=%s at %s", caseID, target)
		return false
	}

	if err := os.RemoveAll(target); err != nil {
		logrus.Errorf("case cleanup failed caseid=%s ticket=#%d: %v", caseID, ticketID, err)
		return false
	}
	logrus.Infof("case cleanup removed %s (ticket #%d)", target, ticketID)
	return true
}
