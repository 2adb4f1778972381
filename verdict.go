package main

import (
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

// The workflow emits its review either as plain text ("査閲結果：承認\n理由：...")
// or as the structured JSON its result-parser block produces
// ({status, result_label, result_reason, result_code}).
var (
	decisionLineRe = regexp.MustCompile(`(査閲結果|結果)[:：]\s*([^\n\r]+)`)
	reasonLineRe   = regexp.MustCompile(`(理由|原因)[:：]\s*(.+)`)
	digitsOnlyRe   = regexp.MustCompile(`^\d+$`)
)

// mismatchMarkers are the phrases the workflow uses when the case id found
// in the answer text is not the one the ticket is about. Checked against the
// lowercased payload.
var mismatchMarkers = []string{
	"caseid不一致",
	"ケースid不一致",
	"caseid mismatch",
	"case id mismatch",
}

// result_code values from the workflow's structured output.
const (
	resultCodeUnknown  = 0
	resultCodeApproved = 1
	resultCodeRejected = 2
)

// Classify maps a raw workflow payload onto a Verdict. Rules in priority
// order: an unusable payload fails closed as StatusError; a case-id mismatch
// marker wins over everything else, including a nominal approve/reject
// decision, because the wrong ticket being answered is a finding of its own;
// a non-ok workflow status or a missing decision line is StatusUnknown; the
// rest read the decision, constrained to approved/rejected with anything
// else mapped to OutcomeOther.
func Classify(raw string) Verdict {
	text := strings.TrimSpace(raw)
	if text == "" || text == "null" || text == "None" || digitsOnlyRe.MatchString(text) {
		return Verdict{Status: StatusError}
	}

	if gjson.Valid(text) {
		if parsed := gjson.Parse(text); parsed.IsObject() {
			return classifyStructured(parsed)
		}
	}
	return classifyText(text)
}

func classifyStructured(parsed gjson.Result) Verdict {
	status := parsed.Get("status")
	label := strings.TrimSpace(parsed.Get("result_label").String())
	reason := strings.TrimSpace(parsed.Get("result_reason").String())

	if !status.Exists() && label == "" {
		// Not the result shape at all.
		return Verdict{Status: StatusError}
	}

	if hasMismatchMarker(label + " " + reason) {
		return Verdict{Status: StatusOK, Outcome: OutcomeCaseMismatch, Label: label, Reason: reason}
	}
	if status.String() != "ok" {
		return Verdict{Status: StatusUnknown, Label: label, Reason: reason}
	}

	outcome := OutcomeOther
	if code := parsed.Get("result_code"); code.Exists() {
		switch code.Int() {
		case resultCodeApproved:
			outcome = OutcomeApproved
		case resultCodeRejected:
			outcome = OutcomeRejected
		}
	} else {
		outcome = outcomeFromLabel(label)
	}
	return Verdict{Status: StatusOK, Outcome: outcome, Label: label, Reason: reason}
}

func classifyText(text string) Verdict {
	label := ""
	if m := decisionLineRe.FindStringSubmatch(text); m != nil {
		label = strings.TrimSpace(m[2])
	}
	reason := ""
	if m := reasonLineRe.FindStringSubmatch(text); m != nil {
		reason = strings.TrimSpace(m[2])
	}

	if hasMismatchMarker(text) {
		return Verdict{Status: StatusOK, Outcome: OutcomeCaseMismatch, Label: label, Reason: reason}
	}
	if label == "" {
		return Verdict{Status: StatusUnknown, Reason: reason}
	}
	return Verdict{Status: StatusOK, Outcome: outcomeFromLabel(label), Label: label, Reason: reason}
}

func outcomeFromLabel(label string) VerdictOutcome {
	switch {
	case strings.Contains(label, "承認"):
		return OutcomeApproved
	case strings.Contains(label, "却下"):
		return OutcomeRejected
	}
	return OutcomeOther
}

func hasMismatchMarker(text string) bool {
	lowered := strings.ToLower(text)
	for _, marker := range mismatchMarkers {
		if strings.Contains(lowered, marker) {
			return true
		}
	}
	return false
}
