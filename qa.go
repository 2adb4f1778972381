package main

import (
	"sort"
	"strings"
)

// QAStatus describes whether a reviewable question/answer pair could be
// extracted from a ticket's journals.
type QAStatus string

const (
	QAOK                    QAStatus = "ok"
	QANoAnswerFound         QAStatus = "no_answer_found"
	QAUnansweredNewQuestion QAStatus = "unanswered_new_question"
	QAIncomplete            QAStatus = "incomplete"
)

// QAExtract is the review input sent to the workflow: the ticket's latest
// answer and the question it responds to.
type QAExtract struct {
	Question string
	Answer   string
	Status   QAStatus
}

const (
	qaAnswerKeyword   = "Answer"
	qaQuestionKeyword = "Question"
	qaSeparator       = "-------------------------------------------"
)

// ExtractQA finds the last Answer note in a ticket's journals and the
// nearest preceding Question (falling back to the ticket description).
// A Question posted after the last Answer with no later Answer means the
// exchange is still open, so there is nothing to review yet.
func ExtractQA(ticket Ticket) QAExtract {
	journals := make([]Journal, len(ticket.Journals))
	copy(journals, ticket.Journals)
	sort.SliceStable(journals, func(i, j int) bool {
		return journals[i].CreatedAt.Before(journals[j].CreatedAt)
	})

	lastAnswerIndex := -1
	lastAnswer := ""
	for i, j := range journals {
		if strings.Contains(j.Notes, qaAnswerKeyword) {
			lastAnswerIndex = i
			lastAnswer = extractAfterLastSeparator(j.Notes)
		}
	}
	if lastAnswerIndex == -1 {
		return QAExtract{Status: QANoAnswerFound}
	}

	// Any Question after the final Answer is by definition unanswered.
	for j := lastAnswerIndex + 1; j < len(journals); j++ {
		if strings.Contains(journals[j].Notes, qaQuestionKeyword) {
			return QAExtract{Status: QAUnansweredNewQuestion}
		}
	}

	question := ""
	for j := lastAnswerIndex - 1; j >= 0; j-- {
		if strings.Contains(journals[j].Notes, qaQuestionKeyword) {
			question = extractAfterLastSeparator(journals[j].Notes)
			break
		}
	}
	if question == "" && strings.Contains(ticket.Description, qaQuestionKeyword) {
		question = extractAfterLastSeparator(ticket.Description)
	}

	if lastAnswer == "" || question == "" {
		return QAExtract{Status: QAIncomplete}
	}
	return QAExtract{Question: question, Answer: lastAnswer, Status: QAOK}
}

// extractAfterLastSeparator strips <pre> tags and keeps only the text after
// the last separator line, which is where the ticket template puts the body.
func extractAfterLastSeparator(text string) string {
	clean := strings.ReplaceAll(text, "<pre>", "")
	clean = strings.ReplaceAll(clean, "</pre>", "")
	clean = strings.TrimSpace(clean)
	if idx := strings.LastIndex(clean, qaSeparator); idx != -1 {
		clean = clean[idx+len(qaSeparator):]
	}
	return strings.TrimSpace(clean)
}
