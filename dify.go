package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// DifyInvoker submits a ticket's question/answer pair to the Dify workflow
// endpoint for semantic review and extracts the review payload from the
// response envelope.
type DifyInvoker struct {
	cfg    Config
	client *http.Client
}

func NewDifyInvoker(cfg Config) *DifyInvoker {
	return &DifyInvoker{
		cfg:    cfg,
		client: newHTTPClient(cfg.WorkflowTimeoutSeconds),
	}
}

// Invoke runs the review workflow and returns the raw review payload: either
// the review text or the structured result JSON, whichever the workflow
// emits. Only transport-level failures return an error; an empty or useless
// payload is returned as-is and fails closed in the classifier, so it is not
// refetched forever.
func (d *DifyInvoker) Invoke(ticket Ticket, qa QAExtract) (string, error) {
	payload := map[string]any{
		"inputs": map[string]any{
			"ticketid": strconv.FormatInt(ticket.ID, 10),
			"question": qa.Question,
			"answer":   qa.Answer,
			"LLM":      "GPT",
		},
		"response_mode": "blocking",
		"user":          "reviewmon",
	}
	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequest("POST", d.cfg.DifyAPIURL, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+d.cfg.DifyAPIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling workflow: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != 200 {
		return "", fmt.Errorf("Dify API returned %d: %s", resp.StatusCode, truncate(string(respBody), 200))
	}
	if !gjson.ValidBytes(respBody) {
		return "", fmt.Errorf("Dify response is not JSON: %s", truncate(string(respBody), 200))
	}

	raw := extractWorkflowOutput(respBody)
	logrus.Debugf("dify output ticket=#%d size=%d", ticket.ID, len(raw))
	return raw, nil
}

// extractWorkflowOutput digs the review payload out of data.outputs. The
// workflow has been observed to emit outputs as an object, as a JSON-encoded
// string, and as a double-encoded string, with the review text under any of
// several keys depending on which model block produced it.
func extractWorkflowOutput(body []byte) string {
	outputs := gjson.GetBytes(body, "data.outputs")
	for i := 0; i < 2 && outputs.Type == gjson.String; i++ {
		if !gjson.Valid(outputs.String()) {
			break
		}
		outputs = gjson.Parse(outputs.String())
	}

	if outputs.IsObject() {
		for _, key := range []string{"text", "text_1", "gpt", "gemma"} {
			if text := outputs.Get(key); text.Exists() && text.String() != "" {
				return strings.TrimSpace(decodeEscapedText(text.String()))
			}
		}
		// No text key: the workflow returned the structured result itself.
		return outputs.Raw
	}
	if outputs.Type == gjson.String {
		return strings.TrimSpace(decodeEscapedText(outputs.String()))
	}
	return ""
}

// decodeEscapedText undoes literal \xNN byte escapes that some model blocks
// leave in their output. Text without the marker passes through untouched,
// as does anything that fails to decode.
func decodeEscapedText(text string) string {
	if !strings.Contains(text, `\x`) {
		return text
	}

	var buf bytes.Buffer
	for i := 0; i < len(text); {
		if i+3 < len(text) && text[i] == '\\' && text[i+1] == 'x' {
			b, err := strconv.ParseUint(text[i+2:i+4], 16, 8)
			if err == nil {
				buf.WriteByte(byte(b))
				i += 4
				continue
			}
		}
		buf.WriteByte(text[i])
		i++
	}
	decoded := buf.String()
	if !utf8.ValidString(decoded) {
		return text
	}
	return decoded
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
