package main

import (
	"net/http"
	"time"
)

// Each outbound collaborator gets its own client so the long-running
// workflow call does not inherit the short fetch/webhook deadlines.
func newHTTPClient(timeoutSeconds int) *http.Client {
	return &http.Client{
		Timeout: time.Duration(timeoutSeconds) * time.Second,
	}
}
