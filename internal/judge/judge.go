// Package judge notifies the downstream judge service that a submission
// has finished execution: a single best-effort POST with a status-code
// check and no retry.
package judge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Client posts submission-complete notifications to the judge endpoint.
type Client struct {
	url        string
	httpClient *http.Client
}

// New builds a Client pointed at the judge's /judge endpoint URL.
func New(url string) *Client {
	return &Client{
		url:        url,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Notify posts {"submission_id": submissionID} to the judge endpoint and
// reports whether the response was 200 OK. A non-200 is not an error
// from this function's perspective — the caller (the Submission
// Processor) decides what a non-200 means for the record.
func (c *Client) Notify(ctx context.Context, submissionID string) (ok bool, err error) {
	body, err := json.Marshal(map[string]string{"submission_id": submissionID})
	if err != nil {
		return false, fmt.Errorf("encoding judge payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("building judge request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("posting to judge: %w", err)
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK, nil
}
