// Package classify runs the external text-classification collaborator as an
// asynchronous job pipeline: intake enqueues a submission id onto a Redis
// list, a worker calls the classifier with bounded retries, and the result is
// persisted to the relational store. Failures never surface to the request
// that enqueued the job.
package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Result is the category the classifier assigned to a submission.
type Result struct {
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
}

// Client calls the external classification service over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) Classify(ctx context.Context, submissionID string) (Result, error) {
	payload, err := json.Marshal(map[string]string{"submissionId": submissionID})
	if err != nil {
		return Result{}, fmt.Errorf("marshal classify request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/classify", bytes.NewReader(payload))
	if err != nil {
		return Result{}, fmt.Errorf("build classify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("call classifier: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("classifier returned %d", resp.StatusCode)
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Result{}, fmt.Errorf("decode classify response: %w", err)
	}
	if result.Category == "" {
		return Result{}, fmt.Errorf("classifier returned empty category")
	}
	return result, nil
}
