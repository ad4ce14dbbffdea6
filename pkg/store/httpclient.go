package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPClient speaks the sqld batch protocol: POST a JSON body
// {"statements": [...]} and receive either a JSON array with one
// {"results": {...}} element per statement, or {"error": "..."}.
type HTTPClient struct {
	url    string
	client *http.Client
}

// NewHTTPClient creates a client for the sqld endpoint at url.
func NewHTTPClient(url string) *HTTPClient {
	return &HTTPClient{
		url: url,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type batchRequest struct {
	Statements []Statement `json:"statements"`
}

type batchResult struct {
	Results struct {
		Columns         []string `json:"columns"`
		Rows            [][]any  `json:"rows"`
		RowsRead        int64    `json:"rows_read"`
		RowsWritten     int64    `json:"rows_written"`
		QueryDurationMs float64  `json:"query_duration_ms"`
	} `json:"results"`
	Error string `json:"error"`
}

func (c *HTTPClient) Execute(ctx context.Context, stmts []Statement) ([]QueryResult, error) {
	body, err := json.Marshal(batchRequest{Statements: stmts})
	if err != nil {
		return nil, &Error{Op: "encode batch", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Op: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &Error{Op: "execute batch", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, &Error{Op: "read response", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &Error{Op: "execute batch", Err: fmt.Errorf("unexpected status code: %d", resp.StatusCode)}
	}

	// The store answers with an array on success and an object carrying
	// an error message otherwise.
	var results []batchResult
	if err := json.Unmarshal(raw, &results); err != nil {
		var failure struct {
			Error string `json:"error"`
		}
		if jerr := json.Unmarshal(raw, &failure); jerr == nil && failure.Error != "" {
			return nil, &Error{Op: "execute batch", Err: fmt.Errorf("%s", failure.Error)}
		}
		return nil, &Error{Op: "decode response", Err: err}
	}

	out := make([]QueryResult, 0, len(results))
	for _, r := range results {
		if r.Error != "" {
			return nil, &Error{Op: "execute batch", Err: fmt.Errorf("%s", r.Error)}
		}
		out = append(out, QueryResult{
			Columns:     r.Results.Columns,
			Rows:        r.Results.Rows,
			RowsRead:    r.Results.RowsRead,
			RowsWritten: r.Results.RowsWritten,
			DurationMs:  r.Results.QueryDurationMs,
		})
	}
	return out, nil
}
