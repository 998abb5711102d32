// Package client is a small HTTP client for the bellflow job API, used by
// the operator CLI and the MCP server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Mikkicon/bellflow/models"
)

// Client talks to one bellflow server.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// New creates a Client. A nil httpClient gets a 10 minute timeout, long
// enough for a synchronous browser job.
func New(baseURL, apiKey string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Minute}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    httpClient,
	}
}

// CreateJob submits a scrape job.
func (c *Client) CreateJob(ctx context.Context, req *models.CreateJobRequest) (*models.ScrapeJob, error) {
	var resp models.JobResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/jobs", req, &resp); err != nil {
		return nil, err
	}
	return resp.Job, nil
}

// GetJob fetches a job's current state.
func (c *Client) GetJob(ctx context.Context, jobID string) (*models.ScrapeJob, error) {
	var resp models.JobResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/jobs/"+url.PathEscape(jobID), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Job, nil
}

// GetResults fetches a completed job's result. A job that is not done yet
// yields a *models.NotReadyError.
func (c *Client) GetResults(ctx context.Context, jobID string) (*models.ScrapeResult, error) {
	var resp models.ResultsResponse
	err := c.do(ctx, http.MethodGet, "/api/v1/jobs/"+url.PathEscape(jobID)+"/results", nil, &resp)
	if models.ErrorCode(err) == models.ErrCodeJobNotReady {
		return nil, &models.NotReadyError{JobID: jobID, Status: resp.Status}
	}
	if err != nil {
		return nil, err
	}
	return resp.Result, nil
}

// CancelJob asks the server to cancel a job.
func (c *Client) CancelJob(ctx context.Context, jobID string) (bool, error) {
	var resp models.CancelResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/jobs/"+url.PathEscape(jobID)+"/cancel", nil, &resp); err != nil {
		return false, err
	}
	return resp.Cancelled, nil
}

// ListUserJobs lists a user's jobs, most recent first.
func (c *Client) ListUserJobs(ctx context.Context, userID string, status models.JobStatus, limit int) ([]*models.ScrapeJob, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", string(status))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/api/v1/users/" + url.PathEscape(userID) + "/jobs"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var resp models.JobListResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Jobs, nil
}

// WaitForJob polls a job every interval until it is terminal. onPoll, if
// set, sees every snapshot.
func (c *Client) WaitForJob(ctx context.Context, jobID string, interval time.Duration, onPoll func(*models.ScrapeJob)) (*models.ScrapeJob, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		job, err := c.GetJob(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if onPoll != nil {
			onPoll(job)
		}
		if job.Status.IsTerminal() {
			return job, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// do sends one request and decodes the JSON body into out. Non-2xx
// responses become a *models.ScrapeError carrying the server's code.
func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil || len(raw) == 0 {
			return nil
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("parse response: %w", err)
		}
		return nil
	}

	if out != nil {
		_ = json.Unmarshal(raw, out)
	}
	var errResp models.ErrorResponse
	if err := json.Unmarshal(raw, &errResp); err == nil && errResp.Error != nil {
		return models.NewScrapeError(errResp.Error.Code, errResp.Error.Message, nil)
	}
	return models.NewScrapeError(models.ErrCodeInternal,
		fmt.Sprintf("API error: %d - %s", resp.StatusCode, strings.TrimSpace(string(raw))), nil)
}
