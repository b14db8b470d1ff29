// Package outlineclient calls the internal outline service.
package outlineclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"pdfreader/internal/servicetoken"
	"pdfreader/internal/util"
	"pdfreader/pkg/queue"
)

// Client enqueues outline extraction jobs over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// APIError represents an outline service error response.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("outline service: %s", e.Message)
}

// NewClient constructs a client whose requests carry service tokens from signer.
func NewClient(baseURL string, signer *servicetoken.Signer) (*Client, error) {
	if signer == nil {
		return nil, fmt.Errorf("internal signer is required")
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout:   10 * time.Second,
			Transport: &servicetoken.Transport{Signer: signer, Audience: servicetoken.AudienceOutline},
		},
	}, nil
}

// Enqueue asks the outline service to (re)extract documentID.
func (c *Client) Enqueue(ctx context.Context, documentID string) (queue.JobStatus, error) {
	payload, err := json.Marshal(map[string]string{"documentId": documentID})
	if err != nil {
		return queue.JobStatus{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/internal/outline/jobs", bytes.NewReader(payload))
	if err != nil {
		return queue.JobStatus{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	var job queue.JobStatus
	if err := c.do(req, &job); err != nil {
		return queue.JobStatus{}, err
	}
	return job, nil
}

// GetJob fetches the status of an outline job.
func (c *Client) GetJob(ctx context.Context, jobID string) (queue.JobStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/internal/outline/jobs/"+url.PathEscape(jobID), nil)
	if err != nil {
		return queue.JobStatus{}, err
	}
	var job queue.JobStatus
	if err := c.do(req, &job); err != nil {
		return queue.JobStatus{}, err
	}
	return job, nil
}

func (c *Client) do(req *http.Request, out any) error {
	util.ForwardRequestID(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		msg := errResp.Error
		if msg == "" {
			msg = resp.Status
		}
		return &APIError{Status: resp.StatusCode, Code: errResp.Code, Message: msg}
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
