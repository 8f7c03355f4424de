// Package gitlab integrates PulseBoard with a GitLab instance: a typed API
// client, text-to-task link reconciliation, and the periodic sync job that
// backstops missed webhooks.
package gitlab

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	maxAttempts  = 3
	retryBackoff = 500 * time.Millisecond
)

// APIError is a non-2xx response from the GitLab API, carrying the status
// code and raw body together with the operation that failed.
type APIError struct {
	Op     string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: gitlab returned %d: %s", e.Op, e.Status, e.Body)
}

// Client is a GitLab API client bound to one connection's base URL and token.
// Construction is cheap and side-effect-free.
type Client struct {
	baseURL string
	token   string
	httpc   *http.Client

	// backoff between retry attempts; tests shorten it
	backoff time.Duration
}

// NewClient creates a client for the given instance. baseURL is the instance
// root (e.g. "https://gitlab.example.com"); the API prefix is appended here.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/") + "/api/v4",
		token:   token,
		httpc:   &http.Client{Timeout: 30 * time.Second},
		backoff: retryBackoff,
	}
}

// User is the authenticated GitLab account.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
}

// Project is a remote GitLab project.
type Project struct {
	ID                int64  `json:"id"`
	Name              string `json:"name"`
	PathWithNamespace string `json:"path_with_namespace"`
	DefaultBranch     string `json:"default_branch"`
	WebURL            string `json:"web_url"`
}

// Branch is a repository branch.
type Branch struct {
	Name   string `json:"name"`
	WebURL string `json:"web_url"`
}

// MergeRequest is a remote merge request.
type MergeRequest struct {
	IID          int64  `json:"iid"`
	Title        string `json:"title"`
	Description  string `json:"description"`
	State        string `json:"state"` // opened, merged, closed
	WebURL       string `json:"web_url"`
	SourceBranch string `json:"source_branch"`
	TargetBranch string `json:"target_branch"`
	Author       struct {
		Name string `json:"name"`
	} `json:"author"`
}

// Pipeline is a CI pipeline run.
type Pipeline struct {
	ID     int64  `json:"id"`
	Status string `json:"status"` // pending, running, success, failed, canceled
	Ref    string `json:"ref"`
	WebURL string `json:"web_url"`
}

// Hook is a project webhook registered on the remote.
type Hook struct {
	ID  int64  `json:"id"`
	URL string `json:"url"`
}

// CurrentUser fetches the account the token belongs to. Used to validate
// connection credentials interactively.
func (c *Client) CurrentUser(ctx context.Context) (*User, error) {
	var u User
	if err := c.do(ctx, http.MethodGet, "/user", nil, &u, "get current user"); err != nil {
		return nil, err
	}
	return &u, nil
}

// ListProjects lists projects the token has membership in.
func (c *Client) ListProjects(ctx context.Context) ([]Project, error) {
	var projects []Project
	if err := c.do(ctx, http.MethodGet, "/projects?membership=true&per_page=100", nil, &projects, "list projects"); err != nil {
		return nil, err
	}
	return projects, nil
}

// GetProject fetches one project by id.
func (c *Client) GetProject(ctx context.Context, projectID int64) (*Project, error) {
	var p Project
	path := fmt.Sprintf("/projects/%d", projectID)
	if err := c.do(ctx, http.MethodGet, path, nil, &p, "get project"); err != nil {
		return nil, err
	}
	return &p, nil
}

// CreateBranch creates a branch from ref.
func (c *Client) CreateBranch(ctx context.Context, projectID int64, branch, ref string) (*Branch, error) {
	var b Branch
	path := fmt.Sprintf("/projects/%d/repository/branches", projectID)
	body := map[string]string{"branch": branch, "ref": ref}
	if err := c.do(ctx, http.MethodPost, path, body, &b, "create branch"); err != nil {
		return nil, err
	}
	return &b, nil
}

// CreateMergeRequest opens a merge request.
func (c *Client) CreateMergeRequest(ctx context.Context, projectID int64, source, target, title string) (*MergeRequest, error) {
	var mr MergeRequest
	path := fmt.Sprintf("/projects/%d/merge_requests", projectID)
	body := map[string]string{
		"source_branch": source,
		"target_branch": target,
		"title":         title,
	}
	if err := c.do(ctx, http.MethodPost, path, body, &mr, "create merge request"); err != nil {
		return nil, err
	}
	return &mr, nil
}

// GetMergeRequest fetches one merge request by iid.
func (c *Client) GetMergeRequest(ctx context.Context, projectID, iid int64) (*MergeRequest, error) {
	var mr MergeRequest
	path := fmt.Sprintf("/projects/%d/merge_requests/%d", projectID, iid)
	if err := c.do(ctx, http.MethodGet, path, nil, &mr, "get merge request"); err != nil {
		return nil, err
	}
	return &mr, nil
}

// ListMergeRequests lists a project's merge requests, optionally filtered
// by state.
func (c *Client) ListMergeRequests(ctx context.Context, projectID int64, state string) ([]MergeRequest, error) {
	path := fmt.Sprintf("/projects/%d/merge_requests?per_page=100", projectID)
	if state != "" {
		path += "&state=" + state
	}
	var mrs []MergeRequest
	if err := c.do(ctx, http.MethodGet, path, nil, &mrs, "list merge requests"); err != nil {
		return nil, err
	}
	return mrs, nil
}

// LatestPipeline fetches the most recent pipeline for a ref. Returns nil
// without error when the ref has no pipelines.
func (c *Client) LatestPipeline(ctx context.Context, projectID int64, ref string) (*Pipeline, error) {
	q := url.Values{"ref": {ref}, "per_page": {"1"}, "sort": {"desc"}}
	path := fmt.Sprintf("/projects/%d/pipelines?%s", projectID, q.Encode())
	var pipelines []Pipeline
	if err := c.do(ctx, http.MethodGet, path, nil, &pipelines, "get latest pipeline"); err != nil {
		return nil, err
	}
	if len(pipelines) == 0 {
		return nil, nil
	}
	return &pipelines[0], nil
}

// CreateProjectHook registers a webhook on the remote project.
func (c *Client) CreateProjectHook(ctx context.Context, projectID int64, hookURL, secret string) (*Hook, error) {
	var h Hook
	path := fmt.Sprintf("/projects/%d/hooks", projectID)
	body := map[string]any{
		"url":                   hookURL,
		"token":                 secret,
		"merge_requests_events": true,
		"pipeline_events":       true,
		"push_events":           true,
	}
	if err := c.do(ctx, http.MethodPost, path, body, &h, "create project hook"); err != nil {
		return nil, err
	}
	return &h, nil
}

// DeleteProjectHook removes a webhook from the remote project. A 404 is
// treated as success so teardown stays idempotent when the hook is already
// gone.
func (c *Client) DeleteProjectHook(ctx context.Context, projectID, hookID int64) error {
	path := fmt.Sprintf("/projects/%d/hooks/%d", projectID, hookID)
	err := c.do(ctx, http.MethodDelete, path, nil, nil, "delete project hook")
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
		return nil
	}
	return err
}

// do performs one API call with bounded retry: transport failures and 5xx
// responses are retried up to maxAttempts with a fixed backoff; other
// non-2xx responses fail immediately as *APIError.
func (c *Client) do(ctx context.Context, method, path string, body, out any, op string) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: failed to encode request: %w", op, err)
		}
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.backoff):
			}
		}

		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return fmt.Errorf("%s: failed to build request: %w", op, err)
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpc.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("%s: request failed: %w", op, err)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("%s: failed to read response: %w", op, err)
			continue
		}

		if resp.StatusCode >= 500 {
			lastErr = &APIError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
			continue
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return &APIError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
		}

		if out != nil && len(respBody) > 0 {
			if err := json.Unmarshal(respBody, out); err != nil {
				return fmt.Errorf("%s: failed to decode response: %w", op, err)
			}
		}
		return nil
	}
	return lastErr
}
