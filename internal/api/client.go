// Package api is the HTTP client for the repository-analysis backend.
package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/sync/singleflight"

	"github.com/lotas/codeatlas/internal/applog"
	"github.com/lotas/codeatlas/internal/types"
)

// HTTPError is returned for non-2xx responses.
type HTTPError struct {
	Method string
	Path   string
	Status int
	Detail string // "detail" field of the error body, if any
}

func (e *HTTPError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s %s: HTTP %d: %s", e.Method, e.Path, e.Status, e.Detail)
	}
	return fmt.Sprintf("%s %s: HTTP %d", e.Method, e.Path, e.Status)
}

// Client talks to the analysis backend.
type Client struct {
	base  string
	http  *http.Client
	trees singleflight.Group
}

// New creates a Client for baseURL. timeout bounds every request.
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{Timeout: timeout},
	}
}

// BaseURL returns the backend root URL.
func (c *Client) BaseURL() string {
	return c.base
}

type analyzeRequest struct {
	Path string `json:"path"`
}

type treeResponse struct {
	JobID string          `json:"job_id"`
	Tree  *types.TreeNode `json:"tree"`
}

type searchRequest struct {
	JobID string `json:"job_id"`
	Query string `json:"query"`
}

// Submit starts an analysis of the repository at path.
func (c *Client) Submit(ctx context.Context, path string) (types.JobHandle, error) {
	var job types.JobHandle
	if strings.TrimSpace(path) == "" {
		return job, fmt.Errorf("repository path is required")
	}
	if err := c.do(ctx, http.MethodPost, "/analyze", analyzeRequest{Path: path}, &job); err != nil {
		return job, err
	}
	applog.Info("api.submit", "job", job.JobID, "path", path)
	return job, nil
}

// Status returns the current state of a job.
func (c *Client) Status(ctx context.Context, jobID string) (types.JobHandle, error) {
	var job types.JobHandle
	err := c.do(ctx, http.MethodGet, "/jobs/"+url.PathEscape(jobID), nil, &job)
	return job, err
}

// Tree fetches the result tree of a completed job. Concurrent calls for
// the same job share a single request. The shared request is detached from
// any one caller's ctx and bounded by the client timeout; a caller whose
// ctx ends stops waiting without failing the others.
func (c *Client) Tree(ctx context.Context, jobID string) (*types.TreeNode, error) {
	fetchCtx := context.WithoutCancel(ctx)
	ch := c.trees.DoChan(jobID, func() (any, error) {
		var resp treeResponse
		if err := c.do(fetchCtx, http.MethodGet, "/repos/"+url.PathEscape(jobID)+"/tree", nil, &resp); err != nil {
			return nil, err
		}
		if resp.Tree == nil {
			return nil, fmt.Errorf("tree for job %s is empty", jobID)
		}
		return resp.Tree, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		applog.Info("api.tree", "job", jobID, "shared", r.Shared)
		return r.Val.(*types.TreeNode), nil
	}
}

// Ask sends a free-text question about an analyzed repository.
func (c *Client) Ask(ctx context.Context, jobID, question string) (types.Answer, error) {
	var ans types.Answer
	err := c.do(ctx, http.MethodPost, "/search", searchRequest{JobID: jobID, Query: question}, &ans)
	return ans, err
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		herr := &HTTPError{Method: method, Path: path, Status: resp.StatusCode}
		var detail struct {
			Detail string `json:"detail"`
		}
		if data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10)); err == nil {
			if json.Unmarshal(data, &detail) == nil {
				herr.Detail = detail.Detail
			}
		}
		return herr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
