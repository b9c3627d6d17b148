package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"imgbatch/internal/daemon"
	"imgbatch/internal/jobstore"
	"imgbatch/internal/pipeline"
)

// apiError is a non-2xx answer from the daemon.
type apiError struct {
	StatusCode int
	Message    string
	JobID      string
}

func (e *apiError) Error() string {
	if e.JobID != "" {
		return fmt.Sprintf("job %s rejected: %s", e.JobID, e.Message)
	}
	return fmt.Sprintf("daemon returned status %d: %s", e.StatusCode, e.Message)
}

type apiClient struct {
	base *url.URL
	http *http.Client
}

func newAPIClient(rawURL string) (*apiClient, error) {
	rawURL = strings.TrimSpace(rawURL)
	if !strings.Contains(rawURL, "://") {
		rawURL = "http://" + rawURL
	}
	base, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse daemon url: %w", err)
	}
	base.Path = ""
	base.RawQuery = ""
	base.Fragment = ""
	return &apiClient{
		base: base,
		http: &http.Client{Timeout: 60 * time.Second},
	}, nil
}

// SubmitFile uploads a manifest file. A manifest rejected by validation
// returns an *apiError carrying the failed job's id.
func (c *apiClient) SubmitFile(ctx context.Context, path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open manifest: %w", err)
	}
	defer file.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, file); err != nil {
		return "", fmt.Errorf("read manifest: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	var resp daemon.SubmitResponse
	if err := c.do(ctx, http.MethodPost, "/api/jobs", writer.FormDataContentType(), &body, &resp); err != nil {
		return "", err
	}
	return resp.JobID, nil
}

func (c *apiClient) Status(ctx context.Context, id string) (*pipeline.JobStatus, error) {
	var resp pipeline.JobStatus
	if err := c.do(ctx, http.MethodGet, "/api/jobs/"+url.PathEscape(id), "", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *apiClient) Describe(ctx context.Context, id string) (*pipeline.JobDetail, error) {
	var resp pipeline.JobDetail
	if err := c.do(ctx, http.MethodGet, "/api/jobs/"+url.PathEscape(id)+"/items", "", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *apiClient) List(ctx context.Context, statuses []string) ([]*jobstore.Job, error) {
	values := url.Values{}
	for _, status := range statuses {
		values.Add("status", status)
	}
	path := "/api/jobs"
	if len(values) > 0 {
		path += "?" + values.Encode()
	}
	var resp daemon.ListResponse
	if err := c.do(ctx, http.MethodGet, path, "", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Jobs, nil
}

// Health returns the daemon status. An unhealthy daemon still answers with
// its checks, so 503 is not treated as an error.
func (c *apiClient) Health(ctx context.Context) (*daemon.Status, error) {
	var resp daemon.Status
	err := c.do(ctx, http.MethodGet, "/api/health", "", nil, &resp)
	var apiErr *apiError
	if err != nil && !(errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusServiceUnavailable && len(resp.Checks) > 0) {
		return nil, err
	}
	return &resp, nil
}

func (c *apiClient) do(ctx context.Context, method, path, contentType string, body io.Reader, out any) error {
	endpoint, err := c.base.Parse(path)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return wrapDialError(err, c.base.String())
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil && resp.StatusCode < 300 {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	if resp.StatusCode >= 300 {
		var payload daemon.SubmitResponse
		_ = json.Unmarshal(data, &payload)
		message := strings.TrimSpace(payload.Error)
		if message == "" {
			message = http.StatusText(resp.StatusCode)
		}
		return &apiError{StatusCode: resp.StatusCode, Message: message, JobID: payload.JobID}
	}
	return nil
}

func wrapDialError(err error, base string) error {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return fmt.Errorf("connect to daemon: %s refused the connection; start it with `imgbatch daemon`", base)
	}
	return fmt.Errorf("connect to daemon: %w", err)
}
