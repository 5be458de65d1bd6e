package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/desertthunder/rotator/internal/scheduler"
	"github.com/desertthunder/rotator/internal/shared"
)

// JobRunner is the worker surface the jobs API controls.
type JobRunner interface {
	Scheduler() *scheduler.Scheduler
	RunNow(ctx context.Context, name string) error
	Running(name string) bool
	LastError(name string) error
}

// JobStatus is a scheduler job with the worker's view of it.
type JobStatus struct {
	scheduler.Job
	Running   bool   `json:"running"`
	LastError string `json:"last_error,omitempty"`
}

// ErrorResponse is the body of every non-2xx jobs API response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// JobsHandler serves the worker's job table:
//
//	GET  /jobs
//	GET  /jobs/{name}
//	POST /jobs/{name}/enable
//	POST /jobs/{name}/disable
//	POST /jobs/{name}/run
type JobsHandler struct {
	worker JobRunner
	mux    *http.ServeMux
}

// NewJobsHandler creates a JobsHandler for worker.
func NewJobsHandler(worker JobRunner) *JobsHandler {
	h := &JobsHandler{worker: worker, mux: http.NewServeMux()}
	h.mux.HandleFunc("GET /jobs", h.list)
	h.mux.HandleFunc("GET /jobs/{name}", h.get)
	h.mux.HandleFunc("POST /jobs/{name}/{action}", h.action)
	return h
}

// Routes returns the HTTP routes this handler serves.
func (h *JobsHandler) Routes() []string {
	return []string{"/jobs", "/jobs/"}
}

func (h *JobsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *JobsHandler) status(job scheduler.Job) JobStatus {
	st := JobStatus{Job: job, Running: h.worker.Running(job.Name)}
	if err := h.worker.LastError(job.Name); err != nil {
		st.LastError = err.Error()
	}
	return st
}

func (h *JobsHandler) list(w http.ResponseWriter, _ *http.Request) {
	jobs := h.worker.Scheduler().List()
	out := make([]JobStatus, len(jobs))
	for i, job := range jobs {
		out[i] = h.status(job)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *JobsHandler) get(w http.ResponseWriter, r *http.Request) {
	job, err := h.worker.Scheduler().Get(r.PathValue("name"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.status(job))
}

func (h *JobsHandler) action(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	s := h.worker.Scheduler()

	var err error
	switch r.PathValue("action") {
	case "enable":
		err = s.SetEnabled(name, true)
	case "disable":
		err = s.SetEnabled(name, false)
	case "run":
		err = h.worker.RunNow(r.Context(), name)
	default:
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "unknown action " + r.PathValue("action")})
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}

	job, err := s.Get(name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.status(job))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, shared.ErrJobNotFound):
		code = http.StatusNotFound
	case errors.Is(err, shared.ErrJobRunning):
		code = http.StatusConflict
	case errors.Is(err, shared.ErrJobNotRegistered):
		code = http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		code = http.StatusGatewayTimeout
	}
	writeJSON(w, code, ErrorResponse{Error: err.Error()})
}

// JobsClient calls a running worker's jobs API.
type JobsClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewJobsClient creates a client for the worker at baseURL.
func NewJobsClient(baseURL string, client *http.Client) *JobsClient {
	if baseURL == "" {
		baseURL = "http://127.0.0.1:3000"
	}
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Minute}
	}
	return &JobsClient{baseURL: baseURL, httpClient: client}
}

// List returns every job.
func (c *JobsClient) List(ctx context.Context) ([]JobStatus, error) {
	var jobs []JobStatus
	err := c.do(ctx, http.MethodGet, "/jobs", &jobs)
	return jobs, err
}

// SetEnabled enables or disables the named job.
func (c *JobsClient) SetEnabled(ctx context.Context, name string, enabled bool) (*JobStatus, error) {
	action := "disable"
	if enabled {
		action = "enable"
	}
	var job JobStatus
	if err := c.do(ctx, http.MethodPost, "/jobs/"+name+"/"+action, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// Run runs the named job now and waits for it to finish.
func (c *JobsClient) Run(ctx context.Context, name string) (*JobStatus, error) {
	var job JobStatus
	if err := c.do(ctx, http.MethodPost, "/jobs/"+name+"/run", &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (c *JobsClient) do(ctx context.Context, method, path string, result any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", shared.ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
		return nil
	}

	var body ErrorResponse
	_ = json.NewDecoder(resp.Body).Decode(&body)
	switch resp.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", shared.ErrJobNotFound, body.Error)
	case http.StatusConflict:
		return fmt.Errorf("%w: %s", shared.ErrJobRunning, body.Error)
	case http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s", shared.ErrJobNotRegistered, body.Error)
	default:
		return fmt.Errorf("status %d: %s", resp.StatusCode, body.Error)
	}
}
