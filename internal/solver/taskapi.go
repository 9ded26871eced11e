package solver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	capSolverBaseURL   = "https://api.capsolver.com"
	antiCaptchaBaseURL = "https://api.anti-captcha.com"
)

// TaskAPI implements the createTask/getTaskResult protocol shared by
// CapSolver and Anti-Captcha.
type TaskAPI struct {
	name      string
	apiKey    string
	baseURL   string
	taskType  string
	client    *http.Client
	pollDelay time.Duration
}

// TaskAPIOption configures a TaskAPI solver.
type TaskAPIOption func(*TaskAPI)

// WithTaskAPIBaseURL overrides the API endpoint.
func WithTaskAPIBaseURL(u string) TaskAPIOption {
	return func(t *TaskAPI) { t.baseURL = strings.TrimRight(u, "/") }
}

// WithTaskAPIPollDelay overrides the interval between result polls.
func WithTaskAPIPollDelay(d time.Duration) TaskAPIOption {
	return func(t *TaskAPI) { t.pollDelay = d }
}

// NewCapSolver creates a CapSolver client.
func NewCapSolver(apiKey string, opts ...TaskAPIOption) *TaskAPI {
	return newTaskAPI(ProviderCapSolver, apiKey, capSolverBaseURL, "ReCaptchaV2TaskProxyLess", opts)
}

// NewAntiCaptcha creates an Anti-Captcha client.
func NewAntiCaptcha(apiKey string, opts ...TaskAPIOption) *TaskAPI {
	return newTaskAPI(ProviderAntiCaptcha, apiKey, antiCaptchaBaseURL, "RecaptchaV2TaskProxyless", opts)
}

func newTaskAPI(name, apiKey, baseURL, taskType string, opts []TaskAPIOption) *TaskAPI {
	t := &TaskAPI{
		name:      name,
		apiKey:    apiKey,
		baseURL:   baseURL,
		taskType:  taskType,
		client:    &http.Client{Timeout: 30 * time.Second},
		pollDelay: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Name returns the provider name.
func (t *TaskAPI) Name() string {
	return t.name
}

type taskEnvelope struct {
	ErrorID          int             `json:"errorId"`
	ErrorCode        string          `json:"errorCode"`
	ErrorDescription string          `json:"errorDescription"`
	TaskID           json.RawMessage `json:"taskId"`
	Status           string          `json:"status"`
	Balance          float64         `json:"balance"`
	Solution         struct {
		GRecaptchaResponse string `json:"gRecaptchaResponse"`
	} `json:"solution"`
}

func (e *taskEnvelope) err(provider string) error {
	if e.ErrorID == 0 {
		return nil
	}
	msg := e.ErrorCode
	if e.ErrorDescription != "" {
		msg += ": " + e.ErrorDescription
	}
	return &SolverError{Message: fmt.Sprintf("%s error: %s", provider, msg)}
}

// Solve creates a task and polls getTaskResult until the token is ready.
func (t *TaskAPI) Solve(ctx context.Context, params SolveParams) (*SolveResult, error) {
	if params.SiteKey == "" {
		return nil, &SolverError{Message: "site key is required"}
	}

	task := map[string]any{
		"type":       t.taskType,
		"websiteURL": params.PageURL,
		"websiteKey": params.SiteKey,
	}
	if params.Invisible {
		task["isInvisible"] = true
	}
	if params.Enterprise {
		task["isEnterprise"] = true
	}

	created, err := t.post(ctx, "/createTask", map[string]any{
		"clientKey": t.apiKey,
		"task":      task,
	})
	if err != nil {
		return nil, err
	}
	if err := created.err(t.name); err != nil {
		return nil, err
	}
	if len(created.TaskID) == 0 {
		return nil, &SolverError{Message: t.name + " returned no task id"}
	}

	for {
		select {
		case <-ctx.Done():
			return nil, &SolverError{Message: ErrSolverTimeout.Message, Cause: ctx.Err()}
		case <-time.After(t.pollDelay):
		}

		result, err := t.post(ctx, "/getTaskResult", map[string]any{
			"clientKey": t.apiKey,
			"taskId":    created.TaskID,
		})
		if err != nil {
			// Transport errors are retried on the next tick
			continue
		}
		if err := result.err(t.name); err != nil {
			return nil, err
		}

		switch result.Status {
		case "processing", "idle":
			continue
		case "ready":
			if result.Solution.GRecaptchaResponse == "" {
				return nil, &SolverError{Message: t.name + " returned an empty token"}
			}
			return &SolveResult{Token: result.Solution.GRecaptchaResponse, SolverName: t.name}, nil
		default:
			return nil, &SolverError{Message: fmt.Sprintf("%s returned status %q", t.name, result.Status)}
		}
	}
}

// Balance returns the current account balance.
func (t *TaskAPI) Balance(ctx context.Context) (float64, error) {
	result, err := t.post(ctx, "/getBalance", map[string]any{"clientKey": t.apiKey})
	if err != nil {
		return -1, err
	}
	if err := result.err(t.name); err != nil {
		return -1, err
	}
	return result.Balance, nil
}

func (t *TaskAPI) post(ctx context.Context, path string, payload any) (*taskEnvelope, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var env taskEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("failed to parse response: %s", string(raw))
	}
	return &env, nil
}
