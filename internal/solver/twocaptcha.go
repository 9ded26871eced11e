package solver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const twoCaptchaBaseURL = "https://2captcha.com"

// TwoCaptcha implements the Solver interface using 2Captcha's in.php/res.php API.
type TwoCaptcha struct {
	apiKey    string
	baseURL   string
	client    *http.Client
	pollDelay time.Duration
}

// TwoCaptchaOption configures a TwoCaptcha solver.
type TwoCaptchaOption func(*TwoCaptcha)

// WithTwoCaptchaBaseURL overrides the API endpoint.
func WithTwoCaptchaBaseURL(u string) TwoCaptchaOption {
	return func(t *TwoCaptcha) { t.baseURL = strings.TrimRight(u, "/") }
}

// WithTwoCaptchaPollDelay overrides the interval between result polls.
func WithTwoCaptchaPollDelay(d time.Duration) TwoCaptchaOption {
	return func(t *TwoCaptcha) { t.pollDelay = d }
}

// NewTwoCaptcha creates a new 2Captcha solver.
func NewTwoCaptcha(apiKey string, opts ...TwoCaptchaOption) *TwoCaptcha {
	t := &TwoCaptcha{
		apiKey:  apiKey,
		baseURL: twoCaptchaBaseURL,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		pollDelay: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Name returns "2captcha".
func (t *TwoCaptcha) Name() string {
	return ProviderTwoCaptcha
}

type twoCaptchaResponse struct {
	Status  int    `json:"status"`
	Request string `json:"request"`
}

// Solve submits a reCAPTCHA to 2Captcha and waits for the solution.
func (t *TwoCaptcha) Solve(ctx context.Context, params SolveParams) (*SolveResult, error) {
	if params.SiteKey == "" {
		return nil, &SolverError{Message: "site key is required"}
	}

	taskID, err := t.submitTask(ctx, params)
	if err != nil {
		return nil, err
	}

	token, err := t.pollResult(ctx, taskID)
	if err != nil {
		return nil, err
	}

	return &SolveResult{Token: token, SolverName: t.Name()}, nil
}

// Balance reports the account balance in USD. Accounts that predate the
// json flag answer with a bare number, which is accepted as well.
func (t *TwoCaptcha) Balance(ctx context.Context) (float64, error) {
	values := url.Values{"key": {t.apiKey}, "action": {"getbalance"}, "json": {"1"}}
	result, raw, err := t.get(ctx, "/res.php", values)
	if err != nil {
		if raw == "" {
			return -1, err
		}
		balance, perr := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if perr != nil {
			return -1, err
		}
		return balance, nil
	}
	if result.Status != 1 {
		return -1, &SolverError{Message: fmt.Sprintf("2captcha balance: %s", result.Request)}
	}
	balance, err := strconv.ParseFloat(result.Request, 64)
	if err != nil {
		return -1, &SolverError{Message: "2captcha balance: not a number", Cause: err}
	}
	return balance, nil
}

func (t *TwoCaptcha) submitTask(ctx context.Context, params SolveParams) (string, error) {
	values := url.Values{
		"key":       {t.apiKey},
		"json":      {"1"},
		"method":    {"userrecaptcha"},
		"pageurl":   {params.PageURL},
		"googlekey": {params.SiteKey},
	}
	if params.Invisible {
		values.Set("invisible", "1")
	}
	if params.Enterprise {
		values.Set("enterprise", "1")
	}

	result, _, err := t.get(ctx, "/in.php", values)
	if err != nil {
		return "", err
	}
	if result.Status != 1 {
		return "", &SolverError{Message: fmt.Sprintf("2captcha error: %s", result.Request)}
	}

	return result.Request, nil
}

func (t *TwoCaptcha) pollResult(ctx context.Context, taskID string) (string, error) {
	values := url.Values{
		"key":    {t.apiKey},
		"action": {"get"},
		"id":     {taskID},
		"json":   {"1"},
	}

	// Polls until an answer arrives or ctx ends; the caller owns the budget.
	for {
		select {
		case <-ctx.Done():
			return "", &SolverError{Message: ErrSolverTimeout.Message, Cause: ctx.Err()}
		case <-time.After(t.pollDelay):
		}

		result, _, err := t.get(ctx, "/res.php", values)
		if err != nil {
			continue
		}

		if result.Status == 1 {
			return result.Request, nil
		}

		switch result.Request {
		case "CAPCHA_NOT_READY", "CAPTCHA_NOT_READY":
			continue
		case "ERROR_CAPTCHA_UNSOLVABLE":
			return "", &SolverError{Message: "CAPTCHA is unsolvable"}
		case "ERROR_WRONG_CAPTCHA_ID":
			return "", &SolverError{Message: "wrong CAPTCHA ID"}
		default:
			return "", &SolverError{Message: fmt.Sprintf("2captcha error: %s", result.Request)}
		}
	}
}

// get performs a GET against the 2Captcha API and decodes the JSON envelope.
// The raw body is returned for callers that accept non-JSON answers.
func (t *TwoCaptcha) get(ctx context.Context, path string, values url.Values) (twoCaptchaResponse, string, error) {
	var result twoCaptchaResponse

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+path+"?"+values.Encode(), nil)
	if err != nil {
		return result, "", err
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return result, "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return result, "", err
	}

	if err := json.Unmarshal(body, &result); err != nil {
		return result, string(body), fmt.Errorf("failed to parse response: %s", string(body))
	}
	return result, string(body), nil
}
