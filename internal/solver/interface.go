// Package solver provides remote reCAPTCHA solving provider clients.
package solver

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Solver is the interface for remote CAPTCHA solving services.
type Solver interface {
	// Name returns the solver's name (e.g., "2captcha", "capsolver").
	Name() string

	// Solve submits a challenge and waits for its token. It polls until a
	// token is returned, a terminal error is reported or ctx is done.
	Solve(ctx context.Context, params SolveParams) (*SolveResult, error)

	// Balance returns the current account balance (-1 if not supported).
	Balance(ctx context.Context) (float64, error)
}

// SolveParams contains parameters for solving a reCAPTCHA.
type SolveParams struct {
	SiteKey    string
	PageURL    string
	Invisible  bool
	Enterprise bool
}

// SolveResult contains the result of a successful solve.
type SolveResult struct {
	Token      string
	SolverName string
}

// Keys holds the per-provider API keys known to the process.
type Keys struct {
	TwoCaptcha  string
	CapSolver   string
	AntiCaptcha string
}

// Provider names accepted by New.
const (
	ProviderTwoCaptcha  = "2captcha"
	ProviderCapSolver   = "capsolver"
	ProviderAntiCaptcha = "anticaptcha"
	ProviderAuto        = "auto"
)

// IsRemote reports whether provider names a remote solving service.
func IsRemote(provider string) bool {
	switch strings.ToLower(provider) {
	case ProviderTwoCaptcha, ProviderCapSolver, ProviderAntiCaptcha, ProviderAuto:
		return true
	}
	return false
}

// New builds the solver for provider. apiKey takes precedence over the key
// in keys for that provider. "auto" chains every provider with a key.
func New(provider, apiKey string, keys Keys) (Solver, error) {
	pick := func(fallback string) string {
		if apiKey != "" {
			return apiKey
		}
		return fallback
	}

	switch strings.ToLower(provider) {
	case ProviderTwoCaptcha:
		if key := pick(keys.TwoCaptcha); key != "" {
			return NewTwoCaptcha(key), nil
		}
	case ProviderCapSolver:
		if key := pick(keys.CapSolver); key != "" {
			return NewCapSolver(key), nil
		}
	case ProviderAntiCaptcha:
		if key := pick(keys.AntiCaptcha); key != "" {
			return NewAntiCaptcha(key), nil
		}
	case ProviderAuto:
		if solvers := Configured(keys); len(solvers) > 0 {
			return NewChain(solvers...), nil
		}
	default:
		return nil, fmt.Errorf("unknown solver provider %q", provider)
	}
	return nil, fmt.Errorf("%w: no API key for %s", ErrNoSolverAvailable, provider)
}

// Chain is a solver that tries multiple solvers in order.
type Chain struct {
	solvers []Solver
}

// NewChain creates a new solver chain.
func NewChain(solvers ...Solver) *Chain {
	return &Chain{solvers: solvers}
}

// Name returns "chain".
func (c *Chain) Name() string {
	return "chain"
}

// Solve tries each solver in order until one succeeds or ctx is done.
func (c *Chain) Solve(ctx context.Context, params SolveParams) (*SolveResult, error) {
	var lastErr error

	for _, s := range c.solvers {
		result, err := s.Solve(ctx, params)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, ErrNoSolverAvailable
}

// Balance returns the minimum balance across all solvers.
func (c *Chain) Balance(ctx context.Context) (float64, error) {
	minBalance := float64(-1)
	for _, s := range c.solvers {
		balance, err := s.Balance(ctx)
		if err == nil && balance >= 0 {
			if minBalance < 0 || balance < minBalance {
				minBalance = balance
			}
		}
	}
	return minBalance, nil
}

// Errors
var (
	ErrNoSolverAvailable = errors.New("no solver available")
	ErrSolverTimeout     = &SolverError{Message: "solver timeout"}
	ErrSolverFailed      = &SolverError{Message: "solver failed"}
)

// SolverError represents a provider-side failure.
type SolverError struct {
	Message string
	Cause   error
}

func (e *SolverError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *SolverError) Unwrap() error {
	return e.Cause
}
