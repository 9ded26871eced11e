package solver

import "context"

// Configured returns a solver for every provider in keys that has a key,
// in 2captcha, capsolver, anticaptcha order.
func Configured(keys Keys) []Solver {
	var solvers []Solver
	if keys.TwoCaptcha != "" {
		solvers = append(solvers, NewTwoCaptcha(keys.TwoCaptcha))
	}
	if keys.CapSolver != "" {
		solvers = append(solvers, NewCapSolver(keys.CapSolver))
	}
	if keys.AntiCaptcha != "" {
		solvers = append(solvers, NewAntiCaptcha(keys.AntiCaptcha))
	}
	return solvers
}

// AccountBalance is the balance one provider reported, or why it could not.
type AccountBalance struct {
	Provider string
	Balance  float64
	Err      error
}

// Balances asks each solver for its account balance. One entry is returned
// per solver in the order given; a failing provider does not stop the rest.
func Balances(ctx context.Context, solvers ...Solver) []AccountBalance {
	out := make([]AccountBalance, 0, len(solvers))
	for _, s := range solvers {
		balance, err := s.Balance(ctx)
		out = append(out, AccountBalance{Provider: s.Name(), Balance: balance, Err: err})
	}
	return out
}
