package challenge

import (
	"context"
	"fmt"
	"time"

	"github.com/jmylchreest/refyne-api/scraper/internal/clock"
)

// reporter is called each time another `every` of elapsed time has passed.
type reporter struct {
	every  time.Duration
	report func(elapsed time.Duration)
}

// poll evaluates cond every interval until it returns true, returns an
// error, or budget elapses (ErrChallengeTimeout).
func poll(ctx context.Context, clk clock.Clock, interval, budget time.Duration, rep *reporter, cond func() (bool, error)) error {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	start := clk.Now()
	deadline := start.Add(budget)
	var nextReport time.Time
	if rep != nil && rep.every > 0 {
		nextReport = start.Add(rep.every)
	} else {
		rep = nil
	}

	for {
		ok, err := cond()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		now := clk.Now()
		if !now.Before(deadline) {
			return fmt.Errorf("%w after %s", ErrChallengeTimeout, budget)
		}
		if rep != nil && !now.Before(nextReport) {
			rep.report(now.Sub(start))
			nextReport = nextReport.Add(rep.every)
		}

		wait := interval
		if remaining := deadline.Sub(now); remaining < wait {
			wait = remaining
		}
		if err := clk.Sleep(ctx, wait); err != nil {
			return err
		}
	}
}
