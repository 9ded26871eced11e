package consent

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/jmylchreest/refyne-api/scraper/internal/clock"
)

type fakeEvaluator struct {
	selectorHit bool
	textHit     bool
	err         error
	calls       []string
	args        []any
}

func (f *fakeEvaluator) EvalBool(ctx context.Context, js string, args ...any) (bool, error) {
	f.calls = append(f.calls, js)
	f.args = append(f.args, args...)
	if f.err != nil {
		return false, f.err
	}
	switch js {
	case clickFirstVisibleJS:
		return f.selectorHit, nil
	case clickByTextJS:
		return f.textHit, nil
	}
	return false, nil
}

func newTestDismisser() (*Dismisser, *clock.Fake) {
	clk := clock.NewFake(time.Now())
	d := NewDismisser(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError})), WithClock(clk))
	return d, clk
}

func TestDismiss(t *testing.T) {
	tests := []struct {
		name      string
		eval      *fakeEvaluator
		want      bool
		wantCalls int
	}{
		{"selector match", &fakeEvaluator{selectorHit: true}, true, 1},
		{"text fallback", &fakeEvaluator{textHit: true}, true, 2},
		{"no banner", &fakeEvaluator{}, false, 2},
		{"eval errors", &fakeEvaluator{err: errors.New("detached")}, false, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, _ := newTestDismisser()
			if got := d.Dismiss(context.Background(), tt.eval); got != tt.want {
				t.Errorf("Dismiss() = %v, want %v", got, tt.want)
			}
			if len(tt.eval.calls) != tt.wantCalls {
				t.Errorf("evals = %d, want %d", len(tt.eval.calls), tt.wantCalls)
			}
		})
	}
}

func TestDismiss_GoogleSelectorFirst(t *testing.T) {
	d, _ := newTestDismisser()
	eval := &fakeEvaluator{selectorHit: true}
	d.Dismiss(context.Background(), eval)

	selectors, ok := eval.args[0].([]string)
	if !ok || len(selectors) == 0 {
		t.Fatalf("selector arg = %#v", eval.args[0])
	}
	if selectors[0] != "#L2AGLb" {
		t.Errorf("first selector = %q, want #L2AGLb", selectors[0])
	}
}

func TestDismiss_WaitsForRenderAndSettle(t *testing.T) {
	d, clk := newTestDismisser()
	d.Dismiss(context.Background(), &fakeEvaluator{selectorHit: true})

	sleeps := clk.Sleeps()
	if len(sleeps) != 2 || sleeps[0] != 500*time.Millisecond || sleeps[1] != 300*time.Millisecond {
		t.Errorf("sleeps = %v, want [500ms 300ms]", sleeps)
	}
}

func TestDismiss_CancelledContext(t *testing.T) {
	d, _ := newTestDismisser()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	eval := &fakeEvaluator{selectorHit: true}
	if d.Dismiss(ctx, eval) {
		t.Error("Dismiss() = true on a cancelled context")
	}
	if len(eval.calls) != 0 {
		t.Errorf("evals = %d, want 0", len(eval.calls))
	}
}
