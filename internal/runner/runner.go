package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Releck/cibox/internal/model"
)

// errFastFinish cancels remaining legs after a counted leg fails when
// fast_finish is on. It never escapes Run.
var errFastFinish = errors.New("fast finish")

// Options configures a Runner.
type Options struct {
	// Backend executes the legs.
	Backend Backend

	// Jobs bounds how many legs run concurrently. Values below one mean
	// one leg per CPU.
	Jobs int

	// FastFinish cancels remaining legs once a counted leg fails or
	// errors. Legs already running finish their current step and stop.
	FastFinish bool

	// Output receives the interleaved leg output. Nil discards it.
	Output io.Writer
}

// RunReport is the outcome of one run.
type RunReport struct {
	// ID is the run's UUID, also stamped onto leg containers.
	ID string `json:"id"`

	// Status is the aggregate verdict.
	Status model.RunStatus `json:"status"`

	// Results holds one entry per leg, in leg order.
	Results []model.LegResult `json:"results"`

	// StartedAt and FinishedAt bound the run in UTC.
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
}

// Duration is the wall-clock time of the whole run.
func (r *RunReport) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Runner executes leg lists against a backend with bounded parallelism.
type Runner struct {
	opts Options
}

// New creates a Runner.
func New(opts Options) *Runner {
	if opts.Jobs < 1 {
		opts.Jobs = runtime.NumCPU()
	}
	if opts.Output == nil {
		opts.Output = io.Discard
	}
	return &Runner{opts: opts}
}

// Run executes all legs and reports per-leg and aggregate outcomes. Legs
// not yet started when the run is cancelled come back skipped. The
// returned error covers infrastructure problems only; leg failures are
// expressed in the report status.
func (r *Runner) Run(ctx context.Context, legs []model.Leg) (*RunReport, error) {
	report := &RunReport{
		ID:        uuid.NewString(),
		StartedAt: time.Now().UTC(),
		Results:   make([]model.LegResult, len(legs)),
	}

	mux := NewOutputMux(r.opts.Output)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Jobs)

	for i, leg := range legs {
		g.Go(func() error {
			if gctx.Err() != nil {
				report.Results[i] = model.LegResult{Leg: leg, Status: model.LegSkipped}
				return nil
			}

			out := mux.Writer(fmt.Sprintf("[%s] ", leg.Name))
			defer out.Close()

			result := r.opts.Backend.RunLeg(gctx, report.ID, leg, out)
			report.Results[i] = result

			if r.opts.FastFinish && !leg.AllowFailure {
				if result.Status == model.LegFailed || result.Status == model.LegErrored {
					return errFastFinish
				}
			}
			return nil
		})
	}

	err := g.Wait()
	report.FinishedAt = time.Now().UTC()
	report.Status = model.AggregateRunStatus(report.Results)

	if err != nil && !errors.Is(err, errFastFinish) {
		return report, err
	}
	if ctx.Err() != nil {
		return report, ctx.Err()
	}

	return report, nil
}
