package czds

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"czdsfetch/internal"
)

// MaxWorkers bounds the optional worker pool
const MaxWorkers = 16

// Driver runs authenticate -> list -> fetch for one batch. Items are processed
// in the order the Lister returned them and a failed item never stops the batch.
type Driver struct {
	mode    internal.Mode
	session *Session
	lister  internal.Lister
	fetcher internal.Fetcher
	sink    internal.MetricsSink
	workers int
	now     func() time.Time
}

// DriverOption configures a Driver
type DriverOption func(*Driver)

// WithWorkers processes up to n items at once; 1 is strictly sequential
func WithWorkers(n int) DriverOption {
	return func(d *Driver) {
		if n < 1 {
			n = 1
		}
		if n > MaxWorkers {
			n = MaxWorkers
		}
		d.workers = n
	}
}

// WithMetricsSink receives every recorded outcome
func WithMetricsSink(sink internal.MetricsSink) DriverOption {
	return func(d *Driver) {
		d.sink = sink
	}
}

// NewDriver creates a driver for one pipeline mode
func NewDriver(mode internal.Mode, session *Session, lister internal.Lister, fetcher internal.Fetcher, opts ...DriverOption) *Driver {
	d := &Driver{
		mode:    mode,
		session: session,
		lister:  lister,
		fetcher: fetcher,
		workers: 1,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Execute authenticates, lists the items and runs the batch. Authentication and
// list failures are returned as errors; item failures only appear in the report.
func (d *Driver) Execute(ctx context.Context) (*internal.BatchReport, error) {
	if d.session != nil {
		if _, err := d.session.Token(ctx); err != nil {
			return nil, err
		}
	}

	items, err := d.lister.ListItems(ctx)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		internal.LogInfo("Nothing to do: the list is empty")
	}

	return d.Run(ctx, items), nil
}

// Run processes items and returns one outcome per processed item, in input order.
// When ctx is cancelled no new item is started and the report so far is
// returned with Cancelled set; items interrupted mid-flight are left out.
func (d *Driver) Run(ctx context.Context, items []internal.ResourceItem) *internal.BatchReport {
	report := &internal.BatchReport{
		RunID:     ulid.Make().String(),
		Mode:      d.mode,
		StartedAt: d.now(),
		Outcomes:  make([]internal.FetchOutcome, 0, len(items)),
	}

	if d.workers <= 1 || len(items) <= 1 {
		d.runSequential(ctx, items, report)
	} else {
		d.runPool(ctx, items, report)
	}

	report.FinishedAt = d.now()
	if d.sink != nil {
		if err := d.sink.Flush(); err != nil {
			internal.LogWarn("Failed to publish metrics: %v", err)
		}
	}

	internal.LogInfo("Run %s finished: %d succeeded, %d not found, %d failed in %v",
		report.RunID, report.Count(internal.StatusSuccess), report.Count(internal.StatusNotFound),
		report.Failed(), report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond))
	return report
}

func (d *Driver) runSequential(ctx context.Context, items []internal.ResourceItem, report *internal.BatchReport) {
	for _, item := range items {
		if ctx.Err() != nil {
			report.Cancelled = true
			return
		}

		outcome := d.fetch(ctx, item)
		if interrupted(ctx, outcome) {
			report.Cancelled = true
			return
		}
		d.record(report, outcome)
	}
}

// runPool fans items out to a bounded set of workers and collects the outcomes
// back into input order
func (d *Driver) runPool(ctx context.Context, items []internal.ResourceItem, report *internal.BatchReport) {
	type slot struct {
		outcome internal.FetchOutcome
		done    bool
	}

	workers := d.workers
	if workers > len(items) {
		workers = len(items)
	}

	slots := make([]slot, len(items))
	jobs := make(chan int)
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				outcome := d.fetch(ctx, items[i])
				if interrupted(ctx, outcome) {
					continue
				}
				slots[i] = slot{outcome: outcome, done: true}
			}
		}()
	}

dispatch:
	for i := range items {
		select {
		case jobs <- i:
		case <-ctx.Done():
			break dispatch
		}
	}
	close(jobs)
	wg.Wait()

	if ctx.Err() != nil {
		report.Cancelled = true
	}
	for _, s := range slots {
		if s.done {
			d.record(report, s.outcome)
		}
	}
}

// fetch runs the fetcher, turning a panic into a failure of that item alone
func (d *Driver) fetch(ctx context.Context, item internal.ResourceItem) (outcome internal.FetchOutcome) {
	defer func() {
		if r := recover(); r != nil {
			err := internal.NewCZDSError(0, fmt.Sprintf("unexpected failure: %v", r), internal.ErrItemPermanent)
			internal.LogCZDSError(err)
			outcome = internal.FetchOutcome{
				Item:   item,
				Status: internal.StatusPermanentFailure,
				Error:  err.Error(),
				Err:    err,
			}
		}
	}()
	return d.fetcher.FetchOne(ctx, item)
}

func (d *Driver) record(report *internal.BatchReport, outcome internal.FetchOutcome) {
	report.Outcomes = append(report.Outcomes, outcome)
	if d.sink != nil {
		d.sink.Record(outcome)
	}
}

// interrupted reports whether an outcome was cut short by cancellation. A
// failure the server returned before the signal is a real outcome and is kept.
func interrupted(ctx context.Context, outcome internal.FetchOutcome) bool {
	if ctx.Err() == nil {
		return false
	}
	return outcome.Status == internal.StatusTransientFailure ||
		errors.Is(outcome.Err, context.Canceled) ||
		errors.Is(outcome.Err, context.DeadlineExceeded)
}
