// Package jobs runs ingest jobs in the background: a Dispatcher executes
// freshly enqueued jobs immediately on a bounded goroutine pool, and a
// polling Worker sweeps up queued jobs whose dispatch was lost (process
// restart between enqueue and execution).
package jobs

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/groundplane/groundplane/internal/domain"
	"github.com/groundplane/groundplane/internal/repository"
)

// Runner executes one ingest job that is already in the running state.
type Runner interface {
	Process(ctx context.Context, job *domain.IngestJob, raw []byte) error
}

// JobClaimer transitions jobs into the running state.
type JobClaimer interface {
	MarkRunning(ctx context.Context, id string) error
	ClaimQueued(ctx context.Context, limit int) ([]*domain.IngestJob, error)
}

// DefaultJobTimeout bounds a single job execution, covering its extraction
// fetch, embedding and index calls.
const DefaultJobTimeout = 5 * time.Minute

// Dispatcher hands enqueued ingest jobs to a bounded worker pool. Dispatch
// never blocks the caller: if the pool is saturated the job simply stays
// queued until the sweep worker claims it.
type Dispatcher struct {
	pool    *ants.Pool
	claimer JobClaimer
	runner  Runner
	timeout time.Duration
}

func NewDispatcher(claimer JobClaimer, runner Runner, workers int) (*Dispatcher, error) {
	if workers <= 0 {
		workers = 4
	}
	pool, err := ants.NewPool(workers, ants.WithNonblocking(true))
	if err != nil {
		return nil, err
	}
	return &Dispatcher{
		pool:    pool,
		claimer: claimer,
		runner:  runner,
		timeout: DefaultJobTimeout,
	}, nil
}

// WithTimeout overrides the per-job execution timeout.
func (d *Dispatcher) WithTimeout(timeout time.Duration) *Dispatcher {
	if timeout > 0 {
		d.timeout = timeout
	}
	return d
}

// Dispatch schedules a queued job for immediate execution. raw optionally
// carries the source payload from the enqueuing request so the first run can
// skip a blob round-trip. The job is executed fire-and-forget; callers never
// observe its outcome through Dispatch.
func (d *Dispatcher) Dispatch(job *domain.IngestJob, raw []byte) {
	err := d.pool.Submit(func() {
		d.execute(job, raw)
	})
	if err != nil {
		// Pool saturated or released. The job stays queued; the sweep
		// worker picks it up on its next pass.
		log.Printf("jobs: dispatch of job %s deferred to sweep: %v", job.ID, err)
	}
}

func (d *Dispatcher) execute(job *domain.IngestJob, raw []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	if err := d.claimer.MarkRunning(ctx, job.ID); err != nil {
		if errors.Is(err, repository.ErrJobNotClaimable) {
			// Another job for the same source is running, or a sweep
			// already claimed this one. Leave it alone.
			log.Printf("jobs: job %s not claimable, skipping dispatch", job.ID)
			return
		}
		log.Printf("jobs: failed to claim job %s: %v", job.ID, err)
		return
	}
	job.State = domain.JobStateRunning

	if err := d.runner.Process(ctx, job, raw); err != nil {
		log.Printf("jobs: job %s could not settle: %v", job.ID, err)
	}
}

// Release shuts the pool down. In-flight jobs run to completion; anything
// not yet started stays queued for the sweep worker after restart.
func (d *Dispatcher) Release() {
	d.pool.Release()
}
