package jobs

import (
	"context"
	"fmt"
	"log"
	"time"
)

// JobProcessor is one pass of background work, invoked on every poll tick.
type JobProcessor interface {
	ProcessJobs(ctx context.Context) error
}

// Worker runs a JobProcessor on a fixed polling interval.
type Worker struct {
	processor    JobProcessor
	pollInterval time.Duration
	stopChan     chan struct{}
	doneChan     chan struct{}
}

func NewWorker(processor JobProcessor, pollInterval time.Duration) *Worker {
	return &Worker{
		processor:    processor,
		pollInterval: pollInterval,
		stopChan:     make(chan struct{}),
		doneChan:     make(chan struct{}),
	}
}

// Start begins the worker's polling loop. It blocks until the context is
// cancelled or Stop is called.
func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	defer close(w.doneChan)

	log.Printf("jobs: sweep worker started, poll interval %v", w.pollInterval)

	for {
		select {
		case <-ctx.Done():
			log.Println("jobs: sweep worker stopped: context cancelled")
			return
		case <-w.stopChan:
			log.Println("jobs: sweep worker stopped: stop signal received")
			return
		case <-ticker.C:
			if err := w.processor.ProcessJobs(ctx); err != nil {
				log.Printf("jobs: sweep pass failed: %v", err)
			}
		}
	}
}

// Stop gracefully stops the worker and waits for the loop to exit.
func (w *Worker) Stop() {
	close(w.stopChan)
	<-w.doneChan
	log.Println("jobs: sweep worker shutdown complete")
}

// Sweeper claims queued ingest jobs from the database and runs them. It is
// the fallback path behind the Dispatcher: jobs enqueued by a process that
// died before dispatching, or deferred because the pool was full, are picked
// up here. Jobs abandoned mid-flight in the running state are not retried;
// they stay visible as stuck and are the operator's signal to reindex.
type Sweeper struct {
	claimer   JobClaimer
	runner    Runner
	batchSize int
}

func NewSweeper(claimer JobClaimer, runner Runner, batchSize int) *Sweeper {
	if batchSize <= 0 {
		batchSize = 10
	}
	return &Sweeper{claimer: claimer, runner: runner, batchSize: batchSize}
}

// ProcessJobs implements the JobProcessor interface. Claimed jobs arrive
// already in the running state and are executed sequentially; one failed
// settle does not stop the rest of the batch.
func (s *Sweeper) ProcessJobs(ctx context.Context) error {
	jobs, err := s.claimer.ClaimQueued(ctx, s.batchSize)
	if err != nil {
		return fmt.Errorf("failed to claim queued jobs: %w", err)
	}
	if len(jobs) == 0 {
		return nil
	}

	log.Printf("jobs: sweep claimed %d queued ingest jobs", len(jobs))

	for _, job := range jobs {
		// No raw payload here: the sweep always loads from storage.
		if err := s.runner.Process(ctx, job, nil); err != nil {
			log.Printf("jobs: job %s could not settle: %v", job.ID, err)
		}
	}
	return nil
}
