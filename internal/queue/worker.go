package queue

import (
	"context"
	"log/slog"
	"time"
)

// Outcome classifies how a job run ended.
type Outcome string

const (
	// OutcomeDone: the job did its work (a call was initiated).
	OutcomeDone Outcome = "done"

	// OutcomeSkipped: a final block (DNC, recent call, lost dispatch
	// race, inactive campaign). The job is dropped without retries.
	OutcomeSkipped Outcome = "skipped"

	// OutcomeParked: a transient block (outside calling hours, daily
	// cap). The job is re-queued at RetryIn without consuming an
	// attempt.
	OutcomeParked Outcome = "parked"

	// OutcomeFailed: the attempt errored; retried with backoff until
	// MaxAttempts, then dropped as exhausted.
	OutcomeFailed Outcome = "failed"

	outcomeExhausted Outcome = "exhausted"
)

// Result is what a Processor reports back for one job run.
type Result struct {
	Outcome Outcome
	// RetryIn applies to OutcomeParked only.
	RetryIn time.Duration
	// Detail is a short machine tag for logs and metrics (e.g. the
	// block reason).
	Detail string
}

// Processor executes a claimed job. A returned error is equivalent to
// Result{Outcome: OutcomeFailed}.
type Processor interface {
	Process(ctx context.Context, job CallJob) (Result, error)
}

// Recorder receives one observation per finished job run.
type Recorder interface {
	RecordJob(outcome, detail string)
}

type nopRecorder struct{}

func (nopRecorder) RecordJob(string, string) {}

// Worker drains due jobs and applies the at-least-once retry contract:
// parked jobs keep their attempt number, failed jobs consume one.
type Worker struct {
	queue Queue
	proc  Processor
	log   *slog.Logger
	rec   Recorder

	pollInterval time.Duration
	batchSize    int
	clock        func() time.Time
}

func NewWorker(q Queue, proc Processor, log *slog.Logger) *Worker {
	return &Worker{
		queue:        q,
		proc:         proc,
		log:          log,
		rec:          nopRecorder{},
		pollInterval: time.Second,
		batchSize:    10,
		clock:        time.Now,
	}
}

func (w *Worker) WithRecorder(rec Recorder) *Worker {
	w.rec = rec
	return w
}

func (w *Worker) WithClock(clock func() time.Time) *Worker {
	w.clock = clock
	return w
}

// Run polls until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := w.Tick(ctx); err != nil {
				w.log.ErrorContext(ctx, "queue tick failed", "error", err)
			}
		}
	}
}

// Tick claims one batch of due jobs and processes them. Returns how
// many jobs it handled.
func (w *Worker) Tick(ctx context.Context) (int, error) {
	jobs, err := w.queue.ClaimDue(ctx, w.clock(), w.batchSize)
	if err != nil {
		return 0, err
	}
	for _, job := range jobs {
		w.handle(ctx, job)
	}
	return len(jobs), nil
}

func (w *Worker) handle(ctx context.Context, job CallJob) {
	res, err := w.proc.Process(ctx, job)
	if err != nil {
		res = Result{Outcome: OutcomeFailed, Detail: err.Error()}
		w.log.ErrorContext(ctx, "call job errored",
			"job_id", job.JobID, "contact_id", job.ContactID, "attempt", job.Attempt, "error", err)
	}

	switch res.Outcome {
	case OutcomeDone, OutcomeSkipped:
		w.rec.RecordJob(string(res.Outcome), res.Detail)
		w.log.InfoContext(ctx, "call job finished",
			"job_id", job.JobID, "contact_id", job.ContactID, "outcome", res.Outcome, "detail", res.Detail)
		w.ack(ctx, job)

	case OutcomeParked:
		delay := res.RetryIn
		if delay <= 0 {
			delay = 15 * time.Minute
		}
		if err := w.queue.Enqueue(ctx, job, delay); err != nil {
			// No ack: the visibility deadline re-delivers the claimed
			// copy instead of losing the job.
			w.log.ErrorContext(ctx, "failed to park job", "job_id", job.JobID, "error", err)
			return
		}
		w.rec.RecordJob(string(OutcomeParked), res.Detail)
		w.log.InfoContext(ctx, "call job parked",
			"job_id", job.JobID, "contact_id", job.ContactID, "detail", res.Detail, "retry_in", delay)
		w.ack(ctx, job)

	case OutcomeFailed:
		if job.Attempt >= job.MaxAttempts {
			w.rec.RecordJob(string(outcomeExhausted), res.Detail)
			w.log.WarnContext(ctx, "call job exhausted retries",
				"job_id", job.JobID, "contact_id", job.ContactID, "attempts", job.Attempt)
			w.ack(ctx, job)
			return
		}
		delay := job.NextBackoff()
		retry := job
		retry.Attempt++
		if err := w.queue.Enqueue(ctx, retry, delay); err != nil {
			w.log.ErrorContext(ctx, "failed to requeue job", "job_id", job.JobID, "error", err)
			return
		}
		w.rec.RecordJob(string(OutcomeFailed), res.Detail)
		w.log.InfoContext(ctx, "call job retry scheduled",
			"job_id", job.JobID, "contact_id", job.ContactID, "attempt", retry.Attempt, "retry_in", delay)
		w.ack(ctx, job)

	default:
		w.log.ErrorContext(ctx, "unknown job outcome", "job_id", job.JobID, "outcome", res.Outcome)
		w.ack(ctx, job)
	}
}

// ack is best-effort: a failed ack means the job is re-delivered after
// the visibility deadline, which the at-least-once contract allows.
func (w *Worker) ack(ctx context.Context, job CallJob) {
	if err := w.queue.Ack(ctx, job); err != nil {
		w.log.ErrorContext(ctx, "failed to ack job", "job_id", job.JobID, "error", err)
	}
}
