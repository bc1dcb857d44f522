package queue

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"
)

// memQueue is an in-memory Queue for worker tests. Due times are
// absolute so the worker's clock can be advanced deterministically. It
// mirrors the redis claim contract: claimed jobs sit in flight until
// acked and come back after the visibility deadline.
type memQueue struct {
	mu       sync.Mutex
	now      time.Time
	jobs     []memJob
	inflight []memJob

	enqueueErr error
}

type memJob struct {
	job CallJob
	due time.Time
}

const memVisibility = 5 * time.Minute

func (q *memQueue) Enqueue(_ context.Context, job CallJob, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.enqueueErr != nil {
		return q.enqueueErr
	}
	q.jobs = append(q.jobs, memJob{job: job, due: q.now.Add(delay)})
	return nil
}

func (q *memQueue) ClaimDue(_ context.Context, now time.Time, limit int) ([]CallJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.now = now

	// Expired in-flight jobs become due again.
	var stillInflight []memJob
	for _, mj := range q.inflight {
		if !mj.due.After(now) {
			q.jobs = append(q.jobs, memJob{job: mj.job, due: now})
			continue
		}
		stillInflight = append(stillInflight, mj)
	}
	q.inflight = stillInflight

	sort.Slice(q.jobs, func(i, j int) bool { return q.jobs[i].due.Before(q.jobs[j].due) })
	var claimed []CallJob
	var rest []memJob
	for _, mj := range q.jobs {
		if len(claimed) < limit && !mj.due.After(now) {
			claimed = append(claimed, mj.job)
			q.inflight = append(q.inflight, memJob{job: mj.job, due: now.Add(memVisibility)})
			continue
		}
		rest = append(rest, mj)
	}
	q.jobs = rest
	return claimed, nil
}

func (q *memQueue) Ack(_ context.Context, job CallJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, mj := range q.inflight {
		if mj.job.JobID == job.JobID && mj.job.Attempt == job.Attempt {
			q.inflight = append(q.inflight[:i], q.inflight[i+1:]...)
			return nil
		}
	}
	return nil
}

func (q *memQueue) CancelByCampaign(_ context.Context, campaignID string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var rest []memJob
	removed := 0
	for _, mj := range q.jobs {
		if mj.job.CampaignID == campaignID {
			removed++
			continue
		}
		rest = append(rest, mj)
	}
	q.jobs = rest
	return removed, nil
}

func (q *memQueue) pending() []memJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]memJob, len(q.jobs))
	copy(out, q.jobs)
	return out
}

func (q *memQueue) inFlight() []memJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]memJob, len(q.inflight))
	copy(out, q.inflight)
	return out
}

type scriptedProc struct {
	results []Result
	errs    []error
	calls   []CallJob
}

func (p *scriptedProc) Process(_ context.Context, job CallJob) (Result, error) {
	i := len(p.calls)
	p.calls = append(p.calls, job)
	var err error
	if i < len(p.errs) {
		err = p.errs[i]
	}
	var res Result
	if i < len(p.results) {
		res = p.results[i]
	}
	return res, err
}

type captureRec struct {
	outcomes []string
}

func (r *captureRec) RecordJob(outcome, _ string) { r.outcomes = append(r.outcomes, outcome) }

func testJob() CallJob {
	return CallJob{
		JobID: "job-1", ContactID: "c1", CampaignID: "camp-1", ScriptID: "s1",
		Attempt: 1, MaxAttempts: 3, BackoffBase: 30 * time.Minute,
	}
}

func TestWorkerRetriesWithExponentialBackoff(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1700000000, 0).UTC()
	q := &memQueue{now: now}
	proc := &scriptedProc{errs: []error{errors.New("dial failed"), errors.New("dial failed"), nil}, results: []Result{{}, {}, {Outcome: OutcomeDone}}}
	rec := &captureRec{}
	w := NewWorker(q, proc, slog.Default()).WithRecorder(rec).WithClock(func() time.Time { return now })

	if err := q.Enqueue(ctx, testJob(), 0); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	// Attempt 1 fails; retry due in BackoffBase.
	if n, err := w.Tick(ctx); err != nil || n != 1 {
		t.Fatalf("tick 1: n=%d err=%v", n, err)
	}
	pend := q.pending()
	if len(pend) != 1 || pend[0].job.Attempt != 2 {
		t.Fatalf("expected retry with attempt=2, got %+v", pend)
	}
	if got := pend[0].due.Sub(now); got != 30*time.Minute {
		t.Fatalf("first backoff = %v, want 30m", got)
	}

	// Attempt 2 fails; backoff doubles.
	now = now.Add(30 * time.Minute)
	if _, err := w.Tick(ctx); err != nil {
		t.Fatalf("tick 2: %v", err)
	}
	pend = q.pending()
	if len(pend) != 1 || pend[0].job.Attempt != 3 {
		t.Fatalf("expected retry with attempt=3, got %+v", pend)
	}
	if got := pend[0].due.Sub(now); got != 60*time.Minute {
		t.Fatalf("second backoff = %v, want 60m", got)
	}

	// Attempt 3 succeeds; queue drains.
	now = now.Add(60 * time.Minute)
	if _, err := w.Tick(ctx); err != nil {
		t.Fatalf("tick 3: %v", err)
	}
	if len(q.pending()) != 0 {
		t.Fatalf("queue should be empty, got %+v", q.pending())
	}
	want := []string{"failed", "failed", "done"}
	if len(rec.outcomes) != 3 || rec.outcomes[0] != want[0] || rec.outcomes[1] != want[1] || rec.outcomes[2] != want[2] {
		t.Fatalf("outcomes = %v, want %v", rec.outcomes, want)
	}
}

func TestWorkerDropsJobAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1700000000, 0).UTC()
	q := &memQueue{now: now}
	proc := &scriptedProc{errs: []error{errors.New("boom")}}
	rec := &captureRec{}
	w := NewWorker(q, proc, slog.Default()).WithRecorder(rec).WithClock(func() time.Time { return now })

	job := testJob()
	job.Attempt = 3 // already on the last attempt
	if err := q.Enqueue(ctx, job, 0); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := w.Tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(q.pending()) != 0 {
		t.Fatalf("exhausted job must not be requeued")
	}
	if len(rec.outcomes) != 1 || rec.outcomes[0] != "exhausted" {
		t.Fatalf("outcomes = %v, want [exhausted]", rec.outcomes)
	}
}

func TestWorkerParksWithoutConsumingAttempt(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1700000000, 0).UTC()
	q := &memQueue{now: now}
	proc := &scriptedProc{results: []Result{{Outcome: OutcomeParked, RetryIn: 2 * time.Hour, Detail: "outside_hours"}}}
	w := NewWorker(q, proc, slog.Default()).WithClock(func() time.Time { return now })

	if err := q.Enqueue(ctx, testJob(), 0); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := w.Tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}
	pend := q.pending()
	if len(pend) != 1 {
		t.Fatalf("parked job must be requeued, got %+v", pend)
	}
	if pend[0].job.Attempt != 1 {
		t.Fatalf("parking consumed an attempt: %+v", pend[0].job)
	}
	if got := pend[0].due.Sub(now); got != 2*time.Hour {
		t.Fatalf("park delay = %v, want 2h", got)
	}
}

func TestWorkerSkippedJobIsNotRetried(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1700000000, 0).UTC()
	q := &memQueue{now: now}
	proc := &scriptedProc{results: []Result{{Outcome: OutcomeSkipped, Detail: "dnc"}}}
	w := NewWorker(q, proc, slog.Default()).WithClock(func() time.Time { return now })

	if err := q.Enqueue(ctx, testJob(), 0); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := w.Tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(q.pending()) != 0 {
		t.Fatalf("skipped job must not be requeued")
	}
}

func TestWorkerAcksHandledJobs(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1700000000, 0).UTC()
	q := &memQueue{now: now}
	proc := &scriptedProc{results: []Result{{Outcome: OutcomeDone}}}
	w := NewWorker(q, proc, slog.Default()).WithClock(func() time.Time { return now })

	if err := q.Enqueue(ctx, testJob(), 0); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := w.Tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(q.pending()) != 0 || len(q.inFlight()) != 0 {
		t.Fatalf("handled job must be acked: pending=%d inflight=%d", len(q.pending()), len(q.inFlight()))
	}
}

func TestWorkerRedeliversUnackedJob(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1700000000, 0).UTC()
	q := &memQueue{now: now}

	if err := q.Enqueue(ctx, testJob(), 0); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	// A worker claims the job and dies before acking.
	claimed, err := q.ClaimDue(ctx, now, 10)
	if err != nil || len(claimed) != 1 {
		t.Fatalf("claim: n=%d err=%v", len(claimed), err)
	}

	// Before the visibility deadline nothing is due.
	proc := &scriptedProc{results: []Result{{Outcome: OutcomeDone}}}
	w := NewWorker(q, proc, slog.Default()).WithClock(func() time.Time { return now })
	if _, err := w.Tick(ctx); err != nil {
		t.Fatalf("early tick: %v", err)
	}
	if len(proc.calls) != 0 {
		t.Fatalf("claimed job must stay invisible until the deadline")
	}

	// Past the deadline a healthy worker picks it up again.
	now = now.Add(memVisibility + time.Second)
	if _, err := w.Tick(ctx); err != nil {
		t.Fatalf("late tick: %v", err)
	}
	if len(proc.calls) != 1 || proc.calls[0].JobID != "job-1" {
		t.Fatalf("expected redelivery, got %d calls", len(proc.calls))
	}
	if len(q.inFlight()) != 0 {
		t.Fatalf("redelivered job must be acked after handling")
	}
}

func TestWorkerParkFailureKeepsJobInFlight(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1700000000, 0).UTC()
	q := &memQueue{now: now}
	proc := &scriptedProc{results: []Result{{Outcome: OutcomeParked, RetryIn: time.Hour, Detail: "outside_hours"}}}
	w := NewWorker(q, proc, slog.Default()).WithClock(func() time.Time { return now })

	if err := q.Enqueue(ctx, testJob(), 0); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	q.enqueueErr = errors.New("redis down")
	if _, err := w.Tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}
	// The park requeue failed, so the claimed copy must survive for
	// redelivery instead of being acked away.
	if len(q.inFlight()) != 1 {
		t.Fatalf("job lost on park failure: inflight=%d", len(q.inFlight()))
	}
}

func TestWorkerIgnoresJobsNotYetDue(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1700000000, 0).UTC()
	q := &memQueue{now: now}
	proc := &scriptedProc{}
	w := NewWorker(q, proc, slog.Default()).WithClock(func() time.Time { return now })

	if err := q.Enqueue(ctx, testJob(), time.Minute); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	n, err := w.Tick(ctx)
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if n != 0 || len(proc.calls) != 0 {
		t.Fatalf("future job must not be claimed: n=%d calls=%d", n, len(proc.calls))
	}
}

func TestNextBackoffDoubles(t *testing.T) {
	j := testJob()
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 30 * time.Minute},
		{2, 60 * time.Minute},
		{3, 120 * time.Minute},
	}
	for _, tc := range cases {
		j.Attempt = tc.attempt
		if got := j.NextBackoff(); got != tc.want {
			t.Fatalf("attempt %d: backoff %v, want %v", tc.attempt, got, tc.want)
		}
	}
}
