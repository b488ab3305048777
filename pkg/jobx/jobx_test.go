package jobx

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Abraxas-365/bastion/pkg/errx"
)

// memQueue is a minimal in-process Queue.
type memQueue struct {
	mu       sync.Mutex
	jobs     map[string]*JobInfo
	ready    []string
	retried  []string
	failed   []string
	complete []string
	next     int
}

func newMemQueue() *memQueue { return &memQueue{jobs: map[string]*JobInfo{}} }

func (q *memQueue) Enqueue(_ context.Context, job Job) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.next++
	id := string(rune('a' + q.next))
	q.jobs[id] = &JobInfo{ID: id, Type: job.Type, Queue: job.Queue, Payload: job.Payload, MaxRetries: job.MaxRetries}
	q.ready = append(q.ready, id)
	return id, nil
}

func (q *memQueue) GetJob(_ context.Context, id string) (*JobInfo, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.jobs[id], nil
}

func (q *memQueue) Dequeue(_ context.Context, _ []string, _ time.Duration) (*JobInfo, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.ready) == 0 {
		return nil, nil
	}
	id := q.ready[0]
	q.ready = q.ready[1:]
	q.jobs[id].Attempts++
	return q.jobs[id], nil
}

func (q *memQueue) Complete(_ context.Context, id string, _ []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.complete = append(q.complete, id)
	return nil
}

func (q *memQueue) Fail(_ context.Context, id string, _ string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.failed = append(q.failed, id)
	return q.jobs[id].Attempts < q.jobs[id].MaxRetries, nil
}

func (q *memQueue) Retry(_ context.Context, id string, _ time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.retried = append(q.retried, id)
	return nil
}

func (q *memQueue) PromoteScheduled(context.Context, []string) error { return nil }

type mailPayload struct {
	To string `json:"to"`
}

func TestEnqueueDefaults(t *testing.T) {
	q := newMemQueue()
	c := NewClient(q, WithQueues("mail"))

	job, err := NewJob("send", mailPayload{To: "a@example.com"})
	if err != nil {
		t.Fatalf("NewJob: %v", err)
	}
	id, err := c.Enqueue(context.Background(), job)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	info, _ := q.GetJob(context.Background(), id)
	if info.Queue != "mail" || info.MaxRetries != 3 {
		t.Fatalf("unexpected defaults %+v", info)
	}

	var p mailPayload
	if err := info.Decode(&p); err != nil || p.To != "a@example.com" {
		t.Fatalf("Decode = %+v, %v", p, err)
	}
}

func TestEnqueueRejectsMissingType(t *testing.T) {
	c := NewClient(newMemQueue())
	if _, err := c.Enqueue(context.Background(), Job{}); !errx.IsCode(err, ErrInvalidJob) {
		t.Fatalf("expected invalid job, got %v", err)
	}
}

func TestProcessJob(t *testing.T) {
	q := newMemQueue()
	outcomes := map[string]string{}
	c := NewClient(q, WithObserver(func(jobType, outcome string, _ time.Duration) {
		outcomes[jobType] = outcome
	}))
	c.Register("ok", func(context.Context, *JobInfo) error { return nil })
	c.Register("boom", func(context.Context, *JobInfo) error { return errors.New("boom") })
	ctx := context.Background()

	okID, _ := c.Enqueue(ctx, Job{Type: "ok"})
	boomID, _ := c.Enqueue(ctx, Job{Type: "boom"})
	strayID, _ := c.Enqueue(ctx, Job{Type: "unknown"})

	for i := 0; i < 3; i++ {
		job, _ := q.Dequeue(ctx, nil, 0)
		c.processJob(ctx, job)
	}

	want := map[string]string{"ok": OutcomeCompleted, "boom": OutcomeRetrying, "unknown": OutcomeFailed}
	for typ, outcome := range want {
		if outcomes[typ] != outcome {
			t.Errorf("outcome[%s] = %q, want %q", typ, outcomes[typ], outcome)
		}
	}

	if len(q.complete) != 1 || q.complete[0] != okID {
		t.Fatalf("completed = %v", q.complete)
	}
	if len(q.retried) != 1 || q.retried[0] != boomID {
		t.Fatalf("retried = %v", q.retried)
	}
	if len(q.failed) != 2 || q.failed[1] != strayID {
		t.Fatalf("failed = %v", q.failed)
	}
}

func TestStartStopsOnCancel(t *testing.T) {
	q := newMemQueue()
	c := NewClient(q, WithConcurrency(1), WithPollInterval(time.Millisecond), WithShutdownTimeout(time.Second))

	done := make(chan struct{})
	c.Register("ping", func(context.Context, *JobInfo) error {
		close(done)
		return nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	if _, err := c.Enqueue(ctx, Job{Type: "ping"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	errc := make(chan error, 1)
	go func() { errc <- c.Start(ctx) }()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job was not processed")
	}
	cancel()
	if err := <-errc; err != nil {
		t.Fatalf("Start: %v", err)
	}
}

func TestHandlerPanicFailsAttempt(t *testing.T) {
	q := newMemQueue()
	c := NewClient(q)
	c.Register("panics", func(context.Context, *JobInfo) error { panic("nil map") })
	ctx := context.Background()

	id, _ := c.Enqueue(ctx, Job{Type: "panics", MaxRetries: 1})
	job, _ := q.Dequeue(ctx, nil, 0)
	c.processJob(ctx, job)

	if len(q.failed) != 1 || q.failed[0] != id {
		t.Fatalf("failed = %v", q.failed)
	}
	if len(q.retried) != 0 {
		t.Fatalf("last attempt must not be retried, got %v", q.retried)
	}
}

func TestRetryDelayBacksOff(t *testing.T) {
	c := NewClient(newMemQueue(), WithDefaultRetryDelay(time.Second), WithMaxRetryDelay(5*time.Second))
	cases := map[int]time.Duration{1: time.Second, 2: 2 * time.Second, 3: 4 * time.Second, 4: 5 * time.Second, 10: 5 * time.Second}
	for attempt, want := range cases {
		if got := c.retryDelay(attempt); got != want {
			t.Errorf("retryDelay(%d) = %s, want %s", attempt, got, want)
		}
	}
}
