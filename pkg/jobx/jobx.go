package jobx

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Abraxas-365/bastion/pkg/logx"
)

// HandlerFunc processes a job. A returned error fails the attempt and may
// schedule a retry.
type HandlerFunc func(ctx context.Context, job *JobInfo) error

// Enqueuer is what producers depend on.
type Enqueuer interface {
	Enqueue(ctx context.Context, job Job) (string, error)
}

// Queue is a storage backend. Dequeue returns nil, nil when nothing became
// ready within timeout. Fail reports whether attempts remain.
type Queue interface {
	Enqueue(ctx context.Context, job Job) (string, error)
	Dequeue(ctx context.Context, queues []string, timeout time.Duration) (*JobInfo, error)
	Complete(ctx context.Context, jobID string, result []byte) error
	Fail(ctx context.Context, jobID string, errMsg string) (retry bool, err error)
	Retry(ctx context.Context, jobID string, delay time.Duration) error
	PromoteScheduled(ctx context.Context, queues []string) error
}

// Outcomes passed to an Observer.
const (
	OutcomeCompleted = "completed"
	OutcomeRetrying  = "retrying"
	OutcomeFailed    = "failed"
)

// Observer is told about every processed job.
type Observer func(jobType, outcome string, elapsed time.Duration)

// Client registers handlers, enqueues jobs and runs the worker pool.
type Client struct {
	queue    Queue
	opts     WorkerOptions
	handlers map[string]HandlerFunc
	mu       sync.RWMutex
	running  bool
}

func NewClient(queue Queue, options ...WorkerOption) *Client {
	opts := defaultWorkerOptions()
	for _, o := range options {
		o(&opts)
	}
	return &Client{
		queue:    queue,
		opts:     opts,
		handlers: make(map[string]HandlerFunc),
	}
}

// Register adds a handler for a job type. Registering a type twice
// replaces the previous handler.
func (c *Client) Register(jobType string, handler HandlerFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[jobType] = handler
}

// Enqueue fills in queue and retry defaults and hands the job to the backend.
func (c *Client) Enqueue(ctx context.Context, job Job) (string, error) {
	if job.Type == "" {
		return "", jobxErrors.New(ErrInvalidJob).WithDetail("reason", "missing type")
	}
	if job.Queue == "" {
		job.Queue = c.opts.Queues[0]
	}
	if job.MaxRetries == 0 {
		job.MaxRetries = 3
	}
	id, err := c.queue.Enqueue(ctx, job)
	if err != nil {
		return "", err
	}
	logx.WithContext(ctx).WithFields(logx.Fields{"job_id": id, "job_type": job.Type, "queue": job.Queue}).Debug("jobx: enqueued")
	return id, nil
}

// Start runs the scheduler and Concurrency workers until ctx is cancelled,
// then waits up to ShutdownTimeout for in-flight jobs.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return jobxErrors.New(ErrAlreadyRunning)
	}
	c.running = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	logx.Infof("jobx: starting %d workers on queues %v", c.opts.Concurrency, c.opts.Queues)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.schedulerLoop(ctx)
	}()
	for i := 0; i < c.opts.Concurrency; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			c.workerLoop(ctx, id)
		}(i)
	}

	<-ctx.Done()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		logx.Info("jobx: all workers stopped")
	case <-time.After(c.opts.ShutdownTimeout):
		logx.Warn("jobx: shutdown timed out, some jobs may not have completed")
	}
	return nil
}

func (c *Client) schedulerLoop(ctx context.Context) {
	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.queue.PromoteScheduled(ctx, c.opts.Queues); err != nil && ctx.Err() == nil {
				logx.WithError(err).Warn("jobx: failed to promote scheduled jobs")
			}
		}
	}
}

func (c *Client) workerLoop(ctx context.Context, id int) {
	for ctx.Err() == nil {
		job, err := c.queue.Dequeue(ctx, c.opts.Queues, c.opts.DequeueTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logx.WithError(err).Warnf("jobx: worker %d dequeue error", id)
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.opts.PollInterval):
			}
			continue
		}
		if job != nil {
			c.processJob(ctx, job)
		}
	}
}

func (c *Client) processJob(ctx context.Context, job *JobInfo) {
	start := time.Now()
	log := logx.WithFields(logx.Fields{"job_id": job.ID, "job_type": job.Type, "attempt": job.Attempts})

	c.mu.RLock()
	handler, ok := c.handlers[job.Type]
	c.mu.RUnlock()

	if !ok {
		log.Warn("jobx: no handler registered")
		if _, err := c.queue.Fail(ctx, job.ID, "no handler registered for job type"); err != nil {
			log.WithError(err).Error("jobx: failed to mark job as failed")
		}
		c.observe(job.Type, OutcomeFailed, start)
		return
	}

	if err := runHandler(ctx, handler, job); err != nil {
		log.WithError(err).Warn("jobx: job failed")

		retry, failErr := c.queue.Fail(ctx, job.ID, err.Error())
		if failErr != nil {
			log.WithError(failErr).Error("jobx: failed to mark job as failed")
			c.observe(job.Type, OutcomeFailed, start)
			return
		}
		if !retry {
			c.observe(job.Type, OutcomeFailed, start)
			return
		}
		if err := c.queue.Retry(ctx, job.ID, c.retryDelay(job.Attempts)); err != nil {
			log.WithError(err).Error("jobx: failed to schedule retry")
		}
		c.observe(job.Type, OutcomeRetrying, start)
		return
	}

	if err := c.queue.Complete(ctx, job.ID, nil); err != nil {
		log.WithError(err).Error("jobx: failed to complete job")
	}
	c.observe(job.Type, OutcomeCompleted, start)
}

// runHandler turns a handler panic into a failed attempt.
func runHandler(ctx context.Context, h HandlerFunc, job *JobInfo) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("jobx: handler panic: %v", r)
		}
	}()
	return h(ctx, job)
}

// retryDelay doubles DefaultRetryDelay per attempt, capped at MaxRetryDelay.
func (c *Client) retryDelay(attempt int) time.Duration {
	d := c.opts.DefaultRetryDelay
	for i := 1; i < attempt && d < c.opts.MaxRetryDelay; i++ {
		d *= 2
	}
	return min(d, c.opts.MaxRetryDelay)
}

func (c *Client) observe(jobType, outcome string, start time.Time) {
	if c.opts.Observer != nil {
		c.opts.Observer(jobType, outcome, time.Since(start))
	}
}
