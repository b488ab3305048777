package jobx

import "time"

// WorkerOptions configures the job processing client.
type WorkerOptions struct {
	Queues            []string
	Concurrency       int
	PollInterval      time.Duration
	ShutdownTimeout   time.Duration
	DequeueTimeout    time.Duration
	DefaultRetryDelay time.Duration
	MaxRetryDelay     time.Duration
	Observer          Observer
}

func defaultWorkerOptions() WorkerOptions {
	return WorkerOptions{
		Queues:            []string{"default"},
		Concurrency:       4,
		PollInterval:      time.Second,
		ShutdownTimeout:   30 * time.Second,
		DequeueTimeout:    5 * time.Second,
		DefaultRetryDelay: 30 * time.Second,
		MaxRetryDelay:     15 * time.Minute,
	}
}

type WorkerOption func(*WorkerOptions)

func WithQueues(queues ...string) WorkerOption {
	return func(o *WorkerOptions) {
		if len(queues) > 0 {
			o.Queues = queues
		}
	}
}

func WithConcurrency(n int) WorkerOption {
	return func(o *WorkerOptions) {
		if n > 0 {
			o.Concurrency = n
		}
	}
}

func WithPollInterval(d time.Duration) WorkerOption {
	return func(o *WorkerOptions) {
		if d > 0 {
			o.PollInterval = d
		}
	}
}

func WithShutdownTimeout(d time.Duration) WorkerOption {
	return func(o *WorkerOptions) {
		if d > 0 {
			o.ShutdownTimeout = d
		}
	}
}

func WithDequeueTimeout(d time.Duration) WorkerOption {
	return func(o *WorkerOptions) {
		if d > 0 {
			o.DequeueTimeout = d
		}
	}
}

func WithDefaultRetryDelay(d time.Duration) WorkerOption {
	return func(o *WorkerOptions) {
		if d > 0 {
			o.DefaultRetryDelay = d
		}
	}
}

func WithMaxRetryDelay(d time.Duration) WorkerOption {
	return func(o *WorkerOptions) {
		if d > 0 {
			o.MaxRetryDelay = d
		}
	}
}

// WithObserver reports each processed job, e.g. to metrics.
func WithObserver(fn Observer) WorkerOption {
	return func(o *WorkerOptions) {
		o.Observer = fn
	}
}
