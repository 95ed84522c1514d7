// Package memjob carries "memory jobs" from finished reading sessions to a
// consumer that folds them into the reader's compact state.
package memjob

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/abhisek/lectio/internal/reading"
)

// ErrQueueFull is returned by MemoryQueue.Enqueue when the buffer is full.
var ErrQueueFull = errors.New("memory job queue is full")

// ErrClosed is returned after Close.
var ErrClosed = errors.New("memory job queue is closed")

// Job asks the consumer to update the compact state of UserID on ContentID
// with what happened in SessionID.
type Job struct {
	UserID     string           `json:"user_id"`
	ContentID  string           `json:"content_id"`
	SessionID  string           `json:"session_id"`
	Outcome    *reading.Outcome `json:"outcome,omitempty"`
	EnqueuedAt time.Time        `json:"enqueued_at"`
}

// Handler processes one job.
type Handler func(ctx context.Context, job Job) error

// Queue is a fire-and-forget job transport.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	// Consume starts delivering jobs to h in the background until Close.
	Consume(h Handler) error
	Close() error
}

// Config selects the transport. An empty NATSURL selects the in-process
// queue.
type Config struct {
	NATSURL        string        `koanf:"nats_url"`
	Subject        string        `koanf:"subject"`
	QueueGroup     string        `koanf:"queue_group"`
	Buffer         int           `koanf:"buffer"`
	HandlerTimeout time.Duration `koanf:"handler_timeout"`
	// Consume runs the consumer inside the serving process.
	Consume bool `koanf:"consume"`
}

// DefaultConfig returns the in-process queue settings.
func DefaultConfig() Config {
	return Config{
		Subject:        "lectio.memory.jobs",
		QueueGroup:     "lectio-memjob",
		Buffer:         256,
		HandlerTimeout: time.Minute,
		Consume:        true,
	}
}

// New returns a NATSQueue when cfg.NATSURL is set and a MemoryQueue
// otherwise.
func New(cfg Config, log *zap.Logger) (Queue, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.NATSURL == "" {
		log.Info("using in-process memory job queue")
		return NewMemoryQueue(cfg, log), nil
	}
	q, err := DialNATS(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	log.Info("using nats memory job queue", zap.String("url", cfg.NATSURL), zap.String("subject", q.subject))
	return q, nil
}

// MemoryQueue is a buffered in-process Queue.
type MemoryQueue struct {
	jobs    chan Job
	done    chan struct{}
	timeout time.Duration
	log     *zap.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewMemoryQueue creates a MemoryQueue with cfg.Buffer slots.
func NewMemoryQueue(cfg Config, log *zap.Logger) *MemoryQueue {
	if cfg.Buffer <= 0 {
		cfg.Buffer = DefaultConfig().Buffer
	}
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = DefaultConfig().HandlerTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &MemoryQueue{
		jobs:    make(chan Job, cfg.Buffer),
		done:    make(chan struct{}),
		timeout: cfg.HandlerTimeout,
		log:     log,
	}
}

// Enqueue never blocks: a full buffer drops the job with ErrQueueFull.
func (q *MemoryQueue) Enqueue(_ context.Context, job Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case q.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *MemoryQueue) Consume(h Handler) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		for {
			select {
			case <-q.done:
				return
			case job := <-q.jobs:
				runHandler(h, job, q.timeout, q.log)
			}
		}
	}()
	return nil
}

// Close stops consumers and waits for the job in flight. Jobs still
// buffered are dropped.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.done)
	q.mu.Unlock()

	q.wg.Wait()
	return nil
}

func runHandler(h Handler, job Job, timeout time.Duration, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			log.Error("memory job handler panicked", zap.String("session_id", job.SessionID), zap.Any("panic", r))
		}
	}()
	if err := h(ctx, job); err != nil {
		log.Warn("memory job failed",
			zap.String("session_id", job.SessionID),
			zap.String("user_id", job.UserID),
			zap.Error(err))
	}
}
