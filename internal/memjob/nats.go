package memjob

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NATSQueue publishes jobs as JSON on a NATS subject. Consumers in the same
// queue group share the work.
type NATSQueue struct {
	nc      *nats.Conn
	owned   bool
	subject string
	group   string
	timeout time.Duration
	log     *zap.Logger

	mu   sync.Mutex
	subs []*nats.Subscription
}

// DialNATS connects to cfg.NATSURL.
func DialNATS(cfg Config, log *zap.Logger) (*NATSQueue, error) {
	nc, err := nats.Connect(cfg.NATSURL,
		nats.Name("lectio"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, err
	}
	q := NewNATSQueue(nc, cfg, log)
	q.owned = true
	return q, nil
}

// NewNATSQueue uses an existing connection. Close does not close nc.
func NewNATSQueue(nc *nats.Conn, cfg Config, log *zap.Logger) *NATSQueue {
	def := DefaultConfig()
	if cfg.Subject == "" {
		cfg.Subject = def.Subject
	}
	if cfg.QueueGroup == "" {
		cfg.QueueGroup = def.QueueGroup
	}
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = def.HandlerTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &NATSQueue{
		nc:      nc,
		subject: cfg.Subject,
		group:   cfg.QueueGroup,
		timeout: cfg.HandlerTimeout,
		log:     log,
	}
}

// Enqueue publishes the job. Delivery is at-most-once.
func (q *NATSQueue) Enqueue(_ context.Context, job Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal memory job: %w", err)
	}
	if err := q.nc.Publish(q.subject, data); err != nil {
		return fmt.Errorf("publish memory job: %w", err)
	}
	return nil
}

// Consume subscribes h in the queue group. Messages on one subscription are
// handled one at a time.
func (q *NATSQueue) Consume(h Handler) error {
	sub, err := q.nc.QueueSubscribe(q.subject, q.group, func(msg *nats.Msg) {
		var job Job
		if err := json.Unmarshal(msg.Data, &job); err != nil {
			q.log.Warn("dropping malformed memory job", zap.String("subject", msg.Subject), zap.Error(err))
			return
		}
		runHandler(h, job, q.timeout, q.log)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", q.subject, err)
	}
	if err := q.nc.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return fmt.Errorf("flush subscription: %w", err)
	}

	q.mu.Lock()
	q.subs = append(q.subs, sub)
	q.mu.Unlock()
	return nil
}

// Close drains subscriptions and, for connections opened by DialNATS,
// closes the connection after flushing pending publishes.
func (q *NATSQueue) Close() error {
	q.mu.Lock()
	subs := q.subs
	q.subs = nil
	q.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Drain(); err != nil {
			q.log.Warn("drain memory job subscription", zap.Error(err))
		}
	}
	if !q.owned {
		return nil
	}
	if err := q.nc.Flush(); err != nil {
		q.log.Warn("flush nats connection", zap.Error(err))
	}
	q.nc.Close()
	return nil
}
