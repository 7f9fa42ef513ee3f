package flushqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/lakegate/lakegate/internal/delta"
	"github.com/lakegate/lakegate/internal/flush"
)

const jobKeyPrefix = "job/"

// storedJob wraps a Job with its delivery attempt count. The count
// lives next to the payload so a rewrite updates both atomically.
type storedJob struct {
	Attempts int `json:"attempts"`
	Job      Job `json:"job"`
}

// Badger is a durable local queue. Publish appends jobs in sequence
// order; a Consumer drains them with at-least-once delivery.
type Badger struct {
	db     *badger.DB
	logger *slog.Logger
	seq    atomic.Uint64
}

// OpenBadger opens or creates the queue directory. An empty path opens
// an in-memory queue.
func OpenBadger(path string, logger *slog.Logger) (*Badger, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("flushqueue: open queue at %q: %w", path, err)
	}

	q := &Badger{db: db, logger: logger}
	if err := q.seedSequence(); err != nil {
		db.Close()
		return nil, err
	}

	return q, nil
}

// seedSequence resumes numbering after the highest persisted job key.
func (q *Badger) seedSequence() error {
	return q.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(jobKeyPrefix)
		it.Seek(append(prefix, 0xff))
		if !it.ValidForPrefix(prefix) {
			return nil
		}

		var last uint64
		if _, err := fmt.Sscanf(string(it.Item().Key()[len(prefix):]), "%016d", &last); err != nil {
			return fmt.Errorf("flushqueue: malformed job key %q: %w", it.Item().Key(), err)
		}
		q.seq.Store(last)

		return nil
	})
}

func (q *Badger) Publish(_ context.Context, entries []delta.RowDelta, meta flush.QueueMetadata) error {
	if len(entries) == 0 {
		return nil
	}

	record := storedJob{Job: Job{
		GatewayID: meta.GatewayID,
		CreatedAt: time.Now().UTC(),
		Entries:   entries,
		Schemas:   meta.Schemas,
	}}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("flushqueue: marshal job: %w", err)
	}

	key := jobKey(q.seq.Add(1))
	if err := q.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	}); err != nil {
		return fmt.Errorf("flushqueue: enqueue job: %w", err)
	}

	q.logger.Debug("flushqueue: job enqueued", slog.String("key", string(key)), slog.Int("entries", len(entries)))

	return nil
}

// Len reports the number of pending jobs.
func (q *Badger) Len() (int, error) {
	count := 0
	err := q.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(jobKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}

		return nil
	})

	return count, err
}

func (q *Badger) Close() error {
	if err := q.db.Close(); err != nil {
		return fmt.Errorf("flushqueue: close queue: %w", err)
	}

	return nil
}

func jobKey(seq uint64) []byte {
	return fmt.Appendf(nil, "%s%016d", jobKeyPrefix, seq)
}

var _ flush.Queue = (*Badger)(nil)

// ConsumerConfig wires a Consumer to its queue and materialisers.
type ConsumerConfig struct {
	Queue         *Badger
	Materialisers []Materialiser
	Logger        *slog.Logger

	// PollInterval is the idle wait between drain passes. Default 1s.
	PollInterval time.Duration

	// MaxAttempts bounds deliveries per job before it is dropped.
	// Default 3.
	MaxAttempts int
}

// Consumer drains the durable queue in publish order. A job is deleted
// only after every materialiser accepts it, so delivery is
// at-least-once; a job that keeps failing is dropped after MaxAttempts.
type Consumer struct {
	queue         *Badger
	materialisers []Materialiser
	logger        *slog.Logger
	pollInterval  time.Duration
	maxAttempts   int
}

func NewConsumer(cfg *ConsumerConfig) (*Consumer, error) {
	if cfg == nil || cfg.Queue == nil {
		return nil, fmt.Errorf("flushqueue: consumer requires a queue")
	}
	if len(cfg.Materialisers) == 0 {
		return nil, fmt.Errorf("flushqueue: consumer requires at least one materialiser")
	}

	c := &Consumer{
		queue:         cfg.Queue,
		materialisers: cfg.Materialisers,
		logger:        cfg.Logger,
		pollInterval:  cfg.PollInterval,
		maxAttempts:   cfg.MaxAttempts,
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.pollInterval <= 0 {
		c.pollInterval = time.Second
	}
	if c.maxAttempts <= 0 {
		c.maxAttempts = 3
	}

	return c, nil
}

// Run polls until the context is cancelled. Cancellation is observed
// between jobs, never mid-materialisation.
func (c *Consumer) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := c.ProcessOnce(ctx); err != nil {
				c.logger.Error("flushqueue: drain pass failed", slog.String("error", err.Error()))
			}
		}
	}
}

// ProcessOnce drains every currently pending job and reports how many
// were delivered.
func (c *Consumer) ProcessOnce(ctx context.Context) (int, error) {
	keys, err := c.pendingKeys()
	if err != nil {
		return 0, err
	}

	processed := 0
	for _, key := range keys {
		if ctx.Err() != nil {
			return processed, ctx.Err()
		}

		delivered, err := c.processJob(ctx, key)
		if err != nil {
			return processed, err
		}
		if delivered {
			processed++
		}
	}

	return processed, nil
}

func (c *Consumer) pendingKeys() ([][]byte, error) {
	var keys [][]byte
	err := c.queue.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(jobKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("flushqueue: list jobs: %w", err)
	}

	return keys, nil
}

// processJob delivers one job. Returns true when the job left the
// queue through successful delivery.
func (c *Consumer) processJob(ctx context.Context, key []byte) (bool, error) {
	var record storedJob
	err := c.queue.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}

		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &record)
		})
	})
	if err == badger.ErrKeyNotFound {
		// Another consumer already handled it.
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("flushqueue: load job %q: %w", key, err)
	}

	if deliverErr := c.deliver(ctx, &record.Job); deliverErr != nil {
		return false, c.recordFailure(key, &record, deliverErr)
	}

	if err := c.queue.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	}); err != nil {
		return false, fmt.Errorf("flushqueue: delete job %q: %w", key, err)
	}

	return true, nil
}

// deliver runs every materialiser with panic recovery, so one bad
// handler cannot crash the consumer loop.
func (c *Consumer) deliver(ctx context.Context, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("flushqueue: panic in materialiser", slog.Any("panic", r))
			err = fmt.Errorf("flushqueue: materialiser panic: %v", r)
		}
	}()

	for _, m := range c.materialisers {
		if err := m.Materialise(ctx, job.Entries, job.Schemas); err != nil {
			return err
		}
	}

	return nil
}

func (c *Consumer) recordFailure(key []byte, record *storedJob, cause error) error {
	record.Attempts++

	if record.Attempts >= c.maxAttempts {
		c.logger.Error("flushqueue: job dropped after repeated failures",
			slog.String("key", string(key)),
			slog.Int("attempts", record.Attempts),
			slog.String("error", cause.Error()))

		if err := c.queue.db.Update(func(txn *badger.Txn) error {
			return txn.Delete(key)
		}); err != nil {
			return fmt.Errorf("flushqueue: drop job %q: %w", key, err)
		}

		return nil
	}

	c.logger.Warn("flushqueue: job delivery failed, will retry",
		slog.String("key", string(key)),
		slog.Int("attempts", record.Attempts),
		slog.String("error", cause.Error()))

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("flushqueue: marshal retry record: %w", err)
	}

	if err := c.queue.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	}); err != nil {
		return fmt.Errorf("flushqueue: requeue job %q: %w", key, err)
	}

	return nil
}
