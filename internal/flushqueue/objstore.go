package flushqueue

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/lakegate/lakegate/internal/delta"
	"github.com/lakegate/lakegate/internal/flush"
	"github.com/lakegate/lakegate/internal/objstore"
	"github.com/lakegate/lakegate/internal/schema"
)

// Job is the document an object-store queue writes for each published
// batch. An external polling consumer processes and deletes it.
type Job struct {
	GatewayID string               `json:"gatewayId"`
	CreatedAt time.Time            `json:"createdAt"`
	Entries   []delta.RowDelta     `json:"entries"`
	Schemas   []schema.TableSchema `json:"schemas,omitempty"`
}

// ObjectStore writes each batch under
// materialise-jobs/{gatewayId}/{unixMs}-{rand}.json.
type ObjectStore struct {
	store  objstore.Adapter
	logger *slog.Logger

	// now and randHex are pinned in tests for deterministic keys.
	now     func() time.Time
	randHex func() string
}

func NewObjectStore(store objstore.Adapter, logger *slog.Logger) *ObjectStore {
	if logger == nil {
		logger = slog.Default()
	}

	return &ObjectStore{
		store:   store,
		logger:  logger,
		now:     time.Now,
		randHex: randHex32,
	}
}

func (q *ObjectStore) Publish(ctx context.Context, entries []delta.RowDelta, meta flush.QueueMetadata) error {
	if len(entries) == 0 {
		return nil
	}

	job := Job{
		GatewayID: meta.GatewayID,
		CreatedAt: q.now().UTC(),
		Entries:   entries,
		Schemas:   meta.Schemas,
	}
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("flushqueue: marshal job: %w", err)
	}

	key := fmt.Sprintf("materialise-jobs/%s/%d-%s.json", meta.GatewayID, q.now().UnixMilli(), q.randHex())
	if err := q.store.Put(ctx, key, data, "application/json"); err != nil {
		return fmt.Errorf("flushqueue: write job: %w", err)
	}

	q.logger.Debug("flushqueue: job written", slog.String("key", key), slog.Int("entries", len(entries)))

	return nil
}

// randHex32 returns 128 random bits as 32 hex characters.
func randHex32() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand does not fail on supported platforms; a zero
		// suffix still yields a unique key via the millisecond stamp.
		return "00000000000000000000000000000000"
	}

	return hex.EncodeToString(b[:])
}

var _ flush.Queue = (*ObjectStore)(nil)
