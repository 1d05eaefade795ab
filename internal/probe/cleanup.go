package probe

import (
	"context"
	"fmt"
	"time"

	"relaywatch/internal/store"
)

const defaultRetentionDays = 30

// CleanupStore is the slice of storage retention cleanup touches.
type CleanupStore interface {
	GlobalSource
	DeleteProbeRecordsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// RetentionCleaner deletes probe history older than the configured
// retention window.
type RetentionCleaner struct {
	store CleanupStore
}

func NewRetentionCleaner(st CleanupStore) *RetentionCleaner {
	return &RetentionCleaner{store: st}
}

// CleanupOldData reads the retention setting and deletes everything older
// than now minus that many days. It returns the number of deleted records.
func (c *RetentionCleaner) CleanupOldData(ctx context.Context) (int64, error) {
	days := globalInt(ctx, c.store, store.GlobalDataRetentionDays, defaultRetentionDays)
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	deleted, err := c.store.DeleteProbeRecordsBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old probe records: %w", err)
	}
	return deleted, nil
}
