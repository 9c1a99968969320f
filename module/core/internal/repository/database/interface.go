package database

import (
	"context"

	"github.com/Mattboss10/ProjectCleanFlow/module/core/domain"
)

// AreaStore is a realtime push store keyed under reportedAreas.
type AreaStore interface {
	Put(ctx context.Context, id string, rec domain.AreaRecord) error
	// Remove deletes id. Removing an unknown id is not an error.
	Remove(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*domain.AreaRecord, error)
	List(ctx context.Context) (map[string]domain.AreaRecord, error)
	// Watch calls onChange after any write under the collection, not per
	// record, and blocks until ctx is done or the watch fails.
	Watch(ctx context.Context, onChange func()) error
}
