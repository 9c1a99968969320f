package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/Mattboss10/ProjectCleanFlow/module/core/domain"
	"github.com/Mattboss10/ProjectCleanFlow/module/core/internal/repository/database"
)

var _ database.AreaStore = (*AreaRepo)(nil)

// ChangedChannel carries the id of every written or removed area.
const ChangedChannel = domain.AreaCollection + ":changed"

// AreaRepo keeps each record as a field of the reportedAreas hash.
type AreaRepo struct {
	client *goredis.Client
}

func NewAreaRepo(client *goredis.Client) *AreaRepo {
	return &AreaRepo{client: client}
}

func (r *AreaRepo) Put(ctx context.Context, id string, rec domain.AreaRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal area: %w", err)
	}

	pipe := r.client.Pipeline()
	pipe.HSet(ctx, domain.AreaCollection, id, body)
	pipe.Publish(ctx, ChangedChannel, id)
	_, err = pipe.Exec(ctx)
	return err
}

func (r *AreaRepo) Remove(ctx context.Context, id string) error {
	pipe := r.client.Pipeline()
	pipe.HDel(ctx, domain.AreaCollection, id)
	pipe.Publish(ctx, ChangedChannel, id)
	_, err := pipe.Exec(ctx)
	return err
}

func (r *AreaRepo) Get(ctx context.Context, id string) (*domain.AreaRecord, error) {
	body, err := r.client.HGet(ctx, domain.AreaCollection, id).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, domain.ErrAreaNotFound
		}
		return nil, err
	}

	var rec domain.AreaRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, fmt.Errorf("decode area %s: %w", id, err)
	}
	return &rec, nil
}

func (r *AreaRepo) List(ctx context.Context) (map[string]domain.AreaRecord, error) {
	fields, err := r.client.HGetAll(ctx, domain.AreaCollection).Result()
	if err != nil {
		return nil, err
	}

	results := make(map[string]domain.AreaRecord, len(fields))
	for id, body := range fields {
		var rec domain.AreaRecord
		if err := json.Unmarshal([]byte(body), &rec); err != nil {
			continue
		}
		results[id] = rec
	}
	return results, nil
}

func (r *AreaRepo) Watch(ctx context.Context, onChange func()) error {
	sub := r.client.Subscribe(ctx, ChangedChannel)
	defer func() { _ = sub.Close() }()

	// wait for the subscription to be confirmed before the initial read
	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("subscribe %s: %w", ChangedChannel, err)
	}
	onChange()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-ch:
			if !ok {
				return fmt.Errorf("subscription %s closed", ChangedChannel)
			}
			onChange()
		}
	}
}
