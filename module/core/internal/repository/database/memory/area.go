package memory

import (
	"context"
	"sync"

	"github.com/Mattboss10/ProjectCleanFlow/module/core/domain"
	"github.com/Mattboss10/ProjectCleanFlow/module/core/internal/repository/database"
)

var _ database.AreaStore = (*AreaRepo)(nil)

// AreaRepo is a process-local store. Watchers are called synchronously from
// the writing goroutine, after the write is visible.
type AreaRepo struct {
	mu       sync.RWMutex
	records  map[string]domain.AreaRecord
	watchers map[int]func()
	nextID   int
}

func NewAreaRepo() *AreaRepo {
	return &AreaRepo{
		records:  make(map[string]domain.AreaRecord),
		watchers: make(map[int]func()),
	}
}

func (r *AreaRepo) Put(_ context.Context, id string, rec domain.AreaRecord) error {
	r.mu.Lock()
	r.records[id] = rec
	r.mu.Unlock()
	r.notify()
	return nil
}

func (r *AreaRepo) Remove(_ context.Context, id string) error {
	r.mu.Lock()
	delete(r.records, id)
	r.mu.Unlock()
	r.notify()
	return nil
}

func (r *AreaRepo) Get(_ context.Context, id string) (*domain.AreaRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[id]
	if !ok {
		return nil, domain.ErrAreaNotFound
	}
	return &rec, nil
}

func (r *AreaRepo) List(_ context.Context) (map[string]domain.AreaRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]domain.AreaRecord, len(r.records))
	for id, rec := range r.records {
		out[id] = rec
	}
	return out, nil
}

func (r *AreaRepo) Watch(ctx context.Context, onChange func()) error {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.watchers[id] = onChange
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.watchers, id)
		r.mu.Unlock()
	}()

	onChange()
	<-ctx.Done()
	return nil
}

func (r *AreaRepo) notify() {
	r.mu.RLock()
	fns := make([]func(), 0, len(r.watchers))
	for _, fn := range r.watchers {
		fns = append(fns, fn)
	}
	r.mu.RUnlock()

	for _, fn := range fns {
		fn()
	}
}
