package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/sirupsen/logrus"

	"github.com/Mattboss10/ProjectCleanFlow/module/core/domain"
	"github.com/Mattboss10/ProjectCleanFlow/module/core/internal/metrics"
	"github.com/Mattboss10/ProjectCleanFlow/module/core/internal/repository/database"
)

const defaultRetryInterval = 5 * time.Second

// AreaService owns reported areas: writes go to the store, reads are served
// from the snapshot the store last pushed.
type AreaService struct {
	store         database.AreaStore
	log           logrus.FieldLogger
	retryInterval time.Duration
	now           func() time.Time
	newID         func() (string, error)

	mu        sync.RWMutex
	snapshot  domain.AreaSet
	primed    chan struct{}
	primeOnce sync.Once

	// refreshMu serializes re-reads so an older listing never overwrites a newer one.
	refreshMu sync.Mutex

	subMu   sync.Mutex
	subs    map[int]func(domain.AreaSet)
	nextSub int
}

func NewAreaService(store database.AreaStore, log logrus.FieldLogger, retryInterval time.Duration) *AreaService {
	if retryInterval <= 0 {
		retryInterval = defaultRetryInterval
	}
	return &AreaService{
		store:         store,
		log:           log,
		retryInterval: retryInterval,
		now:           time.Now,
		newID:         newAreaID,
		snapshot:      domain.AreaSet{},
		primed:        make(chan struct{}),
		subs:          make(map[int]func(domain.AreaSet)),
	}
}

// newAreaID returns a UUIDv7, which sorts by creation time.
func newAreaID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Save stores ring as a new area. Saving the same ring twice creates two areas.
func (s *AreaService) Save(ctx context.Context, ring orb.Ring) (string, error) {
	if err := domain.ValidateRing(ring); err != nil {
		return "", err
	}

	id, err := s.newID()
	if err != nil {
		return "", fmt.Errorf("generate area id: %w", err)
	}

	area := domain.ReportedArea{
		ID:          id,
		Ring:        append(orb.Ring(nil), ring...),
		Centroid:    domain.Centroid(ring),
		CreatedAtMs: s.now().UnixMilli(),
	}
	if err := s.store.Put(ctx, id, area.Record()); err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("put").Inc()
		s.log.WithError(err).WithField("area_id", id).Error("save reported area")
		return "", fmt.Errorf("put area %s: %w: %w", id, domain.ErrTransport, err)
	}

	s.log.WithField("area_id", id).Info("reported area saved")
	return id, nil
}

// Replace rewrites an existing area in place, keeping its id and creation time.
func (s *AreaService) Replace(ctx context.Context, id string, ring orb.Ring) error {
	if id == "" {
		return domain.ErrInvalidID
	}
	if err := domain.ValidateRing(ring); err != nil {
		return err
	}

	rec, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrAreaNotFound) {
			return err
		}
		metrics.StoreErrorsTotal.WithLabelValues("get").Inc()
		return fmt.Errorf("get area %s: %w: %w", id, domain.ErrTransport, err)
	}

	area := domain.ReportedArea{
		ID:          id,
		Ring:        append(orb.Ring(nil), ring...),
		Centroid:    domain.Centroid(ring),
		CreatedAtMs: rec.Timestamp,
	}
	if err := s.store.Put(ctx, id, area.Record()); err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("put").Inc()
		s.log.WithError(err).WithField("area_id", id).Error("replace reported area")
		return fmt.Errorf("put area %s: %w: %w", id, domain.ErrTransport, err)
	}
	return nil
}

// Delete removes id. Unknown ids succeed.
func (s *AreaService) Delete(ctx context.Context, id string) error {
	if id == "" {
		return domain.ErrInvalidID
	}
	if err := s.store.Remove(ctx, id); err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("remove").Inc()
		s.log.WithError(err).WithField("area_id", id).Error("delete reported area")
		return fmt.Errorf("remove area %s: %w: %w", id, domain.ErrTransport, err)
	}
	s.log.WithField("area_id", id).Info("reported area deleted")
	return nil
}

// FetchAll reads the store. On failure it falls back to the last pushed
// snapshot, which is empty before the first push.
func (s *AreaService) FetchAll(ctx context.Context) domain.AreaSet {
	recs, err := s.store.List(ctx)
	if err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("list").Inc()
		s.log.WithError(err).Warn("fetch reported areas, serving last snapshot")
		return s.Snapshot()
	}
	return toAreaSet(recs)
}

func (s *AreaService) Snapshot() domain.AreaSet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot.Clone()
}

// Primed is closed once the first snapshot has been pushed.
func (s *AreaService) Primed() <-chan struct{} {
	return s.primed
}

// Subscribe registers fn for every pushed snapshot, including redundant ones
// with identical content. The returned cancel is safe to call more than once.
func (s *AreaService) Subscribe(fn func(domain.AreaSet)) (cancel func()) {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

// Run keeps the snapshot in sync with the store until ctx is done. A failed
// watch is retried after the retry interval.
func (s *AreaService) Run(ctx context.Context) {
	for {
		err := s.store.Watch(ctx, func() { s.refresh(ctx) })
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			metrics.StoreErrorsTotal.WithLabelValues("watch").Inc()
			s.log.WithError(err).Warn("area store watch failed, retrying")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.retryInterval):
		}
	}
}

func (s *AreaService) refresh(ctx context.Context) {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	recs, err := s.store.List(ctx)
	if err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("list").Inc()
		s.log.WithError(err).Warn("refresh reported areas, keeping stale snapshot")
		return
	}
	snap := toAreaSet(recs)

	s.mu.Lock()
	s.snapshot = snap
	s.mu.Unlock()
	s.primeOnce.Do(func() { close(s.primed) })
	metrics.SnapshotAreas.Set(float64(len(snap)))

	s.subMu.Lock()
	fns := make([]func(domain.AreaSet), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn(snap.Clone())
	}
}

func toAreaSet(recs map[string]domain.AreaRecord) domain.AreaSet {
	out := make(domain.AreaSet, len(recs))
	for key, rec := range recs {
		area := rec.Area(key)
		out[area.ID] = area
	}
	return out
}
