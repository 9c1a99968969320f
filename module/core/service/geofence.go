package service

import (
	"context"
	"sort"
	"sync"

	"github.com/paulmach/orb/geo"
	"github.com/sirupsen/logrus"

	"github.com/Mattboss10/ProjectCleanFlow/module/core/domain"
	"github.com/Mattboss10/ProjectCleanFlow/module/core/internal/metrics"
)

// Evaluate returns an event for every area whose centroid lies within radius
// meters of sample, boundary included. Events are ordered by area id.
func Evaluate(sample domain.Location, areas domain.AreaSet, radius float64) []domain.GeofenceEvent {
	ids := make([]string, 0, len(areas))
	for id := range areas {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var events []domain.GeofenceEvent
	at := sample.Point()
	for _, id := range ids {
		dist := geo.DistanceHaversine(at, areas[id].Centroid)
		if dist <= radius {
			events = append(events, domain.GeofenceEvent{
				AreaID:            id,
				DistanceMeters:    dist,
				SampleTimestampMs: sample.TimestampMs(),
			})
		}
	}
	return events
}

type snapshotSource interface {
	Snapshot() domain.AreaSet
}

type eventDispatcher interface {
	Dispatch(ctx context.Context, sampleTimestampMs int64, events []domain.GeofenceEvent) error
}

type GeofenceService struct {
	areas      snapshotSource
	dispatcher eventDispatcher
	radius     float64
	log        logrus.FieldLogger

	mu   sync.Mutex
	last *domain.Location
}

func NewGeofenceService(areas snapshotSource, dispatcher eventDispatcher, radius float64, log logrus.FieldLogger) *GeofenceService {
	if radius <= 0 {
		radius = domain.DefaultGeofenceRadius
	}
	return &GeofenceService{
		areas:      areas,
		dispatcher: dispatcher,
		radius:     radius,
		log:        log,
	}
}

func (s *GeofenceService) CheckAndAlert(ctx context.Context, loc *domain.Location) error {
	s.mu.Lock()
	sample := *loc
	s.last = &sample
	s.mu.Unlock()

	return s.check(ctx, sample, s.areas.Snapshot())
}

// Reset forgets the last sample. Area changes made while tracking is off
// are not checked against a stale position.
func (s *GeofenceService) Reset() {
	s.mu.Lock()
	s.last = nil
	s.mu.Unlock()
}

// OnSnapshot re-checks the last sample against a freshly pushed area set so a
// new area next to a stationary user still triggers.
func (s *GeofenceService) OnSnapshot(areas domain.AreaSet) {
	s.mu.Lock()
	last := s.last
	s.mu.Unlock()
	if last == nil {
		return
	}

	if err := s.check(context.Background(), *last, areas); err != nil {
		s.log.WithError(err).Warn("geofence re-check on snapshot")
	}
}

func (s *GeofenceService) check(ctx context.Context, sample domain.Location, areas domain.AreaSet) error {
	events := Evaluate(sample, areas, s.radius)
	metrics.GeofenceEventsTotal.Add(float64(len(events)))
	for _, ev := range events {
		s.log.WithFields(logrus.Fields{
			"area_id":  ev.AreaID,
			"distance": ev.DistanceMeters,
		}).Debug("inside geofence")
	}
	return s.dispatcher.Dispatch(ctx, sample.TimestampMs(), events)
}
