package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/paulmach/orb/geo"
	"github.com/sirupsen/logrus"

	"github.com/Mattboss10/ProjectCleanFlow/module/core/domain"
	"github.com/Mattboss10/ProjectCleanFlow/module/core/internal/metrics"
)

const (
	DefaultTimeInterval     = 10 * time.Second
	DefaultDistanceInterval = 10.0
)

// PositionSource is the platform location service. handler is called once
// per raw sample and must return before the next one is delivered.
type PositionSource interface {
	Start(handler func(domain.Location)) error
	Stop() error
}

type sampleHandler interface {
	CheckAndAlert(ctx context.Context, loc *domain.Location) error
	Reset()
}

type TrackerConfig struct {
	TimeInterval     time.Duration
	DistanceInterval float64
}

type TrackerStatus struct {
	Running bool                `json:"running"`
	Denied  []domain.Permission `json:"denied,omitempty"`
}

// Tracker runs background position sampling and feeds every accepted sample
// to the geofence check before accepting the next one.
type Tracker struct {
	source   PositionSource
	perms    permissionChecker
	geofence sampleHandler
	cfg      TrackerConfig
	log      logrus.FieldLogger

	// lifecycle serializes Start and Stop.
	lifecycle sync.Mutex

	mu       sync.Mutex
	running  bool
	denied   []domain.Permission
	last     *domain.Location
	onFix    []func(domain.Location)
	inflight sync.WaitGroup
}

func NewTracker(source PositionSource, perms permissionChecker, geofence sampleHandler, cfg TrackerConfig, log logrus.FieldLogger) *Tracker {
	if cfg.TimeInterval <= 0 {
		cfg.TimeInterval = DefaultTimeInterval
	}
	if cfg.DistanceInterval <= 0 {
		cfg.DistanceInterval = DefaultDistanceInterval
	}
	return &Tracker{
		source:   source,
		perms:    perms,
		geofence: geofence,
		cfg:      cfg,
		log:      log,
	}
}

// OnFix registers fn to run after every delivered sample.
func (t *Tracker) OnFix(fn func(domain.Location)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onFix = append(t.onFix, fn)
}

func (t *Tracker) Start(_ context.Context) error {
	t.lifecycle.Lock()
	defer t.lifecycle.Unlock()

	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return nil
	}
	var denied []domain.Permission
	for _, p := range []domain.Permission{domain.PermissionForegroundLocation, domain.PermissionBackgroundLocation} {
		if !t.perms.Granted(p) {
			denied = append(denied, p)
		}
	}
	t.denied = denied
	if len(denied) > 0 {
		t.mu.Unlock()
		t.log.WithField("denied", denied).Warn("location permission denied, tracking disabled")
		return fmt.Errorf("%w: %v", domain.ErrPermissionDenied, denied)
	}
	t.running = true
	t.mu.Unlock()

	if err := t.source.Start(t.handleSample); err != nil {
		t.mu.Lock()
		t.running = false
		t.mu.Unlock()
		return fmt.Errorf("start position source: %w", err)
	}

	t.log.WithFields(logrus.Fields{
		"time_interval":     t.cfg.TimeInterval,
		"distance_interval": t.cfg.DistanceInterval,
	}).Info("location tracking started")
	return nil
}

// Stop is idempotent. It returns once any sample already accepted has
// finished its geofence check.
func (t *Tracker) Stop() error {
	t.lifecycle.Lock()
	defer t.lifecycle.Unlock()

	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return nil
	}
	t.running = false
	t.mu.Unlock()

	err := t.source.Stop()
	t.inflight.Wait()
	t.geofence.Reset()
	if err != nil {
		return fmt.Errorf("stop position source: %w", err)
	}
	t.log.Info("location tracking stopped")
	return nil
}

func (t *Tracker) LastFix() (domain.Location, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.last == nil {
		return domain.Location{}, false
	}
	return *t.last, true
}

func (t *Tracker) Status() TrackerStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return TrackerStatus{
		Running: t.running,
		Denied:  append([]domain.Permission(nil), t.denied...),
	}
}

func (t *Tracker) handleSample(loc domain.Location) {
	metrics.SamplesReceivedTotal.Inc()

	t.mu.Lock()
	if !t.running || !t.accept(loc) {
		t.mu.Unlock()
		return
	}
	sample := loc
	t.last = &sample
	fixFns := make([]func(domain.Location), len(t.onFix))
	copy(fixFns, t.onFix)
	t.inflight.Add(1)
	t.mu.Unlock()
	defer t.inflight.Done()

	metrics.SamplesDeliveredTotal.Inc()
	if err := t.geofence.CheckAndAlert(context.Background(), &loc); err != nil {
		t.log.WithError(err).Warn("geofence check")
	}
	for _, fn := range fixFns {
		fn(loc)
	}
}

// accept reports whether loc clears either the time or the distance
// threshold since the last delivered sample. Caller holds t.mu.
func (t *Tracker) accept(loc domain.Location) bool {
	if t.last == nil {
		return true
	}
	if loc.Timestamp.Sub(t.last.Timestamp) >= t.cfg.TimeInterval {
		return true
	}
	return geo.DistanceHaversine(t.last.Point(), loc.Point()) >= t.cfg.DistanceInterval
}
