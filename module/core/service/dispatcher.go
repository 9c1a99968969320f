package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Mattboss10/ProjectCleanFlow/module/core/domain"
	"github.com/Mattboss10/ProjectCleanFlow/module/core/internal/metrics"
	"github.com/Mattboss10/ProjectCleanFlow/module/core/internal/repository/publisher"
)

const DefaultNotifyCooldown = 10 * time.Minute

type permissionChecker interface {
	Granted(p domain.Permission) bool
}

type areaState struct {
	inside         bool
	notified       bool
	lastNotifiedMs int64
}

// Dispatcher turns geofence events into notifications, once per approach
// and never more often than the cooldown for the same area.
type Dispatcher struct {
	notifier publisher.Notifier
	perms    permissionChecker
	cooldown time.Duration
	log      logrus.FieldLogger

	mu    sync.Mutex
	state map[string]*areaState
}

func NewDispatcher(notifier publisher.Notifier, perms permissionChecker, cooldown time.Duration, log logrus.FieldLogger) *Dispatcher {
	if cooldown <= 0 {
		cooldown = DefaultNotifyCooldown
	}
	return &Dispatcher{
		notifier: notifier,
		perms:    perms,
		cooldown: cooldown,
		log:      log,
		state:    make(map[string]*areaState),
	}
}

// Dispatch takes the complete event set for one sample. Areas absent from
// events are treated as left.
func (d *Dispatcher) Dispatch(ctx context.Context, sampleTimestampMs int64, events []domain.GeofenceEvent) error {
	if len(events) > 0 && !d.perms.Granted(domain.PermissionNotifications) {
		metrics.NotificationsTotal.WithLabelValues("denied").Add(float64(len(events)))
		d.log.WithField("events", len(events)).Warn("notification permission denied, skipping alerts")
		return nil
	}

	due := d.decide(sampleTimestampMs, events)

	var errs []error
	for _, ev := range due {
		if err := d.notifier.Notify(ctx, domain.NewNotification(ev)); err != nil {
			metrics.NotificationsTotal.WithLabelValues("failed").Inc()
			d.log.WithError(err).WithField("area_id", ev.AreaID).Error("send notification")
			errs = append(errs, fmt.Errorf("notify area %s: %w", ev.AreaID, err))
			continue
		}
		metrics.NotificationsTotal.WithLabelValues("sent").Inc()
		d.log.WithFields(logrus.Fields{
			"area_id":  ev.AreaID,
			"distance": ev.DistanceMeters,
		}).Info("reported area nearby, notification sent")
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) decide(ts int64, events []domain.GeofenceEvent) []domain.GeofenceEvent {
	d.mu.Lock()
	defer d.mu.Unlock()

	inside := make(map[string]struct{}, len(events))
	for _, ev := range events {
		inside[ev.AreaID] = struct{}{}
	}

	cooldownMs := d.cooldown.Milliseconds()
	for id, st := range d.state {
		if _, ok := inside[id]; ok {
			continue
		}
		st.inside = false
		if !st.notified || ts-st.lastNotifiedMs >= cooldownMs {
			delete(d.state, id)
		}
	}

	var due []domain.GeofenceEvent
	for _, ev := range events {
		st, ok := d.state[ev.AreaID]
		if !ok {
			st = &areaState{}
			d.state[ev.AreaID] = st
		}
		wasInside := st.inside
		st.inside = true

		if wasInside || (st.notified && ts-st.lastNotifiedMs < cooldownMs) {
			metrics.NotificationsTotal.WithLabelValues("suppressed").Inc()
			continue
		}
		st.notified = true
		st.lastNotifiedMs = ts
		due = append(due, ev)
	}
	return due
}
