package logger

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/Mattboss10/ProjectCleanFlow/module/core/domain"
	"github.com/Mattboss10/ProjectCleanFlow/module/core/internal/repository/publisher"
)

var _ publisher.Notifier = (*NotificationLogger)(nil)

// NotificationLogger stands in for the platform notifier in debug and test
// configurations.
type NotificationLogger struct {
	log logrus.FieldLogger
}

func NewNotificationLogger(log logrus.FieldLogger) *NotificationLogger {
	return &NotificationLogger{log: log}
}

func (l *NotificationLogger) Notify(_ context.Context, n *domain.Notification) error {
	l.log.WithFields(logrus.Fields{
		"area_id":  n.AreaID,
		"distance": n.DistanceMeters,
		"title":    n.Title,
	}).Info("notification suppressed (debug)")
	return nil
}
