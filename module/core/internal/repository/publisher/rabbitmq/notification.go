package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/Mattboss10/ProjectCleanFlow/module/core/domain"
	"github.com/Mattboss10/ProjectCleanFlow/module/core/internal/repository/publisher"
)

var _ publisher.Notifier = (*NotificationPublisher)(nil)

const (
	ExchangeName = "cleanflow.notifications"
	QueueName    = "area_notifications"
)

type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

type NotificationPublisher struct {
	ch channel
}

func NewNotificationPublisher(conn *amqp.Connection) (*NotificationPublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("rabbitmq channel: %w", err)
	}

	if err := ch.ExchangeDeclare(ExchangeName, "fanout", true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	if _, err := ch.QueueDeclare(QueueName, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare queue: %w", err)
	}

	if err := ch.QueueBind(QueueName, "", ExchangeName, false, nil); err != nil {
		return nil, fmt.Errorf("bind queue: %w", err)
	}

	return &NotificationPublisher{ch: ch}, nil
}

type notificationMessage struct {
	Title string           `json:"title"`
	Body  string           `json:"body"`
	Data  notificationData `json:"data"`
}

type notificationData struct {
	AreaID         string  `json:"area_id"`
	DistanceMeters float64 `json:"distance_meters"`
	Timestamp      int64   `json:"timestamp"`
}

func (p *NotificationPublisher) Notify(ctx context.Context, n *domain.Notification) error {
	msg := notificationMessage{
		Title: n.Title,
		Body:  n.Body,
		Data: notificationData{
			AreaID:         n.AreaID,
			DistanceMeters: n.DistanceMeters,
			Timestamp:      n.TimestampMs,
		},
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	return p.ch.PublishWithContext(ctx, ExchangeName, "", false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
}
