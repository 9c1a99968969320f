package main

import (
	"context"
	"encoding/json"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/Mattboss10/ProjectCleanFlow/config"
)

const (
	exchangeName = "cleanflow.notifications"
	queueName    = "area_notifications"
)

type notification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Data  struct {
		AreaID         string  `json:"area_id"`
		DistanceMeters float64 `json:"distance_meters"`
		Timestamp      int64   `json:"timestamp"`
	} `json:"data"`
}

func main() {
	_ = godotenv.Load(".env")
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	log := config.NewLogger(cfg)

	conn, err := config.NewRabbitMQ(cfg, "cleanflow-event-listener")
	if err != nil {
		log.Fatalf("rabbitmq: %v", err)
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		log.Fatalf("rabbitmq channel: %v", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.ExchangeDeclare(exchangeName, "fanout", true, false, false, false, nil); err != nil {
		log.Fatalf("declare exchange: %v", err)
	}

	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		log.Fatalf("declare queue: %v", err)
	}

	if err := ch.QueueBind(queueName, "", exchangeName, false, nil); err != nil {
		log.Fatalf("bind queue: %v", err)
	}

	msgs, err := ch.Consume(queueName, "", true, false, false, false, nil)
	if err != nil {
		log.Fatalf("consume: %v", err)
	}

	log.Infof("consuming from queue '%s', waiting for area notifications...", queueName)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		for msg := range msgs {
			var n notification
			if err := json.Unmarshal(msg.Body, &n); err != nil {
				log.WithError(err).Warn("invalid notification")
				continue
			}
			log.WithFields(logrus.Fields{
				"area_id":  n.Data.AreaID,
				"distance": n.Data.DistanceMeters,
			}).Infof("%s: %s", n.Title, n.Body)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
}
