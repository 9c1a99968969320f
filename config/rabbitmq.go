package config

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// NewRabbitMQ dials the broker and labels the connection with name so it
// can be told apart in the management UI.
func NewRabbitMQ(cfg *Config, name string) (*amqp.Connection, error) {
	props := amqp.NewConnectionProperties()
	props.SetClientConnectionName(name)

	conn, err := amqp.DialConfig(cfg.RabbitMQ.URL, amqp.Config{
		Heartbeat:  cfg.RabbitMQ.Heartbeat,
		Locale:     "en_US",
		Properties: props,
	})
	if err != nil {
		return nil, fmt.Errorf("rabbitmq connect %s: %w", name, err)
	}
	return conn, nil
}
