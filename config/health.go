package config

import (
	"database/sql"
	"errors"
	"net/http"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gin-gonic/gin"
	amqp "github.com/rabbitmq/amqp091-go"
	goredis "github.com/redis/go-redis/v9"
)

// HealthChecker reports on whichever dependencies the server was started
// with. Nil dependencies are left out of the report.
type HealthChecker struct {
	db       *sql.DB
	redis    goredis.UniversalClient
	amqpConn *amqp.Connection
	mqtt     mqtt.Client
}

type HealthOption func(*HealthChecker)

func WithPostgres(db *sql.DB) HealthOption {
	return func(h *HealthChecker) { h.db = db }
}

func WithRedis(client goredis.UniversalClient) HealthOption {
	return func(h *HealthChecker) { h.redis = client }
}

func WithRabbitMQ(conn *amqp.Connection) HealthOption {
	return func(h *HealthChecker) { h.amqpConn = conn }
}

func WithMQTT(client mqtt.Client) HealthOption {
	return func(h *HealthChecker) { h.mqtt = client }
}

func NewHealthChecker(opts ...HealthOption) *HealthChecker {
	h := &HealthChecker{}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *HealthChecker) Register(r *gin.Engine) {
	r.GET("/healthz", h.Handle)
}

func (h *HealthChecker) Handle(c *gin.Context) {
	status := http.StatusOK
	deps := gin.H{}

	check := func(name string, err error) {
		if err != nil {
			deps[name] = gin.H{"status": "down", "error": err.Error()}
			status = http.StatusServiceUnavailable
			return
		}
		deps[name] = gin.H{"status": "up"}
	}

	ctx := c.Request.Context()
	if h.db != nil {
		check("postgres", h.db.PingContext(ctx))
	}
	if h.redis != nil {
		check("redis", h.redis.Ping(ctx).Err())
	}
	if h.amqpConn != nil {
		check("rabbitmq", amqpStatus(h.amqpConn))
	}
	if h.mqtt != nil {
		check("mqtt", mqttStatus(h.mqtt))
	}

	overall := "healthy"
	if status != http.StatusOK {
		overall = "unhealthy"
	}

	c.JSON(status, gin.H{
		"status":       overall,
		"dependencies": deps,
	})
}

var (
	errConnClosed   = errors.New("connection closed")
	errNotConnected = errors.New("not connected")
)

func amqpStatus(conn *amqp.Connection) error {
	if conn.IsClosed() {
		return errConnClosed
	}
	return nil
}

func mqttStatus(client mqtt.Client) error {
	if !client.IsConnected() {
		return errNotConnected
	}
	return nil
}

