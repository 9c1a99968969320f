package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	amqp "github.com/rabbitmq/amqp091-go"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/Mattboss10/ProjectCleanFlow/config"
	"github.com/Mattboss10/ProjectCleanFlow/module/core"
	"github.com/Mattboss10/ProjectCleanFlow/module/core/domain"
	"github.com/Mattboss10/ProjectCleanFlow/module/core/service"
)

func main() {
	_ = godotenv.Load(".env")

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	log := config.NewLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps := core.Deps{PostgresDSN: cfg.Postgres.DSN}
	healthOpts := []config.HealthOption{}

	var db *sql.DB
	if cfg.Store.Driver == "postgres" {
		db, err = config.NewPostgres(cfg)
		if err != nil {
			log.Fatalf("postgres: %v", err)
		}
		defer func() { _ = db.Close() }()
		deps.DB = db
		healthOpts = append(healthOpts, config.WithPostgres(db))
	}

	var rdb *goredis.Client
	if cfg.Store.Driver == "redis" {
		rdb, err = config.NewRedis(cfg)
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		defer func() { _ = rdb.Close() }()
		deps.Redis = rdb
		healthOpts = append(healthOpts, config.WithRedis(rdb))
	}

	notifyDriver := cfg.Notify.Driver
	if cfg.Debug {
		notifyDriver = "log"
	}
	var amqpConn *amqp.Connection
	if notifyDriver == "rabbitmq" {
		amqpConn, err = config.NewRabbitMQ(cfg, "cleanflow-server")
		if err != nil {
			log.Fatalf("rabbitmq: %v", err)
		}
		defer func() { _ = amqpConn.Close() }()
		deps.AMQP = amqpConn
		healthOpts = append(healthOpts, config.WithRabbitMQ(amqpConn))
	}

	var mqttClient mqtt.Client
	mqttClient, err = config.NewMQTT(cfg)
	if err != nil {
		log.Fatalf("mqtt: %v", err)
	}
	defer mqttClient.Disconnect(250)
	deps.MQTT = mqttClient
	healthOpts = append(healthOpts, config.WithMQTT(mqttClient))

	coreModule, err := core.Build(ctx, deps, core.Options{
		StoreDriver:        cfg.Store.Driver,
		StoreRetryInterval: cfg.Store.RetryInterval,
		NotifyDriver:       notifyDriver,
		NotifyCooldown:     cfg.Notify.Cooldown,
		GeofenceRadius:     cfg.Geofence.Radius,
		Tracking: service.TrackerConfig{
			TimeInterval:     cfg.Tracking.TimeInterval,
			DistanceInterval: cfg.Tracking.DistanceInterval,
		},
		Bridge: core.BridgeOptions{
			DefaultZoom:  cfg.Bridge.DefaultZoom,
			QueueSize:    cfg.Bridge.QueueSize,
			ReadyTimeout: cfg.Bridge.ReadyTimeout,
		},
		Permissions: map[domain.Permission]bool{
			domain.PermissionForegroundLocation: cfg.Permissions.ForegroundLocation,
			domain.PermissionBackgroundLocation: cfg.Permissions.BackgroundLocation,
			domain.PermissionNotifications:      cfg.Permissions.Notifications,
		},
	}, log)
	if err != nil {
		log.Fatalf("core module: %v", err)
	}

	runDone := make(chan struct{})
	go func() {
		coreModule.Run(ctx)
		close(runDone)
	}()

	if cfg.Tracking.AutoStart {
		if err := coreModule.StartTracking(ctx); err != nil {
			// denial stays visible through GET /tracking
			log.WithError(err).Warn("tracking not started")
		}
	}

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(log))

	health := config.NewHealthChecker(healthOpts...)
	health.Register(r)

	coreModule.RegisterRoutes(&r.RouterGroup)

	srv := &http.Server{
		Addr:    ":" + cfg.HTTP.Port,
		Handler: r,
	}

	go func() {
		log.Infof("listening on :%s", cfg.HTTP.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	if err := coreModule.Shutdown(); err != nil {
		log.WithError(err).Warn("stop tracking")
	}
	<-runDone
}

func requestLogger(log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.FullPath(),
			"status":  c.Writer.Status(),
			"latency": time.Since(start),
		}).Debug("request")
	}
}
