package core

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gin-gonic/gin"
	amqp "github.com/rabbitmq/amqp091-go"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/Mattboss10/ProjectCleanFlow/module/core/domain"
	"github.com/Mattboss10/ProjectCleanFlow/module/core/internal/handler/bridge"
	handler "github.com/Mattboss10/ProjectCleanFlow/module/core/internal/handler/http"
	"github.com/Mattboss10/ProjectCleanFlow/module/core/internal/handler/subscriber"
	"github.com/Mattboss10/ProjectCleanFlow/module/core/internal/metrics"
	"github.com/Mattboss10/ProjectCleanFlow/module/core/internal/repository/database"
	"github.com/Mattboss10/ProjectCleanFlow/module/core/internal/repository/database/memory"
	"github.com/Mattboss10/ProjectCleanFlow/module/core/internal/repository/database/postgres"
	"github.com/Mattboss10/ProjectCleanFlow/module/core/internal/repository/database/redis"
	"github.com/Mattboss10/ProjectCleanFlow/module/core/internal/repository/publisher"
	"github.com/Mattboss10/ProjectCleanFlow/module/core/internal/repository/publisher/logger"
	"github.com/Mattboss10/ProjectCleanFlow/module/core/internal/repository/publisher/rabbitmq"
	"github.com/Mattboss10/ProjectCleanFlow/module/core/service"
)

// Deps are the connections the module may use. Only the ones the chosen
// drivers need have to be set.
type Deps struct {
	DB          *sql.DB
	PostgresDSN string
	Redis       *goredis.Client
	AMQP        *amqp.Connection
	MQTT        mqtt.Client
}

type Options struct {
	StoreDriver        string
	StoreRetryInterval time.Duration
	NotifyDriver       string
	NotifyCooldown     time.Duration
	GeofenceRadius     float64
	Tracking           service.TrackerConfig
	Bridge             BridgeOptions
	Permissions        map[domain.Permission]bool
}

type BridgeOptions struct {
	DefaultZoom  int
	QueueSize    int
	ReadyTimeout time.Duration
}

type Module struct {
	AreaSvc     *service.AreaService
	GeofenceSvc *service.GeofenceService
	Tracker     *service.Tracker
	Permissions *service.Permissions
	Bridge      *bridge.Bridge

	areaHandler     *handler.AreaHandler
	trackingHandler *handler.TrackingHandler
	unsubscribe     []func()
}

func Build(ctx context.Context, deps Deps, opts Options, log logrus.FieldLogger) (*Module, error) {
	store, err := newAreaStore(ctx, deps, opts.StoreDriver)
	if err != nil {
		return nil, fmt.Errorf("area store: %w", err)
	}

	notifier, err := newNotifier(deps, opts.NotifyDriver, log)
	if err != nil {
		return nil, fmt.Errorf("notifier: %w", err)
	}

	if deps.MQTT == nil {
		return nil, errors.New("position source: mqtt client required")
	}

	perms := service.NewPermissions(opts.Permissions)
	areaSvc := service.NewAreaService(store, log.WithField("component", "areas"), opts.StoreRetryInterval)
	dispatcher := service.NewDispatcher(notifier, perms, opts.NotifyCooldown, log.WithField("component", "dispatcher"))
	geofenceSvc := service.NewGeofenceService(areaSvc, dispatcher, opts.GeofenceRadius, log.WithField("component", "geofence"))

	source := subscriber.NewLocationSubscriber(deps.MQTT, log.WithField("component", "mqtt"))
	tracker := service.NewTracker(source, perms, geofenceSvc, opts.Tracking, log.WithField("component", "tracker"))

	br := bridge.New(areaSvc, tracker, bridge.Config{
		DefaultZoom:  opts.Bridge.DefaultZoom,
		QueueSize:    opts.Bridge.QueueSize,
		ReadyTimeout: opts.Bridge.ReadyTimeout,
	}, log.WithField("component", "bridge"))

	m := &Module{
		AreaSvc:         areaSvc,
		GeofenceSvc:     geofenceSvc,
		Tracker:         tracker,
		Permissions:     perms,
		Bridge:          br,
		areaHandler:     handler.NewAreaHandler(areaSvc, log.WithField("component", "http")),
		trackingHandler: handler.NewTrackingHandler(tracker, perms, log.WithField("component", "http")),
	}

	m.unsubscribe = append(m.unsubscribe,
		areaSvc.Subscribe(geofenceSvc.OnSnapshot),
		areaSvc.Subscribe(br.BroadcastSnapshot),
	)
	tracker.OnFix(br.NotifyFix)

	return m, nil
}

func newAreaStore(ctx context.Context, deps Deps, driver string) (database.AreaStore, error) {
	switch driver {
	case "postgres":
		if deps.DB == nil {
			return nil, errors.New("postgres driver needs a database")
		}
		repo := postgres.NewAreaRepo(deps.DB, deps.PostgresDSN)
		if err := repo.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return repo, nil
	case "redis":
		if deps.Redis == nil {
			return nil, errors.New("redis driver needs a client")
		}
		return redis.NewAreaRepo(deps.Redis), nil
	case "memory":
		return memory.NewAreaRepo(), nil
	default:
		return nil, fmt.Errorf("unknown driver %q", driver)
	}
}

func newNotifier(deps Deps, driver string, log logrus.FieldLogger) (publisher.Notifier, error) {
	switch driver {
	case "log":
		return logger.NewNotificationLogger(log.WithField("component", "notifier")), nil
	case "rabbitmq":
		if deps.AMQP == nil {
			return nil, errors.New("rabbitmq driver needs a connection")
		}
		pub, err := rabbitmq.NewNotificationPublisher(deps.AMQP)
		if err != nil {
			return nil, err
		}
		return pub, nil
	default:
		return nil, fmt.Errorf("unknown driver %q", driver)
	}
}

func (m *Module) RegisterRoutes(r *gin.RouterGroup) {
	m.areaHandler.Register(r)
	m.trackingHandler.Register(r)
	m.Bridge.Register(r)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))
}

// Run keeps the area snapshot in sync with the store until ctx ends.
func (m *Module) Run(ctx context.Context) {
	m.AreaSvc.Run(ctx)
}

func (m *Module) StartTracking(ctx context.Context) error {
	return m.Tracker.Start(ctx)
}

func (m *Module) Shutdown() error {
	for _, cancel := range m.unsubscribe {
		cancel()
	}
	err := m.Tracker.Stop()
	m.Bridge.Close()
	return err
}
