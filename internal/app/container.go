package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/acme/vehicle-contact-relay/internal/config"
	"github.com/acme/vehicle-contact-relay/internal/infra/db"
	"github.com/acme/vehicle-contact-relay/internal/infra/redis"
	"github.com/acme/vehicle-contact-relay/internal/queue"
	"github.com/acme/vehicle-contact-relay/internal/repository"
	pgrepo "github.com/acme/vehicle-contact-relay/internal/repository/postgres"
	scyllarepo "github.com/acme/vehicle-contact-relay/internal/repository/scylla"
	alertsvc "github.com/acme/vehicle-contact-relay/internal/service/alert"
	dispatchsvc "github.com/acme/vehicle-contact-relay/internal/service/dispatch"
	quotasvc "github.com/acme/vehicle-contact-relay/internal/service/quota"
	"github.com/acme/vehicle-contact-relay/internal/telephony"
	telephonyMock "github.com/acme/vehicle-contact-relay/internal/telephony/mock"
	"github.com/acme/vehicle-contact-relay/internal/telephony/twilio"
	"github.com/acme/vehicle-contact-relay/internal/telephony/vonage"
	"github.com/acme/vehicle-contact-relay/pkg/logger"
)

// Container wires together shared infrastructure dependencies.
type Container struct {
	Config *config.Config
	Logger *logger.Logger

	Postgres *db.Postgres
	Scylla   *db.Scylla
	Redis    *redis.Client
	Kafka    *queue.Kafka

	dispatchPolicy dispatchsvc.Policy
	alertPolicy    dispatchsvc.Policy

	// lazily initialised components
	components struct {
		once         sync.Once
		repositories *repositories
		publishers   *publishers
		services     *services
		registry     *telephony.Registry
		quota        *quotasvc.Tracker
	}
}

type repositories struct {
	Directory   repository.VehicleDirectory
	Templates   repository.AlertTemplateRepository
	DeliveryLog repository.DeliveryLog
}

type publishers struct {
	Delivery *queue.DeliveryPublisher
	Status   *queue.StatusPublisher
	Admin    *queue.AdminPublisher
}

type services struct {
	Dispatch *dispatchsvc.Service
	Alert    *alertsvc.Service
}

// Build constructs a container for the given configuration path.
func Build(ctx context.Context, configPath string) (*Container, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	lg, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, err
	}

	dispatchPolicy, err := dispatchsvc.PolicyFromConfig(cfg.Dispatch)
	if err != nil {
		return nil, err
	}
	alertPolicy := dispatchPolicy
	alertPolicy.MaxAttempts = cfg.Alert.MaxAttempts
	alertPolicy.BaseDelay = cfg.Alert.BaseDelay
	alertPolicy.MaxDelay = cfg.Alert.MaxDelay
	alertPolicy.BackoffMultiplier = cfg.Alert.BackoffMultiplier

	pg, err := db.NewPostgres(ctx, cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("bootstrap postgres: %w", err)
	}

	scylla, err := db.NewScylla(cfg.Scylla)
	if err != nil {
		return nil, fmt.Errorf("bootstrap scylla: %w", err)
	}

	redisClient, err := redis.NewClient(cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("bootstrap redis: %w", err)
	}

	kafka, err := queue.NewKafka(cfg.Kafka)
	if err != nil {
		return nil, fmt.Errorf("bootstrap kafka: %w", err)
	}

	container := &Container{
		Config:         cfg,
		Logger:         lg,
		Postgres:       pg,
		Scylla:         scylla,
		Redis:          redisClient,
		Kafka:          kafka,
		dispatchPolicy: dispatchPolicy,
		alertPolicy:    alertPolicy,
	}

	return container, nil
}

func (c *Container) initComponents() {
	c.components.once.Do(func() {
		repos := &repositories{
			Directory:   pgrepo.NewVehicleDirectory(c.Postgres.DB()),
			Templates:   pgrepo.NewAlertTemplateRepository(c.Postgres.DB()),
			DeliveryLog: scyllarepo.NewDeliveryLog(c.Scylla.Session()),
		}

		pubs := &publishers{
			Delivery: queue.NewDeliveryPublisher(c.Kafka, c.Config.Kafka.DeliveryTopic),
			Status:   queue.NewStatusPublisher(c.Kafka, c.Config.Kafka.StatusTopic),
			Admin:    queue.NewAdminPublisher(c.Kafka, c.Config.Kafka.AdminAlertTopic),
		}

		registry := telephony.NewRegistry(
			twilio.New(c.Config.Twilio),
			vonage.New(c.Config.Vonage),
			telephonyMock.NewProvider(0.9),
		)

		quota := quotasvc.NewTracker(c.Redis.Inner(), c.Config.Quota)

		svcs := &services{
			Dispatch: dispatchsvc.NewService(
				registry,
				c.dispatchPolicy,
				quota,
				pubs.Delivery,
				pubs.Admin,
				c.Config.HTTP.PublicURL,
				c.Logger.Named("dispatch"),
			),
		}
		svcs.Alert = alertsvc.NewService(
			repos.Directory,
			repos.Templates,
			svcs.Dispatch,
			c.alertPolicy,
			c.Config.Alert.VoiceLine,
			c.Logger.Named("alert"),
		)

		c.components.repositories = repos
		c.components.publishers = pubs
		c.components.registry = registry
		c.components.quota = quota
		c.components.services = svcs
	})
}

// Repositories exposes initialized repositories.
func (c *Container) Repositories() *repositories {
	c.initComponents()
	return c.components.repositories
}

// Services exposes initialized services.
func (c *Container) Services() *services {
	c.initComponents()
	return c.components.services
}

// Publishers exposes Kafka publishers.
func (c *Container) Publishers() *publishers {
	c.initComponents()
	return c.components.publishers
}

// Providers exposes the telephony adapter registry.
func (c *Container) Providers() *telephony.Registry {
	c.initComponents()
	return c.components.registry
}

// Quota exposes the provider quota tracker.
func (c *Container) Quota() *quotasvc.Tracker {
	c.initComponents()
	return c.components.quota
}

// Close releases all held resources.
func (c *Container) Close(ctx context.Context) error {
	var errs []error
	if p := c.components.publishers; p != nil {
		if p.Delivery != nil {
			if err := p.Delivery.Close(); err != nil {
				errs = append(errs, fmt.Errorf("delivery publisher close: %w", err))
			}
		}
		if p.Status != nil {
			if err := p.Status.Close(); err != nil {
				errs = append(errs, fmt.Errorf("status publisher close: %w", err))
			}
		}
		if p.Admin != nil {
			if err := p.Admin.Close(); err != nil {
				errs = append(errs, fmt.Errorf("admin publisher close: %w", err))
			}
		}
	}
	if c.Kafka != nil {
		if err := c.Kafka.Close(); err != nil {
			errs = append(errs, fmt.Errorf("kafka close: %w", err))
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		}
	}
	if c.Scylla != nil {
		if err := c.Scylla.Close(); err != nil {
			errs = append(errs, fmt.Errorf("scylla close: %w", err))
		}
	}
	if c.Postgres != nil {
		if err := c.Postgres.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("postgres close: %w", err))
		}
	}
	if c.Logger != nil {
		c.Logger.Sync()
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

// EnsureTopics ensures required Kafka topics exist.
func (c *Container) EnsureTopics(ctx context.Context) error {
	topics := []string{
		c.Config.Kafka.DeliveryTopic,
		c.Config.Kafka.StatusTopic,
		c.Config.Kafka.AdminAlertTopic,
	}
	return c.Kafka.EnsureTopics(ctx, topics, 12, 1)
}
