package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"stockkeeper/internal/config"
	"stockkeeper/internal/infrastructure/kafka"
	"stockkeeper/internal/infrastructure/metrics"
	mysqlconn "stockkeeper/internal/infrastructure/mysql"
	"stockkeeper/internal/infrastructure/redislock"
	"stockkeeper/internal/infrastructure/servicebus"
	"stockkeeper/internal/inventory"
	"stockkeeper/internal/outbox"
	"stockkeeper/internal/reservation"
	"stockkeeper/internal/scheduler"
	"stockkeeper/internal/server"
	"stockkeeper/internal/storage"
	"stockkeeper/internal/storage/memory"
	mysqlstore "stockkeeper/internal/storage/mysql"
	"stockkeeper/internal/sweeper"
)

const (
	publishJob = "outbox-publisher"
	sweepJob   = "reservation-sweeper"
)

// App holds every component built from one Config.
type App struct {
	cfg      *config.Config
	logger   *zap.Logger
	clock    clockwork.Clock
	registry *prometheus.Registry

	uow       storage.UnitOfWork
	db        *sql.DB
	engine    *reservation.Engine
	publisher *outbox.Publisher
	sweeper   *sweeper.Sweeper
	locker    gocron.Locker
	handler   http.Handler

	closers []func() error
}

func New(ctx context.Context, cfg *config.Config, clock clockwork.Clock, logger *zap.Logger) (*App, error) {
	a := &App{
		cfg:      cfg,
		logger:   logger,
		clock:    clock,
		registry: prometheus.NewRegistry(),
	}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(a.registry)

	if err := a.openStorage(ctx); err != nil {
		a.Close()
		return nil, err
	}

	broker, err := newBroker(cfg.Broker, logger.Named("broker"))
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, broker.Close)

	if cfg.Redis.Addr != "" {
		client, err := redislock.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, client.Close)
		a.locker = redislock.NewLocker(client, cfg.Redis.LockTTL)
	}

	retrier := storage.NewRetrier(cfg.Reservation.MaxRetryAttempts, logger.Named("retry"))
	retrier.OnRetry = m.IncRetry

	engine, reservationCtrl := reservation.NewModule(a.uow, retrier, clock, cfg.Reservation.HoldDuration, m, logger)
	inventoryCtrl := inventory.NewModule(a.uow, retrier, clock, m, logger)
	a.engine = engine

	a.publisher = outbox.NewPublisher(a.uow, broker, outbox.NewRouter(cfg.Outbox.Routes), clock,
		cfg.Outbox.BatchSize, m, logger.Named("outbox"))
	a.sweeper = sweeper.New(a.uow, engine, clock, sweeper.Config{
		BatchSize:   cfg.Sweeper.BatchSize,
		MarkExpired: cfg.Sweeper.MarkExpired,
	}, m, logger.Named("sweeper"))

	a.handler = server.NewRouter(logger.Named("http"), a.registry, a.health, reservationCtrl, inventoryCtrl)
	return a, nil
}

func (a *App) openStorage(ctx context.Context) error {
	switch a.cfg.Storage.Driver {
	case "memory":
		a.logger.Warn("using in-memory storage, state is lost on restart")
		a.uow = memory.NewStore()
		return nil
	case "mysql":
		db, err := mysqlconn.NewConnection(ctx, a.cfg.Database)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, db.Close)
		a.db = db
		a.uow = mysqlstore.NewUnitOfWork(db, a.cfg.Reservation.TxTimeout)
		a.logger.Info("database connected", zap.String("host", a.cfg.Database.Host), zap.String("name", a.cfg.Database.Name))
		return nil
	}
	return fmt.Errorf("unknown storage driver %q", a.cfg.Storage.Driver)
}

func newBroker(cfg config.BrokerConfig, logger *zap.Logger) (outbox.Broker, error) {
	switch cfg.Driver {
	case "kafka":
		return kafka.NewBroker(cfg.Kafka.Brokers, cfg.Kafka.WriteTimeout, logger)
	case "servicebus":
		return servicebus.NewBroker(cfg.ServiceBus.ConnectionString, logger)
	case "log":
		return outbox.NewLogBroker(logger), nil
	}
	return nil, fmt.Errorf("unknown broker driver %q", cfg.Driver)
}

func (a *App) health(ctx context.Context) error {
	if a.db == nil {
		return nil
	}
	return a.db.PingContext(ctx)
}

func (a *App) Handler() http.Handler {
	return a.handler
}

// Migrate applies the schema. It is a no-op for in-memory storage.
func (a *App) Migrate(ctx context.Context) error {
	if a.db == nil {
		return nil
	}
	return mysqlstore.Migrate(ctx, a.db)
}

func (a *App) Publish(ctx context.Context) (outbox.Result, error) {
	return a.publisher.PublishPending(ctx)
}

func (a *App) Sweep(ctx context.Context) (sweeper.Result, error) {
	return a.sweeper.Sweep(ctx)
}

// Jobs are the background loops the serve command schedules.
func (a *App) Jobs() []scheduler.Job {
	return []scheduler.Job{
		{
			Name:     publishJob,
			Interval: a.cfg.Outbox.PublishInterval,
			Timeout:  a.cfg.Outbox.RunTimeout,
			Run: func(ctx context.Context) error {
				_, err := a.Publish(ctx)
				return err
			},
		},
		{
			Name:     sweepJob,
			Interval: a.cfg.Sweeper.Interval,
			Timeout:  a.cfg.Sweeper.RunTimeout,
			Run: func(ctx context.Context) error {
				_, err := a.Sweep(ctx)
				return err
			},
		},
	}
}

// NewScheduler builds a scheduler holding every job, sharing the Redis job
// lock when one is configured.
func (a *App) NewScheduler() (*scheduler.Scheduler, error) {
	s, err := scheduler.New(a.clock, a.locker, a.logger.Named("scheduler"))
	if err != nil {
		return nil, err
	}
	for _, job := range a.Jobs() {
		if err := s.Add(job); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Close releases connections in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
