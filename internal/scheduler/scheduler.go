package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// Job is a background task run every Interval. Run receives a context that
// is cancelled on shutdown.
type Job struct {
	Name     string
	Interval time.Duration
	Timeout  time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler runs jobs in singleton mode: a run that outlasts its interval
// delays the next one instead of overlapping it. With a locker, a job runs
// on one replica at a time.
type Scheduler struct {
	cron   gocron.Scheduler
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger
}

func New(clock clockwork.Clock, locker gocron.Locker, logger *zap.Logger) (*Scheduler, error) {
	opts := []gocron.SchedulerOption{
		gocron.WithClock(clock),
		gocron.WithLogger(zapLogger{logger.Sugar()}),
	}
	if locker != nil {
		opts = append(opts, gocron.WithDistributedLocker(locker))
	}

	cron, err := gocron.NewScheduler(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating scheduler: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{cron: cron, ctx: ctx, cancel: cancel, logger: logger}, nil
}

func (s *Scheduler) Add(job Job) error {
	logger := s.logger.With(zap.String("job", job.Name))

	task := func() {
		ctx := s.ctx
		if job.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, job.Timeout)
			defer cancel()
		}

		started := time.Now()
		if err := job.Run(ctx); err != nil {
			logger.Error("job run failed", zap.Duration("elapsed", time.Since(started)), zap.Error(err))
			return
		}
		logger.Debug("job run finished", zap.Duration("elapsed", time.Since(started)))
	}

	_, err := s.cron.NewJob(
		gocron.DurationJob(job.Interval),
		gocron.NewTask(task),
		gocron.WithName(job.Name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return fmt.Errorf("scheduling job %s: %w", job.Name, err)
	}
	logger.Info("job scheduled", zap.Duration("interval", job.Interval))
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Shutdown cancels running jobs and waits for them to return.
func (s *Scheduler) Shutdown() error {
	s.cancel()
	return s.cron.Shutdown()
}

// zapLogger adapts zap to gocron's logger interface.
type zapLogger struct {
	l *zap.SugaredLogger
}

func (z zapLogger) Debug(msg string, args ...any) { z.l.Debugw(msg, args...) }
func (z zapLogger) Error(msg string, args ...any) { z.l.Errorw(msg, args...) }
func (z zapLogger) Info(msg string, args ...any)  { z.l.Infow(msg, args...) }
func (z zapLogger) Warn(msg string, args ...any)  { z.l.Warnw(msg, args...) }
