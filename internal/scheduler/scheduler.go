package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bobby-s-dev/trip-planner/internal/apperrors"
	"github.com/bobby-s-dev/trip-planner/internal/pipeline"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

type Runner interface {
	Run(ctx context.Context) (*pipeline.Report, error)
	Running() bool
}

type Config struct {
	// Spec is a standard five field cron expression or a descriptor such as
	// "@every 6h".
	Spec       string
	RunTimeout time.Duration
	RunOnStart bool
}

type Scheduler struct {
	runner   Runner
	logger   *zap.Logger
	cfg      Config
	schedule cron.Schedule
	cron     *cron.Cron
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	mu         sync.Mutex
	running    bool
	entryID    cron.EntryID
	lastRun    time.Time
	lastStatus string
	lastError  string
}

func NewScheduler(runner Runner, cfg Config, logger *zap.Logger) (*Scheduler, error) {
	schedule, err := cron.ParseStandard(cfg.Spec)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid cron spec %q: %w", apperrors.ErrConfiguration, cfg.Spec, err)
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = time.Hour
	}

	cronLog := cronLogger{logger: logger.Sugar()}
	c := cron.New(
		cron.WithLogger(cronLog),
		cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
	)
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		runner:   runner,
		logger:   logger,
		cfg:      cfg,
		schedule: schedule,
		cron:     c,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.entryID = s.cron.Schedule(s.schedule, cron.FuncJob(s.runPipeline))
	s.mu.Unlock()

	s.cron.Start()

	s.logger.Info("Scheduler started",
		zap.String("spec", s.cfg.Spec),
		zap.Time("next_run", s.schedule.Next(time.Now())))

	if s.cfg.RunOnStart {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.runPipeline()
		}()
	}
}

func (s *Scheduler) runPipeline() {
	s.mu.Lock()
	s.lastRun = time.Now()
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.RunTimeout)
	defer cancel()

	report, err := s.runner.Run(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastError = ""
	switch {
	case report != nil:
		s.lastStatus = string(report.Status)
	case err != nil:
		s.lastStatus = "rejected"
	}
	if err != nil {
		s.lastError = err.Error()
		s.logger.Error("Scheduled pipeline run failed", zap.Error(err))
	}
}

// Stop cancels an in-flight run, scheduled or forced, and waits for it to
// return. A stopped scheduler cannot be restarted.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	wasRunning := s.running
	s.running = false
	s.mu.Unlock()

	s.logger.Info("Stopping scheduler")
	s.cancel()
	if wasRunning {
		<-s.cron.Stop().Done()
	}
	s.wg.Wait()
}

// ForceRun starts a pipeline run outside the schedule.
func (s *Scheduler) ForceRun() error {
	if s.runner.Running() {
		return apperrors.ErrRunInProgress
	}
	s.logger.Info("Manually triggering pipeline run")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runPipeline()
	}()
	return nil
}

func (s *Scheduler) GetStatus() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := map[string]interface{}{
		"running":       s.running,
		"spec":          s.cfg.Spec,
		"run_timeout":   s.cfg.RunTimeout.String(),
		"pipeline_busy": s.runner.Running(),
		"last_run":      s.lastRun,
		"last_status":   s.lastStatus,
		"last_error":    s.lastError,
	}
	if s.running {
		status["next_run"] = s.cron.Entry(s.entryID).Next
	}
	return status
}

// cronLogger routes the cron library's logging through zap.
type cronLogger struct {
	logger *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debugw("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
