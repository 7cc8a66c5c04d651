// Package scheduler drives sweeps from a seconds-granularity cron schedule
// and from manual triggers, one run at a time.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"paysweep/internal/logging"
	"paysweep/internal/sweep"
)

// MinInterval is the shortest gap allowed between two activations.
const MinInterval = 30 * time.Second

// observerTimeout bounds each sink after a run, independent of the run timeout.
const observerTimeout = 10 * time.Second

var (
	ErrBusy        = errors.New("scheduler: a sweep is already running")
	ErrTooFrequent = errors.New("scheduler: schedule fires more often than every 30s")
)

var parser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

type Runner interface {
	Run(ctx context.Context) (sweep.Result, error)
}

// Observer receives every finished run, aborted ones included.
type Observer interface {
	Observe(ctx context.Context, res sweep.Result, runErr error) error
}

type Config struct {
	Schedule   string
	RunTimeout time.Duration
}

type Scheduler struct {
	cron      *cron.Cron
	schedule  string
	runner    Runner
	observers []Observer
	timeout   time.Duration
	log       logrus.FieldLogger

	running sync.Mutex
	baseMu  sync.Mutex
	base    context.Context
}

func New(cfg Config, runner Runner, log logrus.FieldLogger, observers ...Observer) (*Scheduler, error) {
	if err := ValidateSchedule(cfg.Schedule, time.Now()); err != nil {
		return nil, err
	}
	cl := logging.CronLogger{Log: log.WithField("component", "cron")}
	s := &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		schedule:  cfg.Schedule,
		runner:    runner,
		observers: observers,
		timeout:   cfg.RunTimeout,
		log:       log,
		base:      context.Background(),
	}
	if _, err := s.cron.AddFunc(cfg.Schedule, s.tick); err != nil {
		return nil, fmt.Errorf("scheduler: add job: %w", err)
	}
	return s, nil
}

// ValidateSchedule parses a six-field expression (or descriptor) and rejects
// it when any of the next few activations after from are closer than MinInterval.
func ValidateSchedule(expr string, from time.Time) error {
	sched, err := parser.Parse(expr)
	if err != nil {
		return fmt.Errorf("scheduler: invalid schedule %q: %w", expr, err)
	}
	prev := sched.Next(from)
	for i := 0; i < 8; i++ {
		next := sched.Next(prev)
		if next.IsZero() {
			return nil
		}
		if next.Sub(prev) < MinInterval {
			return fmt.Errorf("%w: %q (%s between runs)", ErrTooFrequent, expr, next.Sub(prev))
		}
		prev = next
	}
	return nil
}

// Run starts the cron loop and blocks until ctx is done, then waits for an
// in-flight sweep to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.baseMu.Lock()
	s.base = ctx
	s.baseMu.Unlock()

	s.log.WithField("schedule", s.schedule).Info("scheduler started")
	s.cron.Start()
	<-ctx.Done()

	<-s.cron.Stop().Done()
	s.log.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) tick() {
	s.baseMu.Lock()
	ctx := s.base
	s.baseMu.Unlock()

	if _, err := s.RunOnce(ctx); errors.Is(err, ErrBusy) {
		s.log.Info("tick skipped, manual sweep in progress")
	}
}

// RunOnce performs one sweep and hands the result to every observer. It
// returns ErrBusy without running when another sweep holds the lock.
func (s *Scheduler) RunOnce(ctx context.Context) (sweep.Result, error) {
	if !s.running.TryLock() {
		return sweep.Result{}, ErrBusy
	}
	defer s.running.Unlock()

	runCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	res, err := s.runner.Run(runCtx)
	if err != nil {
		s.log.WithError(err).WithField("run_id", res.RunID).Error("sweep failed")
	}
	s.notify(ctx, res, err)
	return res, err
}

func (s *Scheduler) notify(ctx context.Context, res sweep.Result, runErr error) {
	for _, o := range s.observers {
		octx, cancel := context.WithTimeout(context.WithoutCancel(ctx), observerTimeout)
		if err := o.Observe(octx, res, runErr); err != nil {
			s.log.WithError(err).WithFields(logrus.Fields{
				"run_id":   res.RunID,
				"observer": fmt.Sprintf("%T", o),
			}).Warn("observer failed")
		}
		cancel()
	}
}
