package schedule

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

var (
	ErrJobNotFound = errors.New("job not found")
	ErrJobBusy     = errors.New("job still running")
)

type Job interface {
	Name() string
	Run(ctx context.Context) error
}

type Scheduler interface {
	AddJob(job Job, spec string) error
	RunNow(name string) error
	Start(ctx context.Context)
	Stop()
}

type Option func(*CronScheduler)

// WithJobTimeout bounds every run of every job. Zero means no bound.
func WithJobTimeout(d time.Duration) Option {
	return func(c *CronScheduler) {
		c.timeout = d
	}
}

type scheduledJob struct {
	job     Job
	spec    string
	id      cron.EntryID
	running atomic.Bool
}

type CronScheduler struct {
	cron    *cron.Cron
	mu      sync.Mutex
	jobs    map[string]*scheduledJob
	timeout time.Duration
	ctx     context.Context
}

func NewCronScheduler(opts ...Option) *CronScheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := &CronScheduler{
		cron: cron.New(cron.WithParser(parser)),
		jobs: make(map[string]*scheduledJob),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AddJob registers job under spec. Job names must be unique.
func (c *CronScheduler) AddJob(job Job, spec string) error {
	name := job.Name()
	logger := logutil.GetLogger(context.Background()).With(zap.String("job", name), zap.String("spec", spec))
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.jobs[name]; ok {
		return fmt.Errorf("job %s already scheduled", name)
	}
	sj := &scheduledJob{job: job, spec: spec}
	id, err := c.cron.AddFunc(spec, func() {
		_ = c.run(sj)
	})
	if err != nil {
		logger.Error("schedule job failed", zap.Error(err))
		return err
	}
	sj.id = id
	c.jobs[name] = sj
	logger.Info("job scheduled")
	return nil
}

// RunNow runs a registered job synchronously, outside its schedule.
func (c *CronScheduler) RunNow(name string) error {
	c.mu.Lock()
	sj, ok := c.jobs[name]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	return c.run(sj)
}

func (c *CronScheduler) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	c.mu.Lock()
	c.ctx = ctx
	c.mu.Unlock()
	c.cron.Start()
}

// Stop waits for scheduled runs to return.
func (c *CronScheduler) Stop() {
	<-c.cron.Stop().Done()
}

func (c *CronScheduler) baseContext() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx == nil {
		return context.Background()
	}
	return c.ctx
}

// run executes one job at a time per name; overlapping triggers are dropped.
func (c *CronScheduler) run(sj *scheduledJob) error {
	ctx := c.baseContext()
	logger := logutil.GetLogger(ctx).With(zap.String("job", sj.job.Name()), zap.String("spec", sj.spec))
	if !sj.running.CompareAndSwap(false, true) {
		logger.Info("job skipped: still running")
		return ErrJobBusy
	}
	defer sj.running.Store(false)

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	start := time.Now()
	err := sj.job.Run(ctx)
	elapsed := time.Since(start)
	if err != nil {
		logger.Error("job finished", zap.Error(err), zap.Duration("duration", elapsed))
		return err
	}
	logger.Info("job finished", zap.Duration("duration", elapsed))
	return nil
}
