package schedule

import (
	"context"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler runs jobs in-process on their cron frequency. A job whose
// previous run is still going is skipped.
type Scheduler struct {
	cron *cron.Cron
	log  *zap.SugaredLogger
}

func NewScheduler(log *zap.SugaredLogger) *Scheduler {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	logger := cronLogger{log: log}
	return &Scheduler{
		cron: cron.New(cron.WithLogger(logger), cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger))),
		log:  log,
	}
}

func (s *Scheduler) AddJob(ctx context.Context, job Job, run func(context.Context, Job) error) error {
	if err := Validate(job.Frequency); err != nil {
		return err
	}
	_, err := s.cron.AddFunc(job.Frequency, func() {
		s.log.Infow("scheduled backup starting", "project", job.Project, "container", job.Container)
		if err := run(ctx, job); err != nil {
			s.log.Errorw("scheduled backup failed", "container", job.Container, "error", err)
		}
	})
	return err
}

func (s *Scheduler) Entries() []cron.Entry {
	return s.cron.Entries()
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}
