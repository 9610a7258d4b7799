package scheduler

import (
	"context"

	"github.com/robfig/cron/v3"
)

type Scheduler struct {
	cron *cron.Cron
	base context.Context
}

func New() *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithSeconds()),
		base: context.Background(),
	}
}

// AddJob registers fn under a six-field cron spec. Errors from fn are the
// job's own responsibility; the pipelines log and swallow their failures.
func (s *Scheduler) AddJob(spec string, job func(context.Context) error) error {
	_, err := s.cron.AddFunc(spec, func() {
		_ = job(s.base)
	})
	return err
}

// Start begins dispatch. Jobs triggered after ctx is cancelled still run,
// but receive the cancelled context so portal calls bail out early.
func (s *Scheduler) Start(ctx context.Context) {
	s.base = ctx
	s.cron.Start()
}

func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}
