package sessions

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Errorw(msg, append(keysAndValues, "error", err)...)
}

// Scheduler runs Sweep on a cron schedule.
type Scheduler struct {
	cron *cron.Cron
}

// StartSweep schedules Sweep with spec (e.g. "@every 1m"). Overlapping runs
// are skipped and a panicking run is logged.
func (s *Service) StartSweep(spec string, timeout time.Duration) (*Scheduler, error) {
	logger := cronLogger{l: s.logger.Sugar()}
	c := cron.New(cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)), cron.WithLogger(logger))
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		s.Sweep(ctx)
	})
	if err != nil {
		return nil, err
	}
	c.Start()
	s.logger.Info("session sweep scheduled", zap.String("schedule", spec))
	return &Scheduler{cron: c}, nil
}

// Stop waits for a running sweep to finish.
func (sc *Scheduler) Stop() {
	<-sc.cron.Stop().Done()
}
