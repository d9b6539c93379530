package host

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// cronLogger adapts slog to cron.Logger.
type cronLogger struct{ l *slog.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error(msg, append([]interface{}{"err", err}, keysAndValues...)...)
}

// Run ticks h every interval until ctx is done, then waits for a running tick
// to finish. A slow tick makes the next one skip rather than queue.
func (h *Host) Run(ctx context.Context, every time.Duration) error {
	if every < time.Second {
		every = time.Second
	}
	cl := cronLogger{l: h.log.With("component", "scheduler")}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", every), func() { h.Tick(time.Now()) }); err != nil {
		return fmt.Errorf("schedule host tick: %w", err)
	}
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}
