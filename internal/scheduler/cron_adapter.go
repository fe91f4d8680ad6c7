package scheduler

import (
	"log/slog"

	"github.com/robfig/cron/v3"
)

// RobfigCronEngine adapts robfig/cron/v3 to the CronEngine interface. A job
// still running when its next tick arrives is skipped rather than stacked,
// since its channel would only queue the prompt behind the running turn.
type RobfigCronEngine struct {
	c *cron.Cron
}

// NewRobfigCronEngine creates a cron engine for standard 5-field expressions
// and descriptors such as "@every 1h". Cron's own messages go to logger
// (slog.Default when nil).
func NewRobfigCronEngine(logger *slog.Logger) *RobfigCronEngine {
	cl := cronLogger{l: logger}
	return &RobfigCronEngine{
		c: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
	}
}

// AddFunc schedules cmd and returns the entry ID for Remove.
func (r *RobfigCronEngine) AddFunc(spec string, cmd func()) (int, error) {
	id, err := r.c.AddFunc(spec, cmd)
	return int(id), err
}

func (r *RobfigCronEngine) Remove(id int) {
	r.c.Remove(cron.EntryID(id))
}

func (r *RobfigCronEngine) Start() {
	r.c.Start()
}

// Stop halts the scheduler and waits for running jobs to return. Registered
// entries are kept.
func (r *RobfigCronEngine) Stop() {
	<-r.c.Stop().Done()
}

// cronLogger implements cron.Logger on slog. Cron's info chatter is logged at debug.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) log() *slog.Logger {
	if c.l != nil {
		return c.l
	}
	return slog.Default()
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.log().Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.log().Error("cron: "+msg, append([]interface{}{"err", err}, keysAndValues...)...)
}
