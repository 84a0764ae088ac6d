package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	apperrors "github.com/bolasblack/coldaw-export/internal/errors"
)

// result is produced by a worker and applied with e.mu held.
type result interface {
	apply(e *Engine)
	finish()
}

// Start launches the result applier and, when a poll interval is set, the
// auto-export schedule. Overlapping cycles are skipped.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return nil
	}

	e.quit = make(chan struct{})
	e.stopped = make(chan struct{})
	if e.poll > 0 {
		clog := cronLogger{e.logger}
		e.sched = cron.New(
			cron.WithLogger(clog),
			cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)),
		)
		spec := fmt.Sprintf("@every %s", e.poll)
		if _, err := e.sched.AddFunc(spec, func() { e.Tick(ctx) }); err != nil {
			e.sched = nil
			return apperrors.New(apperrors.KindValidation, "invalid poll interval "+e.poll.String(), err)
		}
		e.sched.Start()
		e.logger.Debug("auto-export scheduled", "every", e.poll.String())
	}

	e.running = true
	go e.loop()
	return nil
}

// Stop halts the schedule and waits for in-flight work to be applied.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	sched := e.sched
	e.sched = nil
	e.mu.Unlock()

	if sched != nil {
		<-sched.Stop().Done()
	}
	e.workers.Wait()
	close(e.quit)
	<-e.stopped
}

func (e *Engine) loop() {
	defer close(e.stopped)
	for {
		select {
		case r := <-e.results:
			e.applyResult(r)
		case <-e.quit:
			for {
				select {
				case r := <-e.results:
					e.applyResult(r)
				default:
					return
				}
			}
		}
	}
}

func (e *Engine) applyResult(r result) {
	e.mu.Lock()
	r.apply(e)
	e.mu.Unlock()
	r.finish()
}

func (e *Engine) spawn(work func() result) {
	e.workers.Add(1)
	go func() {
		defer e.workers.Done()
		e.deliver(work())
	}()
}

// deliver hands r to the applier, or applies it in place when the engine
// is not running.
func (e *Engine) deliver(r result) {
	e.mu.Lock()
	if !e.running {
		r.apply(e)
		e.mu.Unlock()
		r.finish()
		return
	}
	e.mu.Unlock()
	e.results <- r
}

// loginResult carries a finished login back to the applier.
type loginResult struct {
	username string
	err      error
	done     chan struct{}
}

func (r *loginResult) apply(e *Engine) {
	if r.err == nil {
		e.setLocked(StateSuccess, "Logged in as: "+r.username)
		return
	}
	e.logger.Warn("login failed", "user", r.username, "error", r.err)
	if apperrors.Is(r.err, apperrors.KindInvalidInput) {
		e.setLocked(StateError, msgCredentials)
		return
	}
	e.setLocked(StateError, "Login failed: "+apperrors.MessageOf(r.err))
}

func (r *loginResult) finish() { close(r.done) }

// cronLogger routes scheduler logs through slog.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error(msg, append(keysAndValues, "error", err)...)
}
