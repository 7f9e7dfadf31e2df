package checkpoint

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Trigger performs the final checkpoint of the process exactly once, no
// matter how many exit paths reach it.
type Trigger struct {
	cp      *Checkpointer
	timeout time.Duration
	logger  *slog.Logger

	once sync.Once
	err  error
}

// NewTrigger returns a trigger whose checkpoint gives up after timeout.
func NewTrigger(cp *Checkpointer, timeout time.Duration, logger *slog.Logger) *Trigger {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Trigger{cp: cp, timeout: timeout, logger: logger.With("component", "checkpoint")}
}

// Fire saves the store on the first call and returns that result on every
// call. A failure is logged; it never blocks the caller beyond the timeout.
func (t *Trigger) Fire(reason string) error {
	t.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
		defer cancel()

		start := time.Now()
		t.err = t.cp.Save(ctx)
		if t.err != nil {
			t.logger.Error("final checkpoint failed, changes since the last checkpoint are lost",
				"reason", reason, "err", t.err)
			return
		}
		t.logger.Info("final checkpoint written", "reason", reason, "took", time.Since(start))
	})
	return t.err
}

// Guard is meant to be deferred at the top of main and of every long-lived
// goroutine. On a panic it fires the checkpoint and then re-panics so the
// crash is still reported.
func (t *Trigger) Guard() {
	if r := recover(); r != nil {
		t.OnPanic(r)
		panic(r)
	}
}

// OnPanic fires the checkpoint for a panic recovered elsewhere.
func (t *Trigger) OnPanic(r any) {
	t.logger.Error("fatal error, writing checkpoint before exit", "panic", fmt.Sprint(r))
	_ = t.Fire("panic")
}
