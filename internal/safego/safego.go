package safego

import (
	"context"
	"fmt"
	"os"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	initialBackoff = 200 * time.Millisecond
	maxBackoff     = 30 * time.Second
)

// GroupGo runs fn on group and restarts it with exponential backoff when it
// panics. A returned error (or nil) ends the goroutine with errgroup
// semantics. Cancelling ctx stops the restart loop.
//
// Panics are reported on stderr rather than through the logger, since the
// logger may be what panicked.
func GroupGo(ctx context.Context, group *errgroup.Group, name string, fn func(context.Context) error) {
	if group == nil || fn == nil {
		return
	}
	group.Go(func() error {
		backoff := initialBackoff
		for restarts := 0; ; restarts++ {
			if ctx.Err() != nil {
				return nil
			}
			err, recovered := runRecovered(ctx, fn)
			if recovered == nil {
				return err
			}
			_, _ = fmt.Fprintf(os.Stderr, "WARN: %s panicked (restart %d): %v\n%s\n", name, restarts+1, recovered, debug.Stack())

			// Deterministic jitter in [0, backoff/2).
			wait := backoff
			if half := backoff / 2; half > 0 {
				wait += time.Duration(time.Now().UnixNano() % int64(half))
			}
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil
			case <-timer.C:
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
	})
}

func runRecovered(ctx context.Context, fn func(context.Context) error) (err error, recovered any) {
	defer func() {
		if r := recover(); r != nil {
			recovered = r
		}
	}()
	return fn(ctx), nil
}
