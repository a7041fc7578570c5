package reconcile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// QuietPeriod is how long Watch waits after the last change before calling back.
var QuietPeriod = 500 * time.Millisecond

// Watch calls fn once, and again whenever job records under workdir change.
//
// Bursts of changes are coalesced into one call. Watch blocks until ctx is
// done, and returns ctx's error, or an error caused in starting to watch.
func Watch(ctx context.Context, workdir string, fn func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	targets := []string{filepath.Join(workdir, "jobs")}
	if _, err := os.Stat(targets[0]); err != nil {
		// jobs/ appears once the batch tool started; wait for it at the parent.
		targets = []string{workdir}
	}
	for _, t := range targets {
		if err := w.Add(t); err != nil {
			return err
		}
	}

	fn()

	timer := time.NewTimer(QuietPeriod)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			return err
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) && filepath.Base(ev.Name) == "jobs" {
				if err := w.Add(ev.Name); err != nil {
					return fmt.Errorf("watching %s: %w", ev.Name, err)
				}
			}
			timer.Reset(QuietPeriod)
		case <-timer.C:
			fn()
		}
	}
}
