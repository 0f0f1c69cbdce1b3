// Package jobs runs named periodic background work.
package jobs

import (
	"context"
	"log/slog"
	"time"
)

// Every calls fn once per interval until ctx is done. Runs never overlap: a
// tick that arrives while fn is still running is dropped. Errors are logged
// and the loop keeps going.
func Every(ctx context.Context, interval time.Duration, name string, log *slog.Logger, fn func(context.Context) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	log.Info("job started", "job", name, "interval", interval.String())
	for {
		select {
		case <-ctx.Done():
			log.Info("job stopped", "job", name)
			return
		case <-ticker.C:
			start := time.Now()
			if err := fn(ctx); err != nil {
				log.Error("job failed", "job", name, "error", err, "duration_ms", time.Since(start).Milliseconds())
				continue
			}
			log.Debug("job done", "job", name, "duration_ms", time.Since(start).Milliseconds())
		}
	}
}
