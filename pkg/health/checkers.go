package health

import (
	"context"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/go-faster/errors"
)

// Pinger is satisfied by pgxpool.Pool and anything else that can
// answer a connectivity ping.
type Pinger interface {
	Ping(ctx context.Context) error
}

// DatabaseCheck gates readiness on database connectivity.
func DatabaseCheck(db Pinger) Check {
	return func(ctx context.Context) error {
		if err := db.Ping(ctx); err != nil {
			return errors.Wrap(err, "database ping")
		}
		return nil
	}
}

// GoroutineCheck reports an error when the goroutine count passes the
// limit. Mostly catches handler leaks under sustained load.
func GoroutineCheck(limit int) Check {
	return func(context.Context) error {
		if n := runtime.NumGoroutine(); n > limit {
			return errors.Errorf("%d goroutines, limit %d", n, limit)
		}
		return nil
	}
}

// GCPauseCheck reports an error when any recorded stop-the-world pause
// exceeds the limit, a sign the heap has grown past what the instance
// can serve from.
func GCPauseCheck(limit time.Duration) Check {
	return func(context.Context) error {
		var stats debug.GCStats
		debug.ReadGCStats(&stats)
		for _, pause := range stats.Pause {
			if pause > limit {
				return errors.Errorf("GC pause %s, limit %s", pause, limit)
			}
		}
		return nil
	}
}
