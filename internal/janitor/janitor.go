// Package janitor runs a single background task on a fixed timer that
// removes every session whose state is `ended`. It is deliberately
// decoupled from the request path — the immediate eviction of an emptied
// lobby happens in the dispatcher's disconnect handler, not here.
package janitor

import (
	"context"
	"time"

	"github.com/barquiz/triviahost/internal/session"
)

type Logf func(format string, args ...any)

// Janitor periodically scans a Registry snapshot and removes ended
// sessions.
type Janitor struct {
	registry *session.Registry
	interval time.Duration
	logf     Logf
}

func New(registry *session.Registry, interval time.Duration, logf Logf) *Janitor {
	if logf == nil {
		logf = func(string, ...any) {}
	}
	return &Janitor{registry: registry, interval: interval, logf: logf}
}

// Run blocks, sweeping on every tick until ctx is canceled.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.Sweep()
		}
	}
}

// Sweep removes every session whose state is Ended. Exported so tests can
// invoke it directly without waiting for the ticker.
func (j *Janitor) Sweep() int {
	removed := 0
	for _, s := range j.registry.Snapshot() {
		if s.State() == session.Ended {
			j.registry.Remove(s.PIN())
			removed++
		}
	}
	if removed > 0 {
		j.logf("JANITOR: removed %d ended session(s)", removed)
	}
	return removed
}
