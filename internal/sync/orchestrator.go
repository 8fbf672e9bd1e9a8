package sync

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/dexporter/dexporter/internal/dex"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency caps how many conversations sync at once
const DefaultConcurrency = 5

// Orchestrator runs a Driver over many conversations with bounded
// concurrency. One conversation failing never stops the others.
type Orchestrator struct {
	Driver *Driver
	Limit  int
	RunID  string
}

// NewOrchestrator creates an orchestrator with a fresh run id
func NewOrchestrator(driver *Driver, limit int) *Orchestrator {
	if limit <= 0 {
		limit = DefaultConcurrency
	}
	return &Orchestrator{
		Driver: driver,
		Limit:  limit,
		RunID:  uuid.NewString(),
	}
}

// Run syncs every channel and returns one result per distinct channel, in
// input order. Errors are reported in the results, not returned.
func (o *Orchestrator) Run(ctx context.Context, channels []dex.Channel) []Result {
	channels = uniqueChannels(channels)
	results := make([]Result, len(channels))

	// a plain Group: a failed conversation must not cancel its siblings
	var g errgroup.Group
	g.SetLimit(o.Limit)

	for i, ch := range channels {
		g.Go(func() error {
			res, err := o.Driver.Sync(ctx, ch)
			if err != nil {
				log.Error("update channel failed", "channel", ch.Display(), "run", o.RunID, "err", err)
				res.Status = StatusError
				res.Err = err
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// uniqueChannels drops repeated channel ids so no two drivers share a file
func uniqueChannels(channels []dex.Channel) []dex.Channel {
	seen := make(map[dex.Snowflake]bool, len(channels))
	out := make([]dex.Channel, 0, len(channels))
	for _, ch := range channels {
		if seen[ch.ID] {
			log.Warn("channel listed twice, syncing once", "channel", ch.Display())
			continue
		}
		seen[ch.ID] = true
		out = append(out, ch)
	}
	return out
}
