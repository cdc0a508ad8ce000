package migrate

import (
	"context"
	"fmt"
	"log"
	"sync"
)

// DefaultConcurrency bounds how many instance coordinators run at once.
// Kept small to stay under the EC2 snapshot and attach/detach rate limits.
const DefaultConcurrency = 4

// Scheduler fans instance coordinators out across the selected instance set
// with bounded parallelism and aggregates their outcomes.
type Scheduler struct {
	provider    CloudProvider
	opts        Options
	concurrency int
}

// NewScheduler builds a scheduler. concurrency <= 0 uses DefaultConcurrency.
func NewScheduler(provider CloudProvider, opts Options, concurrency int) *Scheduler {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Scheduler{provider: provider, opts: opts, concurrency: concurrency}
}

// Run discovers the target instances (explicit ids, or all instances in the
// region when ids is empty) and migrates their volumes. A failure in one
// instance never cancels another instance's in-flight work; cancellation of
// ctx stops dispatching new instances while in-flight coordinators finish
// their current stage cleanly. The returned report is complete even on
// partial failure. The error is only non-nil when discovery itself fails.
func (s *Scheduler) Run(ctx context.Context, ids []string) (*Report, error) {
	report := NewReport()

	instances, err := s.provider.ListInstances(ctx, ids)
	if err != nil {
		return report, fmt.Errorf("failed to list instances: %w", err)
	}

	// Explicitly requested ids that did not resolve are reported, not
	// fatal: the rest of the run proceeds.
	found := make(map[string]bool, len(instances))
	for _, inst := range instances {
		found[inst.ID] = true
	}
	for _, id := range ids {
		if !found[id] {
			log.Printf("Warning: instance %s does not exist", id)
			report.Add(Result{
				InstanceID: id,
				Outcome:    OutcomeFailed,
				Reason:     "instance not found",
			})
		}
	}

	if len(instances) == 0 {
		log.Printf("No instances to process")
		return report, nil
	}
	log.Printf("Encrypting volumes on %d instance(s), %d at a time", len(instances), s.concurrency)

	work := make(chan Instance)
	var wg sync.WaitGroup
	for i := 0; i < s.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			coord := NewCoordinator(s.provider, report, s.opts)
			for inst := range work {
				coord.Run(ctx, inst)
			}
		}()
	}

dispatch:
	for _, inst := range instances {
		select {
		case <-ctx.Done():
			log.Printf("Run cancelled, not dispatching remaining instances")
			break dispatch
		case work <- inst:
		}
	}
	close(work)
	wg.Wait()

	return report, nil
}
