package migrate

import (
	"context"
	"fmt"
	"log"
)

// Coordinator migrates the volumes of a single instance, guaranteeing a
// consistent before/after power state. Volumes are processed strictly
// sequentially: the root-volume swap is instance-exclusive and EC2 only
// serializes attach/detach on a single instance safely one at a time.
type Coordinator struct {
	provider CloudProvider
	opts     Options
	report   *Report
}

// NewCoordinator builds a coordinator writing outcomes into report.
func NewCoordinator(provider CloudProvider, report *Report, opts Options) *Coordinator {
	opts.Timeouts = opts.Timeouts.withDefaults()
	if opts.Backoff.MaxAttempts == 0 {
		opts.Backoff = DefaultBackoff()
	}
	return &Coordinator{provider: provider, opts: opts, report: report}
}

// Run migrates every unencrypted EBS volume of inst. Errors are absorbed
// into report entries; Run never lets one instance's failure escape to the
// scheduler.
func (c *Coordinator) Run(ctx context.Context, inst Instance) {
	log.Printf("Starting work on instance %s", inst.ID)

	mappings, err := c.provider.DescribeInstanceVolumes(ctx, inst.ID)
	if err != nil {
		c.report.Add(Result{
			InstanceID: inst.ID,
			Outcome:    OutcomeFailed,
			Reason:     fmt.Sprintf("failed to describe volumes: %v", err),
		})
		return
	}

	// Already-encrypted volumes are recorded and dropped up front so an
	// instance with nothing to do is never stopped.
	var pending []VolumeMapping
	for _, m := range mappings {
		if m.Encrypted {
			log.Printf("%s: volume %s already encrypted", inst.ID, m.VolumeID)
			c.report.Add(Result{
				InstanceID: inst.ID,
				VolumeID:   m.VolumeID,
				Outcome:    OutcomeAlreadyEncrypted,
			})
			continue
		}
		pending = append(pending, m)
	}
	if len(pending) == 0 {
		log.Printf("Done with instance %s: nothing to encrypt", inst.ID)
		return
	}

	wasRunning, err := c.ensureStopped(ctx, inst)
	if err != nil {
		reason := fmt.Sprintf("failed to stop instance: %v", err)
		for _, m := range pending {
			c.report.Add(Result{
				InstanceID: inst.ID,
				VolumeID:   m.VolumeID,
				Outcome:    OutcomeFailed,
				Reason:     reason,
			})
		}
		return
	}

	for _, m := range pending {
		if ctx.Err() != nil {
			c.report.Add(Result{
				InstanceID: inst.ID,
				VolumeID:   m.VolumeID,
				Outcome:    OutcomeFailed,
				Reason:     "run cancelled",
			})
			continue
		}
		job := NewMigrationJob(c.provider, inst.ID, m, c.opts)
		c.report.Add(job.Run(ctx))
	}

	// Restoration is attempted even when volumes failed: the instance must
	// never be left stopped as a side effect of a failed migration. The
	// restart itself runs outside the cancellation signal for the same
	// reason.
	if wasRunning {
		c.restore(context.WithoutCancel(ctx), inst.ID)
	}

	log.Printf("Done with instance %s", inst.ID)
}

// ensureStopped records the instance's original power state and stops it if
// it is running. Returns whether the instance was running before. Root
// volumes are only detachable while stopped, and stopping is the safe side
// for data volumes too, so the engine always migrates against a stopped
// instance.
func (c *Coordinator) ensureStopped(ctx context.Context, inst Instance) (wasRunning bool, err error) {
	switch inst.State {
	case PowerStopped:
		// Left stopped afterward as well.
		return false, nil
	case PowerRunning:
		log.Printf("Stopping running instance %s", inst.ID)
		err := c.opts.Backoff.Retry(ctx, func() error {
			return c.provider.StopInstance(ctx, inst.ID)
		})
		if err != nil {
			return true, err
		}
		if err := c.provider.WaitForInstanceState(ctx, inst.ID, PowerStopped, c.opts.Timeouts.Instance); err != nil {
			if IsTimeout(err) {
				return true, Timeout("stop", fmt.Errorf("timeout waiting for stop"))
			}
			return true, err
		}
		return true, nil
	default:
		// stopping/pending/terminated: somebody else is mutating this
		// instance, or it is gone. Fail rather than guess.
		return false, StateConflict("stop", fmt.Errorf("instance %s in unexpected state %q", inst.ID, inst.State))
	}
}

// restore starts an instance that was running before the run. A restart
// failure is reported as its own instance-scope outcome, distinct from
// volume failures.
func (c *Coordinator) restore(ctx context.Context, instanceID string) {
	log.Printf("Restarting instance %s", instanceID)
	err := c.opts.Backoff.Retry(ctx, func() error {
		return c.provider.StartInstance(ctx, instanceID)
	})
	if err == nil {
		err = c.provider.WaitForInstanceState(ctx, instanceID, PowerRunning, c.opts.Timeouts.Instance)
	}
	if err != nil {
		log.Printf("Warning: instance %s failed to restart: %v", instanceID, err)
		c.report.Add(Result{
			InstanceID: instanceID,
			Outcome:    OutcomeFailedRestart,
			Reason:     fmt.Sprintf("failed to restart instance: %v", err),
		})
	}
}
