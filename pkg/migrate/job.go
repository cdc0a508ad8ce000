package migrate

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"
)

// JobState tracks a MigrationJob's progress through the encrypt-and-swap
// sequence.
type JobState string

const (
	StateDiscovered        JobState = "DISCOVERED"
	StateSkipped           JobState = "SKIPPED_ALREADY_ENCRYPTED"
	StateSnapshotPending   JobState = "SNAPSHOT_PENDING"
	StateSnapshotReady     JobState = "SNAPSHOT_READY"
	StateCopyPending       JobState = "COPY_PENDING"
	StateCopyReady         JobState = "COPY_READY"
	StateVolumePending     JobState = "VOLUME_PENDING"
	StateVolumeReady       JobState = "VOLUME_READY"
	StateAttachPending     JobState = "ATTACH_PENDING"
	StateAttached          JobState = "ATTACHED"
	StateOldVolumeDetached JobState = "OLD_VOLUME_DETACHED"
	StateDone              JobState = "DONE"
	StateFailed            JobState = "FAILED"
)

// Timeouts bounds each wait stage of a migration. Zero values fall back to
// the defaults below.
type Timeouts struct {
	Snapshot time.Duration // snapshot creation and encrypted copy
	Volume   time.Duration // volume creation, detach and attach settling
	Instance time.Duration // instance stop and start
}

func (t Timeouts) withDefaults() Timeouts {
	if t.Snapshot <= 0 {
		t.Snapshot = 30 * time.Minute
	}
	if t.Volume <= 0 {
		t.Volume = 10 * time.Minute
	}
	if t.Instance <= 0 {
		t.Instance = 10 * time.Minute
	}
	return t
}

// Options configures the migration engine. The zero value gets sensible
// defaults from the constructors.
type Options struct {
	// KeyID is the resolved CMK the encrypted snapshot copy is made under.
	// Empty means the account's default EBS encryption key.
	KeyID    string
	Timeouts Timeouts
	Backoff  BackoffPolicy
}

// MigrationJob drives one unencrypted volume through snapshot, encrypted
// copy, volume re-creation and swap. Owned exclusively by the goroutine that
// runs it; discarded once it reaches a terminal state.
type MigrationJob struct {
	provider CloudProvider
	opts     Options

	instanceID string
	mapping    VolumeMapping

	state JobState

	// Provider-side resources created so far.
	snapshotID     string // plaintext snapshot of the source volume
	copySnapshotID string // encrypted copy
	newVolumeID    string // replacement volume

	// attached flips once the replacement volume is attached; it decides
	// whether failure cleanup may delete the new volume.
	attached bool
}

// NewMigrationJob builds a job for one volume of one instance. The caller
// (the instance coordinator) guarantees the instance is stopped before Run
// is invoked.
func NewMigrationJob(provider CloudProvider, instanceID string, mapping VolumeMapping, opts Options) *MigrationJob {
	opts.Timeouts = opts.Timeouts.withDefaults()
	if opts.Backoff.MaxAttempts == 0 {
		opts.Backoff = DefaultBackoff()
	}
	return &MigrationJob{
		provider:   provider,
		opts:       opts,
		instanceID: instanceID,
		mapping:    mapping,
		state:      StateDiscovered,
	}
}

// State returns the job's current state.
func (j *MigrationJob) State() JobState { return j.state }

// Run executes the state machine to a terminal state and returns the
// volume's report entry. All provider errors are absorbed here; Run never
// panics or propagates an error past the job boundary.
func (j *MigrationJob) Run(ctx context.Context) Result {
	if j.mapping.Encrypted {
		// Key mismatch is not corrected; only absence of encryption
		// triggers action.
		j.state = StateSkipped
		return j.result(OutcomeAlreadyEncrypted, "")
	}

	if err := j.snapshotStage(ctx); err != nil {
		j.failCleanup(ctx)
		return j.fail(err, "snapshot failed")
	}

	if err := j.copyStage(ctx); err != nil {
		// The plaintext snapshot from the prior stage is deleted
		// regardless of the copy's outcome.
		j.failCleanup(ctx)
		return j.fail(err, "snapshot copy failed")
	}

	if err := j.volumeStage(ctx); err != nil {
		j.failCleanup(ctx)
		return j.fail(err, "volume creation failed")
	}

	// The swap must not be interrupted between detach and attach, so the
	// whole stage runs outside the run-level cancellation signal.
	if err := j.swapStage(context.WithoutCancel(ctx)); err != nil {
		j.failCleanup(ctx)
		return j.fail(err, "volume swap failed")
	}

	j.finishCleanup(ctx)
	j.state = StateDone
	log.Printf("%s: volume %s replaced by encrypted volume %s at %s",
		j.instanceID, j.mapping.VolumeID, j.newVolumeID, j.mapping.Device)
	return j.result(OutcomeEncrypted, "")
}

// snapshotStage: DISCOVERED -> SNAPSHOT_PENDING -> SNAPSHOT_READY.
func (j *MigrationJob) snapshotStage(ctx context.Context) error {
	j.state = StateSnapshotPending
	log.Printf("%s: taking a snapshot of volume %s", j.instanceID, j.mapping.VolumeID)

	desc := fmt.Sprintf("ec2crypt snapshot of %s", j.mapping.VolumeID)
	err := j.opts.Backoff.Retry(ctx, func() error {
		id, err := j.provider.CreateSnapshot(ctx, j.mapping.VolumeID, desc)
		if err != nil {
			return err
		}
		j.snapshotID = id
		return nil
	})
	if err != nil {
		return err
	}

	if err := j.provider.WaitForSnapshot(ctx, j.snapshotID, j.opts.Timeouts.Snapshot); err != nil {
		return j.stageWaitErr("snapshot", err)
	}
	j.state = StateSnapshotReady
	return nil
}

// copyStage: SNAPSHOT_READY -> COPY_PENDING -> COPY_READY.
func (j *MigrationJob) copyStage(ctx context.Context) error {
	j.state = StateCopyPending
	key := j.opts.KeyID
	if key == "" {
		log.Printf("%s: copying snapshot %s encrypted under the default EBS key", j.instanceID, j.snapshotID)
	} else {
		log.Printf("%s: copying snapshot %s encrypted under key %s", j.instanceID, j.snapshotID, key)
	}

	desc := fmt.Sprintf("ec2crypt encrypted copy of %s", j.snapshotID)
	err := j.opts.Backoff.Retry(ctx, func() error {
		id, err := j.provider.CopySnapshot(ctx, j.snapshotID, key, desc)
		if err != nil {
			return err
		}
		j.copySnapshotID = id
		return nil
	})
	if err != nil {
		return err
	}

	if err := j.provider.WaitForSnapshot(ctx, j.copySnapshotID, j.opts.Timeouts.Snapshot); err != nil {
		return j.stageWaitErr("copy", err)
	}
	j.state = StateCopyReady
	return nil
}

// volumeStage: COPY_READY -> VOLUME_PENDING -> VOLUME_READY. The replacement
// is created in the source volume's availability zone with matching size and
// type, and carries the source volume's tags.
func (j *MigrationJob) volumeStage(ctx context.Context) error {
	j.state = StateVolumePending
	log.Printf("%s: creating an encrypted volume from %s", j.instanceID, j.copySnapshotID)

	err := j.opts.Backoff.Retry(ctx, func() error {
		id, err := j.provider.CreateVolume(ctx, j.copySnapshotID,
			j.mapping.AvailabilityZone, j.mapping.VolumeType, j.mapping.Size, j.mapping.Tags)
		if err != nil {
			return err
		}
		j.newVolumeID = id
		return nil
	})
	if err != nil {
		return err
	}

	if err := j.provider.WaitForVolume(ctx, j.newVolumeID, VolumeAvailable, j.opts.Timeouts.Volume); err != nil {
		return j.stageWaitErr("volume", err)
	}
	j.state = StateVolumeReady
	return nil
}

// swapStage: VOLUME_READY -> ATTACH_PENDING -> ATTACHED ->
// OLD_VOLUME_DETACHED. Detaches the source volume and attaches the
// replacement at the identical device path with the identical
// delete-on-termination flag. If the attach fails the source volume is
// re-attached so the instance is never left without a volume at that device.
func (j *MigrationJob) swapStage(ctx context.Context) error {
	j.state = StateAttachPending
	log.Printf("%s: swapping volume %s for %s at %s",
		j.instanceID, j.mapping.VolumeID, j.newVolumeID, j.mapping.Device)

	err := j.opts.Backoff.Retry(ctx, func() error {
		return j.provider.DetachVolume(ctx, j.instanceID, j.mapping.VolumeID)
	})
	if err != nil {
		return err
	}
	if err := j.provider.WaitForVolume(ctx, j.mapping.VolumeID, VolumeAvailable, j.opts.Timeouts.Volume); err != nil {
		return j.stageWaitErr("detach", err)
	}

	if err := j.attachNew(ctx); err != nil {
		j.reattachOriginal(ctx)
		return err
	}
	j.state = StateAttached

	if err := j.provider.SetDeleteOnTermination(ctx, j.instanceID, j.mapping.Device, j.mapping.DeleteOnTermination); err != nil {
		// The data migration already succeeded; a lost flag is a defect
		// worth failing for since the replacement must match the original
		// mapping exactly.
		return err
	}

	j.state = StateOldVolumeDetached
	return nil
}

func (j *MigrationJob) attachNew(ctx context.Context) error {
	err := j.opts.Backoff.Retry(ctx, func() error {
		return j.provider.AttachVolume(ctx, j.instanceID, j.newVolumeID, j.mapping.Device)
	})
	if err != nil {
		return err
	}
	if err := j.provider.WaitForVolume(ctx, j.newVolumeID, VolumeInUse, j.opts.Timeouts.Volume); err != nil {
		return j.stageWaitErr("attach", err)
	}
	j.attached = true
	return nil
}

// reattachOriginal puts the source volume back after a failed attach of the
// replacement. Best effort: the volume is still intact either way, but a
// successful re-attach leaves the instance bootable.
func (j *MigrationJob) reattachOriginal(ctx context.Context) {
	log.Printf("%s: re-attaching original volume %s at %s after failed swap",
		j.instanceID, j.mapping.VolumeID, j.mapping.Device)
	if err := j.provider.AttachVolume(ctx, j.instanceID, j.mapping.VolumeID, j.mapping.Device); err != nil {
		log.Printf("Warning: failed to re-attach original volume %s: %v", j.mapping.VolumeID, err)
		return
	}
	if err := j.provider.WaitForVolume(ctx, j.mapping.VolumeID, VolumeInUse, j.opts.Timeouts.Volume); err != nil {
		log.Printf("Warning: original volume %s did not report in-use after re-attach: %v", j.mapping.VolumeID, err)
	}
}

// finishCleanup runs after a verified swap: the source volume and both
// intermediate snapshots are deleted. Failures are warnings only; the
// functional migration already occurred.
func (j *MigrationJob) finishCleanup(ctx context.Context) {
	log.Printf("%s: deleting original volume %s and intermediate snapshots", j.instanceID, j.mapping.VolumeID)
	j.bestEffortDeleteVolume(ctx, j.mapping.VolumeID)
	j.bestEffortDeleteSnapshot(ctx, j.snapshotID)
	j.bestEffortDeleteSnapshot(ctx, j.copySnapshotID)
}

// failCleanup runs after a terminal failure: intermediate snapshots are
// always deleted, and the replacement volume too unless it is the volume now
// attached to the instance. The source volume is never deleted on failure.
func (j *MigrationJob) failCleanup(ctx context.Context) {
	j.bestEffortDeleteSnapshot(ctx, j.snapshotID)
	j.bestEffortDeleteSnapshot(ctx, j.copySnapshotID)
	if !j.attached {
		j.bestEffortDeleteVolume(ctx, j.newVolumeID)
	}
}

func (j *MigrationJob) bestEffortDeleteSnapshot(ctx context.Context, id string) {
	if id == "" {
		return
	}
	if err := j.provider.DeleteSnapshot(ctx, id); err != nil {
		log.Printf("Warning: failed to delete snapshot %s: %v", id, err)
	}
}

func (j *MigrationJob) bestEffortDeleteVolume(ctx context.Context, id string) {
	if id == "" {
		return
	}
	if err := j.provider.DeleteVolume(ctx, id); err != nil {
		log.Printf("Warning: failed to delete volume %s: %v", id, err)
	}
}

// stageWaitErr normalizes a wait failure into the timeout reason format when
// the stage exceeded its bound.
func (j *MigrationJob) stageWaitErr(stage string, err error) error {
	if IsTimeout(err) {
		return Timeout(stage, fmt.Errorf("timeout waiting for %s", stage))
	}
	return err
}

func (j *MigrationJob) fail(err error, fallback string) Result {
	j.state = StateFailed
	reason := fallback
	if err != nil {
		var pe *ProviderError
		if IsTimeout(err) {
			if errors.As(err, &pe) {
				reason = fmt.Sprintf("timeout waiting for %s", pe.Op)
			} else {
				reason = "timeout"
			}
		} else {
			reason = fmt.Sprintf("%s: %v", fallback, err)
		}
	}
	log.Printf("%s: volume %s migration failed: %s", j.instanceID, j.mapping.VolumeID, reason)
	return j.result(OutcomeFailed, reason)
}

func (j *MigrationJob) result(outcome Outcome, reason string) Result {
	return Result{
		InstanceID: j.instanceID,
		VolumeID:   j.mapping.VolumeID,
		Outcome:    outcome,
		Reason:     reason,
	}
}
