package migrate

import (
	"context"
	"time"
)

// CloudProvider is the set of cloud operations the migration engine consumes.
// The production implementation lives in pkg/aws; tests substitute a fake.
//
// Wait methods block until the resource reaches the requested state, the
// timeout elapses, or the context is cancelled. A timeout surfaces as an
// error classified ErrorKindTimeout so callers can report it distinctly.
type CloudProvider interface {
	// ListInstances returns the instances in the configured region. An empty
	// id list means all non-terminated instances; otherwise only the listed
	// instances are returned, and ids that do not exist are simply absent
	// from the result.
	ListInstances(ctx context.Context, ids []string) ([]Instance, error)

	// DescribeInstanceVolumes returns the EBS volume mappings attached to
	// an instance, in block-device-mapping order.
	DescribeInstanceVolumes(ctx context.Context, instanceID string) ([]VolumeMapping, error)

	StopInstance(ctx context.Context, instanceID string) error
	StartInstance(ctx context.Context, instanceID string) error
	WaitForInstanceState(ctx context.Context, instanceID string, state PowerState, timeout time.Duration) error

	CreateSnapshot(ctx context.Context, volumeID, description string) (string, error)
	// CopySnapshot makes a same-region copy of a snapshot, encrypted under
	// keyID. An empty keyID uses the account's default EBS encryption key.
	CopySnapshot(ctx context.Context, snapshotID, keyID, description string) (string, error)
	WaitForSnapshot(ctx context.Context, snapshotID string, timeout time.Duration) error

	CreateVolume(ctx context.Context, snapshotID, az, volumeType string, size int32, tags map[string]string) (string, error)
	WaitForVolume(ctx context.Context, volumeID string, state VolumeState, timeout time.Duration) error

	AttachVolume(ctx context.Context, instanceID, volumeID, device string) error
	DetachVolume(ctx context.Context, instanceID, volumeID string) error
	SetDeleteOnTermination(ctx context.Context, instanceID, device string, deleteOnTermination bool) error

	// Best-effort cleanup calls. Failures are logged by the engine, never
	// escalated to a job failure.
	DeleteVolume(ctx context.Context, volumeID string) error
	DeleteSnapshot(ctx context.Context, snapshotID string) error
}
