package migrate

// PowerState is the EC2 instance power state as reported by DescribeInstances.
type PowerState string

const (
	PowerRunning    PowerState = "running"
	PowerStopped    PowerState = "stopped"
	PowerStopping   PowerState = "stopping"
	PowerPending    PowerState = "pending"
	PowerTerminated PowerState = "terminated"
)

// VolumeState is the subset of EBS volume states the engine waits on.
type VolumeState string

const (
	VolumeAvailable VolumeState = "available"
	VolumeInUse     VolumeState = "in-use"
)

// Instance describes one EC2 instance discovered at scan time. The engine
// never creates or destroys instances, it only stops and starts them.
type Instance struct {
	ID    string
	State PowerState
}

// VolumeMapping is the attachment metadata for one EBS volume, captured
// before migration begins and reproduced exactly on the replacement volume.
type VolumeMapping struct {
	VolumeID            string
	Device              string
	Size                int32
	VolumeType          string
	AvailabilityZone    string
	Encrypted           bool
	KeyID               string
	DeleteOnTermination bool
	Root                bool
	Tags                map[string]string
}
