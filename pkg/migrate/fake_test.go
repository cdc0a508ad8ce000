package migrate

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// fakeProvider is an in-memory CloudProvider for engine tests. Every call is
// recorded; failures are injected per operation or via failWhen.
type fakeProvider struct {
	mu sync.Mutex

	instances      []Instance
	volumesByInst  map[string][]VolumeMapping
	instanceStates map[string]PowerState

	calls  []string
	nextID int

	// errs fails every call of the named operation. failWhen, when set,
	// takes precedence and can target individual resources.
	errs     map[string]error
	failWhen func(op, target string) error

	// listErr fails discovery itself.
	listErr error

	// describeDelay holds DescribeInstanceVolumes open so concurrency can
	// be observed.
	describeDelay time.Duration
	active        atomic.Int32
	maxActive     atomic.Int32
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		volumesByInst:  make(map[string][]VolumeMapping),
		instanceStates: make(map[string]PowerState),
		errs:           make(map[string]error),
	}
}

func (f *fakeProvider) addInstance(id string, state PowerState, volumes ...VolumeMapping) {
	f.instances = append(f.instances, Instance{ID: id, State: state})
	f.instanceStates[id] = state
	f.volumesByInst[id] = volumes
}

func (f *fakeProvider) record(op, target string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, op+" "+target)
}

func (f *fakeProvider) fail(op, target string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWhen != nil {
		if err := f.failWhen(op, target); err != nil {
			return err
		}
	}
	return f.errs[op]
}

// callsMatching returns recorded calls whose operation name matches op.
func (f *fakeProvider) callsMatching(op string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		if strings.HasPrefix(c, op+" ") {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeProvider) called(op, target string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	want := op + " " + target
	for _, c := range f.calls {
		if c == want {
			return true
		}
	}
	return false
}

// mutatingCalls counts every call that changes provider-side state.
func (f *fakeProvider) mutatingCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		op := strings.SplitN(c, " ", 2)[0]
		switch op {
		case "DescribeInstanceVolumes", "WaitForInstanceState", "WaitForSnapshot", "WaitForVolume":
		default:
			n++
		}
	}
	return n
}

func (f *fakeProvider) genID(prefix string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	return fmt.Sprintf("%s-%d", prefix, f.nextID)
}

func (f *fakeProvider) ListInstances(ctx context.Context, ids []string) ([]Instance, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	if len(ids) == 0 {
		return append([]Instance(nil), f.instances...), nil
	}
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []Instance
	for _, inst := range f.instances {
		if want[inst.ID] {
			out = append(out, inst)
		}
	}
	return out, nil
}

func (f *fakeProvider) DescribeInstanceVolumes(ctx context.Context, instanceID string) ([]VolumeMapping, error) {
	cur := f.active.Add(1)
	for {
		max := f.maxActive.Load()
		if cur <= max || f.maxActive.CompareAndSwap(max, cur) {
			break
		}
	}
	if f.describeDelay > 0 {
		time.Sleep(f.describeDelay)
	}
	f.active.Add(-1)

	f.record("DescribeInstanceVolumes", instanceID)
	if err := f.fail("DescribeInstanceVolumes", instanceID); err != nil {
		return nil, err
	}
	return f.volumesByInst[instanceID], nil
}

func (f *fakeProvider) StopInstance(ctx context.Context, instanceID string) error {
	f.record("StopInstance", instanceID)
	if err := f.fail("StopInstance", instanceID); err != nil {
		return err
	}
	f.mu.Lock()
	f.instanceStates[instanceID] = PowerStopped
	f.mu.Unlock()
	return nil
}

func (f *fakeProvider) StartInstance(ctx context.Context, instanceID string) error {
	f.record("StartInstance", instanceID)
	if err := f.fail("StartInstance", instanceID); err != nil {
		return err
	}
	f.mu.Lock()
	f.instanceStates[instanceID] = PowerRunning
	f.mu.Unlock()
	return nil
}

func (f *fakeProvider) WaitForInstanceState(ctx context.Context, instanceID string, state PowerState, timeout time.Duration) error {
	f.record("WaitForInstanceState", instanceID+" "+string(state))
	return f.fail("WaitForInstanceState", instanceID)
}

func (f *fakeProvider) CreateSnapshot(ctx context.Context, volumeID, description string) (string, error) {
	f.record("CreateSnapshot", volumeID)
	if err := f.fail("CreateSnapshot", volumeID); err != nil {
		return "", err
	}
	return f.genID("snap"), nil
}

func (f *fakeProvider) CopySnapshot(ctx context.Context, snapshotID, keyID, description string) (string, error) {
	f.record("CopySnapshot", snapshotID+" key="+keyID)
	if err := f.fail("CopySnapshot", snapshotID); err != nil {
		return "", err
	}
	return f.genID("snap-copy"), nil
}

func (f *fakeProvider) WaitForSnapshot(ctx context.Context, snapshotID string, timeout time.Duration) error {
	f.record("WaitForSnapshot", snapshotID)
	return f.fail("WaitForSnapshot", snapshotID)
}

func (f *fakeProvider) CreateVolume(ctx context.Context, snapshotID, az, volumeType string, size int32, tags map[string]string) (string, error) {
	f.record("CreateVolume", fmt.Sprintf("%s %s %s %d", snapshotID, az, volumeType, size))
	if err := f.fail("CreateVolume", snapshotID); err != nil {
		return "", err
	}
	return f.genID("vol-new"), nil
}

func (f *fakeProvider) WaitForVolume(ctx context.Context, volumeID string, state VolumeState, timeout time.Duration) error {
	f.record("WaitForVolume", volumeID+" "+string(state))
	return f.fail("WaitForVolume", volumeID)
}

func (f *fakeProvider) AttachVolume(ctx context.Context, instanceID, volumeID, device string) error {
	f.record("AttachVolume", instanceID+" "+volumeID+" "+device)
	return f.fail("AttachVolume", volumeID)
}

func (f *fakeProvider) DetachVolume(ctx context.Context, instanceID, volumeID string) error {
	f.record("DetachVolume", instanceID+" "+volumeID)
	return f.fail("DetachVolume", volumeID)
}

func (f *fakeProvider) SetDeleteOnTermination(ctx context.Context, instanceID, device string, deleteOnTermination bool) error {
	f.record("SetDeleteOnTermination", fmt.Sprintf("%s %s %t", instanceID, device, deleteOnTermination))
	return f.fail("SetDeleteOnTermination", instanceID)
}

func (f *fakeProvider) DeleteVolume(ctx context.Context, volumeID string) error {
	f.record("DeleteVolume", volumeID)
	return f.fail("DeleteVolume", volumeID)
}

func (f *fakeProvider) DeleteSnapshot(ctx context.Context, snapshotID string) error {
	f.record("DeleteSnapshot", snapshotID)
	return f.fail("DeleteSnapshot", snapshotID)
}
