package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
)

// MockEC2Client is an in-memory EC2 API for testing. Snapshots complete and
// volumes become available immediately unless a pending count is configured,
// so the SDK waiters return on their first attempt.
type MockEC2Client struct {
	mu sync.Mutex

	// Mock data storage
	Instances map[string]*types.Instance
	Volumes   map[string]*types.Volume
	Snapshots map[string]*types.Snapshot

	// SnapshotPendingPolls makes each new snapshot report "pending" for this
	// many DescribeSnapshots calls before completing.
	SnapshotPendingPolls int
	pendingPolls         map[string]int

	// Errors to return for specific operations (for error testing)
	DescribeInstancesErr       error
	// DescribeInstancesErrByID fails single-id describes for that id only.
	DescribeInstancesErrByID   map[string]error
	DescribeVolumesErr         error
	DescribeSnapshotsErr       error
	StopInstancesErr           error
	StartInstancesErr          error
	CreateSnapshotErr          error
	CopySnapshotErr            error
	DeleteSnapshotErr          error
	CreateVolumeErr            error
	DeleteVolumeErr            error
	AttachVolumeErr            error
	DetachVolumeErr            error
	ModifyInstanceAttributeErr error

	// Call tracking
	DescribeInstancesCalls       int
	DescribeVolumesCalls         int
	DescribeSnapshotsCalls       int
	StopInstancesCalls           int
	StartInstancesCalls          int
	CreateSnapshotCalls          int
	CopySnapshotCalls            int
	DeleteSnapshotCalls          int
	CreateVolumeCalls            int
	DeleteVolumeCalls            int
	AttachVolumeCalls            int
	DetachVolumeCalls            int
	ModifyInstanceAttributeCalls int

	nextID int
}

// NewMockEC2Client creates an empty mock.
func NewMockEC2Client() *MockEC2Client {
	return &MockEC2Client{
		Instances:    make(map[string]*types.Instance),
		Volumes:      make(map[string]*types.Volume),
		Snapshots:    make(map[string]*types.Snapshot),
		pendingPolls: make(map[string]int),
	}
}

// AddInstance seeds an instance with attached volumes. Each volume gets an
// in-use volume record and a block device mapping; the first device becomes
// the root device.
func (m *MockEC2Client) AddInstance(id string, state types.InstanceStateName, volumes ...*types.Volume) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inst := &types.Instance{
		InstanceId: strPtr(id),
		State:      &types.InstanceState{Name: state},
	}
	for i, v := range volumes {
		device := fmt.Sprintf("/dev/sd%c", 'a'+i)
		if len(v.Attachments) > 0 && v.Attachments[0].Device != nil {
			device = *v.Attachments[0].Device
		}
		deleteOnTermination := false
		if len(v.Attachments) > 0 && v.Attachments[0].DeleteOnTermination != nil {
			deleteOnTermination = *v.Attachments[0].DeleteOnTermination
		}
		v.State = types.VolumeStateInUse
		v.Attachments = []types.VolumeAttachment{{
			InstanceId:          strPtr(id),
			VolumeId:            v.VolumeId,
			Device:              strPtr(device),
			State:               types.VolumeAttachmentStateAttached,
			DeleteOnTermination: boolPtr(deleteOnTermination),
		}}
		m.Volumes[*v.VolumeId] = v

		inst.BlockDeviceMappings = append(inst.BlockDeviceMappings, types.InstanceBlockDeviceMapping{
			DeviceName: strPtr(device),
			Ebs: &types.EbsInstanceBlockDevice{
				VolumeId:            v.VolumeId,
				Status:              types.AttachmentStatusAttached,
				DeleteOnTermination: boolPtr(deleteOnTermination),
			},
		})
		if i == 0 {
			inst.RootDeviceName = strPtr(device)
		}
	}
	m.Instances[id] = inst
}

func (m *MockEC2Client) DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DescribeInstancesCalls++

	if m.DescribeInstancesErr != nil {
		return nil, m.DescribeInstancesErr
	}
	if len(params.InstanceIds) == 1 {
		if err, ok := m.DescribeInstancesErrByID[params.InstanceIds[0]]; ok {
			return nil, err
		}
	}

	var instances []types.Instance
	if len(params.InstanceIds) > 0 {
		for _, id := range params.InstanceIds {
			if inst, ok := m.Instances[id]; ok {
				instances = append(instances, *inst)
			}
		}
	} else {
		for _, inst := range m.Instances {
			instances = append(instances, *inst)
		}
	}

	return &ec2.DescribeInstancesOutput{
		Reservations: []types.Reservation{
			{Instances: instances},
		},
	}, nil
}

func (m *MockEC2Client) DescribeVolumes(ctx context.Context, params *ec2.DescribeVolumesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeVolumesOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DescribeVolumesCalls++

	if m.DescribeVolumesErr != nil {
		return nil, m.DescribeVolumesErr
	}

	var volumes []types.Volume
	if len(params.VolumeIds) > 0 {
		for _, id := range params.VolumeIds {
			if v, ok := m.Volumes[id]; ok {
				volumes = append(volumes, *v)
			}
		}
	} else {
		for _, v := range m.Volumes {
			volumes = append(volumes, *v)
		}
	}

	return &ec2.DescribeVolumesOutput{Volumes: volumes}, nil
}

func (m *MockEC2Client) DescribeSnapshots(ctx context.Context, params *ec2.DescribeSnapshotsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSnapshotsOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DescribeSnapshotsCalls++

	if m.DescribeSnapshotsErr != nil {
		return nil, m.DescribeSnapshotsErr
	}

	var snapshots []types.Snapshot
	for _, id := range params.SnapshotIds {
		snap, ok := m.Snapshots[id]
		if !ok {
			continue
		}
		if m.pendingPolls[id] > 0 {
			m.pendingPolls[id]--
			pending := *snap
			pending.State = types.SnapshotStatePending
			snapshots = append(snapshots, pending)
			continue
		}
		snapshots = append(snapshots, *snap)
	}

	return &ec2.DescribeSnapshotsOutput{Snapshots: snapshots}, nil
}

func (m *MockEC2Client) StopInstances(ctx context.Context, params *ec2.StopInstancesInput, optFns ...func(*ec2.Options)) (*ec2.StopInstancesOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StopInstancesCalls++

	if m.StopInstancesErr != nil {
		return nil, m.StopInstancesErr
	}

	for _, id := range params.InstanceIds {
		if inst, ok := m.Instances[id]; ok {
			inst.State = &types.InstanceState{Name: types.InstanceStateNameStopped}
		}
	}
	return &ec2.StopInstancesOutput{}, nil
}

func (m *MockEC2Client) StartInstances(ctx context.Context, params *ec2.StartInstancesInput, optFns ...func(*ec2.Options)) (*ec2.StartInstancesOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StartInstancesCalls++

	if m.StartInstancesErr != nil {
		return nil, m.StartInstancesErr
	}

	for _, id := range params.InstanceIds {
		if inst, ok := m.Instances[id]; ok {
			inst.State = &types.InstanceState{Name: types.InstanceStateNameRunning}
		}
	}
	return &ec2.StartInstancesOutput{}, nil
}

func (m *MockEC2Client) CreateSnapshot(ctx context.Context, params *ec2.CreateSnapshotInput, optFns ...func(*ec2.Options)) (*ec2.CreateSnapshotOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CreateSnapshotCalls++

	if m.CreateSnapshotErr != nil {
		return nil, m.CreateSnapshotErr
	}

	vol, ok := m.Volumes[derefStr(params.VolumeId)]
	if !ok {
		return nil, fmt.Errorf("volume %s not found", derefStr(params.VolumeId))
	}

	m.nextID++
	id := fmt.Sprintf("snap-%08d", m.nextID)
	snap := &types.Snapshot{
		SnapshotId:  strPtr(id),
		VolumeId:    params.VolumeId,
		VolumeSize:  vol.Size,
		State:       types.SnapshotStateCompleted,
		Encrypted:   vol.Encrypted,
		KmsKeyId:    vol.KmsKeyId,
		Description: params.Description,
	}
	m.Snapshots[id] = snap
	if m.SnapshotPendingPolls > 0 {
		m.pendingPolls[id] = m.SnapshotPendingPolls
	}

	return &ec2.CreateSnapshotOutput{SnapshotId: snap.SnapshotId}, nil
}

func (m *MockEC2Client) CopySnapshot(ctx context.Context, params *ec2.CopySnapshotInput, optFns ...func(*ec2.Options)) (*ec2.CopySnapshotOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CopySnapshotCalls++

	if m.CopySnapshotErr != nil {
		return nil, m.CopySnapshotErr
	}

	src, ok := m.Snapshots[derefStr(params.SourceSnapshotId)]
	if !ok {
		return nil, fmt.Errorf("snapshot %s not found", derefStr(params.SourceSnapshotId))
	}

	m.nextID++
	id := fmt.Sprintf("snap-%08d", m.nextID)
	encrypted := params.Encrypted != nil && *params.Encrypted
	snap := &types.Snapshot{
		SnapshotId:  strPtr(id),
		VolumeId:    src.VolumeId,
		VolumeSize:  src.VolumeSize,
		State:       types.SnapshotStateCompleted,
		Encrypted:   boolPtr(encrypted),
		KmsKeyId:    params.KmsKeyId,
		Description: params.Description,
	}
	m.Snapshots[id] = snap
	if m.SnapshotPendingPolls > 0 {
		m.pendingPolls[id] = m.SnapshotPendingPolls
	}

	return &ec2.CopySnapshotOutput{SnapshotId: snap.SnapshotId}, nil
}

func (m *MockEC2Client) DeleteSnapshot(ctx context.Context, params *ec2.DeleteSnapshotInput, optFns ...func(*ec2.Options)) (*ec2.DeleteSnapshotOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DeleteSnapshotCalls++

	if m.DeleteSnapshotErr != nil {
		return nil, m.DeleteSnapshotErr
	}

	delete(m.Snapshots, derefStr(params.SnapshotId))
	return &ec2.DeleteSnapshotOutput{}, nil
}

func (m *MockEC2Client) CreateVolume(ctx context.Context, params *ec2.CreateVolumeInput, optFns ...func(*ec2.Options)) (*ec2.CreateVolumeOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CreateVolumeCalls++

	if m.CreateVolumeErr != nil {
		return nil, m.CreateVolumeErr
	}

	snap, ok := m.Snapshots[derefStr(params.SnapshotId)]
	if !ok {
		return nil, fmt.Errorf("snapshot %s not found", derefStr(params.SnapshotId))
	}

	m.nextID++
	id := fmt.Sprintf("vol-%08d", m.nextID)
	vol := &types.Volume{
		VolumeId:         strPtr(id),
		SnapshotId:       params.SnapshotId,
		Size:             params.Size,
		VolumeType:       params.VolumeType,
		AvailabilityZone: params.AvailabilityZone,
		State:            types.VolumeStateAvailable,
		Encrypted:        snap.Encrypted,
		KmsKeyId:         snap.KmsKeyId,
	}
	for _, spec := range params.TagSpecifications {
		vol.Tags = append(vol.Tags, spec.Tags...)
	}
	m.Volumes[id] = vol

	return &ec2.CreateVolumeOutput{VolumeId: vol.VolumeId}, nil
}

func (m *MockEC2Client) DeleteVolume(ctx context.Context, params *ec2.DeleteVolumeInput, optFns ...func(*ec2.Options)) (*ec2.DeleteVolumeOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DeleteVolumeCalls++

	if m.DeleteVolumeErr != nil {
		return nil, m.DeleteVolumeErr
	}

	id := derefStr(params.VolumeId)
	if vol, ok := m.Volumes[id]; ok && vol.State == types.VolumeStateInUse {
		return nil, fmt.Errorf("volume %s is in use", id)
	}
	delete(m.Volumes, id)
	return &ec2.DeleteVolumeOutput{}, nil
}

func (m *MockEC2Client) AttachVolume(ctx context.Context, params *ec2.AttachVolumeInput, optFns ...func(*ec2.Options)) (*ec2.AttachVolumeOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AttachVolumeCalls++

	if m.AttachVolumeErr != nil {
		return nil, m.AttachVolumeErr
	}

	vol, ok := m.Volumes[derefStr(params.VolumeId)]
	if !ok {
		return nil, fmt.Errorf("volume %s not found", derefStr(params.VolumeId))
	}
	inst, ok := m.Instances[derefStr(params.InstanceId)]
	if !ok {
		return nil, fmt.Errorf("instance %s not found", derefStr(params.InstanceId))
	}

	vol.State = types.VolumeStateInUse
	vol.Attachments = []types.VolumeAttachment{{
		InstanceId: params.InstanceId,
		VolumeId:   params.VolumeId,
		Device:     params.Device,
		State:      types.VolumeAttachmentStateAttached,
	}}
	inst.BlockDeviceMappings = append(inst.BlockDeviceMappings, types.InstanceBlockDeviceMapping{
		DeviceName: params.Device,
		Ebs: &types.EbsInstanceBlockDevice{
			VolumeId: params.VolumeId,
			Status:   types.AttachmentStatusAttached,
		},
	})

	return &ec2.AttachVolumeOutput{
		InstanceId: params.InstanceId,
		VolumeId:   params.VolumeId,
		Device:     params.Device,
		State:      types.VolumeAttachmentStateAttached,
	}, nil
}

func (m *MockEC2Client) DetachVolume(ctx context.Context, params *ec2.DetachVolumeInput, optFns ...func(*ec2.Options)) (*ec2.DetachVolumeOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DetachVolumeCalls++

	if m.DetachVolumeErr != nil {
		return nil, m.DetachVolumeErr
	}

	vol, ok := m.Volumes[derefStr(params.VolumeId)]
	if !ok {
		return nil, fmt.Errorf("volume %s not found", derefStr(params.VolumeId))
	}
	vol.State = types.VolumeStateAvailable
	vol.Attachments = nil

	if inst, ok := m.Instances[derefStr(params.InstanceId)]; ok {
		var kept []types.InstanceBlockDeviceMapping
		for _, bdm := range inst.BlockDeviceMappings {
			if bdm.Ebs != nil && derefStr(bdm.Ebs.VolumeId) == derefStr(params.VolumeId) {
				continue
			}
			kept = append(kept, bdm)
		}
		inst.BlockDeviceMappings = kept
	}

	return &ec2.DetachVolumeOutput{
		InstanceId: params.InstanceId,
		VolumeId:   params.VolumeId,
		State:      types.VolumeAttachmentStateDetached,
	}, nil
}

func (m *MockEC2Client) ModifyInstanceAttribute(ctx context.Context, params *ec2.ModifyInstanceAttributeInput, optFns ...func(*ec2.Options)) (*ec2.ModifyInstanceAttributeOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ModifyInstanceAttributeCalls++

	if m.ModifyInstanceAttributeErr != nil {
		return nil, m.ModifyInstanceAttributeErr
	}

	inst, ok := m.Instances[derefStr(params.InstanceId)]
	if !ok {
		return nil, fmt.Errorf("instance %s not found", derefStr(params.InstanceId))
	}
	for _, spec := range params.BlockDeviceMappings {
		for i := range inst.BlockDeviceMappings {
			if derefStr(inst.BlockDeviceMappings[i].DeviceName) != derefStr(spec.DeviceName) {
				continue
			}
			if inst.BlockDeviceMappings[i].Ebs != nil && spec.Ebs != nil {
				inst.BlockDeviceMappings[i].Ebs.DeleteOnTermination = spec.Ebs.DeleteOnTermination
			}
		}
	}

	return &ec2.ModifyInstanceAttributeOutput{}, nil
}

func strPtr(s string) *string { return &s }

func boolPtr(b bool) *bool { return &b }

func derefStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
