package aws

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/ec2crypt/ec2crypt/pkg/migrate"
)

// EC2API is the subset of the EC2 API the engine uses. The mock package
// implements it for tests; *ec2.Client implements it in production.
type EC2API interface {
	DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
	DescribeVolumes(ctx context.Context, params *ec2.DescribeVolumesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeVolumesOutput, error)
	DescribeSnapshots(ctx context.Context, params *ec2.DescribeSnapshotsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSnapshotsOutput, error)
	StopInstances(ctx context.Context, params *ec2.StopInstancesInput, optFns ...func(*ec2.Options)) (*ec2.StopInstancesOutput, error)
	StartInstances(ctx context.Context, params *ec2.StartInstancesInput, optFns ...func(*ec2.Options)) (*ec2.StartInstancesOutput, error)
	CreateSnapshot(ctx context.Context, params *ec2.CreateSnapshotInput, optFns ...func(*ec2.Options)) (*ec2.CreateSnapshotOutput, error)
	CopySnapshot(ctx context.Context, params *ec2.CopySnapshotInput, optFns ...func(*ec2.Options)) (*ec2.CopySnapshotOutput, error)
	DeleteSnapshot(ctx context.Context, params *ec2.DeleteSnapshotInput, optFns ...func(*ec2.Options)) (*ec2.DeleteSnapshotOutput, error)
	CreateVolume(ctx context.Context, params *ec2.CreateVolumeInput, optFns ...func(*ec2.Options)) (*ec2.CreateVolumeOutput, error)
	DeleteVolume(ctx context.Context, params *ec2.DeleteVolumeInput, optFns ...func(*ec2.Options)) (*ec2.DeleteVolumeOutput, error)
	AttachVolume(ctx context.Context, params *ec2.AttachVolumeInput, optFns ...func(*ec2.Options)) (*ec2.AttachVolumeOutput, error)
	DetachVolume(ctx context.Context, params *ec2.DetachVolumeInput, optFns ...func(*ec2.Options)) (*ec2.DetachVolumeOutput, error)
	ModifyInstanceAttribute(ctx context.Context, params *ec2.ModifyInstanceAttributeInput, optFns ...func(*ec2.Options)) (*ec2.ModifyInstanceAttributeOutput, error)
}

// KMSAPI is the subset of the KMS API used for key resolution.
type KMSAPI interface {
	DescribeKey(ctx context.Context, params *kms.DescribeKeyInput, optFns ...func(*kms.Options)) (*kms.DescribeKeyOutput, error)
}

// STSAPI is the subset of the STS API used for credential verification.
type STSAPI interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// Client implements migrate.CloudProvider on top of aws-sdk-go-v2.
type Client struct {
	ec2    EC2API
	kms    KMSAPI
	sts    STSAPI
	region string
}

// NewClient loads shared credentials for the given profile and region. No
// ambient state: the resulting client is the only holder of the session.
func NewClient(ctx context.Context, profile, region string) (*Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithSharedConfigProfile(profile),
		config.WithRegion(region),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &Client{
		ec2:    ec2.NewFromConfig(cfg),
		kms:    kms.NewFromConfig(cfg),
		sts:    sts.NewFromConfig(cfg),
		region: region,
	}, nil
}

// NewClientFromAPIs wires explicit API implementations. Used by tests with
// the mock package.
func NewClientFromAPIs(ec2API EC2API, kmsAPI KMSAPI, stsAPI STSAPI, region string) *Client {
	return &Client{ec2: ec2API, kms: kmsAPI, sts: stsAPI, region: region}
}

// Region returns the region the client was built for.
func (c *Client) Region() string { return c.region }

// VerifyCredentials fails fast on a bad profile before any mutating call is
// issued. Returns the account id.
func (c *Client) VerifyCredentials(ctx context.Context) (string, error) {
	identity, err := c.sts.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return "", fmt.Errorf("failed to verify credentials: %w", err)
	}
	if identity.Account == nil {
		return "", fmt.Errorf("account ID not returned by STS")
	}
	return *identity.Account, nil
}

// ListInstances implements migrate.CloudProvider. An empty id list scans the
// whole region for non-terminated instances; explicit ids are validated one
// at a time so a single bad id does not fail the run.
func (c *Client) ListInstances(ctx context.Context, ids []string) ([]migrate.Instance, error) {
	if len(ids) == 0 {
		return c.listAllInstances(ctx)
	}

	var instances []migrate.Instance
	for _, id := range ids {
		result, err := c.ec2.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
			InstanceIds: []string{id},
		})
		if err != nil {
			if isInstanceNotFound(err) {
				continue
			}
			return nil, classify("DescribeInstances", err)
		}
		for _, reservation := range result.Reservations {
			for _, inst := range reservation.Instances {
				instances = append(instances, toInstance(inst))
			}
		}
	}
	return instances, nil
}

func (c *Client) listAllInstances(ctx context.Context) ([]migrate.Instance, error) {
	input := &ec2.DescribeInstancesInput{
		Filters: []types.Filter{
			{
				Name:   aws.String("instance-state-name"),
				Values: []string{"pending", "running", "stopping", "stopped"},
			},
		},
	}

	var instances []migrate.Instance
	paginator := ec2.NewDescribeInstancesPaginator(c.ec2, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, classify("DescribeInstances", err)
		}
		for _, reservation := range page.Reservations {
			for _, inst := range reservation.Instances {
				instances = append(instances, toInstance(inst))
			}
		}
	}
	return instances, nil
}

func toInstance(inst types.Instance) migrate.Instance {
	out := migrate.Instance{ID: valueOrEmpty(inst.InstanceId)}
	if inst.State != nil {
		out.State = migrate.PowerState(inst.State.Name)
	}
	return out
}

// DescribeInstanceVolumes returns the instance's EBS volume mappings in
// block-device-mapping order, with volume details merged in from
// DescribeVolumes. Non-EBS (instance store) mappings are skipped with a
// warning.
func (c *Client) DescribeInstanceVolumes(ctx context.Context, instanceID string) ([]migrate.VolumeMapping, error) {
	result, err := c.ec2.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{instanceID},
	})
	if err != nil {
		return nil, classify("DescribeInstances", err)
	}
	if len(result.Reservations) == 0 || len(result.Reservations[0].Instances) == 0 {
		return nil, migrate.StateConflict("DescribeInstances", fmt.Errorf("instance %s not found", instanceID))
	}
	inst := result.Reservations[0].Instances[0]
	rootDevice := valueOrEmpty(inst.RootDeviceName)

	type attachment struct {
		device              string
		volumeID            string
		deleteOnTermination bool
	}
	var attachments []attachment
	var volumeIDs []string
	for _, bdm := range inst.BlockDeviceMappings {
		if bdm.Ebs == nil || bdm.Ebs.VolumeId == nil {
			log.Printf("Warning: %s: skipping %s, not an EBS device", instanceID, valueOrEmpty(bdm.DeviceName))
			continue
		}
		attachments = append(attachments, attachment{
			device:              valueOrEmpty(bdm.DeviceName),
			volumeID:            *bdm.Ebs.VolumeId,
			deleteOnTermination: bdm.Ebs.DeleteOnTermination != nil && *bdm.Ebs.DeleteOnTermination,
		})
		volumeIDs = append(volumeIDs, *bdm.Ebs.VolumeId)
	}
	if len(volumeIDs) == 0 {
		return nil, nil
	}

	volResult, err := c.ec2.DescribeVolumes(ctx, &ec2.DescribeVolumesInput{
		VolumeIds: volumeIDs,
	})
	if err != nil {
		return nil, classify("DescribeVolumes", err)
	}
	volumes := make(map[string]types.Volume, len(volResult.Volumes))
	for _, v := range volResult.Volumes {
		volumes[valueOrEmpty(v.VolumeId)] = v
	}

	var mappings []migrate.VolumeMapping
	for _, att := range attachments {
		v, ok := volumes[att.volumeID]
		if !ok {
			return nil, migrate.StateConflict("DescribeVolumes", fmt.Errorf("volume %s not found", att.volumeID))
		}
		m := migrate.VolumeMapping{
			VolumeID:            att.volumeID,
			Device:              att.device,
			AvailabilityZone:    valueOrEmpty(v.AvailabilityZone),
			VolumeType:          string(v.VolumeType),
			Encrypted:           v.Encrypted != nil && *v.Encrypted,
			KeyID:               valueOrEmpty(v.KmsKeyId),
			DeleteOnTermination: att.deleteOnTermination,
			Root:                att.device == rootDevice,
		}
		if v.Size != nil {
			m.Size = *v.Size
		}
		if len(v.Tags) > 0 {
			m.Tags = make(map[string]string, len(v.Tags))
			for _, tag := range v.Tags {
				if tag.Key != nil && tag.Value != nil {
					m.Tags[*tag.Key] = *tag.Value
				}
			}
		}
		mappings = append(mappings, m)
	}
	return mappings, nil
}

// StopInstance implements migrate.CloudProvider.
func (c *Client) StopInstance(ctx context.Context, instanceID string) error {
	_, err := c.ec2.StopInstances(ctx, &ec2.StopInstancesInput{
		InstanceIds: []string{instanceID},
	})
	if err != nil {
		return classify("StopInstances", err)
	}
	return nil
}

// StartInstance implements migrate.CloudProvider.
func (c *Client) StartInstance(ctx context.Context, instanceID string) error {
	_, err := c.ec2.StartInstances(ctx, &ec2.StartInstancesInput{
		InstanceIds: []string{instanceID},
	})
	if err != nil {
		return classify("StartInstances", err)
	}
	return nil
}

// WaitForInstanceState blocks until the instance reaches the requested power
// state, using the SDK waiters with the engine's poll pacing.
func (c *Client) WaitForInstanceState(ctx context.Context, instanceID string, state migrate.PowerState, timeout time.Duration) error {
	input := &ec2.DescribeInstancesInput{InstanceIds: []string{instanceID}}

	var err error
	switch state {
	case migrate.PowerStopped:
		waiter := ec2.NewInstanceStoppedWaiter(c.ec2, func(o *ec2.InstanceStoppedWaiterOptions) {
			o.MinDelay = pollMinDelay
			o.MaxDelay = pollMaxDelay
		})
		err = waiter.Wait(ctx, input, timeout)
	case migrate.PowerRunning:
		waiter := ec2.NewInstanceRunningWaiter(c.ec2, func(o *ec2.InstanceRunningWaiterOptions) {
			o.MinDelay = pollMinDelay
			o.MaxDelay = pollMaxDelay
		})
		err = waiter.Wait(ctx, input, timeout)
	default:
		return migrate.Terminal("WaitForInstanceState", fmt.Errorf("no waiter for state %q", state))
	}
	if err != nil {
		return classifyWait("instance "+string(state), err)
	}
	return nil
}

// CreateSnapshot implements migrate.CloudProvider.
func (c *Client) CreateSnapshot(ctx context.Context, volumeID, description string) (string, error) {
	result, err := c.ec2.CreateSnapshot(ctx, &ec2.CreateSnapshotInput{
		VolumeId:    aws.String(volumeID),
		Description: aws.String(description),
	})
	if err != nil {
		return "", classify("CreateSnapshot", err)
	}
	return valueOrEmpty(result.SnapshotId), nil
}

// CopySnapshot makes a same-region encrypted copy. An empty keyID lets EBS
// use the account's default encryption key.
func (c *Client) CopySnapshot(ctx context.Context, snapshotID, keyID, description string) (string, error) {
	input := &ec2.CopySnapshotInput{
		SourceSnapshotId: aws.String(snapshotID),
		SourceRegion:     aws.String(c.region),
		Description:      aws.String(description),
		Encrypted:        aws.Bool(true),
	}
	if keyID != "" {
		input.KmsKeyId = aws.String(keyID)
	}

	result, err := c.ec2.CopySnapshot(ctx, input)
	if err != nil {
		return "", classify("CopySnapshot", err)
	}
	return valueOrEmpty(result.SnapshotId), nil
}

// WaitForSnapshot blocks until the snapshot completes.
func (c *Client) WaitForSnapshot(ctx context.Context, snapshotID string, timeout time.Duration) error {
	waiter := ec2.NewSnapshotCompletedWaiter(c.ec2, func(o *ec2.SnapshotCompletedWaiterOptions) {
		o.MinDelay = pollMinDelay
		o.MaxDelay = pollMaxDelay
	})
	err := waiter.Wait(ctx, &ec2.DescribeSnapshotsInput{
		SnapshotIds: []string{snapshotID},
	}, timeout)
	if err != nil {
		return classifyWait("snapshot completed", err)
	}
	return nil
}

// CreateVolume creates the replacement volume from the encrypted snapshot,
// carrying the source volume's tags.
func (c *Client) CreateVolume(ctx context.Context, snapshotID, az, volumeType string, size int32, tags map[string]string) (string, error) {
	input := &ec2.CreateVolumeInput{
		SnapshotId:       aws.String(snapshotID),
		AvailabilityZone: aws.String(az),
		VolumeType:       types.VolumeType(volumeType),
		Size:             aws.Int32(size),
	}
	if len(tags) > 0 {
		ec2Tags := make([]types.Tag, 0, len(tags))
		for k, v := range tags {
			ec2Tags = append(ec2Tags, types.Tag{Key: aws.String(k), Value: aws.String(v)})
		}
		input.TagSpecifications = []types.TagSpecification{
			{
				ResourceType: types.ResourceTypeVolume,
				Tags:         ec2Tags,
			},
		}
	}

	result, err := c.ec2.CreateVolume(ctx, input)
	if err != nil {
		return "", classify("CreateVolume", err)
	}
	return valueOrEmpty(result.VolumeId), nil
}

// WaitForVolume blocks until the volume reaches the requested state.
func (c *Client) WaitForVolume(ctx context.Context, volumeID string, state migrate.VolumeState, timeout time.Duration) error {
	input := &ec2.DescribeVolumesInput{VolumeIds: []string{volumeID}}

	var err error
	switch state {
	case migrate.VolumeAvailable:
		waiter := ec2.NewVolumeAvailableWaiter(c.ec2, func(o *ec2.VolumeAvailableWaiterOptions) {
			o.MinDelay = pollMinDelay
			o.MaxDelay = pollMaxDelay
		})
		err = waiter.Wait(ctx, input, timeout)
	case migrate.VolumeInUse:
		waiter := ec2.NewVolumeInUseWaiter(c.ec2, func(o *ec2.VolumeInUseWaiterOptions) {
			o.MinDelay = pollMinDelay
			o.MaxDelay = pollMaxDelay
		})
		err = waiter.Wait(ctx, input, timeout)
	default:
		return migrate.Terminal("WaitForVolume", fmt.Errorf("no waiter for state %q", state))
	}
	if err != nil {
		return classifyWait("volume "+string(state), err)
	}
	return nil
}

// AttachVolume implements migrate.CloudProvider.
func (c *Client) AttachVolume(ctx context.Context, instanceID, volumeID, device string) error {
	_, err := c.ec2.AttachVolume(ctx, &ec2.AttachVolumeInput{
		InstanceId: aws.String(instanceID),
		VolumeId:   aws.String(volumeID),
		Device:     aws.String(device),
	})
	if err != nil {
		return classify("AttachVolume", err)
	}
	return nil
}

// DetachVolume implements migrate.CloudProvider.
func (c *Client) DetachVolume(ctx context.Context, instanceID, volumeID string) error {
	_, err := c.ec2.DetachVolume(ctx, &ec2.DetachVolumeInput{
		InstanceId: aws.String(instanceID),
		VolumeId:   aws.String(volumeID),
	})
	if err != nil {
		return classify("DetachVolume", err)
	}
	return nil
}

// SetDeleteOnTermination reproduces the source mapping's flag on the newly
// attached volume. CreateVolume cannot carry the flag, only the instance's
// block device mapping can.
func (c *Client) SetDeleteOnTermination(ctx context.Context, instanceID, device string, deleteOnTermination bool) error {
	_, err := c.ec2.ModifyInstanceAttribute(ctx, &ec2.ModifyInstanceAttributeInput{
		InstanceId: aws.String(instanceID),
		BlockDeviceMappings: []types.InstanceBlockDeviceMappingSpecification{
			{
				DeviceName: aws.String(device),
				Ebs: &types.EbsInstanceBlockDeviceSpecification{
					DeleteOnTermination: aws.Bool(deleteOnTermination),
				},
			},
		},
	})
	if err != nil {
		return classify("ModifyInstanceAttribute", err)
	}
	return nil
}

// DeleteVolume implements migrate.CloudProvider.
func (c *Client) DeleteVolume(ctx context.Context, volumeID string) error {
	_, err := c.ec2.DeleteVolume(ctx, &ec2.DeleteVolumeInput{
		VolumeId: aws.String(volumeID),
	})
	if err != nil {
		return classify("DeleteVolume", err)
	}
	return nil
}

// DeleteSnapshot implements migrate.CloudProvider.
func (c *Client) DeleteSnapshot(ctx context.Context, snapshotID string) error {
	_, err := c.ec2.DeleteSnapshot(ctx, &ec2.DeleteSnapshotInput{
		SnapshotId: aws.String(snapshotID),
	})
	if err != nil {
		return classify("DeleteSnapshot", err)
	}
	return nil
}

// Poll pacing for the SDK waiters: start at 5s, cap at 60s.
const (
	pollMinDelay = 5 * time.Second
	pollMaxDelay = 60 * time.Second
)

func valueOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
