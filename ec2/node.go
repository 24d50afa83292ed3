/*
Copyright © 2025 Scalyr Team <support@scalyr.com>

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/

package ec2

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsec2 "github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/scalyr/agent-build/errors"
	"github.com/scalyr/agent-build/logging"
)

// NameMarker tags every node this toolkit provisions. Destruction logic
// refuses to touch anything whose name lacks it, so a bug can never delete
// unrelated infrastructure.
const NameMarker = "automated-agent-ci-cd"

// Only volumes of the two sizes we provision are deleted during teardown.
var expectedVolumeSizes = []int32{8, 30}

const (
	provisionPollInterval   = 5 * time.Second
	defaultProvisionTimeout = 5 * time.Minute
	defaultProvisionTries   = 3
	volumeDetachWait        = 100 * time.Second
	volumeDeleteAttempts    = 12
	volumeDeleteDelay       = 5 * time.Second
)

// Node is an ephemeral EC2 instance used to run tests remotely.
type Node struct {
	api      EC2API
	settings Settings

	InstanceID string
	Name       string
	PublicIP   string

	sleep func(time.Duration)
	now   func() time.Time
}

// ProvisionOptions controls Provision.
type ProvisionOptions struct {
	// SourceCIDR is added to the allow-list so the caller can reach the
	// node. Empty means discover the caller's public address and use its
	// /32.
	SourceCIDR string
	// Timeout bounds the wait for each launched instance to become
	// reachable.
	Timeout time.Duration
	// MaxTries bounds the launch attempts.
	MaxTries int

	resolveIP func(context.Context) (string, error)
}

// Provision prepares the shared infrastructure and launches a test node.
// Before every launch it removes allow-list entries leaked by dead runs,
// destroys stale automation nodes, and opens the allow-list for the caller.
// The launch itself is retried up to MaxTries.
func Provision(ctx context.Context, api EC2API, settings Settings, opts ProvisionOptions) (*Node, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultProvisionTimeout
	}
	if opts.MaxTries <= 0 {
		opts.MaxTries = defaultProvisionTries
	}
	if opts.resolveIP == nil {
		opts.resolveIP = discoverPublicIP
	}

	prefixList := NewPrefixList(api, settings.PrefixListID)
	if err := prefixList.CleanupEntries(ctx, settings.ObjectsNamePrefix); err != nil {
		return nil, err
	}
	if err := CleanupStaleNodes(ctx, api, settings); err != nil {
		return nil, err
	}

	cidr := opts.SourceCIDR
	if cidr == "" {
		ip, err := opts.resolveIP(ctx)
		if err != nil {
			return nil, err
		}
		cidr = ip + "/32"
	}
	if err := prefixList.AddOwnEntry(ctx, cidr, settings.ObjectsNamePrefix); err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= opts.MaxTries; attempt++ {
		node, err := launchNode(ctx, api, settings, opts.Timeout)
		if err == nil {
			return node, nil
		}
		lastErr = err
		logging.WarnContext(ctx, "Node launch attempt %d/%d failed: %v", attempt, opts.MaxTries, err)
	}
	return nil, lastErr
}

// launchNode launches one node, tags it with the automation marker and the
// run's ownership prefix, and waits until it is running with a public IP.
// The wait is bounded by timeout.
func launchNode(ctx context.Context, api EC2API, settings Settings, timeout time.Duration) (*Node, error) {
	name := fmt.Sprintf("%s-%s-%s", NameMarker, settings.ObjectsNamePrefix, settings.ImageID)

	logging.InfoContext(ctx, "Provisioning EC2 test node %s", name)

	out, err := api.RunInstances(ctx, &awsec2.RunInstancesInput{
		ImageId:          aws.String(settings.ImageID),
		InstanceType:     ec2types.InstanceType(settings.InstanceType),
		KeyName:          aws.String(settings.KeyName),
		SecurityGroupIds: []string{settings.SecurityGroup},
		MinCount:         aws.Int32(1),
		MaxCount:         aws.Int32(1),
		TagSpecifications: []ec2types.TagSpecification{
			{
				ResourceType: ec2types.ResourceTypeInstance,
				Tags: []ec2types.Tag{
					{Key: aws.String("Name"), Value: aws.String(name)},
				},
			},
		},
	})
	if err != nil {
		return nil, errors.Wrap("launch EC2 instance", name, err)
	}
	if len(out.Instances) == 0 {
		return nil, errors.Wrap("launch EC2 instance", name, fmt.Errorf("no instance returned"))
	}

	node := &Node{
		api:        api,
		settings:   settings,
		InstanceID: aws.ToString(out.Instances[0].InstanceId),
		Name:       name,
		sleep:      time.Sleep,
		now:        time.Now,
	}

	if err := node.waitForPublicIP(ctx, timeout); err != nil {
		// The instance exists, do not leak it because the wait failed.
		if cleanupErr := node.DestroyAndCleanup(ctx); cleanupErr != nil {
			logging.ErrorfContext(ctx, "Failed to clean up unusable node %s: %v", name, cleanupErr)
		}
		return nil, err
	}
	return node, nil
}

func (n *Node) waitForPublicIP(ctx context.Context, timeout time.Duration) error {
	deadline := n.now().Add(timeout)
	for {
		instance, err := n.describe(ctx)
		if err != nil {
			return err
		}
		if instance != nil &&
			instance.State != nil && instance.State.Name == ec2types.InstanceStateNameRunning &&
			aws.ToString(instance.PublicIpAddress) != "" {
			n.PublicIP = aws.ToString(instance.PublicIpAddress)
			logging.InfoContext(ctx, "Node %s is running at %s", n.Name, n.PublicIP)
			return nil
		}
		if n.now().After(deadline) {
			return errors.Wrap("wait for EC2 instance", n.InstanceID,
				fmt.Errorf("instance did not become reachable within %s", timeout))
		}
		n.sleep(provisionPollInterval)
	}
}

func (n *Node) describe(ctx context.Context) (*ec2types.Instance, error) {
	out, err := n.api.DescribeInstances(ctx, &awsec2.DescribeInstancesInput{
		InstanceIds: []string{n.InstanceID},
	})
	if err != nil {
		if IsInstanceNotFound(err) {
			return nil, nil
		}
		return nil, errors.Wrap("describe EC2 instance", n.InstanceID, err)
	}
	for _, reservation := range out.Reservations {
		for i := range reservation.Instances {
			return &reservation.Instances[i], nil
		}
	}
	return nil, nil
}

// DestroyAndCleanup terminates the node, waits for its volumes to detach and
// deletes them. It refuses to act on a node whose name lacks the automation
// marker.
func (n *Node) DestroyAndCleanup(ctx context.Context) error {
	if !strings.Contains(n.Name, NameMarker) {
		return fmt.Errorf("refusing to destroy node %q: name does not contain the %q marker",
			n.Name, NameMarker)
	}

	volumeIDs, err := n.attachedVolumeIDs(ctx)
	if err != nil {
		return err
	}

	logging.InfoContext(ctx, "Terminating node %s (%s)", n.Name, n.InstanceID)

	_, err = n.api.TerminateInstances(ctx, &awsec2.TerminateInstancesInput{
		InstanceIds: []string{n.InstanceID},
	})
	if err != nil {
		if !IsInstanceNotFound(err) {
			return errors.Wrap("terminate EC2 instance", n.InstanceID, err)
		}
		logging.InfoContext(ctx, "Node %s already gone, a concurrent cleanup removed it", n.InstanceID)
	}

	if len(volumeIDs) == 0 {
		return nil
	}

	if err := n.waitForVolumesDetached(ctx, volumeIDs); err != nil {
		return err
	}

	for _, volumeID := range volumeIDs {
		if err := n.deleteVolume(ctx, volumeID); err != nil {
			return err
		}
	}
	return nil
}

func (n *Node) attachedVolumeIDs(ctx context.Context) ([]string, error) {
	instance, err := n.describe(ctx)
	if err != nil {
		return nil, err
	}
	if instance == nil {
		return nil, nil
	}

	var ids []string
	for _, mapping := range instance.BlockDeviceMappings {
		if mapping.Ebs != nil {
			ids = append(ids, aws.ToString(mapping.Ebs.VolumeId))
		}
	}
	return ids, nil
}

// waitForVolumesDetached polls until every volume reports available or is
// gone, bounded by a fixed deadline.
func (n *Node) waitForVolumesDetached(ctx context.Context, volumeIDs []string) error {
	deadline := n.now().Add(volumeDetachWait)
	for {
		remaining, err := n.volumesStillAttached(ctx, volumeIDs)
		if err != nil {
			return err
		}
		if len(remaining) == 0 {
			return nil
		}
		if n.now().After(deadline) {
			return errors.Wrap("wait for volume detachment", strings.Join(remaining, ","),
				fmt.Errorf("volumes still attached after %s", volumeDetachWait))
		}
		n.sleep(volumeDeleteDelay)
	}
}

func (n *Node) volumesStillAttached(ctx context.Context, volumeIDs []string) ([]string, error) {
	out, err := n.api.DescribeVolumes(ctx, &awsec2.DescribeVolumesInput{VolumeIds: volumeIDs})
	if err != nil {
		if IsVolumeNotFound(err) {
			return nil, nil
		}
		return nil, errors.Wrap("describe volumes", strings.Join(volumeIDs, ","), err)
	}

	var attached []string
	for _, volume := range out.Volumes {
		if volume.State != ec2types.VolumeStateAvailable {
			attached = append(attached, aws.ToString(volume.VolumeId))
		}
	}
	return attached, nil
}

// deleteVolume deletes one volume, skipping sizes we never provision and
// retrying only on the volume-in-use condition.
func (n *Node) deleteVolume(ctx context.Context, volumeID string) error {
	out, err := n.api.DescribeVolumes(ctx, &awsec2.DescribeVolumesInput{VolumeIds: []string{volumeID}})
	if err != nil {
		if IsVolumeNotFound(err) {
			return nil
		}
		return errors.Wrap("describe volume", volumeID, err)
	}
	if len(out.Volumes) == 0 {
		return nil
	}

	size := aws.ToInt32(out.Volumes[0].Size)
	if !isExpectedVolumeSize(size) {
		logging.WarnContext(ctx, "Leaving volume %s alone: unexpected size %d GiB", volumeID, size)
		return nil
	}

	for attempt := 1; attempt <= volumeDeleteAttempts; attempt++ {
		_, err := n.api.DeleteVolume(ctx, &awsec2.DeleteVolumeInput{VolumeId: aws.String(volumeID)})
		if err == nil {
			return nil
		}
		if IsVolumeNotFound(err) {
			return nil
		}
		if !IsVolumeInUse(err) {
			return errors.Wrap("delete volume", volumeID, err)
		}
		logging.DebugContext(ctx, "Volume %s still in use (attempt %d/%d), retrying in %s",
			volumeID, attempt, volumeDeleteAttempts, volumeDeleteDelay)
		n.sleep(volumeDeleteDelay)
	}

	return errors.Wrap("delete volume", volumeID,
		fmt.Errorf("volume still in use after %d attempts", volumeDeleteAttempts))
}

func isExpectedVolumeSize(size int32) bool {
	for _, expected := range expectedVolumeSizes {
		if size == expected {
			return true
		}
	}
	return false
}
