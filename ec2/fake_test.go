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
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsec2 "github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
)

// fakeEC2 is an in-memory EC2API double. Error slices are consumed one per
// call so tests can script failures followed by success.
type fakeEC2 struct {
	mu sync.Mutex

	// calls records the API method names in invocation order.
	calls []string

	version     int64
	entries     []ec2types.PrefixListEntry
	modifyCalls []*awsec2.ModifyManagedPrefixListInput
	modifyErrs  []error

	instances        []ec2types.Instance
	terminated       []string
	terminateErr     error
	runInstancesErrs []error

	volumes           map[string]ec2types.Volume
	deleteVolumeCalls map[string]int
	deleteVolumeErrs  map[string][]error
}

var _ EC2API = (*fakeEC2)(nil)

func newFakeEC2() *fakeEC2 {
	return &fakeEC2{
		version:           1,
		volumes:           make(map[string]ec2types.Volume),
		deleteVolumeCalls: make(map[string]int),
		deleteVolumeErrs:  make(map[string][]error),
	}
}

// record appends the method name to the call log. Caller holds f.mu.
func (f *fakeEC2) record(name string) {
	f.calls = append(f.calls, name)
}

func (f *fakeEC2) callCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, call := range f.calls {
		if call == name {
			count++
		}
	}
	return count
}

func (f *fakeEC2) GetManagedPrefixListEntries(_ context.Context, _ *awsec2.GetManagedPrefixListEntriesInput,
	_ ...func(*awsec2.Options)) (*awsec2.GetManagedPrefixListEntriesOutput, error) {
	f.mu.Lock()
	f.record("GetManagedPrefixListEntries")
	defer f.mu.Unlock()
	return &awsec2.GetManagedPrefixListEntriesOutput{Entries: f.entries}, nil
}

func (f *fakeEC2) DescribeManagedPrefixLists(_ context.Context, params *awsec2.DescribeManagedPrefixListsInput,
	_ ...func(*awsec2.Options)) (*awsec2.DescribeManagedPrefixListsOutput, error) {
	f.mu.Lock()
	f.record("DescribeManagedPrefixLists")
	defer f.mu.Unlock()
	return &awsec2.DescribeManagedPrefixListsOutput{
		PrefixLists: []ec2types.ManagedPrefixList{
			{
				PrefixListId: aws.String(params.PrefixListIds[0]),
				Version:      aws.Int64(f.version),
			},
		},
	}, nil
}

func (f *fakeEC2) ModifyManagedPrefixList(_ context.Context, params *awsec2.ModifyManagedPrefixListInput,
	_ ...func(*awsec2.Options)) (*awsec2.ModifyManagedPrefixListOutput, error) {
	f.mu.Lock()
	f.record("ModifyManagedPrefixList")
	defer f.mu.Unlock()
	f.modifyCalls = append(f.modifyCalls, params)
	if len(f.modifyErrs) > 0 {
		err := f.modifyErrs[0]
		f.modifyErrs = f.modifyErrs[1:]
		if err != nil {
			f.version++
			return nil, err
		}
	}
	f.version++
	return &awsec2.ModifyManagedPrefixListOutput{}, nil
}

func (f *fakeEC2) RunInstances(_ context.Context, params *awsec2.RunInstancesInput,
	_ ...func(*awsec2.Options)) (*awsec2.RunInstancesOutput, error) {
	f.mu.Lock()
	f.record("RunInstances")
	defer f.mu.Unlock()
	if len(f.runInstancesErrs) > 0 {
		err := f.runInstancesErrs[0]
		f.runInstancesErrs = f.runInstancesErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	instance := ec2types.Instance{
		InstanceId:      aws.String("i-fake"),
		PublicIpAddress: aws.String("198.51.100.10"),
		State:           &ec2types.InstanceState{Name: ec2types.InstanceStateNameRunning},
		Tags:            params.TagSpecifications[0].Tags,
	}
	f.instances = append(f.instances, instance)
	return &awsec2.RunInstancesOutput{Instances: []ec2types.Instance{instance}}, nil
}

func (f *fakeEC2) DescribeInstances(_ context.Context, params *awsec2.DescribeInstancesInput,
	_ ...func(*awsec2.Options)) (*awsec2.DescribeInstancesOutput, error) {
	f.mu.Lock()
	f.record("DescribeInstances")
	defer f.mu.Unlock()

	var matched []ec2types.Instance
	for _, instance := range f.instances {
		if len(params.InstanceIds) == 0 {
			matched = append(matched, instance)
			continue
		}
		for _, id := range params.InstanceIds {
			if aws.ToString(instance.InstanceId) == id {
				matched = append(matched, instance)
			}
		}
	}

	out := &awsec2.DescribeInstancesOutput{}
	for i := range matched {
		out.Reservations = append(out.Reservations, ec2types.Reservation{
			Instances: []ec2types.Instance{matched[i]},
		})
	}
	return out, nil
}

func (f *fakeEC2) TerminateInstances(_ context.Context, params *awsec2.TerminateInstancesInput,
	_ ...func(*awsec2.Options)) (*awsec2.TerminateInstancesOutput, error) {
	f.mu.Lock()
	f.record("TerminateInstances")
	defer f.mu.Unlock()
	if f.terminateErr != nil {
		return nil, f.terminateErr
	}
	f.terminated = append(f.terminated, params.InstanceIds...)
	return &awsec2.TerminateInstancesOutput{}, nil
}

func (f *fakeEC2) DescribeVolumes(_ context.Context, params *awsec2.DescribeVolumesInput,
	_ ...func(*awsec2.Options)) (*awsec2.DescribeVolumesOutput, error) {
	f.mu.Lock()
	f.record("DescribeVolumes")
	defer f.mu.Unlock()

	out := &awsec2.DescribeVolumesOutput{}
	for _, id := range params.VolumeIds {
		if volume, ok := f.volumes[id]; ok {
			out.Volumes = append(out.Volumes, volume)
		}
	}
	return out, nil
}

func (f *fakeEC2) DeleteVolume(_ context.Context, params *awsec2.DeleteVolumeInput,
	_ ...func(*awsec2.Options)) (*awsec2.DeleteVolumeOutput, error) {
	f.mu.Lock()
	f.record("DeleteVolume")
	defer f.mu.Unlock()

	id := aws.ToString(params.VolumeId)
	f.deleteVolumeCalls[id]++
	if errs := f.deleteVolumeErrs[id]; len(errs) > 0 {
		err := errs[0]
		f.deleteVolumeErrs[id] = errs[1:]
		if err != nil {
			return nil, err
		}
	}
	delete(f.volumes, id)
	return &awsec2.DeleteVolumeOutput{}, nil
}
