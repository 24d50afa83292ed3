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
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsec2 "github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"golang.org/x/sync/errgroup"

	"github.com/scalyr/agent-build/errors"
	"github.com/scalyr/agent-build/logging"
)

// Nodes older than this are leaked by a dead CI run and destroyed during
// cleanup regardless of owner.
const staleNodeAge = 4 * time.Hour

// CleanupStaleNodes destroys every running automation node that is either
// older than the stale-node age or owned by the caller's own run. Nodes are
// destroyed in parallel.
func CleanupStaleNodes(ctx context.Context, api EC2API, settings Settings) error {
	return cleanupStaleNodes(ctx, api, settings, time.Now())
}

func cleanupStaleNodes(ctx context.Context, api EC2API, settings Settings, now time.Time) error {
	out, err := api.DescribeInstances(ctx, &awsec2.DescribeInstancesInput{
		Filters: []ec2types.Filter{
			{
				Name:   aws.String("instance-state-name"),
				Values: []string{"running", "pending"},
			},
		},
	})
	if err != nil {
		return errors.Wrap("list EC2 instances", "", err)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	for _, reservation := range out.Reservations {
		for i := range reservation.Instances {
			instance := reservation.Instances[i]
			name := instanceName(instance)

			if !shouldDestroy(name, aws.ToTime(instance.LaunchTime), now, settings.ObjectsNamePrefix) {
				continue
			}

			node := &Node{
				api:        api,
				settings:   settings,
				InstanceID: aws.ToString(instance.InstanceId),
				Name:       name,
				sleep:      time.Sleep,
				now:        time.Now,
			}

			logging.InfoContext(ctx, "Destroying leftover node %s (%s)", node.Name, node.InstanceID)
			group.Go(func() error {
				return node.DestroyAndCleanup(groupCtx)
			})
		}
	}
	return group.Wait()
}

// shouldDestroy reports whether a running instance is one of ours and either
// stale or owned by this run. Nodes without the automation marker are never
// touched.
func shouldDestroy(name string, launched, now time.Time, ownPrefix string) bool {
	if !strings.Contains(name, NameMarker) {
		return false
	}
	if now.Sub(launched) > staleNodeAge {
		return true
	}
	return ownPrefix != "" && strings.Contains(name, ownPrefix)
}

func instanceName(instance ec2types.Instance) string {
	for _, tag := range instance.Tags {
		if aws.ToString(tag.Key) == "Name" {
			return aws.ToString(tag.Value)
		}
	}
	return ""
}
