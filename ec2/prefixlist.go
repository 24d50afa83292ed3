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
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsec2 "github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/scalyr/agent-build/errors"
	"github.com/scalyr/agent-build/logging"
)

// Allow-list entries older than this are considered leaked by a dead CI run
// and removed before provisioning.
const entryRemovalThreshold = 420 * time.Second

// The allow-list is mutated by concurrent CI runs under optimistic
// concurrency; version conflicts are retried with random backoff up to this
// many attempts.
const maxModifyAttempts = 20

const (
	modifyBackoffMin = 1 * time.Second
	modifyBackoffMax = 5 * time.Second
)

// entryDescription is the JSON stored in an allow-list entry's description
// field.
type entryDescription struct {
	Time       int64  `json:"time"`
	WorkflowID string `json:"workflow_id"`
}

// PrefixList manages this run's entry in the shared network allow-list.
type PrefixList struct {
	api EC2API
	id  string

	now   func() time.Time
	sleep func(time.Duration)
}

// NewPrefixList creates a PrefixList for the given managed prefix list ID.
func NewPrefixList(api EC2API, id string) *PrefixList {
	return &PrefixList{
		api:   api,
		id:    id,
		now:   time.Now,
		sleep: time.Sleep,
	}
}

// AddOwnEntry adds cidr to the allow-list, tagged with the caller's workflow
// ID and the current time.
func (p *PrefixList) AddOwnEntry(ctx context.Context, cidr, workflowID string) error {
	description, err := json.Marshal(entryDescription{
		Time:       p.now().Unix(),
		WorkflowID: workflowID,
	})
	if err != nil {
		return errors.Wrap("encode prefix list entry description", cidr, err)
	}

	return p.modify(ctx, func(input *awsec2.ModifyManagedPrefixListInput) {
		input.AddEntries = []ec2types.AddPrefixListEntry{
			{
				Cidr:        aws.String(cidr),
				Description: aws.String(string(description)),
			},
		}
	})
}

// CleanupEntries removes allow-list entries that are older than the removal
// threshold or belong to the caller's own workflow.
func (p *PrefixList) CleanupEntries(ctx context.Context, workflowID string) error {
	entries, err := p.listEntries(ctx)
	if err != nil {
		return err
	}

	removals := selectEntriesForRemoval(ctx, entries, p.now(), workflowID)
	if len(removals) == 0 {
		return nil
	}

	logging.InfoContext(ctx, "Removing %d stale or own prefix list entries", len(removals))

	return p.modify(ctx, func(input *awsec2.ModifyManagedPrefixListInput) {
		for _, cidr := range removals {
			input.RemoveEntries = append(input.RemoveEntries, ec2types.RemovePrefixListEntry{
				Cidr: aws.String(cidr),
			})
		}
	})
}

// modify applies one mutation under optimistic concurrency: read the current
// list version, write with that version as the precondition, and retry with
// random backoff on version conflicts.
func (p *PrefixList) modify(ctx context.Context, mutate func(*awsec2.ModifyManagedPrefixListInput)) error {
	for attempt := 1; attempt <= maxModifyAttempts; attempt++ {
		version, err := p.currentVersion(ctx)
		if err != nil {
			return err
		}

		input := &awsec2.ModifyManagedPrefixListInput{
			PrefixListId:   aws.String(p.id),
			CurrentVersion: aws.Int64(version),
		}
		mutate(input)

		_, err = p.api.ModifyManagedPrefixList(ctx, input)
		if err == nil {
			return nil
		}
		if !IsConcurrentMutation(err) {
			return errors.Wrap("modify prefix list", p.id, err)
		}

		backoff := modifyBackoffMin +
			time.Duration(rand.Int63n(int64(modifyBackoffMax-modifyBackoffMin)))
		logging.DebugContext(ctx,
			"Prefix list %s was modified concurrently (attempt %d/%d), retrying in %s",
			p.id, attempt, maxModifyAttempts, backoff)
		p.sleep(backoff)
	}

	return errors.Wrap("modify prefix list", p.id,
		fmt.Errorf("gave up after %d concurrent modification conflicts", maxModifyAttempts))
}

func (p *PrefixList) currentVersion(ctx context.Context) (int64, error) {
	out, err := p.api.DescribeManagedPrefixLists(ctx, &awsec2.DescribeManagedPrefixListsInput{
		PrefixListIds: []string{p.id},
	})
	if err != nil {
		return 0, errors.Wrap("describe prefix list", p.id, err)
	}
	if len(out.PrefixLists) == 0 {
		return 0, errors.Wrap("describe prefix list", p.id, fmt.Errorf("prefix list not found"))
	}
	return aws.ToInt64(out.PrefixLists[0].Version), nil
}

func (p *PrefixList) listEntries(ctx context.Context) ([]ec2types.PrefixListEntry, error) {
	var entries []ec2types.PrefixListEntry

	input := &awsec2.GetManagedPrefixListEntriesInput{PrefixListId: aws.String(p.id)}
	for {
		out, err := p.api.GetManagedPrefixListEntries(ctx, input)
		if err != nil {
			return nil, errors.Wrap("list prefix list entries", p.id, err)
		}
		entries = append(entries, out.Entries...)
		if aws.ToString(out.NextToken) == "" {
			return entries, nil
		}
		input.NextToken = out.NextToken
	}
}

// selectEntriesForRemoval returns the CIDRs of entries older than the removal
// threshold or owned by workflowID. Entries whose description is not the
// expected JSON are left alone, they may belong to someone else.
func selectEntriesForRemoval(ctx context.Context, entries []ec2types.PrefixListEntry, now time.Time, workflowID string) []string {
	var removals []string
	for _, entry := range entries {
		var desc entryDescription
		if err := json.Unmarshal([]byte(aws.ToString(entry.Description)), &desc); err != nil {
			logging.WarnContext(ctx, "Skipping prefix list entry %s with unreadable description",
				aws.ToString(entry.Cidr))
			continue
		}

		age := now.Sub(time.Unix(desc.Time, 0))
		if age > entryRemovalThreshold || (workflowID != "" && desc.WorkflowID == workflowID) {
			removals = append(removals, aws.ToString(entry.Cidr))
		}
	}
	return removals
}
