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

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/scalyr/agent-build/cli"
	"github.com/scalyr/agent-build/ec2"
	"github.com/scalyr/agent-build/logging"
)

// ec2Options holds command-line options for the ec2 subcommands
type ec2Options struct {
	sourceCIDR       string
	deployFiles      []string
	provisionTimeout time.Duration
	provisionTries   int
}

var ec2Cmd = &cobra.Command{
	Use:   "ec2",
	Short: "Manage the ephemeral EC2 test infrastructure",
}

var (
	ec2CleanupCmd *cobra.Command
	ec2RunTestCmd *cobra.Command
)

func init() {
	opts := &ec2Options{}

	ec2CleanupCmd = &cobra.Command{
		Use:   "cleanup",
		Short: "Remove stale test nodes and allow-list entries",
		Long: `Remove everything this run or a dead previous run left behind: network
allow-list entries past their age threshold or owned by this run, and
automation-tagged EC2 nodes that are stale or belong to this run.

CI runs this as the finalizer job of every workflow.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEC2Cleanup(cmd)
		},
	}

	ec2RunTestCmd = &cobra.Command{
		Use:   "run-test <command>",
		Short: "Run a test command on a freshly provisioned EC2 node",
		Long: `Provision a test node and run a command on it: clean up allow-list
entries and nodes leaked by dead runs, open the network allow-list for the
caller (the public IP is discovered automatically unless --source-cidr is
given), deploy the test runner and any extra files over SSH, run the command
and tear the node down again.

Examples:
  # Run the package end-to-end test against a fresh node
  agent-build ec2 run-test package-test \
    --deploy-file ./test_runner:/tmp/test_runner

  # Reach the node from a known address instead of discovering it
  agent-build ec2 run-test package-test --source-cidr 203.0.113.7/32`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEC2Test(cmd, opts, args[0])
		},
	}

	ec2RunTestCmd.Flags().StringVar(&opts.sourceCIDR, "source-cidr", "", "CIDR added to the allow-list so this host can reach the node (default: discovered public /32)")
	ec2RunTestCmd.Flags().StringArrayVar(&opts.deployFiles, "deploy-file", nil, "File to copy to the node before the test, as local:remote (repeatable)")
	ec2RunTestCmd.Flags().DurationVar(&opts.provisionTimeout, "provision-timeout", 5*time.Minute, "How long to wait for the node to become reachable")
	ec2RunTestCmd.Flags().IntVar(&opts.provisionTries, "provision-tries", 3, "How many node launch attempts before giving up")

	ec2Cmd.AddCommand(ec2CleanupCmd)
	ec2Cmd.AddCommand(ec2RunTestCmd)
}

func runEC2Cleanup(cmd *cobra.Command) error {
	ctx := cmd.Context()
	cfg := configFromContext(cmd)
	if cfg == nil {
		return fmt.Errorf("configuration not initialized")
	}

	api, err := ec2.NewClient(ctx, cfg)
	if err != nil {
		return err
	}
	settings := ec2.SettingsFromConfig(cfg)

	if settings.PrefixListID != "" {
		prefixList := ec2.NewPrefixList(api, settings.PrefixListID)
		if err := prefixList.CleanupEntries(ctx, settings.ObjectsNamePrefix); err != nil {
			return err
		}
	}

	return ec2.CleanupStaleNodes(ctx, api, settings)
}

func runEC2Test(cmd *cobra.Command, opts *ec2Options, command string) error {
	ctx := cmd.Context()
	cfg := configFromContext(cmd)
	if cfg == nil {
		return fmt.Errorf("configuration not initialized")
	}

	mappings, err := cli.ParseFileMappings(opts.deployFiles)
	if err != nil {
		return err
	}

	api, err := ec2.NewClient(ctx, cfg)
	if err != nil {
		return err
	}
	settings := ec2.SettingsFromConfig(cfg)

	// Provision cleans up leaked allow-list entries and stale nodes before
	// launching, and opens the allow-list for this run.
	node, err := ec2.Provision(ctx, api, settings, ec2.ProvisionOptions{
		SourceCIDR: opts.sourceCIDR,
		Timeout:    opts.provisionTimeout,
		MaxTries:   opts.provisionTries,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := node.DestroyAndCleanup(ctx); err != nil {
			logging.ErrorfContext(ctx, "Failed to destroy node %s: %v", node.Name, err)
		}
		prefixList := ec2.NewPrefixList(api, settings.PrefixListID)
		if err := prefixList.CleanupEntries(ctx, settings.ObjectsNamePrefix); err != nil {
			logging.ErrorfContext(ctx, "Failed to clean up allow-list entries: %v", err)
		}
	}()

	session, err := node.Connect()
	if err != nil {
		return err
	}
	defer session.Close()

	for local, remote := range mappings {
		if err := session.DeployFile(local, remote); err != nil {
			return err
		}
	}

	return session.RunTest(command)
}
