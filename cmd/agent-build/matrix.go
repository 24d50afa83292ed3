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

	"github.com/spf13/cobra"

	"github.com/scalyr/agent-build/cimatrix"
	"github.com/scalyr/agent-build/image"
	"github.com/scalyr/agent-build/logging"
)

// ciOptions holds command-line options for the ci subcommands
type ciOptions struct {
	matrixFile string
}

var ciCmd = &cobra.Command{
	Use:   "ci",
	Short: "Helpers for the GitHub Actions workflows",
}

var ciMatrixCmd *cobra.Command

func init() {
	opts := &ciOptions{}

	ciMatrixCmd = &cobra.Command{
		Use:   "matrix",
		Short: "Generate the image-build job matrix for the current run",
		Long: `Classify the current workflow run from the GitHub Actions environment
and emit the image-build job matrix as JSON on stdout. Development branches
get only the basic jobs; pushes and pull requests on the default branch,
release tags and scheduled runs get the full matrix.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCIMatrix(cmd, opts)
		},
	}

	ciMatrixCmd.Flags().StringVar(&opts.matrixFile, "matrix-file", "", "YAML matrix definition file")
	if err := ciMatrixCmd.MarkFlagRequired("matrix-file"); err != nil {
		panic(err)
	}

	ciCmd.AddCommand(ciMatrixCmd)
}

func runCIMatrix(cmd *cobra.Command, opts *ciOptions) error {
	ctx := cmd.Context()
	cfg := configFromContext(cmd)
	if cfg == nil {
		return fmt.Errorf("configuration not initialized")
	}

	// The agent version only influences release-tag recognition; outside a
	// source checkout the classification still works. A manual dispatch may
	// override it through the event payload.
	agentVersion, err := image.AgentVersion(cfg.Build.SourceRoot)
	if err != nil {
		agentVersion = ""
	}
	if dispatched := cimatrix.DispatchAgentVersion(cfg.CI); dispatched != "" {
		agentVersion = dispatched
	}

	scope := cimatrix.ClassifyWithPullRequests(ctx, cfg.CI, agentVersion)

	sha, err := cimatrix.CommitSHA(cfg.CI, cfg.Build.SourceRoot)
	if err != nil {
		logging.WarnContext(ctx, "Could not resolve the commit SHA: %v", err)
		sha = "unknown"
	}
	logging.InfoContext(ctx, "Doing a %s workflow run at commit %s (event: %q, ref: %s/%s)",
		scope, sha, cfg.CI.EventName, cfg.CI.RefType, cfg.CI.RefName)

	def, err := cimatrix.LoadDefinition(opts.matrixFile)
	if err != nil {
		return err
	}
	matrix, err := cimatrix.Generate(def, scope)
	if err != nil {
		return err
	}

	raw, err := matrix.JSON()
	if err != nil {
		return err
	}
	logging.PrintContext(ctx, string(raw)+"\n")
	return nil
}
