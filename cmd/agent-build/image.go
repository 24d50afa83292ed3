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

	dockerclient "github.com/docker/docker/client"
	"github.com/spf13/cobra"

	"github.com/scalyr/agent-build/buildx"
	"github.com/scalyr/agent-build/cli"
	"github.com/scalyr/agent-build/config"
	"github.com/scalyr/agent-build/image"
	"github.com/scalyr/agent-build/logging"
)

// imageOptions holds command-line options shared by the image subcommands
type imageOptions struct {
	outputDir  string
	sourceRoot string

	// publish options
	registry          string
	user              string
	tags              string
	existingOCILayout string
}

var imageCmd = &cobra.Command{
	Use:   "image",
	Short: "Build, cache and publish agent container images",
}

var (
	imageBuildCmd        *cobra.Command
	imageCacheCmd        *cobra.Command
	imagePublishCmd      *cobra.Command
	imageListBuildersCmd *cobra.Command
)

func init() {
	opts := &imageOptions{}

	imageBuildCmd = &cobra.Command{
		Use:   "build <builder>",
		Short: "Build a multi-architecture agent image as an OCI layout",
		Long: `Build one agent image variant through its three stages: requirement
libraries per architecture, the final base image and the agent filesystem,
composed into one multi-architecture OCI image layout.

Examples:
  # Build the Kubernetes image on the Ubuntu base
  agent-build image build k8s-ubuntu

  # Build into a specific output directory
  agent-build image build docker-json-alpine --output-dir /tmp/out`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImageBuild(cmd, opts, args[0])
		},
	}

	imageCacheCmd = &cobra.Command{
		Use:   "cache-dependencies <builder>",
		Short: "Build only the cacheable dependency stage of an image",
		Long: `Build only the requirement-library dependency stage for every
architecture of a builder. CI runs this in a separate job so the expensive
dependency builds are cached before the image jobs start.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImageCacheDependencies(cmd, opts, args[0])
		},
	}

	imagePublishCmd = &cobra.Command{
		Use:   "publish <builder>",
		Short: "Publish an agent image to a registry under its final tags",
		Long: `Build the image (or reuse an existing OCI layout) and copy it to the
destination registry under every final tag of the image variant.

Examples:
  # Publish under the "latest" and version tags
  agent-build image publish k8s-ubuntu --registry docker.io --user scalyr --tags latest,2.1.40

  # Publish a previously built layout without rebuilding
  agent-build image publish k8s-ubuntu --existing-oci-layout /tmp/out/k8s-ubuntu/final_image_oci_layout --tags latest`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImagePublish(cmd, opts, args[0])
		},
	}

	imageListBuildersCmd = &cobra.Command{
		Use:   "list-builders",
		Short: "List the available image builder names",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range image.AllBuilderNames() {
				logging.OutputContext(cmd.Context(), name)
			}
			return nil
		},
	}

	for _, sub := range []*cobra.Command{imageBuildCmd, imageCacheCmd, imagePublishCmd} {
		sub.Flags().StringVar(&opts.outputDir, "output-dir", "", "Build output directory (overrides config)")
		sub.Flags().StringVar(&opts.sourceRoot, "source-root", "", "Agent source checkout (overrides config)")
	}
	imagePublishCmd.Flags().StringVar(&opts.registry, "registry", "", "Destination registry (defaults to config)")
	imagePublishCmd.Flags().StringVar(&opts.user, "user", "", "Registry user or organization")
	imagePublishCmd.Flags().StringVar(&opts.tags, "tags", "", "Comma-separated list of tags to publish")
	imagePublishCmd.Flags().StringVar(&opts.existingOCILayout, "existing-oci-layout", "", "Publish an already built OCI layout directory instead of rebuilding")

	imageCmd.AddCommand(imageBuildCmd)
	imageCmd.AddCommand(imageCacheCmd)
	imageCmd.AddCommand(imagePublishCmd)
	imageCmd.AddCommand(imageListBuildersCmd)
}

// applyOverrides folds the per-command flags into the loaded config.
func (o *imageOptions) applyOverrides(cfg *config.Config) {
	if o.outputDir != "" {
		cfg.Build.OutputRoot = o.outputDir
	}
	if o.sourceRoot != "" {
		cfg.Build.SourceRoot = o.sourceRoot
	}
}

// newBuilder wires the buildx stack from the config and resolves the named
// builder.
func newBuilder(cfg *config.Config, name string) (*image.Builder, error) {
	imageType, distro, err := image.LookupBuilder(name)
	if err != nil {
		return nil, cli.UnknownChoiceError("image builder", name, image.AllBuilderNames())
	}

	runner := buildx.NewRunner()
	remotes := buildx.NewRemoteBuilders(&buildx.CreateProvisioner{
		Runner:    runner,
		Endpoints: cfg.Build.RemoteBuilderEndpoints,
	})
	invoker := buildx.NewInvoker(runner, buildx.CacheSettingsFromConfig(cfg), remotes,
		cfg.Build.AllowFallbackToRemoteBuilder)

	bc := image.NewBuildContext(invoker, cfg.Build.OutputRoot, cfg.Build.SourceRoot)
	return image.NewBuilder(bc, imageType, distro), nil
}

func runImageBuild(cmd *cobra.Command, opts *imageOptions, name string) error {
	ctx := cmd.Context()
	cfg := configFromContext(cmd)
	if cfg == nil {
		return fmt.Errorf("configuration not initialized")
	}
	opts.applyOverrides(cfg)

	builder, err := newBuilder(cfg, name)
	if err != nil {
		return err
	}

	layoutDir, err := builder.Build(ctx)
	if err != nil {
		return err
	}
	logging.InfoContext(ctx, "Built %s, OCI layout at %s", builder.Name(), layoutDir)
	return nil
}

func runImageCacheDependencies(cmd *cobra.Command, opts *imageOptions, name string) error {
	ctx := cmd.Context()
	cfg := configFromContext(cmd)
	if cfg == nil {
		return fmt.Errorf("configuration not initialized")
	}
	opts.applyOverrides(cfg)

	builder, err := newBuilder(cfg, name)
	if err != nil {
		return err
	}
	return builder.BuildRequirementLibs(ctx)
}

// validateFinalTags rejects a publish before any build work starts when one
// of the final registry references would be malformed.
func validateFinalTags(builder *image.Builder, registry, user string, tags []string) error {
	for _, ref := range builder.GenerateFinalRegistryTags(registry, user, tags) {
		if err := cli.ValidateRegistryReference(ref); err != nil {
			return err
		}
	}
	return nil
}

func runImagePublish(cmd *cobra.Command, opts *imageOptions, name string) error {
	ctx := cmd.Context()
	cfg := configFromContext(cmd)
	if cfg == nil {
		return fmt.Errorf("configuration not initialized")
	}
	opts.applyOverrides(cfg)

	tags, err := cli.ParseTags(opts.tags)
	if err != nil {
		return err
	}

	registry := opts.registry
	if registry == "" {
		registry = cfg.Registry.Default
	}

	builder, err := newBuilder(cfg, name)
	if err != nil {
		return err
	}

	if err := validateFinalTags(builder, registry, opts.user, tags); err != nil {
		return err
	}

	docker, err := dockerclient.NewClientWithOpts(
		dockerclient.FromEnv,
		dockerclient.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return fmt.Errorf("failed to create docker client: %w", err)
	}
	defer docker.Close()

	var creds *image.RegistryCredentials
	if cfg.Registry.Username != "" && cfg.Registry.Password != "" {
		creds = &image.RegistryCredentials{
			Username: cfg.Registry.Username,
			Password: cfg.Registry.Password,
		}
	}

	return builder.Publish(ctx, image.NewPublisher(docker), image.PublishOptions{
		Registry:          registry,
		User:              opts.user,
		Tags:              tags,
		ExistingOCILayout: opts.existingOCILayout,
		Credentials:       creds,
	})
}
