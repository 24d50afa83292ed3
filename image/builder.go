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

package image

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/scalyr/agent-build/buildx"
	"github.com/scalyr/agent-build/logging"
)

// Dockerfile for the staged final image build inside the agent source
// checkout.
const finalImageDockerfile = "container_images/Dockerfile"

// Builder produces one final multi-architecture agent image for an
// (image type, base distro) pair. The expensive stages run at most once per
// BuildContext, tracked by the shared StageTracker, so several builders for
// the same distro reuse each other's work within one run.
type Builder struct {
	bc            *BuildContext
	imageType     Type
	distro        Distro
	architectures []buildx.Architecture
}

// NewBuilder creates a builder bound to a build context.
func NewBuilder(bc *BuildContext, imageType Type, distro Distro) *Builder {
	return &Builder{
		bc:            bc,
		imageType:     imageType,
		distro:        distro,
		architectures: buildx.SupportedArchitectures,
	}
}

// Name returns the canonical builder name, such as docker-json-ubuntu.
func (b *Builder) Name() string {
	return BuilderName(b.imageType, b.distro)
}

func (b *Builder) workDir() string {
	return filepath.Join(b.bc.OutputRoot, b.Name())
}

func (b *Builder) requirementLibsDir() string {
	return filepath.Join(b.bc.OutputRoot, fmt.Sprintf("requirement_libs_%s", b.distro.Name))
}

func (b *Builder) baseLayoutDir() string {
	return filepath.Join(b.bc.OutputRoot, fmt.Sprintf("base_image_%s", b.distro.Name))
}

func (b *Builder) agentFilesystemDir() string {
	return filepath.Join(b.workDir(), "agent_filesystem")
}

// OCILayoutDir returns the directory the final image layout is extracted to.
func (b *Builder) OCILayoutDir() string {
	return filepath.Join(b.workDir(), "final_image_oci_layout")
}

// BuildRequirementLibs builds the per-architecture requirement libraries for
// the builder's distro. Runs once per build context and distro.
func (b *Builder) BuildRequirementLibs(ctx context.Context) error {
	stage := fmt.Sprintf("requirement_libs_%s", b.distro.Name)
	return b.bc.Stages.Run(stage, func() error {
		for _, arch := range b.architectures {
			outputDir := filepath.Join(b.requirementLibsDir(), archTargetDir(arch))
			if _, err := b.bc.Dependencies.EnsureBuilt(ctx, b.distro, arch, outputDir); err != nil {
				return err
			}
		}
		return nil
	})
}

// buildBaseImageLayout builds the shared multi-arch base image for the distro
// into an extracted OCI layout. Runs once per build context and distro. The
// base stage deliberately carries no cache name so every run rebuilds it from
// the upstream image instead of resurrecting a stale cached base.
func (b *Builder) buildBaseImageLayout(ctx context.Context) error {
	stage := fmt.Sprintf("base_image_%s", b.distro.Name)
	return b.bc.Stages.Run(stage, func() error {
		logging.InfoContext(ctx, "Building %s base image layout", b.distro.Name)

		_, err := b.bc.Invoker.Build(ctx, buildx.Request{
			Dockerfile:    filepath.Join(b.bc.SourceRoot, finalImageDockerfile),
			ContextDir:    b.bc.SourceRoot,
			Architectures: b.architectures,
			BuildArgs: map[string]string{
				"BASE_DISTRO": b.distro.Name,
			},
			BuildContexts: map[string]string{
				"base_image": "docker-image://" + b.distro.BaseImage,
			},
			Stage:  "base",
			Output: buildx.OCITarball{Dest: b.baseLayoutDir(), Extract: true},
		})
		return err
	})
}

// CreateAgentFilesystem assembles the agent root filesystem for the builder's
// image variant. Runs once per build context and builder.
func (b *Builder) CreateAgentFilesystem(ctx context.Context) error {
	stage := fmt.Sprintf("agent_filesystem_%s", b.Name())
	return b.bc.Stages.Run(stage, func() error {
		version, err := AgentVersion(b.bc.SourceRoot)
		if err != nil {
			return err
		}
		logging.InfoContext(ctx, "Assembling agent filesystem for %s (version %s)", b.Name(), version)
		return assembleAgentFilesystem(b.bc.SourceRoot, b.agentFilesystemDir(), b.imageType, version)
	})
}

// Build runs all stages and produces the final multi-arch image as an
// extracted OCI layout. It returns the layout directory.
func (b *Builder) Build(ctx context.Context) (string, error) {
	version, err := AgentVersion(b.bc.SourceRoot)
	if err != nil {
		return "", err
	}

	if err := b.BuildRequirementLibs(ctx); err != nil {
		return "", err
	}
	if err := b.buildBaseImageLayout(ctx); err != nil {
		return "", err
	}
	if err := b.CreateAgentFilesystem(ctx); err != nil {
		return "", err
	}

	stage := fmt.Sprintf("final_image_%s", b.Name())
	err = b.bc.Stages.Run(stage, func() error {
		logging.InfoContext(ctx, "Building final %s image", b.Name())

		_, err := b.bc.Invoker.Build(ctx, buildx.Request{
			Dockerfile:    filepath.Join(b.bc.SourceRoot, finalImageDockerfile),
			ContextDir:    b.bc.SourceRoot,
			Architectures: b.architectures,
			BuildArgs: map[string]string{
				"BASE_DISTRO":   b.distro.Name,
				"IMAGE_TYPE":    b.imageType.String(),
				"AGENT_VERSION": version,
			},
			BuildContexts: map[string]string{
				"base_image":       "oci-layout://" + b.baseLayoutDir(),
				"requirements":     b.requirementLibsDir(),
				"agent_filesystem": b.agentFilesystemDir(),
			},
			Output:    buildx.OCITarball{Dest: b.OCILayoutDir(), Extract: true},
			CacheName: fmt.Sprintf("agent_image_%s", b.Name()),
		})
		if err != nil {
			return err
		}
		return VerifyOCILayout(b.OCILayoutDir())
	})
	if err != nil {
		return "", err
	}
	return b.OCILayoutDir(), nil
}

// GenerateFinalRegistryTags returns every registry tag the image is published
// under: the cartesian product of the variant's image names, the requested
// tags and the distro's tag suffixes, with image name as the outer loop, tag
// in the middle and suffix innermost.
func (b *Builder) GenerateFinalRegistryTags(registry, user string, tags []string) []string {
	var result []string
	for _, name := range b.imageType.RegistryImageNames() {
		for _, tag := range tags {
			for _, suffix := range b.distro.TagSuffixes {
				result = append(result, fmt.Sprintf("%s/%s/%s:%s%s", registry, user, name, tag, suffix))
			}
		}
	}
	return result
}

// PublishOptions controls Publish.
type PublishOptions struct {
	Registry string
	User     string
	Tags     []string
	// ExistingOCILayout skips the build and publishes an already extracted
	// layout directory.
	ExistingOCILayout string
	// Credentials for the destination registry. Nil publishes over the
	// relaxed no-credentials path.
	Credentials *RegistryCredentials
}

// Publish builds the image if needed and copies it to every final registry
// tag.
func (b *Builder) Publish(ctx context.Context, publisher *Publisher, opts PublishOptions) error {
	layoutDir := opts.ExistingOCILayout
	if layoutDir == "" {
		built, err := b.Build(ctx)
		if err != nil {
			return err
		}
		layoutDir = built
	} else if err := VerifyOCILayout(layoutDir); err != nil {
		return err
	}

	tags := b.GenerateFinalRegistryTags(opts.Registry, opts.User, opts.Tags)
	tarballPath := layoutDir + ".tar"
	return publisher.Publish(ctx, tarballPath, tags, opts.Credentials)
}
