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

package buildx

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/moby/buildkit/client"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	// Enables the docker-container:// connection protocol.
	_ "github.com/moby/buildkit/client/connhelper/dockercontainer"

	"github.com/scalyr/agent-build/errors"
	"github.com/scalyr/agent-build/logging"
)

// RemoteBuilder is a provisioned buildx builder that runs builds for one
// architecture.
type RemoteBuilder struct {
	Name         string
	Architecture Architecture
	Endpoint     string
}

// Provisioner creates remote builders on demand.
type Provisioner interface {
	Provision(ctx context.Context, arch Architecture) (*RemoteBuilder, error)
}

// RemoteBuilders hands out remote builders and provisions each architecture's
// builder at most once per process.
type RemoteBuilders struct {
	mu          sync.Mutex
	provisioner Provisioner
	builders    map[Architecture]*RemoteBuilder
}

// NewRemoteBuilders creates a RemoteBuilders backed by the given provisioner.
func NewRemoteBuilders(p Provisioner) *RemoteBuilders {
	return &RemoteBuilders{
		provisioner: p,
		builders:    make(map[Architecture]*RemoteBuilder),
	}
}

// Get returns the remote builder for the architecture, provisioning it on the
// first call.
func (r *RemoteBuilders) Get(ctx context.Context, arch Architecture) (*RemoteBuilder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if builder, ok := r.builders[arch]; ok {
		return builder, nil
	}

	builder, err := r.provisioner.Provision(ctx, arch)
	if err != nil {
		return nil, errors.Wrap("provision remote builder", arch.String(), err)
	}

	r.builders[arch] = builder
	return builder, nil
}

// CreateProvisioner provisions remote builders with docker buildx create.
// When an endpoint is configured for the architecture, the builder uses the
// remote driver against that endpoint and the endpoint is verified with a
// BuildKit client before the builder is handed out.
type CreateProvisioner struct {
	Runner Runner
	// Endpoints maps architecture names to BuildKit endpoints such as
	// tcp://10.0.0.5:1234. Architectures without an entry get a local
	// docker-container builder.
	Endpoints map[string]string
}

// Provision implements Provisioner.
func (p *CreateProvisioner) Provision(ctx context.Context, arch Architecture) (*RemoteBuilder, error) {
	name := fmt.Sprintf("agent-build-remote-%s", arch)
	endpoint := p.Endpoints[arch.String()]

	args := []string{
		"buildx", "create",
		"--name=" + name,
		"--platform=" + arch.Platform(),
		"--bootstrap",
	}
	if endpoint != "" {
		if err := VerifyEndpoint(ctx, endpoint); err != nil {
			return nil, err
		}
		args = append(args, "--driver=remote", endpoint)
	}

	logging.InfoContext(ctx, "Provisioning remote builder %s for %s", name, arch)

	result, err := p.Runner.Run(ctx, Command{Name: "docker", Args: args}, 0)
	if err != nil {
		return nil, errors.Wrap("create buildx builder", name, err)
	}
	if result.ExitCode != 0 {
		return nil, errors.Wrap("create buildx builder", name,
			fmt.Errorf("docker buildx create exited with status %d", result.ExitCode))
	}

	return &RemoteBuilder{
		Name:         name,
		Architecture: arch,
		Endpoint:     endpoint,
	}, nil
}

// VerifyEndpoint connects to a BuildKit endpoint and confirms it answers an
// Info request.
func VerifyEndpoint(ctx context.Context, endpoint string) error {
	clientOpts := []client.ClientOpt{}

	if strings.HasPrefix(endpoint, "tcp://") {
		clientOpts = append(clientOpts, client.WithGRPCDialOption(
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		))
		logging.WarnContext(ctx, "Connecting to BuildKit without TLS (insecure)")
	}

	c, err := client.New(ctx, endpoint, clientOpts...)
	if err != nil {
		return errors.Wrap("connect to BuildKit", endpoint, err)
	}

	info, err := c.Info(ctx)
	if err != nil {
		_ = c.Close()
		return errors.Wrap("verify BuildKit connection", endpoint, err)
	}

	logging.InfoContext(ctx, "BuildKit endpoint %s verified (version %s)", endpoint, info.BuildkitVersion.Version)

	return c.Close()
}
