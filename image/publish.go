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

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/errdefs"
	"github.com/google/uuid"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/scalyr/agent-build/errors"
	"github.com/scalyr/agent-build/logging"
)

// skopeoImage is the image-copy tool the publisher runs.
const skopeoImage = "quay.io/skopeo/stable:latest"

// tarballMountPath is where the OCI layout tarball is mounted inside the
// skopeo container.
const tarballMountPath = "/tmp/oci_layout.tar"

// RegistryCredentials authenticate against a destination registry.
type RegistryCredentials struct {
	Username string
	Password string
}

// ContainerClient is the slice of the Docker API the publisher needs. It is
// satisfied by *client.Client.
type ContainerClient interface {
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig,
		networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
}

// Publisher copies built OCI layout tarballs to registries by running the
// image-copy tool in short-lived containers, one container per tag.
type Publisher struct {
	client ContainerClient
}

// NewPublisher creates a Publisher on top of a Docker client.
func NewPublisher(client ContainerClient) *Publisher {
	return &Publisher{client: client}
}

// Publish copies the tarball to every tag. Without credentials the copy runs
// with destination TLS verification disabled and no credentials. That path
// only suits local development registries and is logged as unsafe.
func (p *Publisher) Publish(ctx context.Context, tarballPath string, tags []string, creds *RegistryCredentials) error {
	absTarball, err := filepath.Abs(tarballPath)
	if err != nil {
		return errors.Wrap("resolve OCI layout tarball path", tarballPath, err)
	}

	var credArgs []string
	if creds == nil {
		logging.WarnContext(ctx,
			"Publishing without registry credentials and without destination TLS verification. "+
				"This is unsafe outside local development registries.")
		credArgs = []string{"--dest-no-creds", "--dest-tls-verify=false"}
	} else {
		credArgs = []string{fmt.Sprintf("--dest-creds=%s:%s", creds.Username, creds.Password)}
	}

	for _, tag := range tags {
		if err := p.copyToTag(ctx, absTarball, tag, credArgs); err != nil {
			return err
		}
	}
	return nil
}

func (p *Publisher) copyToTag(ctx context.Context, tarballPath, tag string, credArgs []string) error {
	containerName := "agent-build-skopeo-" + uuid.NewString()

	cmd := []string{"copy", "--all"}
	cmd = append(cmd, credArgs...)
	cmd = append(cmd, "oci-archive:"+tarballMountPath, "docker://"+tag)

	logging.InfoContext(ctx, "Publishing image to %s", tag)
	logging.DebugContext(ctx, "Running skopeo %v in container %s", logging.RedactCommandArgs(cmd), containerName)

	// A leftover from an interrupted previous run must not collide with
	// the new container.
	if err := p.removeContainer(ctx, containerName); err != nil {
		return err
	}

	created, err := p.client.ContainerCreate(ctx,
		&container.Config{
			Image: skopeoImage,
			Cmd:   cmd,
		},
		&container.HostConfig{
			NetworkMode: network.NetworkHost,
			Binds:       []string{tarballPath + ":" + tarballMountPath},
		},
		nil, nil, containerName)
	if err != nil {
		return errors.Wrap("create skopeo container", containerName, err)
	}

	if err := p.client.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		_ = p.removeContainer(ctx, created.ID)
		return errors.Wrap("start skopeo container", containerName, err)
	}

	statusCh, errCh := p.client.ContainerWait(ctx, created.ID, container.WaitConditionNotRunning)
	var exitCode int64
	select {
	case err := <-errCh:
		_ = p.removeContainer(ctx, created.ID)
		return errors.Wrap("wait for skopeo container", containerName, err)
	case status := <-statusCh:
		exitCode = status.StatusCode
	}

	if err := p.removeContainer(ctx, created.ID); err != nil {
		return err
	}

	if exitCode != 0 {
		return errors.Wrap("publish image", tag,
			fmt.Errorf("skopeo copy exited with status %d", exitCode))
	}
	return nil
}

// removeContainer force-removes a container. A container that does not exist
// is not an error.
func (p *Publisher) removeContainer(ctx context.Context, nameOrID string) error {
	err := p.client.ContainerRemove(ctx, nameOrID, container.RemoveOptions{Force: true})
	if err != nil && !errdefs.IsNotFound(err) {
		return errors.Wrap("remove skopeo container", nameOrID, err)
	}
	return nil
}
