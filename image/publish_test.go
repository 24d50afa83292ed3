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
	"strings"
	"testing"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/errdefs"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type createdContainer struct {
	name       string
	config     *container.Config
	hostConfig *container.HostConfig
}

type fakeContainerClient struct {
	created  []createdContainer
	started  []string
	removed  []string
	exitCode int64
	// removeMissing makes every remove report a missing container.
	removeMissing bool
}

func (f *fakeContainerClient) ContainerCreate(_ context.Context, config *container.Config,
	hostConfig *container.HostConfig, _ *network.NetworkingConfig, _ *ocispec.Platform,
	containerName string) (container.CreateResponse, error) {
	f.created = append(f.created, createdContainer{name: containerName, config: config, hostConfig: hostConfig})
	return container.CreateResponse{ID: "id-" + containerName}, nil
}

func (f *fakeContainerClient) ContainerStart(_ context.Context, containerID string, _ container.StartOptions) error {
	f.started = append(f.started, containerID)
	return nil
}

func (f *fakeContainerClient) ContainerWait(_ context.Context, _ string,
	_ container.WaitCondition) (<-chan container.WaitResponse, <-chan error) {
	statusCh := make(chan container.WaitResponse, 1)
	statusCh <- container.WaitResponse{StatusCode: f.exitCode}
	return statusCh, make(chan error, 1)
}

func (f *fakeContainerClient) ContainerRemove(_ context.Context, nameOrID string, _ container.RemoveOptions) error {
	f.removed = append(f.removed, nameOrID)
	if f.removeMissing {
		return errdefs.NotFound(fmt.Errorf("no such container %s", nameOrID))
	}
	return nil
}

func TestPublisherRunsOneContainerPerTag(t *testing.T) {
	t.Parallel()

	client := &fakeContainerClient{}
	publisher := NewPublisher(client)

	tags := []string{"reg/u/scalyr-agent-docker-json:latest", "reg/u/scalyr-agent-docker-json:2.2.1"}
	require.NoError(t, publisher.Publish(context.Background(), "/out/layout.tar", tags, nil))

	require.Len(t, client.created, 2)
	assert.NotEqual(t, client.created[0].name, client.created[1].name)

	for i, created := range client.created {
		assert.True(t, strings.HasPrefix(created.name, "agent-build-skopeo-"))
		assert.Equal(t, skopeoImage, created.config.Image)
		assert.Equal(t, []string{
			"copy", "--all",
			"--dest-no-creds", "--dest-tls-verify=false",
			"oci-archive:/tmp/oci_layout.tar",
			"docker://" + tags[i],
		}, []string(created.config.Cmd))
		assert.Equal(t, container.NetworkMode("host"), created.hostConfig.NetworkMode)
		assert.Equal(t, []string{"/out/layout.tar:/tmp/oci_layout.tar"}, created.hostConfig.Binds)
	}

	// Removed once before each copy and once after.
	assert.Len(t, client.removed, 4)
}

func TestPublisherUsesCredentials(t *testing.T) {
	t.Parallel()

	client := &fakeContainerClient{}
	publisher := NewPublisher(client)

	creds := &RegistryCredentials{Username: "scalyr", Password: "hunter2"}
	require.NoError(t, publisher.Publish(context.Background(), "/out/layout.tar",
		[]string{"reg/u/scalyr-agent-docker:latest"}, creds))

	require.Len(t, client.created, 1)
	cmd := client.created[0].config.Cmd
	assert.Contains(t, cmd, "--dest-creds=scalyr:hunter2")
	assert.NotContains(t, cmd, "--dest-no-creds")
	assert.NotContains(t, cmd, "--dest-tls-verify=false")
}

func TestPublisherToleratesMissingContainerOnRemove(t *testing.T) {
	t.Parallel()

	client := &fakeContainerClient{removeMissing: true}
	publisher := NewPublisher(client)

	err := publisher.Publish(context.Background(), "/out/layout.tar",
		[]string{"reg/u/scalyr-agent-docker:latest"}, nil)
	assert.NoError(t, err)
}

func TestPublisherFailsOnNonZeroExit(t *testing.T) {
	t.Parallel()

	client := &fakeContainerClient{exitCode: 1}
	publisher := NewPublisher(client)

	err := publisher.Publish(context.Background(), "/out/layout.tar",
		[]string{"reg/u/scalyr-agent-docker:latest"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to publish image (reg/u/scalyr-agent-docker:latest)")
	assert.Contains(t, err.Error(), "exited with status 1")
}
