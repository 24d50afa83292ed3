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
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scalyr/agent-build/buildx"
)

// newTestSourceRoot lays out the minimal agent checkout the filesystem
// assembly reads from.
func newTestSourceRoot(t *testing.T) string {
	t.Helper()
	root := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(root, "VERSION"), []byte("2.3.4\n"), 0o644))

	scriptDir := filepath.Join(root, staticFilesystemDir, "usr", "share", "scalyr-agent-2", "bin")
	require.NoError(t, os.MkdirAll(scriptDir, 0o755))
	script := "#!/usr/bin/python2\nimport agent\nagent.main()\n"
	require.NoError(t, os.WriteFile(filepath.Join(scriptDir, "scalyr-agent-2"), []byte(script), 0o755))

	for _, imageType := range AllTypes {
		configDir := filepath.Join(root, configsDir, imageType.String()+"-config")
		require.NoError(t, os.MkdirAll(configDir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(configDir, "agent.json"), []byte("{}"), 0o644))
	}

	return root
}

func TestBuilderBuildRunsAllStagesOnce(t *testing.T) {
	t.Parallel()

	invoker := &fakeInvoker{}
	bc := NewBuildContext(invoker, t.TempDir(), newTestSourceRoot(t))
	builder := NewBuilder(bc, TypeDockerJSON, Ubuntu)

	layoutDir, err := builder.Build(context.Background())
	require.NoError(t, err)
	assert.Equal(t, builder.OCILayoutDir(), layoutDir)

	// Two dependency builds (one per architecture), the base image build
	// and the final image build.
	require.Len(t, invoker.requests, 4)

	base := invoker.requests[2]
	assert.Equal(t, "base", base.Stage)
	assert.Empty(t, base.CacheName, "the base stage must never use the persistent cache")
	assert.Equal(t, buildx.SupportedArchitectures, base.Architectures)

	final := invoker.requests[3]
	assert.Empty(t, final.Stage)
	assert.Equal(t, "ubuntu", final.BuildArgs["BASE_DISTRO"])
	assert.Equal(t, "docker-json", final.BuildArgs["IMAGE_TYPE"])
	assert.Equal(t, "2.3.4", final.BuildArgs["AGENT_VERSION"])
	assert.True(t, strings.HasPrefix(final.BuildContexts["base_image"], "oci-layout://"))
	assert.Contains(t, final.BuildContexts, "requirements")
	assert.Contains(t, final.BuildContexts, "agent_filesystem")
	tarball, ok := final.Output.(buildx.OCITarball)
	require.True(t, ok)
	assert.True(t, tarball.Extract)

	// A second build reuses every stage.
	_, err = builder.Build(context.Background())
	require.NoError(t, err)
	assert.Len(t, invoker.requests, 4)
}

func TestBuildersShareStagesWithinContext(t *testing.T) {
	t.Parallel()

	invoker := &fakeInvoker{}
	bc := NewBuildContext(invoker, t.TempDir(), newTestSourceRoot(t))

	_, err := NewBuilder(bc, TypeDockerJSON, Ubuntu).Build(context.Background())
	require.NoError(t, err)
	countAfterFirst := len(invoker.requests)

	// The second builder shares the distro-scoped dependency and base
	// stages and only adds its own filesystem and final image.
	_, err = NewBuilder(bc, TypeK8s, Ubuntu).Build(context.Background())
	require.NoError(t, err)

	assert.Equal(t, countAfterFirst+1, len(invoker.requests))
}

func TestCreateAgentFilesystem(t *testing.T) {
	t.Parallel()

	invoker := &fakeInvoker{}
	bc := NewBuildContext(invoker, t.TempDir(), newTestSourceRoot(t))
	builder := NewBuilder(bc, TypeK8s, Ubuntu)

	require.NoError(t, builder.CreateAgentFilesystem(context.Background()))

	fsDir := builder.agentFilesystemDir()

	script, err := os.ReadFile(filepath.Join(fsDir, agentMainScript))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(script), modernInterpreter+"\n"))
	assert.Contains(t, string(script), "agent.main()")

	config, err := os.ReadFile(filepath.Join(fsDir, "etc", "scalyr-agent-2", "agent.json"))
	require.NoError(t, err)
	assert.Equal(t, "{}", string(config))

	version, err := os.ReadFile(filepath.Join(fsDir, agentVersionFile))
	require.NoError(t, err)
	assert.Equal(t, "2.3.4\n", string(version))

	for _, dir := range agentDirs {
		info, err := os.Stat(filepath.Join(fsDir, dir))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestBuildRejectsCheckoutWithoutVersion(t *testing.T) {
	t.Parallel()

	invoker := &fakeInvoker{}
	bc := NewBuildContext(invoker, t.TempDir(), t.TempDir())
	builder := NewBuilder(bc, TypeDockerJSON, Ubuntu)

	_, err := builder.Build(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read agent version file")
	assert.Empty(t, invoker.requests, "no build may start without a valid agent version")
}

func TestGenerateFinalRegistryTags(t *testing.T) {
	t.Parallel()

	invoker := &fakeInvoker{}
	bc := NewBuildContext(invoker, t.TempDir(), "src")

	t.Run("name outer, tag middle, suffix inner", func(t *testing.T) {
		t.Parallel()

		distro := Distro{Name: "ubuntu", TagSuffixes: []string{""}}
		builder := NewBuilder(bc, TypeDockerSyslog, distro)

		tags := builder.GenerateFinalRegistryTags("reg", "u", []string{"latest", "test"})
		assert.Equal(t, []string{
			"reg/u/scalyr-agent-docker-syslog:latest",
			"reg/u/scalyr-agent-docker-syslog:test",
			"reg/u/scalyr-agent-docker:latest",
			"reg/u/scalyr-agent-docker:test",
		}, tags)
	})

	t.Run("distro suffixes", func(t *testing.T) {
		t.Parallel()

		builder := NewBuilder(bc, TypeK8s, Ubuntu)
		tags := builder.GenerateFinalRegistryTags("docker.io", "scalyr", []string{"2.2.1"})
		assert.Equal(t, []string{
			"docker.io/scalyr/scalyr-k8s-agent:2.2.1-ubuntu",
			"docker.io/scalyr/scalyr-k8s-agent:2.2.1",
		}, tags)
	})

	t.Run("alpine suffix only", func(t *testing.T) {
		t.Parallel()

		builder := NewBuilder(bc, TypeDockerJSON, Alpine)
		tags := builder.GenerateFinalRegistryTags("docker.io", "scalyr", []string{"latest"})
		assert.Equal(t, []string{"docker.io/scalyr/scalyr-agent-docker-json:latest-alpine"}, tags)
	})
}

func TestVerifyOCILayout(t *testing.T) {
	t.Parallel()

	t.Run("valid layout", func(t *testing.T) {
		t.Parallel()

		dir := filepath.Join(t.TempDir(), "layout")
		require.NoError(t, writeMinimalOCILayout(dir))
		assert.NoError(t, VerifyOCILayout(dir))
	})

	t.Run("missing layout", func(t *testing.T) {
		t.Parallel()

		err := VerifyOCILayout(filepath.Join(t.TempDir(), "missing"))
		require.Error(t, err)
	})

	t.Run("empty index", func(t *testing.T) {
		t.Parallel()

		dir := filepath.Join(t.TempDir(), "layout")
		require.NoError(t, writeMinimalOCILayout(dir))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "index.json"),
			[]byte(`{"schemaVersion":2,"manifests":[]}`), 0o644))

		err := VerifyOCILayout(dir)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no manifests")
	})
}
