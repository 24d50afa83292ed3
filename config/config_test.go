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

package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scalyr/agent-build/config"
)

// Environment variable tests cannot run in parallel because they mutate
// process state.

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "agent_build_output", cfg.Build.OutputRoot)
	assert.Equal(t, "docker.io", cfg.Registry.Default)
	assert.False(t, cfg.Build.UseGHACache)
	assert.False(t, cfg.Build.AllowFallbackToRemoteBuilder)
}

func TestLoadCacheEnvVars(t *testing.T) {
	t.Setenv("USE_GHA_CACHE", "true")
	t.Setenv("CACHE_VERSION", "v3")
	t.Setenv("ALLOW_FALLBACK_TO_REMOTE_BUILDER", "true")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.True(t, cfg.Build.UseGHACache)
	assert.Equal(t, "v3", cfg.Build.CacheVersion)
	assert.True(t, cfg.Build.AllowFallbackToRemoteBuilder)
}

func TestLoadGitHubEnvVars(t *testing.T) {
	t.Setenv("GITHUB_EVENT_NAME", "pull_request")
	t.Setenv("GITHUB_BASE_REF", "master")
	t.Setenv("GITHUB_REF_TYPE", "branch")
	t.Setenv("GITHUB_REF_NAME", "feature/logging")
	t.Setenv("GITHUB_SHA", "abc1234")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "pull_request", cfg.CI.EventName)
	assert.Equal(t, "master", cfg.CI.BaseRef)
	assert.Equal(t, "branch", cfg.CI.RefType)
	assert.Equal(t, "feature/logging", cfg.CI.RefName)
	assert.Equal(t, "abc1234", cfg.CI.SHA)
}

func TestLoadFromPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	content := `
build:
  output_root: /tmp/agent-build-out
  cache_version: "2"
registry:
  default: registry.example.com
  username: scalyr
aws:
  region: us-east-1
  ec2:
    prefix_list_id: pl-0123456789abcdef0
    instance_type: t3.medium
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := config.LoadFromPath(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/agent-build-out", cfg.Build.OutputRoot)
	assert.Equal(t, "2", cfg.Build.CacheVersion)
	assert.Equal(t, "registry.example.com", cfg.Registry.Default)
	assert.Equal(t, "scalyr", cfg.Registry.Username)
	assert.Equal(t, "us-east-1", cfg.AWS.Region)
	assert.Equal(t, "pl-0123456789abcdef0", cfg.AWS.EC2.PrefixListID)
	assert.Equal(t, "t3.medium", cfg.AWS.EC2.InstanceType)
}

func TestLoadFromPathMissingFile(t *testing.T) {
	_, err := config.LoadFromPath(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("build:\n  cache_version: \"1\"\n"), 0o644))

	t.Setenv("CACHE_VERSION", "9")

	cfg, err := config.LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, "9", cfg.Build.CacheVersion)
}
