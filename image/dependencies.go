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
	"os"
	"path/filepath"
	"sync"

	"github.com/scalyr/agent-build/buildx"
	"github.com/scalyr/agent-build/errors"
	"github.com/scalyr/agent-build/logging"
)

// Dockerfile and requirement file locations inside the agent source checkout.
const (
	dependencyDockerfile = "container_images/dependencies/Dockerfile"
	agentRequirements    = "requirement-files/agent-requirements.txt"
	testRequirements     = "requirement-files/test-requirements.txt"
)

// DependencyCache skips redundant dependency builds within one process. The
// first EnsureBuilt for a (distro, architecture) pair runs the build, later
// calls only copy the cached result. The cache is in-memory only, so
// concurrent processes race at the underlying build engine cache instead.
type DependencyCache struct {
	invoker    Invoker
	outputRoot string
	sourceRoot string

	mu    sync.Mutex
	built map[string]map[buildx.Architecture]bool
}

// NewDependencyCache creates an empty cache.
func NewDependencyCache(invoker Invoker, outputRoot, sourceRoot string) *DependencyCache {
	return &DependencyCache{
		invoker:    invoker,
		outputRoot: outputRoot,
		sourceRoot: sourceRoot,
		built:      make(map[string]map[buildx.Architecture]bool),
	}
}

// CacheName returns the build cache scope for a (distro, architecture) pair.
func CacheName(distro Distro, arch buildx.Architecture) string {
	return fmt.Sprintf("agent_container_image_dependencies_%s_%s", distro.Name, arch)
}

// EnsureBuilt builds the dependency libraries for the pair unless this
// process already built them, then optionally merges the result into
// outputDir. It returns the cached result directory.
func (c *DependencyCache) EnsureBuilt(ctx context.Context, distro Distro, arch buildx.Architecture, outputDir string) (string, error) {
	cacheName := CacheName(distro, arch)
	resultDir := filepath.Join(c.outputRoot, cacheName)

	if c.alreadyBuilt(distro, arch) {
		logging.DebugContext(ctx, "Dependencies for %s/%s already built in this run, reusing %s",
			distro.Name, arch, resultDir)
		if outputDir != "" {
			if err := copyTree(resultDir, outputDir); err != nil {
				return "", errors.Wrap("copy cached dependencies", outputDir, err)
			}
		}
		return resultDir, nil
	}

	// A stale result from a previous run must not be merged with the
	// fresh build output.
	if err := os.RemoveAll(resultDir); err != nil {
		return "", errors.Wrap("remove stale dependency result", resultDir, err)
	}

	logging.InfoContext(ctx, "Building agent dependencies for %s/%s", distro.Name, arch)

	_, err := c.invoker.Build(ctx, buildx.Request{
		Dockerfile:    filepath.Join(c.sourceRoot, dependencyDockerfile),
		ContextDir:    c.sourceRoot,
		Architectures: []buildx.Architecture{arch},
		BuildArgs: map[string]string{
			"BASE_DISTRO":        distro.Name,
			"AGENT_REQUIREMENTS": agentRequirements,
			"TEST_REQUIREMENTS":  testRequirements,
		},
		BuildContexts: map[string]string{
			"base_image": "docker-image://" + distro.BaseImage,
		},
		Output:                  buildx.LocalDirectory{Dest: resultDir},
		CacheName:               cacheName,
		FallbackToRemoteBuilder: true,
	})
	if err != nil {
		return "", err
	}

	c.recordBuilt(distro, arch)

	if outputDir != "" {
		if err := copyTree(resultDir, outputDir); err != nil {
			return "", errors.Wrap("copy built dependencies", outputDir, err)
		}
	}
	return resultDir, nil
}

func (c *DependencyCache) alreadyBuilt(distro Distro, arch buildx.Architecture) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.built[distro.Name][arch]
}

func (c *DependencyCache) recordBuilt(distro Distro, arch buildx.Architecture) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.built[distro.Name] == nil {
		c.built[distro.Name] = make(map[buildx.Architecture]bool)
	}
	c.built[distro.Name][arch] = true
}
