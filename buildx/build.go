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
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/scalyr/agent-build/errors"
	"github.com/scalyr/agent-build/logging"
)

// Request describes a single docker buildx build.
type Request struct {
	// Dockerfile is the path to the Dockerfile.
	Dockerfile string
	// ContextDir is the build context directory.
	ContextDir string
	// Architectures are the target platforms. At least one is required.
	Architectures []Architecture
	// BuildArgs are passed as --build-arg flags.
	BuildArgs map[string]string
	// BuildContexts are passed as --build-context flags.
	BuildContexts map[string]string
	// Stage selects a Dockerfile stage with --target. Empty builds the
	// final stage.
	Stage string
	// Output is where the result is written. Nil leaves the result in the
	// build cache only.
	Output Output
	// CacheName enables the layer cache under this name. Empty disables
	// caching for the build.
	CacheName string
	// FallbackToRemoteBuilder bounds the local build attempt and retries
	// the build on a remote builder when the local attempt exceeds the
	// cache wait limit. Only effective for single architecture builds
	// with a cache name.
	FallbackToRemoteBuilder bool
	// CaptureOutput collects the build output into the returned buffer
	// instead of streaming it. The captured output is flushed to stderr
	// when the build fails.
	CaptureOutput bool
}

// Invoker runs buildx builds with cache and remote fallback handling.
type Invoker struct {
	runner        Runner
	cache         CacheSettings
	remotes       *RemoteBuilders
	allowFallback bool
	errOut        io.Writer
}

// NewInvoker creates an Invoker. The remote fallback only engages when
// allowFallback is set and the request opts in.
func NewInvoker(runner Runner, cache CacheSettings, remotes *RemoteBuilders, allowFallback bool) *Invoker {
	return &Invoker{
		runner:        runner,
		cache:         cache,
		remotes:       remotes,
		allowFallback: allowFallback,
		errOut:        os.Stderr,
	}
}

// Build runs the build described by the request. It returns the captured
// output when the request asked for capture, nil otherwise.
func (iv *Invoker) Build(ctx context.Context, req Request) ([]byte, error) {
	if len(req.Architectures) == 0 {
		return nil, fmt.Errorf("at least one target architecture is required")
	}

	args := iv.arguments(req)

	var captured bytes.Buffer
	cmd := Command{Name: "docker", Args: args}
	if req.CaptureOutput {
		cmd.Stdout = &captured
		cmd.Stderr = &captured
	} else {
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	}

	wait := iv.fallbackWait(req)
	if wait > 0 {
		logging.InfoContext(ctx,
			"Trying to build %s locally from cache, falling back to a remote builder after %s",
			req.Dockerfile, wait)
	}

	result, err := iv.runner.Run(ctx, cmd, wait)
	if err != nil {
		return nil, errors.Wrap("run buildx build", req.Dockerfile, err)
	}

	if result.TimedOut {
		logging.InfoContext(ctx,
			"Cache is not enough to finish the local build in time, repeating the build on a remote builder")

		builder, err := iv.remotes.Get(ctx, req.Architectures[0])
		if err != nil {
			return nil, err
		}

		retry := cmd
		retry.Args = append(append([]string{}, args...), "--builder="+builder.Name)

		result, err = iv.runner.Run(ctx, retry, 0)
		if err != nil {
			return nil, errors.Wrap("run buildx build on remote builder", builder.Name, err)
		}
	}

	if result.ExitCode != 0 {
		if req.CaptureOutput {
			_, _ = iv.errOut.Write(captured.Bytes())
		}
		return nil, errors.Wrap("build image", req.Dockerfile,
			fmt.Errorf("buildx build exited with status %d", result.ExitCode))
	}

	if tarball, ok := req.Output.(OCITarball); ok {
		if err := tarball.Finalize(); err != nil {
			return nil, err
		}
	}

	if req.CaptureOutput {
		return captured.Bytes(), nil
	}
	return nil, nil
}

// arguments assembles the buildx command line for a request. Map-driven flags
// are emitted in sorted key order so the command line is deterministic.
func (iv *Invoker) arguments(req Request) []string {
	args := []string{
		"buildx", "build",
		"-f=" + req.Dockerfile,
		"--progress=plain",
	}

	for _, arch := range req.Architectures {
		args = append(args, "--platform="+arch.Platform())
	}

	for _, key := range sortedKeys(req.BuildArgs) {
		args = append(args, fmt.Sprintf("--build-arg=%s=%s", key, req.BuildArgs[key]))
	}

	for _, key := range sortedKeys(req.BuildContexts) {
		args = append(args, fmt.Sprintf("--build-context=%s=%s", key, req.BuildContexts[key]))
	}

	if req.Stage != "" {
		args = append(args, "--target="+req.Stage)
	}

	if req.CacheName != "" {
		from, to := iv.cache.Args(req.CacheName)
		args = append(args, from, to)
	}

	if req.Output != nil {
		args = append(args, "--output="+req.Output.DirectiveString())
		if img, ok := req.Output.(DockerImage); ok {
			args = append(args, "-t="+img.Name)
		}
	}

	return append(args, req.ContextDir)
}

// fallbackWait returns the bounded wait for the local build attempt, or zero
// when the build must run unbounded. Multi-architecture builds never fall
// back because a remote builder serves a single architecture.
func (iv *Invoker) fallbackWait(req Request) time.Duration {
	if req.CacheName == "" || !req.FallbackToRemoteBuilder || !iv.allowFallback {
		return 0
	}
	if len(req.Architectures) != 1 {
		return 0
	}
	return iv.cache.Wait()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
