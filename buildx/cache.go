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
	"fmt"
	"path/filepath"
	"time"

	"github.com/scalyr/agent-build/config"
)

// Wait limits for the bounded local build attempt before escalating to a
// remote builder. The GitHub Actions cache backend is slower to answer, so it
// gets a longer window.
const (
	ghaCacheWait   = 120 * time.Second
	localCacheWait = 40 * time.Second
)

// CacheSettings selects the buildx cache backend and names its scopes.
type CacheSettings struct {
	// UseGHA selects the GitHub Actions cache backend instead of a local
	// directory cache.
	UseGHA bool
	// Version is appended to every cache scope name so bumping it
	// invalidates all cached layers at once.
	Version string
	// OutputRoot is the directory local cache directories live under.
	OutputRoot string
}

// CacheSettingsFromConfig builds CacheSettings from the loaded configuration.
func CacheSettingsFromConfig(cfg *config.Config) CacheSettings {
	return CacheSettings{
		UseGHA:     cfg.Build.UseGHACache,
		Version:    cfg.Build.CacheVersion,
		OutputRoot: cfg.Build.OutputRoot,
	}
}

// Scope returns the cache scope name, with the cache version appended when
// one is set.
func (s CacheSettings) Scope(name string) string {
	if s.Version != "" {
		return name + "_" + s.Version
	}
	return name
}

// LocalCacheDir returns the directory the local cache backend uses for the
// given cache name.
func (s CacheSettings) LocalCacheDir(name string) string {
	return filepath.Join(s.OutputRoot, "docker_cache", name)
}

// Args returns the --cache-from and --cache-to flags for the given cache
// name.
func (s CacheSettings) Args(name string) (from, to string) {
	if s.UseGHA {
		scope := s.Scope(name)
		return fmt.Sprintf("--cache-from=type=gha,scope=%s", scope),
			fmt.Sprintf("--cache-to=type=gha,scope=%s", scope)
	}
	dir := s.LocalCacheDir(name)
	return fmt.Sprintf("--cache-from=type=local,src=%s", dir),
		fmt.Sprintf("--cache-to=type=local,dest=%s", dir)
}

// Wait returns how long a cache-backed local build may run before the build
// falls back to a remote builder.
func (s CacheSettings) Wait() time.Duration {
	if s.UseGHA {
		return ghaCacheWait
	}
	return localCacheWait
}
