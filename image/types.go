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

// Package image builds and publishes the agent container images. A staged
// Builder composes the dependency libraries, the shared base image layout and
// the agent filesystem into one final multi-architecture image per
// (image type, base distro) pair.
package image

import (
	"fmt"
	"sort"

	"github.com/scalyr/agent-build/buildx"
)

// Type is an agent container image variant. Each variant ships a different
// log ingestion mode.
type Type string

// Supported image variants.
const (
	TypeK8s          Type = "k8s"
	TypeDockerJSON   Type = "docker-json"
	TypeDockerSyslog Type = "docker-syslog"
	TypeDockerAPI    Type = "docker-api"
)

// AllTypes lists every image variant.
var AllTypes = []Type{TypeK8s, TypeDockerJSON, TypeDockerSyslog, TypeDockerAPI}

// RegistryImageNames returns the repository names the variant is published
// under. The docker-syslog variant keeps its historical alias.
func (t Type) RegistryImageNames() []string {
	switch t {
	case TypeK8s:
		return []string{"scalyr-k8s-agent"}
	case TypeDockerJSON:
		return []string{"scalyr-agent-docker-json"}
	case TypeDockerSyslog:
		return []string{"scalyr-agent-docker-syslog", "scalyr-agent-docker"}
	case TypeDockerAPI:
		return []string{"scalyr-agent-docker-api"}
	default:
		return nil
	}
}

// String returns the variant name.
func (t Type) String() string {
	return string(t)
}

// ParseType converts an image variant name to a Type.
func ParseType(s string) (Type, error) {
	for _, t := range AllTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown image type %q", s)
}

// Distro describes a base distribution an agent image can be built on.
type Distro struct {
	// Name is the distro identifier used in cache names and build args.
	Name string
	// TagSuffixes are appended to every published tag. An empty suffix
	// publishes the bare tag.
	TagSuffixes []string
	// BaseImage is the upstream image the dependency build starts from.
	BaseImage string
}

// Supported base distributions. Ubuntu images are also published without a
// suffix because ubuntu is the default distro.
var (
	Ubuntu = Distro{
		Name:        "ubuntu",
		TagSuffixes: []string{"-ubuntu", ""},
		BaseImage:   "ubuntu:22.04",
	}
	Alpine = Distro{
		Name:        "alpine",
		TagSuffixes: []string{"-alpine"},
		BaseImage:   "alpine:3.20",
	}
)

// AllDistros lists every supported base distribution.
var AllDistros = []Distro{Ubuntu, Alpine}

// BuilderName returns the canonical builder name for an (image type, distro)
// pair, such as docker-json-ubuntu.
func BuilderName(t Type, d Distro) string {
	return fmt.Sprintf("%s-%s", t, d.Name)
}

// AllBuilderNames returns every known builder name, sorted.
func AllBuilderNames() []string {
	var names []string
	for _, t := range AllTypes {
		for _, d := range AllDistros {
			names = append(names, BuilderName(t, d))
		}
	}
	sort.Strings(names)
	return names
}

// LookupBuilder resolves a builder name to its image type and distro.
func LookupBuilder(name string) (Type, Distro, error) {
	for _, t := range AllTypes {
		for _, d := range AllDistros {
			if BuilderName(t, d) == name {
				return t, d, nil
			}
		}
	}
	return "", Distro{}, fmt.Errorf("unknown image builder %q", name)
}

// archTargetDir returns the directory name the final build stage expects the
// per-architecture requirement libraries under. The names follow the buildx
// TARGETPLATFORM convention of os_arch_variant with an empty variant.
func archTargetDir(arch buildx.Architecture) string {
	switch arch {
	case buildx.X8664:
		return "linux_amd64_"
	case buildx.ARM64:
		return "linux_arm64_"
	case buildx.ARMv7:
		return "linux_arm_v7"
	default:
		return "linux_" + arch.String()
	}
}
