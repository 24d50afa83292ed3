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

// Package buildx drives multi-architecture container image builds through
// docker buildx. It owns command assembly, build output targets, the cache
// backend selection, the bounded local build attempt, and the escalation to a
// remote builder when the cache is not enough.
package buildx

import "fmt"

// Architecture is an enumerated CPU build target.
type Architecture string

// Supported CPU architectures.
const (
	X8664 Architecture = "x86_64"
	ARM64 Architecture = "aarch64"
	ARMv7 Architecture = "armv7"
)

// SupportedArchitectures is the default architecture set for agent image
// builds. ARMv7 is defined but not built by default.
var SupportedArchitectures = []Architecture{X8664, ARM64}

// AllArchitectures lists every architecture the toolkit knows about.
var AllArchitectures = []Architecture{X8664, ARM64, ARMv7}

// String returns the architecture name.
func (a Architecture) String() string {
	return string(a)
}

// Platform returns the docker platform identifier for the architecture.
func (a Architecture) Platform() string {
	switch a {
	case X8664:
		return "linux/amd64"
	case ARM64:
		return "linux/arm64"
	case ARMv7:
		return "linux/arm/v7"
	default:
		return "linux/" + string(a)
	}
}

// ParseArchitecture converts an architecture name to an Architecture.
func ParseArchitecture(s string) (Architecture, error) {
	for _, arch := range AllArchitectures {
		if string(arch) == s {
			return arch, nil
		}
	}
	return "", fmt.Errorf("unknown architecture %q", s)
}
