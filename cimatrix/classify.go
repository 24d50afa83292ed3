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

// Package cimatrix classifies CI workflow runs and generates the GitHub
// Actions job matrix for the image builds. Development branches get a
// reduced matrix to keep the job count down; release-relevant runs get the
// full one.
package cimatrix

import (
	"github.com/scalyr/agent-build/config"
)

// DefaultBranch is the branch whose pushes and pull requests always run the
// full matrix.
const DefaultBranch = "master"

// Scope is the breadth of a CI workflow run.
type Scope int

const (
	// ScopeLimited runs only the basic jobs.
	ScopeLimited Scope = iota
	// ScopeFull runs every job in the matrix.
	ScopeFull
)

func (s Scope) String() string {
	if s == ScopeFull {
		return "full"
	}
	return "limited"
}

// Classify decides the run scope from the GitHub Actions context.
// agentVersion is the version from the source checkout, used to recognize a
// push to the matching release tag.
func Classify(ci config.CIConfig, agentVersion string) Scope {
	switch ci.EventName {
	case "pull_request":
		if ci.BaseRef == DefaultBranch {
			return ScopeFull
		}
	case "push":
		if ci.RefType == "branch" && ci.RefName == DefaultBranch {
			return ScopeFull
		}
		if ci.RefType == "tag" && agentVersion != "" && ci.RefName == "v"+agentVersion {
			return ScopeFull
		}
	case "schedule", "workflow_dispatch":
		return ScopeFull
	}
	return ScopeLimited
}
