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

package cimatrix

import (
	"github.com/go-git/go-git/v5"

	"github.com/scalyr/agent-build/config"
	"github.com/scalyr/agent-build/errors"
)

// CommitSHA resolves the commit the run builds from. GitHub Actions provides
// it in the environment; local runs fall back to the repository HEAD.
func CommitSHA(ci config.CIConfig, repoPath string) (string, error) {
	if ci.SHA != "" {
		return ci.SHA, nil
	}

	repo, err := git.PlainOpen(repoPath)
	if err != nil {
		return "", errors.Wrap("open git repository", repoPath, err)
	}
	head, err := repo.Head()
	if err != nil {
		return "", errors.Wrap("resolve repository HEAD", repoPath, err)
	}
	return head.Hash().String(), nil
}
