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
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/scalyr/agent-build/config"
	"github.com/scalyr/agent-build/errors"
	"github.com/scalyr/agent-build/logging"
)

const githubAPIBaseURL = "https://api.github.com"

// PullRequests queries the GitHub API for open pull requests of a repository.
type PullRequests struct {
	baseURL string
	client  *http.Client
	token   string
}

// NewPullRequests creates a checker authenticated with the workflow token.
func NewPullRequests(token string) *PullRequests {
	return &PullRequests{
		baseURL: githubAPIBaseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
		token:   token,
	}
}

// OpenAgainstDefault reports whether branch has at least one open pull
// request against the default branch of repository ("owner/name").
func (p *PullRequests) OpenAgainstDefault(ctx context.Context, repository, branch string) (bool, error) {
	owner, _, found := strings.Cut(repository, "/")
	if !found {
		return false, errors.Wrap("list pull requests", repository,
			fmt.Errorf("repository is not an owner/name slug"))
	}

	endpoint := fmt.Sprintf("%s/repos/%s/pulls?state=open&base=%s&head=%s",
		p.baseURL, repository, DefaultBranch, url.QueryEscape(owner+":"+branch))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, errors.Wrap("list pull requests", repository, err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return false, errors.Wrap("list pull requests", repository, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, errors.Wrap("list pull requests", repository,
			fmt.Errorf("unexpected status %s", resp.Status))
	}

	var pulls []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&pulls); err != nil {
		return false, errors.Wrap("decode pull request list", repository, err)
	}
	return len(pulls) > 0, nil
}

// ClassifyWithPullRequests refines Classify for branch pushes: a development
// branch with an open pull request against the default branch runs the full
// matrix even before the pull request itself triggers a run. Without a token
// or repository slug the base classification stands.
func ClassifyWithPullRequests(ctx context.Context, ci config.CIConfig, agentVersion string) Scope {
	return classifyWithPullRequests(ctx, ci, agentVersion, NewPullRequests(ci.Token))
}

func classifyWithPullRequests(ctx context.Context, ci config.CIConfig, agentVersion string, prs *PullRequests) Scope {
	scope := Classify(ci, agentVersion)
	if scope == ScopeFull {
		return scope
	}
	if ci.EventName != "push" || ci.RefType != "branch" || ci.Token == "" || ci.Repository == "" {
		return scope
	}

	open, err := prs.OpenAgainstDefault(ctx, ci.Repository, ci.RefName)
	if err != nil {
		logging.WarnContext(ctx, "Could not check open pull requests for %s, keeping %s run: %v",
			ci.RefName, scope, err)
		return scope
	}
	if open {
		return ScopeFull
	}
	return scope
}

// DispatchAgentVersion extracts the agent_version input from a manual
// workflow_dispatch event payload. It returns an empty string for any other
// event or payload shape.
func DispatchAgentVersion(ci config.CIConfig) string {
	if ci.EventName != "workflow_dispatch" || ci.Event == "" {
		return ""
	}

	var payload struct {
		Inputs struct {
			AgentVersion string `json:"agent_version"`
		} `json:"inputs"`
	}
	if err := json.Unmarshal([]byte(ci.Event), &payload); err != nil {
		return ""
	}
	return payload.Inputs.AgentVersion
}
