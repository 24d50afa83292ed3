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
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scalyr/agent-build/config"
)

// newPullRequestServer serves the GitHub pulls endpoint with a fixed JSON
// body and records the last request.
func newPullRequestServer(t *testing.T, body string, lastReq **http.Request) *PullRequests {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*lastReq = r.Clone(r.Context())
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)

	prs := NewPullRequests("test-token")
	prs.baseURL = server.URL
	return prs
}

func TestOpenAgainstDefault(t *testing.T) {
	t.Parallel()

	t.Run("open pull request found", func(t *testing.T) {
		t.Parallel()

		var lastReq *http.Request
		prs := newPullRequestServer(t, `[{"number": 101}]`, &lastReq)

		open, err := prs.OpenAgainstDefault(context.Background(), "scalyr/scalyr-agent-2", "improve-parser")
		require.NoError(t, err)
		assert.True(t, open)

		require.NotNil(t, lastReq)
		assert.Equal(t, "/repos/scalyr/scalyr-agent-2/pulls", lastReq.URL.Path)
		assert.Equal(t, "open", lastReq.URL.Query().Get("state"))
		assert.Equal(t, DefaultBranch, lastReq.URL.Query().Get("base"))
		assert.Equal(t, "scalyr:improve-parser", lastReq.URL.Query().Get("head"))
		assert.Equal(t, "Bearer test-token", lastReq.Header.Get("Authorization"))
	})

	t.Run("no open pull requests", func(t *testing.T) {
		t.Parallel()

		var lastReq *http.Request
		prs := newPullRequestServer(t, `[]`, &lastReq)

		open, err := prs.OpenAgainstDefault(context.Background(), "scalyr/scalyr-agent-2", "improve-parser")
		require.NoError(t, err)
		assert.False(t, open)
	})

	t.Run("rejects malformed repository slug", func(t *testing.T) {
		t.Parallel()

		prs := NewPullRequests("test-token")
		_, err := prs.OpenAgainstDefault(context.Background(), "no-slash", "branch")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "owner/name")
	})

	t.Run("API error is surfaced", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		}))
		t.Cleanup(server.Close)

		prs := NewPullRequests("test-token")
		prs.baseURL = server.URL

		_, err := prs.OpenAgainstDefault(context.Background(), "scalyr/scalyr-agent-2", "branch")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unexpected status")
	})
}

func classifyWithPullRequestsAt(ctx context.Context, ci config.CIConfig, agentVersion, baseURL string) Scope {
	prs := NewPullRequests(ci.Token)
	prs.baseURL = baseURL
	return classifyWithPullRequests(ctx, ci, agentVersion, prs)
}

func TestClassifyWithPullRequests(t *testing.T) {
	t.Parallel()

	branchPush := func(token string) config.CIConfig {
		return config.CIConfig{
			EventName:  "push",
			RefType:    "branch",
			RefName:    "improve-parser",
			Token:      token,
			Repository: "scalyr/scalyr-agent-2",
		}
	}

	t.Run("branch with open pull request is promoted to full", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`[{"number": 7}]`))
		}))
		t.Cleanup(server.Close)

		ci := branchPush("test-token")
		scope := classifyWithPullRequestsAt(context.Background(), ci, "2.1.40", server.URL)
		assert.Equal(t, ScopeFull, scope)
	})

	t.Run("branch without pull requests stays limited", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`[]`))
		}))
		t.Cleanup(server.Close)

		ci := branchPush("test-token")
		scope := classifyWithPullRequestsAt(context.Background(), ci, "2.1.40", server.URL)
		assert.Equal(t, ScopeLimited, scope)
	})

	t.Run("without a token the base classification stands", func(t *testing.T) {
		t.Parallel()

		scope := ClassifyWithPullRequests(context.Background(), branchPush(""), "2.1.40")
		assert.Equal(t, ScopeLimited, scope)
	})

	t.Run("already full runs never query the API", func(t *testing.T) {
		t.Parallel()

		ci := config.CIConfig{
			EventName:  "push",
			RefType:    "branch",
			RefName:    DefaultBranch,
			Token:      "test-token",
			Repository: "scalyr/scalyr-agent-2",
		}
		scope := ClassifyWithPullRequests(context.Background(), ci, "2.1.40")
		assert.Equal(t, ScopeFull, scope)
	})

	t.Run("API failure keeps the limited run", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		t.Cleanup(server.Close)

		ci := branchPush("test-token")
		scope := classifyWithPullRequestsAt(context.Background(), ci, "2.1.40", server.URL)
		assert.Equal(t, ScopeLimited, scope)
	})
}

func TestDispatchAgentVersion(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		ci   config.CIConfig
		want string
	}{
		{
			name: "version from dispatch inputs",
			ci: config.CIConfig{
				EventName: "workflow_dispatch",
				Event:     `{"inputs": {"agent_version": "2.1.41"}}`,
			},
			want: "2.1.41",
		},
		{
			name: "other events are ignored",
			ci: config.CIConfig{
				EventName: "push",
				Event:     `{"inputs": {"agent_version": "2.1.41"}}`,
			},
			want: "",
		},
		{
			name: "empty payload",
			ci:   config.CIConfig{EventName: "workflow_dispatch"},
			want: "",
		},
		{
			name: "unreadable payload",
			ci: config.CIConfig{
				EventName: "workflow_dispatch",
				Event:     `{"inputs": [broken`,
			},
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, DispatchAgentVersion(tt.ci))
		})
	}
}
