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

package errors_test

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scalyr/agent-build/errors"
)

func TestWrap(t *testing.T) {
	t.Parallel()

	base := stderrors.New("exit status 1")

	tests := []struct {
		name   string
		action string
		detail string
		err    error
		want   string
	}{
		{
			name:   "with detail",
			action: "build image",
			detail: "docker-json-ubuntu",
			err:    base,
			want:   "failed to build image (docker-json-ubuntu): exit status 1",
		},
		{
			name:   "without detail",
			action: "extract OCI tarball",
			err:    base,
			want:   "failed to extract OCI tarball: exit status 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := errors.Wrap(tt.action, tt.detail, tt.err)
			require.Error(t, got)
			assert.Equal(t, tt.want, got.Error())
			assert.ErrorIs(t, got, base)
		})
	}
}

func TestWrapNilError(t *testing.T) {
	t.Parallel()

	assert.NoError(t, errors.Wrap("build image", "detail", nil))
}
