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

package ec2

import (
	"errors"

	"github.com/aws/smithy-go"
)

// errorCode extracts the structured AWS error code, or empty when the error
// did not come from the API.
func errorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

// IsConcurrentMutation reports whether an error is a transient
// concurrent-modification conflict on a managed prefix list. These are
// retried with jittered backoff.
func IsConcurrentMutation(err error) bool {
	switch errorCode(err) {
	case "PrefixListVersionMismatch", "ConcurrentMutationLimitExceeded", "IncorrectState":
		return true
	}
	return false
}

// IsInstanceNotFound reports whether an instance no longer exists. During
// teardown this is benign: a concurrent cleanup got there first.
func IsInstanceNotFound(err error) bool {
	return errorCode(err) == "InvalidInstanceID.NotFound"
}

// IsVolumeNotFound reports whether a volume no longer exists. Benign during
// teardown for the same reason.
func IsVolumeNotFound(err error) bool {
	return errorCode(err) == "InvalidVolume.NotFound"
}

// IsVolumeInUse reports whether a volume is still attached. Volume deletion
// retries on this code only.
func IsVolumeInUse(err error) bool {
	return errorCode(err) == "VolumeInUse"
}
