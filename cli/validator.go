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

package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/go-containerregistry/pkg/name"
	"github.com/lithammer/fuzzysearch/fuzzy"
)

// ValidateRegistryReference validates a fully qualified image reference such
// as "registry.example.com/scalyr/scalyr-agent-docker-json:latest".
func ValidateRegistryReference(ref string) error {
	if _, err := name.ParseReference(ref, name.StrictValidation); err != nil {
		return fmt.Errorf("invalid registry reference %q: %w", ref, err)
	}
	return nil
}

// UnknownChoiceError reports an unrecognized choice for an enumerated CLI
// argument, with a "did you mean" suggestion when one is close enough.
func UnknownChoiceError(what, input string, choices []string) error {
	sorted := make([]string, len(choices))
	copy(sorted, choices)
	sort.Strings(sorted)

	if suggestion := SuggestClosest(input, sorted); suggestion != "" {
		return fmt.Errorf("unknown %s %q (did you mean %q?), available: %s",
			what, input, suggestion, strings.Join(sorted, ", "))
	}
	return fmt.Errorf("unknown %s %q, available: %s", what, input, strings.Join(sorted, ", "))
}

// SuggestClosest returns the choice closest to the input by fuzzy matching,
// or an empty string when nothing is close enough to be a plausible typo.
func SuggestClosest(input string, choices []string) string {
	ranks := fuzzy.RankFindNormalizedFold(input, choices)
	if len(ranks) == 0 {
		return ""
	}

	sort.Sort(ranks)
	best := ranks[0]

	// A large distance means the match is almost certainly not what the
	// user meant.
	if best.Distance > len(best.Target) {
		return ""
	}
	return best.Target
}
