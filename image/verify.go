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

package image

import (
	"fmt"

	"github.com/google/go-containerregistry/pkg/v1/layout"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/scalyr/agent-build/errors"
)

// VerifyOCILayout checks that a directory is a readable OCI image layout with
// at least one image manifest.
func VerifyOCILayout(path string) error {
	p, err := layout.FromPath(path)
	if err != nil {
		return errors.Wrap("open OCI layout", path, err)
	}

	index, err := p.ImageIndex()
	if err != nil {
		return errors.Wrap("read OCI layout index", path, err)
	}

	manifest, err := index.IndexManifest()
	if err != nil {
		return errors.Wrap("parse OCI layout index", path, err)
	}

	if len(manifest.Manifests) == 0 {
		return errors.Wrap("verify OCI layout", path, fmt.Errorf("layout index lists no manifests"))
	}

	for _, desc := range manifest.Manifests {
		mediaType := string(desc.MediaType)
		switch mediaType {
		case ocispec.MediaTypeImageManifest, ocispec.MediaTypeImageIndex:
		default:
			return errors.Wrap("verify OCI layout", path,
				fmt.Errorf("unexpected manifest media type %q", mediaType))
		}
	}
	return nil
}
