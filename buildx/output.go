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

package buildx

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/scalyr/agent-build/errors"
)

// Output describes where a buildx build writes its result.
type Output interface {
	// DirectiveString returns the value passed to the --output flag.
	DirectiveString() string
}

// LocalDirectory exports the build result filesystem into a host directory.
type LocalDirectory struct {
	Dest string
}

// DirectiveString implements Output.
func (o LocalDirectory) DirectiveString() string {
	return "type=local,dest=" + o.Dest
}

// DockerImage loads the build result into the local docker daemon under the
// given image name.
type DockerImage struct {
	Name string
}

// DirectiveString implements Output.
func (o DockerImage) DirectiveString() string {
	return "type=docker"
}

// OCITarball writes the build result as an OCI image layout tarball. When
// Extract is set, the tarball is written next to Dest and unpacked into Dest
// after a successful build.
type OCITarball struct {
	Dest    string
	Extract bool
}

// TarballPath returns the path the tarball is written to. With extraction
// enabled, Dest names the unpacked layout directory and the tarball lands at
// Dest plus a .tar suffix.
func (o OCITarball) TarballPath() string {
	if o.Extract {
		return o.Dest + ".tar"
	}
	return o.Dest
}

// DirectiveString implements Output.
func (o OCITarball) DirectiveString() string {
	return "type=oci,dest=" + o.TarballPath()
}

// Finalize unpacks the tarball into the Dest directory. It is a no-op when
// extraction was not requested.
func (o OCITarball) Finalize() error {
	if !o.Extract {
		return nil
	}
	if err := os.RemoveAll(o.Dest); err != nil {
		return errors.Wrap("remove stale OCI layout directory", o.Dest, err)
	}
	if err := extractTarball(o.TarballPath(), o.Dest); err != nil {
		return errors.Wrap("extract OCI layout tarball", o.TarballPath(), err)
	}
	return nil
}

func extractTarball(tarballPath, destDir string) error {
	f, err := os.Open(tarballPath)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return err
	}

	tr := tar.NewReader(f)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		name := filepath.Clean(hdr.Name)
		if name == "." {
			continue
		}
		if strings.HasPrefix(name, "..") {
			return fmt.Errorf("tarball entry %q escapes the destination directory", hdr.Name)
		}
		target := filepath.Join(destDir, name)

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, hdr.FileInfo().Mode().Perm()); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, hdr.FileInfo().Mode().Perm())
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return err
			}
			if err := out.Close(); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unsupported tarball entry type %d for %q", hdr.Typeflag, hdr.Name)
		}
	}
}
