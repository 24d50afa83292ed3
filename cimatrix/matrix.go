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
	"encoding/json"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/scalyr/agent-build/cli"
	"github.com/scalyr/agent-build/errors"
	"github.com/scalyr/agent-build/image"
)

// defaultJobOS is used for jobs whose definition does not pin a runner OS.
const defaultJobOS = "ubuntu-22.04"

// Job is one image-build job in the matrix definition file.
type Job struct {
	// Name is a builder name, image type plus distro.
	Name string `yaml:"name" json:"name"`
	// Basic jobs run in every workflow, others only in full runs.
	Basic bool `yaml:"basic" json:"-"`
	// OS is the GitHub Actions runner image.
	OS string `yaml:"os,omitempty" json:"os"`
}

// Definition is the matrix definition file content.
type Definition struct {
	Jobs []Job `yaml:"jobs"`
}

// LoadDefinition reads and parses a YAML matrix definition file.
func LoadDefinition(path string) (*Definition, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap("read matrix definition", path, err)
	}

	var def Definition
	if err := yaml.Unmarshal(raw, &def); err != nil {
		return nil, errors.Wrap("parse matrix definition", path, err)
	}
	return &def, nil
}

// Matrix is the GitHub Actions job matrix, serialized as the "include" form
// consumed by a workflow's strategy block.
type Matrix struct {
	Include []Job `json:"include"`
}

// Generate filters the definition down to the jobs the run scope allows and
// fills in per-job defaults. Every job name must be a known builder.
func Generate(def *Definition, scope Scope) (*Matrix, error) {
	matrix := &Matrix{Include: []Job{}}

	for _, job := range def.Jobs {
		if _, _, err := image.LookupBuilder(job.Name); err != nil {
			return nil, cli.UnknownChoiceError("matrix job builder", job.Name, image.AllBuilderNames())
		}
		if !job.Basic && scope == ScopeLimited {
			continue
		}
		if job.OS == "" {
			job.OS = defaultJobOS
		}
		matrix.Include = append(matrix.Include, job)
	}
	return matrix, nil
}

// JSON renders the matrix in the form GitHub Actions expects.
func (m *Matrix) JSON() ([]byte, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, errors.Wrap("encode job matrix", "", err)
	}
	return raw, nil
}
