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
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/scalyr/agent-build/errors"
)

// Layout of the agent source checkout used for filesystem assembly.
const (
	staticFilesystemDir = "container_images/agent_filesystem/root"
	configsDir          = "container_images/configs"
)

// agentDirs are created empty in every assembled filesystem.
var agentDirs = []string{
	"etc/scalyr-agent-2",
	"usr/share/scalyr-agent-2",
	"var/lib/scalyr-agent-2",
	"var/log/scalyr-agent-2",
}

// agentMainScript is the entry point whose interpreter line is rewritten
// inside the assembled tree.
const agentMainScript = "usr/share/scalyr-agent-2/bin/scalyr-agent-2"

// agentVersionFile carries the agent version inside the assembled tree. The
// agent reports it at runtime.
const agentVersionFile = "usr/share/scalyr-agent-2/VERSION"

const modernInterpreter = "#!/usr/bin/env python3"

// assembleAgentFilesystem builds the agent root filesystem for one image
// variant under destDir: the static files, the variant's configuration
// directory, the runtime directories, the VERSION file, and the entry point
// patched to the modern interpreter.
func assembleAgentFilesystem(sourceRoot, destDir string, imageType Type, version string) error {
	if err := os.RemoveAll(destDir); err != nil {
		return errors.Wrap("remove stale agent filesystem", destDir, err)
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return errors.Wrap("create agent filesystem directory", destDir, err)
	}

	for _, dir := range agentDirs {
		if err := os.MkdirAll(filepath.Join(destDir, dir), 0o755); err != nil {
			return errors.Wrap("create agent directory", dir, err)
		}
	}

	staticRoot := filepath.Join(sourceRoot, staticFilesystemDir)
	if err := copyTree(staticRoot, destDir); err != nil {
		return errors.Wrap("copy static agent files", staticRoot, err)
	}

	configDir := filepath.Join(sourceRoot, configsDir, fmt.Sprintf("%s-config", imageType))
	if err := copyTree(configDir, filepath.Join(destDir, "etc", "scalyr-agent-2")); err != nil {
		return errors.Wrap("copy image configuration", configDir, err)
	}

	versionPath := filepath.Join(destDir, agentVersionFile)
	if err := os.WriteFile(versionPath, []byte(version+"\n"), 0o644); err != nil {
		return errors.Wrap("write agent version file", versionPath, err)
	}

	scriptPath := filepath.Join(destDir, agentMainScript)
	if err := patchInterpreter(scriptPath, modernInterpreter); err != nil {
		return errors.Wrap("patch agent entry point interpreter", scriptPath, err)
	}

	return nil
}

// patchInterpreter replaces the interpreter line of a script in place. A
// script without an interpreter line gets one prepended.
func patchInterpreter(path, interpreter string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	rest := data
	if bytes.HasPrefix(data, []byte("#!")) {
		if idx := bytes.IndexByte(data, '\n'); idx >= 0 {
			rest = data[idx+1:]
		} else {
			rest = nil
		}
	}

	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	patched := append([]byte(interpreter+"\n"), rest...)
	return os.WriteFile(path, patched, info.Mode().Perm())
}

// copyTree copies src into dst, merging with existing content. Symbolic links
// are recreated, not followed, so library trees keep their link structure.
func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		switch {
		case d.IsDir():
			return os.MkdirAll(target, 0o755)
		case d.Type()&fs.ModeSymlink != 0:
			linkTarget, err := os.Readlink(path)
			if err != nil {
				return err
			}
			if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
				return err
			}
			return os.Symlink(linkTarget, target)
		default:
			return copyFile(path, target)
		}
	})
}

func copyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
