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
	"context"
	"io"
	"os/exec"
	"syscall"
	"time"
)

// Command describes a single external command invocation.
type Command struct {
	// Name is the executable to run.
	Name string
	// Args are the arguments passed to the executable, not including the
	// executable name itself.
	Args []string
	// Dir is the working directory. Empty means the current directory.
	Dir string
	// Stdout and Stderr receive the command's output streams.
	Stdout io.Writer
	Stderr io.Writer
}

// Result reports how a command finished.
type Result struct {
	// ExitCode is the command's exit status. It is meaningless when
	// TimedOut is set.
	ExitCode int
	// TimedOut reports that the command was killed because it exceeded
	// the wait limit. A timed out command is a state, not an error.
	TimedOut bool
}

// Runner executes external commands. A wait of zero runs the command with no
// time limit.
type Runner interface {
	Run(ctx context.Context, cmd Command, wait time.Duration) (Result, error)
}

// NewRunner returns the default Runner backed by os/exec. Commands run in
// their own process group so a timed out command can be killed together with
// every process it spawned.
func NewRunner() Runner {
	return &execRunner{}
}

type execRunner struct{}

func (r *execRunner) Run(ctx context.Context, cmd Command, wait time.Duration) (Result, error) {
	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir
	c.Stdout = cmd.Stdout
	c.Stderr = cmd.Stderr
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := c.Start(); err != nil {
		return Result{}, err
	}

	done := make(chan error, 1)
	go func() {
		done <- c.Wait()
	}()

	var timeout <-chan time.Time
	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case err := <-done:
		return resultFromWait(err)
	case <-timeout:
		// Children first so the build frontend cannot respawn workers
		// while the parent is still alive to do so.
		KillProcessTree(c.Process.Pid)
		<-done
		return Result{TimedOut: true}, nil
	case <-ctx.Done():
		KillProcessTree(c.Process.Pid)
		<-done
		return Result{}, ctx.Err()
	}
}

func resultFromWait(err error) (Result, error) {
	if err == nil {
		return Result{ExitCode: 0}, nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return Result{ExitCode: exitErr.ExitCode()}, nil
	}
	return Result{}, err
}
