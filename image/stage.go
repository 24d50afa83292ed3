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
	"context"
	"fmt"
	"sync"

	"github.com/scalyr/agent-build/buildx"
)

// StageState records how far an expensive build stage has progressed within
// one build context.
type StageState int

// Stage states. A stage moves NotStarted -> InProgress -> Done and never
// leaves Done. A failed stage returns to NotStarted so it can be retried.
const (
	StageNotStarted StageState = iota
	StageInProgress
	StageDone
)

// StageTracker ensures each named stage runs at most once per build context.
// Builders share a tracker through the BuildContext instead of keeping
// process-global flags, so independent contexts (and tests) start cold.
type StageTracker struct {
	mu     sync.Mutex
	states map[string]StageState
}

// NewStageTracker creates an empty tracker.
func NewStageTracker() *StageTracker {
	return &StageTracker{states: make(map[string]StageState)}
}

// State returns the current state of a stage.
func (t *StageTracker) State(name string) StageState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.states[name]
}

// Run executes fn unless the stage already completed in this context. A
// failed run leaves the stage retryable. Reentering a stage that is still in
// progress is an error.
func (t *StageTracker) Run(name string, fn func() error) error {
	t.mu.Lock()
	switch t.states[name] {
	case StageDone:
		t.mu.Unlock()
		return nil
	case StageInProgress:
		t.mu.Unlock()
		return fmt.Errorf("stage %q is already in progress", name)
	}
	t.states[name] = StageInProgress
	t.mu.Unlock()

	if err := fn(); err != nil {
		t.mu.Lock()
		t.states[name] = StageNotStarted
		t.mu.Unlock()
		return err
	}

	t.mu.Lock()
	t.states[name] = StageDone
	t.mu.Unlock()
	return nil
}

// Invoker runs buildx builds. It is satisfied by *buildx.Invoker and narrow
// enough to fake in tests.
type Invoker interface {
	Build(ctx context.Context, req buildx.Request) ([]byte, error)
}

// BuildContext carries the shared state of one build run: the build invoker,
// the stage tracker and the dependency cache, plus the directory layout the
// builders work in.
type BuildContext struct {
	Invoker      Invoker
	Stages       *StageTracker
	Dependencies *DependencyCache

	// OutputRoot is the directory all build artifacts land under.
	OutputRoot string
	// SourceRoot is the agent source checkout the builds read from.
	SourceRoot string
}

// NewBuildContext wires a BuildContext around an invoker.
func NewBuildContext(invoker Invoker, outputRoot, sourceRoot string) *BuildContext {
	return &BuildContext{
		Invoker:      invoker,
		Stages:       NewStageTracker(),
		Dependencies: NewDependencyCache(invoker, outputRoot, sourceRoot),
		OutputRoot:   outputRoot,
		SourceRoot:   sourceRoot,
	}
}
