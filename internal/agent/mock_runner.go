package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirhamy/phase-golem/internal/item"
)

var _ Runner = (*MockRunner)(nil)

// MockCall records one invocation for test assertions.
type MockCall struct {
	Prompt     string
	ResultPath string
	Timeout    time.Duration
}

// MockRunner is a test double that pops results from a pre-loaded
// sequence, one per call. Adapted from the teacher's internal/agent/mock.go
// (which returns a single fixed RunFunc) to the spec's "pops from a
// pre-loaded sequence" requirement (§6).
type MockRunner struct {
	mu       sync.Mutex
	sequence []MockStep
	index    int
	Calls    []MockCall
}

// MockStep is one scripted response: either a Result or an error.
type MockStep struct {
	Result *item.Result
	Err    error
}

// NewMockRunner constructs a MockRunner that will return each step in
// sequence, one per RunAgent call.
func NewMockRunner(steps ...MockStep) *MockRunner {
	return &MockRunner{sequence: steps}
}

// Push appends an additional step to the end of the sequence.
func (m *MockRunner) Push(step MockStep) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sequence = append(m.sequence, step)
}

// RunAgent returns the next scripted step. If the sequence is exhausted it
// returns an error, signalling a test authoring mistake rather than
// silently repeating the last response.
func (m *MockRunner) RunAgent(_ context.Context, prompt string, resultPath string, timeout time.Duration) (*item.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, MockCall{Prompt: prompt, ResultPath: resultPath, Timeout: timeout})

	if m.index >= len(m.sequence) {
		return nil, fmt.Errorf("mock agent: sequence exhausted after %d calls", m.index)
	}
	step := m.sequence[m.index]
	m.index++
	if step.Err != nil {
		return nil, step.Err
	}
	return step.Result, nil
}
