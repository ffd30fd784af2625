package detection

import (
	"context"
	"sync"
	"time"
)

// StubStrategy is a deterministic strategy for tests and dry runs. It returns
// a pre-loaded result, optionally after a delay, or fails in a configurable
// way (error or panic).
type StubStrategy struct {
	mu       sync.Mutex
	name     string
	priority int
	method   DetectionMethod
	result   StrategyResult
	err      error
	panicMsg string
	delay    time.Duration
	calls    int
}

// NewStubStrategy creates a stub that reports tokens under the given method.
func NewStubStrategy(name string, priority int, method DetectionMethod, tokens ...DetectedToken) *StubStrategy {
	return &StubStrategy{
		name:     name,
		priority: priority,
		method:   method,
		result:   StrategyResult{Tokens: tokens},
	}
}

// SetResult replaces the pre-loaded result.
func (s *StubStrategy) SetResult(result StrategyResult) *StubStrategy {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.result = result
	return s
}

// SetError makes every Detect call return err.
func (s *StubStrategy) SetError(err error) *StubStrategy {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
	return s
}

// SetPanic makes every Detect call panic with msg.
func (s *StubStrategy) SetPanic(msg string) *StubStrategy {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.panicMsg = msg
	return s
}

// SetDelay makes Detect sleep before returning, honoring ctx cancellation.
func (s *StubStrategy) SetDelay(d time.Duration) *StubStrategy {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
	return s
}

// Calls returns how many times Detect has been invoked.
func (s *StubStrategy) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *StubStrategy) Name() string            { return s.name }
func (s *StubStrategy) Priority() int           { return s.priority }
func (s *StubStrategy) Method() DetectionMethod { return s.method }

func (s *StubStrategy) BaseConfidence() float64 {
	return float64(s.method.BaseScore())
}

// Detect implements Strategy.
func (s *StubStrategy) Detect(ctx context.Context, _ string, _ Options) (StrategyResult, error) {
	s.mu.Lock()
	s.calls++
	result := s.result
	err := s.err
	panicMsg := s.panicMsg
	delay := s.delay
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return StrategyResult{}, nil
		}
	}

	if panicMsg != "" {
		panic(panicMsg)
	}
	if err != nil {
		return StrategyResult{}, err
	}
	return result, nil
}
