package analyzer

import (
	"context"
	"sync"
)

// MockClient replays canned responses for tests. Each StreamCompletion call
// consumes the next response (the last one repeats). A non-nil error for a
// call is delivered instead of tokens.
type MockClient struct {
	mu        sync.Mutex
	Responses []string
	Errors    []error
	Calls     int
}

func (m *MockClient) StreamCompletion(ctx context.Context, _ []byte, _ string) (<-chan string, <-chan error) {
	m.mu.Lock()
	call := m.Calls
	m.Calls++
	var response string
	if len(m.Responses) > 0 {
		idx := call
		if idx >= len(m.Responses) {
			idx = len(m.Responses) - 1
		}
		response = m.Responses[idx]
	}
	var err error
	if call < len(m.Errors) {
		err = m.Errors[call]
	}
	m.mu.Unlock()

	tokens := make(chan string, 64)
	errs := make(chan error, 1)
	go func() {
		defer close(tokens)
		defer close(errs)
		if err != nil {
			errs <- err
			return
		}
		for _, tok := range tokenize(response) {
			select {
			case tokens <- tok:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}
	}()
	return tokens, errs
}
