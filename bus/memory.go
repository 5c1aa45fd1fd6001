package bus

import (
	"context"
	"fmt"

	identity "github.com/goliatone/go-identity"
)

// Memory dispatches requests to an in-process handler. The caller stops
// waiting when ctx is done even if the handler keeps running.
type Memory struct {
	handler Handler
}

var _ identity.EventBus = (*Memory)(nil)

// NewMemory returns a bus answering with handler
func NewMemory(handler Handler) *Memory {
	return &Memory{handler: handler}
}

type reply struct {
	result identity.RegistrationResult
	err    error
}

func (m *Memory) Request(ctx context.Context, req identity.RegistrationRequest) (identity.RegistrationResult, error) {
	if m.handler == nil {
		return identity.RegistrationResult{}, fmt.Errorf("bus: no handler registered")
	}

	done := make(chan reply, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- reply{err: fmt.Errorf("bus: handler panic: %v", r)}
			}
		}()
		result, err := m.handler(ctx, req)
		done <- reply{result: result, err: err}
	}()

	select {
	case <-ctx.Done():
		return identity.RegistrationResult{}, ctx.Err()
	case r := <-done:
		if r.err == nil && r.result.CorrelationID == "" {
			r.result.CorrelationID = req.CorrelationID
		}
		return r.result, r.err
	}
}
