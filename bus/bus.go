// Package bus provides identity.EventBus transports for the registration
// round trip: an in-process bus and a Redis list based request/reply bus.
package bus

import (
	"context"

	identity "github.com/goliatone/go-identity"
)

// Handler answers a registration request on the downstream side.
type Handler func(ctx context.Context, req identity.RegistrationRequest) (identity.RegistrationResult, error)

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
