package payment

import (
	"errors"
	"fmt"
)

var (
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	ErrGatewayRejected    = errors.New("payment gateway rejected request")
	ErrUnsupportedGateway = errors.New("unsupported payment gateway")
)

// GatewayError carries the provider's own status code alongside one of the
// sentinel errors above.
type GatewayError struct {
	Provider string
	Op       string
	Code     string
	Err      error
}

func (e *GatewayError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s %s: %v (code %s)", e.Provider, e.Op, e.Err, e.Code)
	}
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

func unavailable(provider, op string, cause error) error {
	return &GatewayError{
		Provider: provider,
		Op:       op,
		Err:      fmt.Errorf("%w: %v", ErrGatewayUnavailable, cause),
	}
}

func rejected(provider, op, code string) error {
	return &GatewayError{Provider: provider, Op: op, Code: code, Err: ErrGatewayRejected}
}
