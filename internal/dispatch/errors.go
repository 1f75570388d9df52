package dispatch

import (
	"errors"
	"fmt"

	"overlay-node/internal/netx"
)

var (
	// ErrNoRoute means neither table produced a peer to hand the envelope to.
	ErrNoRoute = errors.New("dispatch: no route to destination")
	// ErrInvalidEnvelope means the envelope matched no delivery path.
	ErrInvalidEnvelope = errors.New("dispatch: envelope has no deliverable route")
	// ErrSign means the envelope could not be signed; nothing was sent.
	ErrSign = errors.New("dispatch: signing failed")
	// ErrSendFailed is the terminal outcome of a single-attempt delivery.
	ErrSendFailed = errors.New("dispatch: transport send failed")
	// ErrRetriesExhausted ends a forwarding chain that ran out of attempts or time.
	ErrRetriesExhausted = errors.New("dispatch: forwarding retries exhausted")
)

// SendError is the outcome of a single-attempt delivery the transport could
// not complete. It matches ErrSendFailed with errors.Is.
type SendError struct {
	Path     string
	Endpoint netx.Endpoint
}

func (e *SendError) Error() string {
	return fmt.Sprintf("dispatch: %s send to %s failed", e.Path, e.Endpoint)
}

func (e *SendError) Unwrap() error { return ErrSendFailed }
