// Package bootstrap collects candidate endpoints for joining the overlay.
package bootstrap

import (
	"context"

	"overlay-node/internal/netx"
)

type PeerSource interface {
	// Discover returns candidate endpoints to send a connect request to.
	Discover(ctx context.Context) ([]netx.Endpoint, error)
	Name() string
}
