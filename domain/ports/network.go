package ports

import (
	"context"

	"github.com/oneclient-dev/oneclient-host/domain/entities"
)

// Network performs HTTP fetches on behalf of the core.
type Network interface {
	// Fetch sends the request and returns once the response head is available.
	// Transport failures are returned as *errors.NetworkError or *errors.TimeoutError.
	Fetch(ctx context.Context, req *entities.HTTPRequest) (*entities.HTTPResponse, error)
}
