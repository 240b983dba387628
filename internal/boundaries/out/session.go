package out

import (
	"context"

	"github.com/bnema/dockship/internal/domain"
)

// Session is a live connection to a remote endpoint.
type Session interface {
	// Channel returns the execution channel bound to the session.
	Channel() Channel
	// Close releases the session and every sub-channel it opened.
	Close() error
}

// SessionDialer opens sessions to remote endpoints.
type SessionDialer interface {
	Dial(ctx context.Context, ep domain.Endpoint) (Session, error)
}
