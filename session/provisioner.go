package session

import "context"

// Profile identifies one browser profile known to the agent.
type Profile struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Provisioner opens, closes, and enumerates external browser sessions.
// It is used once at startup (List, to bind configured worker names to
// live profile identifiers) and lazily per worker on first use (Open).
type Provisioner interface {
	// Open starts the profile's browser and returns a connected session
	// handle. Implementations retry the agent's transient "profile busy"
	// reply with bounded backoff before failing.
	Open(ctx context.Context, externalID string) (*Session, error)

	// Close stops the profile's browser.
	Close(ctx context.Context, externalID string) error

	// List enumerates the profiles the agent knows about.
	List(ctx context.Context) ([]Profile, error)
}
