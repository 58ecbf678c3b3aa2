package destinations

import (
	"fmt"

	"nightshift/internal/config"
	"nightshift/internal/services"
	"nightshift/internal/storage"
	"nightshift/internal/storage/dirstore"
	"nightshift/internal/storage/miniostore"
	"nightshift/internal/storage/s3store"
)

// ErrAccountsExhausted is returned by Select when no account has room.
var ErrAccountsExhausted = fmt.Errorf("%w: no destination has enough free space", services.ErrCapacityExhausted)

// Account is a destination's capacity snapshot.
type Account struct {
	ID            int    `json:"id"`
	Name          string `json:"name"`
	Provider      string `json:"provider"`
	CapacityBytes int64  `json:"capacity_bytes"`
	UsedBytes     int64  `json:"used_bytes"`
	// ReservedBytes are held by in-flight uploads of the current run.
	ReservedBytes int64  `json:"reserved_bytes"`
	Healthy       bool   `json:"healthy"`
	Error         string `json:"error,omitempty"`
}

// Available returns capacity minus usage and reservations, never negative.
func (a Account) Available() int64 {
	if avail := a.CapacityBytes - a.UsedBytes - a.ReservedBytes; avail > 0 {
		return avail
	}
	return 0
}

// Member is one configured destination and its client.
type Member struct {
	ID       int
	Name     string
	Provider string
	Client   storage.Client
}

// OpenClient builds the provider client for dest.
func OpenClient(dest config.Destination) (storage.Client, error) {
	switch dest.Provider {
	case config.ProviderMinIO:
		return miniostore.New(dest)
	case config.ProviderS3:
		return s3store.New(dest)
	case config.ProviderLocal:
		return dirstore.New(dest)
	default:
		return nil, services.Wrap(services.ErrConfiguration, "destinations", "open", fmt.Sprintf("unknown provider %q", dest.Provider), nil)
	}
}

// MembersFromConfig opens a client for every configured destination.
func MembersFromConfig(cfg *config.Config) ([]Member, error) {
	members := make([]Member, 0, len(cfg.Destinations))
	for _, dest := range cfg.Destinations {
		client, err := OpenClient(dest)
		if err != nil {
			return nil, fmt.Errorf("destination %s: %w", dest.Label(), err)
		}
		members = append(members, Member{ID: dest.ID, Name: dest.Label(), Provider: dest.Provider, Client: client})
	}
	return members, nil
}
