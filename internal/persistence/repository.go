package persistence

import "binance-signal-bot-go/internal/models"

// OpenSetRepository defines the interface for persisting the executor's
// open-position working set. It is deliberately narrow: a single snapshot
// object is written atomically and read back on restart.
type OpenSetRepository interface {
	// SaveOpenSet atomically persists the full open-position set.
	SaveOpenSet(set *models.OpenSet) error

	// LoadOpenSet loads the last persisted set.
	// Returns (nil, nil) when no snapshot has ever been written.
	LoadOpenSet() (*models.OpenSet, error)

	// Close gracefully closes the underlying store.
	Close() error
}
