package persistence

import (
	"encoding/json"
	"errors"

	"binance-signal-bot-go/internal/models"

	"github.com/dgraph-io/badger/v3"
)

// badgerRepository is the BadgerDB implementation of the OpenSetRepository.
type badgerRepository struct {
	db      *badger.DB
	setKey  []byte
	metaKey []byte
}

// NewBadgerRepository creates and returns a new repository instance connected to a BadgerDB database.
func NewBadgerRepository(dbPath string) (OpenSetRepository, error) {
	opts := badger.DefaultOptions(dbPath)
	// For this use case, we can disable Badger's own logging to keep our app's logs clean.
	// Errors will still be returned from DB operations.
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	return &badgerRepository{
		db:      db,
		setKey:  []byte("open_set"), // single key holding the whole working set
		metaKey: []byte("open_set_version"),
	}, nil
}

// SaveOpenSet atomically saves the full open-position set.
// The set is marshaled to JSON and written under a predefined key together
// with its version counter, so a torn write can never mix two snapshots.
func (r *badgerRepository) SaveOpenSet(set *models.OpenSet) error {
	data, err := json.Marshal(set)
	if err != nil {
		return err
	}
	version := []byte{
		byte(set.Version >> 56), byte(set.Version >> 48),
		byte(set.Version >> 40), byte(set.Version >> 32),
		byte(set.Version >> 24), byte(set.Version >> 16),
		byte(set.Version >> 8), byte(set.Version),
	}

	return r.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(r.setKey, data); err != nil {
			return err
		}
		return txn.Set(r.metaKey, version)
	})
}

// LoadOpenSet loads the last persisted open-position set.
// If the key is not found, it returns (nil, nil) to indicate no snapshot is present.
func (r *badgerRepository) LoadOpenSet() (*models.OpenSet, error) {
	var set models.OpenSet

	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(r.setKey)
		if err != nil {
			// Return the specific error to check it outside the transaction.
			return err
		}

		return item.Value(func(val []byte) error {
			if len(val) == 0 {
				return errors.New("open set value is empty in database")
			}
			return json.Unmarshal(val, &set)
		})
	})

	// After the transaction, check for the specific "key not found" error.
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil // Expected "no snapshot yet" case.
	}

	if err != nil {
		return nil, err
	}

	return &set, nil
}

// Close gracefully closes the connection to the database.
func (r *badgerRepository) Close() error {
	return r.db.Close()
}
