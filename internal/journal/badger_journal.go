package journal

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/dgraph-io/badger/v3"
)

var cyclePrefix = []byte("cycle/")

// badgerJournal is the BadgerDB implementation of the Journal.
type badgerJournal struct {
	db *badger.DB
}

// NewBadgerJournal opens (or creates) a BadgerDB-backed cycle journal at dbPath.
func NewBadgerJournal(dbPath string) (Journal, error) {
	opts := badger.DefaultOptions(dbPath)
	// Badger's own logging is noisy; errors still surface from DB operations.
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &badgerJournal{db: db}, nil
}

// Append stores one record under a key derived from its completion timestamp
// and cycle number, which keeps lexical key order equal to completion order.
func (j *badgerJournal) Append(rec CycleRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	key := fmt.Sprintf("%s%020d/%08d", cyclePrefix, rec.CompletedAt.UnixNano(), rec.CycleNumber)
	return j.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
}

// List returns all stored records ordered by completion time.
func (j *badgerJournal) List() ([]CycleRecord, error) {
	var records []CycleRecord

	err := j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = cyclePrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(cyclePrefix); it.ValidForPrefix(cyclePrefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var rec CycleRecord
				if err := json.Unmarshal(val, &rec); err != nil {
					return err
				}
				records = append(records, rec)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(records, func(a, b int) bool {
		return records[a].CompletedAt.Before(records[b].CompletedAt)
	})
	return records, nil
}

// Close gracefully closes the connection to the database.
func (j *badgerJournal) Close() error {
	return j.db.Close()
}
