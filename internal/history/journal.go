package history

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/samber/lo"
)

// Record is one finished upload attempt as persisted in the journal.
type Record struct {
	FileID     string    `json:"fileId"`
	Filename   string    `json:"filename"`
	Size       int64     `json:"size"`
	Outcome    string    `json:"outcome"`
	Message    string    `json:"message"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
}

// Journal stores upload outcomes in a local Badger database so past
// attempts survive process restarts.
type Journal struct {
	db *badger.DB
}

func Open(path string) (*Journal, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return &Journal{db: db}, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

// Append persists a finished attempt. Keys embed the start time so plain
// iteration returns attempts in chronological order.
func (j *Journal) Append(rec Record) error {
	key := fmt.Sprintf("attempt:%020d:%s", rec.StartedAt.UnixNano(), rec.Filename)
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	return j.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
}

// List returns all recorded attempts, newest first.
func (j *Journal) List() ([]Record, error) {
	var records []Record
	prefix := []byte("attempt:")

	err := j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(v []byte) error {
				var rec Record
				if err := json.Unmarshal(v, &rec); err != nil {
					return fmt.Errorf("decode record: %w", err)
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

	return lo.Reverse(records), nil
}
