package schedule

import (
	"context"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"
)

// Key layout. Call entries are keyed by persona and zero-padded start
// time so a prefix scan yields start-time order; a small id index maps
// entry IDs back to their call key for MarkCompleted.
//
//	call:<persona>:<start unix millis, 20 digits>:<id>  -> msgpack(Entry)
//	id:<id>                                             -> call key
//	cond:<id>                                           -> 0x00 | 0x01
const (
	callPrefix = "call:"
	idPrefix   = "id:"
	condPrefix = "cond:"
)

// Badger is the BadgerDB-backed Store.
type Badger struct {
	db *badger.DB
}

// BadgerOptions configures the Badger store.
type BadgerOptions struct {
	// Dir is the directory for data files. Required unless InMemory.
	Dir string

	// InMemory runs badger without disk persistence. Useful for tests
	// that want the real engine.
	InMemory bool

	// Logger sets the badger logger. If nil, badger output is silenced.
	Logger badger.Logger
}

// NewBadger opens a BadgerDB-backed store.
func NewBadger(opts BadgerOptions) (*Badger, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("schedule: BadgerOptions.Dir is required for on-disk mode")
	}
	dbOpts := badger.DefaultOptions(opts.Dir)
	if opts.InMemory {
		dbOpts = dbOpts.WithInMemory(true)
	}
	if opts.Logger != nil {
		dbOpts = dbOpts.WithLogger(opts.Logger)
	} else {
		dbOpts = dbOpts.WithLogger(nil)
	}
	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("schedule: open badger: %w", err)
	}
	return &Badger{db: db}, nil
}

func callKey(e Entry) []byte {
	return fmt.Appendf(nil, "%s%s:%020d:%s", callPrefix, e.Persona, e.StartAt.UnixMilli(), e.ID)
}

func personaPrefix(persona string) []byte {
	return []byte(callPrefix + persona + ":")
}

func (b *Badger) CountByPersona(_ context.Context, persona string) (int, error) {
	prefix := personaPrefix(persona)
	count := 0
	err := b.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = prefix
		iterOpts.PrefetchValues = false
		it := txn.NewIterator(iterOpts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

func (b *Badger) BulkInsert(_ context.Context, entries []Entry) error {
	return b.db.Update(func(txn *badger.Txn) error {
		for _, e := range entries {
			val, err := msgpack.Marshal(e)
			if err != nil {
				return fmt.Errorf("schedule: encode entry %s: %w", e.ID, err)
			}
			key := callKey(e)
			if err := txn.Set(key, val); err != nil {
				return err
			}
			if err := txn.Set([]byte(idPrefix+e.ID), key); err != nil {
				return err
			}
			if e.ConditionID != "" {
				// Register the condition as unsatisfied unless it
				// already exists.
				condKey := []byte(condPrefix + e.ConditionID)
				if _, err := txn.Get(condKey); errors.Is(err, badger.ErrKeyNotFound) {
					if err := txn.Set(condKey, []byte{0}); err != nil {
						return err
					}
				} else if err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func (b *Badger) PendingByPersona(_ context.Context, persona string) ([]Entry, error) {
	prefix := personaPrefix(persona)
	var out []Entry
	err := b.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = prefix
		it := txn.NewIterator(iterOpts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var e Entry
			err := it.Item().Value(func(val []byte) error {
				return msgpack.Unmarshal(val, &e)
			})
			if err != nil {
				return fmt.Errorf("schedule: decode entry: %w", err)
			}
			if !e.Completed {
				out = append(out, e)
			}
		}
		return nil
	})
	return out, err
}

func (b *Badger) MarkCompleted(_ context.Context, id string) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(idPrefix + id))
		if err != nil {
			return err
		}
		key, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		item, err = txn.Get(key)
		if err != nil {
			return err
		}
		var e Entry
		if err := item.Value(func(val []byte) error {
			return msgpack.Unmarshal(val, &e)
		}); err != nil {
			return fmt.Errorf("schedule: decode entry %s: %w", id, err)
		}
		e.Completed = true
		val, err := msgpack.Marshal(e)
		if err != nil {
			return fmt.Errorf("schedule: encode entry %s: %w", id, err)
		}
		return txn.Set(key, val)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	return err
}

func (b *Badger) Condition(_ context.Context, id string) (bool, error) {
	var satisfied bool
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(condPrefix + id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			satisfied = len(val) > 0 && val[0] == 1
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return satisfied, err
}

func (b *Badger) SetCondition(_ context.Context, id string, satisfied bool) error {
	v := byte(0)
	if satisfied {
		v = 1
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(condPrefix+id), []byte{v})
	})
}

func (b *Badger) Close() error {
	return b.db.Close()
}

// Ensure Badger implements Store.
var _ Store = (*Badger)(nil)
