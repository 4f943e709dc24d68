// Package store persists the local identity and chat history in BadgerDB.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

const (
	keyLocalID   = "identity:local"
	messagePrefix = "msg:"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Entry is one chat message as kept in history.
type Entry struct {
	ID       uuid.UUID `json:"id"`
	SenderID string    `json:"senderID"`
	Text     string    `json:"text"`
	At       time.Time `json:"at"`
}

// Store is a BadgerDB-backed key-value store.
type Store struct {
	db *badger.DB
}

// Open opens (or creates) the store in dir. An empty dir keeps everything in
// memory.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLoggingLevel(badger.ERROR)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open store %q: %w", dir, err)
	}
	return &Store{db: db}, nil
}

// Close flushes and closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// LocalID returns the persisted local identity; ok is false when none has
// been stored yet.
func (s *Store) LocalID() (id string, ok bool, err error) {
	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyLocalID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			id = string(val)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read local id: %w", err)
	}
	return id, true, nil
}

// SetLocalID stores the local identity. An identity, once stored, is never
// replaced by a different one.
func (s *Store) SetLocalID(id string) error {
	if id == "" {
		return errors.New("empty local id")
	}
	return s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyLocalID))
		switch {
		case err == nil:
			var existing string
			if err := item.Value(func(val []byte) error {
				existing = string(val)
				return nil
			}); err != nil {
				return err
			}
			if existing != id {
				return fmt.Errorf("local id already set to %s", existing)
			}
			return nil
		case errors.Is(err, badger.ErrKeyNotFound):
			return txn.Set([]byte(keyLocalID), []byte(id))
		default:
			return err
		}
	})
}

// AppendMessage adds an entry to the chat's history. Missing ID and At are
// filled in.
//
// The key is "msg:{chatID}:{unixnano padded to 19 digits}:{uuid}" so a prefix
// scan returns the chat's messages in time order.
func (s *Store) AppendMessage(chatID string, e Entry) error {
	if chatID == "" || strings.Contains(chatID, ":") {
		return fmt.Errorf("invalid chat id %q", chatID)
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	e.At = e.At.UTC()

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}
	key := fmt.Sprintf("%s%s:%019d:%s", messagePrefix, chatID, e.At.UnixNano(), e.ID)
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
}

// History returns every entry of the chat, oldest first. ErrNotFound is
// returned when the chat has no messages.
func (s *Store) History(chatID string) ([]Entry, error) {
	prefix := []byte(messagePrefix + chatID + ":")

	var entries []Entry
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var e Entry
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			}); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			entries = append(entries, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("history of %s: %w", chatID, ErrNotFound)
	}
	return entries, nil
}
