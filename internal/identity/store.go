// Package identity persists registered identities. It is the directory the
// file service consults for share targets.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"file-server-go/internal/logger"
)

var log = logger.WithComponent("IDENTITY")

var (
	ErrNotFound = errors.New("identity not found")
	ErrExists   = errors.New("identity already exists")
)

const (
	nameKeyPrefix = "identity/name/"
	idKeyPrefix   = "identity/id/"
)

// Identity is a registered account. Name selects its storage root.
type Identity struct {
	ID           string    `json:"id"`
	Name         string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash []byte    `json:"passwordHash"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Store keeps identities in Badger. Records are keyed by name; a secondary
// key maps the ID back to the name.
type Store struct {
	db *badger.DB
}

// Open opens or creates the store at dir. With inMemory set, dir is ignored
// and nothing is written to disk.
func Open(dir string, inMemory bool) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open identity store: %w", err)
	}
	log.Debug("Opened identity store | dir=%s inMemory=%v", dir, inMemory)
	return &Store{db: db}, nil
}

// Close flushes and closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func nameKey(name string) []byte {
	return []byte(nameKeyPrefix + strings.ToLower(name))
}

func idKey(id string) []byte {
	return []byte(idKeyPrefix + id)
}

// Create stores a new identity, assigning its ID and creation time. Names are
// unique ignoring case.
func (s *Store) Create(ctx context.Context, ident Identity) (Identity, error) {
	if err := ctx.Err(); err != nil {
		return Identity{}, err
	}

	ident.ID = uuid.NewString()
	ident.CreatedAt = time.Now().UTC()

	data, err := json.Marshal(ident)
	if err != nil {
		return Identity{}, fmt.Errorf("encode identity: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(nameKey(ident.Name))
		if err == nil {
			return ErrExists
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := txn.Set(nameKey(ident.Name), data); err != nil {
			return err
		}
		return txn.Set(idKey(ident.ID), []byte(ident.Name))
	})
	if errors.Is(err, badger.ErrConflict) {
		// A concurrent registration committed the same key first.
		return Identity{}, ErrExists
	}
	if err != nil {
		if errors.Is(err, ErrExists) {
			return Identity{}, err
		}
		return Identity{}, fmt.Errorf("create identity %s: %w", ident.Name, err)
	}
	return ident, nil
}

// Get returns the identity registered under name.
func (s *Store) Get(ctx context.Context, name string) (Identity, error) {
	if err := ctx.Err(); err != nil {
		return Identity{}, err
	}

	var ident Identity
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(nameKey(name))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &ident)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Identity{}, ErrNotFound
	}
	if err != nil {
		return Identity{}, fmt.Errorf("get identity %s: %w", name, err)
	}
	return ident, nil
}

// GetByID returns the identity with the given ID.
func (s *Store) GetByID(ctx context.Context, id string) (Identity, error) {
	var name string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(idKey(id))
		if err != nil {
			return err
		}
		v, err := item.ValueCopy(nil)
		name = string(v)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Identity{}, ErrNotFound
	}
	if err != nil {
		return Identity{}, fmt.Errorf("get identity by id: %w", err)
	}
	return s.Get(ctx, name)
}

// Exists reports whether name is registered with exactly this spelling. Get
// is case-insensitive, but storage roots are not.
func (s *Store) Exists(ctx context.Context, name string) (bool, error) {
	ident, err := s.Get(ctx, name)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return ident.Name == name, nil
}

// Names returns every registered name, sorted.
func (s *Store) Names(ctx context.Context) ([]string, error) {
	var names []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(nameKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var ident Identity
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &ident)
			}); err != nil {
				return err
			}
			names = append(names, ident.Name)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list identities: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

// Count returns the number of registered identities.
func (s *Store) Count(ctx context.Context) (int, error) {
	names, err := s.Names(ctx)
	return len(names), err
}
