// Package journal persists ceremony states in a bolt database so that a
// ceremony survives process restarts and can be inspected by operators.
package journal

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"github.com/algorand/go-algorand-sdk/v2/encoding/msgpack"
	bolt "go.etcd.io/bbolt"

	"github.com/giuliop/ceremony"
	"github.com/giuliop/ceremony/log"
)

// FileName is the name of the database file inside a ceremony folder.
const FileName = "ceremony.db"

const openPerm = 0660

var (
	ceremoniesBucket = []byte("ceremonies")
	artifactsBucket  = []byte("artifacts")
)

// ErrUnknown is returned when looking up a ceremony or artifact that was
// never journaled.
var ErrUnknown = errors.New("unknown ceremony")

// Journal is a bolt backed ceremony journal. States are keyed by ceremony
// id; every artifact name a state refers to is indexed to its ceremony.
type Journal struct {
	sync.Mutex
	db  *bolt.DB
	log log.Logger
}

// Open opens (creating if needed) the journal in folder.
func Open(ctx context.Context, l log.Logger, folder string, opts *bolt.Options) (*Journal, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	db, err := bolt.Open(filepath.Join(folder, FileName), openPerm, opts)
	if err != nil {
		return nil, fmt.Errorf("error opening journal: %v", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{ceremoniesBucket, artifactsBucket} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Journal{db: db, log: l}, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	j.Lock()
	defer j.Unlock()
	return j.db.Close()
}

// Save stores s and indexes its artifact names.
func (j *Journal) Save(ctx context.Context, s *ceremony.State) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	j.Lock()
	defer j.Unlock()

	data := msgpack.Encode(s)
	return j.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(ceremoniesBucket).Put([]byte(s.ID), data); err != nil {
			return err
		}
		idx := tx.Bucket(artifactsBucket)
		for _, name := range s.Names() {
			if owner := idx.Get([]byte(name)); owner != nil && string(owner) != s.ID {
				return fmt.Errorf("artifact %s already belongs to ceremony %s", name, owner)
			}
			if err := idx.Put([]byte(name), []byte(s.ID)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Load returns the state of ceremony id.
func (j *Journal) Load(ctx context.Context, id string) (*ceremony.State, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	var s ceremony.State
	err := j.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(ceremoniesBucket).Get([]byte(id))
		if v == nil {
			return fmt.Errorf("%w: %s", ErrUnknown, id)
		}
		return msgpack.Decode(v, &s)
	})
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Lookup returns the id of the ceremony an artifact name belongs to.
func (j *Journal) Lookup(ctx context.Context, name string) (string, error) {
	var id string
	err := j.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(artifactsBucket).Get([]byte(name))
		if v == nil {
			return fmt.Errorf("%w: no ceremony owns %s", ErrUnknown, name)
		}
		id = string(v)
		return nil
	})
	return id, err
}

// List returns the ids of all journaled ceremonies, sorted.
func (j *Journal) List(ctx context.Context) ([]string, error) {
	var ids []string
	err := j.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(ceremoniesBucket).ForEach(func(k, _ []byte) error {
			ids = append(ids, string(k))
			return nil
		})
	})
	sort.Strings(ids)
	return ids, err
}
