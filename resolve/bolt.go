package resolve

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/git-pkgs/repositories/internal/core"
)

// BoltFactStore persists facts in a bbolt database, one bucket per
// repository, keyed by coordinate.
type BoltFactStore struct {
	db *bolt.DB
}

// OpenBoltFactStore opens or creates the database at path.
func OpenBoltFactStore(path string) (*BoltFactStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening facts database %s: %w", path, err)
	}
	return &BoltFactStore{db: db}, nil
}

func (s *BoltFactStore) Put(ctx context.Context, f Fact) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(f.RepositoryID))
		if err != nil {
			return err
		}
		return b.Put([]byte(factKey(f.Coordinate())), data)
	})
}

func (s *BoltFactStore) Clear(ctx context.Context, repoID string, c core.Coordinate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(repoID))
		if b == nil {
			return nil
		}
		return b.Delete([]byte(factKey(c)))
	})
}

// Facts lists the facts of a repository. bbolt keeps keys sorted, so the
// result is ordered by coordinate.
func (s *BoltFactStore) Facts(ctx context.Context, repoID string) ([]Fact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []Fact
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(repoID))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var f Fact
			if err := json.Unmarshal(v, &f); err != nil {
				return fmt.Errorf("decoding fact %s: %w", k, err)
			}
			out = append(out, f)
			return nil
		})
	})
	return out, err
}

func (s *BoltFactStore) Close() error {
	return s.db.Close()
}
