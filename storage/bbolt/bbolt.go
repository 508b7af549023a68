// Package bbolt provides a BBolt-backed storage.Store for single-node
// deployments.
package bbolt

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"go.etcd.io/bbolt"

	"github.com/jmcleod/leafgate/internal/uuid"
	"github.com/jmcleod/leafgate/storage"
)

var (
	bucketPrincipals = []byte("principals")
	bucketEmails     = []byte("principal_emails")
	bucketAnalyses   = []byte("analyses")
)

// Store implements storage.Store backed by a BBolt database.
//
// Analyses live in one nested bucket per principal, keyed by the big-endian
// creation time followed by the record ID, so a reverse cursor walk yields
// newest first.
type Store struct {
	db  *bbolt.DB
	now func() time.Time
}

var _ storage.Store = (*Store)(nil)

// New returns a Store backed by db, creating the top-level buckets.
func New(db *bbolt.DB) (*Store, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketPrincipals, bucketEmails, bucketAnalyses} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &Store{db: db, now: time.Now}, nil
}

// Open opens (or creates) the database file at path.
func Open(path string, options *bbolt.Options) (*Store, error) {
	if options == nil {
		options = &bbolt.Options{Timeout: time.Second}
	}
	db, err := bbolt.Open(path, 0600, options)
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	s, err := New(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying BBolt database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(context.Context) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		if tx.Bucket(bucketPrincipals) == nil {
			return fmt.Errorf("bucket %s missing", bucketPrincipals)
		}
		return nil
	})
}

func (s *Store) CreatePrincipal(_ context.Context, p *storage.Principal) error {
	p.Email = storage.NormalizeEmail(p.Email)
	if p.ID == "" {
		p.ID = uuid.New()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now().UTC()
	}
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}

	// bbolt serialises writers, so the check and insert are atomic.
	return s.db.Update(func(tx *bbolt.Tx) error {
		emails := tx.Bucket(bucketEmails)
		if emails.Get([]byte(p.Email)) != nil {
			return storage.ErrEmailTaken
		}
		principals := tx.Bucket(bucketPrincipals)
		if principals.Get([]byte(p.ID)) != nil {
			return fmt.Errorf("principal %s already exists", p.ID)
		}
		if err := principals.Put([]byte(p.ID), data); err != nil {
			return err
		}
		return emails.Put([]byte(p.Email), []byte(p.ID))
	})
}

func getPrincipal(tx *bbolt.Tx, id []byte) (*storage.Principal, error) {
	data := tx.Bucket(bucketPrincipals).Get(id)
	if data == nil {
		return nil, storage.ErrNotFound
	}
	var p storage.Principal
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode principal %s: %w", id, err)
	}
	return &p, nil
}

func (s *Store) PrincipalByEmail(_ context.Context, email string) (*storage.Principal, error) {
	var p *storage.Principal
	err := s.db.View(func(tx *bbolt.Tx) error {
		id := tx.Bucket(bucketEmails).Get([]byte(storage.NormalizeEmail(email)))
		if id == nil {
			return storage.ErrNotFound
		}
		var err error
		p, err = getPrincipal(tx, id)
		return err
	})
	return p, err
}

func (s *Store) PrincipalByID(_ context.Context, id string) (*storage.Principal, error) {
	var p *storage.Principal
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		p, err = getPrincipal(tx, []byte(id))
		return err
	})
	return p, err
}

func analysisKey(rec *storage.AnalysisRecord) []byte {
	key := make([]byte, 8, 8+len(rec.ID))
	binary.BigEndian.PutUint64(key, uint64(rec.CreatedAt.UnixNano()))
	return append(key, rec.ID...)
}

func (s *Store) InsertAnalysis(_ context.Context, rec *storage.AnalysisRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now().UTC()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(bucketPrincipals).Get([]byte(rec.PrincipalID)) == nil {
			return fmt.Errorf("principal %s: %w", rec.PrincipalID, storage.ErrNotFound)
		}
		b, err := tx.Bucket(bucketAnalyses).CreateBucketIfNotExists([]byte(rec.PrincipalID))
		if err != nil {
			return err
		}
		return b.Put(analysisKey(rec), data)
	})
}

func (s *Store) ListAnalyses(_ context.Context, principalID string, limit, offset int) ([]storage.AnalysisRecord, int, error) {
	var out []storage.AnalysisRecord
	total := 0
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketAnalyses).Bucket([]byte(principalID))
		if b == nil {
			return nil
		}
		total = b.Stats().KeyN
		start, end := storage.Page(total, limit, offset)
		out = make([]storage.AnalysisRecord, 0, end-start)

		c := b.Cursor()
		i := 0
		for k, v := c.Last(); k != nil && i < end; k, v = c.Prev() {
			if i >= start {
				var rec storage.AnalysisRecord
				if err := json.Unmarshal(v, &rec); err != nil {
					return fmt.Errorf("decode analysis %x: %w", k, err)
				}
				out = append(out, rec)
			}
			i++
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}
