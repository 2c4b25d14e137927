package fsys

import (
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/wippyai/qvm"
	"github.com/wippyai/qvm/errors"
)

// bucketAssets stores zstd-compressed file contents keyed by game path.
var bucketAssets = []byte("assets")

// Store is a bolt database of packaged assets. Stores are pure: they are
// only written by the pack tool.
type Store struct {
	path string
	db   *bolt.DB
}

var _ qvm.Source = (*Store)(nil)

// OpenStore opens or creates an asset store.
func OpenStore(path string, readOnly bool) (*Store, error) {
	opts := &bolt.Options{Timeout: time.Second, ReadOnly: readOnly}
	db, err := bolt.Open(path, 0600, opts)
	if err != nil {
		return nil, errors.New(errors.PhaseArchive, errors.KindInvalidData).
			Path(path).
			Detail("open asset store").
			Cause(err).
			Build()
	}
	s := &Store{path: path, db: db}
	if !readOnly {
		err = db.Update(func(tx *bolt.Tx) error {
			_, err := tx.CreateBucketIfNotExists(bucketAssets)
			return err
		})
		if err != nil {
			db.Close()
			return nil, errors.Wrap(errors.PhaseArchive, errors.KindInvalidData, err, "create assets bucket")
		}
	}
	return s, nil
}

// Name returns the database path.
func (s *Store) Name() string { return s.path }

// Pure reports true.
func (s *Store) Pure() bool { return true }

// ReadFile returns the decompressed asset stored under path.
func (s *Store) ReadFile(path string) ([]byte, error) {
	var packed []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAssets)
		if b == nil {
			return nil
		}
		if v := b.Get([]byte(path)); v != nil {
			packed = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(errors.PhaseArchive, errors.KindInvalidData, err, "read "+path)
	}
	if packed == nil {
		return nil, notFound(s.path, path)
	}
	return decompress(packed)
}

// Put compresses data and stores it under path.
func (s *Store) Put(path string, data []byte) error {
	packed, err := compress(data)
	if err != nil {
		return errors.Wrap(errors.PhaseArchive, errors.KindInvalidData, err, "compress "+path)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketAssets)
		if err != nil {
			return err
		}
		return b.Put([]byte(path), packed)
	})
}

// List returns every stored path in order.
func (s *Store) List() ([]string, error) {
	var names []string
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAssets)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, _ []byte) error {
			names = append(names, string(k))
			return nil
		})
	})
	sort.Strings(names)
	return names, err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
