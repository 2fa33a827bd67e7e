package emulator

import (
	"bytes"
	"fmt"
	"sync"

	bolt "go.etcd.io/bbolt"

	"github.com/nasa-jpl/instacam/genicam"
)

// UserSetStore persists the user sets of emulated devices, keyed by serial
// number.  A set's data is a feature stream.  The set named by
// DefaultSetKey holds the name of the set a device loads when it is opened.
type UserSetStore interface {
	Load(serial, set string) ([]byte, bool, error)
	Save(serial, set string, data []byte) error
	Close() error
}

// DefaultSetKey is the pseudo set storing a device's startup set name
const DefaultSetKey = "UserSetDefault"

// MemStore keeps user sets in memory, for the life of the transport
type MemStore struct {
	mu   sync.Mutex
	sets map[string][]byte
}

// NewMemStore returns an empty in-memory store
func NewMemStore() *MemStore {
	return &MemStore{sets: make(map[string][]byte)}
}

// Load returns a copy of a saved set
func (s *MemStore) Load(serial, set string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.sets[serial+"/"+set]
	return append([]byte(nil), b...), ok, nil
}

// Save stores a copy of data
func (s *MemStore) Save(serial, set string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sets[serial+"/"+set] = append([]byte(nil), data...)
	return nil
}

// Close does nothing
func (s *MemStore) Close() error {
	return nil
}

const userSetBucket = "usersets"

// BoltStore keeps user sets in a bbolt file so they survive restarts, the way
// a camera's flash does.  Each device has a nested bucket named by its serial.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens or creates the database at path
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open user set database: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(userSetBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create user set bucket: %w", err)
	}
	return &BoltStore{db: db}, nil
}

// Load reads a set; ok is false if it was never saved
func (s *BoltStore) Load(serial, set string) (data []byte, ok bool, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		dev := tx.Bucket([]byte(userSetBucket)).Bucket([]byte(serial))
		if dev == nil {
			return nil
		}
		if v := dev.Get([]byte(set)); v != nil {
			// bbolt values are only valid inside the transaction
			data = append([]byte(nil), v...)
			ok = true
		}
		return nil
	})
	return data, ok, err
}

// Save writes a set
func (s *BoltStore) Save(serial, set string, data []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		dev, err := tx.Bucket([]byte(userSetBucket)).CreateBucketIfNotExists([]byte(serial))
		if err != nil {
			return fmt.Errorf("failed to create bucket for device %s: %w", serial, err)
		}
		if err := dev.Put([]byte(set), data); err != nil {
			return fmt.Errorf("failed to save user set %s of device %s: %w", set, serial, err)
		}
		return nil
	})
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (d *Device) loadUserSet(set string) error {
	if d.isAcquiring() {
		return fmt.Errorf("%w: user sets cannot be loaded during acquisition", genicam.ErrNotWritable)
	}
	data := d.factory
	if set != "Default" {
		b, ok, err := d.t.opts.UserSets.Load(d.info.SerialNumber, set)
		if err != nil {
			return err
		}
		// a set never saved holds the factory settings
		if ok {
			data = b
		}
	}
	return genicam.Load(bytes.NewReader(data), d.nm, false)
}

func (d *Device) saveUserSet(set string) error {
	if set == "Default" {
		return fmt.Errorf("%w: the Default user set is read only", genicam.ErrNotWritable)
	}
	buf := &bytes.Buffer{}
	if err := genicam.Save(buf, d.nm); err != nil {
		return err
	}
	return d.t.opts.UserSets.Save(d.info.SerialNumber, set, buf.Bytes())
}
