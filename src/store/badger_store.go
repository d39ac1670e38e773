package store

import (
	"fmt"

	"github.com/dgraph-io/badger"
	badger_options "github.com/dgraph-io/badger/options"
	lru "github.com/hashicorp/golang-lru"
	"github.com/mosaicnetworks/ursula/src/common"
	"github.com/mosaicnetworks/ursula/src/crypto"
	"github.com/mosaicnetworks/ursula/src/fleet"
	"github.com/sirupsen/logrus"
)

const (
	nodePrefix        = "node"
	arrangementPrefix = "arrangement"
	treasureMapPrefix = "map"
)

// BadgerStore implements the Store interface on top of a badger database.
// Treasure maps and arrangements read from the database are kept in LRU
// caches.
type BadgerStore struct {
	db               *badger.DB
	path             string
	arrangementCache *lru.Cache
	treasureMapCache *lru.Cache
}

// NewBadgerStore opens an existing database or creates a new one if nothing is
// found in path.
func NewBadgerStore(cacheSize int, path string, logger *logrus.Entry) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).
		WithSyncWrites(false).
		WithTruncate(true).
		WithTableLoadingMode(badger_options.FileIO).
		WithValueLogLoadingMode(badger_options.FileIO)

	if logger != nil {
		sub := logger.WithFields(logrus.Fields{"ns": "badger"})
		opts = opts.WithLogger(sub)
	}

	handle, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	arrangementCache, err := lru.New(cacheSize)
	if err != nil {
		handle.Close()
		return nil, err
	}
	treasureMapCache, err := lru.New(cacheSize)
	if err != nil {
		handle.Close()
		return nil, err
	}

	return &BadgerStore{
		db:               handle,
		path:             path,
		arrangementCache: arrangementCache,
		treasureMapCache: treasureMapCache,
	}, nil
}

/*******************************************************************************
Keys
*******************************************************************************/

func nodeKey(addr crypto.Address) []byte {
	return []byte(fmt.Sprintf("%s_%s", nodePrefix, addr.Hex()))
}

func arrangementKey(id []byte) []byte {
	return []byte(fmt.Sprintf("%s_%X", arrangementPrefix, id))
}

func treasureMapKey(id []byte) []byte {
	return []byte(fmt.Sprintf("%s_%X", treasureMapPrefix, id))
}

/*******************************************************************************
Implement the Store interface
*******************************************************************************/

// SetNode implements the Store interface.
func (s *BadgerStore) SetNode(md *fleet.NodeMetadata) error {
	val, err := md.Marshal()
	if err != nil {
		return err
	}
	return s.dbSet(nodeKey(md.Address), val)
}

// GetNode implements the Store interface.
func (s *BadgerStore) GetNode(addr crypto.Address) (*fleet.NodeMetadata, error) {
	data, err := s.dbGet(nodeKey(addr))
	if err != nil {
		return nil, mapError(err, "Node", addr.Hex())
	}
	md := new(fleet.NodeMetadata)
	if err := md.Unmarshal(data); err != nil {
		return nil, err
	}
	return md, nil
}

// DeleteNode implements the Store interface.
func (s *BadgerStore) DeleteNode(addr crypto.Address) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(nodeKey(addr))
	})
}

// Nodes implements the Store interface. Nodes are returned in key order, which
// is address order.
func (s *BadgerStore) Nodes() ([]*fleet.NodeMetadata, error) {
	res := []*fleet.NodeMetadata{}
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(nodePrefix + "_")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(data []byte) error {
				md := new(fleet.NodeMetadata)
				if err := md.Unmarshal(data); err != nil {
					return err
				}
				res = append(res, md)
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
	return res, nil
}

// SetArrangement implements the Store interface.
func (s *BadgerStore) SetArrangement(a *Arrangement) error {
	val, err := a.Marshal()
	if err != nil {
		return err
	}

	key := arrangementKey(a.ID)
	tx := s.db.NewTransaction(true)
	defer tx.Discard()

	_, err = tx.Get(key)
	if err == nil {
		return common.NewStoreErr("Arrangement", common.KeyAlreadyExists, common.EncodeToString(a.ID))
	}
	if !isDBKeyNotFound(err) {
		return err
	}
	if err := tx.Set(key, val); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	s.arrangementCache.Add(string(key), a)
	return nil
}

// GetArrangement implements the Store interface.
func (s *BadgerStore) GetArrangement(id []byte) (*Arrangement, error) {
	key := arrangementKey(id)
	if a, ok := s.arrangementCache.Get(string(key)); ok {
		return a.(*Arrangement), nil
	}

	data, err := s.dbGet(key)
	if err != nil {
		return nil, mapError(err, "Arrangement", common.EncodeToString(id))
	}
	a := new(Arrangement)
	if err := a.Unmarshal(data); err != nil {
		return nil, err
	}
	s.arrangementCache.Add(string(key), a)
	return a, nil
}

// DeleteArrangement implements the Store interface.
func (s *BadgerStore) DeleteArrangement(id []byte) error {
	key := arrangementKey(id)
	s.arrangementCache.Remove(string(key))

	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err != nil {
			return err
		}
		return txn.Delete(key)
	})
	return mapError(err, "Arrangement", common.EncodeToString(id))
}

// ArrangementCount implements the Store interface.
func (s *BadgerStore) ArrangementCount() int {
	return s.dbCount(arrangementPrefix)
}

// SetTreasureMap implements the Store interface.
func (s *BadgerStore) SetTreasureMap(id []byte, data []byte) error {
	key := treasureMapKey(id)
	if err := s.dbSet(key, data); err != nil {
		return err
	}
	s.treasureMapCache.Add(string(key), data)
	return nil
}

// GetTreasureMap implements the Store interface.
func (s *BadgerStore) GetTreasureMap(id []byte) ([]byte, error) {
	key := treasureMapKey(id)
	if data, ok := s.treasureMapCache.Get(string(key)); ok {
		return data.([]byte), nil
	}

	data, err := s.dbGet(key)
	if err != nil {
		return nil, mapError(err, "TreasureMap", common.EncodeToString(id))
	}
	s.treasureMapCache.Add(string(key), data)
	return data, nil
}

// TreasureMapCount implements the Store interface.
func (s *BadgerStore) TreasureMapCount() int {
	return s.dbCount(treasureMapPrefix)
}

// Close implements the Store interface.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// StorePath implements the Store interface.
func (s *BadgerStore) StorePath() string {
	return s.path
}

/*******************************************************************************
DB Methods
*******************************************************************************/

func (s *BadgerStore) dbGet(key []byte) ([]byte, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (s *BadgerStore) dbSet(key []byte, val []byte) error {
	tx := s.db.NewTransaction(true)
	defer tx.Discard()

	if err := tx.Set(key, val); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *BadgerStore) dbCount(prefix string) int {
	count := 0
	s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		p := []byte(prefix + "_")
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			count++
		}
		return nil
	})
	return count
}

func isDBKeyNotFound(err error) bool {
	return err == badger.ErrKeyNotFound
}

func mapError(err error, name, key string) error {
	if err != nil && isDBKeyNotFound(err) {
		return common.NewStoreErr(name, common.KeyNotFound, key)
	}
	return err
}
