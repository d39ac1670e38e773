package store

import (
	"sort"
	"sync"

	"github.com/mosaicnetworks/ursula/src/common"
	"github.com/mosaicnetworks/ursula/src/crypto"
	"github.com/mosaicnetworks/ursula/src/fleet"
)

// InmemStore implements the Store interface with in-memory maps. Nothing
// survives a restart.
type InmemStore struct {
	sync.RWMutex
	nodes        map[crypto.Address]*fleet.NodeMetadata
	arrangements map[string]*Arrangement
	treasureMaps map[string][]byte
}

// NewInmemStore creates an empty InmemStore.
func NewInmemStore() *InmemStore {
	return &InmemStore{
		nodes:        make(map[crypto.Address]*fleet.NodeMetadata),
		arrangements: make(map[string]*Arrangement),
		treasureMaps: make(map[string][]byte),
	}
}

// SetNode implements the Store interface.
func (s *InmemStore) SetNode(md *fleet.NodeMetadata) error {
	s.Lock()
	defer s.Unlock()
	s.nodes[md.Address] = md
	return nil
}

// GetNode implements the Store interface.
func (s *InmemStore) GetNode(addr crypto.Address) (*fleet.NodeMetadata, error) {
	s.RLock()
	defer s.RUnlock()
	md, ok := s.nodes[addr]
	if !ok {
		return nil, common.NewStoreErr("Node", common.KeyNotFound, addr.Hex())
	}
	return md, nil
}

// DeleteNode implements the Store interface.
func (s *InmemStore) DeleteNode(addr crypto.Address) error {
	s.Lock()
	defer s.Unlock()
	delete(s.nodes, addr)
	return nil
}

// Nodes implements the Store interface. Nodes are sorted by address.
func (s *InmemStore) Nodes() ([]*fleet.NodeMetadata, error) {
	s.RLock()
	defer s.RUnlock()
	res := make([]*fleet.NodeMetadata, 0, len(s.nodes))
	for _, md := range s.nodes {
		res = append(res, md)
	}
	sort.Slice(res, func(i, j int) bool {
		return res[i].Address.Less(res[j].Address)
	})
	return res, nil
}

// SetArrangement implements the Store interface.
func (s *InmemStore) SetArrangement(a *Arrangement) error {
	s.Lock()
	defer s.Unlock()
	key := common.EncodeToString(a.ID)
	if _, ok := s.arrangements[key]; ok {
		return common.NewStoreErr("Arrangement", common.KeyAlreadyExists, key)
	}
	s.arrangements[key] = a
	return nil
}

// GetArrangement implements the Store interface.
func (s *InmemStore) GetArrangement(id []byte) (*Arrangement, error) {
	s.RLock()
	defer s.RUnlock()
	key := common.EncodeToString(id)
	a, ok := s.arrangements[key]
	if !ok {
		return nil, common.NewStoreErr("Arrangement", common.KeyNotFound, key)
	}
	return a, nil
}

// DeleteArrangement implements the Store interface.
func (s *InmemStore) DeleteArrangement(id []byte) error {
	s.Lock()
	defer s.Unlock()
	key := common.EncodeToString(id)
	if _, ok := s.arrangements[key]; !ok {
		return common.NewStoreErr("Arrangement", common.KeyNotFound, key)
	}
	delete(s.arrangements, key)
	return nil
}

// ArrangementCount implements the Store interface.
func (s *InmemStore) ArrangementCount() int {
	s.RLock()
	defer s.RUnlock()
	return len(s.arrangements)
}

// SetTreasureMap implements the Store interface.
func (s *InmemStore) SetTreasureMap(id []byte, data []byte) error {
	s.Lock()
	defer s.Unlock()
	s.treasureMaps[common.EncodeToString(id)] = data
	return nil
}

// GetTreasureMap implements the Store interface.
func (s *InmemStore) GetTreasureMap(id []byte) ([]byte, error) {
	s.RLock()
	defer s.RUnlock()
	key := common.EncodeToString(id)
	data, ok := s.treasureMaps[key]
	if !ok {
		return nil, common.NewStoreErr("TreasureMap", common.KeyNotFound, key)
	}
	return data, nil
}

// TreasureMapCount implements the Store interface.
func (s *InmemStore) TreasureMapCount() int {
	s.RLock()
	defer s.RUnlock()
	return len(s.treasureMaps)
}

// Close implements the Store interface.
func (s *InmemStore) Close() error {
	return nil
}

// StorePath implements the Store interface.
func (s *InmemStore) StorePath() string {
	return ""
}
