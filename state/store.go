package state

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"raylend/native/lending"
	"raylend/storage"
)

var (
	reserveIndexKey = []byte("raylend/index/reserves")
	userIndexKey    = []byte("raylend/index/users")
)

func reserveKey(asset common.Address) []byte {
	return []byte(fmt.Sprintf("raylend/reserve/%x", asset.Bytes()))
}

func positionKey(asset, user common.Address) []byte {
	return []byte(fmt.Sprintf("raylend/position/%x/%x", asset.Bytes(), user.Bytes()))
}

// ErrNoSnapshot signals a revert without a matching snapshot.
var ErrNoSnapshot = errors.New("state: no such snapshot")

// Store is the pool's persistence layer. The working set lives in memory;
// Commit flushes it to the backing database and Load hydrates it back. The
// snapshot stack lets the flash liquidation orchestrator unwind partial
// settlements without touching the database.
type Store struct {
	mu        sync.RWMutex
	db        storage.Database
	reserves  map[common.Address]*lending.Reserve
	positions map[common.Address]map[common.Address]*lending.UserPosition
	snapshots []*snapshot
}

type snapshot struct {
	reserves  map[common.Address]*lending.Reserve
	positions map[common.Address]map[common.Address]*lending.UserPosition
}

// NewStore constructs a store over the given database. A nil database keeps
// the store purely in memory.
func NewStore(db storage.Database) *Store {
	return &Store{
		db:        db,
		reserves:  make(map[common.Address]*lending.Reserve),
		positions: make(map[common.Address]map[common.Address]*lending.UserPosition),
	}
}

// GetReserve returns a copy of the stored reserve, nil when unknown.
func (s *Store) GetReserve(asset common.Address) (*lending.Reserve, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reserves[asset].Clone(), nil
}

// PutReserve stores a copy of the reserve.
func (s *Store) PutReserve(asset common.Address, reserve *lending.Reserve) error {
	if reserve == nil {
		return errors.New("state: nil reserve")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reserves[asset] = reserve.Clone()
	return nil
}

// GetPosition returns a copy of the stored position, nil when unknown.
func (s *Store) GetPosition(asset, user common.Address) (*lending.UserPosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byAsset := s.positions[user]
	if byAsset == nil {
		return nil, nil
	}
	return byAsset[asset].Clone(), nil
}

// PutPosition stores a copy of the position, keyed by its user.
func (s *Store) PutPosition(asset common.Address, position *lending.UserPosition) error {
	if position == nil {
		return errors.New("state: nil position")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	byAsset := s.positions[position.User]
	if byAsset == nil {
		byAsset = make(map[common.Address]*lending.UserPosition)
		s.positions[position.User] = byAsset
	}
	byAsset[asset] = position.Clone()
	return nil
}

func sortedAddresses(set map[common.Address]struct{}) []common.Address {
	out := make([]common.Address, 0, len(set))
	for addr := range set {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Bytes(), out[j].Bytes()) < 0
	})
	return out
}

// UserAssets returns the assets the user holds a position in, in a
// deterministic order.
func (s *Store) UserAssets(user common.Address) ([]common.Address, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set := make(map[common.Address]struct{})
	for asset := range s.positions[user] {
		set[asset] = struct{}{}
	}
	return sortedAddresses(set), nil
}

// ReserveAssets returns every listed reserve asset in a deterministic order.
func (s *Store) ReserveAssets() ([]common.Address, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set := make(map[common.Address]struct{})
	for asset := range s.reserves {
		set[asset] = struct{}{}
	}
	return sortedAddresses(set), nil
}

func (s *Store) copyWorkingSet() (map[common.Address]*lending.Reserve, map[common.Address]map[common.Address]*lending.UserPosition) {
	reserves := make(map[common.Address]*lending.Reserve, len(s.reserves))
	for asset, reserve := range s.reserves {
		reserves[asset] = reserve.Clone()
	}
	positions := make(map[common.Address]map[common.Address]*lending.UserPosition, len(s.positions))
	for user, byAsset := range s.positions {
		inner := make(map[common.Address]*lending.UserPosition, len(byAsset))
		for asset, position := range byAsset {
			inner[asset] = position.Clone()
		}
		positions[user] = inner
	}
	return reserves, positions
}

// Snapshot pushes a deep copy of the working set and returns its identifier.
func (s *Store) Snapshot() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	reserves, positions := s.copyWorkingSet()
	s.snapshots = append(s.snapshots, &snapshot{reserves: reserves, positions: positions})
	return len(s.snapshots) - 1
}

// RevertToSnapshot restores the working set to the identified snapshot and
// discards it along with any later snapshots.
func (s *Store) RevertToSnapshot(id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id < 0 || id >= len(s.snapshots) {
		return ErrNoSnapshot
	}
	snap := s.snapshots[id]
	s.reserves = snap.reserves
	s.positions = snap.positions
	s.snapshots = s.snapshots[:id]
	return nil
}

// DiscardSnapshot drops the identified snapshot and everything above it
// without touching the working set.
func (s *Store) DiscardSnapshot(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id < 0 || id >= len(s.snapshots) {
		return
	}
	s.snapshots = s.snapshots[:id]
}

type persistedIndex struct {
	Reserves []common.Address            `json:"reserves"`
	Users    map[string][]common.Address `json:"users"`
}

// Commit flushes the working set to the backing database.
func (s *Store) Commit() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil
	}

	index := persistedIndex{Users: make(map[string][]common.Address)}
	reserveSet := make(map[common.Address]struct{}, len(s.reserves))
	for asset := range s.reserves {
		reserveSet[asset] = struct{}{}
	}
	index.Reserves = sortedAddresses(reserveSet)

	for asset, reserve := range s.reserves {
		payload, err := json.Marshal(reserve)
		if err != nil {
			return fmt.Errorf("marshal reserve %s: %w", asset.Hex(), err)
		}
		if err := s.db.Put(reserveKey(asset), payload); err != nil {
			return err
		}
	}
	for user, byAsset := range s.positions {
		assetSet := make(map[common.Address]struct{}, len(byAsset))
		for asset := range byAsset {
			assetSet[asset] = struct{}{}
		}
		index.Users[user.Hex()] = sortedAddresses(assetSet)
		for asset, position := range byAsset {
			payload, err := json.Marshal(position)
			if err != nil {
				return fmt.Errorf("marshal position %s/%s: %w", asset.Hex(), user.Hex(), err)
			}
			if err := s.db.Put(positionKey(asset, user), payload); err != nil {
				return err
			}
		}
	}

	payload, err := json.Marshal(index)
	if err != nil {
		return fmt.Errorf("marshal index: %w", err)
	}
	return s.db.Put(reserveIndexKey, payload)
}

// Load hydrates the working set from the backing database. An empty database
// yields an empty store.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}

	raw, err := s.db.Get(reserveIndexKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	var index persistedIndex
	if err := json.Unmarshal(raw, &index); err != nil {
		return fmt.Errorf("unmarshal index: %w", err)
	}

	reserves := make(map[common.Address]*lending.Reserve, len(index.Reserves))
	for _, asset := range index.Reserves {
		payload, err := s.db.Get(reserveKey(asset))
		if err != nil {
			return err
		}
		reserve := new(lending.Reserve)
		if err := json.Unmarshal(payload, reserve); err != nil {
			return fmt.Errorf("unmarshal reserve %s: %w", asset.Hex(), err)
		}
		reserves[asset] = reserve
	}

	positions := make(map[common.Address]map[common.Address]*lending.UserPosition, len(index.Users))
	for userHex, assets := range index.Users {
		user := common.HexToAddress(userHex)
		inner := make(map[common.Address]*lending.UserPosition, len(assets))
		for _, asset := range assets {
			payload, err := s.db.Get(positionKey(asset, user))
			if err != nil {
				return err
			}
			position := new(lending.UserPosition)
			if err := json.Unmarshal(payload, position); err != nil {
				return fmt.Errorf("unmarshal position %s/%s: %w", asset.Hex(), userHex, err)
			}
			inner[asset] = position
		}
		positions[user] = inner
	}

	s.reserves = reserves
	s.positions = positions
	s.snapshots = nil
	return nil
}
