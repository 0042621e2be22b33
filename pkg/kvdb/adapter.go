// Package kvdb wraps github.com/cometbft/cometbft-db so nodestate (and
// any other component needing durable KV storage) can run on top of it
// without depending on the driver directly.
package kvdb

import (
	dbm "github.com/cometbft/cometbft-db"
)

// KVAdapter wraps a cometbft-db DB and exposes nodestate.KV.
type KVAdapter struct {
	db dbm.DB
}

func NewKVAdapter(db dbm.DB) *KVAdapter {
	return &KVAdapter{db: db}
}

// Get implements nodestate.KV.
func (a *KVAdapter) Get(key []byte) ([]byte, error) {
	if a.db == nil {
		return nil, nil
	}
	v, err := a.db.Get(key)
	if err != nil {
		return nil, err
	}
	return v, nil
}

// Set implements nodestate.KV. Uses SetSync so every write to consensus
// or audit state is fsync'd before the call returns, matching the
// crash-consistency requirement on persisted state.
func (a *KVAdapter) Set(key, value []byte) error {
	if a.db == nil {
		return nil
	}
	return a.db.SetSync(key, value)
}
