// Package db persists swap state so a crashed daemon can resume. Each swap
// has exactly one record, overwritten atomically on every state transition;
// the stored tag is always a prefix of on-chain reality because writes only
// happen after the corresponding side effect is durable or safely repeatable.
package db

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ChainSafe/chaindb"
	"github.com/google/uuid"
)

var swapPrefix = []byte("swap:")

// ErrSwapNotFound is returned when no record exists for a swap ID.
var ErrSwapNotFound = errors.New("no swap with given ID")

// Role identifies which side of the swap a record belongs to.
type Role byte

const (
	RoleAlice Role = iota //nolint
	RoleBob
)

// String ...
func (r Role) String() string {
	switch r {
	case RoleAlice:
		return "alice"
	case RoleBob:
		return "bob"
	default:
		return "unknown"
	}
}

// SwapRecord is the persisted form of one swap.
type SwapRecord struct {
	ID       uuid.UUID       `json:"id"`
	Role     Role            `json:"role"`
	StateTag string          `json:"stateTag"`
	State    json.RawMessage `json:"state"`
	PeerID   string          `json:"peerID,omitempty"`
	PeerAddr string          `json:"peerAddr,omitempty"`
}

// Database is a chaindb-backed store of swap records.
type Database struct {
	db chaindb.Database
}

// Open opens (or creates) the database in the given directory.
func Open(dir string) (*Database, error) {
	db, err := chaindb.NewBadgerDB(&chaindb.Config{
		DataDir: dir,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &Database{db: db}, nil
}

// Close closes the underlying database.
func (d *Database) Close() error {
	return d.db.Close()
}

// InsertLatestState atomically overwrites the record for the swap.
func (d *Database) InsertLatestState(rec *SwapRecord) error {
	val, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	return d.db.Put(swapKey(rec.ID), val)
}

// GetState returns the latest persisted record for the swap.
func (d *Database) GetState(id uuid.UUID) (*SwapRecord, error) {
	val, err := d.db.Get(swapKey(id))
	if errors.Is(err, chaindb.ErrKeyNotFound) {
		return nil, ErrSwapNotFound
	}
	if err != nil {
		return nil, err
	}

	rec := new(SwapRecord)
	if err := json.Unmarshal(val, rec); err != nil {
		return nil, fmt.Errorf("failed to decode swap record: %w", err)
	}
	return rec, nil
}

// ListSwaps returns the records of all swaps ever persisted.
func (d *Database) ListSwaps() ([]*SwapRecord, error) {
	iter := d.db.NewIterator()
	defer iter.Release()

	var recs []*SwapRecord
	for iter.Next() {
		key := iter.Key()
		if len(key) < len(swapPrefix) || string(key[:len(swapPrefix)]) != string(swapPrefix) {
			continue
		}

		rec := new(SwapRecord)
		if err := json.Unmarshal(iter.Value(), rec); err != nil {
			return nil, fmt.Errorf("failed to decode swap record: %w", err)
		}
		recs = append(recs, rec)
	}

	return recs, nil
}

func swapKey(id uuid.UUID) []byte {
	return append(swapPrefix, id[:]...)
}
