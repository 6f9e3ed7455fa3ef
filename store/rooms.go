// Package store keeps the list of rooms this client has joined.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/pebble/v2"
)

var roomPrefix = []byte("room/")

// RecentRoom is a room with the last time it was joined from this machine.
type RecentRoom struct {
	Room       string    `json:"room"`
	LastJoined time.Time `json:"last_joined"`
}

// Rooms is a pebble-backed set of recently joined rooms keyed by room name.
// A nil *Rooms is valid and stores nothing.
type Rooms struct {
	mu sync.Mutex
	db *pebble.DB
}

// Open opens (or creates) the store under dir. An empty dir returns a nil store.
func Open(dir string) (*Rooms, error) {
	if dir == "" {
		return nil, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	db, err := pebble.Open(filepath.Join(filepath.Clean(dir), "rooms"), &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble db: %w", err)
	}
	return &Rooms{db: db}, nil
}

func roomKey(room string) []byte {
	return append(append([]byte(nil), roomPrefix...), room...)
}

// Touch records that room was joined at the given time.
func (r *Rooms) Touch(room string, at time.Time) error {
	if r == nil || r.db == nil || room == "" {
		return nil
	}
	val, err := json.Marshal(RecentRoom{Room: room, LastJoined: at.UTC()})
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.db.Set(roomKey(room), val, pebble.Sync)
}

// Forget removes room from the list.
func (r *Rooms) Forget(room string) error {
	if r == nil || r.db == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.db.Delete(roomKey(room), pebble.Sync)
}

// Recent returns rooms most recently joined first. limit <= 0 returns all.
func (r *Rooms) Recent(limit int) ([]RecentRoom, error) {
	if r == nil || r.db == nil {
		return nil, nil
	}
	it, err := r.db.NewIter(&pebble.IterOptions{
		LowerBound: roomPrefix,
		UpperBound: []byte("room0"), // '0' sorts right after '/'
	})
	if err != nil {
		return nil, err
	}
	defer func() { _ = it.Close() }()

	out := make([]RecentRoom, 0, 16)
	for it.First(); it.Valid(); it.Next() {
		var rr RecentRoom
		if err := json.Unmarshal(it.Value(), &rr); err != nil {
			continue
		}
		out = append(out, rr)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].LastJoined.Equal(out[j].LastJoined) {
			return out[i].Room < out[j].Room
		}
		return out[i].LastJoined.After(out[j].LastJoined)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *Rooms) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}
