// Package store implements the narrow KV-like persistence interface
// spec §1 describes, used for per-process conversation history. It has a
// Postgres-backed implementation and an in-memory map; cmd/magid wires
// the in-memory map.
package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/magi-project/magi/pkg/wire"
)

// ErrNotFound is returned when a key has no stored value.
var ErrNotFound = errors.New("store: not found")

// Store is the narrow persistence surface every component depends on.
// Keys are strings namespaced by record kind (MessageHistoryStore uses
// "history:<processId>"); values are opaque JSON-serializable records.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// MessageHistoryStore adapts a Store to internal/hub's Persister
// interface, JSON-encoding the message slice under a namespaced key.
type MessageHistoryStore struct {
	Store Store
}

func (s *MessageHistoryStore) key(processID string) string {
	return "history:" + processID
}

func (s *MessageHistoryStore) Load(processID string) ([]wire.MagiMessage, error) {
	data, err := s.Store.Get(context.Background(), s.key(processID))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var history []wire.MagiMessage
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, err
	}
	return history, nil
}

func (s *MessageHistoryStore) Save(processID string, history []wire.MagiMessage) error {
	data, err := json.Marshal(history)
	if err != nil {
		return err
	}
	return s.Store.Put(context.Background(), s.key(processID), data)
}
