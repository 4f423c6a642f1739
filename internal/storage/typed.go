package storage

import (
	"encoding/json"
	"fmt"
)

// TypedStore encodes one Go type as the documents of a single kind.
type TypedStore[T any] struct {
	store *Store
	kind  string
}

// NewTypedStore binds T to kind.
func NewTypedStore[T any](store *Store, kind string) *TypedStore[T] {
	return &TypedStore[T]{store: store, kind: kind}
}

// Set replaces the value saved under id.
func (s *TypedStore[T]) Set(id string, value T) error {
	doc, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", s.kind, id, err)
	}
	return s.store.Put(s.kind, id, doc)
}

// GetAll decodes every saved value. One undecodable document fails the load.
func (s *TypedStore[T]) GetAll() (map[string]T, error) {
	docs, err := s.store.Load(s.kind)
	if err != nil {
		return nil, err
	}

	values := make(map[string]T, len(docs))
	for id, doc := range docs {
		var value T
		if err := json.Unmarshal(doc, &value); err != nil {
			return nil, fmt.Errorf("decode %s/%s: %w", s.kind, id, err)
		}
		values[id] = value
	}
	return values, nil
}

// Clear forgets every value of this kind.
func (s *TypedStore[T]) Clear() error {
	return s.store.Drop(s.kind)
}
