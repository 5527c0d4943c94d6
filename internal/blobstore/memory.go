package blobstore

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type memoryStore struct {
	mu      sync.RWMutex
	keys    keyspace
	objects map[string]Object
}

func newMemoryStore(prefix string) *memoryStore {
	return &memoryStore{keys: newKeyspace(prefix), objects: make(map[string]Object)}
}

func (m *memoryStore) Put(_ context.Context, key string, payload []byte, meta map[string]string) error {
	logical, full, err := m.keys.resolve(key)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[full]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, logical)
	}
	m.objects[full] = Object{
		Key:          logical,
		Data:         append([]byte(nil), payload...),
		Metadata:     cloneMetadata(meta),
		LastModified: time.Now().UTC(),
	}
	return nil
}

func (m *memoryStore) Get(_ context.Context, key string) (Object, error) {
	logical, full, err := m.keys.resolve(key)
	if err != nil {
		return Object{}, err
	}
	m.mu.RLock()
	obj, ok := m.objects[full]
	m.mu.RUnlock()
	if !ok {
		return Object{}, fmt.Errorf("%w: %s", ErrNotFound, logical)
	}
	obj.Data = append([]byte(nil), obj.Data...)
	obj.Metadata = cloneMetadata(obj.Metadata)
	return obj, nil
}

func (m *memoryStore) Exists(_ context.Context, key string) (bool, error) {
	_, full, err := m.keys.resolve(key)
	if err != nil {
		return false, err
	}
	m.mu.RLock()
	_, ok := m.objects[full]
	m.mu.RUnlock()
	return ok, nil
}
