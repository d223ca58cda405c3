package store

import (
	"context"
	"sync"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore is a concurrency-safe in-memory implementation of Store.
type MemoryStore struct {
	mu sync.RWMutex

	// key: collection path, value: documents by id
	data map[string]map[string]map[string]any
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]map[string]map[string]any),
	}
}

func (s *MemoryStore) Get(_ context.Context, path string) (Document, error) {
	collection, id, err := SplitPath(path)
	if err != nil {
		return Document{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	fields, ok := s.data[collection][id]
	if !ok {
		return Document{}, ErrNotFound
	}
	return Document{Path: path, ID: id, Fields: cloneFields(fields)}, nil
}

func (s *MemoryStore) Create(_ context.Context, path string, fields map[string]any) error {
	collection, id, err := SplitPath(path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data[collection][id]; ok {
		return ErrAlreadyExists
	}
	s.put(collection, id, mergeFields(nil, cloneFields(fields)))
	return nil
}

func (s *MemoryStore) Set(_ context.Context, path string, fields map[string]any, merge bool) error {
	collection, id, err := SplitPath(path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var existing map[string]any
	if merge {
		existing = s.data[collection][id]
	}
	s.put(collection, id, mergeFields(existing, cloneFields(fields)))
	return nil
}

func (s *MemoryStore) Update(_ context.Context, path string, fields map[string]any) error {
	collection, id, err := SplitPath(path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.data[collection][id]
	if !ok {
		return ErrNotFound
	}
	s.put(collection, id, mergeFields(existing, cloneFields(fields)))
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, path string) error {
	collection, id, err := SplitPath(path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data[collection], id)
	return nil
}

func (s *MemoryStore) Query(_ context.Context, collection string, filters ...Filter) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []Document
	for id, fields := range s.data[collection] {
		if !matchAll(fields, filters) {
			continue
		}
		result = append(result, Document{
			Path:   Path(collection, id),
			ID:     id,
			Fields: cloneFields(fields),
		})
	}
	sortDocuments(result)
	return result, nil
}

// put must be called with mu held.
func (s *MemoryStore) put(collection, id string, fields map[string]any) {
	docs, ok := s.data[collection]
	if !ok {
		docs = make(map[string]map[string]any)
		s.data[collection] = docs
	}
	docs[id] = fields
}
