package sopflow

import (
	"context"
	"sync"
)

// Document is one procedural document ("SOP") held by the document store.
type Document struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// DocumentStore provides read-only access to the active procedure library.
// The engine never writes documents.
type DocumentStore interface {

	// GetAllActive returns every active document.
	GetAllActive(ctx context.Context) ([]Document, error)

	// FindByID returns a document by ID, or nil if not found.
	FindByID(ctx context.Context, id string) (*Document, error)
}

// MemoryDocumentStore is an in-memory DocumentStore that preserves
// registration order.
type MemoryDocumentStore struct {
	mutex sync.RWMutex
	docs  []Document
	byID  map[string]int
}

// NewMemoryDocumentStore creates an empty in-memory document store.
func NewMemoryDocumentStore() *MemoryDocumentStore {
	return &MemoryDocumentStore{byID: map[string]int{}}
}

// Add registers a document. A document with a duplicate ID replaces the
// earlier one in place.
func (s *MemoryDocumentStore) Add(doc Document) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if i, ok := s.byID[doc.ID]; ok {
		s.docs[i] = doc
		return
	}
	s.byID[doc.ID] = len(s.docs)
	s.docs = append(s.docs, doc)
}

// GetAllActive returns all documents in registration order.
func (s *MemoryDocumentStore) GetAllActive(ctx context.Context) ([]Document, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return append([]Document(nil), s.docs...), nil
}

// FindByID returns the document with the given ID, or nil.
func (s *MemoryDocumentStore) FindByID(ctx context.Context, id string) (*Document, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if i, ok := s.byID[id]; ok {
		doc := s.docs[i]
		return &doc, nil
	}
	return nil, nil
}
