// Package store persists documents. The in-memory store mirrors the Postgres
// constraints so service tests exercise the same conflict paths.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"fiscaldoc/internal/document/models"
	"fiscaldoc/pkg/platform/sentinel"
)

// InMemoryStore keeps documents in a map guarded by a RWMutex.
type InMemoryStore struct {
	mu   sync.RWMutex
	docs map[uuid.UUID]*models.Document
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{docs: make(map[uuid.UUID]*models.Document)}
}

func (s *InMemoryStore) Create(_ context.Context, doc *models.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.docs[doc.ID]; exists {
		return sentinel.ErrConflict
	}
	if s.violatesOriginalUniqueness(doc) {
		return sentinel.ErrConflict
	}
	s.docs[doc.ID] = doc.Clone()
	return nil
}

func (s *InMemoryStore) Update(_ context.Context, doc *models.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.docs[doc.ID]; !exists {
		return sentinel.ErrNotFound
	}
	if s.violatesOriginalUniqueness(doc) {
		return sentinel.ErrConflict
	}
	s.docs[doc.ID] = doc.Clone()
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, organizationID string, id uuid.UUID) (*models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[id]
	if !ok || doc.OrganizationID != organizationID {
		return nil, sentinel.ErrNotFound
	}
	return doc.Clone(), nil
}

func (s *InMemoryStore) FindByCodeHash(_ context.Context, lookup models.Lookup, codeHash string) (*models.Document, error) {
	return s.first(lookup, func(d *models.Document) bool {
		return codeHash != "" && d.CodeHash == codeHash
	})
}

func (s *InMemoryStore) FindByIssuerSeries(_ context.Context, lookup models.Lookup, issuerID, seriesKey string) (*models.Document, error) {
	return s.first(lookup, func(d *models.Document) bool {
		return issuerID != "" && seriesKey != "" &&
			d.Fiscal.IssuerID == issuerID && d.SeriesKey() == seriesKey
	})
}

// first returns the earliest admitted document satisfying match.
func (s *InMemoryStore) first(lookup models.Lookup, match func(*models.Document) bool) (*models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var hits []*models.Document
	for _, d := range s.docs {
		if lookup.Admits(d) && match(d) {
			hits = append(hits, d)
		}
	}
	if len(hits) == 0 {
		return nil, sentinel.ErrNotFound
	}
	sort.Slice(hits, func(i, j int) bool {
		return hits[i].Before(hits[j].IngestedAt, hits[j].ID)
	})
	return hits[0].Clone(), nil
}

// violatesOriginalUniqueness emulates the partial unique indexes: within an
// organization at most one COMPLETED original per code hash and per
// (issuer, series key). Callers hold mu.
func (s *InMemoryStore) violatesOriginalUniqueness(doc *models.Document) bool {
	if doc.Status != models.StatusCompleted || doc.Duplicate.Duplicate {
		return false
	}
	key := doc.SeriesKey()
	for id, other := range s.docs {
		if id == doc.ID || other.OrganizationID != doc.OrganizationID {
			continue
		}
		if other.Status != models.StatusCompleted || other.Duplicate.Duplicate {
			continue
		}
		if doc.CodeHash != "" && other.CodeHash == doc.CodeHash {
			return true
		}
		if doc.Fiscal.IssuerID != "" && key != "" &&
			other.Fiscal.IssuerID == doc.Fiscal.IssuerID && other.SeriesKey() == key {
			return true
		}
	}
	return false
}
