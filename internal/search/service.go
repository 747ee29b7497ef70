package search

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"testdocs/api/internal/store"
)

// Service is the facade that tries Meilisearch first and falls back to
// Postgres.
type Service struct {
	engine   Engine
	fallback Fallback
	logger   *zap.Logger
	pending  sync.WaitGroup
}

// NewService creates a search service. engine may be nil if Meilisearch is
// not configured.
func NewService(engine Engine, fallback Fallback, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{engine: engine, fallback: fallback, logger: logger.Named("search")}
}

func (s *Service) engineReady() bool {
	return s.engine != nil && s.engine.Healthy()
}

// Engine names the backend that would answer a search right now.
func (s *Service) Engine() string {
	if s.engineReady() {
		return EngineMeili
	}
	return EnginePostgres
}

func (s *Service) Search(ctx context.Context, q Query) (Response, error) {
	q = q.normalized()
	if s.engineReady() {
		results, total, err := s.engine.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text, Engine: EngineMeili}, nil
		}
		s.logger.Warn("meilisearch error, falling back to postgres", zap.Error(err))
	}

	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		return Response{}, fmt.Errorf("fallback search: %w", err)
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text, Engine: EnginePostgres}, nil
}

// Record converts a stored document into its index form.
func Record(doc store.Document) DocumentRecord {
	updated := doc.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	return DocumentRecord{
		ID:        doc.ID,
		ProjectID: doc.ProjectID,
		Title:     doc.Title,
		Content:   doc.Content,
		Type:      doc.Type,
		Status:    doc.Status,
		Version:   doc.Version,
		UpdatedAt: updated.Unix(),
	}
}

// IndexDocument indexes a document (fire-and-forget to Meilisearch).
func (s *Service) IndexDocument(doc store.Document) {
	if !s.engineReady() {
		return
	}
	rec := Record(doc)
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		if err := s.engine.IndexDocuments([]DocumentRecord{rec}); err != nil {
			s.logger.Warn("index document", zap.String("document_id", rec.ID), zap.Error(err))
		}
	}()
}

// DeleteDocument removes a document from the search index (fire-and-forget).
func (s *Service) DeleteDocument(id string) {
	if !s.engineReady() {
		return
	}
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		if err := s.engine.DeleteDocument(id); err != nil {
			s.logger.Warn("delete document", zap.String("document_id", id), zap.Error(err))
		}
	}()
}

// Reindex pushes docs to the engine in batches and reports how many were
// sent.
func (s *Service) Reindex(docs []store.Document) (int, error) {
	if !s.engineReady() {
		return 0, fmt.Errorf("search engine unavailable")
	}
	const batch = 500
	sent := 0
	for start := 0; start < len(docs); start += batch {
		end := start + batch
		if end > len(docs) {
			end = len(docs)
		}
		records := make([]DocumentRecord, 0, end-start)
		for _, doc := range docs[start:end] {
			records = append(records, Record(doc))
		}
		if err := s.engine.IndexDocuments(records); err != nil {
			return sent, fmt.Errorf("index batch at %d: %w", start, err)
		}
		sent += len(records)
	}
	return sent, nil
}

// Wait blocks until in-flight index updates finish.
func (s *Service) Wait() {
	s.pending.Wait()
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
