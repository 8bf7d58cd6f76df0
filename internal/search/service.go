package search

import (
	"context"
	"log"

	"ethos/api/internal/store"
)

// Fallback is the Postgres-side search used when Meilisearch is down.
type Fallback interface {
	SearchSubmissions(ctx context.Context, query string, limit int) ([]store.Submission, error)
}

// Service is the facade that tries Meilisearch first and falls back to
// Postgres. meili may be nil when not configured.
type Service struct {
	meili    *Meili
	fallback Fallback
}

func NewService(meili *Meili, fallback Fallback) *Service {
	return &Service{meili: meili, fallback: fallback}
}

func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to postgres: %v", err)
	}

	submissions, err := s.fallback.SearchSubmissions(ctx, q.Text, q.Limit)
	if err != nil {
		log.Printf("search: postgres fallback: %v", err)
		return Response{Results: []SubmissionRecord{}, Query: q.Text}
	}

	results := make([]SubmissionRecord, 0, len(submissions))
	for _, sub := range submissions {
		if q.Status != "" && sub.Status != q.Status {
			continue
		}
		results = append(results, SubmissionRecord{
			ID:       sub.ID,
			Code:     sub.Code,
			Title:    sub.Title,
			Status:   sub.Status,
			Category: sub.ReviewCategory,
		})
	}
	return Response{Results: results, Total: int64(len(results)), Query: q.Text}
}

// IndexSubmission updates the index in the background; indexing is never on a
// request's critical path.
func (s *Service) IndexSubmission(record SubmissionRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexSubmission(record); err != nil {
			log.Printf("search: index submission %s: %v", record.ID, err)
		}
	}()
}

func nonNil(results []SubmissionRecord) []SubmissionRecord {
	if results == nil {
		return []SubmissionRecord{}
	}
	return results
}
