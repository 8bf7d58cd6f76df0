package search

import (
	"encoding/json"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const idxSubmissions = "ethos_submissions"

// Meili indexes submissions in Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates the client and configures the submission index. The
// returned client keeps monitoring health so a Meilisearch outage only
// degrades search, never breaks it.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		log.Printf("search: meilisearch unavailable at %s: %v", url, err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxSubmissions,
		PrimaryKey: "id",
	}); err != nil {
		log.Printf("search: create index %s (may already exist): %v", idxSubmissions, err)
	}

	index := m.client.Index(idxSubmissions)
	filterable := []interface{}{"status", "category"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		log.Printf("search: update filterable attrs: %v", err)
	}
	searchable := []string{"code", "title"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		log.Printf("search: update searchable attrs: %v", err)
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				log.Println("search: meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Search queries the submission index.
func (m *Meili) Search(q Query) ([]SubmissionRecord, int64, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	limit := int64(q.Limit)
	if limit == 0 {
		limit = 25
	}

	request := &meili.SearchRequest{Limit: limit}
	if q.Status != "" {
		request.Filter = []string{fmt.Sprintf("status = %q", q.Status)}
	}

	resp, err := m.client.Index(idxSubmissions).Search(q.Text, request)
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch search: %w", err)
	}

	results := make([]SubmissionRecord, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		results = append(results, SubmissionRecord{
			ID:       decodeString(hit, "id"),
			Code:     decodeString(hit, "code"),
			Title:    decodeString(hit, "title"),
			Status:   decodeString(hit, "status"),
			Category: decodeString(hit, "category"),
		})
	}
	return results, resp.EstimatedTotalHits, nil
}

// IndexSubmission adds or updates one submission in the index.
func (m *Meili) IndexSubmission(record SubmissionRecord) error {
	_, err := m.client.Index(idxSubmissions).AddDocuments([]SubmissionRecord{record}, nil)
	return err
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}
