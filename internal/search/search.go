// Package search indexes submissions for the staff dashboard. Meilisearch is
// used when healthy; otherwise the query falls back to Postgres.
package search

// SubmissionRecord is the indexed shape of a submission.
type SubmissionRecord struct {
	ID       string `json:"id"`
	Code     string `json:"code"`
	Title    string `json:"title"`
	Status   string `json:"status"`
	Category string `json:"category"`
}

// Query is a staff search request.
type Query struct {
	Text   string
	Status string
	Limit  int
}

// Response is the search result set.
type Response struct {
	Results []SubmissionRecord `json:"results"`
	Total   int64              `json:"total"`
	Query   string             `json:"query"`
}
