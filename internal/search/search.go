package search

import "context"

const (
	EngineMeili    = "meilisearch"
	EnginePostgres = "postgres"
)

// Result is a single search hit returned to the caller.
type Result struct {
	ID        string `json:"id"`
	ProjectID string `json:"projectId"`
	Title     string `json:"title"`
	Snippet   string `json:"snippet"`
	Type      string `json:"type"`
	Status    string `json:"status"`
}

// Query describes a search request. ProjectIDs is the set of projects the
// caller belongs to; nothing outside it is ever returned.
type Query struct {
	Text       string
	UserID     string
	ProjectIDs []string
	ProjectID  string // optional narrowing, must be within ProjectIDs
	Type       string
	Status     string
	Limit      int
	Offset     int
}

func (q Query) normalized() Query {
	if q.Limit <= 0 || q.Limit > 100 {
		q.Limit = 20
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	Engine  string   `json:"engine"`
}

// Engine is a dedicated full-text index.
type Engine interface {
	Healthy() bool
	Search(q Query) ([]Result, int, error)
	IndexDocuments(docs []DocumentRecord) error
	DeleteDocument(id string) error
}

// Fallback answers searches from the primary database when the engine is
// unavailable.
type Fallback interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
}

// DocumentRecord is the data we index for a document.
type DocumentRecord struct {
	ID        string `json:"id"`
	ProjectID string `json:"projectId"`
	Title     string `json:"title"`
	Content   string `json:"content"`
	Type      string `json:"type"`
	Status    string `json:"status"`
	Version   int    `json:"version"`
	UpdatedAt int64  `json:"updatedAt"`
}
