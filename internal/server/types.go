package server

import "github.com/recallkit/recall"

// addRequest is the parsed body of POST /mem/add.
type addRequest struct {
	Text   string `json:"text"`
	UserID string `json:"user_id"`
	Infer  *bool  `json:"infer,omitempty"` // nil means true
}

type addResponse struct {
	Results []recall.MemoryAction `json:"results"`
}

// searchRequest is the parsed body of POST /mem/search.
type searchRequest struct {
	Query  string `json:"query"`
	UserID string `json:"user_id"`
	Limit  int    `json:"limit,omitempty"`
}

type searchResponse struct {
	Results []recall.MemoryItem `json:"results"`
}

// queryRequest is the parsed body of POST /rag/query and /rag/stream.
type queryRequest struct {
	Question string `json:"question"`
	UserID   string `json:"user_id"`
}

type queryResponse struct {
	Answer  string          `json:"answer"`
	Sources []recall.Source `json:"sources"`
}
