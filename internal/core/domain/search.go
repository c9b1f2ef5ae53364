package domain

import "time"

type Signal string

const (
	SignalLexical    Signal = "lexical"
	SignalSemantic   Signal = "semantic"
	SignalCrossModal Signal = "cross_modal"
)

// Candidate is an unvalidated per-signal match. OwnerHint comes from index
// payload metadata and must never be trusted for isolation; only the stored
// memory's owner id is.
type Candidate struct {
	MemoryID  string
	Signal    Signal
	Score     float64
	OwnerHint string
	Kind      MemoryKind
	Text      string
	CreatedAt time.Time
}

type SearchRequest struct {
	Query   string
	OwnerID string
	Limit   int
	Kinds   []MemoryKind
}

// SearchResult is one fused entry of the ranked list: exactly one per memory
// id per query, whichever signals matched it.
type SearchResult struct {
	MemoryID   string     `json:"memory_id"`
	Kind       MemoryKind `json:"kind"`
	Score      float64    `json:"score"`
	Signals    []Signal   `json:"signals"`
	Lexical    float64    `json:"lexical_score,omitempty"`
	Semantic   float64    `json:"semantic_score,omitempty"`
	CrossModal float64    `json:"cross_modal_score,omitempty"`
	Text       string     `json:"text,omitempty"`
	Caption    string     `json:"caption,omitempty"`
	ImagePath  string     `json:"-"`
	ImageURL   string     `json:"image_url,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

func (r SearchResult) MatchedBy(signal Signal) bool {
	for _, s := range r.Signals {
		if s == signal {
			return true
		}
	}
	return false
}

type RelatedMemory struct {
	MemoryID   string     `json:"memory_id"`
	Kind       MemoryKind `json:"kind"`
	Similarity float64    `json:"similarity"`
	Text       string     `json:"text,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}
