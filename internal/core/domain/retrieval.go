package domain

const (
	DefaultRRFK          = 60
	DefaultAlpha         = 0.5
	DefaultMaxCandidates = 50
	DefaultFinalCount    = 20
	DefaultQueryLimit    = 10

	DefaultSimilarityThreshold = 0.7
	// HybridSimilarityThreshold is relaxed because fusion, not the raw threshold, governs relevance.
	HybridSimilarityThreshold = 0.3
)

const (
	MethodBM25     = "bm25"
	MethodVector   = "vector"
	MethodReranked = "reranked"
)

type Provenance string

const (
	ProvenanceBM25     Provenance = "bm25"
	ProvenanceVector   Provenance = "vector"
	ProvenanceHybrid   Provenance = "hybrid"
	ProvenanceReranked Provenance = "reranked"
)

// RRFConfig is fixed for the lifetime of a retriever.
type RRFConfig struct {
	K               int     `json:"k" yaml:"k"`
	Alpha           float64 `json:"alpha" yaml:"alpha"`
	EnableReranking bool    `json:"enable_reranking" yaml:"enable_reranking"`
	MaxCandidates   int     `json:"max_candidates" yaml:"max_candidates"`
	FinalCount      int     `json:"final_count" yaml:"final_count"`
}

func DefaultRRFConfig() RRFConfig {
	return RRFConfig{
		K:             DefaultRRFK,
		Alpha:         DefaultAlpha,
		MaxCandidates: DefaultMaxCandidates,
		FinalCount:    DefaultFinalCount,
	}
}

func (c RRFConfig) Normalize() RRFConfig {
	out := c
	if out.K <= 0 {
		out.K = DefaultRRFK
	}
	if out.Alpha < 0 {
		out.Alpha = 0
	}
	if out.Alpha > 1 {
		out.Alpha = 1
	}
	if out.MaxCandidates <= 0 {
		out.MaxCandidates = DefaultMaxCandidates
	}
	if out.FinalCount <= 0 {
		out.FinalCount = DefaultFinalCount
	}
	return out
}

type SimilarityOptions struct {
	Collections []string
	Limit       int
	Threshold   float64
}

type VectorMatch struct {
	ID         string         `json:"id"`
	Title      string         `json:"title,omitempty"`
	Content    string         `json:"content,omitempty"`
	URL        string         `json:"url,omitempty"`
	Collection string         `json:"collection"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Similarity float64        `json:"similarity"`
}

type LexicalQuery struct {
	Q           string
	Filters     map[string][]any
	Collections []string
	Limit       int
}

// LexicalHit is one ordered hit from a lexical engine. ID may be empty for engines
// that only expose an internal uid; fusion then keys the hit by collection and uid.
type LexicalHit struct {
	ID         string         `json:"id,omitempty"`
	UID        string         `json:"uid,omitempty"`
	Collection string         `json:"collection,omitempty"`
	Score      float64        `json:"score"`
	Fields     map[string]any `json:"fields,omitempty"`
}

type LexicalResult struct {
	Hits               []LexicalHit `json:"hits"`
	EstimatedTotalHits int          `json:"estimatedTotalHits"`
	ProcessingTimeMs   int64        `json:"processingTimeMs"`
}

// Candidate is one branch's view of a document for a single query.
type Candidate struct {
	DocID       string
	SourceRank  int
	SourceScore float64
	Payload     map[string]any
}

// FusedCandidate is a document after RRF. Score is the ranking score: the RRF score
// after fusion, the judge score after reranking.
type FusedCandidate struct {
	DocID       string         `json:"docId"`
	Payload     map[string]any `json:"payload"`
	BM25Score   float64        `json:"bm25Score"`
	VectorScore float64        `json:"vectorScore"`
	BM25Rank    int            `json:"bm25Rank,omitempty"`
	VectorRank  int            `json:"vectorRank,omitempty"`
	RRFScore    float64        `json:"rrfScore"`
	Score       float64        `json:"score"`
	Provenance  Provenance     `json:"provenance"`
}

// PayloadString returns a string payload field or "".
func (c FusedCandidate) PayloadString(key string) string {
	if c.Payload == nil {
		return ""
	}
	s, _ := c.Payload[key].(string)
	return s
}

type SearchQuery struct {
	Q           string           `json:"q"`
	Filters     map[string][]any `json:"filters,omitempty"`
	Collections []string         `json:"collections,omitempty"`
	Limit       int              `json:"limit,omitempty"`
}

type SearchResponse struct {
	Hits               []FusedCandidate `json:"hits"`
	EstimatedTotalHits int              `json:"estimatedTotalHits"`
	ProcessingTimeMs   int64            `json:"processingTimeMs"`
	SearchMethods      []string         `json:"searchMethods"`
	FusionScore        float64          `json:"fusionScore"`
}

// Passage is what the relevance judge sees for one candidate.
type Passage struct {
	ID    string   `json:"id"`
	Text  string   `json:"text"`
	Title string   `json:"title,omitempty"`
	URL   string   `json:"url,omitempty"`
	Score *float64 `json:"score,omitempty"`
}

// Judgment is one judge verdict; Score is nil when the judge only returns an order.
type Judgment struct {
	ID    string   `json:"id"`
	Score *float64 `json:"score,omitempty"`
}
