// Package search provides query classification, hybrid retrieval fusion, and
// reranking. Lexical and vector rankings are merged with Reciprocal Rank
// Fusion (RRF).
package search

// QueryType is the classified intent of a user query.
type QueryType string

const (
	// QueryTypeOverview asks for a broad summary of the document.
	QueryTypeOverview QueryType = "OVERVIEW"

	// QueryTypeExtraction asks for a specific fact, number, or step list.
	QueryTypeExtraction QueryType = "EXTRACTION"

	// QueryTypeAnalytical asks for comparison or cause-and-effect reasoning.
	QueryTypeAnalytical QueryType = "ANALYTICAL"

	// QueryTypeSpecific pinpoints a named entity or detail. It is also the
	// default: the narrowest retrieval is the safest when nothing matches.
	QueryTypeSpecific QueryType = "SPECIFIC"
)

// Retrieval breadth per query type. Overviews sweep the document; extraction
// and pinpoint queries stay narrow.
const (
	TopKOverview   = 12
	TopKAnalytical = 8
	TopKExtraction = 5
	TopKSpecific   = 5
)

// RetrievalStrategy is the classification outcome. Reasoning is for trace
// output only; nothing branches on it.
type RetrievalStrategy struct {
	QueryType QueryType
	TopK      int
	Reasoning string
}

// CandidateSource identifies which ranking produced a candidate.
type CandidateSource string

const (
	SourceBM25   CandidateSource = "BM25"
	SourceVector CandidateSource = "VECTOR"
	SourceBoth   CandidateSource = "BOTH"
)

// RetrievalCandidate is one fused retrieval result. Rank fields are 1-based
// within their source list; 0 means the candidate was absent from that list.
type RetrievalCandidate struct {
	ChunkIndex  int
	Text        string
	Score       float64
	Source      CandidateSource
	BM25Rank    int
	BM25Score   float64
	VectorRank  int
	VectorScore float64
	Reranked    bool
}
