package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/docquill/docquill/internal/store"
)

// Reranker re-scores fused candidates with a cross-encoder signal. Scores
// replace the fused ordering via a stable descending sort, so equal scores
// preserve fused order.
type Reranker interface {
	// Rerank returns the candidates re-sorted by cross-encoder score with
	// the Reranked marker set.
	Rerank(ctx context.Context, query string, candidates []RetrievalCandidate) ([]RetrievalCandidate, error)

	// Close releases resources.
	Close() error
}

// ApplyRerank runs the reranker with pass-through degradation: a reranker
// failure never aborts the pipeline, the fused ordering simply survives with
// Reranked left false.
func ApplyRerank(ctx context.Context, r Reranker, query string, candidates []RetrievalCandidate, logger *slog.Logger) []RetrievalCandidate {
	if r == nil || len(candidates) == 0 {
		return candidates
	}
	reranked, err := r.Rerank(ctx, query, candidates)
	if err != nil {
		logger.Warn("rerank_failed",
			"candidates", len(candidates),
			"error", err)
		return candidates
	}
	return reranked
}

// resortByScore stable-sorts candidates descending by their new scores and
// marks them reranked. Equal scores keep the incoming (fused) order.
func resortByScore(candidates []RetrievalCandidate, scores []float64) []RetrievalCandidate {
	out := make([]RetrievalCandidate, len(candidates))
	copy(out, candidates)
	for i := range out {
		out[i].Score = scores[i]
		out[i].Reranked = true
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out
}

// LocalReranker scores (query, passage) pairs with a lexical cross signal:
// the fraction of query terms present in the passage, weighted by term
// frequency. It needs no network and serves as the offline cross-encoder.
type LocalReranker struct{}

// NewLocalReranker creates the offline reranker.
func NewLocalReranker() *LocalReranker {
	return &LocalReranker{}
}

// Rerank scores each candidate against the query term set.
func (r *LocalReranker) Rerank(_ context.Context, query string, candidates []RetrievalCandidate) ([]RetrievalCandidate, error) {
	if len(candidates) == 0 {
		return []RetrievalCandidate{}, nil
	}

	queryTerms := store.Tokenize(query)
	if len(queryTerms) == 0 {
		return candidates, nil
	}

	scores := make([]float64, len(candidates))
	for i, c := range candidates {
		scores[i] = crossScore(queryTerms, c.Text)
	}
	return resortByScore(candidates, scores), nil
}

// Close is a no-op for the local reranker.
func (r *LocalReranker) Close() error { return nil }

// crossScore is the fraction of distinct query terms that occur in the
// passage, with a small boost for repeated occurrences.
func crossScore(queryTerms []string, passage string) float64 {
	passageTF := make(map[string]int)
	for _, term := range store.Tokenize(passage) {
		passageTF[term]++
	}

	seen := make(map[string]bool, len(queryTerms))
	var matched, total int
	var boost float64
	for _, term := range queryTerms {
		if seen[term] {
			continue
		}
		seen[term] = true
		total++
		if tf := passageTF[term]; tf > 0 {
			matched++
			if tf > 1 {
				boost += 0.1
			}
		}
	}
	if total == 0 {
		return 0
	}
	score := float64(matched) / float64(total)
	return score + boost/float64(total)
}

// RemoteRerankerConfig configures the remote rerank API client.
type RemoteRerankerConfig struct {
	Endpoint string
	Model    string
	APIKey   string
	Timeout  time.Duration
}

// RemoteReranker calls a rerank HTTP API that scores (query, documents)
// jointly and returns per-document relevance scores.
type RemoteReranker struct {
	config RemoteRerankerConfig
	client *http.Client
}

// NewRemoteReranker creates a remote reranker client.
func NewRemoteReranker(cfg RemoteRerankerConfig) *RemoteReranker {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &RemoteReranker{
		config: cfg,
		client: &http.Client{},
	}
}

type rerankRequest struct {
	Model     string   `json:"model,omitempty"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

type rerankResponse struct {
	Results []struct {
		Index int     `json:"index"`
		Score float64 `json:"relevance_score"`
	} `json:"results"`
}

// Rerank sends the candidates to the rerank API. An empty candidate list
// returns immediately without a network call.
func (r *RemoteReranker) Rerank(ctx context.Context, query string, candidates []RetrievalCandidate) ([]RetrievalCandidate, error) {
	if len(candidates) == 0 {
		return []RetrievalCandidate{}, nil
	}

	documents := make([]string, len(candidates))
	for i, c := range candidates {
		documents[i] = c.Text
	}

	body, err := json.Marshal(rerankRequest{
		Model:     r.config.Model,
		Query:     query,
		Documents: documents,
	})
	if err != nil {
		return nil, fmt.Errorf("encode rerank request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	endpoint := strings.TrimSuffix(r.config.Endpoint, "/") + "/rerank"
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.config.APIKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("rerank failed with status %d: %s", resp.StatusCode, string(msg))
	}

	var parsed rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode rerank response: %w", err)
	}

	scores := make([]float64, len(candidates))
	for _, result := range parsed.Results {
		if result.Index < 0 || result.Index >= len(scores) {
			return nil, fmt.Errorf("rerank response index %d out of range", result.Index)
		}
		scores[result.Index] = result.Score
	}
	return resortByScore(candidates, scores), nil
}

// Close releases idle connections.
func (r *RemoteReranker) Close() error {
	r.client.CloseIdleConnections()
	return nil
}

var (
	_ Reranker = (*LocalReranker)(nil)
	_ Reranker = (*RemoteReranker)(nil)
)
