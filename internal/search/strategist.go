package search

import (
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultStrategyCacheSize is the LRU cache size for classification results.
const DefaultStrategyCacheSize = 1024

// cueRule is one ordered classification rule: the first rule with a matching
// cue decides the query type. The tables are data, not code, so they can be
// tested independently of the matching loop.
type cueRule struct {
	queryType QueryType
	topK      int
	cues      []string
}

// classificationRules are evaluated in order. Cues are lowercase substrings;
// CJK cues match directly since the queries carry no case.
var classificationRules = []cueRule{
	{
		queryType: QueryTypeOverview,
		topK:      TopKOverview,
		cues: []string{
			"summarize", "summary", "overview", "main idea", "main points",
			"tl;dr", "what is this document about", "gist",
			"总结", "概述", "概括", "主要内容", "讲了什么", "大意",
		},
	},
	{
		queryType: QueryTypeExtraction,
		topK:      TopKExtraction,
		cues: []string{
			"how many", "how much", "list the", "what number", "what date",
			"which steps", "step by step", "exact value", "percentage",
			"多少", "哪些", "列出", "步骤", "数字", "日期", "百分",
		},
	},
	{
		queryType: QueryTypeAnalytical,
		topK:      TopKAnalytical,
		cues: []string{
			"compare", "difference between", "versus", " vs ", "why",
			"cause", "because of what", "relationship", "impact", "trade-off",
			"为什么", "比较", "区别", "对比", "原因", "影响", "关系",
		},
	},
	{
		queryType: QueryTypeSpecific,
		topK:      TopKSpecific,
		cues: []string{
			"who is", "who wrote", "where is", "which chapter", "author",
			"name of", "when was",
			"谁", "哪里", "作者", "何时", "哪一",
		},
	},
}

// Classify derives a retrieval strategy from the query text alone. It is pure
// and total: every query maps to exactly one strategy and classification
// never fails. Unmatched queries default to SPECIFIC, the narrowest and most
// conservative retrieval.
func Classify(query string) RetrievalStrategy {
	normalized := strings.ToLower(strings.TrimSpace(query))

	for _, rule := range classificationRules {
		for _, cue := range rule.cues {
			if strings.Contains(normalized, cue) {
				return RetrievalStrategy{
					QueryType: rule.queryType,
					TopK:      rule.topK,
					Reasoning: fmt.Sprintf("matched %s cue %q", strings.ToLower(string(rule.queryType)), cue),
				}
			}
		}
	}

	return RetrievalStrategy{
		QueryType: QueryTypeSpecific,
		TopK:      TopKSpecific,
		Reasoning: "no cue matched, defaulting to narrow retrieval",
	}
}

// Strategist classifies queries with an LRU cache in front of Classify, and
// carries the optional query transform applied before embedding (HyDE-style
// rewriting plugs in here; the default is identity).
type Strategist struct {
	cache     *lru.Cache[string, RetrievalStrategy]
	transform func(query string) string
}

// StrategistOption configures a Strategist.
type StrategistOption func(*Strategist)

// WithQueryTransform sets the transform applied to the query text before it
// is embedded for vector search.
func WithQueryTransform(fn func(query string) string) StrategistOption {
	return func(s *Strategist) { s.transform = fn }
}

// NewStrategist creates a strategist with the given cache size.
func NewStrategist(cacheSize int, opts ...StrategistOption) *Strategist {
	if cacheSize <= 0 {
		cacheSize = DefaultStrategyCacheSize
	}
	cache, _ := lru.New[string, RetrievalStrategy](cacheSize)
	s := &Strategist{cache: cache}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Classify returns the cached strategy for the query, computing it on miss.
func (s *Strategist) Classify(query string) RetrievalStrategy {
	key := strings.ToLower(strings.TrimSpace(query))
	if strategy, ok := s.cache.Get(key); ok {
		return strategy
	}
	strategy := Classify(query)
	s.cache.Add(key, strategy)
	return strategy
}

// EmbeddingText returns the text to embed for vector search.
func (s *Strategist) EmbeddingText(query string) string {
	if s.transform == nil {
		return query
	}
	return s.transform(query)
}
