// Package trace records per-query retrieval observability: stage timings,
// the degradation path taken, and the citation map handed back to callers.
package trace

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/docquill/docquill/internal/assemble"
	"github.com/docquill/docquill/internal/config"
)

// FallbackType tags which degradation path, if any, a query took.
type FallbackType string

const (
	// FallbackNone is the normal path.
	FallbackNone FallbackType = "NONE"

	// FallbackGroupsDisabled means grouping is configured off or group
	// records were unavailable, so retrieval ran at chunk granularity.
	FallbackGroupsDisabled FallbackType = "GROUPS_DISABLED"

	// FallbackIndexMissing means a per-document index could not be located
	// and retrieval degraded to whatever was available.
	FallbackIndexMissing FallbackType = "INDEX_MISSING"

	// FallbackLLMFailed means generation exhausted its retries and the
	// answer is straight context truncation. It is a terminal annotation on
	// an otherwise complete trace.
	FallbackLLMFailed FallbackType = "LLM_FAILED"
)

// Stage names for the timing map. A trace holds an entry for every stage
// that executed and no entry for a stage that was skipped.
const (
	StageClassify = "classify"
	StageBM25     = "bm25"
	StageVector   = "vector"
	StageFuse     = "fuse"
	StageRerank   = "rerank"
	StageGroup    = "group"
	StageAssemble = "assemble"
	StageGenerate = "generate"
)

// RetrievalTrace is created fresh per query, attached to the response, and
// never persisted.
type RetrievalTrace struct {
	RequestID     string
	Fallback      FallbackType
	StageTimings  map[string]time.Duration
	Granularities []config.Granularity
	Citations     map[string]assemble.CitationRef
	Reranked      bool
	QueryType     string
	Reasoning     string
}

// New creates a trace in the NORMAL state.
func New() *RetrievalTrace {
	return &RetrievalTrace{
		RequestID:    uuid.NewString(),
		Fallback:     FallbackNone,
		StageTimings: make(map[string]time.Duration),
		Citations:    make(map[string]assemble.CitationRef),
	}
}

// SetFallback transitions the fallback state. LLM_FAILED always sticks, and
// an existing non-NORMAL state is not overwritten by a later, milder one.
func (t *RetrievalTrace) SetFallback(fallback FallbackType) {
	if t.Fallback == FallbackLLMFailed {
		return
	}
	if t.Fallback != FallbackNone && fallback == FallbackNone {
		return
	}
	t.Fallback = fallback
}

// Time runs fn and records its duration under the stage name. Only stages
// that actually execute gain a timing entry.
func (t *RetrievalTrace) Time(stage string, fn func()) {
	start := time.Now()
	fn()
	t.StageTimings[stage] = time.Since(start)
}

// TimeErr is Time for functions that return an error.
func (t *RetrievalTrace) TimeErr(stage string, fn func() error) error {
	start := time.Now()
	err := fn()
	t.StageTimings[stage] = time.Since(start)
	return err
}

// Summary renders a compact one-line observability string for CLI output.
func (t *RetrievalTrace) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "fallback=%s", t.Fallback)
	if t.QueryType != "" {
		fmt.Fprintf(&b, " query_type=%s", t.QueryType)
	}
	if len(t.Granularities) > 0 {
		parts := make([]string, len(t.Granularities))
		for i, g := range t.Granularities {
			parts[i] = string(g)
		}
		fmt.Fprintf(&b, " granularities=%s", strings.Join(parts, ","))
	}

	stages := make([]string, 0, len(t.StageTimings))
	for stage := range t.StageTimings {
		stages = append(stages, stage)
	}
	sort.Strings(stages)
	for _, stage := range stages {
		fmt.Fprintf(&b, " %s=%s", stage, t.StageTimings[stage].Round(time.Microsecond))
	}
	return b.String()
}
