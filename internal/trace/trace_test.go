package trace

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_StartsNormal(t *testing.T) {
	tr := New()
	assert.Equal(t, FallbackNone, tr.Fallback)
	assert.Empty(t, tr.StageTimings)
	assert.NotEmpty(t, tr.RequestID)
}

func TestSetFallback_Transitions(t *testing.T) {
	tr := New()
	tr.SetFallback(FallbackGroupsDisabled)
	assert.Equal(t, FallbackGroupsDisabled, tr.Fallback)

	// A later NONE does not erase a degradation.
	tr.SetFallback(FallbackNone)
	assert.Equal(t, FallbackGroupsDisabled, tr.Fallback)

	// LLM_FAILED is terminal.
	tr.SetFallback(FallbackLLMFailed)
	tr.SetFallback(FallbackIndexMissing)
	assert.Equal(t, FallbackLLMFailed, tr.Fallback)
}

func TestTime_RecordsOnlyExecutedStages(t *testing.T) {
	tr := New()
	tr.Time(StageClassify, func() {})
	err := tr.TimeErr(StageBM25, func() error { return errors.New("search failed") })
	require.Error(t, err)

	assert.Contains(t, tr.StageTimings, StageClassify)
	assert.Contains(t, tr.StageTimings, StageBM25)
	assert.NotContains(t, tr.StageTimings, StageVector)
	assert.NotContains(t, tr.StageTimings, StageGenerate)
}

func TestSummary(t *testing.T) {
	tr := New()
	tr.QueryType = "OVERVIEW"
	tr.Time(StageClassify, func() {})
	tr.SetFallback(FallbackGroupsDisabled)

	summary := tr.Summary()
	assert.Contains(t, summary, "fallback=GROUPS_DISABLED")
	assert.Contains(t, summary, "query_type=OVERVIEW")
	assert.Contains(t, summary, "classify=")
}
