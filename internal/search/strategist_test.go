package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		wantType QueryType
		wantTopK int
	}{
		{"english summary cue", "Please summarize the key findings", QueryTypeOverview, TopKOverview},
		{"chinese summary cue", "总结一下这篇文档", QueryTypeOverview, TopKOverview},
		{"extraction cue", "How many participants were in the study?", QueryTypeExtraction, TopKExtraction},
		{"chinese extraction cue", "研究包含多少样本", QueryTypeExtraction, TopKExtraction},
		{"analytical cue", "Compare chapter 2 with chapter 3", QueryTypeAnalytical, TopKAnalytical},
		{"chinese analytical cue", "为什么结果会下降", QueryTypeAnalytical, TopKAnalytical},
		{"specific cue", "Who is the author of this paper?", QueryTypeSpecific, TopKSpecific},
		{"chinese specific cue", "作者是谁", QueryTypeSpecific, TopKSpecific},
		{"no cue defaults to specific", "blockchain consensus details", QueryTypeSpecific, TopKSpecific},
		{"empty query defaults to specific", "", QueryTypeSpecific, TopKSpecific},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.query)
			assert.Equal(t, tt.wantType, got.QueryType)
			assert.Equal(t, tt.wantTopK, got.TopK)
			assert.NotEmpty(t, got.Reasoning)
		})
	}
}

func TestClassify_Deterministic(t *testing.T) {
	first := Classify("总结一下这篇文档")
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Classify("总结一下这篇文档"))
	}
}

func TestClassify_OverviewBroaderThanSpecific(t *testing.T) {
	overview := Classify("总结一下这篇文档")
	specific := Classify("作者是谁")

	assert.Equal(t, QueryTypeOverview, overview.QueryType)
	assert.Equal(t, QueryTypeSpecific, specific.QueryType)
	assert.Greater(t, overview.TopK, specific.TopK)
}

func TestStrategist_CachesClassification(t *testing.T) {
	s := NewStrategist(8)

	first := s.Classify("compare the two methods")
	second := s.Classify("Compare the two methods  ")
	assert.Equal(t, first, second)
	assert.Equal(t, QueryTypeAnalytical, first.QueryType)
}

func TestStrategist_EmbeddingText(t *testing.T) {
	s := NewStrategist(8)
	assert.Equal(t, "raw query", s.EmbeddingText("raw query"))

	hyde := NewStrategist(8, WithQueryTransform(func(q string) string {
		return "hypothetical answer to: " + q
	}))
	require.Equal(t, "hypothetical answer to: raw query", hyde.EmbeddingText("raw query"))
}
