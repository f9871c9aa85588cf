package answer

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docquill/docquill/internal/config"
	"github.com/docquill/docquill/internal/embed"
	"github.com/docquill/docquill/internal/ingest"
	"github.com/docquill/docquill/internal/llm"
	"github.com/docquill/docquill/internal/search"
	"github.com/docquill/docquill/internal/store"
	"github.com/docquill/docquill/internal/trace"
)

// scriptedProvider is a controllable generation backend for pipeline tests.
type scriptedProvider struct {
	mu      sync.Mutex
	calls   int
	fail    bool
	text    string
	lastReq llm.Request
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Chat(_ context.Context, req llm.Request) (*llm.Response, error) {
	p.mu.Lock()
	p.calls++
	p.lastReq = req
	p.mu.Unlock()
	if p.fail {
		return nil, errors.New("backend unavailable")
	}
	return &llm.Response{Text: p.text}, nil
}

func (p *scriptedProvider) ChatStream(_ context.Context, req llm.Request) (<-chan llm.Fragment, error) {
	p.mu.Lock()
	p.calls++
	p.lastReq = req
	p.mu.Unlock()
	if p.fail {
		return nil, errors.New("backend unavailable")
	}
	out := make(chan llm.Fragment, 3)
	out <- llm.Fragment{Text: "streamed "}
	out <- llm.Fragment{Text: "answer"}
	out <- llm.Fragment{Done: true}
	close(out)
	return out, nil
}

const testDocID = "report-2024"

var testPages = []ingest.Page{
	{Number: 1, Content: "The annual report covers revenue growth across three regions. " +
		"Revenue in the northern region grew by twelve percent over the prior year."},
	{Number: 2, Content: "The report was written by Jane Doe, the lead analyst. " +
		"Her methodology section explains the sampling approach in detail."},
}

type testEnv struct {
	cfg      *config.Config
	pipeline *Pipeline
	provider *scriptedProvider
	meta     *store.MetadataStore
}

func newTestEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()

	cfg := config.Default()
	cfg.Paths.DataDir = t.TempDir()
	cfg.Retrieval.ChunkSize = 120
	cfg.Retrieval.ChunkOverlap = 0
	cfg.Groups.TargetChars = 200
	cfg.Groups.MinChars = 50
	cfg.Groups.MaxChars = 400
	cfg.LLM.Retries = 0
	cfg.LLM.RetryDelay = time.Millisecond
	if mutate != nil {
		mutate(cfg)
	}

	logger := slog.New(slog.DiscardHandler)
	meta, err := store.OpenMetadataStore(filepath.Join(cfg.Paths.DataDir, "metadata.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = meta.Close() })

	catalog := store.NewCatalog(meta)
	embedder := embed.NewStaticEmbedder()

	ingester := ingest.NewPipeline(cfg, catalog, embedder, logger)
	_, err = ingester.Ingest(context.Background(), testDocID, "Annual Report", testPages)
	require.NoError(t, err)

	provider := &scriptedProvider{text: "grounded answer"}
	registry := llm.NewRegistry(provider)
	invoker := llm.NewInvoker(registry, logger,
		llm.WithMiddlewares(llm.DefaultMiddlewares(cfg.LLM.Retries, cfg.LLM.RetryDelay, false, logger)...))

	pipeline := NewPipeline(cfg, catalog, meta, embedder,
		search.NewStrategist(16), NewReranker(cfg.Rerank), invoker, logger)
	t.Cleanup(pipeline.Close)

	return &testEnv{cfg: cfg, pipeline: pipeline, provider: provider, meta: meta}
}

func TestAsk_AnswersWithRetrievedContext(t *testing.T) {
	env := newTestEnv(t, nil)

	answer, err := env.pipeline.Ask(context.Background(), testDocID, "who wrote the report", nil)
	require.NoError(t, err)

	assert.Equal(t, "grounded answer", answer.Text)
	assert.Equal(t, trace.FallbackNone, answer.Trace.Fallback)
	assert.Equal(t, string(search.QueryTypeSpecific), answer.Trace.QueryType)
	assert.NotEmpty(t, answer.Trace.Citations)

	for _, stage := range []string{
		trace.StageClassify, trace.StageBM25, trace.StageVector,
		trace.StageFuse, trace.StageGroup, trace.StageAssemble, trace.StageGenerate,
	} {
		assert.Contains(t, answer.Trace.StageTimings, stage)
	}
	assert.NotContains(t, answer.Trace.StageTimings, trace.StageRerank)

	// The retrieved passages must reach the model inside the system turn.
	require.NotEmpty(t, env.provider.lastReq.Messages)
	system := env.provider.lastReq.Messages[0]
	assert.Equal(t, "system", system.Role)
	assert.Contains(t, system.Content, "[c1]")
	assert.Contains(t, system.Content, "Jane Doe")
}

func TestAsk_GroupsDisabledFallback(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.Groups.Enabled = false
	})

	answer, err := env.pipeline.Ask(context.Background(), testDocID, "who wrote the report", nil)
	require.NoError(t, err)

	assert.Equal(t, trace.FallbackGroupsDisabled, answer.Trace.Fallback)
	assert.Equal(t, "grounded answer", answer.Text)
	assert.NotEmpty(t, answer.Trace.Citations)
}

func TestAsk_MissingGroupRecordsFallBackToChunks(t *testing.T) {
	// Ingested without groups, queried with grouping on: group records are
	// absent, so assembly runs at chunk granularity and the trace says so.
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.Groups.Enabled = false
	})
	env.cfg.Groups.Enabled = true

	answer, err := env.pipeline.Ask(context.Background(), testDocID, "who wrote the report", nil)
	require.NoError(t, err)

	assert.Equal(t, trace.FallbackGroupsDisabled, answer.Trace.Fallback)
	require.NotEmpty(t, answer.Trace.Citations)
	for _, ref := range answer.Trace.Citations {
		assert.Empty(t, ref.GroupID)
	}
}

func TestAsk_MissingVectorIndexDegrades(t *testing.T) {
	env := newTestEnv(t, nil)

	base := filepath.Join(env.cfg.Paths.DataDir, "indexes", testDocID)
	require.NoError(t, os.Remove(base+".hnsw"))
	require.NoError(t, os.Remove(base+".hnsw.meta"))

	answer, err := env.pipeline.Ask(context.Background(), testDocID, "who wrote the report", nil)
	require.NoError(t, err)

	assert.Equal(t, trace.FallbackIndexMissing, answer.Trace.Fallback)
	assert.Equal(t, "grounded answer", answer.Text)
	assert.Contains(t, answer.Trace.StageTimings, trace.StageBM25)
	assert.NotContains(t, answer.Trace.StageTimings, trace.StageVector)
}

func TestAsk_LLMFailureDegradesToTruncation(t *testing.T) {
	env := newTestEnv(t, nil)
	env.provider.fail = true

	answer, err := env.pipeline.Ask(context.Background(), testDocID, "who wrote the report", nil)
	require.NoError(t, err)

	assert.Equal(t, trace.FallbackLLMFailed, answer.Trace.Fallback)
	assert.Contains(t, answer.Text, "could not be generated")
	assert.Contains(t, answer.Text, "Jane Doe")
}

func TestAsk_UnknownDocument(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := env.pipeline.Ask(context.Background(), "no-such-doc", "anything", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestAsk_LocalRerankerRecordsStage(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.Rerank.Mode = "local"
	})

	answer, err := env.pipeline.Ask(context.Background(), testDocID, "who wrote the report", nil)
	require.NoError(t, err)

	assert.Contains(t, answer.Trace.StageTimings, trace.StageRerank)
	assert.True(t, answer.Trace.Reranked)
}

func TestAskStream_ForwardsFragments(t *testing.T) {
	env := newTestEnv(t, nil)

	stream, err := env.pipeline.AskStream(context.Background(), testDocID, "who wrote the report", nil)
	require.NoError(t, err)

	var text strings.Builder
	var done bool
	for f := range stream.Stream {
		text.WriteString(f.Text)
		if f.Done {
			done = true
		}
	}
	assert.Equal(t, "streamed answer", text.String())
	assert.True(t, done)
	assert.Equal(t, trace.FallbackNone, stream.Trace.Fallback)
}

func TestAskStream_CancellationReleasesAbandonedStream(t *testing.T) {
	env := newTestEnv(t, nil)
	before := runtime.NumGoroutine()

	ctx, cancel := context.WithCancel(context.Background())
	_, err := env.pipeline.AskStream(ctx, testDocID, "who wrote the report", nil)
	require.NoError(t, err)

	// The caller walks away without draining; cancellation must release
	// the forwarding goroutine.
	cancel()
	require.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= before
	}, time.Second, 10*time.Millisecond)
}

func TestAskStream_FailureYieldsDegradedFragment(t *testing.T) {
	env := newTestEnv(t, nil)
	env.provider.fail = true

	stream, err := env.pipeline.AskStream(context.Background(), testDocID, "who wrote the report", nil)
	require.NoError(t, err)

	var text strings.Builder
	for f := range stream.Stream {
		text.WriteString(f.Text)
	}
	assert.Equal(t, trace.FallbackLLMFailed, stream.Trace.Fallback)
	assert.Contains(t, text.String(), "could not be generated")
}
