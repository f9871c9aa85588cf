// Package answer runs the full retrieval-and-answering control flow: query
// classification, hybrid retrieval, fusion, reranking, context assembly, and
// resilient generation, with every degradation recorded on the trace.
package answer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/docquill/docquill/internal/assemble"
	"github.com/docquill/docquill/internal/config"
	"github.com/docquill/docquill/internal/embed"
	"github.com/docquill/docquill/internal/llm"
	"github.com/docquill/docquill/internal/search"
	"github.com/docquill/docquill/internal/store"
	"github.com/docquill/docquill/internal/trace"
)

// Answer is the pipeline's response: the answer text (generated or degraded)
// plus the retrieval trace callers render to end users.
type Answer struct {
	Text      string
	Reasoning string
	Trace     *trace.RetrievalTrace
}

// Pipeline wires the retrieval components into the single ask entry point.
type Pipeline struct {
	cfg        *config.Config
	catalog    *store.Catalog
	meta       *store.MetadataStore
	embedder   embed.Embedder
	strategist *search.Strategist
	reranker   search.Reranker
	invoker    *llm.Invoker
	indexes    *indexCache
	logger     *slog.Logger
}

// NewPipeline assembles the answering pipeline. reranker may be nil when
// reranking is configured off.
func NewPipeline(
	cfg *config.Config,
	catalog *store.Catalog,
	meta *store.MetadataStore,
	embedder embed.Embedder,
	strategist *search.Strategist,
	reranker search.Reranker,
	invoker *llm.Invoker,
	logger *slog.Logger,
) *Pipeline {
	return &Pipeline{
		cfg:        cfg,
		catalog:    catalog,
		meta:       meta,
		embedder:   embedder,
		strategist: strategist,
		reranker:   reranker,
		invoker:    invoker,
		indexes:    newIndexCache(cfg),
		logger:     logger,
	}
}

// NewReranker constructs the reranker named by the configuration. Mode
// "off" (or empty) yields nil, which disables the rerank stage.
func NewReranker(cfg config.RerankConfig) search.Reranker {
	switch cfg.Mode {
	case "local":
		return search.NewLocalReranker()
	case "remote":
		return search.NewRemoteReranker(search.RemoteRerankerConfig{
			Endpoint: cfg.Endpoint,
			Model:    cfg.Model,
			APIKey:   os.Getenv(cfg.APIKeyEnv),
		})
	default:
		return nil
	}
}

// Close releases cached index handles.
func (p *Pipeline) Close() {
	p.indexes.closeAll()
}

// InvalidateDocument drops cached index handles after a re-ingest.
func (p *Pipeline) InvalidateDocument(docID string) {
	p.indexes.invalidate(docID)
}

// Ask answers a query over an ingested document. Missing indexes and failed
// generation degrade rather than fail: the caller always receives an Answer
// with a trace describing the path taken. Only an unknown document or a
// broken store surfaces as an error.
func (p *Pipeline) Ask(ctx context.Context, docID, query string, history []llm.Message) (*Answer, error) {
	tr := trace.New()

	result, err := p.prepare(ctx, tr, docID, query)
	if err != nil {
		return nil, err
	}

	answerText, reasoning := p.generate(ctx, tr, query, result.ContextText, history)

	p.logger.Info("query_answered",
		"doc_id", docID,
		"request_id", tr.RequestID,
		"query_type", tr.QueryType,
		"fallback", tr.Fallback,
		"items_included", result.ItemsIncluded,
		"items_skipped", result.ItemsSkipped)

	return &Answer{Text: answerText, Reasoning: reasoning, Trace: tr}, nil
}

// StreamAnswer carries a live fragment stream plus the trace. The trace's
// fallback state settles once the stream is drained.
type StreamAnswer struct {
	Stream <-chan llm.Fragment
	Trace  *trace.RetrievalTrace
}

// AskStream is Ask with streamed generation. When the stream cannot be
// established the degraded truncation answer arrives as a single fragment,
// so callers drain the channel the same way on every path.
func (p *Pipeline) AskStream(ctx context.Context, docID, query string, history []llm.Message) (*StreamAnswer, error) {
	tr := trace.New()

	result, err := p.prepare(ctx, tr, docID, query)
	if err != nil {
		return nil, err
	}

	var resp *llm.Response
	tr.Time(trace.StageGenerate, func() {
		resp = p.invoker.InvokeStream(ctx, llm.Request{
			Provider: p.cfg.LLM.Provider,
			Model:    p.cfg.LLM.Model,
			APIKey:   p.cfg.LLM.APIKey(),
			Messages: buildMessages(query, result.ContextText, history),
			Stream:   true,
			Timeout:  p.cfg.LLM.Timeout,
		})
	})

	if resp.Failed() || resp.Stream == nil {
		tr.SetFallback(trace.FallbackLLMFailed)
		p.logger.Warn("generation_degraded", "request_id", tr.RequestID, "error", resp.Err)
		out := make(chan llm.Fragment, 2)
		out <- llm.Fragment{Text: degradedAnswer(result.ContextText)}
		out <- llm.Fragment{Done: true}
		close(out)
		return &StreamAnswer{Stream: out, Trace: tr}, nil
	}

	return &StreamAnswer{Stream: p.watchStream(ctx, tr, resp.Stream), Trace: tr}, nil
}

// watchStream forwards fragments while marking the trace if the stream
// reports a mid-flight error. Cancelling ctx releases the forwarder even
// when the consumer has stopped reading.
func (p *Pipeline) watchStream(ctx context.Context, tr *trace.RetrievalTrace, in <-chan llm.Fragment) <-chan llm.Fragment {
	out := make(chan llm.Fragment)
	go func() {
		defer close(out)
		for f := range in {
			if f.Err != "" {
				tr.SetFallback(trace.FallbackLLMFailed)
				p.logger.Warn("generation_stream_error", "request_id", tr.RequestID, "error", f.Err)
			}
			select {
			case out <- f:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// prepare runs every stage before generation: classification, retrieval,
// fusion, reranking, grouping, and context assembly.
func (p *Pipeline) prepare(ctx context.Context, tr *trace.RetrievalTrace, docID, query string) (assemble.Result, error) {
	var strategy search.RetrievalStrategy
	tr.Time(trace.StageClassify, func() {
		strategy = p.strategist.Classify(query)
	})
	tr.QueryType = string(strategy.QueryType)
	tr.Reasoning = strategy.Reasoning

	if !p.cfg.Groups.Enabled {
		tr.SetFallback(trace.FallbackGroupsDisabled)
	}

	doc, err := p.catalog.Get(ctx, docID)
	if err != nil {
		return assemble.Result{}, fmt.Errorf("resolve document %s: %w", docID, err)
	}
	chunks, err := p.meta.GetChunks(ctx, docID)
	if err != nil {
		return assemble.Result{}, fmt.Errorf("load chunks for %s: %w", docID, err)
	}

	candidates := p.retrieve(ctx, tr, doc, chunks, query, strategy.TopK)
	candidates = p.rerank(ctx, tr, query, candidates)

	items := p.toItems(ctx, tr, docID, chunks, candidates)

	var result assemble.Result
	tr.Time(trace.StageAssemble, func() {
		result = assemble.Assemble(items, assemble.Budget{
			MaxTokens:        p.cfg.Budget.MaxTokens,
			ReserveForAnswer: p.cfg.Budget.ReserveForAnswer,
		}, p.cfg.Budget.DefaultGranularity)
	})
	tr.Granularities = result.GranularitiesUsed
	tr.Citations = result.Citations
	return result, nil
}

// retrieve runs the lexical and vector searches concurrently and fuses the
// rankings. Missing artifacts degrade to whichever index exists, or to a
// linear term scan over the chunks when neither does.
func (p *Pipeline) retrieve(ctx context.Context, tr *trace.RetrievalTrace, doc store.Document, chunks []*store.Chunk, query string, topK int) []search.RetrievalCandidate {
	indexes, err := p.indexes.open(ctx, doc.ID)
	if err != nil {
		p.logger.Warn("index_open_failed", "doc_id", doc.ID, "error", err)
		indexes = &openIndexes{}
	}
	if indexes.lexical == nil || indexes.vector == nil {
		tr.SetFallback(trace.FallbackIndexMissing)
	}

	fetchK := topK * 2

	var lexResults []store.LexicalResult
	var vecResults []store.VectorResult
	var bm25Elapsed, vectorElapsed time.Duration

	// The trace timing map is not goroutine-safe; each search measures
	// itself and the entries are recorded after the join.
	g, gctx := errgroup.WithContext(ctx)
	if indexes.lexical != nil {
		g.Go(func() error {
			start := time.Now()
			defer func() { bm25Elapsed = time.Since(start) }()
			results, searchErr := indexes.lexical.Search(gctx, query, fetchK)
			if searchErr != nil {
				p.logger.Warn("bm25_search_failed", "doc_id", doc.ID, "error", searchErr)
				return nil
			}
			lexResults = results
			return nil
		})
	}
	if indexes.vector != nil {
		g.Go(func() error {
			start := time.Now()
			defer func() { vectorElapsed = time.Since(start) }()
			embedding, embedErr := p.embedder.Embed(gctx, p.strategist.EmbeddingText(query))
			if embedErr != nil {
				p.logger.Warn("query_embed_failed", "doc_id", doc.ID, "error", embedErr)
				return nil
			}
			results, searchErr := indexes.vector.Search(gctx, embedding, p.embedder.ModelName(), fetchK)
			if searchErr != nil {
				p.logger.Warn("vector_search_failed", "doc_id", doc.ID, "error", searchErr)
				return nil
			}
			vecResults = results
			return nil
		})
	}
	_ = g.Wait()
	if indexes.lexical != nil {
		tr.StageTimings[trace.StageBM25] = bm25Elapsed
	}
	if indexes.vector != nil {
		tr.StageTimings[trace.StageVector] = vectorElapsed
	}

	if indexes.lexical == nil && indexes.vector == nil {
		tr.Time(trace.StageBM25, func() {
			lexResults = linearScan(chunks, query, fetchK)
		})
	}

	var fused []search.RetrievalCandidate
	tr.Time(trace.StageFuse, func() {
		fused = search.Fuse(lexResults, vecResults, topK, p.cfg.Retrieval.RRFConstant)
	})

	// Attach chunk texts for reranking and assembly.
	for i := range fused {
		if idx := fused[i].ChunkIndex; idx >= 0 && idx < len(chunks) {
			fused[i].Text = chunks[idx].Text
		}
	}
	return fused
}

// rerank applies the configured reranker with pass-through degradation.
func (p *Pipeline) rerank(ctx context.Context, tr *trace.RetrievalTrace, query string, candidates []search.RetrievalCandidate) []search.RetrievalCandidate {
	if p.reranker == nil || len(candidates) == 0 {
		return candidates
	}

	head := candidates
	var tail []search.RetrievalCandidate
	if n := p.cfg.Rerank.TopN; n > 0 && n < len(candidates) {
		head, tail = candidates[:n], candidates[n:]
	}

	var reranked []search.RetrievalCandidate
	tr.Time(trace.StageRerank, func() {
		reranked = search.ApplyRerank(ctx, p.reranker, query, head, p.logger)
	})
	if len(reranked) > 0 {
		tr.Reranked = reranked[0].Reranked
	}
	return append(reranked, tail...)
}

// toItems maps ranked candidates to assembly units: semantic groups when
// enabled and present, bare chunks otherwise. Each group appears once, at
// the position of its best-ranked member chunk.
func (p *Pipeline) toItems(ctx context.Context, tr *trace.RetrievalTrace, docID string, chunks []*store.Chunk, candidates []search.RetrievalCandidate) []assemble.Item {
	var items []assemble.Item
	tr.Time(trace.StageGroup, func() {
		items = p.buildItems(ctx, tr, docID, chunks, candidates)
	})
	return items
}

func (p *Pipeline) buildItems(ctx context.Context, tr *trace.RetrievalTrace, docID string, chunks []*store.Chunk, candidates []search.RetrievalCandidate) []assemble.Item {
	if p.cfg.Groups.Enabled {
		groups, err := p.meta.GetGroups(ctx, docID)
		switch {
		case err != nil:
			tr.SetFallback(trace.FallbackGroupsDisabled)
			p.logger.Warn("group_load_failed", "doc_id", docID, "error", err)
		case len(groups) == 0:
			tr.SetFallback(trace.FallbackGroupsDisabled)
			p.logger.Warn("groups_unavailable", "doc_id", docID)
		default:
			byChunk := make(map[int]*store.SemanticGroup)
			for _, g := range groups {
				for _, idx := range g.ChunkIndices {
					byChunk[idx] = g
				}
			}

			seen := make(map[string]bool)
			var items []assemble.Item
			for _, c := range candidates {
				g, ok := byChunk[c.ChunkIndex]
				if !ok || seen[g.ID] {
					continue
				}
				seen[g.ID] = true
				items = append(items, assemble.Item{
					DocID:      docID,
					GroupID:    g.ID,
					ChunkIndex: g.ChunkIndices[0],
					Text:       g.Text,
				})
			}
			return items
		}
	}

	items := make([]assemble.Item, 0, len(candidates))
	for _, c := range candidates {
		if c.ChunkIndex < 0 || c.ChunkIndex >= len(chunks) {
			continue
		}
		items = append(items, assemble.Item{
			DocID:      docID,
			ChunkIndex: c.ChunkIndex,
			Text:       chunks[c.ChunkIndex].Text,
		})
	}
	return items
}

// generate invokes the LLM. Retry exhaustion degrades to a truncation of the
// assembled context so the user always receives something.
func (p *Pipeline) generate(ctx context.Context, tr *trace.RetrievalTrace, query, contextText string, history []llm.Message) (string, string) {
	messages := buildMessages(query, contextText, history)

	var resp *llm.Response
	tr.Time(trace.StageGenerate, func() {
		resp = p.invoker.Invoke(ctx, llm.Request{
			Provider: p.cfg.LLM.Provider,
			Model:    p.cfg.LLM.Model,
			APIKey:   p.cfg.LLM.APIKey(),
			Messages: messages,
			Timeout:  p.cfg.LLM.Timeout,
		})
	})

	if resp.Failed() {
		tr.SetFallback(trace.FallbackLLMFailed)
		p.logger.Warn("generation_degraded", "request_id", tr.RequestID, "error", resp.Err)
		return degradedAnswer(contextText), ""
	}
	return resp.Text, resp.Reasoning
}

// systemPrompt frames the retrieved passages for the model.
const systemPrompt = "You are a document question-answering assistant. Answer using only the " +
	"passages below. Cite passages by their bracketed identifiers, e.g. [c1]. " +
	"If the passages do not contain the answer, say so.\n\nPassages:\n"

func buildMessages(query, contextText string, history []llm.Message) []llm.Message {
	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{
		Role:    "system",
		Content: systemPrompt + contextText,
	})
	messages = append(messages, history...)
	messages = append(messages, llm.Message{Role: "user", Content: query})
	return messages
}

// degradedAnswer truncates the assembled context when generation failed.
func degradedAnswer(contextText string) string {
	const maxChars = 1500
	if contextText == "" {
		return "The answer could not be generated and no relevant passages were found."
	}
	runes := []rune(contextText)
	if len(runes) > maxChars {
		contextText = string(runes[:maxChars]) + "…"
	}
	return "The answer could not be generated. The most relevant passages were:\n\n" + contextText
}

// linearScan is the last-resort retrieval when no index artifact exists: a
// naive term-overlap scan over the raw chunks.
func linearScan(chunks []*store.Chunk, query string, k int) []store.LexicalResult {
	terms := store.Tokenize(query)
	if len(terms) == 0 {
		return nil
	}

	var results []store.LexicalResult
	for _, chunk := range chunks {
		tf := make(map[string]int)
		for _, term := range store.Tokenize(chunk.Text) {
			tf[term]++
		}
		var score float64
		for _, term := range terms {
			score += float64(tf[term])
		}
		if score > 0 {
			results = append(results, store.LexicalResult{ChunkIndex: chunk.Index, Score: score})
		}
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ChunkIndex < results[j].ChunkIndex
	})
	if k > 0 && k < len(results) {
		results = results[:k]
	}
	return results
}
