// Package cmd provides the CLI commands for DocQuill.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/docquill/docquill/internal/answer"
	"github.com/docquill/docquill/internal/config"
	"github.com/docquill/docquill/internal/embed"
	"github.com/docquill/docquill/internal/llm"
	"github.com/docquill/docquill/internal/logging"
	"github.com/docquill/docquill/internal/search"
	"github.com/docquill/docquill/internal/store"
	"github.com/docquill/docquill/pkg/version"
)

var configPath string

// NewRootCmd creates the root command for the docquill CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "docquill",
		Short: "Hybrid retrieval question answering over documents",
		Long: `DocQuill ingests documents and answers questions about them using
hybrid retrieval (BM25 + semantic) with reciprocal rank fusion,
token-budgeted context assembly, and cited answers.

Ingest a document, then ask:
  docquill ingest report.txt
  docquill ask report "who wrote the methodology section"`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("docquill version {{.Version}}\n")
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (YAML)")

	cmd.AddCommand(newIngestCmd())
	cmd.AddCommand(newAskCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newDeleteCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	cmd := NewRootCmd()
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("error: ")+err.Error())
		return err
	}
	return nil
}

// env is the shared runtime wiring every command builds once.
type env struct {
	cfg     *config.Config
	logger  *slog.Logger
	meta    *store.MetadataStore
	catalog *store.Catalog
	cleanup func()
}

// newEnv loads configuration, sets up logging, and opens the metadata store.
func newEnv() (*env, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logCfg := logging.Config{
		Level:    cfg.Logging.Level,
		FilePath: cfg.Logging.FilePath,
	}
	if logCfg.FilePath == "" {
		logCfg.FilePath = filepath.Join(cfg.Paths.DataDir, "logs", "docquill.log")
	}
	logger, logCleanup, err := logging.Setup(logCfg)
	if err != nil {
		return nil, fmt.Errorf("setup logging: %w", err)
	}

	meta, err := store.OpenMetadataStore(filepath.Join(cfg.Paths.DataDir, "metadata.db"))
	if err != nil {
		logCleanup()
		return nil, fmt.Errorf("open metadata store: %w", err)
	}

	return &env{
		cfg:     cfg,
		logger:  logger,
		meta:    meta,
		catalog: store.NewCatalog(meta),
		cleanup: func() {
			_ = meta.Close()
			logCleanup()
		},
	}, nil
}

// newEmbedder builds the configured embedder, falling back to static hashing
// when the remote provider is unreachable.
func (e *env) newEmbedder(ctx context.Context) (embed.Embedder, error) {
	return embed.New(ctx, e.cfg.Embeddings, e.logger)
}

// newAnswerPipeline wires the full ask pipeline from configuration.
func (e *env) newAnswerPipeline(ctx context.Context) (*answer.Pipeline, error) {
	embedder, err := e.newEmbedder(ctx)
	if err != nil {
		return nil, err
	}

	registry := llm.NewRegistry(llm.NewOpenAIProvider(e.cfg.LLM.BaseURL))
	registry.Register(llm.NewOllamaProvider(""))

	invoker := llm.NewInvoker(registry, e.logger,
		llm.WithMiddlewares(llm.DefaultMiddlewares(
			e.cfg.LLM.Retries, e.cfg.LLM.RetryDelay, e.cfg.LLM.BreakerEnabled, e.logger)...),
		llm.WithStreamBuffer(e.cfg.LLM.StreamBufferChars))

	return answer.NewPipeline(
		e.cfg,
		e.catalog,
		e.meta,
		embedder,
		search.NewStrategist(search.DefaultStrategyCacheSize),
		answer.NewReranker(e.cfg.Rerank),
		invoker,
		e.logger,
	), nil
}
