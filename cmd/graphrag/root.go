package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/smallnest/graphrag/config"
	"github.com/smallnest/graphrag/rag"
	"github.com/smallnest/graphrag/rag/loader"
	"github.com/smallnest/graphrag/rag/store"
	"github.com/smallnest/graphrag/server"
)

// newRootCmd builds the command tree. Each invocation gets fresh flag state.
func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "graphrag",
		Short:         "GraphRAG knowledge base: vector search, graph context and LLM answers",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")

	// withApp loads the configuration and runs fn with a ready app.
	withApp := func(fn func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() {
				if err := a.close(); err != nil {
					a.logger.Warn("shutdown: %v", err)
				}
			}()
			return fn(ctx, cmd, a, args)
		}
	}

	root.AddCommand(
		newServeCmd(withApp),
		newInitSchemaCmd(withApp),
		newHealthCmd(withApp),
		newStatsCmd(withApp),
		newCheckDimCmd(withApp),
		newIngestCmd(withApp),
		newQueryCmd(withApp),
		newDeleteCmd(withApp),
		newClearCmd(withApp),
	)
	return root
}

type runner func(fn func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error

func newServeCmd(withApp runner) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
			if err := a.engine.Initialize(ctx); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			srv := server.New(a.engine, server.Options{
				EmbeddingModel: a.cfg.EmbeddingModel,
				LLMModel:       a.cfg.LLMModel,
				Logger:         a.logger,
			})
			return srv.ListenAndServe(ctx, a.cfg.HTTPAddr)
		}),
	}
}

func newInitSchemaCmd(withApp runner) *cobra.Command {
	var wait int
	cmd := &cobra.Command{
		Use:   "init-schema",
		Short: "Create the extensions, tables, indexes and graph",
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
			if err := store.WaitForDatabase(ctx, a.vectors, wait, 2*time.Second, a.logger); err != nil {
				return err
			}
			if err := a.initSchema(ctx); err != nil {
				return err
			}
			cmd.Println(okStyle.Render("schema ready"))
			return nil
		}),
	}
	cmd.Flags().IntVar(&wait, "wait", 1, "number of connection attempts, two seconds apart")
	return cmd
}

func newHealthCmd(withApp runner) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the database and the LLM backend",
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
			var db, llm bool
			var models []string
			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				db = a.engine.CheckDatabase(gctx)
				return nil
			})
			g.Go(func() error {
				var err error
				models, err = a.engine.Models(gctx)
				llm = err == nil
				return nil
			})
			_ = g.Wait()

			cmd.Println(titleStyle.Render("GraphRAG health"))
			cmd.Println(row("database", status(db)))
			cmd.Println(row("llm", status(llm)))
			cmd.Println(row("graph", a.engine.HasGraph()))
			cmd.Println(row("embedding model", a.cfg.EmbeddingModel))
			cmd.Println(row("llm model", a.cfg.LLMModel))
			if len(models) > 0 {
				cmd.Println(row("loaded models", strings.Join(models, ", ")))
			}
			if !db || !llm {
				return errors.New("degraded")
			}
			return nil
		}),
	}
}

func newStatsCmd(withApp runner) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show document statistics",
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
			stats, err := a.engine.Stats(ctx)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd, stats)
			}
			cmd.Println(titleStyle.Render("Documents"))
			cmd.Println(row("total documents", stats.TotalDocuments))
			cmd.Println(row("with embeddings", stats.DocumentsWithEmbeddings))
			cmd.Println(row("unique sources", stats.UniqueSources))
			cmd.Println(row("first document", stats.FirstDocumentDate))
			cmd.Println(row("last document", stats.LastDocumentDate))
			return nil
		}),
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

func newCheckDimCmd(withApp runner) *cobra.Command {
	var text string
	cmd := &cobra.Command{
		Use:   "check-dim",
		Short: "Compare the embedding model's vector width with EMBEDDING_DIMENSIONS",
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
			got, err := rag.MeasureDimension(ctx, a.embedder, text)
			if err != nil {
				return err
			}
			cmd.Println(row("embedding model", a.cfg.EmbeddingModel))
			cmd.Println(row("configured dimension", a.cfg.EmbeddingDimensions))
			cmd.Println(row("measured dimension", got))
			if got != a.cfg.EmbeddingDimensions {
				cmd.Println(failStyle.Render(fmt.Sprintf("set EMBEDDING_DIMENSIONS=%d and recreate the documents table", got)))
				return fmt.Errorf("%w: configured %d, model returns %d", rag.ErrDimensionMismatch, a.cfg.EmbeddingDimensions, got)
			}
			cmd.Println(okStyle.Render("dimensions match"))
			return nil
		}),
	}
	cmd.Flags().StringVar(&text, "text", "dimension probe", "text to embed")
	return cmd
}

func newIngestCmd(withApp runner) *cobra.Command {
	var source, file string
	cmd := &cobra.Command{
		Use:   "ingest [text]",
		Short: "Add a document to the knowledge base",
		Args:  cobra.ArbitraryArgs,
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
			content := strings.Join(args, " ")
			metadata := map[string]any{}
			if source != "" {
				metadata["source"] = source
			}
			if file != "" {
				doc, err := loader.NewTextLoader(file, loader.WithSource(source)).Load(ctx)
				if err != nil {
					return err
				}
				content, metadata = doc.Content, doc.Metadata
			}

			id, err := a.engine.Ingest(ctx, content, metadata)
			if err != nil {
				return err
			}
			cmd.Println(okStyle.Render(fmt.Sprintf("document %d ingested", id)))
			return nil
		}),
	}
	cmd.Flags().StringVar(&source, "source", "", "source recorded in the metadata")
	cmd.Flags().StringVarP(&file, "file", "f", "", "read the document from a file")
	return cmd
}

func newQueryCmd(withApp runner) *cobra.Command {
	var (
		topK      int
		threshold float64
		noGraph   bool
		asJSON    bool
	)
	cmd := &cobra.Command{
		Use:   "query [question]",
		Short: "Ask the knowledge base a question",
		Args:  cobra.MinimumNArgs(1),
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
			result, err := a.engine.Query(ctx, rag.QueryRequest{
				Question:            strings.Join(args, " "),
				TopK:                topK,
				UseGraph:            !noGraph,
				SimilarityThreshold: threshold,
			})
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd, result)
			}

			cmd.Println(result.Answer)
			if len(result.Sources) > 0 {
				cmd.Println()
				cmd.Println(titleStyle.Render("Sources"))
			}
			for i, s := range result.Sources {
				cmd.Printf("  [%d] #%d %s (%s)\n", i+1, s.ID, rag.SourceOf(s.Metadata), rag.Percent(s.Similarity))
			}
			if gc := result.GraphContext; gc != nil {
				cmd.Println(mutedStyle.Render(fmt.Sprintf("graph: %d related nodes", gc.NodesFound)))
			}
			return nil
		}),
	}
	cmd.Flags().IntVarP(&topK, "top-k", "k", 5, "number of documents to retrieve")
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "minimum cosine similarity")
	cmd.Flags().BoolVar(&noGraph, "no-graph", false, "skip graph context")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

func newDeleteCmd(withApp runner) *cobra.Command {
	return &cobra.Command{
		Use:   "delete [id]",
		Short: "Delete a document",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return &rag.ValidationError{Field: "id", Reason: "must be an integer"}
			}
			if err := a.engine.DeleteDocument(ctx, id); err != nil {
				return err
			}
			cmd.Println(okStyle.Render(fmt.Sprintf("document %d deleted", id)))
			return nil
		}),
	}
}

func newClearCmd(withApp runner) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every document and graph node",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("refusing to clear the knowledge base without --yes")
			}
			return nil
		},
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
			n, err := a.engine.Clear(ctx)
			if err != nil {
				return err
			}
			cmd.Println(okStyle.Render(fmt.Sprintf("%d documents removed", n)))
			return nil
		}),
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm removing everything")
	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	cmd.Println(string(data))
	return nil
}

func fmtValue(v any) string {
	switch t := v.(type) {
	case *time.Time:
		if t == nil {
			return "-"
		}
		return t.Format(time.RFC3339)
	case bool:
		if t {
			return "enabled"
		}
		return "disabled"
	}
	return fmt.Sprint(v)
}
