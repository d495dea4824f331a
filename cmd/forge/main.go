package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OFFIS-RIT/forge/internal/util"
	"github.com/OFFIS-RIT/forge/pkg/ai"
	oai "github.com/OFFIS-RIT/forge/pkg/ai/ollama"
	gai "github.com/OFFIS-RIT/forge/pkg/ai/openai"
	"github.com/OFFIS-RIT/forge/pkg/chunk"
	"github.com/OFFIS-RIT/forge/pkg/community"
	"github.com/OFFIS-RIT/forge/pkg/extract"
	"github.com/OFFIS-RIT/forge/pkg/graph"
	"github.com/OFFIS-RIT/forge/pkg/index"
	"github.com/OFFIS-RIT/forge/pkg/ingest"
	"github.com/OFFIS-RIT/forge/pkg/logger"
	"github.com/OFFIS-RIT/forge/pkg/logger/console"
	"github.com/OFFIS-RIT/forge/pkg/query"

	"github.com/spf13/cobra"
)

func main() {
	util.LoadEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	debug := util.GetEnvBool("DEBUG", false)
	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug: debug,
	})
	logger.Init(consoleLogger)

	root := &cobra.Command{
		Use:           "forge",
		Short:         "Build and query knowledge graphs from document corpora",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(indexCmd(), queryCmd(), exportCmd())

	if err := root.ExecuteContext(ctx); err != nil {
		logger.Fatal("Command failed", "err", err)
	}
}

// newAIClient builds the completion client from the environment, wrapped in
// a per-call deadline and a concurrency gate so a hung backend cannot stall
// a run and parallel extraction never exceeds the backend's request budget.
func newAIClient() (ai.CompletionClient, error) {
	adapter := util.GetEnvString("AI_ADAPTER", "openai")

	var client ai.CompletionClient
	switch adapter {
	case "ollama":
		c, err := oai.NewOllamaClient(oai.NewOllamaClientParams{
			CompletionModel: util.GetEnv("AI_CHAT_MODEL"),
			ExtractionModel: util.GetEnv("AI_EXTRACT_MODEL"),
			BaseURL:         util.GetEnv("AI_CHAT_URL"),
			ApiKey:          util.GetEnv("AI_CHAT_KEY"),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Ollama client: %w", err)
		}
		client = c
	default:
		client = gai.NewOpenAIClient(gai.NewOpenAIClientParams{
			CompletionModel: util.GetEnv("AI_CHAT_MODEL"),
			ExtractionModel: util.GetEnv("AI_EXTRACT_MODEL"),
			BaseURL:         util.GetEnv("AI_CHAT_URL"),
			ApiKey:          util.GetEnv("AI_CHAT_KEY"),
		})
	}

	timeout := time.Duration(util.GetEnvInt("AI_TIMEOUT", 120)) * time.Second
	return ai.NewGate(ai.NewDeadline(client, timeout), int64(util.GetEnvInt("AI_MAX_CONCURRENCY", 1))), nil
}

func indexCmd() *cobra.Command {
	var (
		maxTokens int
		workers   int
		maxLevels int
	)

	cmd := &cobra.Command{
		Use:   "index <docs> <index-file>",
		Short: "Ingest a corpus directory and write an index snapshot",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			corpusDir, output := args[0], args[1]
			start := time.Now()

			client, err := newAIClient()
			if err != nil {
				return err
			}

			store := graph.NewStore()
			resolver, err := graph.NewResolver(graph.NewResolverParams{
				Store:               store,
				Client:              client,
				SimilarityThreshold: util.GetEnvFloat("FORGE_SIMILARITY", 0),
			})
			if err != nil {
				return err
			}

			pipeline := ingest.NewPipeline(ingest.NewPipelineParams{
				Source: chunk.NewFileSource(chunk.NewFileSourceParams{
					Root:      corpusDir,
					MaxTokens: maxTokens,
				}),
				Extractor: extract.NewExtractor(extract.NewExtractorParams{
					Client: client,
				}),
				Resolver: resolver,
				Workers:  workers,
			})

			stats, err := pipeline.Run(ctx)
			if err != nil {
				return fmt.Errorf("ingestion failed: %w", err)
			}

			engine := community.NewEngine(community.NewEngineParams{
				Store:      store,
				Summarizer: community.NewSummarizer(community.NewSummarizerParams{Client: client}),
				MaxLevels:  maxLevels,
			})
			hierarchy, err := engine.Detect(ctx)
			if err != nil {
				return err
			}

			snapshot := index.Capture(store, pipeline.Chunks(), hierarchy)
			if err := snapshot.Save(output); err != nil {
				return err
			}

			metrics := client.GetMetrics()
			logger.Info(
				"Index written",
				"path", output,
				"entities", len(snapshot.Entities),
				"relationships", len(snapshot.Relationships),
				"communities", len(snapshot.Communities),
				"quarantined", stats.ChunksQuarantined,
				"dropped_relations", stats.RelationsDropped,
				"total_tokens", metrics.TotalTokens,
				"duration", time.Since(start).Round(time.Second).String(),
			)
			return nil
		},
	}

	cmd.Flags().IntVar(&maxTokens, "max-tokens", 512, "maximum tokens per chunk")
	cmd.Flags().IntVar(&workers, "workers", util.GetEnvInt("FORGE_WORKERS", 0), "extraction workers (0 = number of CPUs)")
	cmd.Flags().IntVar(&maxLevels, "max-levels", 4, "maximum community hierarchy depth")
	return cmd
}

func queryCmd() *cobra.Command {
	var modeFlag string

	cmd := &cobra.Command{
		Use:   "query <question> <index-file>",
		Short: "Answer a question against a built index",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			question, snapshotPath := args[0], args[1]

			mode, err := query.ParseMode(modeFlag)
			if err != nil {
				return err
			}

			client, err := newAIClient()
			if err != nil {
				return err
			}

			snapshot, err := index.Load(snapshotPath)
			if err != nil {
				return err
			}
			store, err := snapshot.Restore()
			if err != nil {
				return err
			}

			engine := community.NewEngine(community.NewEngineParams{Store: store})
			if h := snapshot.Hierarchy(); h != nil {
				engine.Restore(h)
			}

			result, err := query.NewEngine(query.NewEngineParams{
				Store:     store,
				Community: engine,
				Chunks:    snapshot.Chunks,
				Client:    client,
			}).Answer(ctx, question, mode)
			if err != nil {
				return err
			}

			fmt.Println(result.Answer)
			if len(result.Citations) > 0 {
				fmt.Println()
				fmt.Println("Sources:")
				for _, c := range result.Citations {
					fmt.Printf("  [%s:%s]\n", c.Kind, c.ID)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&modeFlag, "mode", "m", "hybrid", "retrieval mode: local, global or hybrid")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <index-file> <format> <out-file>",
		Short: "Export the graph of a built index as GraphML or JSON",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			snapshotPath, format, output := args[0], args[1], args[2]

			snapshot, err := index.Load(snapshotPath)
			if err != nil {
				return err
			}

			out := os.Stdout
			if output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("failed to create %s: %w", output, err)
				}
				defer f.Close()
				out = f
			}

			switch format {
			case "graphml":
				return snapshot.ExportGraphML(out)
			case "json":
				return snapshot.ExportJSON(out)
			default:
				return fmt.Errorf("unknown export format %q (want graphml or json)", format)
			}
		},
	}
	return cmd
}
