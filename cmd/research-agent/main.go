package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/mikeboe/research-agent/pkg/agents"
	"github.com/mikeboe/research-agent/pkg/clients"
	"github.com/mikeboe/research-agent/pkg/config"
	"github.com/mikeboe/research-agent/pkg/database"
	"github.com/mikeboe/research-agent/pkg/embeddings"
	"github.com/mikeboe/research-agent/pkg/memory"
	"github.com/mikeboe/research-agent/pkg/research"
	"github.com/mikeboe/research-agent/pkg/research/tools"
	"github.com/spf13/cobra"
)

var (
	topic         string
	maxIterations int
	tokenBudget   int
	outputPath    string
)

func main() {
	// Setup structured logging
	handler := slog.NewTextHandler(os.Stdout, nil)
	slog.SetDefault(slog.New(handler))

	// Load .env file
	if err := godotenv.Load(); err != nil {
		// It's okay if .env doesn't exist, as long as env vars are set
	}

	cfg := config.Load()

	rootCmd := &cobra.Command{
		Use:   "research-agent",
		Short: "A terminal-based research agent",
		Long:  `research-agent runs an iterative research loop on a topic: search, compact the gathered context to a token budget, assess coverage, and refine the next query until the findings are sufficient.`,
		Run: func(cmd *cobra.Command, args []string) {

			topicFlagChanged := cmd.Flags().Changed("topic")

			if !topicFlagChanged {
				// Interactive Mode
				reader := bufio.NewReader(os.Stdin)

				fmt.Print("Enter research topic: ")
				input, _ := reader.ReadString('\n')
				topic = strings.TrimSpace(input)
				if topic == "" {
					slog.Error("Topic cannot be empty")
					os.Exit(1)
				}
			} else {
				if topic == "" {
					slog.Error("--topic flag provided but empty")
					os.Exit(1)
				}
			}

			if maxIterations <= 0 {
				maxIterations = cfg.MaxIterations
			}
			if tokenBudget <= 0 {
				tokenBudget = cfg.TokenBudget
			}

			slog.Info("Starting research", "topic", topic, "max_iterations", maxIterations, "token_budget", tokenBudget)

			ctx := context.Background()

			if err := run(ctx, cfg, topic); err != nil {
				slog.Error("Error running research", "error", err)
				os.Exit(1)
			}
		},
	}

	rootCmd.Flags().StringVarP(&topic, "topic", "t", "", "The research topic")
	rootCmd.Flags().IntVarP(&maxIterations, "max-iterations", "i", 0, "Maximum number of search passes")
	rootCmd.Flags().IntVarP(&tokenBudget, "budget", "b", 0, "Token budget for the gathered context")
	rootCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Write the report to a file instead of stdout")

	if err := rootCmd.Execute(); err != nil {
		slog.Error("Command execution failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, topic string) error {
	fastModel, err := clients.GoogleAI(ctx, clients.FastModel, cfg.GoogleApiKey)
	if err != nil {
		return fmt.Errorf("failed to init fast model: %w", err)
	}
	reasoningModel, err := clients.GoogleAI(ctx, clients.ReasoningModel, cfg.GoogleApiKey)
	if err != nil {
		return fmt.Errorf("failed to init reasoning model: %w", err)
	}

	backends := []research.Searcher{tools.NewArxivSearcher(cfg.MaxResults)}
	if web, err := tools.NewWebSearcher(cfg.TavilyApiKey, cfg.MaxResults); err != nil {
		slog.Warn("Web search disabled", "error", err)
	} else {
		backends = append(backends, web)
	}

	runCfg := research.Config{
		MaxIterations: maxIterations,
		TokenBudget:   tokenBudget,
		CallTimeout:   cfg.SearchTimeout,
	}

	planner := agents.NewPlanner(reasoningModel)
	if queries := planner.PlanQueries(ctx, topic); len(queries) > 0 {
		runCfg.InitialQuery = queries[0]
	}

	controller := research.NewController(runCfg,
		tools.NewMultiSearcher(backends...),
		agents.NewGapAnalyzer(fastModel),
		agents.NewQueryRefiner(fastModel))

	result, err := controller.Run(ctx, topic)
	if err != nil {
		return err
	}

	slog.Info("Research finished", "stop_reason", result.StopReason, "iterations", result.Iterations, "sources", len(result.Sources))

	reporter := agents.NewReporter(reasoningModel)
	report, err := reporter.WriteReport(ctx, result)
	if err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	if outputPath != "" {
		if err := os.WriteFile(outputPath, []byte(report), 0o644); err != nil {
			return fmt.Errorf("failed to write report file: %w", err)
		}
		slog.Info("Report written", "path", outputPath)
	} else {
		fmt.Println(report)
	}

	// Store findings for later sessions when a database is reachable.
	if cfg.DatabaseURL != "" {
		if err := storeInMemoryBank(ctx, cfg, result, report); err != nil {
			slog.Warn("Failed to store findings in memory bank", "error", err)
		}
	}

	return nil
}

func storeInMemoryBank(ctx context.Context, cfg *config.Config, result *research.Result, report string) error {
	db, err := database.NewPostgresDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.CreateMemoriesTable(ctx, cfg.MemoryTable, cfg.EmbeddingDimension); err != nil {
		return err
	}

	embedder, err := embeddings.NewGoogleEmbedder(ctx, cfg.EmbeddingModel, cfg.GoogleApiKey, cfg.EmbeddingDimension)
	if err != nil {
		return err
	}
	store, err := memory.NewStore(db.Pool, cfg.MemoryTable)
	if err != nil {
		return err
	}

	bank := memory.NewBank(store, embedder, nil)
	if err := bank.StoreResult(ctx, result); err != nil {
		return err
	}
	return bank.StoreReport(ctx, result.Topic, report)
}
