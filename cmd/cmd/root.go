/*
Copyright © 2025 Your Name

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"newsroom/internal/articlestore"
	"newsroom/internal/cache"
	"newsroom/internal/cards"
	"newsroom/internal/config"
	"newsroom/internal/core"
	"newsroom/internal/dialogue"
	"newsroom/internal/indexer"
	"newsroom/internal/llm"
	"newsroom/internal/logger"
	"newsroom/internal/memory"
	"newsroom/internal/migrate"
	"newsroom/internal/newssearch"
	"newsroom/internal/pipeline"
	"newsroom/internal/ratelimit"
	"newsroom/internal/retrieval"
	"newsroom/internal/runstore"
	"newsroom/internal/sentiment"
	"newsroom/internal/server"
	"newsroom/internal/tokenizer"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "newsroom",
	Short: "newsroom ingests, indexes, and converses about news for a user's interests.",
	Long: `newsroom runs a news-digest pipeline: it searches for articles on a topic,
stores and indexes them, scores sentiment, synthesizes ranked cards, folds the
run into each user's long-running interest profile, and serves an HTTP API
for running pipelines and holding grounded conversations over what it found.`,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main(). It only needs to happen
// once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./newsroom.yaml)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(pipelineCmd)
	pipelineCmd.AddCommand(pipelineRunCmd)
}

var loadedConfig *config.Config

// initConfig loads configuration once per invocation, ahead of any
// subcommand's RunE.
func initConfig() {
	cfg, err := config.Load(cfgFile)
	cobra.CheckErr(err)
	loadedConfig = cfg
	logger.SetLevel(cfg.Logging.Level)
	logger.Init()
}

// system bundles every constructed component a subcommand might need, built
// once from config so `serve` and `pipeline run` share identical wiring.
type system struct {
	cfg *config.Config
	db  *sql.DB

	search    *newssearch.Adapter
	store     *articlestore.Store
	index     *indexer.Indexer
	llmClient *llm.Client
	sentiment *sentiment.Scorer
	cards     *cards.Synthesizer
	mem       *memory.Store
	retrieve  *retrieval.Engine
	orch      *pipeline.Orchestrator
	dlg       *dialogue.Manager
	runs      *runstore.Store
}

// buildSystem opens the database, runs pending migrations, and wires every
// C1-C10 component against the loaded configuration (spec §6 wiring table).
func buildSystem(ctx context.Context) (*system, error) {
	cfg := loadedConfig
	log := logger.Get()

	db, err := sql.Open("postgres", cfg.Database.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(orDefault(cfg.Database.MaxConnections, 20))
	db.SetMaxIdleConns(orDefault(cfg.Database.IdleConnections, 5))

	if err := migrate.NewManager(db).Migrate(ctx); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	respCache, err := cache.New(cfg.Cache.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("connecting to cache: %w", err)
	}
	if err := respCache.Ping(ctx); err != nil {
		log.Warn("cache unreachable, continuing without it", "error", err.Error())
		respCache, _ = cache.New("")
	}

	store, err := articlestore.Open(cfg.Database.ConnectionString, cfg.Database.MaxConnections, cfg.Database.IdleConnections)
	if err != nil {
		return nil, fmt.Errorf("opening article store: %w", err)
	}

	limiter := ratelimit.NewLimiter(float64(cfg.AI.Concurrency), cfg.AI.Concurrency)
	sems := ratelimit.NewProviderSemaphores(nil)
	llmClient, err := llm.NewClient(ctx, llm.Options{
		APIKey:              cfg.AI.APIKey,
		Model:               cfg.AI.Model,
		EmbeddingModel:      cfg.AI.EmbeddingModel,
		EmbeddingDimension:  int32(cfg.AI.EmbeddingDimension),
		ContextWindowTokens: cfg.Dialogue.ContextWindowTokens,
		TokenizerEncoding:   cfg.AI.TokenizerEncoding,
		Limiter:             limiter,
		Semaphores:          sems,
	})
	if err != nil {
		return nil, fmt.Errorf("building llm client: %w", err)
	}

	tok, err := tokenizer.New(cfg.AI.TokenizerEncoding)
	if err != nil {
		return nil, fmt.Errorf("building tokenizer: %w", err)
	}

	idx := indexer.New(db, llmClient, tok)
	scorer := sentiment.NewScorer()
	synth := cards.New(llmClient, cards.Options{Temperature: cfg.AI.Temperature, MaxTokens: cfg.AI.MaxTokens})
	mem := memory.Open(db, llmClient, memory.Options{HalfLifeDays: cfg.Memory.HalfLifeDays, ActionWeights: convertActionWeights(cfg.Memory.ActionWeights)})

	searchFactory := newssearch.NewFactory(respCache, cfg.Cache.ResponseTTL)
	provider, err := searchFactory.Create(newssearch.ProviderType(cfg.Search.DefaultProvider), map[string]string{"api_key": cfg.Search.APIKey})
	if err != nil {
		return nil, fmt.Errorf("building search provider: %w", err)
	}
	searchLimiter := ratelimit.NewLimiter(cfg.Search.RequestsPerSecond, cfg.Search.Burst)
	searchSems := ratelimit.NewProviderSemaphores(map[string]int{provider.Name(): cfg.Search.Concurrency})
	search := newssearch.NewAdapter(provider, searchLimiter, searchSems)

	retrieve := retrieval.New(llmClient, idx, store)

	runs := runstore.New(db, 0)

	orch := pipeline.New(search, store, idx, llmClient, scorer, synth, mem, pipeline.Config{
		Deadline: secondsToDuration(cfg.Pipeline.DeadlineSeconds),
	})

	dlg := dialogue.New(db, retrieve, llmClient, mem, runs, tok, dialogue.Options{
		TurnDeadline:        secondsToDuration(cfg.Dialogue.TurnDeadlineSeconds),
		DefaultContextNews:  cfg.Dialogue.DefaultContextNews,
		MaxContextNews:      cfg.Dialogue.MaxContextNews,
		Temperature:         cfg.Dialogue.Temperature,
		MaxTokens:           cfg.Dialogue.MaxTokens,
		HistoryCap:          cfg.Dialogue.HistoryCap,
		ContextWindowTokens: cfg.Dialogue.ContextWindowTokens,
		RetrievalFloor:      cfg.Dialogue.RetrievalFloor,
	}, respCache, cfg.Cache.SessionTTL)

	return &system{
		cfg: cfg, db: db,
		search: search, store: store, index: idx, llmClient: llmClient,
		sentiment: scorer, cards: synth, mem: mem, retrieve: retrieve,
		orch: orch, dlg: dlg, runs: runs,
	}, nil
}

func (s *system) Close() {
	if s.db != nil {
		_ = s.db.Close()
	}
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API (pipeline runs, chat, user memory).",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		sys, err := buildSystem(ctx)
		if err != nil {
			return err
		}
		defer sys.Close()

		srv := server.New(sys.db, sys.cfg.Server, logger.Get(), sys.orch, sys.dlg, sys.mem, sys.runs)
		go func() {
			ticker := time.NewTicker(time.Hour)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if _, err := sys.runs.EvictExpired(ctx); err != nil {
						logger.Get().Warn("evicting expired pipeline runs failed", "error", err.Error())
					}
				}
			}
		}()
		return srv.Start(ctx)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations and exit.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		db, err := sql.Open("postgres", loadedConfig.Database.ConnectionString)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer func() { _ = db.Close() }()
		return migrate.NewManager(db).Migrate(ctx)
	},
}

var pipelineCmd = &cobra.Command{
	Use:   "pipeline",
	Short: "Run pipeline operations directly from the CLI.",
}

var (
	pipelineUserID   string
	pipelineQuick    bool
	pipelineNumItems int
)

var pipelineRunCmd = &cobra.Command{
	Use:   "run [query]",
	Short: "Run one ad-hoc pipeline pass for a query and print the resulting cards.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		sys, err := buildSystem(ctx)
		if err != nil {
			return err
		}
		defer sys.Close()

		query := args[0]
		if pipelineUserID == "" {
			return fmt.Errorf("--user is required")
		}

		var req core.PipelineRequest
		if pipelineQuick {
			req = core.QuickPipelineRequest(query, pipelineUserID)
		} else {
			req = core.DefaultPipelineRequest(query, pipelineUserID)
		}
		if pipelineNumItems > 0 {
			req.NumResults = pipelineNumItems
		}

		run, err := sys.orch.Run(ctx, req)
		if err != nil {
			return err
		}
		_ = sys.runs.Save(ctx, run)

		fmt.Printf("run %s: status=%s found=%d stored=%d indexed=%d cards=%d\n",
			run.ID, run.Status, run.Found, run.Stored, run.Indexed, len(run.Cards))
		for _, c := range run.Cards {
			fmt.Printf("  - %s\n", c.Headline)
		}
		return nil
	},
}

func init() {
	pipelineRunCmd.Flags().StringVar(&pipelineUserID, "user", "", "user id the run is performed for")
	pipelineRunCmd.Flags().BoolVar(&pipelineQuick, "quick", false, "use the search+card-only shape instead of the full pipeline")
	pipelineRunCmd.Flags().IntVar(&pipelineNumItems, "num-results", 0, "override the default number of search results (10)")
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func secondsToDuration(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}

func convertActionWeights(in map[string]float64) map[core.InteractionAction]float64 {
	if in == nil {
		return nil
	}
	out := make(map[core.InteractionAction]float64, len(in))
	for k, v := range in {
		out[core.InteractionAction(k)] = v
	}
	return out
}
