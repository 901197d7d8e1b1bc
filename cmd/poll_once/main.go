// poll_once runs a single scan cycle from the CLI and prints the report.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/ypeikes18/kalshi-screener/internal/kalshi"
	"github.com/ypeikes18/kalshi-screener/internal/llm"
	"github.com/ypeikes18/kalshi-screener/internal/logging"
	"github.com/ypeikes18/kalshi-screener/internal/matcher"
	"github.com/ypeikes18/kalshi-screener/internal/poller"
	"github.com/ypeikes18/kalshi-screener/internal/storage"
	"github.com/ypeikes18/kalshi-screener/internal/storage/postgres"
	sqlstore "github.com/ypeikes18/kalshi-screener/internal/storage/sqlite"
)

func main() {
	godotenv.Load()
	logging.InitFromEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	repo := mustOpenRepo(ctx)
	defer repo.Close()

	llmClient, err := llm.New(llm.Config{
		APIKey:  os.Getenv("LLM_API_KEY"),
		BaseURL: os.Getenv("LLM_BASE_URL"),
		Model:   os.Getenv("LLM_MODEL"),
	})
	if err != nil {
		logging.Fatalf("[poll_once] llm client: %v", err)
	}
	m, err := matcher.New(llmClient)
	if err != nil {
		logging.Fatalf("[poll_once] matcher: %v", err)
	}

	runner, err := poller.NewRunner(poller.Config{
		Repo: repo,
		Exchange: kalshi.NewClient(kalshi.Config{
			BaseURL: os.Getenv("KALSHI_API_BASE"),
		}),
		Matcher: m,
		Budget:  time.Duration(envInt("POLL_BUDGET_SECONDS", 90)) * time.Second,
	})
	if err != nil {
		logging.Fatalf("[poll_once] poller: %v", err)
	}

	report := runner.Run(ctx)
	fmt.Printf("%s (events=%d, matched=%d)\n", report.Message, report.EventsChecked, report.Matched)
}

func mustOpenRepo(ctx context.Context) storage.Repository {
	if envString("STORAGE_BACKEND", "sqlite") == "postgres" {
		store, err := postgres.Open(ctx, os.Getenv("DATABASE_URL"))
		if err != nil {
			logging.Fatalf("[poll_once] open postgres: %v", err)
		}
		if err := store.CreateTables(ctx); err != nil {
			logging.Fatalf("[poll_once] postgres schema: %v", err)
		}
		return store
	}
	store, err := sqlstore.Open(os.Getenv("SQLITE_PATH"))
	if err != nil {
		logging.Fatalf("[poll_once] open sqlite: %v", err)
	}
	if err := store.CreateTables(ctx); err != nil {
		logging.Fatalf("[poll_once] sqlite schema: %v", err)
	}
	return store
}

func envInt(key string, def int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}

func envString(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}
