package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ypeikes18/kalshi-screener/internal/cache"
	"github.com/ypeikes18/kalshi-screener/internal/kafka"
	"github.com/ypeikes18/kalshi-screener/internal/kalshi"
	"github.com/ypeikes18/kalshi-screener/internal/llm"
	"github.com/ypeikes18/kalshi-screener/internal/logging"
	"github.com/ypeikes18/kalshi-screener/internal/matcher"
	"github.com/ypeikes18/kalshi-screener/internal/poller"
	"github.com/ypeikes18/kalshi-screener/internal/queue"
	"github.com/ypeikes18/kalshi-screener/internal/server"
	"github.com/ypeikes18/kalshi-screener/internal/storage"
	"github.com/ypeikes18/kalshi-screener/internal/storage/postgres"
	sqlstore "github.com/ypeikes18/kalshi-screener/internal/storage/sqlite"
)

func main() {
	godotenv.Load()
	logging.InitFromEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo := mustOpenRepo(ctx)
	defer repo.Close()

	exchange := kalshi.NewClient(kalshi.Config{
		BaseURL: os.Getenv("KALSHI_API_BASE"),
		Timeout: time.Duration(envInt("KALSHI_TIMEOUT_SECONDS", 8)) * time.Second,
	})

	llmClient, err := llm.New(llm.Config{
		APIKey:      os.Getenv("LLM_API_KEY"),
		BaseURL:     os.Getenv("LLM_BASE_URL"),
		Model:       os.Getenv("LLM_MODEL"),
		Temperature: 0,
		MaxTokens:   envInt("LLM_MAX_TOKENS", 4096),
		Timeout:     time.Duration(envInt("LLM_TIMEOUT_SECONDS", 60)) * time.Second,
	})
	if err != nil {
		logging.Fatalf("[screener] llm client: %v", err)
	}
	m, err := matcher.New(llmClient)
	if err != nil {
		logging.Fatalf("[screener] matcher: %v", err)
	}

	var lock cache.PollLock
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		lock, err = cache.NewRedisPollLock(
			addr,
			os.Getenv("REDIS_PASSWORD"),
			envInt("REDIS_DB", 0),
			os.Getenv("POLL_LOCK_KEY"),
			time.Duration(envInt("POLL_LOCK_TTL_SECONDS", 120))*time.Second,
		)
		if err != nil {
			logging.Fatalf("[screener] redis lock: %v", err)
		}
		defer lock.Close()
	}

	var publisher poller.MatchPublisher
	if brokers := kafka.Brokers(); len(brokers) > 0 {
		topic := kafka.TopicFromEnv("MATCHES_KAFKA_TOPIC", kafka.DefaultMatchTopic)
		writer := kafka.NewWriter(brokers, topic)
		defer writer.Close()
		publisher = queue.NewPublisher(writer)
		logging.Infof("[screener] publishing matches to %s", topic)
	}

	runner, err := poller.NewRunner(poller.Config{
		Repo:         repo,
		Exchange:     exchange,
		Matcher:      m,
		Lock:         lock,
		Publisher:    publisher,
		MaxPages:     envInt("POLL_MAX_PAGES", 10),
		PageSize:     envInt("POLL_PAGE_SIZE", 200),
		BatchSize:    envInt("POLL_BATCH_SIZE", 200),
		PageThrottle: time.Duration(envInt("POLL_PAGE_THROTTLE_MS", 0)) * time.Millisecond,
		Budget:       time.Duration(envInt("POLL_BUDGET_SECONDS", 90)) * time.Second,
	})
	if err != nil {
		logging.Fatalf("[screener] poller: %v", err)
	}

	srv := server.New(repo, runner)
	addr := envString("HTTP_ADDR", ":8080")

	go func() {
		logging.Infof("[screener] listening on %s", addr)
		if err := srv.Start(addr); err != nil {
			logging.Infof("[screener] server stopped: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Errorf("[screener] shutdown: %v", err)
	}
}

func mustOpenRepo(ctx context.Context) storage.Repository {
	switch envString("STORAGE_BACKEND", "sqlite") {
	case "postgres":
		store, err := postgres.Open(ctx, os.Getenv("DATABASE_URL"))
		if err != nil {
			logging.Fatalf("[screener] open postgres: %v", err)
		}
		if err := store.CreateTables(ctx); err != nil {
			logging.Fatalf("[screener] postgres schema: %v", err)
		}
		return store
	case "sqlite":
		store, err := sqlstore.Open(os.Getenv("SQLITE_PATH"))
		if err != nil {
			logging.Fatalf("[screener] open sqlite: %v", err)
		}
		if err := store.CreateTables(ctx); err != nil {
			logging.Fatalf("[screener] sqlite schema: %v", err)
		}
		return store
	default:
		logging.Fatalf("[screener] unknown STORAGE_BACKEND %q", os.Getenv("STORAGE_BACKEND"))
		return nil
	}
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
