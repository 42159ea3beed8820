package cli

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"livequiz-service/internal/auth"
	"livequiz-service/internal/broadcast"
	"livequiz-service/internal/config"
	"livequiz-service/internal/domain"
	"livequiz-service/internal/engine"
	"livequiz-service/internal/infra/memory"
	pginfra "livequiz-service/internal/infra/postgres"
	redisinfra "livequiz-service/internal/infra/redis"
	transport "livequiz-service/internal/transport/http"
)

// NewServeCmd builds the CLI subcommand to start the server.
func NewServeCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the live quiz server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}
	baseURL := cfg.Server.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:" + finalPort
	}

	if cfg.Token.Secret == "" {
		return fmt.Errorf("token secret not configured")
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	var pool *pgxpool.Pool
	var bunDB *bun.DB
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
		sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.Postgres.URL)))
		bunDB = bun.NewDB(sqldb, pgdialect.New())
		defer bunDB.Close()
	}

	var loader memory.ExamLoader = memory.NewStaticExamLoader(sampleExams())
	if pool != nil {
		loader = pginfra.NewExamLoader(pool)
	}

	examTTL := config.TTLDuration(cfg.Exam.CacheTTL, 10*time.Minute)
	var exams engine.ExamRepository
	if redisClient != nil {
		exams = redisinfra.NewExamRepository(redisClient, loader, examTTL)
	} else {
		exams = memory.NewExamRepository(loader, examTTL)
	}

	var store engine.SessionStore
	if bunDB != nil {
		store = pginfra.NewSessionStore(bunDB)
	} else {
		store = memory.NewSessionStore()
	}

	tokens := auth.NewTokenManager(
		[]byte(cfg.Token.Secret),
		config.TTLDuration(cfg.Token.PlayerTTL, 6*time.Hour),
		config.TTLDuration(cfg.Token.HostTTL, 12*time.Hour),
	)

	hub := broadcast.NewHub()
	eng := engine.New(store, exams, hub)
	handler := transport.NewHandler(eng, tokens, hub, baseURL)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      handler.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Printf("starting live quiz service on :%s", finalPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Println("shutting down server...")
	case <-ctx.Done():
		log.Println("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// sampleExams seeds the in-memory loader so the server is usable without
// Postgres; production deployments load exams from the exams table.
func sampleExams() map[string]domain.Exam {
	return map[string]domain.Exam{
		"exam-1": {
			ID:                      "exam-1",
			Title:                   "Warmup",
			DefaultTimeLimitSeconds: 30,
			DefaultPoints:           1000,
			Questions: []domain.Question{
				{
					ID:   1,
					Text: "What is 2 + 2?",
					Options: []domain.Option{
						{ID: 11, Label: "A", Text: "3"},
						{ID: 12, Label: "B", Text: "4", Correct: true},
						{ID: 13, Label: "C", Text: "5"},
					},
				},
				{
					ID:               2,
					Text:             "Which planet is closest to the sun?",
					TimeLimitSeconds: 20,
					Points:           500,
					Options: []domain.Option{
						{ID: 21, Label: "A", Text: "Mercury", Correct: true},
						{ID: 22, Label: "B", Text: "Venus"},
					},
				},
			},
		},
	}
}
