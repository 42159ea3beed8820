package integration

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"

	"livequiz-service/internal/broadcast"
	"livequiz-service/internal/domain"
	"livequiz-service/internal/engine"
	"livequiz-service/internal/infra/memory"
	pginfra "livequiz-service/internal/infra/postgres"
	pgmigrations "livequiz-service/internal/infra/postgres/migrations"
	redisinfra "livequiz-service/internal/infra/redis"
)

func TestLiveSessionEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	db := openBun(t, pgURL)
	defer db.Close()
	migrateAndSeed(t, ctx, db, sampleExam())

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}

	exams := redisinfra.NewExamRepository(redisClient, pginfra.NewExamLoader(pool), 5*time.Minute)
	store := pginfra.NewSessionStore(db)
	hub := broadcast.NewHub()
	eng := engine.New(store, exams, hub)

	session, err := eng.CreateSession(ctx, "exam-1")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	pin := session.Pin

	alice, err := eng.Join(ctx, pin, "Alice", "avatar_1", "device-a")
	if err != nil {
		t.Fatalf("join alice: %v", err)
	}
	bob, err := eng.Join(ctx, pin, "Bob", "avatar_2", "device-b")
	if err != nil {
		t.Fatalf("join bob: %v", err)
	}

	if _, err := eng.Start(ctx, pin); err != nil {
		t.Fatalf("start: %v", err)
	}

	// Alice answers correctly at once, Bob picks a wrong option late.
	aliceRes, err := eng.SubmitAnswer(ctx, pin, alice.ID, "device-a", domain.AnswerSubmission{
		QuestionID: 1, OptionID: 12, AnswerMs: 0,
	})
	if err != nil {
		t.Fatalf("alice submit: %v", err)
	}
	if !aliceRes.Correct || aliceRes.AwardedPoints != 1500 {
		t.Fatalf("expected instant correct answer worth 1500, got %+v", aliceRes)
	}

	bobRes, err := eng.SubmitAnswer(ctx, pin, bob.ID, "device-b", domain.AnswerSubmission{
		QuestionID: 1, OptionID: 11, AnswerMs: 14000,
	})
	if err != nil {
		t.Fatalf("bob submit: %v", err)
	}
	if bobRes.Correct || bobRes.AwardedPoints != 0 {
		t.Fatalf("expected wrong answer worth 0, got %+v", bobRes)
	}

	// A retry of an already-answered question replays the stored result.
	retry, err := eng.SubmitAnswer(ctx, pin, alice.ID, "device-a", domain.AnswerSubmission{
		QuestionID: 1, OptionID: 11, AnswerMs: 9000,
	})
	if err != nil {
		t.Fatalf("alice retry: %v", err)
	}
	if !retry.Correct || retry.TotalScore != aliceRes.TotalScore {
		t.Fatalf("expected replayed result, got %+v", retry)
	}

	updates, cancel := hub.Subscribe(pin, broadcast.Play)
	defer cancel()

	if _, err := eng.Reveal(ctx, pin); err != nil {
		t.Fatalf("reveal: %v", err)
	}
	reveal := waitForEvent(t, updates, domain.KindReveal).(domain.RevealEvent)
	if len(reveal.CorrectOptionIDs) != 1 || reveal.CorrectOptionIDs[0] != 12 {
		t.Fatalf("expected correct option 12, got %v", reveal.CorrectOptionIDs)
	}
	if len(reveal.Top) == 0 || reveal.Top[0].Nickname != "Alice" {
		t.Fatalf("expected Alice leading, got %+v", reveal.Top)
	}

	// Reconnect path: the persisted state still carries the reveal payload.
	view, err := eng.State(ctx, pin)
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if view.State != domain.StateReveal {
		t.Fatalf("expected reveal state, got %s", view.State)
	}
	if len(view.CorrectOptionIDs) != 1 {
		t.Fatalf("expected correct ids in reveal view, got %+v", view.CorrectOptionIDs)
	}

	if _, err := eng.Advance(ctx, pin); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if _, err := eng.Reveal(ctx, pin); err != nil {
		t.Fatalf("second reveal: %v", err)
	}

	if _, err := eng.Finish(ctx, pin); err != nil {
		t.Fatalf("finish: %v", err)
	}
	finished := waitForEvent(t, updates, domain.KindFinished).(domain.FinishedEvent)
	if len(finished.Top) != 2 || finished.Top[0].Nickname != "Alice" || finished.Top[0].Score != 1500 {
		t.Fatalf("unexpected final leaderboard: %+v", finished.Top)
	}
}

func TestRejoinKeepsParticipantIdentity(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()

	db := openBun(t, pgURL)
	defer db.Close()
	migrateAndSeed(t, ctx, db, sampleExam())

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	exams := memory.NewExamRepository(pginfra.NewExamLoader(pool), 5*time.Minute)
	store := pginfra.NewSessionStore(db)
	hub := broadcast.NewHub()
	eng := engine.New(store, exams, hub)

	session, err := eng.CreateSession(ctx, "exam-1")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	first, err := eng.Join(ctx, session.Pin, "Alice", "avatar_1", "device-a")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	second, err := eng.Join(ctx, session.Pin, "Alicia", "avatar_5", "device-a")
	if err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("rejoin created a new participant: %d vs %d", second.ID, first.ID)
	}
	if second.Nickname != "Alicia" || second.AvatarKey != "avatar_5" {
		t.Fatalf("rejoin should update profile, got %+v", second)
	}

	roster, err := eng.LobbyState(ctx, session.Pin)
	if err != nil {
		t.Fatalf("lobby state: %v", err)
	}
	if roster.Count != 1 {
		t.Fatalf("expected one participant after rejoin, got %d", roster.Count)
	}
}

func waitForEvent(t *testing.T, updates <-chan domain.Event, kind string) domain.Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-updates:
			if !ok {
				t.Fatalf("updates channel closed waiting for %s", kind)
			}
			if ev.EventKind() == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", kind)
		}
	}
}

func openBun(t *testing.T, dsn string) *bun.DB {
	t.Helper()
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	return bun.NewDB(sqldb, pgdialect.New())
}

func migrateAndSeed(t *testing.T, ctx context.Context, db *bun.DB, exam domain.Exam) {
	t.Helper()
	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	data, err := json.Marshal(exam)
	if err != nil {
		t.Fatalf("marshal exam: %v", err)
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO exams (id, data) VALUES (?, ?::jsonb) ON CONFLICT (id) DO UPDATE SET data=EXCLUDED.data`, exam.ID, string(data)); err != nil {
		t.Fatalf("insert exam: %v", err)
	}
}

func sampleExam() domain.Exam {
	return domain.Exam{
		ID:                      "exam-1",
		Title:                   "General Knowledge",
		DefaultTimeLimitSeconds: 15,
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
				Text:             "Capital of France?",
				TimeLimitSeconds: 20,
				Points:           500,
				Options: []domain.Option{
					{ID: 21, Label: "A", Text: "Paris", Correct: true},
					{ID: 22, Label: "B", Text: "Lyon"},
				},
			},
		},
	}
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "quiz", "POSTGRES_PASSWORD": "quizpass", "POSTGRES_DB": "quizdb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://quiz:quizpass@%s:%s/quizdb?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
