package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"live-session-service/internal/app"
	"live-session-service/internal/config"
	"live-session-service/internal/domain"
	"live-session-service/internal/infra/memory"
	"live-session-service/internal/infra/postgres"
	redisstore "live-session-service/internal/infra/redis"
	"live-session-service/internal/recovery"
	transport "live-session-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the session server",
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
	log := newLogger(cfg)

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg, log); err != nil {
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

	deps := app.Deps{
		Capacity: app.StaticCapacity{
			Default:         cfg.Session.ParticipantCap,
			PerOrganization: cfg.Session.OrganizationCaps,
		},
		Logger: log,
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
	}

	var loader memory.QuizLoader = memory.NewStaticQuizLoader(sampleQuizzes())
	if cfg.Postgres.URL != "" {
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
		loader = postgres.NewQuizLoader(pool)

		db := openBun(cfg.Postgres.URL)
		defer db.Close()
		deps.Archive = postgres.NewResultArchive(db)
	} else {
		deps.Archive = memory.NewResultArchive()
	}

	quizTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)
	docTTL := config.TTLDuration(cfg.Redis.TTL, 24*time.Hour)
	if redisClient != nil {
		deps.Quizzes = redisstore.NewQuizRepository(redisClient, loader, quizTTL, log)
		deps.Store = redisstore.NewSessionStore(redisClient, docTTL)
		deps.Recoveries = redisstore.NewRecoveryStore(redisClient)
	} else {
		deps.Quizzes = memory.NewQuizRepository(loader, quizTTL)
		deps.Store = memory.NewSessionStore()
		deps.Recoveries = memory.NewRecoveryStore()
		log.Warn("redis not configured, sessions live in process memory")
	}

	secret := cfg.Recovery.Secret
	if secret == "" {
		secret = uuid.NewString()
		log.Warn("recovery secret not configured, tokens will not survive a restart")
	}
	deps.Tokens = recovery.NewCodec(secret, config.TTLDuration(cfg.Recovery.Validity, recovery.DefaultValidity))

	service := app.NewSessionService(deps, app.Options{
		Countdown:          config.TTLDuration(cfg.Session.Countdown, 0),
		CompletionDebounce: config.TTLDuration(cfg.Session.CompletionDebounce, 0),
		Tick:               config.TTLDuration(cfg.Session.Tick, 0),
	})
	defer service.Close()

	server := &http.Server{
		Addr:              ":" + finalPort,
		Handler:           transport.NewRouter(service, log, transport.RouterConfig{AllowedOrigins: cfg.Server.AllowedOrigins}),
		ReadHeaderTimeout: 15 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("starting session service", "port", finalPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	select {
	case sig := <-stop:
		log.Info("shutting down server", "signal", sig.String())
	case <-ctx.Done():
		log.Info("context canceled, shutting down server")
	case err := <-serveErr:
		log.Error("server failed", "error", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// sampleQuizzes backs the static loader when no Postgres quiz store is configured.
func sampleQuizzes() map[string]domain.Quiz {
	return map[string]domain.Quiz{
		"quiz-1": {
			ID:             "quiz-1",
			OrganizationID: "demo",
			Title:          "Warm-up",
			PassMark:       50,
			Questions: []domain.Question{
				{
					ID:     "q1",
					Prompt: "What is 2 + 2?",
					Options: []domain.Option{
						{ID: "o1", Text: "3"},
						{ID: "o2", Text: "4"},
						{ID: "o3", Text: "5"},
					},
					CorrectAnswer: 1,
					TimeLimit:     20,
				},
				{
					ID:     "q2",
					Prompt: "Which HTTP status means Gone?",
					Options: []domain.Option{
						{ID: "o1", Text: "404"},
						{ID: "o2", Text: "409"},
						{ID: "o3", Text: "410"},
					},
					CorrectAnswer: 2,
					TimeLimit:     20,
				},
			},
		},
	}
}
