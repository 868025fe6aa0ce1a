package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"garage/rescue/internal/cache"
	"garage/rescue/internal/config"
	"garage/rescue/internal/database"
	"garage/rescue/internal/events"
	"garage/rescue/internal/store"

	"github.com/go-playground/validator/v10"
	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Server wires configuration, dependencies and HTTP routing together.
type Server struct {
	cfg       config.Config
	log       zerolog.Logger
	repo      Repository
	branches  ActiveBranchSource
	publisher events.Publisher
	validate  *validator.Validate
	authMw    *AuthMiddleware
	checks    map[string]func(context.Context) error
	startedAt time.Time

	pool  *pgxpool.Pool
	redis *redis.Client
}

// Deps are the collaborators a Server needs. Zero values are replaced by pass-through defaults
// where one exists.
type Deps struct {
	Repo      Repository
	Branches  ActiveBranchSource
	Publisher events.Publisher
	Auth      *AuthMiddleware
	Checks    map[string]func(context.Context) error
}

// New connects to Postgres, Redis and Kafka according to cfg and prepares shared dependencies.
func New(ctx context.Context, cfg config.Config, log zerolog.Logger) (*Server, error) {
	pool, err := database.Connect(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	repo := store.New(pool)

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = cache.Connect(ctx, cfg.Redis, log)
		if err != nil {
			log.Warn().Err(err).Msg("redis unavailable, branch snapshot cache disabled")
			redisClient = nil
		}
	}
	branchCache := cache.NewBranchCache(redisClient, repo, cfg.Redis.BranchTTL, log)

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.Kafka.Enabled {
		kp, err := events.NewKafkaPublisher(cfg.Kafka, log)
		if err != nil {
			pool.Close()
			if redisClient != nil {
				_ = redisClient.Close()
			}
			return nil, err
		}
		publisher = kp
	}

	var authMw *AuthMiddleware
	if cfg.Keycloak.Enabled {
		authMw, err = NewAuthMiddleware(ctx, cfg.Keycloak, log)
		if err != nil {
			pool.Close()
			_ = publisher.Close()
			if redisClient != nil {
				_ = redisClient.Close()
			}
			return nil, fmt.Errorf("init auth middleware: %w", err)
		}
	}

	srv := NewWithDeps(cfg, log, Deps{
		Repo:      repo,
		Branches:  branchCache,
		Publisher: publisher,
		Auth:      authMw,
		Checks: map[string]func(context.Context) error{
			"postgres": pool.Ping,
			"redis":    branchCache.Health,
		},
	})
	srv.pool = pool
	srv.redis = redisClient
	return srv, nil
}

// NewWithDeps builds a Server around already constructed collaborators.
func NewWithDeps(cfg config.Config, log zerolog.Logger, deps Deps) *Server {
	branches := deps.Branches
	if branches == nil {
		branches = passThroughBranches{repo: deps.Repo}
	}
	publisher := deps.Publisher
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Server{
		cfg:       cfg,
		log:       log,
		repo:      deps.Repo,
		branches:  branches,
		publisher: publisher,
		validate:  newValidator(),
		authMw:    deps.Auth,
		checks:    deps.Checks,
		startedAt: time.Now().UTC(),
	}
}

// Close releases database, cache and broker resources.
func (s *Server) Close() {
	if s.authMw != nil {
		s.authMw.Close()
	}
	if s.publisher != nil {
		if err := s.publisher.Close(); err != nil {
			s.log.Warn().Err(err).Msg("closing event publisher")
		}
	}
	if s.redis != nil {
		_ = s.redis.Close()
	}
	if s.pool != nil {
		s.pool.Close()
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.routes()
}

// Run starts the HTTP server and blocks until the context is cancelled or an unrecoverable error occurs.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:         s.cfg.HTTP.Address,
		Handler:      s.routes(),
		ReadTimeout:  s.cfg.HTTP.ReadTimeout,
		WriteTimeout: s.cfg.HTTP.WriteTimeout,
		IdleTimeout:  s.cfg.HTTP.IdleTimeout,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			s.log.Error().Err(err).Msg("graceful shutdown failed")
		}
	}()

	s.log.Info().Str("addr", s.cfg.HTTP.Address).Msg("http server listening")
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("latitude", func(fl validator.FieldLevel) bool {
		val, ok := fl.Field().Interface().(float64)
		if !ok {
			return false
		}
		return val >= -90 && val <= 90
	})
	_ = v.RegisterValidation("longitude", func(fl validator.FieldLevel) bool {
		val, ok := fl.Field().Interface().(float64)
		if !ok {
			return false
		}
		return val >= -180 && val <= 180
	})
	return v
}
