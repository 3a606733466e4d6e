package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vedran77/pulsecore/internal/config"
	"github.com/vedran77/pulsecore/internal/database"
	"github.com/vedran77/pulsecore/internal/identity"
	"github.com/vedran77/pulsecore/internal/log"
	"github.com/vedran77/pulsecore/internal/pubsub"
	"github.com/vedran77/pulsecore/internal/repository"
	"github.com/vedran77/pulsecore/internal/repository/memory"
	postgresrepo "github.com/vedran77/pulsecore/internal/repository/postgres"
	"github.com/vedran77/pulsecore/internal/service"
	"github.com/vedran77/pulsecore/internal/storage"
	"github.com/vedran77/pulsecore/internal/transport/http/handlers"
	"github.com/vedran77/pulsecore/internal/transport/http/middleware"
	"github.com/vedran77/pulsecore/internal/transport/ws"
	"golang.org/x/sync/errgroup"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log.Init(log.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty, Service: "pulse-core"})

	if err := run(cfg); err != nil {
		log.L().Fatal().Err(err).Msg("server stopped")
	}
}

type repositories struct {
	profiles  repository.ProfileRepository
	channels  repository.ChannelRepository
	messages  repository.MessageRepository
	reactions repository.ReactionRepository
	ping      func(context.Context) error
	close     func()
}

func openRepositories(ctx context.Context, cfg config.DatabaseConfig) (*repositories, error) {
	if cfg.Driver == "memory" {
		log.L().Warn().Msg("using in-memory storage; data is lost on restart")
		store := memory.New()
		return &repositories{
			profiles:  store.Profiles,
			channels:  store.Channels,
			messages:  store.Messages,
			reactions: store.Reactions,
			ping:      func(context.Context) error { return nil },
			close:     func() {},
		}, nil
	}

	pool, err := database.Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	log.L().Info().Str("host", cfg.Host).Str("database", cfg.Name).Msg("connected to database")

	applied, err := database.Migrate(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	for _, name := range applied {
		log.L().Info().Str("migration", name).Msg("applied migration")
	}

	return &repositories{
		profiles:  postgresrepo.NewProfileRepo(pool),
		channels:  postgresrepo.NewChannelRepo(pool),
		messages:  postgresrepo.NewMessageRepo(pool),
		reactions: postgresrepo.NewReactionRepo(pool),
		ping:      pool.Ping,
		close:     pool.Close,
	}, nil
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Database
	repos, err := openRepositories(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer repos.close()

	// Object storage
	var objects service.ObjectStore
	if cfg.Attachments.Driver == "s3" {
		s3Store, err := storage.NewS3Store(ctx, cfg.Attachments.S3)
		if err != nil {
			return err
		}
		objects = s3Store
	}

	// Event bus
	bus, err := pubsub.New(ctx, cfg.Realtime)
	if err != nil {
		return err
	}
	defer bus.Close()

	// Services
	guard := service.NewGuard(repos.channels, cfg.Messages.DeleteWindow)
	messageService := service.NewMessageService(repos.messages, repos.channels, guard, service.MessageOptions{
		ThreadDeletePolicy: repository.ReplyPolicy(cfg.Messages.ThreadDeletePolicy),
		PageSize:           cfg.Messages.PageSize,
		MaxPageSize:        cfg.Messages.MaxPageSize,
	})
	reactionService := service.NewReactionService(repos.reactions, repos.messages, guard)
	typingService := service.NewTypingService(guard, cfg.Typing.TTL)
	channelService := service.NewChannelService(repos.channels, guard)
	channelService.SetTyping(typingService)
	profileService := service.NewProfileService(repos.profiles, guard)
	attachmentService := service.NewAttachmentService(objects, cfg.Attachments.MaxSize)
	subscriptionService := service.NewSubscriptionService(repos.channels, repos.messages, guard)

	// Realtime
	hub := ws.NewHub(cfg.Realtime.Shards, cfg.Realtime.GapTimeout)
	notifier := ws.NewHubNotifier(bus, hub)
	messageService.SetNotifier(notifier)
	reactionService.SetNotifier(notifier)
	typingService.SetNotifier(notifier)
	channelService.SetNotifier(notifier)
	profileService.SetNotifier(notifier, repos.channels)

	verifier := identity.NewVerifier(cfg.Auth.JWTSecret, repos.profiles)
	auth := middleware.Auth(verifier)

	// Routes
	mux := http.NewServeMux()

	// Public
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		pingCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := repos.ping(pingCtx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status": "degraded"}`))
			return
		}
		w.Write([]byte(`{"status": "ok"}`))
	})
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.Handle("GET /ws", ws.ServeWS(hub, verifier, subscriptionService, typingService, cfg.WebSocket))

	// Protected
	handlers.Register(mux, auth, handlers.Set{
		Channels:    handlers.NewChannelHandler(channelService),
		Messages:    handlers.NewMessageHandler(messageService),
		Reactions:   handlers.NewReactionHandler(reactionService),
		Typing:      handlers.NewTypingHandler(typingService),
		Profiles:    handlers.NewProfileHandler(profileService),
		Attachments: handlers.NewAttachmentHandler(attachmentService, cfg.Attachments.MaxSize),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           log.HTTPMiddleware(*log.L())(middleware.CORS(mux)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return hub.Run(ctx, bus)
	})
	g.Go(func() error {
		return typingService.Run(ctx, cfg.Typing.SweepInterval)
	})
	g.Go(func() error {
		log.L().Info().Str("addr", srv.Addr).Str("realtime", cfg.Realtime.Driver).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.L().Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
