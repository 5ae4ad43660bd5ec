package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/limiter"
	"github.com/gofiber/fiber/v3/middleware/requestid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/netsblox/cloud/internal/api"
	"github.com/netsblox/cloud/internal/auth"
	"github.com/netsblox/cloud/internal/blob"
	"github.com/netsblox/cloud/internal/config"
	"github.com/netsblox/cloud/internal/email"
	"github.com/netsblox/cloud/internal/filter"
	"github.com/netsblox/cloud/internal/friend"
	"github.com/netsblox/cloud/internal/group"
	"github.com/netsblox/cloud/internal/httputil"
	"github.com/netsblox/cloud/internal/invite"
	"github.com/netsblox/cloud/internal/library"
	"github.com/netsblox/cloud/internal/metrics"
	"github.com/netsblox/cloud/internal/mongodb"
	"github.com/netsblox/cloud/internal/network"
	"github.com/netsblox/cloud/internal/project"
	"github.com/netsblox/cloud/internal/servicehost"
	"github.com/netsblox/cloud/internal/user"
	"github.com/netsblox/cloud/internal/worker"
)

const (
	sweepInterval     = time.Minute
	reconcileInterval = time.Hour
	reconcileGrace    = time.Hour
	brokenRetention   = 10 * time.Minute

	torExitListURL     = "https://check.torproject.org/torbulkexitlist"
	torRefreshInterval = time.Hour
)

func main() {
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("Server stopped")
	}
}

func run() error {
	configPath := flag.String("config", "config.toml", "path to the TOML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.IsDevelopment() {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
			With().Timestamp().Logger()
	}

	log.Info().Str("env", cfg.Environment).Msg("Starting NetsBlox Cloud")

	if len(cfg.CORS.Origins) == 1 && cfg.CORS.Origins[0] == "*" {
		log.Warn().Msg("cors.origins is a wildcard \"*\". Any origin can call this server; set explicit origins for production deployments.")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect MongoDB
	client, db, err := mongodb.Connect(ctx, cfg.MongoDB.URI, cfg.MongoDB.Database)
	if err != nil {
		return fmt.Errorf("connect mongodb: %w", err)
	}
	defer func() { _ = client.Disconnect(context.Background()) }()
	log.Info().Msg("MongoDB connected")

	if err := mongodb.EnsureIndexes(ctx, db); err != nil {
		return fmt.Errorf("ensure indexes: %w", err)
	}

	// Connect the blob store
	blobs, err := blob.NewS3Store(ctx, cfg.S3, log.Logger)
	if err != nil {
		return fmt.Errorf("connect blob store: %w", err)
	}
	if err := blobs.EnsureBucket(ctx); err != nil {
		return fmt.Errorf("ensure bucket: %w", err)
	}
	log.Info().Msg("Blob store connected")

	// Connect Redis
	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(redisOpts)
	defer func() { _ = rdb.Close() }()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	log.Info().Msg("Redis connected")

	m := metrics.New()
	m.Serve(ctx, cfg.Metrics.Bind, log.Logger)

	// Repositories
	users := user.NewMongoRepository(db, log.Logger)
	groups := group.NewMongoRepository(db, log.Logger)
	friends := friend.NewMongoRepository(db)
	libraries := library.NewMongoRepository(db)
	invites := invite.NewMongoRepository(db)
	hosts := servicehost.NewMongoRepository(db)
	projects, err := project.NewMongoRepository(db, cfg.Network.MetadataCacheSize, log.Logger)
	if err != nil {
		return fmt.Errorf("project repository: %w", err)
	}

	// Services
	authSvc := auth.NewService(users, groups)
	projectSvc := project.NewService(projects, blobs, m, log.Logger)
	friendSvc := friend.NewService(friends)
	// Deployments plug a real wordlist service here; the default approves
	// everything, so publishes skip the moderation queue.
	profanity := filter.None
	librarySvc := library.NewService(libraries, profanity)

	// Realtime overlay
	recorder := network.NewMongoRecorder(db)
	topology := network.NewTopology(projects, projectSvc, m,
		cfg.Network.InactivityTimeout, brokenRetention, log.Logger)
	resolver, err := network.NewResolver(topology, projects, cfg.Network.AddressCacheSize)
	if err != nil {
		return fmt.Errorf("address resolver: %w", err)
	}
	router := network.NewRouter(topology, resolver, projects, users, recorder, m, log.Logger)

	// Credential protection
	resetTokens := auth.NewResetTokens(db)
	loginThrottle := auth.NewThrottle(rdb, "login", 10, 15*time.Minute)
	resetThrottle := auth.NewThrottle(rdb, "reset", 3, time.Hour)

	var mailer email.Mailer = email.Discard{}
	if cfg.SMTPConfigured() {
		mailer = email.NewClient(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.User, cfg.SMTP.Pass, cfg.SMTP.From)
		log.Info().Str("host", cfg.SMTP.Host).Msg("SMTP configured")
	} else {
		log.Warn().Msg("SMTP not configured, password reset emails will be dropped")
	}

	// Create Fiber app
	app := fiber.New(fiber.Config{
		AppName: "NetsBlox Cloud",
		// Catches errors not already mapped to structured responses, e.g.
		// Fiber's built-in 404/405.
		ErrorHandler: func(c fiber.Ctx, err error) error {
			status := fiber.StatusInternalServerError
			message := "An internal error occurred"
			code := httputil.CodeInternal
			if e, ok := errors.AsType[*fiber.Error](err); ok {
				status = e.Code
				message = e.Message
				code = fiberStatusToCode(e.Code)
			} else {
				log.Error().Err(err).
					Str("method", c.Method()).
					Str("path", c.Path()).
					Msg("Unhandled error")
			}
			return httputil.Fail(c, status, code, message)
		},
	})

	// Global middleware
	app.Use(requestid.New())
	app.Use(httputil.RequestLogger(log.Logger))
	app.Use(cors.New(cors.Config{
		AllowOrigins:  cfg.CORS.Origins,
		AllowMethods:  []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Authorization"},
		ExposeHeaders: []string{"X-Request-ID"},
	}))
	app.Use(limiter.New(limiter.Config{
		Max:        cfg.Limits.APIRequests,
		Expiration: time.Duration(cfg.Limits.APIWindowSeconds) * time.Second,
	}))

	if cfg.Security.TorBlock {
		exits := filter.NewStaticTorExits(cfg.Security.AllowTorExits)
		go refreshTorExits(ctx, exits, log.Logger)
		app.Use(blockTorSignups(exits))
	}

	app.Use(auth.Middleware(cfg.Session.Secret, users, hosts))

	api.RegisterRoutes(app, api.Deps{
		Config: cfg,
		Log:    log.Logger,

		Auth:      authSvc,
		Users:     users,
		Groups:    groups,
		Projects:  projectSvc,
		Friends:   friendSvc,
		Libraries: librarySvc,
		Invites:   invites,
		Hosts:     hosts,

		Topology: topology,
		Router:   router,
		Recorder: recorder,

		ResetTokens:   resetTokens,
		Mailer:        mailer,
		Profanity:     profanity,
		LoginThrottle: loginThrottle,
		ResetThrottle: resetThrottle,

		Metrics: m,

		MongoPinger: mongoPinger{client: client},
		RedisPinger: redisPinger{client: rdb},
	})

	// Background maintenance
	sweeper := worker.NewSweeper(projects, projectSvc, m, sweepInterval, log.Logger)
	go sweeper.Run(ctx)
	reconciler := worker.NewReconciler(blobs, projects, m, reconcileInterval, reconcileGrace, log.Logger)
	go reconciler.Run(ctx)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info().Msg("Shutting down server")
		cancel()
		topology.Close(context.Background())
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf(":%d", cfg.Port)
	log.Info().Str("addr", addr).Msg("Server listening")
	if err := app.Listen(addr, fiber.ListenConfig{DisableStartupMessage: true}); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// mongoPinger adapts *mongo.Client to the api.Pinger interface.
type mongoPinger struct{ client *mongo.Client }

func (p mongoPinger) Ping(ctx context.Context) error { return p.client.Ping(ctx, nil) }

// redisPinger adapts *redis.Client to the api.Pinger interface.
type redisPinger struct{ client *redis.Client }

func (p redisPinger) Ping(ctx context.Context) error { return p.client.Ping(ctx).Err() }

// blockTorSignups rejects account creation from known Tor exit nodes. Existing
// accounts can still log in; only signup abuse is cut off.
func blockTorSignups(exits filter.TorExits) fiber.Handler {
	return func(c fiber.Ctx) error {
		if c.Method() == fiber.MethodPost && c.Path() == "/users/create" && exits.IsExit(c.IP()) {
			return httputil.Fail(c, fiber.StatusForbidden, httputil.CodeForbidden,
				"Account creation is not available from this network")
		}
		return c.Next()
	}
}

// refreshTorExits keeps the exit-node set current from the public bulk list.
// A failed fetch keeps the previous list.
func refreshTorExits(ctx context.Context, exits *filter.StaticTorExits, logger zerolog.Logger) {
	logger = logger.With().Str("component", "torexits").Logger()
	fetch := func() {
		reqCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, torExitListURL, nil)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to build exit-list request")
			return
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to fetch Tor exit list")
			return
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode != http.StatusOK {
			logger.Warn().Int("status", resp.StatusCode).Msg("Unexpected exit-list response")
			return
		}

		var ips []string
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			if line := scanner.Text(); line != "" {
				ips = append(ips, line)
			}
		}
		if err := scanner.Err(); err != nil {
			logger.Warn().Err(err).Msg("Failed to read Tor exit list")
			return
		}
		exits.Replace(ips)
		logger.Info().Int("count", len(ips)).Msg("Refreshed Tor exit list")
	}

	fetch()
	ticker := time.NewTicker(torRefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fetch()
		}
	}
}

func fiberStatusToCode(status int) httputil.Code {
	switch {
	case status == fiber.StatusNotFound:
		return httputil.CodeNotFound
	case status == fiber.StatusTooManyRequests:
		return httputil.CodeRateLimited
	case status == fiber.StatusUnauthorized:
		return httputil.CodeUnauthorized
	case status == fiber.StatusForbidden:
		return httputil.CodeForbidden
	case status >= 400 && status < 500:
		return httputil.CodeBadRequest
	default:
		return httputil.CodeInternal
	}
}
