package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/discourse/discourse-sub052/reviewable"
	"github.com/discourse/discourse-sub052/reviewable/cachestore"
	"github.com/discourse/discourse-sub052/reviewable/claimstore"
	"github.com/discourse/discourse-sub052/reviewable/eventbus"
	"github.com/discourse/discourse-sub052/reviewable/store"
	"github.com/discourse/discourse-sub052/reviewable/target"
	"github.com/discourse/discourse-sub052/util"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	slogecho "github.com/samber/slog-echo"
	cli "github.com/urfave/cli/v2"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

var serveCmd = &cli.Command{
	Name:  "serve",
	Usage: "run the review queue HTTP API",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "bind",
			Usage:   "IP or address, and port, to listen on for HTTP APIs",
			Value:   ":2470",
			EnvVars: []string{"REVIEWD_BIND"},
		},
		&cli.StringFlag{
			Name:    "metrics-listen",
			Usage:   "IP or address, and port, to listen on for metrics APIs",
			Value:   ":2471",
			EnvVars: []string{"REVIEWD_METRICS_LISTEN"},
		},
		&cli.StringFlag{
			Name:    "admin-token",
			Usage:   "if set, API requests must carry it as a bearer token",
			EnvVars: []string{"REVIEWD_ADMIN_TOKEN"},
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "redis connection URL for claims, events and target cache: redis://<user>:<pass>@<hostname>:6379/<db>",
			EnvVars: []string{"REVIEWD_REDIS_URL"},
		},
		&cli.StringFlag{
			Name:    "claim-mode",
			Usage:   "whether moderators must claim before acting: disabled, optional, required",
			Value:   string(reviewable.ClaimOptional),
			EnvVars: []string{"REVIEWD_CLAIM_MODE"},
		},
		&cli.Float64Flag{
			Name:    "threshold-medium",
			Usage:   "score at which a reviewable becomes medium priority",
			Value:   reviewable.DefaultThresholds().Medium,
			EnvVars: []string{"REVIEWD_THRESHOLD_MEDIUM"},
		},
		&cli.Float64Flag{
			Name:    "threshold-high",
			Usage:   "score at which a reviewable becomes high priority",
			Value:   reviewable.DefaultThresholds().High,
			EnvVars: []string{"REVIEWD_THRESHOLD_HIGH"},
		},
		&cli.StringFlag{
			Name:    "webhook-url",
			Usage:   "POST reviewable events as JSON to this URL",
			EnvVars: []string{"REVIEWD_WEBHOOK_URL"},
		},
		&cli.StringFlag{
			Name:    "webhook-token",
			Usage:   "bearer token sent with webhook requests",
			EnvVars: []string{"REVIEWD_WEBHOOK_TOKEN"},
		},
		&cli.Float64Flag{
			Name:    "webhook-rate-limit",
			Usage:   "max webhook requests per second (0 for unlimited)",
			EnvVars: []string{"REVIEWD_WEBHOOK_RATE_LIMIT"},
		},
		&cli.StringFlag{
			Name:    "slack-webhook-url",
			Usage:   "full URL of slack webhook for transition notices",
			EnvVars: []string{"SLACK_WEBHOOK_URL"},
		},
		&cli.StringFlag{
			Name:    "event-stream",
			Usage:   "redis stream to append events to (needs --redis-url)",
			Value:   eventbus.DefaultStream,
			EnvVars: []string{"REVIEWD_EVENT_STREAM"},
		},
		&cli.StringFlag{
			Name:    "target-host",
			Usage:   "method, hostname, and port of the content service that resolves targets",
			EnvVars: []string{"REVIEWD_TARGET_HOST"},
		},
		&cli.DurationFlag{
			Name:    "target-cache-ttl",
			Value:   30 * time.Minute,
			EnvVars: []string{"REVIEWD_TARGET_CACHE_TTL"},
		},
	},
	Action: func(cctx *cli.Context) error {
		ctx := context.Background()
		logger, err := configLogger(cctx)
		if err != nil {
			return err
		}

		shutdownOTEL, err := configOTEL(ctx, "reviewd")
		if err != nil {
			return fmt.Errorf("failed to create trace exporter: %w", err)
		}
		defer shutdownOTEL()

		db, err := openDatabase(cctx, logger)
		if err != nil {
			return err
		}
		if err := migrate(db); err != nil {
			return err
		}

		mode, err := reviewable.ParseClaimMode(cctx.String("claim-mode"))
		if err != nil {
			return err
		}

		srv, err := NewServer(db, Config{
			Logger:        logger,
			Bind:          cctx.String("bind"),
			MetricsListen: cctx.String("metrics-listen"),
			AdminToken:    cctx.String("admin-token"),
			RedisURL:      cctx.String("redis-url"),
			ClaimMode:     mode,
			Thresholds: reviewable.Thresholds{
				Medium: cctx.Float64("threshold-medium"),
				High:   cctx.Float64("threshold-high"),
			},
			WebhookURL:       cctx.String("webhook-url"),
			WebhookToken:     cctx.String("webhook-token"),
			WebhookRateLimit: cctx.Float64("webhook-rate-limit"),
			SlackWebhookURL:  cctx.String("slack-webhook-url"),
			EventStream:      cctx.String("event-stream"),
			TargetHost:       cctx.String("target-host"),
			TargetCacheTTL:   cctx.Duration("target-cache-ttl"),
		})
		if err != nil {
			return err
		}
		return srv.Run(ctx)
	},
}

type Config struct {
	Logger           *slog.Logger
	Bind             string
	MetricsListen    string
	AdminToken       string
	RedisURL         string
	ClaimMode        reviewable.ClaimMode
	Thresholds       reviewable.Thresholds
	WebhookURL       string
	WebhookToken     string
	WebhookRateLimit float64
	SlackWebhookURL  string
	EventStream      string
	TargetHost       string
	TargetCacheTTL   time.Duration
	// route metrics registry; nil means the prometheus default
	Registerer       prometheus.Registerer
}

type Server struct {
	svc           *reviewable.Service
	echo          *echo.Echo
	httpd         *http.Server
	logger        *slog.Logger
	adminToken    string
	metricsListen string
}

// buildService picks backends from config: redis when a URL is given,
// the database otherwise.
func buildService(db *gorm.DB, config Config) (*reviewable.Service, error) {
	logger := config.Logger

	var claims reviewable.ClaimStore
	var cache cachestore.CacheStore
	var buses eventbus.MultiBus
	if config.RedisURL != "" {
		cs, err := claimstore.NewRedisClaimStore(config.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("initializing redis claimstore: %w", err)
		}
		claims = cs

		csh, err := cachestore.NewRedisCacheStore(config.RedisURL, config.TargetCacheTTL)
		if err != nil {
			return nil, fmt.Errorf("initializing redis cachestore: %w", err)
		}
		cache = csh

		bus, err := eventbus.NewRedisBus(config.RedisURL, config.EventStream)
		if err != nil {
			return nil, fmt.Errorf("initializing redis event stream: %w", err)
		}
		buses = append(buses, bus)
	} else {
		claims = claimstore.NewGormClaimStore(db)
		cache = cachestore.NewMemCacheStore(5_000, config.TargetCacheTTL)
	}

	if config.WebhookURL != "" {
		wh, err := eventbus.NewWebhookBus(eventbus.WebhookConfig{
			URL:        config.WebhookURL,
			AdminToken: config.WebhookToken,
			RateLimit:  config.WebhookRateLimit,
			Logger:     logger,
		})
		if err != nil {
			return nil, err
		}
		buses = append(buses, wh)
	}
	if config.SlackWebhookURL != "" {
		buses = append(buses, &eventbus.SlackBus{
			SlackWebhookURL: config.SlackWebhookURL,
			Client:          util.RobustHTTPClient(logger),
		})
	}

	var events reviewable.EventBus = reviewable.NopBus
	switch len(buses) {
	case 0:
	case 1:
		events = buses[0]
	default:
		events = buses
	}

	var targets reviewable.TargetResolver = target.NewStaticResolver()
	if config.TargetHost != "" {
		targets = target.NewCachingResolver(target.NewHTTPResolver(config.TargetHost, logger), cache, logger)
	}

	return reviewable.NewService(reviewable.Config{
		Store:      store.NewGormStore(db),
		Claims:     claims,
		Guardian:   reviewable.StaffGuardian{},
		Events:     events,
		Targets:    targets,
		Thresholds: config.Thresholds,
		ClaimMode:  config.ClaimMode,
		Logger:     logger,
	})
}

func NewServer(db *gorm.DB, config Config) (*Server, error) {
	if config.Logger == nil {
		config.Logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}
	svc, err := buildService(db, config)
	if err != nil {
		return nil, err
	}
	return newServer(svc, config), nil
}

func newServer(svc *reviewable.Service, config Config) *Server {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	e := echo.New()

	// httpd
	var (
		httpTimeout        = 1 * time.Minute
		httpMaxHeaderBytes = 1 * (1024 * 1024)
	)

	srv := &Server{
		svc:           svc,
		echo:          e,
		logger:        logger.With("component", "reviewd"),
		adminToken:    config.AdminToken,
		metricsListen: config.MetricsListen,
	}
	srv.httpd = &http.Server{
		Handler:        srv,
		Addr:           config.Bind,
		WriteTimeout:   httpTimeout,
		ReadTimeout:    httpTimeout,
		MaxHeaderBytes: httpMaxHeaderBytes,
	}

	e.HideBanner = true
	e.Use(slogecho.New(logger))
	e.Use(middleware.Recover())
	e.Use(otelecho.Middleware("reviewd"))
	e.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
		Subsystem:  "reviewd",
		Registerer: config.Registerer,
	}))
	e.Use(middleware.BodyLimit("1M"))
	e.HTTPErrorHandler = srv.errorHandler
	e.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "SAMEORIGIN",
		HSTSMaxAge:         31536000, // 365 days
	}))

	e.GET("/_health", srv.HandleHealthCheck)

	api := e.Group("/api/v1", srv.requireAdminToken)
	api.GET("/reviewables", srv.HandleList)
	api.POST("/reviewables", srv.HandleEnqueue)
	api.GET("/reviewables/counts", srv.HandleCounts)
	api.GET("/reviewables/:id", srv.HandleGet)
	api.GET("/reviewables/:id/detail", srv.HandleDetail)
	api.GET("/reviewables/:id/actions", srv.HandleActions)
	api.GET("/reviewables/:id/explain", srv.HandleExplain)
	api.GET("/reviewables/:id/history", srv.HandleHistory)
	api.POST("/reviewables/:id/claim", srv.HandleClaim)
	api.DELETE("/reviewables/:id/claim", srv.HandleRelease)
	api.POST("/reviewables/:id/perform/:action", srv.HandlePerform)
	api.POST("/reviewables/:id/scores", srv.HandleAddScore)
	api.PUT("/reviewables/:id/fields", srv.HandleUpdateFields)

	return srv
}

func (srv *Server) ServeHTTP(rw http.ResponseWriter, req *http.Request) {
	srv.echo.ServeHTTP(rw, req)
}

// Run serves the API and metrics listeners until a signal arrives or
// either listener fails.
func (srv *Server) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		srv.logger.Info("starting server", "bind", srv.httpd.Addr)
		if err := srv.httpd.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server shutting down unexpectedly: %w", err)
		}
		return nil
	})
	if srv.metricsListen != "" {
		metrics := &http.Server{Addr: srv.metricsListen, Handler: promhttp.Handler()}
		eg.Go(func() error {
			srv.logger.Info("starting metrics endpoint", "bind", srv.metricsListen)
			if err := metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("failed to start metrics endpoint: %w", err)
			}
			return nil
		})
		eg.Go(func() error {
			<-ctx.Done()
			return metrics.Close()
		})
	}
	eg.Go(func() error {
		<-ctx.Done()
		return srv.Shutdown()
	})

	if err := eg.Wait(); err != nil {
		return err
	}
	srv.logger.Info("graceful shutdown complete")
	return nil
}

func (srv *Server) Shutdown() error {
	srv.logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.httpd.Shutdown(ctx)
}
