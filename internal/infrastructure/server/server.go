package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	apihttp "github.com/GriffinCanCode/InflationLens/internal/api/http"
	"github.com/GriffinCanCode/InflationLens/internal/api/middleware"
	"github.com/GriffinCanCode/InflationLens/internal/domain/cpi"
	"github.com/GriffinCanCode/InflationLens/internal/domain/pipeline"
	"github.com/GriffinCanCode/InflationLens/internal/infrastructure/config"
	"github.com/GriffinCanCode/InflationLens/internal/infrastructure/fetch"
	"github.com/GriffinCanCode/InflationLens/internal/infrastructure/logging"
	"github.com/GriffinCanCode/InflationLens/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/InflationLens/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/InflationLens/internal/ws"
)

const shutdownGrace = 10 * time.Second

type Server struct {
	router   *gin.Engine
	http     *http.Server
	manager  *pipeline.Manager
	tracer   *tracing.Tracer
	logger   *zap.Logger
	config   *config.Config
	metrics  *monitoring.Metrics
	registry *prometheus.Registry
}

// Option customizes server construction.
type Option func(*options)

type options struct {
	logger  *zap.Logger
	tables  pipeline.TableProvider
	fetcher pipeline.Fetcher
}

// WithLogger uses logger instead of building one from the config.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithTables overrides the CPI table provider.
func WithTables(tables pipeline.TableProvider) Option {
	return func(o *options) { o.tables = tables }
}

// WithFetcher overrides the outbound page fetcher.
func WithFetcher(fetcher pipeline.Fetcher) Option {
	return func(o *options) { o.fetcher = fetcher }
}

// NewServer wires every component from cfg. The CPI dataset is loaded
// eagerly so a bad source shows up in the startup log, but a failed load
// does not prevent the server from starting.
func NewServer(cfg *config.Config, opts ...Option) (*Server, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger
	if logger == nil {
		var err error
		logger, err = logging.New(logging.Config{
			Level:       cfg.Logging.Level,
			Development: cfg.Logging.Development,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create logger: %w", err)
		}
	}

	logger.Info("Initializing Inflation Lens server",
		zap.String("addr", cfg.Server.Addr()),
		zap.String("cpi_source", cfg.CPI.Source),
		zap.Bool("pipeline_enabled", cfg.Pipeline.Enabled),
	)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := monitoring.NewMetrics(registry)
	logger.Info("Performance monitoring initialized")

	tracer := tracing.New(logger.Named("tracing"))
	logger.Info("Request tracing initialized")

	fetchOpts := fetch.DefaultOptions()
	fetchOpts.Timeout = cfg.Fetch.Timeout
	fetchOpts.Retries = cfg.Fetch.Retries
	fetchOpts.UserAgent = cfg.Fetch.UserAgent
	fetchOpts.RequestsPerSecond = cfg.Fetch.RequestsPerSecond
	fetchOpts.Metrics = metrics
	fetchOpts.Logger = logger.Named("fetch")
	client := fetch.New(fetchOpts)

	var fetcher pipeline.Fetcher = client
	if o.fetcher != nil {
		fetcher = o.fetcher
	}

	format, err := cpi.ParseFormat(cfg.CPI.Format)
	if err != nil {
		tracer.Close()
		return nil, err
	}
	source := cpi.ParseSource(cfg.CPI.Source, format, client)

	tables := o.tables
	if tables == nil {
		tables = cpi.NewLoader(source, logger.Named("cpi"),
			cpi.WithObserver(func(src string, years int, err error, _ time.Duration) {
				metrics.RecordCPILoad(src, years, err)
			}))
	}
	if _, err := tables.Load(context.Background()); err != nil {
		logger.Warn("Starting without CPI data", zap.String("source", source.String()), zap.Error(err))
	}

	hub := ws.NewHub(metrics, logger.Named("ws"))
	manager := pipeline.NewManager(pipeline.ManagerOptions{
		Config:   PipelineConfig(cfg.Pipeline),
		Tables:   tables,
		Fetcher:  fetcher,
		Notifier: hub,
		Metrics:  metrics,
		Logger:   logger.Named("pipeline"),
	})

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(tracing.HTTPMiddleware(tracer))
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		rl := middleware.DefaultRateLimitConfig()
		rl.RequestsPerSecond = cfg.RateLimit.RequestsPerSecond
		rl.Burst = cfg.RateLimit.Burst
		router.Use(middleware.RateLimit(rl))
	}

	handlers := apihttp.NewHandlers(apihttp.Options{
		Manager:  manager,
		Source:   source.String(),
		Metrics:  metrics,
		Breakers: client.BreakerStates,
		Logger:   logger.Named("http"),
	})
	wsHandler := ws.NewHandler(manager, hub, logger.Named("ws"))

	router.GET("/", handlers.Root)
	router.GET("/health", handlers.Health)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})))

	router.GET("/cpi", handlers.CPI)
	router.GET("/cpi/convert", handlers.Convert)
	router.GET("/cpi/parse", handlers.Parse)

	router.POST("/annotate", handlers.Annotate)

	pages := router.Group("/pages")
	pages.POST("", handlers.OpenPage)
	pages.GET("", handlers.ListPages)
	pages.GET("/:id", handlers.GetPage)
	pages.GET("/:id/html", handlers.RenderPage)
	pages.POST("/:id/commands", handlers.Command)
	pages.PUT("/:id/enabled", handlers.SetEnabled)
	pages.PUT("/:id/year", handlers.SetYear)
	pages.PUT("/:id/swap", handlers.SetSwap)
	pages.POST("/:id/mutations", handlers.Mutate)
	pages.DELETE("/:id", handlers.ClosePage)
	pages.GET("/:id/stream", wsHandler.HandleConnection)

	logger.Info("Server initialized successfully")

	return &Server{
		router:   router,
		http:     &http.Server{Addr: cfg.Server.Addr(), Handler: router, ReadHeaderTimeout: 10 * time.Second},
		manager:  manager,
		tracer:   tracer,
		logger:   logger,
		config:   cfg,
		metrics:  metrics,
		registry: registry,
	}, nil
}

// PipelineConfig converts the environment section into page defaults.
func PipelineConfig(c config.PipelineConfig) pipeline.Config {
	return pipeline.Config{
		Enabled:         c.Enabled,
		Swap:            c.Swap,
		MaxNodes:        c.MaxNodes,
		MaxPages:        c.MaxPages,
		FrameInterval:   c.FrameInterval,
		DisabledDomains: c.DisabledDomains,
		SanitizeInput:   c.Sanitize,
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Manager returns the page manager.
func (s *Server) Manager() *pipeline.Manager {
	return s.manager
}

// Run serves until Shutdown is called.
func (s *Server) Run() error {
	s.logger.Info("Starting HTTP server", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests, closes every page and flushes the
// tracer and logger.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server...")

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, shutdownGrace)
		defer cancel()
	}

	err := s.http.Shutdown(ctx)
	if err != nil {
		s.logger.Error("HTTP shutdown incomplete", zap.Error(err))
	}

	s.manager.CloseAll()
	s.logger.Info("Closed all pages")
	s.tracer.Close()

	_ = s.logger.Sync()
	return err
}
