package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	validator "github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/noah-isme/backend-pdv/internal/catalog"
	"github.com/noah-isme/backend-pdv/internal/common"
	"github.com/noah-isme/backend-pdv/internal/config"
	"github.com/noah-isme/backend-pdv/internal/events"
	"github.com/noah-isme/backend-pdv/internal/health"
	"github.com/noah-isme/backend-pdv/internal/lock"
	"github.com/noah-isme/backend-pdv/internal/notify"
	"github.com/noah-isme/backend-pdv/internal/obs"
	"github.com/noah-isme/backend-pdv/internal/ratelimit"
	"github.com/noah-isme/backend-pdv/internal/remote"
	"github.com/noah-isme/backend-pdv/internal/resilience"
	"github.com/noah-isme/backend-pdv/internal/scale"
	"github.com/noah-isme/backend-pdv/internal/security"
	"github.com/noah-isme/backend-pdv/internal/terminal"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(cfg.Obs.LogFormat, cfg.Obs.LogLevel).With().
		Str("env", cfg.AppEnv).
		Str("terminal_id", cfg.TerminalID).
		Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metricsEnabled := cfg.Obs.EnablePrometheus
	obs.MustRegisterDomainMetrics(cfg.Obs.MetricsNamespace, nil)

	tracingEnabled := cfg.Obs.EnableTracing
	if tracingEnabled {
		shutdown, err := obs.InitTracer(ctx, obs.TracingConfig{
			ServiceName:   "pdv-terminal",
			TerminalID:    cfg.TerminalID,
			Endpoint:      cfg.Obs.OTLPEndpoint,
			Exporter:      envOrDefault("OBS_TRACING_EXPORTER", "otlp"),
			SamplingRatio: cfg.Obs.SamplingRatio,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	redisClient := initRedis(ctx, cfg, metricsEnabled, logger)
	if redisClient != nil {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Error().Err(err).Msg("close redis")
			}
		}()
	}

	if redisClient != nil {
		lease := &lock.Lease{R: redisClient, Key: lock.LaneKey(cfg.TerminalID), TTL: cfg.LaneLeaseTTL}
		if err := lease.Acquire(ctx); err != nil {
			logger.Fatal().Err(err).Msg("lane already served by another process")
		}
		defer func() {
			if err := lease.Release(context.Background()); err != nil {
				logger.Error().Err(err).Msg("release lane lease")
			}
		}()
		go lease.Keep(ctx, func(err error) {
			logger.Error().Err(err).Msg("lane lease lost, stopping")
			stop()
		})
	}

	breaker := resilience.NewBreaker(cfg.API.BreakerMinRequests, cfg.API.BreakerFailureRatio, cfg.API.BreakerOpenFor).
		WithTarget("backoffice").
		WithLogger(logger)
	api, err := remote.NewClient(cfg.API.BaseURL, resilience.HTTPClient{
		Client:      &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		Breaker:     breaker,
		BaseBackoff: envDurationMillis("API_RETRY_BASE_MS", 200),
		MaxAttempts: cfg.API.MaxAttempts,
		Jitter:      envFloat("API_RETRY_JITTER", 0.2),
		Timeout:     cfg.API.Timeout,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise api client")
	}
	if cfg.API.Email != "" {
		tokens := remote.NewTokenSource(api, cfg.API.Email, cfg.API.Password, cfg.API.TokenSkew)
		if _, err := tokens.Token(ctx); err != nil {
			// the lane can still start; the next call retries the login
			logger.Warn().Err(err).Msg("initial login failed")
		} else {
			op := tokens.Operator()
			logger.Info().Int64("operator_id", op.ID).Str("operator", op.Name).Msg("logged in")
		}
	}

	var lookup catalog.Lookup = remote.Catalog{Client: api}
	if redisClient != nil {
		lookup = catalog.CachedLookup{
			Next:   lookup,
			Cache:  catalog.NewCache(redisClient, cfg.CatalogCacheTTL),
			Logger: logger,
		}
	}

	notifiers := []events.Notifier{events.LogNotifier{Logger: logger}}
	if cfg.Webhook.URL != "" {
		webhook, err := notify.NewWebhook(notify.WebhookConfig{
			URL:         cfg.Webhook.URL,
			Secret:      cfg.Webhook.Secret,
			MaxAttempts: cfg.Webhook.MaxAttempts,
			BaseBackoff: envDurationMillis("EVENTS_WEBHOOK_BACKOFF_MS", 500),
			HTTP: resilience.HTTPClient{
				Client: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
				Breaker: resilience.NewBreaker(cfg.API.BreakerMinRequests, cfg.API.BreakerFailureRatio, cfg.API.BreakerOpenFor).
					WithTarget("events-webhook").
					WithLogger(logger),
				Timeout: cfg.API.Timeout,
			},
			Logger: logger,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("initialise events webhook")
		}
		go webhook.Run(ctx)
		notifiers = append(notifiers, webhook)
	}

	sales := remote.Sales{Client: api}
	lane := terminal.New(terminal.Options{
		Resolver: catalog.Resolver{Lookup: lookup, Decoder: scale.Decoder{Layout: scale.ParseLayout(cfg.ScaleLayout)}},
		Sales:    sales,
		Canceler: sales,
		Tills:    remote.Tills{Client: api},
		Bus:      &events.Bus{Notifiers: notifiers},
		Logger:   logger,
	})
	dispatcher, err := terminal.NewDispatcher(cfg.Shortcuts)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise shortcuts")
	}
	lane.Bind(dispatcher)

	if view, err := lane.ResumeTill(ctx); err != nil {
		logger.Warn().Err(err).Msg("could not load the open till session")
	} else if view != nil {
		logger.Info().Int64("till_id", view.ID).Int("number", view.Number).Msg("till session resumed")
	}

	var httpMetrics *obs.HTTPMetrics
	if metricsEnabled {
		httpMetrics = obs.NewHTTPMetrics(cfg.Obs.MetricsNamespace, nil, nil)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.RoutePatternMiddleware)
	if tracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if httpMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger, TerminalID: cfg.TerminalID}.Middleware)
	r.Use(security.Headers{Enable: true}.Middleware)
	r.Use(security.CORS(cfg.CORSAllowedOrigins))
	r.Use(security.BodyLimit{Max: cfg.BodyLimitBytes}.Middleware)

	if metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	if envBool("OBS_ENABLE_PPROF", false) {
		user := envOrDefault("SECURE_PPROF_BASIC_AUTH_USER", "")
		pass := envOrDefault("SECURE_PPROF_BASIC_AUTH_PASS", "")
		r.Mount("/debug/pprof", protectPprof(newPprofMux(), user, pass))
	}

	healthHandler := health.Handler{
		Checker:      health.Probes{API: api, Redis: redisClient},
		APITimeout:   envDurationMillis("HEALTH_READY_API_TIMEOUT_MS", 1500),
		RedisTimeout: envDurationMillis("HEALTH_READY_REDIS_TIMEOUT_MS", 300),
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	var scanLimit func(http.Handler) http.Handler
	if lim, err := ratelimit.New(ctx, redisClient, cfg.ScanRateLimit, "pdv:scan"); err == nil {
		scanLimit = ratelimit.Handler{
			Limiter: lim,
			Key:     ratelimit.PerTerminal(cfg.TerminalID),
			OnError: func(err error) { logger.Warn().Err(err).Msg("scan rate limit store") },
		}.Middleware
	} else if !errors.Is(err, ratelimit.ErrDisabled) {
		logger.Fatal().Err(err).Msg("initialise scan rate limit")
	}

	laneHandler := &terminal.Handler{
		Terminal:   lane,
		Dispatcher: dispatcher,
		Validator:  validator.New(validator.WithRequiredStructEnabled()),
		Idem:       common.Idem{R: redisClient, TTL: cfg.IdempotencyTTL},
		ScanLimit:  scanLimit,
	}
	r.Route("/api/v1", laneHandler.Routes)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("server exited unexpectedly")
		}
	case <-ctx.Done():
	}

	health.SetReady(false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), envDurationMillis("SHUTDOWN_TIMEOUT_MS", 10000))
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown")
	}
	logger.Info().Msg("server stopped")
}

// initRedis returns nil when REDIS_URL is unset; the catalog cache, the
// idempotency store and the lane lease are then disabled.
func initRedis(ctx context.Context, cfg *config.Config, metrics bool, logger zerolog.Logger) *redis.Client {
	if cfg.RedisURL == "" {
		logger.Warn().Msg("REDIS_URL not set, running without cache and idempotency")
		return nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	client := redis.NewClient(opts)
	if err := redisotel.InstrumentTracing(client); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if metrics {
		if err := redisotel.InstrumentMetrics(client); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}
	return client
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		if trimmed := strings.TrimSpace(val); trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "1", "t", "true", "yes", "on":
			return true
		case "0", "f", "false", "no", "off":
			return false
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func envDurationMillis(key string, fallback int) time.Duration {
	n := fallback
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			n = parsed
		}
	}
	return time.Duration(n) * time.Millisecond
}

func newPprofMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", pprof.Index)
	mux.HandleFunc("/cmdline", pprof.Cmdline)
	mux.HandleFunc("/profile", pprof.Profile)
	mux.HandleFunc("/symbol", pprof.Symbol)
	mux.HandleFunc("/trace", pprof.Trace)
	mux.Handle("/goroutine", pprof.Handler("goroutine"))
	mux.Handle("/heap", pprof.Handler("heap"))
	return mux
}

func protectPprof(handler http.Handler, user, pass string) http.Handler {
	if user == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 || subtle.ConstantTimeCompare([]byte(p), []byte(pass)) != 1 {
			w.Header().Set("WWW-Authenticate", "Basic realm=restricted")
			http.Error(w, "unauthorised", http.StatusUnauthorized)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
