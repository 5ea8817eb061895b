package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/TUPATRIMONIO/core-sub003/internal/api"
	"github.com/TUPATRIMONIO/core-sub003/internal/artifacts"
	"github.com/TUPATRIMONIO/core-sub003/internal/notify"
	"github.com/TUPATRIMONIO/core-sub003/internal/provider/firmavirtual"
	"github.com/TUPATRIMONIO/core-sub003/internal/signing"
	"github.com/TUPATRIMONIO/core-sub003/internal/store"
	"github.com/TUPATRIMONIO/core-sub003/internal/webhooks"
	"github.com/TUPATRIMONIO/core-sub003/pkg/db"
	"github.com/TUPATRIMONIO/core-sub003/pkg/httpx"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	log := zerolog.New(os.Stdout).With().Timestamp().Str("service", "signing").Logger()
	if os.Getenv("LOG_PRETTY") == "1" {
		log = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool := db.MustConnect(ctx)
	defer pool.Close()
	st := store.New(pool)

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("aws config load failed")
	}
	artifactStore := artifacts.New(
		s3.NewFromConfig(awsCfg),
		envOr("ARTIFACT_BUCKET", "tp-documents"),
		envOr("ARTIFACT_ORIGINALS_PREFIX", "originals"),
		envOr("ARTIFACT_SIGNED_PREFIX", "signed"),
	)

	providerTimeout, err := time.ParseDuration(envOr("PROVIDER_TIMEOUT", "45s"))
	if err != nil {
		log.Fatal().Err(err).Msg("invalid PROVIDER_TIMEOUT")
	}
	prov := firmavirtual.New(
		envOr("PROVIDER_BASE_URL", "https://api.firmavirtual.example"),
		os.Getenv("PROVIDER_API_KEY"),
		providerTimeout,
	)

	notifier := notify.New(envOr("NOTIFIER_BASE_URL", "http://localhost:8085"))

	engine := signing.NewEngine(st, prov, artifactStore, notifier,
		envOr("SIGN_URL_BASE", "https://app.tupatrimonio.example/sign"), log)

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(log))
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })

	apiHandler := api.NewHandler(engine, log)
	r.Route("/v1", apiHandler.Routes)

	webhookHandler := webhooks.NewHandler(engine, os.Getenv("PROVIDER_WEBHOOK_SECRET"), log)
	r.Post("/webhooks/firmavirtual", webhookHandler.HandleCompletion)

	srv := &http.Server{
		Addr:              ":" + envOr("SERVICE_PORT", "8084"),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("signing service listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}

func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqID := httpx.NewRequestID()
			w.Header().Set("X-Request-Id", reqID)
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Info().
				Str("request_id", reqID).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Msg("request")
		})
	}
}
