package workers

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"time"

	"gobridgetracker/identity"
	"gobridgetracker/metrics"
	"gobridgetracker/workers/handlers"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/rs/zerolog"
)

const SHUTDOWN_TIMEOUT = 5 * time.Second

// NewRouter mounts the API. metricsHandler serves /metrics when not nil.
func NewRouter(api *handlers.API, m *metrics.Metrics, metricsHandler http.Handler, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(logger))
	r.Use(metrics.HTTPMetricsMiddleware(m))
	r.Use(identity.Middleware)

	r.Options("/*", CORSHeaders)

	r.Get("/health", api.HealthCheck)
	r.Get("/chains", api.Chains)
	r.Get("/fees", api.Fees)

	r.Route("/bridge", func(r chi.Router) {
		r.Post("/", api.SubmitBridge)
		r.Get("/{id}", api.BridgeStatus)
		r.Post("/{id}/cancel", api.CancelBridge)
		r.Post("/{id}/retry", api.RetryBridge)
	})
	r.Get("/history", api.History)

	r.Get("/recovery", api.Recovery)
	r.Post("/recovery/{actionId}", api.ExecuteAction)

	r.Get("/events", api.Events)
	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}
	return r
}

// requestLogger logs one line per request with the component logger.
func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	logger = logger.With().Str("component", "http").Logger()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug().
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Msg("request")
		})
	}
}

type ServerOptions struct {
	Addr   string
	UseSSL bool
	// used with UseSSL
	CertFile string
	KeyFile  string
	// when set, served instead of listening on Addr
	Listener net.Listener
}

// Worker_HTTP serves handler until ctx is done, then shuts down gracefully.
// Request contexts derive from ctx, so long lived streams end when shutdown
// starts.
func Worker_HTTP(ctx context.Context, opts ServerOptions, handler http.Handler, logger zerolog.Logger) error {
	logger = logger.With().Str("component", "http").Logger()
	if opts.Listener != nil {
		opts.Addr = opts.Listener.Addr().String()
	}
	logger.Info().Str("addr", opts.Addr).Bool("ssl", opts.UseSSL).Msg("Starting HTTP service")

	server := &http.Server{
		Addr:              opts.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	if opts.UseSSL {
		if opts.CertFile == "" {
			opts.CertFile = "certchain.pem"
		}
		if opts.KeyFile == "" {
			opts.KeyFile = "privatekey.pem"
		}
		cert, err := tls.LoadX509KeyPair(opts.CertFile, opts.KeyFile)
		if err != nil {
			return fmt.Errorf("loading certificate: %w", err)
		}
		server.TLSConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		switch {
		case opts.Listener != nil && opts.UseSSL:
			err = server.ServeTLS(opts.Listener, "", "")
		case opts.Listener != nil:
			err = server.Serve(opts.Listener)
		case opts.UseSSL:
			err = server.ListenAndServeTLS("", "")
		default:
			err = server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("error listening to %s: %w", opts.Addr, err)
		}
		close(errCh)
	}()
	logger.Info().Msg("HTTP service started")

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}
	logger.Info().Msg("HTTP service stopping")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), SHUTDOWN_TIMEOUT)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP service shutdown error: %w", err)
	}
	logger.Info().Msg("HTTP service shutdown normal")
	return nil
}

func CORSHeaders(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, Authorization, Origin, X-Requested-With, X-Owner-Address")
	w.WriteHeader(http.StatusNoContent)
}
