package main

import (
	"compress/gzip"
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"portfoliotracker/internal/config"
	"portfoliotracker/internal/httpx"
	"portfoliotracker/internal/logging"
	"portfoliotracker/internal/quote/ratelimit"
	"portfoliotracker/internal/quote/twelvedata"
	"portfoliotracker/internal/refresh"
	"portfoliotracker/internal/search"
	"portfoliotracker/internal/stream"
	"portfoliotracker/internal/tracker"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		log.Fatalf("logging: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	httpClient := httpx.New(time.Duration(cfg.TwelveData.TimeoutSec) * time.Second)
	td := twelvedata.NewClient(
		twelvedata.WithBaseURL(cfg.TwelveData.BaseURL),
		twelvedata.WithHTTPClient(httpClient),
		twelvedata.WithHeader(http.Header{"Accept": []string{"application/json"}}),
	)
	feed := ratelimit.Wrap(td, cfg.TwelveData.MaxRequestsPerMinute, cfg.TwelveData.Burst, cfg.TwelveData.MinRequestIntervalSec)

	tr := tracker.New(feed, td, tracker.Options{
		Refresh: refresh.Config{
			Interval:       cfg.Refresh.Interval(),
			FetchTimeout:   cfg.Refresh.FetchTimeout(),
			MaxConcurrency: cfg.Refresh.MaxConcurrency,
			Retries:        cfg.Refresh.Retries,
		},
		Currency: cfg.Portfolio.Currency,
		Broker:   cfg.Portfolio.Broker,
		Logger:   logger.Named("tracker"),
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.TwelveData.APIKey != "" {
		vctx, cancel := context.WithTimeout(ctx, time.Duration(cfg.TwelveData.TimeoutSec)*time.Second)
		err := tr.SetAPIKey(vctx, cfg.TwelveData.APIKey, cfg.TwelveData.ValidateKey)
		cancel()
		if err != nil {
			logger.Warn("configured api key rejected", zap.Error(err))
		}
	}

	a := &api{
		tracker:  tr,
		search:   search.New(td, tr.APIKey, logger.Named("search")),
		log:      logger,
		timeout:  time.Duration(cfg.Server.RequestTimeoutSec) * time.Second,
		validate: cfg.TwelveData.ValidateKey,
	}

	hub := stream.NewHub(logger.Named("stream"), a.snapshotEvent)
	go hub.Run()
	defer hub.Stop()
	unsubscribe := tr.Subscribe(func(u tracker.Update) {
		hub.Publish(updateEvent(u, tr))
	})
	defer unsubscribe()

	tr.Start(ctx)
	defer tr.Close()

	root := http.NewServeMux()
	// WebSocket upgrades need the raw ResponseWriter, so the stream bypasses
	// the JSON and gzip wrappers.
	root.Handle("/api/stream", recoverPanic(hub))
	root.Handle("/", withJSONHeaders(withGzip(recoverPanic(limitBody(cfg.Server.MaxBodyBytes, a.routes())))))

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           root,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	// graceful shutdown
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	logger.Info("server stopped")
}

func withJSONHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		// Basic CORS for browser usage; adjust as needed.
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withGzip compresses response when client supports gzip. Responses that
// carry no body (204, 304) are passed through untouched.
func withGzip(next http.Handler) http.Handler {
	var gzPool = sync.Pool{New: func() any {
		w, _ := gzip.NewWriterLevel(io.Discard, gzip.BestSpeed)
		return w
	}}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Add("Vary", "Accept-Encoding")
		gw := &gzipResponseWriter{ResponseWriter: w, gz: gzPool.Get().(*gzip.Writer)}
		defer func() {
			if gw.compress {
				_ = gw.gz.Close()
			}
			gw.gz.Reset(io.Discard)
			gzPool.Put(gw.gz)
		}()
		next.ServeHTTP(gw, r)
	})
}

// gzipResponseWriter decides on compression when the status is known.
type gzipResponseWriter struct {
	http.ResponseWriter
	gz          *gzip.Writer
	wroteHeader bool
	compress    bool
}

func (g *gzipResponseWriter) WriteHeader(code int) {
	if g.wroteHeader {
		return
	}
	g.wroteHeader = true
	if bodyAllowed(code) {
		g.compress = true
		g.gz.Reset(g.ResponseWriter)
		g.Header().Set("Content-Encoding", "gzip")
		g.Header().Del("Content-Length")
	}
	g.ResponseWriter.WriteHeader(code)
}

func (g *gzipResponseWriter) Write(b []byte) (int, error) {
	if !g.wroteHeader {
		g.WriteHeader(http.StatusOK)
	}
	if !g.compress {
		return g.ResponseWriter.Write(b)
	}
	return g.gz.Write(b)
}

func bodyAllowed(code int) bool {
	return code >= http.StatusOK && code != http.StatusNoContent && code != http.StatusNotModified
}

// limitBody caps request body size for writes.
func limitBody(maxBody int64, next http.Handler) http.Handler {
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if (r.Method == http.MethodPost || r.Method == http.MethodPut) && r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxBody)
		}
		next.ServeHTTP(w, r)
	})
}

// recoverPanic protects handlers from panics.
func recoverPanic(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
