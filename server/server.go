// Package server wires the HTTP and WebSocket surface together:
// session join over WebSocket, library byte-range serving, and a
// small diagnostics API (§6).
package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/wintlu/stereo-play/cache"
	"github.com/wintlu/stereo-play/config"
	"github.com/wintlu/stereo-play/eventbus"
	"github.com/wintlu/stereo-play/ingest"
	"github.com/wintlu/stereo-play/logger"
	"github.com/wintlu/stereo-play/session"
	"github.com/wintlu/stereo-play/transport"
)

// Start builds the router, binds it to cfg.Addr, and blocks until an
// interrupt or SIGTERM is received, then shuts down gracefully.
func Start(cfg *config.Config) {
	if err := os.MkdirAll(cfg.LibraryDir, 0755); err != nil {
		logger.Fatal("creating library directory failed", logger.ErrorField(err))
	}

	// lifetime is the process's own cancellation scope, independent of
	// any single connection's request context. Ingestion subprocesses
	// are children of this context so a client reload or tab close
	// never kills an in-flight transcode (§5); only server shutdown
	// does, once lifetime is cancelled below.
	lifetime, cancelLifetime := context.WithCancel(context.Background())
	defer cancelLifetime()

	store := session.New(cfg)
	if err := store.LoadPersisted(); err != nil {
		logger.Warn("loading persisted sessions failed, starting empty", logger.ErrorField(err))
	}

	presence := cache.NewPresenceMirror(cfg)
	if presence.Enabled() {
		logger.Info("redis presence mirror enabled", logger.String("host", cfg.RedisHost))
	} else {
		logger.Info("redis presence mirror disabled (no REDIS_HOST configured or redis unreachable)")
	}

	bus := eventbus.New()
	pipeline := ingest.New(cfg, bus)
	dispatcher := transport.NewDispatcher(lifetime, store, pipeline, cfg, bus, presence)

	router := mux.NewRouter()
	router.Use(corsMiddleware)

	wsHandler := &webSocketHandler{dispatcher: dispatcher, presence: presence}
	router.HandleFunc("/ws", wsHandler.ServeHTTP)

	libHandler := &libraryHandler{cfg: cfg}
	router.HandleFunc("/audio/{trackId}/{channel}.mp3", libHandler.ServeAudio).Methods(http.MethodGet, http.MethodHead)
	router.HandleFunc("/api/library", libHandler.ListTracks).Methods(http.MethodGet)

	diagHandler := &diagnosticsHandler{store: store}
	router.HandleFunc("/api/session/{id}", diagHandler.GetSession).Methods(http.MethodGet)

	httpServer := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("server starting", logger.String("addr", cfg.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", logger.ErrorField(err))
		}
	}()

	<-stop
	logger.Info("shutting down")

	cancelLifetime() // terminates any in-flight ingestion subprocesses (§5)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", logger.ErrorField(err))
	}

	if err := presence.Close(); err != nil {
		logger.Warn("closing presence mirror failed", logger.ErrorField(err))
	}

	logger.Info("server stopped")
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Range")
		w.Header().Set("Access-Control-Expose-Headers", "Content-Length, Content-Range")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
