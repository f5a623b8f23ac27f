package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/creatorhq/mentions-sync/internal/archive"
	"github.com/creatorhq/mentions-sync/internal/config"
	"github.com/creatorhq/mentions-sync/internal/engine"
	"github.com/creatorhq/mentions-sync/internal/models"
	"github.com/creatorhq/mentions-sync/internal/notify"
	"github.com/creatorhq/mentions-sync/internal/realtime"
	"github.com/creatorhq/mentions-sync/internal/scheduler"
	"github.com/creatorhq/mentions-sync/internal/store"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

func main() {
	// Load environment variables from .env file if it exists
	if err := godotenv.Load(); err != nil {
		logrus.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Set up logging
	logrus.SetLevel(logrus.InfoLevel)
	if cfg.Debug {
		logrus.SetLevel(logrus.DebugLevel)
	}
	logrus.SetFormatter(&logrus.JSONFormatter{})

	logrus.Info("Starting mentions sync engine")

	storeClient, err := store.NewRestStore(cfg.StoreURL, cfg.StoreAPIKey, cfg.StoreSchema)
	if err != nil {
		logrus.Fatalf("Failed to initialize store client: %v", err)
	}

	var feed realtime.FeedInterface
	if cfg.EnableRealtime && cfg.RealtimeURL != "" {
		feed = realtime.NewClient(cfg.RealtimeURL, cfg.StoreAPIKey)
	} else {
		logrus.Info("Change-feed disabled, relying on scheduled resync only")
	}

	notifier := notify.NewService(cfg)

	eng := engine.New(cfg, storeClient, feed, notifier)
	if err := eng.Start(context.Background()); err != nil {
		logrus.Errorf("Initial fetch cycle failed: %v", err)
	}
	defer eng.Close()

	var snapshotArchive archive.ArchiveInterface
	if cfg.StorageAccount != "" {
		snapshotArchive, err = archive.NewAzureArchive(cfg.StorageAccount, cfg.StorageContainer)
		if err != nil {
			logrus.Fatalf("Failed to initialize snapshot archive: %v", err)
		}
	}

	schedulerService := scheduler.NewService(cfg, eng, snapshotArchive)
	if err := schedulerService.Start(); err != nil {
		logrus.Fatalf("Failed to start scheduler: %v", err)
	}
	defer schedulerService.Stop()

	// HTTP surface exposing the engine
	router := mux.NewRouter()
	router.HandleFunc("/health", healthCheckHandler).Methods("GET")
	router.HandleFunc("/state", stateHandler(eng)).Methods("GET")
	router.HandleFunc("/refresh", refreshHandler(eng)).Methods("POST")
	router.HandleFunc("/tab/{tab}", tabHandler(eng)).Methods("POST")
	router.HandleFunc("/page/{n}", pageHandler(eng)).Methods("POST")
	router.HandleFunc("/timeframe/{tf}", timeframeHandler(eng)).Methods("POST")
	router.HandleFunc("/mentions/{id}/favorite", favoriteHandler(eng)).Methods("POST")
	if snapshotArchive != nil {
		router.HandleFunc("/snapshots", snapshotListHandler(snapshotArchive)).Methods("GET")
		router.HandleFunc("/snapshots/{name}", snapshotGetHandler(snapshotArchive)).Methods("GET")
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logrus.Infof("HTTP server starting on port %s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("HTTP server failed: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logrus.Errorf("Server forced to shutdown: %v", err)
	}

	logrus.Info("Server exited")
}

func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy","timestamp":"` + time.Now().Format(time.RFC3339) + `"}`))
}

func stateHandler(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, eng.Snapshot())
	}
}

func refreshHandler(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := eng.Refresh(r.Context()); err != nil {
			writeError(w, http.StatusBadGateway, err)
			return
		}
		writeJSON(w, http.StatusOK, eng.Snapshot())
	}
}

func tabHandler(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tab := models.Tab(mux.Vars(r)["tab"])
		if !tab.Valid() {
			writeError(w, http.StatusBadRequest, fmt.Errorf("unknown tab %q", tab))
			return
		}
		if err := eng.SetTab(r.Context(), tab); err != nil {
			writeError(w, http.StatusBadGateway, err)
			return
		}
		writeJSON(w, http.StatusOK, eng.Snapshot())
	}
}

func pageHandler(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := strconv.Atoi(mux.Vars(r)["n"])
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("page must be a number"))
			return
		}
		if err := eng.GoToPage(r.Context(), n); err != nil {
			writeError(w, http.StatusBadGateway, err)
			return
		}
		writeJSON(w, http.StatusOK, eng.Snapshot())
	}
}

func timeframeHandler(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tf := models.Timeframe(mux.Vars(r)["tf"])
		if err := eng.SetTimeframe(r.Context(), tf); err != nil {
			writeError(w, http.StatusBadGateway, err)
			return
		}
		writeJSON(w, http.StatusOK, eng.Snapshot())
	}
}

func favoriteHandler(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		if err := eng.ToggleFavorite(r.Context(), id); err != nil {
			writeError(w, http.StatusConflict, err)
			return
		}
		writeJSON(w, http.StatusOK, eng.Snapshot())
	}
}

func snapshotListHandler(arc archive.ArchiveInterface) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		names, err := arc.List("stats-")
		if err != nil {
			writeError(w, http.StatusBadGateway, err)
			return
		}
		if names == nil {
			names = []string{}
		}
		writeJSON(w, http.StatusOK, map[string][]string{"snapshots": names})
	}
}

func snapshotGetHandler(arc archive.ArchiveInterface) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := arc.Retrieve(mux.Vars(r)["name"])
		if err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(data)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.Errorf("Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
