package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"golang.org/x/time/rate"

	"github.com/emukit/gbasync/internal/auth"
	"github.com/emukit/gbasync/internal/cloud"
	"github.com/emukit/gbasync/internal/config"
	"github.com/emukit/gbasync/internal/emulator"
	"github.com/emukit/gbasync/internal/handlers"
	"github.com/emukit/gbasync/internal/kvstore"
	"github.com/emukit/gbasync/internal/logger"
	"github.com/emukit/gbasync/internal/middleware"
	"github.com/emukit/gbasync/internal/service"
	"github.com/emukit/gbasync/internal/state"
	"github.com/emukit/gbasync/internal/statestore"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.Environment)

	log.Info().
		Str("dataDir", cfg.DataDirectory).
		Str("addr", cfg.ServerHost+":"+cfg.ServerPort).
		Msg("gbasync-service - GBA save synchronization service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	kv, err := kvstore.Open(cfg.DataDirectory)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open data store")
	}
	stateStore, err := statestore.Open(filepath.Join(cfg.DataDirectory, "states"))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open state store")
	}

	tokens := auth.NewTokenStore(kv)
	relay := &handlers.SignInRelay{}
	flow := auth.NewFlow(auth.Config{
		ClientID:    cfg.ClientID,
		RedirectURI: cfg.RedirectURI,
	}, tokens, auth.NewSignal(), relay, log)

	cloudClient := cloud.New(cloud.Config{}, tokens, flow, log)
	syncService := service.NewSyncService(cloudClient, kv, log)
	stateManager := state.NewManager(emulator.Detached{}, stateStore, log)

	if cfg.WatchDir != "" {
		watcher := service.NewSaveWatcher(syncService, cfg.WatchDir, log)
		if err := watcher.Start(ctx); err != nil {
			log.Fatal().Err(err).Str("dir", cfg.WatchDir).Msg("Failed to watch save directory")
		}
		defer watcher.Close()
	}

	authHandler := handlers.NewAuthHandler(flow, tokens, relay, log)
	saveHandler := handlers.NewSaveHandler(syncService, stateManager, log)

	rateLimiter := middleware.NewRateLimiter(rate.Limit(5), 5)

	http.HandleFunc("/api/auth/status", middleware.CORS(rateLimiter.Limit(authHandler.GetStatus)))
	http.HandleFunc("/api/auth/url", middleware.CORS(rateLimiter.Limit(authHandler.GetAuthURL)))
	http.HandleFunc("/api/auth/complete", middleware.CORS(rateLimiter.Limit(authHandler.Complete)))
	http.HandleFunc("/api/auth/signout", middleware.CORS(rateLimiter.Limit(authHandler.SignOut)))

	http.HandleFunc("/api/saves", middleware.CORS(rateLimiter.Limit(saveHandler.ListSaves)))
	http.HandleFunc("/api/saves/", middleware.CORS(rateLimiter.Limit(saveHandler.HandleSave)))
	http.HandleFunc("/api/states/", middleware.CORS(rateLimiter.Limit(saveHandler.HandleStates)))
	http.HandleFunc("/api/bios", middleware.CORS(rateLimiter.Limit(saveHandler.HandleBIOS)))

	// Serve the frontend with SPA fallback.
	staticDir := os.Getenv("GBASYNC_STATIC_DIR")
	if staticDir == "" {
		staticDir = "./static"
	}
	http.HandleFunc("/web/", func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path[4:]
		if _, err := os.Stat(staticDir + path); os.IsNotExist(err) {
			http.ServeFile(w, r, staticDir+"/index.html")
			return
		}
		http.StripPrefix("/web", http.FileServer(http.Dir(staticDir))).ServeHTTP(w, r)
	})
	http.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if len(r.URL.Path) >= 4 && (r.URL.Path[:4] == "/api" || r.URL.Path[:4] == "/web") {
			http.NotFound(w, r)
			return
		}
		http.Redirect(w, r, "/web"+r.URL.Path, http.StatusMovedPermanently)
	})

	addr := fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort)
	log.Info().Str("addr", addr).Msg("Starting server")
	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Fatal().Err(err).Msg("Server failed to start")
	}
}
