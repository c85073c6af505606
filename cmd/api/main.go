package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"churchmap.org/internal/audit"
	"churchmap.org/internal/auth"
	"churchmap.org/internal/directory"
	"churchmap.org/internal/httpapi"
	"churchmap.org/internal/oauth"
	"churchmap.org/internal/obs"
	"churchmap.org/internal/rpc"
	"churchmap.org/internal/store/pg"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	dsn := os.Getenv("CHURCHMAP_PG_DSN")
	if dsn == "" {
		log.Fatal("missing CHURCHMAP_PG_DSN")
	}
	sessionSecret := os.Getenv("CHURCHMAP_SESSION_SECRET")
	if sessionSecret == "" {
		log.Fatal("missing CHURCHMAP_SESSION_SECRET")
	}
	addr := envOr("CHURCHMAP_ADDR", ":8080")
	resourceURL := envOr("CHURCHMAP_RESOURCE_URL", "http://localhost:8080")
	authURL := envOr("CHURCHMAP_AUTH_URL", resourceURL+"/oauth/authorize")

	store, err := pg.Open(dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}

	auditor := audit.NewWriter(store.Audit())
	reads := directory.NewReadService(store)
	writes := directory.NewWriteService(store, auditor)

	oauthSvc := oauth.NewService(store.OAuth())
	tokenSvc := auth.NewTokenService(store.APITokens())
	resolver := auth.NewResolver(oauthSvc, tokenSvc, store.Sessions(), store.Users(),
		auth.NewSessionCodec(sessionSecret))

	dispatcher := rpc.NewDispatcher(reads, writes, tokenSvc, authURL,
		"churchmap-gateway", version, obs.RPCMetrics{})

	api := httpapi.New(httpapi.Config{
		Dispatcher:  dispatcher,
		Resolver:    resolver,
		OAuth:       oauthSvc,
		Ready:       httpapi.ReadyProbe{DB: store.DB()},
		AuthURL:     authURL,
		ResourceURL: resourceURL,
		Version:     version,
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting churchmap-gateway %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	_ = store.Close()
	log.Println("Stopped")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
