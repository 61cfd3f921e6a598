package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/forgehook/forgehook/internal/api/middleware"
	"github.com/forgehook/forgehook/internal/api/rest"
	"github.com/forgehook/forgehook/internal/api/websocket"
	"github.com/forgehook/forgehook/internal/config"
	"github.com/forgehook/forgehook/internal/invoke"
	"github.com/forgehook/forgehook/internal/lifecycle"
	"github.com/forgehook/forgehook/internal/models"
	"github.com/forgehook/forgehook/internal/pkg/logger"
	"github.com/forgehook/forgehook/internal/pkg/tracing"
	"github.com/forgehook/forgehook/internal/port"
	"github.com/forgehook/forgehook/internal/registry"
	"github.com/forgehook/forgehook/internal/repository"
	"github.com/forgehook/forgehook/internal/runtime"
	"github.com/forgehook/forgehook/internal/runtime/container"
	"github.com/forgehook/forgehook/internal/runtime/embedded"
	"github.com/forgehook/forgehook/internal/runtime/gateway"

	"github.com/forgehook/forgehook/migrations"
)

func main() {
	log.Println("forgehook control plane starting...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed loading config: %v", err)
	}
	log.Printf("config loaded: port=%d db=%s auth_mode=%s", cfg.Port, cfg.DatabasePath, cfg.AuthMode)

	tracingShutdown, err := tracing.Init(cfg.TracingServiceName, cfg.TracingEndpoint, cfg.TracingSampleRate)
	if err != nil {
		log.Printf("warning: failed initializing tracing: %v", err)
		tracingShutdown = func() {}
	}
	defer tracingShutdown()

	repo, err := repository.NewSQLiteRepository(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("failed opening database: %v", err)
	}
	defer repo.Close()

	migrationSQL, err := migrations.FS.ReadFile("0001_init.sql")
	if err != nil {
		log.Fatalf("failed reading embedded migration: %v", err)
	}
	if err := repo.RunMigrations(string(migrationSQL)); err != nil {
		log.Fatalf("failed running migrations: %v", err)
	}
	if err := repo.SeedBuiltinIntegrations(ctx); err != nil {
		log.Printf("warning: failed seeding builtin integrations: %v", err)
	}

	allocator := port.NewAllocator(cfg.PluginPortRangeStart, cfg.PluginPortRangeEnd)
	seedAllocatorFromExistingInstances(ctx, repo, allocator)

	supervisor, err := container.NewSupervisor(cfg.DockerHost, cfg.ForgehookNetwork, allocator)
	if err != nil {
		log.Fatalf("failed initializing container supervisor: %v", err)
	}
	embeddedHost := embedded.NewHost()
	gatewayDriver := gateway.NewDriver()

	drivers := map[models.Runtime]runtime.Driver{
		models.RuntimeContainer: supervisor,
		models.RuntimeEmbedded:  embeddedHost,
		models.RuntimeGateway:   gatewayDriver,
	}

	hub := websocket.NewHub(ctx)
	go hub.Run()

	manager := lifecycle.NewManager(repo, drivers, hub)

	aggregator := registry.NewAggregator(repo, cfg.RegistryRefreshInterval, logger.StdLogger())
	go aggregator.Run(ctx)

	invokeRouter := invoke.NewRouter(repo, drivers)

	containerPoller := container.NewPoller(supervisor, manager, manager, cfg.ContainerHealthInterval)
	go containerPoller.Run(ctx)

	gatewayProber := gateway.NewProber(gatewayDriver, manager, manager, cfg.GatewayHealthInterval)
	go gatewayProber.Run(ctx)

	healthzHandler := rest.NewHealthzHandler(repo, cfg.ProductionMode)
	pluginsHandler := rest.NewPluginsHandler(manager, repo, supervisor)
	marketplaceHandler := rest.NewMarketplaceHandler(repo, aggregator, manager)
	packagesHandler := rest.NewPackagesHandler(repo, manager, supervisor, cfg.MaxPackageSizeBytes)
	integrationsHandler := rest.NewIntegrationsHandler(repo)
	apiKeysHandler := rest.NewApiKeysHandler(repo)
	wsHandler := websocket.NewHandler(hub)

	router := mux.NewRouter()

	router.HandleFunc("/plugins", pluginsHandler.List).Methods(http.MethodGet)
	router.HandleFunc("/plugins/{id}", pluginsHandler.Get).Methods(http.MethodGet)
	router.HandleFunc("/plugins/install", pluginsHandler.Install).Methods(http.MethodPost)
	router.HandleFunc("/plugins/{id}/start", pluginsHandler.Start).Methods(http.MethodPost)
	router.HandleFunc("/plugins/{id}/stop", pluginsHandler.Stop).Methods(http.MethodPost)
	router.HandleFunc("/plugins/{id}/restart", pluginsHandler.Restart).Methods(http.MethodPost)
	router.HandleFunc("/plugins/{id}/uninstall", pluginsHandler.Uninstall).Methods(http.MethodPost)
	router.HandleFunc("/plugins/{id}/update", pluginsHandler.Update).Methods(http.MethodPost)
	router.HandleFunc("/plugins/{id}/rollback", pluginsHandler.Rollback).Methods(http.MethodPost)
	router.HandleFunc("/plugins/{id}/updates", pluginsHandler.Updates).Methods(http.MethodGet)
	router.HandleFunc("/plugins/{id}/logs", pluginsHandler.Logs).Methods(http.MethodGet)
	router.HandleFunc("/plugins/{id}/invoke/{function}", invokeRouter.Invoke).Methods(http.MethodPost)
	router.HandleFunc("/plugins/{id}/proxy/{rest:.*}", invokeRouter.Proxy)

	router.HandleFunc("/marketplace/sources", marketplaceHandler.ListSources).Methods(http.MethodGet)
	router.HandleFunc("/marketplace/sources", marketplaceHandler.AddSource).Methods(http.MethodPost)
	router.HandleFunc("/marketplace/sources/{id}", marketplaceHandler.DeleteSource).Methods(http.MethodDelete)
	router.HandleFunc("/marketplace/sources/{id}/refresh", marketplaceHandler.RefreshSource).Methods(http.MethodPost)
	router.HandleFunc("/marketplace/github-install", marketplaceHandler.GitHubInstall).Methods(http.MethodPost)
	router.HandleFunc("/marketplace/{sourceId}/{pluginId}/install", marketplaceHandler.InstallFromCatalog).Methods(http.MethodPost)
	router.HandleFunc("/marketplace/{sourceId}/{pluginId}", marketplaceHandler.Entry).Methods(http.MethodGet)
	router.HandleFunc("/marketplace", marketplaceHandler.Catalog).Methods(http.MethodGet)

	router.HandleFunc("/packages/export/{id}", packagesHandler.Export).Methods(http.MethodPost)
	router.HandleFunc("/packages/inspect", packagesHandler.Inspect).Methods(http.MethodPost)
	router.HandleFunc("/packages/import", packagesHandler.Import).Methods(http.MethodPost)

	router.HandleFunc("/integrations", integrationsHandler.List).Methods(http.MethodGet)
	router.HandleFunc("/integrations", integrationsHandler.Create).Methods(http.MethodPost)
	router.HandleFunc("/integrations/{id}", integrationsHandler.Update).Methods(http.MethodPatch)
	router.HandleFunc("/integrations/{id}", integrationsHandler.Delete).Methods(http.MethodDelete)

	router.HandleFunc("/api-keys", apiKeysHandler.List).Methods(http.MethodGet)
	router.HandleFunc("/api-keys", apiKeysHandler.Create).Methods(http.MethodPost)
	router.HandleFunc("/api-keys/{id}", apiKeysHandler.Delete).Methods(http.MethodDelete)

	router.HandleFunc("/events", wsHandler.ServeWS).Methods(http.MethodGet)

	router.HandleFunc("/health", healthzHandler.Live).Methods(http.MethodGet)
	router.HandleFunc("/ready", healthzHandler.Ready).Methods(http.MethodGet)
	router.HandleFunc("/status", healthzHandler.Status).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "not found"})
	})

	router.Use(middleware.SecureHeaders)
	router.Use(middleware.RequestID)
	router.Use(middleware.StructuredLog)
	router.Use(middleware.MaxBodySize(middleware.DefaultStandardMaxBodyBytes, cfg.MaxPackageSizeBytes))
	router.Use(middleware.APIKeyAuth(repo, cfg.AuthMode))

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "X-API-Key"},
		AllowCredentials: true,
	}).Handler(router)

	topHandler := http.Handler(corsHandler)
	if cfg.TracingEnabled {
		topHandler = otelhttp.NewHandler(corsHandler, "forgehook")
	}

	readTimeout := time.Duration(cfg.RequestTimeoutSec) * time.Second
	shutdownTimeout := time.Duration(cfg.ShutdownTimeoutSec) * time.Second

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      topHandler,
		ReadTimeout:  readTimeout,
		WriteTimeout: readTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down...")
	hub.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server forced to shutdown: %v", err)
	}
	log.Println("shutdown complete")
}

// seedAllocatorFromExistingInstances rebuilds the in-memory port set from
// persisted container/gateway-with-local-proxy instances, so a restart
// never double-allocates a port already bound to a running plugin.
func seedAllocatorFromExistingInstances(ctx context.Context, repo repository.Repository, allocator *port.Allocator) {
	instances, err := repo.ListPlugins(ctx)
	if err != nil {
		log.Printf("warning: failed listing plugins to seed port allocator: %v", err)
		return
	}
	ports := make([]int, 0, len(instances))
	for _, inst := range instances {
		if inst.Port != nil {
			ports = append(ports, *inst.Port)
		}
	}
	allocator.Seed(ports)
}
