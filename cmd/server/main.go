package main

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/ecowatch/backend/internal/api"
	"github.com/ecowatch/backend/internal/batch"
	"github.com/ecowatch/backend/internal/config"
	"github.com/ecowatch/backend/internal/detect"
	"github.com/ecowatch/backend/internal/enrich"
	"github.com/ecowatch/backend/internal/pipeline"
	"github.com/ecowatch/backend/internal/storage"
)

// Version info (set during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	exePath, err := os.Executable()
	if err != nil {
		fmt.Printf("Failed to get executable path: %v\n", err)
		os.Exit(1)
	}

	configPath := filepath.Join(filepath.Dir(exePath), "ecowatch.yaml")
	if env := os.Getenv("ECOWATCH_CONFIG"); env != "" {
		configPath = env
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		fmt.Printf("Failed to create directories: %v\n", err)
		os.Exit(1)
	}

	// Initialize payload storage
	store, err := storage.NewLocalStore(cfg.Storage.UploadDirectory)
	if err != nil {
		fmt.Printf("Failed to initialize storage: %v\n", err)
		os.Exit(1)
	}

	requestTimeout := time.Duration(cfg.Services.RequestTimeoutSec) * time.Second

	// Remote service clients
	detector := detect.NewClient(cfg.Services.DetectionURL, requestTimeout)
	enrichClient := enrich.NewClient(
		cfg.Services.EnrichmentURL,
		requestTimeout,
		cfg.Enrichment.BBoxDelta,
		time.Duration(cfg.Enrichment.LookbackDays)*24*time.Hour,
	)
	cache := enrich.NewCache(enrichClient, cfg.Enrichment.CacheSize)

	// Batch pipeline
	session := batch.NewSession(store, cfg.Batch.MaxItems, cfg.Batch.AcceptedTypes)
	collector := batch.NewCollector()
	runner := pipeline.NewRunner(session, store, detector, cache, collector,
		time.Duration(cfg.Batch.PostProcessTickMs)*time.Millisecond)

	// API handlers
	h := api.NewHandler(session, runner, collector)
	wsHandler := api.NewWebSocketHandler(session)
	runner.OnUpdate(wsHandler.BroadcastItem)

	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = api.ErrorHandler

	e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Skipper: func(c echo.Context) bool {
			path := c.Request().URL.Path
			return strings.HasSuffix(path, "/status") || path == "/api/health"
		},
	}))

	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		StackSize: 1024 * 4,
	}))

	e.Use(middleware.BodyLimit(cfg.Server.BodyLimit))

	if cfg.Server.EnableCORS {
		origins := strings.Split(cfg.Server.AllowOrigins, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		if len(origins) == 0 || (len(origins) == 1 && origins[0] == "") {
			origins = []string{"*"}
		}
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: origins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
		}))
	}

	h.RegisterRoutes(e, wsHandler)

	s := &http.Server{
		Addr:         cfg.GetServerAddr(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	fmt.Printf("\n")
	fmt.Printf("EcoWatch Backend %s (built %s)\n", Version, BuildTime)
	fmt.Printf("  Config:     %s\n", configPath)
	fmt.Printf("  Listen:     http://%s\n", cfg.GetServerAddr())
	fmt.Printf("  Detection:  %s\n", cfg.Services.DetectionURL)
	fmt.Printf("  Enrichment: %s\n", cfg.Services.EnrichmentURL)
	fmt.Printf("\n")

	e.Logger.Fatal(e.StartServer(s))
}
