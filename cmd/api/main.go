package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"ethos/api/internal/app"
	"ethos/api/internal/blob"
	"ethos/api/internal/classify"
	"ethos/api/internal/config"
	"ethos/api/internal/render"
	"ethos/api/internal/search"
	"ethos/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	dataStore := store.NewPostgresStore(db)

	blobs, err := blob.New(ctx, blob.Options{
		Endpoint:      cfg.MinioEndpoint,
		AccessKey:     cfg.MinioAccessKey,
		SecretKey:     cfg.MinioSecretKey,
		Bucket:        cfg.MinioBucket,
		UseSSL:        cfg.MinioUseSSL,
		PublicBaseURL: cfg.PublicBaseURL,
	})
	if err != nil {
		log.Fatalf("object storage connection failed: %v", err)
	}

	renderer := render.NewService()

	var queue *classify.Queue
	if strings.TrimSpace(cfg.RedisURL) != "" {
		queue, err = classify.NewQueue(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer queue.Close()
	}

	workerCtx, stopWorker := context.WithCancel(ctx)
	defer stopWorker()
	if queue != nil && strings.TrimSpace(cfg.ClassifierURL) != "" {
		worker := classify.NewWorker(queue, classify.NewClient(cfg.ClassifierURL), dataStore)
		go worker.Run(workerCtx)
		log.Printf("classification worker started against %s", cfg.ClassifierURL)
	} else {
		log.Printf("classification worker disabled (redis or classifier URL not configured)")
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, dataStore)

	var service *app.Service
	if queue != nil {
		service = app.New(cfg, dataStore, blobs, renderer, queue, searchService)
	} else {
		service = app.New(cfg, dataStore, blobs, renderer, nil, searchService)
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Ethos API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	stopWorker()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
