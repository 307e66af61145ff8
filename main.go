package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/rs/cors"

	"github.com/camden-git/watchtowerbackend/alert"
	"github.com/camden-git/watchtowerbackend/config"
	"github.com/camden-git/watchtowerbackend/database"
	"github.com/camden-git/watchtowerbackend/doorbell"
	"github.com/camden-git/watchtowerbackend/handlers"
	"github.com/camden-git/watchtowerbackend/lock"
	"github.com/camden-git/watchtowerbackend/media"
	"github.com/camden-git/watchtowerbackend/pipeline"
	"github.com/camden-git/watchtowerbackend/realtime"
	"github.com/camden-git/watchtowerbackend/repository"
)

const alertWindow = 60 * time.Second

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("Info: No .env file found or error loading: %v", err)
	}
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}
	for _, warning := range cfg.Validate() {
		log.Printf("WARNING: %s", warning)
	}

	storagePaths := []string{cfg.ThumbnailsPath, cfg.KnownFacesPath, filepath.Dir(cfg.DatabasePath)}
	for _, p := range storagePaths {
		log.Printf("Ensuring storage directory exists: %s", p)
		if err := os.MkdirAll(p, 0755); err != nil {
			log.Fatalf("FATAL: Failed to create storage directory %s: %v", p, err)
		}
	}

	db, err := database.InitDB(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize database: %v", err)
	}
	defer db.Close()

	store, err := database.NewStore(db, cfg.ThumbnailsPath)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize event store: %v", err)
	}

	gormDB, err := database.InitGormDB(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize person catalog: %v", err)
	}
	if err := database.AutoMigrateModels(gormDB); err != nil {
		log.Fatalf("FATAL: Failed to migrate person catalog: %v", err)
	}

	personRepo := repository.NewPersonRepository(gormDB, cfg.KnownFacesPath)
	if backfilled, err := personRepo.SyncFromDisk(); err != nil {
		log.Printf("WARNING: person catalog sync failed: %v", err)
	} else if backfilled > 0 {
		log.Printf("Person catalog: backfilled %d person(s) from enrollment images", backfilled)
	}

	detector := media.NewObjectDetector(cfg.DetectorModelPath, cfg.DetectQueueSize)
	defer detector.Close()

	matcher := media.NewFaceMatcher(cfg.FaceDNNNetConfigPath, cfg.FaceDNNNetModelPath,
		cfg.FaceEmbeddingPath, cfg.KnownFacesPath, cfg.FaceMatchTolerance)
	defer matcher.Close()

	lockController := lock.NewController(cfg.LockAPIBase, cfg.LockToken, cfg.LockSecret, cfg.LockDeviceID)

	var alerter *alert.Alerter
	if cfg.AlertBotToken != "" && cfg.AlertChatID != "" {
		alerter = alert.NewAlerter(alert.NewTelegramSender(cfg.AlertBotToken, cfg.AlertChatID), alertWindow)
	} else {
		log.Println("Alerting disabled: ALERT_BOT_TOKEN or ALERT_CHAT_ID not set")
		alerter = alert.NewAlerter(nil, alertWindow)
	}

	hub := realtime.NewHub()
	go hub.Run()

	canUnlock := func(name string) bool {
		person, err := personRepo.GetByName(name)
		if err != nil {
			// enrolled on disk but not cataloged: default allow
			return true
		}
		return person.AutoUnlock
	}

	upstream := doorbell.NewClient(cfg.CameraAPIBase, cfg.CameraToken)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	pollers := []*doorbell.Poller{}

	primaryPoller := doorbell.NewPoller(upstream, cfg.CameraID,
		cfg.FrameFetchRetries, cfg.FrameFetchRetryDelay, media.ExtractFrame)
	pollers = append(pollers, primaryPoller)

	primary := pipeline.NewCoordinator(primaryPoller, detector, matcher, lockController,
		store, canUnlock, alerter, hub, cfg.PollInterval, cfg.UnlockCooldown)
	wg.Add(1)
	go func() {
		defer wg.Done()
		primary.Run(ctx)
	}()

	// the secondary camera watches only: it classifies and records but has no
	// actuator
	if cfg.SecondaryCameraID != "" {
		secondaryPoller := doorbell.NewPoller(upstream, cfg.SecondaryCameraID,
			cfg.FrameFetchRetries, cfg.FrameFetchRetryDelay, media.ExtractFrame)
		pollers = append(pollers, secondaryPoller)

		secondary := pipeline.NewCoordinator(secondaryPoller, detector, matcher, nil,
			store, nil, alerter, hub, cfg.PollInterval, cfg.SecondaryCooldown)
		wg.Add(1)
		go func() {
			defer wg.Done()
			secondary.Run(ctx)
		}()
	}

	r := chi.NewRouter()

	corsOptions := cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173"}, //TODO: configurable
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}
	corsHandler := cors.New(corsOptions)

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(corsHandler.Handler)

	eventHandler := &handlers.EventHandler{Store: store}
	analyticsHandler := &handlers.AnalyticsHandler{Store: store}
	peopleHandler := &handlers.PeopleHandler{Repo: personRepo, Matcher: matcher, FacesDir: cfg.KnownFacesPath}
	thumbnailHandler := &handlers.ThumbnailHandler{ThumbnailsDir: cfg.ThumbnailsPath}
	lockHandler := &handlers.LockHandler{Controller: lockController}
	systemHandler := &handlers.SystemHandler{DB: db, Pollers: pollers, Alerter: alerter}
	timelapseHandler := &handlers.TimelapseHandler{Store: store, ThumbnailsDir: cfg.ThumbnailsPath}

	r.Get("/api/health", systemHandler.Health)

	r.Group(func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler {
			return handlers.BasicAuth(cfg.DashboardUsername, cfg.DashboardPassword, cfg.DashboardPasswordHash, next)
		})

		r.Route("/api", func(r chi.Router) {
			r.Get("/summary", eventHandler.Summary)

			r.Route("/events", func(r chi.Router) {
				r.Get("/", eventHandler.ListEvents)
				r.Get("/{event_id}", eventHandler.GetEvent)
			})

			r.Route("/analytics", func(r chi.Router) {
				r.Get("/stats", analyticsHandler.Stats)
				r.Get("/hourly-heatmap", analyticsHandler.HourlyHeatmap)
				r.Get("/detection-breakdown", analyticsHandler.DetectionBreakdown)
				r.Get("/daily-timeline", analyticsHandler.DailyTimeline)
				r.Get("/peak-hours", analyticsHandler.PeakHours)
			})

			r.Route("/people", func(r chi.Router) {
				r.Get("/", peopleHandler.ListPeople)
				r.Post("/", peopleHandler.EnrollPerson)
				r.Route("/{person_name}", func(r chi.Router) {
					r.Get("/", peopleHandler.GetPerson)
					r.Delete("/", peopleHandler.DeletePerson)
					r.Put("/auto_unlock", peopleHandler.SetAutoUnlock)
				})
			})
			r.Get("/faces/{filename}", peopleHandler.ServePhoto)

			r.Get("/thumbnails/{filename}", thumbnailHandler.ServeThumbnail)

			r.Route("/lock", func(r chi.Router) {
				r.Post("/unlock", lockHandler.Unlock)
				r.Post("/lock", lockHandler.Lock)
				r.Get("/status", lockHandler.Status)
			})

			r.Get("/battery", systemHandler.Battery)
			r.Route("/alerts", func(r chi.Router) {
				r.Get("/status", systemHandler.AlertStatus)
				r.Post("/mute", systemHandler.MuteAlerts)
				r.Post("/unmute", systemHandler.UnmuteAlerts)
			})
			r.Post("/config/reload", systemHandler.ReloadConfig)

			r.Get("/timelapse/{date}", timelapseHandler.Generate)
		})

		r.Get("/ws", hub.ServeWS)
	})

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Printf("Server listening on %s", cfg.ListenAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("FATAL: HTTP server failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutdown signal received, stopping pipelines")
	wg.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}
	log.Println("Shutdown complete")
}
