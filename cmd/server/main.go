package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"medsim-backend/internal/config"
	"medsim-backend/internal/database"
	"medsim-backend/internal/handlers"
	"medsim-backend/internal/middleware"
	"medsim-backend/internal/repository"
	"medsim-backend/internal/router"
	"medsim-backend/internal/services"
	"medsim-backend/internal/session"
	"medsim-backend/internal/simulation"
	"medsim-backend/internal/websocket"
	"medsim-backend/internal/worker"
)

func main() {
	log.Println("🚀 Starting MedSim Backend...")

	// ──── Step 1: Load Environment Variables ────
	cfg := config.Load()
	log.Println("✓ Environment variables loaded")

	// ──── Step 2: Initialize PostgreSQL Connection Pool ────
	pool, err := database.NewPostgresPool(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("✗ PostgreSQL connection failed: %v", err)
	}
	defer pool.Close()
	log.Println("✓ PostgreSQL connected")

	// ──── Step 3: Initialize Redis Clients ────
	redisClients, err := database.NewRedisClients(cfg.RedisURL)
	if err != nil {
		log.Fatalf("✗ Redis connection failed: %v", err)
	}
	defer redisClients.Close()
	log.Println("✓ Redis connected")

	// ──── Step 4: Run Database Migrations ────
	if err := database.RunMigrations(pool, "migrations"); err != nil {
		log.Fatalf("✗ Database migration failed: %v", err)
	}
	log.Println("✓ Database migrations applied")

	// ──── Initialize Repositories ────
	userRepo := repository.NewUserRepo(pool)
	scenarioRepo := repository.NewScenarioRepo(pool)
	sessionRepo := repository.NewSessionRepo(pool)
	eventRepo := repository.NewEventRepo(pool)
	actionRepo := repository.NewActionRepo(pool)
	conversationRepo := repository.NewConversationRepo(pool)

	// ──── Step 5: Initialize Patient Dialogue Oracle ────
	patientAI, err := services.NewPatientAIService(cfg.GeminiAPIKey, cfg.GeminiConcurrentReqs)
	if err != nil {
		log.Fatalf("✗ Gemini client initialization failed: %v", err)
	}
	defer patientAI.Close()
	log.Println("✓ Patient dialogue oracle initialized")

	// ──── Initialize Simulation Core ────
	modelRegistry := simulation.NewModelRegistry()
	physiology := simulation.NewEngine(modelRegistry)
	drugBank := services.NewDrugBank()
	processor := simulation.NewProcessor(drugBank)
	assessor := simulation.NewAssessor()
	scheduler := session.NewScheduler()

	// ──── Initialize Services ────
	jwtAuth := middleware.NewJWTAuth(cfg.JWTSecret)
	authService := services.NewAuthService(userRepo, redisClients.Queue, jwtAuth)
	accessPolicy := services.NewAccessPolicyService(userRepo)
	publisher := services.NewSessionUpdatePublisher(redisClients.Queue)

	manager := session.NewManager(
		sessionRepo,
		eventRepo,
		actionRepo,
		conversationRepo,
		scenarioRepo,
		userRepo,
		accessPolicy,
		patientAI,
		publisher,
		scheduler,
		physiology,
		processor,
		assessor,
	)
	log.Println("✓ Session manager initialized")

	// ──── Initialize Handlers ────
	authHandler := handlers.NewAuthHandler(authService)
	scenarioHandler := handlers.NewScenarioHandler(scenarioRepo)
	sessionHandler := handlers.NewSessionHandler(manager)

	// ──── Step 6: Start Real-Time Session Monitor ────
	monitor := worker.NewMonitor(
		redisClients.Queue,
		manager,
		sessionRepo,
		time.Duration(cfg.MonitorIntervalSeconds)*time.Second,
		cfg.MonitorWorkers,
	)
	monitor.Start()
	log.Printf("✓ Session monitor started (%d workers)", cfg.MonitorWorkers)

	// ──── Step 7: Start WebSocket Hub ────
	wsHub := websocket.NewHub(redisClients.PubSub, cfg.JWTSecret, manager)
	log.Println("✓ WebSocket hub started")

	// ──── Step 8: Start HTTP Server ────
	r := router.New(
		jwtAuth,
		authHandler,
		scenarioHandler,
		sessionHandler,
		wsHub,
		cfg.FrontendURL,
	)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down...")
		monitor.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	}()

	log.Printf("✓ MedSim Backend ready on http://localhost:%s", cfg.Port)
	log.Printf("  API: http://localhost:%s/api/v1", cfg.Port)
	log.Printf("  WS:  ws://localhost:%s/api/v1/ws/sessions/{id}", cfg.Port)

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}
}
