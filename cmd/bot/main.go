package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/thanhnguyen96/discord-bot-pinky/internal/config"
	"github.com/thanhnguyen96/discord-bot-pinky/internal/database"
	"github.com/thanhnguyen96/discord-bot-pinky/internal/discord"
	"github.com/thanhnguyen96/discord-bot-pinky/internal/handler"
	"github.com/thanhnguyen96/discord-bot-pinky/internal/middleware"
	"github.com/thanhnguyen96/discord-bot-pinky/internal/repository"
	"github.com/thanhnguyen96/discord-bot-pinky/internal/service"
)

func main() {
	cfg := config.Load()

	// Database
	db, err := database.NewPool(context.Background(), cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := database.RunMigrations(context.Background(), db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	log.Println("Migrations applied successfully")

	// Repositories
	historyRepo := repository.NewChatHistoryRepository(db)
	settingsRepo := repository.NewSettingsRepository(db)

	// Services
	responder := service.NewOpenAIResponder(cfg.AIAPIKey, cfg.AIBaseURL, cfg.AIModel)
	chatSvc := service.NewChatService(historyRepo, responder, cfg.MaxHistoryMessages)
	state := service.NewChannelState(settingsRepo)

	// Discord bot
	bot, err := discord.NewBot(cfg, chatSvc, state, historyRepo)
	if err != nil {
		log.Fatalf("Failed to create Discord bot: %v", err)
	}
	if err := bot.Start(); err != nil {
		log.Fatalf("Failed to connect to Discord: %v", err)
	}

	// Ops HTTP surface
	app := fiber.New(fiber.Config{
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  30 * time.Second,
	})

	app.Use(recover.New())
	app.Use(middleware.Logger())

	healthH := handler.NewHealthHandler(db, bot)
	app.Get("/health", healthH.Health)
	app.Get("/ready", healthH.Ready)

	v1 := app.Group("/api/v1")

	statusH := handler.NewStatusHandler(chatSvc, state, historyRepo)
	v1.Get("/status", middleware.OpsLimit(30, time.Minute), statusH.Status)

	admin := v1.Group("/admin", middleware.AdminKey(cfg.AdminKey))
	admin.Post("/channels/:id/reset", statusH.ResetChannel)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Fatalf("Server error: %v", err)
		}
	}()

	log.Printf("Pinky bot running, ops API on :%s (%s)", cfg.Port, cfg.Env)

	<-quit
	log.Println("Shutting down...")
	bot.Stop()
	_ = app.ShutdownWithTimeout(5 * time.Second)
	log.Println("Stopped")
}
