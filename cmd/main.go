package main

import (
	"bytes"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"

	"webagent/internal/config"
	"webagent/internal/core/automation"
	"webagent/internal/core/extract"
	"webagent/internal/core/job"
	"webagent/internal/core/workflow"
	"webagent/internal/logger"
	"webagent/internal/metrics"
	rds "webagent/internal/platform/redis"
	tasks "webagent/internal/platform/tasks"
	"webagent/internal/server"
	"webagent/internal/worker"
)

func main() {
	cfg := config.Load()
	log.Printf("[webagent] starting at %s (env=%s)\n", cfg.HTTPAddr, cfg.AppEnv)

	logr := logger.New("main")
	metrics.Init()

	redisSvc, err := rds.New(rds.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		log.Fatal(err)
	}
	defer redisSvc.Close()

	taskClient := tasks.New(redisSvc)
	defer taskClient.Close()

	// Core services
	jobSvc := job.NewService(redisSvc)
	registry := extract.NewRegistry()
	extractor := extract.NewClient(cfg.LLM, registry)
	bridge := automation.NewBridge(cfg.AutomatorBin, cfg.SessionDir)
	controller := workflow.NewController(bridge, extractor)

	// One worker server per queue
	sched := worker.NewScheduler(cfg.Queues, redisSvc, jobSvc, taskClient, controller)
	if err := sched.Start(); err != nil {
		log.Fatalf("start scheduler: %v", err)
	}

	// HTTP server
	app := fiber.New(fiber.Config{
		AppName: "Webagent Engine",
		JSONEncoder: func(v interface{}) ([]byte, error) {
			var buf bytes.Buffer
			encoder := json.NewEncoder(&buf)
			encoder.SetEscapeHTML(false)
			if err := encoder.Encode(v); err != nil {
				return nil, err
			}
			return buf.Bytes(), nil
		},
	})

	deps := server.Dependencies{
		Jobs:       jobSvc,
		Sched:      sched,
		Redis:      redisSvc,
		LLMBaseURL: cfg.LLM.BaseURL,
	}
	healthHandler := server.RegisterRoutes(app, deps)

	// Mark ready once the queue servers have settled
	go func() {
		time.Sleep(5 * time.Second)
		healthHandler.SetReady()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-shutdown
		logr.LogInfo("Shutting down...")
		sched.Shutdown()
		_ = app.ShutdownWithTimeout(5 * time.Second)
	}()

	if err := app.Listen(cfg.HTTPAddr); err != nil {
		log.Fatalf("server listen: %v", err)
	}
}
