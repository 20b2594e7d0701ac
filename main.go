package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"

	"archmesh-cloud/agents"
	"archmesh-cloud/llm"
	"archmesh-cloud/streams"
	"archmesh-cloud/trail"
	"archmesh-cloud/workflow"
)

type HealthResponse struct {
	OK      bool   `json:"ok"`
	Version string `json:"version"`
	Service string `json:"service"`
}

const VERSION = "0.0.1"

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	log.Println("Starting ArchMesh Cloud Server...")

	ctx := context.Background()
	redisClient, err := streams.Init(ctx)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	log.Println("Connected to Redis")

	// Provider table and strategy inputs.
	table, err := llm.LoadTableFromEnv()
	if err != nil {
		log.Fatalf("Failed to load provider table: %v", err)
	}
	creds := llm.EnvCredentials{}
	env := llm.EnvironmentFromEnv()
	providerTimeout := time.Duration(parseIntOrDefault(os.Getenv("PROVIDER_TIMEOUT_SECONDS"), 60)) * time.Second
	registry := llm.NewRegistryFromTable(table, creds, providerTimeout)
	log.Printf("Provider strategy ready (env=%s, %d providers, timeout=%s)", env, len(table.Providers), providerTimeout)

	// Interaction trail and agent runner.
	bus := trail.NewBus(redisClient)
	runner := agents.NewRunner(registry, table, creds, env, providerTimeout, bus)

	// Workflow engine over Redis-backed session state.
	store := workflow.NewRedisStore(redisClient)
	maxRevisions := parseIntOrDefault(os.Getenv("MAX_REVISION_CYCLES"), 3)
	engine := workflow.NewEngine(store, runner, bus, maxRevisions)

	r := mux.NewRouter()

	// Health check endpoint
	r.HandleFunc("/healthz", healthHandler).Methods("GET")
	r.HandleFunc("/", rootHandler).Methods("GET")

	registerWorkflowRoutes(r, engine)
	registerTrailRoutes(r, bus)
	registerProviderRoutes(r, table, creds, env, runner)

	// Configure server
	port := getEnv("PORT", "8080")
	srv := &http.Server{
		Handler:      r,
		Addr:         "0.0.0.0:" + port,
		WriteTimeout: 180 * time.Second,
		ReadTimeout:  180 * time.Second,
	}

	log.Printf("ArchMesh Cloud Server v%s starting on %s", VERSION, srv.Addr)

	// Setup graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	response := HealthResponse{
		OK:      true,
		Version: VERSION,
		Service: "archmesh-cloud",
	}

	json.NewEncoder(w).Encode(response)
}

func rootHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	response := map[string]string{
		"message": "ArchMesh Cloud API Server",
		"version": VERSION,
		"docs":    "/docs",
	}

	json.NewEncoder(w).Encode(response)
}

// Helper function to get environment variable with default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseIntOrDefault(raw string, def int) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def
	}
	if n, err := strconv.Atoi(raw); err == nil && n > 0 {
		return n
	}
	return def
}
