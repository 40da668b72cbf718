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

	"github.com/joho/godotenv"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/rajpoot-vikas/computer-use-preview-kogo/internal/api"
	"github.com/rajpoot-vikas/computer-use-preview-kogo/internal/bus"
	"github.com/rajpoot-vikas/computer-use-preview-kogo/internal/config"
	"github.com/rajpoot-vikas/computer-use-preview-kogo/internal/provision"
	"github.com/rajpoot-vikas/computer-use-preview-kogo/internal/ratelimit"
	"github.com/rajpoot-vikas/computer-use-preview-kogo/internal/relay"
	"github.com/rajpoot-vikas/computer-use-preview-kogo/internal/session"
	"github.com/rajpoot-vikas/computer-use-preview-kogo/internal/view"
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	cfg := config.Load()

	log.Println("Starting computer-use relay...")

	views := view.NewFanout()
	registry := relay.NewRegistry()

	backend, cleanup, err := newBackend(cfg, registry, views)
	if err != nil {
		log.Fatalf("Failed to create channel backend: %v", err)
	}
	defer cleanup()

	provisioner, err := newProvisioner(cfg)
	if err != nil {
		log.Fatalf("Failed to create provisioner: %v", err)
	}

	sessionMgr := session.NewManager(backend, views, provisioner, cfg.MaxSessions, cfg.CmdTimeout)
	log.Println("✓ Session manager initialized")

	rateLimiter := ratelimit.NewLimiter(cfg.RateLimitPerHour, 10)
	log.Printf("✓ Rate limiter initialized (%d req/hour per caller)", cfg.RateLimitPerHour)

	handler := api.NewHandler(sessionMgr, backend, views)
	router := handler.SetupRoutes(rateLimiter, cfg.RateLimitPerHour, cfg.APIKey)
	log.Println("✓ HTTP routes configured")

	srv := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Printf("🚀 Server starting on http://localhost:%d", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server gracefully...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped cleanly")
}

// newBackend selects the channel backend from the signaling mode.
func newBackend(cfg *config.Config, registry *relay.Registry, views *view.Fanout) (relay.Backend, func(), error) {
	if cfg.UseBroker {
		log.Printf("Using broker signaling at %s", cfg.NATSURL)
		natsBus, err := bus.NewNATSBus(cfg.NATSURL, "computer-use-relay")
		if err != nil {
			return nil, nil, err
		}
		log.Println("✓ Broker connection established")
		return relay.NewBrokerBackend(natsBus, registry, views), func() { natsBus.Close() }, nil
	}

	log.Println("Using local signaling (docker exec)")
	runner, err := relay.NewDockerRunner()
	if err != nil {
		return nil, nil, err
	}
	return relay.NewLocalBackend(runner, views), func() { runner.Close() }, nil
}

// newProvisioner selects the worker provisioning strategy: a managed
// Kubernetes Job when JOB_NAME is configured, local containers otherwise.
func newProvisioner(cfg *config.Config) (provision.Provisioner, error) {
	if cfg.JobName != "" {
		restCfg, err := rest.InClusterConfig()
		if err != nil {
			restCfg, err = clientcmd.BuildConfigFromFlags("", os.Getenv("KUBECONFIG"))
			if err != nil {
				return nil, fmt.Errorf("kubernetes config: %w", err)
			}
		}
		client, err := kubernetes.NewForConfig(restCfg)
		if err != nil {
			return nil, fmt.Errorf("kubernetes client: %w", err)
		}
		log.Printf("✓ Managed-job provisioner initialized (job %s/%s)", cfg.JobNamespace, cfg.JobName)
		return provision.NewJobProvisioner(client, cfg.JobNamespace, cfg.JobName, cfg.JobImage, cfg.ProjectID, cfg.UseBroker), nil
	}

	local, err := provision.NewLocalProvisioner(cfg.WorkerImage, cfg.ProjectID, cfg.UseBroker)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	log.Println("⏳ Ensuring worker image is available...")
	if err := local.EnsureImage(ctx); err != nil {
		return nil, fmt.Errorf("ensure worker image: %w", err)
	}
	log.Println("✓ Local provisioner initialized")
	return local, nil
}
