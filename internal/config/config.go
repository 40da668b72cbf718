// Package config reads the process configuration from the environment.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds everything the server needs to wire itself up.
type Config struct {
	// Port the HTTP server listens on.
	Port int

	// ProjectID is handed to workers as PUBSUB_PROJECT_ID.
	ProjectID string

	// UseBroker selects the broker channel backend; false means the
	// local synchronous backend.
	UseBroker bool

	// NATSURL is the broker address when UseBroker is set.
	NATSURL string

	// JobName selects the managed-job provisioning strategy when
	// non-empty; otherwise workers run as local containers.
	JobName      string
	JobNamespace string
	JobImage     string

	// WorkerImage is the container image for locally provisioned workers.
	WorkerImage string

	// CmdTimeout is the base deadline for a single command.
	CmdTimeout time.Duration

	// APIKey guards the HTTP surface when non-empty.
	APIKey string

	// MaxSessions caps concurrently active sessions on this process.
	MaxSessions int64

	// RateLimitPerHour caps session creations per caller per hour.
	RateLimitPerHour int
}

// Load builds a Config from environment variables with defaults.
func Load() *Config {
	return &Config{
		Port:             envInt("PORT", 8080),
		ProjectID:        os.Getenv("PROJECT_ID"),
		UseBroker:        envBool("USE_BROKER", false),
		NATSURL:          envString("NATS_URL", "nats://localhost:4222"),
		JobName:          os.Getenv("JOB_NAME"),
		JobNamespace:     envString("JOB_NAMESPACE", "default"),
		JobImage:         envString("JOB_IMAGE", "computer-use-worker:latest"),
		WorkerImage:      envString("WORKER_IMAGE", "computer-use-worker:latest"),
		CmdTimeout:       time.Duration(envInt("CMD_TIMEOUT", 60)) * time.Second,
		APIKey:           os.Getenv("API_KEY"),
		MaxSessions:      int64(envInt("MAX_SESSIONS", 10)),
		RateLimitPerHour: envInt("RATE_LIMIT_PER_HOUR", 100),
	}
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v == "true" || v == "1"
}
