// Package provision starts worker processes for sessions. Two
// strategies honor the same contract: a managed Kubernetes Job for
// cluster deployments and a local Docker container for development.
// Start returning nil means the start request was accepted, not that
// the worker is ready.
package provision

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/rajpoot-vikas/computer-use-preview-kogo/pkg/models"
)

// ErrProvision is returned when the worker could not be started. Fatal
// to session creation.
var ErrProvision = errors.New("worker start rejected")

// Provisioner starts a worker for a session with the session's
// configuration injected.
type Provisioner interface {
	Start(ctx context.Context, sessionID string, cfg models.SessionConfig) error
}

// EnvVar is one worker environment variable. Order is preserved so both
// strategies emit the same sequence.
type EnvVar struct {
	Name  string
	Value string
}

// WorkerEnv derives the worker environment from the session
// configuration. It is pure and total, and both provisioning strategies
// use it unchanged, so the worker binary cannot tell which one started
// it. Booleans are lowercase strings; the idle timeout carries its unit.
func WorkerEnv(sessionID string, cfg models.SessionConfig, projectID string, useBroker bool) []EnvVar {
	return []EnvVar{
		{"SESSION_ID", sessionID},
		{"HEADFUL_CHROME", strconv.FormatBool(cfg.Type == models.TypeHeadful)},
		{"FULL_OS", strconv.FormatBool(cfg.Type == models.TypeOS)},
		{"PUBSUB_PROJECT_ID", projectID},
		{"USE_PUBSUB", strconv.FormatBool(useBroker)},
		{"SCREEN_RESOLUTION", cfg.ScreenResolution},
		{"IDLE_TIMEOUT", fmt.Sprintf("%ds", cfg.IdleTimeoutSeconds)},
	}
}
