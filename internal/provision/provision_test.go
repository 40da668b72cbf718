package provision

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rajpoot-vikas/computer-use-preview-kogo/pkg/models"
)

func TestWorkerEnv(t *testing.T) {
	cfg := models.SessionConfig{
		Type:               models.TypeBrowser,
		ScreenResolution:   "1920x1000x16",
		TimeoutSeconds:     86400,
		IdleTimeoutSeconds: 3600,
	}

	env := WorkerEnv("sess-1", cfg, "proj-1", true)

	want := []EnvVar{
		{"SESSION_ID", "sess-1"},
		{"HEADFUL_CHROME", "false"},
		{"FULL_OS", "false"},
		{"PUBSUB_PROJECT_ID", "proj-1"},
		{"USE_PUBSUB", "true"},
		{"SCREEN_RESOLUTION", "1920x1000x16"},
		{"IDLE_TIMEOUT", "3600s"},
	}
	assert.Equal(t, want, env)
}

func TestWorkerEnvSessionTypes(t *testing.T) {
	tests := []struct {
		sessionType models.SessionType
		wantHeadful string
		wantFullOS  string
	}{
		{models.TypeBrowser, "false", "false"},
		{models.TypeHeadful, "true", "false"},
		{models.TypeOS, "false", "true"},
	}

	for _, tt := range tests {
		t.Run(string(tt.sessionType), func(t *testing.T) {
			cfg := models.SessionConfig{Type: tt.sessionType}
			cfg.ApplyDefaults()

			env := toMap(WorkerEnv("s", cfg, "p", false))
			assert.Equal(t, tt.wantHeadful, env["HEADFUL_CHROME"])
			assert.Equal(t, tt.wantFullOS, env["FULL_OS"])
			assert.Equal(t, "false", env["USE_PUBSUB"])
		})
	}
}

func TestWorkerEnvIdleTimeoutCarriesUnit(t *testing.T) {
	cfg := models.SessionConfig{IdleTimeoutSeconds: 60}
	env := toMap(WorkerEnv("s", cfg, "p", false))
	require.Equal(t, "60s", env["IDLE_TIMEOUT"])
}

func TestRenderEnv(t *testing.T) {
	got := renderEnv([]EnvVar{{"SESSION_ID", "s"}, {"USE_PUBSUB", "false"}})
	assert.Equal(t, []string{"SESSION_ID=s", "USE_PUBSUB=false"}, got)
}

func toMap(env []EnvVar) map[string]string {
	m := make(map[string]string, len(env))
	for _, v := range env {
		m[v.Name] = v.Value
	}
	return m
}
