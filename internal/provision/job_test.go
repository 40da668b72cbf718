package provision

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/rajpoot-vikas/computer-use-preview-kogo/pkg/models"
)

func testConfig() models.SessionConfig {
	cfg := models.SessionConfig{}
	cfg.ApplyDefaults()
	return cfg
}

func TestJobProvisionerCreatesJob(t *testing.T) {
	client := fake.NewSimpleClientset()
	p := NewJobProvisioner(client, "workers", "relay-worker", "worker:latest", "proj-1", true)

	ctx := context.Background()
	require.NoError(t, p.Start(ctx, "sess-1", testConfig()))

	job, err := client.BatchV1().Jobs("workers").Get(ctx, "relay-worker", metav1.GetOptions{})
	require.NoError(t, err)

	assert.Equal(t, "sess-1", job.Annotations[ExecutionTokenAnnotation])
	require.NotNil(t, job.Spec.ActiveDeadlineSeconds)
	assert.Equal(t, int64(86400), *job.Spec.ActiveDeadlineSeconds)
	require.NotNil(t, job.Spec.BackoffLimit)
	assert.Equal(t, int32(1), *job.Spec.BackoffLimit)

	podSpec := job.Spec.Template.Spec
	assert.Equal(t, corev1.RestartPolicyNever, podSpec.RestartPolicy)
	require.Len(t, podSpec.Containers, 1)

	container := podSpec.Containers[0]
	assert.Equal(t, "worker:latest", container.Image)
	assert.Equal(t, "2", container.Resources.Limits.Cpu().String())
	assert.Equal(t, "8Gi", container.Resources.Limits.Memory().String())

	require.NotNil(t, container.StartupProbe)
	assert.Equal(t, "/ready", container.StartupProbe.HTTPGet.Path)
	assert.Equal(t, int32(8000), container.StartupProbe.HTTPGet.Port.IntVal)
	assert.Equal(t, int32(180), container.StartupProbe.FailureThreshold)

	assertJobEnv(t, container.Env, "sess-1", "proj-1", "true")
}

func TestJobProvisionerUpdatesExistingJob(t *testing.T) {
	client := fake.NewSimpleClientset()
	p := NewJobProvisioner(client, "workers", "relay-worker", "worker:latest", "proj-1", true)

	ctx := context.Background()
	require.NoError(t, p.Start(ctx, "sess-1", testConfig()))
	require.NoError(t, p.Start(ctx, "sess-2", testConfig()))

	job, err := client.BatchV1().Jobs("workers").Get(ctx, "relay-worker", metav1.GetOptions{})
	require.NoError(t, err)

	// A fresh execution token per session, and an environment that was
	// replaced wholesale, never merged with the previous session's.
	assert.Equal(t, "sess-2", job.Annotations[ExecutionTokenAnnotation])
	assertJobEnv(t, job.Spec.Template.Spec.Containers[0].Env, "sess-2", "proj-1", "true")
}

func TestJobProvisionerMatchesLocalEnv(t *testing.T) {
	client := fake.NewSimpleClientset()
	p := NewJobProvisioner(client, "workers", "relay-worker", "worker:latest", "proj-1", false)

	ctx := context.Background()
	cfg := testConfig()
	require.NoError(t, p.Start(ctx, "sess-1", cfg))

	job, err := client.BatchV1().Jobs("workers").Get(ctx, "relay-worker", metav1.GetOptions{})
	require.NoError(t, err)

	// Both strategies derive from WorkerEnv, in the same order.
	want := WorkerEnv("sess-1", cfg, "proj-1", false)
	got := job.Spec.Template.Spec.Containers[0].Env
	require.Len(t, got, len(want))
	for i, v := range want {
		assert.Equal(t, v.Name, got[i].Name)
		assert.Equal(t, v.Value, got[i].Value)
	}
}

func assertJobEnv(t *testing.T, env []corev1.EnvVar, sessionID, projectID, usePubsub string) {
	t.Helper()
	byName := make(map[string]string, len(env))
	for _, v := range env {
		byName[v.Name] = v.Value
	}
	assert.Equal(t, sessionID, byName["SESSION_ID"])
	assert.Equal(t, projectID, byName["PUBSUB_PROJECT_ID"])
	assert.Equal(t, usePubsub, byName["USE_PUBSUB"])
	assert.Equal(t, "false", byName["HEADFUL_CHROME"])
	assert.Equal(t, "false", byName["FULL_OS"])
	assert.Equal(t, "1920x1000x16", byName["SCREEN_RESOLUTION"])
	assert.Equal(t, "3600s", byName["IDLE_TIMEOUT"])
	assert.Len(t, env, 7)
}
