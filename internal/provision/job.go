package provision

import (
	"context"
	"fmt"
	"log"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/client-go/kubernetes"

	"github.com/rajpoot-vikas/computer-use-preview-kogo/pkg/models"
)

// ExecutionTokenAnnotation carries the session id that triggered the
// latest job execution. Setting it on every start guarantees each
// session triggers exactly one execution.
const ExecutionTokenAnnotation = "relay.kogo.dev/execution-token"

const workerContainerName = "worker"

// JobProvisioner starts workers as a managed Kubernetes Job: look up the
// job definition, create it if absent, and on every start replace the
// environment wholesale so nothing from a prior session leaks forward.
type JobProvisioner struct {
	client    kubernetes.Interface
	namespace string
	jobName   string
	image     string
	projectID string
	useBroker bool
}

// NewJobProvisioner wires the strategy to a cluster client.
func NewJobProvisioner(client kubernetes.Interface, namespace, jobName, image, projectID string, useBroker bool) *JobProvisioner {
	return &JobProvisioner{
		client:    client,
		namespace: namespace,
		jobName:   jobName,
		image:     image,
		projectID: projectID,
		useBroker: useBroker,
	}
}

func (p *JobProvisioner) Start(ctx context.Context, sessionID string, cfg models.SessionConfig) error {
	jobs := p.client.BatchV1().Jobs(p.namespace)

	job, err := jobs.Get(ctx, p.jobName, metav1.GetOptions{})
	if errors.IsNotFound(err) {
		log.Printf("job %s does not exist, creating it", p.jobName)
		job = p.newJob()
		p.configureJob(job, sessionID, cfg)
		if _, err := jobs.Create(ctx, job, metav1.CreateOptions{}); err != nil {
			return fmt.Errorf("%w: create job %s: %v", ErrProvision, p.jobName, err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: get job %s: %v", ErrProvision, p.jobName, err)
	}

	p.configureJob(job, sessionID, cfg)
	if _, err := jobs.Update(ctx, job, metav1.UpdateOptions{}); err != nil {
		return fmt.Errorf("%w: update job %s: %v", ErrProvision, p.jobName, err)
	}
	return nil
}

func (p *JobProvisioner) newJob() *batchv1.Job {
	return &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:      p.jobName,
			Namespace: p.namespace,
		},
		Spec: batchv1.JobSpec{
			Template: corev1.PodTemplateSpec{
				Spec: corev1.PodSpec{
					RestartPolicy: corev1.RestartPolicyNever,
					Containers: []corev1.Container{{
						Name: workerContainerName,
						Resources: corev1.ResourceRequirements{
							Limits: corev1.ResourceList{
								corev1.ResourceCPU:    resource.MustParse("2"),
								corev1.ResourceMemory: resource.MustParse("8Gi"),
							},
						},
						StartupProbe: &corev1.Probe{
							InitialDelaySeconds: 0,
							PeriodSeconds:       1,
							TimeoutSeconds:      1,
							FailureThreshold:    180,
							ProbeHandler: corev1.ProbeHandler{
								HTTPGet: &corev1.HTTPGetAction{
									Path: "/ready",
									Port: intstr.FromInt32(8000),
								},
							},
						},
					}},
				},
			},
		},
	}
}

// configureJob applies the per-session settings: the execution token,
// the timeout, the image (in case a new one rolled out), and the full
// derived environment. The env list is replaced, never merged.
func (p *JobProvisioner) configureJob(job *batchv1.Job, sessionID string, cfg models.SessionConfig) {
	if job.Annotations == nil {
		job.Annotations = make(map[string]string)
	}
	job.Annotations[ExecutionTokenAnnotation] = sessionID

	backoff := int32(1)
	job.Spec.BackoffLimit = &backoff
	deadline := int64(cfg.TimeoutSeconds)
	job.Spec.ActiveDeadlineSeconds = &deadline

	if len(job.Spec.Template.Spec.Containers) < 1 {
		job.Spec.Template.Spec.Containers = append(job.Spec.Template.Spec.Containers, corev1.Container{Name: workerContainerName})
	}
	container := &job.Spec.Template.Spec.Containers[0]
	container.Image = p.image

	env := WorkerEnv(sessionID, cfg, p.projectID, p.useBroker)
	container.Env = container.Env[:0]
	for _, v := range env {
		container.Env = append(container.Env, corev1.EnvVar{Name: v.Name, Value: v.Value})
	}
}
