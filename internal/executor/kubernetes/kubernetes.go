// Package kubernetes runs build jobs as batch/v1 Jobs.
package kubernetes

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/utils/ptr"

	"github.com/splax/shipyard/internal/executor"
)

const (
	buildLabel    = "shipyard.dev/build-id"
	containerName = "builder"
	maxNameLength = 63
)

// Config selects namespace, image and how long finished jobs linger.
type Config struct {
	Namespace string
	Image     string
	TTL       time.Duration
}

// Executor creates one Job per build.
type Executor struct {
	client kubernetes.Interface
	cfg    Config
}

var _ executor.Executor = (*Executor)(nil)

// New prefers in-cluster configuration and falls back to KUBECONFIG when running locally.
func New(cfg Config) (*Executor, error) {
	restCfg, err := rest.InClusterConfig()
	if err != nil {
		kubeconfig := strings.TrimSpace(os.Getenv("KUBECONFIG"))
		if kubeconfig == "" {
			return nil, fmt.Errorf("create in-cluster config: %w", err)
		}
		restCfg, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			return nil, fmt.Errorf("create kubeconfig client: %w", err)
		}
	}
	clientset, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, fmt.Errorf("create kubernetes client: %w", err)
	}
	return NewWithClient(clientset, cfg)
}

// NewWithClient builds an executor over an existing clientset.
func NewWithClient(client kubernetes.Interface, cfg Config) (*Executor, error) {
	if strings.TrimSpace(cfg.Image) == "" {
		return nil, fmt.Errorf("kubernetes executor: builder image required")
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "default"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	return &Executor{client: client, cfg: cfg}, nil
}

// Submit creates the Job and returns without waiting for its pod.
func (e *Executor) Submit(ctx context.Context, req executor.JobRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	job := e.job(req)
	if _, err := e.client.BatchV1().Jobs(e.cfg.Namespace).Create(ctx, job, metav1.CreateOptions{}); err != nil {
		return fmt.Errorf("create job %s: %w", job.Name, err)
	}
	return nil
}

func (e *Executor) job(req executor.JobRequest) *batchv1.Job {
	env := make([]corev1.EnvVar, 0, len(req.Env))
	req.EachEnv(func(key, value string) {
		env = append(env, corev1.EnvVar{Name: key, Value: value})
	})
	labels := map[string]string{
		buildLabel:                    labelValue(req.BuildID),
		"app.kubernetes.io/name":      "shipyard-builder",
		"app.kubernetes.io/component": "build",
	}
	return &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:      jobName(req.BuildID),
			Namespace: e.cfg.Namespace,
			Labels:    labels,
		},
		Spec: batchv1.JobSpec{
			BackoffLimit:            ptr.To[int32](0),
			TTLSecondsAfterFinished: ptr.To(int32(e.cfg.TTL / time.Second)),
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec: corev1.PodSpec{
					RestartPolicy: corev1.RestartPolicyNever,
					Containers: []corev1.Container{{
						Name:  containerName,
						Image: e.cfg.Image,
						Env:   env,
					}},
				},
			},
		},
	}
}

// jobName lowers buildID to a DNS-1123 label prefixed with "build-".
func jobName(buildID string) string {
	return "build-" + labelValue(buildID)
}

func labelValue(buildID string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(buildID)) {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
		case r == '-' || r == '_' || r == '.':
			b.WriteRune('-')
		}
	}
	value := strings.Trim(b.String(), "-")
	if limit := maxNameLength - len("build-"); len(value) > limit {
		value = strings.TrimRight(value[:limit], "-")
	}
	if value == "" {
		value = "job"
	}
	return value
}
