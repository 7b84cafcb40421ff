package kubernetes

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/splax/shipyard/internal/executor"
)

func TestSubmitCreatesJob(t *testing.T) {
	client := fake.NewSimpleClientset()
	exec, err := NewWithClient(client, Config{Namespace: "builds", Image: "shipyard/builder:1", TTL: 10 * time.Minute})
	require.NoError(t, err)

	req := executor.NewJobRequest("brave-otter-1a2b", "https://github.com/acme/site.git", nil)
	require.NoError(t, exec.Submit(context.Background(), req))

	job, err := client.BatchV1().Jobs("builds").Get(context.Background(), "build-brave-otter-1a2b", metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "brave-otter-1a2b", job.Labels[buildLabel])
	assert.Equal(t, int32(0), *job.Spec.BackoffLimit)
	assert.Equal(t, int32(600), *job.Spec.TTLSecondsAfterFinished)
	assert.Equal(t, corev1.RestartPolicyNever, job.Spec.Template.Spec.RestartPolicy)

	require.Len(t, job.Spec.Template.Spec.Containers, 1)
	c := job.Spec.Template.Spec.Containers[0]
	assert.Equal(t, "shipyard/builder:1", c.Image)
	assert.Contains(t, c.Env, corev1.EnvVar{Name: executor.EnvRepositoryURL, Value: "https://github.com/acme/site.git"})
	assert.Contains(t, c.Env, corev1.EnvVar{Name: executor.EnvProjectID, Value: "brave-otter-1a2b"})
}

func TestSubmitDuplicateFails(t *testing.T) {
	client := fake.NewSimpleClientset()
	exec, err := NewWithClient(client, Config{Image: "img"})
	require.NoError(t, err)

	req := executor.NewJobRequest("same", "u", nil)
	require.NoError(t, exec.Submit(context.Background(), req))
	require.Error(t, exec.Submit(context.Background(), req))
}

func TestNewWithClientDefaults(t *testing.T) {
	_, err := NewWithClient(fake.NewSimpleClientset(), Config{})
	require.Error(t, err)

	exec, err := NewWithClient(fake.NewSimpleClientset(), Config{Image: "img"})
	require.NoError(t, err)
	assert.Equal(t, "default", exec.cfg.Namespace)
	assert.Equal(t, time.Hour, exec.cfg.TTL)
}

func TestJobNameSanitises(t *testing.T) {
	assert.Equal(t, "build-brave-otter", jobName("Brave_Otter"))
	assert.Equal(t, "build-01hx-abc", jobName("01HX.ABC"))
	assert.Equal(t, "build-job", jobName("!!!"))
	assert.LessOrEqual(t, len(jobName(strings.Repeat("a", 100))), maxNameLength)
}
