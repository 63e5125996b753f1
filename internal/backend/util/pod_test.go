package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	v1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/hex108/spark/internal/backend/domain"
)

func TestIsExecutorPod(t *testing.T) {
	executorPod := &v1.Pod{ObjectMeta: metav1.ObjectMeta{
		Labels: map[string]string{domain.RoleLabel: domain.ExecutorRole},
	}}
	assert.True(t, IsExecutorPod(executorPod))

	driverPod := &v1.Pod{ObjectMeta: metav1.ObjectMeta{
		Labels: map[string]string{domain.RoleLabel: "driver"},
	}}
	assert.False(t, IsExecutorPod(driverPod))
	assert.False(t, IsExecutorPod(&v1.Pod{}))
}

func TestIsInTerminalState(t *testing.T) {
	assert.True(t, IsInTerminalState(podWithPhase(v1.PodSucceeded)))
	assert.True(t, IsInTerminalState(podWithPhase(v1.PodFailed)))
	assert.False(t, IsInTerminalState(podWithPhase(v1.PodRunning)))
	assert.False(t, IsInTerminalState(podWithPhase(v1.PodPending)))
}

func TestFirstContainerExitCode(t *testing.T) {
	pod := podWithPhase(v1.PodFailed)
	assert.Equal(t, domain.DefaultContainerFailureExitStatus, FirstContainerExitCode(pod))

	pod.Status.ContainerStatuses = []v1.ContainerStatus{{State: v1.ContainerState{Running: &v1.ContainerStateRunning{}}}}
	assert.Equal(t, domain.DefaultContainerFailureExitStatus, FirstContainerExitCode(pod))

	pod.Status.ContainerStatuses = []v1.ContainerStatus{
		{State: v1.ContainerState{Terminated: &v1.ContainerStateTerminated{ExitCode: 137}}},
		{State: v1.ContainerState{Terminated: &v1.ContainerStateTerminated{ExitCode: 1}}},
	}
	assert.Equal(t, int32(137), FirstContainerExitCode(pod))
}

func podWithPhase(phase v1.PodPhase) *v1.Pod {
	return &v1.Pod{Status: v1.PodStatus{Phase: phase}}
}
