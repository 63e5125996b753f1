package util

import (
	v1 "k8s.io/api/core/v1"

	"github.com/hex108/spark/internal/backend/domain"
)

func IsExecutorPod(pod *v1.Pod) bool {
	return pod.Labels[domain.RoleLabel] == domain.ExecutorRole
}

func IsPodFailed(pod *v1.Pod) bool {
	return pod.Status.Phase == v1.PodFailed
}

func IsInTerminalState(pod *v1.Pod) bool {
	return pod.Status.Phase == v1.PodSucceeded || pod.Status.Phase == v1.PodFailed
}

// FirstContainerExitCode reads the exit code of the pod's primary container.
// Executor pods run a single container; with sidecars present the
// attribution would be undefined, so only the first status is consulted.
func FirstContainerExitCode(pod *v1.Pod) int32 {
	statuses := pod.Status.ContainerStatuses
	if len(statuses) == 0 || statuses[0].State.Terminated == nil {
		return domain.DefaultContainerFailureExitStatus
	}
	return statuses[0].State.Terminated.ExitCode
}
