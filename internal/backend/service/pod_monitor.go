package service

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	v1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/watch"

	"github.com/hex108/spark/internal/backend/domain"
	"github.com/hex108/spark/internal/backend/registry"
	"github.com/hex108/spark/internal/backend/util"
)

// PodMonitorService consumes executor pod events from the cluster. It keeps
// the pod-ip index current and records exit reasons for terminal transitions.
// It never notifies the driver scheduler itself; resolution of a loss is the
// allocation service's job, keeping a single owner for parent-visible state
// transitions.
type PodMonitorService struct {
	executors *registry.ExecutorRegistry
}

func NewPodMonitorService(executors *registry.ExecutorRegistry) *PodMonitorService {
	return &PodMonitorService{executors: executors}
}

func (m *PodMonitorService) HandleEvent(eventType watch.EventType, pod *v1.Pod) {
	switch eventType {
	case watch.Added, watch.Modified:
		if util.IsPodFailed(pod) {
			m.handleFailedPod(pod)
		} else if pod.DeletionTimestamp != nil {
			m.removePodIP(pod)
		} else if pod.Status.Phase == v1.PodRunning && pod.Status.PodIP != "" {
			m.executors.UpsertPodByIP(pod.Status.PodIP, pod)
		}
	case watch.Deleted:
		m.handleDeletedPod(pod)
	}
}

func (m *PodMonitorService) handleFailedPod(pod *v1.Pod) {
	m.removePodIP(pod)

	exitCode := util.FirstContainerExitCode(pod)
	var reason domain.ExecutorLossReason
	if m.isPodAlreadyReleased(pod) {
		reason = domain.ExecutorExited(exitCode, false,
			fmt.Sprintf("Container in pod %s exited from explicit termination request.", pod.Name))
	} else {
		reason = domain.ExecutorExited(exitCode, true,
			fmt.Sprintf("Pod %s's executor container exited with exit status code %d.", pod.Name, exitCode))
	}

	log.Debugf("Recording failure of pod %s: %s", pod.Name, reason.Message)
	m.executors.PutExitReason(pod.Name, reason)
}

func (m *PodMonitorService) handleDeletedPod(pod *v1.Pod) {
	m.removePodIP(pod)

	var message string
	if m.isPodAlreadyReleased(pod) {
		message = fmt.Sprintf("Container in pod %s exited from explicit termination request.", pod.Name)
	} else {
		message = fmt.Sprintf("Pod %s deleted or lost.", pod.Name)
	}

	log.Debugf("Recording deletion of pod %s: %s", pod.Name, message)
	m.executors.PutExitReason(pod.Name, domain.ExecutorExited(util.FirstContainerExitCode(pod), false, message))
}

// isPodAlreadyReleased reports whether the pod has left the live indexes, as
// happens when the kill path removes an executor before its pod goes away.
func (m *PodMonitorService) isPodAlreadyReleased(pod *v1.Pod) bool {
	_, ok := m.executors.ExecutorForPodName(pod.Name)
	return !ok
}

func (m *PodMonitorService) removePodIP(pod *v1.Pod) {
	if pod.Status.PodIP != "" {
		m.executors.RemovePodByIP(pod.Status.PodIP)
	}
}
