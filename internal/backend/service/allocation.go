package service

import (
	"context"
	"net"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	v1 "k8s.io/api/core/v1"

	executorContext "github.com/hex108/spark/internal/backend/context"
	"github.com/hex108/spark/internal/backend/domain"
	"github.com/hex108/spark/internal/backend/metrics"
	"github.com/hex108/spark/internal/backend/podfactory"
	"github.com/hex108/spark/internal/backend/registry"
	"github.com/hex108/spark/internal/common/util"
)

// maxReasonChecks bounds how many ticks a disconnected executor may wait for
// a terminal pod event before it is written off as lost for unknown reasons.
const maxReasonChecks = 10

const hostnameLookupTimeout = time.Second

type addrResolver interface {
	LookupAddr(ctx context.Context, addr string) ([]string, error)
}

var defaultResolver addrResolver = net.DefaultResolver

// AllocationService reconciles the set of running executor pods toward the
// requested total. Each tick first resolves disconnected executors, then
// creates new pods in a bounded batch. It is the only component that reports
// executor losses to the driver scheduler.
type AllocationService struct {
	clusterContext  executorContext.ClusterContext
	executors       *registry.ExecutorRegistry
	podFactory      podfactory.PodFactory
	driverScheduler domain.DriverScheduler

	batchSize    int
	driverUrl    string
	driverPod    *v1.Pod
	envOverrides map[string]string
}

func NewAllocationService(
	clusterContext executorContext.ClusterContext,
	executors *registry.ExecutorRegistry,
	podFactory podfactory.PodFactory,
	driverScheduler domain.DriverScheduler,
	batchSize int,
	driverUrl string,
	driverPod *v1.Pod,
	envOverrides map[string]string,
) *AllocationService {
	return &AllocationService{
		clusterContext:  clusterContext,
		executors:       executors,
		podFactory:      podFactory,
		driverScheduler: driverScheduler,
		batchSize:       batchSize,
		driverUrl:       driverUrl,
		driverPod:       driverPod,
		envOverrides:    envOverrides,
	}
}

// Reconcile runs one allocation tick. Disconnection handling always precedes
// pod creation so a tick that is simultaneously over-expected and over-actual
// first shrinks, then grows. Cluster API errors are logged and the tick
// carries on; the next tick reattempts.
func (a *AllocationService) Reconcile() {
	a.handleDisconnectedExecutors()
	a.allocateExecutors()
	metrics.RunningExecutors.Set(float64(a.executors.ExecutorCount()))
}

func (a *AllocationService) handleDisconnectedExecutors() {
	for _, pending := range a.executors.DrainPendingRemovals() {
		reason, ok := a.executors.TakeExitReason(pending.Pod.Name)
		if ok {
			a.removeExecutor(pending.ExecutorId, pending.Pod, reason)
			continue
		}

		checks := a.executors.IncrementReasonCheckCount(pending.ExecutorId)
		if checks >= maxReasonChecks {
			log.Warnf("Executor %s disconnected and no exit reason arrived after %d checks, removing it",
				pending.ExecutorId, checks)
			a.removeExecutor(pending.ExecutorId, pending.Pod, domain.ExecutorLostForUnknownReasons())
		} else {
			a.executors.RequeuePendingRemoval(pending.ExecutorId, pending.Pod)
		}
	}
}

// removeExecutor reports the loss to the driver scheduler and erases the
// executor. Application-caused exits keep their pod in the cluster for
// post-mortem inspection; everything else is deleted.
func (a *AllocationService) removeExecutor(executorId string, pod *v1.Pod, reason domain.ExecutorLossReason) {
	log.Infof("Removing executor %s with loss reason: %s", executorId, reason.Message)
	a.driverScheduler.RemoveExecutor(executorId, reason)
	metrics.ExecutorsRemoved.WithLabelValues(causedByAppLabel(reason)).Inc()

	if !reason.CausedByApp {
		if err := a.clusterContext.DeletePod(pod); err != nil {
			log.Errorf("Failed to delete pod %s because %s", pod.Name, err)
		} else {
			metrics.ExecutorPodsDeleted.Inc()
		}
	}
	a.executors.Forget(executorId, pod.Name)
}

func (a *AllocationService) allocateExecutors() {
	registered := a.driverScheduler.RegisteredExecutorCount()
	running := a.executors.ExecutorCount()
	expected := a.executors.TotalExpected()

	if registered < running {
		log.Debugf("Waiting for %d pending executors to register before scaling further", running-registered)
		return
	}
	if expected <= running {
		return
	}

	batch := expected - running
	if batch > a.batchSize {
		batch = a.batchSize
	}
	log.Infof("Requesting %d new executors, expecting total %d and currently have %d registered with the driver",
		batch, expected, registered)

	appId := a.driverScheduler.ApplicationId()
	nodeLocality := a.nodeLocalitySnapshot()

	for i := 0; i < batch; i++ {
		executorId := a.executors.NextExecutorId()
		pod := a.podFactory.Create(executorId, appId, a.driverUrl, a.envOverrides, a.driverPod, nodeLocality)

		createdPod, err := a.clusterContext.SubmitPod(pod)
		if err != nil {
			log.Errorf("Failed to create pod for executor %s because %s", executorId, err)
			metrics.ExecutorPodCreationFailures.Inc()
			continue
		}
		metrics.ExecutorPodsCreated.Inc()

		if err := a.executors.InsertAllocated(executorId, createdPod); err != nil {
			log.Errorf("Failed to record executor %s because %s", executorId, err)
		}
	}
}

// nodeLocalitySnapshot starts from the driver's per-node pending task counts
// and drops every node already occupied by a live executor pod, whether keyed
// by node name, host ip or the host ip's canonical hostname.
func (a *AllocationService) nodeLocalitySnapshot() map[string]int {
	counts := util.DeepCopy(a.driverScheduler.HostToLocalTaskCount())
	if len(counts) == 0 {
		return counts
	}

	for _, pod := range a.executors.ExecutorPods() {
		delete(counts, pod.Spec.NodeName)
		hostIP := pod.Status.HostIP
		if hostIP == "" {
			continue
		}
		delete(counts, hostIP)
		if hostname := canonicalHostname(hostIP); hostname != "" {
			delete(counts, hostname)
		}
	}
	return counts
}

func canonicalHostname(ip string) string {
	ctx, cancel := context.WithTimeout(context.Background(), hostnameLookupTimeout)
	defer cancel()

	names, err := defaultResolver.LookupAddr(ctx, ip)
	if err != nil || len(names) == 0 {
		return ""
	}
	return strings.TrimSuffix(names[0], ".")
}

func causedByAppLabel(reason domain.ExecutorLossReason) string {
	if reason.CausedByApp {
		return "true"
	}
	return "false"
}
