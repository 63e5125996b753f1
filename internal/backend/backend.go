package backend

import (
	"io"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	v1 "k8s.io/api/core/v1"

	"github.com/hex108/spark/internal/backend/configuration"
	executorContext "github.com/hex108/spark/internal/backend/context"
	"github.com/hex108/spark/internal/backend/domain"
	"github.com/hex108/spark/internal/backend/metrics"
	"github.com/hex108/spark/internal/backend/podfactory"
	"github.com/hex108/spark/internal/backend/registry"
	"github.com/hex108/spark/internal/backend/service"
	"github.com/hex108/spark/internal/common/util"
)

// KubernetesSchedulerBackend runs an application's executors as pods on a
// kubernetes cluster, continuously reconciling the running set toward the
// total the driver scheduler asks for and attributing every loss as either
// application-caused or framework-caused.
type KubernetesSchedulerBackend struct {
	config          configuration.BackendConfiguration
	executors       *registry.ExecutorRegistry
	clusterContext  executorContext.ClusterContext
	podFactory      podfactory.PodFactory
	driverScheduler domain.DriverScheduler
	podMonitor      *service.PodMonitorService

	// Created at Start once the driver pod is resolved.
	allocator *service.AllocationService

	watchStop io.Closer
	taskStops []chan bool
	wg        *sync.WaitGroup

	stopOnce sync.Once
	stopErr  error
}

func NewKubernetesSchedulerBackend(
	config configuration.BackendConfiguration,
	driverScheduler domain.DriverScheduler,
	clusterContext executorContext.ClusterContext,
	podFactory podfactory.PodFactory,
) *KubernetesSchedulerBackend {
	executors := registry.New()
	return &KubernetesSchedulerBackend{
		config:          config,
		executors:       executors,
		clusterContext:  clusterContext,
		podFactory:      podFactory,
		driverScheduler: driverScheduler,
		podMonitor:      service.NewPodMonitorService(executors),
		wg:              &sync.WaitGroup{},
	}
}

// Start wires the watch, the allocation timer and the initial executor
// target. A missing driver pod or a watch that cannot be opened refuses the
// start; nothing keeps running on a partially started backend.
func (b *KubernetesSchedulerBackend) Start() error {
	if err := b.driverScheduler.Start(); err != nil {
		return errors.WithMessage(err, "failed to start driver scheduler")
	}

	driverPod, err := b.clusterContext.PodByName(b.config.Kubernetes.DriverPodName)
	if err != nil {
		return errors.WithMessagef(err, "failed to resolve driver pod %s", b.config.Kubernetes.DriverPodName)
	}

	b.allocator = service.NewAllocationService(
		b.clusterContext,
		b.executors,
		b.podFactory,
		b.driverScheduler,
		b.config.Allocation.BatchSize,
		b.config.Application.DriverUrl,
		driverPod,
		b.config.Executor.Env,
	)

	appId := b.driverScheduler.ApplicationId()
	watchStop, err := b.clusterContext.WatchExecutorPods(appId, b.podMonitor.HandleEvent)
	if err != nil {
		return err
	}
	b.watchStop = watchStop

	if !b.config.Allocation.DynamicAllocation.Enabled {
		b.RequestTotalExecutors(b.config.Allocation.InitialTargetExecutors())
	}

	b.taskStops = append(b.taskStops,
		scheduleBackgroundTask(b.allocator.Reconcile, b.config.Allocation.BatchDelay, metrics.AllocationTickDuration, b.wg))

	log.Infof("Started kubernetes scheduler backend for application %s", appId)
	return nil
}

// Stop tears the backend down in order: allocation timer first, then the
// driver scheduler, then the remaining executor pods, then the watch and the
// cluster connection. Pods retained for post-mortem inspection have already
// left the live indexes and are left to the owner-reference cascade.
// Idempotent after the first call.
func (b *KubernetesSchedulerBackend) Stop() error {
	b.stopOnce.Do(func() {
		var result *multierror.Error

		stopTasks(b.taskStops)
		if waitForShutdownCompletion(b.wg, 2*time.Second) {
			log.Warnf("Timed out waiting for the allocation tick to finish")
		}

		if err := b.driverScheduler.Stop(); err != nil {
			result = multierror.Append(result, errors.WithMessage(err, "failed to stop driver scheduler"))
		}

		b.clusterContext.DeletePods(b.executors.DrainAllExecutors())

		if b.watchStop != nil {
			util.CloseResource("executor pod watch", b.watchStop)
		}
		b.clusterContext.Close()

		b.stopErr = result.ErrorOrNil()
		log.Infof("Kubernetes scheduler backend shutdown complete")
	})
	return b.stopErr
}

// RequestTotalExecutors records the new executor target. The request always
// succeeds; reconciliation happens on subsequent allocation ticks.
func (b *KubernetesSchedulerBackend) RequestTotalExecutors(total int) bool {
	log.Infof("Setting total expected executors to %d", total)
	b.executors.SetTotalExpected(total)
	metrics.TargetExecutors.Set(float64(total))
	return true
}

// KillExecutors removes the given executors and deletes their pods. Unknown
// ids are logged and skipped. The removal is reported to the driver scheduler
// once the watcher's terminal event is resolved on a later tick.
func (b *KubernetesSchedulerBackend) KillExecutors(executorIds ...string) bool {
	pods, unknown := b.executors.Release(executorIds)
	for _, executorId := range unknown {
		log.Warnf("Asked to kill unknown executor %s", executorId)
	}
	b.clusterContext.DeletePods(pods)
	return true
}

func (b *KubernetesSchedulerBackend) PodByIP(podIP string) (*v1.Pod, bool) {
	return b.executors.PodByIP(podIP)
}

// SufficientResourcesRegistered reports whether enough executors have
// registered with the driver to start scheduling tasks.
func (b *KubernetesSchedulerBackend) SufficientResourcesRegistered() bool {
	required := float64(b.config.Allocation.InitialTargetExecutors()) * b.config.Allocation.MinRegisteredRatioOrDefault()
	return float64(b.driverScheduler.RegisteredExecutorCount()) >= required
}

// OnDisconnected bridges an RPC-level disconnect to the cluster-level
// removal flow. The disable gate prevents scheduling the same removal twice;
// after marking, the removal is owned by the allocator's next tick.
func (b *KubernetesSchedulerBackend) OnDisconnected(address string) {
	executorId, ok := b.driverScheduler.ExecutorForAddress(address)
	if !ok {
		log.Debugf("No executor found for disconnected address %s", address)
		return
	}
	if !b.driverScheduler.DisableExecutor(executorId) {
		return
	}
	if !b.executors.MarkPendingRemoval(executorId) {
		log.Warnf("Executor %s disconnected but is not tracked, ignoring", executorId)
	}
}
