package backend

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hex108/spark/internal/backend/configuration"
	executorContext "github.com/hex108/spark/internal/backend/context"
	"github.com/hex108/spark/internal/backend/domain"
	"github.com/hex108/spark/internal/backend/podfactory"
	"github.com/hex108/spark/internal/common/cluster"
)

// StartUp builds a backend against the configured kubernetes cluster and
// starts it. Configuration is assumed validated; anything that still fails
// here (unreachable cluster, missing driver pod) refuses the start.
func StartUp(config configuration.BackendConfiguration, driverScheduler domain.DriverScheduler) (*KubernetesSchedulerBackend, error) {
	clientProvider, err := cluster.NewKubernetesClientProvider(config.Kubernetes.QPS, config.Kubernetes.Burst)
	if err != nil {
		return nil, err
	}

	clusterContext := executorContext.NewKubernetesClusterContext(clientProvider.Client(), config.Kubernetes.Namespace)

	factory, err := podfactory.NewExecutorPodFactory(config.Kubernetes.Namespace, config.Executor)
	if err != nil {
		return nil, err
	}

	backend := NewKubernetesSchedulerBackend(config, driverScheduler, clusterContext, factory)
	if err := backend.Start(); err != nil {
		return nil, err
	}
	return backend, nil
}

// scheduleBackgroundTask runs the task once in the caller's goroutine and
// then at every interval until told to stop, observing each run's latency.
// Running the first tick synchronously means a started backend has already
// reconciled once.
func scheduleBackgroundTask(task func(), interval time.Duration, latency prometheus.Observer, wg *sync.WaitGroup) chan bool {
	stop := make(chan bool)

	runTask := func() {
		start := time.Now()
		task()
		latency.Observe(time.Since(start).Seconds())
	}

	runTask()

	wg.Add(1)
	go func() {
		for {
			select {
			case <-time.After(interval):
			case <-stop:
				wg.Done()
				return
			}
			runTask()
		}
	}()

	return stop
}

func stopTasks(taskChannels []chan bool) {
	for _, channel := range taskChannels {
		channel <- true
	}
}

func waitForShutdownCompletion(wg *sync.WaitGroup, timeout time.Duration) bool {
	c := make(chan struct{})
	go func() {
		defer close(c)
		wg.Wait()
	}()
	select {
	case <-c:
		return false // completed normally
	case <-time.After(timeout):
		return true // timed out
	}
}
