package configuration

import (
	"fmt"
)

func ValidateBackendConfiguration(config BackendConfiguration) error {
	if config.Kubernetes.Namespace == "" {
		return fmt.Errorf("kubernetes.namespace must be set")
	}
	if config.Kubernetes.DriverPodName == "" {
		return fmt.Errorf("kubernetes.driverPodName must be set")
	}
	if config.Allocation.BatchSize <= 0 {
		return fmt.Errorf("allocation.batchSize must be positive, got %d", config.Allocation.BatchSize)
	}
	if config.Allocation.BatchDelay <= 0 {
		return fmt.Errorf("allocation.batchDelay must be positive, got %s", config.Allocation.BatchDelay)
	}
	if ratio := config.Allocation.MinRegisteredRatio; ratio != nil && (*ratio < 0 || *ratio > 1) {
		return fmt.Errorf("allocation.minRegisteredRatio must be between 0 and 1, got %v", *ratio)
	}
	if config.Allocation.InitialExecutors < 0 {
		return fmt.Errorf("allocation.initialExecutors must not be negative, got %d", config.Allocation.InitialExecutors)
	}
	if config.Executor.Image == "" {
		return fmt.Errorf("executor.image must be set")
	}
	dynamic := config.Allocation.DynamicAllocation
	if dynamic.Enabled {
		if dynamic.MinExecutors < 0 {
			return fmt.Errorf("allocation.dynamicAllocation.minExecutors must not be negative, got %d", dynamic.MinExecutors)
		}
		if dynamic.MaxExecutors > 0 && dynamic.MaxExecutors < dynamic.MinExecutors {
			return fmt.Errorf("allocation.dynamicAllocation.maxExecutors (%d) must not be below minExecutors (%d)",
				dynamic.MaxExecutors, dynamic.MinExecutors)
		}
	}
	return nil
}
