package configuration

import (
	"time"
)

type ApplicationConfiguration struct {
	// ApplicationId labels every executor pod and scopes the pod watch.
	// Generated at startup when left empty.
	ApplicationId string
	// DriverUrl is handed to executors so they can call back into the driver.
	DriverUrl string
}

type KubernetesConfiguration struct {
	Namespace     string
	DriverPodName string
	QPS           float32
	Burst         int
}

type DynamicAllocationConfiguration struct {
	Enabled          bool
	MinExecutors     int
	MaxExecutors     int
	InitialExecutors int
}

type AllocationConfiguration struct {
	BatchSize        int
	BatchDelay       time.Duration
	InitialExecutors int
	// MinRegisteredRatio is left nil when the user has not set it; an
	// explicit 0 disables the registration gate entirely.
	MinRegisteredRatio *float64
	DynamicAllocation  DynamicAllocationConfiguration
}

type ExecutorConfiguration struct {
	Image  string
	Cores  string
	Memory string
	Env    map[string]string
}

type BackendConfiguration struct {
	MetricsPort uint16
	Application ApplicationConfiguration
	Kubernetes  KubernetesConfiguration
	Allocation  AllocationConfiguration
	Executor    ExecutorConfiguration
}

const defaultMinRegisteredRatio = 0.8

// MinRegisteredRatioOrDefault returns the configured ratio when set,
// otherwise 0.8. A user-set value always wins, including an explicit 0.
func (c AllocationConfiguration) MinRegisteredRatioOrDefault() float64 {
	if c.MinRegisteredRatio == nil {
		return defaultMinRegisteredRatio
	}
	return *c.MinRegisteredRatio
}

// InitialTargetExecutors is the executor count the backend starts from: it is
// requested once at startup when dynamic allocation is disabled and is the
// base of the registration threshold. With dynamic allocation enabled the
// initial dynamic target is used, clamped to the configured bounds, and no
// total is requested at startup.
func (c AllocationConfiguration) InitialTargetExecutors() int {
	if !c.DynamicAllocation.Enabled {
		return c.InitialExecutors
	}
	target := c.DynamicAllocation.InitialExecutors
	if target < c.DynamicAllocation.MinExecutors {
		target = c.DynamicAllocation.MinExecutors
	}
	if c.DynamicAllocation.MaxExecutors > 0 && target > c.DynamicAllocation.MaxExecutors {
		target = c.DynamicAllocation.MaxExecutors
	}
	return target
}
