package domain

// DriverScheduler is the surface of the coarse-grained task scheduler running
// inside the driver. The backend reports executor losses through it and
// consults it for registration state and task locality. All parent-visible
// state transitions go through RemoveExecutor, which the backend invokes at
// most once per executor.
type DriverScheduler interface {
	Start() error
	Stop() error

	ApplicationId() string
	RegisteredExecutorCount() int
	RemoveExecutor(executorId string, reason ExecutorLossReason)
	DisableExecutor(executorId string) bool
	ExecutorForAddress(address string) (string, bool)
	HostToLocalTaskCount() map[string]int
}
