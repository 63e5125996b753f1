package domain

const (
	// UnknownExitCode is reported when an executor is removed without any
	// terminal pod event ever arriving.
	UnknownExitCode int32 = -1

	// DefaultContainerFailureExitStatus is reported when a terminal pod
	// carries no terminated container status to read an exit code from.
	DefaultContainerFailureExitStatus int32 = -1
)

// ExecutorLossReason describes why an executor went away and whether the loss
// is attributable to the application itself or to the framework.
type ExecutorLossReason struct {
	ExitCode    int32
	CausedByApp bool
	Message     string
}

func ExecutorExited(exitCode int32, causedByApp bool, message string) ExecutorLossReason {
	return ExecutorLossReason{ExitCode: exitCode, CausedByApp: causedByApp, Message: message}
}

func ExecutorLostForUnknownReasons() ExecutorLossReason {
	return ExecutorLossReason{
		ExitCode:    UnknownExitCode,
		CausedByApp: false,
		Message:     "Executor lost for unknown reasons.",
	}
}
