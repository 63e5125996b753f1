package domain

const (
	AppIdLabel      = "spark-app-selector"
	RoleLabel       = "spark-role"
	ExecutorIdLabel = "spark-exec-id"

	ExecutorRole = "executor"

	EnvExecutorId    = "SPARK_EXECUTOR_ID"
	EnvApplicationId = "SPARK_APPLICATION_ID"
	EnvDriverUrl     = "SPARK_DRIVER_URL"
	EnvExecutorPodIP = "SPARK_EXECUTOR_POD_IP"
	EnvExecutorCores = "SPARK_EXECUTOR_CORES"
)
