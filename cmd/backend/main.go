package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/hex108/spark/internal/backend"
	"github.com/hex108/spark/internal/backend/configuration"
	"github.com/hex108/spark/internal/backend/fake"
	"github.com/hex108/spark/internal/common"
)

const CustomConfigLocation string = "config"

func init() {
	pflag.String(CustomConfigLocation, "", "Fully qualified path to application configuration file")
	pflag.Parse()
}

// Runs the scheduler backend with a stand-in driver scheduler, which is
// useful for exercising pod allocation against a real cluster without a full
// driver in the loop. Embedding applications wire their own DriverScheduler
// through backend.StartUp instead.
func main() {
	common.ConfigureLogging()
	common.BindCommandlineArguments()

	var config configuration.BackendConfiguration
	userSpecifiedConfig := viper.GetString(CustomConfigLocation)
	common.LoadConfig(&config, "./config/backend", userSpecifiedConfig)

	if err := configuration.ValidateBackendConfiguration(config); err != nil {
		log.Errorf("Invalid configuration: %s", err)
		os.Exit(-1)
	}
	if config.Application.ApplicationId == "" {
		config.Application.ApplicationId = "spark-application-" + uuid.NewString()
	}

	driverScheduler := fake.NewStubDriverScheduler(config.Application.ApplicationId)
	schedulerBackend, err := backend.StartUp(config, driverScheduler)
	if err != nil {
		log.Errorf("Failed to start scheduler backend because %s", err)
		os.Exit(-1)
	}

	if config.MetricsPort > 0 {
		go serveMetrics(config.MetricsPort)
	}

	stopSignal := make(chan os.Signal, 1)
	signal.Notify(stopSignal, syscall.SIGINT, syscall.SIGTERM)
	<-stopSignal

	if err := schedulerBackend.Stop(); err != nil {
		log.Warnf("Shutdown completed with errors: %s", err)
	}
}

func serveMetrics(port uint16) {
	http.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(fmt.Sprintf(":%d", port), nil); err != nil {
		log.Errorf("Metrics server stopped because %s", err)
	}
}
