package cluster

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/util/flowcontrol"
)

type KubernetesClientProvider interface {
	Client() kubernetes.Interface
	ClientConfig() *rest.Config
}

type ConfigKubernetesClientProvider struct {
	restConfig *rest.Config
	client     kubernetes.Interface
}

func NewKubernetesClientProvider(qps float32, burst int) (*ConfigKubernetesClientProvider, error) {
	if qps <= 0 {
		return nil, errors.Errorf("kubernetes client qps must be positive, got %v", qps)
	}
	if burst <= 0 {
		return nil, errors.Errorf("kubernetes client burst must be positive, got %d", burst)
	}

	restConfig, err := loadConfig()
	if err != nil {
		return nil, errors.WithMessage(err, "failed to load kubernetes client configuration")
	}

	// A shared token-bucket rate limiter allows bursts of up to burst calls
	// and a sustained rate of qps calls per second.
	restConfig.RateLimiter = flowcontrol.NewTokenBucketRateLimiter(qps, burst)

	client, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, err
	}

	return &ConfigKubernetesClientProvider{restConfig: restConfig, client: client}, nil
}

func (c *ConfigKubernetesClientProvider) Client() kubernetes.Interface {
	return c.client
}

func (c *ConfigKubernetesClientProvider) ClientConfig() *rest.Config {
	return c.restConfig
}

// loadConfig prefers the in-cluster service account configuration, as the
// backend normally runs inside the driver pod, and falls back to the local
// kubeconfig when running outside a cluster.
func loadConfig() (*rest.Config, error) {
	config, err := rest.InClusterConfig()
	if err == nil {
		log.Info("Using in cluster kubernetes client configuration")
		return config, nil
	}
	if err != rest.ErrNotInCluster {
		return nil, errors.WithMessage(err, "failed to load in-cluster client configuration")
	}

	log.Info("Not running in a cluster, using kubeconfig client configuration")
	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	config, err = clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, &clientcmd.ConfigOverrides{}).ClientConfig()
	if err != nil {
		return nil, errors.WithMessage(err, "failed to load kubeconfig client configuration")
	}
	return config, nil
}
