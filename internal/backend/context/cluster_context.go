package context

import (
	"context"
	"io"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	v1 "k8s.io/api/core/v1"
	k8s_errors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/cache"
	watchtools "k8s.io/client-go/tools/watch"

	"github.com/hex108/spark/internal/backend/domain"
)

// PodEventHandler receives executor pod events in cluster-delivered order.
// Handlers for a single watch run serially.
type PodEventHandler func(eventType watch.EventType, pod *v1.Pod)

// ClusterContext is the backend's view of the cluster API. Implementations
// block on cluster calls; callers must not hold registry locks across them.
type ClusterContext interface {
	SubmitPod(pod *v1.Pod) (*v1.Pod, error)
	DeletePod(pod *v1.Pod) error
	DeletePods(pods []*v1.Pod)
	PodByName(name string) (*v1.Pod, error)
	ListExecutorPods(appId string) ([]*v1.Pod, error)
	WatchExecutorPods(appId string, handler PodEventHandler) (io.Closer, error)
	Close()
}

type KubernetesClusterContext struct {
	namespace        string
	kubernetesClient kubernetes.Interface
}

func NewKubernetesClusterContext(kubernetesClient kubernetes.Interface, namespace string) *KubernetesClusterContext {
	return &KubernetesClusterContext{
		namespace:        namespace,
		kubernetesClient: kubernetesClient,
	}
}

func (c *KubernetesClusterContext) SubmitPod(pod *v1.Pod) (*v1.Pod, error) {
	return c.kubernetesClient.CoreV1().Pods(c.namespace).Create(context.Background(), pod, metav1.CreateOptions{})
}

func (c *KubernetesClusterContext) DeletePod(pod *v1.Pod) error {
	err := c.kubernetesClient.CoreV1().Pods(c.namespace).Delete(context.Background(), pod.Name, metav1.DeleteOptions{})
	if err != nil && k8s_errors.IsNotFound(err) {
		return nil
	}
	return err
}

func (c *KubernetesClusterContext) DeletePods(pods []*v1.Pod) {
	for _, pod := range pods {
		if err := c.DeletePod(pod); err != nil {
			log.Errorf("Failed to delete pod %s/%s because %s", c.namespace, pod.Name, err)
		}
	}
}

func (c *KubernetesClusterContext) PodByName(name string) (*v1.Pod, error) {
	return c.kubernetesClient.CoreV1().Pods(c.namespace).Get(context.Background(), name, metav1.GetOptions{})
}

func (c *KubernetesClusterContext) ListExecutorPods(appId string) ([]*v1.Pod, error) {
	podList, err := c.kubernetesClient.CoreV1().Pods(c.namespace).List(context.Background(), metav1.ListOptions{
		LabelSelector: executorPodSelector(appId),
	})
	if err != nil {
		return nil, err
	}
	pods := make([]*v1.Pod, 0, len(podList.Items))
	for i := range podList.Items {
		pods = append(pods, &podList.Items[i])
	}
	return pods, nil
}

// WatchExecutorPods opens a watch over all pods labelled with the given
// application id and feeds events to the handler until the returned closer is
// closed. Stream interruptions are resumed by the retry watcher; events can
// be dropped across a resume but never reordered.
func (c *KubernetesClusterContext) WatchExecutorPods(appId string, handler PodEventHandler) (io.Closer, error) {
	pods := c.kubernetesClient.CoreV1().Pods(c.namespace)
	selector := executorPodSelector(appId)

	initial, err := pods.List(context.Background(), metav1.ListOptions{LabelSelector: selector})
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to open executor pod watch for application %s", appId)
	}

	watcher, err := watchtools.NewRetryWatcher(initial.ResourceVersion, &cache.ListWatch{
		WatchFunc: func(options metav1.ListOptions) (watch.Interface, error) {
			options.LabelSelector = selector
			return pods.Watch(context.Background(), options)
		},
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to open executor pod watch for application %s", appId)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for event := range watcher.ResultChan() {
			if event.Type == watch.Error {
				log.Debugf("Executor pod watch for application %s reported an error: %+v", appId, event.Object)
				continue
			}
			pod, ok := event.Object.(*v1.Pod)
			if !ok {
				log.Errorf("Failed to process pod event due to it being an unexpected type. Failed to process %+v", event.Object)
				continue
			}
			handler(event.Type, pod)
		}
	}()

	return &watchCloser{watcher: watcher, done: done}, nil
}

// Close releases the cluster connection. The client-go transport manages its
// own connection pool, so there is nothing to tear down explicitly.
func (c *KubernetesClusterContext) Close() {}

func executorPodSelector(appId string) string {
	return labels.SelectorFromSet(labels.Set{domain.AppIdLabel: appId}).String()
}

type watchCloser struct {
	watcher *watchtools.RetryWatcher
	done    chan struct{}
}

func (w *watchCloser) Close() error {
	w.watcher.Stop()
	<-w.done
	return nil
}
