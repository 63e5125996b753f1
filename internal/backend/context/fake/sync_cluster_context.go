package fake

import (
	"io"
	"sync"

	"github.com/pkg/errors"
	v1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/watch"

	executorContext "github.com/hex108/spark/internal/backend/context"
	"github.com/hex108/spark/internal/backend/domain"
)

// SyncFakeClusterContext runs every operation synchronously in the caller's
// goroutine, making tests deterministic.
type SyncFakeClusterContext struct {
	mu sync.Mutex

	Pods            map[string]*v1.Pod
	SubmittedPods   []*v1.Pod
	DeletedPodNames []string

	// SubmitError, when set, is consulted before accepting a pod.
	SubmitError func(pod *v1.Pod) error

	handlers    []executorContext.PodEventHandler
	WatchClosed bool
	Closed      bool
}

func NewSyncFakeClusterContext() *SyncFakeClusterContext {
	return &SyncFakeClusterContext{Pods: map[string]*v1.Pod{}}
}

func (c *SyncFakeClusterContext) AddPod(pod *v1.Pod) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Pods[pod.Name] = pod
}

func (c *SyncFakeClusterContext) SubmitPod(pod *v1.Pod) (*v1.Pod, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.SubmitError != nil {
		if err := c.SubmitError(pod); err != nil {
			return nil, err
		}
	}
	c.Pods[pod.Name] = pod
	c.SubmittedPods = append(c.SubmittedPods, pod)
	return pod, nil
}

func (c *SyncFakeClusterContext) DeletePod(pod *v1.Pod) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.Pods, pod.Name)
	c.DeletedPodNames = append(c.DeletedPodNames, pod.Name)
	return nil
}

func (c *SyncFakeClusterContext) DeletePods(pods []*v1.Pod) {
	for _, pod := range pods {
		_ = c.DeletePod(pod)
	}
}

func (c *SyncFakeClusterContext) PodByName(name string) (*v1.Pod, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pod, ok := c.Pods[name]
	if !ok {
		return nil, errors.Errorf("pod %s not found", name)
	}
	return pod, nil
}

func (c *SyncFakeClusterContext) ListExecutorPods(appId string) ([]*v1.Pod, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pods := make([]*v1.Pod, 0, len(c.Pods))
	for _, pod := range c.Pods {
		if pod.Labels[domain.AppIdLabel] == appId {
			pods = append(pods, pod)
		}
	}
	return pods, nil
}

func (c *SyncFakeClusterContext) WatchExecutorPods(appId string, handler executorContext.PodEventHandler) (io.Closer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, handler)
	return watchCloserFunc(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.WatchClosed = true
	}), nil
}

func (c *SyncFakeClusterContext) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Closed = true
}

// SimulateEvent delivers a pod event to every registered watch handler.
func (c *SyncFakeClusterContext) SimulateEvent(eventType watch.EventType, pod *v1.Pod) {
	c.mu.Lock()
	handlers := make([]executorContext.PodEventHandler, len(c.handlers))
	copy(handlers, c.handlers)
	c.mu.Unlock()

	for _, handler := range handlers {
		handler(eventType, pod)
	}
}

type watchCloserFunc func()

func (f watchCloserFunc) Close() error {
	f()
	return nil
}
