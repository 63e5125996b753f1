package registry

import (
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	v1 "k8s.io/api/core/v1"

	"github.com/hex108/spark/internal/backend/domain"
)

// PendingExecutor is an executor whose removal has been requested (RPC
// disconnect or explicit kill) and is awaiting exit-reason resolution.
type PendingExecutor struct {
	ExecutorId string
	Pod        *v1.Pod
}

// ExecutorRegistry is the authoritative record of which executors exist.
// It keeps the executor-id, pod-name and pod-ip indexes coherent across the
// allocator, the pod watcher and the driver RPC layer. All map mutations
// happen under a single mutex; cross-map updates are atomic. Callers must
// never invoke blocking cluster operations while a registry call is in
// progress on their goroutine's behalf - registry methods only touch memory.
type ExecutorRegistry struct {
	mu sync.Mutex

	executorsToPods     map[string]*v1.Pod
	podNamesToExecutors map[string]string
	podsByIP            map[string]*v1.Pod
	knownExitReasons    map[string]domain.ExecutorLossReason
	pendingRemoval      map[string]*v1.Pod
	reasonCheckCounts   map[string]int

	totalExpected     atomic.Int64
	executorIdCounter atomic.Int64
}

func New() *ExecutorRegistry {
	return &ExecutorRegistry{
		executorsToPods:     map[string]*v1.Pod{},
		podNamesToExecutors: map[string]string{},
		podsByIP:            map[string]*v1.Pod{},
		knownExitReasons:    map[string]domain.ExecutorLossReason{},
		pendingRemoval:      map[string]*v1.Pod{},
		reasonCheckCounts:   map[string]int{},
	}
}

// NextExecutorId returns a fresh executor id. Ids are strictly monotonic and
// never reused within the process lifetime.
func (r *ExecutorRegistry) NextExecutorId() string {
	return strconv.FormatInt(r.executorIdCounter.Add(1), 10)
}

func (r *ExecutorRegistry) SetTotalExpected(total int) {
	r.totalExpected.Store(int64(total))
}

func (r *ExecutorRegistry) TotalExpected() int {
	return int(r.totalExpected.Load())
}

// InsertAllocated records a newly accepted executor pod, establishing both
// the forward and the inverse index. Inserting an executor id twice is a
// programming error and is rejected.
func (r *ExecutorRegistry) InsertAllocated(executorId string, pod *v1.Pod) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.executorsToPods[executorId]; exists {
		return errors.Errorf("executor %s is already allocated", executorId)
	}
	r.executorsToPods[executorId] = pod
	r.podNamesToExecutors[pod.Name] = executorId
	return nil
}

func (r *ExecutorRegistry) ExecutorCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.executorsToPods)
}

// ExecutorPods returns a snapshot of the pods of all live executors.
func (r *ExecutorRegistry) ExecutorPods() []*v1.Pod {
	r.mu.Lock()
	defer r.mu.Unlock()

	pods := make([]*v1.Pod, 0, len(r.executorsToPods))
	for _, pod := range r.executorsToPods {
		pods = append(pods, pod)
	}
	return pods
}

// ExecutorForPodName resolves the inverse index. A pod whose name is absent
// has been released already.
func (r *ExecutorRegistry) ExecutorForPodName(podName string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	executorId, ok := r.podNamesToExecutors[podName]
	return executorId, ok
}

// MarkPendingRemoval queues a live executor for removal resolution. The
// executor stays in the live indexes until the allocator resolves its exit
// reason. Returns false for executors the registry does not know.
func (r *ExecutorRegistry) MarkPendingRemoval(executorId string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	pod, ok := r.executorsToPods[executorId]
	if !ok {
		return false
	}
	r.pendingRemoval[executorId] = pod
	return true
}

// RequeuePendingRemoval puts back an executor whose exit reason could not be
// resolved this tick.
func (r *ExecutorRegistry) RequeuePendingRemoval(executorId string, pod *v1.Pod) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pendingRemoval[executorId] = pod
}

// DrainPendingRemovals snapshots and clears the pending-removal queue.
func (r *ExecutorRegistry) DrainPendingRemovals() []PendingExecutor {
	r.mu.Lock()
	defer r.mu.Unlock()

	pending := make([]PendingExecutor, 0, len(r.pendingRemoval))
	for executorId, pod := range r.pendingRemoval {
		pending = append(pending, PendingExecutor{ExecutorId: executorId, Pod: pod})
	}
	r.pendingRemoval = map[string]*v1.Pod{}
	return pending
}

func (r *ExecutorRegistry) PutExitReason(podName string, reason domain.ExecutorLossReason) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.knownExitReasons[podName] = reason
}

// TakeExitReason removes and returns the recorded exit reason for a pod.
// Each recorded reason is consumed at most once.
func (r *ExecutorRegistry) TakeExitReason(podName string) (domain.ExecutorLossReason, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	reason, ok := r.knownExitReasons[podName]
	if ok {
		delete(r.knownExitReasons, podName)
	}
	return reason, ok
}

func (r *ExecutorRegistry) UpsertPodByIP(podIP string, pod *v1.Pod) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.podsByIP[podIP] = pod
}

func (r *ExecutorRegistry) RemovePodByIP(podIP string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.podsByIP, podIP)
}

func (r *ExecutorRegistry) PodByIP(podIP string) (*v1.Pod, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pod, ok := r.podsByIP[podIP]
	return pod, ok
}

// IncrementReasonCheckCount bumps the number of ticks an executor has waited
// for its exit reason and returns the new count.
func (r *ExecutorRegistry) IncrementReasonCheckCount(executorId string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reasonCheckCounts[executorId]++
	return r.reasonCheckCounts[executorId]
}

// Forget erases an executor from every index in one step: the live indexes,
// the pending-removal queue, the reason-check counter and any stale exit
// reason recorded for its pod.
func (r *ExecutorRegistry) Forget(executorId string, podName string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if pod, ok := r.executorsToPods[executorId]; ok {
		delete(r.podNamesToExecutors, pod.Name)
		delete(r.executorsToPods, executorId)
	}
	delete(r.pendingRemoval, executorId)
	delete(r.reasonCheckCounts, executorId)
	delete(r.knownExitReasons, podName)
}

// Release removes the given executors from the live indexes and queues them
// for removal resolution, returning their pods for cluster deletion. Ids the
// registry does not know are returned separately.
func (r *ExecutorRegistry) Release(executorIds []string) (pods []*v1.Pod, unknown []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, executorId := range executorIds {
		pod, ok := r.executorsToPods[executorId]
		if !ok {
			unknown = append(unknown, executorId)
			continue
		}
		delete(r.executorsToPods, executorId)
		delete(r.podNamesToExecutors, pod.Name)
		r.pendingRemoval[executorId] = pod
		pods = append(pods, pod)
	}
	return pods, unknown
}

// DrainAllExecutors snapshots and clears the live indexes and the ip index.
// Used at shutdown; pods retained for post-mortem inspection are not included
// as they left the live indexes when their loss was resolved.
func (r *ExecutorRegistry) DrainAllExecutors() []*v1.Pod {
	r.mu.Lock()
	defer r.mu.Unlock()

	pods := make([]*v1.Pod, 0, len(r.executorsToPods))
	for _, pod := range r.executorsToPods {
		pods = append(pods, pod)
	}
	r.executorsToPods = map[string]*v1.Pod{}
	r.podNamesToExecutors = map[string]string{}
	r.podsByIP = map[string]*v1.Pod{}
	return pods
}
