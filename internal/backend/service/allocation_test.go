package service

import (
	"context"
	"fmt"
	"strconv"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	v1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	fakecontext "github.com/hex108/spark/internal/backend/context/fake"
	"github.com/hex108/spark/internal/backend/domain"
	"github.com/hex108/spark/internal/backend/fake"
	"github.com/hex108/spark/internal/backend/registry"
)

const testAppId = "spark-application-test"

func TestReconcile_ScalesUpFromZero(t *testing.T) {
	allocator, clusterContext, driver, executors, _ := setupAllocationService(t, 3)
	executors.SetTotalExpected(5)

	allocator.Reconcile()
	assert.Equal(t, 3, executors.ExecutorCount())
	assert.Len(t, clusterContext.SubmittedPods, 3)

	driver.SetRegisteredExecutorCount(3)
	allocator.Reconcile()
	assert.Equal(t, 5, executors.ExecutorCount())

	driver.SetRegisteredExecutorCount(5)
	allocator.Reconcile()
	assert.Equal(t, 5, executors.ExecutorCount())
	assert.Len(t, clusterContext.SubmittedPods, 5)
	assert.Empty(t, driver.RemovedExecutors())
}

func TestReconcile_CreatesNothingWhileRegistrationsLag(t *testing.T) {
	allocator, clusterContext, driver, executors, _ := setupAllocationService(t, 3)
	executors.SetTotalExpected(5)

	allocator.Reconcile()
	require.Equal(t, 3, executors.ExecutorCount())

	// Driver still reports fewer registered executors than are running.
	driver.SetRegisteredExecutorCount(2)
	allocator.Reconcile()

	assert.Equal(t, 3, executors.ExecutorCount())
	assert.Len(t, clusterContext.SubmittedPods, 3)
}

func TestReconcile_ClampsEachTickToBatchSize(t *testing.T) {
	allocator, clusterContext, driver, executors, _ := setupAllocationService(t, 2)
	executors.SetTotalExpected(10)

	for tick := 1; tick <= 5; tick++ {
		allocator.Reconcile()
		assert.Equal(t, tick*2, executors.ExecutorCount())
		assert.Len(t, clusterContext.SubmittedPods, tick*2)
		driver.SetRegisteredExecutorCount(executors.ExecutorCount())
	}

	allocator.Reconcile()
	assert.Equal(t, 10, executors.ExecutorCount())
}

func TestReconcile_AssignsMonotonicExecutorIds(t *testing.T) {
	allocator, clusterContext, driver, executors, _ := setupAllocationService(t, 5)
	executors.SetTotalExpected(7)

	allocator.Reconcile()
	driver.SetRegisteredExecutorCount(5)
	allocator.Reconcile()

	previous := 0
	for _, pod := range clusterContext.SubmittedPods {
		id, err := strconv.Atoi(pod.Labels[domain.ExecutorIdLabel])
		require.NoError(t, err)
		assert.Greater(t, id, previous)
		previous = id
	}
}

func TestReconcile_AbandonsIdOnCreationFailure(t *testing.T) {
	allocator, clusterContext, driver, executors, _ := setupAllocationService(t, 2)
	executors.SetTotalExpected(2)
	clusterContext.SubmitError = func(pod *v1.Pod) error {
		if pod.Labels[domain.ExecutorIdLabel] == "2" {
			return errors.New("admission refused")
		}
		return nil
	}

	allocator.Reconcile()
	assert.Equal(t, 1, executors.ExecutorCount())

	driver.SetRegisteredExecutorCount(1)
	allocator.Reconcile()
	assert.Equal(t, 2, executors.ExecutorCount())

	// The failed id is never retried; the gap is closed with a fresh id.
	_, ok := executors.ExecutorForPodName(fmt.Sprintf("%s-exec-2", testAppId))
	assert.False(t, ok)
	_, ok = executors.ExecutorForPodName(fmt.Sprintf("%s-exec-3", testAppId))
	assert.True(t, ok)
}

func TestReconcile_AppCausedExitRetainsPod(t *testing.T) {
	allocator, clusterContext, driver, executors, _ := setupAllocationService(t, 3)
	pod := allocateExecutor(t, executors, "1")
	executors.MarkPendingRemoval("1")
	executors.PutExitReason(pod.Name, domain.ExecutorExited(137, true,
		fmt.Sprintf("Pod %s's executor container exited with exit status code 137.", pod.Name)))

	allocator.Reconcile()

	removed := driver.RemovedExecutors()
	require.Len(t, removed, 1)
	assert.Equal(t, "1", removed[0].ExecutorId)
	assert.Equal(t, int32(137), removed[0].Reason.ExitCode)
	assert.True(t, removed[0].Reason.CausedByApp)

	// The pod stays in the cluster for post-mortem inspection.
	assert.Empty(t, clusterContext.DeletedPodNames)
	assert.Equal(t, 0, executors.ExecutorCount())
}

func TestReconcile_FrameworkCausedExitDeletesPod(t *testing.T) {
	allocator, clusterContext, driver, executors, _ := setupAllocationService(t, 3)
	pod := allocateExecutor(t, executors, "1")
	executors.MarkPendingRemoval("1")
	executors.PutExitReason(pod.Name, domain.ExecutorExited(0, false,
		fmt.Sprintf("Pod %s deleted or lost.", pod.Name)))

	allocator.Reconcile()

	removed := driver.RemovedExecutors()
	require.Len(t, removed, 1)
	assert.False(t, removed[0].Reason.CausedByApp)
	assert.Equal(t, []string{pod.Name}, clusterContext.DeletedPodNames)
	assert.Equal(t, 0, executors.ExecutorCount())
}

func TestReconcile_RemovesExecutorAfterReasonChecksExhausted(t *testing.T) {
	allocator, clusterContext, driver, executors, _ := setupAllocationService(t, 3)
	pod := allocateExecutor(t, executors, "1")
	executors.MarkPendingRemoval("1")

	for tick := 0; tick < maxReasonChecks-1; tick++ {
		allocator.Reconcile()
		assert.Empty(t, driver.RemovedExecutors())
	}

	allocator.Reconcile()

	removed := driver.RemovedExecutors()
	require.Len(t, removed, 1)
	assert.Equal(t, "1", removed[0].ExecutorId)
	assert.Equal(t, domain.UnknownExitCode, removed[0].Reason.ExitCode)
	assert.False(t, removed[0].Reason.CausedByApp)
	assert.Contains(t, removed[0].Reason.Message, "unknown reasons")
	assert.Equal(t, []string{pod.Name}, clusterContext.DeletedPodNames)
	assert.Equal(t, 0, executors.ExecutorCount())
}

func TestReconcile_ReportsEachLossAtMostOnce(t *testing.T) {
	allocator, _, driver, executors, _ := setupAllocationService(t, 3)
	pod := allocateExecutor(t, executors, "1")
	executors.MarkPendingRemoval("1")
	executors.PutExitReason(pod.Name, domain.ExecutorExited(1, false, "gone"))

	allocator.Reconcile()
	allocator.Reconcile()

	assert.Len(t, driver.RemovedExecutors(), 1)
}

func TestNodeLocalitySnapshot_SkipsOccupiedNodes(t *testing.T) {
	allocator, _, driver, executors, factory := setupAllocationService(t, 1)
	driver.SetHostToLocalTaskCount(map[string]int{"nodeA": 3, "nodeB": 1})

	occupied := allocateExecutor(t, executors, "1")
	occupied.Spec.NodeName = "nodeA"

	driver.SetRegisteredExecutorCount(1)
	executors.SetTotalExpected(2)
	allocator.Reconcile()

	require.Len(t, factory.localities, 1)
	assert.Equal(t, map[string]int{"nodeB": 1}, factory.localities[0])
}

func TestNodeLocalitySnapshot_MatchesHostIPAndCanonicalHostname(t *testing.T) {
	allocator, _, driver, executors, factory := setupAllocationService(t, 1)
	restoreResolver := defaultResolver
	defaultResolver = stubResolver{"10.0.0.5": "nodea.cluster.local."}
	t.Cleanup(func() { defaultResolver = restoreResolver })

	driver.SetHostToLocalTaskCount(map[string]int{
		"10.0.0.5":            2,
		"nodea.cluster.local": 3,
		"nodeB":               1,
	})

	occupied := allocateExecutor(t, executors, "1")
	occupied.Status.HostIP = "10.0.0.5"

	driver.SetRegisteredExecutorCount(1)
	executors.SetTotalExpected(2)
	allocator.Reconcile()

	require.Len(t, factory.localities, 1)
	assert.Equal(t, map[string]int{"nodeB": 1}, factory.localities[0])
}

func setupAllocationService(t *testing.T, batchSize int) (
	*AllocationService,
	*fakecontext.SyncFakeClusterContext,
	*fake.StubDriverScheduler,
	*registry.ExecutorRegistry,
	*spyPodFactory,
) {
	t.Helper()

	clusterContext := fakecontext.NewSyncFakeClusterContext()
	driver := fake.NewStubDriverScheduler(testAppId)
	executors := registry.New()
	factory := &spyPodFactory{}
	driverPod := &v1.Pod{ObjectMeta: metav1.ObjectMeta{Name: "spark-driver", UID: "driver-uid"}}

	allocator := NewAllocationService(clusterContext, executors, factory, driver, batchSize, "spark://driver:7077", driverPod, nil)
	return allocator, clusterContext, driver, executors, factory
}

func allocateExecutor(t *testing.T, executors *registry.ExecutorRegistry, executorId string) *v1.Pod {
	t.Helper()
	require.Equal(t, executorId, executors.NextExecutorId())
	pod := &v1.Pod{ObjectMeta: metav1.ObjectMeta{
		Name:   fmt.Sprintf("%s-exec-%s", testAppId, executorId),
		Labels: map[string]string{domain.AppIdLabel: testAppId, domain.ExecutorIdLabel: executorId},
	}}
	require.NoError(t, executors.InsertAllocated(executorId, pod))
	return pod
}

type spyPodFactory struct {
	localities []map[string]int
}

func (f *spyPodFactory) Create(
	executorId string,
	appId string,
	driverUrl string,
	envOverrides map[string]string,
	ownerPod *v1.Pod,
	nodeLocality map[string]int,
) *v1.Pod {
	f.localities = append(f.localities, nodeLocality)
	return &v1.Pod{ObjectMeta: metav1.ObjectMeta{
		Name:   fmt.Sprintf("%s-exec-%s", appId, executorId),
		Labels: map[string]string{domain.AppIdLabel: appId, domain.ExecutorIdLabel: executorId},
	}}
}

type stubResolver map[string]string

func (r stubResolver) LookupAddr(_ context.Context, addr string) ([]string, error) {
	hostname, ok := r[addr]
	if !ok {
		return nil, errors.Errorf("no reverse record for %s", addr)
	}
	return []string{hostname}, nil
}
