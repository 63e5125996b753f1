package fake

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/hex108/spark/internal/backend/domain"
)

type RemovedExecutor struct {
	ExecutorId string
	Reason     domain.ExecutorLossReason
}

// StubDriverScheduler stands in for the driver's coarse-grained scheduler.
// It records every loss report and lets callers script the registration
// count, the disable gate and the address map. Used by tests and by the
// standalone binary to exercise allocation against a real cluster.
type StubDriverScheduler struct {
	mu sync.Mutex

	appId            string
	registered       int
	disabled         map[string]bool
	DisableResult    bool
	addresses        map[string]string
	hostTaskCounts   map[string]int
	removedExecutors []RemovedExecutor
}

func NewStubDriverScheduler(appId string) *StubDriverScheduler {
	return &StubDriverScheduler{
		appId:         appId,
		DisableResult: true,
		disabled:      map[string]bool{},
		addresses:     map[string]string{},
	}
}

func (s *StubDriverScheduler) Start() error { return nil }
func (s *StubDriverScheduler) Stop() error  { return nil }

func (s *StubDriverScheduler) ApplicationId() string {
	return s.appId
}

func (s *StubDriverScheduler) RegisteredExecutorCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registered
}

func (s *StubDriverScheduler) SetRegisteredExecutorCount(count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registered = count
}

func (s *StubDriverScheduler) RemoveExecutor(executorId string, reason domain.ExecutorLossReason) {
	s.mu.Lock()
	defer s.mu.Unlock()
	log.Infof("Driver notified of executor %s loss: %s", executorId, reason.Message)
	s.removedExecutors = append(s.removedExecutors, RemovedExecutor{ExecutorId: executorId, Reason: reason})
}

func (s *StubDriverScheduler) RemovedExecutors() []RemovedExecutor {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := make([]RemovedExecutor, len(s.removedExecutors))
	copy(removed, s.removedExecutors)
	return removed
}

// DisableExecutor returns the scripted result for the first call per
// executor and false afterwards, mirroring the real scheduler's guarantee
// that an executor is disabled at most once.
func (s *StubDriverScheduler) DisableExecutor(executorId string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disabled[executorId] {
		return false
	}
	s.disabled[executorId] = true
	return s.DisableResult
}

func (s *StubDriverScheduler) ExecutorForAddress(address string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	executorId, ok := s.addresses[address]
	return executorId, ok
}

func (s *StubDriverScheduler) SetExecutorAddress(address string, executorId string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addresses[address] = executorId
}

func (s *StubDriverScheduler) HostToLocalTaskCount() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[string]int, len(s.hostTaskCounts))
	for host, count := range s.hostTaskCounts {
		counts[host] = count
	}
	return counts
}

func (s *StubDriverScheduler) SetHostToLocalTaskCount(counts map[string]int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hostTaskCounts = counts
}
