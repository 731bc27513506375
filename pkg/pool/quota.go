package pool

import (
	"fmt"
	"sync"

	"github.com/orchestrator/controlplane/pkg/events"
	"github.com/orchestrator/controlplane/pkg/orcherr"
	"github.com/orchestrator/controlplane/pkg/storage"
	"github.com/orchestrator/controlplane/pkg/types"
)

// usage tracks a namespace's live counters against its QuotaPolicy's limits.
type usage struct {
	concurrentJobs int
	cpuCores       float64
	memoryBytes    int64
}

// QuotaEvaluator enforces, warns on, or merely records QuotaPolicy limits.
// ENFORCE blocks admission; WARN allows it but emits a quota.exceeded event;
// MONITOR only records usage.
type QuotaEvaluator struct {
	mu     sync.Mutex
	store  storage.Store
	broker *events.Broker
	usage  map[string]*usage
}

// NewQuotaEvaluator creates a QuotaEvaluator backed by store.
func NewQuotaEvaluator(store storage.Store, broker *events.Broker) *QuotaEvaluator {
	return &QuotaEvaluator{store: store, broker: broker, usage: make(map[string]*usage)}
}

// Admit checks whether namespace may claim resources under its QuotaPolicy,
// incrementing usage counters when admission is granted (ENFORCE/WARN) or
// merely recorded (MONITOR).
func (q *QuotaEvaluator) Admit(namespace string, resources types.ResourceUnits) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	policy, err := q.store.GetQuotaByNamespace(namespace)
	if err != nil {
		// No quota configured for this namespace: unrestricted.
		q.record(namespace, resources)
		return nil
	}

	u := q.usageFor(namespace)
	wouldExceed := (policy.Max.CPUCores > 0 && u.cpuCores+resources.CPUCores > policy.Max.CPUCores) ||
		(policy.Max.MemoryBytes > 0 && u.memoryBytes+resources.MemoryBytes > policy.Max.MemoryBytes)

	switch policy.Enforcement {
	case types.QuotaEnforce:
		if wouldExceed {
			if q.broker != nil {
				q.broker.Publish(&types.Event{Type: types.EventQuotaExceeded, Subject: namespace})
			}
			return orcherr.New(orcherr.KindQuotaExceeded, fmt.Sprintf("namespace %s would exceed quota", namespace))
		}
	case types.QuotaWarn:
		if wouldExceed && q.broker != nil {
			q.broker.Publish(&types.Event{Type: types.EventQuotaExceeded, Subject: namespace, Message: "warn-only quota exceeded"})
		}
	case types.QuotaMonitor:
		// record only, never deny
	}

	u.concurrentJobs++
	u.cpuCores += resources.CPUCores
	u.memoryBytes += resources.MemoryBytes
	return nil
}

// Release returns resources to the namespace's usage counters when an
// Execution reaches a terminal state.
func (q *QuotaEvaluator) Release(namespace string, resources types.ResourceUnits) {
	q.mu.Lock()
	defer q.mu.Unlock()

	u := q.usageFor(namespace)
	u.concurrentJobs--
	if u.concurrentJobs < 0 {
		u.concurrentJobs = 0
	}
	u.cpuCores -= resources.CPUCores
	u.memoryBytes -= resources.MemoryBytes
	if u.cpuCores < 0 {
		u.cpuCores = 0
	}
	if u.memoryBytes < 0 {
		u.memoryBytes = 0
	}
}

func (q *QuotaEvaluator) record(namespace string, resources types.ResourceUnits) {
	u := q.usageFor(namespace)
	u.concurrentJobs++
	u.cpuCores += resources.CPUCores
	u.memoryBytes += resources.MemoryBytes
}

func (q *QuotaEvaluator) usageFor(namespace string) *usage {
	u, ok := q.usage[namespace]
	if !ok {
		u = &usage{}
		q.usage[namespace] = u
	}
	return u
}
