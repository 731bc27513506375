package metrics

import (
	"time"

	"github.com/orchestrator/controlplane/pkg/types"
)

// Source is the manager.Manager-shaped view of control-plane state the
// Collector reads from; *manager.Manager satisfies it.
type Source interface {
	ListWorkers() ([]*types.Worker, error)
	ListPools() ([]*types.Pool, error)
	ListJobs() ([]*types.Job, error)
	ListExecutions() ([]*types.Execution, error)
	ListArtifacts() ([]*types.Artifact, error)
	IsLeader() bool
	GetRaftStats() map[string]interface{}
}

// Collector periodically samples gauges from the manager's current state.
type Collector struct {
	manager Source
	stopCh  chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(mgr Source) *Collector {
	return &Collector{
		manager: mgr,
		stopCh:  make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectWorkerMetrics()
	c.collectPoolMetrics()
	c.collectJobMetrics()
	c.collectExecutionMetrics()
	c.collectArtifactMetrics()
	c.collectRaftMetrics()
}

func (c *Collector) collectWorkerMetrics() {
	workers, err := c.manager.ListWorkers()
	if err != nil {
		return
	}

	counts := make(map[types.PoolID]map[types.WorkerStatus]int)
	for _, w := range workers {
		if counts[w.PoolID] == nil {
			counts[w.PoolID] = make(map[types.WorkerStatus]int)
		}
		counts[w.PoolID][w.Status]++
	}

	for pool, statuses := range counts {
		for status, count := range statuses {
			WorkersTotal.WithLabelValues(string(pool), string(status)).Set(float64(count))
		}
	}
}

func (c *Collector) collectPoolMetrics() {
	pools, err := c.manager.ListPools()
	if err != nil {
		return
	}

	counts := make(map[types.PoolStatus]int)
	for _, p := range pools {
		counts[p.Status]++
	}

	for status, count := range counts {
		PoolsTotal.WithLabelValues(string(status)).Set(float64(count))
	}
}

func (c *Collector) collectJobMetrics() {
	jobs, err := c.manager.ListJobs()
	if err != nil {
		return
	}

	JobsTotal.Set(float64(len(jobs)))

	queued := make(map[string]int)
	for _, j := range jobs {
		if j.Status == types.JobQueued {
			queued[j.Namespace]++
		}
	}
	for namespace, count := range queued {
		QueueDepth.WithLabelValues(namespace).Set(float64(count))
	}
}

func (c *Collector) collectExecutionMetrics() {
	executions, err := c.manager.ListExecutions()
	if err != nil {
		return
	}

	counts := make(map[types.ExecutionState]int)
	for _, e := range executions {
		counts[e.State]++
	}

	for state, count := range counts {
		ExecutionsTotal.WithLabelValues(string(state)).Set(float64(count))
	}
}

func (c *Collector) collectArtifactMetrics() {
	artifacts, err := c.manager.ListArtifacts()
	if err != nil {
		return
	}

	ArtifactsTotal.Set(float64(len(artifacts)))

	var total int64
	for _, a := range artifacts {
		total += a.SizeBytes
	}
	ArtifactBytesStored.Set(float64(total))
}

func (c *Collector) collectRaftMetrics() {
	if c.manager.IsLeader() {
		RaftLeader.Set(1)
	} else {
		RaftLeader.Set(0)
	}

	stats := c.manager.GetRaftStats()
	if stats == nil {
		return
	}
	if lastIndex, ok := stats["last_log_index"].(uint64); ok {
		RaftLogIndex.Set(float64(lastIndex))
	}
	if appliedIndex, ok := stats["applied_index"].(uint64); ok {
		RaftAppliedIndex.Set(float64(appliedIndex))
	}
	if peers, ok := stats["peers"].(uint64); ok {
		RaftPeers.Set(float64(peers))
	}
}
