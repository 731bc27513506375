package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/orchestrator/controlplane/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketJobs       = []byte("jobs")
	bucketExecutions = []byte("executions")
	bucketPools      = []byte("pools")
	bucketWorkers    = []byte("workers")
	bucketArtifacts  = []byte("artifacts")
	bucketQuotas     = []byte("quotas")
	bucketCA         = []byte("ca")
)

// BoltStore implements Store using BoltDB, one bucket per entity kind,
// every write going through a single Update transaction per call.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) the orchestrator's BoltDB file under
// dataDir and ensures every bucket exists.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "orchestrator.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketJobs, bucketExecutions, bucketPools, bucketWorkers,
			bucketArtifacts, bucketQuotas, bucketCA,
		}
		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Job operations

func (s *BoltStore) CreateJob(job *types.Job) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketJobs)
		data, err := json.Marshal(job)
		if err != nil {
			return err
		}
		return b.Put([]byte(job.ID), data)
	})
}

func (s *BoltStore) GetJob(id types.JobID) (*types.Job, error) {
	var job types.Job
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketJobs)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("job not found: %s", id)
		}
		return json.Unmarshal(data, &job)
	})
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *BoltStore) ListJobs() ([]*types.Job, error) {
	var jobs []*types.Job
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketJobs)
		return b.ForEach(func(k, v []byte) error {
			var job types.Job
			if err := json.Unmarshal(v, &job); err != nil {
				return err
			}
			jobs = append(jobs, &job)
			return nil
		})
	})
	return jobs, err
}

func (s *BoltStore) DeleteJob(id types.JobID) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketJobs)
		return b.Delete([]byte(id))
	})
}

// Execution operations

func (s *BoltStore) CreateExecution(exec *types.Execution) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketExecutions)
		data, err := json.Marshal(exec)
		if err != nil {
			return err
		}
		return b.Put([]byte(exec.ID), data)
	})
}

func (s *BoltStore) GetExecution(id types.ExecutionID) (*types.Execution, error) {
	var exec types.Execution
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketExecutions)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("execution not found: %s", id)
		}
		return json.Unmarshal(data, &exec)
	})
	if err != nil {
		return nil, err
	}
	return &exec, nil
}

func (s *BoltStore) ListExecutions() ([]*types.Execution, error) {
	var execs []*types.Execution
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketExecutions)
		return b.ForEach(func(k, v []byte) error {
			var exec types.Execution
			if err := json.Unmarshal(v, &exec); err != nil {
				return err
			}
			execs = append(execs, &exec)
			return nil
		})
	})
	return execs, err
}

func (s *BoltStore) ListExecutionsByJob(jobID types.JobID) ([]*types.Execution, error) {
	execs, err := s.ListExecutions()
	if err != nil {
		return nil, err
	}
	var filtered []*types.Execution
	for _, e := range execs {
		if e.JobID == jobID {
			filtered = append(filtered, e)
		}
	}
	return filtered, nil
}

func (s *BoltStore) UpdateExecution(exec *types.Execution) error {
	return s.CreateExecution(exec)
}

func (s *BoltStore) DeleteExecution(id types.ExecutionID) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketExecutions)
		return b.Delete([]byte(id))
	})
}

// Pool operations

func (s *BoltStore) CreatePool(pool *types.Pool) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPools)
		data, err := json.Marshal(pool)
		if err != nil {
			return err
		}
		return b.Put([]byte(pool.ID), data)
	})
}

func (s *BoltStore) GetPool(id types.PoolID) (*types.Pool, error) {
	var pool types.Pool
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPools)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("pool not found: %s", id)
		}
		return json.Unmarshal(data, &pool)
	})
	if err != nil {
		return nil, err
	}
	return &pool, nil
}

func (s *BoltStore) GetPoolByName(name string) (*types.Pool, error) {
	var found *types.Pool
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPools)
		return b.ForEach(func(k, v []byte) error {
			var pool types.Pool
			if err := json.Unmarshal(v, &pool); err != nil {
				return err
			}
			if pool.Name == name {
				found = &pool
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("pool not found: %s", name)
	}
	return found, nil
}

func (s *BoltStore) ListPools() ([]*types.Pool, error) {
	var pools []*types.Pool
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPools)
		return b.ForEach(func(k, v []byte) error {
			var pool types.Pool
			if err := json.Unmarshal(v, &pool); err != nil {
				return err
			}
			pools = append(pools, &pool)
			return nil
		})
	})
	return pools, err
}

func (s *BoltStore) UpdatePool(pool *types.Pool) error {
	return s.CreatePool(pool)
}

func (s *BoltStore) DeletePool(id types.PoolID) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPools)
		return b.Delete([]byte(id))
	})
}

// Worker operations

func (s *BoltStore) CreateWorker(worker *types.Worker) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketWorkers)
		data, err := json.Marshal(worker)
		if err != nil {
			return err
		}
		return b.Put([]byte(worker.ID), data)
	})
}

func (s *BoltStore) GetWorker(id types.WorkerID) (*types.Worker, error) {
	var worker types.Worker
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketWorkers)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("worker not found: %s", id)
		}
		return json.Unmarshal(data, &worker)
	})
	if err != nil {
		return nil, err
	}
	return &worker, nil
}

func (s *BoltStore) ListWorkers() ([]*types.Worker, error) {
	var workers []*types.Worker
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketWorkers)
		return b.ForEach(func(k, v []byte) error {
			var worker types.Worker
			if err := json.Unmarshal(v, &worker); err != nil {
				return err
			}
			workers = append(workers, &worker)
			return nil
		})
	})
	return workers, err
}

func (s *BoltStore) ListWorkersByPool(poolID types.PoolID) ([]*types.Worker, error) {
	workers, err := s.ListWorkers()
	if err != nil {
		return nil, err
	}
	var filtered []*types.Worker
	for _, w := range workers {
		if w.PoolID == poolID {
			filtered = append(filtered, w)
		}
	}
	return filtered, nil
}

func (s *BoltStore) UpdateWorker(worker *types.Worker) error {
	return s.CreateWorker(worker)
}

func (s *BoltStore) DeleteWorker(id types.WorkerID) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketWorkers)
		return b.Delete([]byte(id))
	})
}

// Artifact operations

func (s *BoltStore) CreateArtifact(artifact *types.Artifact) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketArtifacts)
		data, err := json.Marshal(artifact)
		if err != nil {
			return err
		}
		return b.Put([]byte(artifact.ID), data)
	})
}

func (s *BoltStore) GetArtifact(id types.ArtifactID) (*types.Artifact, error) {
	var artifact types.Artifact
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketArtifacts)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("artifact not found: %s", id)
		}
		return json.Unmarshal(data, &artifact)
	})
	if err != nil {
		return nil, err
	}
	return &artifact, nil
}

func (s *BoltStore) ListArtifacts() ([]*types.Artifact, error) {
	var artifacts []*types.Artifact
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketArtifacts)
		return b.ForEach(func(k, v []byte) error {
			var artifact types.Artifact
			if err := json.Unmarshal(v, &artifact); err != nil {
				return err
			}
			artifacts = append(artifacts, &artifact)
			return nil
		})
	})
	return artifacts, err
}

func (s *BoltStore) UpdateArtifact(artifact *types.Artifact) error {
	return s.CreateArtifact(artifact)
}

func (s *BoltStore) DeleteArtifact(id types.ArtifactID) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketArtifacts)
		return b.Delete([]byte(id))
	})
}

// Quota operations

func (s *BoltStore) CreateQuota(quota *types.QuotaPolicy) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketQuotas)
		data, err := json.Marshal(quota)
		if err != nil {
			return err
		}
		return b.Put([]byte(quota.ID), data)
	})
}

func (s *BoltStore) GetQuota(id types.QuotaID) (*types.QuotaPolicy, error) {
	var quota types.QuotaPolicy
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketQuotas)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("quota not found: %s", id)
		}
		return json.Unmarshal(data, &quota)
	})
	if err != nil {
		return nil, err
	}
	return &quota, nil
}

func (s *BoltStore) GetQuotaByNamespace(namespace string) (*types.QuotaPolicy, error) {
	var found *types.QuotaPolicy
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketQuotas)
		return b.ForEach(func(k, v []byte) error {
			var quota types.QuotaPolicy
			if err := json.Unmarshal(v, &quota); err != nil {
				return err
			}
			if quota.Namespace == namespace {
				found = &quota
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("quota not found for namespace: %s", namespace)
	}
	return found, nil
}

func (s *BoltStore) ListQuotas() ([]*types.QuotaPolicy, error) {
	var quotas []*types.QuotaPolicy
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketQuotas)
		return b.ForEach(func(k, v []byte) error {
			var quota types.QuotaPolicy
			if err := json.Unmarshal(v, &quota); err != nil {
				return err
			}
			quotas = append(quotas, &quota)
			return nil
		})
	})
	return quotas, err
}

func (s *BoltStore) UpdateQuota(quota *types.QuotaPolicy) error {
	return s.CreateQuota(quota)
}

func (s *BoltStore) DeleteQuota(id types.QuotaID) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketQuotas)
		return b.Delete([]byte(id))
	})
}

// Certificate Authority operations

func (s *BoltStore) SaveCA(data []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCA)
		return b.Put([]byte("ca"), data)
	})
}

func (s *BoltStore) GetCA() ([]byte, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCA)
		v := b.Get([]byte("ca"))
		if v == nil {
			return fmt.Errorf("CA not found")
		}
		data = make([]byte, len(v))
		copy(data, v)
		return nil
	})
	return data, err
}
