// Package memory provides a thread-safe in-memory implementation of storage.Repository.
package memory

import (
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/jmcleod/coursegate/storage"
)

// Repository is a thread-safe in-memory implementation of storage.Repository.
// Suitable for testing, demos, and single-process use cases.
type Repository struct {
	mu   sync.RWMutex
	data map[string]map[string][]byte
}

var _ storage.Repository = (*Repository)(nil)

// NewRepository creates a new empty in-memory Repository.
func NewRepository() *Repository {
	return &Repository{data: make(map[string]map[string][]byte)}
}

func makeKey(recordType, recordID string) string {
	return recordType + ":" + recordID
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}

func (r *Repository) Put(bucket, recordType, recordID string, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.putLocked(bucket, recordType, recordID, data)
}

func (r *Repository) putLocked(bucket, recordType, recordID string, data []byte) error {
	if _, ok := r.data[bucket]; !ok {
		r.data[bucket] = make(map[string][]byte)
	}
	r.data[bucket][makeKey(recordType, recordID)] = cloneBytes(data)
	return nil
}

func (r *Repository) Get(bucket, recordType, recordID string) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.getLocked(bucket, recordType, recordID)
}

func (r *Repository) getLocked(bucket, recordType, recordID string) ([]byte, error) {
	bucketData, ok := r.data[bucket]
	if !ok {
		return nil, storage.ErrBucketNotFound
	}
	data, ok := bucketData[makeKey(recordType, recordID)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneBytes(data), nil
}

func (r *Repository) Delete(bucket, recordType, recordID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deleteLocked(bucket, recordType, recordID)
}

func (r *Repository) deleteLocked(bucket, recordType, recordID string) error {
	k := makeKey(recordType, recordID)
	bucketData, ok := r.data[bucket]
	if !ok {
		return storage.ErrNotFound
	}
	if _, ok := bucketData[k]; !ok {
		return storage.ErrNotFound
	}
	delete(bucketData, k)
	return nil
}

func (r *Repository) List(bucket, recordType string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedIDsLocked(bucket, recordType, ""), nil
}

func (r *Repository) sortedIDsLocked(bucket, recordType, from string) []string {
	var ids []string
	prefix := recordType + ":"
	for k := range r.data[bucket] {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		id := k[len(prefix):]
		if id >= from {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Scan iterates over a snapshot of the matching records, so fn may safely
// call back into the repository.
func (r *Repository) Scan(bucket, recordType, from string, fn func(recordID string, data []byte) error) error {
	r.mu.RLock()
	ids := r.sortedIDsLocked(bucket, recordType, from)
	values := make([][]byte, len(ids))
	for i, id := range ids {
		values[i] = cloneBytes(r.data[bucket][makeKey(recordType, id)])
	}
	r.mu.RUnlock()

	for i, id := range ids {
		if err := fn(id, values[i]); err != nil {
			if errors.Is(err, storage.ErrStopScan) {
				return nil
			}
			return err
		}
	}
	return nil
}

// Batch executes fn within a batch transaction. On error, all writes are rolled back.
func (r *Repository) Batch(bucket string, fn func(tx storage.BatchTx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := r.snapshotBucket(bucket)

	tx := &memoryBatchTx{repo: r, bucket: bucket}
	if err := fn(tx); err != nil {
		r.restoreBucket(bucket, snapshot)
		return err
	}
	return nil
}

func (r *Repository) snapshotBucket(bucket string) map[string][]byte {
	original, ok := r.data[bucket]
	if !ok {
		return nil
	}
	cp := make(map[string][]byte, len(original))
	for k, v := range original {
		cp[k] = cloneBytes(v)
	}
	return cp
}

func (r *Repository) restoreBucket(bucket string, snapshot map[string][]byte) {
	if snapshot == nil {
		delete(r.data, bucket)
	} else {
		r.data[bucket] = snapshot
	}
}

type memoryBatchTx struct {
	repo   *Repository
	bucket string
}

func (tx *memoryBatchTx) Get(recordType, recordID string) ([]byte, error) {
	return tx.repo.getLocked(tx.bucket, recordType, recordID)
}

func (tx *memoryBatchTx) Put(recordType, recordID string, data []byte) error {
	return tx.repo.putLocked(tx.bucket, recordType, recordID, data)
}

func (tx *memoryBatchTx) Delete(recordType, recordID string) error {
	return tx.repo.deleteLocked(tx.bucket, recordType, recordID)
}
