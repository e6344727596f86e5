// Package storage provides the record storage abstraction shared by the
// identity store, attempt log, session store and activity log.
package storage

import "errors"

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrBucketNotFound is returned when a bucket has never been written.
	ErrBucketNotFound = errors.New("bucket not found")
	// ErrStopScan may be returned from a Scan callback to end iteration early
	// without error.
	ErrStopScan = errors.New("stop scan")
)

// BatchTx provides reads and writes within an atomic transaction.
// The bucket is scoped to the batch, so methods don't require it.
type BatchTx interface {
	Get(recordType string, recordID string) ([]byte, error)
	Put(recordType string, recordID string, data []byte) error
	Delete(recordType string, recordID string) error
}

// Repository defines the interface for record storage. Records are opaque
// byte slices grouped by bucket and record type; IDs within a type are kept
// in ascending byte order so time-ordered IDs can be range scanned.
type Repository interface {
	Put(bucket string, recordType string, recordID string, data []byte) error
	Get(bucket string, recordType string, recordID string) ([]byte, error)
	Delete(bucket string, recordType string, recordID string) error
	List(bucket string, recordType string) ([]string, error)
	// Scan calls fn for every record of recordType whose ID is >= from, in
	// ascending ID order. Returning ErrStopScan from fn ends the scan early.
	Scan(bucket string, recordType string, from string, fn func(recordID string, data []byte) error) error
	Batch(bucket string, fn func(tx BatchTx) error) error
}

// IsNotFound reports whether err means the record (or its whole bucket) is
// absent.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrBucketNotFound)
}
