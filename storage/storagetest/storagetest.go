// Package storagetest provides a conformance suite for storage.Repository
// implementations.
package storagetest

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/jmcleod/coursegate/storage"
)

// Run exercises repo against the behaviour every backend must share.
func Run(t *testing.T, repo storage.Repository) {
	t.Helper()
	bucket := "bucket1"
	recordType := "TYPE"

	t.Run("PutAndGet", func(t *testing.T) {
		if err := repo.Put(bucket, recordType, "id1", []byte("value1")); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		got, err := repo.Get(bucket, recordType, "id1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if !bytes.Equal(got, []byte("value1")) {
			t.Errorf("expected value1, got %q", got)
		}

		// Mutating the returned slice must not affect stored data.
		got[0] = 'X'
		got2, _ := repo.Get(bucket, recordType, "id1")
		if got2[0] == 'X' {
			t.Error("repository should return copies of stored records")
		}
	})

	t.Run("GetNotFound", func(t *testing.T) {
		if _, err := repo.Get("nonexistent", recordType, "id1"); err == nil {
			t.Error("Get with nonexistent bucket should fail")
		}
		_, err := repo.Get(bucket, recordType, "nonexistent")
		if !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("Overwrite", func(t *testing.T) {
		repo.Put(bucket, recordType, "ow", []byte("v1"))
		repo.Put(bucket, recordType, "ow", []byte("v2"))
		got, err := repo.Get(bucket, recordType, "ow")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if string(got) != "v2" {
			t.Errorf("expected v2, got %q", got)
		}
	})

	t.Run("ListIsSortedAndTypeScoped", func(t *testing.T) {
		b := "list-bucket"
		for _, id := range []string{"c", "a", "b"} {
			repo.Put(b, recordType, id, []byte(id))
		}
		repo.Put(b, "OTHER", "z", []byte("z"))

		ids, err := repo.List(b, recordType)
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if fmt.Sprint(ids) != "[a b c]" {
			t.Errorf("expected [a b c], got %v", ids)
		}

		empty, err := repo.List("never-written", recordType)
		if err != nil {
			t.Fatalf("List on missing bucket failed: %v", err)
		}
		if len(empty) != 0 {
			t.Errorf("expected no IDs, got %v", empty)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		repo.Put(bucket, recordType, "del", []byte("x"))
		if err := repo.Delete(bucket, recordType, "del"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if _, err := repo.Get(bucket, recordType, "del"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound after delete, got %v", err)
		}
		if err := repo.Delete(bucket, recordType, "del"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound deleting twice, got %v", err)
		}
	})

	t.Run("ScanFrom", func(t *testing.T) {
		b := "scan-bucket"
		for i := 0; i < 5; i++ {
			id := fmt.Sprintf("%03d", i)
			repo.Put(b, recordType, id, []byte(id))
		}
		var seen []string
		err := repo.Scan(b, recordType, "002", func(id string, data []byte) error {
			if string(data) != id {
				t.Errorf("record %s has data %q", id, data)
			}
			seen = append(seen, id)
			return nil
		})
		if err != nil {
			t.Fatalf("Scan failed: %v", err)
		}
		if fmt.Sprint(seen) != "[002 003 004]" {
			t.Errorf("expected [002 003 004], got %v", seen)
		}
	})

	t.Run("ScanStop", func(t *testing.T) {
		b := "scan-bucket"
		count := 0
		err := repo.Scan(b, recordType, "", func(string, []byte) error {
			count++
			if count == 2 {
				return storage.ErrStopScan
			}
			return nil
		})
		if err != nil {
			t.Fatalf("Scan with ErrStopScan should not fail: %v", err)
		}
		if count != 2 {
			t.Errorf("expected scan to stop after 2 records, got %d", count)
		}
	})

	t.Run("ScanPropagatesError", func(t *testing.T) {
		boom := errors.New("boom")
		err := repo.Scan("scan-bucket", recordType, "", func(string, []byte) error {
			return boom
		})
		if !errors.Is(err, boom) {
			t.Errorf("expected callback error, got %v", err)
		}
	})

	t.Run("BatchCommit", func(t *testing.T) {
		b := "batch-bucket"
		repo.Put(b, recordType, "old", []byte("old"))
		err := repo.Batch(b, func(tx storage.BatchTx) error {
			old, err := tx.Get(recordType, "old")
			if err != nil {
				return err
			}
			if string(old) != "old" {
				t.Errorf("expected batch read of %q, got %q", "old", old)
			}
			if _, err := tx.Get(recordType, "missing"); !errors.Is(err, storage.ErrNotFound) {
				t.Errorf("expected ErrNotFound for missing batch read, got %v", err)
			}
			if err := tx.Put(recordType, "new", []byte("new")); err != nil {
				return err
			}
			return tx.Delete(recordType, "old")
		})
		if err != nil {
			t.Fatalf("Batch failed: %v", err)
		}
		if _, err := repo.Get(b, recordType, "new"); err != nil {
			t.Errorf("expected committed record, got %v", err)
		}
		if _, err := repo.Get(b, recordType, "old"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected deleted record, got %v", err)
		}
	})

	t.Run("BatchRollback", func(t *testing.T) {
		b := "batch-bucket"
		boom := errors.New("boom")
		err := repo.Batch(b, func(tx storage.BatchTx) error {
			if err := tx.Put(recordType, "rolled-back", []byte("x")); err != nil {
				return err
			}
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("expected batch error, got %v", err)
		}
		if _, err := repo.Get(b, recordType, "rolled-back"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected rolled-back record to be absent, got %v", err)
		}
	})

	t.Run("JSONHelpers", func(t *testing.T) {
		type record struct {
			Name  string `json:"name"`
			Count int    `json:"count"`
		}
		in := record{Name: "alpha", Count: 3}
		if err := storage.PutJSON(repo, bucket, "JSON", "r1", in); err != nil {
			t.Fatalf("PutJSON failed: %v", err)
		}
		var out record
		if err := storage.GetJSON(repo, bucket, "JSON", "r1", &out); err != nil {
			t.Fatalf("GetJSON failed: %v", err)
		}
		if out != in {
			t.Errorf("expected %+v, got %+v", in, out)
		}
	})
}
