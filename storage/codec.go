package storage

import (
	"encoding/json"
	"fmt"
)

// PutJSON marshals v and stores it as a record.
func PutJSON(repo Repository, bucket, recordType, recordID string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s/%s: %w", recordType, recordID, err)
	}
	return repo.Put(bucket, recordType, recordID, data)
}

// GetJSON loads a record and unmarshals it into v.
func GetJSON(repo Repository, bucket, recordType, recordID string, v any) error {
	data, err := repo.Get(bucket, recordType, recordID)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding %s/%s: %w", recordType, recordID, err)
	}
	return nil
}
