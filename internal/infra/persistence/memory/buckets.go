package memory

import (
	"encoding/json"
	"fmt"
)

// Bucket names used by the durable backends' state table.
const (
	BucketDragons   = "dragons"
	BucketGenotypes = "genotypes"
	BucketRequests  = "breeding_requests"
)

// Buckets lists the state buckets in persistence order.
var Buckets = []string{BucketDragons, BucketGenotypes, BucketRequests}

// EncodeBucket marshals one bucket of the snapshot to JSON.
func (s Snapshot) EncodeBucket(bucket string) ([]byte, error) {
	switch bucket {
	case BucketDragons:
		return json.Marshal(s.Dragons)
	case BucketGenotypes:
		return json.Marshal(s.Genotypes)
	case BucketRequests:
		return json.Marshal(s.Requests)
	default:
		return nil, fmt.Errorf("unknown bucket %q", bucket)
	}
}

// DecodeBucket unmarshals payload into the named bucket. Unknown buckets are
// ignored so older databases with extra rows still load.
func (s *Snapshot) DecodeBucket(bucket string, payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	var target any
	switch bucket {
	case BucketDragons:
		target = &s.Dragons
	case BucketGenotypes:
		target = &s.Genotypes
	case BucketRequests:
		target = &s.Requests
	default:
		return nil
	}
	if err := json.Unmarshal(payload, target); err != nil {
		return fmt.Errorf("decode %s: %w", bucket, err)
	}
	return nil
}
