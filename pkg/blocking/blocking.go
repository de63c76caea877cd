// Package blocking partitions the record universe into small candidate
// buckets sharing a cheap derived key, so pairwise comparison stays near
// O(n * average-bucket-size) instead of O(n^2).
package blocking

import (
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/normalizers"
)

// Keys derives the independent blocking keys for a normalized record. Each
// key class is cheap to index and high-recall; dropping one risks missed
// matches, adding one costs compute. A pair is only ever scored when it
// shares at least one key, and the key itself is never a matching signal.
func Keys(rec normalizers.NormalizedRecord) []models.BlockKey {
	keys := make([]models.BlockKey, 0, 4)

	if rec.Phone != "" {
		keys = append(keys, models.BlockKey("phone:"+rec.Phone))
	}
	if rec.Email != "" {
		keys = append(keys, models.BlockKey("email:"+rec.Email))
	}
	if rec.LastName != "" && rec.OriginCity != "" {
		prefix := rec.LastName
		if len(prefix) > 3 {
			prefix = prefix[:3]
		}
		keys = append(keys, models.BlockKey("lnoc:"+prefix+"|"+rec.OriginCity))
	}
	if rec.FirstName != "" && rec.DestinationCity != "" {
		keys = append(keys, models.BlockKey("fidc:"+rec.FirstName[:1]+"|"+rec.DestinationCity))
	}

	return keys
}

// Index is an in-memory bucket index over normalized records. It is built
// once per job run (the blocking stage is read-only over the record set) and
// updated incrementally as unification creates or absorbs customers.
type Index struct {
	buckets map[models.BlockKey]map[string]struct{}
	records map[string]normalizers.NormalizedRecord
}

// NewIndex creates an empty block index
func NewIndex() *Index {
	return &Index{
		buckets: make(map[models.BlockKey]map[string]struct{}),
		records: make(map[string]normalizers.NormalizedRecord),
	}
}

// Add indexes a record under each of its blocking keys. Re-adding the same
// ID replaces the previous entry.
func (i *Index) Add(rec normalizers.NormalizedRecord) {
	if _, ok := i.records[rec.ID]; ok {
		i.Remove(rec.ID)
	}
	i.records[rec.ID] = rec
	for _, key := range Keys(rec) {
		bucket, ok := i.buckets[key]
		if !ok {
			bucket = make(map[string]struct{})
			i.buckets[key] = bucket
		}
		bucket[rec.ID] = struct{}{}
	}
}

// Remove drops a record from every bucket it appears in.
func (i *Index) Remove(id string) {
	rec, ok := i.records[id]
	if !ok {
		return
	}
	for _, key := range Keys(rec) {
		if bucket, ok := i.buckets[key]; ok {
			delete(bucket, id)
			if len(bucket) == 0 {
				delete(i.buckets, key)
			}
		}
	}
	delete(i.records, id)
}

// Get returns the indexed record for an ID.
func (i *Index) Get(id string) (normalizers.NormalizedRecord, bool) {
	rec, ok := i.records[id]
	return rec, ok
}

// Len returns the number of indexed records.
func (i *Index) Len() int {
	return len(i.records)
}

// CandidatesByKey returns the records indexed under a single key.
func (i *Index) CandidatesByKey(key models.BlockKey) []normalizers.NormalizedRecord {
	bucket, ok := i.buckets[key]
	if !ok {
		return nil
	}
	out := make([]normalizers.NormalizedRecord, 0, len(bucket))
	for id := range bucket {
		out = append(out, i.records[id])
	}
	return out
}

// Candidates returns every indexed record sharing at least one blocking key
// with the given record, excluding the record itself. Records sharing several
// keys are returned once.
func (i *Index) Candidates(rec normalizers.NormalizedRecord) []normalizers.NormalizedRecord {
	seen := make(map[string]struct{})
	var out []normalizers.NormalizedRecord
	for _, key := range Keys(rec) {
		bucket, ok := i.buckets[key]
		if !ok {
			continue
		}
		for id := range bucket {
			if id == rec.ID {
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, i.records[id])
		}
	}
	return out
}
