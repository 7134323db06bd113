package store

import (
	"context"
	"sort"
	"sync"
)

// memIndex holds records in memory and ranks them by exact scan. The
// flat and hnsw backends are built on it.
type memIndex struct {
	mu      sync.RWMutex
	dims    int
	records map[string]*record
	nextSeq uint64
	closed  bool
}

func newMemIndex(dims int) *memIndex {
	return &memIndex{dims: dims, records: make(map[string]*record), nextSeq: 1}
}

// validate checks every entry before any of them is applied, so a bad
// batch leaves the index unchanged.
func (m *memIndex) validate(entries []Entry) error {
	for _, e := range entries {
		if err := checkDims(m.dims, e.Vector); err != nil {
			return err
		}
	}
	return nil
}

// put inserts or replaces e. Callers hold m.mu. The previous record, if
// any, is returned.
func (m *memIndex) put(e Entry) (*record, *record) {
	old := m.records[e.ID]
	vec := make([]float32, len(e.Vector))
	copy(vec, e.Vector)
	e.Vector = vec
	rec := &record{Entry: e, Seq: m.nextSeq}
	m.nextSeq++
	m.records[e.ID] = rec
	return rec, old
}

// removeFile deletes the records of one file. Callers hold m.mu.
func (m *memIndex) removeFile(path string) []*record {
	var removed []*record
	for id, rec := range m.records {
		if rec.Entry.Provenance.File == path {
			removed = append(removed, rec)
			delete(m.records, id)
		}
	}
	return removed
}

// scan ranks every record. Callers hold m.mu.
func (m *memIndex) scan(ctx context.Context, q []float32, k int, f Filters) ([]Hit, error) {
	r := newRanker(q, k, f)
	n := 0
	for _, rec := range m.records {
		if n++; n%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		r.offer(rec)
	}
	return r.hits(), nil
}

// sorted returns records in insertion order. Callers hold m.mu.
func (m *memIndex) sorted() []*record {
	out := make([]*record, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}
