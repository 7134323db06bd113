package store

import (
	"math"
	"sort"
)

// record is an entry plus its insertion sequence. Key is the hnsw graph
// key and unused by the other backends.
type record struct {
	Entry Entry
	Seq   uint64
	Key   uint64
}

// cosineDistance is 1 - cos(a, b). A zero vector is at distance 1 from
// everything.
func cosineDistance(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 1
	}
	d := 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
	switch {
	case d < 0:
		return 0
	case d > 2:
		return 2
	}
	return d
}

type candidate struct {
	rec  *record
	dist float64
}

func (c candidate) before(o candidate) bool {
	if c.dist != o.dist {
		return c.dist < o.dist
	}
	return c.rec.Seq < o.rec.Seq
}

// ranker keeps the k best records offered to it. Records failing the
// filters are dropped before their distance is computed.
type ranker struct {
	query   []float32
	k       int
	filters Filters
	top     []candidate
}

func newRanker(query []float32, k int, filters Filters) *ranker {
	return &ranker{query: query, k: k, filters: filters, top: make([]candidate, 0, min(k, 64))}
}

func (r *ranker) offer(rec *record) {
	if r.k <= 0 || !r.filters.Match(rec.Entry.Metadata) {
		return
	}
	c := candidate{rec: rec, dist: cosineDistance(r.query, rec.Entry.Vector)}
	if len(r.top) == r.k && !c.before(r.top[len(r.top)-1]) {
		return
	}
	i := sort.Search(len(r.top), func(i int) bool { return c.before(r.top[i]) })
	if len(r.top) < r.k {
		r.top = append(r.top, candidate{})
	}
	copy(r.top[i+1:], r.top[i:len(r.top)-1])
	r.top[i] = c
}

func (r *ranker) hits() []Hit {
	out := make([]Hit, len(r.top))
	for i, c := range r.top {
		out[i] = toHit(c.rec.Entry, c.dist)
	}
	return out
}

func toHit(e Entry, dist float64) Hit {
	md := make(map[string]string, len(e.Metadata))
	for k, v := range e.Metadata {
		md[k] = v
	}
	return Hit{
		ID:         e.ID,
		Distance:   float32(dist),
		Score:      float32(1 - dist/2),
		Text:       e.Text,
		Metadata:   md,
		Provenance: e.Provenance,
	}
}

func vectorNorm(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

// normalized returns a unit-length copy of v, or nil for a zero vector.
func normalized(v []float32) []float32 {
	n := vectorNorm(v)
	if n == 0 {
		return nil
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / n)
	}
	return out
}
