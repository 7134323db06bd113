package search

import (
	"sort"

	"github.com/forge-ai/forge/internal/store"
)

// DefaultRRFConstant is the standard RRF smoothing parameter.
const DefaultRRFConstant = 60

// Weights balance the keyword and vector lists during fusion.
type Weights struct {
	Keyword  float64
	Semantic float64
}

// DefaultWeights favours semantic similarity.
func DefaultWeights() Weights {
	return Weights{Keyword: 0.35, Semantic: 0.65}
}

// FusedResult is one entry after fusion.
type FusedResult struct {
	ID           string
	Score        float64 // normalized to 0-1
	KeywordScore float64
	KeywordRank  int // 1-based, 0 if absent
	VecScore     float64
	VecRank      int // 1-based, 0 if absent
	InBothLists  bool
	MatchedTerms []string
}

// RRFFusion merges ranked lists with Reciprocal Rank Fusion:
//
//	score(d) = Σ weight_i / (k + rank_i)
type RRFFusion struct {
	K int
}

// NewRRFFusion returns a fusion with k=60.
func NewRRFFusion() *RRFFusion {
	return &RRFFusion{K: DefaultRRFConstant}
}

// Fuse combines keyword and vector hits. An entry missing from one list is
// scored for that list at rank max(len(keyword), len(vector)) + 1.
//
// Order: score desc, in both lists first, keyword score desc, ID asc.
func (f *RRFFusion) Fuse(keyword []store.KeywordHit, vector []store.Hit, w Weights) []*FusedResult {
	if len(keyword) == 0 && len(vector) == 0 {
		return []*FusedResult{}
	}
	k := f.K
	if k <= 0 {
		k = DefaultRRFConstant
	}

	scores := make(map[string]*FusedResult, len(keyword)+len(vector))
	get := func(id string) *FusedResult {
		r, ok := scores[id]
		if !ok {
			r = &FusedResult{ID: id}
			scores[id] = r
		}
		return r
	}

	for rank, h := range keyword {
		r := get(h.ID)
		r.KeywordScore = h.Score
		r.KeywordRank = rank + 1
		r.MatchedTerms = h.MatchedTerms
		r.Score += w.Keyword / float64(k+rank+1)
	}
	for rank, h := range vector {
		r := get(h.ID)
		r.VecScore = float64(h.Score)
		r.VecRank = rank + 1
		r.Score += w.Semantic / float64(k+rank+1)
		if r.KeywordRank > 0 {
			r.InBothLists = true
		}
	}

	missing := max(len(keyword), len(vector)) + 1
	for _, r := range scores {
		if r.KeywordRank == 0 {
			r.Score += w.Keyword / float64(k+missing)
		}
		if r.VecRank == 0 {
			r.Score += w.Semantic / float64(k+missing)
		}
	}

	out := make([]*FusedResult, 0, len(scores))
	for _, r := range scores {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })

	if top := out[0].Score; top > 0 {
		for _, r := range out {
			r.Score /= top
		}
	}
	return out
}

func less(a, b *FusedResult) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.InBothLists != b.InBothLists {
		return a.InBothLists
	}
	if a.KeywordScore != b.KeywordScore {
		return a.KeywordScore > b.KeywordScore
	}
	return a.ID < b.ID
}
