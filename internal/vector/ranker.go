package vector

import (
	"context"
	"sort"
)

// checkEvery is how many candidates are scored between context checks.
const checkEvery = 1024

// Hit is a ranked candidate, identified by its position in the candidate slice.
type Hit struct {
	Index int
	Score float64
}

// Ranking is the outcome of ranking one query.
type Ranking struct {
	Hits []Hit
	// Skipped holds candidate positions whose dimension differs from the query.
	Skipped []int
}

// Ranker orders candidates by similarity to a query.
type Ranker interface {
	Rank(ctx context.Context, query []float32, candidates [][]float32, k int) (*Ranking, error)
	Name() string
}

// ExactRanker scores every candidate by inner product and sorts the full list. Ties keep
// candidate order.
type ExactRanker struct{}

// NewExactRanker returns a brute-force ranker.
func NewExactRanker() *ExactRanker {
	return &ExactRanker{}
}

// Name returns the ranker identifier.
func (r *ExactRanker) Name() string {
	return string(RankerExact)
}

// Rank returns at most k hits sorted by descending score.
func (r *ExactRanker) Rank(ctx context.Context, query []float32, candidates [][]float32, k int) (*Ranking, error) {
	out := &Ranking{}
	if k <= 0 || len(query) == 0 {
		return out, nil
	}
	hits := make([]Hit, 0, len(candidates))
	for i, vec := range candidates {
		if i%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if len(vec) != len(query) {
			out.Skipped = append(out.Skipped, i)
			continue
		}
		hits = append(hits, Hit{Index: i, Score: InnerProduct(query, vec)})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if k < len(hits) {
		hits = hits[:k]
	}
	out.Hits = hits
	return out, nil
}
