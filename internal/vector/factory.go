package vector

import "fmt"

// RankerType names a ranking strategy.
type RankerType string

const (
	// RankerExact scans and scores every stored vector.
	RankerExact RankerType = "exact"
)

// NewRanker creates a ranker of the specified type. Supported types: "exact" (default).
func NewRanker(rankerType RankerType) (Ranker, error) {
	switch rankerType {
	case RankerExact, "":
		return NewExactRanker(), nil
	default:
		return nil, fmt.Errorf("unknown ranker type: %s (supported: exact)", rankerType)
	}
}
