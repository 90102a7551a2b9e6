package search

import (
	"fmt"

	"github.com/fruitsalade/fruitsalade/nodesearch/pkg/models"
)

// BuildKeyset returns the predicate selecting every node strictly after last
// in the order given by seq:
//
//	OR over i of ( seq[0..i-1] equal to last  AND  seq[i] past last )
//
// where "past" is > for ascending keys and < for descending ones.
func BuildKeyset(seq SortSequence, last *models.Node) (Predicate, error) {
	if seq.Len() == 0 {
		return nil, ErrEmptyTieBreakSequence
	}
	if last == nil {
		return nil, fmt.Errorf("build keyset: no last node")
	}

	branches := make([]Predicate, 0, seq.Len())
	for i, key := range seq.keys {
		terms := make([]Predicate, 0, i+1)
		for _, prev := range seq.keys[:i] {
			eq, err := newCondition(prev.Field(), Equal, prev.Field().valueOf(last))
			if err != nil {
				return nil, fmt.Errorf("build keyset: %w", err)
			}
			terms = append(terms, eq)
		}

		cmp := GreaterThan
		if key.Direction == Descending {
			cmp = LessThan
		}
		bound, err := newCondition(key.Field(), cmp, key.Field().valueOf(last))
		if err != nil {
			return nil, fmt.Errorf("build keyset: %w", err)
		}
		branches = append(branches, And(append(terms, bound)...))
	}
	return Or(branches...), nil
}
