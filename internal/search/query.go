package search

import (
	"strings"

	"github.com/fruitsalade/fruitsalade/nodesearch/pkg/models"
)

// Filters are the caller's search criteria. Nil pointers mean "not filtered".
type Filters struct {
	FolderID     *string          `json:"folder_id,omitempty" validate:"omitempty,min=1,max=64"`
	Cascade      *bool            `json:"cascade,omitempty"`
	Flagged      *bool            `json:"flagged,omitempty"`
	SharedWithMe *bool            `json:"shared_with_me,omitempty"`
	SharedByMe   *bool            `json:"shared_by_me,omitempty"`
	DirectShare  *bool            `json:"direct_share,omitempty"`
	OwnerID      *string          `json:"owner_id,omitempty" validate:"omitempty,min=1,max=64"`
	NodeType     *models.NodeType `json:"node_type,omitempty"`
	Keywords     []string         `json:"keywords,omitempty" validate:"max=16,dive,max=256"`
}

// Normalized returns a copy with keywords trimmed, lower-cased and blank ones dropped.
func (f Filters) Normalized() Filters {
	out := f
	out.Keywords = nil
	for _, k := range f.Keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" {
			out.Keywords = append(out.Keywords, k)
		}
	}
	return out
}

// CascadeOrDefault reports whether a folder filter covers the whole subtree.
func (f Filters) CascadeOrDefault() bool {
	return f.Cascade == nil || *f.Cascade
}

// PageQuery is everything needed to fetch one page. It is built fresh for a
// first page and rebuilt from a token for later ones.
type PageQuery struct {
	Limit    int
	SortKey  *SortKey
	Sequence SortSequence
	Keyset   Predicate
	Filters  Filters
}

// NewPageQuery builds a first-page query.
func NewPageQuery(filters Filters, sortKey *SortKey, limit int) PageQuery {
	return PageQuery{
		Limit:    limit,
		SortKey:  sortKey,
		Sequence: ResolveSort(sortKey),
		Filters:  filters.Normalized(),
	}
}
