package search

import (
	"fmt"
	"strings"

	"github.com/fruitsalade/fruitsalade/nodesearch/pkg/models"
)

// Dimension is a sortable node attribute.
type Dimension int

const (
	DimName Dimension = iota
	DimSize
	DimCategory
	DimOwner
	DimLastEditor
	DimCreatedAt
	DimUpdatedAt
	DimNodeID
)

var dimensionNames = map[Dimension]string{
	DimName:       "NAME",
	DimSize:       "SIZE",
	DimCategory:   "CATEGORY",
	DimOwner:      "OWNER",
	DimLastEditor: "LAST_EDITOR",
	DimCreatedAt:  "CREATED_AT",
	DimUpdatedAt:  "UPDATED_AT",
	DimNodeID:     "NODE_ID",
}

// field maps a dimension onto the allow-listed field it orders by.
func (d Dimension) field() Field {
	switch d {
	case DimName:
		return FieldName
	case DimSize:
		return FieldSize
	case DimCategory:
		return FieldCategory
	case DimOwner:
		return FieldOwnerID
	case DimLastEditor:
		return FieldEditorID
	case DimCreatedAt:
		return FieldCreatedAt
	case DimUpdatedAt:
		return FieldUpdatedAt
	case DimNodeID:
		return FieldNodeID
	}
	panic(fmt.Sprintf("search: unknown dimension %d", d))
}

// Direction of a sort key.
type Direction int

const (
	Ascending Direction = iota
	Descending
)

// SortKey is one dimension with its direction.
type SortKey struct {
	Dimension Dimension
	Direction Direction
}

// Field returns the field the key orders by.
func (k SortKey) Field() Field { return k.Dimension.field() }

// SQL returns the ORDER BY term for the key.
func (k SortKey) SQL() string {
	if k.Direction == Descending {
		return k.Field().Column() + " DESC"
	}
	return k.Field().Column() + " ASC"
}

// String returns the wire name, e.g. NAME_ASC.
func (k SortKey) String() string {
	suffix := "_ASC"
	if k.Direction == Descending {
		suffix = "_DESC"
	}
	return dimensionNames[k.Dimension] + suffix
}

// ParseSortKey parses a wire name such as "name_desc" or "SIZE_ASC".
func ParseSortKey(s string) (SortKey, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	var dir Direction
	switch {
	case strings.HasSuffix(name, "_ASC"):
		name, dir = strings.TrimSuffix(name, "_ASC"), Ascending
	case strings.HasSuffix(name, "_DESC"):
		name, dir = strings.TrimSuffix(name, "_DESC"), Descending
	default:
		return SortKey{}, fmt.Errorf("%w: %q", ErrInvalidSortKey, s)
	}
	for d, n := range dimensionNames {
		if n == name {
			return SortKey{Dimension: d, Direction: dir}, nil
		}
	}
	return SortKey{}, fmt.Errorf("%w: %q", ErrInvalidSortKey, s)
}

// SortSequence is a total order over nodes. It is only produced by
// ResolveSort and always ends with NodeId ascending.
type SortSequence struct {
	keys []SortKey
}

// Keys returns a copy of the keys in order.
func (s SortSequence) Keys() []SortKey {
	out := make([]SortKey, len(s.keys))
	copy(out, s.keys)
	return out
}

func (s SortSequence) Len() int { return len(s.keys) }

// OrderBy returns the ORDER BY terms, one per key.
func (s SortSequence) OrderBy() []string {
	terms := make([]string, len(s.keys))
	for i, k := range s.keys {
		terms[i] = k.SQL()
	}
	return terms
}

// Compare orders two nodes by the sequence.
func (s SortSequence) Compare(a, b *models.Node) int {
	for _, k := range s.keys {
		f := k.Field()
		d := compareValues(f.valueOf(a), f.valueOf(b))
		if d == 0 {
			continue
		}
		if k.Direction == Descending {
			return -d
		}
		return d
	}
	return 0
}

var (
	categoryAsc  = SortKey{DimCategory, Ascending}
	categoryDesc = SortKey{DimCategory, Descending}
	nameAsc      = SortKey{DimName, Ascending}
	nodeIDAsc    = SortKey{DimNodeID, Ascending}
)

// ResolveSort expands an optional requested key into the canonical sequence.
// Category always leads. Size ties break by name.
func ResolveSort(requested *SortKey) SortSequence {
	if requested == nil {
		return SortSequence{keys: []SortKey{categoryAsc, nodeIDAsc}}
	}
	switch k := *requested; {
	case k.Dimension == DimSize && k.Direction == Ascending:
		return SortSequence{keys: []SortKey{categoryAsc, k, nameAsc, nodeIDAsc}}
	case k.Dimension == DimSize:
		return SortSequence{keys: []SortKey{categoryDesc, k, nameAsc, nodeIDAsc}}
	default:
		return SortSequence{keys: []SortKey{categoryAsc, k, nodeIDAsc}}
	}
}
