package search

import (
	"fmt"
	"strings"
	"time"

	"github.com/fruitsalade/fruitsalade/nodesearch/pkg/models"
)

// Field is a node attribute that may appear in a condition or an ORDER BY term.
type Field string

const (
	FieldNodeID    Field = "node_id"
	FieldName      Field = "name"
	FieldSize      Field = "size"
	FieldCategory  Field = "category"
	FieldOwnerID   Field = "owner_id"
	FieldEditorID  Field = "editor_id"
	FieldCreatedAt Field = "created_at"
	FieldUpdatedAt Field = "updated_at"
)

type valueKind int

const (
	kindString valueKind = iota
	kindInt
	kindTime
)

type fieldSpec struct {
	column string
	kind   valueKind
	fold   bool
}

// allowedFields is the complete allow-list. Columns are qualified with the
// primary nodes alias so joins never make them ambiguous.
var allowedFields = map[Field]fieldSpec{
	FieldNodeID:    {column: "n.node_id", kind: kindString},
	FieldName:      {column: "LOWER(n.name)", kind: kindString, fold: true},
	FieldSize:      {column: "n.size", kind: kindInt},
	FieldCategory:  {column: "n.category", kind: kindInt},
	FieldOwnerID:   {column: "n.owner_id", kind: kindString},
	FieldEditorID:  {column: "COALESCE(n.editor_id, '')", kind: kindString},
	FieldCreatedAt: {column: "n.created_at", kind: kindTime},
	FieldUpdatedAt: {column: "n.updated_at", kind: kindTime},
}

// ParseField resolves a field name against the allow-list. Names match
// exactly; other casings and padded names are rejected.
func ParseField(name string) (Field, error) {
	f := Field(name)
	if _, ok := allowedFields[f]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidField, name)
	}
	return f, nil
}

// Column returns the SQL expression for the field.
func (f Field) Column() string {
	return allowedFields[f].column
}

// normalize coerces v to the canonical Go type for the field and applies case
// folding where the field requires it.
func (f Field) normalize(v any) (any, error) {
	spec := allowedFields[f]
	switch spec.kind {
	case kindString:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s wants a string, got %T", ErrInvalidValue, f, v)
		}
		if spec.fold {
			s = strings.ToLower(s)
		}
		return s, nil
	case kindInt:
		switch n := v.(type) {
		case int64:
			return n, nil
		case int:
			return int64(n), nil
		case int32:
			return int64(n), nil
		case models.Category:
			return int64(n), nil
		}
		return nil, fmt.Errorf("%w: %s wants an integer, got %T", ErrInvalidValue, f, v)
	case kindTime:
		t, ok := v.(time.Time)
		if !ok {
			return nil, fmt.Errorf("%w: %s wants a timestamp, got %T", ErrInvalidValue, f, v)
		}
		return t.UTC(), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrInvalidField, f)
}

// valueOf reads the field from a node, normalized the same way condition
// values are.
func (f Field) valueOf(n *models.Node) any {
	switch f {
	case FieldNodeID:
		return n.ID
	case FieldName:
		return strings.ToLower(n.Name)
	case FieldSize:
		return n.Size
	case FieldCategory:
		return int64(n.Category)
	case FieldOwnerID:
		return n.OwnerID
	case FieldEditorID:
		if n.LastEditorID == nil {
			return ""
		}
		return *n.LastEditorID
	case FieldCreatedAt:
		return n.CreatedAt.UTC()
	case FieldUpdatedAt:
		return n.UpdatedAt.UTC()
	}
	return nil
}

// compareValues orders two normalized values of the same kind.
func compareValues(a, b any) int {
	switch x := a.(type) {
	case string:
		return strings.Compare(x, b.(string))
	case int64:
		y := b.(int64)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	case time.Time:
		return x.Compare(b.(time.Time))
	}
	return 0
}
