package search

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	maxTokenLength    = 8192
	maxPredicateDepth = 8
	maxPredicateNodes = 256
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// tokenPayload is the wire form of a PageQuery. The sort sequence is not
// stored; it is re-derived from the sort key on decode.
type tokenPayload struct {
	Limit   int            `json:"limit" validate:"required,min=1"`
	Sort    *string        `json:"sort" validate:"required"`
	Keyset  *predicateJSON `json:"keyset" validate:"required"`
	Filters *Filters       `json:"filters" validate:"required"`
}

// predicateJSON is either a condition (field, cmp, value) or an expression
// (op, children), never both.
type predicateJSON struct {
	Op       string          `json:"op,omitempty"`
	Children []predicateJSON `json:"children,omitempty"`
	Field    string          `json:"field,omitempty"`
	Cmp      string          `json:"cmp,omitempty"`
	Value    json.RawMessage `json:"value,omitempty"`
}

// ValidateFilters checks caller supplied filters.
func ValidateFilters(f Filters) error {
	if err := validate.Struct(f); err != nil {
		return err
	}
	if f.NodeType != nil && !f.NodeType.Valid() {
		return fmt.Errorf("unknown node type %q", *f.NodeType)
	}
	return nil
}

// EncodeToken serializes a continuation query into an opaque string. The
// encoding is not authenticated; decoded tokens are re-validated and scope
// is re-applied on every page.
func EncodeToken(q PageQuery) (string, error) {
	if q.Keyset == nil {
		return "", errors.New("encode token: no keyset")
	}
	keyset, err := encodePredicate(q.Keyset)
	if err != nil {
		return "", fmt.Errorf("encode token: %w", err)
	}
	sort := ""
	if q.SortKey != nil {
		sort = q.SortKey.String()
	}
	filters := q.Filters
	payload := tokenPayload{
		Limit:   q.Limit,
		Sort:    &sort,
		Keyset:  keyset,
		Filters: &filters,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodeToken is the inverse of EncodeToken. Every failure wraps ErrInvalidPageToken.
func DecodeToken(token string) (PageQuery, error) {
	q, err := decodeToken(token)
	if err != nil {
		return PageQuery{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	return q, nil
}

func decodeToken(token string) (PageQuery, error) {
	if token == "" {
		return PageQuery{}, errors.New("empty token")
	}
	if len(token) > maxTokenLength {
		return PageQuery{}, errors.New("token too long")
	}
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return PageQuery{}, fmt.Errorf("decode base64: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var payload tokenPayload
	if err := dec.Decode(&payload); err != nil {
		return PageQuery{}, fmt.Errorf("decode payload: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return PageQuery{}, errors.New("trailing data after payload")
	}
	if err := validate.Struct(payload); err != nil {
		return PageQuery{}, fmt.Errorf("validate payload: %w", err)
	}
	if err := ValidateFilters(*payload.Filters); err != nil {
		return PageQuery{}, fmt.Errorf("validate filters: %w", err)
	}

	var sortKey *SortKey
	if *payload.Sort != "" {
		k, err := ParseSortKey(*payload.Sort)
		if err != nil {
			return PageQuery{}, err
		}
		sortKey = &k
	}

	nodes := 0
	keyset, err := decodePredicate(payload.Keyset, 1, &nodes)
	if err != nil {
		return PageQuery{}, fmt.Errorf("decode keyset: %w", err)
	}

	return PageQuery{
		Limit:    payload.Limit,
		SortKey:  sortKey,
		Sequence: ResolveSort(sortKey),
		Keyset:   keyset,
		Filters:  payload.Filters.Normalized(),
	}, nil
}

func encodePredicate(p Predicate) (*predicateJSON, error) {
	switch v := p.(type) {
	case *Condition:
		raw, err := encodeValue(v.value)
		if err != nil {
			return nil, err
		}
		return &predicateJSON{Field: string(v.field), Cmp: string(v.cmp), Value: raw}, nil
	case *Expression:
		out := &predicateJSON{Op: string(v.op), Children: make([]predicateJSON, 0, len(v.children))}
		for _, c := range v.children {
			child, err := encodePredicate(c)
			if err != nil {
				return nil, err
			}
			out.Children = append(out.Children, *child)
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported predicate %T", p)
}

func encodeValue(v any) (json.RawMessage, error) {
	if t, ok := v.(time.Time); ok {
		return json.Marshal(t.UTC().Format(time.RFC3339Nano))
	}
	return json.Marshal(v)
}

// decodePredicate rebuilds a predicate through NewCondition, so every field
// of an edited token is checked against the allow-list again.
func decodePredicate(p *predicateJSON, depth int, nodes *int) (Predicate, error) {
	*nodes++
	if depth > maxPredicateDepth || *nodes > maxPredicateNodes {
		return nil, errors.New("predicate too large")
	}

	isCondition := p.Field != "" || p.Cmp != "" || len(p.Value) > 0
	isExpression := p.Op != "" || len(p.Children) > 0
	switch {
	case isCondition && isExpression:
		return nil, errors.New("node is both condition and expression")
	case isCondition:
		f, err := ParseField(p.Field)
		if err != nil {
			return nil, err
		}
		v, err := decodeValue(f, p.Value)
		if err != nil {
			return nil, err
		}
		return NewCondition(string(f), Comparator(p.Cmp), v)
	case isExpression:
		if len(p.Children) == 0 {
			return nil, errors.New("expression without children")
		}
		children := make([]Predicate, 0, len(p.Children))
		for i := range p.Children {
			c, err := decodePredicate(&p.Children[i], depth+1, nodes)
			if err != nil {
				return nil, err
			}
			children = append(children, c)
		}
		switch Operator(p.Op) {
		case OpAnd:
			return And(children...), nil
		case OpOr:
			return Or(children...), nil
		}
		return nil, fmt.Errorf("unknown operator %q", p.Op)
	}
	return nil, errors.New("empty predicate")
}

func decodeValue(f Field, raw json.RawMessage) (any, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: missing value for %s", ErrInvalidValue, f)
	}
	switch allowedFields[f].kind {
	case kindString:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidValue, f, err)
		}
		return s, nil
	case kindInt:
		var n int64
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidValue, f, err)
		}
		return n, nil
	case kindTime:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidValue, f, err)
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidValue, f, err)
		}
		return t, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrInvalidField, f)
}
