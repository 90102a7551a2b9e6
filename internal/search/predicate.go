package search

import (
	"fmt"
	"strings"

	"github.com/fruitsalade/fruitsalade/nodesearch/pkg/models"
)

// Comparator is the operator of a Condition.
type Comparator string

const (
	LessThan    Comparator = "<"
	Equal       Comparator = "="
	GreaterThan Comparator = ">"
)

func (c Comparator) valid() bool {
	return c == LessThan || c == Equal || c == GreaterThan
}

// Operator joins the children of an Expression.
type Operator string

const (
	OpAnd Operator = "AND"
	OpOr  Operator = "OR"
)

// Predicate is an immutable boolean expression over node fields.
//
// Render returns the expression text with "?" placeholders and the values to
// bind to them, in placeholder order. Values are never interpolated.
type Predicate interface {
	Render() (string, []any)
	// Matches evaluates the predicate against a node in memory.
	Matches(n *models.Node) bool
}

// Condition compares one allow-listed field with a bound value.
type Condition struct {
	field Field
	cmp   Comparator
	value any
}

// NewCondition builds a condition on a named field. The field must be on the
// allow-list; the value is coerced to the field's type and case-folded for
// the name field.
func NewCondition(field string, cmp Comparator, value any) (*Condition, error) {
	f, err := ParseField(field)
	if err != nil {
		return nil, err
	}
	return newCondition(f, cmp, value)
}

func newCondition(f Field, cmp Comparator, value any) (*Condition, error) {
	if _, ok := allowedFields[f]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidField, f)
	}
	if !cmp.valid() {
		return nil, fmt.Errorf("%w: comparator %q", ErrInvalidValue, cmp)
	}
	v, err := f.normalize(value)
	if err != nil {
		return nil, err
	}
	return &Condition{field: f, cmp: cmp, value: v}, nil
}

func (c *Condition) Field() Field           { return c.field }
func (c *Condition) Comparator() Comparator { return c.cmp }
func (c *Condition) Value() any             { return c.value }

func (c *Condition) Render() (string, []any) {
	return c.field.Column() + " " + string(c.cmp) + " ?", []any{c.value}
}

func (c *Condition) Matches(n *models.Node) bool {
	d := compareValues(c.field.valueOf(n), c.value)
	switch c.cmp {
	case LessThan:
		return d < 0
	case Equal:
		return d == 0
	case GreaterThan:
		return d > 0
	}
	return false
}

// Expression is an AND or OR over child predicates.
type Expression struct {
	op       Operator
	children []Predicate
}

// And returns the conjunction of the non-nil children.
func And(children ...Predicate) *Expression {
	return newExpression(OpAnd, children)
}

// Or returns the disjunction of the non-nil children.
func Or(children ...Predicate) *Expression {
	return newExpression(OpOr, children)
}

func newExpression(op Operator, children []Predicate) *Expression {
	kept := make([]Predicate, 0, len(children))
	for _, c := range children {
		if c != nil {
			kept = append(kept, c)
		}
	}
	return &Expression{op: op, children: kept}
}

func (e *Expression) Operator() Operator { return e.op }

// Children returns a copy of the child list.
func (e *Expression) Children() []Predicate {
	out := make([]Predicate, len(e.children))
	copy(out, e.children)
	return out
}

// Render parenthesizes every expression with more than one child. An empty
// AND renders as TRUE and an empty OR as FALSE.
func (e *Expression) Render() (string, []any) {
	switch len(e.children) {
	case 0:
		if e.op == OpAnd {
			return "TRUE", nil
		}
		return "FALSE", nil
	case 1:
		return e.children[0].Render()
	}

	parts := make([]string, 0, len(e.children))
	var args []any
	for _, c := range e.children {
		text, a := c.Render()
		parts = append(parts, text)
		args = append(args, a...)
	}
	return "(" + strings.Join(parts, " "+string(e.op)+" ") + ")", args
}

func (e *Expression) Matches(n *models.Node) bool {
	if e.op == OpAnd {
		for _, c := range e.children {
			if !c.Matches(n) {
				return false
			}
		}
		return true
	}
	for _, c := range e.children {
		if c.Matches(n) {
			return true
		}
	}
	return false
}
