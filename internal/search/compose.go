package search

import (
	"context"

	"github.com/fruitsalade/fruitsalade/nodesearch/pkg/models"
)

// Scope is the caller's visibility, computed outside the engine. Exactly one
// of UserID and FolderID is set.
type Scope struct {
	// UserID scopes to nodes the user owns or that are shared with the user.
	UserID string
	// FolderID scopes an anonymous caller to the subtree of a link-shared folder.
	FolderID string
}

// UserScope returns the scope of an authenticated user.
func UserScope(userID string) Scope { return Scope{UserID: userID} }

// LinkScope returns the scope of an anonymous caller holding a folder link.
func LinkScope(folderID string) Scope { return Scope{FolderID: folderID} }

// Anonymous reports whether the scope has no user.
func (s Scope) Anonymous() bool { return s.UserID == "" }

// Query is a composed, store-neutral search: scope, filters, optional keyset
// boundary, total order and row cap. Stores translate it into their own
// query language and must return at most Limit nodes in Sequence order.
type Query struct {
	Scope    Scope
	Filters  Filters
	Keyset   Predicate
	Sequence SortSequence
	Limit    int
}

// NodeStore executes composed queries.
type NodeStore interface {
	FindNodes(ctx context.Context, q Query) ([]*models.Node, error)
}

// Compose merges a page query with the caller's scope. For a link scope the
// folder filter is forced to the linked subtree and filters that need a user
// are cleared, whatever the page query carried.
func Compose(scope Scope, q PageQuery) Query {
	filters := q.Filters.Normalized()
	if scope.Anonymous() {
		folder := scope.FolderID
		cascade := true
		filters.FolderID = &folder
		filters.Cascade = &cascade
		filters.Flagged = nil
		filters.SharedWithMe = nil
		filters.SharedByMe = nil
		filters.DirectShare = nil
	}
	return Query{
		Scope:    scope,
		Filters:  filters,
		Keyset:   q.Keyset,
		Sequence: q.Sequence,
		Limit:    q.Limit,
	}
}
