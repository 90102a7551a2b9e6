// Package metadata defines the node store contract shared by the PostgreSQL
// and in-memory implementations, plus the hierarchy rules both enforce.
package metadata

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fruitsalade/fruitsalade/nodesearch/internal/search"
	"github.com/fruitsalade/fruitsalade/nodesearch/pkg/models"
)

var (
	ErrNotFound    = errors.New("node not found")
	ErrInvalidNode = errors.New("invalid node")
	ErrInvalidMove = errors.New("invalid move")
)

// Store is a node store. Implementations must return FindNodes results in
// the query's sort sequence.
type Store interface {
	search.NodeStore
	GetNode(ctx context.Context, id string) (*models.Node, error)
	CreateNode(ctx context.Context, n *models.Node) (*models.Node, error)
	// MoveNodes re-parents ids under destinationID and rewrites the ancestor
	// path of every descendant, atomically.
	MoveNodes(ctx context.Context, ids []string, destinationID string) ([]*models.Node, error)
	SetFlag(ctx context.Context, nodeID, userID string, flagged bool) error
	AddShare(ctx context.Context, share models.Share) error
}

// PrepareNode fills defaults on n and derives its parent and ancestor path.
// parent is nil for a storage root.
func PrepareNode(n *models.Node, parent *models.Node, now time.Time) error {
	if strings.TrimSpace(n.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidNode)
	}
	if n.OwnerID == "" {
		return fmt.Errorf("%w: owner is required", ErrInvalidNode)
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatorID == "" {
		n.CreatorID = n.OwnerID
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now
	}
	if n.UpdatedAt.IsZero() {
		n.UpdatedAt = n.CreatedAt
	}
	if n.CurrentVersion == 0 {
		n.CurrentVersion = 1
	}

	if parent == nil {
		if n.Category != models.CategoryRoot {
			return fmt.Errorf("%w: only roots may have no parent", ErrInvalidNode)
		}
		n.ParentID = nil
		n.AncestorIDs = []string{}
		n.Type = models.NodeTypeRoot
		return nil
	}

	if n.Category == models.CategoryRoot {
		return fmt.Errorf("%w: a root cannot have a parent", ErrInvalidNode)
	}
	if parent.Category == models.CategoryFile {
		return fmt.Errorf("%w: parent %s is a file", ErrInvalidNode, parent.ID)
	}
	parentID := parent.ID
	n.ParentID = &parentID
	n.AncestorIDs = parent.ChildAncestors()

	switch {
	case n.Category == models.CategoryFolder:
		n.Type = models.NodeTypeFolder
		n.Size = 0
	case n.Type == "":
		n.Type = models.NodeTypeOther
	case !n.Type.Valid() || n.Type == models.NodeTypeRoot || n.Type == models.NodeTypeFolder:
		return fmt.Errorf("%w: file type %q", ErrInvalidNode, n.Type)
	}
	return nil
}

// CheckMove validates moving node under dest.
func CheckMove(node, dest *models.Node) error {
	switch {
	case node.Category == models.CategoryRoot:
		return fmt.Errorf("%w: %s is a root", ErrInvalidMove, node.ID)
	case dest.Category == models.CategoryFile:
		return fmt.Errorf("%w: destination %s is a file", ErrInvalidMove, dest.ID)
	case dest.ID == node.ID || dest.HasAncestor(node.ID):
		return fmt.Errorf("%w: %s would move into its own subtree", ErrInvalidMove, node.ID)
	}
	return nil
}

// RebasePath rewrites a descendant's ancestor path after movedID was placed
// under newAncestors. Paths that do not pass through movedID are returned as is.
func RebasePath(path []string, movedID string, newAncestors []string) []string {
	idx := slices.Index(path, movedID)
	if idx < 0 {
		return path
	}
	out := make([]string, 0, len(newAncestors)+len(path)-idx)
	out = append(out, newAncestors...)
	return append(out, path[idx:]...)
}
