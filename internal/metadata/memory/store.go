// Package memory is an in-process node store. It evaluates composed queries
// with the same semantics as the PostgreSQL store and backs the demo mode
// of the server as well as most tests.
package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/fruitsalade/nodesearch/internal/logging"
	"github.com/fruitsalade/fruitsalade/nodesearch/internal/metadata"
	"github.com/fruitsalade/fruitsalade/nodesearch/internal/metrics"
	"github.com/fruitsalade/fruitsalade/nodesearch/internal/search"
	"github.com/fruitsalade/fruitsalade/nodesearch/pkg/models"
)

type flagKey struct {
	nodeID string
	userID string
}

// Store holds nodes, shares and flags in maps guarded by one lock.
type Store struct {
	mu     sync.RWMutex
	nodes  map[string]*models.Node
	shares map[string][]models.Share // by node id
	flags  map[flagKey]struct{}
	now    func() time.Time
}

var _ metadata.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		nodes:  make(map[string]*models.Node),
		shares: make(map[string][]models.Share),
		flags:  make(map[flagKey]struct{}),
		now:    time.Now,
	}
}

// CreateNode inserts n under its ParentID, or as a root when ParentID is nil.
func (s *Store) CreateNode(ctx context.Context, n *models.Node) (*models.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	node := n.Clone()
	var parent *models.Node
	if node.ParentID != nil {
		p, ok := s.nodes[*node.ParentID]
		if !ok {
			return nil, fmt.Errorf("parent %s: %w", *node.ParentID, metadata.ErrNotFound)
		}
		parent = p
	}
	if err := metadata.PrepareNode(node, parent, s.now().UTC()); err != nil {
		return nil, err
	}
	if _, exists := s.nodes[node.ID]; exists {
		return nil, fmt.Errorf("%w: duplicate id %s", metadata.ErrInvalidNode, node.ID)
	}
	s.nodes[node.ID] = node
	return node.Clone(), nil
}

// GetNode returns a copy of the node with the given id.
func (s *Store) GetNode(ctx context.Context, id string) (*models.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node %s: %w", id, metadata.ErrNotFound)
	}
	return n.Clone(), nil
}

// FindNodes evaluates q against every node, sorts by q.Sequence and caps at q.Limit.
func (s *Store) FindNodes(ctx context.Context, q search.Query) ([]*models.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()
	defer func() {
		metrics.RecordDBQuery("memory_find_nodes", time.Since(start))
	}()

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Node
	for _, n := range s.nodes {
		if s.matches(n, q) {
			out = append(out, n)
		}
	}
	slices.SortFunc(out, q.Sequence.Compare)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}

	result := make([]*models.Node, len(out))
	for i, n := range out {
		result[i] = n.Clone()
	}
	logging.Debug("memory find nodes", zap.Int("rows", len(result)))
	return result, nil
}

func (s *Store) matches(n *models.Node, q search.Query) bool {
	user := q.Scope.UserID
	f := q.Filters

	if user != "" && n.OwnerID != user && !s.sharedWith(n.ID, user) {
		return false
	}

	name := strings.ToLower(n.Name)
	desc := strings.ToLower(n.Description)
	for _, kw := range f.Keywords {
		if !strings.Contains(name, kw) && !strings.Contains(desc, kw) {
			return false
		}
	}

	if f.Flagged != nil {
		_, flagged := s.flags[flagKey{n.ID, user}]
		if flagged != *f.Flagged {
			return false
		}
	}

	if f.FolderID != nil {
		if f.CascadeOrDefault() {
			if !n.HasAncestor(*f.FolderID) {
				return false
			}
		} else if n.ParentID == nil || *n.ParentID != *f.FolderID {
			return false
		}
	}

	if f.SharedWithMe != nil {
		if *f.SharedWithMe && !s.sharedWith(n.ID, user) {
			return false
		}
		if !*f.SharedWithMe && n.OwnerID != user {
			return false
		}
	}

	if f.SharedByMe != nil {
		if n.OwnerID != user || (len(s.shares[n.ID]) > 0) != *f.SharedByMe {
			return false
		}
	}

	if f.DirectShare != nil && !s.hasShare(n.ID, func(sh models.Share) bool { return sh.Direct == *f.DirectShare }) {
		return false
	}
	if f.NodeType != nil && n.Type != *f.NodeType {
		return false
	}
	if f.OwnerID != nil && n.OwnerID != *f.OwnerID {
		return false
	}

	return q.Keyset == nil || q.Keyset.Matches(n)
}

func (s *Store) sharedWith(nodeID, userID string) bool {
	return s.hasShare(nodeID, func(sh models.Share) bool { return sh.TargetUserID == userID })
}

func (s *Store) hasShare(nodeID string, pred func(models.Share) bool) bool {
	return slices.ContainsFunc(s.shares[nodeID], pred)
}

// MoveNodes re-parents every node in ids under destinationID and rebases the
// ancestor paths of their descendants. Nothing changes if any node fails validation.
func (s *Store) MoveNodes(ctx context.Context, ids []string, destinationID string) ([]*models.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dest, ok := s.nodes[destinationID]
	if !ok {
		return nil, fmt.Errorf("destination %s: %w", destinationID, metadata.ErrNotFound)
	}
	for _, id := range ids {
		n, ok := s.nodes[id]
		if !ok {
			return nil, fmt.Errorf("node %s: %w", id, metadata.ErrNotFound)
		}
		if err := metadata.CheckMove(n, dest); err != nil {
			return nil, err
		}
	}

	now := s.now().UTC()
	moved := make([]*models.Node, 0, len(ids))
	for _, id := range ids {
		n := s.nodes[id]
		newPath := dest.ChildAncestors()
		for _, d := range s.nodes {
			if d.HasAncestor(n.ID) {
				d.AncestorIDs = metadata.RebasePath(d.AncestorIDs, n.ID, newPath)
			}
		}
		destID := dest.ID
		n.ParentID = &destID
		n.AncestorIDs = newPath
		n.UpdatedAt = now
		moved = append(moved, n.Clone())
	}
	metrics.RecordNodesMoved(len(moved))
	return moved, nil
}

// SetFlag marks or unmarks a node for a user.
func (s *Store) SetFlag(ctx context.Context, nodeID, userID string, flagged bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.nodes[nodeID]; !ok {
		return fmt.Errorf("node %s: %w", nodeID, metadata.ErrNotFound)
	}
	key := flagKey{nodeID, userID}
	if flagged {
		s.flags[key] = struct{}{}
	} else {
		delete(s.flags, key)
	}
	return nil
}

// AddShare grants share.TargetUserID access to share.NodeID, replacing an
// existing share for the same pair.
func (s *Store) AddShare(ctx context.Context, share models.Share) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.nodes[share.NodeID]; !ok {
		return fmt.Errorf("node %s: %w", share.NodeID, metadata.ErrNotFound)
	}
	if share.CreatedAt.IsZero() {
		share.CreatedAt = s.now().UTC()
	}
	list := slices.DeleteFunc(s.shares[share.NodeID], func(sh models.Share) bool {
		return sh.TargetUserID == share.TargetUserID
	})
	s.shares[share.NodeID] = append(list, share)
	return nil
}
