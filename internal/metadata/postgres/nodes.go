package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/fruitsalade/fruitsalade/nodesearch/internal/logging"
	"github.com/fruitsalade/fruitsalade/nodesearch/internal/metadata"
	"github.com/fruitsalade/fruitsalade/nodesearch/internal/metrics"
	"github.com/fruitsalade/fruitsalade/nodesearch/pkg/models"
)

const nodeColumns = `n.node_id, n.parent_id, n.ancestor_ids, n.category, n.node_type, n.name, n.description,
	n.size, n.owner_id, n.creator_id, n.editor_id, n.created_at, n.updated_at, n.current_version`

// foreignKeyViolation is the SQLSTATE for a missing referenced row.
const foreignKeyViolation = "23503"

type scanner interface {
	Scan(dest ...any) error
}

func scanNode(row scanner) (*models.Node, error) {
	var n models.Node
	var parentID, editorID sql.NullString
	var category int
	var nodeType string
	if err := row.Scan(&n.ID, &parentID, pq.Array(&n.AncestorIDs), &category, &nodeType,
		&n.Name, &n.Description, &n.Size, &n.OwnerID, &n.CreatorID, &editorID,
		&n.CreatedAt, &n.UpdatedAt, &n.CurrentVersion); err != nil {
		return nil, err
	}
	if parentID.Valid {
		n.ParentID = &parentID.String
	}
	if editorID.Valid {
		n.LastEditorID = &editorID.String
	}
	if n.AncestorIDs == nil {
		n.AncestorIDs = []string{}
	}
	n.Category = models.Category(category)
	n.Type = models.NodeType(nodeType)
	return &n, nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getNode(ctx context.Context, q querier, id string, lock string) (*models.Node, error) {
	n, err := scanNode(q.QueryRowContext(ctx,
		`SELECT `+nodeColumns+` FROM nodes n WHERE n.node_id = $1 `+lock, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("node %s: %w", id, metadata.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get node %s: %w", id, err)
	}
	return n, nil
}

// GetNode returns the node with the given id.
func (s *Store) GetNode(ctx context.Context, id string) (*models.Node, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("get_node", time.Since(start)) }()

	return getNode(ctx, s.db, id, "")
}

// CreateNode inserts n under its ParentID, or as a root when ParentID is nil.
// The parent and its ancestors are share-locked so a concurrent move cannot
// leave the new node with a stale ancestor path.
func (s *Store) CreateNode(ctx context.Context, n *models.Node) (*models.Node, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("create_node", time.Since(start)) }()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	node := n.Clone()
	var parent *models.Node
	if node.ParentID != nil {
		if _, err := tx.ExecContext(ctx,
			`SELECT 1 FROM nodes
			 WHERE node_id = $1 OR node_id = ANY(SELECT unnest(ancestor_ids) FROM nodes WHERE node_id = $1)
			 FOR SHARE`, *node.ParentID); err != nil {
			return nil, fmt.Errorf("lock ancestors: %w", err)
		}
		parent, err = getNode(ctx, tx, *node.ParentID, "")
		if err != nil {
			return nil, fmt.Errorf("parent: %w", err)
		}
	}
	if err := metadata.PrepareNode(node, parent, time.Now().UTC()); err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO nodes (node_id, parent_id, ancestor_ids, category, node_type, name, description,
		   size, owner_id, creator_id, editor_id, created_at, updated_at, current_version)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		node.ID, node.ParentID, pq.Array(node.AncestorIDs), int(node.Category), string(node.Type),
		node.Name, node.Description, node.Size, node.OwnerID, node.CreatorID, node.LastEditorID,
		node.CreatedAt, node.UpdatedAt, node.CurrentVersion)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return nil, fmt.Errorf("%w: duplicate id %s", metadata.ErrInvalidNode, node.ID)
		}
		return nil, fmt.Errorf("insert node: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return node, nil
}

// MoveNodes re-parents every node in ids under destinationID. The moved
// rows and all their descendants are rewritten in one transaction; nothing
// changes if any node fails validation.
func (s *Store) MoveNodes(ctx context.Context, ids []string, destinationID string) ([]*models.Node, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("move_nodes", time.Since(start)) }()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	dest, err := getNode(ctx, tx, destinationID, "FOR UPDATE")
	if err != nil {
		return nil, fmt.Errorf("destination: %w", err)
	}

	nodes := make([]*models.Node, 0, len(ids))
	for _, id := range ids {
		n, err := getNode(ctx, tx, id, "FOR UPDATE")
		if err != nil {
			return nil, err
		}
		if err := metadata.CheckMove(n, dest); err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}

	newPath := dest.ChildAncestors()
	moved := make([]*models.Node, 0, len(nodes))
	for _, n := range nodes {
		// Descendants keep the part of their path from the moved node down.
		res, err := tx.ExecContext(ctx,
			`UPDATE nodes
			 SET ancestor_ids = $1::text[] || ancestor_ids[array_position(ancestor_ids, $2::text):]
			 WHERE $2 = ANY(ancestor_ids)`,
			pq.Array(newPath), n.ID)
		if err != nil {
			return nil, fmt.Errorf("move descendants of %s: %w", n.ID, err)
		}
		descendants, _ := res.RowsAffected()

		_, err = tx.ExecContext(ctx,
			`UPDATE nodes SET parent_id = $1, ancestor_ids = $2, updated_at = NOW() WHERE node_id = $3`,
			dest.ID, pq.Array(newPath), n.ID)
		if err != nil {
			return nil, fmt.Errorf("move node %s: %w", n.ID, err)
		}

		updated, err := getNode(ctx, tx, n.ID, "")
		if err != nil {
			return nil, err
		}
		moved = append(moved, updated)
		logging.WithContext(ctx).Debug("node moved",
			zap.String("node_id", n.ID),
			zap.String("destination_id", dest.ID),
			zap.Int64("descendants", descendants))
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	metrics.RecordNodesMoved(len(moved))
	return moved, nil
}

// SetFlag marks or unmarks a node for a user.
func (s *Store) SetFlag(ctx context.Context, nodeID, userID string, flagged bool) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("set_flag", time.Since(start)) }()

	if !flagged {
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM node_flags WHERE node_id = $1 AND user_id = $2`, nodeID, userID); err != nil {
			return fmt.Errorf("delete flag: %w", err)
		}
		return nil
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO node_flags (node_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		nodeID, userID)
	if isForeignKeyViolation(err) {
		return fmt.Errorf("node %s: %w", nodeID, metadata.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("insert flag: %w", err)
	}
	return nil
}

// AddShare grants share.TargetUserID access to share.NodeID, replacing an
// existing share for the same pair.
func (s *Store) AddShare(ctx context.Context, share models.Share) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("add_share", time.Since(start)) }()

	if share.Permissions == "" {
		share.Permissions = "read"
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO shares (node_id, target_user_id, permissions, direct)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (node_id, target_user_id) DO UPDATE SET permissions = EXCLUDED.permissions, direct = EXCLUDED.direct`,
		share.NodeID, share.TargetUserID, share.Permissions, share.Direct)
	if isForeignKeyViolation(err) {
		return fmt.Errorf("node %s: %w", share.NodeID, metadata.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("insert share: %w", err)
	}
	return nil
}

func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == foreignKeyViolation
}
