package postgres

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/fruitsalade/nodesearch/internal/logging"
	"github.com/fruitsalade/fruitsalade/nodesearch/internal/metrics"
	"github.com/fruitsalade/fruitsalade/nodesearch/internal/search"
	"github.com/fruitsalade/fruitsalade/nodesearch/pkg/models"
)

const (
	shareExists   = `EXISTS (SELECT 1 FROM shares s WHERE s.node_id = n.node_id`
	sharedWithSQL = shareExists + ` AND s.target_user_id = ?)`
)

// FindNodes executes a composed search in one statement.
func (s *Store) FindNodes(ctx context.Context, q search.Query) ([]*models.Node, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("find_nodes", time.Since(start)) }()

	query, args := buildFindQuery(q)
	logging.WithContext(ctx).Debug("find nodes", zap.String("sql", query), zap.Int("args", len(args)))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query nodes: %w", err)
	}
	defer rows.Close()

	var nodes []*models.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate nodes: %w", err)
	}
	return nodes, nil
}

// where collects AND-ed clauses with "?" placeholders.
type where struct {
	clauses []string
	args    []any
}

func (w *where) add(clause string, args ...any) {
	w.clauses = append(w.clauses, clause)
	w.args = append(w.args, args...)
}

// buildFindQuery renders q as SQL with $n placeholders.
func buildFindQuery(q search.Query) (string, []any) {
	var w where
	user := q.Scope.UserID
	f := q.Filters

	if user != "" {
		w.add("(n.owner_id = ? OR "+sharedWithSQL+")", user, user)
	}

	for _, kw := range f.Keywords {
		w.add("(strpos(LOWER(n.name), ?) > 0 OR strpos(LOWER(n.description), ?) > 0)", kw, kw)
	}

	if f.Flagged != nil {
		flagged := "EXISTS (SELECT 1 FROM node_flags fl WHERE fl.node_id = n.node_id AND fl.user_id = ?)"
		if !*f.Flagged {
			flagged = "NOT " + flagged
		}
		w.add(flagged, user)
	}

	if f.FolderID != nil {
		if f.CascadeOrDefault() {
			w.add("? = ANY(n.ancestor_ids)", *f.FolderID)
		} else {
			w.add("n.parent_id = ?", *f.FolderID)
		}
	}

	if f.SharedWithMe != nil {
		if *f.SharedWithMe {
			w.add(sharedWithSQL, user)
		} else {
			w.add("n.owner_id = ?", user)
		}
	}

	if f.SharedByMe != nil {
		shared := shareExists + ")"
		if !*f.SharedByMe {
			shared = "NOT " + shared
		}
		w.add("n.owner_id = ? AND "+shared, user)
	}

	if f.DirectShare != nil {
		w.add(shareExists+" AND s.direct = ?)", *f.DirectShare)
	}
	if f.NodeType != nil {
		w.add("n.node_type = ?", string(*f.NodeType))
	}
	if f.OwnerID != nil {
		w.add("n.owner_id = ?", *f.OwnerID)
	}

	if q.Keyset != nil {
		text, args := q.Keyset.Render()
		w.add(text, args...)
	}

	var b strings.Builder
	b.WriteString("SELECT " + nodeColumns + " FROM nodes n")
	if len(w.clauses) > 0 {
		b.WriteString(" WHERE " + strings.Join(w.clauses, " AND "))
	}
	if terms := q.Sequence.OrderBy(); len(terms) > 0 {
		b.WriteString(" ORDER BY " + strings.Join(terms, ", "))
	}
	args := w.args
	if q.Limit > 0 {
		b.WriteString(" LIMIT ?")
		args = append(args, q.Limit)
	}
	return rebind(b.String()), args
}

// rebind turns "?" placeholders into $1, $2, ... skipping quoted literals.
func rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	inQuote := false
	for _, r := range query {
		switch {
		case r == '\'':
			inQuote = !inQuote
			b.WriteRune(r)
		case r == '?' && !inQuote:
			n++
			b.WriteString("$" + strconv.Itoa(n))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
